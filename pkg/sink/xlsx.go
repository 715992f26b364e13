package sink

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/Sternrassler/uplift-export-client/pkg/partition"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xuri/excelize/v2"
)

// XLSXSink appends batches to per-session Excel workbooks.
type XLSXSink struct {
	layout    Layout
	sheetName string
	logger    zerolog.Logger
}

// NewXLSXSink creates an Excel sink writing below dir.
func NewXLSXSink(dir string) *XLSXSink {
	return &XLSXSink{
		layout:    Layout{BaseDir: dir, Extension: "xlsx"},
		sheetName: "Sheet1",
		logger:    log.With().Str("component", "sink").Str("format", FormatXLSX).Logger(),
	}
}

// Append implements partition.Sink. The workbook is saved to a temporary
// file and renamed over the target, so a failed flush leaves the previous
// workbook intact.
func (s *XLSXSink) Append(ctx context.Context, batch partition.Batch) (err error) {
	if len(batch.Rows) == 0 {
		return errors.New("no rows provided to write")
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.layout.Path(batch.Key)
	if err != nil {
		return err
	}

	file, exists, err := s.open(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close workbook: %w", cerr)
		}
	}()

	existing, err := file.GetRows(s.sheetName)
	if err != nil {
		return fmt.Errorf("failed to read sheet %s: %w", s.sheetName, err)
	}

	var header []string
	nextRow := len(existing) + 1
	if exists && len(existing) > 0 {
		header = existing[0]
	} else {
		header = resolveColumns(batch)
		if err := s.writeRow(file, 1, header); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
		nextRow = 2
	}
	if extra := unknownColumns(header, batch.Rows); len(extra) > 0 {
		s.logger.Warn().
			Str("path", path).
			Strs("columns", extra).
			Msg("Dropping columns missing from the workbook header")
	}

	for _, row := range batch.Rows {
		if err := s.writeRow(file, nextRow, record(header, row)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
		nextRow++
	}

	tmp := path + ".tmp.xlsx"
	if err := file.SaveAs(tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to save workbook %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace workbook %s: %w", path, err)
	}

	exportFlushesTotal.WithLabelValues(FormatXLSX).Inc()
	exportRowsWrittenTotal.WithLabelValues(FormatXLSX).Add(float64(len(batch.Rows)))
	s.logger.Info().
		Str("athlete_id", batch.Key.AthleteID).
		Str("session_id", batch.Key.SessionID).
		Int("rows", len(batch.Rows)).
		Bool("created", !exists).
		Msg("Workbook written/updated")

	return nil
}

// open opens the existing workbook or creates a new one.
func (s *XLSXSink) open(path string) (*excelize.File, bool, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return excelize.NewFile(), false, nil
	} else if err != nil {
		return nil, false, fmt.Errorf("failed to stat workbook %s: %w", path, err)
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		return nil, false, fmt.Errorf("failed to open workbook %s: %w", path, err)
	}
	return file, true, nil
}

func (s *XLSXSink) writeRow(file *excelize.File, rowNum int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, rowNum)
	if err != nil {
		return err
	}
	return file.SetSheetRow(s.sheetName, cell, &values)
}
