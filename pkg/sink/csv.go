package sink

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/Sternrassler/uplift-export-client/pkg/partition"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// CSVSink appends batches to per-session CSV files.
type CSVSink struct {
	layout    Layout
	delimiter rune
	logger    zerolog.Logger
}

// NewCSVSink creates a CSV sink writing below dir.
func NewCSVSink(dir string) *CSVSink {
	return &CSVSink{
		layout:    Layout{BaseDir: dir, Extension: "csv"},
		delimiter: ',',
		logger:    log.With().Str("component", "sink").Str("format", FormatCSV).Logger(),
	}
}

// Append implements partition.Sink.
func (s *CSVSink) Append(ctx context.Context, batch partition.Batch) (err error) {
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

	header, exists, err := s.existingHeader(path)
	if err != nil {
		return err
	}
	if !exists {
		header = resolveColumns(batch)
	}
	if extra := unknownColumns(header, batch.Rows); len(extra) > 0 {
		s.logger.Warn().
			Str("path", path).
			Strs("columns", extra).
			Msg("Dropping columns missing from the file header")
	}

	// Encode the whole batch first so the file sees a single append.
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = s.delimiter
	if !exists {
		if err := w.Write(header); err != nil {
			return fmt.Errorf("failed to write headers: %w", err)
		}
	}
	for _, row := range batch.Rows {
		if err := w.Write(record(header, row)); err != nil {
			return fmt.Errorf("failed to write record: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV writer: %w", err)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open CSV file %s: %w", path, err)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("failed to close CSV file %s: %w", path, cerr)
		}
		if err != nil && !exists {
			os.Remove(path)
		}
	}()

	if _, err = file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write CSV file %s: %w", path, err)
	}

	exportFlushesTotal.WithLabelValues(FormatCSV).Inc()
	exportRowsWrittenTotal.WithLabelValues(FormatCSV).Add(float64(len(batch.Rows)))
	s.logger.Info().
		Str("athlete_id", batch.Key.AthleteID).
		Str("session_id", batch.Key.SessionID).
		Int("rows", len(batch.Rows)).
		Bool("created", !exists).
		Msg("CSV file written/updated")

	return nil
}

// existingHeader reads the header of an existing file.
func (s *CSVSink) existingHeader(path string) ([]string, bool, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open CSV file %s: %w", path, err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.Comma = s.delimiter
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		// An empty file is treated as new; the header is written on append.
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read CSV header %s: %w", path, err)
	}
	return header, true, nil
}
