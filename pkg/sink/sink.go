// Package sink persists partitioned result rows as one tabular file per
// athlete and session: <dir>/<athleteId>/session_<sessionId>.<ext>.
package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/partition"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportFlushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_flushes_total",
		Help: "Total batches appended to output files by format",
	}, []string{"format"})

	exportRowsWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_rows_written_total",
		Help: "Total rows written to output files by format",
	}, []string{"format"})
)

// Supported output formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// New returns the sink for format writing below dir.
func New(format, dir string) (partition.Sink, error) {
	switch strings.ToLower(format) {
	case "", FormatCSV:
		return NewCSVSink(dir), nil
	case FormatXLSX:
		return NewXLSXSink(dir), nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// Layout maps partition keys to file paths.
type Layout struct {
	BaseDir   string
	Extension string
}

// Dir returns the athlete directory, creating it if absent.
func (l Layout) Dir(key partition.Key) (string, error) {
	dir := filepath.Join(l.BaseDir, cleanName(key.AthleteID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create athlete directory: %w", err)
	}
	return dir, nil
}

// Path returns the session file path, creating the athlete directory.
func (l Layout) Path(key partition.Key) (string, error) {
	dir, err := l.Dir(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "session_"+cleanName(key.SessionID)+"."+l.Extension), nil
}

// cleanName reduces an identifier to a single safe path element.
func cleanName(id string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == 0 {
			return '_'
		}
		return r
	}, id)
	if name == "" || name == "." || name == ".." {
		return "_"
	}
	return name
}

// resolveColumns returns the header of a new file: the keys of the first
// row, those named by the batch columns first and in that order, then the
// rest sorted.
func resolveColumns(batch partition.Batch) []string {
	if len(batch.Rows) == 0 {
		return nil
	}
	first := batch.Rows[0]

	header := make([]string, 0, len(first))
	named := make(map[string]struct{}, len(batch.Columns))
	for _, col := range batch.Columns {
		if _, ok := first[col]; !ok {
			continue
		}
		if _, dup := named[col]; dup {
			continue
		}
		named[col] = struct{}{}
		header = append(header, col)
	}
	for _, col := range first.Columns() {
		if _, ok := named[col]; !ok {
			header = append(header, col)
		}
	}
	return header
}

// record lays a row out in header order.
func record(header []string, row client.Row) []string {
	values := make([]string, len(header))
	for i, col := range header {
		values[i] = formatValue(row[col])
	}
	return values
}

// formatValue renders a scalar cell. Nested values are written as JSON.
func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool, int, int64, float64:
		return fmt.Sprint(val)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// unknownColumns lists row keys missing from header.
func unknownColumns(header []string, rows []client.Row) []string {
	known := make(map[string]struct{}, len(header))
	for _, h := range header {
		known[h] = struct{}{}
	}
	seen := map[string]struct{}{}
	var extra []string
	for _, row := range rows {
		for k := range row {
			if _, ok := known[k]; ok {
				continue
			}
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				extra = append(extra, k)
			}
		}
	}
	return extra
}
