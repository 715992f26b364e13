package client

import (
	"encoding/json"
	"sort"
)

// Date modes accepted by the export service.
const (
	DateModeLastModified = "last_modified"
	DateModeCaptureTime  = "capture_time"
)

// ExportRequest describes one category to export. It is never mutated after
// construction.
type ExportRequest struct {
	Activity  string
	Movement  string
	StartTime int64
	// EndTime is optional; the service defaults it to "now".
	EndTime  *int64
	DateMode string
	// Filters are sent as additional top-level fields of the request body.
	Filters map[string]any
}

// MarshalJSON flattens Filters into the top-level request body. The named
// fields always win over a filter with the same key.
func (r ExportRequest) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.Filters)+5)
	for k, v := range r.Filters {
		body[k] = v
	}
	body["activity"] = r.Activity
	body["movement"] = r.Movement
	body["startTime"] = r.StartTime
	if r.EndTime != nil {
		body["endTime"] = *r.EndTime
	}
	if r.DateMode != "" {
		body["dateMode"] = r.DateMode
	}
	return json.Marshal(body)
}

// String identifies the request in logs and errors.
func (r ExportRequest) String() string {
	return r.Activity + "/" + r.Movement
}

// JobStatus is the state of a remote export job.
type JobStatus string

const (
	StatusSubmitted JobStatus = "SUBMITTED"
	StatusRunning   JobStatus = "RUNNING"
	StatusCompleted JobStatus = "COMPLETED"
	StatusFailed    JobStatus = "FAILED"
	StatusCanceled  JobStatus = "CANCELED"
	StatusUnknown   JobStatus = "UNKNOWN"
)

// ParseJobStatus maps a status string returned by the service to a JobStatus.
// Unrecognised values map to StatusUnknown.
func ParseJobStatus(s string) JobStatus {
	switch JobStatus(s) {
	case StatusRunning, StatusCompleted, StatusFailed, StatusCanceled:
		return JobStatus(s)
	default:
		return StatusUnknown
	}
}

// IsTerminal reports whether no further polling is needed.
func (s JobStatus) IsTerminal() bool {
	return s != StatusSubmitted && s != StatusRunning
}

// Row is one result row: column name to scalar value.
type Row map[string]any

// Columns returns the row's keys in sorted order.
func (r Row) Columns() []string {
	cols := make([]string, 0, len(r))
	for k := range r {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

// ColumnType is the type descriptor of a result column.
type ColumnType struct {
	Name string `json:"name"`
}

// Column is one entry of the result schema.
type Column struct {
	Name string     `json:"name"`
	Type ColumnType `json:"type"`
}

// ResultPage is one slice of a job's result set.
type ResultPage struct {
	JobID    string   `json:"jobId"`
	RowCount int      `json:"rowCount"`
	Schema   []Column `json:"schema"`
	Rows     []Row    `json:"rows"`
}

// ColumnNames returns the schema column names in schema order.
func (p *ResultPage) ColumnNames() []string {
	if len(p.Schema) == 0 {
		return nil
	}
	names := make([]string, len(p.Schema))
	for i, c := range p.Schema {
		names[i] = c.Name
	}
	return names
}
