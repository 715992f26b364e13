package jobstore

import "time"

// Record is the progress snapshot of one export job.
type Record struct {
	RunID    string `json:"run_id"`
	JobID    string `json:"job_id"`
	Activity string `json:"activity"`
	Movement string `json:"movement"`

	// Status is the last observed job state.
	Status string `json:"status"`

	// Pages, Rows and Groups count fetched pages, fetched rows and flushed
	// partition groups.
	Pages  int `json:"pages"`
	Rows   int `json:"rows"`
	Groups int `json:"groups"`

	// RowCount is the total row count reported by the service.
	RowCount int `json:"row_count"`

	// Error is set when the job failed.
	Error string `json:"error,omitempty"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Key returns the storage key of the record.
func (r *Record) Key() Key {
	return Key{RunID: r.RunID, JobID: r.JobID}
}

// Failed reports whether the job ended with an error.
func (r *Record) Failed() bool {
	return r.Error != ""
}
