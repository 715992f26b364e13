package jobstore

import "strings"

const keyPrefix = "export:run"

// Key identifies one job record.
type Key struct {
	RunID string
	JobID string
}

// String generates the Redis key of the record.
// Format: export:run:<run_id>:job:<job_id>
func (k Key) String() string {
	return strings.Join([]string{keyPrefix, k.RunID, "job", k.JobID}, ":")
}

// indexKey is the Redis set listing the job ids of a run.
func indexKey(runID string) string {
	return strings.Join([]string{keyPrefix, runID, "jobs"}, ":")
}
