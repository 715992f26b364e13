// Package jobstore records export job progress in Redis.
//
// Every job of a run is stored as one JSON record under a deterministic key
// and indexed in a per-run set, so an operator can inspect a running or
// finished export from outside the process:
//
//	export:run:<run_id>:job:<job_id>   JSON Record, expires after the TTL
//	export:run:<run_id>:jobs           set of job ids of the run
//
// Records are written by the orchestrator after every state change and every
// result page. They describe progress only; an interrupted run is not
// resumed from them.
//
// Usage:
//
//	rdb := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := jobstore.NewStore(rdb, 24*time.Hour)
//
//	records, err := store.List(ctx, runID)
//	for _, rec := range records {
//	    fmt.Println(rec.JobID, rec.Status, rec.Rows)
//	}
package jobstore
