// Package orchestrator runs a list of export requests end to end: submit,
// wait for completion, page through the results and partition the rows into
// per-session files.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/jobstore"
	"github.com/Sternrassler/uplift-export-client/pkg/logging"
	"github.com/Sternrassler/uplift-export-client/pkg/pagination"
	"github.com/Sternrassler/uplift-export-client/pkg/partition"
	"github.com/Sternrassler/uplift-export-client/pkg/poller"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var exportJobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "export_jobs_total",
	Help: "Total export jobs by outcome",
}, []string{"outcome"})

// ExportClient is the subset of the export client the orchestrator drives.
type ExportClient interface {
	CreateJob(ctx context.Context, req client.ExportRequest) (string, error)
	poller.StatusFetcher
	pagination.PageFetcher
}

// Recorder receives job progress snapshots.
type Recorder interface {
	Save(ctx context.Context, rec *jobstore.Record) error
}

// Config holds orchestrator configuration.
type Config struct {
	Poller poller.Config
	// Reader pages the results. A zero Limit means pagination.MaxLimit.
	Reader pagination.Config

	// Sink receives the partitioned rows.
	Sink partition.Sink

	// Recorder is optional. Its failures are logged and never fail a job.
	Recorder Recorder
}

// JobReport summarises one export job.
type JobReport struct {
	JobID   string
	Request client.ExportRequest
	Status  client.JobStatus
	Pages   int
	Rows    int
	Groups  int
	// RowCount is the total reported by the service.
	RowCount int
	Duration time.Duration
}

// Report summarises a run. Jobs holds every job that was started, including
// the one that failed.
type Report struct {
	RunID    string
	Jobs     []JobReport
	Duration time.Duration
}

// Rows returns the total rows written by the run.
func (r *Report) Rows() int {
	n := 0
	for _, j := range r.Jobs {
		n += j.Rows
	}
	return n
}

// Orchestrator processes export requests strictly one after another.
type Orchestrator struct {
	client ExportClient
	poller *poller.Poller
	config Config
	logger zerolog.Logger
}

// New creates an orchestrator.
func New(c ExportClient, cfg Config) (*Orchestrator, error) {
	if c == nil {
		return nil, fmt.Errorf("export client is required")
	}
	if cfg.Sink == nil {
		return nil, fmt.Errorf("sink is required")
	}
	if cfg.Reader.Limit == 0 {
		cfg.Reader.Limit = pagination.MaxLimit
	}

	return &Orchestrator{
		client: c,
		poller: poller.New(c, cfg.Poller),
		config: cfg,
		logger: logging.NewLogger("orchestrator"),
	}, nil
}

// Run processes requests in order. The first failing request aborts the run;
// the error names that request and wraps the cause. The report is returned
// in both cases.
func (o *Orchestrator) Run(ctx context.Context, requests []client.ExportRequest) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	logger := o.logger.With().Str("run_id", report.RunID).Logger()

	logger.Info().Int("requests", len(requests)).Msg("Export run started")

	for i, req := range requests {
		job, err := o.runJob(logger.WithContext(ctx), report.RunID, req)
		if job.JobID != "" {
			report.Jobs = append(report.Jobs, job)
		}
		if err != nil {
			exportJobsTotal.WithLabelValues("failed").Inc()
			report.Duration = time.Since(start)
			logger.Error().
				Err(err).
				Str("request", req.String()).
				Int("remaining", len(requests)-i-1).
				Msg("Export run aborted")
			return report, fmt.Errorf("export %s: %w", req, err)
		}
		exportJobsTotal.WithLabelValues("completed").Inc()
	}

	report.Duration = time.Since(start)
	logger.Info().
		Int("jobs", len(report.Jobs)).
		Int("rows", report.Rows()).
		Dur("duration", report.Duration).
		Msg("Export run finished")

	return report, nil
}

// runJob takes one request from submission to the last flushed group.
func (o *Orchestrator) runJob(ctx context.Context, runID string, req client.ExportRequest) (job JobReport, err error) {
	start := time.Now()
	job = JobReport{Request: req, Status: client.StatusSubmitted}
	logger := zerolog.Ctx(ctx).With().Str("request", req.String()).Logger()

	job.JobID, err = o.client.CreateJob(ctx, req)
	if err != nil {
		return job, err
	}
	logger = logger.With().Str("job_id", job.JobID).Logger()

	rec := &jobstore.Record{
		RunID:     runID,
		JobID:     job.JobID,
		Activity:  req.Activity,
		Movement:  req.Movement,
		StartedAt: start.UTC(),
	}
	defer func() {
		job.Duration = time.Since(start)
		if err != nil {
			rec.Error = err.Error()
		}
		o.record(ctx, logger, rec, job)
	}()
	o.record(ctx, logger, rec, job)

	job.Status, err = o.poller.Wait(ctx, job.JobID)
	if err != nil {
		return job, err
	}
	o.record(ctx, logger, rec, job)

	reader, err := pagination.NewReader(o.client, job.JobID, o.config.Reader)
	if err != nil {
		return job, err
	}
	part := partition.New(o.config.Sink)

	for {
		page, nextErr := reader.Next(ctx)
		if errors.Is(nextErr, pagination.ErrDone) {
			break
		}
		if nextErr != nil {
			err = nextErr
			break
		}
		if job.RowCount == 0 {
			job.RowCount = page.RowCount
		}
		if err = part.AddPage(ctx, page); err != nil {
			break
		}
		job.Pages, job.Rows = reader.Pages(), reader.Rows()
		job.Groups = part.Stats().Groups
		o.record(ctx, logger, rec, job)
	}

	// Rows already fetched are flushed even when the job failed part way or
	// the run was cancelled.
	if closeErr := part.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
		err = closeErr
	}
	job.Pages, job.Rows = reader.Pages(), reader.Rows()
	job.Groups = part.Stats().Groups
	if err != nil {
		return job, err
	}

	logger.Info().
		Int("pages", job.Pages).
		Int("rows", job.Rows).
		Int("groups", job.Groups).
		Int("row_count", job.RowCount).
		Msg("Export job finished")

	if job.RowCount > 0 && job.Rows != job.RowCount {
		logger.Warn().
			Int("rows", job.Rows).
			Int("row_count", job.RowCount).
			Msg("Fetched rows differ from reported row count")
	}

	return job, nil
}

func (o *Orchestrator) record(ctx context.Context, logger zerolog.Logger, rec *jobstore.Record, job JobReport) {
	if o.config.Recorder == nil {
		return
	}
	rec.Status = string(job.Status)
	rec.Pages, rec.Rows, rec.Groups = job.Pages, job.Rows, job.Groups
	rec.RowCount = job.RowCount
	rec.UpdatedAt = time.Now().UTC()

	if err := o.config.Recorder.Save(ctx, rec); err != nil {
		logger.Warn().Err(err).Msg("Failed to record job progress")
	}
}
