// Package poller drives an export job from submission to a terminal state.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var exportJobPollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "export_job_polls_total",
	Help: "Total job status polls by observed state",
}, []string{"state"})

// StatusFetcher fetches the raw status string of a job.
type StatusFetcher interface {
	GetJobStatus(ctx context.Context, jobID string) (string, error)
}

// JobStateError reports a job that ended in a non-successful terminal state.
type JobStateError struct {
	JobID string
	State client.JobStatus
	// Raw is the status string returned by the service.
	Raw string
}

// Error implements the error interface.
func (e *JobStateError) Error() string {
	if e.State == client.StatusUnknown {
		return fmt.Sprintf("job %s: unexpected job status %q", e.JobID, e.Raw)
	}
	return fmt.Sprintf("job %s %s: unable to retrieve results", e.JobID, e.State)
}

// Config holds poller configuration.
type Config struct {
	// Interval is the fixed wait between polls of a RUNNING job.
	Interval time.Duration

	// Sleep overrides the wait (optional).
	Sleep client.Sleeper
}

// DefaultConfig returns the default poller configuration.
func DefaultConfig() Config {
	return Config{Interval: 5 * time.Second}
}

// Poller waits for export jobs to finish.
type Poller struct {
	fetcher StatusFetcher
	config  Config
	logger  zerolog.Logger
}

// New creates a new poller.
func New(fetcher StatusFetcher, cfg Config) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	if cfg.Sleep == nil {
		cfg.Sleep = client.Sleep
	}
	return &Poller{
		fetcher: fetcher,
		config:  cfg,
		logger:  logging.NewLogger("poller"),
	}
}

// Wait polls the job until it reaches a terminal state. It returns
// StatusCompleted on success, a *JobStateError for FAILED, CANCELED or an
// unrecognised status, and the fetcher's error when the status call fails.
// There is no poll limit; bound the wait with ctx.
func (p *Poller) Wait(ctx context.Context, jobID string) (client.JobStatus, error) {
	logger := p.logger.With().Str("job_id", jobID).Logger()
	state := client.StatusSubmitted

	for {
		raw, err := p.fetcher.GetJobStatus(ctx, jobID)
		if err != nil {
			return state, err
		}

		next := client.ParseJobStatus(raw)
		exportJobPollsTotal.WithLabelValues(string(next)).Inc()
		if next != state {
			logger.Info().
				Str("from", string(state)).
				Str("state", string(next)).
				Msg("Job state changed")
		}
		state = next

		switch state {
		case client.StatusCompleted:
			return state, nil
		case client.StatusRunning:
			logger.Debug().Dur("interval", p.config.Interval).Msg("Job still running")
			if err := p.config.Sleep(ctx, p.config.Interval); err != nil {
				return state, err
			}
		default:
			logger.Error().Str("state", string(state)).Str("raw", raw).Msg("Job ended without results")
			return state, &JobStateError{JobID: jobID, State: state, Raw: raw}
		}
	}
}
