package pagination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/uplift-export-client/pkg/client"
	"github.com/Sternrassler/uplift-export-client/pkg/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	exportPagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_pages_total",
		Help: "Total non-empty result pages fetched",
	})

	exportRowsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_rows_total",
		Help: "Total result rows fetched",
	})
)

// MaxLimit is the largest page size accepted by the export service.
const MaxLimit = 500

// ErrDone is returned by Next once the result set is exhausted.
var ErrDone = errors.New("no more result pages")

// PageFetcher fetches one page of a job's results.
type PageFetcher interface {
	GetJobResults(ctx context.Context, jobID string, offset, limit int) (*client.ResultPage, error)
}

// Config holds reader configuration.
type Config struct {
	// Offset is the starting row offset.
	Offset int
	// Limit is the page size, 1..MaxLimit.
	Limit int
	// PageDelay is the pacing wait between page requests.
	PageDelay time.Duration
	// Sleep overrides the pacing wait (optional).
	Sleep client.Sleeper
}

// DefaultConfig returns the default reader configuration.
func DefaultConfig() Config {
	return Config{
		Offset:    0,
		Limit:     MaxLimit,
		PageDelay: 1 * time.Second,
	}
}

// Reader is a forward-only cursor over one job's result pages.
type Reader struct {
	fetcher PageFetcher
	jobID   string
	config  Config
	logger  zerolog.Logger

	offset int
	pages  int
	rows   int
	paced  bool
	err    error
}

// NewReader creates a reader for jobID.
func NewReader(fetcher PageFetcher, jobID string, cfg Config) (*Reader, error) {
	if jobID == "" {
		return nil, fmt.Errorf("new reader: %w", client.ErrMissingJobID)
	}
	if cfg.Offset < 0 {
		return nil, fmt.Errorf("offset must be >= 0 (got %d)", cfg.Offset)
	}
	if cfg.Limit < 1 || cfg.Limit > MaxLimit {
		return nil, fmt.Errorf("limit must be between 1 and %d (got %d)", MaxLimit, cfg.Limit)
	}
	if cfg.Sleep == nil {
		cfg.Sleep = client.Sleep
	}

	return &Reader{
		fetcher: fetcher,
		jobID:   jobID,
		config:  cfg,
		offset:  cfg.Offset,
		logger:  logging.NewLogger("pagination").With().Str("job_id", jobID).Logger(),
	}, nil
}

// Next returns the next non-empty page. It returns ErrDone when an empty page
// is fetched and the fetch error when a page cannot be retrieved; after either
// it keeps returning the same error without further requests.
func (r *Reader) Next(ctx context.Context) (*client.ResultPage, error) {
	if r.err != nil {
		return nil, r.err
	}

	if r.paced {
		if err := r.config.Sleep(ctx, r.config.PageDelay); err != nil {
			r.err = err
			return nil, err
		}
	}

	page, err := r.fetcher.GetJobResults(ctx, r.jobID, r.offset, r.config.Limit)
	if err != nil {
		r.err = err
		return nil, err
	}

	if page == nil || len(page.Rows) == 0 {
		r.logger.Info().
			Int("pages", r.pages).
			Int("rows", r.rows).
			Int("offset", r.offset).
			Msg("Result set exhausted")
		r.err = ErrDone
		return nil, ErrDone
	}

	r.pages++
	r.rows += len(page.Rows)
	r.offset += len(page.Rows)
	r.paced = true
	exportPagesTotal.Inc()
	exportRowsTotal.Add(float64(len(page.Rows)))

	r.logger.Debug().
		Int("rows", len(page.Rows)).
		Int("next_offset", r.offset).
		Int("row_count", page.RowCount).
		Msg("Fetched result page")

	return page, nil
}

// Offset returns the offset of the next page request.
func (r *Reader) Offset() int {
	return r.offset
}

// Pages returns the number of non-empty pages read so far.
func (r *Reader) Pages() int {
	return r.pages
}

// Rows returns the number of rows read so far.
func (r *Reader) Rows() int {
	return r.rows
}
