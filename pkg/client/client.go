// Package client provides the export service client: job submission, job
// status and paginated job results, executed with bounded retry.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Prometheus metrics for export client operations.
var (
	exportRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_requests_total",
		Help: "Total export service requests by operation and status",
	}, []string{"operation", "status"})

	exportRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "export_request_duration_seconds",
		Help:    "Export service request duration in seconds by operation",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"operation"})

	exportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "export_errors_total",
		Help: "Total terminal export request errors by class",
	}, []string{"class"})
)

// Operation labels.
const (
	OpCreateJob  = "create_job"
	OpJobStatus  = "job_status"
	OpJobResults = "job_results"
)

// jobIDPlaceholder is substituted in JobPath and ResultPath.
const jobIDPlaceholder = "{jobId}"

// Client talks to the export service.
type Client struct {
	transport Transport
	sleep     Sleeper
	config    Config
	logger    zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// APIKey is sent as a bearer token on every request.
	APIKey string

	// BaseURL is the export endpoint, e.g. "https://api.example.com/data/export".
	BaseURL string

	// Endpoint paths relative to BaseURL. "{jobId}" is replaced by the job id.
	SubmitPath string
	JobPath    string
	ResultPath string

	// Retry
	MaxRetries      int
	BaseDelay       time.Duration
	RetryableStatus int

	// Timeout applies to each request of the default HTTP transport.
	Timeout time.Duration

	// Transport overrides the HTTP transport (optional).
	Transport Transport

	// Sleep overrides the backoff wait (optional).
	Sleep Sleeper
}

// DefaultConfig returns the default configuration.
func DefaultConfig(apiKey, baseURL string) Config {
	return Config{
		APIKey:          apiKey,
		BaseURL:         baseURL,
		SubmitPath:      "",
		JobPath:         "/job/{jobId}",
		ResultPath:      "/job/{jobId}/result",
		MaxRetries:      3,
		BaseDelay:       2 * time.Second,
		RetryableStatus: http.StatusGatewayTimeout,
		Timeout:         30 * time.Second,
	}
}

// New creates a new export client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}

	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	if cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("max_retries must be >= 0 (got %d)", cfg.MaxRetries)
	}

	if cfg.BaseDelay <= 0 {
		return nil, fmt.Errorf("base_delay must be positive (got %s)", cfg.BaseDelay)
	}

	if cfg.RetryableStatus == 0 {
		cfg.RetryableStatus = http.StatusGatewayTimeout
	}

	transport := cfg.Transport
	if transport == nil {
		transport = NewHTTPTransport(cfg.Timeout)
	}

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Sleep
	}

	return &Client{
		transport: transport,
		sleep:     sleep,
		config:    cfg,
		logger:    log.With().Str("component", "export-client").Logger(),
	}, nil
}

// CreateJob submits an export job and returns the job id assigned by the service.
func (c *Client) CreateJob(ctx context.Context, req ExportRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode export request: %w", err)
	}

	header := c.headers()
	header.Set("Content-Type", "application/json")

	resp, err := c.execute(ctx, OpCreateJob, &Request{
		Method: http.MethodPost,
		URL:    c.config.BaseURL + c.config.SubmitPath,
		Header: header,
		Body:   body,
	})
	if err != nil {
		return "", err
	}

	var payload struct {
		JobID string `json:"jobId"`
	}
	if err := decode(resp, &payload); err != nil {
		return "", err
	}
	if payload.JobID == "" {
		return "", fmt.Errorf("create job: %w: response carried no jobId", ErrMissingJobID)
	}

	c.logger.Info().
		Str("job_id", payload.JobID).
		Str("activity", req.Activity).
		Str("movement", req.Movement).
		Msg("Export job created")

	return payload.JobID, nil
}

// GetJobStatus fetches the raw status string of a job.
func (c *Client) GetJobStatus(ctx context.Context, jobID string) (string, error) {
	if jobID == "" {
		c.logger.Error().Str("operation", OpJobStatus).Msg("Missing job id")
		return "", fmt.Errorf("get job status: %w", ErrMissingJobID)
	}

	resp, err := c.execute(ctx, OpJobStatus, &Request{
		Method: http.MethodGet,
		URL:    c.jobURL(c.config.JobPath, jobID),
		Header: c.headers(),
	})
	if err != nil {
		return "", fmt.Errorf("job %s: %w", jobID, err)
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := decode(resp, &payload); err != nil {
		return "", fmt.Errorf("job %s: %w", jobID, err)
	}

	return payload.Status, nil
}

// GetJobResults fetches one page of a job's results.
func (c *Client) GetJobResults(ctx context.Context, jobID string, offset, limit int) (*ResultPage, error) {
	if jobID == "" {
		c.logger.Error().Str("operation", OpJobResults).Msg("Missing job id")
		return nil, fmt.Errorf("get job results: %w", ErrMissingJobID)
	}

	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	c.logger.Debug().
		Str("job_id", jobID).
		Int("offset", offset).
		Int("limit", limit).
		Msg("Fetching job results")

	resp, err := c.execute(ctx, OpJobResults, &Request{
		Method: http.MethodGet,
		URL:    c.jobURL(c.config.ResultPath, jobID) + "?" + query.Encode(),
		Header: c.headers(),
	})
	if err != nil {
		return nil, fmt.Errorf("job %s offset %d: %w", jobID, offset, err)
	}

	var page ResultPage
	if err := decode(resp, &page); err != nil {
		return nil, fmt.Errorf("job %s offset %d: %w", jobID, offset, err)
	}

	return &page, nil
}

func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.config.APIKey)
	h.Set("Accept", "application/json")
	return h
}

func (c *Client) jobURL(path, jobID string) string {
	return c.config.BaseURL + strings.ReplaceAll(path, jobIDPlaceholder, url.PathEscape(jobID))
}

// decode unmarshals a success payload, keeping numbers as json.Number.
func decode(resp *Response, v any) error {
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		exportErrorsTotal.WithLabelValues(string(ErrorClassDecode)).Inc()
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorClass: ErrorClassDecode,
			Message:    "decode response",
			Body:       string(resp.Body),
			Err:        err,
		}
	}
	return nil
}
