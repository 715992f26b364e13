package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for retry operations.
var (
	exportRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_retries_total",
		Help: "Total number of retry attempts after a transient failure",
	})

	exportRetryBackoffSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "export_retry_backoff_seconds",
		Help:    "Backoff duration before a retry",
		Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32},
	})

	exportRetryExhaustedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "export_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted",
	})
)

// Sleeper suspends the caller for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper. It returns ErrContextCancelled when ctx ends
// before d has elapsed.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-timer.C:
		return nil
	}
}

// RetryState is the retry bookkeeping of a single execute call.
type RetryState struct {
	// Attempt is the number of retries performed so far.
	Attempt    int
	MaxRetries int
	BaseDelay  time.Duration
}

// CanRetry reports whether another retry is allowed.
func (s *RetryState) CanRetry() bool {
	return s.Attempt < s.MaxRetries
}

// NextDelay returns the backoff before the next retry: BaseDelay * 2^Attempt,
// which is BaseDelay * 2^(n-1) for the n-th retry.
func (s *RetryState) NextDelay() time.Duration {
	return s.BaseDelay << s.Attempt
}

// execute performs req through the transport, retrying the transient status
// with exponential backoff. The returned response always has a 2xx status.
func (c *Client) execute(ctx context.Context, operation string, req *Request) (*Response, error) {
	state := RetryState{
		MaxRetries: c.config.MaxRetries,
		BaseDelay:  c.config.BaseDelay,
	}

	for {
		start := time.Now()
		resp, err := c.transport.Do(ctx, req)
		exportRequestDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())

		if err != nil {
			exportRequestsTotal.WithLabelValues(operation, "network_error").Inc()
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
			}
			return nil, c.fail(operation, &APIError{
				ErrorClass: ErrorClassNetwork,
				Message:    "request failed",
				Err:        err,
			}, state)
		}

		exportRequestsTotal.WithLabelValues(operation, fmt.Sprintf("%d", resp.StatusCode)).Inc()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if state.Attempt > 0 {
				c.logger.Info().
					Str("operation", operation).
					Int("attempt", state.Attempt).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		apiErr := newStatusError(resp, c.config.RetryableStatus)
		if !shouldRetry(apiErr.ErrorClass) {
			return nil, c.fail(operation, apiErr, state)
		}

		if !state.CanRetry() {
			exportRetryExhaustedTotal.Inc()
			return nil, c.fail(operation,
				fmt.Errorf("%w after %d retries: %w", ErrRetryExhausted, state.Attempt, apiErr), state)
		}

		delay := state.NextDelay()
		state.Attempt++
		exportRetriesTotal.Inc()
		exportRetryBackoffSeconds.Observe(delay.Seconds())

		c.logger.Warn().
			Str("operation", operation).
			Int("status_code", resp.StatusCode).
			Int("attempt", state.Attempt).
			Int("max_retries", state.MaxRetries).
			Dur("backoff", delay).
			Msg("Transient failure, retrying after backoff")

		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// fail logs a terminal failure once at the executor boundary.
func (c *Client) fail(operation string, err error, state RetryState) error {
	class := ClassOf(err)
	exportErrorsTotal.WithLabelValues(string(class)).Inc()

	event := c.logger.Error().
		Err(err).
		Str("operation", operation).
		Str("error_class", string(class)).
		Int("attempt", state.Attempt)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		event = event.Int("status_code", apiErr.StatusCode)
	}
	event.Msg("Export request failed")

	return err
}
