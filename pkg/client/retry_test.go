package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

// scriptedTransport returns the scripted responses in order; the last repeats.
type scriptedTransport struct {
	mu        sync.Mutex
	responses []*Response
	errs      []error
	calls     int
	requests  []*Request
}

func (s *scriptedTransport) Do(_ context.Context, req *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, max(len(s.responses), len(s.errs))-1)
	s.calls++
	s.requests = append(s.requests, req)
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	return s.responses[i], nil
}

type recordedSleeps struct {
	delays []time.Duration
}

func (r *recordedSleeps) sleep(ctx context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return ctx.Err()
}

func status(code int, body string) *Response {
	return &Response{StatusCode: code, Body: []byte(body)}
}

func newTestClient(t *testing.T, transport Transport, sleeps *recordedSleeps) *Client {
	t.Helper()
	cfg := DefaultConfig("test-key", "https://export.test/data/export")
	cfg.Transport = transport
	cfg.Sleep = sleeps.sleep
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestRetryState_NextDelay(t *testing.T) {
	state := RetryState{MaxRetries: 3, BaseDelay: 2 * time.Second}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}

	for i, w := range want {
		if !state.CanRetry() {
			t.Fatalf("CanRetry() = false before retry %d", i+1)
		}
		if got := state.NextDelay(); got != w {
			t.Errorf("NextDelay() before retry %d = %v, want %v", i+1, got, w)
		}
		state.Attempt++
	}
	if state.CanRetry() {
		t.Error("CanRetry() = true after MaxRetries retries")
	}
}

func TestExecute_Success(t *testing.T) {
	transport := &scriptedTransport{responses: []*Response{status(200, `{}`)}}
	sleeps := &recordedSleeps{}
	c := newTestClient(t, transport, sleeps)

	resp, err := c.execute(context.Background(), OpJobStatus, &Request{Method: http.MethodGet})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("StatusCode = %d, want 200", resp.StatusCode)
	}
	if transport.calls != 1 {
		t.Errorf("Expected 1 call, got %d", transport.calls)
	}
	if len(sleeps.delays) != 0 {
		t.Errorf("Expected no backoff, got %v", sleeps.delays)
	}
}

func TestExecute_GatewayTimeoutThenSuccess(t *testing.T) {
	transport := &scriptedTransport{responses: []*Response{
		status(504, ""),
		status(504, ""),
		status(200, `{"status": "COMPLETED"}`),
	}}
	sleeps := &recordedSleeps{}
	c := newTestClient(t, transport, sleeps)

	got, err := c.GetJobStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if got != "COMPLETED" {
		t.Errorf("status = %q, want COMPLETED", got)
	}
	if transport.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", transport.calls)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(sleeps.delays) != len(want) {
		t.Fatalf("backoff delays = %v, want %v", sleeps.delays, want)
	}
	for i := range want {
		if sleeps.delays[i] != want[i] {
			t.Errorf("delay[%d] = %v, want %v", i, sleeps.delays[i], want[i])
		}
	}
}

func TestExecute_RetriesExhausted(t *testing.T) {
	transport := &scriptedTransport{responses: []*Response{status(504, "")}}
	sleeps := &recordedSleeps{}
	c := newTestClient(t, transport, sleeps)

	_, err := c.execute(context.Background(), OpJobStatus, &Request{Method: http.MethodGet})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if ClassOf(err) != ErrorClassTransient {
		t.Errorf("ClassOf() = %q, want %q", ClassOf(err), ErrorClassTransient)
	}
	// Initial request plus MaxRetries retries.
	if transport.calls != 4 {
		t.Errorf("Expected 4 calls, got %d", transport.calls)
	}
	if len(sleeps.delays) != 3 || sleeps.delays[2] != 8*time.Second {
		t.Errorf("backoff delays = %v, want [2s 4s 8s]", sleeps.delays)
	}
}

func TestExecute_TerminalStatusNoRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
		class  ErrorClass
	}{
		{"bad request", 400, ErrorClassClient},
		{"unauthorized", 401, ErrorClassClient},
		{"forbidden", 403, ErrorClassClient},
		{"not found", 404, ErrorClassClient},
		{"rate limited", 429, ErrorClassRateLimit},
		{"server error", 500, ErrorClassServer},
		{"bad gateway", 502, ErrorClassServer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			transport := &scriptedTransport{responses: []*Response{status(tt.status, "nope")}}
			sleeps := &recordedSleeps{}
			c := newTestClient(t, transport, sleeps)

			_, err := c.execute(context.Background(), OpJobStatus, &Request{Method: http.MethodGet})

			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("Expected *APIError, got %v", err)
			}
			if apiErr.StatusCode != tt.status || apiErr.ErrorClass != tt.class {
				t.Errorf("got status %d class %q, want %d %q", apiErr.StatusCode, apiErr.ErrorClass, tt.status, tt.class)
			}
			if errors.Is(err, ErrRetryExhausted) {
				t.Error("Should not return ErrRetryExhausted for a terminal status")
			}
			if transport.calls != 1 {
				t.Errorf("Expected 1 call (no retry), got %d", transport.calls)
			}
			if len(sleeps.delays) != 0 {
				t.Errorf("Expected no backoff, got %v", sleeps.delays)
			}
		})
	}
}

func TestExecute_NetworkErrorNoRetry(t *testing.T) {
	netErr := errors.New("connection refused")
	transport := &scriptedTransport{errs: []error{netErr}}
	sleeps := &recordedSleeps{}
	c := newTestClient(t, transport, sleeps)

	_, err := c.execute(context.Background(), OpCreateJob, &Request{Method: http.MethodPost})
	if !errors.Is(err, netErr) {
		t.Fatalf("Expected wrapped network error, got %v", err)
	}
	if ClassOf(err) != ErrorClassNetwork {
		t.Errorf("ClassOf() = %q, want %q", ClassOf(err), ErrorClassNetwork)
	}
	if transport.calls != 1 {
		t.Errorf("Expected 1 call, got %d", transport.calls)
	}
}

func TestExecute_ZeroMaxRetries(t *testing.T) {
	transport := &scriptedTransport{responses: []*Response{status(504, "")}}
	sleeps := &recordedSleeps{}
	cfg := DefaultConfig("k", "https://export.test")
	cfg.MaxRetries = 0
	cfg.Transport = transport
	cfg.Sleep = sleeps.sleep
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.execute(context.Background(), OpJobStatus, &Request{Method: http.MethodGet})
	if !errors.Is(err, ErrRetryExhausted) {
		t.Fatalf("Expected ErrRetryExhausted, got %v", err)
	}
	if transport.calls != 1 {
		t.Errorf("Expected 1 call, got %d", transport.calls)
	}
}

func TestExecute_ContextCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	transport := &scriptedTransport{responses: []*Response{status(504, "")}}

	cfg := DefaultConfig("k", "https://export.test")
	cfg.Transport = transport
	cfg.Sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return Sleep(ctx, d)
	}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = c.execute(ctx, OpJobStatus, &Request{Method: http.MethodGet})
	if !errors.Is(err, ErrContextCancelled) {
		t.Fatalf("Expected ErrContextCancelled, got %v", err)
	}
	if transport.calls != 1 {
		t.Errorf("Expected 1 call before cancellation, got %d", transport.calls)
	}
}

func TestSleep(t *testing.T) {
	start := time.Now()
	if err := Sleep(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("Sleep returned early")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := Sleep(ctx, time.Hour); !errors.Is(err, ErrContextCancelled) {
		t.Errorf("Sleep(cancelled) = %v, want ErrContextCancelled", err)
	}
}
