// Package testutil provides testing utilities for the export client.
package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ExportPath is the path of the export endpoint on the mock server.
const ExportPath = "/data/export"

// MockResponse defines a scripted response of the mock export service.
type MockResponse struct {
	StatusCode int
	Body       string
}

// RecordedRequest is one request received by the mock export service.
type RecordedRequest struct {
	Method        string
	Path          string
	Offset        int
	Limit         int
	Authorization string
	Body          map[string]any
}

// MockExportAPI is a configurable mock of the data export service.
type MockExportAPI struct {
	server *httptest.Server
	mu     sync.Mutex

	nextJobID   int
	submits     []MockResponse
	statuses    map[string][]MockResponse
	resultFails map[string][]MockResponse
	rows        map[string][]map[string]any
	schema      []map[string]any

	requests []RecordedRequest
}

// NewMockExportAPI creates and starts a new mock export service.
func NewMockExportAPI() *MockExportAPI {
	m := &MockExportAPI{
		statuses:    make(map[string][]MockResponse),
		resultFails: make(map[string][]MockResponse),
		rows:        make(map[string][]map[string]any),
	}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

// URL returns the export endpoint URL (the client's base URL).
func (m *MockExportAPI) URL() string {
	return m.server.URL + ExportPath
}

// Close shuts down the mock server.
func (m *MockExportAPI) Close() {
	m.server.Close()
}

// QueueSubmit scripts the next responses of the submit endpoint. Without
// scripted responses the server assigns job-1, job-2, ...
func (m *MockExportAPI) QueueSubmit(resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submits = append(m.submits, resps...)
}

// QueueStatus scripts status responses for a job. The last response repeats.
func (m *MockExportAPI) QueueStatus(jobID string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[jobID] = append(m.statuses[jobID], resps...)
}

// QueueStatusValues scripts plain 200 status values for a job.
func (m *MockExportAPI) QueueStatusValues(jobID string, statuses ...string) {
	resps := make([]MockResponse, len(statuses))
	for i, s := range statuses {
		resps[i] = NewJSONResponse(map[string]any{"status": s})
	}
	m.QueueStatus(jobID, resps...)
}

// QueueResultFailure scripts failing result responses served before rows.
func (m *MockExportAPI) QueueResultFailure(jobID string, resps ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resultFails[jobID] = append(m.resultFails[jobID], resps...)
}

// SetRows sets the full result set of a job; pages are sliced by offset/limit.
func (m *MockExportAPI) SetRows(jobID string, rows []map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[jobID] = rows
}

// SetSchema sets the schema column names returned with every page.
func (m *MockExportAPI) SetSchema(names ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schema = make([]map[string]any, len(names))
	for i, n := range names {
		m.schema[i] = map[string]any{"name": n, "type": map[string]any{"name": "string"}}
	}
}

// Requests returns a copy of all received requests.
func (m *MockExportAPI) Requests() []RecordedRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]RecordedRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// CountRequests returns how many requests hit the given method and path suffix.
func (m *MockExportAPI) CountRequests(method, suffix string) int {
	n := 0
	for _, r := range m.Requests() {
		if r.Method == method && strings.HasSuffix(r.Path, suffix) {
			n++
		}
	}
	return n
}

// ResultOffsets returns the offsets of all result requests in order.
func (m *MockExportAPI) ResultOffsets() []int {
	var offsets []int
	for _, r := range m.Requests() {
		if strings.HasSuffix(r.Path, "/result") {
			offsets = append(offsets, r.Offset)
		}
	}
	return offsets
}

func (m *MockExportAPI) handle(w http.ResponseWriter, r *http.Request) {
	rec := RecordedRequest{
		Method:        r.Method,
		Path:          r.URL.Path,
		Authorization: r.Header.Get("Authorization"),
	}
	rec.Offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	rec.Limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if r.Body != nil {
		data, _ := io.ReadAll(r.Body)
		if len(data) > 0 {
			_ = json.Unmarshal(data, &rec.Body)
		}
	}

	m.mu.Lock()
	m.requests = append(m.requests, rec)
	resp := m.route(r.Method, strings.TrimPrefix(r.URL.Path, ExportPath), rec)
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// route must be called with m.mu held.
func (m *MockExportAPI) route(method, path string, rec RecordedRequest) MockResponse {
	parts := strings.Split(strings.Trim(path, "/"), "/")

	switch {
	case method == http.MethodPost && path == "":
		if len(m.submits) > 0 {
			resp := m.submits[0]
			m.submits = m.submits[1:]
			return resp
		}
		m.nextJobID++
		return NewJSONResponse(map[string]any{"jobId": fmt.Sprintf("job-%d", m.nextJobID)})

	case method == http.MethodGet && len(parts) == 2 && parts[0] == "job":
		queue := m.statuses[parts[1]]
		if len(queue) == 0 {
			return NewJSONResponse(map[string]any{"status": "COMPLETED"})
		}
		resp := queue[0]
		if len(queue) > 1 {
			m.statuses[parts[1]] = queue[1:]
		}
		return resp

	case method == http.MethodGet && len(parts) == 3 && parts[0] == "job" && parts[2] == "result":
		jobID := parts[1]
		if fails := m.resultFails[jobID]; len(fails) > 0 {
			m.resultFails[jobID] = fails[1:]
			return fails[0]
		}
		all := m.rows[jobID]
		start := min(rec.Offset, len(all))
		end := min(start+rec.Limit, len(all))
		page := all[start:end]
		if page == nil {
			page = []map[string]any{}
		}
		return NewJSONResponse(map[string]any{
			"jobId":    jobID,
			"rowCount": len(all),
			"schema":   m.schema,
			"rows":     page,
		})
	}

	return MockResponse{StatusCode: http.StatusNotFound, Body: `{"error": "not found"}`}
}

// NewJSONResponse creates a 200 OK response with v encoded as JSON.
func NewJSONResponse(v any) MockResponse {
	data, _ := json.Marshal(v)
	return MockResponse{StatusCode: http.StatusOK, Body: string(data)}
}

// NewErrorResponse creates an error response with the given status.
func NewErrorResponse(status int) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error": %q}`, http.StatusText(status)),
	}
}

// NewGatewayTimeoutResponse creates a 504 Gateway Timeout response.
func NewGatewayTimeoutResponse() MockResponse {
	return NewErrorResponse(http.StatusGatewayTimeout)
}

// MakeRows builds n rows for one athlete/session with a running index column.
func MakeRows(athleteID, sessionID string, n int) []map[string]any {
	rows := make([]map[string]any, n)
	for i := range rows {
		rows[i] = map[string]any{
			"athleteid": athleteID,
			"sessionid": sessionID,
			"frame":     i,
		}
	}
	return rows
}

// RecordingSleeper records requested waits without sleeping.
type RecordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

// Sleep records d and returns immediately unless ctx is already done.
func (s *RecordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

// Delays returns a copy of the recorded waits.
func (s *RecordingSleeper) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]time.Duration, len(s.delays))
	copy(out, s.delays)
	return out
}
