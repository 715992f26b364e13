// Package metrics exposes the Prometheus metrics of the export client.
// All metrics are defined in their respective packages (client, poller,
// pagination, sink, orchestrator, jobstore) via promauto to maintain
// modularity and avoid circular dependencies.
//
// This package serves them over HTTP and documents every metric.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the export client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry the HTTP handler serves.
var Gatherer = prometheus.DefaultGatherer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - export_requests_total{operation, status} (Counter): Requests by operation and HTTP status
//   - export_request_duration_seconds{operation} (Histogram): Request duration by operation
//   - export_errors_total{class} (Counter): Terminal errors by class (transient, client, rate_limit, server, network, decode)
//
// Retry Metrics (pkg/client):
//   - export_retries_total (Counter): Retry attempts after a gateway timeout
//   - export_retry_backoff_seconds (Histogram): Backoff duration before a retry
//   - export_retry_exhausted_total (Counter): Requests that exhausted max retries
//
// Job Metrics (pkg/poller, pkg/orchestrator):
//   - export_job_polls_total{state} (Counter): Status polls by observed state
//   - export_jobs_total{outcome} (Counter): Finished jobs by outcome (completed, failed)
//
// Result Metrics (pkg/pagination, pkg/sink):
//   - export_pages_total (Counter): Non-empty result pages fetched
//   - export_rows_total (Counter): Result rows fetched
//   - export_flushes_total{format} (Counter): Partition groups written by file format
//   - export_rows_written_total{format} (Counter): Rows written by file format
//
// Job Store Metrics (pkg/jobstore):
//   - export_jobstore_writes_total (Counter): Job progress records written
//   - export_jobstore_errors_total{operation} (Counter): Job store errors
//
// Example Prometheus Queries:
//
//   # Gateway timeout retry rate
//   rate(export_retries_total[5m])
//
//   # Rows fetched vs written
//   sum(rate(export_rows_total[5m])) - sum(rate(export_rows_written_total[5m]))
//
//   # P95 result page latency
//   histogram_quantile(0.95, rate(export_request_duration_seconds_bucket{operation="job_results"}[5m]))
