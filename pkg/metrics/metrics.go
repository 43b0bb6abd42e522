// Package metrics provides the Prometheus registry reference for the request core.
// All metrics are defined in their respective packages (cache, dispatch,
// transport, client) to maintain modularity and avoid circular dependencies.
//
// This package provides documentation, the list of exported metric names and
// the HTTP handler serving them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the request core.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the registry that Handler serves.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Names lists every metric exported by the request core packages.
var Names = []string{
	"reqcore_cache_hits_total",
	"reqcore_cache_misses_total",
	"reqcore_cache_size_bytes",
	"reqcore_cache_evictions_total",
	"reqcore_cache_errors_total",
	"reqcore_dispatcher_active",
	"reqcore_dispatcher_queued",
	"reqcore_dispatcher_tasks_total",
	"reqcore_dispatcher_queue_wait_seconds",
	"reqcore_dedup_shared_total",
	"reqcore_dedup_expired_total",
	"reqcore_requests_total",
	"reqcore_request_duration_seconds",
	"reqcore_errors_total",
	"reqcore_client_calls_total",
}

// Handler returns an HTTP handler exposing Gatherer in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - reqcore_cache_hits_total{layer} (Counter): Cache hits by layer (memory, redis)
//   - reqcore_cache_misses_total (Counter): Cache misses
//   - reqcore_cache_size_bytes (Gauge): Approximate local cache size in bytes
//   - reqcore_cache_evictions_total{reason} (Counter): Removals by reason (size_budget, invalidate, clear)
//   - reqcore_cache_errors_total{operation} (Counter): Shared tier errors
//
// Dispatch Metrics (pkg/dispatch):
//   - reqcore_dispatcher_active (Gauge): Tasks currently executing
//   - reqcore_dispatcher_queued (Gauge): Tasks waiting for a slot
//   - reqcore_dispatcher_tasks_total{priority} (Counter): Submitted tasks
//   - reqcore_dispatcher_queue_wait_seconds (Histogram): Backlog wait time
//   - reqcore_dedup_shared_total (Counter): Callers attached to an in-flight request
//   - reqcore_dedup_expired_total (Counter): In-flight entries dropped by the safety timeout
//
// Request Metrics (pkg/transport):
//   - reqcore_requests_total{method, status} (Counter): Backend requests by method and HTTP status
//   - reqcore_request_duration_seconds{method} (Histogram): Request duration by method
//   - reqcore_errors_total{class} (Counter): Errors by class (network, client, server, parse, cancelled)
//
// Client Metrics (pkg/client):
//   - reqcore_client_calls_total{operation, result} (Counter): Get/Mutate outcomes
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(reqcore_cache_hits_total[5m])) /
//   (sum(rate(reqcore_cache_hits_total[5m])) + sum(rate(reqcore_cache_misses_total[5m])))
//
//   # Dedup Savings
//   rate(reqcore_dedup_shared_total[5m]) / rate(reqcore_client_calls_total{operation="get"}[5m])
//
//   # Saturation
//   reqcore_dispatcher_queued > 0
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(reqcore_request_duration_seconds_bucket[5m]))
