// Package metrics exposes the Prometheus registry used by the edge cache.
// Metrics are defined next to the code that records them (cache, origin,
// precache, lifecycle, engine) and registered via promauto; this package
// serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all edge-cache metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Handler returns the HTTP handler for the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Engine Metrics (pkg/engine):
//   - edgecache_requests_total{class, source} (Counter): Requests answered by class and source (cache, network, fallback, passthrough, error)
//
// Cache Metrics (pkg/cache):
//   - edgecache_cache_hits_total{store} (Counter): Lookups answered from a store
//   - edgecache_cache_misses_total{store} (Counter): Lookups that found nothing
//   - edgecache_cache_writes_total{store} (Counter): Entries written
//   - edgecache_cache_errors_total{operation} (Counter): Storage failures by operation (get, put, delete, names)
//   - edgecache_stores_deleted_total (Counter): Stores removed by activation or CLEAR_API_CACHE
//
// Network Metrics (pkg/origin):
//   - edgecache_origin_requests_total{target, status} (Counter): Fetches by target (origin, remote) and HTTP status or error class
//   - edgecache_origin_request_duration_seconds{target} (Histogram): Fetch duration
//
// Lifecycle Metrics (pkg/precache, pkg/lifecycle):
//   - edgecache_precache_resources (Gauge): Resources written by the last successful install
//   - edgecache_lifecycle_state{state} (Gauge): 1 for the current lifecycle state
//
// Example Prometheus Queries:
//
//   # Static hit rate
//   sum(rate(edgecache_requests_total{class="static",source="cache"}[5m])) /
//   sum(rate(edgecache_requests_total{class="static"}[5m]))
//
//   # API requests served stale because the network failed
//   rate(edgecache_requests_total{class="api",source="fallback"}[5m])
//
//   # Failed background writes
//   rate(edgecache_cache_errors_total{operation="put"}[5m])
//
//   # P95 fetch latency
//   histogram_quantile(0.95, rate(edgecache_origin_request_duration_seconds_bucket[5m]))
