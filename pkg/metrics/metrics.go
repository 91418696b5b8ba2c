// Package metrics exposes the Prometheus registry used by the request
// orchestration packages. Metrics are defined next to the code that updates
// them (client, retry, ratelimit, proxy, cache) and registered via promauto.
//
// This package provides the /metrics handler and a reference of all metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry. All metrics are
// registered on it via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler serves the metrics of the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - preq_requests_total{backend, status} (Counter): Backend calls by HTTP status or "error"
//   - preq_request_duration_seconds{backend} (Histogram): Backend call duration
//   - preq_errors_total{class} (Counter): Failed items by error class
//   - preq_batches_total{outcome} (Counter): Batches by outcome (success, partial, degraded)
//   - preq_batch_size (Histogram): Items per batch
//
// Retry Metrics (pkg/retry):
//   - preq_retries_total{error_class} (Counter): Retry attempts by error class
//   - preq_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - preq_retry_exhausted_total{error_class} (Counter): Operations that exhausted max retries
//
// Limiter Metrics (pkg/ratelimit):
//   - preq_rate_limit_wait_seconds (Histogram): Wait for a slot and token
//   - preq_requests_in_flight (Gauge): Requests holding a concurrency slot
//
// Proxy Metrics (pkg/proxy):
//   - preq_proxies_loaded_total (Counter): Valid proxies loaded into pools
//   - preq_proxies_filtered_total (Counter): Candidates rejected by validation
//   - preq_proxy_failures_total (Counter): Proxies put into cooldown
//
// Cache Metrics (pkg/cache):
//   - preq_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - preq_cache_misses_total (Counter): Cache misses
//   - preq_cache_size_bytes{layer="redis"} (Gauge): Bytes written to the cache
//   - preq_304_responses_total (Counter): 304 Not Modified revalidations
//   - preq_cache_errors_total{operation} (Counter): Cache operation errors
//
// Example Prometheus Queries:
//
//   # Item Failure Rate
//   sum(rate(preq_errors_total[5m])) / sum(rate(preq_batch_size_sum[5m]))
//
//   # Retry Pressure by Class
//   sum by (error_class) (rate(preq_retries_total[5m]))
//
//   # P95 Backend Latency
//   histogram_quantile(0.95, rate(preq_request_duration_seconds_bucket[5m]))
//
//   # Cache Hit Rate
//   sum(rate(preq_cache_hits_total[5m])) /
//   (sum(rate(preq_cache_hits_total[5m])) + sum(rate(preq_cache_misses_total[5m])))
