// Package metrics provides the centralized Prometheus metrics reference
// for the wikiquery client. All metrics are defined in their respective
// packages (client, cache, ratelimit) to maintain modularity and avoid
// circular dependencies.
//
// This package provides documentation and reference for all available metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Registry is the default Prometheus registry used by the client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - wiki_requests_total{outcome} (Counter): Requests by outcome (HTTP status, "cache", "network_error")
//   - wiki_request_duration_seconds (Histogram): Round trip duration, cache hits included
//   - wiki_errors_total{class} (Counter): Errors by class (client, server, maxlag, network)
//
// Retry Metrics (pkg/client):
//   - wiki_retries_total{error_class} (Counter): Retry attempts by error class
//   - wiki_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - wiki_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - wiki_cache_hits_total{layer="redis"} (Counter): Cache hits by layer
//   - wiki_cache_misses_total (Counter): Cache misses
//   - wiki_cache_errors_total{operation} (Counter): Cache operation errors
//
// Rate Limit Metrics (pkg/ratelimit):
//   - wiki_limiter_wait_seconds (Histogram): Time spent waiting on the limiter
//   - wiki_maxlag_backoffs_total (Counter): Maxlag backoff windows armed
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(wiki_cache_hits_total[5m])) /
//   (sum(rate(wiki_cache_hits_total[5m])) + sum(rate(wiki_cache_misses_total[5m])))
//
//   # Request Error Rate
//   rate(wiki_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(wiki_request_duration_seconds_bucket[5m]))
//
//   # Maxlag Pressure
//   rate(wiki_maxlag_backoffs_total[15m])
