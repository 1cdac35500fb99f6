// Package metrics exposes the Prometheus registry and the HTTP-level metrics
// for the doctor search proxy. Domain metrics are defined next to the code
// that records them (upstream, ratelimit, pagination, index, search) and are
// registered via promauto on the default registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer all promauto metrics of this module use.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer served on /metrics.
var Gatherer = prometheus.DefaultGatherer

// HTTP metrics recorded by the server middleware.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docsearch_http_requests_total",
		Help: "Total inbound HTTP requests by route and status",
	}, []string{"route", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docsearch_http_request_duration_seconds",
		Help:    "Inbound HTTP request duration by route",
		Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
	}, []string{"route"})
)

// Handler returns the Prometheus exposition handler.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Upstream (pkg/upstream):
//   - docsearch_upstream_requests_total{status} (Counter)
//   - docsearch_upstream_request_duration_seconds (Histogram)
//   - docsearch_upstream_errors_total{class} (Counter): client, server, rate_limit, network, decode
//
// Gate (pkg/ratelimit):
//   - docsearch_gate_held (Gauge): 1 while a fetch session runs
//   - docsearch_gate_rejections_total (Counter): searches turned away with 429
//   - docsearch_gate_hold_seconds (Histogram)
//
// Fetch sessions (pkg/pagination):
//   - docsearch_fetch_sessions_total{outcome} (Counter): success, empty, transport, upstream_status
//   - docsearch_fetch_session_duration_seconds (Histogram)
//   - docsearch_fetch_pages_total (Counter)
//   - docsearch_fetch_records (Histogram)
//   - docsearch_pacing_delay_seconds (Histogram)
//   - docsearch_cache_write_failures_total (Counter)
//
// Index (pkg/index):
//   - docsearch_index_hits_total{backend} (Counter)
//   - docsearch_index_misses_total{backend} (Counter)
//   - docsearch_index_documents_written_total{backend} (Counter)
//   - docsearch_index_errors_total{backend, operation} (Counter)
//
// Search (pkg/search):
//   - docsearch_searches_total{status, source} (Counter): source is cache, provider or none
//
// HTTP (this package):
//   - docsearch_http_requests_total{route, status} (Counter)
//   - docsearch_http_request_duration_seconds{route} (Histogram)
//
// Example Prometheus Queries:
//
//   # Index hit rate
//   sum(rate(docsearch_index_hits_total[5m])) /
//   (sum(rate(docsearch_index_hits_total[5m])) + sum(rate(docsearch_index_misses_total[5m])))
//
//   # Contention
//   rate(docsearch_gate_rejections_total[5m])
//
//   # Provider error rate
//   sum by (class) (rate(docsearch_upstream_errors_total[5m]))
//
//   # P95 fetch session duration
//   histogram_quantile(0.95, rate(docsearch_fetch_session_duration_seconds_bucket[5m]))
