// Package middleware provides metrics for HTTP middleware components.
package middleware

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricSignatureFailures     = "signature_failures_total"
	MetricReplayRejections      = "replay_rejections_total"
	MetricIdempotencyReplays    = "idempotency_replays_total"
	MetricIdempotencyConflicts  = "idempotency_conflicts_total"
	MetricCacheHits             = "response_cache_hits_total"
	MetricCacheMisses           = "response_cache_misses_total"
	MetricCacheErrors           = "response_cache_errors_total"
	MetricHTTPRequestDuration   = "http_request_duration_seconds"
	MetricHTTPRequestsTotal     = "http_requests_total"
	MetricHTTPRequestSizeBytes  = "http_request_size_bytes"
	MetricHTTPResponseSizeBytes = "http_response_size_bytes"
)

// Metrics contains Prometheus metrics for the protection middleware and the
// HTTP surface. All operations are thread-safe.
type Metrics struct {
	signatureFailures    *prometheus.CounterVec
	replayRejections     *prometheus.CounterVec
	idempotencyReplays   *prometheus.CounterVec
	idempotencyConflicts *prometheus.CounterVec
	cacheHits            *prometheus.CounterVec
	cacheMisses          *prometheus.CounterVec
	cacheErrors          prometheus.Counter
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestSize      *prometheus.HistogramVec
	httpResponseSize     *prometheus.HistogramVec
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		signatureFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricSignatureFailures,
				Help: "Total number of rejected request signatures by reason",
			},
			[]string{"reason"},
		),
		replayRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricReplayRejections,
				Help: "Total number of requests rejected as replays (stale timestamp or reused nonce)",
			},
			[]string{"reason"},
		),
		idempotencyReplays: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIdempotencyReplays,
				Help: "Total number of duplicate requests answered from a stored response",
			},
			[]string{"route"},
		),
		idempotencyConflicts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricIdempotencyConflicts,
				Help: "Total number of duplicate requests answered 409 while the first execution was in flight",
			},
			[]string{"route"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheHits,
				Help: "Total number of GET responses served from the cache",
			},
			[]string{"path"},
		),
		cacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCacheMisses,
				Help: "Total number of cacheable GET requests that missed the cache",
			},
			[]string{"path"},
		),
		cacheErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: MetricCacheErrors,
				Help: "Total number of cache backend errors degraded to misses (fail-soft events)",
			},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestDuration,
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{0.01, 0.1, 0.5, 1.0, 2.0},
			},
			[]string{"method", "path", "status"},
		),
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricHTTPRequestsTotal,
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPRequestSizeBytes,
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100 B to ~100 MB
			},
			[]string{"method", "path", "status"},
		),
		httpResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricHTTPResponseSizeBytes,
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8), // 100 B to ~100 MB
			},
			[]string{"method", "path", "status"},
		),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncSignatureFailures increments the signature failure counter.
// reason: why verification failed (e.g. "missing_headers", "bad_signature")
func (m *Metrics) IncSignatureFailures(reason string) {
	m.signatureFailures.WithLabelValues(reason).Inc()
}

// IncReplayRejections increments the replay rejection counter.
// reason: what tripped the rejection (e.g. "stale_timestamp", "nonce_reused")
func (m *Metrics) IncReplayRejections(reason string) {
	m.replayRejections.WithLabelValues(reason).Inc()
}

// IncIdempotencyReplays increments the stored-response replay counter.
func (m *Metrics) IncIdempotencyReplays(route string) {
	m.idempotencyReplays.WithLabelValues(route).Inc()
}

// IncIdempotencyConflicts increments the in-flight conflict counter.
func (m *Metrics) IncIdempotencyConflicts(route string) {
	m.idempotencyConflicts.WithLabelValues(route).Inc()
}

// IncCacheHits increments the cache hit counter for a path.
func (m *Metrics) IncCacheHits(path string) {
	m.cacheHits.WithLabelValues(normalizePath(path)).Inc()
}

// IncCacheMisses increments the cache miss counter for a path.
func (m *Metrics) IncCacheMisses(path string) {
	m.cacheMisses.WithLabelValues(normalizePath(path)).Inc()
}

// IncCacheErrors increments the fail-soft cache error counter.
func (m *Metrics) IncCacheErrors() {
	m.cacheErrors.Inc()
}

// ObserveHTTPRequest records HTTP request metrics.
// method: HTTP method (e.g., "GET", "POST")
// path: Request path (e.g., "/ledger")
// status: HTTP status code (e.g., 200, 404)
// duration: Request duration in seconds
// requestSize: Request body size in bytes
// responseSize: Response body size in bytes
func (m *Metrics) ObserveHTTPRequest(method, path, status string, duration float64, requestSize, responseSize int64) {
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": status,
	}
	m.httpRequestDuration.With(labels).Observe(duration)
	m.httpRequestsTotal.With(labels).Inc()
	m.httpRequestSize.With(labels).Observe(float64(requestSize))
	m.httpResponseSize.With(labels).Observe(float64(responseSize))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.signatureFailures,
		m.replayRejections,
		m.idempotencyReplays,
		m.idempotencyConflicts,
		m.cacheHits,
		m.cacheMisses,
		m.cacheErrors,
		m.httpRequestDuration,
		m.httpRequestsTotal,
		m.httpRequestSize,
		m.httpResponseSize,
	}
}
