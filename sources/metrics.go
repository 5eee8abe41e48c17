package sources

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for vendor clients.
type Metrics struct {
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	RetriesTotal    *prometheus.CounterVec
	ErrorsTotal     *prometheus.CounterVec
	CacheHitsTotal  *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_source_requests_total",
			Help: "Total HTTP requests issued to vendor APIs.",
		},
		[]string{"source"},
	)
	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pawfect_source_request_duration_seconds",
			Help:    "HTTP request latency for vendor requests.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
	retries := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_source_retries_total",
			Help: "Total number of retry attempts scheduled.",
		},
		[]string{"source"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_source_errors_total",
			Help: "Total number of vendor errors by type.",
		},
		[]string{"source", "error_type"},
	)
	cacheHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_source_cache_hits_total",
			Help: "Lookups answered from the response cache.",
		},
		[]string{"source"},
	)

	reg.MustRegister(requests, requestDuration, retries, errorsTotal, cacheHits)

	return &Metrics{
		RequestsTotal:   requests,
		RequestDuration: requestDuration,
		RetriesTotal:    retries,
		ErrorsTotal:     errorsTotal,
		CacheHitsTotal:  cacheHits,
	}
}

// IncRequest increments the requests total counter.
func (m *Metrics) IncRequest(source string) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(source).Inc()
}

// ObserveDuration records an HTTP request duration.
func (m *Metrics) ObserveDuration(source string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(source).Observe(d.Seconds())
}

// IncRetries increments the retries counter.
func (m *Metrics) IncRetries(source string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(source).Inc()
}

// IncError increments the errors counter for a type label.
func (m *Metrics) IncError(source, errorType string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(source, errorType).Inc()
}

// IncCacheHit increments the cache hit counter.
func (m *Metrics) IncCacheHit(source string) {
	if m == nil {
		return
	}
	m.CacheHitsTotal.WithLabelValues(source).Inc()
}
