package pipeline

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/pawfectfind/pawfect-importer/models"
)

// Metrics bundles Prometheus collectors for import runs and verification sweeps.
type Metrics struct {
	RecordsTotal       *prometheus.CounterVec
	DecisionsTotal     *prometheus.CounterVec
	RunsTotal          *prometheus.CounterVec
	RunDuration        *prometheus.HistogramVec
	VerificationsTotal *prometheus.CounterVec
}

// NewMetrics constructs the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	records := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_import_records_total",
			Help: "Import records processed by entity and outcome.",
		},
		[]string{"entity", "status"},
	)
	decisions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_import_decisions_total",
			Help: "Operator decisions by kind and choice.",
		},
		[]string{"kind", "choice"},
	)
	runs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_import_runs_total",
			Help: "Finished import runs by entity and terminal state.",
		},
		[]string{"entity", "state"},
	)
	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pawfect_import_run_duration_seconds",
			Help:    "Wall time of import runs, including time spent waiting for decisions.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"entity"},
	)
	verifications := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pawfect_verification_results_total",
			Help: "Verification sweep outcomes per product.",
		},
		[]string{"outcome"},
	)

	reg.MustRegister(records, decisions, runs, duration, verifications)

	return &Metrics{
		RecordsTotal:       records,
		DecisionsTotal:     decisions,
		RunsTotal:          runs,
		RunDuration:        duration,
		VerificationsTotal: verifications,
	}
}

// IncRecord counts one import result.
func (m *Metrics) IncRecord(entity models.Entity, status models.Status) {
	if m == nil {
		return
	}
	m.RecordsTotal.WithLabelValues(string(entity), string(status)).Inc()
}

// IncDecision counts one operator decision.
func (m *Metrics) IncDecision(kind, choice string) {
	if m == nil {
		return
	}
	m.DecisionsTotal.WithLabelValues(kind, choice).Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(entity models.Entity, state models.RunState, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(string(entity), string(state)).Inc()
	m.RunDuration.WithLabelValues(string(entity)).Observe(d.Seconds())
}

// IncVerification counts one sweep outcome: unchanged, price_changed, unavailable,
// error or link_updated.
func (m *Metrics) IncVerification(outcome string) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(outcome).Inc()
}
