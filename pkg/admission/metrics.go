package admission

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the admission pipeline.
// A nil *Metrics is valid and records nothing, which keeps tests free
// of collector registration conflicts.
type Metrics struct {
	decisions     *prometheus.CounterVec
	addOnConsumed prometheus.Counter
	checkDuration prometheus.Histogram
}

// NewMetrics creates a Metrics instance registered with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	return &Metrics{
		decisions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatehouse_admission_decisions_total",
				Help: "Total number of admission decisions by tier and reason",
			},
			[]string{"tier", "reason"},
		),

		addOnConsumed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "gatehouse_admission_addon_consumed_total",
				Help: "Total number of requests served from add-on overlay capacity",
			},
		),

		checkDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "gatehouse_admission_check_duration_seconds",
				Help:    "Duration of full admission checks in seconds",
				Buckets: prometheus.ExponentialBuckets(0.000001, 2, 15), // 1µs to 16ms
			},
		),
	}
}

// RecordDecision records one admission outcome.
func (m *Metrics) RecordDecision(tier string, reason Reason) {
	if m == nil {
		return
	}
	label := string(reason)
	if reason == ReasonNone {
		label = "allowed"
	}
	if tier == "" {
		tier = "unknown"
	}
	m.decisions.WithLabelValues(tier, label).Inc()
}

// RecordAddOnConsumed records a request covered by overlay capacity.
func (m *Metrics) RecordAddOnConsumed() {
	if m == nil {
		return
	}
	m.addOnConsumed.Inc()
}

// ObserveDuration records the latency of one admission check.
func (m *Metrics) ObserveDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.checkDuration.Observe(d.Seconds())
}
