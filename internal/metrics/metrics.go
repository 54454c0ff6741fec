// Package metrics holds the Prometheus instruments of the cycle broker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cover"

// Cycle outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeEmpty     = "empty"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

type Metrics struct {
	Cycles        *prometheus.CounterVec
	SolveDuration prometheus.Histogram
	EligiblePairs prometheus.Gauge
	Unassigned    prometheus.Gauge
	Abnormal      prometheus.Counter
	Rejected      *prometheus.CounterVec
	Pushes        *prometheus.CounterVec
}

// New creates the instruments and registers them on reg. A nil reg
// registers nothing, which keeps tests independent of the default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Solve cycles by outcome.",
		}, []string{"outcome"}),
		SolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "solve_duration_seconds",
			Help:      "Wall time of one engine run including all alternative plans.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}),
		EligiblePairs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "eligible_pairs",
			Help:      "Eligible employee/client pairs in the last cycle.",
		}),
		Unassigned: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "unassigned_clients",
			Help:      "Clients left unassigned by the best plan of the last cycle.",
		}),
		Abnormal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "abnormal_suggestions_total",
			Help:      "Suggested pairs the anomaly scorer flagged as abnormal.",
		}),
		Rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_rows_total",
			Help:      "Malformed snapshot rows skipped, by kind.",
		}, []string{"kind"}),
		Pushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_pushes_total",
			Help:      "Recommendation pushes to the backend, by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.Cycles, m.SolveDuration, m.EligiblePairs, m.Unassigned, m.Abnormal, m.Rejected, m.Pushes)
	}
	return m
}

func (m *Metrics) ObserveCycle(outcome string, elapsed time.Duration) {
	m.Cycles.WithLabelValues(outcome).Inc()
	if elapsed > 0 {
		m.SolveDuration.Observe(elapsed.Seconds())
	}
}

func (m *Metrics) ObservePush(err error) {
	if err != nil {
		m.Pushes.WithLabelValues("error").Inc()
		return
	}
	m.Pushes.WithLabelValues("ok").Inc()
}
