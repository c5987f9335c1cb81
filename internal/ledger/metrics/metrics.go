package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the issue ledger.
type Metrics struct {
	Transitions        *prometheus.CounterVec
	TransitionDuration prometheus.Histogram
	ClaimsProcessed    *prometheus.CounterVec
}

// New creates and registers all ledger metrics.
func New() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "merit_ledger_transitions_total",
			Help: "Ledger transitions applied by label change kind",
		}, []string{"change"}),
		TransitionDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "merit_ledger_transition_duration_seconds",
			Help:    "Duration of ApplyTransition including the store transaction",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ClaimsProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "merit_ledger_claims_total",
			Help: "Claim outcomes by result",
		}, []string{"outcome"}),
	}
}

// ObserveTransition records one applied change and the pass duration.
func (m *Metrics) ObserveTransition(change string, start time.Time) {
	m.Transitions.WithLabelValues(change).Inc()
	m.TransitionDuration.Observe(time.Since(start).Seconds())
}
