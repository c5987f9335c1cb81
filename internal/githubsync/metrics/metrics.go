package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the sync worker.
type Metrics struct {
	RunDuration   prometheus.Histogram
	ReposSynced   *prometheus.CounterVec
	StarsCredited prometheus.Counter
	FetchFailures prometheus.Counter
}

// New creates and registers all sync metrics.
func New() *Metrics {
	return &Metrics{
		RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "merit_sync_run_duration_seconds",
			Help:    "Duration of a full sync pass across all targets",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ReposSynced: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "merit_sync_repos_total",
			Help: "Repository sync attempts by outcome",
		}, []string{"outcome"}),
		StarsCredited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merit_sync_stars_credited_total",
			Help: "New stars credited to registered participants",
		}),
		FetchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "merit_sync_fetch_failures_total",
			Help: "Upstream fetch failures counted toward the circuit breaker",
		}),
	}
}
