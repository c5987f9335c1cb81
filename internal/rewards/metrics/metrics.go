package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for weight publication.
type Metrics struct {
	PublishDuration       prometheus.Histogram
	PublishedParticipants prometheus.Gauge
	CacheReads            *prometheus.CounterVec
}

// New creates and registers all rewards metrics.
func New() *Metrics {
	return &Metrics{
		PublishDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "merit_weights_publish_duration_seconds",
			Help:    "Duration of a full weight computation and publication",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		PublishedParticipants: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "merit_weights_published_participants",
			Help: "Participants in the most recently published distribution",
		}),
		CacheReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "merit_weights_cache_reads_total",
			Help: "Weight cache reads by outcome",
		}, []string{"outcome"}),
	}
}
