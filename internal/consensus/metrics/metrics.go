package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the consensus engine.
type Metrics struct {
	Proposals   *prometheus.CounterVec
	Resolutions *prometheus.CounterVec
}

// New creates and registers all consensus metrics.
func New() *Metrics {
	return &Metrics{
		Proposals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "merit_consensus_proposals_total",
			Help: "Proposals accepted by subject kind",
		}, []string{"kind"}),
		Resolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "merit_consensus_resolutions_total",
			Help: "Resolution outcomes by kind and result",
		}, []string{"kind", "result"}),
	}
}
