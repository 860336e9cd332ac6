package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Raised      *prometheus.CounterVec
	Cosigns     prometheus.Counter
	Resolved    *prometheus.CounterVec
	RateLimited prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Raised: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_escalations_raised_total",
			Help: "Escalations raised by type",
		}, []string{"type"}),
		Cosigns: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_escalation_cosigns_total",
			Help: "Co-signatures recorded on governance escalations",
		}),
		Resolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_escalations_resolved_total",
			Help: "Escalations reaching a terminal state by outcome",
		}, []string{"outcome"}),
		RateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_escalations_rate_limited_total",
			Help: "Escalation attempts rejected by the per-actor rate limit",
		}),
	}
}

func (m *Metrics) IncrementRaised(escalationType string) {
	m.Raised.WithLabelValues(escalationType).Inc()
}

func (m *Metrics) IncrementCosigns() {
	m.Cosigns.Inc()
}

func (m *Metrics) IncrementResolved(outcome string) {
	m.Resolved.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementRateLimited() {
	m.RateLimited.Inc()
}
