package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Created    *prometheus.CounterVec
	Resolved   *prometheus.CounterVec
	Deadlocked prometheus.Counter
	Decisions  *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_proposals_created_total",
			Help: "Proposals created by type and risk level",
		}, []string{"type", "risk"}),
		Resolved: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_proposals_resolved_total",
			Help: "Proposals reaching a terminal state by outcome",
		}, []string{"outcome"}),
		Deadlocked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_proposals_deadlocked_total",
			Help: "Proposals whose decision model reached no branch",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_approval_decisions_total",
			Help: "Reviewer decisions recorded by verdict",
		}, []string{"decision"}),
	}
}

func (m *Metrics) IncrementCreated(proposalType, risk string) {
	m.Created.WithLabelValues(proposalType, risk).Inc()
}

func (m *Metrics) IncrementResolved(outcome string) {
	m.Resolved.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementDeadlocked() {
	m.Deadlocked.Inc()
}

func (m *Metrics) IncrementDecision(decision string) {
	m.Decisions.WithLabelValues(decision).Inc()
}
