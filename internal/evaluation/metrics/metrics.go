package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Finalized      prometheus.Counter
	Aggregate      prometheus.Histogram
	SignalsCreated *prometheus.CounterVec
	SignalsApplied prometheus.Counter
	ApplyFailures  prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Finalized: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_evaluations_finalized_total",
			Help: "Evaluations reaching their irreversible finalized state",
		}),
		Aggregate: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbor_evaluation_aggregate_score",
			Help:    "Weighted aggregate scores at finalization",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		SignalsCreated: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_incentive_signals_created_total",
			Help: "Incentive signals generated at finalization by type",
		}, []string{"type"}),
		SignalsApplied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_incentive_signals_applied_total",
			Help: "Incentive signals successfully applied to reputation",
		}),
		ApplyFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_incentive_signal_apply_failures_total",
			Help: "Signal applications that exhausted their retries",
		}),
	}
}

func (m *Metrics) ObserveFinalized(aggregate float64) {
	m.Finalized.Inc()
	m.Aggregate.Observe(aggregate)
}

func (m *Metrics) IncrementSignalsCreated(signalType string) {
	m.SignalsCreated.WithLabelValues(signalType).Inc()
}

func (m *Metrics) IncrementSignalsApplied() {
	m.SignalsApplied.Inc()
}

func (m *Metrics) IncrementApplyFailures() {
	m.ApplyFailures.Inc()
}
