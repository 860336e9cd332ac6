package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	ZoneCreated      prometheus.Counter
	ZoneArchived     prometheus.Counter
	ResolveDuration  prometheus.Histogram
	ResolveDecisions *prometheus.CounterVec
}

func New() *Metrics {
	return &Metrics{
		ZoneCreated: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_zones_created_total",
			Help: "Total number of trust zones created",
		}),
		ZoneArchived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "arbor_zones_archived_total",
			Help: "Total number of trust zones archived",
		}),
		ResolveDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "arbor_permission_resolve_duration_seconds",
			Help:    "Duration of permission resolution (proposal critical path)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		ResolveDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "arbor_permission_resolve_total",
			Help: "Permission resolution outcomes by decision",
		}, []string{"decision"}),
	}
}

func (m *Metrics) IncrementZoneCreated() {
	m.ZoneCreated.Inc()
}

func (m *Metrics) IncrementZoneArchived() {
	m.ZoneArchived.Inc()
}

func (m *Metrics) ObserveResolve(start time.Time, allowed bool) {
	m.ResolveDuration.Observe(time.Since(start).Seconds())
	decision := "deny"
	if allowed {
		decision = "allow"
	}
	m.ResolveDecisions.WithLabelValues(decision).Inc()
}
