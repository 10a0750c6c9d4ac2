package metrics

import "github.com/prometheus/client_golang/prometheus"

// DedupMetrics holds Prometheus metrics for submission deduplication.
type DedupMetrics struct {
	Decisions *prometheus.CounterVec
	Evictions prometheus.Counter
	Entries   prometheus.Gauge
	Fallbacks prometheus.Counter
	// BreakerState is the Redis circuit breaker state: 0 closed, 1 half-open, 2 open.
	BreakerState prometheus.Gauge
}

// NewDedupMetrics creates and registers dedup metrics on the given registry.
func NewDedupMetrics(reg prometheus.Registerer) *DedupMetrics {
	m := &DedupMetrics{
		Decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "decisions_total",
			Help:      "Total number of admission decisions, by backend and result.",
		}, []string{"backend", "result"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "evictions_total",
			Help:      "Total number of fingerprints evicted from the local cache.",
		}),
		Entries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "entries",
			Help:      "Number of fingerprints held by the local cache.",
		}),
		Fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "redis_fallbacks_total",
			Help:      "Total number of admissions served by the local cache because Redis was unavailable.",
		}),
		BreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "dedup",
			Name:      "redis_breaker_state",
			Help:      "State of the Redis dedup circuit breaker (0 closed, 1 half-open, 2 open).",
		}),
	}

	reg.MustRegister(m.Decisions, m.Evictions, m.Entries, m.Fallbacks, m.BreakerState)
	return m
}
