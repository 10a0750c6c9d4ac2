package metrics

import "github.com/prometheus/client_golang/prometheus"

// BusMetrics holds Prometheus metrics for the event bus actor.
type BusMetrics struct {
	CommandsTotal     *prometheus.CounterVec
	CommandDuration   *prometheus.HistogramVec
	EventsDelivered   *prometheus.CounterVec
	DeliveriesDropped *prometheus.CounterVec
	Connections       prometheus.Gauge
	QueueDepth        prometheus.Gauge
	PanicsTotal       prometheus.Counter
}

// NewBusMetrics creates and registers event bus metrics on the given registry.
func NewBusMetrics(reg prometheus.Registerer) *BusMetrics {
	m := &BusMetrics{
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "commands_total",
			Help:      "Total number of commands processed, by command and result.",
		}, []string{"command", "result"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "command_duration_seconds",
			Help:      "Time spent handling a command inside the bus, in seconds.",
			Buckets:   []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		}, []string{"command"}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "events_delivered_total",
			Help:      "Total number of events handed to subscribers, by event type.",
		}, []string{"event"}),
		DeliveriesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "deliveries_dropped_total",
			Help:      "Total number of events a subscriber refused, by event type.",
		}, []string{"event"}),
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "connections",
			Help:      "Number of live connections in the presence registry.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "command_queue_depth",
			Help:      "Current number of queued commands.",
		}),
		PanicsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "bus",
			Name:      "panics_total",
			Help:      "Total number of command handler panics recovered.",
		}),
	}

	reg.MustRegister(m.CommandsTotal, m.CommandDuration, m.EventsDelivered, m.DeliveriesDropped, m.Connections, m.QueueDepth, m.PanicsTotal)
	return m
}
