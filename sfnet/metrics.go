package sfnet

import "github.com/prometheus/client_golang/prometheus"

// metrics are the framework's own gauges/counters, modeled on the
// prometheus.go convention of a package-level var block of collectors
// registered into whatever registry the embedding binary owns.
type metrics struct {
	tasksAllocated *prometheus.GaugeVec
	tasksInUse     *prometheus.GaugeVec
	connsAccepted  *prometheus.CounterVec
	connsRejected  *prometheus.CounterVec
	connsClosed    *prometheus.CounterVec
	reactorQueue   *prometheus.GaugeVec
	timeouts       *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		tasksAllocated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfnet_tasks_allocated",
			Help: "Number of task buffers currently allocated in the pool.",
		}, nil),
		tasksInUse: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfnet_tasks_in_use",
			Help: "Number of task buffers currently owned by a reactor.",
		}, nil),
		connsAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_connections_accepted_total",
			Help: "Total connections accepted, by listener.",
		}, []string{"listener"}),
		connsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_connections_rejected_total",
			Help: "Total connections rejected (pool exhaustion), by listener.",
		}, []string{"listener"}),
		connsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_connections_closed_total",
			Help: "Total connections closed, by reason.",
		}, []string{"reason"}),
		reactorQueue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sfnet_reactor_active_tasks",
			Help: "Number of tasks currently registered in a reactor's poller.",
		}, []string{"reactor"}),
		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sfnet_idle_timeouts_total",
			Help: "Total connections closed due to idle timeout, by reactor.",
		}, []string{"reactor"}),
	}
}

// Collectors returns every metric so the embedding binary can register them
// into its own prometheus.Registry alongside protocol-level metrics, exactly
// as a flat list of collectors for an embedding binary's registry.
func (m *metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.tasksAllocated,
		m.tasksInUse,
		m.connsAccepted,
		m.connsRejected,
		m.connsClosed,
		m.reactorQueue,
		m.timeouts,
	}
}
