package relay

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	connections prometheus.Gauge
	sessions    prometheus.Gauge
	messages    *prometheus.CounterVec
	dropped     *prometheus.CounterVec
	snapshots   *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "classroom", Subsystem: "relay", Name: "connections",
			Help: "Open participant sockets.",
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "classroom", Subsystem: "relay", Name: "sessions",
			Help: "Sessions with at least one participant online.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroom", Subsystem: "relay", Name: "messages_total",
			Help: "Relayed messages by type.",
		}, []string{"type"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroom", Subsystem: "relay", Name: "dropped_total",
			Help: "Messages that were not relayed by reason.",
		}, []string{"reason"}),
		snapshots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "classroom", Subsystem: "relay", Name: "snapshot_requests_total",
			Help: "Whiteboard snapshot requests by method and status code.",
		}, []string{"method", "code"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.sessions, m.messages, m.dropped, m.snapshots)
	}
	return m
}
