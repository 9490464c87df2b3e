package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the relay's Prometheus collectors.
// Labels are limited to event names and fixed result values to keep cardinality bounded.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	connections prometheus.Gauge
	connects    *prometheus.CounterVec
	events      *prometheus.CounterVec
	fanouts     *prometheus.CounterVec
	drops       *prometheus.CounterVec
	saves       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Name:      "connections",
			Help:      "Live websocket connections registered in the relay.",
		}),
		connects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "connects_total",
			Help:      "Connection attempts by result (accepted, replaced, rejected_<reason>).",
		}, []string{"result"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "events_total",
			Help:      "Inbound events handled, by event name and result.",
		}, []string{"event", "result"}),
		fanouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "fanout_deliveries_total",
			Help:      "Outbound frames enqueued to connections, by event name.",
		}, []string{"event"}),
		drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "fanout_dropped_total",
			Help:      "Outbound frames dropped under backpressure, by event name.",
		}, []string{"event"}),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Name:      "messages_saved_total",
			Help:      "Message persistence attempts by result (saved, failed).",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.connections, m.connects, m.events, m.fanouts, m.drops, m.saves)
	}
	return m
}

func (m *Metrics) connected() {
	if m == nil {
		return
	}
	m.connections.Inc()
	m.connects.WithLabelValues("accepted").Inc()
}

func (m *Metrics) disconnected() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// connectRejected counts a refused upgrade. reason is one of origin, identity, accept.
func (m *Metrics) connectRejected(reason string) {
	if m == nil {
		return
	}
	m.connects.WithLabelValues("rejected_" + reason).Inc()
}

func (m *Metrics) replaced() {
	if m == nil {
		return
	}
	m.connects.WithLabelValues("replaced").Inc()
}

func (m *Metrics) event(name, result string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name, result).Inc()
}

func (m *Metrics) fanout(event string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.fanouts.WithLabelValues(event).Add(float64(n))
}

func (m *Metrics) dropped(event string) {
	if m == nil {
		return
	}
	m.drops.WithLabelValues(event).Inc()
}

func (m *Metrics) saved(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.saves.WithLabelValues("saved").Inc()
		return
	}
	m.saves.WithLabelValues("failed").Inc()
}
