package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "relayhub"

// Metrics bundles the hub's prometheus collectors. A nil *Metrics is valid
// everywhere and records nothing, which keeps unit tests quiet.
type Metrics struct {
	Connections    prometheus.Gauge
	Dispatched     *prometheus.CounterVec
	Responses      *prometheus.CounterVec
	EventsStored   *prometheus.CounterVec
	RelayDelivered *prometheus.CounterVec
	RelayFailures  *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "connections",
			Help:      "Number of live connections.",
		}),
		Dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "messages_total",
			Help:      "Inbound envelopes dispatched, by kind.",
		}, []string{"kind"}),
		Responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "dispatch",
			Name:      "responses_total",
			Help:      "Terminal responses sent, by status.",
		}, []string{"status"}),
		EventsStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "events_total",
			Help:      "Normalized events persisted, by kind.",
		}, []string{"kind"}),
		RelayDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "delivered_total",
			Help:      "Relay deliveries attempted, by sink.",
		}, []string{"sink"}),
		RelayFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Relay delivery failures, by sink.",
		}, []string{"sink"}),
	}

	reg.MustRegister(
		m.Connections,
		m.Dispatched,
		m.Responses,
		m.EventsStored,
		m.RelayDelivered,
		m.RelayFailures,
	)
	return m
}

func (m *Metrics) ConnOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) MarkDispatched(kind string) {
	if m != nil {
		m.Dispatched.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MarkResponse(status string) {
	if m != nil {
		m.Responses.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) MarkStored(kind string) {
	if m != nil {
		m.EventsStored.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) MarkRelay(sink string, err error) {
	if m == nil {
		return
	}
	m.RelayDelivered.WithLabelValues(sink).Inc()
	if err != nil {
		m.RelayFailures.WithLabelValues(sink).Inc()
	}
}
