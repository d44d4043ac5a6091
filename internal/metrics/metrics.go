// Package metrics exposes the relay's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors updated by the hub and the chat service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Connections    prometheus.Gauge
	BoundUsers     prometheus.Gauge
	EventsIn       *prometheus.CounterVec
	EventErrors    *prometheus.CounterVec
	MessagesStored *prometheus.CounterVec
	Deliveries     prometheus.Counter
	DroppedClients prometheus.Counter
}

// New registers all collectors on a fresh registry, alongside the Go runtime
// and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		Connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zodiacchat",
			Name:      "websocket_connections",
			Help:      "Open WebSocket connections.",
		}),
		BoundUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "zodiacchat",
			Name:      "bound_users",
			Help:      "Users with a live connection binding.",
		}),
		EventsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zodiacchat",
			Name:      "events_received_total",
			Help:      "Inbound events by type.",
		}, []string{"type"}),
		EventErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zodiacchat",
			Name:      "event_errors_total",
			Help:      "Inbound events answered with an error, by type.",
		}, []string{"type"}),
		MessagesStored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "zodiacchat",
			Name:      "messages_stored_total",
			Help:      "Persisted chat messages by conversation kind.",
		}, []string{"kind"}),
		Deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zodiacchat",
			Name:      "message_deliveries_total",
			Help:      "message_received events enqueued to recipients.",
		}),
		DroppedClients: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "zodiacchat",
			Name:      "dropped_clients_total",
			Help:      "Connections dropped because their send buffer was full.",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.BoundUsers,
		m.EventsIn,
		m.EventErrors,
		m.MessagesStored,
		m.Deliveries,
		m.DroppedClients,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) ClientDropped() {
	if m != nil {
		m.DroppedClients.Inc()
	}
}

func (m *Metrics) SetBoundUsers(n int) {
	if m != nil {
		m.BoundUsers.Set(float64(n))
	}
}

func (m *Metrics) EventReceived(eventType string) {
	if m != nil {
		m.EventsIn.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) EventFailed(eventType string) {
	if m != nil {
		m.EventErrors.WithLabelValues(eventType).Inc()
	}
}

func (m *Metrics) MessageStored(isGroup bool) {
	if m == nil {
		return
	}
	kind := "direct"
	if isGroup {
		kind = "group"
	}
	m.MessagesStored.WithLabelValues(kind).Inc()
}

func (m *Metrics) Delivered() {
	if m != nil {
		m.Deliveries.Inc()
	}
}
