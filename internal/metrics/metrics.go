package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fan-out directions.
const (
	DirectionPublished = "published"
	DirectionReceived  = "received"
	DirectionFailed    = "failed"
)

// Metrics holds the Prometheus metrics of the session service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	Connections      *prometheus.GaugeVec
	MessagesReceived *prometheus.CounterVec
	FanoutEnvelopes  *prometheus.CounterVec
	SessionEvents    *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers every metric on a fresh registry, together with the Go
// runtime and process collectors.
func New(namespace string) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections_active",
			Help:      "Open websocket connections on this process",
		}, []string{"identity"}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_messages_received_total",
			Help:      "Client messages received, by type",
		}, []string{"type"}),
		FanoutEnvelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_envelopes_total",
			Help:      "Cross-process fan-out envelopes",
		}, []string{"kind", "direction"}),
		SessionEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Live session lifecycle transitions",
		}, []string{"event", "reason"}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Connections,
		m.MessagesReceived,
		m.FanoutEnvelopes,
		m.SessionEvents,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ConnectionOpened counts an upgraded socket.
func (m *Metrics) ConnectionOpened(identity string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(identity).Inc()
}

// ConnectionClosed uncounts a socket.
func (m *Metrics) ConnectionClosed(identity string) {
	if m == nil {
		return
	}
	m.Connections.WithLabelValues(identity).Dec()
}

// MessageReceived counts one client message. Callers pass only known types
// to keep the label set bounded.
func (m *Metrics) MessageReceived(msgType string) {
	if m == nil {
		return
	}
	m.MessagesReceived.WithLabelValues(msgType).Inc()
}

// Envelope counts one fan-out envelope.
func (m *Metrics) Envelope(kind, direction string) {
	if m == nil {
		return
	}
	m.FanoutEnvelopes.WithLabelValues(kind, direction).Inc()
}

// SessionTransition counts a session start, hand-off or end.
func (m *Metrics) SessionTransition(event, reason string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(event, reason).Inc()
}
