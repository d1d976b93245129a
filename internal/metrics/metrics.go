// Package metrics holds the Prometheus collectors of the chat client.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "chat_client"

// Metrics groups every collector the client updates. A Metrics built with
// New(nil) works but is not exported anywhere.
type Metrics struct {
	DialAttempts    prometheus.Counter
	FramesReceived  prometheus.Counter
	FramesSent      prometheus.Counter
	SendsDropped    prometheus.Counter
	ConnectionState prometheus.Gauge

	Refreshes      *prometheus.CounterVec
	QueuedRequests prometheus.Counter

	Events     *prometheus.CounterVec
	StaleLoads prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DialAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "dial_attempts_total",
			Help: "WebSocket dial attempts, including reconnects.",
		}),
		FramesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "frames_received_total",
			Help: "Inbound frames delivered to listeners.",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "frames_sent_total",
			Help: "Outbound frames written to the socket.",
		}),
		SendsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "sends_dropped_total",
			Help: "Outbound frames discarded because the socket was not open.",
		}),
		ConnectionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "realtime", Name: "connection_state",
			Help: "Current connection state (0 connecting, 1 open, 2 closing, 3 closed).",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "refreshes_total",
			Help: "Access token refresh calls by outcome.",
		}, []string{"outcome"}),
		QueuedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "queued_requests_total",
			Help: "Requests that waited behind an in-flight refresh.",
		}),
		Events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "events_total",
			Help: "Realtime events handled, by type.",
		}, []string{"type"}),
		StaleLoads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "chat", Name: "stale_loads_total",
			Help: "Conversation loads discarded because another conversation became active.",
		}),
	}
	m.ConnectionState.Set(3)

	if reg != nil {
		reg.MustRegister(
			m.DialAttempts, m.FramesReceived, m.FramesSent, m.SendsDropped, m.ConnectionState,
			m.Refreshes, m.QueuedRequests, m.Events, m.StaleLoads,
		)
	}
	return m
}

// Handler exposes the collectors registered in g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
