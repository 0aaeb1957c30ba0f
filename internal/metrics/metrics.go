// Package metrics exports sync engine counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "cosmos"

// Metrics holds the engine's collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	duplicates  prometheus.Counter
	reconnects  prometheus.Counter
	polls       *prometheus.CounterVec
	sends       *prometheus.CounterVec
	suggestions *prometheus.CounterVec
	suggestLat  prometheus.Histogram
}

// New creates the collectors and registers them on a fresh registry.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.events = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "events_total",
			Help:      "Inbound events by type and outcome",
		},
		[]string{"type", "outcome"},
	)
	m.duplicates = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sync",
		Name:      "duplicate_messages_total",
		Help:      "Messages discarded or merged by deduplication",
	})
	m.reconnects = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "reconnects_total",
		Help:      "Unexpected push channel disconnects",
	})
	m.polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "polls_total",
			Help:      "Pull fallback runs by status",
		},
		[]string{"status"},
	)
	m.sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "sends_total",
			Help:      "Outgoing messages by status",
		},
		[]string{"status"},
	)
	m.suggestions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "copilot",
			Name:      "requests_total",
			Help:      "Suggestion requests by kind and status",
		},
		[]string{"kind", "status"},
	)
	m.suggestLat = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "copilot",
		Name:      "request_seconds",
		Help:      "Suggestion request latency in seconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
	})

	m.registry.MustRegister(m.events, m.duplicates, m.reconnects, m.polls, m.sends, m.suggestions, m.suggestLat)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Event records an inbound event; outcome is "applied" or "dropped".
func (m *Metrics) Event(typ, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(typ, outcome).Inc()
}

// Duplicate records a deduplicated message.
func (m *Metrics) Duplicate() {
	if m == nil {
		return
	}
	m.duplicates.Inc()
}

// Reconnect records an unexpected push channel disconnect.
func (m *Metrics) Reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

// Poll records a pull fallback run.
func (m *Metrics) Poll(err error) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(status(err)).Inc()
}

// Send records the outcome of an outgoing message.
func (m *Metrics) Send(err error) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(status(err)).Inc()
}

// Suggestion records a finished suggestion request.
func (m *Metrics) Suggestion(kind string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	m.suggestions.WithLabelValues(kind, status(err)).Inc()
	m.suggestLat.Observe(latency.Seconds())
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
