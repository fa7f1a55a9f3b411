package handlers

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors of the chat server.
type Metrics struct {
	registry *prometheus.Registry

	streamsStarted    prometheus.Counter
	streamsAborted    prometheus.Counter
	activeStreams     prometheus.Gauge
	fragmentsSent     prometheus.Counter
	rateLimited       prometheus.Counter
	messagesSubmitted prometheus.Counter
	replyFailures     prometheus.Counter
	revealsCompleted  prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg. A nil reg gets a fresh registry
// that also carries the Go runtime and process collectors.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	m := &Metrics{
		registry: reg,
		streamsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typewriter_chat_streams_started_total",
			Help: "Reply streams opened on /chat.",
		}),
		streamsAborted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typewriter_chat_streams_aborted_total",
			Help: "Reply streams that ended without the done event because the producer failed.",
		}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "typewriter_chat_active_streams",
			Help: "Reply streams currently open on /chat.",
		}),
		fragmentsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typewriter_chat_fragments_sent_total",
			Help: "Token fragments written to reply streams.",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typewriter_chat_rate_limited_total",
			Help: "Requests to /chat rejected by the rate limiter.",
		}),
		messagesSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typewriter_conversation_messages_submitted_total",
			Help: "Messages accepted by the conversation.",
		}),
		replyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typewriter_conversation_reply_failures_total",
			Help: "Replies that ended with a transport failure.",
		}),
		revealsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "typewriter_reveal_completed_total",
			Help: "Replies revealed in full.",
		}),
	}
	reg.MustRegister(
		m.streamsStarted,
		m.streamsAborted,
		m.activeStreams,
		m.fragmentsSent,
		m.rateLimited,
		m.messagesSubmitted,
		m.replyFailures,
		m.revealsCompleted,
	)
	return m
}

// Handler exposes the metrics in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
