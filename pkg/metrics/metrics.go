// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// WebsocketConnectionsActive tracks open chat websockets.
	WebsocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of open chat websocket connections",
		},
	)

	// PresenceOnline tracks the size of the last presence snapshot seen by the server.
	PresenceOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "presence_online_users",
			Help: "Users currently present in the online-users channel",
		},
	)

	// ChangesPublished tracks change-notification events by table and type.
	ChangesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "changes_published_total",
			Help: "Change-notification events published",
		},
		[]string{"table", "type"},
	)

	// ConversationsTotal tracks conversations created.
	ConversationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "conversations_total",
			Help: "Total conversations created",
		},
	)

	// MessagesTotal tracks messages sent by sender role.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"role"},
	)

	// ProblemsTotal tracks problem submissions.
	ProblemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "problems_total",
			Help: "Total problems submitted",
		},
		[]string{"category", "urgent"},
	)

	// LLMRequestDuration tracks reply-suggestion latency.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"provider", "status"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLMRequest records metrics for an LLM completion.
func RecordLLMRequest(provider, status string, duration float64) {
	LLMRequestDuration.WithLabelValues(provider, status).Observe(duration)
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
