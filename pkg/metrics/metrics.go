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

	// LLMRequestDuration tracks LLM completion duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM completion duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"model", "purpose", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"model", "direction"},
	)

	// StreamConnectionsActive tracks active SSE connections.
	StreamConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inbox_stream_connections_active",
			Help: "Number of active conversation stream connections",
		},
	)

	// TransitionsTotal tracks conversation lifecycle transitions.
	TransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_transitions_total",
			Help: "Conversation state transitions",
		},
		[]string{"from", "to"},
	)

	// MessagesTotal tracks messages appended to threads.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_total",
			Help: "Messages appended to conversation threads",
		},
		[]string{"sender_type"},
	)

	// CollaboratorErrorsTotal tracks failed message source calls.
	CollaboratorErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_collaborator_errors_total",
			Help: "Failed message source calls",
		},
		[]string{"op", "kind"},
	)

	// ThreadLoadsTotal tracks thread fetches from the message source.
	ThreadLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_thread_loads_total",
			Help: "Thread fetches from the message source",
		},
		[]string{"status"},
	)

	// ThreadLoadSize tracks the size of fetched threads.
	ThreadLoadSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inbox_thread_load_messages",
			Help:    "Messages per fetched thread",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// InboundMessagesTotal tracks inbound customer messages by outcome.
	InboundMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_inbound_messages_total",
			Help: "Inbound customer messages by outcome",
		},
		[]string{"outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records metrics for an LLM completion.
func RecordLLM(model, purpose, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(model, purpose, status).Observe(duration)
	LLMTokensTotal.WithLabelValues(model, "in").Add(float64(tokensIn))
	LLMTokensTotal.WithLabelValues(model, "out").Add(float64(tokensOut))
}

// RecordTransition records a conversation state transition.
func RecordTransition(from, to string) {
	TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordThreadLoad records a thread fetch.
func RecordThreadLoad(count int, err error) {
	if err != nil {
		ThreadLoadsTotal.WithLabelValues("error").Inc()
		return
	}
	ThreadLoadsTotal.WithLabelValues("success").Inc()
	ThreadLoadSize.Observe(float64(count))
}

// IncrementStreamConnections increments the active stream connection count.
func IncrementStreamConnections() {
	StreamConnectionsActive.Inc()
}

// DecrementStreamConnections decrements the active stream connection count.
func DecrementStreamConnections() {
	StreamConnectionsActive.Dec()
}
