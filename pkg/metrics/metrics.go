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

	// ThreadsTotal tracks total threads created.
	ThreadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "threads_total",
			Help: "Total conversation threads created",
		},
	)

	// MessagesTotal tracks total messages appended to threads.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "thread_messages_total",
			Help: "Total messages appended to threads",
		},
		[]string{"role"},
	)

	// NodeExecutionsTotal tracks node executions by kind and outcome.
	NodeExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "node_executions_total",
			Help: "Total node executions",
		},
		[]string{"kind", "status"},
	)

	// GenerationDuration tracks provider generation call duration.
	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "generation_duration_seconds",
			Help:    "AI provider generation call duration",
			Buckets: []float64{1, 2, 5, 10, 20, 30, 45, 60, 90, 120, 300},
		},
		[]string{"provider", "modality"},
	)

	// EdgesRejectedTotal tracks edge proposals refused by the compatibility
	// check.
	EdgesRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "edges_rejected_total",
			Help: "Edge proposals rejected as type-incompatible",
		},
		[]string{"source_type", "target_type"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
