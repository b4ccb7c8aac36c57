// Package metrics declares Lumora's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumora_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "lumora_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Relay metrics
	MessagesPersisted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumora_messages_persisted_total",
			Help: "Total messages durably persisted",
		},
		[]string{"sender"}, // "user" or "ai"
	)

	WorkflowsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumora_workflows_failed_total",
			Help: "Total relay workflows that terminated in FAILED",
		},
		[]string{"stage"}, // "persist" or "completion"
	)

	// Completion metrics
	CompletionRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lumora_completion_requests_total",
			Help: "Total completion service calls",
		},
		[]string{"outcome"}, // "ok" or "error"
	)

	CompletionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumora_completion_retries_total",
			Help: "Total completion call retries",
		},
	)

	CompletionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lumora_completion_duration_seconds",
			Help:    "Completion service call latency",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	// Hub metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lumora_connections_active",
			Help: "Currently registered websocket clients",
		},
	)

	BroadcastDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lumora_broadcast_dropped_total",
			Help: "Broadcast events dropped due to client backpressure",
		},
	)
)
