// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks gateway HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_request_duration_seconds",
			Help:    "Gateway HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total gateway HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_requests_total",
			Help: "Total gateway HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// UpstreamDuration tracks backend REST call duration.
	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Backend REST request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "status"},
	)

	// ChatResolutions counts conversation id resolutions by where the id came from.
	ChatResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_resolutions_total",
			Help: "Conversation id resolutions",
		},
		[]string{"role", "source"},
	)

	// HistoryLoads counts message history loads.
	HistoryLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_history_loads_total",
			Help: "Message history loads",
		},
		[]string{"role", "status"},
	)

	// StreamFrames counts inbound socket frames by outcome.
	StreamFrames = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_stream_frames_total",
			Help: "Inbound chat stream frames",
		},
		[]string{"result"},
	)

	// StreamsActive tracks open chat sockets.
	StreamsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_streams_active",
			Help: "Number of open chat sockets",
		},
	)

	// Sends counts optimistic sends by outcome.
	Sends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_sends_total",
			Help: "Optimistic message sends",
		},
		[]string{"result"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	// MirrorPublished counts messages mirrored to NATS.
	MirrorPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_mirror_published_total",
			Help: "Chat messages mirrored to NATS",
		},
		[]string{"status"},
	)
)

// RecordRequest records metrics for a gateway HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordUpstream records metrics for a backend REST call.
func RecordUpstream(method, status string, duration float64) {
	UpstreamDuration.WithLabelValues(method, status).Observe(duration)
}

// IncrementStreams increments the open socket count.
func IncrementStreams() {
	StreamsActive.Inc()
}

// DecrementStreams decrements the open socket count.
func DecrementStreams() {
	StreamsActive.Dec()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
