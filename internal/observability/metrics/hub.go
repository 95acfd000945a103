package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HubConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_connections_active",
			Help: "Number of active hub connections",
		},
	)

	HubConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_connections_total",
			Help: "Total number of hub connections accepted",
		},
	)

	HubDisconnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_disconnections_total",
			Help: "Total number of hub disconnections by reason",
		},
		[]string{"reason"},
	)

	HubMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_messages_total",
			Help: "Total number of hub messages by direction and kind",
		},
		[]string{"direction", "kind"},
	)

	HubErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_errors_total",
			Help: "Total number of hub protocol errors by type",
		},
		[]string{"error_type"},
	)

	HubInvocationDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hub_invocation_duration_seconds",
			Help:    "Duration of hub method invocations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "status"},
	)

	HubPendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_pending_calls",
			Help: "Number of server-issued calls awaiting a peer reply",
		},
	)

	HubOutgoingCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_outgoing_calls_total",
			Help: "Total number of server-issued calls by outcome",
		},
		[]string{"outcome"},
	)

	HubSendQueueSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "hub_send_queue_size",
			Help:    "Depth of a connection send queue observed at enqueue time",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)
)

func IncrementActiveConnections() {
	HubConnectionsActive.Inc()
	HubConnectionsTotal.Inc()
}

func DecrementActiveConnections(reason string) {
	HubConnectionsActive.Dec()
	HubDisconnections.WithLabelValues(reason).Inc()
}

func IncrementError(errorType string) {
	HubErrors.WithLabelValues(errorType).Inc()
}

func IncrementMessage(direction, kind string) {
	HubMessagesTotal.WithLabelValues(direction, kind).Inc()
}

func ObserveInvocation(method, status string, seconds float64) {
	HubInvocationDurationSeconds.WithLabelValues(method, status).Observe(seconds)
}

func IncrementOutgoingCall(outcome string) {
	HubOutgoingCallsTotal.WithLabelValues(outcome).Inc()
}
