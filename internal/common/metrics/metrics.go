// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TurnsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_turns_sent_total",
			Help: "Total number of user turns sent to the endpoint",
		},
		[]string{"mode"},
	)

	TurnsFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_turns_failed_total",
			Help: "Total number of user turns whose transport call failed",
		},
		[]string{"mode", "error_code"},
	)

	MessagesDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_messages_delivered_total",
			Help: "Total number of normalized bot messages delivered to the caller",
		},
		[]string{"mode", "kind"},
	)

	MessagesSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_messages_suppressed_total",
			Help: "Provider messages dropped because nothing could be extracted",
		},
		[]string{"mode"},
	)

	IntentPollAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connector_intent_poll_attempts_total",
			Help: "Analytics queries issued while resolving intents",
		},
		[]string{"outcome"},
	)

	IntentResolutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "connector_intent_resolution_seconds",
			Help:    "Time spent polling for an intent classification",
			Buckets: []float64{0.25, 0.5, 1, 2, 3, 5, 10},
		},
		[]string{"outcome"},
	)

	SessionsActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "connector_sessions_active",
			Help: "Number of running connector sessions",
		},
		[]string{"mode"},
	)
)
