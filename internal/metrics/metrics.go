// Package metrics exposes Prometheus instruments for the client core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionConnects tracks socket connection attempts by result.
	SessionConnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardlink_session_connects_total",
		Help: "Socket connection attempts by result",
	}, []string{"result"})

	// SessionReconnects tracks scheduled reconnect attempts.
	SessionReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardlink_session_reconnects_total",
		Help: "Reconnect attempts scheduled after unexpected closure",
	})

	// SessionDroppedSends tracks messages dropped while disconnected.
	SessionDroppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Name: "guardlink_session_dropped_sends_total",
		Help: "Messages dropped because the session was not connected",
	})

	// LocationSamples tracks forwarded location samples by kind.
	LocationSamples = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardlink_location_samples_total",
		Help: "Location samples forwarded by message kind",
	}, []string{"kind"})

	// TokenRefreshes tracks credential refresh checks by outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardlink_token_refreshes_total",
		Help: "Credential refresh checks by outcome",
	}, []string{"outcome"})

	// WearMessages tracks companion messages by direction and topic.
	WearMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "guardlink_wear_messages_total",
		Help: "Companion messages by direction and topic",
	}, []string{"direction", "topic"})
)

// IncSessionConnect records a connection attempt outcome.
func IncSessionConnect(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	SessionConnects.WithLabelValues(result).Inc()
}

// IncLocationSample records a forwarded sample of the given kind
// ("startup", "report", "reconnect", "cancel").
func IncLocationSample(kind string) {
	LocationSamples.WithLabelValues(kind).Inc()
}

// IncTokenRefresh records a refresh check outcome
// ("fresh", "refreshed", "failed", "expired").
func IncTokenRefresh(outcome string) {
	TokenRefreshes.WithLabelValues(outcome).Inc()
}

// IncWearMessage records a companion message ("in"/"out", topic).
func IncWearMessage(direction, topic string) {
	WearMessages.WithLabelValues(direction, topic).Inc()
}
