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

	// SessionsActive tracks live push-channel sessions on this node.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_sessions_active",
			Help: "Number of live push-channel sessions",
		},
	)

	// UsersOnline tracks users holding at least one session on this node.
	UsersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_users_online",
			Help: "Number of users with at least one live session",
		},
	)

	// EventsEmitted counts room emissions by event name.
	EventsEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_emitted_total",
			Help: "Total events emitted to rooms",
		},
		[]string{"event"},
	)

	// EventsDropped counts deliveries dropped because a session buffer was full.
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_events_dropped_total",
			Help: "Events dropped for slow sessions",
		},
	)

	// MessagesTotal tracks messages persisted by type.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messages_total",
			Help: "Total messages sent",
		},
		[]string{"type", "kind"},
	)

	// PushAttempts tracks mobile push dispatches by outcome.
	PushAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_attempts_total",
			Help: "Mobile push dispatch attempts",
		},
		[]string{"outcome"},
	)

	// NotificationsTotal tracks recorded notifications.
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_total",
			Help: "Notifications recorded",
		},
		[]string{"type", "outcome"},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordMessage records a persisted message.
func RecordMessage(msgType, kind string) {
	MessagesTotal.WithLabelValues(msgType, kind).Inc()
}

// RecordEmit records a room emission.
func RecordEmit(event string) {
	EventsEmitted.WithLabelValues(event).Inc()
}

// RecordPush records a push attempt outcome.
func RecordPush(outcome string) {
	PushAttempts.WithLabelValues(outcome).Inc()
}

// RecordNotification records a notification write.
func RecordNotification(notificationType string, deduplicated bool) {
	outcome := "created"
	if deduplicated {
		outcome = "deduplicated"
	}
	NotificationsTotal.WithLabelValues(notificationType, outcome).Inc()
}
