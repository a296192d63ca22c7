// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebSocket transport
	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cececho_websocket_connections_active",
			Help: "Current number of authenticated websocket connections",
		},
	)

	WSEventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cececho_signaling_events_total",
			Help: "Signaling events received, by event name and outcome code",
		},
		[]string{"event", "code"},
	)

	RelaysDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cececho_relays_dropped_total",
			Help: "Relays dropped because the fan-out queue or a connection buffer was full",
		},
		[]string{"reason"}, // "queue_full", "connection_buffer"
	)

	RelayQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cececho_relay_queue_depth",
			Help: "Relays waiting in the fan-out queue",
		},
	)

	// Calls
	CallTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cececho_call_transitions_total",
			Help: "Applied call status transitions by target status",
		},
		[]string{"status"},
	)

	CallConflicts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cececho_call_version_conflicts_total",
			Help: "Optimistic concurrency conflicts observed while updating calls",
		},
	)

	// Membership
	MembershipRemoved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cececho_membership_removed_total",
			Help: "Members removed from the community group, by cause",
		},
		[]string{"cause"}, // "expired", "sweep", "deleted"
	)

	MembershipAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cececho_membership_added_total",
			Help: "Students enrolled into the community group",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cececho_membership_sweep_duration_seconds",
			Help:    "Duration of expired-member sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	// REST
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cececho_api_request_duration_seconds",
			Help:    "REST request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

// RecordEvent counts one handled signaling event.
func RecordEvent(event, code string) {
	if code == "" {
		code = "OK"
	}
	WSEventsReceived.WithLabelValues(event, code).Inc()
}

// RecordAPIRequest observes one REST request.
func RecordAPIRequest(method, route string, status int, d time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
