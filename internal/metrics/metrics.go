// Package metrics declares the Prometheus collectors of the messaging core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_active_connections",
			Help: "Currently registered WebSocket connections",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_connections_total",
			Help: "Connection attempts by outcome",
		},
		[]string{"outcome"}, // admitted, auth_failed, register_failed
	)

	DisconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_disconnects_total",
			Help: "Disconnects by reason",
		},
		[]string{"reason"},
	)

	RoomJoins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_room_joins_total",
			Help: "Room join attempts by room kind and result",
		},
		[]string{"kind", "result"},
	)

	MessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_messages_sent_total",
			Help: "Persisted messages by room kind and message type",
		},
		[]string{"room", "type"},
	)

	SendFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_send_failures_total",
			Help: "Rejected or failed sends by reason",
		},
		[]string{"reason"},
	)

	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "huddle_persist_duration_seconds",
			Help:    "Time spent persisting a message",
			Buckets: prometheus.DefBuckets,
		},
	)

	FanoutPushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_fanout_pushes_total",
			Help: "Pushes to individual connections by result",
		},
		[]string{"result"},
	)

	UnreadIncrements = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_unread_increments_total",
			Help: "Unread marker increments",
		},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "huddle_persistence_breaker_state",
			Help: "Persistence circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
	)

	BusMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "huddle_bus_messages_total",
			Help: "Deliveries crossing the fan-out bus by direction",
		},
		[]string{"direction"},
	)

	HeartbeatTimeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "huddle_heartbeat_timeouts_total",
			Help: "Connections closed by the liveness sweep",
		},
	)
)
