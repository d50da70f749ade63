// Package hub is the server-side presence supervisor: it authenticates
// handshakes, admits connections into the registry and tears them down on
// disconnect or when they stop showing liveness.
package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"huddle/internal/logging"
	"huddle/internal/metrics"
	"huddle/internal/websocket"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var _ websocket.Presence = (*Hub)(nil)

// Authenticator validates handshake tokens.
type Authenticator interface {
	Authenticate(token string) (userID string, err error)
}

// SubscriptionDropper removes a connection's room subscriptions.
type SubscriptionDropper interface {
	DropConnection(connectionID string)
}

// Config tunes liveness detection.
type Config struct {
	// PongWait is how long a connection may stay silent before the sweep closes it.
	PongWait      time.Duration
	SweepInterval time.Duration
	QueueSize     int
}

type disconnectRequest struct {
	conn   interfaces.Connection
	reason string
}

// Hub implements websocket.Presence and runs as a suture service.
type Hub struct {
	auth     Authenticator
	registry *websocket.Registry
	members  SubscriptionDropper
	config   Config

	disconnects chan disconnectRequest

	mu     sync.Mutex
	states map[string]types.ConnState

	running atomic.Bool
	now     func() time.Time
	logger  zerolog.Logger
}

// NewHub creates a hub.
func NewHub(auth Authenticator, registry *websocket.Registry, members SubscriptionDropper, cfg Config) *Hub {
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 15 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 100
	}
	return &Hub{
		auth:        auth,
		registry:    registry,
		members:     members,
		config:      cfg,
		disconnects: make(chan disconnectRequest, cfg.QueueSize),
		states:      make(map[string]types.ConnState),
		now:         time.Now,
		logger:      logging.WithComponent("hub"),
	}
}

// Authenticate validates the handshake token. A failure terminates the
// attempt before any connection exists.
func (h *Hub) Authenticate(token string) (string, error) {
	userID, err := h.auth.Authenticate(token)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Handshake authentication failed")
		return "", err
	}
	return userID, nil
}

// Admit registers an authenticated connection and makes it routable.
func (h *Hub) Admit(conn interfaces.Connection) error {
	if _, err := h.registry.Register(conn); err != nil {
		return err
	}
	h.setState(conn.ID(), types.StateActive)

	h.logger.Info().
		Str("connection_id", conn.ID()).
		Str("user_id", conn.UserID()).
		Int("user_connections", len(h.registry.ConnectionsFor(conn.UserID()))).
		Msg("Connection admitted")
	return nil
}

// Disconnect unregisters the connection, drops its subscriptions and closes
// it. Repeated calls are no-ops.
func (h *Hub) Disconnect(conn interfaces.Connection, reason string) {
	if conn == nil {
		return
	}
	removed := h.registry.Unregister(conn.ID())
	h.members.DropConnection(conn.ID())
	_ = conn.Close()

	h.mu.Lock()
	delete(h.states, conn.ID())
	h.mu.Unlock()

	if !removed {
		return
	}
	metrics.DisconnectsTotal.WithLabelValues(reason).Inc()
	h.logger.Info().
		Str("connection_id", conn.ID()).
		Str("user_id", conn.UserID()).
		Str("reason", reason).
		Bool("user_online", h.registry.IsOnline(conn.UserID())).
		Msg("Connection disconnected")
}

// RequestDisconnect queues a disconnect for the hub loop.
func (h *Hub) RequestDisconnect(conn interfaces.Connection, reason string) error {
	if !h.running.Load() {
		return ErrHubNotRunning
	}
	select {
	case h.disconnects <- disconnectRequest{conn: conn, reason: reason}:
		return nil
	default:
		return ErrDisconnectQueueFull
	}
}

// State returns the lifecycle state of a live connection.
func (h *Hub) State(connectionID string) (types.ConnState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.states[connectionID]
	return s, ok
}

func (h *Hub) setState(connectionID string, next types.ConnState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	current, ok := h.states[connectionID]
	if !ok {
		current = types.StateAuthenticated
	}
	if !current.CanTransition(next) {
		h.logger.Warn().
			Str("connection_id", connectionID).
			Stringer("from", current).
			Stringer("to", next).
			Msg("Illegal connection state transition")
		return
	}
	h.states[connectionID] = next
}

// Sweep disconnects every connection silent for longer than PongWait and
// returns how many were closed.
func (h *Hub) Sweep() int {
	cutoff := h.now().Add(-h.config.PongWait)
	closed := 0
	for _, conn := range h.registry.All() {
		if conn.LastSeen().Before(cutoff) {
			metrics.HeartbeatTimeouts.Inc()
			h.Disconnect(conn, websocket.ReasonHeartbeatTimeout)
			closed++
		}
	}
	if closed > 0 {
		h.logger.Info().Int("closed", closed).Msg("Liveness sweep closed silent connections")
	}
	return closed
}

// Serve runs the disconnect queue and the liveness sweep until ctx is done.
func (h *Hub) Serve(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return ErrHubAlreadyRunning
	}
	defer h.running.Store(false)

	h.logger.Info().Dur("sweep_interval", h.config.SweepInterval).Dur("pong_wait", h.config.PongWait).Msg("Hub started")

	ticker := time.NewTicker(h.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case req := <-h.disconnects:
			h.Disconnect(req.conn, req.reason)
		case <-ticker.C:
			h.Sweep()
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		}
	}
}

// shutdown closes every live connection.
func (h *Hub) shutdown() {
drain:
	for {
		select {
		case req := <-h.disconnects:
			h.Disconnect(req.conn, req.reason)
		default:
			break drain
		}
	}
	conns := h.registry.All()
	for _, conn := range conns {
		h.Disconnect(conn, websocket.ReasonServerClosed)
	}
	h.logger.Info().Int("closed", len(conns)).Msg("Hub stopped")
}

// Running reports whether Serve is active.
func (h *Hub) Running() bool {
	return h.running.Load()
}

func (h *Hub) String() string { return "hub" }
