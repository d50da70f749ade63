package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"huddle/internal/auth"
	"huddle/internal/logging"
	"huddle/internal/metrics"
	"huddle/pkg/interfaces"
)

// Presence is the lifecycle authority for connections: it authenticates the
// handshake, admits the connection and tears it down.
type Presence interface {
	Authenticate(token string) (userID string, err error)
	Admit(conn interfaces.Connection) error
	Disconnect(conn interfaces.Connection, reason string)
}

// Disconnect reasons.
const (
	ReasonClientClosed     = "client_closed"
	ReasonHeartbeatTimeout = "heartbeat_timeout"
	ReasonReadError        = "read_error"
	ReasonServerClosed     = "server_closed"
)

// Handler upgrades authenticated requests and runs the read pump.
type Handler struct {
	presence   Presence
	dispatcher *Dispatcher
	settings   Settings
	upgrader   websocket.Upgrader
	logger     zerolog.Logger
}

// NewHandler creates the /ws handler. An empty origin list or "*" accepts
// every origin.
func NewHandler(presence Presence, dispatcher *Dispatcher, settings Settings, allowedOrigins []string) *Handler {
	return &Handler{
		presence:   presence,
		dispatcher: dispatcher,
		settings:   settings,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
		},
		logger: logging.WithComponent("websocket"),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = true
	}
	if len(set) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || set[origin]
	}
}

// ServeHTTP authenticates before upgrading: a bad token gets a plain 401 and
// never becomes a connection.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	userID, err := h.presence.Authenticate(auth.TokenFromRequest(r))
	if err != nil {
		metrics.ConnectionsTotal.WithLabelValues("auth_failed").Inc()
		logging.Ctx(r.Context()).Debug().Err(err).Msg("Handshake rejected")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("user_id", userID).Msg("WebSocket upgrade failed")
		return
	}

	conn := NewConnection(ws, userID, h.settings)
	if err := h.presence.Admit(conn); err != nil {
		metrics.ConnectionsTotal.WithLabelValues("register_failed").Inc()
		h.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to admit connection")
		_ = conn.Close()
		return
	}
	metrics.ConnectionsTotal.WithLabelValues("admitted").Inc()

	ctx := logging.ContextWithUserID(context.WithoutCancel(r.Context()), userID)
	err = conn.ReadPump(func(data []byte) {
		h.dispatcher.Dispatch(ctx, conn, data)
	})

	reason := disconnectReason(conn, err)
	if reason == ReasonHeartbeatTimeout {
		metrics.HeartbeatTimeouts.Inc()
	}
	h.presence.Disconnect(conn, reason)
}

func disconnectReason(conn *Connection, err error) string {
	select {
	case <-conn.Done():
		return ReasonServerClosed
	default:
	}

	var netErr net.Error
	switch {
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		return ReasonClientClosed
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonHeartbeatTimeout
	default:
		return ReasonReadError
	}
}
