package websocket

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"huddle/internal/logging"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var _ interfaces.Connection = (*Connection)(nil)

// Settings tune a single connection.
type Settings struct {
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	BufferSize      int
	MaxMessageBytes int64
}

// DefaultSettings returns the production heartbeat and buffer values.
func DefaultSettings() Settings {
	return Settings{
		PingInterval:    54 * time.Second,
		ReadTimeout:     60 * time.Second,
		WriteTimeout:    10 * time.Second,
		BufferSize:      100,
		MaxMessageBytes: 128 * 1024,
	}
}

// Connection wraps a gorilla socket. All writes go through one writer
// goroutine draining a FIFO buffer, so events reach the peer in Send order.
type Connection struct {
	id       string
	userID   string
	conn     *websocket.Conn
	settings Settings
	writeCh  chan *types.Event
	lastSeen atomic.Int64

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    zerolog.Logger
}

// NewConnection wraps conn for userID and starts its writer.
func NewConnection(conn *websocket.Conn, userID string, settings Settings) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:       uuid.NewString(),
		userID:   userID,
		conn:     conn,
		settings: settings,
		writeCh:  make(chan *types.Event, settings.BufferSize),
		ctx:      ctx,
		cancel:   cancel,
	}
	c.logger = logging.WithComponent("connection").With().
		Str("connection_id", c.id).
		Str("user_id", userID).
		Logger()
	c.Touch()

	go c.writeLoop()
	return c
}

func (c *Connection) ID() string     { return c.id }
func (c *Connection) UserID() string { return c.userID }

// Done is closed when the connection is closed.
func (c *Connection) Done() <-chan struct{} { return c.ctx.Done() }

// Touch records peer liveness.
func (c *Connection) Touch() {
	c.lastSeen.Store(time.Now().UnixNano())
}

// LastSeen returns the last time the peer showed liveness.
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Send enqueues event without blocking. A full buffer means the peer cannot
// keep up: the connection is closed and the client recovers through history.
func (c *Connection) Send(event *types.Event) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- event:
		return nil
	default:
		c.logger.Warn().Str("kind", event.Kind).Msg("Send buffer full, closing slow connection")
		_ = c.Close()
		return ErrSendBufferFull
	}
}

func (c *Connection) writeLoop() {
	ticker := time.NewTicker(c.settings.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case event := <-c.writeCh:
			data, err := json.Marshal(event)
			if err != nil {
				c.logger.Error().Err(err).Str("kind", event.Kind).Msg("Failed to encode event")
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.settings.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("Write failed, closing connection")
				_ = c.Close()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(c.settings.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.logger.Debug().Err(err).Msg("Ping failed, closing connection")
				_ = c.Close()
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// ReadPump reads frames until the peer goes away, the read deadline passes
// or the connection is closed, handing each text frame to handle.
func (c *Connection) ReadPump(handle func(data []byte)) error {
	c.conn.SetReadLimit(c.settings.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.Touch()
		return c.conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Debug().Err(err).Msg("Unexpected close")
			}
			return err
		}

		c.Touch()
		_ = c.conn.SetReadDeadline(time.Now().Add(c.settings.ReadTimeout))
		if messageType == websocket.TextMessage {
			handle(data)
		}
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.conn.Close()
	})
	return err
}
