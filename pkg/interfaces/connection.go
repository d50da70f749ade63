package interfaces

import (
	"time"

	"huddle/pkg/types"
)

// Connection is one live client connection as seen by the registry, the
// membership manager and the router.
type Connection interface {
	// ID is unique for the lifetime of the process.
	ID() string

	// UserID is the authenticated owner. Empty means the handshake never completed.
	UserID() string

	// Send enqueues an event for the connection's writer. It never blocks on the
	// network; a full buffer or a closed connection returns an error.
	Send(event *types.Event) error

	// Close is idempotent.
	Close() error

	// Done is closed once the connection has been closed.
	Done() <-chan struct{}

	// LastSeen is the last time the peer showed liveness (frame or pong).
	LastSeen() time.Time
}
