package websocket

import (
	"errors"
	"fmt"

	"huddle/pkg/types"
)

// Connection errors. Send failures wrap types.ErrTransport.
var (
	ErrConnectionClosed = fmt.Errorf("%w: connection closed", types.ErrTransport)
	ErrSendBufferFull   = fmt.Errorf("%w: send buffer full", types.ErrTransport)
)

// Registry errors.
var (
	ErrNilConnection       = errors.New("connection cannot be nil")
	ErrUnauthenticated     = fmt.Errorf("%w: connection has no authenticated user", types.ErrAuth)
	ErrDuplicateConnection = errors.New("connection already registered")
)

// Dispatch errors.
var (
	ErrMalformedFrame = fmt.Errorf("%w: malformed frame", types.ErrValidation)
	ErrUnknownKind    = fmt.Errorf("%w: unknown kind", types.ErrValidation)
)
