package testutil

import (
	"errors"
	"sync"
	"time"

	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var _ interfaces.Connection = (*FakeConnection)(nil)

// ErrFakeClosed is returned by Send on a closed FakeConnection.
var ErrFakeClosed = errors.New("fake connection closed")

// FakeConnection records every event sent to it.
type FakeConnection struct {
	id     string
	userID string

	mu       sync.Mutex
	events   []*types.Event
	sendErr  error
	lastSeen time.Time
	notify   chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewFakeConnection creates an open connection owned by userID.
func NewFakeConnection(id, userID string) *FakeConnection {
	return &FakeConnection{
		id:       id,
		userID:   userID,
		lastSeen: time.Now(),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (c *FakeConnection) ID() string     { return c.id }
func (c *FakeConnection) UserID() string { return c.userID }

// Send records event unless the connection is closed or a failure is injected.
func (c *FakeConnection) Send(event *types.Event) error {
	select {
	case <-c.done:
		return ErrFakeClosed
	default:
	}

	c.mu.Lock()
	if c.sendErr != nil {
		err := c.sendErr
		c.mu.Unlock()
		return err
	}
	c.events = append(c.events, event)
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
	return nil
}

// FailSends makes every later Send return err.
func (c *FakeConnection) FailSends(err error) {
	c.mu.Lock()
	c.sendErr = err
	c.mu.Unlock()
}

func (c *FakeConnection) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

func (c *FakeConnection) Done() <-chan struct{} { return c.done }

// IsClosed reports whether Close was called.
func (c *FakeConnection) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *FakeConnection) LastSeen() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// SetLastSeen moves the liveness timestamp.
func (c *FakeConnection) SetLastSeen(t time.Time) {
	c.mu.Lock()
	c.lastSeen = t
	c.mu.Unlock()
}

// Events returns a copy of everything sent so far.
func (c *FakeConnection) Events() []*types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*types.Event(nil), c.events...)
}

// EventsOfKind filters Events by kind.
func (c *FakeConnection) EventsOfKind(kind string) []*types.Event {
	var out []*types.Event
	for _, e := range c.Events() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// WaitForEvents blocks until at least n events arrived or timeout passes.
func (c *FakeConnection) WaitForEvents(n int, timeout time.Duration) bool {
	deadline := time.After(timeout)
	for {
		c.mu.Lock()
		got := len(c.events)
		c.mu.Unlock()
		if got >= n {
			return true
		}
		select {
		case <-c.notify:
		case <-deadline:
			return false
		}
	}
}
