// Package bus carries persisted deliveries from the router to the fan-out of
// every node.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"huddle/internal/config"
	"huddle/internal/metrics"
	"huddle/pkg/types"
)

// Handler receives deliveries. It must not block for long.
type Handler func(ctx context.Context, d *types.Delivery)

// Bus publishes deliveries to every subscribed node.
type Bus interface {
	Publish(ctx context.Context, d *types.Delivery) error
	Subscribe(handler Handler) error
	Close() error
}

// Drivers.
const (
	DriverLocal = "local"
	DriverNATS  = "nats"
)

var ErrClosed = errors.New("bus closed")

// New builds the bus selected by cfg.Driver.
func New(cfg config.BusConfig) (Bus, error) {
	switch cfg.Driver {
	case "", DriverLocal:
		return NewLocalBus(), nil
	case DriverNATS:
		return ConnectNATS(cfg)
	default:
		return nil, fmt.Errorf("unknown bus driver %q", cfg.Driver)
	}
}

// LocalBus calls handlers synchronously in the publisher's goroutine, so a
// delivery is enqueued on every local connection before Publish returns.
type LocalBus struct {
	mu       sync.RWMutex
	handlers []Handler
	closed   bool
}

// NewLocalBus creates an in-process bus.
func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (b *LocalBus) Publish(ctx context.Context, d *types.Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	metrics.BusMessages.WithLabelValues("published").Inc()
	for _, h := range b.handlers {
		h(ctx, d)
	}
	return nil
}

func (b *LocalBus) Subscribe(handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.handlers = append(b.handlers, handler)
	return nil
}

func (b *LocalBus) Close() error {
	b.mu.Lock()
	b.closed = true
	b.handlers = nil
	b.mu.Unlock()
	return nil
}
