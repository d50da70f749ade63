// Package unread keeps per-recipient unread markers keyed by room.
package unread

import (
	"context"
	"fmt"

	"huddle/internal/config"
)

// Store holds unread counts per (user, room key).
type Store interface {
	// Increment bumps the marker and returns the new count.
	Increment(ctx context.Context, userID, roomKey string) (int, error)
	// Counts returns every non-zero marker of userID keyed by room key.
	Counts(ctx context.Context, userID string) (map[string]int, error)
	// Clear resets one marker. Clearing an absent marker is a no-op.
	Clear(ctx context.Context, userID, roomKey string) error
	Close() error
}

// Drivers.
const (
	DriverMemory = "memory"
	DriverBadger = "badger"
)

// New opens the store selected by cfg.Driver.
func New(cfg config.UnreadConfig) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		return NewMemoryStore(), nil
	case DriverBadger:
		return OpenBadgerStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown unread driver %q", cfg.Driver)
	}
}
