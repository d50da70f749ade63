package unread

import (
	"context"
	"sync"
)

// MemoryStore is the default, ephemeral Store.
type MemoryStore struct {
	mu     sync.Mutex
	counts map[string]map[string]int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{counts: make(map[string]map[string]int)}
}

func (s *MemoryStore) Increment(_ context.Context, userID, roomKey string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, ok := s.counts[userID]
	if !ok {
		rooms = make(map[string]int)
		s.counts[userID] = rooms
	}
	rooms[roomKey]++
	return rooms[roomKey], nil
}

func (s *MemoryStore) Counts(_ context.Context, userID string) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]int, len(s.counts[userID]))
	for k, v := range s.counts[userID] {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Clear(_ context.Context, userID, roomKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rooms, ok := s.counts[userID]; ok {
		delete(rooms, roomKey)
		if len(rooms) == 0 {
			delete(s.counts, userID)
		}
	}
	return nil
}

func (s *MemoryStore) Close() error { return nil }
