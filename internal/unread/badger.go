package unread

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"huddle/internal/logging"
)

const keyPrefix = "unread:"

type marker struct {
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BadgerStore persists markers in BadgerDB so they survive restarts.
// Writes are serialized in-process to avoid transaction conflicts on hot keys.
type BadgerStore struct {
	db     *badger.DB
	mu     sync.Mutex
	owned  bool
	logger zerolog.Logger
}

// OpenBadgerStore opens (or creates) a database at path.
func OpenBadgerStore(path string) (*BadgerStore, error) {
	if path == "" {
		return nil, errors.New("unread badger path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s := NewBadgerStore(db)
	s.owned = true
	return s, nil
}

// NewBadgerStore wraps an open database. Close leaves db open.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db, logger: logging.WithComponent("unread")}
}

func markerKey(userID, roomKey string) []byte {
	return []byte(keyPrefix + userID + ":" + roomKey)
}

func (s *BadgerStore) Increment(ctx context.Context, userID, roomKey string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var m marker
	err := s.db.Update(func(txn *badger.Txn) error {
		key := markerKey(userID, roomKey)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return fmt.Errorf("get marker: %w", err)
		default:
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				return fmt.Errorf("decode marker: %w", err)
			}
		}

		m.Count++
		m.UpdatedAt = time.Now().UTC()
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal marker: %w", err)
		}
		return txn.Set(key, data)
	})
	if err != nil {
		return 0, err
	}
	return m.Count, nil
}

func (s *BadgerStore) Counts(ctx context.Context, userID string) (map[string]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	counts := make(map[string]int)
	prefix := []byte(keyPrefix + userID + ":")
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			roomKey := strings.TrimPrefix(string(item.Key()), string(prefix))
			var m marker
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				s.logger.Warn().Err(err).Str("key", string(item.Key())).Msg("Skipping unreadable marker")
				continue
			}
			if m.Count > 0 {
				counts[roomKey] = m.Count
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list markers: %w", err)
	}
	return counts, nil
}

func (s *BadgerStore) Clear(ctx context.Context, userID, roomKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(markerKey(userID, roomKey))
		if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("delete marker: %w", err)
		}
		return nil
	})
}

func (s *BadgerStore) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}
