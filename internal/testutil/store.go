// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"huddle/internal/database"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var _ interfaces.Store = (*MemoryStore)(nil)

// MemoryStore is an in-memory interfaces.Store. AppendErr and AppendDelay
// inject persistence failures.
type MemoryStore struct {
	mu            sync.Mutex
	nextID        int64
	lastCreatedAt time.Time
	messages      []*types.Message
	users         map[string]*types.User
	groups        map[string]*types.Group
	notifications map[string]*types.Notification

	AppendErr   error
	AppendDelay time.Duration
	Appends     int
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]*types.User),
		groups:        make(map[string]*types.Group),
		notifications: make(map[string]*types.Notification),
	}
}

// SetAppendErr changes the injected append failure.
func (s *MemoryStore) SetAppendErr(err error) {
	s.mu.Lock()
	s.AppendErr = err
	s.mu.Unlock()
}

// AppendMessage mimics the SQLite store: increasing ids and timestamps.
func (s *MemoryStore) AppendMessage(ctx context.Context, message *types.Message) error {
	s.mu.Lock()
	delay, failure := s.AppendDelay, s.AppendErr
	s.Appends++
	s.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if failure != nil {
		return failure
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(s.lastCreatedAt) {
		now = s.lastCreatedAt.Add(time.Microsecond)
	}
	s.nextID++
	s.lastCreatedAt = now

	message.ID = s.nextID
	message.CreatedAt = now
	stored := *message
	s.messages = append(s.messages, &stored)
	return nil
}

// History returns oldest-first messages of roomKey with id < beforeID.
func (s *MemoryStore) History(_ context.Context, roomKey string, limit int, beforeID int64) ([]*types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*types.Message
	for _, m := range s.messages {
		if m.RoomKey != roomKey || (beforeID > 0 && m.ID >= beforeID) {
			continue
		}
		cp := *m
		matched = append(matched, &cp)
	}
	if limit <= 0 {
		return []*types.Message{}, nil
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

// MessageCount returns the number of persisted messages.
func (s *MemoryStore) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

func (s *MemoryStore) CreateUser(_ context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("%w: user %s", database.ErrAlreadyExists, user.ID)
	}
	cp := *user
	s.users[user.ID] = &cp
	return nil
}

func (s *MemoryStore) GetUser(_ context.Context, userID string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", types.ErrNotFound, userID)
	}
	cp := *u
	return &cp, nil
}

func (s *MemoryStore) CreateGroup(_ context.Context, group *types.Group) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[group.ID]; ok {
		return fmt.Errorf("%w: group %s", database.ErrAlreadyExists, group.ID)
	}
	s.groups[group.ID] = copyGroup(group)
	return nil
}

func (s *MemoryStore) GetGroup(_ context.Context, groupID string) (*types.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return nil, fmt.Errorf("%w: group %s", types.ErrNotFound, groupID)
	}
	return copyGroup(g), nil
}

func (s *MemoryStore) ListGroups(_ context.Context) ([]*types.Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, copyGroup(g))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) AddGroupMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: group %s", types.ErrNotFound, groupID)
	}
	if !g.HasMember(userID) {
		g.Members = append(g.Members, userID)
		sort.Strings(g.Members)
	}
	return nil
}

func (s *MemoryStore) RemoveGroupMember(_ context.Context, groupID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[groupID]
	if !ok {
		return fmt.Errorf("%w: group %s", types.ErrNotFound, groupID)
	}
	for i, m := range g.Members {
		if m == userID {
			g.Members = append(g.Members[:i], g.Members[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: member %s", types.ErrNotFound, userID)
}

func (s *MemoryStore) CreateNotification(_ context.Context, n *types.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	cp := *n
	s.notifications[n.ID] = &cp
	return nil
}

func (s *MemoryStore) ListNotifications(_ context.Context, userID string, limit int) ([]*types.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []*types.Notification{}
	for _, n := range s.notifications {
		if n.UserID == userID {
			cp := *n
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkNotificationRead(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("%w: notification %s", types.ErrNotFound, id)
	}
	n.IsRead = true
	return nil
}

func (s *MemoryStore) MarkAllNotificationsRead(_ context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var updated int64
	for _, n := range s.notifications {
		if n.UserID == userID && !n.IsRead {
			n.IsRead = true
			updated++
		}
	}
	return updated, nil
}

func (s *MemoryStore) DeleteNotification(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || n.UserID != userID {
		return fmt.Errorf("%w: notification %s", types.ErrNotFound, id)
	}
	delete(s.notifications, id)
	return nil
}

func (s *MemoryStore) HealthCheck(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func copyGroup(g *types.Group) *types.Group {
	cp := *g
	cp.Members = append([]string(nil), g.Members...)
	return &cp
}
