// Package roster is the cached view of group rosters and the user directory.
package roster

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"huddle/internal/logging"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var _ interfaces.Roster = (*Manager)(nil)

// Manager caches groups in memory over the directory store. Cached groups
// are replaced, never mutated, so returned values are safe to read.
type Manager struct {
	store  interfaces.DirectoryStore
	groups map[string]*types.Group
	users  map[string]bool
	mu     sync.RWMutex
	logger zerolog.Logger
}

// NewManager creates a roster over store.
func NewManager(store interfaces.DirectoryStore) *Manager {
	return &Manager{
		store:  store,
		groups: make(map[string]*types.Group),
		users:  make(map[string]bool),
		logger: logging.WithComponent("roster"),
	}
}

// LoadGroups warms the cache from the store.
func (m *Manager) LoadGroups(ctx context.Context) error {
	groups, err := m.store.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("failed to load groups: %w", err)
	}

	m.mu.Lock()
	for _, g := range groups {
		m.groups[g.ID] = g
	}
	m.mu.Unlock()

	m.logger.Info().Int("groups", len(groups)).Msg("Loaded group rosters")
	return nil
}

// CreateGroup validates and persists a new group. The creator is always a member.
func (m *Manager) CreateGroup(ctx context.Context, groupID, name, createdBy string, members []string) (*types.Group, error) {
	if !types.IsValidGroupID(groupID) {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidGroupID)
	}
	if name == "" || len(name) > 200 {
		return nil, ErrInvalidGroupName
	}
	if !types.IsValidUserID(createdBy) {
		return nil, ErrInvalidCreatedBy
	}

	unique := removeDuplicates(append([]string{createdBy}, members...))
	for _, id := range unique {
		if !types.IsValidUserID(id) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidMember, id)
		}
	}
	sort.Strings(unique)

	group := &types.Group{
		ID:        groupID,
		Name:      name,
		CreatedBy: createdBy,
		Members:   unique,
	}
	if err := m.store.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}

	m.mu.Lock()
	m.groups[group.ID] = group
	m.mu.Unlock()

	m.logger.Info().Str("group_id", group.ID).Int("members", len(group.Members)).Msg("Created group")
	return group, nil
}

// GetGroup returns a group, consulting the store on a cache miss.
func (m *Manager) GetGroup(ctx context.Context, groupID string) (*types.Group, error) {
	m.mu.RLock()
	group, ok := m.groups[groupID]
	m.mu.RUnlock()
	if ok {
		return group, nil
	}

	group, err := m.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.groups[groupID] = group
	m.mu.Unlock()
	return group, nil
}

// IsMember returns nil for roster members, an error wrapping
// types.ErrForbidden for non-members and types.ErrNotFound for unknown groups.
func (m *Manager) IsMember(ctx context.Context, groupID, userID string) error {
	group, err := m.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if !group.HasMember(userID) {
		return fmt.Errorf("%w: %s in %s", ErrNotMember, userID, groupID)
	}
	return nil
}

// AddMember adds userID to the roster.
func (m *Manager) AddMember(ctx context.Context, groupID, userID string) error {
	if !types.IsValidUserID(userID) {
		return fmt.Errorf("%w: %s", ErrInvalidMember, userID)
	}
	if err := m.store.AddGroupMember(ctx, groupID, userID); err != nil {
		return err
	}
	return m.refresh(ctx, groupID)
}

// RemoveMember removes userID from the roster. Later sends re-check the
// roster, so removal takes effect on the next message.
func (m *Manager) RemoveMember(ctx context.Context, groupID, userID string) error {
	if err := m.store.RemoveGroupMember(ctx, groupID, userID); err != nil {
		return err
	}
	return m.refresh(ctx, groupID)
}

func (m *Manager) refresh(ctx context.Context, groupID string) error {
	group, err := m.store.GetGroup(ctx, groupID)
	if err != nil {
		m.mu.Lock()
		delete(m.groups, groupID)
		m.mu.Unlock()
		return fmt.Errorf("failed to refresh group %s: %w", groupID, err)
	}

	m.mu.Lock()
	m.groups[groupID] = group
	m.mu.Unlock()
	return nil
}

// CreateUser adds a directory entry.
func (m *Manager) CreateUser(ctx context.Context, userID, name string) (*types.User, error) {
	if !types.IsValidUserID(userID) {
		return nil, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidUserID)
	}
	if len(name) > 200 {
		return nil, ErrInvalidUserName
	}

	user := &types.User{ID: userID, Name: name}
	if err := m.store.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	m.mu.Lock()
	m.users[userID] = true
	m.mu.Unlock()
	return user, nil
}

// UserExists reports whether userID is in the directory.
func (m *Manager) UserExists(ctx context.Context, userID string) (bool, error) {
	m.mu.RLock()
	known := m.users[userID]
	m.mu.RUnlock()
	if known {
		return true, nil
	}

	_, err := m.store.GetUser(ctx, userID)
	if errors.Is(err, types.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	m.users[userID] = true
	m.mu.Unlock()
	return true, nil
}

// Stats reports cache sizes.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"cached_groups": len(m.groups),
		"cached_users":  len(m.users),
	}
}

func removeDuplicates(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
