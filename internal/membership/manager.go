// Package membership tracks which live connections are subscribed to which
// rooms. Group subscriptions are authorized against the persisted roster;
// private pair rooms are open to both participants.
package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"huddle/internal/logging"
	"huddle/internal/metrics"
	"huddle/pkg/interfaces"
	"huddle/pkg/types"
)

var _ interfaces.Memberships = (*Manager)(nil)

// Liveness reports whether a connection is still registered.
type Liveness interface {
	Get(connectionID string) (interfaces.Connection, bool)
}

// Subscriber is one connection subscribed to a room.
type Subscriber struct {
	ConnectionID string
	UserID       string
}

// room is guarded by its own mutex. A room that became empty is marked dead
// and removed from the index; writers holding a stale pointer retry.
type room struct {
	mu   sync.Mutex
	subs map[string]string // connection id -> user id
	dead bool
}

// Manager is the room membership index.
type Manager struct {
	roster   interfaces.Roster
	liveness Liveness

	mu    sync.RWMutex
	rooms map[string]*room

	connMu    sync.Mutex
	connRooms map[string]map[string]struct{}

	logger zerolog.Logger
}

// NewManager creates a membership manager.
func NewManager(roster interfaces.Roster, liveness Liveness) *Manager {
	return &Manager{
		roster:    roster,
		liveness:  liveness,
		rooms:     make(map[string]*room),
		connRooms: make(map[string]map[string]struct{}),
		logger:    logging.WithComponent("membership"),
	}
}

// JoinGroup subscribes the connection to group:<groupID> if userID is on the roster.
func (m *Manager) JoinGroup(ctx context.Context, connectionID, userID, groupID string) (types.AckPayload, error) {
	if !types.IsValidGroupID(groupID) {
		metrics.RoomJoins.WithLabelValues(types.RoomKindGroup, "invalid").Inc()
		return types.AckPayload{}, fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidGroupID)
	}

	if err := m.roster.IsMember(ctx, groupID, userID); err != nil {
		metrics.RoomJoins.WithLabelValues(types.RoomKindGroup, "forbidden").Inc()
		switch {
		case errors.Is(err, types.ErrForbidden):
			return types.AckPayload{}, fmt.Errorf("%w: %s in %s", ErrNotOnRoster, userID, groupID)
		case errors.Is(err, types.ErrNotFound):
			return types.AckPayload{}, fmt.Errorf("%w: %s", ErrUnknownGroup, groupID)
		default:
			return types.AckPayload{}, fmt.Errorf("failed to check roster: %w", err)
		}
	}

	roomKey := types.GroupRoomKey(groupID)
	if err := m.subscribe(connectionID, userID, roomKey); err != nil {
		return types.AckPayload{}, err
	}

	metrics.RoomJoins.WithLabelValues(types.RoomKindGroup, "ok").Inc()
	m.logger.Debug().
		Str("connection_id", connectionID).
		Str("user_id", userID).
		Str("room", roomKey).
		Msg("Joined group room")
	return types.AckPayload{Success: true, Message: roomKey}, nil
}

// JoinPrivate subscribes the connection to the pair room of userID and
// targetUserID and returns its key.
func (m *Manager) JoinPrivate(ctx context.Context, connectionID, userID, targetUserID string) (string, error) {
	if !types.IsValidUserID(targetUserID) {
		metrics.RoomJoins.WithLabelValues(types.RoomKindPrivate, "invalid").Inc()
		return "", fmt.Errorf("%w: %w", types.ErrValidation, types.ErrInvalidUserID)
	}
	if targetUserID == userID {
		metrics.RoomJoins.WithLabelValues(types.RoomKindPrivate, "invalid").Inc()
		return "", ErrSelfConversation
	}

	exists, err := m.roster.UserExists(ctx, targetUserID)
	if err != nil {
		return "", fmt.Errorf("failed to look up user: %w", err)
	}
	if !exists {
		metrics.RoomJoins.WithLabelValues(types.RoomKindPrivate, "invalid").Inc()
		return "", fmt.Errorf("%w: %s", ErrUnknownUser, targetUserID)
	}

	roomKey := types.PrivateRoomKey(userID, targetUserID)
	if err := m.subscribe(connectionID, userID, roomKey); err != nil {
		return "", err
	}

	metrics.RoomJoins.WithLabelValues(types.RoomKindPrivate, "ok").Inc()
	return roomKey, nil
}

// subscribe records the subscription and undoes it if the connection was
// unregistered concurrently.
func (m *Manager) subscribe(connectionID, userID, roomKey string) error {
	m.addSubscriber(roomKey, connectionID, userID)

	m.connMu.Lock()
	rooms, ok := m.connRooms[connectionID]
	if !ok {
		rooms = make(map[string]struct{})
		m.connRooms[connectionID] = rooms
	}
	rooms[roomKey] = struct{}{}
	m.connMu.Unlock()

	if m.liveness != nil {
		if _, live := m.liveness.Get(connectionID); !live {
			m.DropConnection(connectionID)
			return ErrConnectionGone
		}
	}
	return nil
}

func (m *Manager) addSubscriber(roomKey, connectionID, userID string) {
	for {
		m.mu.Lock()
		r, ok := m.rooms[roomKey]
		if !ok {
			r = &room{subs: make(map[string]string)}
			m.rooms[roomKey] = r
		}
		m.mu.Unlock()

		r.mu.Lock()
		if r.dead {
			r.mu.Unlock()
			continue
		}
		r.subs[connectionID] = userID
		r.mu.Unlock()
		return
	}
}

func (m *Manager) removeSubscriber(roomKey, connectionID string) {
	m.mu.RLock()
	r, ok := m.rooms[roomKey]
	m.mu.RUnlock()
	if !ok {
		return
	}

	r.mu.Lock()
	delete(r.subs, connectionID)
	empty := len(r.subs) == 0
	if empty {
		r.dead = true
	}
	r.mu.Unlock()

	if empty {
		m.mu.Lock()
		if m.rooms[roomKey] == r {
			delete(m.rooms, roomKey)
		}
		m.mu.Unlock()
	}
}

// Leave unsubscribes the connection from roomKey. Unknown rooms are ignored.
func (m *Manager) Leave(connectionID, roomKey string) {
	m.connMu.Lock()
	if rooms, ok := m.connRooms[connectionID]; ok {
		delete(rooms, roomKey)
		if len(rooms) == 0 {
			delete(m.connRooms, connectionID)
		}
	}
	m.connMu.Unlock()

	m.removeSubscriber(roomKey, connectionID)
}

// DropConnection removes every subscription of the connection.
func (m *Manager) DropConnection(connectionID string) {
	m.connMu.Lock()
	rooms := m.connRooms[connectionID]
	delete(m.connRooms, connectionID)
	m.connMu.Unlock()

	for roomKey := range rooms {
		m.removeSubscriber(roomKey, connectionID)
	}
	if len(rooms) > 0 {
		m.logger.Debug().Str("connection_id", connectionID).Int("rooms", len(rooms)).Msg("Dropped subscriptions")
	}
}

// DropUserFromRoom unsubscribes every connection of userID from roomKey and
// returns how many were removed.
func (m *Manager) DropUserFromRoom(userID, roomKey string) int {
	var conns []string
	for _, s := range m.SubscribersOf(roomKey) {
		if s.UserID == userID {
			conns = append(conns, s.ConnectionID)
		}
	}
	for _, connID := range conns {
		m.Leave(connID, roomKey)
	}
	if len(conns) > 0 {
		m.logger.Debug().Str("user_id", userID).Str("room", roomKey).Int("connections", len(conns)).Msg("Dropped user from room")
	}
	return len(conns)
}

// MembersOf returns the users entitled to a room: the persisted roster for a
// group, the two participants for a pair room.
func (m *Manager) MembersOf(ctx context.Context, roomKey string) ([]string, error) {
	ref, err := types.ParseRoomKey(roomKey)
	if err != nil {
		return nil, err
	}
	if ref.IsPrivate() {
		return []string{ref.Participants[0], ref.Participants[1]}, nil
	}

	group, err := m.roster.GetGroup(ctx, ref.GroupID)
	if err != nil {
		return nil, err
	}
	return append([]string(nil), group.Members...), nil
}

// SubscribersOf lists the connections subscribed to roomKey, ordered by
// connection id.
func (m *Manager) SubscribersOf(roomKey string) []Subscriber {
	m.mu.RLock()
	r, ok := m.rooms[roomKey]
	m.mu.RUnlock()
	if !ok {
		return []Subscriber{}
	}

	r.mu.Lock()
	subs := make([]Subscriber, 0, len(r.subs))
	for connID, userID := range r.subs {
		subs = append(subs, Subscriber{ConnectionID: connID, UserID: userID})
	}
	r.mu.Unlock()

	sort.Slice(subs, func(i, j int) bool { return subs[i].ConnectionID < subs[j].ConnectionID })
	return subs
}

// IsSubscribed reports whether the connection is subscribed to roomKey.
func (m *Manager) IsSubscribed(connectionID, roomKey string) bool {
	m.connMu.Lock()
	defer m.connMu.Unlock()
	_, ok := m.connRooms[connectionID][roomKey]
	return ok
}

// HasSubscriber reports whether any connection of userID is subscribed to roomKey.
func (m *Manager) HasSubscriber(userID, roomKey string) bool {
	m.mu.RLock()
	r, ok := m.rooms[roomKey]
	m.mu.RUnlock()
	if !ok {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, uid := range r.subs {
		if uid == userID {
			return true
		}
	}
	return false
}

// RoomsOf returns the sorted room keys of a connection.
func (m *Manager) RoomsOf(connectionID string) []string {
	m.connMu.Lock()
	keys := make([]string, 0, len(m.connRooms[connectionID]))
	for k := range m.connRooms[connectionID] {
		keys = append(keys, k)
	}
	m.connMu.Unlock()

	sort.Strings(keys)
	return keys
}

// Stats reports index sizes.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	rooms := len(m.rooms)
	m.mu.RUnlock()

	m.connMu.Lock()
	conns := len(m.connRooms)
	subs := 0
	for _, r := range m.connRooms {
		subs += len(r)
	}
	m.connMu.Unlock()

	return map[string]int{
		"rooms":                  rooms,
		"subscribed_connections": conns,
		"subscriptions":          subs,
	}
}
