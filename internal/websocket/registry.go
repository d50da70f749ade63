package websocket

import (
	"hash/fnv"
	"sort"
	"sync"
	"sync/atomic"

	"huddle/internal/metrics"
	"huddle/pkg/interfaces"
)

const shardCount = 32

// userShard holds the connections of the users hashed to it.
type userShard struct {
	mu    sync.RWMutex
	users map[string]map[string]interfaces.Connection // userID -> connID -> conn
}

// Registry maps users to their live connections. Mutations of one user are
// serialized by that user's shard lock; there is no lock across all users.
type Registry struct {
	shards [shardCount]*userShard
	byID   sync.Map // connID -> interfaces.Connection
	total  atomic.Int64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &userShard{users: make(map[string]map[string]interfaces.Connection)}
	}
	return r
}

func (r *Registry) shardFor(userID string) *userShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// Register makes conn routable and returns its id.
func (r *Registry) Register(conn interfaces.Connection) (string, error) {
	if conn == nil {
		return "", ErrNilConnection
	}
	userID := conn.UserID()
	if userID == "" {
		return "", ErrUnauthenticated
	}
	id := conn.ID()

	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, loaded := r.byID.LoadOrStore(id, conn); loaded {
		return "", ErrDuplicateConnection
	}
	conns := s.users[userID]
	if conns == nil {
		conns = make(map[string]interfaces.Connection)
		s.users[userID] = conns
	}
	conns[id] = conn

	r.total.Add(1)
	metrics.ActiveConnections.Inc()
	return id, nil
}

// Unregister removes the connection. It reports whether anything was removed;
// unknown ids are a no-op.
func (r *Registry) Unregister(connectionID string) bool {
	v, ok := r.byID.Load(connectionID)
	if !ok {
		return false
	}
	conn := v.(interfaces.Connection)
	userID := conn.UserID()

	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, loaded := r.byID.LoadAndDelete(connectionID); !loaded {
		return false
	}
	if conns, ok := s.users[userID]; ok {
		delete(conns, connectionID)
		if len(conns) == 0 {
			delete(s.users, userID)
		}
	}

	r.total.Add(-1)
	metrics.ActiveConnections.Dec()
	return true
}

// Get returns a registered connection.
func (r *Registry) Get(connectionID string) (interfaces.Connection, bool) {
	v, ok := r.byID.Load(connectionID)
	if !ok {
		return nil, false
	}
	return v.(interfaces.Connection), true
}

// ConnectionsFor returns the ids of userID's live connections, sorted.
// An offline user yields an empty slice.
func (r *Registry) ConnectionsFor(userID string) []string {
	conns := r.Connections(userID)
	ids := make([]string, 0, len(conns))
	for _, c := range conns {
		ids = append(ids, c.ID())
	}
	sort.Strings(ids)
	return ids
}

// Connections returns userID's live connections.
func (r *Registry) Connections(userID string) []interfaces.Connection {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()

	conns := s.users[userID]
	out := make([]interfaces.Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.users[userID]) > 0
}

// OnlineUsers returns every user with a live connection, sorted.
func (r *Registry) OnlineUsers() []string {
	var users []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.users {
			users = append(users, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(users)
	return users
}

// All returns every registered connection.
func (r *Registry) All() []interfaces.Connection {
	var out []interfaces.Connection
	r.byID.Range(func(_, v any) bool {
		out = append(out, v.(interfaces.Connection))
		return true
	})
	return out
}

// Stats returns registry counters for health and monitoring.
func (r *Registry) Stats() map[string]int {
	online := 0
	for _, s := range r.shards {
		s.mu.RLock()
		online += len(s.users)
		s.mu.RUnlock()
	}
	return map[string]int{
		"total_connections": int(r.total.Load()),
		"online_users":      online,
	}
}
