package router

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-user message budget with a token bucket that
// holds one minute's worth of messages.
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimit
	now     func() time.Time
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute messages per user per minute.
func NewRateLimiter(perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 100
	}
	return &RateLimiter{
		limit:   rate.Every(time.Minute / time.Duration(perMinute)),
		burst:   perMinute,
		clients: make(map[string]*clientLimit),
		now:     time.Now,
	}
}

// Allow consumes one token of userID's budget.
func (rl *RateLimiter) Allow(userID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	cl, ok := rl.clients[userID]
	if !ok {
		cl = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[userID] = cl
	}
	cl.lastSeen = now
	return cl.limiter.AllowN(now, 1)
}

// Cleanup forgets users idle for longer than idle and returns how many were
// removed. A forgotten user starts again with a full budget.
func (rl *RateLimiter) Cleanup(idle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for userID, cl := range rl.clients {
		if now.Sub(cl.lastSeen) > idle {
			delete(rl.clients, userID)
			removed++
		}
	}
	return removed
}

// Size is the number of tracked users.
func (rl *RateLimiter) Size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
