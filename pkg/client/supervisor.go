package client

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"huddle/pkg/types"
)

// ErrOffline is returned by Run once the retry budget is exhausted.
var ErrOffline = errors.New("offline: reconnect attempts exhausted")

// Link is the part of a connection the supervisor watches. *Session is a Link.
type Link interface {
	Done() <-chan struct{}
	Close() error
}

// Dialer opens a new Link.
type Dialer func(ctx context.Context) (Link, error)

// SessionDialer dials endpoint with a token fetched on every attempt, so an
// expired token can be refreshed between reconnects.
func SessionDialer(endpoint string, token func() string) Dialer {
	return func(ctx context.Context) (Link, error) {
		session, err := Dial(ctx, endpoint, token())
		if err != nil {
			return nil, err
		}
		return session, nil
	}
}

// Clock abstracts waiting so the backoff can be driven by tests.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// RetryPolicy is an exponential backoff with a bounded number of attempts
// per outage.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryPolicy retries five times, waiting 1s, 2s, 4s and 8s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2,
	}
}

// Delay is the wait before the given attempt. Attempt 1 is immediate.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-2))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option { return func(s *Supervisor) { s.clock = c } }

// WithRetryPolicy replaces DefaultRetryPolicy.
func WithRetryPolicy(p RetryPolicy) Option { return func(s *Supervisor) { s.policy = p } }

// WithStateHook is called on every state change, outside the supervisor lock.
func WithStateHook(fn func(from, to types.ConnState)) Option {
	return func(s *Supervisor) { s.onState = fn }
}

// WithOnActive is called with every freshly established link. Rooms are not
// rejoined automatically; this is where a caller rejoins them.
func WithOnActive(fn func(ctx context.Context, link Link)) Option {
	return func(s *Supervisor) { s.onActive = fn }
}

// Supervisor keeps a link up. States move Disconnected → Reconnecting →
// Active and back to Disconnected when the link drops. An auth failure or an
// exhausted retry budget ends in Terminated.
type Supervisor struct {
	dial     Dialer
	clock    Clock
	policy   RetryPolicy
	onState  func(from, to types.ConnState)
	onActive func(ctx context.Context, link Link)

	mu       sync.Mutex
	state    types.ConnState
	offline  bool
	attempts int
	link     Link
}

// NewSupervisor creates a supervisor in the Disconnected state.
func NewSupervisor(dial Dialer, opts ...Option) *Supervisor {
	s := &Supervisor{
		dial:   dial,
		clock:  realClock{},
		policy: DefaultRetryPolicy(),
		state:  types.StateDisconnected,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.policy.MaxAttempts <= 0 {
		s.policy.MaxAttempts = 1
	}
	return s
}

// State is the current state.
func (s *Supervisor) State() types.ConnState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Offline reports that the last outage exhausted the retry budget. It stays
// set until Run is called again.
func (s *Supervisor) Offline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline
}

// Attempts is the number of dials made during the current outage.
func (s *Supervisor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Link is the active link, or nil.
func (s *Supervisor) Link() Link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.link
}

// Run connects and reconnects until ctx is done, the server rejects the
// token (types.ErrAuth) or the retry budget runs out (ErrOffline).
func (s *Supervisor) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state == types.StateTerminated {
		s.state = types.StateDisconnected
	}
	s.offline = false
	s.mu.Unlock()

	for {
		link, err := s.reconnect(ctx)
		if err != nil {
			return err
		}

		if s.onActive != nil {
			s.onActive(ctx, link)
		}

		select {
		case <-link.Done():
			s.setLink(nil)
			s.transition(types.StateDisconnected)
		case <-ctx.Done():
			_ = link.Close()
			s.setLink(nil)
			s.transition(types.StateTerminated)
			return ctx.Err()
		}
	}
}

func (s *Supervisor) reconnect(ctx context.Context) (Link, error) {
	s.mu.Lock()
	s.attempts = 0
	s.mu.Unlock()
	s.transition(types.StateReconnecting)

	for attempt := 1; ; attempt++ {
		if delay := s.policy.Delay(attempt); delay > 0 {
			select {
			case <-s.clock.After(delay):
			case <-ctx.Done():
				s.transition(types.StateTerminated)
				return nil, ctx.Err()
			}
		}

		s.mu.Lock()
		s.attempts = attempt
		s.mu.Unlock()

		link, err := s.dial(ctx)
		if err == nil {
			s.setLink(link)
			s.transition(types.StateActive)
			return link, nil
		}

		switch {
		case errors.Is(err, types.ErrAuth):
			s.transition(types.StateTerminated)
			return nil, err
		case ctx.Err() != nil:
			s.transition(types.StateTerminated)
			return nil, ctx.Err()
		case attempt >= s.policy.MaxAttempts:
			s.mu.Lock()
			s.offline = true
			s.mu.Unlock()
			s.transition(types.StateTerminated)
			return nil, fmt.Errorf("%w after %d attempts: %v", ErrOffline, attempt, err)
		}
	}
}

func (s *Supervisor) setLink(link Link) {
	s.mu.Lock()
	s.link = link
	s.mu.Unlock()
}

func (s *Supervisor) transition(next types.ConnState) {
	s.mu.Lock()
	prev := s.state
	if prev == next {
		s.mu.Unlock()
		return
	}
	if !prev.CanTransition(next) {
		s.mu.Unlock()
		panic(fmt.Sprintf("client: illegal transition %s -> %s", prev, next))
	}
	s.state = next
	s.mu.Unlock()

	if s.onState != nil {
		s.onState(prev, next)
	}
}
