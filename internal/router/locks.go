package router

import "sync"

// roomLocks hands out one mutex per room key and frees it when unused.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	mu   sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

// Lock blocks until the room is free and returns the unlock function.
func (l *roomLocks) Lock(roomKey string) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomKey]
	if !ok {
		rl = &roomLock{}
		l.locks[roomKey] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.mu.Lock()
	return func() {
		rl.mu.Unlock()

		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomKey)
		}
		l.mu.Unlock()
	}
}

func (l *roomLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
