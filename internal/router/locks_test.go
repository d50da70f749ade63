package router

import (
	"sync"
	"testing"
)

func TestRoomLocks_SerializesSameRoom(t *testing.T) {
	locks := newRoomLocks()
	var (
		wg      sync.WaitGroup
		inside  int
		maxSeen int
		mu      sync.Mutex
	)

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("group:ops")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()

			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("%d goroutines held the same room lock", maxSeen)
	}
	if locks.size() != 0 {
		t.Errorf("%d room locks leaked", locks.size())
	}
}

func TestRoomLocks_IndependentRooms(t *testing.T) {
	locks := newRoomLocks()
	unlockA := locks.Lock("group:a")
	done := make(chan struct{})
	go func() {
		unlock := locks.Lock("group:b")
		unlock()
		close(done)
	}()
	<-done
	unlockA()
}
