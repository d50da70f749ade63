package router

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestRateLimiter_BudgetPerMinute(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(100)
	rl.now = func() time.Time { return now }

	for i := 0; i < 100; i++ {
		if !rl.Allow("alice") {
			t.Fatalf("message %d rejected within budget", i+1)
		}
	}
	if rl.Allow("alice") {
		t.Error("message 101 should be rejected")
	}
	if !rl.Allow("bob") {
		t.Error("budgets are per user")
	}

	now = now.Add(time.Minute)
	allowed := 0
	for i := 0; i < 150; i++ {
		if rl.Allow("alice") {
			allowed++
		}
	}
	if allowed != 100 {
		t.Errorf("after one minute allowed %d, want 100", allowed)
	}
}

func TestRateLimiter_Refill(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(60)
	rl.now = func() time.Time { return now }

	for i := 0; i < 60; i++ {
		rl.Allow("alice")
	}
	if rl.Allow("alice") {
		t.Fatal("budget should be exhausted")
	}
	now = now.Add(time.Second)
	if !rl.Allow("alice") {
		t.Error("one token should refill per second at 60/min")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(10)
	rl.now = func() time.Time { return now }

	rl.Allow("alice")
	now = now.Add(4 * time.Minute)
	rl.Allow("bob")
	now = now.Add(2 * time.Minute)

	if removed := rl.Cleanup(5 * time.Minute); removed != 1 {
		t.Errorf("removed %d, want 1", removed)
	}
	if rl.Size() != 1 {
		t.Errorf("size = %d, want 1", rl.Size())
	}
}

func TestRateLimiter_Concurrent(t *testing.T) {
	rl := NewRateLimiter(50)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				rl.Allow(fmt.Sprintf("user-%d", i%3))
			}
		}(i)
	}
	wg.Wait()
	if rl.Size() != 3 {
		t.Errorf("size = %d, want 3", rl.Size())
	}
}
