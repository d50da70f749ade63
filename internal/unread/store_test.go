package unread

import (
	"context"
	"sync"
	"testing"

	"github.com/dgraph-io/badger/v4"

	"huddle/internal/config"
)

func newBadgerTestStore(t *testing.T) *BadgerStore {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		t.Fatalf("open badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewBadgerStore(db)
}

func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"badger": newBadgerTestStore(t),
	}
}

func TestStore_IncrementAndCounts(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i := 1; i <= 3; i++ {
				n, err := s.Increment(ctx, "bob", "group:ops")
				if err != nil {
					t.Fatalf("Increment: %v", err)
				}
				if n != i {
					t.Errorf("Increment returned %d, want %d", n, i)
				}
			}
			if _, err := s.Increment(ctx, "bob", "private:alice:bob"); err != nil {
				t.Fatalf("Increment: %v", err)
			}
			if _, err := s.Increment(ctx, "bobby", "group:ops"); err != nil {
				t.Fatalf("Increment: %v", err)
			}

			counts, err := s.Counts(ctx, "bob")
			if err != nil {
				t.Fatalf("Counts: %v", err)
			}
			if len(counts) != 2 || counts["group:ops"] != 3 || counts["private:alice:bob"] != 1 {
				t.Errorf("Counts(bob) = %v", counts)
			}
		})
	}
}

func TestStore_Clear(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _ = s.Increment(ctx, "bob", "group:ops")
			_, _ = s.Increment(ctx, "bob", "group:hr")

			if err := s.Clear(ctx, "bob", "group:ops"); err != nil {
				t.Fatalf("Clear: %v", err)
			}
			if err := s.Clear(ctx, "bob", "group:never"); err != nil {
				t.Fatalf("Clear of absent marker: %v", err)
			}

			counts, _ := s.Counts(ctx, "bob")
			if len(counts) != 1 || counts["group:hr"] != 1 {
				t.Errorf("Counts after clear = %v", counts)
			}

			n, _ := s.Increment(ctx, "bob", "group:ops")
			if n != 1 {
				t.Errorf("count after clear restarted at %d, want 1", n)
			}
		})
	}
}

func TestStore_ConcurrentIncrements(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						if _, err := s.Increment(ctx, "carol", "group:ops"); err != nil {
							t.Errorf("Increment: %v", err)
						}
					}
				}()
			}
			wg.Wait()

			counts, _ := s.Counts(ctx, "carol")
			if counts["group:ops"] != 100 {
				t.Errorf("count = %d, want 100", counts["group:ops"])
			}
		})
	}
}

func TestBadgerStore_PersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("OpenBadgerStore: %v", err)
	}
	_, _ = s.Increment(ctx, "bob", "group:ops")
	_, _ = s.Increment(ctx, "bob", "group:ops")
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s, err = OpenBadgerStore(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	counts, _ := s.Counts(ctx, "bob")
	if counts["group:ops"] != 2 {
		t.Errorf("count after reopen = %d, want 2", counts["group:ops"])
	}
}

func TestNew(t *testing.T) {
	s, err := New(config.UnreadConfig{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("New(memory): %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("New(memory) = %T", s)
	}

	if _, err := New(config.UnreadConfig{Driver: "redis"}); err == nil {
		t.Error("expected error for unknown driver")
	}
	if _, err := New(config.UnreadConfig{Driver: DriverBadger}); err == nil {
		t.Error("expected error for badger without path")
	}
}
