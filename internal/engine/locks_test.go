package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestKeyedLocks_SerializesOneKey(t *testing.T) {
	locks := NewKeyedLocks()
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		inside  int
		maxSeen int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.Acquire(ctx, "sim/stock")
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Errorf("expected one holder at a time, saw %d", maxSeen)
	}
}

func TestKeyedLocks_IndependentKeys(t *testing.T) {
	locks := NewKeyedLocks()
	ctx := context.Background()

	unlockA, _ := locks.Acquire(ctx, "a")
	defer unlockA()

	ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	unlockB, err := locks.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("expected a free key to be acquired, got %v", err)
	}
	unlockB()
}

func TestKeyedLocks_ContextCancelled(t *testing.T) {
	locks := NewKeyedLocks()
	unlock, _ := locks.Acquire(context.Background(), "k")
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.Acquire(ctx, "k"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestKeyedLocks_AcquireAllSortsAndDedupes(t *testing.T) {
	locks := NewKeyedLocks()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		keys := []string{"b", "a", "b"}
		if i%2 == 0 {
			keys = []string{"a", "b"}
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locks.AcquireAll(ctx, keys...)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			time.Sleep(time.Millisecond)
			unlock()
		}()
	}
	wg.Wait()

	// Every key is free again.
	unlock, err := locks.AcquireAll(ctx, "a", "b")
	if err != nil {
		t.Fatalf("expected both keys to be free, got %v", err)
	}
	unlock()
}

func TestKeyedLocks_AcquireAllReleasesOnCancel(t *testing.T) {
	locks := NewKeyedLocks()
	held, _ := locks.Acquire(context.Background(), "b")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locks.AcquireAll(ctx, "a", "b"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	held()

	unlock, err := locks.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("expected a to be released, got %v", err)
	}
	unlock()
}
