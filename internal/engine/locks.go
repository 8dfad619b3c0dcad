package engine

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/efreitasn/tradesim/internal/metrics"
)

const (
	initialBackoff = 500 * time.Microsecond
	maxBackoff     = 20 * time.Millisecond
)

// KeyedLocks hands out one exclusive section per key. Contention is
// retried with exponential backoff and counted, never returned.
type KeyedLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewKeyedLocks creates an empty lock table.
func NewKeyedLocks() *KeyedLocks {
	return &KeyedLocks{locks: make(map[string]*sync.Mutex)}
}

func (k *KeyedLocks) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()

	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Acquire blocks until the section for key is held or ctx is done. The
// returned func releases it.
func (k *KeyedLocks) Acquire(ctx context.Context, key string) (func(), error) {
	m := k.get(key)
	backoff := initialBackoff
	for !m.TryLock() {
		metrics.MatchConflicts.Inc()
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, maxBackoff)
	}
	return m.Unlock, nil
}

// AcquireAll holds the sections of every distinct key, taken in sorted
// order so two callers sharing keys never deadlock. The returned func
// releases them all.
func (k *KeyedLocks) AcquireAll(ctx context.Context, keys ...string) (func(), error) {
	keys = slices.Clone(keys)
	slices.Sort(keys)
	keys = slices.Compact(keys)

	unlocks := make([]func(), 0, len(keys))
	release := func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
	for _, key := range keys {
		unlock, err := k.Acquire(ctx, key)
		if err != nil {
			release()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return release, nil
}

func stockKey(simulationID, stockID string) string {
	return simulationID + "/" + stockID
}

// teamKey names the cash and share section of one team. Team sections are
// only ever taken inside a stock section.
func teamKey(simulationID, teamID string) string {
	return simulationID + "/team/" + teamID
}
