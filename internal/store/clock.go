package store

import (
	"context"
	"sync"

	"github.com/efreitasn/tradesim/internal/domain"
)

// ClockStore is a thread-safe in-memory store of clock snapshots.
type ClockStore struct {
	mu        sync.RWMutex
	snapshots map[string][]domain.ClockState // simulation_id → snapshots (chronological)
}

// NewClockStore creates an empty ClockStore.
func NewClockStore() *ClockStore {
	return &ClockStore{
		snapshots: make(map[string][]domain.ClockState),
	}
}

// AppendSnapshot appends a snapshot unless it would move the clock back.
func (s *ClockStore) AppendSnapshot(_ context.Context, c *domain.ClockState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snaps := s.snapshots[c.SimulationID]
	if n := len(snaps); n > 0 && c.Before(snaps[n-1]) {
		return domain.ErrClockRegression
	}
	s.snapshots[c.SimulationID] = append(snaps, *c)
	return nil
}

// LastSnapshot returns the latest snapshot of a simulation.
func (s *ClockStore) LastSnapshot(_ context.Context, simulationID string) (*domain.ClockState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snaps := s.snapshots[simulationID]
	if len(snaps) == 0 {
		return nil, domain.ErrClockNotStarted
	}
	c := snaps[len(snaps)-1]
	return &c, nil
}
