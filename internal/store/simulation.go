package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/tradesim/internal/domain"
)

// SimulationStore is a thread-safe in-memory store for simulations and
// their teams, keyed by id with a secondary index of teams per simulation.
type SimulationStore struct {
	mu          sync.RWMutex
	simulations map[string]*domain.Simulation
	teams       map[string]*domain.Team
	simTeams    map[string][]string // simulation_id → team ids (insertion order)
}

// NewSimulationStore creates an empty SimulationStore.
func NewSimulationStore() *SimulationStore {
	return &SimulationStore{
		simulations: make(map[string]*domain.Simulation),
		teams:       make(map[string]*domain.Team),
		simTeams:    make(map[string][]string),
	}
}

// CreateSimulation adds a simulation to the store.
func (s *SimulationStore) CreateSimulation(_ context.Context, sim *domain.Simulation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *sim
	s.simulations[sim.SimulationID] = &c
	return nil
}

// GetSimulation retrieves a simulation by ID. It returns
// domain.ErrSimulationNotFound if the simulation does not exist.
func (s *SimulationStore) GetSimulation(_ context.Context, id string) (*domain.Simulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sim, ok := s.simulations[id]
	if !ok {
		return nil, domain.ErrSimulationNotFound
	}
	c := *sim
	return &c, nil
}

// ListSimulations returns the simulations in state, oldest first.
func (s *SimulationStore) ListSimulations(_ context.Context, state domain.SimulationState) ([]*domain.Simulation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Simulation, 0)
	for _, sim := range s.simulations {
		if sim.State == state {
			c := *sim
			result = append(result, &c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}

// SetSimulationState performs a compare-and-set on the simulation state.
func (s *SimulationStore) SetSimulationState(_ context.Context, id string, from, to domain.SimulationState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sim, ok := s.simulations[id]
	if !ok {
		return domain.ErrSimulationNotFound
	}
	if sim.State != from {
		return domain.ErrInvalidStateTransition
	}
	sim.State = to
	sim.UpdatedAt = at
	return nil
}

// CreateTeam adds a team and indexes it under its simulation.
func (s *SimulationStore) CreateTeam(_ context.Context, t *domain.Team) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.simulations[t.SimulationID]; !ok {
		return domain.ErrSimulationNotFound
	}
	c := *t
	s.teams[t.TeamID] = &c
	s.simTeams[t.SimulationID] = append(s.simTeams[t.SimulationID], t.TeamID)
	return nil
}

// GetTeam retrieves a team by ID. It returns domain.ErrTeamNotFound if
// the team does not exist.
func (s *SimulationStore) GetTeam(_ context.Context, id string) (*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.teams[id]
	if !ok {
		return nil, domain.ErrTeamNotFound
	}
	c := *t
	return &c, nil
}

// ListTeams returns the teams of a simulation in creation order.
func (s *SimulationStore) ListTeams(_ context.Context, simulationID string) ([]*domain.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.simTeams[simulationID]
	result := make([]*domain.Team, 0, len(ids))
	for _, id := range ids {
		c := *s.teams[id]
		result = append(result, &c)
	}
	return result, nil
}
