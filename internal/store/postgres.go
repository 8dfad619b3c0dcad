package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Monetary values are stored as NUMERIC and read back as text into
// decimal.Decimal.
type PostgresStore struct {
	pool *Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// scanner is satisfied by pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func parseDecimal(s string) decimal.Decimal {
	d, _ := decimal.NewFromString(s)
	return d
}

func (s *PostgresStore) CreateSimulation(ctx context.Context, sim *domain.Simulation) error {
	t := sim.Ticker
	_, err := s.pool.Exec(ctx,
		`INSERT INTO simulations (
			id, name, state, nb_companies, nb_rounds, nb_days, day_duration_ms,
			dividend_payoff_rate, interest_rate, discount_rate, initial_value, mu, sigma,
			pause_between_rounds, capital, nb_shares, transaction_cost,
			variable_transaction_cost, price_band, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7,
			$8::NUMERIC, $9::NUMERIC, $10::NUMERIC, $11::NUMERIC, $12, $13,
			$14, $15::NUMERIC, $16, $17::NUMERIC,
			$18::NUMERIC, $19::NUMERIC, $20, $21)`,
		sim.SimulationID, sim.Name, int(sim.State),
		t.NbCompanies, t.NbRounds, t.NbDays, t.DayDuration.Milliseconds(),
		t.DividendPayoffRate.String(), t.InterestRate.String(), t.DiscountRate.String(),
		t.InitialValue.String(), t.Mu, t.Sigma, t.PauseBetweenRounds,
		sim.Capital.String(), sim.NbShares, sim.TransactionCost.String(),
		sim.VariableTransactionCost.String(), sim.PriceBand.String(),
		sim.CreatedAt, sim.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert simulation: %w", err)
	}
	return nil
}

const simulationColumns = `id, name, state, nb_companies, nb_rounds, nb_days, day_duration_ms,
	dividend_payoff_rate::TEXT, interest_rate::TEXT, discount_rate::TEXT, initial_value::TEXT,
	mu, sigma, pause_between_rounds, capital::TEXT, nb_shares, transaction_cost::TEXT,
	variable_transaction_cost::TEXT, price_band::TEXT, created_at, updated_at`

func scanSimulation(row scanner) (*domain.Simulation, error) {
	var sim domain.Simulation
	var state int
	var dayMS int64
	var payoff, interest, discount, initial, capital, cost, variable, band string

	err := row.Scan(&sim.SimulationID, &sim.Name, &state,
		&sim.Ticker.NbCompanies, &sim.Ticker.NbRounds, &sim.Ticker.NbDays, &dayMS,
		&payoff, &interest, &discount, &initial,
		&sim.Ticker.Mu, &sim.Ticker.Sigma, &sim.Ticker.PauseBetweenRounds,
		&capital, &sim.NbShares, &cost, &variable, &band,
		&sim.CreatedAt, &sim.UpdatedAt)
	if err != nil {
		return nil, err
	}

	sim.State = domain.SimulationState(state)
	sim.Ticker.DayDuration = time.Duration(dayMS) * time.Millisecond
	sim.Ticker.DividendPayoffRate = parseDecimal(payoff)
	sim.Ticker.InterestRate = parseDecimal(interest)
	sim.Ticker.DiscountRate = parseDecimal(discount)
	sim.Ticker.InitialValue = parseDecimal(initial)
	sim.Capital = parseDecimal(capital)
	sim.TransactionCost = parseDecimal(cost)
	sim.VariableTransactionCost = parseDecimal(variable)
	sim.PriceBand = parseDecimal(band)
	return &sim, nil
}

func (s *PostgresStore) GetSimulation(ctx context.Context, id string) (*domain.Simulation, error) {
	sim, err := scanSimulation(s.pool.QueryRow(ctx,
		`SELECT `+simulationColumns+` FROM simulations WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrSimulationNotFound
		}
		return nil, fmt.Errorf("get simulation %s: %w", id, err)
	}
	return sim, nil
}

func (s *PostgresStore) ListSimulations(ctx context.Context, state domain.SimulationState) ([]*domain.Simulation, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+simulationColumns+` FROM simulations WHERE state = $1 ORDER BY created_at`, int(state))
	if err != nil {
		return nil, fmt.Errorf("list simulations: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Simulation, 0)
	for rows.Next() {
		sim, err := scanSimulation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sim)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SetSimulationState(ctx context.Context, id string, from, to domain.SimulationState, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE simulations SET state = $3, updated_at = $4 WHERE id = $1 AND state = $2`,
		id, int(from), int(to), at)
	if err != nil {
		return fmt.Errorf("update simulation state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSimulation(ctx, id); err != nil {
			return err
		}
		return domain.ErrInvalidStateTransition
	}
	return nil
}

func (s *PostgresStore) CreateTeam(ctx context.Context, t *domain.Team) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO teams (id, simulation_id, name, type, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.TeamID, t.SimulationID, t.Name, string(t.Type), t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert team: %w", err)
	}
	return nil
}

func scanTeam(row scanner) (*domain.Team, error) {
	var t domain.Team
	var typ string
	if err := row.Scan(&t.TeamID, &t.SimulationID, &t.Name, &typ, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Type = domain.TeamType(typ)
	return &t, nil
}

func (s *PostgresStore) GetTeam(ctx context.Context, id string) (*domain.Team, error) {
	t, err := scanTeam(s.pool.QueryRow(ctx,
		`SELECT id, simulation_id, name, type, created_at FROM teams WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrTeamNotFound
		}
		return nil, fmt.Errorf("get team %s: %w", id, err)
	}
	return t, nil
}

func (s *PostgresStore) ListTeams(ctx context.Context, simulationID string) ([]*domain.Team, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, simulation_id, name, type, created_at FROM teams
		 WHERE simulation_id = $1 ORDER BY seq`, simulationID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Team, 0)
	for rows.Next() {
		t, err := scanTeam(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// inTx runs fn inside a database transaction, committing on success.
func (s *PostgresStore) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
