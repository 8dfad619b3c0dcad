package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/efreitasn/tradesim/internal/domain"
)

// Record writes the transaction and its lines in one database transaction.
func (s *PostgresStore) Record(ctx context.Context, t *domain.Transaction) error {
	if err := t.Validate(); err != nil {
		return err
	}
	assignIDs(t)

	return s.inTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, simulation_id, type, round, day, fulfilled_at)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			t.TransactionID, t.SimulationID, string(t.Type), t.Round, t.Day, t.FulfilledAt)
		if err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}

		for _, l := range t.Lines {
			var stockID *string
			if id := l.StockID(); id != "" {
				stockID = &id
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO transaction_lines (id, transaction_id, team_id, asset, stock_id, quantity, price, amount)
				 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC)`,
				l.LineID, t.TransactionID, l.TeamID, string(l.Asset.Kind()), stockID,
				l.Asset.Quantity(), l.Asset.Price().String(), l.Asset.Amount().String())
			if err != nil {
				return fmt.Errorf("insert transaction line: %w", err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Totals(ctx context.Context, simulationID, teamID string) ([]domain.LineTotal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l.asset, COALESCE(l.stock_id, ''), COALESCE(SUM(l.quantity), 0)::BIGINT, COALESCE(SUM(l.amount), 0)::TEXT
		 FROM transaction_lines l
		 JOIN transactions t ON t.id = l.transaction_id
		 WHERE t.simulation_id = $1 AND l.team_id = $2
		 GROUP BY l.asset, l.stock_id
		 ORDER BY l.asset, COALESCE(l.stock_id, '')`,
		simulationID, teamID)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}
	defer rows.Close()

	result := make([]domain.LineTotal, 0)
	for rows.Next() {
		var lt domain.LineTotal
		var asset, amount string
		if err := rows.Scan(&asset, &lt.StockID, &lt.Quantity, &amount); err != nil {
			return nil, err
		}
		lt.Asset = domain.AssetType(asset)
		lt.Amount = parseDecimal(amount)
		result = append(result, lt)
	}
	return result, rows.Err()
}

const postedLineColumns = `l.id, l.transaction_id, l.team_id, l.asset, COALESCE(l.stock_id, ''),
	l.quantity, l.price::TEXT, l.amount::TEXT, t.type, t.round, t.day, t.fulfilled_at`

func scanPostedLines(rows pgx.Rows) ([]domain.PostedLine, error) {
	defer rows.Close()

	result := make([]domain.PostedLine, 0)
	for rows.Next() {
		var pl domain.PostedLine
		var asset, stockID, price, amount, typ string
		var qty int64
		if err := rows.Scan(&pl.LineID, &pl.TransactionID, &pl.TeamID, &asset, &stockID,
			&qty, &price, &amount, &typ, &pl.Round, &pl.Day, &pl.FulfilledAt); err != nil {
			return nil, err
		}
		a, err := domain.AssetFromRow(domain.AssetType(asset), stockID, qty, parseDecimal(price), parseDecimal(amount))
		if err != nil {
			return nil, err
		}
		pl.Asset = a
		pl.Type = domain.TransactionType(typ)
		result = append(result, pl)
	}
	return result, rows.Err()
}

func (s *PostgresStore) TeamLines(ctx context.Context, teamID string, asset domain.AssetType) ([]domain.PostedLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postedLineColumns+`
		 FROM transaction_lines l
		 JOIN transactions t ON t.id = l.transaction_id
		 WHERE l.team_id = $1 AND l.asset = $2
		 ORDER BY l.seq`, teamID, string(asset))
	if err != nil {
		return nil, fmt.Errorf("team lines: %w", err)
	}
	return scanPostedLines(rows)
}

func (s *PostgresStore) StockLines(ctx context.Context, stockID string) ([]domain.PostedLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postedLineColumns+`
		 FROM transaction_lines l
		 JOIN transactions t ON t.id = l.transaction_id
		 WHERE l.stock_id = $1 AND l.asset = 'STOCKS' AND t.type = 'ORDER'
		 ORDER BY l.seq`, stockID)
	if err != nil {
		return nil, fmt.Errorf("stock lines: %w", err)
	}
	return scanPostedLines(rows)
}

func (s *PostgresStore) TradedSince(ctx context.Context, stockID string, since time.Time) (bool, error) {
	var traded bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM transaction_lines l
			JOIN transactions t ON t.id = l.transaction_id
			WHERE l.stock_id = $1 AND t.type = 'ORDER' AND t.fulfilled_at >= $2
		)`, stockID, since).Scan(&traded)
	if err != nil {
		return false, fmt.Errorf("traded since: %w", err)
	}
	return traded, nil
}

func (s *PostgresStore) PaidOut(ctx context.Context, simulationID string, round int) (bool, error) {
	var paid bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM transactions
			WHERE simulation_id = $1 AND round = $2 AND type IN ('EOR', 'EOS')
		)`, simulationID, round).Scan(&paid)
	if err != nil {
		return false, fmt.Errorf("paid out: %w", err)
	}
	return paid, nil
}

// AppendSnapshot checks the latest snapshot and inserts the new one in
// the same transaction.
func (s *PostgresStore) AppendSnapshot(ctx context.Context, c *domain.ClockState) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var last domain.ClockState
		err := tx.QueryRow(ctx,
			`SELECT round, day FROM clock_states WHERE simulation_id = $1 ORDER BY id DESC LIMIT 1`,
			c.SimulationID).Scan(&last.Round, &last.Day)
		switch {
		case err == nil:
			if c.Before(last) {
				return domain.ErrClockRegression
			}
		case !isNotFoundError(err):
			return fmt.Errorf("read clock: %w", err)
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO clock_states (simulation_id, round, day, ts) VALUES ($1, $2, $3, $4)`,
			c.SimulationID, c.Round, c.Day, c.Timestamp)
		if err != nil {
			return fmt.Errorf("insert clock state: %w", err)
		}
		return nil
	})
}

func (s *PostgresStore) LastSnapshot(ctx context.Context, simulationID string) (*domain.ClockState, error) {
	c := domain.ClockState{SimulationID: simulationID}
	err := s.pool.QueryRow(ctx,
		`SELECT round, day, ts FROM clock_states WHERE simulation_id = $1 ORDER BY id DESC LIMIT 1`,
		simulationID).Scan(&c.Round, &c.Day, &c.Timestamp)
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrClockNotStarted
		}
		return nil, fmt.Errorf("last clock state: %w", err)
	}
	return &c, nil
}
