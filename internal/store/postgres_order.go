package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/efreitasn/tradesim/internal/domain"
)

func (s *PostgresStore) SaveOrders(ctx context.Context, orders ...*domain.Order) error {
	if len(orders) == 0 {
		return nil
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		for _, o := range orders {
			var price *string
			if o.Price != nil {
				v := o.Price.String()
				price = &v
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO orders (
					id, parent_id, simulation_id, stock_id, team_id, side, quantity, price,
					state, failure_reason, transaction_id, round, day, created_at, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::NUMERIC, $9, $10, $11, $12, $13, $14, $15)
				ON CONFLICT (id) DO UPDATE SET
					quantity = EXCLUDED.quantity,
					state = EXCLUDED.state,
					failure_reason = EXCLUDED.failure_reason,
					transaction_id = EXCLUDED.transaction_id,
					updated_at = EXCLUDED.updated_at`,
				o.OrderID, o.ParentID, o.SimulationID, o.StockID, o.TeamID, string(o.Side),
				o.Quantity, price, string(o.State), o.FailureReason, o.TransactionID,
				o.Round, o.Day, o.CreatedAt, o.UpdatedAt)
			if err != nil {
				return fmt.Errorf("save order %s: %w", o.OrderID, err)
			}
		}
		return nil
	})
}

const orderColumns = `id, parent_id, simulation_id, stock_id, team_id, side, quantity, price::TEXT,
	state, failure_reason, transaction_id, round, day, created_at, updated_at`

func scanOrder(row scanner) (*domain.Order, error) {
	var o domain.Order
	var side, state string
	var price *string
	if err := row.Scan(&o.OrderID, &o.ParentID, &o.SimulationID, &o.StockID, &o.TeamID,
		&side, &o.Quantity, &price, &state, &o.FailureReason, &o.TransactionID,
		&o.Round, &o.Day, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Side = domain.OrderSide(side)
	o.State = domain.OrderState(state)
	if price != nil {
		p := parseDecimal(*price)
		o.Price = &p
	}
	return &o, nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListOrdersByTeam(ctx context.Context, teamID string, state *domain.OrderState, page, limit int) ([]*domain.Order, int, error) {
	var stateFilter *string
	if state != nil {
		v := string(*state)
		stateFilter = &v
	}

	var total int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM orders WHERE team_id = $1 AND ($2::TEXT IS NULL OR state = $2)`,
		teamID, stateFilter).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count orders: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE team_id = $1 AND ($2::TEXT IS NULL OR state = $2)
		 ORDER BY seq DESC LIMIT $3 OFFSET $4`,
		teamID, stateFilter, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, o)
	}
	return result, total, rows.Err()
}

func (s *PostgresStore) ListSubmitted(ctx context.Context, stockID string) ([]*domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE stock_id = $1 AND state = 'SUBMITTED'
		 ORDER BY created_at, seq`, stockID)
	if err != nil {
		return nil, fmt.Errorf("list submitted orders: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	return result, rows.Err()
}
