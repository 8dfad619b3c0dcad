package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

func (s *PostgresStore) CreateStock(ctx context.Context, st *domain.Stock) error {
	var opening *string
	if st.OpeningPrice != nil {
		v := st.OpeningPrice.String()
		opening = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO stocks (id, simulation_id, symbol, name, quantity, price, opening_price, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8)`,
		st.StockID, st.SimulationID, st.Symbol, st.Name, st.Quantity,
		st.Price.String(), opening, st.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("%w: stock %s exists", domain.ErrAlreadyInitialized, st.Symbol)
		}
		return fmt.Errorf("insert stock: %w", err)
	}
	return nil
}

const stockColumns = `id, simulation_id, symbol, name, quantity, price::TEXT, opening_price::TEXT, updated_at`

func scanStock(row scanner) (*domain.Stock, error) {
	var st domain.Stock
	var price string
	var opening *string
	if err := row.Scan(&st.StockID, &st.SimulationID, &st.Symbol, &st.Name,
		&st.Quantity, &price, &opening, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.Price = parseDecimal(price)
	if opening != nil {
		op := parseDecimal(*opening)
		st.OpeningPrice = &op
	}
	return &st, nil
}

func (s *PostgresStore) GetStock(ctx context.Context, id string) (*domain.Stock, error) {
	st, err := scanStock(s.pool.QueryRow(ctx,
		`SELECT `+stockColumns+` FROM stocks WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrStockNotFound
		}
		return nil, fmt.Errorf("get stock %s: %w", id, err)
	}
	return st, nil
}

func (s *PostgresStore) ListStocks(ctx context.Context, simulationID string) ([]*domain.Stock, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+stockColumns+` FROM stocks WHERE simulation_id = $1 ORDER BY seq`, simulationID)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Stock, 0)
	for rows.Next() {
		st, err := scanStock(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, rows.Err()
}

// SetStockPrice sets the opening price in the same statement so that it
// is written at most once even under concurrent writers.
func (s *PostgresStore) SetStockPrice(ctx context.Context, stockID string, price decimal.Decimal, at time.Time) (*domain.Stock, error) {
	st, err := scanStock(s.pool.QueryRow(ctx,
		`UPDATE stocks SET
			price = $2::NUMERIC,
			opening_price = CASE
				WHEN opening_price IS NULL AND $2::NUMERIC <> 0 THEN $2::NUMERIC
				ELSE opening_price
			END,
			updated_at = $3
		 WHERE id = $1
		 RETURNING `+stockColumns,
		stockID, price.String(), at))
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrStockNotFound
		}
		return nil, fmt.Errorf("set stock price %s: %w", stockID, err)
	}
	return st, nil
}

func (s *PostgresStore) AppendQuote(ctx context.Context, q *domain.Quote) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO quotes (stock_id, price, round, day, ts) VALUES ($1, $2::NUMERIC, $3, $4, $5)`,
		q.StockID, q.Price.String(), q.Round, q.Day, q.Timestamp)
	if err != nil {
		return fmt.Errorf("insert quote: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListQuotes(ctx context.Context, stockID string) ([]*domain.Quote, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT stock_id, price::TEXT, round, day, ts FROM quotes WHERE stock_id = $1 ORDER BY id`, stockID)
	if err != nil {
		return nil, fmt.Errorf("list quotes: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Quote, 0)
	for rows.Next() {
		var q domain.Quote
		var price string
		if err := rows.Scan(&q.StockID, &price, &q.Round, &q.Day, &q.Timestamp); err != nil {
			return nil, err
		}
		q.Price = parseDecimal(price)
		result = append(result, &q)
	}
	return result, rows.Err()
}

func (s *PostgresStore) SavePricePath(ctx context.Context, p *domain.CompanyPricePath) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode price path: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO price_paths (stock_id, path, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (stock_id) DO UPDATE SET path = EXCLUDED.path, created_at = EXCLUDED.created_at`,
		p.StockID, data, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("save price path: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPricePath(ctx context.Context, stockID string) (*domain.CompanyPricePath, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT path FROM price_paths WHERE stock_id = $1`, stockID).Scan(&data)
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrPricePathNotFound
		}
		return nil, fmt.Errorf("get price path %s: %w", stockID, err)
	}
	var p domain.CompanyPricePath
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("decode price path %s: %w", stockID, err)
	}
	return &p, nil
}
