package store

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

// MarketStore is a thread-safe in-memory store for stocks, quotes and
// price paths.
type MarketStore struct {
	mu        sync.RWMutex
	stocks    map[string]*domain.Stock
	simStocks map[string][]string        // simulation_id → stock ids (insertion order)
	quotes    map[string][]*domain.Quote // stock_id → quotes (chronological)
	paths     map[string]*domain.CompanyPricePath
}

// NewMarketStore creates an empty MarketStore.
func NewMarketStore() *MarketStore {
	return &MarketStore{
		stocks:    make(map[string]*domain.Stock),
		simStocks: make(map[string][]string),
		quotes:    make(map[string][]*domain.Quote),
		paths:     make(map[string]*domain.CompanyPricePath),
	}
}

func cloneStock(s *domain.Stock) *domain.Stock {
	c := *s
	if s.OpeningPrice != nil {
		op := *s.OpeningPrice
		c.OpeningPrice = &op
	}
	return &c
}

// CreateStock adds a stock to the store.
func (s *MarketStore) CreateStock(_ context.Context, st *domain.Stock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stocks[st.StockID] = cloneStock(st)
	s.simStocks[st.SimulationID] = append(s.simStocks[st.SimulationID], st.StockID)
	return nil
}

// GetStock retrieves a stock by ID. It returns domain.ErrStockNotFound
// if the stock does not exist.
func (s *MarketStore) GetStock(_ context.Context, id string) (*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.stocks[id]
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	return cloneStock(st), nil
}

// ListStocks returns the stocks of a simulation in creation order.
func (s *MarketStore) ListStocks(_ context.Context, simulationID string) ([]*domain.Stock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.simStocks[simulationID]
	result := make([]*domain.Stock, 0, len(ids))
	for _, id := range ids {
		result = append(result, cloneStock(s.stocks[id]))
	}
	return result, nil
}

// SetStockPrice updates the last price of a stock.
func (s *MarketStore) SetStockPrice(_ context.Context, stockID string, price decimal.Decimal, at time.Time) (*domain.Stock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.stocks[stockID]
	if !ok {
		return nil, domain.ErrStockNotFound
	}
	st.SetPrice(price, at)
	return cloneStock(st), nil
}

// AppendQuote adds a quote to the stock's chronological list.
func (s *MarketStore) AppendQuote(_ context.Context, q *domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *q
	s.quotes[q.StockID] = append(s.quotes[q.StockID], &c)
	return nil
}

// ListQuotes returns a copy of the stock's quotes in chronological order.
func (s *MarketStore) ListQuotes(_ context.Context, stockID string) ([]*domain.Quote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	quotes := s.quotes[stockID]
	result := make([]*domain.Quote, len(quotes))
	copy(result, quotes)
	return result, nil
}

// SavePricePath stores the price path of a stock, replacing any previous one.
func (s *MarketStore) SavePricePath(_ context.Context, p *domain.CompanyPricePath) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.paths[p.StockID] = p
	return nil
}

// GetPricePath returns the price path of a stock. Paths are read-only
// once stored, so the stored value is shared.
func (s *MarketStore) GetPricePath(_ context.Context, stockID string) (*domain.CompanyPricePath, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.paths[stockID]
	if !ok {
		return nil, domain.ErrPricePathNotFound
	}
	return p, nil
}
