package service

import (
	"context"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/store"
)

// StockService handles book, price history and portfolio queries.
type StockService struct {
	store   store.Store
	matcher *engine.Matcher
	oracle  *oracle.Oracle
}

// NewStockService creates a new StockService with the given dependencies.
func NewStockService(st store.Store, matcher *engine.Matcher, o *oracle.Oracle) *StockService {
	return &StockService{
		store:   st,
		matcher: matcher,
		oracle:  o,
	}
}

// Get retrieves a stock by ID.
func (s *StockService) Get(ctx context.Context, stockID string) (*domain.Stock, error) {
	return s.store.GetStock(ctx, stockID)
}

// Book returns the aggregated price levels of a stock's order book:
// bids before asks, market orders before limits on each side.
func (s *StockService) Book(ctx context.Context, stockID string) ([]engine.PriceLevel, error) {
	stock, err := s.store.GetStock(ctx, stockID)
	if err != nil {
		return nil, err
	}
	return s.matcher.Book(ctx, stock)
}

// History returns the daily OHLCV summary of a stock's trades.
func (s *StockService) History(ctx context.Context, stockID string) ([]domain.HistoricalPrice, error) {
	if _, err := s.store.GetStock(ctx, stockID); err != nil {
		return nil, err
	}
	return s.oracle.History(ctx, stockID)
}

// Quotes returns every recorded price of a stock, oldest first.
func (s *StockService) Quotes(ctx context.Context, stockID string) ([]*domain.Quote, error) {
	if _, err := s.store.GetStock(ctx, stockID); err != nil {
		return nil, err
	}
	return s.store.ListQuotes(ctx, stockID)
}

// Holdings returns a team's portfolio valued at the current prices.
func (s *StockService) Holdings(ctx context.Context, teamID string) (*oracle.PortfolioSnapshot, error) {
	team, err := s.store.GetTeam(ctx, teamID)
	if err != nil {
		return nil, err
	}
	return s.oracle.Holdings(ctx, team.SimulationID, team.TeamID)
}

// Dividends returns the dividends a team received, by round.
func (s *StockService) Dividends(ctx context.Context, teamID string) ([]oracle.DividendEntry, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.oracle.Dividends(ctx, teamID)
}
