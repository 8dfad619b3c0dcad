package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/store"
)

// ValidOrderStates lists all valid order state values for filtering.
var ValidOrderStates = map[domain.OrderState]bool{
	domain.OrderStateSubmitted: true,
	domain.OrderStateProcessed: true,
	domain.OrderStateFailed:    true,
}

// SubmitOrderRequest represents the input for order submission. A nil
// Price makes a market order.
type SubmitOrderRequest struct {
	TeamID   string
	StockID  string
	Side     domain.OrderSide
	Quantity int64
	Price    *decimal.Decimal
}

// OrderService handles order submission, retrieval and listing.
type OrderService struct {
	matcher *engine.Matcher
	store   store.Store
}

// NewOrderService creates a new OrderService with the given dependencies.
func NewOrderService(matcher *engine.Matcher, st store.Store) *OrderService {
	return &OrderService{
		matcher: matcher,
		store:   st,
	}
}

// SubmitOrder validates the request, stamps the order with the current
// clock and runs it through the matching engine. Orders are only accepted
// while the simulation is RUNNING and its clock has started.
func (s *OrderService) SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*engine.Result, error) {
	if req.Side != domain.OrderSideBid && req.Side != domain.OrderSideAsk {
		return nil, &domain.ValidationError{Message: "side must be 'BID' or 'ASK'"}
	}
	if req.Quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be a positive integer"}
	}
	if req.Price != nil {
		if err := domain.ValidatePrice(*req.Price); err != nil {
			return nil, &domain.ValidationError{Message: err.Error()}
		}
	}

	team, err := s.store.GetTeam(ctx, req.TeamID)
	if err != nil {
		return nil, err
	}
	if team.IsLiquidityManager() {
		return nil, &domain.ValidationError{Message: "the liquidity manager cannot submit orders"}
	}
	stock, err := s.store.GetStock(ctx, req.StockID)
	if err != nil {
		return nil, err
	}
	if stock.SimulationID != team.SimulationID {
		return nil, &domain.ValidationError{Message: "stock and team belong to different simulations"}
	}

	sim, err := s.store.GetSimulation(ctx, team.SimulationID)
	if err != nil {
		return nil, err
	}
	if sim.State != domain.StateRunning {
		return nil, domain.ErrMarketClosed
	}
	clock, err := s.store.LastSnapshot(ctx, sim.SimulationID)
	if errors.Is(err, domain.ErrClockNotStarted) {
		return nil, domain.ErrMarketClosed
	}
	if err != nil {
		return nil, fmt.Errorf("last snapshot: %w", err)
	}

	order := &domain.Order{
		SimulationID: sim.SimulationID,
		StockID:      stock.StockID,
		TeamID:       team.TeamID,
		Side:         req.Side,
		Quantity:     req.Quantity,
		Price:        req.Price,
		Round:        clock.Round,
		Day:          clock.Day,
	}
	return s.matcher.Submit(ctx, order)
}

// GetOrder retrieves an order by ID.
func (s *OrderService) GetOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	return s.store.GetOrder(ctx, orderID)
}

// ListOrders returns a paginated list of a team's orders, newest first,
// with optional state filtering.
func (s *OrderService) ListOrders(ctx context.Context, teamID string, state *domain.OrderState, page, limit int) ([]*domain.Order, int, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, 0, err
	}

	if state != nil && !ValidOrderStates[*state] {
		return nil, 0, &domain.ValidationError{
			Message: fmt.Sprintf("Invalid state filter: '%s'. Must be one of: SUBMITTED, PROCESSED, FAILED", *state),
		}
	}
	if page < 1 {
		return nil, 0, &domain.ValidationError{Message: "page must be >= 1"}
	}
	if limit < 1 || limit > 100 {
		return nil, 0, &domain.ValidationError{Message: "limit must be between 1 and 100"}
	}

	return s.store.ListOrdersByTeam(ctx, teamID, state, page, limit)
}
