package engine

import (
	"context"
	"fmt"

	"github.com/efreitasn/tradesim/internal/domain"
)

// ExpireBefore fails the SUBMITTED orders of a team on one stock that were
// stamped before the given clock and removes them from the book. It
// returns the expired orders.
func (m *Matcher) ExpireBefore(ctx context.Context, stock *domain.Stock, teamID string, clock domain.ClockState) ([]*domain.Order, error) {
	unlock, err := m.locks.Acquire(ctx, stockKey(stock.SimulationID, stock.StockID))
	if err != nil {
		return nil, err
	}
	var ev events
	expired, err := m.expire(ctx, stock.StockID, clock, func(o *domain.Order) bool { return o.TeamID == teamID }, &ev)
	unlock()
	ev.fire(ctx)
	return expired, err
}

// ExpireMarketOrdersBefore fails every resting market order on one stock
// stamped before the given clock. Market orders only live for the day
// they were placed in.
func (m *Matcher) ExpireMarketOrdersBefore(ctx context.Context, stock *domain.Stock, clock domain.ClockState) ([]*domain.Order, error) {
	unlock, err := m.locks.Acquire(ctx, stockKey(stock.SimulationID, stock.StockID))
	if err != nil {
		return nil, err
	}
	var ev events
	expired, err := m.expire(ctx, stock.StockID, clock, func(o *domain.Order) bool { return o.IsMarket() }, &ev)
	unlock()
	ev.fire(ctx)
	return expired, err
}

func (m *Matcher) expire(ctx context.Context, stockID string, clock domain.ClockState, match func(*domain.Order) bool, ev *events) ([]*domain.Order, error) {
	book, err := m.book(ctx, stockID)
	if err != nil {
		return nil, err
	}

	var stale []*domain.Order
	for _, o := range book.Orders() {
		stamp := domain.ClockState{Round: o.Round, Day: o.Day}
		if match(o) && stamp.Before(clock) {
			stale = append(stale, o)
		}
	}

	for _, o := range stale {
		if err := m.fail(ctx, book, o, domain.FailureExpired, ev); err != nil {
			return nil, fmt.Errorf("expire order %s: %w", o.OrderID, err)
		}
	}
	return stale, nil
}
