package engine

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

// MarketMakerPrice derives a reference price from the best limits of the
// book. With both sides it leans towards the side with more orders:
//
//	bid + (ask − bid) × askCount / (bidCount + askCount)
//
// With one side it is that side's best price; with none there is no price.
func MarketMakerPrice(bid, ask *decimal.Decimal, bidCount, askCount int) (decimal.Decimal, bool) {
	switch {
	case bid != nil && ask != nil:
		weight := decimal.NewFromInt(int64(askCount)).Div(decimal.NewFromInt(int64(bidCount + askCount)))
		return domain.RoundAmount(bid.Add(ask.Sub(*bid).Mul(weight))), true
	case bid != nil:
		return *bid, true
	case ask != nil:
		return *ask, true
	}
	return decimal.Zero, false
}

// ResolvePrice sets the reference price of a stock that did not trade
// from the state of its book. It reports whether the price was written.
func (m *Matcher) ResolvePrice(ctx context.Context, stock *domain.Stock) (bool, error) {
	unlock, err := m.locks.Acquire(ctx, stockKey(stock.SimulationID, stock.StockID))
	if err != nil {
		return false, err
	}
	var ev events
	ok, err := m.resolvePrice(ctx, stock.StockID, &ev)
	unlock()
	ev.fire(ctx)
	return ok, err
}

func (m *Matcher) resolvePrice(ctx context.Context, stockID string, ev *events) (bool, error) {
	book, err := m.book(ctx, stockID)
	if err != nil {
		return false, err
	}

	var bid, ask *decimal.Decimal
	if e, ok := book.Best(domain.OrderSideBid); ok {
		bid = &e.Price
	}
	if e, ok := book.Best(domain.OrderSideAsk); ok {
		ask = &e.Price
	}
	price, ok := MarketMakerPrice(bid, ask, book.LimitCount(domain.OrderSideBid), book.LimitCount(domain.OrderSideAsk))
	if !ok {
		return false, nil
	}

	now := m.now().UTC()
	stock, err := m.store.SetStockPrice(ctx, stockID, price, now)
	if err != nil {
		return false, fmt.Errorf("set stock price: %w", err)
	}
	clock, err := m.lastClock(ctx, stock.SimulationID)
	if err != nil {
		return false, err
	}
	if err := m.store.AppendQuote(ctx, &domain.Quote{
		StockID:   stockID,
		Price:     price,
		Round:     clock.Round,
		Day:       clock.Day,
		Timestamp: now,
	}); err != nil {
		return false, fmt.Errorf("append quote: %w", err)
	}
	ev.add(func(ctx context.Context) { m.listener.PriceChanged(ctx, stock) })
	return true, nil
}
