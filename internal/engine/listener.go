package engine

import (
	"context"

	"github.com/efreitasn/tradesim/internal/domain"
)

// Listener receives market events once the matching section that raised
// them has been released.
type Listener interface {
	TradeExecuted(ctx context.Context, trade *domain.Trade)
	OrderFailed(ctx context.Context, order *domain.Order)
	PriceChanged(ctx context.Context, stock *domain.Stock)
}

// Listeners fans events out to every listener in order.
type Listeners []Listener

func (ls Listeners) TradeExecuted(ctx context.Context, trade *domain.Trade) {
	for _, l := range ls {
		l.TradeExecuted(ctx, trade)
	}
}

func (ls Listeners) OrderFailed(ctx context.Context, order *domain.Order) {
	for _, l := range ls {
		l.OrderFailed(ctx, order)
	}
}

func (ls Listeners) PriceChanged(ctx context.Context, stock *domain.Stock) {
	for _, l := range ls {
		l.PriceChanged(ctx, stock)
	}
}
