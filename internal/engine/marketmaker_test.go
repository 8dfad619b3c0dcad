package engine

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

func optPrice(s string) *decimal.Decimal {
	if s == "" {
		return nil
	}
	return price(s)
}

func TestMarketMakerPrice(t *testing.T) {
	tests := []struct {
		name      string
		bid, ask  string
		bids      int
		asks      int
		expected  string
		withPrice bool
	}{
		{name: "balanced", bid: "10", ask: "12", bids: 1, asks: 1, expected: "11", withPrice: true},
		{name: "more asks lean to the ask", bid: "10", ask: "12", bids: 1, asks: 3, expected: "11.5", withPrice: true},
		{name: "more bids lean to the bid", bid: "10", ask: "12", bids: 3, asks: 1, expected: "10.5", withPrice: true},
		{name: "bid only", bid: "10", bids: 2, expected: "10", withPrice: true},
		{name: "ask only", ask: "12", asks: 2, expected: "12", withPrice: true},
		{name: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bid, ask := optPrice(tt.bid), optPrice(tt.ask)

			got, ok := MarketMakerPrice(bid, ask, tt.bids, tt.asks)
			if ok != tt.withPrice {
				t.Fatalf("expected ok=%v, got %v", tt.withPrice, ok)
			}
			if ok && !got.Equal(dec(tt.expected)) {
				t.Errorf("expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestResolvePrice(t *testing.T) {
	tm := newTestMarket(t, "10")
	tm.fund(t, "a", "1000", 0)
	tm.fund(t, "b", "0", 100)

	tm.submit(t, "a", domain.OrderSideBid, price("9"), 5)
	tm.submit(t, "b", domain.OrderSideAsk, price("11"), 5)
	tm.submit(t, "b", domain.OrderSideAsk, price("12"), 5)

	ok, err := tm.matcher.ResolvePrice(context.Background(), tm.stock(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok {
		t.Fatal("expected a price")
	}
	// 9 + (11 − 9) × 2/3
	if got := tm.stock(t).Price; !got.Equal(dec("10.3333")) {
		t.Errorf("expected 10.3333, got %s", got)
	}
	quotes, _ := tm.store.ListQuotes(context.Background(), "stock-1")
	if len(quotes) != 1 {
		t.Errorf("expected 1 quote, got %d", len(quotes))
	}
	if len(tm.events.prices) != 1 {
		t.Errorf("expected 1 price event, got %d", len(tm.events.prices))
	}
}

func TestResolvePrice_EmptyBookKeepsPrice(t *testing.T) {
	tm := newTestMarket(t, "10")

	ok, err := tm.matcher.ResolvePrice(context.Background(), tm.stock(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected no price from an empty book")
	}
	if !tm.stock(t).Price.Equal(dec("10")) {
		t.Errorf("expected the price to stay 10, got %s", tm.stock(t).Price)
	}
}
