package service

import (
	"context"
	"errors"
	"testing"

	"github.com/efreitasn/tradesim/internal/domain"
)

func TestBook_AggregatesLevels(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	m := env.running(t)

	env.submit(t, m.alpha, m.stock, domain.OrderSideAsk, "105", 5)
	env.submit(t, m.beta, m.stock, domain.OrderSideAsk, "105", 3)
	env.submit(t, m.beta, m.stock, domain.OrderSideAsk, "108", 1)
	env.submit(t, m.alpha, m.stock, domain.OrderSideBid, "95", 2)

	levels, err := env.stocks.Book(ctx, m.stock.StockID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 3 {
		t.Fatalf("got %d levels, want 3", len(levels))
	}
	if levels[0].Side != domain.OrderSideBid || !levels[0].Price.Equal(dec("95")) || levels[0].Quantity != 2 {
		t.Errorf("unexpected bid level: %+v", levels[0])
	}
	if levels[1].Side != domain.OrderSideAsk || !levels[1].Price.Equal(dec("105")) {
		t.Errorf("expected the best ask at 105 second, got %+v", levels[1])
	}
	if levels[1].Quantity != 8 || levels[1].OrderCount != 2 {
		t.Errorf("got %d shares in %d orders at 105, want 8 in 2", levels[1].Quantity, levels[1].OrderCount)
	}
	if !levels[2].Price.Equal(dec("108")) {
		t.Errorf("got last level at %s, want 108", levels[2].Price)
	}
}

func TestHistory_SummarisesTradesByDay(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	m := env.running(t)

	env.submit(t, m.alpha, m.stock, domain.OrderSideAsk, "110", 10)
	env.submit(t, m.beta, m.stock, domain.OrderSideBid, "110", 10)
	env.submit(t, m.beta, m.stock, domain.OrderSideAsk, "104", 1)
	env.submit(t, m.alpha, m.stock, domain.OrderSideBid, "104", 1)

	bars, err := env.stocks.History(ctx, m.stock.StockID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 1 {
		t.Fatalf("got %d bars, want 1", len(bars))
	}
	bar := bars[0]
	if bar.Round != 1 || bar.Day != 1 {
		t.Errorf("got R%d/D%d, want R1/D1", bar.Round, bar.Day)
	}
	if !bar.Open.Equal(dec("110")) || !bar.High.Equal(dec("110")) || !bar.Low.Equal(dec("104")) || !bar.Close.Equal(dec("104")) {
		t.Errorf("got OHLC %s/%s/%s/%s, want 110/110/104/104", bar.Open, bar.High, bar.Low, bar.Close)
	}
	if bar.Volume != 11 {
		t.Errorf("got volume %d, want 11", bar.Volume)
	}

	quotes, err := env.stocks.Quotes(ctx, m.stock.StockID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(quotes) != 3 {
		t.Fatalf("got %d quotes, want opening plus 2 trades", len(quotes))
	}
	if !quotes[0].Price.Equal(dec("100")) || !quotes[2].Price.Equal(dec("104")) {
		t.Errorf("got quotes %s..%s, want 100..104", quotes[0].Price, quotes[2].Price)
	}
}

func TestHoldings_ValuesAtLastPrice(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	m := env.running(t)

	env.submit(t, m.alpha, m.stock, domain.OrderSideAsk, "120", 10)
	env.submit(t, m.beta, m.stock, domain.OrderSideBid, "120", 10)

	snap, err := env.stocks.Holdings(ctx, m.beta.TeamID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.SimulationID != m.sim.SimulationID || snap.Round != 1 || snap.Day != 1 {
		t.Errorf("unexpected snapshot header: %s R%d/D%d", snap.SimulationID, snap.Round, snap.Day)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("got %d positions, want 1", len(snap.Positions))
	}
	p := snap.Positions[0]
	if p.Symbol != "AA" || p.Quantity != 60 {
		t.Errorf("got %s × %d, want AA × 60", p.Symbol, p.Quantity)
	}
	// 50 × 100 + 10 × 120 bought, now worth 60 × 120.
	if !p.PurchaseValue.Equal(dec("6200")) || !p.MarketValue.Equal(dec("7200")) {
		t.Errorf("got purchase %s, market %s; want 6200, 7200", p.PurchaseValue, p.MarketValue)
	}
	if !snap.Cash.Total.Equal(dec("8800")) {
		t.Errorf("got cash %s, want 8800", snap.Cash.Total)
	}

	divs, err := env.stocks.Dividends(ctx, m.beta.TeamID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(divs) != 0 {
		t.Errorf("expected no dividends before the first round ends, got %d", len(divs))
	}
}

func TestStockQueries_NotFound(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	if _, err := env.stocks.Get(ctx, "missing"); !errors.Is(err, domain.ErrStockNotFound) {
		t.Errorf("Get: expected ErrStockNotFound, got %v", err)
	}
	if _, err := env.stocks.Book(ctx, "missing"); !errors.Is(err, domain.ErrStockNotFound) {
		t.Errorf("Book: expected ErrStockNotFound, got %v", err)
	}
	if _, err := env.stocks.History(ctx, "missing"); !errors.Is(err, domain.ErrStockNotFound) {
		t.Errorf("History: expected ErrStockNotFound, got %v", err)
	}
	if _, err := env.stocks.Quotes(ctx, "missing"); !errors.Is(err, domain.ErrStockNotFound) {
		t.Errorf("Quotes: expected ErrStockNotFound, got %v", err)
	}
	if _, err := env.stocks.Holdings(ctx, "missing"); !errors.Is(err, domain.ErrTeamNotFound) {
		t.Errorf("Holdings: expected ErrTeamNotFound, got %v", err)
	}
	if _, err := env.stocks.Dividends(ctx, "missing"); !errors.Is(err, domain.ErrTeamNotFound) {
		t.Errorf("Dividends: expected ErrTeamNotFound, got %v", err)
	}
}
