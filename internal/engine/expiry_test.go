package engine

import (
	"context"
	"testing"

	"github.com/efreitasn/tradesim/internal/domain"
)

func (tm *testMarket) submitAt(t *testing.T, teamID string, side domain.OrderSide, qty int64, round, day int) *domain.Order {
	t.Helper()
	res, err := tm.matcher.Submit(context.Background(), &domain.Order{
		SimulationID: "sim-1",
		StockID:      "stock-1",
		TeamID:       teamID,
		Side:         side,
		Quantity:     qty,
		Price:        price("10"),
		Round:        round,
		Day:          day,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res.Order
}

func TestExpireBefore(t *testing.T) {
	tm := newTestMarket(t, "10")
	tm.fund(t, "lm", "100000", 1000)
	tm.fund(t, "player", "1000", 0)

	old := tm.submitAt(t, "lm", domain.OrderSideAsk, 10, 1, 1)
	current := tm.submitAt(t, "lm", domain.OrderSideAsk, 10, 1, 2)
	bid := tm.submitAt(t, "lm", domain.OrderSideBid, 10, 1, 1)
	tm.submit(t, "player", domain.OrderSideBid, price("5"), 1)

	expired, err := tm.matcher.ExpireBefore(context.Background(), tm.stock(t), "lm", domain.ClockState{Round: 1, Day: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 2 {
		t.Fatalf("expected 2 expired orders, got %d", len(expired))
	}
	for _, id := range []string{old.OrderID, bid.OrderID} {
		o := tm.order(t, id)
		if o.State != domain.OrderStateFailed || o.FailureReason != domain.FailureExpired {
			t.Errorf("order %s: expected FAILED expired, got %s %q", id, o.State, o.FailureReason)
		}
	}
	if tm.order(t, current.OrderID).State != domain.OrderStateSubmitted {
		t.Error("expected the order of the current day to stay SUBMITTED")
	}
	book := tm.matcher.books.GetOrCreate("stock-1")
	if book.Len() != 2 {
		t.Errorf("expected the current ask and the player bid to remain, got %d orders", book.Len())
	}
	if len(tm.events.failed) != 2 {
		t.Errorf("expected 2 failure events, got %d", len(tm.events.failed))
	}
}

func TestExpireBefore_NewRound(t *testing.T) {
	tm := newTestMarket(t, "10")
	tm.fund(t, "lm", "100000", 1000)
	tm.submitAt(t, "lm", domain.OrderSideAsk, 10, 1, 10)

	expired, err := tm.matcher.ExpireBefore(context.Background(), tm.stock(t), "lm", domain.ClockState{Round: 2, Day: 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected the last day's order to expire, got %d", len(expired))
	}
}

func TestExpireMarketOrdersBefore(t *testing.T) {
	tm := newTestMarket(t, "10")
	tm.fund(t, "player", "1000", 0)

	market := tm.submit(t, "player", domain.OrderSideBid, nil, 30).Order
	limit := tm.submit(t, "player", domain.OrderSideBid, price("9"), 5).Order
	if market.State != domain.OrderStateSubmitted {
		t.Fatalf("expected the market bid to rest, got %s", market.State)
	}

	expired, err := tm.matcher.ExpireMarketOrdersBefore(context.Background(), tm.stock(t), domain.ClockState{Round: 1, Day: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(expired) != 1 || expired[0].OrderID != market.OrderID {
		t.Fatalf("expected only the market bid to expire, got %d orders", len(expired))
	}
	if o := tm.order(t, market.OrderID); o.State != domain.OrderStateFailed || o.FailureReason != domain.FailureExpired {
		t.Errorf("expected FAILED expired, got %s %q", o.State, o.FailureReason)
	}
	if tm.order(t, limit.OrderID).State != domain.OrderStateSubmitted {
		t.Error("expected the limit bid to keep resting")
	}
}
