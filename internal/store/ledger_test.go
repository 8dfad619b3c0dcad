package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

func tradeTx(at time.Time, qty int64, price string) *domain.Transaction {
	p := decimal.RequireFromString(price)
	value := p.Mul(decimal.NewFromInt(qty))
	return &domain.Transaction{
		SimulationID: "sim-1",
		Type:         domain.TransactionOrder,
		Round:        1,
		Day:          1,
		FulfilledAt:  at,
		Lines: []domain.TransactionLine{
			{TeamID: "seller", Asset: domain.Stocks{StockID: "stock-1", Shares: -qty, UnitPrice: p}},
			{TeamID: "seller", Asset: domain.Cash{Value: value}},
			{TeamID: "buyer", Asset: domain.Stocks{StockID: "stock-1", Shares: qty, UnitPrice: p}},
			{TeamID: "buyer", Asset: domain.Cash{Value: value.Neg()}},
			{TeamID: "buyer", Asset: domain.Costs{Units: -1, UnitCost: decimal.NewFromInt(10)}},
		},
	}
}

func TestLedgerStore_RecordAssignsIDs(t *testing.T) {
	s := NewLedgerStore()
	tx := tradeTx(time.Now(), 10, "12.50")

	if err := s.Record(context.Background(), tx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tx.TransactionID == "" {
		t.Fatal("expected a transaction id")
	}
	for _, l := range tx.Lines {
		if l.LineID == "" || l.TransactionID != tx.TransactionID {
			t.Fatalf("expected line ids bound to %s, got %+v", tx.TransactionID, l)
		}
	}
}

func payoutTx(kind domain.TransactionType, round int) *domain.Transaction {
	return &domain.Transaction{
		SimulationID: "sim-1",
		Type:         kind,
		Round:        round,
		Day:          5,
		FulfilledAt:  time.Now(),
		Lines: []domain.TransactionLine{
			{TeamID: "buyer", Asset: domain.Dividends{Shares: 10, PerShare: decimal.NewFromInt(1)}},
		},
	}
}

func TestLedgerStore_PaidOut(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()

	if err := s.Record(ctx, tradeTx(time.Now(), 10, "12.50")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid, _ := s.PaidOut(ctx, "sim-1", 1); paid {
		t.Fatal("expected a trade not to count as a payout")
	}

	if err := s.Record(ctx, payoutTx(domain.TransactionEOR, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid, _ := s.PaidOut(ctx, "sim-1", 1); !paid {
		t.Error("expected round 1 to be paid out")
	}
	if paid, _ := s.PaidOut(ctx, "sim-1", 2); paid {
		t.Error("expected round 2 not to be paid out")
	}
	if paid, _ := s.PaidOut(ctx, "sim-2", 1); paid {
		t.Error("expected another simulation not to be paid out")
	}

	if err := s.Record(ctx, payoutTx(domain.TransactionEOS, 2)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if paid, _ := s.PaidOut(ctx, "sim-1", 2); !paid {
		t.Error("expected the final round to be paid out")
	}
}

func TestLedgerStore_RecordRejectsUnbalanced(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()
	tx := tradeTx(time.Now(), 10, "12.50")
	tx.Lines[1] = domain.TransactionLine{TeamID: "seller", Asset: domain.Cash{Value: decimal.NewFromInt(1)}}

	if err := s.Record(ctx, tx); !errors.Is(err, domain.ErrUnbalancedTransaction) {
		t.Fatalf("expected ErrUnbalancedTransaction, got %v", err)
	}
	totals, _ := s.Totals(ctx, "sim-1", "seller")
	if len(totals) != 0 {
		t.Fatalf("a rejected transaction must leave no lines, got %d totals", len(totals))
	}
}

func TestLedgerStore_Totals(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()
	now := time.Now()

	s.Record(ctx, &domain.Transaction{
		SimulationID: "sim-1",
		Type:         domain.TransactionInitial,
		FulfilledAt:  now,
		Lines: []domain.TransactionLine{
			{TeamID: "buyer", Asset: domain.Cash{Value: decimal.NewFromInt(1000)}},
		},
	})
	s.Record(ctx, tradeTx(now, 10, "12.50"))
	s.Record(ctx, tradeTx(now, 4, "10"))

	totals, err := s.Totals(ctx, "sim-1", "buyer")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byAsset := make(map[domain.AssetType]domain.LineTotal)
	for _, tt := range totals {
		byAsset[tt.Asset] = tt
	}
	cash := byAsset[domain.AssetCash]
	if !cash.Amount.Equal(decimal.NewFromInt(1000 - 125 - 40)) {
		t.Errorf("expected cash 835, got %s", cash.Amount)
	}
	shares := byAsset[domain.AssetStocks]
	if shares.Quantity != 14 || shares.StockID != "stock-1" {
		t.Errorf("expected 14 shares of stock-1, got %d of %q", shares.Quantity, shares.StockID)
	}
	costs := byAsset[domain.AssetTransactions]
	if !costs.Amount.Equal(decimal.NewFromInt(-20)) {
		t.Errorf("expected costs -20, got %s", costs.Amount)
	}
}

func TestLedgerStore_StockLinesAndTradedSince(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	s.Record(ctx, tradeTx(base, 10, "12.50"))

	lines, _ := s.StockLines(ctx, "stock-1")
	if len(lines) != 2 {
		t.Fatalf("expected 2 stock lines, got %d", len(lines))
	}

	traded, _ := s.TradedSince(ctx, "stock-1", base)
	if !traded {
		t.Error("expected a trade at the boundary to count")
	}
	traded, _ = s.TradedSince(ctx, "stock-1", base.Add(time.Second))
	if traded {
		t.Error("expected no trade after the last one")
	}
}

func TestLedgerStore_TeamLines(t *testing.T) {
	s := NewLedgerStore()
	ctx := context.Background()
	s.Record(ctx, &domain.Transaction{
		SimulationID: "sim-1",
		Type:         domain.TransactionEOR,
		Round:        1,
		FulfilledAt:  time.Now(),
		Lines: []domain.TransactionLine{
			{TeamID: "t1", Asset: domain.Dividends{Shares: 100, PerShare: decimal.RequireFromString("0.5")}},
			{TeamID: "t1", Asset: domain.NewInterests(decimal.NewFromInt(1000), decimal.RequireFromString("0.0075"))},
		},
	})

	divs, _ := s.TeamLines(ctx, "t1", domain.AssetDividends)
	if len(divs) != 1 {
		t.Fatalf("expected 1 dividend line, got %d", len(divs))
	}
	if divs[0].Round != 1 || divs[0].Type != domain.TransactionEOR {
		t.Errorf("expected EOR round 1 stamp, got %s round %d", divs[0].Type, divs[0].Round)
	}
	if !divs[0].Asset.Amount().Equal(decimal.NewFromInt(50)) {
		t.Errorf("expected dividend 50, got %s", divs[0].Asset.Amount())
	}
}
