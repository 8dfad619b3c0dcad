package oracle

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/store"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixture struct {
	store  *store.Memory
	oracle *Oracle
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	now := time.Now()

	s.CreateSimulation(ctx, &domain.Simulation{SimulationID: "sim-1", Name: "test", State: domain.StateRunning, CreatedAt: now})
	for _, team := range []*domain.Team{
		{TeamID: "alpha", SimulationID: "sim-1", Name: "Alpha", Type: domain.TeamPlayers},
		{TeamID: "beta", SimulationID: "sim-1", Name: "Beta", Type: domain.TeamPlayers},
		{TeamID: "lm", SimulationID: "sim-1", Name: "Liquidity", Type: domain.TeamLiquidityManager},
	} {
		if err := s.CreateTeam(ctx, team); err != nil {
			t.Fatalf("create team: %v", err)
		}
	}
	s.CreateStock(ctx, &domain.Stock{StockID: "aa", SimulationID: "sim-1", Symbol: "AA", Quantity: 1000, Price: dec("10")})
	s.CreateStock(ctx, &domain.Stock{StockID: "bb", SimulationID: "sim-1", Symbol: "BB", Quantity: 1000, Price: dec("20")})

	s.Record(ctx, &domain.Transaction{
		SimulationID: "sim-1",
		Type:         domain.TransactionInitial,
		FulfilledAt:  now,
		Lines: []domain.TransactionLine{
			{TeamID: "alpha", Asset: domain.Cash{Value: dec("1000")}},
			{TeamID: "beta", Asset: domain.Cash{Value: dec("1000")}},
			{TeamID: "alpha", Asset: domain.Stocks{StockID: "aa", Shares: 50, UnitPrice: dec("8")}},
			{TeamID: "lm", Asset: domain.Stocks{StockID: "aa", Shares: 950, UnitPrice: dec("8")}},
		},
	})
	return &fixture{store: s, oracle: New(s, s, s, s)}
}

func (f *fixture) trade(t *testing.T, round, day int, seller, buyer, stockID string, qty int64, price string) {
	t.Helper()
	p := dec(price)
	value := p.Mul(decimal.NewFromInt(qty))
	err := f.store.Record(context.Background(), &domain.Transaction{
		SimulationID: "sim-1",
		Type:         domain.TransactionOrder,
		Round:        round,
		Day:          day,
		FulfilledAt:  time.Now(),
		Lines: []domain.TransactionLine{
			{TeamID: seller, Asset: domain.Stocks{StockID: stockID, Shares: -qty, UnitPrice: p}},
			{TeamID: seller, Asset: domain.Cash{Value: value}},
			{TeamID: buyer, Asset: domain.Stocks{StockID: stockID, Shares: qty, UnitPrice: p}},
			{TeamID: buyer, Asset: domain.Cash{Value: value.Neg()}},
		},
	})
	if err != nil {
		t.Fatalf("record trade: %v", err)
	}
}

func TestCashAndShares(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.trade(t, 1, 1, "alpha", "beta", "aa", 10, "12")

	cash, err := f.oracle.Cash(ctx, "sim-1", "beta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !cash.Equal(dec("880")) {
		t.Errorf("expected beta cash 880, got %s", cash)
	}
	shares, _ := f.oracle.Shares(ctx, "sim-1", "alpha", "aa")
	if shares != 40 {
		t.Errorf("expected alpha to hold 40 shares, got %d", shares)
	}
	shares, _ = f.oracle.Shares(ctx, "sim-1", "alpha", "bb")
	if shares != 0 {
		t.Errorf("expected no bb shares, got %d", shares)
	}
}

func TestCashIncludesEveryNonStockLine(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.store.Record(ctx, &domain.Transaction{
		SimulationID: "sim-1",
		Type:         domain.TransactionEOR,
		Round:        1,
		FulfilledAt:  time.Now(),
		Lines: []domain.TransactionLine{
			{TeamID: "alpha", Asset: domain.Dividends{Shares: 50, PerShare: dec("0.5")}},
			{TeamID: "alpha", Asset: domain.Interests{Rate: dec("0.0075"), Value: dec("7.5")}},
			{TeamID: "alpha", Asset: domain.Costs{Units: -1, UnitCost: dec("10")}},
		},
	})

	cash, _ := f.oracle.Cash(ctx, "sim-1", "alpha")
	// 1000 + 25 + 7.5 - 10
	if !cash.Equal(dec("1022.5")) {
		t.Errorf("expected cash 1022.5, got %s", cash)
	}
}

func TestHoldings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.store.AppendSnapshot(ctx, &domain.ClockState{SimulationID: "sim-1", Round: 2, Day: 3, Timestamp: time.Now()})

	snap, err := f.oracle.Holdings(ctx, "sim-1", "alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Positions) != 1 {
		t.Fatalf("expected 1 position, got %d", len(snap.Positions))
	}
	p := snap.Positions[0]
	if p.Symbol != "AA" || p.Quantity != 50 {
		t.Errorf("expected 50 AA, got %d %s", p.Quantity, p.Symbol)
	}
	if !p.PurchaseValue.Equal(dec("400")) || !p.MarketValue.Equal(dec("500")) {
		t.Errorf("expected cost 400 and value 500, got %s and %s", p.PurchaseValue, p.MarketValue)
	}
	if !p.Gain.Equal(dec("100")) || !p.GainPercent.Equal(dec("25")) {
		t.Errorf("expected gain 100 (25%%), got %s (%s%%)", p.Gain, p.GainPercent)
	}
	if !p.SharePercent.Equal(dec("5")) {
		t.Errorf("expected 5%% of outstanding shares, got %s", p.SharePercent)
	}
	if !snap.Cash.Total.Equal(dec("1000")) || !snap.Cash.Cash.Equal(dec("1000")) {
		t.Errorf("expected cash 1000, got %+v", snap.Cash)
	}
	if !snap.MarketValue.Equal(dec("1500")) || !snap.PurchaseValue.Equal(dec("1400")) {
		t.Errorf("expected totals 1500/1400, got %s/%s", snap.MarketValue, snap.PurchaseValue)
	}
	if snap.Round != 2 || snap.Day != 3 {
		t.Errorf("expected clock R2/D3, got R%d/D%d", snap.Round, snap.Day)
	}
}

func TestHoldingsWithoutClock(t *testing.T) {
	f := setup(t)

	snap, err := f.oracle.Holdings(context.Background(), "sim-1", "beta")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Positions) != 0 {
		t.Errorf("expected no positions, got %d", len(snap.Positions))
	}
	if snap.Round != 0 || snap.Day != 0 {
		t.Errorf("expected zero clock, got R%d/D%d", snap.Round, snap.Day)
	}
	if !snap.GainPercent.IsZero() {
		t.Errorf("expected zero gain, got %s", snap.GainPercent)
	}
}

func TestRankingSkipsLiquidityManager(t *testing.T) {
	f := setup(t)
	f.trade(t, 1, 1, "alpha", "beta", "aa", 10, "5")

	ranking, err := f.oracle.Ranking(context.Background(), "sim-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ranking) != 2 {
		t.Fatalf("expected 2 ranked teams, got %d", len(ranking))
	}
	// alpha: 1050 cash + 40 × 10; beta: 950 cash + 10 × 10
	if ranking[0].TeamID != "alpha" || !ranking[0].Balance.Equal(dec("1450")) {
		t.Errorf("expected alpha first with 1450, got %s with %s", ranking[0].TeamID, ranking[0].Balance)
	}
	if ranking[1].TeamID != "beta" || !ranking[1].Balance.Equal(dec("1050")) {
		t.Errorf("expected beta second with 1050, got %s with %s", ranking[1].TeamID, ranking[1].Balance)
	}
	if ranking[0].Rank != 1 || ranking[1].Rank != 2 {
		t.Errorf("expected ranks 1 and 2, got %d and %d", ranking[0].Rank, ranking[1].Rank)
	}
}

func TestHistory(t *testing.T) {
	f := setup(t)
	f.trade(t, 1, 1, "lm", "alpha", "aa", 10, "10")
	f.trade(t, 1, 1, "lm", "beta", "aa", 5, "12")
	f.trade(t, 1, 1, "lm", "beta", "aa", 5, "9")
	f.trade(t, 1, 2, "lm", "alpha", "aa", 3, "11")

	bars, err := f.oracle.History(context.Background(), "aa")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("expected 2 bars, got %d", len(bars))
	}
	b := bars[0]
	if !b.Open.Equal(dec("10")) || !b.High.Equal(dec("12")) || !b.Low.Equal(dec("9")) || !b.Close.Equal(dec("9")) {
		t.Errorf("unexpected OHLC %s/%s/%s/%s", b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume != 20 {
		t.Errorf("expected volume 20, got %d", b.Volume)
	}
	if bars[1].Day != 2 || bars[1].Volume != 3 {
		t.Errorf("expected day 2 with volume 3, got day %d volume %d", bars[1].Day, bars[1].Volume)
	}
}

func TestDividends(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for round := 1; round <= 2; round++ {
		f.store.Record(ctx, &domain.Transaction{
			SimulationID: "sim-1",
			Type:         domain.TransactionEOR,
			Round:        round,
			FulfilledAt:  time.Now(),
			Lines: []domain.TransactionLine{
				{TeamID: "alpha", Asset: domain.Dividends{Shares: 50, PerShare: dec("0.2")}},
			},
		})
	}

	divs, err := f.oracle.Dividends(ctx, "alpha")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(divs) != 2 {
		t.Fatalf("expected 2 payments, got %d", len(divs))
	}
	if divs[1].Round != 2 || !divs[1].Amount.Equal(dec("10")) {
		t.Errorf("expected round 2 amount 10, got round %d amount %s", divs[1].Round, divs[1].Amount)
	}
}
