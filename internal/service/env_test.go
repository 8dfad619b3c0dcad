package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/clock"
	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/liquidity"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/store"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(v int) *int { return &v }

// fakePaths returns flat price paths worth 100 that pay 1 per share each
// round, or err.
type fakePaths struct {
	err error
}

func (f *fakePaths) Generate(stockID string, t domain.Ticker) (*domain.CompanyPricePath, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &domain.CompanyPricePath{StockID: stockID}
	for i := 0; i < t.NbRounds; i++ {
		p.NetIncome = append(p.NetIncome, dec("3"))
		p.RoundDividends = append(p.RoundDividends, dec("1"))
		p.ShareValue = append(p.ShareValue, dec("100"))
		p.Drift = append(p.Drift, decimal.Zero)
	}
	return p, nil
}

// testEnv bundles all dependencies needed for service tests.
type testEnv struct {
	store    *store.Memory
	oracle   *oracle.Oracle
	matcher  *engine.Matcher
	clock    *clock.Clock
	paths    *fakePaths
	sims     *SimulationService
	orders   *OrderService
	stocks   *StockService
	webhooks *WebhookService
}

func newTestEnv() *testEnv {
	s := store.NewMemory()
	o := oracle.New(s, s, s, s)
	wh := NewWebhookService(s, nil, discard, 5*time.Second)
	m := engine.NewMatcher(s, o, wh)
	agent := liquidity.NewAgent(m, o, s, nil, discard, 1)
	c := clock.New(s, m, agent, o, nil, nil, discard, time.Second, 2)
	paths := &fakePaths{}
	return &testEnv{
		store:    s,
		oracle:   o,
		matcher:  m,
		clock:    c,
		paths:    paths,
		sims:     NewSimulationService(s, o, c, paths, nil, discard),
		orders:   NewOrderService(m, s),
		stocks:   NewStockService(s, m, o),
		webhooks: wh,
	}
}

// market is a simulation set up by running.
type market struct {
	sim     *domain.Simulation
	alpha   *domain.Team
	beta    *domain.Team
	manager *domain.Team
	stock   *domain.Stock
}

// createSimulation creates a one-company simulation without transaction
// costs and with the given player teams.
func (env *testEnv) createSimulation(t *testing.T, teams ...string) (*domain.Simulation, []*domain.Team) {
	t.Helper()
	ctx := context.Background()
	var nbShares int64 = 1000
	sim, err := env.sims.Create(ctx, CreateSimulationRequest{
		Name:                    "test",
		NbCompanies:             intPtr(1),
		NbRounds:                intPtr(2),
		NbDays:                  intPtr(3),
		Capital:                 decPtr("10000"),
		NbShares:                &nbShares,
		TransactionCost:         decPtr("0"),
		VariableTransactionCost: decPtr("0"),
	})
	if err != nil {
		t.Fatalf("failed to create simulation: %v", err)
	}
	var created []*domain.Team
	for _, name := range teams {
		team, err := env.sims.AddTeam(ctx, sim.SimulationID, name)
		if err != nil {
			t.Fatalf("failed to add team %s: %v", name, err)
		}
		created = append(created, team)
	}
	return sim, created
}

// running sets up a RUNNING simulation at R1/D1 with teams alpha and beta.
// Each team holds 10000 cash and 50 shares priced at 100.
func (env *testEnv) running(t *testing.T) *market {
	t.Helper()
	ctx := context.Background()
	sim, teams := env.createSimulation(t, "alpha", "beta")
	if _, err := env.sims.Initialize(ctx, sim.SimulationID); err != nil {
		t.Fatalf("failed to initialize: %v", err)
	}
	if err := env.sims.AdvanceState(ctx, sim.SimulationID, "RUNNING"); err != nil {
		t.Fatalf("failed to start: %v", err)
	}
	if n := env.sims.Tick(ctx); n != 1 {
		t.Fatalf("expected the first tick to start the clock, got %d", n)
	}

	stocks, err := env.store.ListStocks(ctx, sim.SimulationID)
	if err != nil || len(stocks) != 1 {
		t.Fatalf("expected 1 stock, got %d (%v)", len(stocks), err)
	}
	all, err := env.store.ListTeams(ctx, sim.SimulationID)
	if err != nil {
		t.Fatalf("failed to list teams: %v", err)
	}
	m := &market{sim: sim, alpha: teams[0], beta: teams[1], stock: stocks[0]}
	for _, team := range all {
		if team.IsLiquidityManager() {
			m.manager = team
		}
	}
	return m
}

func (env *testEnv) submit(t *testing.T, team *domain.Team, stock *domain.Stock, side domain.OrderSide, price string, qty int64) *engine.Result {
	t.Helper()
	req := SubmitOrderRequest{TeamID: team.TeamID, StockID: stock.StockID, Side: side, Quantity: qty}
	if price != "" {
		req.Price = decPtr(price)
	}
	res, err := env.orders.SubmitOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("failed to submit order: %v", err)
	}
	return res
}
