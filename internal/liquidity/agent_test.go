package liquidity

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/oracle"
)

type fakeSubmitter struct {
	mu     sync.Mutex
	orders []*domain.Order
}

func (f *fakeSubmitter) Submit(_ context.Context, o *domain.Order) (*engine.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, o)
	return &engine.Result{Order: o}, nil
}

type fakeBalances struct{ shares int64 }

func (f fakeBalances) Balance(context.Context, string, string) (oracle.Balance, error) {
	return oracle.Balance{Cash: decimal.Zero, Shares: map[string]int64{"stock-1": f.shares}}, nil
}

type fakePaths struct{ path *domain.CompanyPricePath }

func (f fakePaths) GetPricePath(context.Context, string) (*domain.CompanyPricePath, error) {
	if f.path == nil {
		return nil, domain.ErrPricePathNotFound
	}
	return f.path, nil
}

type fakeScheduler struct {
	delays []time.Duration
	tasks  []func(context.Context)
}

func (f *fakeScheduler) Schedule(d time.Duration, task func(context.Context)) {
	f.delays = append(f.delays, d)
	f.tasks = append(f.tasks, task)
}

func flatPath() *domain.CompanyPricePath {
	v := decimal.NewFromInt(100)
	return &domain.CompanyPricePath{
		StockID:        "stock-1",
		RoundDividends: []decimal.Decimal{decimal.NewFromInt(3)},
		ShareValue:     []decimal.Decimal{v},
		Drift:          []decimal.Decimal{decimal.Zero},
	}
}

func fixtures() (*domain.Simulation, *domain.Team, *domain.Stock) {
	sim := &domain.Simulation{SimulationID: "sim-1", Ticker: domain.DefaultTicker()}
	lm := &domain.Team{TeamID: "lm", SimulationID: "sim-1", Type: domain.TeamLiquidityManager}
	stock := &domain.Stock{StockID: "stock-1", SimulationID: "sim-1", Symbol: "AA"}
	return sim, lm, stock
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestPlan_SizeAndPrice(t *testing.T) {
	sim, lm, stock := fixtures()
	agent := NewAgent(&fakeSubmitter{}, fakeBalances{shares: 10000}, fakePaths{path: flatPath()}, nil, discard, 1)
	clock := domain.ClockState{Round: 1, Day: 3}

	for i := 0; i < 50; i++ {
		orders, err := agent.Plan(context.Background(), sim, lm, stock, clock)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var total int64
		for _, o := range orders {
			total += o.Quantity
			if o.TeamID != "lm" || o.Round != 1 || o.Day != 3 {
				t.Fatalf("unexpected order stamp %+v", o)
			}
			if o.Price.LessThan(decimal.NewFromInt(98)) || o.Price.GreaterThan(decimal.NewFromInt(102)) {
				t.Fatalf("expected a price within 2%% of 100, got %s", o.Price)
			}
		}
		if total > 1500 {
			t.Fatalf("expected at most 15%% of 10000 shares, got %d", total)
		}
		if len(orders) == 2 && orders[1].Quantity-orders[0].Quantity > 1 {
			t.Fatalf("expected an even split, got %d and %d", orders[0].Quantity, orders[1].Quantity)
		}
	}
}

func TestPlan_NothingWithoutShares(t *testing.T) {
	sim, lm, stock := fixtures()
	agent := NewAgent(&fakeSubmitter{}, fakeBalances{}, fakePaths{path: flatPath()}, nil, discard, 1)

	orders, err := agent.Plan(context.Background(), sim, lm, stock, domain.ClockState{Round: 1, Day: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("expected no orders, got %d", len(orders))
	}
}

func TestPlan_MissingPricePath(t *testing.T) {
	sim, lm, stock := fixtures()
	agent := NewAgent(&fakeSubmitter{}, fakeBalances{shares: 100}, fakePaths{}, nil, discard, 1)

	if _, err := agent.Plan(context.Background(), sim, lm, stock, domain.ClockState{Round: 1, Day: 1}); err == nil {
		t.Fatal("expected an error without a price path")
	}
}

func TestRun_StaggersSecondOrder(t *testing.T) {
	sim, lm, stock := fixtures()
	sub := &fakeSubmitter{}
	sched := &fakeScheduler{}
	agent := NewAgent(sub, fakeBalances{shares: 1000000}, fakePaths{path: flatPath()}, sched, discard, 7)

	// With a million shares the size is almost surely at least 2.
	if err := agent.Run(context.Background(), sim, lm, stock, domain.ClockState{Round: 1, Day: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.orders) != 1 {
		t.Fatalf("expected the first order submitted at once, got %d", len(sub.orders))
	}
	if len(sched.tasks) != 1 {
		t.Fatalf("expected the second order scheduled, got %d", len(sched.tasks))
	}
	if sched.delays[0] < 0 || sched.delays[0] > sim.Ticker.DayDuration/2 {
		t.Errorf("expected a delay within half a day, got %v", sched.delays[0])
	}

	sched.tasks[0](context.Background())
	if len(sub.orders) != 2 {
		t.Errorf("expected the scheduled order to be submitted, got %d", len(sub.orders))
	}
}

func TestRun_WithoutSchedulerSubmitsAll(t *testing.T) {
	sim, lm, stock := fixtures()
	sub := &fakeSubmitter{}
	agent := NewAgent(sub, fakeBalances{shares: 1000000}, fakePaths{path: flatPath()}, nil, discard, 7)

	if err := agent.Run(context.Background(), sim, lm, stock, domain.ClockState{Round: 1, Day: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(sub.orders) != 2 {
		t.Errorf("expected 2 orders, got %d", len(sub.orders))
	}
}
