// Package liquidity implements the synthetic liquidity manager: each
// simulated day it quotes every stock around its fair value so players
// always find a counterparty.
package liquidity

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/oracle"
)

const (
	// DefaultMaxFraction is the largest share of the manager's holdings
	// put on the book per stock and day.
	DefaultMaxFraction = 0.15

	// DefaultJitter is the relative spread of sub-order prices around the
	// fair value.
	DefaultJitter = 0.02
)

// Submitter runs an order through the matching engine.
type Submitter interface {
	Submit(ctx context.Context, order *domain.Order) (*engine.Result, error)
}

// BalanceReader returns a team's balance.
type BalanceReader interface {
	Balance(ctx context.Context, simulationID, teamID string) (oracle.Balance, error)
}

// PricePaths returns the price path of a stock.
type PricePaths interface {
	GetPricePath(ctx context.Context, stockID string) (*domain.CompanyPricePath, error)
}

// Scheduler runs a task after a delay.
type Scheduler interface {
	Schedule(delay time.Duration, task func(context.Context))
}

// Agent places the liquidity manager's daily orders.
type Agent struct {
	submitter   Submitter
	balances    BalanceReader
	paths       PricePaths
	scheduler   Scheduler // nil submits every sub-order at once
	logger      *slog.Logger
	maxFraction float64
	jitter      float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewAgent creates an Agent with the default sizing and jitter. A nil
// scheduler disables staggering.
func NewAgent(submitter Submitter, balances BalanceReader, paths PricePaths, scheduler Scheduler, logger *slog.Logger, seed uint64) *Agent {
	return &Agent{
		submitter:   submitter,
		balances:    balances,
		paths:       paths,
		scheduler:   scheduler,
		logger:      logger,
		maxFraction: DefaultMaxFraction,
		jitter:      DefaultJitter,
		rng:         rand.New(rand.NewPCG(seed, seed+1)),
	}
}

func (a *Agent) uniform(lo, hi float64) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return lo + (hi-lo)*a.rng.Float64()
}

func (a *Agent) side() domain.OrderSide {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.rng.IntN(2) == 0 {
		return domain.OrderSideBid
	}
	return domain.OrderSideAsk
}

// Plan sizes and prices the manager's orders for one stock and day
// without submitting them. It returns nil when there is nothing to place.
func (a *Agent) Plan(ctx context.Context, sim *domain.Simulation, manager *domain.Team, stock *domain.Stock, clock domain.ClockState) ([]*domain.Order, error) {
	balance, err := a.balances.Balance(ctx, sim.SimulationID, manager.TeamID)
	if err != nil {
		return nil, fmt.Errorf("manager balance: %w", err)
	}
	path, err := a.paths.GetPricePath(ctx, stock.StockID)
	if err != nil {
		return nil, fmt.Errorf("price path %s: %w", stock.Symbol, err)
	}
	fair := path.FairValue(clock.Round, clock.Day, sim.Ticker.NbDays)
	if !fair.IsPositive() {
		return nil, nil
	}

	size := int64(a.uniform(0, a.maxFraction) * float64(balance.SharesOf(stock.StockID)))
	first := size / 2
	var orders []*domain.Order
	for _, qty := range []int64{first, size - first} {
		if qty <= 0 {
			continue
		}
		p := domain.Cents(fair.Mul(decimal.NewFromFloat(a.uniform(1-a.jitter, 1+a.jitter))))
		if !p.IsPositive() {
			continue
		}
		orders = append(orders, &domain.Order{
			SimulationID: sim.SimulationID,
			StockID:      stock.StockID,
			TeamID:       manager.TeamID,
			Side:         a.side(),
			Quantity:     qty,
			Price:        &p,
			Round:        clock.Round,
			Day:          clock.Day,
		})
	}
	return orders, nil
}

// Run places the manager's orders for one stock and day. The second
// sub-order is delayed by up to half a day when a scheduler is set.
func (a *Agent) Run(ctx context.Context, sim *domain.Simulation, manager *domain.Team, stock *domain.Stock, clock domain.ClockState) error {
	orders, err := a.Plan(ctx, sim, manager, stock, clock)
	if err != nil {
		return err
	}

	for i, o := range orders {
		if i > 0 && a.scheduler != nil {
			delay := time.Duration(a.uniform(0, float64(sim.Ticker.DayDuration/2)))
			a.scheduler.Schedule(delay, func(ctx context.Context) {
				if _, err := a.submitter.Submit(ctx, o); err != nil {
					a.logger.Error("liquidity order", "stock", stock.Symbol, "error", err)
				}
			})
			continue
		}
		if _, err := a.submitter.Submit(ctx, o); err != nil {
			return fmt.Errorf("submit liquidity order: %w", err)
		}
	}
	return nil
}
