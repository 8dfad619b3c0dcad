// Package clock drives simulations through their rounds and days. Each
// tick advances every RUNNING simulation whose day has elapsed: stale
// liquidity orders are expired, prices are resolved for stocks that did
// not trade, dividends and interest are paid at the end of a round, and
// the liquidity manager quotes the new day.
package clock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/metrics"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/store"
)

// Market is the part of the matching engine the clock drives.
type Market interface {
	ExpireBefore(ctx context.Context, stock *domain.Stock, teamID string, clock domain.ClockState) ([]*domain.Order, error)
	ExpireMarketOrdersBefore(ctx context.Context, stock *domain.Stock, clock domain.ClockState) ([]*domain.Order, error)
	ResolvePrice(ctx context.Context, stock *domain.Stock) (bool, error)
}

// Liquidity places the liquidity manager's orders for one stock and day.
type Liquidity interface {
	Run(ctx context.Context, sim *domain.Simulation, manager *domain.Team, stock *domain.Stock, clock domain.ClockState) error
}

// BalanceReader returns a team's balance.
type BalanceReader interface {
	Balance(ctx context.Context, simulationID, teamID string) (oracle.Balance, error)
}

// Tasks queues background work.
type Tasks interface {
	Submit(task func(context.Context)) bool
}

// Listener is notified of clock advances and state changes.
type Listener interface {
	ClockAdvanced(ctx context.Context, clock domain.ClockState)
	StateChanged(ctx context.Context, simulationID string, from, to domain.SimulationState)
}

type nopListener struct{}

func (nopListener) ClockAdvanced(context.Context, domain.ClockState) {}

func (nopListener) StateChanged(context.Context, string, domain.SimulationState, domain.SimulationState) {
}

// Clock advances simulations. Each simulation is advanced under its own
// lock so concurrent ticks never move it twice.
type Clock struct {
	store     store.Store
	market    Market
	liquidity Liquidity
	balances  BalanceReader
	tasks     Tasks // nil runs liquidity inline
	listener  Listener
	logger    *slog.Logger
	interval  time.Duration
	workers   int
	locks     *engine.KeyedLocks
	now       func() time.Time
}

// New creates a Clock. A nil listener discards notifications.
func New(
	st store.Store,
	market Market,
	liquidity Liquidity,
	balances BalanceReader,
	tasks Tasks,
	listener Listener,
	logger *slog.Logger,
	interval time.Duration,
	workers int,
) *Clock {
	if listener == nil {
		listener = nopListener{}
	}
	if workers < 1 {
		workers = 1
	}
	return &Clock{
		store:     st,
		market:    market,
		liquidity: liquidity,
		balances:  balances,
		tasks:     tasks,
		listener:  listener,
		logger:    logger,
		interval:  interval,
		workers:   workers,
		locks:     engine.NewKeyedLocks(),
		now:       time.Now,
	}
}

// Start launches a background goroutine that ticks at the configured
// interval. It stops when ctx is cancelled.
func (c *Clock) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Tick(ctx)
			}
		}
	}()
}

// Tick advances every RUNNING simulation once and returns how many of
// them moved. A failing simulation is logged and counted; it never stops
// the others.
func (c *Clock) Tick(ctx context.Context) int {
	start := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(start).Seconds()) }()

	sims, err := c.store.ListSimulations(ctx, domain.StateRunning)
	if err != nil {
		metrics.TickErrors.Inc()
		c.logger.Error("list running simulations", slog.String("error", err.Error()))
		return 0
	}

	advanced := make([]bool, len(sims))
	var g errgroup.Group
	g.SetLimit(c.workers)
	for i, sim := range sims {
		g.Go(func() error {
			moved, err := c.Advance(ctx, sim.SimulationID)
			if err != nil {
				metrics.TickErrors.Inc()
				c.logger.Error("advance simulation",
					slog.String("simulation_id", sim.SimulationID),
					slog.String("error", err.Error()),
				)
				return nil
			}
			advanced[i] = moved
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, moved := range advanced {
		if moved {
			n++
		}
	}
	return n
}

// Advance moves one simulation forward if it is RUNNING and its current
// day has elapsed. It reports whether the clock or the state changed.
func (c *Clock) Advance(ctx context.Context, simulationID string) (bool, error) {
	unlock, err := c.locks.Acquire(ctx, simulationID)
	if err != nil {
		return false, err
	}
	defer unlock()

	sim, err := c.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return false, err
	}
	if sim.State != domain.StateRunning {
		return false, nil
	}

	now := c.now().UTC()
	last, err := c.store.LastSnapshot(ctx, simulationID)
	if errors.Is(err, domain.ErrClockNotStarted) {
		first := domain.ClockState{SimulationID: simulationID, Round: 1, Day: 1, Timestamp: now}
		if err := c.store.AppendSnapshot(ctx, &first); err != nil {
			return false, fmt.Errorf("append snapshot: %w", err)
		}
		metrics.ClockEvents.WithLabelValues("start").Inc()
		c.logger.Info("simulation started", slog.String("simulation_id", simulationID))
		c.listener.ClockAdvanced(ctx, first)
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("last snapshot: %w", err)
	}
	if now.Sub(last.Timestamp) < sim.Ticker.DayDuration {
		return false, nil
	}

	teams, err := c.store.ListTeams(ctx, simulationID)
	if err != nil {
		return false, fmt.Errorf("list teams: %w", err)
	}
	stocks, err := c.store.ListStocks(ctx, simulationID)
	if err != nil {
		return false, fmt.Errorf("list stocks: %w", err)
	}
	manager := liquidityManager(teams)

	// Prices are resolved from the book as it stood at the close of the day.
	if err := c.resolvePrices(ctx, stocks, last.Timestamp); err != nil {
		return false, err
	}

	endOfRound := last.Day >= sim.Ticker.NbDays
	next := domain.ClockState{SimulationID: simulationID, Round: last.Round, Day: last.Day + 1, Timestamp: now}
	if endOfRound {
		next.Round, next.Day = last.Round+1, 0
	}

	for _, stock := range stocks {
		if manager != nil {
			if _, err := c.market.ExpireBefore(ctx, stock, manager.TeamID, next); err != nil {
				return false, fmt.Errorf("expire liquidity orders of %s: %w", stock.Symbol, err)
			}
		}
		if _, err := c.market.ExpireMarketOrdersBefore(ctx, stock, next); err != nil {
			return false, fmt.Errorf("expire market orders of %s: %w", stock.Symbol, err)
		}
	}

	if !endOfRound {
		if err := c.store.AppendSnapshot(ctx, &next); err != nil {
			return false, fmt.Errorf("append snapshot: %w", err)
		}
		metrics.ClockEvents.WithLabelValues("day").Inc()
		c.listener.ClockAdvanced(ctx, next)
		if manager != nil {
			c.quote(ctx, sim, manager, stocks, next)
		}
		return true, nil
	}

	final := last.Round >= sim.Ticker.NbRounds
	if err := c.payout(ctx, sim, teams, stocks, last.Round, final, now); err != nil {
		return false, err
	}

	if final {
		if err := c.setState(ctx, sim, domain.StateFinished, now); err != nil {
			return false, err
		}
		metrics.ClockEvents.WithLabelValues("finish").Inc()
		c.logger.Info("simulation finished", slog.String("simulation_id", simulationID))
		return true, nil
	}

	if err := c.store.AppendSnapshot(ctx, &next); err != nil {
		return false, fmt.Errorf("append snapshot: %w", err)
	}
	metrics.ClockEvents.WithLabelValues("round").Inc()
	c.logger.Info("round ended",
		slog.String("simulation_id", simulationID),
		slog.Int("round", last.Round),
	)
	c.listener.ClockAdvanced(ctx, next)

	if sim.Ticker.PauseBetweenRounds {
		if err := c.setState(ctx, sim, domain.StatePaused, now); err != nil {
			return false, err
		}
	}
	return true, nil
}

// resolvePrices runs the market maker for every stock without a trade
// since the given instant.
func (c *Clock) resolvePrices(ctx context.Context, stocks []*domain.Stock, since time.Time) error {
	for _, stock := range stocks {
		traded, err := c.store.TradedSince(ctx, stock.StockID, since)
		if err != nil {
			return fmt.Errorf("traded since: %w", err)
		}
		if traded {
			continue
		}
		if _, err := c.market.ResolvePrice(ctx, stock); err != nil {
			return fmt.Errorf("resolve price of %s: %w", stock.Symbol, err)
		}
	}
	return nil
}

// quote hands the liquidity manager's daily orders to the task queue, or
// runs them inline without one.
func (c *Clock) quote(ctx context.Context, sim *domain.Simulation, manager *domain.Team, stocks []*domain.Stock, clock domain.ClockState) {
	for _, stock := range stocks {
		task := func(ctx context.Context) {
			if err := c.liquidity.Run(ctx, sim, manager, stock, clock); err != nil {
				c.logger.Error("liquidity",
					slog.String("simulation_id", sim.SimulationID),
					slog.String("stock", stock.Symbol),
					slog.String("error", err.Error()),
				)
			}
		}
		if c.tasks == nil {
			task(ctx)
			continue
		}
		c.tasks.Submit(task)
	}
}

// payout records the dividends of a round and the interest on positive
// cash as one transaction. Balances are read once, before any line is
// written. A round already paid out is skipped, so a tick retried after
// a failed snapshot does not pay twice.
func (c *Clock) payout(ctx context.Context, sim *domain.Simulation, teams []*domain.Team, stocks []*domain.Stock, round int, final bool, now time.Time) error {
	paid, err := c.store.PaidOut(ctx, sim.SimulationID, round)
	if err != nil {
		return fmt.Errorf("paid out: %w", err)
	}
	if paid {
		c.logger.Warn("round already paid out",
			slog.String("simulation_id", sim.SimulationID),
			slog.Int("round", round),
		)
		return nil
	}

	balances := make(map[string]oracle.Balance, len(teams))
	for _, team := range teams {
		b, err := c.balances.Balance(ctx, sim.SimulationID, team.TeamID)
		if err != nil {
			return fmt.Errorf("balance of %s: %w", team.Name, err)
		}
		balances[team.TeamID] = b
	}

	var lines []domain.TransactionLine
	for _, stock := range stocks {
		path, err := c.store.GetPricePath(ctx, stock.StockID)
		if err != nil {
			return fmt.Errorf("price path of %s: %w", stock.Symbol, err)
		}
		perShare := path.DividendFor(round)
		if !perShare.IsPositive() {
			continue
		}
		for _, team := range teams {
			shares := balances[team.TeamID].SharesOf(stock.StockID)
			if shares <= 0 {
				continue
			}
			lines = append(lines, domain.TransactionLine{
				TeamID: team.TeamID,
				Asset:  domain.Dividends{Shares: shares, PerShare: perShare},
			})
		}
	}

	rate := domain.Percent(sim.Ticker.InterestRate).Div(decimal.NewFromInt(int64(sim.Ticker.NbRounds)))
	if rate.IsPositive() {
		for _, team := range teams {
			if team.IsLiquidityManager() {
				continue
			}
			cash := balances[team.TeamID].Cash
			if !cash.IsPositive() {
				continue
			}
			interest := domain.NewInterests(cash, rate)
			if interest.Value.IsZero() {
				continue
			}
			lines = append(lines, domain.TransactionLine{TeamID: team.TeamID, Asset: interest})
		}
	}

	if len(lines) == 0 {
		return nil
	}
	tx := &domain.Transaction{
		SimulationID: sim.SimulationID,
		Type:         domain.TransactionEOR,
		Round:        round,
		Day:          sim.Ticker.NbDays,
		FulfilledAt:  now,
		Lines:        lines,
	}
	if final {
		tx.Type = domain.TransactionEOS
	}
	if err := c.store.Record(ctx, tx); err != nil {
		return fmt.Errorf("record payout: %w", err)
	}
	return nil
}

// AdvanceState applies an operator's state change. Transitions outside
// the manual table return domain.ErrInvalidStateTransition and leave the
// simulation untouched.
func (c *Clock) AdvanceState(ctx context.Context, simulationID string, requested domain.SimulationState) error {
	unlock, err := c.locks.Acquire(ctx, simulationID)
	if err != nil {
		return err
	}
	defer unlock()

	sim, err := c.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return err
	}
	if !sim.State.CanRequest(requested) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidStateTransition, sim.State, requested)
	}
	return c.setState(ctx, sim, requested, c.now().UTC())
}

func (c *Clock) setState(ctx context.Context, sim *domain.Simulation, to domain.SimulationState, at time.Time) error {
	from := sim.State
	if err := c.store.SetSimulationState(ctx, sim.SimulationID, from, to, at); err != nil {
		return fmt.Errorf("set state %s: %w", to, err)
	}
	sim.State = to
	c.logger.Info("simulation state changed",
		slog.String("simulation_id", sim.SimulationID),
		slog.String("from", from.String()),
		slog.String("to", to.String()),
	)
	c.listener.StateChanged(ctx, sim.SimulationID, from, to)
	return nil
}

func liquidityManager(teams []*domain.Team) *domain.Team {
	for _, t := range teams {
		if t.IsLiquidityManager() {
			return t
		}
	}
	return nil
}
