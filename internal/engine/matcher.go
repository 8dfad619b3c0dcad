// Package engine matches orders of one stock against each other and
// commits every pairing to the ledger as a single ORDER transaction.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/metrics"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/store"
)

// BalanceReader is the view of team balances the matcher checks against.
type BalanceReader interface {
	Balance(ctx context.Context, simulationID, teamID string) (oracle.Balance, error)
}

// Result is the outcome of one submission.
type Result struct {
	Order    *domain.Order   // the submitted order, reduced to its first fill when it traded
	Trades   []*domain.Trade
	Residual *domain.Order // unfilled remainder still SUBMITTED, if any
	Failed   bool
}

// Matcher implements the matching engine for limit and market orders.
type Matcher struct {
	books    *BookManager
	locks    *KeyedLocks
	teams    *KeyedLocks
	store    store.Store
	balances BalanceReader
	listener Listener
	logger   *slog.Logger
	now      func() time.Time
}

// NewMatcher creates a new Matcher with the given dependencies. A nil
// listener discards events.
func NewMatcher(st store.Store, balances BalanceReader, listener Listener) *Matcher {
	if listener == nil {
		listener = Listeners{}
	}
	return &Matcher{
		books:    NewBookManager(),
		locks:    NewKeyedLocks(),
		teams:    NewKeyedLocks(),
		store:    st,
		balances: balances,
		listener: listener,
		logger:   slog.Default(),
		now:      time.Now,
	}
}

// SetLogger replaces the logger used to report book and ledger mismatches.
func (m *Matcher) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// book returns the book of a stock, loading its SUBMITTED orders from the
// store the first time. The caller must hold the stock's lock.
func (m *Matcher) book(ctx context.Context, stockID string) (*OrderBook, error) {
	book := m.books.GetOrCreate(stockID)
	if book.loaded {
		return book, nil
	}
	orders, err := m.store.ListSubmitted(ctx, stockID)
	if err != nil {
		return nil, fmt.Errorf("load book %s: %w", stockID, err)
	}
	for _, o := range orders {
		book.Insert(o)
	}
	book.loaded = true
	return book, nil
}

// events collects notifications raised inside the critical section so
// they can be delivered once it is released.
type events []func(context.Context)

func (ev *events) add(fn func(context.Context)) { *ev = append(*ev, fn) }

func (ev events) fire(ctx context.Context) {
	for _, fn := range ev {
		fn(ctx)
	}
}

// Submit runs an order through the book of its stock. The order gets an
// id, parent id and creation time when it has none. Matching failures are
// reported as order state, not as errors; an error means nothing could be
// persisted.
//
// The per-(simulation, stock) section is held for the whole pass.
func (m *Matcher) Submit(ctx context.Context, order *domain.Order) (*Result, error) {
	start := m.now()
	defer func() { metrics.MatchLatency.Observe(time.Since(start).Seconds()) }()

	unlock, err := m.locks.Acquire(ctx, stockKey(order.SimulationID, order.StockID))
	if err != nil {
		return nil, err
	}
	var ev events
	result, err := m.submit(ctx, order, &ev)
	unlock()
	ev.fire(ctx)
	return result, err
}

func (m *Matcher) submit(ctx context.Context, order *domain.Order, ev *events) (*Result, error) {
	sim, err := m.store.GetSimulation(ctx, order.SimulationID)
	if err != nil {
		return nil, err
	}
	stock, err := m.store.GetStock(ctx, order.StockID)
	if err != nil {
		return nil, err
	}
	book, err := m.book(ctx, order.StockID)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	if order.OrderID == "" {
		order.OrderID = uuid.New().String()
	}
	if order.ParentID == "" {
		order.ParentID = order.OrderID
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = now
	}
	order.State = domain.OrderStateSubmitted
	order.UpdatedAt = now
	if err := m.store.SaveOrders(ctx, order); err != nil {
		return nil, fmt.Errorf("save order: %w", err)
	}
	metrics.OrdersSubmitted.WithLabelValues(string(order.Side), orderKind(order)).Inc()

	result := &Result{Order: order}
	incoming := order
	for incoming.State == domain.OrderStateSubmitted {
		resting := nextCandidate(book, incoming)
		if resting == nil {
			break
		}
		var discovery func() (decimal.Decimal, bool)
		if stock.Price.IsZero() {
			discovery = book.DiscoveryPrice
		}
		price, setter, ok := tradePrice(incoming, resting, stock.Price, discovery)
		if !ok {
			break
		}

		if setter != nil && !domain.WithinBand(price, stock.Price, sim.PriceBand) {
			if err := m.fail(ctx, book, setter, domain.FailurePriceOutOfBand, ev); err != nil {
				return nil, err
			}
			continue
		}

		bid, ask := incoming, resting
		if incoming.Side == domain.OrderSideAsk {
			bid, ask = resting, incoming
		}
		qty := min(incoming.Quantity, resting.Quantity)

		trade, next, short, err := m.settle(ctx, sim, book, incoming, resting, bid, ask, qty, price)
		if err != nil {
			return nil, err
		}
		if short != nil {
			if err := m.fail(ctx, book, short, domain.FailureInsufficientBalance, ev); err != nil {
				return nil, err
			}
			continue
		}
		result.Trades = append(result.Trades, trade)

		updated, err := m.store.SetStockPrice(ctx, stock.StockID, price, trade.ExecutedAt)
		if err != nil {
			return nil, fmt.Errorf("set stock price: %w", err)
		}
		stock = updated
		clock, err := m.lastClock(ctx, sim.SimulationID)
		if err != nil {
			return nil, err
		}
		if err := m.store.AppendQuote(ctx, &domain.Quote{
			StockID:   stock.StockID,
			Price:     price,
			Round:     clock.Round,
			Day:       clock.Day,
			Timestamp: trade.ExecutedAt,
		}); err != nil {
			return nil, fmt.Errorf("append quote: %w", err)
		}

		metrics.TradesTotal.Inc()
		metrics.TradeVolume.Add(float64(qty))
		priced := *stock
		ev.add(func(ctx context.Context) {
			m.listener.TradeExecuted(ctx, trade)
			m.listener.PriceChanged(ctx, &priced)
		})

		if next == nil {
			break
		}
		incoming = next
	}

	switch incoming.State {
	case domain.OrderStateSubmitted:
		book.Insert(incoming)
		if incoming != order {
			result.Residual = incoming
		}
	case domain.OrderStateFailed:
		result.Failed = true
	}
	return result, nil
}

// nextCandidate picks the resting order the incoming one meets next,
// skipping orders of the same team. A limit order looks at opposite market
// orders first, then at compatible limits; a market order looks at limits
// first, then at market orders.
func nextCandidate(book *OrderBook, incoming *domain.Order) *domain.Order {
	side := incoming.Side.Opposite()
	var found *domain.Order
	other := func(e OrderBookEntry) bool {
		if e.Order.TeamID == incoming.TeamID {
			return true
		}
		found = e.Order
		return false
	}

	if incoming.IsMarket() {
		book.WalkLimits(side, other)
		if found == nil {
			book.WalkMarkets(side, other)
		}
		return found
	}

	book.WalkMarkets(side, other)
	if found != nil {
		return found
	}
	book.WalkLimits(side, other)
	if found == nil || !compatible(incoming, found) {
		return nil
	}
	return found
}

// compatible reports whether two limit orders cross.
func compatible(a, b *domain.Order) bool {
	bid, ask := a, b
	if a.Side == domain.OrderSideAsk {
		bid, ask = b, a
	}
	return ask.Price.LessThanOrEqual(*bid.Price)
}

// tradePrice resolves the price of a pairing. With one limit the limit
// wins; with two limits the earlier order's limit wins, which is also the
// shared price when they are equal. Two market orders trade at the last
// price or, without one, at the discovery price. setter is the order whose
// limit set the price, or nil. ok is false when no price exists.
func tradePrice(incoming, resting *domain.Order, last decimal.Decimal, discovery func() (decimal.Decimal, bool)) (price decimal.Decimal, setter *domain.Order, ok bool) {
	switch {
	case !incoming.IsMarket() && !resting.IsMarket():
		setter = resting
		if incoming.CreatedAt.Before(resting.CreatedAt) {
			setter = incoming
		}
		return *setter.Price, setter, true
	case !incoming.IsMarket():
		return *incoming.Price, incoming, true
	case !resting.IsMarket():
		return *resting.Price, resting, true
	}
	if !last.IsZero() {
		return last, nil, true
	}
	if discovery == nil {
		return decimal.Zero, nil, false
	}
	price, ok = discovery()
	return price, nil, ok
}

// costLines returns the transaction cost lines charged to one side of a
// trade and their total.
func costLines(sim *domain.Simulation, qty int64, price decimal.Decimal) ([]domain.Costs, decimal.Decimal) {
	var lines []domain.Costs
	if sim.TransactionCost.IsPositive() {
		lines = append(lines, domain.Costs{Units: -1, UnitCost: sim.TransactionCost})
	}
	if sim.VariableTransactionCost.IsPositive() {
		unit := domain.RoundAmount(price.Mul(domain.Percent(sim.VariableTransactionCost)))
		lines = append(lines, domain.Costs{Units: -qty, UnitCost: unit})
	}
	total := decimal.Zero
	for _, c := range lines {
		total = total.Sub(c.Amount())
	}
	return lines, total
}

// settle checks both balances and commits the trade while holding the
// sections of both teams, so trades of the same team on other stocks
// cannot spend the cash or shares in between. short is the order that
// cannot afford the trade, in which case nothing is committed.
func (m *Matcher) settle(
	ctx context.Context,
	sim *domain.Simulation,
	book *OrderBook,
	incoming, resting, bid, ask *domain.Order,
	qty int64,
	price decimal.Decimal,
) (trade *domain.Trade, next, short *domain.Order, err error) {
	unlock, err := m.teams.AcquireAll(ctx, teamKey(sim.SimulationID, bid.TeamID), teamKey(sim.SimulationID, ask.TeamID))
	if err != nil {
		return nil, nil, nil, err
	}
	defer unlock()

	short, err = m.checkBalances(ctx, sim, bid, ask, qty, price)
	if err != nil || short != nil {
		return nil, nil, short, err
	}
	trade, next, err = m.commit(ctx, sim, book, incoming, resting, bid, ask, qty, price)
	return trade, next, nil, err
}

// checkBalances re-validates both sides inside the critical section and
// returns the order whose team cannot afford the trade, if any.
func (m *Matcher) checkBalances(ctx context.Context, sim *domain.Simulation, bid, ask *domain.Order, qty int64, price decimal.Decimal) (*domain.Order, error) {
	seller, err := m.balances.Balance(ctx, sim.SimulationID, ask.TeamID)
	if err != nil {
		return nil, fmt.Errorf("seller balance: %w", err)
	}
	buyer, err := m.balances.Balance(ctx, sim.SimulationID, bid.TeamID)
	if err != nil {
		return nil, fmt.Errorf("buyer balance: %w", err)
	}

	value := price.Mul(decimal.NewFromInt(qty))
	_, costs := costLines(sim, qty, price)

	switch {
	case seller.SharesOf(ask.StockID) < qty:
		return ask, nil
	case buyer.Cash.LessThan(value.Add(costs)):
		return bid, nil
	case seller.Cash.Add(value).LessThan(costs):
		return ask, nil
	}
	return nil, nil
}

// fail marks a SUBMITTED order FAILED and takes it off the book.
func (m *Matcher) fail(ctx context.Context, book *OrderBook, o *domain.Order, reason string, ev *events) error {
	if err := o.Fail(reason, m.now().UTC()); err != nil {
		return err
	}
	book.Remove(o.OrderID)
	if err := m.store.SaveOrders(ctx, o); err != nil {
		return fmt.Errorf("save failed order: %w", err)
	}
	metrics.OrdersFailed.WithLabelValues(reason).Inc()
	failed := *o
	ev.add(func(ctx context.Context) { m.listener.OrderFailed(ctx, &failed) })
	return nil
}

// commit records the trade, marks both orders PROCESSED and splits off
// their residuals. It returns the incoming order's residual, if any.
func (m *Matcher) commit(
	ctx context.Context,
	sim *domain.Simulation,
	book *OrderBook,
	incoming, resting, bid, ask *domain.Order,
	qty int64,
	price decimal.Decimal,
) (*domain.Trade, *domain.Order, error) {
	now := m.now().UTC()
	clock, err := m.lastClock(ctx, sim.SimulationID)
	if err != nil {
		return nil, nil, err
	}
	value := price.Mul(decimal.NewFromInt(qty))

	tx := &domain.Transaction{
		SimulationID: sim.SimulationID,
		Type:         domain.TransactionOrder,
		Round:        clock.Round,
		Day:          clock.Day,
		FulfilledAt:  now,
		Lines: []domain.TransactionLine{
			{TeamID: ask.TeamID, Asset: domain.Stocks{StockID: ask.StockID, Shares: -qty, UnitPrice: price}},
			{TeamID: ask.TeamID, Asset: domain.Cash{Value: value}},
			{TeamID: bid.TeamID, Asset: domain.Stocks{StockID: bid.StockID, Shares: qty, UnitPrice: price}},
			{TeamID: bid.TeamID, Asset: domain.Cash{Value: value.Neg()}},
		},
	}
	costs, _ := costLines(sim, qty, price)
	for _, team := range []string{bid.TeamID, ask.TeamID} {
		for _, c := range costs {
			tx.Lines = append(tx.Lines, domain.TransactionLine{TeamID: team, Asset: c})
		}
	}
	if err := m.store.Record(ctx, tx); err != nil {
		return nil, nil, fmt.Errorf("record trade: %w", err)
	}

	book.Remove(resting.OrderID)
	changed := make([]*domain.Order, 0, 4)
	var next *domain.Order
	for _, o := range []*domain.Order{incoming, resting} {
		var residual *domain.Order
		if o.Quantity > qty {
			residual = o.Residual(uuid.New().String(), qty)
			residual.UpdatedAt = now
			o.Quantity = qty
		}
		if err := o.Transition(domain.OrderStateProcessed, now); err != nil {
			return nil, nil, err
		}
		o.TransactionID = tx.TransactionID
		changed = append(changed, o)
		if residual == nil {
			continue
		}
		changed = append(changed, residual)
		if o == incoming {
			next = residual
		} else {
			book.Insert(residual)
		}
	}
	if err := m.store.SaveOrders(ctx, changed...); err != nil {
		m.resync(book, tx, err)
		return nil, nil, fmt.Errorf("save matched orders: %w", err)
	}

	trade := &domain.Trade{
		TransactionID: tx.TransactionID,
		StockID:       bid.StockID,
		BuyOrderID:    bid.OrderID,
		SellOrderID:   ask.OrderID,
		BuyerID:       bid.TeamID,
		SellerID:      ask.TeamID,
		Price:         price,
		Quantity:      qty,
		ExecutedAt:    now,
	}
	return trade, next, nil
}

// resync drops the in-memory book after the ledger recorded a trade whose
// orders could not be saved. The next pass reloads the book from the store.
func (m *Matcher) resync(book *OrderBook, tx *domain.Transaction, cause error) {
	m.logger.Error("ledger and orders diverged, reloading book",
		slog.String("simulation_id", tx.SimulationID),
		slog.String("stock_id", book.stockID),
		slog.String("transaction_id", tx.TransactionID),
		slog.Int("dropped_orders", book.Len()),
		slog.String("error", cause.Error()),
	)
	metrics.BookResyncs.Inc()
	book.Reset()
}

// lastClock returns the latest clock snapshot, or the zero clock before
// the simulation starts.
func (m *Matcher) lastClock(ctx context.Context, simulationID string) (domain.ClockState, error) {
	c, err := m.store.LastSnapshot(ctx, simulationID)
	if errors.Is(err, domain.ErrClockNotStarted) {
		return domain.ClockState{SimulationID: simulationID}, nil
	}
	if err != nil {
		return domain.ClockState{}, fmt.Errorf("last clock: %w", err)
	}
	return *c, nil
}

// Book returns the aggregated levels of a stock's book.
func (m *Matcher) Book(ctx context.Context, stock *domain.Stock) ([]PriceLevel, error) {
	unlock, err := m.locks.Acquire(ctx, stockKey(stock.SimulationID, stock.StockID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	book, err := m.book(ctx, stock.StockID)
	if err != nil {
		return nil, err
	}
	return book.Levels(), nil
}

func orderKind(o *domain.Order) string {
	if o.IsMarket() {
		return "market"
	}
	return "limit"
}
