// Package store defines the persistence interfaces of the simulation.
// Implementations include in-memory (default and tests), PostgreSQL
// (source of truth when DATABASE_URL is set), and a Redis read-through
// cache over either.
package store

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

// Simulations persists simulations and their teams.
type Simulations interface {
	CreateSimulation(ctx context.Context, s *domain.Simulation) error
	GetSimulation(ctx context.Context, id string) (*domain.Simulation, error)

	// ListSimulations returns every simulation in the given state.
	ListSimulations(ctx context.Context, state domain.SimulationState) ([]*domain.Simulation, error)

	// SetSimulationState moves a simulation from one state to another. It
	// returns domain.ErrInvalidStateTransition when the stored state is not
	// from, leaving the simulation untouched.
	SetSimulationState(ctx context.Context, id string, from, to domain.SimulationState, at time.Time) error

	CreateTeam(ctx context.Context, t *domain.Team) error
	GetTeam(ctx context.Context, id string) (*domain.Team, error)
	ListTeams(ctx context.Context, simulationID string) ([]*domain.Team, error)
}

// Markets persists stocks, their quotes and their price paths.
type Markets interface {
	CreateStock(ctx context.Context, s *domain.Stock) error
	GetStock(ctx context.Context, id string) (*domain.Stock, error)
	ListStocks(ctx context.Context, simulationID string) ([]*domain.Stock, error)

	// SetStockPrice stores a new last price and, on the first nonzero
	// price, the opening price. It returns the updated stock.
	SetStockPrice(ctx context.Context, stockID string, price decimal.Decimal, at time.Time) (*domain.Stock, error)

	AppendQuote(ctx context.Context, q *domain.Quote) error
	ListQuotes(ctx context.Context, stockID string) ([]*domain.Quote, error)

	SavePricePath(ctx context.Context, p *domain.CompanyPricePath) error
	GetPricePath(ctx context.Context, stockID string) (*domain.CompanyPricePath, error)
}

// Orders persists orders. Orders are never deleted.
type Orders interface {
	// SaveOrders inserts or updates the given orders atomically.
	SaveOrders(ctx context.Context, orders ...*domain.Order) error
	GetOrder(ctx context.Context, id string) (*domain.Order, error)

	// ListOrdersByTeam returns a team's orders newest first. If state is
	// non-nil only orders in that state are included. Pagination is
	// 1-based; the total count before pagination is returned too.
	ListOrdersByTeam(ctx context.Context, teamID string, state *domain.OrderState, page, limit int) ([]*domain.Order, int, error)

	// ListSubmitted returns the SUBMITTED orders of a stock, oldest first.
	ListSubmitted(ctx context.Context, stockID string) ([]*domain.Order, error)
}

// Ledger is the append-only record of transactions.
type Ledger interface {
	// Record validates and appends a transaction with all its lines in
	// one atomic write. Missing ids are assigned.
	Record(ctx context.Context, tx *domain.Transaction) error

	// Totals sums a team's lines grouped by asset type and stock.
	Totals(ctx context.Context, simulationID, teamID string) ([]domain.LineTotal, error)

	// TeamLines returns a team's lines of one asset type in record order.
	TeamLines(ctx context.Context, teamID string, asset domain.AssetType) ([]domain.PostedLine, error)

	// StockLines returns the STOCKS lines of ORDER transactions for a
	// stock in record order.
	StockLines(ctx context.Context, stockID string) ([]domain.PostedLine, error)

	// TradedSince reports whether the stock traded at or after since.
	TradedSince(ctx context.Context, stockID string, since time.Time) (bool, error)

	// PaidOut reports whether an EOR or EOS transaction was recorded for
	// the given round.
	PaidOut(ctx context.Context, simulationID string, round int) (bool, error)
}

// Clocks persists the append-only clock snapshots of each simulation.
type Clocks interface {
	// AppendSnapshot stores a snapshot. It returns domain.ErrClockRegression
	// if the snapshot precedes the latest one.
	AppendSnapshot(ctx context.Context, c *domain.ClockState) error

	// LastSnapshot returns the latest snapshot, or domain.ErrClockNotStarted.
	LastSnapshot(ctx context.Context, simulationID string) (*domain.ClockState, error)
}

// Webhooks persists webhook subscriptions keyed by (team, event).
type Webhooks interface {
	// UpsertWebhook creates or updates the subscription for the webhook's
	// (team, event) pair and reports whether it was created. On update the
	// stored webhook id is written back into w.
	UpsertWebhook(ctx context.Context, w *domain.Webhook) (bool, error)
	GetWebhook(ctx context.Context, id string) (*domain.Webhook, error)
	ListWebhooks(ctx context.Context, teamID string) ([]*domain.Webhook, error)
	GetTeamWebhook(ctx context.Context, teamID, event string) (*domain.Webhook, error)
	DeleteWebhook(ctx context.Context, id string) error
}

// Store is the complete persistence interface.
type Store interface {
	Simulations
	Markets
	Orders
	Ledger
	Clocks
	Webhooks
}
