package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/clock"
	"github.com/efreitasn/tradesim/internal/config"
	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/store"
)

const (
	// playerFloat is the share of every company handed to the players at
	// initialization; the liquidity manager keeps the rest.
	playerFloat = "0.1"

	// managerCapitalFactor scales the liquidity manager's cash to the
	// players' combined capital.
	managerCapitalFactor = 9

	liquidityManagerName = "Liquidity Manager"
)

// PriceGenerator synthesizes the price path of a new stock.
type PriceGenerator interface {
	Generate(stockID string, t domain.Ticker) (*domain.CompanyPricePath, error)
}

// CreateSimulationRequest represents the input for simulation creation.
// Nil fields keep the configured defaults.
type CreateSimulationRequest struct {
	Name                    string
	NbCompanies             *int
	NbRounds                *int
	NbDays                  *int
	DayDuration             *time.Duration
	DividendPayoffRate      *decimal.Decimal
	InterestRate            *decimal.Decimal
	DiscountRate            *decimal.Decimal
	InitialValue            *decimal.Decimal
	Mu                      *float64
	Sigma                   *float64
	PauseBetweenRounds      *bool
	Capital                 *decimal.Decimal
	NbShares                *int64
	TransactionCost         *decimal.Decimal
	VariableTransactionCost *decimal.Decimal
	PriceBand               *decimal.Decimal
}

// apply copies the request's overrides onto sim.
func (r CreateSimulationRequest) apply(sim *domain.Simulation) {
	setInt := func(dst *int, v *int) {
		if v != nil {
			*dst = *v
		}
	}
	setDec := func(dst *decimal.Decimal, v *decimal.Decimal) {
		if v != nil {
			*dst = *v
		}
	}
	setFloat := func(dst *float64, v *float64) {
		if v != nil {
			*dst = *v
		}
	}

	setInt(&sim.Ticker.NbCompanies, r.NbCompanies)
	setInt(&sim.Ticker.NbRounds, r.NbRounds)
	setInt(&sim.Ticker.NbDays, r.NbDays)
	if r.DayDuration != nil {
		sim.Ticker.DayDuration = *r.DayDuration
	}
	setDec(&sim.Ticker.DividendPayoffRate, r.DividendPayoffRate)
	setDec(&sim.Ticker.InterestRate, r.InterestRate)
	setDec(&sim.Ticker.DiscountRate, r.DiscountRate)
	setDec(&sim.Ticker.InitialValue, r.InitialValue)
	setFloat(&sim.Ticker.Mu, r.Mu)
	setFloat(&sim.Ticker.Sigma, r.Sigma)
	if r.PauseBetweenRounds != nil {
		sim.Ticker.PauseBetweenRounds = *r.PauseBetweenRounds
	}
	setDec(&sim.Capital, r.Capital)
	if r.NbShares != nil {
		sim.NbShares = *r.NbShares
	}
	setDec(&sim.TransactionCost, r.TransactionCost)
	setDec(&sim.VariableTransactionCost, r.VariableTransactionCost)
	setDec(&sim.PriceBand, r.PriceBand)
}

// SimulationService handles simulation setup, initialization and the
// queries that span a whole simulation.
type SimulationService struct {
	store    store.Store
	oracle   *oracle.Oracle
	clock    *clock.Clock
	paths    PriceGenerator
	defaults *config.SimulationDefaults
	logger   *slog.Logger
	now      func() time.Time
}

// NewSimulationService creates a new SimulationService. Nil defaults use
// the built-in ones.
func NewSimulationService(
	st store.Store,
	o *oracle.Oracle,
	c *clock.Clock,
	paths PriceGenerator,
	defaults *config.SimulationDefaults,
	logger *slog.Logger,
) *SimulationService {
	if defaults == nil {
		defaults = config.BuiltinDefaults()
	}
	return &SimulationService{
		store:    st,
		oracle:   o,
		clock:    c,
		paths:    paths,
		defaults: defaults,
		logger:   logger,
		now:      time.Now,
	}
}

// Create validates the request and stores a new CONFIGURING simulation.
func (s *SimulationService) Create(ctx context.Context, req CreateSimulationRequest) (*domain.Simulation, error) {
	name := strings.TrimSpace(req.Name)
	sim := s.defaults.Simulation(name)
	req.apply(sim)
	if err := sim.Validate(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	sim.SimulationID = uuid.New().String()
	sim.CreatedAt = now
	sim.UpdatedAt = now
	if err := s.store.CreateSimulation(ctx, sim); err != nil {
		return nil, fmt.Errorf("create simulation: %w", err)
	}
	return sim, nil
}

// Get retrieves a simulation by ID.
func (s *SimulationService) Get(ctx context.Context, simulationID string) (*domain.Simulation, error) {
	return s.store.GetSimulation(ctx, simulationID)
}

// AddTeam registers a player team. Teams can only join before the
// simulation is initialized.
func (s *SimulationService) AddTeam(ctx context.Context, simulationID, name string) (*domain.Team, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &domain.ValidationError{Message: "name is required"}
	}
	if len(name) > 64 {
		return nil, &domain.ValidationError{Message: "name must be at most 64 characters"}
	}

	sim, err := s.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	if sim.State != domain.StateConfiguring {
		return nil, domain.ErrAlreadyInitialized
	}

	teams, err := s.store.ListTeams(ctx, simulationID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	for _, t := range teams {
		if strings.EqualFold(t.Name, name) {
			return nil, &domain.ValidationError{Message: fmt.Sprintf("team %q already exists", name)}
		}
	}

	team := &domain.Team{
		TeamID:       uuid.New().String(),
		SimulationID: simulationID,
		Name:         name,
		Type:         domain.TeamPlayers,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateTeam(ctx, team); err != nil {
		return nil, fmt.Errorf("create team: %w", err)
	}
	return team, nil
}

// Teams lists the teams of a simulation.
func (s *SimulationService) Teams(ctx context.Context, simulationID string) ([]*domain.Team, error) {
	if _, err := s.store.GetSimulation(ctx, simulationID); err != nil {
		return nil, err
	}
	return s.store.ListTeams(ctx, simulationID)
}

// Initialize creates the companies, their price paths and the liquidity
// manager, then deposits the starting cash and shares. It only runs from
// CONFIGURING and leaves the simulation READY. Any failure before the
// deposits are recorded leaves the simulation CONFIGURING; a later call
// reuses the companies and liquidity manager the failed one created.
func (s *SimulationService) Initialize(ctx context.Context, simulationID string) (*domain.Simulation, error) {
	sim, err := s.store.GetSimulation(ctx, simulationID)
	if err != nil {
		return nil, err
	}
	if sim.State != domain.StateConfiguring {
		return nil, domain.ErrAlreadyInitialized
	}

	teams, err := s.store.ListTeams(ctx, simulationID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	var players []*domain.Team
	for _, t := range teams {
		if !t.IsLiquidityManager() {
			players = append(players, t)
		}
	}
	if len(players) == 0 {
		return nil, &domain.ValidationError{Message: "at least one team is required"}
	}

	if err := s.transition(ctx, sim, domain.StateInitializing); err != nil {
		return nil, err
	}

	companies, err := s.deposit(ctx, sim, teams, players)
	if err != nil {
		if rerr := s.transition(ctx, sim, domain.StateConfiguring); rerr != nil {
			s.logger.Error("revert initialization",
				slog.String("simulation_id", simulationID),
				slog.String("error", rerr.Error()),
			)
		}
		return nil, err
	}

	if err := s.transition(ctx, sim, domain.StateReady); err != nil {
		return nil, err
	}
	s.logger.Info("simulation initialized",
		slog.String("simulation_id", simulationID),
		slog.Int("companies", companies),
		slog.Int("teams", len(players)),
	)
	return sim, nil
}

// deposit creates the simulation's companies and liquidity manager and
// records the initial deposits. It returns the number of companies.
func (s *SimulationService) deposit(ctx context.Context, sim *domain.Simulation, teams, players []*domain.Team) (int, error) {
	simulationID := sim.SimulationID
	now := s.now().UTC()
	paths := make([]*domain.CompanyPricePath, sim.Ticker.NbCompanies)
	for i := range paths {
		p, err := s.paths.Generate(uuid.New().String(), sim.Ticker)
		if err != nil {
			return 0, fmt.Errorf("generate price path: %w", err)
		}
		p.CreatedAt = now
		paths[i] = p
	}

	manager := liquidityManagerOf(teams)
	if manager == nil {
		manager = &domain.Team{
			TeamID:       uuid.New().String(),
			SimulationID: simulationID,
			Name:         liquidityManagerName,
			Type:         domain.TeamLiquidityManager,
			CreatedAt:    now,
		}
		if err := s.store.CreateTeam(ctx, manager); err != nil {
			return 0, fmt.Errorf("create liquidity manager: %w", err)
		}
	}

	leftover, err := s.store.ListStocks(ctx, simulationID)
	if err != nil {
		return 0, fmt.Errorf("list stocks: %w", err)
	}
	bySymbol := make(map[string]*domain.Stock, len(leftover))
	for _, st := range leftover {
		bySymbol[st.Symbol] = st
	}

	nbPlayers := decimal.NewFromInt(int64(len(players)))
	lines := make([]domain.TransactionLine, 0, len(players)+1+len(paths)*(len(players)+1))
	for _, p := range players {
		lines = append(lines, domain.TransactionLine{TeamID: p.TeamID, Asset: domain.Cash{Value: sim.Capital}})
	}
	lines = append(lines, domain.TransactionLine{
		TeamID: manager.TeamID,
		Asset:  domain.Cash{Value: sim.Capital.Mul(nbPlayers).Mul(decimal.NewFromInt(managerCapitalFactor))},
	})

	perPlayer := decimal.NewFromInt(sim.NbShares).Mul(decimal.RequireFromString(playerFloat)).Div(nbPlayers).Floor().IntPart()
	for i, path := range paths {
		symbol := domain.GenericSymbol(i)
		stock, opening, err := s.company(ctx, sim, bySymbol[symbol], symbol, path, now)
		if err != nil {
			return 0, err
		}

		if perPlayer > 0 {
			for _, p := range players {
				lines = append(lines, domain.TransactionLine{
					TeamID: p.TeamID,
					Asset:  domain.Stocks{StockID: stock.StockID, Shares: perPlayer, UnitPrice: opening},
				})
			}
		}
		if rest := sim.NbShares - perPlayer*int64(len(players)); rest > 0 {
			lines = append(lines, domain.TransactionLine{
				TeamID: manager.TeamID,
				Asset:  domain.Stocks{StockID: stock.StockID, Shares: rest, UnitPrice: opening},
			})
		}
	}

	if err := s.store.Record(ctx, &domain.Transaction{
		SimulationID: simulationID,
		Type:         domain.TransactionInitial,
		FulfilledAt:  now,
		Lines:        lines,
	}); err != nil {
		return 0, fmt.Errorf("record initial deposits: %w", err)
	}
	return len(paths), nil
}

// company creates one company with its price path and opening quote. A
// stock left by an earlier failed call is completed instead, keeping the
// price path it already has.
func (s *SimulationService) company(ctx context.Context, sim *domain.Simulation, stock *domain.Stock, symbol string, path *domain.CompanyPricePath, now time.Time) (*domain.Stock, decimal.Decimal, error) {
	if stock == nil {
		stock = &domain.Stock{
			StockID:      path.StockID,
			SimulationID: sim.SimulationID,
			Symbol:       symbol,
			Name:         domain.GenericName(symbol),
			Quantity:     sim.NbShares,
			UpdatedAt:    now,
		}
		if err := s.store.CreateStock(ctx, stock); err != nil {
			return nil, decimal.Zero, fmt.Errorf("create stock %s: %w", symbol, err)
		}
	}

	saved, err := s.store.GetPricePath(ctx, stock.StockID)
	switch {
	case err == nil:
		path = saved
	case errors.Is(err, domain.ErrPricePathNotFound):
		path.StockID = stock.StockID
		if err := s.store.SavePricePath(ctx, path); err != nil {
			return nil, decimal.Zero, fmt.Errorf("save price path %s: %w", symbol, err)
		}
	default:
		return nil, decimal.Zero, fmt.Errorf("price path %s: %w", symbol, err)
	}

	opening := path.OpeningValue()
	if stock.OpeningPrice == nil {
		updated, err := s.store.SetStockPrice(ctx, stock.StockID, opening, now)
		if err != nil {
			return nil, decimal.Zero, fmt.Errorf("open stock %s: %w", symbol, err)
		}
		stock = updated
	}

	quotes, err := s.store.ListQuotes(ctx, stock.StockID)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("list quotes %s: %w", symbol, err)
	}
	if len(quotes) == 0 {
		if err := s.store.AppendQuote(ctx, &domain.Quote{StockID: stock.StockID, Price: opening, Timestamp: now}); err != nil {
			return nil, decimal.Zero, fmt.Errorf("append quote %s: %w", symbol, err)
		}
	}
	return stock, opening, nil
}

func liquidityManagerOf(teams []*domain.Team) *domain.Team {
	for _, t := range teams {
		if t.IsLiquidityManager() {
			return t
		}
	}
	return nil
}

// transition applies a system-driven state change.
func (s *SimulationService) transition(ctx context.Context, sim *domain.Simulation, to domain.SimulationState) error {
	if !sim.State.CanAdvance(to) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidStateTransition, sim.State, to)
	}
	now := s.now().UTC()
	if err := s.store.SetSimulationState(ctx, sim.SimulationID, sim.State, to, now); err != nil {
		return err
	}
	sim.State = to
	sim.UpdatedAt = now
	return nil
}

// AdvanceState applies an operator's state request given by name.
func (s *SimulationService) AdvanceState(ctx context.Context, simulationID, requested string) error {
	to, ok := domain.ParseSimulationState(strings.ToUpper(strings.TrimSpace(requested)))
	if !ok {
		return &domain.ValidationError{Message: fmt.Sprintf("unknown state: %q", requested)}
	}
	return s.clock.AdvanceState(ctx, simulationID, to)
}

// Clock returns the current clock of a simulation. Before the first tick
// it is R0/D0.
func (s *SimulationService) Clock(ctx context.Context, simulationID string) (*domain.ClockState, error) {
	if _, err := s.store.GetSimulation(ctx, simulationID); err != nil {
		return nil, err
	}
	c, err := s.store.LastSnapshot(ctx, simulationID)
	if errors.Is(err, domain.ErrClockNotStarted) {
		return &domain.ClockState{SimulationID: simulationID}, nil
	}
	return c, err
}

// Ranking returns the player teams ordered by total balance.
func (s *SimulationService) Ranking(ctx context.Context, simulationID string) ([]oracle.RankEntry, error) {
	if _, err := s.store.GetSimulation(ctx, simulationID); err != nil {
		return nil, err
	}
	return s.oracle.Ranking(ctx, simulationID)
}

// Stocks lists the stocks of a simulation.
func (s *SimulationService) Stocks(ctx context.Context, simulationID string) ([]*domain.Stock, error) {
	if _, err := s.store.GetSimulation(ctx, simulationID); err != nil {
		return nil, err
	}
	return s.store.ListStocks(ctx, simulationID)
}

// Tick advances every RUNNING simulation whose day has elapsed and
// returns how many moved.
func (s *SimulationService) Tick(ctx context.Context) int {
	return s.clock.Tick(ctx)
}
