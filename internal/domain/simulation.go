package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SimulationState is the lifecycle state of a simulation. The numeric
// values are persisted.
type SimulationState int

const (
	StateConfiguring  SimulationState = 0
	StateInitializing SimulationState = 1
	StateReady        SimulationState = 2
	StateRunning      SimulationState = 3
	StatePaused       SimulationState = 4
	StateFinished     SimulationState = 5
	StateArchived     SimulationState = 9
)

var stateNames = map[SimulationState]string{
	StateConfiguring:  "CONFIGURING",
	StateInitializing: "INITIALIZING",
	StateReady:        "READY",
	StateRunning:      "RUNNING",
	StatePaused:       "PAUSED",
	StateFinished:     "FINISHED",
	StateArchived:     "ARCHIVED",
}

func (s SimulationState) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// ParseSimulationState resolves a state by name.
func ParseSimulationState(name string) (SimulationState, bool) {
	for s, n := range stateNames {
		if n == name {
			return s, true
		}
	}
	return 0, false
}

// manualTransitions lists the changes an operator may request.
var manualTransitions = map[SimulationState][]SimulationState{
	StateReady:    {StateRunning},
	StateRunning:  {StatePaused, StateFinished},
	StatePaused:   {StateRunning, StateFinished},
	StateFinished: {StateArchived},
}

// systemTransitions lists the changes driven by initialization and the clock.
var systemTransitions = map[SimulationState][]SimulationState{
	StateConfiguring:  {StateInitializing},
	StateInitializing: {StateReady, StateConfiguring},
	StateRunning:      {StatePaused, StateFinished},
}

// CanRequest reports whether an operator may move a simulation from s to to.
func (s SimulationState) CanRequest(to SimulationState) bool {
	return contains(manualTransitions[s], to)
}

// CanAdvance reports whether the system itself may move from s to to.
func (s SimulationState) CanAdvance(to SimulationState) bool {
	return contains(systemTransitions[s], to)
}

func contains(states []SimulationState, s SimulationState) bool {
	for _, c := range states {
		if c == s {
			return true
		}
	}
	return false
}

// Ticker holds the market clock and valuation settings of a simulation.
type Ticker struct {
	NbCompanies        int
	NbRounds           int
	NbDays             int
	DayDuration        time.Duration
	DividendPayoffRate decimal.Decimal // percent
	InterestRate       decimal.Decimal // percent, spread over the rounds
	DiscountRate       decimal.Decimal // percent
	InitialValue       decimal.Decimal
	Mu                 float64
	Sigma              float64
	PauseBetweenRounds bool
}

// DefaultTicker returns the ticker settings used when none are given.
func DefaultTicker() Ticker {
	return Ticker{
		NbCompanies:        4,
		NbRounds:           4,
		NbDays:             10,
		DayDuration:        60 * time.Second,
		DividendPayoffRate: decimal.NewFromInt(30),
		InterestRate:       decimal.NewFromInt(3),
		DiscountRate:       decimal.NewFromInt(12),
		InitialValue:       decimal.NewFromInt(100),
		Mu:                 0.03,
		Sigma:              0.1,
		PauseBetweenRounds: true,
	}
}

// Validate checks ticker bounds.
func (t Ticker) Validate() error {
	switch {
	case t.NbCompanies < 1 || t.NbCompanies > 26:
		return &ValidationError{Message: "nb_companies must be between 1 and 26"}
	case t.NbRounds < 1:
		return &ValidationError{Message: "nb_rounds must be at least 1"}
	case t.NbDays < 1:
		return &ValidationError{Message: "nb_days must be at least 1"}
	case t.DayDuration <= 0:
		return &ValidationError{Message: "day_duration must be positive"}
	case t.DividendPayoffRate.IsNegative() || t.DividendPayoffRate.GreaterThan(hundred):
		return &ValidationError{Message: "dividend_payoff_rate must be between 0 and 100"}
	case t.InterestRate.IsNegative():
		return &ValidationError{Message: "interest_rate must not be negative"}
	case !t.DiscountRate.IsPositive():
		return &ValidationError{Message: "discount_rate must be positive"}
	case !t.InitialValue.IsPositive():
		return &ValidationError{Message: "initial_value must be positive"}
	case t.Sigma < 0:
		return &ValidationError{Message: "sigma must not be negative"}
	}
	return nil
}

// Simulation holds the configuration and lifecycle state of one game.
type Simulation struct {
	SimulationID            string
	Name                    string
	State                   SimulationState
	Ticker                  Ticker
	Capital                 decimal.Decimal
	NbShares                int64
	TransactionCost         decimal.Decimal // fixed, per order
	VariableTransactionCost decimal.Decimal // percent of the trade value
	PriceBand               decimal.Decimal // fraction, 0.5 means ±50%
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Defaults applied to new simulations.
var (
	DefaultCapital         = decimal.NewFromInt(100000)
	DefaultTransactionCost = decimal.NewFromInt(10)
	DefaultVariableCost    = decimal.NewFromInt(1)
	DefaultPriceBand       = decimal.RequireFromString("0.5")
)

// DefaultNbShares is the number of shares issued per company.
const DefaultNbShares int64 = 100000

// Validate checks the simulation settings.
func (s *Simulation) Validate() error {
	if s.Name == "" {
		return &ValidationError{Message: "name is required"}
	}
	if !s.Capital.IsPositive() {
		return &ValidationError{Message: "capital must be positive"}
	}
	if s.NbShares <= 0 {
		return &ValidationError{Message: "nb_shares must be positive"}
	}
	if s.TransactionCost.IsNegative() || s.VariableTransactionCost.IsNegative() {
		return &ValidationError{Message: "transaction costs must not be negative"}
	}
	if !s.PriceBand.IsPositive() || s.PriceBand.GreaterThan(one) {
		return &ValidationError{Message: "price_band must be in (0, 1]"}
	}
	return s.Ticker.Validate()
}
