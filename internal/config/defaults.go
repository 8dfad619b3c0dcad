package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/efreitasn/tradesim/internal/domain"
)

// SimulationDefaults are the settings applied to a new simulation for
// every field its creation request leaves empty.
type SimulationDefaults struct {
	Ticker struct {
		NbCompanies        int             `yaml:"nb_companies"`
		NbRounds           int             `yaml:"nb_rounds"`
		NbDays             int             `yaml:"nb_days"`
		DayDuration        time.Duration   `yaml:"day_duration"`
		DividendPayoffRate decimal.Decimal `yaml:"dividend_payoff_rate"`
		InterestRate       decimal.Decimal `yaml:"interest_rate"`
		DiscountRate       decimal.Decimal `yaml:"discount_rate"`
		InitialValue       decimal.Decimal `yaml:"initial_value"`
		Mu                 float64         `yaml:"mu"`
		Sigma              float64         `yaml:"sigma"`
		PauseBetweenRounds bool            `yaml:"pause_between_rounds"`
	} `yaml:"ticker"`

	Capital                 decimal.Decimal `yaml:"capital"`
	NbShares                int64           `yaml:"nb_shares"`
	TransactionCost         decimal.Decimal `yaml:"transaction_cost"`
	VariableTransactionCost decimal.Decimal `yaml:"variable_transaction_cost"`
	PriceBand               decimal.Decimal `yaml:"price_band"`
}

// BuiltinDefaults returns the defaults used when no defaults file is given.
func BuiltinDefaults() *SimulationDefaults {
	t := domain.DefaultTicker()
	d := &SimulationDefaults{
		Capital:                 domain.DefaultCapital,
		NbShares:                domain.DefaultNbShares,
		TransactionCost:         domain.DefaultTransactionCost,
		VariableTransactionCost: domain.DefaultVariableCost,
		PriceBand:               domain.DefaultPriceBand,
	}
	d.Ticker.NbCompanies = t.NbCompanies
	d.Ticker.NbRounds = t.NbRounds
	d.Ticker.NbDays = t.NbDays
	d.Ticker.DayDuration = t.DayDuration
	d.Ticker.DividendPayoffRate = t.DividendPayoffRate
	d.Ticker.InterestRate = t.InterestRate
	d.Ticker.DiscountRate = t.DiscountRate
	d.Ticker.InitialValue = t.InitialValue
	d.Ticker.Mu = t.Mu
	d.Ticker.Sigma = t.Sigma
	d.Ticker.PauseBetweenRounds = t.PauseBetweenRounds
	return d
}

// LoadSimulationDefaults reads a YAML defaults file. Keys missing from the
// file keep their built-in values. An empty path returns the built-ins.
func LoadSimulationDefaults(path string) (*SimulationDefaults, error) {
	d := BuiltinDefaults()
	if path == "" {
		return d, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read simulation defaults: %w", err)
	}
	if err := yaml.Unmarshal(data, d); err != nil {
		return nil, fmt.Errorf("parse simulation defaults: %w", err)
	}

	probe := d.Simulation("defaults")
	if err := probe.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulation defaults: %w", err)
	}
	return d, nil
}

// Simulation returns a CONFIGURING simulation named name carrying the
// defaults.
func (d *SimulationDefaults) Simulation(name string) *domain.Simulation {
	return &domain.Simulation{
		Name:  name,
		State: domain.StateConfiguring,
		Ticker: domain.Ticker{
			NbCompanies:        d.Ticker.NbCompanies,
			NbRounds:           d.Ticker.NbRounds,
			NbDays:             d.Ticker.NbDays,
			DayDuration:        d.Ticker.DayDuration,
			DividendPayoffRate: d.Ticker.DividendPayoffRate,
			InterestRate:       d.Ticker.InterestRate,
			DiscountRate:       d.Ticker.DiscountRate,
			InitialValue:       d.Ticker.InitialValue,
			Mu:                 d.Ticker.Mu,
			Sigma:              d.Ticker.Sigma,
			PauseBetweenRounds: d.Ticker.PauseBetweenRounds,
		},
		Capital:                 d.Capital,
		NbShares:                d.NbShares,
		TransactionCost:         d.TransactionCost,
		VariableTransactionCost: d.VariableTransactionCost,
		PriceBand:               d.PriceBand,
	}
}
