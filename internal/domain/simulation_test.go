package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestSimulationState_ManualTransitions(t *testing.T) {
	tests := []struct {
		from, to SimulationState
		want     bool
	}{
		{StateReady, StateRunning, true},
		{StateRunning, StatePaused, true},
		{StatePaused, StateRunning, true},
		{StateRunning, StateFinished, true},
		{StatePaused, StateFinished, true},
		{StateFinished, StateArchived, true},
		{StateConfiguring, StateRunning, false},
		{StateReady, StatePaused, false},
		{StateFinished, StateRunning, false},
		{StateArchived, StateRunning, false},
		{StateRunning, StateReady, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanRequest(tt.to); got != tt.want {
			t.Errorf("%s.CanRequest(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseSimulationState(t *testing.T) {
	s, ok := ParseSimulationState("RUNNING")
	if !ok || s != StateRunning {
		t.Errorf("expected RUNNING, got %v %v", s, ok)
	}
	if _, ok := ParseSimulationState("SLEEPING"); ok {
		t.Error("expected unknown state to be rejected")
	}
	if StateArchived.String() != "ARCHIVED" || int(StateArchived) != 9 {
		t.Errorf("unexpected archived state %s/%d", StateArchived, int(StateArchived))
	}
}

func validSimulation() *Simulation {
	return &Simulation{
		Name:                    "Spring",
		Ticker:                  DefaultTicker(),
		Capital:                 DefaultCapital,
		NbShares:                DefaultNbShares,
		TransactionCost:         DefaultTransactionCost,
		VariableTransactionCost: DefaultVariableCost,
		PriceBand:               DefaultPriceBand,
	}
}

func TestSimulation_Validate(t *testing.T) {
	if err := validSimulation().Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s := validSimulation()
	s.Ticker.NbCompanies = 27
	if err := s.Validate(); err == nil {
		t.Error("expected error for 27 companies")
	}

	s = validSimulation()
	s.PriceBand = decimal.NewFromInt(2)
	if err := s.Validate(); err == nil {
		t.Error("expected error for price band above 1")
	}

	s = validSimulation()
	s.Ticker.DayDuration = 0
	if err := s.Validate(); err == nil {
		t.Error("expected error for zero day duration")
	}
}

func TestStock_SetPriceOpeningOnce(t *testing.T) {
	s := &Stock{StockID: "s1"}
	now := time.Now()
	if s.SetPrice(decimal.Zero, now) {
		t.Error("zero price must not set the opening price")
	}
	if !s.SetPrice(decimal.NewFromInt(10), now) {
		t.Error("first nonzero price should set the opening price")
	}
	if s.SetPrice(decimal.NewFromInt(12), now) {
		t.Error("opening price must be set only once")
	}
	if !s.OpeningPrice.Equal(decimal.NewFromInt(10)) {
		t.Errorf("expected opening price 10, got %s", s.OpeningPrice)
	}
	if !s.Price.Equal(decimal.NewFromInt(12)) {
		t.Errorf("expected price 12, got %s", s.Price)
	}
}

func TestGenericSymbol(t *testing.T) {
	if GenericSymbol(0) != "AA" || GenericSymbol(2) != "CC" {
		t.Errorf("unexpected symbols %s %s", GenericSymbol(0), GenericSymbol(2))
	}
}

func TestClockState_Before(t *testing.T) {
	a := ClockState{Round: 1, Day: 10}
	b := ClockState{Round: 2, Day: 0}
	if !a.Before(b) || b.Before(a) {
		t.Error("round must dominate day in clock ordering")
	}
}

func TestCompanyPricePath_FairValue(t *testing.T) {
	p := &CompanyPricePath{
		ShareValue:     []decimal.Decimal{decimal.NewFromInt(100), decimal.NewFromInt(110)},
		Drift:          []decimal.Decimal{decimal.RequireFromString("0.1"), decimal.RequireFromString("0.05")},
		RoundDividends: []decimal.Decimal{decimal.NewFromInt(2), decimal.NewFromInt(3)},
	}
	if got := p.FairValue(1, 5, 10); !got.Equal(decimal.NewFromInt(105)) {
		t.Errorf("FairValue(1, 5, 10) = %s, want 105", got)
	}
	if got := p.FairValue(9, 0, 10); !got.Equal(decimal.NewFromInt(110)) {
		t.Errorf("FairValue beyond last round = %s, want 110", got)
	}
	if got := p.DividendFor(2); !got.Equal(decimal.NewFromInt(3)) {
		t.Errorf("DividendFor(2) = %s, want 3", got)
	}
	if got := p.DividendFor(3); !got.IsZero() {
		t.Errorf("DividendFor(3) = %s, want 0", got)
	}
}
