package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CompanyPricePath is the synthesized valuation trajectory of one stock.
// Slices indexed by round are zero-based: index 0 is round 1.
type CompanyPricePath struct {
	StockID        string
	Daily          []decimal.Decimal // per-day net income per share, rounds × days
	NetIncome      []decimal.Decimal // per round
	RoundDividends []decimal.Decimal // per round, per share
	ShareValue     []decimal.Decimal // fair value at the start of each round
	Drift          []decimal.Decimal // growth of the fair value over each round
	CreatedAt      time.Time
}

// Rounds returns the number of rounds covered by the path.
func (p *CompanyPricePath) Rounds() int {
	return len(p.ShareValue)
}

// OpeningValue is the fair value of the first round.
func (p *CompanyPricePath) OpeningValue() decimal.Decimal {
	if len(p.ShareValue) == 0 {
		return decimal.Zero
	}
	return p.ShareValue[0]
}

// DividendFor returns the per-share dividend of a 1-based round.
func (p *CompanyPricePath) DividendFor(round int) decimal.Decimal {
	if round < 1 || round > len(p.RoundDividends) {
		return decimal.Zero
	}
	return p.RoundDividends[round-1]
}

// FairValue interpolates the fair value for a 1-based (round, day) by
// compounding the round's drift linearly over its days.
func (p *CompanyPricePath) FairValue(round, day, nbDays int) decimal.Decimal {
	if len(p.ShareValue) == 0 {
		return decimal.Zero
	}
	if round < 1 {
		round = 1
	}
	if round > len(p.ShareValue) {
		round = len(p.ShareValue)
	}
	base := p.ShareValue[round-1]
	if nbDays <= 0 || day <= 0 {
		return base
	}
	progress := decimal.NewFromInt(int64(day)).Div(decimal.NewFromInt(int64(nbDays)))
	return base.Mul(one.Add(p.Drift[round-1].Mul(progress)))
}
