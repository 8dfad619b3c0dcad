// Package pricepath synthesizes the fundamental trajectory of each company:
// a geometric Brownian motion of daily net income, the round dividends it
// pays out, and a discounted-dividend valuation per round.
package pricepath

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

const (
	// MaxAttempts bounds the number of GBM draws rejected by the growth guard.
	MaxAttempts = 1000

	// MaxLastRoundGrowth is the largest accepted growth of the last round's
	// income over the round before it.
	MaxLastRoundGrowth = 0.09

	// growthMargin keeps the terminal growth strictly below the discount rate.
	growthMargin = 0.01
)

// Generator draws price paths. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// NewGenerator creates a Generator with a deterministic seed.
func NewGenerator(seed uint64) *Generator {
	return &Generator{
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		now: time.Now,
	}
}

// Generate draws the path of one stock for the ticker settings. It returns
// domain.ErrStalePriceSeed when no draw passes the growth guard.
func (g *Generator) Generate(stockID string, t domain.Ticker) (*domain.CompanyPricePath, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	daily, err := g.brownian(t.NbRounds, t.NbDays, t.Mu, t.Sigma)
	if err != nil {
		return nil, fmt.Errorf("stock %s: %w", stockID, err)
	}

	income := roundSums(daily, t.NbRounds, t.NbDays)
	k := t.DiscountRate.InexactFloat64() / 100
	growth := terminalGrowth(income, t.Mu, k)
	values := valuation(income, k, growth)

	target := t.InitialValue.InexactFloat64() * (0.8 + 0.4*g.rng.Float64())
	scale := target / values[0]

	payoff := t.DividendPayoffRate.InexactFloat64() / 100
	path := &domain.CompanyPricePath{
		StockID:        stockID,
		Daily:          make([]decimal.Decimal, len(daily)),
		NetIncome:      make([]decimal.Decimal, t.NbRounds),
		RoundDividends: make([]decimal.Decimal, t.NbRounds),
		ShareValue:     make([]decimal.Decimal, t.NbRounds),
		Drift:          make([]decimal.Decimal, t.NbRounds),
		CreatedAt:      g.now().UTC(),
	}
	for i, v := range daily {
		path.Daily[i] = money(v * scale)
	}
	for r := 0; r < t.NbRounds; r++ {
		path.NetIncome[r] = money(income[r] * scale)
		path.RoundDividends[r] = money(income[r] * scale * payoff)
		path.ShareValue[r] = money(values[r] * scale)
		if r+1 < t.NbRounds {
			path.Drift[r] = money(values[r+1]/values[r] - 1)
		} else {
			path.Drift[r] = money(growth)
		}
	}
	return path, nil
}

// brownian returns rounds × days values of exp((mu − σ²/2)t + σW_t) with
// dt = 1/days, redrawn until the last round does not outgrow the previous
// one by more than MaxLastRoundGrowth.
func (g *Generator) brownian(rounds, days int, mu, sigma float64) ([]float64, error) {
	n := rounds * days
	dt := 1 / float64(days)
	s := make([]float64, n)

	for attempt := 0; attempt < MaxAttempts; attempt++ {
		w := 0.0
		for i := 0; i < n; i++ {
			w += g.rng.NormFloat64() * math.Sqrt(dt)
			t := 0.0
			if n > 1 {
				t = float64(i) * float64(rounds) / float64(n-1)
			}
			s[i] = math.Exp((mu-0.5*sigma*sigma)*t + sigma*w)
		}
		if rounds < 2 {
			return s, nil
		}
		sums := roundSums(s, rounds, days)
		if sums[rounds-1]/sums[rounds-2]-1 <= MaxLastRoundGrowth {
			return s, nil
		}
	}
	return nil, domain.ErrStalePriceSeed
}

func roundSums(daily []float64, rounds, days int) []float64 {
	sums := make([]float64, rounds)
	for i, v := range daily {
		sums[i/days] += v
	}
	return sums
}

// terminalGrowth is the growth of the last round over the previous one,
// or mu for a single round, clamped below the discount rate.
func terminalGrowth(income []float64, mu, k float64) float64 {
	g := mu
	if n := len(income); n >= 2 {
		g = income[n-1]/income[n-2] - 1
	}
	return math.Min(g, k-growthMargin)
}

// valuation discounts the remaining round incomes and a Gordon terminal
// value back to the start of every round.
func valuation(income []float64, k, g float64) []float64 {
	last := len(income) - 1
	terminal := income[last] * (1 + g) / (k - g)

	values := make([]float64, len(income))
	for r := range income {
		v := 0.0
		for j := r; j <= last; j++ {
			v += income[j] / math.Pow(1+k, float64(j-r+1))
		}
		v += terminal / math.Pow(1+k, float64(last-r+1))
		values[r] = v
	}
	return values
}

func money(v float64) decimal.Decimal {
	return domain.RoundAmount(decimal.NewFromFloat(v))
}
