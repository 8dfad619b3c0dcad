package pricepath

import (
	"testing"

	"github.com/shopspring/decimal"
	"pgregory.net/rapid"

	"github.com/efreitasn/tradesim/internal/domain"
)

// Every accepted path passes the growth guard and has positive values.
func TestGenerate_GrowthGuardProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		ticker := domain.DefaultTicker()
		ticker.NbRounds = rapid.IntRange(2, 6).Draw(t, "rounds")
		ticker.NbDays = rapid.IntRange(1, 12).Draw(t, "days")
		seed := rapid.Uint64().Draw(t, "seed")

		path, err := NewGenerator(seed).Generate("s", ticker)
		if err != nil {
			t.Skip("no draw passed the guard")
		}

		n := ticker.NbRounds
		growth := path.NetIncome[n-1].Div(path.NetIncome[n-2]).Sub(decimal.NewFromInt(1))
		if growth.GreaterThan(decimal.RequireFromString("0.091")) {
			t.Fatalf("last round grew %s", growth)
		}
		for r, v := range path.ShareValue {
			if !v.IsPositive() {
				t.Fatalf("round %d: expected positive value, got %s", r+1, v)
			}
		}
	})
}
