package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Stock is a tradable instrument within one simulation.
type Stock struct {
	StockID      string
	SimulationID string
	Symbol       string
	Name         string
	Quantity     int64 // shares in circulation
	Price        decimal.Decimal
	OpeningPrice *decimal.Decimal // set once, on the first nonzero price
	UpdatedAt    time.Time
}

// SetPrice records a new last price. The first nonzero price also becomes
// the opening price; it returns true when that happened.
func (s *Stock) SetPrice(p decimal.Decimal, at time.Time) bool {
	s.Price = p
	s.UpdatedAt = at
	if s.OpeningPrice == nil && !p.IsZero() {
		op := p
		s.OpeningPrice = &op
		return true
	}
	return false
}

// GenericSymbol returns the symbol of the i-th generated company:
// AA, BB, CC and so on.
func GenericSymbol(i int) string {
	c := string(rune('A' + i%26))
	return c + c
}

// GenericName returns the display name for a generated company.
func GenericName(symbol string) string {
	return fmt.Sprintf("Company %s", symbol)
}

// Quote is a point-in-time price of a stock.
type Quote struct {
	StockID   string
	Price     decimal.Decimal
	Round     int
	Day       int
	Timestamp time.Time
}

// HistoricalPrice summarises the trades of one stock on one simulated day.
type HistoricalPrice struct {
	StockID string
	Round   int
	Day     int
	Open    decimal.Decimal
	High    decimal.Decimal
	Low     decimal.Decimal
	Close   decimal.Decimal
	Volume  int64
}
