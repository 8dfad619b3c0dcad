package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// PricePlaces is the number of decimal places kept for prices and amounts.
const PricePlaces = 4

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// ValidatePrice checks that p is strictly positive and carries at most
// PricePlaces decimal places.
func ValidatePrice(p decimal.Decimal) error {
	if !p.IsPositive() {
		return fmt.Errorf("price must be greater than 0")
	}
	if !p.Equal(p.Round(PricePlaces)) {
		return fmt.Errorf("price must have at most %d decimal places", PricePlaces)
	}
	return nil
}

// Percent converts a percentage (e.g. 1.5 for 1.5%) into a fraction.
func Percent(p decimal.Decimal) decimal.Decimal {
	return p.Div(hundred)
}

// RoundAmount rounds a monetary value to PricePlaces decimal places.
func RoundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(PricePlaces)
}

// Cents rounds a price to two decimal places, the granularity used for
// synthetic order prices.
func Cents(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// WithinBand reports whether price lies inside [ref×(1−band), ref×(1+band)].
// A zero reference price means no prior trade, so every price is accepted.
func WithinBand(price, ref, band decimal.Decimal) bool {
	if ref.IsZero() {
		return true
	}
	low := ref.Mul(one.Sub(band))
	high := ref.Mul(one.Add(band))
	return price.GreaterThanOrEqual(low) && price.LessThanOrEqual(high)
}
