package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trade represents a matched execution between a bid and an ask order.
type Trade struct {
	TransactionID string
	StockID       string
	BuyOrderID    string
	SellOrderID   string
	BuyerID       string
	SellerID      string
	Price         decimal.Decimal
	Quantity      int64
	ExecutedAt    time.Time
}

// Value returns price × quantity.
func (t *Trade) Value() decimal.Decimal {
	return t.Price.Mul(decimal.NewFromInt(t.Quantity))
}
