package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether an order is a bid (buy) or ask (sell).
type OrderSide string

const (
	OrderSideBid OrderSide = "BID"
	OrderSideAsk OrderSide = "ASK"
)

// Opposite returns the side an order of this side matches against.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBid {
		return OrderSideAsk
	}
	return OrderSideBid
}

// OrderState represents the lifecycle state of an order.
type OrderState string

const (
	OrderStateSubmitted OrderState = "SUBMITTED"
	OrderStateProcessed OrderState = "PROCESSED"
	OrderStateFailed    OrderState = "FAILED"
)

// Failure reasons recorded on FAILED orders.
const (
	FailureInsufficientBalance = "insufficient_balance"
	FailurePriceOutOfBand      = "price_out_of_band"
	FailureExpired             = "expired"
)

// Order represents a bid or ask instruction submitted by a team.
//
// A partially matched order is reduced to the traded quantity and a
// residual order carrying the unfilled balance is created with the same
// CreatedAt and ParentID, so the residual keeps its queue position.
type Order struct {
	OrderID       string
	ParentID      string // first order of a residual chain; equals OrderID for originals
	SimulationID  string
	StockID       string
	TeamID        string
	Side          OrderSide
	Quantity      int64
	Price         *decimal.Decimal // nil for market orders
	State         OrderState
	FailureReason string
	TransactionID string
	Round         int
	Day           int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// IsMarket reports whether the order carries no limit price.
func (o *Order) IsMarket() bool {
	return o.Price == nil
}

// Transition moves the order to a new state. Only SUBMITTED orders can
// change state; PROCESSED and FAILED are terminal.
func (o *Order) Transition(to OrderState, at time.Time) error {
	if o.State != OrderStateSubmitted || to == OrderStateSubmitted {
		return ErrInvalidOrderTransition
	}
	o.State = to
	o.UpdatedAt = at
	return nil
}

// Fail transitions the order to FAILED and records why.
func (o *Order) Fail(reason string, at time.Time) error {
	if err := o.Transition(OrderStateFailed, at); err != nil {
		return err
	}
	o.FailureReason = reason
	return nil
}

// Residual builds the SUBMITTED remainder of o after qty units were
// traded. The receiver is not modified.
func (o *Order) Residual(id string, traded int64) *Order {
	r := *o
	r.OrderID = id
	r.Quantity = o.Quantity - traded
	r.State = OrderStateSubmitted
	r.FailureReason = ""
	r.TransactionID = ""
	if o.Price != nil {
		p := *o.Price
		r.Price = &p
	}
	return &r
}
