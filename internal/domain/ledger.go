package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies the economic event a Transaction records.
type TransactionType string

const (
	TransactionOrder   TransactionType = "ORDER"
	TransactionInitial TransactionType = "INITIAL"
	TransactionEOR     TransactionType = "EOR"
	TransactionEOS     TransactionType = "EOS"
)

// AssetType tags the leg of a TransactionLine.
type AssetType string

const (
	AssetStocks       AssetType = "STOCKS"
	AssetCash         AssetType = "CASH"
	AssetDividends    AssetType = "DIVIDENDS"
	AssetTransactions AssetType = "TRANSACTIONS"
	AssetInterests    AssetType = "INTERESTS"
)

// Asset is the payload of a TransactionLine. The set of implementations
// is closed: Stocks, Cash, Dividends, Costs and Interests.
type Asset interface {
	Kind() AssetType
	Quantity() int64
	Price() decimal.Decimal
	Amount() decimal.Decimal
	asset()
}

// Stocks is a share movement. It is the only asset bound to a stock.
type Stocks struct {
	StockID   string
	Shares    int64 // signed
	UnitPrice decimal.Decimal
}

func (a Stocks) Kind() AssetType         { return AssetStocks }
func (a Stocks) Quantity() int64         { return a.Shares }
func (a Stocks) Price() decimal.Decimal  { return a.UnitPrice }
func (a Stocks) Amount() decimal.Decimal { return a.UnitPrice.Mul(decimal.NewFromInt(a.Shares)) }
func (Stocks) asset()                    {}

// Cash is a signed cash movement.
type Cash struct {
	Value decimal.Decimal
}

func (a Cash) Kind() AssetType         { return AssetCash }
func (a Cash) Quantity() int64         { return 1 }
func (a Cash) Price() decimal.Decimal  { return a.Value }
func (a Cash) Amount() decimal.Decimal { return a.Value }
func (Cash) asset()                    {}

// Dividends is a dividend payment on Shares held at PerShare.
type Dividends struct {
	Shares   int64
	PerShare decimal.Decimal
}

func (a Dividends) Kind() AssetType         { return AssetDividends }
func (a Dividends) Quantity() int64         { return a.Shares }
func (a Dividends) Price() decimal.Decimal  { return a.PerShare }
func (a Dividends) Amount() decimal.Decimal { return a.PerShare.Mul(decimal.NewFromInt(a.Shares)) }
func (Dividends) asset()                    {}

// Costs is a transaction cost. Units is negative so Amount is a debit.
type Costs struct {
	Units    int64
	UnitCost decimal.Decimal
}

func (a Costs) Kind() AssetType         { return AssetTransactions }
func (a Costs) Quantity() int64         { return a.Units }
func (a Costs) Price() decimal.Decimal  { return a.UnitCost }
func (a Costs) Amount() decimal.Decimal { return a.UnitCost.Mul(decimal.NewFromInt(a.Units)) }
func (Costs) asset()                    {}

// Interests is an interest payment at Rate yielding Value.
type Interests struct {
	Rate  decimal.Decimal
	Value decimal.Decimal
}

func (a Interests) Kind() AssetType         { return AssetInterests }
func (a Interests) Quantity() int64         { return 1 }
func (a Interests) Price() decimal.Decimal  { return a.Rate }
func (a Interests) Amount() decimal.Decimal { return a.Value }
func (Interests) asset()                    {}

// NewInterests computes the interest earned on principal at rate.
func NewInterests(principal, rate decimal.Decimal) Interests {
	return Interests{Rate: rate, Value: RoundAmount(principal.Mul(rate))}
}

// AssetFromRow rebuilds an Asset from its flattened columns.
func AssetFromRow(kind AssetType, stockID string, quantity int64, price, amount decimal.Decimal) (Asset, error) {
	switch kind {
	case AssetStocks:
		if stockID == "" {
			return nil, fmt.Errorf("%w: stocks line without stock", ErrMalformedTransactionLine)
		}
		return Stocks{StockID: stockID, Shares: quantity, UnitPrice: price}, nil
	case AssetCash:
		return Cash{Value: amount}, nil
	case AssetDividends:
		return Dividends{Shares: quantity, PerShare: price}, nil
	case AssetTransactions:
		return Costs{Units: quantity, UnitCost: price}, nil
	case AssetInterests:
		return Interests{Rate: price, Value: amount}, nil
	}
	return nil, fmt.Errorf("%w: unknown asset type %q", ErrMalformedTransactionLine, kind)
}

// TransactionLine is one signed leg of a Transaction.
type TransactionLine struct {
	LineID        string
	TransactionID string
	TeamID        string
	Asset         Asset
}

// StockID returns the stock a STOCKS line refers to, or "" for any
// other asset.
func (l TransactionLine) StockID() string {
	if s, ok := l.Asset.(Stocks); ok {
		return s.StockID
	}
	return ""
}

// Transaction is an immutable economic event made of one or more lines.
type Transaction struct {
	TransactionID string
	SimulationID  string
	Type          TransactionType
	Round         int
	Day           int
	FulfilledAt   time.Time
	Lines         []TransactionLine
}

// Validate checks the structural invariants of a transaction before it
// is recorded: at least one line, every line owned by a team, and for
// ORDER transactions each team's CASH leg offsets its STOCKS leg.
func (t *Transaction) Validate() error {
	if len(t.Lines) == 0 {
		return ErrEmptyTransaction
	}
	for _, l := range t.Lines {
		if l.TeamID == "" || l.Asset == nil {
			return ErrMalformedTransactionLine
		}
	}
	if t.Type != TransactionOrder {
		return nil
	}
	net := make(map[string]decimal.Decimal)
	for _, l := range t.Lines {
		switch l.Asset.Kind() {
		case AssetStocks, AssetCash:
			net[l.TeamID] = net[l.TeamID].Add(l.Asset.Amount())
		}
	}
	for team, v := range net {
		if !v.IsZero() {
			return fmt.Errorf("%w: team %s nets %s", ErrUnbalancedTransaction, team, v)
		}
	}
	return nil
}

// Teams returns the distinct teams touched by the transaction.
func (t *Transaction) Teams() []string {
	seen := make(map[string]bool, len(t.Lines))
	var teams []string
	for _, l := range t.Lines {
		if !seen[l.TeamID] {
			seen[l.TeamID] = true
			teams = append(teams, l.TeamID)
		}
	}
	return teams
}

// LineTotal is the sum of one team's lines for an (asset, stock) group.
type LineTotal struct {
	Asset    AssetType       `json:"asset"`
	StockID  string          `json:"stock_id,omitempty"`
	Quantity int64           `json:"quantity"`
	Amount   decimal.Decimal `json:"amount"`
}

// PostedLine is a recorded line together with the stamp of the
// transaction it belongs to.
type PostedLine struct {
	TransactionLine
	Type        TransactionType
	Round       int
	Day         int
	FulfilledAt time.Time
}
