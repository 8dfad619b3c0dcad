// Package oracle derives balances, holdings, rankings and price history
// from the ledger. Nothing it returns is stored; every answer is a fold
// over recorded transaction lines.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/store"
)

var hundred = decimal.NewFromInt(100)

// Oracle answers balance queries over the ledger.
type Oracle struct {
	ledger      store.Ledger
	markets     store.Markets
	simulations store.Simulations
	clocks      store.Clocks
}

// New creates an Oracle.
func New(ledger store.Ledger, markets store.Markets, simulations store.Simulations, clocks store.Clocks) *Oracle {
	return &Oracle{
		ledger:      ledger,
		markets:     markets,
		simulations: simulations,
		clocks:      clocks,
	}
}

// Balance is a team's cash and shares at one point of the ledger.
type Balance struct {
	Cash   decimal.Decimal
	Shares map[string]int64 // stock_id → shares
}

// SharesOf returns the shares held of one stock.
func (b Balance) SharesOf(stockID string) int64 {
	return b.Shares[stockID]
}

func balanceFrom(totals []domain.LineTotal) Balance {
	b := Balance{Cash: decimal.Zero, Shares: make(map[string]int64)}
	for _, t := range totals {
		if t.Asset == domain.AssetStocks {
			b.Shares[t.StockID] += t.Quantity
			continue
		}
		b.Cash = b.Cash.Add(t.Amount)
	}
	return b
}

// Balance folds a team's lines into cash and shares. Every non-STOCKS
// line counts as cash.
func (o *Oracle) Balance(ctx context.Context, simulationID, teamID string) (Balance, error) {
	totals, err := o.ledger.Totals(ctx, simulationID, teamID)
	if err != nil {
		return Balance{}, fmt.Errorf("ledger totals: %w", err)
	}
	return balanceFrom(totals), nil
}

// Cash returns the team's spendable cash.
func (o *Oracle) Cash(ctx context.Context, simulationID, teamID string) (decimal.Decimal, error) {
	b, err := o.Balance(ctx, simulationID, teamID)
	if err != nil {
		return decimal.Zero, err
	}
	return b.Cash, nil
}

// Shares returns the number of shares of a stock the team holds.
func (o *Oracle) Shares(ctx context.Context, simulationID, teamID, stockID string) (int64, error) {
	b, err := o.Balance(ctx, simulationID, teamID)
	if err != nil {
		return 0, err
	}
	return b.SharesOf(stockID), nil
}

// Position is the valuation of one stock in a portfolio.
type Position struct {
	StockID       string          `json:"stock_id"`
	Symbol        string          `json:"symbol"`
	Quantity      int64           `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	PurchaseValue decimal.Decimal `json:"purchase_value"`
	MarketValue   decimal.Decimal `json:"market_value"`
	Gain          decimal.Decimal `json:"gain"`
	GainPercent   decimal.Decimal `json:"gain_p"`
	SharePercent  decimal.Decimal `json:"shares_p"`
}

// CashBuckets splits the cash balance by the kind of line that produced it.
type CashBuckets struct {
	Cash         decimal.Decimal `json:"cash"`
	Dividends    decimal.Decimal `json:"dividends"`
	Transactions decimal.Decimal `json:"transactions"`
	Interests    decimal.Decimal `json:"interests"`
	Total        decimal.Decimal `json:"total"`
}

// PortfolioSnapshot is a team's holdings valued at current prices.
type PortfolioSnapshot struct {
	SimulationID  string          `json:"simulation_id"`
	TeamID        string          `json:"team_id"`
	Positions     []Position      `json:"stocks"`
	Cash          CashBuckets     `json:"cash"`
	MarketValue   decimal.Decimal `json:"market_value"`
	PurchaseValue decimal.Decimal `json:"purchase_value"`
	Gain          decimal.Decimal `json:"gain"`
	GainPercent   decimal.Decimal `json:"gain_p"`
	Round         int             `json:"round"`
	Day           int             `json:"day"`
}

// gainPercent returns (value/cost − 1) × 100, or zero without a cost.
func gainPercent(value, cost decimal.Decimal) decimal.Decimal {
	if cost.IsZero() {
		return decimal.Zero
	}
	return value.Div(cost).Sub(decimal.NewFromInt(1)).Mul(hundred).Round(2)
}

// Holdings values every position at the stock's last price. Cash lines
// count at face value in both the market and the purchase value.
func (o *Oracle) Holdings(ctx context.Context, simulationID, teamID string) (*PortfolioSnapshot, error) {
	totals, err := o.ledger.Totals(ctx, simulationID, teamID)
	if err != nil {
		return nil, fmt.Errorf("ledger totals: %w", err)
	}
	stocks, err := o.stockIndex(ctx, simulationID)
	if err != nil {
		return nil, err
	}

	snap := &PortfolioSnapshot{
		SimulationID:  simulationID,
		TeamID:        teamID,
		Positions:     make([]Position, 0),
		Cash:          CashBuckets{Cash: decimal.Zero, Dividends: decimal.Zero, Transactions: decimal.Zero, Interests: decimal.Zero, Total: decimal.Zero},
		MarketValue:   decimal.Zero,
		PurchaseValue: decimal.Zero,
	}

	for _, t := range totals {
		switch t.Asset {
		case domain.AssetStocks:
			st, ok := stocks[t.StockID]
			if !ok {
				continue
			}
			value := st.Price.Mul(decimal.NewFromInt(t.Quantity))
			p := Position{
				StockID:       st.StockID,
				Symbol:        st.Symbol,
				Quantity:      t.Quantity,
				Price:         st.Price,
				PurchaseValue: t.Amount,
				MarketValue:   value,
				Gain:          value.Sub(t.Amount),
				GainPercent:   gainPercent(value, t.Amount),
				SharePercent:  decimal.Zero,
			}
			if st.Quantity > 0 {
				p.SharePercent = decimal.NewFromInt(t.Quantity).Div(decimal.NewFromInt(st.Quantity)).Mul(hundred).Round(2)
			}
			snap.Positions = append(snap.Positions, p)
			snap.MarketValue = snap.MarketValue.Add(value)
			snap.PurchaseValue = snap.PurchaseValue.Add(t.Amount)
			continue
		case domain.AssetCash:
			snap.Cash.Cash = snap.Cash.Cash.Add(t.Amount)
		case domain.AssetDividends:
			snap.Cash.Dividends = snap.Cash.Dividends.Add(t.Amount)
		case domain.AssetTransactions:
			snap.Cash.Transactions = snap.Cash.Transactions.Add(t.Amount)
		case domain.AssetInterests:
			snap.Cash.Interests = snap.Cash.Interests.Add(t.Amount)
		}
		snap.Cash.Total = snap.Cash.Total.Add(t.Amount)
		snap.MarketValue = snap.MarketValue.Add(t.Amount)
		snap.PurchaseValue = snap.PurchaseValue.Add(t.Amount)
	}

	sort.Slice(snap.Positions, func(i, j int) bool {
		return snap.Positions[i].Symbol < snap.Positions[j].Symbol
	})
	snap.Gain = snap.MarketValue.Sub(snap.PurchaseValue)
	snap.GainPercent = gainPercent(snap.MarketValue, snap.PurchaseValue)

	clock, err := o.clocks.LastSnapshot(ctx, simulationID)
	switch {
	case err == nil:
		snap.Round, snap.Day = clock.Round, clock.Day
	case !errors.Is(err, domain.ErrClockNotStarted):
		return nil, fmt.Errorf("last clock: %w", err)
	}
	return snap, nil
}

func (o *Oracle) stockIndex(ctx context.Context, simulationID string) (map[string]*domain.Stock, error) {
	stocks, err := o.markets.ListStocks(ctx, simulationID)
	if err != nil {
		return nil, fmt.Errorf("list stocks: %w", err)
	}
	idx := make(map[string]*domain.Stock, len(stocks))
	for _, s := range stocks {
		idx[s.StockID] = s
	}
	return idx, nil
}

// RankEntry is one line of the simulation ranking.
type RankEntry struct {
	Rank    int             `json:"rank"`
	TeamID  string          `json:"team_id"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
	Shares  int64           `json:"shares"`
}

// Ranking orders the player teams by shares at market price plus cash,
// highest first. The liquidity manager is not ranked.
func (o *Oracle) Ranking(ctx context.Context, simulationID string) ([]RankEntry, error) {
	teams, err := o.simulations.ListTeams(ctx, simulationID)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	stocks, err := o.stockIndex(ctx, simulationID)
	if err != nil {
		return nil, err
	}

	ranking := make([]RankEntry, 0, len(teams))
	for _, team := range teams {
		if team.IsLiquidityManager() {
			continue
		}
		b, err := o.Balance(ctx, simulationID, team.TeamID)
		if err != nil {
			return nil, err
		}
		entry := RankEntry{TeamID: team.TeamID, Name: team.Name, Balance: b.Cash}
		for stockID, qty := range b.Shares {
			entry.Shares += qty
			if st, ok := stocks[stockID]; ok {
				entry.Balance = entry.Balance.Add(st.Price.Mul(decimal.NewFromInt(qty)))
			}
		}
		ranking = append(ranking, entry)
	}

	sort.SliceStable(ranking, func(i, j int) bool {
		if c := ranking[i].Balance.Cmp(ranking[j].Balance); c != 0 {
			return c > 0
		}
		return ranking[i].Name < ranking[j].Name
	})
	for i := range ranking {
		ranking[i].Rank = i + 1
	}
	return ranking, nil
}

// History aggregates a stock's trades into one OHLCV bar per simulated
// day. Only the buyer's line of each trade is counted; day 0 is skipped.
func (o *Oracle) History(ctx context.Context, stockID string) ([]domain.HistoricalPrice, error) {
	lines, err := o.ledger.StockLines(ctx, stockID)
	if err != nil {
		return nil, fmt.Errorf("stock lines: %w", err)
	}

	bars := make([]domain.HistoricalPrice, 0)
	for _, l := range lines {
		qty := l.Asset.Quantity()
		if qty <= 0 || l.Round < 1 || l.Day < 1 {
			continue
		}
		price := l.Asset.Price()
		n := len(bars)
		if n == 0 || bars[n-1].Round != l.Round || bars[n-1].Day != l.Day {
			bars = append(bars, domain.HistoricalPrice{
				StockID: stockID,
				Round:   l.Round,
				Day:     l.Day,
				Open:    price,
				High:    price,
				Low:     price,
				Close:   price,
			})
			n++
		}
		bar := &bars[n-1]
		if price.GreaterThan(bar.High) {
			bar.High = price
		}
		if price.LessThan(bar.Low) {
			bar.Low = price
		}
		bar.Close = price
		bar.Volume += qty
	}
	return bars, nil
}

// DividendEntry is one dividend payment received by a team.
type DividendEntry struct {
	Round    int             `json:"round"`
	Shares   int64           `json:"shares"`
	PerShare decimal.Decimal `json:"per_share"`
	Amount   decimal.Decimal `json:"amount"`
}

// Dividends lists the dividend lines of a team in payment order.
func (o *Oracle) Dividends(ctx context.Context, teamID string) ([]DividendEntry, error) {
	lines, err := o.ledger.TeamLines(ctx, teamID, domain.AssetDividends)
	if err != nil {
		return nil, fmt.Errorf("dividend lines: %w", err)
	}
	result := make([]DividendEntry, 0, len(lines))
	for _, l := range lines {
		result = append(result, DividendEntry{
			Round:    l.Round,
			Shares:   l.Asset.Quantity(),
			PerShare: l.Asset.Price(),
			Amount:   l.Asset.Amount(),
		})
	}
	return result, nil
}
