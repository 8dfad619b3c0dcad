package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

// LedgerStore is a thread-safe in-memory ledger. Lines are append-only
// and indexed by team and, for traded shares, by stock.
type LedgerStore struct {
	mu      sync.RWMutex
	txs     map[string]*domain.Transaction
	byTeam  map[string][]domain.PostedLine // team_id → lines (record order)
	byStock map[string][]domain.PostedLine // stock_id → ORDER STOCKS lines (record order)
}

// NewLedgerStore creates an empty LedgerStore.
func NewLedgerStore() *LedgerStore {
	return &LedgerStore{
		txs:     make(map[string]*domain.Transaction),
		byTeam:  make(map[string][]domain.PostedLine),
		byStock: make(map[string][]domain.PostedLine),
	}
}

// assignIDs fills in the transaction and line ids left empty by the caller.
func assignIDs(tx *domain.Transaction) {
	if tx.TransactionID == "" {
		tx.TransactionID = uuid.New().String()
	}
	for i := range tx.Lines {
		if tx.Lines[i].LineID == "" {
			tx.Lines[i].LineID = uuid.New().String()
		}
		tx.Lines[i].TransactionID = tx.TransactionID
	}
}

// Record appends a transaction. Either every line is indexed or, when
// validation fails, none is.
func (s *LedgerStore) Record(_ context.Context, tx *domain.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}
	assignIDs(tx)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := *tx
	c.Lines = append([]domain.TransactionLine(nil), tx.Lines...)
	s.txs[tx.TransactionID] = &c

	for _, l := range c.Lines {
		pl := domain.PostedLine{
			TransactionLine: l,
			Type:            c.Type,
			Round:           c.Round,
			Day:             c.Day,
			FulfilledAt:     c.FulfilledAt,
		}
		s.byTeam[l.TeamID] = append(s.byTeam[l.TeamID], pl)
		if c.Type == domain.TransactionOrder && l.StockID() != "" {
			s.byStock[l.StockID()] = append(s.byStock[l.StockID()], pl)
		}
	}
	return nil
}

type totalKey struct {
	asset   domain.AssetType
	stockID string
}

// Totals sums a team's lines per (asset, stock).
func (s *LedgerStore) Totals(_ context.Context, _, teamID string) ([]domain.LineTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[totalKey]*domain.LineTotal)
	for _, l := range s.byTeam[teamID] {
		k := totalKey{asset: l.Asset.Kind(), stockID: l.StockID()}
		t, ok := sums[k]
		if !ok {
			t = &domain.LineTotal{Asset: k.asset, StockID: k.stockID, Amount: decimal.Zero}
			sums[k] = t
		}
		t.Quantity += l.Asset.Quantity()
		t.Amount = t.Amount.Add(l.Asset.Amount())
	}

	result := make([]domain.LineTotal, 0, len(sums))
	for _, t := range sums {
		result = append(result, *t)
	}
	sortTotals(result)
	return result, nil
}

func sortTotals(totals []domain.LineTotal) {
	sort.Slice(totals, func(i, j int) bool {
		if totals[i].Asset != totals[j].Asset {
			return totals[i].Asset < totals[j].Asset
		}
		return totals[i].StockID < totals[j].StockID
	})
}

// PaidOut scans the recorded transactions for the round's payout.
func (s *LedgerStore) PaidOut(_ context.Context, simulationID string, round int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.txs {
		if tx.SimulationID != simulationID || tx.Round != round {
			continue
		}
		if tx.Type == domain.TransactionEOR || tx.Type == domain.TransactionEOS {
			return true, nil
		}
	}
	return false, nil
}

// TeamLines returns the team's lines of the given asset type.
func (s *LedgerStore) TeamLines(_ context.Context, teamID string, asset domain.AssetType) ([]domain.PostedLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PostedLine, 0)
	for _, l := range s.byTeam[teamID] {
		if l.Asset.Kind() == asset {
			result = append(result, l)
		}
	}
	return result, nil
}

// StockLines returns a copy of the traded share lines of a stock.
func (s *LedgerStore) StockLines(_ context.Context, stockID string) ([]domain.PostedLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.byStock[stockID]
	result := make([]domain.PostedLine, len(lines))
	copy(result, lines)
	return result, nil
}

// TradedSince scans the stock's trades from the newest.
func (s *LedgerStore) TradedSince(_ context.Context, stockID string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lines := s.byStock[stockID]
	for i := len(lines) - 1; i >= 0; i-- {
		if !lines[i].FulfilledAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}
