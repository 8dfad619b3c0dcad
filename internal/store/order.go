package store

import (
	"context"
	"sort"
	"sync"

	"github.com/efreitasn/tradesim/internal/domain"
)

// OrderStore is a thread-safe in-memory store for orders,
// with a primary index by order_id and secondary indexes by team_id
// and stock_id.
type OrderStore struct {
	mu          sync.RWMutex
	orders      map[string]*domain.Order
	teamOrders  map[string][]string // team_id → order ids (append-only)
	stockOrders map[string][]string // stock_id → order ids (append-only)
}

// NewOrderStore creates an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders:      make(map[string]*domain.Order),
		teamOrders:  make(map[string][]string),
		stockOrders: make(map[string][]string),
	}
}

func cloneOrder(o *domain.Order) *domain.Order {
	c := *o
	if o.Price != nil {
		p := *o.Price
		c.Price = &p
	}
	return &c
}

// SaveOrders inserts new orders and replaces existing ones.
func (s *OrderStore) SaveOrders(_ context.Context, orders ...*domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range orders {
		if _, exists := s.orders[o.OrderID]; !exists {
			s.teamOrders[o.TeamID] = append(s.teamOrders[o.TeamID], o.OrderID)
			s.stockOrders[o.StockID] = append(s.stockOrders[o.StockID], o.OrderID)
		}
		s.orders[o.OrderID] = cloneOrder(o)
	}
	return nil
}

// GetOrder retrieves an order by ID. It returns
// domain.ErrOrderNotFound if the order does not exist.
func (s *OrderStore) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

// ListOrdersByTeam returns orders for a team in reverse insertion order
// (newest first), optionally filtered by state, paginated from page 1.
func (s *OrderStore) ListOrdersByTeam(_ context.Context, teamID string, state *domain.OrderState, page, limit int) ([]*domain.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.teamOrders[teamID]

	filtered := make([]*domain.Order, 0)
	for i := len(all) - 1; i >= 0; i-- {
		o := s.orders[all[i]]
		if state != nil && o.State != *state {
			continue
		}
		filtered = append(filtered, o)
	}

	total := len(filtered)

	start := (page - 1) * limit
	if start >= total {
		return []*domain.Order{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}

	result := make([]*domain.Order, 0, end-start)
	for _, o := range filtered[start:end] {
		result = append(result, cloneOrder(o))
	}
	return result, total, nil
}

// ListSubmitted returns the stock's SUBMITTED orders by created_at.
func (s *OrderStore) ListSubmitted(_ context.Context, stockID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Order, 0)
	for _, id := range s.stockOrders[stockID] {
		if o := s.orders[id]; o.State == domain.OrderStateSubmitted {
			result = append(result, cloneOrder(o))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
