package engine

import (
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

// OrderBookEntry represents a single SUBMITTED order resting on the book.
type OrderBookEntry struct {
	Price     decimal.Decimal // zero for market orders
	CreatedAt time.Time
	OrderID   string
	Order     *domain.Order
}

// PriceLevel is an aggregated level of the book. Market orders are
// reported under a nil price.
type PriceLevel struct {
	Price      *decimal.Decimal `json:"price"`
	Side       domain.OrderSide `json:"side"`
	Quantity   int64            `json:"quantity"`
	OrderCount int              `json:"order_count"`
}

// bidLess orders limit bids by price descending, then created_at
// ascending, then order_id. Min() is the best bid.
func bidLess(a, b OrderBookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c > 0
	}
	return timeLess(a, b)
}

// askLess orders limit asks by price ascending, then created_at
// ascending, then order_id. Min() is the best ask.
func askLess(a, b OrderBookEntry) bool {
	if c := a.Price.Cmp(b.Price); c != 0 {
		return c < 0
	}
	return timeLess(a, b)
}

// timeLess orders market orders first in, first out.
func timeLess(a, b OrderBookEntry) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.OrderID < b.OrderID
}

type bookSide struct {
	limits  *btree.BTreeG[OrderBookEntry]
	markets *btree.BTreeG[OrderBookEntry]
}

// OrderBook holds the SUBMITTED orders of one stock: a price-time
// ordered tree of limit orders and a FIFO tree of market orders per side,
// plus a secondary index for removal by order id.
type OrderBook struct {
	stockID string
	mu      sync.RWMutex
	loaded  bool
	sides   map[domain.OrderSide]*bookSide
	index   map[string]OrderBookEntry // order_id → entry
}

// NewOrderBook creates an empty order book for the given stock.
func NewOrderBook(stockID string) *OrderBook {
	const degree = 32
	return &OrderBook{
		stockID: stockID,
		sides: map[domain.OrderSide]*bookSide{
			domain.OrderSideBid: {
				limits:  btree.NewG[OrderBookEntry](degree, bidLess),
				markets: btree.NewG[OrderBookEntry](degree, timeLess),
			},
			domain.OrderSideAsk: {
				limits:  btree.NewG[OrderBookEntry](degree, askLess),
				markets: btree.NewG[OrderBookEntry](degree, timeLess),
			},
		},
		index: make(map[string]OrderBookEntry),
	}
}

func (ob *OrderBook) tree(side domain.OrderSide, market bool) *btree.BTreeG[OrderBookEntry] {
	s := ob.sides[side]
	if market {
		return s.markets
	}
	return s.limits
}

// Insert rests an order on its side of the book.
func (ob *OrderBook) Insert(o *domain.Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	entry := OrderBookEntry{CreatedAt: o.CreatedAt, OrderID: o.OrderID, Order: o}
	if o.Price != nil {
		entry.Price = *o.Price
	}
	ob.tree(o.Side, o.IsMarket()).ReplaceOrInsert(entry)
	ob.index[o.OrderID] = entry
}

// Remove deletes an order from the book by order ID. Unknown ids are
// ignored.
func (ob *OrderBook) Remove(orderID string) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	entry, ok := ob.index[orderID]
	if !ok {
		return
	}
	delete(ob.index, orderID)
	ob.tree(entry.Order.Side, entry.Order.IsMarket()).Delete(entry)
}

// Reset empties the book and marks it unloaded, so the next pass reloads
// the SUBMITTED orders from the store.
func (ob *OrderBook) Reset() {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	for _, s := range ob.sides {
		s.limits.Clear(false)
		s.markets.Clear(false)
	}
	clear(ob.index)
	ob.loaded = false
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return len(ob.index)
}

// Best returns the highest-priority limit order of a side.
func (ob *OrderBook) Best(side domain.OrderSide) (OrderBookEntry, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.tree(side, false).Min()
}

// LimitCount returns the number of limit orders resting on a side.
func (ob *OrderBook) LimitCount(side domain.OrderSide) int {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.tree(side, false).Len()
}

// WalkLimits iterates the limit orders of a side best first. The callback
// returns false to stop.
func (ob *OrderBook) WalkLimits(side domain.OrderSide, fn func(OrderBookEntry) bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	ob.tree(side, false).Ascend(fn)
}

// WalkMarkets iterates the market orders of a side oldest first.
func (ob *OrderBook) WalkMarkets(side domain.OrderSide, fn func(OrderBookEntry) bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	ob.tree(side, true).Ascend(fn)
}

// Orders returns every resting order, bids first.
func (ob *OrderBook) Orders() []*domain.Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	result := make([]*domain.Order, 0, len(ob.index))
	for _, side := range []domain.OrderSide{domain.OrderSideBid, domain.OrderSideAsk} {
		collect := func(e OrderBookEntry) bool {
			result = append(result, e.Order)
			return true
		}
		ob.tree(side, true).Ascend(collect)
		ob.tree(side, false).Ascend(collect)
	}
	return result
}

// DiscoveryPrice returns the quantity-weighted mean price of every limit
// order on the book, or false when there is none.
func (ob *OrderBook) DiscoveryPrice() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	total := decimal.Zero
	var qty int64
	for _, side := range ob.sides {
		side.limits.Ascend(func(e OrderBookEntry) bool {
			total = total.Add(e.Price.Mul(decimal.NewFromInt(e.Order.Quantity)))
			qty += e.Order.Quantity
			return true
		})
	}
	if qty == 0 {
		return decimal.Zero, false
	}
	return domain.RoundAmount(total.Div(decimal.NewFromInt(qty))), true
}

// Levels aggregates the book per side and price, bids first. Each side
// lists its market orders, then its limit levels best first.
func (ob *OrderBook) Levels() []PriceLevel {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	levels := make([]PriceLevel, 0)
	for _, side := range []domain.OrderSide{domain.OrderSideBid, domain.OrderSideAsk} {
		if n := ob.tree(side, true).Len(); n > 0 {
			lvl := PriceLevel{Side: side, OrderCount: n}
			ob.tree(side, true).Ascend(func(e OrderBookEntry) bool {
				lvl.Quantity += e.Order.Quantity
				return true
			})
			levels = append(levels, lvl)
		}
		start := len(levels)
		ob.tree(side, false).Ascend(func(e OrderBookEntry) bool {
			if len(levels) > start && levels[len(levels)-1].Price.Equal(e.Price) {
				levels[len(levels)-1].Quantity += e.Order.Quantity
				levels[len(levels)-1].OrderCount++
				return true
			}
			p := e.Price
			levels = append(levels, PriceLevel{Price: &p, Side: side, Quantity: e.Order.Quantity, OrderCount: 1})
			return true
		})
	}
	return levels
}

// BookManager is a thread-safe map of stock_id → OrderBook.
type BookManager struct {
	mu    sync.RWMutex
	books map[string]*OrderBook
}

// NewBookManager creates a new BookManager.
func NewBookManager() *BookManager {
	return &BookManager{
		books: make(map[string]*OrderBook),
	}
}

// GetOrCreate returns the order book for the given stock, creating
// one if it doesn't already exist.
func (bm *BookManager) GetOrCreate(stockID string) *OrderBook {
	bm.mu.RLock()
	book, ok := bm.books[stockID]
	bm.mu.RUnlock()
	if ok {
		return book
	}

	bm.mu.Lock()
	defer bm.mu.Unlock()
	if book, ok = bm.books[stockID]; ok {
		return book
	}
	book = NewOrderBook(stockID)
	bm.books[stockID] = book
	return book
}
