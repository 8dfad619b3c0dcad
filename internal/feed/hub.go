// Package feed broadcasts quotes, clock advances and state changes to
// WebSocket clients.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/metrics"
)

// Message types.
const (
	TypeQuote = "quote"
	TypeClock = "clock"
	TypeState = "state"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

// Message is a JSON message sent to WebSocket clients.
type Message struct {
	Type         string           `json:"type"`
	SimulationID string           `json:"simulation_id"`
	StockID      string           `json:"stock_id,omitempty"`
	Symbol       string           `json:"symbol,omitempty"`
	Price        *decimal.Decimal `json:"price,omitempty"`
	Round        *int             `json:"round,omitempty"`
	Day          *int             `json:"day,omitempty"`
	State        string           `json:"state,omitempty"`
	Timestamp    time.Time        `json:"timestamp"`
}

type outbound struct {
	simulationID string
	data         []byte
}

// client is one connection. Only its write pump writes to conn.
type client struct {
	conn         *websocket.Conn
	send         chan []byte
	simulationID string // empty receives every simulation
}

// Hub manages WebSocket connections and fans messages out to them.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan outbound
	register   chan *client
	unregister chan *client
	count      chan chan int
	done       chan struct{}
	logger     *slog.Logger
	upgrader   websocket.Upgrader
}

// NewHub creates a new Hub. Run must be started before clients connect.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan outbound, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		count:      make(chan chan int),
		done:       make(chan struct{}),
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Run is the hub's event loop. It returns when ctx is done, after
// disconnecting every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = true
			metrics.WebSocketClients.Set(float64(len(h.clients)))
			h.logger.Debug("ws client connected", slog.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if h.clients[c] {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if c.simulationID != "" && c.simulationID != msg.simulationID {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Slow consumer.
					h.drop(c)
				}
			}

		case reply := <-h.count:
			reply <- len(h.clients)
		}
	}
}

func (h *Hub) drop(c *client) {
	delete(h.clients, c)
	close(c.send)
	metrics.WebSocketClients.Set(float64(len(h.clients)))
}

// Clients returns the number of connected clients. It blocks until Run
// answers or ctx is done.
func (h *Hub) Clients(ctx context.Context) int {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
	case <-ctx.Done():
		return 0
	case <-h.done:
		return 0
	}
	return <-reply
}

// Broadcast queues a message for every client following its simulation.
// It never blocks; messages are dropped when the queue is full.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- outbound{simulationID: msg.SimulationID, data: data}:
	default:
	}
}

// HandleWS upgrades the request. The optional simulation_id query
// parameter restricts the feed to one simulation.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	c := &client{
		conn:         conn,
		send:         make(chan []byte, sendBuffer),
		simulationID: r.URL.Query().Get("simulation_id"),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client input and detects disconnects.
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump sends queued messages and keeps the connection alive
// through proxies.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// TradeExecuted is not broadcast; the resulting price change is.
func (h *Hub) TradeExecuted(context.Context, *domain.Trade) {}

// OrderFailed is not broadcast.
func (h *Hub) OrderFailed(context.Context, *domain.Order) {}

// PriceChanged broadcasts a stock's new price.
func (h *Hub) PriceChanged(_ context.Context, stock *domain.Stock) {
	price := stock.Price
	h.Broadcast(Message{
		Type:         TypeQuote,
		SimulationID: stock.SimulationID,
		StockID:      stock.StockID,
		Symbol:       stock.Symbol,
		Price:        &price,
		Timestamp:    stock.UpdatedAt.UTC(),
	})
}

// ClockAdvanced broadcasts a new round/day.
func (h *Hub) ClockAdvanced(_ context.Context, c domain.ClockState) {
	h.Broadcast(Message{
		Type:         TypeClock,
		SimulationID: c.SimulationID,
		Round:        &c.Round,
		Day:          &c.Day,
		Timestamp:    c.Timestamp.UTC(),
	})
}

// StateChanged broadcasts a simulation's new state.
func (h *Hub) StateChanged(_ context.Context, simulationID string, _, to domain.SimulationState) {
	h.Broadcast(Message{
		Type:         TypeState,
		SimulationID: simulationID,
		State:        to.String(),
		Timestamp:    time.Now().UTC(),
	})
}
