package feed

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func startHub(t *testing.T) (*Hub, *httptest.Server, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(discard)
	go hub.Run(ctx)
	server := httptest.NewServer(http.HandlerFunc(hub.HandleWS))
	t.Cleanup(func() {
		cancel()
		server.Close()
	})
	return hub, server, cancel
}

func dial(t *testing.T, hub *Hub, server *httptest.Server, query string, want int) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	waitClients(t, hub, want)
	return conn
}

func waitClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.Clients(context.Background()) == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d clients, got %d", want, hub.Clients(context.Background()))
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return msg
}

func TestHub_BroadcastsPriceChanges(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, hub, server, "", 1)

	hub.PriceChanged(context.Background(), &domain.Stock{
		StockID:      "stock-1",
		SimulationID: "sim-1",
		Symbol:       "AA",
		Price:        decimal.RequireFromString("101.5"),
		UpdatedAt:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	})

	msg := read(t, conn)
	if msg["type"] != TypeQuote {
		t.Errorf("got type %v, want %s", msg["type"], TypeQuote)
	}
	if msg["symbol"] != "AA" || msg["price"] != "101.5" {
		t.Errorf("got %v @ %v, want AA @ \"101.5\"", msg["symbol"], msg["price"])
	}
	if msg["timestamp"] != "2025-03-01T10:00:00Z" {
		t.Errorf("got timestamp %v", msg["timestamp"])
	}
}

func TestHub_ClockMessageKeepsDayZero(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, hub, server, "", 1)

	hub.ClockAdvanced(context.Background(), domain.ClockState{SimulationID: "sim-1", Round: 2, Day: 0, Timestamp: time.Now()})

	msg := read(t, conn)
	if msg["type"] != TypeClock {
		t.Errorf("got type %v, want %s", msg["type"], TypeClock)
	}
	if msg["round"] != float64(2) || msg["day"] != float64(0) {
		t.Errorf("got R%v/D%v, want R2/D0", msg["round"], msg["day"])
	}
}

func TestHub_FiltersBySimulation(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, hub, server, "?simulation_id=sim-2", 1)

	hub.StateChanged(context.Background(), "sim-1", domain.StateRunning, domain.StatePaused)
	hub.StateChanged(context.Background(), "sim-2", domain.StateRunning, domain.StateFinished)

	msg := read(t, conn)
	if msg["simulation_id"] != "sim-2" {
		t.Errorf("got simulation %v, want sim-2", msg["simulation_id"])
	}
	if msg["state"] != "FINISHED" {
		t.Errorf("got state %v, want FINISHED", msg["state"])
	}
}

func TestHub_UnregistersOnDisconnect(t *testing.T) {
	hub, server, _ := startHub(t)
	conn := dial(t, hub, server, "", 1)

	conn.Close()
	waitClients(t, hub, 0)
}

func TestHub_RunStopClosesClients(t *testing.T) {
	hub, server, cancel := startHub(t)
	conn := dial(t, hub, server, "", 1)

	cancel()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to close")
	}
	if n := hub.Clients(context.Background()); n != 0 {
		t.Errorf("got %d clients after stop, want 0", n)
	}
}
