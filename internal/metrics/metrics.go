// Package metrics provides Prometheus instrumentation for the simulation.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersSubmitted counts orders accepted by the matching engine.
	OrdersSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_orders_submitted_total",
		Help: "Orders submitted to the matching engine",
	}, []string{"side", "kind"})

	// OrdersFailed counts orders moved to FAILED, by reason.
	OrdersFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_orders_failed_total",
		Help: "Orders marked FAILED",
	}, []string{"reason"})

	// TradesTotal counts committed trades.
	TradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_trades_total",
		Help: "Trades committed to the ledger",
	})

	// TradeVolume counts traded shares.
	TradeVolume = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_trade_volume_shares_total",
		Help: "Cumulative traded shares",
	})

	// MatchLatency tracks the time spent inside one submission.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesim_match_latency_seconds",
		Help:    "Matching engine submission latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// MatchConflicts counts lock contention retries in the matching engine.
	MatchConflicts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_match_conflicts_total",
		Help: "Book lock acquisitions that had to be retried",
	})

	// BookResyncs counts order books dropped after the ledger and the
	// saved orders diverged.
	BookResyncs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_book_resyncs_total",
		Help: "Order books reloaded after a failed order save",
	})

	// ClockEvents counts clock advances by kind: start, day, round, finish.
	ClockEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_clock_events_total",
		Help: "Simulation clock advances",
	}, []string{"event"})

	// TickDuration tracks the duration of one tick over all simulations.
	TickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tradesim_tick_duration_seconds",
		Help:    "Duration of a clock tick in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// TickErrors counts per-simulation tick failures.
	TickErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_tick_errors_total",
		Help: "Simulation ticks that ended with an error",
	})

	// TasksDropped counts background tasks rejected by a closed dispatcher.
	TasksDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tradesim_tasks_dropped_total",
		Help: "Background tasks submitted after shutdown",
	})

	// CacheRequests counts cache lookups by cache name and result.
	CacheRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_cache_requests_total",
		Help: "Read-through cache lookups",
	}, []string{"cache", "result"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tradesim_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// WebhookDeliveries counts webhook deliveries by event and outcome.
	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_webhook_deliveries_total",
		Help: "Webhook delivery attempts",
	}, []string{"event", "outcome"})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tradesim_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "route", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tradesim_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "route"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request metrics labelled with the chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	return h.Hijack()
}
