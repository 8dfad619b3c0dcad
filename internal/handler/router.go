package handler

import (
	"bufio"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/efreitasn/tradesim/internal/metrics"
	"github.com/efreitasn/tradesim/internal/service"
)

// Services are the dependencies of the HTTP layer. Feed may be nil.
type Services struct {
	Simulations *service.SimulationService
	Orders      *service.OrderService
	Stocks      *service.StockService
	Webhooks    *service.WebhookService
	Feed        http.HandlerFunc
}

// NewRouter creates a chi router with all routes registered, request logging,
// metrics and Content-Type validation middleware.
func NewRouter(svc Services, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(requestLogging(logger))
	r.Use(metrics.Middleware)
	r.Use(contentTypeJSON)

	simH := NewSimulationHandler(svc.Simulations)
	orderH := NewOrderHandler(svc.Orders)
	stockH := NewStockHandler(svc.Stocks)
	webhookH := NewWebhookHandler(svc.Webhooks)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())
	if svc.Feed != nil {
		r.Get("/ws", svc.Feed)
	}

	// Simulation routes.
	r.Post("/simulations", simH.Create)
	r.Route("/simulations/{simulation_id}", func(r chi.Router) {
		r.Get("/", simH.Get)
		r.Post("/teams", simH.AddTeam)
		r.Get("/teams", simH.ListTeams)
		r.Post("/initialize", simH.Initialize)
		r.Post("/state", simH.AdvanceState)
		r.Get("/clock", simH.Clock)
		r.Get("/ranking", simH.Ranking)
		r.Get("/stocks", simH.Stocks)
	})
	r.Post("/ticks", simH.Tick)

	// Order routes.
	r.Post("/orders", orderH.SubmitOrder)
	r.Get("/orders/{order_id}", orderH.GetOrder)

	// Team routes.
	r.Get("/teams/{team_id}/orders", orderH.ListTeamOrders)
	r.Get("/teams/{team_id}/holdings", stockH.Holdings)
	r.Get("/teams/{team_id}/dividends", stockH.Dividends)
	r.Get("/teams/{team_id}/webhooks", webhookH.List)

	// Stock routes.
	r.Get("/stocks/{stock_id}", stockH.Get)
	r.Get("/stocks/{stock_id}/book", stockH.Book)
	r.Get("/stocks/{stock_id}/history", stockH.History)
	r.Get("/stocks/{stock_id}/quotes", stockH.Quotes)

	// Webhook routes.
	r.Post("/webhooks", webhookH.Upsert)
	r.Delete("/webhooks/{webhook_id}", webhookH.Delete)

	return r
}

// requestLogging returns middleware that logs each request's method, path,
// status code, and duration using slog.
func requestLogging(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.status),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijack not supported")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// contentTypeJSON is middleware that validates Content-Type for POST, PUT,
// and PATCH requests that carry a body. If the Content-Type header doesn't
// start with "application/json", it returns 400 Bad Request before the
// handler runs.
func contentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hasBody := r.ContentLength != 0
		if hasBody && (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) {
			ct := r.Header.Get("Content-Type")
			if ct == "" || !strings.HasPrefix(ct, "application/json") {
				WriteError(w, http.StatusBadRequest, "invalid_request",
					"Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
