package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/engine"
	"github.com/efreitasn/tradesim/internal/oracle"
	"github.com/efreitasn/tradesim/internal/service"
)

// StockHandler handles HTTP requests for stock and portfolio endpoints.
type StockHandler struct {
	stockSvc *service.StockService
}

// NewStockHandler creates a new StockHandler.
func NewStockHandler(stockSvc *service.StockService) *StockHandler {
	return &StockHandler{stockSvc: stockSvc}
}

type historyBarResponse struct {
	Round  int             `json:"round"`
	Day    int             `json:"day"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

type historyResponse struct {
	StockID string               `json:"stock_id"`
	Bars    []historyBarResponse `json:"history"`
}

type quoteResponse struct {
	Price     decimal.Decimal `json:"price"`
	Round     int             `json:"round"`
	Day       int             `json:"day"`
	Timestamp string          `json:"timestamp"`
}

type quoteListResponse struct {
	StockID string          `json:"stock_id"`
	Quotes  []quoteResponse `json:"quotes"`
}

type dividendListResponse struct {
	TeamID    string                 `json:"team_id"`
	Dividends []oracle.DividendEntry `json:"dividends"`
}

// Get handles GET /stocks/{stock_id}.
func (h *StockHandler) Get(w http.ResponseWriter, r *http.Request) {
	stock, err := h.stockSvc.Get(r.Context(), chi.URLParam(r, "stock_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildStockResponse(stock))
}

// Book handles GET /stocks/{stock_id}/book. Market levels carry a null
// price.
func (h *StockHandler) Book(w http.ResponseWriter, r *http.Request) {
	levels, err := h.stockSvc.Book(r.Context(), chi.URLParam(r, "stock_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if levels == nil {
		levels = []engine.PriceLevel{}
	}
	WriteJSON(w, http.StatusOK, levels)
}

// History handles GET /stocks/{stock_id}/history.
func (h *StockHandler) History(w http.ResponseWriter, r *http.Request) {
	stockID := chi.URLParam(r, "stock_id")
	bars, err := h.stockSvc.History(r.Context(), stockID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := historyResponse{StockID: stockID, Bars: make([]historyBarResponse, len(bars))}
	for i, b := range bars {
		resp.Bars[i] = historyBarResponse{
			Round:  b.Round,
			Day:    b.Day,
			Open:   b.Open,
			High:   b.High,
			Low:    b.Low,
			Close:  b.Close,
			Volume: b.Volume,
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Quotes handles GET /stocks/{stock_id}/quotes.
func (h *StockHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	stockID := chi.URLParam(r, "stock_id")
	quotes, err := h.stockSvc.Quotes(r.Context(), stockID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := quoteListResponse{StockID: stockID, Quotes: make([]quoteResponse, len(quotes))}
	for i, q := range quotes {
		resp.Quotes[i] = quoteResponse{
			Price:     q.Price,
			Round:     q.Round,
			Day:       q.Day,
			Timestamp: formatTime(q.Timestamp),
		}
	}
	WriteJSON(w, http.StatusOK, resp)
}

// Holdings handles GET /teams/{team_id}/holdings.
func (h *StockHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	snap, err := h.stockSvc.Holdings(r.Context(), chi.URLParam(r, "team_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snap)
}

// Dividends handles GET /teams/{team_id}/dividends.
func (h *StockHandler) Dividends(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "team_id")
	divs, err := h.stockSvc.Dividends(r.Context(), teamID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, dividendListResponse{TeamID: teamID, Dividends: divs})
}
