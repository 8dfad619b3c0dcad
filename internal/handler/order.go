package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/service"
)

// OrderHandler handles HTTP requests for order endpoints.
type OrderHandler struct {
	orderSvc *service.OrderService
}

// NewOrderHandler creates a new OrderHandler.
func NewOrderHandler(orderSvc *service.OrderService) *OrderHandler {
	return &OrderHandler{orderSvc: orderSvc}
}

// submitOrderRequest is the JSON request body for POST /orders. A missing
// price makes a market order.
type submitOrderRequest struct {
	TeamID   string           `json:"team_id"`
	StockID  string           `json:"stock_id"`
	Side     string           `json:"side"`
	Quantity int64            `json:"quantity"`
	Price    *decimal.Decimal `json:"price"`
}

// orderResponse is the JSON representation of an order. Nullable fields
// are always present.
type orderResponse struct {
	OrderID       string           `json:"order_id"`
	ParentID      string           `json:"parent_id"`
	SimulationID  string           `json:"simulation_id"`
	TeamID        string           `json:"team_id"`
	StockID       string           `json:"stock_id"`
	Side          string           `json:"side"`
	Quantity      int64            `json:"quantity"`
	Price         *decimal.Decimal `json:"price"`
	State         string           `json:"state"`
	FailureReason *string          `json:"failure_reason"`
	TransactionID *string          `json:"transaction_id"`
	Round         int              `json:"round"`
	Day           int              `json:"day"`
	CreatedAt     string           `json:"created_at"`
	UpdatedAt     string           `json:"updated_at"`
}

// tradeResponse is a single trade in the submission response.
type tradeResponse struct {
	TransactionID string          `json:"transaction_id"`
	BuyOrderID    string          `json:"buy_order_id"`
	SellOrderID   string          `json:"sell_order_id"`
	BuyerID       string          `json:"buyer_id"`
	SellerID      string          `json:"seller_id"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
	ExecutedAt    string          `json:"executed_at"`
}

// submitOrderResponse is the JSON response for POST /orders.
type submitOrderResponse struct {
	orderResponse
	Trades   []tradeResponse `json:"trades"`
	Residual *orderResponse  `json:"residual"`
}

// orderListResponse is the JSON response for GET /teams/{team_id}/orders.
type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
	Total  int             `json:"total"`
	Page   int             `json:"page"`
	Limit  int             `json:"limit"`
}

func buildOrderResponse(o *domain.Order) orderResponse {
	resp := orderResponse{
		OrderID:      o.OrderID,
		ParentID:     o.ParentID,
		SimulationID: o.SimulationID,
		TeamID:       o.TeamID,
		StockID:      o.StockID,
		Side:         string(o.Side),
		Quantity:     o.Quantity,
		Price:        o.Price,
		State:        string(o.State),
		Round:        o.Round,
		Day:          o.Day,
		CreatedAt:    formatTime(o.CreatedAt),
		UpdatedAt:    formatTime(o.UpdatedAt),
	}
	if o.FailureReason != "" {
		reason := o.FailureReason
		resp.FailureReason = &reason
	}
	if o.TransactionID != "" {
		tx := o.TransactionID
		resp.TransactionID = &tx
	}
	return resp
}

// SubmitOrder handles POST /orders.
func (h *OrderHandler) SubmitOrder(w http.ResponseWriter, r *http.Request) {
	var req submitOrderRequest
	if err := ParseJSON(r, &req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	result, err := h.orderSvc.SubmitOrder(r.Context(), service.SubmitOrderRequest{
		TeamID:   req.TeamID,
		StockID:  req.StockID,
		Side:     domain.OrderSide(req.Side),
		Quantity: req.Quantity,
		Price:    req.Price,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := submitOrderResponse{
		orderResponse: buildOrderResponse(result.Order),
		Trades:        make([]tradeResponse, len(result.Trades)),
	}
	for i, t := range result.Trades {
		resp.Trades[i] = tradeResponse{
			TransactionID: t.TransactionID,
			BuyOrderID:    t.BuyOrderID,
			SellOrderID:   t.SellOrderID,
			BuyerID:       t.BuyerID,
			SellerID:      t.SellerID,
			Price:         t.Price,
			Quantity:      t.Quantity,
			ExecutedAt:    formatTime(t.ExecutedAt),
		}
	}
	if result.Residual != nil {
		residual := buildOrderResponse(result.Residual)
		resp.Residual = &residual
	}

	WriteJSON(w, http.StatusCreated, resp)
}

// GetOrder handles GET /orders/{order_id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.orderSvc.GetOrder(r.Context(), chi.URLParam(r, "order_id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, buildOrderResponse(order))
}

// ListTeamOrders handles GET /teams/{team_id}/orders.
func (h *OrderHandler) ListTeamOrders(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "team_id")

	var stateFilter *domain.OrderState
	if s := r.URL.Query().Get("state"); s != "" {
		state := domain.OrderState(s)
		stateFilter = &state
	}

	page := 1
	if p := r.URL.Query().Get("page"); p != "" {
		var err error
		page, err = strconv.Atoi(p)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "page must be a valid integer")
			return
		}
	}

	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		var err error
		limit, err = strconv.Atoi(l)
		if err != nil {
			WriteError(w, http.StatusBadRequest, "validation_error", "limit must be a valid integer")
			return
		}
	}

	orders, total, err := h.orderSvc.ListOrders(r.Context(), teamID, stateFilter, page, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	resp := orderListResponse{
		Orders: make([]orderResponse, len(orders)),
		Total:  total,
		Page:   page,
		Limit:  limit,
	}
	for i, o := range orders {
		resp.Orders[i] = buildOrderResponse(o)
	}
	WriteJSON(w, http.StatusOK, resp)
}
