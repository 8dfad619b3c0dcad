package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/metrics"
	"github.com/efreitasn/tradesim/internal/store"
)

// Webhook event types.
const (
	EventTradeExecuted = "trade.executed"
	EventOrderFailed   = "order.failed"
)

var validWebhookEvents = map[string]bool{
	EventTradeExecuted: true,
	EventOrderFailed:   true,
}

// Tasks queues background work.
type Tasks interface {
	Submit(task func(context.Context)) bool
}

// UpsertWebhookRequest represents the input for webhook registration.
type UpsertWebhookRequest struct {
	TeamID string
	URL    string
	Events []string
}

// WebhookService handles webhook CRUD and event delivery. It listens to
// the matching engine for trades and failed orders.
type WebhookService struct {
	store  store.Store
	client *http.Client
	tasks  Tasks // nil delivers on a new goroutine
	logger *slog.Logger
}

// NewWebhookService creates a new WebhookService with the given dependencies.
func NewWebhookService(st store.Store, tasks Tasks, logger *slog.Logger, webhookTimeout time.Duration) *WebhookService {
	return &WebhookService{
		store:  st,
		tasks:  tasks,
		logger: logger,
		client: &http.Client{
			Timeout: webhookTimeout,
		},
	}
}

// Upsert validates the request and creates or updates webhook subscriptions.
// Returns the resulting webhooks, whether any new subscriptions were created, and any error.
func (s *WebhookService) Upsert(ctx context.Context, req UpsertWebhookRequest) ([]*domain.Webhook, bool, error) {
	if _, err := s.store.GetTeam(ctx, req.TeamID); err != nil {
		return nil, false, err
	}

	if req.URL == "" {
		return nil, false, &domain.ValidationError{Message: "url is required"}
	}
	if len(req.URL) > 2048 {
		return nil, false, &domain.ValidationError{Message: "url must be at most 2048 characters"}
	}
	parsed, err := url.ParseRequestURI(req.URL)
	if err != nil || !parsed.IsAbs() {
		return nil, false, &domain.ValidationError{Message: "url must be a valid absolute URL"}
	}
	if parsed.Scheme != "https" {
		return nil, false, &domain.ValidationError{Message: "url must use https scheme"}
	}

	if len(req.Events) == 0 {
		return nil, false, &domain.ValidationError{Message: "events must be a non-empty array"}
	}
	seen := make(map[string]bool, len(req.Events))
	events := make([]string, 0, len(req.Events))
	for _, event := range req.Events {
		if !validWebhookEvents[event] {
			return nil, false, &domain.ValidationError{
				Message: "Unknown event type: " + event + ". Must be one of: trade.executed, order.failed",
			}
		}
		if !seen[event] {
			seen[event] = true
			events = append(events, event)
		}
	}

	now := time.Now().UTC().Truncate(time.Second)
	anyCreated := false
	webhooks := make([]*domain.Webhook, 0, len(events))
	for _, event := range events {
		w := &domain.Webhook{
			WebhookID: uuid.New().String(),
			TeamID:    req.TeamID,
			Event:     event,
			URL:       req.URL,
			CreatedAt: now,
			UpdatedAt: now,
		}
		created, err := s.store.UpsertWebhook(ctx, w)
		if err != nil {
			return nil, false, err
		}
		anyCreated = anyCreated || created
		webhooks = append(webhooks, w)
	}
	return webhooks, anyCreated, nil
}

// List validates the team exists and returns all its webhook subscriptions.
func (s *WebhookService) List(ctx context.Context, teamID string) ([]*domain.Webhook, error) {
	if _, err := s.store.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	return s.store.ListWebhooks(ctx, teamID)
}

// Delete removes a webhook subscription by ID.
func (s *WebhookService) Delete(ctx context.Context, webhookID string) error {
	return s.store.DeleteWebhook(ctx, webhookID)
}

// eventPayload is the JSON body of every webhook delivery.
type eventPayload struct {
	Event     string `json:"event"`
	Timestamp string `json:"timestamp"`
	Data      any    `json:"data"`
}

type tradeExecutedData struct {
	TransactionID string          `json:"transaction_id"`
	TeamID        string          `json:"team_id"`
	OrderID       string          `json:"order_id"`
	StockID       string          `json:"stock_id"`
	Side          string          `json:"side"`
	Price         decimal.Decimal `json:"price"`
	Quantity      int64           `json:"quantity"`
}

type orderFailedData struct {
	TeamID   string           `json:"team_id"`
	OrderID  string           `json:"order_id"`
	StockID  string           `json:"stock_id"`
	Side     string           `json:"side"`
	Price    *decimal.Decimal `json:"price"`
	Quantity int64            `json:"quantity"`
	Reason   string           `json:"reason"`
}

// TradeExecuted notifies both counterparties of a trade.
func (s *WebhookService) TradeExecuted(ctx context.Context, trade *domain.Trade) {
	ts := trade.ExecutedAt.UTC().Truncate(time.Second).Format(time.RFC3339)
	legs := []struct {
		team, order string
		side        domain.OrderSide
	}{
		{trade.BuyerID, trade.BuyOrderID, domain.OrderSideBid},
		{trade.SellerID, trade.SellOrderID, domain.OrderSideAsk},
	}
	for _, leg := range legs {
		s.dispatch(ctx, leg.team, EventTradeExecuted, eventPayload{
			Event:     EventTradeExecuted,
			Timestamp: ts,
			Data: tradeExecutedData{
				TransactionID: trade.TransactionID,
				TeamID:        leg.team,
				OrderID:       leg.order,
				StockID:       trade.StockID,
				Side:          string(leg.side),
				Price:         trade.Price,
				Quantity:      trade.Quantity,
			},
		})
	}
}

// OrderFailed notifies the owner of a failed order.
func (s *WebhookService) OrderFailed(ctx context.Context, order *domain.Order) {
	s.dispatch(ctx, order.TeamID, EventOrderFailed, eventPayload{
		Event:     EventOrderFailed,
		Timestamp: order.UpdatedAt.UTC().Truncate(time.Second).Format(time.RFC3339),
		Data: orderFailedData{
			TeamID:   order.TeamID,
			OrderID:  order.OrderID,
			StockID:  order.StockID,
			Side:     string(order.Side),
			Price:    order.Price,
			Quantity: order.Quantity,
			Reason:   order.FailureReason,
		},
	})
}

// PriceChanged is not delivered as a webhook; prices go out on the feed.
func (s *WebhookService) PriceChanged(context.Context, *domain.Stock) {}

// dispatch looks up the team's subscription and queues the delivery.
func (s *WebhookService) dispatch(ctx context.Context, teamID, event string, payload eventPayload) {
	wh, err := s.store.GetTeamWebhook(ctx, teamID, event)
	if errors.Is(err, domain.ErrWebhookNotFound) {
		return
	}
	if err != nil {
		s.logger.Error("webhook lookup", slog.String("team_id", teamID), slog.String("error", err.Error()))
		return
	}

	task := func(ctx context.Context) { s.deliver(ctx, wh, event, payload) }
	if s.tasks == nil {
		go task(context.WithoutCancel(ctx))
		return
	}
	s.tasks.Submit(task)
}

// deliver sends the webhook payload via HTTP POST with the required
// headers. Failures are counted and logged, never retried.
func (s *WebhookService) deliver(ctx context.Context, wh *domain.Webhook, event string, payload eventPayload) {
	body, err := json.Marshal(payload)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(event, "error").Inc()
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(event, "error").Inc()
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Delivery-Id", uuid.New().String())
	req.Header.Set("X-Webhook-Id", wh.WebhookID)
	req.Header.Set("X-Event-Type", event)

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.WebhookDeliveries.WithLabelValues(event, "error").Inc()
		s.logger.Debug("webhook delivery failed",
			slog.String("webhook_id", wh.WebhookID),
			slog.String("error", err.Error()),
		)
		return
	}
	resp.Body.Close()

	outcome := "delivered"
	if resp.StatusCode >= 300 {
		outcome = "rejected"
	}
	metrics.WebhookDeliveries.WithLabelValues(event, outcome).Inc()
}
