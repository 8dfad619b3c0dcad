package store

import (
	"context"
	"sync"

	"github.com/efreitasn/tradesim/internal/domain"
)

// WebhookStore is a thread-safe in-memory store for webhooks.
// Primary index: webhook_id → webhook.
// Secondary index: team_id → event → webhook.
type WebhookStore struct {
	mu       sync.RWMutex
	webhooks map[string]*domain.Webhook            // webhook_id → webhook
	byTeam   map[string]map[string]*domain.Webhook // team_id → event → webhook
}

// NewWebhookStore creates an empty WebhookStore.
func NewWebhookStore() *WebhookStore {
	return &WebhookStore{
		webhooks: make(map[string]*domain.Webhook),
		byTeam:   make(map[string]map[string]*domain.Webhook),
	}
}

// UpsertWebhook inserts or updates a subscription keyed by (team_id, event).
// An existing subscription keeps its webhook_id; only a changed URL
// updates it. Returns true if a new subscription was created.
func (s *WebhookStore) UpsertWebhook(_ context.Context, w *domain.Webhook) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if events, ok := s.byTeam[w.TeamID]; ok {
		if existing, ok := events[w.Event]; ok {
			if existing.URL != w.URL {
				existing.URL = w.URL
				existing.UpdatedAt = w.UpdatedAt
			}
			*w = *existing
			return false, nil
		}
	}

	c := *w
	s.webhooks[w.WebhookID] = &c
	if s.byTeam[w.TeamID] == nil {
		s.byTeam[w.TeamID] = make(map[string]*domain.Webhook)
	}
	s.byTeam[w.TeamID][w.Event] = &c

	return true, nil
}

// GetWebhook retrieves a webhook by ID. It returns
// domain.ErrWebhookNotFound if the webhook does not exist.
func (s *WebhookStore) GetWebhook(_ context.Context, id string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.webhooks[id]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	c := *w
	return &c, nil
}

// ListWebhooks returns all webhooks for a team.
func (s *WebhookStore) ListWebhooks(_ context.Context, teamID string) ([]*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	events := s.byTeam[teamID]
	result := make([]*domain.Webhook, 0, len(events))
	for _, w := range events {
		c := *w
		result = append(result, &c)
	}
	return result, nil
}

// GetTeamWebhook returns the webhook for a team+event pair, or
// domain.ErrWebhookNotFound if no subscription exists.
func (s *WebhookStore) GetTeamWebhook(_ context.Context, teamID, event string) (*domain.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.byTeam[teamID][event]
	if !ok {
		return nil, domain.ErrWebhookNotFound
	}
	c := *w
	return &c, nil
}

// DeleteWebhook removes a webhook from both indexes.
func (s *WebhookStore) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.webhooks[id]
	if !ok {
		return domain.ErrWebhookNotFound
	}

	delete(s.webhooks, id)

	if events, ok := s.byTeam[w.TeamID]; ok {
		delete(events, w.Event)
		if len(events) == 0 {
			delete(s.byTeam, w.TeamID)
		}
	}

	return nil
}
