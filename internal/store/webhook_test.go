package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/efreitasn/tradesim/internal/domain"
)

func newTestWebhook(id, teamID, event, url string) *domain.Webhook {
	now := time.Now()
	return &domain.Webhook{
		WebhookID: id,
		TeamID:    teamID,
		Event:     event,
		URL:       url,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestWebhookStore_Upsert_NewSubscription(t *testing.T) {
	s := NewWebhookStore()
	ctx := context.Background()

	created, err := s.UpsertWebhook(ctx, newTestWebhook("wh-1", "team-1", "trade.executed", "https://example.com/hook"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !created {
		t.Fatal("expected Upsert to return true for new subscription")
	}

	got, err := s.GetWebhook(ctx, "wh-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.WebhookID != "wh-1" {
		t.Fatalf("expected webhook ID wh-1, got %s", got.WebhookID)
	}
}

func TestWebhookStore_Upsert_UpdateURL(t *testing.T) {
	s := NewWebhookStore()
	ctx := context.Background()
	s.UpsertWebhook(ctx, newTestWebhook("wh-1", "team-1", "trade.executed", "https://example.com/old"))

	w2 := newTestWebhook("wh-2", "team-1", "trade.executed", "https://example.com/new")
	created, _ := s.UpsertWebhook(ctx, w2)
	if created {
		t.Fatal("expected Upsert to return false when updating existing subscription")
	}
	if w2.WebhookID != "wh-1" {
		t.Fatalf("expected the stable id wh-1 written back, got %s", w2.WebhookID)
	}

	got, _ := s.GetWebhook(ctx, "wh-1")
	if got.URL != "https://example.com/new" {
		t.Fatalf("expected URL to be updated, got %s", got.URL)
	}

	if _, err := s.GetWebhook(ctx, "wh-2"); err != domain.ErrWebhookNotFound {
		t.Fatalf("expected ErrWebhookNotFound for wh-2, got %v", err)
	}
}

func TestWebhookStore_Upsert_DifferentEvents(t *testing.T) {
	s := NewWebhookStore()
	ctx := context.Background()
	c1, _ := s.UpsertWebhook(ctx, newTestWebhook("wh-1", "team-1", "trade.executed", "https://example.com/trades"))
	c2, _ := s.UpsertWebhook(ctx, newTestWebhook("wh-2", "team-1", "order.failed", "https://example.com/failed"))
	if !c1 || !c2 {
		t.Fatal("expected both to be new subscriptions")
	}

	list, _ := s.ListWebhooks(ctx, "team-1")
	if len(list) != 2 {
		t.Fatalf("expected 2 webhooks, got %d", len(list))
	}
}

func TestWebhookStore_ListWebhooks_Empty(t *testing.T) {
	s := NewWebhookStore()

	list, _ := s.ListWebhooks(context.Background(), "team-1")
	if list == nil {
		t.Fatal("expected non-nil empty slice, got nil")
	}
	if len(list) != 0 {
		t.Fatalf("expected 0 webhooks, got %d", len(list))
	}
}

func TestWebhookStore_Delete(t *testing.T) {
	s := NewWebhookStore()
	ctx := context.Background()
	s.UpsertWebhook(ctx, newTestWebhook("wh-1", "team-1", "trade.executed", "https://example.com/hook"))

	if err := s.DeleteWebhook(ctx, "wh-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := s.GetWebhook(ctx, "wh-1"); err != domain.ErrWebhookNotFound {
		t.Fatalf("expected ErrWebhookNotFound after delete, got %v", err)
	}
	if _, err := s.GetTeamWebhook(ctx, "team-1", "trade.executed"); err != domain.ErrWebhookNotFound {
		t.Fatalf("expected secondary index cleanup, got %v", err)
	}
	if err := s.DeleteWebhook(ctx, "wh-1"); err != domain.ErrWebhookNotFound {
		t.Fatalf("expected ErrWebhookNotFound on second delete, got %v", err)
	}
}

func TestWebhookStore_GetTeamWebhook(t *testing.T) {
	s := NewWebhookStore()
	ctx := context.Background()
	s.UpsertWebhook(ctx, newTestWebhook("wh-1", "team-1", "order.failed", "https://example.com/hook"))

	if _, err := s.GetTeamWebhook(ctx, "team-1", "trade.executed"); err != domain.ErrWebhookNotFound {
		t.Fatalf("expected ErrWebhookNotFound for different event, got %v", err)
	}
	got, err := s.GetTeamWebhook(ctx, "team-1", "order.failed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.WebhookID != "wh-1" {
		t.Fatalf("expected wh-1, got %s", got.WebhookID)
	}
}

func TestWebhookStore_ConcurrentAccess(t *testing.T) {
	s := NewWebhookStore()
	ctx := context.Background()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			s.UpsertWebhook(ctx, newTestWebhook(
				fmt.Sprintf("wh-%d", i),
				fmt.Sprintf("team-%d", i),
				"trade.executed",
				fmt.Sprintf("https://example.com/hook/%d", i),
			))
		}(i)
		go func(i int) {
			defer wg.Done()
			s.ListWebhooks(ctx, fmt.Sprintf("team-%d", i))
		}(i)
	}
	wg.Wait()
}
