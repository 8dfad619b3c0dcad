package store

import (
	"context"
	"fmt"

	"github.com/efreitasn/tradesim/internal/domain"
)

// UpsertWebhook relies on the (team_id, event) unique key. xmax is zero
// only for freshly inserted rows.
func (s *PostgresStore) UpsertWebhook(ctx context.Context, w *domain.Webhook) (bool, error) {
	var created bool
	err := s.pool.QueryRow(ctx,
		`INSERT INTO webhooks (id, team_id, event, url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (team_id, event) DO UPDATE SET
			url = EXCLUDED.url,
			updated_at = CASE WHEN webhooks.url <> EXCLUDED.url THEN EXCLUDED.updated_at ELSE webhooks.updated_at END
		 RETURNING id, created_at, updated_at, (xmax = 0)`,
		w.WebhookID, w.TeamID, w.Event, w.URL, w.CreatedAt, w.UpdatedAt).
		Scan(&w.WebhookID, &w.CreatedAt, &w.UpdatedAt, &created)
	if err != nil {
		return false, fmt.Errorf("upsert webhook: %w", err)
	}
	return created, nil
}

const webhookColumns = `id, team_id, event, url, created_at, updated_at`

func scanWebhook(row scanner) (*domain.Webhook, error) {
	var w domain.Webhook
	if err := row.Scan(&w.WebhookID, &w.TeamID, &w.Event, &w.URL, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return nil, err
	}
	return &w, nil
}

func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (*domain.Webhook, error) {
	w, err := scanWebhook(s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("get webhook %s: %w", id, err)
	}
	return w, nil
}

func (s *PostgresStore) ListWebhooks(ctx context.Context, teamID string) ([]*domain.Webhook, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE team_id = $1 ORDER BY created_at`, teamID)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	result := make([]*domain.Webhook, 0)
	for rows.Next() {
		w, err := scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

func (s *PostgresStore) GetTeamWebhook(ctx context.Context, teamID, event string) (*domain.Webhook, error) {
	w, err := scanWebhook(s.pool.QueryRow(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE team_id = $1 AND event = $2`, teamID, event))
	if err != nil {
		if isNotFoundError(err) {
			return nil, domain.ErrWebhookNotFound
		}
		return nil, fmt.Errorf("get team webhook: %w", err)
	}
	return w, nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrWebhookNotFound
	}
	return nil
}
