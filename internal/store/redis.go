package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/efreitasn/tradesim/internal/domain"
	"github.com/efreitasn/tradesim/internal/metrics"
)

// CachedStore wraps a primary Store with a Redis read-through cache for
// ledger totals and the latest clock snapshot. Writes go to the primary
// store and invalidate the cache; reads check Redis first then fall back
// to the primary. Everything else passes through.
//
// Totals are cached under a per-team generation that Record bumps after
// writing, so a reader that loaded the primary before the write can only
// refill a generation nobody reads any more.
type CachedStore struct {
	Store
	rdb *redis.Client
	ttl time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		Store: primary,
		rdb:   rdb,
		ttl:   ttl,
	}
}

// NewRedisClient parses a redis:// URL and verifies the connection.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) Record(ctx context.Context, tx *domain.Transaction) error {
	if err := s.Store.Record(ctx, tx); err != nil {
		return err
	}
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, team := range tx.Teams() {
			pipe.Incr(ctx, generationKey(tx.SimulationID, team))
		}
		return nil
	})
	if err != nil {
		slog.Warn("cache invalidation failed", slog.String("error", err.Error()))
	}
	return nil
}

// Primary returns the wrapped store, for readers that must not see a
// cached value.
func (s *CachedStore) Primary() Store {
	return s.Store
}

func (s *CachedStore) AppendSnapshot(ctx context.Context, c *domain.ClockState) error {
	if err := s.Store.AppendSnapshot(ctx, c); err != nil {
		return err
	}
	if err := s.rdb.Del(ctx, clockKey(c.SimulationID)).Err(); err != nil {
		slog.Warn("cache invalidation failed", slog.String("error", err.Error()))
	}
	return nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) Totals(ctx context.Context, simulationID, teamID string) ([]domain.LineTotal, error) {
	gen, err := s.rdb.Get(ctx, generationKey(simulationID, teamID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		slog.Warn("cache read failed", slog.String("error", err.Error()))
		metrics.CacheRequests.WithLabelValues("totals", "miss").Inc()
		return s.Store.Totals(ctx, simulationID, teamID)
	}

	key := totalsKey(simulationID, teamID, gen)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var totals []domain.LineTotal
		if json.Unmarshal(data, &totals) == nil {
			metrics.CacheRequests.WithLabelValues("totals", "hit").Inc()
			return totals, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		slog.Warn("cache read failed", slog.String("key", key), slog.String("error", err.Error()))
	}
	metrics.CacheRequests.WithLabelValues("totals", "miss").Inc()

	totals, err := s.Store.Totals(ctx, simulationID, teamID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(totals); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return totals, nil
}

func (s *CachedStore) LastSnapshot(ctx context.Context, simulationID string) (*domain.ClockState, error) {
	key := clockKey(simulationID)
	if data, err := s.rdb.Get(ctx, key).Bytes(); err == nil {
		var c domain.ClockState
		if json.Unmarshal(data, &c) == nil {
			metrics.CacheRequests.WithLabelValues("clock", "hit").Inc()
			return &c, nil
		}
	}
	metrics.CacheRequests.WithLabelValues("clock", "miss").Inc()

	c, err := s.Store.LastSnapshot(ctx, simulationID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(c); err == nil {
		s.rdb.Set(ctx, key, data, s.ttl)
	}
	return c, nil
}

// --- Cache helpers ---

func totalsKey(simulationID, teamID string, generation int64) string {
	return fmt.Sprintf("tradesim:totals:%s:%s:%d", simulationID, teamID, generation)
}

func generationKey(simulationID, teamID string) string {
	return fmt.Sprintf("tradesim:totals-gen:%s:%s", simulationID, teamID)
}

func clockKey(simulationID string) string {
	return fmt.Sprintf("tradesim:clock:%s", simulationID)
}
