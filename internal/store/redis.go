package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/inheritx/valuation-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for price history pages and plan lookups. Writes go to the primary
// store and invalidate the cache; reads check Redis first then fall back to
// the primary. Redis failures never fail a request.
//
// Latest prices are not cached here: the in-process pricecache owns them.
//
// Each asset carries a history generation that AppendPrice bumps. A reader
// notes the generation before it reads the primary and only fills the
// cache if the generation is unchanged, so a page read before an append
// can never be written back after that append's invalidation.
type CachedStore struct {
	primary Store
	rdb     redis.UniversalClient
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb redis.UniversalClient, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) AppendPrice(ctx context.Context, p model.AssetPrice) error {
	err := s.primary.AppendPrice(ctx, p)
	// Invalidate even on a partial failure: the history row may exist.
	_, cacheErr := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, historyGenKey(p.AssetCode))
		pipe.Del(ctx, historyKey(p.AssetCode))
		return nil
	})
	if cacheErr != nil {
		slog.Warn("price history cache invalidation failed", "asset", p.AssetCode, "err", cacheErr)
	}
	return err
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetPriceHistory(ctx context.Context, assetCode string, limit int) ([]model.AssetPrice, error) {
	key := historyKey(assetCode)
	field := strconv.Itoa(limit)

	// Try cache.
	data, err := s.rdb.HGet(ctx, key, field).Bytes()
	if err == nil {
		var prices []model.AssetPrice
		if json.Unmarshal(data, &prices) == nil {
			return prices, nil
		}
	}

	gen, genErr := historyGen(ctx, s.rdb, assetCode)

	// Cache miss: read from primary.
	prices, err := s.primary.GetPriceHistory(ctx, assetCode, limit)
	if err != nil {
		return nil, err
	}
	if genErr != nil {
		return prices, nil
	}

	data, err = json.Marshal(prices)
	if err != nil {
		return prices, nil
	}
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := historyGen(ctx, tx, assetCode)
		if err != nil {
			return err
		}
		if cur != gen {
			return errHistoryMoved
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, field, data)
			pipe.Expire(ctx, key, s.ttl)
			return nil
		})
		return err
	}, historyGenKey(assetCode))

	switch {
	case err == nil:
	case errors.Is(err, errHistoryMoved), errors.Is(err, redis.TxFailedErr):
		slog.Debug("price history changed during read, skipping cache fill", "asset", assetCode)
	default:
		slog.Warn("price history cache fill failed", "asset", assetCode, "err", err)
	}
	return prices, nil
}

var errHistoryMoved = errors.New("price history generation moved")

// historyGen returns the asset's history generation; a missing counter is 0.
func historyGen(ctx context.Context, c redis.Cmdable, assetCode string) (int64, error) {
	gen, err := c.Get(ctx, historyGenKey(assetCode)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (s *CachedStore) GetPlan(ctx context.Context, planID uuid.UUID) (model.Plan, error) {
	// Try cache.
	data, err := s.rdb.Get(ctx, planKey(planID)).Bytes()
	if err == nil {
		var p model.Plan
		if json.Unmarshal(data, &p) == nil {
			return p, nil
		}
	}

	// Cache miss.
	p, err := s.primary.GetPlan(ctx, planID)
	if err != nil {
		return model.Plan{}, err
	}

	if data, err := json.Marshal(p); err == nil {
		s.rdb.Set(ctx, planKey(planID), data, s.ttl)
	}
	return p, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetLatestPrice(ctx context.Context, assetCode string) (model.AssetPrice, error) {
	return s.primary.GetLatestPrice(ctx, assetCode)
}

func (s *CachedStore) UpsertFeed(ctx context.Context, feed model.PriceFeedConfig) (model.PriceFeedConfig, error) {
	return s.primary.UpsertFeed(ctx, feed)
}

func (s *CachedStore) GetActiveFeed(ctx context.Context, assetCode string) (model.PriceFeedConfig, error) {
	return s.primary.GetActiveFeed(ctx, assetCode)
}

func (s *CachedStore) FeedExists(ctx context.Context, assetCode string) (bool, error) {
	return s.primary.FeedExists(ctx, assetCode)
}

func (s *CachedStore) ListActiveFeeds(ctx context.Context) ([]model.PriceFeedConfig, error) {
	return s.primary.ListActiveFeeds(ctx)
}

// --- Cache helpers ---

// History keys share a hash tag so WATCH and MULTI stay on one cluster slot.
func historyKey(asset string) string    { return fmt.Sprintf("price_history:{%s}", asset) }
func historyGenKey(asset string) string { return fmt.Sprintf("price_history_gen:{%s}", asset) }
func planKey(id uuid.UUID) string       { return fmt.Sprintf("plan:%s", id) }
