// Package pricefeed is the asset price feed and collateral valuation
// engine. It resolves prices through the in-memory cache with a fall
// through to the durable store, administers feed registrations, accepts
// new price observations and turns (asset, amount) into a collateral
// valuation.
package pricefeed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/asset"
	"github.com/inheritx/valuation-engine/internal/metrics"
	"github.com/inheritx/valuation-engine/internal/model"
	"github.com/inheritx/valuation-engine/internal/pricecache"
	"github.com/inheritx/valuation-engine/internal/store"
)

const (
	// DefaultHistoryLimit is the page size used when a caller does not ask
	// for one.
	DefaultHistoryLimit = 100

	// MaxHistoryLimit caps a single history page.
	MaxHistoryLimit = 1000

	defaultLoadTimeout = 5 * time.Second
)

// Publisher receives every accepted price observation. The WebSocket hub
// implements it; nil disables publishing.
type Publisher interface {
	PublishPrice(p model.AssetPrice)
}

// Service is the price feed engine. It is safe for concurrent use and
// should be constructed once and shared by all request handlers.
type Service struct {
	store       store.Store
	cache       *pricecache.Cache
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
	loadTimeout time.Duration
	loads       singleflight.Group
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher installs a price update publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithLogger installs a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock overrides the time source used to stamp new observations.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLoadTimeout bounds a read-through load from the store.
func WithLoadTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.loadTimeout = d
		}
	}
}

// NewService creates the engine over a store and a cache.
func NewService(st store.Store, cache *pricecache.Cache, opts ...Option) *Service {
	s := &Service{
		store:       st,
		cache:       cache,
		logger:      slog.Default(),
		now:         time.Now,
		loadTimeout: defaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetPrice returns the current price for an asset: the cached entry while
// it is fresh, otherwise the store's latest observation, which then
// repopulates the cache.
func (s *Service) GetPrice(ctx context.Context, assetCode string) (model.AssetPrice, error) {
	code, err := asset.ParseCode(assetCode)
	if err != nil {
		return model.AssetPrice{}, err
	}

	if p, ok := s.cache.Get(code); ok {
		return p, nil
	}

	// Concurrent misses for one asset share a single store read. The read
	// runs detached from any one caller so an abandoned request neither
	// fails the others nor leaves a half-written cache entry.
	ch := s.loads.DoChan(code, func() (interface{}, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.loadTimeout)
		defer cancel()

		p, err := s.store.GetLatestPrice(loadCtx, code)
		if err != nil {
			metrics.StoreReads.WithLabelValues(apperr.Code(err)).Inc()
			if apperr.Is(err, apperr.ErrNotFound) {
				s.logger.Warn("no price found for asset", "asset", code)
			} else {
				s.logger.Error("failed to fetch price from store", "asset", code, "err", err)
			}
			return nil, err
		}
		metrics.StoreReads.WithLabelValues("ok").Inc()
		s.cache.Put(code, p)
		return p, nil
	})

	select {
	case <-ctx.Done():
		return model.AssetPrice{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return model.AssetPrice{}, res.Err
		}
		return res.Val.(model.AssetPrice), nil
	}
}

// GetPriceHistory returns up to limit observations for an asset, newest
// first. Limits above MaxHistoryLimit are clamped.
func (s *Service) GetPriceHistory(ctx context.Context, assetCode string, limit int) ([]model.AssetPrice, error) {
	code, err := asset.ParseCode(assetCode)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("%w: limit must be positive, got %d", apperr.ErrValidation, limit)
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	prices, err := s.store.GetPriceHistory(ctx, code, limit)
	if err != nil {
		s.logger.Error("failed to fetch price history", "asset", code, "err", err)
		return nil, err
	}
	return prices, nil
}
