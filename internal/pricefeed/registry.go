package pricefeed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/asset"
	"github.com/inheritx/valuation-engine/internal/metrics"
	"github.com/inheritx/valuation-engine/internal/model"
	"github.com/inheritx/valuation-engine/internal/store"
)

// Default feed seeded on startup when none is configured for it.
const (
	DefaultAssetCode = "USDC"
	DefaultFeedID    = "usdc-usd"
)

// RegisterFeed creates or overwrites the feed for an asset. Re-registering
// reactivates a deactivated feed; there is never more than one config per
// asset code.
func (s *Service) RegisterFeed(ctx context.Context, assetCode string, source model.Source, feedID string) (model.PriceFeedConfig, error) {
	code, err := asset.ParseCode(assetCode)
	if err != nil {
		return model.PriceFeedConfig{}, err
	}
	if !source.Valid() {
		return model.PriceFeedConfig{}, fmt.Errorf("%w: %q", asset.ErrInvalidSource, source)
	}
	id, err := asset.ValidateFeedID(feedID)
	if err != nil {
		return model.PriceFeedConfig{}, err
	}

	feed, err := s.store.UpsertFeed(ctx, model.PriceFeedConfig{
		AssetCode: code,
		Source:    source,
		FeedID:    id,
		IsActive:  true,
	})
	if err != nil {
		s.logger.Error("failed to register price feed", "asset", code, "err", err)
		return model.PriceFeedConfig{}, err
	}

	s.logger.Info("registered price feed", "asset", code, "source", source, "feed_id", id)
	return feed, nil
}

// RegisterFeedTag is RegisterFeed for callers holding a raw source tag
// ("pyth", "chainlink" or "custom", any case).
func (s *Service) RegisterFeedTag(ctx context.Context, assetCode, sourceTag, feedID string) (model.PriceFeedConfig, error) {
	source, err := asset.ParseSource(sourceTag)
	if err != nil {
		return model.PriceFeedConfig{}, err
	}
	return s.RegisterFeed(ctx, assetCode, source, feedID)
}

// UpdatePrice records a new observation for an asset with an active feed,
// stamped with the current time and the feed's source, and refreshes the
// cache so the next read sees it immediately.
//
// The active-feed check is not transactional with the append: a feed
// deactivated concurrently may still receive this one observation.
func (s *Service) UpdatePrice(ctx context.Context, assetCode string, price decimal.Decimal) (model.AssetPrice, error) {
	code, err := asset.ParseCode(assetCode)
	if err != nil {
		return model.AssetPrice{}, err
	}
	if err := store.ValidatePriceValue(price); err != nil {
		return model.AssetPrice{}, err
	}

	feed, err := s.store.GetActiveFeed(ctx, code)
	if apperr.Is(err, apperr.ErrNotFound) {
		return model.AssetPrice{}, fmt.Errorf("%w: price feed not found for asset: %s", apperr.ErrValidation, code)
	}
	if err != nil {
		s.logger.Error("failed to check price feed", "asset", code, "err", err)
		return model.AssetPrice{}, err
	}

	p := model.AssetPrice{
		AssetCode: code,
		Price:     price,
		Timestamp: s.now().UTC(),
		Source:    feed.Source,
	}
	if err := s.store.AppendPrice(ctx, p); err != nil {
		// The row may have landed before the failure; force the next read
		// back to the store.
		s.cache.Invalidate(code)
		s.logger.Error("failed to update price", "asset", code, "err", err)
		return model.AssetPrice{}, err
	}

	s.cache.Put(code, p)
	metrics.PriceUpdates.WithLabelValues(code).Inc()
	if s.publisher != nil {
		s.publisher.PublishPrice(p)
	}

	s.logger.Info("updated price", "asset", code, "price", price.String(), "source", feed.Source)
	return p, nil
}

// GetActiveFeeds returns all active feeds ordered by asset code.
func (s *Service) GetActiveFeeds(ctx context.Context) ([]model.PriceFeedConfig, error) {
	feeds, err := s.store.ListActiveFeeds(ctx)
	if err != nil {
		s.logger.Error("failed to fetch active feeds", "err", err)
		return nil, err
	}
	return feeds, nil
}

// InitializeDefaults seeds the USDC custom feed when no USDC feed exists.
// An existing feed, active or not, is left alone.
func (s *Service) InitializeDefaults(ctx context.Context) error {
	exists, err := s.store.FeedExists(ctx, DefaultAssetCode)
	if err != nil {
		s.logger.Error("failed to check existing price feeds", "err", err)
		return err
	}
	if exists {
		return nil
	}

	if _, err := s.RegisterFeed(ctx, DefaultAssetCode, model.SourceCustom, DefaultFeedID); err != nil {
		return err
	}
	s.logger.Info("initialized default price feed", "asset", DefaultAssetCode)
	return nil
}
