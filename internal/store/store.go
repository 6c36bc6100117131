// Package store defines the persistence interface for the valuation engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every error returned by an implementation carries an apperr category:
// ErrNotFound, ErrValidation, or ErrInternal for storage faults.
package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/model"
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Price history (append-only) ---

	// GetLatestPrice returns the most recent observation by timestamp.
	GetLatestPrice(ctx context.Context, assetCode string) (model.AssetPrice, error)

	// AppendPrice inserts an immutable observation and stamps the asset's
	// feed last_updated with the same timestamp. If the second write fails
	// the history row stays and the failure is reported, not retried.
	AppendPrice(ctx context.Context, price model.AssetPrice) error

	// GetPriceHistory returns up to limit observations, newest first.
	// An asset without history yields an empty slice, not an error.
	GetPriceHistory(ctx context.Context, assetCode string, limit int) ([]model.AssetPrice, error)

	// --- Feed registry ---

	// UpsertFeed creates or overwrites the feed for feed.AssetCode and
	// marks it active. The returned config carries the persisted ID.
	UpsertFeed(ctx context.Context, feed model.PriceFeedConfig) (model.PriceFeedConfig, error)

	// GetActiveFeed returns the active feed for an asset.
	GetActiveFeed(ctx context.Context, assetCode string) (model.PriceFeedConfig, error)

	// FeedExists reports whether any feed, active or not, exists for an asset.
	FeedExists(ctx context.Context, assetCode string) (bool, error)

	// ListActiveFeeds returns all active feeds ordered by asset code.
	ListActiveFeeds(ctx context.Context) ([]model.PriceFeedConfig, error)

	// --- Plans (read-only) ---

	// GetPlan returns the asset and net amount of an inheritance plan.
	GetPlan(ctx context.Context, planID uuid.UUID) (model.Plan, error)
}

// Prices are stored as NUMERIC(38, 18): at most 18 fractional digits and
// 20 integer digits.
const (
	MaxPriceScale     = 18
	MaxPriceIntDigits = 20
)

var priceCeiling = decimal.New(1, MaxPriceIntDigits)

// ValidatePriceValue rejects a price that is not positive or that the
// price column cannot hold exactly.
func ValidatePriceValue(price decimal.Decimal) error {
	if !price.IsPositive() {
		return fmt.Errorf("%w: price must be greater than zero, got %s", apperr.ErrValidation, price)
	}
	if !price.Equal(price.Truncate(MaxPriceScale)) {
		return fmt.Errorf("%w: price has more than %d decimal places: %s", apperr.ErrValidation, MaxPriceScale, price)
	}
	if price.GreaterThanOrEqual(priceCeiling) {
		return fmt.Errorf("%w: price has more than %d integer digits: %s", apperr.ErrValidation, MaxPriceIntDigits, price)
	}
	return nil
}

func validatePrice(p model.AssetPrice) error {
	if err := ValidatePriceValue(p.Price); err != nil {
		return err
	}
	if p.AssetCode == "" {
		return fmt.Errorf("%w: asset code is required", apperr.ErrValidation)
	}
	if p.Timestamp.IsZero() {
		return fmt.Errorf("%w: price timestamp is required", apperr.ErrValidation)
	}
	return nil
}

func priceNotFound(assetCode string) error {
	return fmt.Errorf("%w: price not found for asset: %s", apperr.ErrNotFound, assetCode)
}

func feedNotFound(assetCode string) error {
	return fmt.Errorf("%w: active price feed not found for asset: %s", apperr.ErrNotFound, assetCode)
}

func planNotFound(id uuid.UUID) error {
	return fmt.Errorf("%w: plan %s not found", apperr.ErrNotFound, id)
}
