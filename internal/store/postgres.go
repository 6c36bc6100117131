package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/inheritx/valuation-engine/internal/apperr"
	"github.com/inheritx/valuation-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) GetLatestPrice(ctx context.Context, assetCode string) (model.AssetPrice, error) {
	var priceS, source string
	var ts time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT price::TEXT, price_timestamp, source
		 FROM asset_price_history
		 WHERE asset_code = $1
		 ORDER BY price_timestamp DESC, id DESC
		 LIMIT 1`, assetCode).
		Scan(&priceS, &ts, &source)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AssetPrice{}, priceNotFound(assetCode)
	}
	if err != nil {
		return model.AssetPrice{}, internal("get latest price", assetCode, err)
	}
	return buildPrice(assetCode, priceS, ts, source)
}

func (s *PostgresStore) AppendPrice(ctx context.Context, p model.AssetPrice) error {
	if err := validatePrice(p); err != nil {
		return err
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO asset_price_history (asset_code, price, price_timestamp, source)
		 VALUES ($1, $2::NUMERIC, $3, $4)`,
		p.AssetCode, p.Price.String(), p.Timestamp.UTC(), string(p.Source),
	)
	if err != nil {
		return internal("insert price", p.AssetCode, err)
	}

	// The history row above is the fact of record; this stamp is best effort.
	_, err = s.pool.Exec(ctx,
		`UPDATE price_feeds SET last_updated = $1, updated_at = NOW() WHERE asset_code = $2`,
		p.Timestamp.UTC(), p.AssetCode,
	)
	if err != nil {
		return internal("update feed timestamp", p.AssetCode, err)
	}
	return nil
}

func (s *PostgresStore) GetPriceHistory(ctx context.Context, assetCode string, limit int) ([]model.AssetPrice, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT price::TEXT, price_timestamp, source
		 FROM asset_price_history
		 WHERE asset_code = $1
		 ORDER BY price_timestamp DESC, id DESC
		 LIMIT $2`, assetCode, limit)
	if err != nil {
		return nil, internal("get price history", assetCode, err)
	}
	defer rows.Close()

	prices := []model.AssetPrice{}
	for rows.Next() {
		var priceS, source string
		var ts time.Time
		if err := rows.Scan(&priceS, &ts, &source); err != nil {
			return nil, internal("scan price history", assetCode, err)
		}
		p, err := buildPrice(assetCode, priceS, ts, source)
		if err != nil {
			return nil, err
		}
		prices = append(prices, p)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("iterate price history", assetCode, err)
	}
	return prices, nil
}

func (s *PostgresStore) UpsertFeed(ctx context.Context, feed model.PriceFeedConfig) (model.PriceFeedConfig, error) {
	id := feed.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	out := model.PriceFeedConfig{
		AssetCode: feed.AssetCode,
		Source:    feed.Source,
		FeedID:    feed.FeedID,
		IsActive:  true,
	}
	var lastUpdated *time.Time

	// On conflict the existing row keeps its id; RETURNING reports it.
	err := s.pool.QueryRow(ctx,
		`INSERT INTO price_feeds (id, asset_code, source, feed_id, is_active)
		 VALUES ($1, $2, $3, $4, true)
		 ON CONFLICT (asset_code) DO UPDATE
		 SET source = EXCLUDED.source, feed_id = EXCLUDED.feed_id,
		     is_active = true, updated_at = NOW()
		 RETURNING id, last_updated`,
		id, feed.AssetCode, string(feed.Source), feed.FeedID).
		Scan(&out.ID, &lastUpdated)
	if err != nil {
		return model.PriceFeedConfig{}, internal("upsert price feed", feed.AssetCode, err)
	}
	out.LastUpdated = utcPtr(lastUpdated)
	return out, nil
}

func (s *PostgresStore) GetActiveFeed(ctx context.Context, assetCode string) (model.PriceFeedConfig, error) {
	var f model.PriceFeedConfig
	var source string
	var lastUpdated *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, asset_code, source, feed_id, is_active, last_updated
		 FROM price_feeds
		 WHERE asset_code = $1 AND is_active = true`, assetCode).
		Scan(&f.ID, &f.AssetCode, &source, &f.FeedID, &f.IsActive, &lastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PriceFeedConfig{}, feedNotFound(assetCode)
	}
	if err != nil {
		return model.PriceFeedConfig{}, internal("get active feed", assetCode, err)
	}
	f.Source = model.Source(source)
	f.LastUpdated = utcPtr(lastUpdated)
	return f, nil
}

func (s *PostgresStore) FeedExists(ctx context.Context, assetCode string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM price_feeds WHERE asset_code = $1)`, assetCode).
		Scan(&exists)
	if err != nil {
		return false, internal("check price feed", assetCode, err)
	}
	return exists, nil
}

func (s *PostgresStore) ListActiveFeeds(ctx context.Context) ([]model.PriceFeedConfig, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, asset_code, source, feed_id, last_updated
		 FROM price_feeds
		 WHERE is_active = true
		 ORDER BY asset_code`)
	if err != nil {
		return nil, internal("list active feeds", "", err)
	}
	defer rows.Close()

	feeds := []model.PriceFeedConfig{}
	for rows.Next() {
		var f model.PriceFeedConfig
		var source string
		var lastUpdated *time.Time
		if err := rows.Scan(&f.ID, &f.AssetCode, &source, &f.FeedID, &lastUpdated); err != nil {
			return nil, internal("scan active feeds", "", err)
		}
		f.Source = model.Source(source)
		f.IsActive = true
		f.LastUpdated = utcPtr(lastUpdated)
		feeds = append(feeds, f)
	}
	if err := rows.Err(); err != nil {
		return nil, internal("iterate active feeds", "", err)
	}
	return feeds, nil
}

func (s *PostgresStore) GetPlan(ctx context.Context, planID uuid.UUID) (model.Plan, error) {
	var p model.Plan
	var amountS string

	err := s.pool.QueryRow(ctx,
		`SELECT id, asset_code, net_amount::TEXT FROM plans WHERE id = $1`, planID).
		Scan(&p.ID, &p.AssetCode, &amountS)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Plan{}, planNotFound(planID)
	}
	if err != nil {
		return model.Plan{}, fmt.Errorf("%w: get plan %s: %v", apperr.ErrInternal, planID, err)
	}

	p.NetAmount, err = decimal.NewFromString(amountS)
	if err != nil {
		return model.Plan{}, fmt.Errorf("%w: invalid amount format for plan %s: %v", apperr.ErrInternal, planID, err)
	}
	return p, nil
}

// buildPrice parses a stored NUMERIC text value. Corrupt stored data is an
// internal fault, not a client error.
func buildPrice(assetCode, priceS string, ts time.Time, source string) (model.AssetPrice, error) {
	price, err := decimal.NewFromString(priceS)
	if err != nil {
		return model.AssetPrice{}, fmt.Errorf("%w: invalid price format %q for %s: %v",
			apperr.ErrInternal, priceS, assetCode, err)
	}
	return model.AssetPrice{
		AssetCode: assetCode,
		Price:     price,
		Timestamp: ts.UTC(),
		Source:    model.Source(source),
	}, nil
}

func internal(op, assetCode string, err error) error {
	if assetCode == "" {
		return fmt.Errorf("%w: %s: %v", apperr.ErrInternal, op, err)
	}
	return fmt.Errorf("%w: %s for %s: %v", apperr.ErrInternal, op, assetCode, err)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
