package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/inheritx/valuation-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	history map[string][]model.AssetPrice // append order per asset
	feeds   map[string]*model.PriceFeedConfig
	plans   map[uuid.UUID]model.Plan
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		history: make(map[string][]model.AssetPrice),
		feeds:   make(map[string]*model.PriceFeedConfig),
		plans:   make(map[uuid.UUID]model.Plan),
	}
}

// PutPlan seeds a plan record. Plans are owned by other services in
// production; this exists for tests and local runs.
func (s *MemoryStore) PutPlan(p model.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[p.ID] = p
}

// DeactivateFeed marks a feed inactive without removing it.
func (s *MemoryStore) DeactivateFeed(assetCode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.feeds[assetCode]; ok {
		f.IsActive = false
	}
}

func (s *MemoryStore) GetLatestPrice(_ context.Context, assetCode string) (model.AssetPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.history[assetCode]
	if len(rows) == 0 {
		return model.AssetPrice{}, priceNotFound(assetCode)
	}
	// Max timestamp; on ties the later append wins, like an insert-ordered index.
	latest := rows[0]
	for _, p := range rows[1:] {
		if !p.Timestamp.Before(latest.Timestamp) {
			latest = p
		}
	}
	return latest, nil
}

func (s *MemoryStore) AppendPrice(_ context.Context, price model.AssetPrice) error {
	if err := validatePrice(price); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history[price.AssetCode] = append(s.history[price.AssetCode], price)
	if f, ok := s.feeds[price.AssetCode]; ok {
		ts := price.Timestamp
		f.LastUpdated = &ts
	}
	return nil
}

func (s *MemoryStore) GetPriceHistory(_ context.Context, assetCode string, limit int) ([]model.AssetPrice, error) {
	s.mu.RLock()
	rows := make([]model.AssetPrice, len(s.history[assetCode]))
	copy(rows, s.history[assetCode])
	s.mu.RUnlock()

	// Reverse first so equal timestamps keep newest-append-first order.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Timestamp.After(rows[j].Timestamp)
	})
	if limit >= 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *MemoryStore) UpsertFeed(_ context.Context, feed model.PriceFeedConfig) (model.PriceFeedConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.feeds[feed.AssetCode]; ok {
		existing.Source = feed.Source
		existing.FeedID = feed.FeedID
		existing.IsActive = true
		return cloneFeed(existing), nil
	}

	f := feed
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.IsActive = true
	f.LastUpdated = nil
	s.feeds[f.AssetCode] = &f
	return cloneFeed(&f), nil
}

func (s *MemoryStore) GetActiveFeed(_ context.Context, assetCode string) (model.PriceFeedConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.feeds[assetCode]
	if !ok || !f.IsActive {
		return model.PriceFeedConfig{}, feedNotFound(assetCode)
	}
	return cloneFeed(f), nil
}

func (s *MemoryStore) FeedExists(_ context.Context, assetCode string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.feeds[assetCode]
	return ok, nil
}

func (s *MemoryStore) ListActiveFeeds(_ context.Context) ([]model.PriceFeedConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	feeds := make([]model.PriceFeedConfig, 0, len(s.feeds))
	for _, f := range s.feeds {
		if f.IsActive {
			feeds = append(feeds, cloneFeed(f))
		}
	}
	sort.Slice(feeds, func(i, j int) bool { return feeds[i].AssetCode < feeds[j].AssetCode })
	return feeds, nil
}

func (s *MemoryStore) GetPlan(_ context.Context, planID uuid.UUID) (model.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.plans[planID]
	if !ok {
		return model.Plan{}, planNotFound(planID)
	}
	return p, nil
}

// cloneFeed copies a feed so callers never alias the stored LastUpdated.
func cloneFeed(f *model.PriceFeedConfig) model.PriceFeedConfig {
	c := *f
	if f.LastUpdated != nil {
		ts := *f.LastUpdated
		c.LastUpdated = &ts
	}
	return c
}
