// Package pricecache implements the in-memory, time-bounded view of the
// latest price per asset that sits in front of the price store.
//
// The cache has no authority: it only accelerates the store. Entries
// expire lazily. A stale entry is bypassed and replaced on the next
// population, never swept. No I/O ever happens under the lock; callers
// load from the store first and only then call Put.
package pricecache

import (
	"sync"
	"time"

	"github.com/inheritx/valuation-engine/internal/metrics"
	"github.com/inheritx/valuation-engine/internal/model"
)

// DefaultTTL is used when New is given a non-positive ttl.
const DefaultTTL = 60 * time.Second

// Cache holds the latest AssetPrice per asset code.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]model.AssetPrice
	ttl     time.Duration
	now     func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates an empty cache. Construct one per process and share it by
// pointer across request handlers.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]model.AssetPrice),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the cached price only while now − price.Timestamp < ttl.
// A missing or stale entry reports false and the caller must fall through
// to the store.
func (c *Cache) Get(assetCode string) (model.AssetPrice, bool) {
	c.mu.RLock()
	entry, ok := c.entries[assetCode]
	c.mu.RUnlock()

	if !ok {
		metrics.PriceCacheLookups.WithLabelValues("miss").Inc()
		return model.AssetPrice{}, false
	}
	if !c.fresh(entry) {
		metrics.PriceCacheLookups.WithLabelValues("stale").Inc()
		return model.AssetPrice{}, false
	}
	metrics.PriceCacheLookups.WithLabelValues("hit").Inc()
	return entry, true
}

// Put overwrites the entry for assetCode. Last writer wins.
func (c *Cache) Put(assetCode string, price model.AssetPrice) {
	c.mu.Lock()
	c.entries[assetCode] = price
	n := len(c.entries)
	c.mu.Unlock()
	metrics.PriceCacheEntries.Set(float64(n))
}

// Invalidate drops the entry for assetCode, if any.
func (c *Cache) Invalidate(assetCode string) {
	c.mu.Lock()
	delete(c.entries, assetCode)
	n := len(c.entries)
	c.mu.Unlock()
	metrics.PriceCacheEntries.Set(float64(n))
}

func (c *Cache) fresh(p model.AssetPrice) bool {
	return c.now().Sub(p.Timestamp) < c.ttl
}
