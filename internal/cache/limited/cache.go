// Package limited implements a size-bounded TTL cache on top of Ristretto with key tracking.
package limited

import (
	"time"

	"go.uber.org/zap"

	"goflare.io/folio/internal/metrics"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/utils"
)

// Cache combines a bounded Ristretto store with key tracking so that entries can be
// counted and invalidated by pattern.
type Cache[V any] struct {
	name       string
	store      Store
	tracker    *Tracker
	defaultTTL time.Duration
	clock      utils.Clock
	logger     *zap.Logger
	recorder   metrics.Recorder
	metrics    *models.Metrics
}

// New creates a new Cache holding at most maxEntries entries.
func New[V any](name string, maxEntries uint64, defaultTTL time.Duration, clock utils.Clock, logger *zap.Logger, recorder metrics.Recorder) (*Cache[V], error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = utils.SystemClock()
	}
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	c := &Cache[V]{
		name:       name,
		tracker:    NewTracker(logger),
		defaultTTL: defaultTTL,
		clock:      clock,
		logger:     logger.With(zap.String("cache", name)),
		recorder:   recorder,
		metrics:    models.NewMetrics(),
	}

	store, err := NewRistrettoStore(maxEntries, c.logger, func() {
		c.metrics.Evictions.Inc()
		c.recorder.Evict(c.name, 1)
	})
	if err != nil {
		return nil, err
	}
	c.store = store
	return c, nil
}

// Set sets a cache entry and tracks the key. It reports whether the store accepted it.
func (c *Cache[V]) Set(key string, value V, ttl ...time.Duration) bool {
	expirationTime := utils.GetExpirationTime(c.defaultTTL, ttl...)
	entry := models.NewEntry(value, c.clock.Now(), expirationTime)
	if !c.store.Set(key, entry, expirationTime) {
		return false
	}
	c.tracker.Add(key)
	return true
}

// Get retrieves a live cache entry.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	value, found := c.store.Get(key)
	if !found {
		c.tracker.Remove(key)
		c.miss()
		return zero, false
	}

	entry, ok := value.(*models.Entry[V])
	if !ok {
		c.logger.Error("Invalid cache entry type", zap.String("key", key))
		c.Delete(key)
		c.miss()
		return zero, false
	}

	now := c.clock.Now()
	if entry.IsExpired(now) {
		c.Delete(key)
		c.miss()
		return zero, false
	}

	entry.IncrementAccess(now)
	c.metrics.Hits.Inc()
	c.recorder.Hit(c.name)
	return entry.Data, true
}

// Delete removes a cache entry and stops tracking the key. It reports whether a live entry
// was removed. Hit and miss counters are not touched.
func (c *Cache[V]) Delete(key string) bool {
	value, stored := c.store.Get(key)
	tracked := c.tracker.Remove(key)
	c.store.Delete(key)
	if !stored || !tracked {
		return false
	}
	entry, ok := value.(*models.Entry[V])
	return ok && !entry.IsExpired(c.clock.Now())
}

// Invalidate removes every tracked key containing substring and returns the count of
// entries that were still stored.
func (c *Cache[V]) Invalidate(substring string) int {
	removed := 0
	for _, key := range c.tracker.Matching(substring) {
		if c.Delete(key) {
			removed++
		}
	}
	return removed
}

// Clear clears the entire cache and stops tracking all keys.
func (c *Cache[V]) Clear() {
	c.store.Flush()
	c.tracker.Reset()
}

// Len returns the number of tracked keys still present in the store.
func (c *Cache[V]) Len() int {
	n := 0
	var gone []string
	c.tracker.Range(func(key string) bool {
		if _, ok := c.store.Get(key); ok {
			n++
		} else {
			gone = append(gone, key)
		}
		return true
	})
	for _, key := range gone {
		c.tracker.Remove(key)
	}
	return n
}

// HitRate returns the hit percentage.
func (c *Cache[V]) HitRate() float64 {
	return c.metrics.HitRate()
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Name      string  `json:"name"`
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	Evictions int64   `json:"evictions"`
	HitRate   float64 `json:"hit_rate"`
}

// Stats returns current counters.
func (c *Cache[V]) Stats() Stats {
	return Stats{
		Name:      c.name,
		Entries:   c.Len(),
		Hits:      c.metrics.Hits.Load(),
		Misses:    c.metrics.Misses.Load(),
		Evictions: c.metrics.Evictions.Load(),
		HitRate:   c.metrics.HitRate(),
	}
}

// Close closes the Cache.
func (c *Cache[V]) Close() {
	c.store.Close()
}

func (c *Cache[V]) miss() {
	c.metrics.Misses.Inc()
	c.recorder.Miss(c.name)
}
