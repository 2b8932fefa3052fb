// Package ttl implements the generic in-memory TTL cache every specialised cache builds on.
package ttl

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"goflare.io/folio/internal/metrics"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/schedule"
	"goflare.io/folio/internal/utils"
)

const defaultSweepInterval = time.Minute

// Cache is a key -> entry map with per-entry TTL, lazy expiry on read and a periodic sweep.
// No operation returns an error; a failed lookup is a miss.
type Cache[V any] struct {
	name       string
	defaultTTL time.Duration

	mu      sync.RWMutex
	entries map[string]*models.Entry[V]

	sweepInterval time.Duration
	clock         utils.Clock
	logger        *zap.Logger
	recorder      metrics.Recorder
	metrics       *models.Metrics
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	clock         utils.Clock
	logger        *zap.Logger
	recorder      metrics.Recorder
	sweepInterval time.Duration
}

// WithClock sets the time source.
func WithClock(clock utils.Clock) Option {
	return func(o *options) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(recorder metrics.Recorder) Option {
	return func(o *options) {
		if recorder != nil {
			o.recorder = recorder
		}
	}
}

// WithSweepInterval sets how often SweepJob removes expired entries.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) {
		if interval > 0 {
			o.sweepInterval = interval
		}
	}
}

// New creates a new Cache named name whose entries live defaultTTL unless told otherwise.
func New[V any](name string, defaultTTL time.Duration, opts ...Option) *Cache[V] {
	o := options{
		clock:         utils.SystemClock(),
		logger:        zap.NewNop(),
		recorder:      metrics.Nop{},
		sweepInterval: defaultSweepInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Cache[V]{
		name:          name,
		defaultTTL:    defaultTTL,
		entries:       make(map[string]*models.Entry[V]),
		sweepInterval: o.sweepInterval,
		clock:         o.clock,
		logger:        o.logger.With(zap.String("cache", name)),
		recorder:      o.recorder,
		metrics:       models.NewMetrics(),
	}
}

// Name returns the cache name.
func (c *Cache[V]) Name() string { return c.name }

// DefaultTTL returns the TTL used when Set is called without one.
func (c *Cache[V]) DefaultTTL() time.Duration { return c.defaultTTL }

// Set stores data under key, replacing any previous entry.
func (c *Cache[V]) Set(key string, data V, ttl ...time.Duration) {
	c.SetTagged(key, data, utils.GetExpirationTime(c.defaultTTL, ttl...))
}

// SetTagged stores data under key with invalidation tags. A ttl <= 0 uses the default.
func (c *Cache[V]) SetTagged(key string, data V, ttl time.Duration, tags ...models.Tag) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	entry := models.NewEntry(data, c.clock.Now(), ttl, tags...)

	c.mu.Lock()
	c.entries[key] = entry
	n := len(c.entries)
	c.mu.Unlock()

	c.recorder.Entries(c.name, n)
}

// Get returns the live data stored under key. Expired entries are removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	var zero V
	now := c.clock.Now()

	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		c.miss()
		return zero, false
	}

	if entry.IsExpired(now) {
		c.mu.Lock()
		// the key may have been rewritten since the read lock was released
		if current, ok := c.entries[key]; ok && current == entry {
			delete(c.entries, key)
			c.evicted(1)
		}
		c.mu.Unlock()
		c.miss()
		return zero, false
	}

	entry.IncrementAccess(now)
	c.metrics.Hits.Inc()
	c.recorder.Hit(c.name)
	return entry.Data, true
}

// Has reports whether key holds a live entry. It has the same effects as Get.
func (c *Cache[V]) Has(key string) bool {
	_, ok := c.Get(key)
	return ok
}

// Peek returns live data without touching access statistics or removing expired entries.
func (c *Cache[V]) Peek(key string) (V, bool) {
	var zero V
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()
	if !exists || entry.IsExpired(c.clock.Now()) {
		return zero, false
	}
	return entry.Data, true
}

// Update replaces the data of a live entry with fn(data). Timestamp, TTL, tags and access
// statistics are preserved. It reports whether an entry was updated.
func (c *Cache[V]) Update(key string, fn func(V) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.IsExpired(c.clock.Now()) {
		return false
	}
	c.entries[key] = entry.WithData(fn(entry.Data))
	return true
}

// Delete removes key. It reports whether an entry was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	_, exists := c.entries[key]
	delete(c.entries, key)
	n := len(c.entries)
	c.mu.Unlock()

	if exists {
		c.evicted(1)
		c.recorder.Entries(c.name, n)
	}
	return exists
}

// Clear removes every entry and returns how many there were.
func (c *Cache[V]) Clear() int {
	c.mu.Lock()
	n := len(c.entries)
	c.entries = make(map[string]*models.Entry[V])
	c.mu.Unlock()

	c.evicted(n)
	c.recorder.Entries(c.name, 0)
	return n
}

// Invalidate removes every key containing substring and returns the count removed.
// Matching is plain substring search: "AAPL" also matches "AAPL-parent".
func (c *Cache[V]) Invalidate(substring string) int {
	return c.removeWhere(func(key string, _ *models.Entry[V]) bool {
		return strings.Contains(key, substring)
	})
}

// InvalidateTag removes every entry carrying tag and returns the count removed.
func (c *Cache[V]) InvalidateTag(tag models.Tag) int {
	return c.removeWhere(func(_ string, entry *models.Entry[V]) bool {
		return entry.HasTag(tag)
	})
}

// Sweep removes every expired entry and returns the count removed.
func (c *Cache[V]) Sweep() int {
	now := c.clock.Now()
	removed := c.removeWhere(func(_ string, entry *models.Entry[V]) bool {
		return entry.IsExpired(now)
	})
	if removed > 0 {
		c.logger.Debug("Swept expired entries", zap.Int("removed", removed))
	}
	return removed
}

// SweepJob returns a job that calls Sweep every sweep interval.
func (c *Cache[V]) SweepJob() *schedule.Job {
	return schedule.NewJob(c.name+"-sweep", c.sweepInterval, c.logger, func(context.Context) {
		c.Sweep()
	})
}

// EvictLRU removes the least recently accessed entries until at most max remain.
// It returns the count removed.
func (c *Cache[V]) EvictLRU(max int) int {
	if max < 0 {
		max = 0
	}

	c.mu.Lock()
	excess := len(c.entries) - max
	if excess <= 0 {
		c.mu.Unlock()
		return 0
	}

	type candidate struct {
		key          string
		lastAccessed time.Time
	}
	candidates := make([]candidate, 0, len(c.entries))
	for key, entry := range c.entries {
		candidates = append(candidates, candidate{key: key, lastAccessed: entry.LastAccessed.Load()})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastAccessed.Equal(candidates[j].lastAccessed) {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].lastAccessed.Before(candidates[j].lastAccessed)
	})
	for _, cand := range candidates[:excess] {
		delete(c.entries, cand.key)
	}
	n := len(c.entries)
	c.mu.Unlock()

	c.evicted(excess)
	c.recorder.Entries(c.name, n)
	c.logger.Debug("Evicted least recently used entries", zap.Int("removed", excess), zap.Int("remaining", n))
	return excess
}

// Range calls fn for every entry, live or not, until fn returns false.
// fn must not call back into the cache.
func (c *Cache[V]) Range(fn func(key string, entry *models.Entry[V]) bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for key, entry := range c.entries {
		if !fn(key, entry) {
			return
		}
	}
}

// Keys returns every stored key, sorted.
func (c *Cache[V]) Keys() []string {
	c.mu.RLock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	c.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len returns the number of stored entries, including expired ones not yet swept.
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
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

func (c *Cache[V]) removeWhere(match func(key string, entry *models.Entry[V]) bool) int {
	c.mu.Lock()
	removed := 0
	for key, entry := range c.entries {
		if match(key, entry) {
			delete(c.entries, key)
			removed++
		}
	}
	n := len(c.entries)
	c.mu.Unlock()

	if removed > 0 {
		c.evicted(removed)
		c.recorder.Entries(c.name, n)
	}
	return removed
}

func (c *Cache[V]) miss() {
	c.metrics.Misses.Inc()
	c.recorder.Miss(c.name)
}

func (c *Cache[V]) evicted(n int) {
	if n <= 0 {
		return
	}
	c.metrics.Evictions.Add(int64(n))
	c.recorder.Evict(c.name, n)
}
