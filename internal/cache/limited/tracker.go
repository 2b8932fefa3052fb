package limited

import (
	"strings"
	"sync"

	"go.uber.org/zap"
)

// Tracker tracks all keys in the cache.
type Tracker struct {
	trackedKeys sync.Map
	logger      *zap.Logger
}

// NewTracker creates a new Tracker instance.
func NewTracker(logger *zap.Logger) *Tracker {
	return &Tracker{
		trackedKeys: sync.Map{},
		logger:      logger,
	}
}

// Add adds a key to the tracker.
func (t *Tracker) Add(key string) {
	t.trackedKeys.Store(key, struct{}{})
}

// Remove removes a key from the tracker and reports whether it was tracked.
func (t *Tracker) Remove(key string) bool {
	_, tracked := t.trackedKeys.LoadAndDelete(key)
	return tracked
}

// Range iterates over all tracked keys.
func (t *Tracker) Range(f func(key string) bool) {
	t.trackedKeys.Range(func(k, _ any) bool {
		if strKey, ok := k.(string); ok {
			return f(strKey)
		}
		t.logger.Warn("Invalid key type in Tracker", zap.Any("key", k))
		return true
	})
}

// Matching returns tracked keys containing substring.
func (t *Tracker) Matching(substring string) []string {
	var keys []string
	t.Range(func(key string) bool {
		if strings.Contains(key, substring) {
			keys = append(keys, key)
		}
		return true
	})
	return keys
}

// Reset forgets every key.
func (t *Tracker) Reset() {
	t.trackedKeys.Range(func(k, _ any) bool {
		t.trackedKeys.Delete(k)
		return true
	})
}
