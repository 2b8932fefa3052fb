package limited

import (
	"fmt"
	"math"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.uber.org/zap"
)

// Store defines the interface for bounded key/value storage.
type Store interface {
	Set(key string, value any, ttl time.Duration) bool
	Get(key string) (any, bool)
	Delete(key string)
	Flush()
	Close()
}

// RistrettoStore implements the Store interface using Ristretto.
type RistrettoStore struct {
	cache  *ristretto.Cache
	logger *zap.Logger
}

// NewRistrettoStore creates a new RistrettoStore holding at most maxEntries items.
// onEvict is called for every item Ristretto drops on its own.
func NewRistrettoStore(maxEntries uint64, logger *zap.Logger, onEvict func()) (*RistrettoStore, error) {
	numCounters := int64(math.Min(float64(10*maxEntries), float64(math.MaxInt64)))
	maxCost := int64(math.Min(float64(maxEntries), float64(math.MaxInt64)))

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: numCounters,
		MaxCost:     maxCost,
		BufferItems: 64,
		OnEvict: func(item *ristretto.Item) {
			if onEvict != nil {
				onEvict()
			}
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Ristretto cache: %w", err)
	}

	return &RistrettoStore{
		cache:  c,
		logger: logger,
	}, nil
}

// Set stores value with cost 1 and waits until it is visible to Get.
func (s *RistrettoStore) Set(key string, value any, ttl time.Duration) bool {
	if !s.cache.SetWithTTL(key, value, 1, ttl) {
		s.logger.Warn("Ristretto SetWithTTL dropped", zap.String("key", key))
		return false
	}
	s.cache.Wait()
	return true
}

// Get retrieves a value.
func (s *RistrettoStore) Get(key string) (any, bool) {
	return s.cache.Get(key)
}

// Delete removes a value.
func (s *RistrettoStore) Delete(key string) {
	s.cache.Del(key)
}

// Flush clears the entire store.
func (s *RistrettoStore) Flush() {
	s.cache.Clear()
}

// Close closes the store.
func (s *RistrettoStore) Close() {
	s.cache.Close()
}
