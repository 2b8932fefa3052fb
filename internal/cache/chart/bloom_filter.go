package chart

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"go.uber.org/zap"

	"goflare.io/folio/internal/config"
)

// SymbolFilter records every symbol that has been cached so invalidation can skip
// symbols that were never seen. False positives only cost a scan.
type SymbolFilter struct {
	mu     sync.RWMutex
	filter *bloom.BloomFilter
	cfg    config.BloomFilterConfig
	logger *zap.Logger
}

// NewSymbolFilter creates a new SymbolFilter instance.
func NewSymbolFilter(cfg config.BloomFilterConfig, logger *zap.Logger) *SymbolFilter {
	return &SymbolFilter{
		filter: bloom.NewWithEstimates(cfg.ExpectedItems, cfg.FalsePositiveRate),
		cfg:    cfg,
		logger: logger,
	}
}

// Add adds a symbol to the bloom filter.
func (sf *SymbolFilter) Add(symbols ...string) {
	sf.mu.Lock()
	for _, s := range symbols {
		sf.filter.AddString(s)
	}
	sf.mu.Unlock()
}

// Test checks if a symbol might have been cached.
func (sf *SymbolFilter) Test(symbol string) bool {
	sf.mu.RLock()
	defer sf.mu.RUnlock()
	return sf.filter.TestString(symbol)
}

// Rebuild replaces the filter with one holding exactly symbols.
func (sf *SymbolFilter) Rebuild(symbols []string) {
	newFilter := bloom.NewWithEstimates(sf.cfg.ExpectedItems, sf.cfg.FalsePositiveRate)
	for _, s := range symbols {
		newFilter.AddString(s)
	}

	sf.mu.Lock()
	sf.filter = newFilter
	sf.mu.Unlock()

	sf.logger.Debug("Rebuilt symbol filter", zap.Int("symbols", len(symbols)))
}
