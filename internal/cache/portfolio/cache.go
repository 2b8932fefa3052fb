// Package portfolio caches portfolios, holdings, per-symbol prices and derived calculations.
package portfolio

import (
	"context"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/folio/internal/cache/ttl"
	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/metrics"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/resilience"
	"goflare.io/folio/internal/schedule"
	"goflare.io/folio/internal/utils"
)

const cacheName = "portfolio"

// rough per-item sizes used by Stats
const (
	portfolioBytes   = 256
	holdingBytes     = 128
	priceBytes       = 256
	calculationBytes = 1024
)

// Fetcher loads portfolio records from upstream.
type Fetcher interface {
	FetchPortfolio(ctx context.Context, portfolioID string) (models.Portfolio, error)
	FetchHoldings(ctx context.Context, portfolioID string) ([]models.Holding, error)
}

// Cache holds four TTL tiers: portfolios, holdings, prices and calculations
// (metrics, allocation, performance).
type Cache struct {
	fetcher Fetcher
	guard   *resilience.Guard
	group   singleflight.Group

	portfolios   *ttl.Cache[models.Portfolio]
	holdings     *ttl.Cache[[]models.Holding]
	prices       *ttl.Cache[models.PriceData]
	calculations *ttl.Cache[any]

	logger   *zap.Logger
	recorder metrics.Recorder
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	guard         *resilience.Guard
	clock         utils.Clock
	logger        *zap.Logger
	recorder      metrics.Recorder
	sweepInterval time.Duration
}

// WithGuard protects upstream fetches.
func WithGuard(g *resilience.Guard) Option {
	return func(o *options) { o.guard = g }
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

// WithSweepInterval sets how often expired entries are swept.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) { o.sweepInterval = interval }
}

// New creates a new portfolio Cache. The fetcher may be nil.
func New(cfg config.PortfolioConfig, fetcher Fetcher, opts ...Option) *Cache {
	o := options{
		clock:    utils.SystemClock(),
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named(cacheName)
	ttlOpts := []ttl.Option{
		ttl.WithClock(o.clock),
		ttl.WithLogger(logger),
		ttl.WithRecorder(o.recorder),
		ttl.WithSweepInterval(o.sweepInterval),
	}

	return &Cache{
		fetcher:      fetcher,
		guard:        o.guard,
		portfolios:   ttl.New[models.Portfolio](cacheName+"-portfolios", cfg.PortfolioTTL, ttlOpts...),
		holdings:     ttl.New[[]models.Holding](cacheName+"-holdings", cfg.HoldingsTTL, ttlOpts...),
		prices:       ttl.New[models.PriceData](cacheName+"-prices", cfg.PriceTTL, ttlOpts...),
		calculations: ttl.New[any](cacheName+"-calculations", cfg.CalculationsTTL, ttlOpts...),
		logger:       logger,
		recorder:     o.recorder,
	}
}

func portfolioKey(id string) string { return "portfolio:" + id }
func holdingsKey(id string) string { return "holdings:" + id }
func metricsKey(id string) string { return "metrics:" + id }
func allocationKey(id, typ string) string { return "allocation:" + id + ":" + typ }
func performanceKey(id, period string) string { return "performance:" + id + ":" + period }
func priceKey(symbol string) string { return "price:" + symbol }
func normalizeSymbol(symbol string) string { return strings.ToUpper(strings.TrimSpace(symbol)) }
func portfolioTags(id string) []models.Tag { return []models.Tag{models.PortfolioTag(id)} }

// GetPortfolio returns the cached portfolio header.
func (c *Cache) GetPortfolio(id string) (models.Portfolio, bool) {
	return c.portfolios.Get(portfolioKey(id))
}

// SetPortfolio caches a portfolio header tagged with its portfolio and owner.
func (c *Cache) SetPortfolio(p models.Portfolio) {
	tags := portfolioTags(p.ID)
	if p.UserID != "" {
		tags = append(tags, models.UserTag(p.UserID))
	}
	c.portfolios.SetTagged(portfolioKey(p.ID), p, 0, tags...)
}

// GetHoldings returns the cached holdings of a portfolio.
func (c *Cache) GetHoldings(portfolioID string) ([]models.Holding, bool) {
	return c.holdings.Get(holdingsKey(portfolioID))
}

// SetHoldings caches holdings; each held symbol becomes a tag of the entry.
func (c *Cache) SetHoldings(portfolioID string, holdings []models.Holding) {
	tags := portfolioTags(portfolioID)
	for _, h := range holdings {
		tags = append(tags, models.SymbolTag(normalizeSymbol(h.Symbol)))
	}
	c.holdings.SetTagged(holdingsKey(portfolioID), holdings, 0, tags...)
}

// GetMetrics returns the cached metrics of a portfolio.
func (c *Cache) GetMetrics(portfolioID string) (models.PortfolioMetrics, bool) {
	return getCalculation[models.PortfolioMetrics](c, metricsKey(portfolioID))
}

// SetMetrics caches the metrics of a portfolio.
func (c *Cache) SetMetrics(portfolioID string, m models.PortfolioMetrics) {
	c.calculations.SetTagged(metricsKey(portfolioID), m, 0, portfolioTags(portfolioID)...)
}

// GetAllocation returns the cached allocation of a portfolio by allocationType.
func (c *Cache) GetAllocation(portfolioID, allocationType string) (models.Allocation, bool) {
	return getCalculation[models.Allocation](c, allocationKey(portfolioID, allocationType))
}

// SetAllocation caches an allocation of a portfolio.
func (c *Cache) SetAllocation(portfolioID, allocationType string, a models.Allocation) {
	c.calculations.SetTagged(allocationKey(portfolioID, allocationType), a, 0, portfolioTags(portfolioID)...)
}

// GetPerformance returns the cached performance of a portfolio over period.
func (c *Cache) GetPerformance(portfolioID, period string) (models.Performance, bool) {
	return getCalculation[models.Performance](c, performanceKey(portfolioID, period))
}

// SetPerformance caches a performance entry, tagged with its period.
func (c *Cache) SetPerformance(portfolioID, period string, p models.Performance) {
	c.calculations.SetTagged(performanceKey(portfolioID, period), p, 0,
		models.PortfolioTag(portfolioID), models.PeriodTag(period))
}

// GetPrice returns a price cached alongside portfolio data.
func (c *Cache) GetPrice(symbol string) (models.PriceData, bool) {
	return c.prices.Get(priceKey(normalizeSymbol(symbol)))
}

// SetPrice caches a price for portfolio valuation.
func (c *Cache) SetPrice(symbol string, p models.PriceData) {
	symbol = normalizeSymbol(symbol)
	c.prices.SetTagged(priceKey(symbol), p, 0, models.SymbolTag(symbol))
}

func getCalculation[T any](c *Cache, key string) (T, bool) {
	var zero T
	v, ok := c.calculations.Get(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		c.logger.Error("Unexpected calculation type", zap.String("key", key))
		c.calculations.Delete(key)
		return zero, false
	}
	return t, true
}

// InvalidatePortfolio drops the portfolio and every holdings and calculation entry
// tagged with it. Other portfolios are untouched even when their ids share a prefix.
func (c *Cache) InvalidatePortfolio(portfolioID string) int {
	tag := models.PortfolioTag(portfolioID)
	return c.portfolios.InvalidateTag(tag) + c.holdings.InvalidateTag(tag) + c.calculations.InvalidateTag(tag)
}

// InvalidatePattern drops holdings and calculation entries whose key contains substring.
func (c *Cache) InvalidatePattern(substring string) int {
	return c.holdings.Invalidate(substring) + c.calculations.Invalidate(substring)
}

// InvalidatePrice drops the cached price of symbol.
func (c *Cache) InvalidatePrice(symbol string) int {
	return c.prices.InvalidateTag(models.SymbolTag(normalizeSymbol(symbol)))
}

// PortfoliosHolding returns the ids of cached portfolios whose holdings include symbol.
func (c *Cache) PortfoliosHolding(symbol string) []string {
	tag := models.SymbolTag(normalizeSymbol(symbol))
	var ids []string
	c.holdings.Range(func(key string, e *models.Entry[[]models.Holding]) bool {
		if e.HasTag(tag) {
			ids = append(ids, strings.TrimPrefix(key, "holdings:"))
		}
		return true
	})
	sort.Strings(ids)
	return ids
}

// WarmPortfolio fetches the portfolio and its holdings into the cache and returns the
// held symbols. Without a fetcher it returns the symbols already cached.
func (c *Cache) WarmPortfolio(ctx context.Context, portfolioID string) ([]string, error) {
	if c.fetcher == nil {
		c.logger.Debug("No portfolio fetcher configured, using cached holdings", zap.String("portfolio_id", portfolioID))
		holdings, _ := c.holdings.Peek(holdingsKey(portfolioID))
		return symbolsOf(holdings), nil
	}

	v, err, _ := c.group.Do(portfolioID, func() (any, error) {
		ctx, cancel := resilience.Detach(ctx, c.guard)
		defer cancel()
		p, err := resilience.Call(ctx, c.guard, "portfolio.FetchPortfolio", func(ctx context.Context) (models.Portfolio, error) {
			return c.fetcher.FetchPortfolio(ctx, portfolioID)
		})
		if err != nil {
			return nil, err
		}
		holdings, err := resilience.Call(ctx, c.guard, "portfolio.FetchHoldings", func(ctx context.Context) ([]models.Holding, error) {
			return c.fetcher.FetchHoldings(ctx, portfolioID)
		})
		if err != nil {
			return nil, err
		}
		c.SetPortfolio(p)
		c.SetHoldings(portfolioID, holdings)
		return symbolsOf(holdings), nil
	})
	if err != nil {
		c.recorder.FetchError(cacheName)
		c.logger.Warn("Failed to warm portfolio", zap.String("portfolio_id", portfolioID), zap.Error(err))
		return nil, err
	}
	return v.([]string), nil
}

func symbolsOf(holdings []models.Holding) []string {
	seen := make(map[string]struct{}, len(holdings))
	out := make([]string, 0, len(holdings))
	for _, h := range holdings {
		s := normalizeSymbol(h.Symbol)
		if _, ok := seen[s]; ok || s == "" {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Clear drops every entry of every tier.
func (c *Cache) Clear() {
	c.portfolios.Clear()
	c.holdings.Clear()
	c.prices.Clear()
	c.calculations.Clear()
}

// Stats is a snapshot of the portfolio cache.
type Stats struct {
	Portfolios     ttl.Stats `json:"portfolios"`
	Holdings       ttl.Stats `json:"holdings"`
	Prices         ttl.Stats `json:"prices"`
	Calculations   ttl.Stats `json:"calculations"`
	MemoryEstimate int64     `json:"memory_estimate"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	held := 0
	c.holdings.Range(func(_ string, e *models.Entry[[]models.Holding]) bool {
		held += len(e.Data)
		return true
	})
	s := Stats{
		Portfolios:   c.portfolios.Stats(),
		Holdings:     c.holdings.Stats(),
		Prices:       c.prices.Stats(),
		Calculations: c.calculations.Stats(),
	}
	s.MemoryEstimate = int64(s.Portfolios.Entries)*portfolioBytes +
		int64(held)*holdingBytes +
		int64(s.Prices.Entries)*priceBytes +
		int64(s.Calculations.Entries)*calculationBytes
	return s
}

// Jobs returns the sweep jobs of every tier.
func (c *Cache) Jobs() []*schedule.Job {
	return []*schedule.Job{
		c.portfolios.SweepJob(),
		c.holdings.SweepJob(),
		c.prices.SweepJob(),
		c.calculations.SweepJob(),
	}
}
