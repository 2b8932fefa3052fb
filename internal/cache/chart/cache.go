// Package chart caches chart series keyed by symbol, portfolio or comparison set.
package chart

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
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

const (
	cacheName = "chart"
	topKeys   = 10
	// estimated size of one point in KB
	pointKB = 0.1
)

// Fetcher loads raw chart series from upstream.
type Fetcher interface {
	FetchSymbolSeries(ctx context.Context, symbol string, cfg models.ChartConfig) ([]models.SeriesRow, error)
	FetchPortfolioSeries(ctx context.Context, portfolioID string, cfg models.ChartConfig) ([]models.SeriesRow, error)
	FetchComparisonSeries(ctx context.Context, symbols []string, cfg models.ChartConfig) ([]models.SeriesRow, error)
}

// Cache stores chart series with a TTL chosen from the chart's period and interval,
// compresses oversized series in the background and bounds itself with LRU eviction.
type Cache struct {
	cfg     config.ChartConfig
	fetcher Fetcher
	guard   *resilience.Guard

	charts *ttl.Cache[models.ChartData]
	// filterMu serializes chart writes with filter rebuilds.
	filterMu sync.Mutex
	symbols  *SymbolFilter
	pending  *compressionQueue
	group   singleflight.Group

	compressJob *schedule.Job
	cleanupJob  *schedule.Job

	clock    utils.Clock
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

// WithSweepInterval sets how often expired charts are swept between cleanups.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) { o.sweepInterval = interval }
}

// New creates a new chart Cache. A nil fetcher makes every miss fail with ErrNoFetcher.
func New(cfg config.ChartConfig, fetcher Fetcher, opts ...Option) *Cache {
	o := options{
		clock:    utils.SystemClock(),
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named(cacheName)

	c := &Cache{
		cfg:     cfg,
		fetcher: fetcher,
		guard:   o.guard,
		charts: ttl.New[models.ChartData](cacheName, cfg.LongTermTTL,
			ttl.WithClock(o.clock),
			ttl.WithLogger(logger),
			ttl.WithRecorder(o.recorder),
			ttl.WithSweepInterval(o.sweepInterval),
		),
		symbols:  NewSymbolFilter(cfg.BloomFilter, logger),
		pending:  newCompressionQueue(),
		clock:    o.clock,
		logger:   logger,
		recorder: o.recorder,
	}
	c.compressJob = schedule.NewJob(cacheName+"-compression", cfg.CompressionInterval, logger, func(context.Context) {
		c.compressQueued()
	})
	c.cleanupJob = schedule.NewJob(cacheName+"-cleanup", cfg.CleanupInterval, logger, func(context.Context) {
		c.cleanup()
	})
	return c
}

func symbolKey(symbol string, cfg models.ChartConfig) string {
	params := cfg.Params()
	params["symbol"] = symbol
	return ttl.GenerateKey("chart:symbol", params)
}

func portfolioKey(portfolioID string, cfg models.ChartConfig) string {
	params := cfg.Params()
	params["portfolio"] = portfolioID
	return ttl.GenerateKey("chart:portfolio", params)
}

func comparisonKey(symbols []string, cfg models.ChartConfig) string {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	params := cfg.Params()
	params["symbols"] = sorted
	return ttl.GenerateKey("chart:comparison", params)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// GetChartData returns the chart of symbol described by cfg.
func (c *Cache) GetChartData(ctx context.Context, symbol string, cfg models.ChartConfig) (models.ChartData, bool) {
	data, err := c.WarmSymbol(ctx, symbol, cfg)
	if err != nil {
		c.fetchFailed("Failed to fetch chart data", err, zap.String("symbol", symbol))
		return models.ChartData{}, false
	}
	return data, true
}

// GetPortfolioChartData returns the value chart of a portfolio.
func (c *Cache) GetPortfolioChartData(ctx context.Context, portfolioID string, cfg models.ChartConfig) (models.ChartData, bool) {
	data, err := c.WarmPortfolio(ctx, portfolioID, cfg)
	if err != nil {
		c.fetchFailed("Failed to fetch portfolio chart data", err, zap.String("portfolio_id", portfolioID))
		return models.ChartData{}, false
	}
	return data, true
}

// GetComparisonChartData returns one chart holding the series of every symbol.
// Points carry their symbol.
func (c *Cache) GetComparisonChartData(ctx context.Context, symbols []string, cfg models.ChartConfig) (models.ChartData, bool) {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, normalize(s))
	}
	key := comparisonKey(normalized, cfg)
	tags := []models.Tag{models.PeriodTag(cfg.Period)}
	for _, s := range normalized {
		tags = append(tags, models.SymbolTag(s))
	}

	data, err := c.load(ctx, key, cfg, tags, normalized, true, func(ctx context.Context) ([]models.SeriesRow, error) {
		return c.fetcher.FetchComparisonSeries(ctx, normalized, cfg)
	})
	if err != nil {
		c.fetchFailed("Failed to fetch comparison chart data", err, zap.Strings("symbols", normalized))
		return models.ChartData{}, false
	}
	return data, true
}

// WarmSymbol loads the chart of symbol into the cache and returns it, surfacing the fetch error.
func (c *Cache) WarmSymbol(ctx context.Context, symbol string, cfg models.ChartConfig) (models.ChartData, error) {
	symbol = normalize(symbol)
	tags := []models.Tag{models.SymbolTag(symbol), models.PeriodTag(cfg.Period)}
	return c.load(ctx, symbolKey(symbol, cfg), cfg, tags, []string{symbol}, false, func(ctx context.Context) ([]models.SeriesRow, error) {
		return c.fetcher.FetchSymbolSeries(ctx, symbol, cfg)
	})
}

// WarmPortfolio loads the chart of a portfolio into the cache and returns it, surfacing the fetch error.
func (c *Cache) WarmPortfolio(ctx context.Context, portfolioID string, cfg models.ChartConfig) (models.ChartData, error) {
	tags := []models.Tag{models.PortfolioTag(portfolioID), models.PeriodTag(cfg.Period)}
	return c.load(ctx, portfolioKey(portfolioID, cfg), cfg, tags, nil, false, func(ctx context.Context) ([]models.SeriesRow, error) {
		return c.fetcher.FetchPortfolioSeries(ctx, portfolioID, cfg)
	})
}

func (c *Cache) load(
	ctx context.Context,
	key string,
	cfg models.ChartConfig,
	tags []models.Tag,
	symbols []string,
	withSymbol bool,
	fetch func(ctx context.Context) ([]models.SeriesRow, error),
) (models.ChartData, error) {
	if data, ok := c.charts.Get(key); ok {
		return data, nil
	}
	if c.fetcher == nil {
		return models.ChartData{}, models.ErrNoFetcher
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		ctx, cancel := resilience.Detach(ctx, c.guard)
		defer cancel()
		rows, err := resilience.Call(ctx, c.guard, "chart.Fetch", fetch)
		if err != nil {
			return nil, err
		}
		data := c.transform(key, cfg, rows, withSymbol)
		c.store(key, data, cfg, tags, symbols)
		return data, nil
	})
	if err != nil {
		return models.ChartData{}, err
	}
	return v.(models.ChartData), nil
}

func (c *Cache) transform(key string, cfg models.ChartConfig, rows []models.SeriesRow, withSymbol bool) models.ChartData {
	points := make([]models.ChartDataPoint, 0, len(rows))
	for _, row := range rows {
		p := models.ChartDataPoint{
			Date:      row.Time.UTC().Format(time.RFC3339),
			Value:     row.Value,
			Timestamp: row.Time.UnixMilli(),
		}
		if withSymbol {
			p.Symbol = normalize(row.Symbol)
		}
		points = append(points, p)
	}
	return models.ChartData{
		ID:       key,
		Config:   cfg,
		Data:     points,
		Metadata: models.ComputeMetadata(points, c.clock.Now()),
	}
}

func (c *Cache) store(key string, data models.ChartData, cfg models.ChartConfig, tags []models.Tag, symbols []string) {
	c.filterMu.Lock()
	c.charts.SetTagged(key, data, TTLForConfig(c.cfg, cfg), tags...)
	if len(symbols) > 0 {
		c.symbols.Add(symbols...)
	}
	c.filterMu.Unlock()
	if len(data.Data) > c.cfg.CompressionThreshold {
		c.pending.add(key)
	}
}

// CompressQueued compresses every queued series now. It reports false when a pass was
// already in progress.
func (c *Cache) CompressQueued(ctx context.Context) bool {
	return c.compressJob.RunOnce(ctx)
}

func (c *Cache) compressQueued() {
	keys := c.pending.drain()
	compressed := 0
	for _, key := range keys {
		now := c.clock.Now()
		if c.charts.Update(key, func(data models.ChartData) models.ChartData {
			return Compress(data, c.cfg.CompressionTarget, now)
		}) {
			compressed++
		}
	}
	if len(keys) > 0 {
		c.logger.Debug("Compressed chart series", zap.Int("queued", len(keys)), zap.Int("compressed", compressed))
	}
}

// Cleanup sweeps expired charts, evicts the least recently used ones above the entry cap
// and rebuilds the symbol filter. It reports false when a pass was already in progress.
func (c *Cache) Cleanup(ctx context.Context) bool {
	return c.cleanupJob.RunOnce(ctx)
}

func (c *Cache) cleanup() {
	expired := c.charts.Sweep()
	evicted := c.charts.EvictLRU(c.cfg.MaxEntries)
	c.filterMu.Lock()
	c.symbols.Rebuild(c.cachedSymbols())
	c.filterMu.Unlock()
	c.logger.Debug("Chart cache cleanup finished",
		zap.Int("expired", expired),
		zap.Int("evicted", evicted),
		zap.Int("remaining", c.charts.Len()))
}

func (c *Cache) cachedSymbols() []string {
	seen := make(map[string]struct{})
	c.charts.Range(func(_ string, e *models.Entry[models.ChartData]) bool {
		for _, tag := range e.Tags {
			if s, ok := tag.Symbol(); ok {
				seen[s] = struct{}{}
			}
		}
		return true
	})
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	return out
}

// InvalidateSymbol drops every chart that includes symbol.
func (c *Cache) InvalidateSymbol(symbol string) int {
	symbol = normalize(symbol)
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if !c.symbols.Test(symbol) {
		return 0
	}
	return c.charts.InvalidateTag(models.SymbolTag(symbol))
}

// InvalidatePortfolio drops every chart of a portfolio.
func (c *Cache) InvalidatePortfolio(portfolioID string) int {
	return c.charts.InvalidateTag(models.PortfolioTag(portfolioID))
}

// InvalidateByPeriod drops every chart for period.
func (c *Cache) InvalidateByPeriod(period string) int {
	return c.charts.InvalidateTag(models.PeriodTag(period))
}

// InvalidatePattern drops every chart whose key contains substring.
func (c *Cache) InvalidatePattern(substring string) int {
	return c.charts.Invalidate(substring)
}

// Clear drops every chart.
func (c *Cache) Clear() int {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	n := c.charts.Clear()
	c.symbols.Rebuild(nil)
	return n
}

// KeyAccess is the access count of one key.
type KeyAccess struct {
	Key         string `json:"key"`
	AccessCount int64  `json:"access_count"`
}

// Stats is a snapshot of the chart cache.
type Stats struct {
	ttl.Stats
	TotalPoints        int         `json:"total_points"`
	AveragePoints      float64     `json:"average_points"`
	MemoryEstimateKB   float64     `json:"memory_estimate_kb"`
	CompressionPending int         `json:"compression_pending"`
	TopKeys            []KeyAccess `json:"top_keys"`
}

// MemoryEstimate returns the estimated size in bytes.
func (s Stats) MemoryEstimate() int64 {
	return int64(s.MemoryEstimateKB * 1024)
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	var (
		points int
		access []KeyAccess
	)
	c.charts.Range(func(key string, e *models.Entry[models.ChartData]) bool {
		points += len(e.Data.Data)
		access = append(access, KeyAccess{Key: key, AccessCount: e.AccessCount.Load()})
		return true
	})
	sort.Slice(access, func(i, j int) bool {
		if access[i].AccessCount == access[j].AccessCount {
			return access[i].Key < access[j].Key
		}
		return access[i].AccessCount > access[j].AccessCount
	})
	if len(access) > topKeys {
		access = access[:topKeys]
	}

	s := Stats{
		Stats:              c.charts.Stats(),
		TotalPoints:        points,
		MemoryEstimateKB:   float64(points) * pointKB,
		CompressionPending: c.pending.len(),
		TopKeys:            access,
	}
	if s.Entries > 0 {
		s.AveragePoints = float64(points) / float64(s.Entries)
	}
	return s
}

// Jobs returns the background jobs of the cache.
func (c *Cache) Jobs() []*schedule.Job {
	return []*schedule.Job{c.compressJob, c.cleanupJob, c.charts.SweepJob()}
}

func (c *Cache) fetchFailed(msg string, err error, fields ...zap.Field) {
	if errors.Is(err, models.ErrNoFetcher) {
		c.logger.Debug(msg, append(fields, zap.Error(err))...)
		return
	}
	c.recorder.FetchError(cacheName)
	c.logger.Warn(msg, append(fields, zap.Error(err))...)
}
