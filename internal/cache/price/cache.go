// Package price caches real-time quotes, historical bars and market metadata.
package price

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"goflare.io/folio/internal/cache/limited"
	"goflare.io/folio/internal/cache/ttl"
	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/metrics"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/resilience"
	"goflare.io/folio/internal/schedule"
	"goflare.io/folio/internal/utils"
)

const cacheName = "price"

// rough per-item sizes used by Stats
const (
	quoteBytes  = 256
	barBytes    = 128
	marketBytes = 512
)

// Fetcher loads price data from upstream.
type Fetcher interface {
	FetchQuotes(ctx context.Context, symbols []string) ([]models.QuoteRow, error)
	FetchHistory(ctx context.Context, symbol, period, interval string) ([]models.HistoricalPrice, error)
	FetchMarketData(ctx context.Context, symbol string) (models.MarketData, error)
}

// Cache serves quotes with a market-hours TTL, historical bars with a fixed TTL and
// market metadata from a bounded store.
type Cache struct {
	cfg     config.PriceConfig
	fetcher Fetcher
	guard   *resilience.Guard

	quotes  *ttl.Cache[models.PriceData]
	history *ttl.Cache[[]models.HistoricalPrice]
	market  *limited.Cache[models.MarketData]

	hours     *MarketHours
	queue     *updateQueue
	subs      *registry
	group     singleflight.Group
	updateJob *schedule.Job

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

// WithSweepInterval sets how often expired quotes and bars are swept.
func WithSweepInterval(interval time.Duration) Option {
	return func(o *options) { o.sweepInterval = interval }
}

// New creates a new price Cache. A nil fetcher makes every miss fail with ErrNoFetcher.
func New(cfg config.PriceConfig, fetcher Fetcher, opts ...Option) (*Cache, error) {
	o := options{
		clock:    utils.SystemClock(),
		logger:   zap.NewNop(),
		recorder: metrics.Nop{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	logger := o.logger.Named(cacheName)

	hours, err := NewMarketHours(cfg.MarketTimezone, cfg.RealTimeTTL, cfg.QuoteTTL)
	if err != nil {
		return nil, err
	}

	ttlOpts := []ttl.Option{
		ttl.WithClock(o.clock),
		ttl.WithLogger(logger),
		ttl.WithRecorder(o.recorder),
		ttl.WithSweepInterval(o.sweepInterval),
	}
	market, err := limited.New[models.MarketData](cacheName+"-market", cfg.MarketDataMaxEntries, cfg.MarketDataTTL, o.clock, logger, o.recorder)
	if err != nil {
		return nil, fmt.Errorf("failed to create market data cache: %w", err)
	}

	c := &Cache{
		cfg:      cfg,
		fetcher:  fetcher,
		guard:    o.guard,
		quotes:   ttl.New[models.PriceData](cacheName+"-quotes", cfg.QuoteTTL, ttlOpts...),
		history:  ttl.New[[]models.HistoricalPrice](cacheName+"-history", cfg.HistoricalTTL, ttlOpts...),
		market:   market,
		hours:    hours,
		queue:    newUpdateQueue(),
		subs:     newRegistry(logger),
		clock:    o.clock,
		logger:   logger,
		recorder: o.recorder,
	}
	c.updateJob = schedule.NewJob(cacheName+"-updates", cfg.UpdateInterval, logger, c.processUpdates)
	return c, nil
}

func quoteKey(symbol string) string  { return "price:symbol:" + symbol }
func marketKey(symbol string) string { return "price:market:" + symbol }

func historyKey(symbol, period, interval string) string {
	return ttl.GenerateKey("price:history", map[string]any{
		"symbol":   symbol,
		"period":   period,
		"interval": interval,
	})
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsMarketOpen reports whether the U.S. equity session is open now.
func (c *Cache) IsMarketOpen() bool {
	return c.hours.IsOpen(c.clock.Now())
}

// GetPrice returns the quote for symbol. On a miss the symbol is queued for the next
// batched refresh and fetched immediately; concurrent misses share one fetch.
// A failed fetch returns false and caches nothing.
func (c *Cache) GetPrice(ctx context.Context, symbol string) (models.PriceData, bool) {
	symbol = normalize(symbol)
	if data, ok := c.quotes.Get(quoteKey(symbol)); ok {
		return data, true
	}
	c.queue.Add(symbol)

	v, err, _ := c.group.Do(quoteKey(symbol), func() (any, error) {
		ctx, cancel := resilience.Detach(ctx, c.guard)
		defer cancel()
		rows, err := c.fetchQuotes(ctx, []string{symbol})
		if err != nil {
			return nil, err
		}
		for _, row := range rows {
			if normalize(row.Symbol) == symbol {
				return c.storeQuote(row), nil
			}
		}
		return nil, fmt.Errorf("%w: %s", models.ErrSymbolNotFound, symbol)
	})
	if err != nil {
		c.fetchFailed("Failed to fetch price", err, zap.String("symbol", symbol))
		return models.PriceData{}, false
	}
	return v.(models.PriceData), true
}

// GetPrices returns quotes for every symbol that could be resolved. Misses are fetched
// in one batch; symbols the batch did not return are left out.
func (c *Cache) GetPrices(ctx context.Context, symbols []string) map[string]models.PriceData {
	result := make(map[string]models.PriceData, len(symbols))
	seen := make(map[string]struct{}, len(symbols))
	var misses []string

	for _, s := range symbols {
		s = normalize(s)
		if _, dup := seen[s]; dup || s == "" {
			continue
		}
		seen[s] = struct{}{}
		if data, ok := c.quotes.Get(quoteKey(s)); ok {
			result[s] = data
			continue
		}
		misses = append(misses, s)
	}
	if len(misses) == 0 {
		return result
	}

	rows, err := c.fetchQuotes(ctx, misses)
	if err != nil {
		c.fetchFailed("Failed to fetch prices", err, zap.Strings("symbols", misses))
		return result
	}
	wanted := make(map[string]struct{}, len(misses))
	for _, s := range misses {
		wanted[s] = struct{}{}
	}
	for _, row := range rows {
		s := normalize(row.Symbol)
		if _, ok := wanted[s]; !ok {
			continue
		}
		row.Symbol = s
		result[s] = c.storeQuote(row)
	}
	return result
}

// GetHistoricalPrices returns bars for symbol over period at interval.
func (c *Cache) GetHistoricalPrices(ctx context.Context, symbol, period, interval string) ([]models.HistoricalPrice, bool) {
	bars, err := c.historicalPrices(ctx, normalize(symbol), period, interval)
	if err != nil {
		c.fetchFailed("Failed to fetch historical prices", err,
			zap.String("symbol", symbol), zap.String("period", period), zap.String("interval", interval))
		return nil, false
	}
	return bars, true
}

// HistoryBatch holds the outcome of a batched history lookup. Every requested symbol
// appears in exactly one of the maps.
type HistoryBatch struct {
	Data   map[string][]models.HistoricalPrice
	Errors map[string]error
}

// GetHistoricalPricesBatch looks up history for symbols concurrently. One failure does
// not affect the others.
func (c *Cache) GetHistoricalPricesBatch(ctx context.Context, symbols []string, period, interval string) HistoryBatch {
	batch := HistoryBatch{
		Data:   make(map[string][]models.HistoricalPrice, len(symbols)),
		Errors: make(map[string]error),
	}
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	seen := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		s = normalize(s)
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}

		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			bars, err := c.historicalPrices(ctx, symbol, period, interval)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				batch.Errors[symbol] = err
				return
			}
			batch.Data[symbol] = bars
		}(s)
	}
	wg.Wait()

	for symbol, err := range batch.Errors {
		c.fetchFailed("Failed to fetch historical prices", err, zap.String("symbol", symbol))
	}
	return batch
}

func (c *Cache) historicalPrices(ctx context.Context, symbol, period, interval string) ([]models.HistoricalPrice, error) {
	key := historyKey(symbol, period, interval)
	if bars, ok := c.history.Get(key); ok {
		return bars, nil
	}
	if c.fetcher == nil {
		return nil, models.ErrNoFetcher
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		ctx, cancel := resilience.Detach(ctx, c.guard)
		defer cancel()
		bars, err := resilience.Call(ctx, c.guard, "price.FetchHistory", func(ctx context.Context) ([]models.HistoricalPrice, error) {
			return c.fetcher.FetchHistory(ctx, symbol, period, interval)
		})
		if err != nil {
			return nil, err
		}
		c.history.SetTagged(key, bars, c.cfg.HistoricalTTL, models.SymbolTag(symbol), models.PeriodTag(period))
		return bars, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.HistoricalPrice), nil
}

// GetMarketData returns metadata for symbol.
func (c *Cache) GetMarketData(ctx context.Context, symbol string) (models.MarketData, bool) {
	symbol = normalize(symbol)
	key := marketKey(symbol)
	if data, ok := c.market.Get(key); ok {
		return data, true
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		ctx, cancel := resilience.Detach(ctx, c.guard)
		defer cancel()
		if c.fetcher == nil {
			return nil, models.ErrNoFetcher
		}
		data, err := resilience.Call(ctx, c.guard, "price.FetchMarketData", func(ctx context.Context) (models.MarketData, error) {
			return c.fetcher.FetchMarketData(ctx, symbol)
		})
		if err != nil {
			return nil, err
		}
		c.market.Set(key, data)
		return data, nil
	})
	if err != nil {
		c.fetchFailed("Failed to fetch market data", err, zap.String("symbol", symbol))
		return models.MarketData{}, false
	}
	return v.(models.MarketData), true
}

// SubscribeToPrice registers listener for symbol and returns a function that removes it.
// A live cached quote is delivered immediately; otherwise the symbol is queued for the
// next update. Later updates arrive only from the update queue. Unsubscribing twice is a no-op.
func (c *Cache) SubscribeToPrice(symbol string, listener Listener) func() {
	symbol = normalize(symbol)
	id := c.subs.add(symbol, listener)

	if data, ok := c.quotes.Peek(quoteKey(symbol)); ok {
		c.subs.notify(data, listener)
	} else {
		c.queue.Add(symbol)
	}

	var once sync.Once
	return func() {
		once.Do(func() { c.subs.remove(symbol, id) })
	}
}

// ProcessUpdateQueue runs one refresh pass now. It reports false when a pass was
// already in progress.
func (c *Cache) ProcessUpdateQueue(ctx context.Context) bool {
	return c.updateJob.RunOnce(ctx)
}

// processUpdates drains the pending set, adds subscribed symbols whose quote has expired,
// fetches them in one batch, caches the requested rows and publishes them to subscribers.
// Symbols the batch failed or did not return are queued again.
func (c *Cache) processUpdates(ctx context.Context) {
	pending := c.queue.Drain()
	seen := make(map[string]struct{}, len(pending))
	for _, s := range pending {
		seen[s] = struct{}{}
	}
	for _, s := range c.subs.symbols() {
		if _, ok := seen[s]; ok {
			continue
		}
		if _, live := c.quotes.Peek(quoteKey(s)); !live {
			pending = append(pending, s)
		}
	}
	if len(pending) == 0 {
		return
	}

	rows, err := c.fetchQuotes(ctx, pending)
	if err != nil {
		c.queue.Add(pending...)
		c.fetchFailed("Failed to process price update queue", err, zap.Int("symbols", len(pending)))
		return
	}

	missing := make(map[string]struct{}, len(pending))
	for _, s := range pending {
		missing[s] = struct{}{}
	}
	notified := 0
	for _, row := range rows {
		s := normalize(row.Symbol)
		if _, ok := missing[s]; !ok {
			continue
		}
		delete(missing, s)
		row.Symbol = s
		notified += c.subs.publish(c.storeQuote(row))
	}
	requeued := make([]string, 0, len(missing))
	for s := range missing {
		requeued = append(requeued, s)
	}
	c.queue.Add(requeued...)

	c.logger.Debug("Processed price update queue",
		zap.Int("requested", len(pending)),
		zap.Int("received", len(rows)),
		zap.Int("requeued", len(requeued)),
		zap.Int("notified", notified))
}

// InvalidatePrice drops the cached quote for symbol.
func (c *Cache) InvalidatePrice(symbol string) int {
	if c.quotes.Delete(quoteKey(normalize(symbol))) {
		return 1
	}
	return 0
}

// InvalidateHistoricalPrices drops every cached history for symbol.
func (c *Cache) InvalidateHistoricalPrices(symbol string) int {
	return c.history.InvalidateTag(models.SymbolTag(normalize(symbol)))
}

// InvalidateMarketData drops cached metadata for symbol.
func (c *Cache) InvalidateMarketData(symbol string) int {
	if c.market.Delete(marketKey(normalize(symbol))) {
		return 1
	}
	return 0
}

// InvalidateSymbol drops everything cached for symbol.
func (c *Cache) InvalidateSymbol(symbol string) int {
	return c.InvalidatePrice(symbol) + c.InvalidateHistoricalPrices(symbol) + c.InvalidateMarketData(symbol)
}

// Clear drops every cached entry. Subscriptions and the pending set are kept.
func (c *Cache) Clear() {
	c.quotes.Clear()
	c.history.Clear()
	c.market.Clear()
}

// Stats is a snapshot of the price cache.
type Stats struct {
	Quotes         ttl.Stats     `json:"quotes"`
	History        ttl.Stats     `json:"history"`
	MarketData     limited.Stats `json:"market_data"`
	Pending        int           `json:"pending"`
	Subscribers    int           `json:"subscribers"`
	MarketOpen     bool          `json:"market_open"`
	MemoryEstimate int64         `json:"memory_estimate"`
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	bars := 0
	c.history.Range(func(_ string, e *models.Entry[[]models.HistoricalPrice]) bool {
		bars += len(e.Data)
		return true
	})
	s := Stats{
		Quotes:      c.quotes.Stats(),
		History:     c.history.Stats(),
		MarketData:  c.market.Stats(),
		Pending:     c.queue.Len(),
		Subscribers: c.subs.count(),
		MarketOpen:  c.IsMarketOpen(),
	}
	s.MemoryEstimate = int64(s.Quotes.Entries)*quoteBytes + int64(bars)*barBytes + int64(s.MarketData.Entries)*marketBytes
	return s
}

// Jobs returns the background jobs of the cache.
func (c *Cache) Jobs() []*schedule.Job {
	return []*schedule.Job{c.updateJob, c.quotes.SweepJob(), c.history.SweepJob()}
}

// Close releases the market data store.
func (c *Cache) Close() {
	c.market.Close()
}

func (c *Cache) fetchQuotes(ctx context.Context, symbols []string) ([]models.QuoteRow, error) {
	if c.fetcher == nil {
		return nil, models.ErrNoFetcher
	}
	return resilience.Call(ctx, c.guard, "price.FetchQuotes", func(ctx context.Context) ([]models.QuoteRow, error) {
		return c.fetcher.FetchQuotes(ctx, symbols)
	})
}

func (c *Cache) storeQuote(row models.QuoteRow) models.PriceData {
	now := c.clock.Now()
	data := models.NewPriceData(row)
	data.Symbol = normalize(data.Symbol)
	if data.Timestamp.IsZero() {
		data.Timestamp = now
	}
	c.quotes.SetTagged(quoteKey(data.Symbol), data, c.hours.QuoteTTL(now), models.SymbolTag(data.Symbol))
	return data
}

func (c *Cache) fetchFailed(msg string, err error, fields ...zap.Field) {
	c.recorder.FetchError(cacheName)
	c.logger.Warn(msg, append(fields, zap.Error(err))...)
}
