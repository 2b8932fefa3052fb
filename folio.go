// Package folio is the cache layer of the personal finance dashboard: quotes, charts and
// portfolios with per-tier TTLs, background refresh and coordinated invalidation.
package folio

import (
	"context"
	"fmt"
	"sync"

	"github.com/thejerf/suture/v4"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"goflare.io/folio/internal/cache/chart"
	"goflare.io/folio/internal/cache/multi"
	"goflare.io/folio/internal/cache/portfolio"
	"goflare.io/folio/internal/cache/price"
	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/metrics"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/resilience"
	"goflare.io/folio/internal/schedule"
)

// Fetchers are the upstream sources behind each cache. Any of them may be nil, in which
// case misses in that cache are never filled.
type Fetchers struct {
	Price     price.Fetcher
	Chart     chart.Fetcher
	Portfolio portfolio.Fetcher
}

// Folio owns every cache and the supervisor running their background jobs.
type Folio struct {
	cfg         *config.Config
	prices      *price.Cache
	charts      *chart.Cache
	portfolios  *portfolio.Cache
	coordinator *multi.Coordinator
	guard       *resilience.Guard
	logger      *zap.Logger

	started   atomic.Bool
	closeOnce sync.Once
	cancel    context.CancelFunc
}

// New 初始化 Folio，接受多個配置選項
func New(fetchers Fetchers, opts ...Option) (*Folio, error) {
	cfg := config.Default()
	cfg.Logger = nil

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	// 初始化 Logger，如果未設置則使用默認
	if cfg.Logger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize default logger: %w", err)
		}
		cfg.Logger = logger
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return NewWithConfig(fetchers, cfg)
}

// NewFromFile builds a Folio from a YAML file layered with FOLIO_ environment variables.
// An empty path uses environment variables only.
func NewFromFile(fetchers Fetchers, path string, opts ...Option) (*Folio, error) {
	cfg, err := config.Load(path, opts...)
	if err != nil {
		return nil, err
	}
	return NewWithConfig(fetchers, cfg)
}

// NewWithConfig builds a Folio from a validated config.
func NewWithConfig(fetchers Fetchers, cfg *config.Config) (*Folio, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger

	var recorder metrics.Recorder = metrics.Nop{}
	if cfg.Registerer != nil {
		p, err := metrics.NewPrometheus(cfg.Registerer)
		if err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
		recorder = p
	}

	guard, err := resilience.NewGuard(cfg.ResilienceConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create resilience guard: %w", err)
	}

	prices, err := price.New(cfg.Price, fetchers.Price,
		price.WithGuard(guard),
		price.WithClock(cfg.Clock),
		price.WithLogger(logger),
		price.WithRecorder(recorder),
		price.WithSweepInterval(cfg.SweepInterval),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize price cache: %w", err)
	}
	charts := chart.New(cfg.Chart, fetchers.Chart,
		chart.WithGuard(guard),
		chart.WithClock(cfg.Clock),
		chart.WithLogger(logger),
		chart.WithRecorder(recorder),
		chart.WithSweepInterval(cfg.SweepInterval),
	)
	portfolios := portfolio.New(cfg.Portfolio, fetchers.Portfolio,
		portfolio.WithGuard(guard),
		portfolio.WithClock(cfg.Clock),
		portfolio.WithLogger(logger),
		portfolio.WithRecorder(recorder),
		portfolio.WithSweepInterval(cfg.SweepInterval),
	)

	return &Folio{
		cfg:        cfg,
		prices:     prices,
		charts:     charts,
		portfolios: portfolios,
		coordinator: multi.NewCoordinator(prices, charts, portfolios,
			multi.WithLogger(logger),
			multi.WithMemoryCeiling(cfg.MemoryCeiling),
		),
		guard:  guard,
		logger: logger,
	}, nil
}

// Jobs returns every background job.
func (f *Folio) Jobs() []*schedule.Job {
	var jobs []*schedule.Job
	jobs = append(jobs, f.prices.Jobs()...)
	jobs = append(jobs, f.charts.Jobs()...)
	jobs = append(jobs, f.portfolios.Jobs()...)
	return jobs
}

// Start runs every background job under a supervisor until ctx is done or Close is
// called. The returned channel yields the supervisor's exit error.
func (f *Folio) Start(ctx context.Context) <-chan error {
	if !f.started.CompareAndSwap(false, true) {
		errc := make(chan error, 1)
		errc <- ErrAlreadyStarted
		close(errc)
		return errc
	}

	ctx, f.cancel = context.WithCancel(ctx)
	sup := suture.New("folio", suture.Spec{
		EventHook: f.eventHook,
	})
	jobs := f.Jobs()
	for _, job := range jobs {
		sup.Add(job)
	}
	f.logger.Info("Starting cache jobs", zap.Int("jobs", len(jobs)))
	return sup.ServeBackground(ctx)
}

func (f *Folio) eventHook(e suture.Event) {
	switch e.Type() {
	case suture.EventTypeServicePanic, suture.EventTypeServiceTerminate, suture.EventTypeBackoff:
		f.logger.Warn("Supervisor event", zap.String("event", e.String()), zap.Any("details", e.Map()))
	default:
		f.logger.Info("Supervisor event", zap.String("event", e.String()))
	}
}

// Close stops the background jobs and releases the caches.
func (f *Folio) Close() error {
	f.closeOnce.Do(func() {
		if f.cancel != nil {
			f.cancel()
		}
		f.prices.Close()
		_ = f.logger.Sync()
	})
	return nil
}

// GetPrice returns the quote for symbol, fetching it on a miss.
func (f *Folio) GetPrice(ctx context.Context, symbol string) (models.PriceData, bool) {
	return f.prices.GetPrice(ctx, symbol)
}

// GetPrices returns quotes for every symbol that could be resolved.
func (f *Folio) GetPrices(ctx context.Context, symbols []string) map[string]models.PriceData {
	return f.prices.GetPrices(ctx, symbols)
}

// GetHistoricalPrices returns bars for symbol over period at interval.
func (f *Folio) GetHistoricalPrices(ctx context.Context, symbol, period, interval string) ([]models.HistoricalPrice, bool) {
	return f.prices.GetHistoricalPrices(ctx, symbol, period, interval)
}

// GetHistoricalPricesBatch looks up history for several symbols, reporting failures separately.
func (f *Folio) GetHistoricalPricesBatch(ctx context.Context, symbols []string, period, interval string) price.HistoryBatch {
	return f.prices.GetHistoricalPricesBatch(ctx, symbols, period, interval)
}

// GetMarketData returns metadata for symbol.
func (f *Folio) GetMarketData(ctx context.Context, symbol string) (models.MarketData, bool) {
	return f.prices.GetMarketData(ctx, symbol)
}

// SubscribeToPrice registers listener for symbol and returns the unsubscribe function.
func (f *Folio) SubscribeToPrice(symbol string, listener func(models.PriceData)) func() {
	return f.prices.SubscribeToPrice(symbol, listener)
}

// ProcessUpdateQueue runs one price refresh pass now.
func (f *Folio) ProcessUpdateQueue(ctx context.Context) bool {
	return f.prices.ProcessUpdateQueue(ctx)
}

// IsMarketOpen reports whether the U.S. equity session is open.
func (f *Folio) IsMarketOpen() bool {
	return f.prices.IsMarketOpen()
}

// InvalidatePrice drops the cached quote of symbol.
func (f *Folio) InvalidatePrice(symbol string) int { return f.prices.InvalidatePrice(symbol) }

// InvalidateHistoricalPrices drops every cached history of symbol.
func (f *Folio) InvalidateHistoricalPrices(symbol string) int {
	return f.prices.InvalidateHistoricalPrices(symbol)
}

// InvalidateMarketData drops the cached metadata of symbol.
func (f *Folio) InvalidateMarketData(symbol string) int { return f.prices.InvalidateMarketData(symbol) }

// GetChartData returns the chart of symbol described by cfg.
func (f *Folio) GetChartData(ctx context.Context, symbol string, cfg models.ChartConfig) (models.ChartData, bool) {
	return f.charts.GetChartData(ctx, symbol, cfg)
}

// GetPortfolioChartData returns the value chart of a portfolio.
func (f *Folio) GetPortfolioChartData(ctx context.Context, portfolioID string, cfg models.ChartConfig) (models.ChartData, bool) {
	return f.charts.GetPortfolioChartData(ctx, portfolioID, cfg)
}

// GetComparisonChartData returns one chart comparing several symbols.
func (f *Folio) GetComparisonChartData(ctx context.Context, symbols []string, cfg models.ChartConfig) (models.ChartData, bool) {
	return f.charts.GetComparisonChartData(ctx, symbols, cfg)
}

// InvalidateChartsByPeriod drops every chart for period.
func (f *Folio) InvalidateChartsByPeriod(period string) int { return f.charts.InvalidateByPeriod(period) }

// InvalidateChartPattern drops every chart whose key contains substring.
func (f *Folio) InvalidateChartPattern(substring string) int {
	return f.charts.InvalidatePattern(substring)
}

// GetPortfolio returns a cached portfolio header.
func (f *Folio) GetPortfolio(id string) (models.Portfolio, bool) { return f.portfolios.GetPortfolio(id) }

// SetPortfolio caches a portfolio header.
func (f *Folio) SetPortfolio(p models.Portfolio) { f.portfolios.SetPortfolio(p) }

// GetHoldings returns the cached holdings of a portfolio.
func (f *Folio) GetHoldings(portfolioID string) ([]models.Holding, bool) {
	return f.portfolios.GetHoldings(portfolioID)
}

// SetHoldings caches the holdings of a portfolio.
func (f *Folio) SetHoldings(portfolioID string, holdings []models.Holding) {
	f.portfolios.SetHoldings(portfolioID, holdings)
}

// GetMetrics returns the cached metrics of a portfolio.
func (f *Folio) GetMetrics(portfolioID string) (models.PortfolioMetrics, bool) {
	return f.portfolios.GetMetrics(portfolioID)
}

// SetMetrics caches the metrics of a portfolio.
func (f *Folio) SetMetrics(portfolioID string, m models.PortfolioMetrics) {
	f.portfolios.SetMetrics(portfolioID, m)
}

// GetAllocation returns a cached allocation of a portfolio.
func (f *Folio) GetAllocation(portfolioID, allocationType string) (models.Allocation, bool) {
	return f.portfolios.GetAllocation(portfolioID, allocationType)
}

// SetAllocation caches an allocation of a portfolio.
func (f *Folio) SetAllocation(portfolioID, allocationType string, a models.Allocation) {
	f.portfolios.SetAllocation(portfolioID, allocationType, a)
}

// GetPerformance returns the cached performance of a portfolio over period.
func (f *Folio) GetPerformance(portfolioID, period string) (models.Performance, bool) {
	return f.portfolios.GetPerformance(portfolioID, period)
}

// SetPerformance caches the performance of a portfolio over period.
func (f *Folio) SetPerformance(portfolioID, period string, p models.Performance) {
	f.portfolios.SetPerformance(portfolioID, period, p)
}

// InvalidateSymbol drops everything cached for symbol across every cache.
func (f *Folio) InvalidateSymbol(ctx context.Context, symbol string) multi.InvalidationReport {
	return f.coordinator.InvalidateSymbol(ctx, symbol)
}

// InvalidatePortfolio drops a portfolio and everything derived from it.
func (f *Folio) InvalidatePortfolio(ctx context.Context, userID, portfolioID string) multi.InvalidationReport {
	return f.coordinator.InvalidatePortfolio(ctx, userID, portfolioID)
}

// PreloadUserData warms the portfolios of a user and everything they hold.
func (f *Folio) PreloadUserData(ctx context.Context, userID string, portfolioIDs []string) multi.PreloadReport {
	return f.coordinator.PreloadUserData(ctx, userID, portfolioIDs)
}

// Stats returns the stats of every cache.
func (f *Folio) Stats() multi.Stats {
	return f.coordinator.Stats()
}

// HealthCheck reports the health of the cache layer.
func (f *Folio) HealthCheck() multi.Health {
	return f.coordinator.HealthCheck()
}

// Clear drops every cached entry.
func (f *Folio) Clear() {
	f.prices.Clear()
	f.charts.Clear()
	f.portfolios.Clear()
}
