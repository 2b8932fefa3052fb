// Package multi coordinates the price, chart and portfolio caches.
package multi

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/folio/internal/cache/chart"
	"goflare.io/folio/internal/cache/portfolio"
	"goflare.io/folio/internal/cache/price"
	"goflare.io/folio/internal/models"
)

const defaultMemoryCeiling = 50 * 1024 * 1024

// PriceCache is the part of the price cache the coordinator drives.
type PriceCache interface {
	GetPrices(ctx context.Context, symbols []string) map[string]models.PriceData
	InvalidateSymbol(symbol string) int
	Stats() price.Stats
}

// ChartCache is the part of the chart cache the coordinator drives.
type ChartCache interface {
	WarmSymbol(ctx context.Context, symbol string, cfg models.ChartConfig) (models.ChartData, error)
	WarmPortfolio(ctx context.Context, portfolioID string, cfg models.ChartConfig) (models.ChartData, error)
	InvalidateSymbol(symbol string) int
	InvalidatePortfolio(portfolioID string) int
	Stats() chart.Stats
}

// PortfolioCache is the part of the portfolio cache the coordinator drives.
type PortfolioCache interface {
	WarmPortfolio(ctx context.Context, portfolioID string) ([]string, error)
	InvalidatePortfolio(portfolioID string) int
	InvalidatePrice(symbol string) int
	Stats() portfolio.Stats
}

// Coordinator fans invalidation and preloading out over every cache.
type Coordinator struct {
	prices     PriceCache
	charts     ChartCache
	portfolios PortfolioCache

	memoryCeiling  uint64
	portfolioChart models.ChartConfig
	symbolChart    models.ChartConfig

	tracer trace.Tracer
	logger *zap.Logger
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMemoryCeiling sets the estimated size above which HealthCheck reports degraded.
func WithMemoryCeiling(bytes uint64) Option {
	return func(c *Coordinator) {
		if bytes > 0 {
			c.memoryCeiling = bytes
		}
	}
}

// WithPreloadCharts sets the chart configs PreloadUserData warms.
func WithPreloadCharts(portfolioChart, symbolChart models.ChartConfig) Option {
	return func(c *Coordinator) {
		c.portfolioChart = portfolioChart
		c.symbolChart = symbolChart
	}
}

// NewCoordinator creates a new Coordinator instance.
func NewCoordinator(prices PriceCache, charts ChartCache, portfolios PortfolioCache, opts ...Option) *Coordinator {
	daily := models.ChartConfig{Type: "line", Period: "1y", Interval: "1d"}
	c := &Coordinator{
		prices:         prices,
		charts:         charts,
		portfolios:     portfolios,
		memoryCeiling:  defaultMemoryCeiling,
		portfolioChart: daily,
		symbolChart:    daily,
		tracer:         otel.Tracer("goflare.io/folio/internal/cache/multi"),
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("coordinator")
	return c
}

// InvalidationReport counts the entries removed from each cache.
type InvalidationReport struct {
	Price     int `json:"price"`
	Chart     int `json:"chart"`
	Portfolio int `json:"portfolio"`
}

// Total returns the number of entries removed.
func (r InvalidationReport) Total() int {
	return r.Price + r.Chart + r.Portfolio
}

// InvalidateSymbol drops everything cached for symbol from every cache.
func (c *Coordinator) InvalidateSymbol(ctx context.Context, symbol string) InvalidationReport {
	_, span := c.tracer.Start(ctx, "Coordinator.InvalidateSymbol", trace.WithAttributes(attribute.String("symbol", symbol)))
	defer span.End()

	report := InvalidationReport{
		Price:     c.prices.InvalidateSymbol(symbol),
		Chart:     c.charts.InvalidateSymbol(symbol),
		Portfolio: c.portfolios.InvalidatePrice(symbol),
	}
	span.SetAttributes(attribute.Int("removed", report.Total()))
	c.logger.Info("Invalidated symbol",
		zap.String("symbol", symbol),
		zap.Int("price", report.Price),
		zap.Int("chart", report.Chart),
		zap.Int("portfolio", report.Portfolio))
	return report
}

// InvalidatePortfolio drops a portfolio, its holdings, calculations and charts.
func (c *Coordinator) InvalidatePortfolio(ctx context.Context, userID, portfolioID string) InvalidationReport {
	_, span := c.tracer.Start(ctx, "Coordinator.InvalidatePortfolio", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.String("portfolio_id", portfolioID),
	))
	defer span.End()

	report := InvalidationReport{
		Portfolio: c.portfolios.InvalidatePortfolio(portfolioID),
		Chart:     c.charts.InvalidatePortfolio(portfolioID),
	}
	span.SetAttributes(attribute.Int("removed", report.Total()))
	c.logger.Info("Invalidated portfolio",
		zap.String("user_id", userID),
		zap.String("portfolio_id", portfolioID),
		zap.Int("portfolio", report.Portfolio),
		zap.Int("chart", report.Chart))
	return report
}

// Stats is a snapshot of every cache.
type Stats struct {
	Price          price.Stats     `json:"price"`
	Chart          chart.Stats     `json:"chart"`
	Portfolio      portfolio.Stats `json:"portfolio"`
	MemoryEstimate int64           `json:"memory_estimate"`
}

// Stats returns the stats of every cache and their combined memory estimate.
func (c *Coordinator) Stats() Stats {
	s := Stats{
		Price:     c.prices.Stats(),
		Chart:     c.charts.Stats(),
		Portfolio: c.portfolios.Stats(),
	}
	s.MemoryEstimate = s.Price.MemoryEstimate + s.Chart.MemoryEstimate() + s.Portfolio.MemoryEstimate
	return s
}
