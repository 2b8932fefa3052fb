package folio

import (
	"context"

	"goflare.io/folio/internal/cache/multi"
	"goflare.io/folio/internal/cache/price"
	"goflare.io/folio/internal/models"
)

// Service is the read and invalidation surface that UI bindings wrap.
type Service interface {
	GetPrice(ctx context.Context, symbol string) (models.PriceData, bool)
	GetPrices(ctx context.Context, symbols []string) map[string]models.PriceData
	GetHistoricalPrices(ctx context.Context, symbol, period, interval string) ([]models.HistoricalPrice, bool)
	GetHistoricalPricesBatch(ctx context.Context, symbols []string, period, interval string) price.HistoryBatch
	GetMarketData(ctx context.Context, symbol string) (models.MarketData, bool)
	SubscribeToPrice(symbol string, listener func(models.PriceData)) func()

	GetChartData(ctx context.Context, symbol string, cfg models.ChartConfig) (models.ChartData, bool)
	GetPortfolioChartData(ctx context.Context, portfolioID string, cfg models.ChartConfig) (models.ChartData, bool)
	GetComparisonChartData(ctx context.Context, symbols []string, cfg models.ChartConfig) (models.ChartData, bool)

	GetPortfolio(id string) (models.Portfolio, bool)
	GetHoldings(portfolioID string) ([]models.Holding, bool)
	GetMetrics(portfolioID string) (models.PortfolioMetrics, bool)
	GetAllocation(portfolioID, allocationType string) (models.Allocation, bool)
	GetPerformance(portfolioID, period string) (models.Performance, bool)

	InvalidateSymbol(ctx context.Context, symbol string) multi.InvalidationReport
	InvalidatePortfolio(ctx context.Context, userID, portfolioID string) multi.InvalidationReport
	PreloadUserData(ctx context.Context, userID string, portfolioIDs []string) multi.PreloadReport
	HealthCheck() multi.Health
}

var _ Service = (*Folio)(nil)
