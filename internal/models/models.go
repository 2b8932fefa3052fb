package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// 定義常見錯誤
var (
	ErrNoFetcher         = errors.New("no fetcher configured")
	ErrSymbolNotFound    = errors.New("symbol not found upstream")
	ErrPortfolioNotFound = errors.New("portfolio not found upstream")
)

// QuoteRow is a raw quote as returned by a price fetcher.
type QuoteRow struct {
	Symbol        string           `json:"symbol"`
	Price         decimal.Decimal  `json:"price"`
	PreviousClose decimal.Decimal  `json:"previous_close"`
	Volume        int64            `json:"volume"`
	MarketCap     *decimal.Decimal `json:"market_cap,omitempty"`
	PE            *decimal.Decimal `json:"pe,omitempty"`
	Dividend      *decimal.Decimal `json:"dividend,omitempty"`
	Time          time.Time        `json:"time"`
}

// PriceData is a cached quote.
type PriceData struct {
	Symbol        string           `json:"symbol"`
	Price         decimal.Decimal  `json:"price"`
	Change        decimal.Decimal  `json:"change"`
	ChangePercent decimal.Decimal  `json:"change_percent"`
	Volume        int64            `json:"volume"`
	MarketCap     *decimal.Decimal `json:"market_cap,omitempty"`
	PE            *decimal.Decimal `json:"pe,omitempty"`
	Dividend      *decimal.Decimal `json:"dividend,omitempty"`
	Timestamp     time.Time        `json:"timestamp"`
}

var hundred = decimal.NewFromInt(100)

// NewPriceData derives change and change percent from the previous close.
func NewPriceData(row QuoteRow) PriceData {
	change := row.Price.Sub(row.PreviousClose)
	changePercent := decimal.Zero
	if !row.PreviousClose.IsZero() {
		changePercent = change.Div(row.PreviousClose).Mul(hundred).Round(4)
	}
	return PriceData{
		Symbol:        row.Symbol,
		Price:         row.Price,
		Change:        change,
		ChangePercent: changePercent,
		Volume:        row.Volume,
		MarketCap:     row.MarketCap,
		PE:            row.PE,
		Dividend:      row.Dividend,
		Timestamp:     row.Time,
	}
}

// HistoricalPrice is one OHLCV bar.
type HistoricalPrice struct {
	Symbol string          `json:"symbol"`
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// MarketData is slow-moving metadata about a listed symbol.
type MarketData struct {
	Symbol    string    `json:"symbol"`
	Name      string    `json:"name"`
	Sector    string    `json:"sector"`
	Industry  string    `json:"industry"`
	Exchange  string    `json:"exchange"`
	Currency  string    `json:"currency"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChartConfig describes a requested chart.
type ChartConfig struct {
	Type        string   `json:"type"`
	Period      string   `json:"period"`
	Interval    string   `json:"interval"`
	Indicators  []string `json:"indicators,omitempty"`
	Comparisons []string `json:"comparisons,omitempty"`
}

// Params returns the config as a parameter record for key generation.
func (c ChartConfig) Params() map[string]any {
	params := map[string]any{
		"type":     c.Type,
		"period":   c.Period,
		"interval": c.Interval,
	}
	if len(c.Indicators) > 0 {
		params["indicators"] = c.Indicators
	}
	if len(c.Comparisons) > 0 {
		params["comparisons"] = c.Comparisons
	}
	return params
}

// SeriesRow is a raw time-series row as returned by a chart fetcher.
type SeriesRow struct {
	Symbol string
	Time   time.Time
	Value  float64
}

// ChartDataPoint is one point of a chart. Symbol is set on comparison charts only.
type ChartDataPoint struct {
	Date      string  `json:"date"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Symbol    string  `json:"symbol,omitempty"`
}

// ChartMetadata summarizes the points of a chart.
type ChartMetadata struct {
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Average     float64   `json:"average"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// ChartData is a cached chart series. Metadata is always derived from Data.
type ChartData struct {
	ID       string           `json:"id"`
	Config   ChartConfig      `json:"config"`
	Data     []ChartDataPoint `json:"data"`
	Metadata ChartMetadata    `json:"metadata"`
}

// ComputeMetadata derives min, max, average and count from points.
func ComputeMetadata(points []ChartDataPoint, now time.Time) ChartMetadata {
	meta := ChartMetadata{Count: len(points), LastUpdated: now}
	if len(points) == 0 {
		return meta
	}
	meta.Min, meta.Max = points[0].Value, points[0].Value
	var sum float64
	for _, p := range points {
		if p.Value < meta.Min {
			meta.Min = p.Value
		}
		if p.Value > meta.Max {
			meta.Max = p.Value
		}
		sum += p.Value
	}
	meta.Average = sum / float64(len(points))
	return meta
}

// Portfolio is the header record of a user's portfolio.
type Portfolio struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Name     string `json:"name"`
	Currency string `json:"currency"`
}

// Holding is a position of a portfolio in one symbol.
type Holding struct {
	PortfolioID string          `json:"portfolio_id"`
	Symbol      string          `json:"symbol"`
	Quantity    decimal.Decimal `json:"quantity"`
	CostBasis   decimal.Decimal `json:"cost_basis"`
}

// PortfolioMetrics are the computed totals of a portfolio.
type PortfolioMetrics struct {
	PortfolioID string          `json:"portfolio_id"`
	TotalValue  decimal.Decimal `json:"total_value"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Gain        decimal.Decimal `json:"gain"`
	GainPercent decimal.Decimal `json:"gain_percent"`
}

// AllocationSlice is one labelled share of an Allocation.
type AllocationSlice struct {
	Label  string          `json:"label"`
	Value  decimal.Decimal `json:"value"`
	Weight decimal.Decimal `json:"weight"`
}

// Allocation breaks a portfolio down by Type (sector, asset class, ...).
type Allocation struct {
	PortfolioID string            `json:"portfolio_id"`
	Type        string            `json:"type"`
	Slices      []AllocationSlice `json:"slices"`
}

// Performance is the value series and return of a portfolio over Period.
type Performance struct {
	PortfolioID string           `json:"portfolio_id"`
	Period      string           `json:"period"`
	Points      []ChartDataPoint `json:"points"`
	Return      decimal.Decimal  `json:"return"`
}
