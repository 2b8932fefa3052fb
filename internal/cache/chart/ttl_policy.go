package chart

import (
	"strings"
	"time"

	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/models"
)

// TTLForConfig picks a freshness tier from the chart's interval and period strings.
// The first matching rule wins:
//
//	interval contains "1m" or "minute" -> real-time
//	period contains "1d" or "day"      -> intraday
//	period contains "1y" or "year"     -> daily
//	otherwise                          -> long-term
//
// Matching is plain substring search, so "1mo" also selects the real-time tier.
func TTLForConfig(tiers config.ChartConfig, chart models.ChartConfig) time.Duration {
	switch {
	case strings.Contains(chart.Interval, "1m") || strings.Contains(chart.Interval, "minute"):
		return tiers.RealTimeTTL
	case strings.Contains(chart.Period, "1d") || strings.Contains(chart.Period, "day"):
		return tiers.IntradayTTL
	case strings.Contains(chart.Period, "1y") || strings.Contains(chart.Period, "year"):
		return tiers.DailyTTL
	default:
		return tiers.LongTermTTL
	}
}
