package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestIsExpired(t *testing.T) {
	start := time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)
	ttl := 15 * time.Second

	testCases := []struct {
		name    string
		elapsed time.Duration
		want    bool
	}{
		{"fresh", 0, false},
		{"within ttl", 10 * time.Second, false},
		{"exactly ttl", ttl, false},
		{"past ttl", 16 * time.Second, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsExpired(start, ttl, start.Add(tc.elapsed)); got != tc.want {
				t.Errorf("IsExpired(+%v) = %v, want %v", tc.elapsed, got, tc.want)
			}
		})
	}
}

func TestEntryAccess(t *testing.T) {
	now := time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)
	e := NewEntry("v", now, time.Minute, SymbolTag("AAPL"))

	if e.AccessCount.Load() != 0 {
		t.Errorf("new entry access count = %d, want 0", e.AccessCount.Load())
	}
	if !e.LastAccessed.Load().Equal(now) {
		t.Errorf("new entry last accessed = %v, want %v", e.LastAccessed.Load(), now)
	}

	later := now.Add(5 * time.Second)
	e.IncrementAccess(later)
	if e.AccessCount.Load() != 1 || !e.LastAccessed.Load().Equal(later) {
		t.Errorf("after access: count=%d last=%v", e.AccessCount.Load(), e.LastAccessed.Load())
	}

	if !e.HasTag(SymbolTag("AAPL")) || e.HasTag(SymbolTag("AAP")) {
		t.Error("HasTag should match exactly")
	}

	c := e.WithData("w")
	if c.Data != "w" || c.AccessCount != e.AccessCount || !c.Timestamp.Equal(e.Timestamp) {
		t.Error("WithData should keep timestamp and access stats")
	}
}

func TestTagSymbol(t *testing.T) {
	if s, ok := SymbolTag("MSFT").Symbol(); !ok || s != "MSFT" {
		t.Errorf("Symbol() = %q, %v", s, ok)
	}
	if _, ok := PortfolioTag("p1").Symbol(); ok {
		t.Error("portfolio tag should not carry a symbol")
	}
}

func TestNewPriceData(t *testing.T) {
	row := QuoteRow{
		Symbol:        "AAPL",
		Price:         decimal.RequireFromString("190.50"),
		PreviousClose: decimal.RequireFromString("180.00"),
		Volume:        1000,
	}
	p := NewPriceData(row)
	if !p.Change.Equal(decimal.RequireFromString("10.50")) {
		t.Errorf("change = %s, want 10.50", p.Change)
	}
	if !p.ChangePercent.Equal(decimal.RequireFromString("5.8333")) {
		t.Errorf("change percent = %s, want 5.8333", p.ChangePercent)
	}

	row.PreviousClose = decimal.Zero
	if p := NewPriceData(row); !p.ChangePercent.IsZero() {
		t.Errorf("change percent with zero previous close = %s, want 0", p.ChangePercent)
	}
}

func TestComputeMetadata(t *testing.T) {
	now := time.Now()
	points := []ChartDataPoint{{Value: 3}, {Value: 1}, {Value: 5}, {Value: 3}}
	meta := ComputeMetadata(points, now)
	if meta.Count != 4 || meta.Min != 1 || meta.Max != 5 || meta.Average != 3 {
		t.Errorf("metadata = %+v", meta)
	}
	if empty := ComputeMetadata(nil, now); empty.Count != 0 || empty.Average != 0 {
		t.Errorf("empty metadata = %+v", empty)
	}
}

func TestPeriodDuration(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	testCases := []struct {
		period    string
		want      time.Duration
		expectErr bool
	}{
		{"1d", 24 * time.Hour, false},
		{"5d", 5 * 24 * time.Hour, false},
		{"3mo", 90 * 24 * time.Hour, false},
		{"1y", 365 * 24 * time.Hour, false},
		{"2w", 14 * 24 * time.Hour, false},
		{"ytd", 59 * 24 * time.Hour, false},
		{"", 0, true},
		{"y", 0, true},
		{"3q", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.period, func(t *testing.T) {
			got, err := PeriodDuration(tc.period, now)
			if (err != nil) != tc.expectErr {
				t.Fatalf("PeriodDuration(%q) error = %v, want error: %v", tc.period, err, tc.expectErr)
			}
			if got != tc.want {
				t.Errorf("PeriodDuration(%q) = %v, want %v", tc.period, got, tc.want)
			}
		})
	}
}

func TestChartConfigParams(t *testing.T) {
	cfg := ChartConfig{Type: "line", Period: "1y", Interval: "1d"}
	params := cfg.Params()
	if _, ok := params["indicators"]; ok {
		t.Error("empty indicators should be omitted")
	}
	cfg.Indicators = []string{"sma"}
	if _, ok := cfg.Params()["indicators"]; !ok {
		t.Error("indicators should be present")
	}
}
