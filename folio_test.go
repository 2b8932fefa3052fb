package folio

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"goflare.io/folio/internal/cache/multi"
	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/utils"
)

// Wednesday 10:00 in New York.
var epoch = time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)

type staticUpstream struct {
	quotes int
}

func (s *staticUpstream) FetchQuotes(_ context.Context, symbols []string) ([]models.QuoteRow, error) {
	s.quotes++
	rows := make([]models.QuoteRow, 0, len(symbols))
	for _, sym := range symbols {
		rows = append(rows, models.QuoteRow{Symbol: sym, Price: decimal.NewFromInt(190), PreviousClose: decimal.NewFromInt(188), Time: epoch})
	}
	return rows, nil
}

func (s *staticUpstream) FetchHistory(_ context.Context, symbol, _, _ string) ([]models.HistoricalPrice, error) {
	return []models.HistoricalPrice{{Symbol: symbol, Time: epoch, Close: decimal.NewFromInt(1)}}, nil
}

func (s *staticUpstream) FetchMarketData(_ context.Context, symbol string) (models.MarketData, error) {
	return models.MarketData{Symbol: symbol, Exchange: "NASDAQ"}, nil
}

func (s *staticUpstream) FetchSymbolSeries(_ context.Context, symbol string, _ models.ChartConfig) ([]models.SeriesRow, error) {
	return []models.SeriesRow{{Symbol: symbol, Time: epoch, Value: 1}, {Symbol: symbol, Time: epoch.Add(time.Hour), Value: 2}}, nil
}

func (s *staticUpstream) FetchPortfolioSeries(context.Context, string, models.ChartConfig) ([]models.SeriesRow, error) {
	return []models.SeriesRow{{Time: epoch, Value: 1000}}, nil
}

func (s *staticUpstream) FetchComparisonSeries(_ context.Context, symbols []string, _ models.ChartConfig) ([]models.SeriesRow, error) {
	rows := make([]models.SeriesRow, 0, len(symbols))
	for _, sym := range symbols {
		rows = append(rows, models.SeriesRow{Symbol: sym, Time: epoch, Value: 1})
	}
	return rows, nil
}

func (s *staticUpstream) FetchPortfolio(_ context.Context, id string) (models.Portfolio, error) {
	return models.Portfolio{ID: id, UserID: "u1", Name: "Main"}, nil
}

func (s *staticUpstream) FetchHoldings(_ context.Context, id string) ([]models.Holding, error) {
	return []models.Holding{{PortfolioID: id, Symbol: "AAPL", Quantity: decimal.NewFromInt(10)}}, nil
}

func newTestFolio(t *testing.T, opts ...Option) (*Folio, *staticUpstream, *utils.ManualClock) {
	t.Helper()
	up := &staticUpstream{}
	clock := utils.NewManualClock(epoch)
	f, err := New(Fetchers{Price: up, Chart: up, Portfolio: up}, append([]Option{WithClock(clock), WithLogger(zap.NewNop())}, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = f.Close() })
	return f, up, clock
}

func TestNewRejectsInvalidOption(t *testing.T) {
	_, err := New(Fetchers{}, WithMemoryCeiling(0))
	if err == nil {
		t.Fatal("New() with zero memory ceiling should fail")
	}
	if _, err := New(Fetchers{}, WithSerialization("xml")); err == nil {
		t.Fatal("New() with unknown serialization should fail")
	}
}

func TestFolioPriceFlow(t *testing.T) {
	reg := prometheus.NewRegistry()
	f, up, clock := newTestFolio(t, WithRegisterer(reg))
	ctx := context.Background()

	if !f.IsMarketOpen() {
		t.Fatal("market should be open at epoch")
	}
	p, ok := f.GetPrice(ctx, "aapl")
	if !ok || p.Symbol != "AAPL" {
		t.Fatalf("GetPrice() = %+v, %v", p, ok)
	}
	if _, ok := f.GetPrice(ctx, "AAPL"); !ok || up.quotes != 1 {
		t.Errorf("second GetPrice() should hit the cache, fetches = %d", up.quotes)
	}

	clock.Advance(16 * time.Second)
	if _, ok := f.GetPrice(ctx, "AAPL"); !ok || up.quotes != 2 {
		t.Errorf("expired quote should be refetched, fetches = %d", up.quotes)
	}

	if n, err := testutil.GatherAndCount(reg, "folio_cache_hits_total"); err != nil || n == 0 {
		t.Errorf("hits metric not exported: n=%d err=%v", n, err)
	}
}

func TestFolioSubscribeAndInvalidate(t *testing.T) {
	f, _, _ := newTestFolio(t)
	ctx := context.Background()

	got := make(chan models.PriceData, 4)
	unsubscribe := f.SubscribeToPrice("MSFT", func(p models.PriceData) { got <- p })
	defer unsubscribe()

	if !f.ProcessUpdateQueue(ctx) {
		t.Fatal("ProcessUpdateQueue() did not run")
	}
	select {
	case p := <-got:
		if p.Symbol != "MSFT" {
			t.Errorf("listener got %s", p.Symbol)
		}
	case <-time.After(time.Second):
		t.Fatal("listener was not notified")
	}

	daily := models.ChartConfig{Type: "line", Period: "1y", Interval: "1d"}
	if _, ok := f.GetChartData(ctx, "MSFT", daily); !ok {
		t.Fatal("GetChartData() missed")
	}
	report := f.InvalidateSymbol(ctx, "MSFT")
	if report.Price == 0 || report.Chart != 1 {
		t.Errorf("InvalidateSymbol() = %+v", report)
	}
}

func TestFolioPreloadAndHealth(t *testing.T) {
	f, _, _ := newTestFolio(t)
	ctx := context.Background()

	report := f.PreloadUserData(ctx, "u1", []string{"p1"})
	if err := report.Err(); err != nil {
		t.Fatalf("PreloadUserData() error = %v", err)
	}
	if len(report.Portfolios) != 1 || len(report.Symbols) != 1 {
		t.Errorf("report = %+v", report)
	}
	if _, ok := f.GetHoldings("p1"); !ok {
		t.Error("holdings should be cached after preload")
	}

	h := f.HealthCheck()
	if h.Status != multi.StatusHealthy {
		t.Errorf("HealthCheck() = %s", h.Status)
	}

	f.Clear()
	if s := f.Stats(); s.Chart.Entries != 0 || s.Portfolio.Portfolios.Entries != 0 {
		t.Errorf("stats after Clear() = %+v", s)
	}
}

func TestFolioStart(t *testing.T) {
	f, _, _ := newTestFolio(t)

	done := f.Start(context.Background())
	select {
	case err := <-f.Start(context.Background()):
		if !errors.Is(err, ErrAlreadyStarted) {
			t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
		}
	case <-time.After(time.Second):
		t.Fatal("second Start() did not report")
	}

	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop after Close()")
	}
}

func TestNewFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "folio.yaml")
	yaml := "memory_ceiling: 1024\nprice:\n  real_time_ttl: 5s\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := NewFromFile(Fetchers{}, path, WithLogger(zap.NewNop()))
	if err != nil {
		t.Fatalf("NewFromFile() error = %v", err)
	}
	defer f.Close()
	if f.cfg.MemoryCeiling != 1024 || f.cfg.Price.RealTimeTTL != 5*time.Second {
		t.Errorf("config = %+v", f.cfg)
	}

	if _, err := NewFromFile(Fetchers{}, filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("NewFromFile() with a missing file should fail")
	}
}

func TestNewWithConfigValidates(t *testing.T) {
	cfg := config.Default()
	cfg.Chart.CompressionTarget = cfg.Chart.CompressionThreshold + 1
	if _, err := NewWithConfig(Fetchers{}, cfg); !errors.Is(err, config.ErrInvalidConfig) {
		t.Errorf("NewWithConfig() = %v, want ErrInvalidConfig", err)
	}
}
