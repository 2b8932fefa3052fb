package price

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/utils"
)

// Wednesday 10:00 New York time.
var marketOpen = time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu         sync.Mutex
	prices     map[string]string
	fail       error
	quoteCalls atomic.Int32
	histCalls  atomic.Int32
	requested  [][]string
	gate       chan struct{}
	extra      []models.QuoteRow
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{prices: map[string]string{"AAPL": "190.50", "MSFT": "410.00"}}
}

func (f *fakeFetcher) FetchQuotes(_ context.Context, symbols []string) ([]models.QuoteRow, error) {
	f.quoteCalls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requested = append(f.requested, append([]string(nil), symbols...))
	if f.fail != nil {
		return nil, f.fail
	}
	var rows []models.QuoteRow
	for _, s := range symbols {
		if p, ok := f.prices[s]; ok {
			rows = append(rows, models.QuoteRow{
				Symbol:        s,
				Price:         decimal.RequireFromString(p),
				PreviousClose: decimal.NewFromInt(180),
				Volume:        1000,
			})
		}
	}
	return append(rows, f.extra...), nil
}

func (f *fakeFetcher) FetchHistory(_ context.Context, symbol, _, _ string) ([]models.HistoricalPrice, error) {
	f.histCalls.Add(1)
	if symbol == "FAIL" {
		return nil, errors.New("history unavailable")
	}
	return []models.HistoricalPrice{{Symbol: symbol, Close: decimal.NewFromInt(1)}}, nil
}

func (f *fakeFetcher) FetchMarketData(_ context.Context, symbol string) (models.MarketData, error) {
	return models.MarketData{Symbol: symbol, Name: symbol + " Inc."}, nil
}

func (f *fakeFetcher) setFail(err error) {
	f.mu.Lock()
	f.fail = err
	f.mu.Unlock()
}

func newTestCache(t *testing.T, f Fetcher) (*Cache, *utils.ManualClock) {
	t.Helper()
	clock := utils.NewManualClock(marketOpen)
	c, err := New(config.Default().Price, f, WithClock(clock))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(c.Close)
	return c, clock
}

func TestMarketHours(t *testing.T) {
	hours, err := NewMarketHours("America/New_York", 15*time.Second, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ny, _ := time.LoadLocation("America/New_York")
	testCases := []struct {
		name string
		at   time.Time
		open bool
	}{
		{"wednesday mid-morning", time.Date(2025, 3, 5, 10, 0, 0, 0, ny), true},
		{"opening bell", time.Date(2025, 3, 5, 9, 30, 0, 0, ny), true},
		{"before open", time.Date(2025, 3, 5, 9, 29, 0, 0, ny), false},
		{"closing bell", time.Date(2025, 3, 5, 16, 0, 0, 0, ny), false},
		{"saturday", time.Date(2025, 3, 8, 11, 0, 0, 0, ny), false},
		{"summer time in utc", time.Date(2025, 7, 9, 13, 45, 0, 0, time.UTC), true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := hours.IsOpen(tc.at); got != tc.open {
				t.Errorf("IsOpen(%v) = %v, want %v", tc.at, got, tc.open)
			}
			want := time.Minute
			if tc.open {
				want = 15 * time.Second
			}
			if got := hours.QuoteTTL(tc.at); got != want {
				t.Errorf("QuoteTTL() = %v, want %v", got, want)
			}
		})
	}
}

func TestGetPriceUsesRealTimeTTLWhileOpen(t *testing.T) {
	f := newFakeFetcher()
	c, clock := newTestCache(t, f)

	data, ok := c.GetPrice(context.Background(), "aapl")
	if !ok {
		t.Fatal("GetPrice() should fetch on miss")
	}
	if !data.Change.Equal(decimal.RequireFromString("10.5")) {
		t.Errorf("change = %s", data.Change)
	}

	clock.Advance(10 * time.Second)
	c.GetPrice(context.Background(), "AAPL")
	if f.quoteCalls.Load() != 1 {
		t.Errorf("fetches = %d, want 1 within ttl", f.quoteCalls.Load())
	}

	clock.Advance(6 * time.Second)
	c.GetPrice(context.Background(), "AAPL")
	if f.quoteCalls.Load() != 2 {
		t.Errorf("fetches = %d, want 2 after the 15s ttl", f.quoteCalls.Load())
	}
}

func TestGetPriceNoNegativeCaching(t *testing.T) {
	f := newFakeFetcher()
	c, _ := newTestCache(t, f)
	f.setFail(errors.New("upstream down"))

	if _, ok := c.GetPrice(context.Background(), "AAPL"); ok {
		t.Fatal("GetPrice() should fail when the fetch fails")
	}
	if _, ok := c.quotes.Peek(quoteKey("AAPL")); ok {
		t.Fatal("a failed fetch must not be cached")
	}

	f.setFail(nil)
	if _, ok := c.GetPrice(context.Background(), "AAPL"); !ok {
		t.Error("a later successful fetch should populate the cache")
	}
}

func TestGetPriceUnknownSymbol(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher())
	if _, ok := c.GetPrice(context.Background(), "NOPE"); ok {
		t.Error("unknown symbol should miss")
	}
	if c.Stats().Pending != 1 {
		t.Errorf("pending = %d, want the missed symbol queued", c.Stats().Pending)
	}
}

func TestGetPriceCoalescesConcurrentMisses(t *testing.T) {
	f := newFakeFetcher()
	f.gate = make(chan struct{})
	c, _ := newTestCache(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.GetPrice(context.Background(), "AAPL")
		}()
	}
	for f.quoteCalls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(f.gate)
	wg.Wait()

	if n := f.quoteCalls.Load(); n != 1 {
		t.Errorf("fetches = %d, want 1", n)
	}
}

func TestGetPricesPartialResults(t *testing.T) {
	f := newFakeFetcher()
	c, _ := newTestCache(t, f)
	c.GetPrice(context.Background(), "AAPL")

	got := c.GetPrices(context.Background(), []string{"AAPL", "MSFT", "NOPE", "msft"})
	if len(got) != 2 {
		t.Fatalf("GetPrices() = %v, want AAPL and MSFT", got)
	}
	last := f.requested[len(f.requested)-1]
	if len(last) != 2 || last[0] != "MSFT" || last[1] != "NOPE" {
		t.Errorf("batched misses = %v", last)
	}
}

func TestHistoricalPricesBatch(t *testing.T) {
	f := newFakeFetcher()
	c, clock := newTestCache(t, f)

	batch := c.GetHistoricalPricesBatch(context.Background(), []string{"AAPL", "FAIL", "MSFT"}, "1y", "1d")
	if len(batch.Data) != 2 || len(batch.Errors) != 1 || batch.Errors["FAIL"] == nil {
		t.Fatalf("batch = %+v", batch)
	}

	c.GetHistoricalPrices(context.Background(), "AAPL", "1y", "1d")
	if f.histCalls.Load() != 3 {
		t.Errorf("history fetches = %d, want cached AAPL", f.histCalls.Load())
	}

	clock.Advance(5*time.Minute + time.Second)
	c.GetHistoricalPrices(context.Background(), "AAPL", "1y", "1d")
	if f.histCalls.Load() != 4 {
		t.Errorf("history should expire after 5 minutes, fetches = %d", f.histCalls.Load())
	}
}

func TestSubscribeDeliversCachedAndUpdates(t *testing.T) {
	f := newFakeFetcher()
	c, clock := newTestCache(t, f)
	c.GetPrice(context.Background(), "AAPL")
	c.queue.Drain()

	var mu sync.Mutex
	var got []string
	unsubscribe := c.SubscribeToPrice("AAPL", func(d models.PriceData) {
		mu.Lock()
		got = append(got, d.Price.String())
		mu.Unlock()
	})
	if len(got) != 1 {
		t.Fatalf("cached quote should be delivered immediately, got %v", got)
	}

	// a plain GetPrice never publishes
	clock.Advance(20 * time.Second)
	c.GetPrice(context.Background(), "AAPL")
	if len(got) != 1 {
		t.Errorf("GetPrice() must not publish, got %v", got)
	}

	clock.Advance(20 * time.Second)
	if !c.ProcessUpdateQueue(context.Background()) {
		t.Fatal("ProcessUpdateQueue() should run")
	}
	if len(got) != 2 {
		t.Errorf("update pass should publish to the subscriber, got %v", got)
	}

	unsubscribe()
	unsubscribe()
	if c.Stats().Subscribers != 0 {
		t.Errorf("subscribers = %d after unsubscribe", c.Stats().Subscribers)
	}
	if len(c.subs.symbols()) != 0 {
		t.Error("empty listener sets must be removed")
	}
}

func TestUnsubscribeIsIdempotentAndIsolated(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher())
	var a, b, m atomic.Int32
	unA := c.SubscribeToPrice("AAPL", func(models.PriceData) { a.Add(1) })
	c.SubscribeToPrice("AAPL", func(models.PriceData) { b.Add(1) })
	c.SubscribeToPrice("MSFT", func(models.PriceData) { m.Add(1) })

	unA()
	unA()
	if c.Stats().Subscribers != 2 {
		t.Fatalf("subscribers = %d, want 2", c.Stats().Subscribers)
	}

	c.ProcessUpdateQueue(context.Background())
	if a.Load() != 0 || b.Load() != 1 || m.Load() != 1 {
		t.Errorf("notifications a=%d b=%d m=%d", a.Load(), b.Load(), m.Load())
	}
}

func TestProcessUpdateQueueBatchesAndRequeuesOnFailure(t *testing.T) {
	f := newFakeFetcher()
	c, _ := newTestCache(t, f)
	c.SubscribeToPrice("MSFT", func(models.PriceData) {})
	c.SubscribeToPrice("AAPL", func(models.PriceData) {})

	f.setFail(errors.New("timeout"))
	c.ProcessUpdateQueue(context.Background())
	if c.Stats().Pending != 2 {
		t.Fatalf("pending = %d, failed symbols should be queued again", c.Stats().Pending)
	}

	f.setFail(nil)
	c.ProcessUpdateQueue(context.Background())
	last := append([]string(nil), f.requested[len(f.requested)-1]...)
	sort.Strings(last)
	if len(last) != 2 || last[0] != "AAPL" {
		t.Errorf("consolidated fetch = %v", last)
	}
	if c.Stats().Pending != 0 {
		t.Errorf("pending = %d after success", c.Stats().Pending)
	}
}

func TestProcessUpdateQueueKeepsOnlyRequestedRows(t *testing.T) {
	f := newFakeFetcher()
	f.extra = []models.QuoteRow{{Symbol: "tsla", Price: decimal.NewFromInt(250)}}
	c, _ := newTestCache(t, f)

	var aapl atomic.Int32
	c.SubscribeToPrice("AAPL", func(models.PriceData) { aapl.Add(1) })
	c.SubscribeToPrice("NOPE", func(models.PriceData) {})

	c.ProcessUpdateQueue(context.Background())
	if aapl.Load() != 1 {
		t.Errorf("AAPL notifications = %d, want 1", aapl.Load())
	}
	if _, ok := c.quotes.Peek(quoteKey("TSLA")); ok {
		t.Error("a row nobody asked for must not be cached")
	}
	if c.Stats().Pending != 1 {
		t.Errorf("pending = %d, the symbol the batch left out should be queued again", c.Stats().Pending)
	}
	last := f.requested[len(f.requested)-1]
	if len(last) != 2 {
		t.Errorf("requested = %v, want AAPL and NOPE", last)
	}
}

func TestInvalidateMarketDataLeavesCountersAlone(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher())
	c.GetMarketData(context.Background(), "AAPL")
	before := c.Stats().MarketData

	if n := c.InvalidateMarketData("AAPL"); n != 1 {
		t.Errorf("InvalidateMarketData() = %d, want 1", n)
	}
	if n := c.InvalidateMarketData("AAPL"); n != 0 {
		t.Errorf("second InvalidateMarketData() = %d, want 0", n)
	}
	after := c.Stats().MarketData
	if after.Hits != before.Hits || after.Misses != before.Misses {
		t.Errorf("market counters moved from %+v to %+v", before, after)
	}
}

func TestInvalidationIsPerSymbol(t *testing.T) {
	c, _ := newTestCache(t, newFakeFetcher())
	ctx := context.Background()
	c.GetPrices(ctx, []string{"AAPL", "MSFT"})
	c.GetHistoricalPrices(ctx, "AAPL", "1y", "1d")
	c.GetHistoricalPrices(ctx, "AAPL", "5d", "1h")
	c.GetHistoricalPrices(ctx, "MSFT", "1y", "1d")
	c.GetMarketData(ctx, "AAPL")

	if n := c.InvalidateHistoricalPrices("AAPL"); n != 2 {
		t.Errorf("InvalidateHistoricalPrices() = %d, want 2", n)
	}
	if n := c.InvalidateSymbol("AAPL"); n != 2 {
		t.Errorf("InvalidateSymbol() = %d, want quote and market data", n)
	}
	if _, ok := c.quotes.Peek(quoteKey("MSFT")); !ok {
		t.Error("MSFT quote must survive")
	}
	if c.history.Len() != 1 {
		t.Errorf("history len = %d, want MSFT only", c.history.Len())
	}
}

func TestNoFetcher(t *testing.T) {
	c, _ := newTestCache(t, nil)
	if _, ok := c.GetPrice(context.Background(), "AAPL"); ok {
		t.Error("GetPrice() without fetcher should miss")
	}
	if _, ok := c.GetMarketData(context.Background(), "AAPL"); ok {
		t.Error("GetMarketData() without fetcher should miss")
	}
	if len(c.Jobs()) != 3 {
		t.Errorf("jobs = %d", len(c.Jobs()))
	}
}
