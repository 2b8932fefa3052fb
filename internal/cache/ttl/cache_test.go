package ttl

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/utils"
)

var epoch = time.Date(2025, 3, 5, 15, 0, 0, 0, time.UTC)

func newTestCache(defaultTTL time.Duration) (*Cache[string], *utils.ManualClock) {
	clock := utils.NewManualClock(epoch)
	return New[string]("test", defaultTTL, WithClock(clock)), clock
}

func TestCacheExpiryScenario(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	key := "price:symbol:AAPL"
	c.Set(key, "190.5", 15*time.Second)

	clock.Advance(10 * time.Second)
	if v, ok := c.Get(key); !ok || v != "190.5" {
		t.Fatalf("Get() at t=10s = %q, %v; want hit", v, ok)
	}

	clock.Advance(6 * time.Second)
	if _, ok := c.Get(key); ok {
		t.Fatal("Get() at t=16s should miss")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be removed on read, len = %d", c.Len())
	}
	if c.Has(key) {
		t.Error("Has() after expiry should be false")
	}
}

func TestCacheDefaultTTL(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("k", "v")
	clock.Advance(time.Minute)
	if !c.Has("k") {
		t.Error("entry should still be live exactly at its ttl")
	}
	clock.Advance(time.Millisecond)
	if c.Has("k") {
		t.Error("entry should be dead past its default ttl")
	}
}

func TestCacheOverwriteResetsEntry(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("k", "old", 10*time.Second)
	clock.Advance(8 * time.Second)
	c.Set("k", "new", 10*time.Second)
	clock.Advance(8 * time.Second)

	if v, ok := c.Get("k"); !ok || v != "new" {
		t.Errorf("Get() = %q, %v; want new", v, ok)
	}
}

func TestCacheAccessStatsOnlyOnHits(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("k", "v")
	c.Set("k", "v2")

	var entry *models.Entry[string]
	c.Range(func(_ string, e *models.Entry[string]) bool {
		entry = e
		return false
	})
	if entry.AccessCount.Load() != 0 {
		t.Errorf("writes must not count as accesses, got %d", entry.AccessCount.Load())
	}

	clock.Advance(time.Second)
	c.Get("k")
	c.Get("k")
	c.Peek("k")
	if entry.AccessCount.Load() != 2 {
		t.Errorf("access count = %d, want 2", entry.AccessCount.Load())
	}
	if !entry.LastAccessed.Load().Equal(epoch.Add(time.Second)) {
		t.Errorf("last accessed = %v", entry.LastAccessed.Load())
	}

	stats := c.Stats()
	c.Get("missing")
	if after := c.Stats(); after.Misses != stats.Misses+1 || after.Hits != 2 {
		t.Errorf("stats = %+v", after)
	}
}

func TestCacheDeleteAndClear(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("a", "1")
	c.Set("b", "2")

	if !c.Delete("a") || c.Delete("a") {
		t.Error("Delete() should report presence once")
	}
	if c.Has("a") {
		t.Error("deleted key still present")
	}
	if n := c.Clear(); n != 1 {
		t.Errorf("Clear() = %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Errorf("len after clear = %d", c.Len())
	}
}

func TestCacheInvalidateSubstring(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.Set("price:symbol:AAPL", "a")
	c.Set("price:history:AAPL:1y:1d", "b")
	c.Set("price:symbol:MSFT", "c")

	if n := c.Invalidate("AAPL"); n != 2 {
		t.Errorf("Invalidate(AAPL) = %d, want 2", n)
	}
	if !c.Has("price:symbol:MSFT") {
		t.Error("MSFT must survive AAPL invalidation")
	}
	if c.Has("price:symbol:AAPL") || c.Has("price:history:AAPL:1y:1d") {
		t.Error("AAPL keys must be gone")
	}
}

func TestCacheInvalidateTagIsExact(t *testing.T) {
	c, _ := newTestCache(time.Minute)
	c.SetTagged("chart:AAPL", "a", 0, models.SymbolTag("AAPL"))
	c.SetTagged("chart:AAPL-parent", "b", 0, models.SymbolTag("AAPL-parent"))
	c.SetTagged("chart:cmp", "c", 0, models.SymbolTag("AAPL"), models.SymbolTag("MSFT"))

	if n := c.InvalidateTag(models.SymbolTag("AAPL")); n != 2 {
		t.Errorf("InvalidateTag(AAPL) = %d, want 2", n)
	}
	if !c.Has("chart:AAPL-parent") {
		t.Error("tag invalidation must not cross into AAPL-parent")
	}
}

func TestCacheSweep(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("short", "1", time.Second)
	c.Set("long", "2", time.Hour)
	clock.Advance(2 * time.Second)

	if n := c.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
	if c.Len() != 1 || !c.Has("long") {
		t.Errorf("keys after sweep = %v", c.Keys())
	}
}

func TestCacheSweepJob(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("short", "1", time.Second)
	clock.Advance(2 * time.Second)

	job := c.SweepJob()
	if job.String() != "test-sweep" || job.Interval() != defaultSweepInterval {
		t.Errorf("job = %s every %v", job, job.Interval())
	}
	job.RunOnce(context.Background())
	if c.Len() != 0 {
		t.Errorf("len after sweep job = %d", c.Len())
	}
}

func TestCacheEvictLRU(t *testing.T) {
	c, clock := newTestCache(time.Hour)
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), "v")
	}
	// touch the upper half so they are the most recently used
	for i := 5; i < 10; i++ {
		clock.Advance(time.Second)
		c.Get(fmt.Sprintf("k%d", i))
	}

	if n := c.EvictLRU(5); n != 5 {
		t.Errorf("EvictLRU(5) = %d, want 5", n)
	}
	if c.Len() != 5 {
		t.Fatalf("len = %d, want 5", c.Len())
	}
	for i := 5; i < 10; i++ {
		if _, ok := c.Peek(fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("recently used k%d was evicted", i)
		}
	}
	if n := c.EvictLRU(5); n != 0 {
		t.Errorf("EvictLRU below cap = %d, want 0", n)
	}
}

func TestCacheUpdate(t *testing.T) {
	c, clock := newTestCache(time.Minute)
	c.Set("k", "v", 10*time.Second)
	clock.Advance(5 * time.Second)

	if !c.Update("k", func(s string) string { return s + "!" }) {
		t.Fatal("Update() on live entry should succeed")
	}
	clock.Advance(6 * time.Second)
	if c.Has("k") {
		t.Error("Update() must keep the original timestamp")
	}
	if c.Update("missing", func(s string) string { return s }) {
		t.Error("Update() on missing key should fail")
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New[int]("concurrent", time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%20)
				c.Set(key, i)
				c.Get(key)
				if i%50 == 0 {
					c.Invalidate("k1")
					c.Sweep()
				}
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 20 {
		t.Errorf("len = %d, want <= 20", c.Len())
	}
}

func TestGenerateKeyIsOrderIndependent(t *testing.T) {
	a := GenerateKey("price", map[string]any{"b": 2, "a": 1})
	b := GenerateKey("price", map[string]any{"a": 1, "b": 2})
	if a != b {
		t.Errorf("keys differ: %s vs %s", a, b)
	}
	if a != `price:{"a":1,"b":2}` {
		t.Errorf("GenerateKey() = %s", a)
	}
	if got := GenerateKey("price", nil); got != "price" {
		t.Errorf("GenerateKey without params = %s", got)
	}
	nested := GenerateKey("chart", map[string]any{"cfg": map[string]any{"z": 1, "y": 2}})
	if nested != `chart:{"cfg":{"y":2,"z":1}}` {
		t.Errorf("nested key = %s", nested)
	}
}
