package chart

import (
	"testing"

	"go.uber.org/zap"

	"goflare.io/folio/internal/config"
)

func TestSymbolFilter(t *testing.T) {
	sf := NewSymbolFilter(config.BloomFilterConfig{ExpectedItems: 100, FalsePositiveRate: 0.001}, zap.NewNop())
	sf.Add("AAPL", "MSFT")

	if !sf.Test("AAPL") || !sf.Test("MSFT") {
		t.Error("added symbols must always test positive")
	}
	if sf.Test("NEVER-SEEN") {
		t.Error("unexpected false positive at 0.1% rate")
	}

	sf.Rebuild([]string{"TSLA"})
	if !sf.Test("TSLA") {
		t.Error("rebuilt filter lost TSLA")
	}
	if sf.Test("AAPL") {
		t.Error("rebuild should drop symbols that are no longer cached")
	}
}
