package multi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// PreloadReport lists what PreloadUserData warmed and what failed. Error keys name the
// failed item, e.g. "portfolio:p1" or "chart:symbol:AAPL".
type PreloadReport struct {
	Portfolios []string         `json:"portfolios"`
	Symbols    []string         `json:"symbols"`
	Charts     int              `json:"charts"`
	Errors     map[string]error `json:"-"`
}

// Err joins every preload error, or returns nil.
func (r PreloadReport) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	keys := make([]string, 0, len(r.Errors))
	for k := range r.Errors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	errs := make([]error, 0, len(keys))
	for _, k := range keys {
		errs = append(errs, fmt.Errorf("%s: %w", k, r.Errors[k]))
	}
	return errors.Join(errs...)
}

type collector struct {
	mu     sync.Mutex
	report PreloadReport
}

func (c *collector) fail(item string, err error) {
	c.mu.Lock()
	c.report.Errors[item] = err
	c.mu.Unlock()
}

// PreloadUserData warms the portfolios of a user, then the prices and charts of every
// held symbol and the charts of every portfolio. Work runs concurrently and one failure
// never stops the rest.
func (c *Coordinator) PreloadUserData(ctx context.Context, userID string, portfolioIDs []string) PreloadReport {
	ctx, span := c.tracer.Start(ctx, "Coordinator.PreloadUserData", trace.WithAttributes(
		attribute.String("user_id", userID),
		attribute.Int("portfolios", len(portfolioIDs)),
	))
	defer span.End()

	col := &collector{report: PreloadReport{Errors: make(map[string]error)}}
	symbolSet := make(map[string]struct{})

	var wg sync.WaitGroup
	for _, id := range portfolioIDs {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			symbols, err := c.portfolios.WarmPortfolio(ctx, id)
			if err != nil {
				col.fail("portfolio:"+id, err)
				return
			}
			col.mu.Lock()
			col.report.Portfolios = append(col.report.Portfolios, id)
			for _, s := range symbols {
				symbolSet[s] = struct{}{}
			}
			col.mu.Unlock()
		}(id)
	}
	wg.Wait()

	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	sort.Strings(symbols)
	sort.Strings(col.report.Portfolios)

	if len(symbols) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resolved := c.prices.GetPrices(ctx, symbols)
			col.mu.Lock()
			defer col.mu.Unlock()
			for _, s := range symbols {
				if _, ok := resolved[s]; ok {
					col.report.Symbols = append(col.report.Symbols, s)
				} else {
					col.report.Errors["price:"+s] = errors.New("price unavailable")
				}
			}
		}()
	}

	for _, id := range col.report.Portfolios {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if _, err := c.charts.WarmPortfolio(ctx, id, c.portfolioChart); err != nil {
				col.fail("chart:portfolio:"+id, err)
				return
			}
			col.mu.Lock()
			col.report.Charts++
			col.mu.Unlock()
		}(id)
	}
	for _, s := range symbols {
		wg.Add(1)
		go func(symbol string) {
			defer wg.Done()
			if _, err := c.charts.WarmSymbol(ctx, symbol, c.symbolChart); err != nil {
				col.fail("chart:symbol:"+symbol, err)
				return
			}
			col.mu.Lock()
			col.report.Charts++
			col.mu.Unlock()
		}(s)
	}
	wg.Wait()

	report := col.report
	span.SetAttributes(attribute.Int("errors", len(report.Errors)))
	c.logger.Info("Preloaded user data",
		zap.String("user_id", userID),
		zap.Int("portfolios", len(report.Portfolios)),
		zap.Int("symbols", len(report.Symbols)),
		zap.Int("charts", report.Charts),
		zap.Int("errors", len(report.Errors)))
	return report
}
