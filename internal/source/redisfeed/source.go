// Package redisfeed reads quotes, history and market metadata published to Redis by a
// market data feed.
//
// Layout:
//
//	quote:<SYM>                 string, encoded models.QuoteRow
//	history:<SYM>:<interval>    sorted set of encoded models.HistoricalPrice scored by unix ms
//	market:<SYM>                hash with name, sector, industry, exchange, currency, updated_at
package redisfeed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/utils"
	"goflare.io/folio/pkg/serialization"
)

// Source implements the price fetcher over Redis.
type Source struct {
	rdb    redis.Cmdable
	codec  serialization.Codec
	clock  utils.Clock
	logger *zap.Logger
}

// New creates a new Source. codec decodes quote and bar payloads.
func New(rdb redis.Cmdable, codec serialization.Codec, clock utils.Clock, logger *zap.Logger) *Source {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{rdb: rdb, codec: codec, clock: clock, logger: logger.Named("redisfeed")}
}

func quoteKey(symbol string) string { return "quote:" + symbol }
func historyKey(symbol, interval string) string { return fmt.Sprintf("history:%s:%s", symbol, interval) }
func marketKey(symbol string) string { return "market:" + symbol }

// FetchQuotes reads every quote in one pipeline. Symbols without a quote are skipped.
func (s *Source) FetchQuotes(ctx context.Context, symbols []string) ([]models.QuoteRow, error) {
	if len(symbols) == 0 {
		return nil, nil
	}
	pipe := s.rdb.Pipeline()
	cmds := make([]*redis.StringCmd, len(symbols))
	for i, sym := range symbols {
		cmds[i] = pipe.Get(ctx, quoteKey(sym))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to execute quote pipeline: %w", err)
	}

	rows := make([]models.QuoteRow, 0, len(symbols))
	for i, cmd := range cmds {
		b, err := cmd.Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read quote for %s: %w", symbols[i], err)
		}
		var row models.QuoteRow
		if err := s.decode(b, &row); err != nil {
			s.logger.Warn("Skipping undecodable quote", zap.String("symbol", symbols[i]), zap.Error(err))
			continue
		}
		if row.Symbol == "" {
			row.Symbol = symbols[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchHistory reads the bars of symbol at interval that fall inside period.
func (s *Source) FetchHistory(ctx context.Context, symbol, period, interval string) ([]models.HistoricalPrice, error) {
	now := s.clock.Now()
	window, err := models.PeriodDuration(period, now)
	if err != nil {
		return nil, err
	}
	members, err := s.rdb.ZRangeByScore(ctx, historyKey(symbol, interval), &redis.ZRangeBy{
		Min: strconv.FormatInt(now.Add(-window).UnixMilli(), 10),
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history for %s: %w", symbol, err)
	}

	bars := make([]models.HistoricalPrice, 0, len(members))
	for _, m := range members {
		var bar models.HistoricalPrice
		if err := s.decode([]byte(m), &bar); err != nil {
			s.logger.Warn("Skipping undecodable bar", zap.String("symbol", symbol), zap.Error(err))
			continue
		}
		if bar.Symbol == "" {
			bar.Symbol = symbol
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// FetchMarketData reads the metadata hash of symbol.
func (s *Source) FetchMarketData(ctx context.Context, symbol string) (models.MarketData, error) {
	fields, err := s.rdb.HGetAll(ctx, marketKey(symbol)).Result()
	if err != nil {
		return models.MarketData{}, fmt.Errorf("failed to read market data for %s: %w", symbol, err)
	}
	if len(fields) == 0 {
		return models.MarketData{}, fmt.Errorf("%w: %s", models.ErrSymbolNotFound, symbol)
	}
	return marketDataFromHash(symbol, fields), nil
}

func marketDataFromHash(symbol string, fields map[string]string) models.MarketData {
	md := models.MarketData{
		Symbol:   symbol,
		Name:     fields["name"],
		Sector:   fields["sector"],
		Industry: fields["industry"],
		Exchange: fields["exchange"],
		Currency: fields["currency"],
	}
	if ts, err := time.Parse(time.RFC3339, fields["updated_at"]); err == nil {
		md.UpdatedAt = ts
	}
	return md
}

// PutQuote publishes a quote. Feeds and tests use it to seed Redis.
func (s *Source) PutQuote(ctx context.Context, row models.QuoteRow, ttl time.Duration) error {
	b, err := s.encode(row)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, quoteKey(row.Symbol), b, ttl).Err()
}

// AddBars publishes bars of symbol at interval.
func (s *Source) AddBars(ctx context.Context, symbol, interval string, bars []models.HistoricalPrice) error {
	members := make([]redis.Z, 0, len(bars))
	for _, bar := range bars {
		b, err := s.encode(bar)
		if err != nil {
			return err
		}
		members = append(members, redis.Z{Score: float64(bar.Time.UnixMilli()), Member: string(b)})
	}
	return s.rdb.ZAdd(ctx, historyKey(symbol, interval), members...).Err()
}

// PutMarketData publishes the metadata hash of a symbol.
func (s *Source) PutMarketData(ctx context.Context, md models.MarketData) error {
	return s.rdb.HSet(ctx, marketKey(md.Symbol),
		"name", md.Name,
		"sector", md.Sector,
		"industry", md.Industry,
		"exchange", md.Exchange,
		"currency", md.Currency,
		"updated_at", md.UpdatedAt.UTC().Format(time.RFC3339),
	).Err()
}

// Health pings Redis.
func (s *Source) Health(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *Source) encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := s.codec.NewEncoder(&buf).Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", s.codec.Type, err)
	}
	return buf.Bytes(), nil
}

func (s *Source) decode(b []byte, v any) error {
	return s.codec.NewDecoder(bytes.NewReader(b)).Decode(v)
}
