package folio

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/source/postgres"
	"goflare.io/folio/internal/source/redisfeed"
	"goflare.io/folio/pkg/serialization"
)

// NewRedisSource returns a quote source reading the feed that a market data worker
// publishes into Redis. Values are decoded with the configured serialization.
func NewRedisSource(client redis.Cmdable, opts ...Option) (*redisfeed.Source, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	codec, err := serialization.ForType(cfg.Serialization.Type)
	if err != nil {
		return nil, err
	}
	return redisfeed.New(client, codec, cfg.Clock, cfg.Logger), nil
}

// OpenPostgresSource connects to the dashboard database for chart series and portfolios.
func OpenPostgresSource(ctx context.Context, dsn string, opts ...Option) (*postgres.Source, error) {
	cfg, err := config.NewConfig(opts...)
	if err != nil {
		return nil, err
	}
	return postgres.Open(ctx, dsn, cfg.Clock, cfg.Logger)
}

// StandardFetchers wires quotes from Redis and charts and portfolios from Postgres.
func StandardFetchers(ctx context.Context, client redis.Cmdable, dsn string, opts ...Option) (Fetchers, func() error, error) {
	quotes, err := NewRedisSource(client, opts...)
	if err != nil {
		return Fetchers{}, nil, err
	}
	if err := quotes.Health(ctx); err != nil {
		return Fetchers{}, nil, fmt.Errorf("redis feed unavailable: %w", err)
	}
	db, err := OpenPostgresSource(ctx, dsn, opts...)
	if err != nil {
		return Fetchers{}, nil, err
	}
	return Fetchers{Price: quotes, Chart: db, Portfolio: db}, db.Close, nil
}
