// Package postgres reads chart series and portfolios from PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"go.uber.org/zap"

	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/utils"
)

const (
	symbolSeriesQuery = `
		SELECT symbol, date_trunc($2, ts) AS bucket, avg(close)::float8
		FROM price_history
		WHERE symbol = $1 AND ts >= $3
		GROUP BY symbol, bucket
		ORDER BY bucket`

	comparisonSeriesQuery = `
		SELECT symbol, date_trunc($2, ts) AS bucket, avg(close)::float8
		FROM price_history
		WHERE symbol = ANY($1) AND ts >= $3
		GROUP BY symbol, bucket
		ORDER BY symbol, bucket`

	portfolioSeriesQuery = `
		SELECT date_trunc($2, ts) AS bucket, avg(total_value)::float8
		FROM portfolio_snapshots
		WHERE portfolio_id = $1 AND ts >= $3
		GROUP BY bucket
		ORDER BY bucket`

	portfolioQuery = `SELECT id, user_id, name, currency FROM portfolios WHERE id = $1`

	holdingsQuery = `
		SELECT portfolio_id, symbol, quantity, cost_basis
		FROM holdings
		WHERE portfolio_id = $1
		ORDER BY symbol`
)

// Source implements the chart and portfolio fetchers over a *sql.DB.
type Source struct {
	db     *sql.DB
	clock  utils.Clock
	logger *zap.Logger
}

// New creates a new Source on an open database.
func New(db *sql.DB, clock utils.Clock, logger *zap.Logger) *Source {
	if clock == nil {
		clock = utils.SystemClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{db: db, clock: clock, logger: logger.Named("postgres")}
}

// Open connects to dsn with the lib/pq driver and verifies the connection.
func Open(ctx context.Context, dsn string, clock utils.Clock, logger *zap.Logger) (*Source, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return New(db, clock, logger), nil
}

// Close closes the database.
func (s *Source) Close() error {
	return s.db.Close()
}

// Health pings the database.
func (s *Source) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(ctx)
}

// truncUnit maps a chart interval onto a date_trunc unit.
func truncUnit(interval string) string {
	i := strings.ToLower(interval)
	switch {
	case strings.HasSuffix(i, "mo") || strings.Contains(i, "month"):
		return "month"
	case strings.HasSuffix(i, "wk") || strings.HasSuffix(i, "w") || strings.Contains(i, "week"):
		return "week"
	case strings.HasSuffix(i, "d") || strings.Contains(i, "day"):
		return "day"
	case strings.HasSuffix(i, "h") || strings.Contains(i, "hour"):
		return "hour"
	default:
		return "minute"
	}
}

func (s *Source) since(period string) (time.Time, error) {
	now := s.clock.Now()
	window, err := models.PeriodDuration(period, now)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-window), nil
}

// FetchSymbolSeries returns the close series of symbol bucketed by cfg.Interval.
func (s *Source) FetchSymbolSeries(ctx context.Context, symbol string, cfg models.ChartConfig) ([]models.SeriesRow, error) {
	from, err := s.since(cfg.Period)
	if err != nil {
		return nil, err
	}
	return s.querySeries(ctx, symbolSeriesQuery, true, symbol, truncUnit(cfg.Interval), from)
}

// FetchComparisonSeries returns the close series of every symbol, ordered by symbol then time.
func (s *Source) FetchComparisonSeries(ctx context.Context, symbols []string, cfg models.ChartConfig) ([]models.SeriesRow, error) {
	from, err := s.since(cfg.Period)
	if err != nil {
		return nil, err
	}
	return s.querySeries(ctx, comparisonSeriesQuery, true, pq.Array(symbols), truncUnit(cfg.Interval), from)
}

// FetchPortfolioSeries returns the value series of a portfolio.
func (s *Source) FetchPortfolioSeries(ctx context.Context, portfolioID string, cfg models.ChartConfig) ([]models.SeriesRow, error) {
	from, err := s.since(cfg.Period)
	if err != nil {
		return nil, err
	}
	return s.querySeries(ctx, portfolioSeriesQuery, false, portfolioID, truncUnit(cfg.Interval), from)
}

func (s *Source) querySeries(ctx context.Context, query string, withSymbol bool, args ...any) ([]models.SeriesRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query series: %w", err)
	}
	defer rows.Close()

	var out []models.SeriesRow
	for rows.Next() {
		var r models.SeriesRow
		if withSymbol {
			err = rows.Scan(&r.Symbol, &r.Time, &r.Value)
		} else {
			err = rows.Scan(&r.Time, &r.Value)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to scan series row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read series: %w", err)
	}
	return out, nil
}

// FetchPortfolio returns the portfolio header.
func (s *Source) FetchPortfolio(ctx context.Context, portfolioID string) (models.Portfolio, error) {
	var p models.Portfolio
	err := s.db.QueryRowContext(ctx, portfolioQuery, portfolioID).Scan(&p.ID, &p.UserID, &p.Name, &p.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Portfolio{}, fmt.Errorf("%w: %s", models.ErrPortfolioNotFound, portfolioID)
	}
	if err != nil {
		return models.Portfolio{}, fmt.Errorf("failed to query portfolio %s: %w", portfolioID, err)
	}
	return p, nil
}

// FetchHoldings returns the holdings of a portfolio.
func (s *Source) FetchHoldings(ctx context.Context, portfolioID string) ([]models.Holding, error) {
	rows, err := s.db.QueryContext(ctx, holdingsQuery, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings of %s: %w", portfolioID, err)
	}
	defer rows.Close()

	var out []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.PortfolioID, &h.Symbol, &h.Quantity, &h.CostBasis); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read holdings: %w", err)
	}
	return out, nil
}
