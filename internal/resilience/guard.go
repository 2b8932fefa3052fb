// Package resilience wraps upstream fetches in rate limiting, a circuit breaker, retries and a timeout.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/models"
	"goflare.io/folio/internal/retrier"
)

// ErrCircuitOpen is returned while the upstream breaker is open.
var ErrCircuitOpen = errors.New("upstream circuit open")

const (
	tracerName = "goflare.io/folio/internal/resilience"

	defaultSharedTimeout = 30 * time.Second
)

// Guard protects calls to an upstream fetcher.
type Guard struct {
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	retrier *retrier.Retrier
	timeout time.Duration
	budget  time.Duration
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewGuard creates a Guard from cfg. A RateLimit of 0 disables rate limiting.
func NewGuard(cfg config.ResilienceConfig, logger *zap.Logger) (*Guard, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	strategy, err := retrier.ParseBackoff(cfg.Backoff)
	if err != nil {
		return nil, err
	}
	r, err := retrier.NewRetrier(
		cfg.MaxAttempts,
		cfg.BaseDelay,
		cfg.MaxDelay,
		cfg.Factor,
		cfg.Jitter,
		strategy,
		retrier.RetryUnless(models.ErrSymbolNotFound, models.ErrPortfolioNotFound, ErrCircuitOpen),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	settings := cfg.Breaker
	if settings.IsSuccessful == nil {
		settings.IsSuccessful = func(err error) bool {
			return err == nil ||
				errors.Is(err, models.ErrSymbolNotFound) ||
				errors.Is(err, models.ErrPortfolioNotFound)
		}
	}
	prev := settings.OnStateChange
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		logger.Warn("Circuit breaker state changed",
			zap.String("breaker", name),
			zap.String("from", from.String()),
			zap.String("to", to.String()))
		if prev != nil {
			prev(name, from, to)
		}
	}

	g := &Guard{
		breaker: gobreaker.NewCircuitBreaker(settings),
		retrier: r,
		timeout: cfg.FetchTimeout,
		budget:  callBudget(cfg),
		tracer:  otel.Tracer(tracerName),
		logger:  logger,
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return g, nil
}

// callBudget is the longest a fully retried call can take.
func callBudget(cfg config.ResilienceConfig) time.Duration {
	attempts := time.Duration(max(cfg.MaxAttempts, 1))
	return cfg.FetchTimeout*attempts + cfg.MaxDelay*(attempts-1)
}

// Detach returns a context for a fetch shared by several callers. It keeps the values
// of ctx but not its cancellation, so one caller giving up does not fail the others.
// The context expires after the guard's retry budget, or after defaultSharedTimeout
// without a guard.
func Detach(ctx context.Context, g *Guard) (context.Context, context.CancelFunc) {
	timeout := defaultSharedTimeout
	if g != nil && g.budget > 0 {
		timeout = g.budget
	}
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

// State returns the breaker state.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// Call runs fn under g. A nil Guard calls fn directly.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if g == nil {
		return fn(ctx)
	}

	var zero T
	ctx, span := g.tracer.Start(ctx, op, trace.WithAttributes(attribute.String("folio.op", op)))
	defer span.End()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "rate limit wait failed")
			return zero, err
		}
	}

	var result T
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.retrier.Run(ctx, func() error {
			attemptCtx := ctx
			if g.timeout > 0 {
				var cancel context.CancelFunc
				attemptCtx, cancel = context.WithTimeout(ctx, g.timeout)
				defer cancel()
			}
			v, err := fn(attemptCtx)
			if err != nil {
				return err
			}
			result = v
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			err = fmt.Errorf("%w: %w", ErrCircuitOpen, err)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		g.logger.Debug("Upstream call failed", zap.String("op", op), zap.Error(err))
		return zero, err
	}
	return result, nil
}
