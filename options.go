package folio

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/folio/internal/config"
	"goflare.io/folio/internal/utils"
)

// Option 定義初始化 Folio 的選項
type Option = config.Option

// Clock is the time source of every cache.
type Clock = utils.Clock

// WithLogger 設置自定義的日誌記錄器
func WithLogger(logger *zap.Logger) Option { return config.WithLogger(logger) }

// WithClock 設置時間來源
func WithClock(clock Clock) Option { return config.WithClock(clock) }

// WithRegisterer 註冊 Prometheus 指標
func WithRegisterer(reg prometheus.Registerer) Option { return config.WithRegisterer(reg) }

// WithMemoryCeiling 設置健康檢查的記憶體上限（字節）
func WithMemoryCeiling(bytes uint64) Option { return config.WithMemoryCeiling(bytes) }

// WithSerialization 設置 Redis 來源的序列化方式
func WithSerialization(typ string) Option { return config.WithSerialization(typ) }

// WithBreakerSettings 設置上游熔斷器
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return config.WithBreakerSettings(settings)
}
