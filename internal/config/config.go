package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"goflare.io/folio/internal/utils"
	"goflare.io/folio/pkg/serialization"
)

// ErrInvalidConfig 配置校驗失敗
var ErrInvalidConfig = errors.New("invalid config")

// Config 快取子系統的配置
type Config struct {
	Price     PriceConfig     `koanf:"price"`
	Chart     ChartConfig     `koanf:"chart"`
	Portfolio PortfolioConfig `koanf:"portfolio"`

	// SweepInterval 清理過期項目的時間間隔
	SweepInterval time.Duration `koanf:"sweep_interval" validate:"gt=0"`
	// MemoryCeiling 健康檢查的記憶體上限（字節）
	MemoryCeiling uint64 `koanf:"memory_ceiling" validate:"gt=0"`

	ResilienceConfig ResilienceConfig    `koanf:"resilience"`
	Serialization    SerializationConfig `koanf:"serialization"`

	Logger     *zap.Logger           `koanf:"-"`
	Clock      utils.Clock           `koanf:"-"`
	Registerer prometheus.Registerer `koanf:"-"`
}

// PriceConfig 價格快取配置
type PriceConfig struct {
	RealTimeTTL          time.Duration `koanf:"real_time_ttl" validate:"gt=0"`
	QuoteTTL             time.Duration `koanf:"quote_ttl" validate:"gt=0"`
	HistoricalTTL        time.Duration `koanf:"historical_ttl" validate:"gt=0"`
	MarketDataTTL        time.Duration `koanf:"market_data_ttl" validate:"gt=0"`
	UpdateInterval       time.Duration `koanf:"update_interval" validate:"gt=0"`
	MarketDataMaxEntries uint64        `koanf:"market_data_max_entries" validate:"gt=0"`
	MarketTimezone       string        `koanf:"market_timezone" validate:"required"`
}

// ChartConfig 圖表快取配置
type ChartConfig struct {
	RealTimeTTL          time.Duration     `koanf:"real_time_ttl" validate:"gt=0"`
	IntradayTTL          time.Duration     `koanf:"intraday_ttl" validate:"gt=0"`
	DailyTTL             time.Duration     `koanf:"daily_ttl" validate:"gt=0"`
	LongTermTTL          time.Duration     `koanf:"long_term_ttl" validate:"gt=0"`
	CompressionThreshold int               `koanf:"compression_threshold" validate:"gt=0"`
	CompressionTarget    int               `koanf:"compression_target" validate:"gt=0,ltefield=CompressionThreshold"`
	CompressionInterval  time.Duration     `koanf:"compression_interval" validate:"gt=0"`
	MaxEntries           int               `koanf:"max_entries" validate:"gt=0"`
	CleanupInterval      time.Duration     `koanf:"cleanup_interval" validate:"gt=0"`
	BloomFilter          BloomFilterConfig `koanf:"bloom_filter"`
}

// PortfolioConfig 投資組合快取配置
type PortfolioConfig struct {
	PortfolioTTL    time.Duration `koanf:"portfolio_ttl" validate:"gt=0"`
	HoldingsTTL     time.Duration `koanf:"holdings_ttl" validate:"gt=0"`
	PriceTTL        time.Duration `koanf:"price_ttl" validate:"gt=0"`
	CalculationsTTL time.Duration `koanf:"calculations_ttl" validate:"gt=0"`
}

// ResilienceConfig 用於設置上游請求的重試、熔斷與限流
type ResilienceConfig struct {
	Breaker      gobreaker.Settings `koanf:"-"`
	FetchTimeout time.Duration      `koanf:"fetch_timeout" validate:"gt=0"`
	MaxAttempts  int                `koanf:"max_attempts" validate:"gte=1"`
	BaseDelay    time.Duration      `koanf:"base_delay" validate:"gte=1ms"`
	MaxDelay     time.Duration      `koanf:"max_delay" validate:"gtefield=BaseDelay"`
	Factor       float64            `koanf:"factor" validate:"gte=1"`
	Jitter       float64            `koanf:"jitter" validate:"gte=0,lte=1"`
	// Backoff 重試間隔策略：exponential、linear 或 fibonacci
	Backoff string `koanf:"backoff" validate:"oneof=exponential linear fibonacci"`
	// RateLimit 每秒允許的上游請求數，0 表示不限流
	RateLimit float64 `koanf:"rate_limit" validate:"gte=0"`
	Burst     int     `koanf:"burst" validate:"gte=0"`
}

// BloomFilterConfig 用於布隆過濾器的配置
type BloomFilterConfig struct {
	ExpectedItems     uint    `koanf:"expected_items" validate:"gt=0"`
	FalsePositiveRate float64 `koanf:"false_positive_rate" validate:"gt=0,lt=1"`
}

// SerializationConfig 序列化相關配置
type SerializationConfig struct {
	Type string `koanf:"type" validate:"oneof=json gob"`
}

// Option 函數類型
type Option func(*Config) error

// NewConfig 創建一個默認的 Config，允許覆蓋特定參數
func NewConfig(options ...Option) (*Config, error) {
	cfg := Default()

	// 應用所有選項
	for _, option := range options {
		if err := option(cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in defaults without validation.
func Default() *Config {
	return &Config{
		Price: PriceConfig{
			RealTimeTTL:          15 * time.Second,
			QuoteTTL:             1 * time.Minute,
			HistoricalTTL:        5 * time.Minute,
			MarketDataTTL:        30 * time.Minute,
			UpdateInterval:       10 * time.Second,
			MarketDataMaxEntries: 10000,
			MarketTimezone:       "America/New_York",
		},
		Chart: ChartConfig{
			RealTimeTTL:          30 * time.Second,
			IntradayTTL:          2 * time.Minute,
			DailyTTL:             10 * time.Minute,
			LongTermTTL:          1 * time.Hour,
			CompressionThreshold: 1000,
			CompressionTarget:    500,
			CompressionInterval:  5 * time.Minute,
			MaxEntries:           1000,
			CleanupInterval:      10 * time.Minute,
			BloomFilter: BloomFilterConfig{
				ExpectedItems:     1000,
				FalsePositiveRate: 0.01,
			},
		},
		Portfolio: PortfolioConfig{
			PortfolioTTL:    5 * time.Minute,
			HoldingsTTL:     3 * time.Minute,
			PriceTTL:        1 * time.Minute,
			CalculationsTTL: 2 * time.Minute,
		},
		SweepInterval: 1 * time.Minute,
		MemoryCeiling: 50 * 1024 * 1024,
		ResilienceConfig: ResilienceConfig{
			Breaker: gobreaker.Settings{
				Name:        "upstream",
				MaxRequests: 3,
				Interval:    60 * time.Second,
				Timeout:     30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures > 5
				},
			},
			FetchTimeout: 10 * time.Second,
			MaxAttempts:  3,
			BaseDelay:    100 * time.Millisecond,
			MaxDelay:     1 * time.Second,
			Factor:       2,
			Jitter:       0.1,
			Backoff:      "exponential",
		},
		Serialization: SerializationConfig{
			Type: serialization.JSONType,
		},
		Logger:     zap.NewNop(),
		Clock:      utils.SystemClock(),
		Registerer: nil,
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校驗配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Clock == nil {
		c.Clock = utils.SystemClock()
	}
	return nil
}

// Option 函數示例

// WithLogger 設置自定義 Logger
func WithLogger(logger *zap.Logger) Option {
	return func(c *Config) error {
		if logger != nil {
			c.Logger = logger
		}
		return nil
	}
}

// WithClock 設置時間來源
func WithClock(clock utils.Clock) Option {
	return func(c *Config) error {
		if clock == nil {
			return errors.New("clock must not be nil")
		}
		c.Clock = clock
		return nil
	}
}

// WithRegisterer 設置 Prometheus 註冊器
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Config) error {
		c.Registerer = reg
		return nil
	}
}

// WithMemoryCeiling 設置健康檢查的記憶體上限
func WithMemoryCeiling(bytes uint64) Option {
	return func(c *Config) error {
		if bytes == 0 {
			return errors.New("memory ceiling must be greater than 0")
		}
		c.MemoryCeiling = bytes
		return nil
	}
}

// WithSerialization 設置序列化方式
func WithSerialization(typ string) Option {
	return func(c *Config) error {
		if _, err := serialization.ForType(typ); err != nil {
			return err
		}
		c.Serialization.Type = typ
		return nil
	}
}

// WithBreakerSettings 設置上游熔斷器
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(c *Config) error {
		c.ResilienceConfig.Breaker = settings
		return nil
	}
}
