package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项，加载后只读。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Pricing    PricingConfig    `mapstructure:"pricing"`
	Streaming  StreamingConfig  `mapstructure:"streaming"`
	Aggregator AggregatorConfig `mapstructure:"aggregator"`
	Pairs      PairsConfig      `mapstructure:"pairs"`
	Providers  ProvidersConfig  `mapstructure:"providers"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// PricingConfig 控制客户报价的加点与有效期。
type PricingConfig struct {
	MarkupBps      decimal.Decimal `mapstructure:"markup_bps"`
	UsePairMarkup  bool            `mapstructure:"use_pair_markup"`
	ValidityBuffer time.Duration   `mapstructure:"validity_buffer"`
	MinValidity    time.Duration   `mapstructure:"min_validity"`
}

// StreamingConfig 控制报价流。
type StreamingConfig struct {
	PollInterval   time.Duration   `mapstructure:"poll_interval"`
	Duration       time.Duration   `mapstructure:"duration"`
	AutoRefresh    bool            `mapstructure:"auto_refresh"`
	ImprovementBps decimal.Decimal `mapstructure:"improvement_bps"`
}

// AggregatorConfig 控制单轮询价。
type AggregatorConfig struct {
	ProviderTimeout time.Duration `mapstructure:"provider_timeout"`
}

// PairsConfig 指定交易对目录文件，为空时使用内置目录。
type PairsConfig struct {
	File string `mapstructure:"file"`
}

// ProvidersConfig 描述报价源。
type ProvidersConfig struct {
	Random    RandomProviderConfig `mapstructure:"random"`
	Sine      []SineProviderConfig `mapstructure:"sine"`
	OrderBook OrderBookConfig      `mapstructure:"orderbook"`
	RateLimit RateLimitConfig      `mapstructure:"rate_limit"`
}

// RandomProviderConfig 描述随机延迟模拟报价源。
type RandomProviderConfig struct {
	Count int `mapstructure:"count"`
	// NamePrefix 与序号组成报价源名称，例如 Mock-1。
	NamePrefix  string        `mapstructure:"name_prefix"`
	BasePrice   float64       `mapstructure:"base_price"`
	SpreadBps   float64       `mapstructure:"spread_bps"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
	FailureRate float64       `mapstructure:"failure_rate"`
	Validity    time.Duration `mapstructure:"validity"`
	// ExecuteDelay 为模拟成交延迟上限，实际取 [ExecuteDelay/2, ExecuteDelay]。
	ExecuteDelay time.Duration `mapstructure:"execute_delay"`
	Seed         int64         `mapstructure:"seed"`
}

// SineProviderConfig 描述正弦波报价源。
type SineProviderConfig struct {
	Name      string        `mapstructure:"name"`
	BasePrice float64       `mapstructure:"base_price"`
	Amplitude float64       `mapstructure:"amplitude"`
	Frequency float64       `mapstructure:"frequency"`
	Phase     float64       `mapstructure:"phase"`
	Trend     float64       `mapstructure:"trend"`
	SpreadBps float64       `mapstructure:"spread_bps"`
	MinDelay  time.Duration `mapstructure:"min_delay"`
	MaxDelay  time.Duration `mapstructure:"max_delay"`
	Validity  time.Duration `mapstructure:"validity"`
	// ExecuteDelay 为模拟成交延迟上限。
	ExecuteDelay time.Duration `mapstructure:"execute_delay"`
	Seed         int64         `mapstructure:"seed"`
}

// OrderBookConfig 描述基于交易所公开盘口的报价源。
type OrderBookConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Name       string `mapstructure:"name"`
	Exchange   string `mapstructure:"exchange"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
	// Markets 将交易对代码映射为交易所市场，例如 BTCUSDT: BTC/USDT:USDT。
	Markets  map[string]string `mapstructure:"markets"`
	Depth    int               `mapstructure:"depth"`
	Validity time.Duration     `mapstructure:"validity"`
	Retry    RetryConfig       `mapstructure:"retry"`
}

// Market 返回交易对对应的交易所市场，键不区分大小写。
func (c OrderBookConfig) Market(symbol string) (string, bool) {
	for k, v := range c.Markets {
		if strings.EqualFold(k, symbol) {
			return v, true
		}
	}
	return "", false
}

// RetryConfig 统一控制重试机制。
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	MinDelay    time.Duration `mapstructure:"min_delay"`
	MaxDelay    time.Duration `mapstructure:"max_delay"`
}

// RateLimitConfig 限制单个报价源的询价频率，RPS 为 0 表示不限。
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// ExecutionConfig 控制对冲执行。
type ExecutionConfig struct {
	CommissionBps decimal.Decimal `mapstructure:"commission_bps"`
	MaxRetry      int             `mapstructure:"max_retry"`
	RetryWait     time.Duration   `mapstructure:"retry_wait"`
}

// DatabaseConfig 管理数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string        `mapstructure:"level"`
	Encoding         string        `mapstructure:"encoding"`
	Development      bool          `mapstructure:"development"`
	OutputPaths      []string      `mapstructure:"output_paths"`
	ErrorOutputPaths []string      `mapstructure:"error_output_paths"`
	File             FileLogConfig `mapstructure:"file"`
}

// FileLogConfig 控制滚动日志文件，Path 为空时不写文件。
type FileLogConfig struct {
	Path       string `mapstructure:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MonitorConfig 控制监控 HTTP 服务。
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Pricing.MarkupBps.IsNegative() {
		err = multierr.Append(err, errors.New("pricing.markup_bps 不能为负"))
	}
	if c.Pricing.ValidityBuffer < 0 {
		err = multierr.Append(err, errors.New("pricing.validity_buffer 不能为负"))
	}
	if c.Pricing.MinValidity <= 0 {
		err = multierr.Append(err, errors.New("pricing.min_validity 必须大于0"))
	}
	if c.Streaming.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("streaming.poll_interval 必须大于0"))
	}
	if c.Streaming.Duration < 0 {
		err = multierr.Append(err, errors.New("streaming.duration 不能为负"))
	}
	if c.Streaming.ImprovementBps.IsNegative() {
		err = multierr.Append(err, errors.New("streaming.improvement_bps 不能为负"))
	}
	if c.Aggregator.ProviderTimeout <= 0 {
		err = multierr.Append(err, errors.New("aggregator.provider_timeout 必须大于0"))
	}
	if c.Providers.Random.Count < 0 {
		err = multierr.Append(err, errors.New("providers.random.count 不能为负"))
	}
	if c.Providers.Random.Count > 0 {
		r := c.Providers.Random
		if r.BasePrice <= 0 {
			err = multierr.Append(err, errors.New("providers.random.base_price 必须大于0"))
		}
		if r.MinDelay < 0 || r.MaxDelay < r.MinDelay {
			err = multierr.Append(err, errors.New("providers.random 延迟区间无效"))
		}
		if r.FailureRate < 0 || r.FailureRate > 1 {
			err = multierr.Append(err, errors.New("providers.random.failure_rate 必须位于[0,1]"))
		}
		if r.Validity <= 0 {
			err = multierr.Append(err, errors.New("providers.random.validity 必须大于0"))
		}
	}
	seen := make(map[string]struct{}, len(c.Providers.Sine))
	for i, s := range c.Providers.Sine {
		if s.Name == "" {
			err = multierr.Append(err, fmt.Errorf("providers.sine[%d].name 不能为空", i))
		}
		if _, dup := seen[s.Name]; dup {
			err = multierr.Append(err, fmt.Errorf("providers.sine[%d].name 重复 %q", i, s.Name))
		}
		seen[s.Name] = struct{}{}
		if s.BasePrice <= 0 {
			err = multierr.Append(err, fmt.Errorf("providers.sine[%d].base_price 必须大于0", i))
		}
		if s.Validity <= 0 {
			err = multierr.Append(err, fmt.Errorf("providers.sine[%d].validity 必须大于0", i))
		}
	}
	if ob := c.Providers.OrderBook; ob.Enabled {
		if ob.Exchange == "" {
			err = multierr.Append(err, errors.New("providers.orderbook.exchange 不能为空"))
		}
		if len(ob.Markets) == 0 {
			err = multierr.Append(err, errors.New("providers.orderbook.markets 至少包含一个市场"))
		}
		if ob.Retry.MaxAttempts <= 0 {
			err = multierr.Append(err, errors.New("providers.orderbook.retry.max_attempts 必须大于0"))
		}
		if ob.Retry.MinDelay <= 0 || ob.Retry.MaxDelay <= 0 {
			err = multierr.Append(err, errors.New("providers.orderbook.retry.delay 必须为正"))
		}
		if ob.Retry.MinDelay > ob.Retry.MaxDelay {
			err = multierr.Append(err, errors.New("providers.orderbook.retry.min_delay 不能大于 max_delay"))
		}
	}
	if c.Providers.RateLimit.RPS < 0 {
		err = multierr.Append(err, errors.New("providers.rate_limit.rps 不能为负"))
	}
	if c.Providers.Random.Count == 0 && len(c.Providers.Sine) == 0 && !c.Providers.OrderBook.Enabled {
		err = multierr.Append(err, errors.New("providers 至少配置一个报价源"))
	}
	if c.Execution.CommissionBps.IsNegative() {
		err = multierr.Append(err, errors.New("execution.commission_bps 不能为负"))
	}
	if c.Execution.MaxRetry <= 0 {
		err = multierr.Append(err, errors.New("execution.max_retry 必须大于0"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}
	if c.Monitor.Enabled && c.Monitor.Addr == "" {
		err = multierr.Append(err, errors.New("monitor.addr 不能为空"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
