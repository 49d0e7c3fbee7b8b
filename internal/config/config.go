package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultConfigPath = "configs/config.yaml"
	defaultEnvFile    = ".env"
	envPrefix         = "rfq"
)

// Load 读取配置文件并结合 .env 与环境变量返回 Config。
// path 为空且默认配置文件不存在时只使用内置默认值。
func Load(path string) (*Config, error) {
	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("读取 %s 失败: %w", defaultEnvFile, err)
	}

	v := viper.New()

	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix(envPrefix)
	replacer := strings.NewReplacer(".", "_")
	v.SetEnvKeyReplacer(replacer)
	v.AutomaticEnv()

	setDefaults(v)

	if _, statErr := os.Stat(path); statErr != nil {
		if explicit || !errors.Is(statErr, fs.ErrNotExist) {
			return nil, fmt.Errorf("未找到配置文件 %q: %w", path, statErr)
		}
	} else if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")

	v.SetDefault("pricing.markup_bps", "5")
	v.SetDefault("pricing.use_pair_markup", false)
	v.SetDefault("pricing.validity_buffer", "2s")
	v.SetDefault("pricing.min_validity", "3s")

	v.SetDefault("streaming.poll_interval", "500ms")
	v.SetDefault("streaming.duration", "30s")
	v.SetDefault("streaming.auto_refresh", true)
	v.SetDefault("streaming.improvement_bps", "1")

	v.SetDefault("aggregator.provider_timeout", "5s")

	v.SetDefault("pairs.file", "")

	v.SetDefault("providers.random.count", 3)
	v.SetDefault("providers.random.name_prefix", "Mock")
	v.SetDefault("providers.random.base_price", 100000.0)
	v.SetDefault("providers.random.spread_bps", 5.0)
	v.SetDefault("providers.random.min_delay", "100ms")
	v.SetDefault("providers.random.max_delay", "500ms")
	v.SetDefault("providers.random.failure_rate", 0.0)
	v.SetDefault("providers.random.validity", "10s")
	v.SetDefault("providers.random.execute_delay", "500ms")
	v.SetDefault("providers.random.seed", 0)

	v.SetDefault("providers.orderbook.enabled", false)
	v.SetDefault("providers.orderbook.name", "Binance")
	v.SetDefault("providers.orderbook.exchange", "binanceusdm")
	v.SetDefault("providers.orderbook.use_sandbox", false)
	v.SetDefault("providers.orderbook.depth", 5)
	v.SetDefault("providers.orderbook.validity", "5s")
	v.SetDefault("providers.orderbook.retry.max_attempts", 3)
	v.SetDefault("providers.orderbook.retry.min_delay", "200ms")
	v.SetDefault("providers.orderbook.retry.max_delay", "2s")

	v.SetDefault("providers.rate_limit.rps", 0)
	v.SetDefault("providers.rate_limit.burst", 1)

	v.SetDefault("execution.commission_bps", "0.1")
	v.SetDefault("execution.max_retry", 3)
	v.SetDefault("execution.retry_wait", "1s")

	v.SetDefault("database.path", "data/quotes.db")
	v.SetDefault("database.max_open_conns", 4)
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.conn_max_lifetime", "1h")
	v.SetDefault("database.in_memory", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.encoding", "console")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.output_paths", []string{"stdout"})
	v.SetDefault("logging.error_output_paths", []string{"stderr"})
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size_mb", 100)
	v.SetDefault("logging.file.max_backups", 5)
	v.SetDefault("logging.file.max_age_days", 14)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.addr", ":8090")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
			stringToDecimalHook(),
		)
	}
}

var decimalType = reflect.TypeOf(decimal.Decimal{})

// stringToDecimalHook 将字符串或数字解析为 decimal.Decimal，避免浮点误差。
func stringToDecimalHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decimalType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			if strings.TrimSpace(v) == "" {
				return decimal.Zero, nil
			}
			return decimal.NewFromString(strings.TrimSpace(v))
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		default:
			return data, nil
		}
	}
}
