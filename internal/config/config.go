package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Server ServerConfig `mapstructure:"server"`
	Log    LogConfig    `mapstructure:"log"`
	DB     DBConfig     `mapstructure:"db"`
	Cron   CronConfig   `mapstructure:"cron"`

	Market   MarketConfig   `mapstructure:"market"`
	Backtest BacktestConfig `mapstructure:"backtest"`
	Strategy StrategyConfig `mapstructure:"strategy"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type CronConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	DataHealth string `mapstructure:"data_health"`
	CacheStats string `mapstructure:"cache_stats"`
}

// MarketConfig describes the intraday session grid and the fixed points of
// the monthly signal cycle.
type MarketConfig struct {
	OpenHour     int    `mapstructure:"open_hour"`
	OpenMinute   int    `mapstructure:"open_minute"`
	CloseHour    int    `mapstructure:"close_hour"`
	CloseMinute  int    `mapstructure:"close_minute"`
	SlotMinutes  int    `mapstructure:"slot_minutes"`
	SignalDay    int    `mapstructure:"signal_day"`
	SignalSlot   string `mapstructure:"signal_slot"`
	ClosingSlot  string `mapstructure:"closing_slot"`
	DefaultField string `mapstructure:"default_field"`
}

type BacktestConfig struct {
	DefaultInitialCapital float64 `mapstructure:"default_initial_capital"`
	DefaultLongThreshold  float64 `mapstructure:"default_long_threshold"`
	DefaultShortThreshold float64 `mapstructure:"default_short_threshold"`
	DefaultZScoreVariant  string  `mapstructure:"default_zscore_variant"`
	RiskFreeRate          float64 `mapstructure:"risk_free_rate"`
	AnnualTradingDays     int     `mapstructure:"annual_trading_days"`
	ProgressLogInterval   int     `mapstructure:"progress_log_interval"`
}

type StrategyConfig struct {
	UseSensitivity bool    `mapstructure:"use_sensitivity"`
	MinPValue      float64 `mapstructure:"min_pvalue"`
	MinSampleSize  int     `mapstructure:"min_sample_size"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("EA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.data_health", "@every 5m")
	v.SetDefault("cron.cache_stats", "@every 1m")

	v.SetDefault("market.open_hour", 9)
	v.SetDefault("market.open_minute", 0)
	v.SetDefault("market.close_hour", 15)
	v.SetDefault("market.close_minute", 30)
	v.SetDefault("market.slot_minutes", 10)
	v.SetDefault("market.signal_day", 1)
	v.SetDefault("market.signal_slot", "1020_1030")
	v.SetDefault("market.closing_slot", "1520_1530")
	v.SetDefault("market.default_field", "close")

	v.SetDefault("backtest.default_initial_capital", 100_000_000)
	v.SetDefault("backtest.default_long_threshold", 0.3)
	v.SetDefault("backtest.default_short_threshold", -0.3)
	v.SetDefault("backtest.default_zscore_variant", "mom")
	v.SetDefault("backtest.risk_free_rate", 0.0)
	v.SetDefault("backtest.annual_trading_days", 252)
	v.SetDefault("backtest.progress_log_interval", 100)

	v.SetDefault("strategy.use_sensitivity", true)
	v.SetDefault("strategy.min_pvalue", 0.5)
	v.SetDefault("strategy.min_sample_size", 20)

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
