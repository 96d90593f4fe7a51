// Package config loads backtester configuration from an optional file,
// a .env file and BACKTEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Strategy Strategy `mapstructure:"strategy" validate:"required"`
	Ledger   Ledger   `mapstructure:"ledger" validate:"required"`
	Backtest Backtest `mapstructure:"backtest" validate:"required"`
	SQLite   SQLite   `mapstructure:"sqlite"`
	Redis    Redis    `mapstructure:"redis"`
	Binance  Binance  `mapstructure:"binance"`
	Metrics  Metrics  `mapstructure:"metrics"`
	Notify   Notify   `mapstructure:"notify"`
	Log      Log      `mapstructure:"log"`
}

// Strategy holds the three-bar strategy parameters. Fee values are rates
// applied to capital, so 0.0005 charges 0.05%.
type Strategy struct {
	EntryFeePercent float64 `mapstructure:"entry_fee_percent" validate:"gte=0,lt=1"`
	LeaveFeePercent float64 `mapstructure:"leave_fee_percent" validate:"gte=0,lt=1"`
	EMAPeriod       int     `mapstructure:"ema_period" validate:"gte=1"`
	RSIPeriod       int     `mapstructure:"rsi_period" validate:"gte=1"`
	RSITop          float64 `mapstructure:"rsi_top" validate:"gte=0,lte=100"`
	RSIBottom       float64 `mapstructure:"rsi_bottom" validate:"gte=0,lte=100,ltfield=RSITop"`
	RSIOverBought   float64 `mapstructure:"rsi_over_bought" validate:"gte=0,lte=100"`
	RSIOverSell     float64 `mapstructure:"rsi_over_sell" validate:"gte=0,lte=100"`
	IgnoreRSI       bool    `mapstructure:"ignore_rsi"`
}

// Ledger holds capital settings.
type Ledger struct {
	InitialCapital float64 `mapstructure:"initial_capital" validate:"gt=0"`
	CapitalFloor   float64 `mapstructure:"capital_floor" validate:"gte=0,ltfield=InitialCapital"`
}

// Backtest selects the candle source and driver settings.
type Backtest struct {
	Source        string  `mapstructure:"source" validate:"oneof=sqlite redis binance ws archive"`
	Symbol        string  `mapstructure:"symbol" validate:"required"`
	Interval      string  `mapstructure:"interval" validate:"required,oneof=1m 3m 5m 15m 30m 1h 2h 4h 6h 8h 12h 1d"`
	From          string  `mapstructure:"from"`
	To            string  `mapstructure:"to"`
	QueueSize     int     `mapstructure:"queue_size" validate:"gte=1"`
	WarmupCandles int     `mapstructure:"warmup_candles" validate:"gte=0"`
	Speed         float64 `mapstructure:"speed" validate:"gte=0"`
}

// SQLite holds the kline store and run journal paths.
type SQLite struct {
	Path        string `mapstructure:"path"`
	JournalPath string `mapstructure:"journal_path"`
}

// Redis holds the Redis connection settings.
type Redis struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db" validate:"gte=0"`
}

// Binance holds exchange credentials and endpoints. Klines are public, so
// empty keys are allowed.
type Binance struct {
	APIKey            string  `mapstructure:"api_key"`
	SecretKey         string  `mapstructure:"secret_key"`
	BaseURL           string  `mapstructure:"base_url" validate:"omitempty,url"`
	WSURL             string  `mapstructure:"ws_url" validate:"omitempty,url"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gt=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=1"`
	MaxRetries        int     `mapstructure:"max_retries" validate:"gte=0"`
}

// Metrics holds the metrics/health listener address. Empty disables it.
type Metrics struct {
	Addr string `mapstructure:"addr"`
}

// Notify holds alert sink settings. Empty values disable a sink.
type Notify struct {
	WebhookURL     string `mapstructure:"webhook_url" validate:"omitempty,url"`
	TelegramToken  string `mapstructure:"telegram_token"`
	TelegramChatID string `mapstructure:"telegram_chat_id" validate:"required_with=TelegramToken"`
}

// Log holds the log level.
type Log struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn warning error"`
}

// Load reads .env (if present), the optional config file at path and
// BACKTEST_* environment overrides, then validates the result.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BACKTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unprefixed names commonly used in .env files.
	_ = v.BindEnv("binance.api_key", "BACKTEST_BINANCE_API_KEY", "BINANCE_API_KEY")
	_ = v.BindEnv("binance.secret_key", "BACKTEST_BINANCE_SECRET_KEY", "BINANCE_SECRET_KEY")
	_ = v.BindEnv("notify.telegram_token", "BACKTEST_NOTIFY_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("notify.telegram_chat_id", "BACKTEST_NOTIFY_TELEGRAM_CHAT_ID", "TELEGRAM_CHAT_ID")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks struct tags and the date range.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	from, to, err := c.Backtest.Range()
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return fmt.Errorf("config: backtest.from %s is not before backtest.to %s", c.Backtest.From, c.Backtest.To)
	}
	return nil
}

// Range parses From and To. Empty values yield zero times.
func (b Backtest) Range() (from, to time.Time, err error) {
	if from, err = ParseTime(b.From); err != nil {
		return from, to, fmt.Errorf("config: backtest.from: %w", err)
	}
	if to, err = ParseTime(b.To); err != nil {
		return from, to, fmt.Errorf("config: backtest.to: %w", err)
	}
	return from, to, nil
}

// ParseTime accepts RFC 3339 timestamps or YYYY-MM-DD dates (UTC).
// An empty string returns the zero time.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognised time %q", s)
	}
	return t, nil
}

func setDefaults(v *viper.Viper) {
	// Strategy defaults
	v.SetDefault("strategy.entry_fee_percent", 0.0005)
	v.SetDefault("strategy.leave_fee_percent", 0.0005)
	v.SetDefault("strategy.ema_period", 20)
	v.SetDefault("strategy.rsi_period", 4)
	v.SetDefault("strategy.rsi_top", 70.9)
	v.SetDefault("strategy.rsi_bottom", 29.6)
	v.SetDefault("strategy.rsi_over_bought", 96.0)
	v.SetDefault("strategy.rsi_over_sell", 2.0)
	v.SetDefault("strategy.ignore_rsi", true)

	// Ledger defaults
	v.SetDefault("ledger.initial_capital", 1000.0)
	v.SetDefault("ledger.capital_floor", 1.0)

	// Backtest defaults
	v.SetDefault("backtest.source", "sqlite")
	v.SetDefault("backtest.symbol", "BTCUSDT")
	v.SetDefault("backtest.interval", "5m")
	v.SetDefault("backtest.from", "")
	v.SetDefault("backtest.to", "")
	v.SetDefault("backtest.queue_size", 1000)
	v.SetDefault("backtest.warmup_candles", 0)
	v.SetDefault("backtest.speed", 0.0)

	// Infrastructure defaults
	v.SetDefault("sqlite.path", "data/klines.db")
	v.SetDefault("sqlite.journal_path", "data/runs.db")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("binance.api_key", "")
	v.SetDefault("binance.secret_key", "")
	v.SetDefault("binance.base_url", "")
	v.SetDefault("binance.ws_url", "")
	v.SetDefault("binance.requests_per_second", 10.0)
	v.SetDefault("binance.burst", 20)
	v.SetDefault("binance.max_retries", 3)
	v.SetDefault("metrics.addr", "")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.telegram_token", "")
	v.SetDefault("notify.telegram_chat_id", "")
	v.SetDefault("log.level", "info")
}
