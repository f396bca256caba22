// Package config loads stocker settings from YAML with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/stocker/internal/domain"
)

const (
	EnvUserID   = "STOCKER_USER_ID"
	EnvStoreDir = "STOCKER_STORE_DIR"
	EnvHTTPAddr = "STOCKER_HTTP_ADDR"
)

type Config struct {
	UserID         string
	BaseCurrency   string
	InitialBalance decimal.Decimal
	Symbol         string
	Interval       domain.Interval

	Market MarketConfig
	Stream StreamConfig
	Store  StoreConfig
	HTTP   HTTPConfig
	Log    LogConfig
}

type MarketConfig struct {
	Exchange          string
	APIKey            string
	APISecret         string
	RequestsPerSecond float64
	Burst             int
	FetchTimeout      time.Duration
	FetchRetries      uint64
}

type StreamConfig struct {
	URL                  string
	Proxy                string
	ReadTimeout          time.Duration
	PollInterval         time.Duration
	Reconnect            bool
	ReconnectInitial     time.Duration
	ReconnectMax         time.Duration
	ReconnectMaxAttempts int // 0 retries forever
}

type StoreConfig struct {
	Backend string
	Dir     string
}

type HTTPConfig struct {
	Addr string
}

type LogConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// ConfigTmp mirrors the YAML document; every scalar is read as a string and parsed afterwards.
type ConfigTmp struct {
	UserID         string `yaml:"user_id"`
	BaseCurrency   string `yaml:"base_currency"`
	InitialBalance string `yaml:"initial_balance"`
	Symbol         string `yaml:"symbol"`
	Interval       string `yaml:"interval"`

	Market struct {
		Exchange          string `yaml:"exchange"`
		APIKey            string `yaml:"api_key,omitempty"`
		APISecret         string `yaml:"api_secret,omitempty"`
		RequestsPerSecond string `yaml:"requests_per_second,omitempty"`
		Burst             string `yaml:"burst,omitempty"`
		FetchTimeout      string `yaml:"fetch_timeout,omitempty"`
		FetchRetries      string `yaml:"fetch_retries,omitempty"`
	} `yaml:"market"`

	Stream struct {
		URL                  string `yaml:"url,omitempty"`
		Proxy                string `yaml:"proxy,omitempty"`
		ReadTimeout          string `yaml:"read_timeout,omitempty"`
		PollInterval         string `yaml:"poll_interval,omitempty"`
		Reconnect            string `yaml:"reconnect,omitempty"`
		ReconnectInitial     string `yaml:"reconnect_initial,omitempty"`
		ReconnectMax         string `yaml:"reconnect_max,omitempty"`
		ReconnectMaxAttempts string `yaml:"reconnect_max_attempts,omitempty"`
	} `yaml:"stream"`

	Store struct {
		Backend string `yaml:"backend"`
		Dir     string `yaml:"dir"`
	} `yaml:"store"`

	HTTP struct {
		Addr string `yaml:"addr"`
	} `yaml:"http"`

	Log struct {
		Level      string `yaml:"level,omitempty"`
		File       string `yaml:"file,omitempty"`
		MaxSizeMB  string `yaml:"max_size_mb,omitempty"`
		MaxBackups string `yaml:"max_backups,omitempty"`
		MaxAgeDays string `yaml:"max_age_days,omitempty"`
	} `yaml:"log"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		UserID:         "local",
		BaseCurrency:   "USDT",
		InitialBalance: decimal.NewFromInt(10000),
		Symbol:         "BTCUSDT",
		Interval:       domain.Interval1h,
		Market: MarketConfig{
			Exchange:          "binance",
			RequestsPerSecond: 10,
			Burst:             1,
			FetchTimeout:      30 * time.Second,
			FetchRetries:      3,
		},
		Stream: StreamConfig{
			ReadTimeout:      60 * time.Second,
			PollInterval:     2 * time.Second,
			Reconnect:        true,
			ReconnectInitial: time.Second,
			ReconnectMax:     30 * time.Second,
		},
		Store: StoreConfig{Backend: "file", Dir: "./data/accounts"},
		HTTP:  HTTPConfig{Addr: ":8080"},
		Log:   LogConfig{Level: "info", MaxSizeMB: 100, MaxBackups: 3, MaxAgeDays: 28},
	}
}

// Get reads the YAML file at path, or the defaults when path is empty, and applies
// environment overrides.
func Get(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		cfg, err = getYaml(path)
		if err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var c ConfigTmp
	if err := yaml.Unmarshal(f, &c); err != nil {
		return Config{}, fmt.Errorf("invalid yaml config %s: %w", path, err)
	}

	return c.parse()
}

func (c ConfigTmp) parse() (Config, error) {
	cfg := Default()
	var err error

	setString(&cfg.UserID, c.UserID)
	setString(&cfg.BaseCurrency, c.BaseCurrency)
	setString(&cfg.Symbol, c.Symbol)
	if c.InitialBalance != "" {
		if cfg.InitialBalance, err = decimal.NewFromString(c.InitialBalance); err != nil {
			return Config{}, fmt.Errorf("incorrect 'initial_balance' param in yaml config (must be a decimal), error: %w", err)
		}
	}
	if c.Interval != "" {
		if cfg.Interval, err = domain.ParseInterval(c.Interval); err != nil {
			return Config{}, fmt.Errorf("incorrect 'interval' param in yaml config, error: %w", err)
		}
	}

	setString(&cfg.Market.Exchange, c.Market.Exchange)
	setString(&cfg.Market.APIKey, c.Market.APIKey)
	setString(&cfg.Market.APISecret, c.Market.APISecret)
	if c.Market.RequestsPerSecond != "" {
		if cfg.Market.RequestsPerSecond, err = strconv.ParseFloat(c.Market.RequestsPerSecond, 64); err != nil {
			return Config{}, fmt.Errorf("incorrect 'market.requests_per_second' param in yaml config (must be a number), error: %w", err)
		}
	}
	if err := parseDuration(&cfg.Market.FetchTimeout, c.Market.FetchTimeout, "market.fetch_timeout"); err != nil {
		return Config{}, err
	}
	if c.Market.FetchRetries != "" {
		if cfg.Market.FetchRetries, err = strconv.ParseUint(c.Market.FetchRetries, 10, 64); err != nil {
			return Config{}, fmt.Errorf("incorrect 'market.fetch_retries' param in yaml config (must be an unsigned integer), error: %w", err)
		}
	}

	setString(&cfg.Stream.URL, c.Stream.URL)
	setString(&cfg.Stream.Proxy, c.Stream.Proxy)
	if err := parseDuration(&cfg.Stream.ReadTimeout, c.Stream.ReadTimeout, "stream.read_timeout"); err != nil {
		return Config{}, err
	}
	if err := parseDuration(&cfg.Stream.PollInterval, c.Stream.PollInterval, "stream.poll_interval"); err != nil {
		return Config{}, err
	}
	if c.Stream.Reconnect != "" {
		if cfg.Stream.Reconnect, err = strconv.ParseBool(c.Stream.Reconnect); err != nil {
			return Config{}, fmt.Errorf("incorrect 'stream.reconnect' param in yaml config (must be true or false), error: %w", err)
		}
	}
	if err := parseDuration(&cfg.Stream.ReconnectInitial, c.Stream.ReconnectInitial, "stream.reconnect_initial"); err != nil {
		return Config{}, err
	}
	if err := parseDuration(&cfg.Stream.ReconnectMax, c.Stream.ReconnectMax, "stream.reconnect_max"); err != nil {
		return Config{}, err
	}

	setString(&cfg.Store.Backend, c.Store.Backend)
	setString(&cfg.Store.Dir, c.Store.Dir)
	setString(&cfg.HTTP.Addr, c.HTTP.Addr)

	setString(&cfg.Log.Level, c.Log.Level)
	setString(&cfg.Log.File, c.Log.File)
	for _, f := range []struct {
		dst  *int
		raw  string
		name string
	}{
		{&cfg.Market.Burst, c.Market.Burst, "market.burst"},
		{&cfg.Stream.ReconnectMaxAttempts, c.Stream.ReconnectMaxAttempts, "stream.reconnect_max_attempts"},
		{&cfg.Log.MaxSizeMB, c.Log.MaxSizeMB, "log.max_size_mb"},
		{&cfg.Log.MaxBackups, c.Log.MaxBackups, "log.max_backups"},
		{&cfg.Log.MaxAgeDays, c.Log.MaxAgeDays, "log.max_age_days"},
	} {
		if f.raw == "" {
			continue
		}
		if *f.dst, err = strconv.Atoi(f.raw); err != nil {
			return Config{}, fmt.Errorf("incorrect '%s' param in yaml config (must be an integer), error: %w", f.name, err)
		}
	}

	return cfg, nil
}

// Validate checks values that have no usable fallback.
func (c Config) Validate() error {
	if strings.TrimSpace(c.UserID) == "" {
		return fmt.Errorf("'user_id' must not be empty")
	}
	if strings.TrimSpace(c.BaseCurrency) == "" {
		return fmt.Errorf("'base_currency' must not be empty")
	}
	if c.InitialBalance.IsNegative() {
		return fmt.Errorf("'initial_balance' must not be negative, got %s", c.InitialBalance.String())
	}
	switch strings.ToLower(c.Market.Exchange) {
	case "binance", "bybit":
	default:
		return fmt.Errorf("unsupported exchange %q, use binance or bybit", c.Market.Exchange)
	}
	if c.Market.FetchTimeout <= 0 {
		return fmt.Errorf("'market.fetch_timeout' must be positive")
	}
	if c.Market.Burst < 0 {
		return fmt.Errorf("'market.burst' must not be negative")
	}
	if c.Stream.ReconnectMaxAttempts < 0 {
		return fmt.Errorf("'stream.reconnect_max_attempts' must not be negative")
	}
	if c.Stream.ReconnectInitial > c.Stream.ReconnectMax {
		return fmt.Errorf("'stream.reconnect_initial' must not exceed 'stream.reconnect_max'")
	}
	return nil
}

// APICredentials returns the configured keys, falling back to the exchange's environment variables.
func (c Config) APICredentials() (string, string) {
	if c.Market.APIKey != "" {
		return c.Market.APIKey, c.Market.APISecret
	}
	prefix := strings.ToUpper(c.Market.Exchange)
	return os.Getenv(prefix + "_API_KEY"), os.Getenv(prefix + "_API_SECRET")
}

// Marshal renders the config as YAML in the layout Get reads.
func (c Config) Marshal() ([]byte, error) {
	var t ConfigTmp
	t.UserID = c.UserID
	t.BaseCurrency = c.BaseCurrency
	t.InitialBalance = c.InitialBalance.String()
	t.Symbol = c.Symbol
	t.Interval = c.Interval.String()
	t.Market.Exchange = c.Market.Exchange
	t.Market.RequestsPerSecond = strconv.FormatFloat(c.Market.RequestsPerSecond, 'f', -1, 64)
	t.Market.Burst = strconv.Itoa(c.Market.Burst)
	t.Market.FetchTimeout = c.Market.FetchTimeout.String()
	t.Market.FetchRetries = strconv.FormatUint(c.Market.FetchRetries, 10)
	t.Stream.URL = c.Stream.URL
	t.Stream.Proxy = c.Stream.Proxy
	t.Stream.ReadTimeout = c.Stream.ReadTimeout.String()
	t.Stream.PollInterval = c.Stream.PollInterval.String()
	t.Stream.Reconnect = strconv.FormatBool(c.Stream.Reconnect)
	t.Stream.ReconnectInitial = c.Stream.ReconnectInitial.String()
	t.Stream.ReconnectMax = c.Stream.ReconnectMax.String()
	t.Stream.ReconnectMaxAttempts = strconv.Itoa(c.Stream.ReconnectMaxAttempts)
	t.Store.Backend = c.Store.Backend
	t.Store.Dir = c.Store.Dir
	t.HTTP.Addr = c.HTTP.Addr
	t.Log.Level = c.Log.Level
	t.Log.File = c.Log.File
	t.Log.MaxSizeMB = strconv.Itoa(c.Log.MaxSizeMB)
	t.Log.MaxBackups = strconv.Itoa(c.Log.MaxBackups)
	t.Log.MaxAgeDays = strconv.Itoa(c.Log.MaxAgeDays)
	return yaml.Marshal(t)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvUserID); v != "" {
		cfg.UserID = v
	}
	if v := os.Getenv(EnvStoreDir); v != "" {
		cfg.Store.Dir = v
	}
	if v := os.Getenv(EnvHTTPAddr); v != "" {
		cfg.HTTP.Addr = v
	}
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func parseDuration(dst *time.Duration, raw, name string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("incorrect '%s' param in yaml config (correct format is 30s), error: %w", name, err)
	}
	*dst = d
	return nil
}
