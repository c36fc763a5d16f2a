package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"cryptofetcher/internal/coordinator"
	"cryptofetcher/internal/csvstore"
	"cryptofetcher/internal/fetcher"
	"cryptofetcher/internal/ratelimit"
)

// Config holds all configuration for the crypto fetcher jobs.
type Config struct {
	// Upstream APIs (base URLs configurable for testing)
	CoinGeckoBaseURL string `mapstructure:"coingecko_base_url"`
	CoinGeckoAPIKey  string `mapstructure:"coingecko_api_key"`
	YahooBaseURL     string `mapstructure:"yahoo_base_url"`

	// Filesystem layout
	TickersDir  string `mapstructure:"tickers_dir"`
	DataDir     string `mapstructure:"data_dir"`
	ListingFile string `mapstructure:"listing_file"`

	// Jobs
	DiscoveryLimit int           `mapstructure:"discovery_limit"`
	FetchWindow    time.Duration `mapstructure:"fetch_window"`
	FetchInterval  string        `mapstructure:"fetch_interval"`
	Concurrency    int           `mapstructure:"concurrency"`

	// HTTP behaviour
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RetryCount     int           `mapstructure:"retry_count"`
	CoinGeckoRPS   float64       `mapstructure:"coingecko_rps"`
	YahooRPS       float64       `mapstructure:"yahoo_rps"`

	LogLevel string `mapstructure:"log_level"`
}

// envBindings maps config keys to environment variable names.
var envBindings = map[string]string{
	"coingecko_base_url": "COINGECKO_BASE_URL",
	"coingecko_api_key":  "COINGECKO_API_KEY",
	"yahoo_base_url":     "YAHOO_BASE_URL",
	"tickers_dir":        "CRYPTO_TICKERS_DIR",
	"data_dir":           "CRYPTO_DATA_DIR",
	"listing_file":       "CRYPTO_LISTING_FILE",
	"discovery_limit":    "DISCOVERY_LIMIT",
	"fetch_window":       "FETCH_WINDOW",
	"fetch_interval":     "FETCH_INTERVAL",
	"concurrency":        "FETCH_CONCURRENCY",
	"request_timeout":    "REQUEST_TIMEOUT",
	"retry_count":        "HTTP_RETRY_COUNT",
	"coingecko_rps":      "COINGECKO_RPS",
	"yahoo_rps":          "YAHOO_RPS",
	"log_level":          "LOG_LEVEL",
}

// Load reads configuration from defaults, an optional config file and
// environment variables. Environment variables take precedence over config
// file values.
//
// If configFile is empty, config.yaml is looked up in the working directory
// and in $HOME/.cryptofetcher; a missing file is not an error. An explicit
// configFile must exist.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("coingecko_base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("coingecko_api_key", "")
	v.SetDefault("yahoo_base_url", "https://query2.finance.yahoo.com")
	v.SetDefault("tickers_dir", "crypto_tickers")
	v.SetDefault("data_dir", "crypto_data")
	v.SetDefault("listing_file", "top_crypto_list.csv")
	v.SetDefault("discovery_limit", 100)
	v.SetDefault("fetch_window", coordinator.DefaultWindow)
	v.SetDefault("fetch_interval", coordinator.DefaultInterval)
	v.SetDefault("concurrency", 1)
	v.SetDefault("request_timeout", 30*time.Second)
	v.SetDefault("retry_count", 0)
	v.SetDefault("coingecko_rps", 0)
	v.SetDefault("yahoo_rps", 0)
	v.SetDefault("log_level", "info")

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.cryptofetcher")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var invalid []string
	if c.CoinGeckoBaseURL == "" {
		invalid = append(invalid, "COINGECKO_BASE_URL is empty")
	}
	if c.YahooBaseURL == "" {
		invalid = append(invalid, "YAHOO_BASE_URL is empty")
	}
	if c.TickersDir == "" {
		invalid = append(invalid, "CRYPTO_TICKERS_DIR is empty")
	}
	if c.DataDir == "" {
		invalid = append(invalid, "CRYPTO_DATA_DIR is empty")
	}
	if c.ListingFile == "" {
		invalid = append(invalid, "CRYPTO_LISTING_FILE is empty")
	}
	if c.DiscoveryLimit <= 0 {
		invalid = append(invalid, fmt.Sprintf("DISCOVERY_LIMIT must be positive, got %d", c.DiscoveryLimit))
	}
	if c.FetchWindow <= 0 {
		invalid = append(invalid, fmt.Sprintf("FETCH_WINDOW must be positive, got %s", c.FetchWindow))
	}
	if c.FetchInterval == "" {
		invalid = append(invalid, "FETCH_INTERVAL is empty")
	}
	if c.Concurrency < 1 {
		invalid = append(invalid, fmt.Sprintf("FETCH_CONCURRENCY must be at least 1, got %d", c.Concurrency))
	}
	if c.RequestTimeout <= 0 {
		invalid = append(invalid, fmt.Sprintf("REQUEST_TIMEOUT must be positive, got %s", c.RequestTimeout))
	}
	if c.RetryCount < 0 {
		invalid = append(invalid, fmt.Sprintf("HTTP_RETRY_COUNT must not be negative, got %d", c.RetryCount))
	}
	if c.CoinGeckoRPS < 0 || c.YahooRPS < 0 {
		invalid = append(invalid, "rate limits must not be negative")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		invalid = append(invalid, err.Error())
	}

	if len(invalid) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(invalid, "; "))
	}
	return nil
}

// Layout returns the filesystem layout for csvstore.
func (c *Config) Layout() csvstore.Layout {
	return csvstore.Layout{
		TickersDir:  c.TickersDir,
		DataDir:     c.DataDir,
		ListingFile: c.ListingFile,
	}
}

// HTTPOptions returns the shared upstream client options.
func (c *Config) HTTPOptions() fetcher.HTTPOptions {
	return fetcher.HTTPOptions{
		RetryCount: c.RetryCount,
		Timeout:    c.RequestTimeout,
	}
}

// FetchOptions returns the historical batch options.
func (c *Config) FetchOptions() coordinator.Options {
	return coordinator.Options{
		Window:      c.FetchWindow,
		Interval:    c.FetchInterval,
		Concurrency: c.Concurrency,
	}
}

// RateLimits returns the per-API request budgets.
func (c *Config) RateLimits() map[ratelimit.API]float64 {
	return map[ratelimit.API]float64{
		ratelimit.APICoinGecko: c.CoinGeckoRPS,
		ratelimit.APIYahoo:     c.YahooRPS,
	}
}

// ParseLevel maps a log level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q is not one of debug, info, warn, error", name)
	}
	return level, nil
}
