package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/cryptoscan/internal/application/scan"
	"github.com/sawpanic/cryptoscan/internal/data/venue/binance"
	"github.com/sawpanic/cryptoscan/internal/data/venue/mexc"
	"github.com/sawpanic/cryptoscan/internal/domain/scoring"
	"github.com/sawpanic/cryptoscan/internal/models"
	"github.com/sawpanic/cryptoscan/internal/net/circuit"
	"github.com/sawpanic/cryptoscan/internal/scheduler"
)

// DefaultPath is where the serve command looks for its config file
const DefaultPath = "config/cryptoscan.yaml"

// Config is the complete cryptoscan configuration
type Config struct {
	LogLevel string                 `yaml:"log_level"`
	Server   ServerConfig           `yaml:"server"`
	Venues   map[string]VenueConfig `yaml:"venues"`
	Fetch    FetchConfig            `yaml:"fetch"`
	Breaker  circuit.Config         `yaml:"breaker"`
	Cache    CacheConfig            `yaml:"cache"`
	Scan     ScanConfig             `yaml:"scan"`
	Gates    GatesConfig            `yaml:"gates"`
	Schedule ScheduleConfig         `yaml:"schedule"`
	Stream   StreamConfig           `yaml:"stream"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	RequestTimeoutMS int    `yaml:"request_timeout_ms"` // Per-request deadline, scans included
}

// VenueConfig is one (exchange, market) upstream
type VenueConfig struct {
	Endpoints []string `yaml:"endpoints"` // Ordered base URLs, first success wins
	RPS       float64  `yaml:"rps"`       // Requests per second per host
	Burst     int      `yaml:"burst"`     // Burst capacity per host
}

// FetchConfig applies to every upstream call
type FetchConfig struct {
	TimeoutMS int `yaml:"timeout_ms"`
}

// CacheConfig configures the ticker cache
type CacheConfig struct {
	RedisAddr  string `yaml:"redis_addr"` // Empty means in-memory
	Prefix     string `yaml:"prefix"`
	TickerTTL  int    `yaml:"ticker_ttl_secs"`
	MaxEntries int    `yaml:"max_entries"`
}

// ScanConfig holds the default scan options and pool tuning
type ScanConfig struct {
	Market          string `yaml:"market"`
	Interval        string `yaml:"interval"`
	Lookback        int    `yaml:"lookback"`
	MaxPerExchange  int    `yaml:"max_per_exchange"`
	Workers         int    `yaml:"workers"`
	ExchangeDelayMS int    `yaml:"exchange_delay_ms"`
}

// GatesConfig overrides the evaluator's hard gates
type GatesConfig struct {
	MinPrice       float64 `yaml:"min_price"`
	MinQuoteVolume float64 `yaml:"min_quote_volume"`
}

// ScheduleConfig lists periodic scans
type ScheduleConfig struct {
	TimeoutSecs int             `yaml:"timeout_secs"`
	Jobs        []scheduler.Job `yaml:"jobs"`
}

// StreamConfig configures the live Binance kline stream
type StreamConfig struct {
	Enabled     bool     `yaml:"enabled"`
	URL         string   `yaml:"url"`
	Symbols     []string `yaml:"symbols"`
	Interval    string   `yaml:"interval"`
	ReconnectMS int      `yaml:"reconnect_ms"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server:   ServerConfig{Host: "0.0.0.0", Port: 8080, RequestTimeoutMS: 60_000},
		Venues: map[string]VenueConfig{
			"binance_spot":    {Endpoints: binance.SpotBases, RPS: 10, Burst: 20},
			"binance_futures": {Endpoints: binance.FuturesBases, RPS: 10, Burst: 20},
			"mexc_spot":       {Endpoints: mexc.SpotBases, RPS: 5, Burst: 10},
			"mexc_futures":    {Endpoints: mexc.FuturesBases, RPS: 5, Burst: 10},
		},
		Fetch:   FetchConfig{TimeoutMS: 6000},
		Breaker: circuit.DefaultConfig(),
		Cache:   CacheConfig{Prefix: "cryptoscan:", TickerTTL: 15, MaxEntries: 256},
		Scan: ScanConfig{
			Market:          string(models.MarketSpot),
			Interval:        string(scan.DefaultInterval),
			Lookback:        scan.DefaultLookback,
			MaxPerExchange:  scan.DefaultMaxPerExchange,
			Workers:         4,
			ExchangeDelayMS: 40,
		},
		Gates: GatesConfig{
			MinPrice:       scoring.DefaultPolicy().MinPrice,
			MinQuoteVolume: scoring.DefaultPolicy().MinQuoteVolume,
		},
		Schedule: ScheduleConfig{TimeoutSecs: 120},
		Stream: StreamConfig{
			URL:         "wss://stream.binance.com:9443/stream",
			Symbols:     []string{"BTCUSDT"},
			Interval:    "5m",
			ReconnectMS: 5000,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and validates.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.fillVenueDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// fillVenueDefaults restores endpoints for venues the file left empty
func (c *Config) fillVenueDefaults() {
	defaults := Default().Venues
	if c.Venues == nil {
		c.Venues = defaults
		return
	}
	for name, d := range defaults {
		v, ok := c.Venues[name]
		if !ok {
			c.Venues[name] = d
			continue
		}
		if len(v.Endpoints) == 0 {
			v.Endpoints = d.Endpoints
		}
		c.Venues[name] = v
	}
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides file values with LOG_LEVEL, HTTP_PORT, REDIS_ADDR and CRYPTOSCAN_*
func (c *Config) applyEnv(lookup lookupFunc) error {
	if v, ok := lookup("LOG_LEVEL"); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup("HTTP_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("HTTP_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v, ok := lookup("REDIS_ADDR"); ok {
		c.Cache.RedisAddr = v
	}
	if v, ok := lookup("CRYPTOSCAN_MARKET"); ok && v != "" {
		c.Scan.Market = v
	}
	if v, ok := lookup("CRYPTOSCAN_INTERVAL"); ok && v != "" {
		c.Scan.Interval = v
	}
	if v, ok := lookup("CRYPTOSCAN_TIMEOUT_MS"); ok && v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("CRYPTOSCAN_TIMEOUT_MS: %w", err)
		}
		c.Fetch.TimeoutMS = ms
	}
	if v, ok := lookup("CRYPTOSCAN_STREAM_ENABLED"); ok && v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("CRYPTOSCAN_STREAM_ENABLED: %w", err)
		}
		c.Stream.Enabled = on
	}
	if v, ok := lookup("CRYPTOSCAN_STREAM_SYMBOLS"); ok && v != "" {
		c.Stream.Symbols = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.ToUpper(strings.TrimSpace(p)); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate ensures the configuration is valid and consistent
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if c.Fetch.TimeoutMS <= 0 {
		return fmt.Errorf("fetch timeout_ms must be positive, got %d", c.Fetch.TimeoutMS)
	}
	if c.Cache.TickerTTL < 0 {
		return fmt.Errorf("cache ticker_ttl_secs cannot be negative, got %d", c.Cache.TickerTTL)
	}

	for name, v := range c.Venues {
		if _, err := VenueFromKey(name); err != nil {
			return err
		}
		if err := v.Validate(); err != nil {
			return fmt.Errorf("venue %s: %w", name, err)
		}
	}

	if _, err := c.ScanOptions().Normalize(); err != nil {
		return fmt.Errorf("scan: %w", err)
	}
	if c.Scan.Workers < 0 {
		return fmt.Errorf("scan workers cannot be negative, got %d", c.Scan.Workers)
	}
	if c.Gates.MinPrice < 0 || c.Gates.MinQuoteVolume < 0 {
		return fmt.Errorf("gates cannot be negative")
	}

	seen := make(map[string]bool, len(c.Schedule.Jobs))
	for _, j := range c.Schedule.Jobs {
		if err := j.Validate(); err != nil {
			return fmt.Errorf("schedule: %w", err)
		}
		if seen[j.Name] {
			return fmt.Errorf("schedule: duplicate job %s", j.Name)
		}
		seen[j.Name] = true
	}

	if c.Stream.Enabled {
		if len(c.Stream.Symbols) == 0 {
			return fmt.Errorf("stream enabled without symbols")
		}
		if _, err := models.ParseInterval(c.Stream.Interval); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		u, err := url.Parse(c.Stream.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			return fmt.Errorf("stream url must be ws:// or wss://, got %q", c.Stream.URL)
		}
	}
	return nil
}

// Validate ensures a venue configuration is valid
func (v VenueConfig) Validate() error {
	if len(v.Endpoints) == 0 {
		return fmt.Errorf("endpoints cannot be empty")
	}
	for _, e := range v.Endpoints {
		u, err := url.Parse(e)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("invalid endpoint %q", e)
		}
	}
	if v.RPS < 0 {
		return fmt.Errorf("rps cannot be negative, got %v", v.RPS)
	}
	if v.Burst < 0 {
		return fmt.Errorf("burst cannot be negative, got %d", v.Burst)
	}
	return nil
}

// VenueFromKey parses keys like binance_spot or mexc_futures
func VenueFromKey(key string) (models.Venue, error) {
	ex, mk, ok := strings.Cut(key, "_")
	if !ok {
		return models.Venue{}, fmt.Errorf("invalid venue key %q", key)
	}
	exchange, err := models.ParseExchange(ex)
	if err != nil {
		return models.Venue{}, fmt.Errorf("venue %q: %w", key, err)
	}
	market, err := models.ParseMarket(mk)
	if err != nil || market == models.MarketBoth || mk == "" {
		return models.Venue{}, fmt.Errorf("venue %q: %w", key, models.ErrInvalidMarket)
	}
	return models.Venue{Exchange: exchange, Market: market}, nil
}

// Venue returns the settings for v
func (c *Config) Venue(v models.Venue) VenueConfig {
	return c.Venues[v.String()]
}

// ScanOptions returns the default scan options
func (c *Config) ScanOptions() scan.Options {
	return scan.Options{
		Market:         models.Market(c.Scan.Market),
		Interval:       models.Interval(c.Scan.Interval),
		Lookback:       c.Scan.Lookback,
		MaxPerExchange: c.Scan.MaxPerExchange,
	}
}

// Policy returns the scoring policy with the configured gates applied
func (c *Config) Policy() scoring.Policy {
	p := scoring.DefaultPolicy()
	p.MinPrice = c.Gates.MinPrice
	p.MinQuoteVolume = c.Gates.MinQuoteVolume
	return p
}

// GetFetchTimeout returns the per-call upstream deadline
func (c *Config) GetFetchTimeout() time.Duration {
	return time.Duration(c.Fetch.TimeoutMS) * time.Millisecond
}

// GetTickerTTL returns the ticker cache TTL
func (c *Config) GetTickerTTL() time.Duration {
	return time.Duration(c.Cache.TickerTTL) * time.Second
}

// GetRequestTimeout returns the HTTP request deadline
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Server.RequestTimeoutMS) * time.Millisecond
}

// GetScheduleTimeout bounds one scheduled scan
func (c *Config) GetScheduleTimeout() time.Duration {
	return time.Duration(c.Schedule.TimeoutSecs) * time.Second
}

// GetExchangeDelay returns the pause between the two exchanges of one symbol
func (c *Config) GetExchangeDelay() time.Duration {
	return time.Duration(c.Scan.ExchangeDelayMS) * time.Millisecond
}

// GetReconnectDelay returns the stream reconnect backoff
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Stream.ReconnectMS) * time.Millisecond
}

// Addr returns the listen address
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
