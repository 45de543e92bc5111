// Package config defines the top-level configuration for the arena and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARENA_* environment variables.
type Config struct {
	Arena      ArenaConfig            `toml:"arena"`
	Memory     MemoryConfig           `toml:"memory"`
	LLM        LLMConfig              `toml:"llm"`
	Models     map[string]ModelConfig `toml:"models"`
	Broker     BrokerConfig           `toml:"broker"`
	MarketData MarketDataConfig       `toml:"market_data"`
	Store      StoreConfig            `toml:"store"`
	Postgres   PostgresConfig         `toml:"postgres"`
	Redis      RedisConfig            `toml:"redis"`
	S3         S3Config               `toml:"s3"`
	Archive    ArchiveConfig          `toml:"archive"`
	Server     ServerConfig           `toml:"server"`
	Notify     NotifyConfig           `toml:"notify"`
	Mode       string                 `toml:"mode"`
	LogLevel   string                 `toml:"log_level"`
}

// ArenaConfig holds the tick cadence, the competing agents and the risk
// ceilings they trade under.
type ArenaConfig struct {
	Symbols          []string `toml:"symbols"`
	Agents           []string `toml:"agents"`
	DecisionInterval duration `toml:"decision_interval"`
	MinCallInterval  duration `toml:"min_call_interval"`
	DecisionTimeout  duration `toml:"decision_timeout"`
	MaxPositionUSD   float64  `toml:"max_position_usd"`
	MaxOrderUSD      float64  `toml:"max_order_usd"`
	StartingCash     float64  `toml:"starting_cash"`
	PriceConcurrency int      `toml:"price_concurrency"`
	DryRun           bool     `toml:"dry_run"`
	QueueOffHours    bool     `toml:"queue_off_hours"`
	// LockTTL bounds how long the cross-process tick lock is held when Redis
	// is enabled.
	LockTTL duration `toml:"lock_ttl"`
}

// MemoryConfig controls the persisted context handed to LLM agents.
type MemoryConfig struct {
	Enabled          bool `toml:"enabled"`
	ContextMaxItems  int  `toml:"context_max_items"`
	SummaryMaxTokens int  `toml:"summary_max_tokens"`
}

// LLMConfig holds settings shared by every LLM-backed agent.
type LLMConfig struct {
	Temperature       float64 `toml:"temperature"`
	MaxTokens         int     `toml:"max_tokens"`
	OpenRouterAPIKey  string  `toml:"openrouter_api_key"`
	OpenRouterReferer string  `toml:"openrouter_referer"`
	OpenRouterTitle   string  `toml:"openrouter_title"`
}

// ModelConfig selects the provider behind one agent id.
type ModelConfig struct {
	Provider string `toml:"provider"` // openai, openrouter, mock; empty selects a rule-based bot
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	Endpoint string `toml:"endpoint"`
}

// BrokerConfig holds Alpaca paper-trading credentials and endpoints.
type BrokerConfig struct {
	KeyID               string   `toml:"key_id"`
	SecretKey           string   `toml:"secret_key"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	TradingURL          string   `toml:"trading_url"`
	DataURL             string   `toml:"data_url"`
	Timeout             duration `toml:"timeout"`
}

// MarketDataConfig selects where latest prices come from.
type MarketDataConfig struct {
	Provider   string `toml:"provider"` // alpaca or binance
	BinanceURL string `toml:"binance_url"`
}

// StoreConfig selects the primary persistence driver.
type StoreConfig struct {
	Driver string `toml:"driver"` // postgres or memory
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// ArchiveConfig controls the cold-storage export of aged rows.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	// RateLimit is requests per minute per client IP; 0 disables it. Only
	// enforced when Redis is enabled.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Arena: ArenaConfig{
			Symbols:          []string{"AAPL", "MSFT"},
			Agents:           []string{"botA", "botB"},
			DecisionInterval: duration{60 * time.Second},
			MinCallInterval:  duration{5 * time.Minute},
			DecisionTimeout:  duration{30 * time.Second},
			MaxPositionUSD:   1000,
			MaxOrderUSD:      250,
			StartingCash:     10000,
			PriceConcurrency: 8,
			LockTTL:          duration{2 * time.Minute},
		},
		Memory: MemoryConfig{
			Enabled:          false,
			ContextMaxItems:  50,
			SummaryMaxTokens: 256,
		},
		LLM: LLMConfig{
			Temperature:     0.2,
			MaxTokens:       400,
			OpenRouterTitle: "arena",
		},
		Models: map[string]ModelConfig{},
		Broker: BrokerConfig{
			TradingURL: "https://paper-api.alpaca.markets",
			DataURL:    "https://data.alpaca.markets",
			Timeout:    duration{8 * time.Second},
		},
		MarketData: MarketDataConfig{
			Provider:   "alpaca",
			BinanceURL: "https://testnet.binance.vision",
		},
		Store: StoreConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "arena",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "arena-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Cron:          "0 3 * * *",
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8080,
			CORSOrigins: []string{"*"},
		},
		Notify: NotifyConfig{
			Events: []string{"backoff", "order_error", "reconcile_error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"full":         true,
	"orchestrator": true,
	"server":       true,
	"once":         true,
	"leaderboard":  true,
	"ping":         true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validProviders = map[string]bool{
	"":           true,
	"openai":     true,
	"openrouter": true,
	"mock":       true,
}

// NeedsBroker reports whether the configured mode talks to the brokerage.
func (c *Config) NeedsBroker() bool {
	switch strings.ToLower(c.Mode) {
	case "full", "orchestrator", "once", "ping":
		return true
	}
	return false
}

// Normalize trims, uppercases and de-duplicates symbols and trims agent ids.
// Load calls it; callers building a Config by hand should too.
func (c *Config) Normalize() {
	c.Arena.Symbols = normalizeSymbols(c.Arena.Symbols)
	agents := make([]string, 0, len(c.Arena.Agents))
	for _, a := range c.Arena.Agents {
		if a = strings.TrimSpace(a); a != "" {
			agents = append(agents, a)
		}
	}
	c.Arena.Agents = agents
	c.Mode = strings.ToLower(strings.TrimSpace(c.Mode))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
}

func normalizeSymbols(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// Model returns the provider settings for agent id, or the zero value.
func (c *Config) Model(id string) ModelConfig {
	if c.Models == nil {
		return ModelConfig{}
	}
	return c.Models[id]
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: full, orchestrator, server, once, leaderboard, ping)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Arena
	if len(c.Arena.Symbols) == 0 {
		errs = append(errs, "arena: symbols must not be empty")
	}
	if len(c.Arena.Agents) == 0 {
		errs = append(errs, "arena: agents must not be empty")
	}
	seen := make(map[string]bool, len(c.Arena.Agents))
	for _, a := range c.Arena.Agents {
		if seen[a] {
			errs = append(errs, fmt.Sprintf("arena: duplicate agent %q", a))
		}
		seen[a] = true
	}
	if c.Arena.DecisionInterval.Duration <= 0 {
		errs = append(errs, "arena: decision_interval must be > 0")
	}
	if c.Arena.MinCallInterval.Duration < 0 {
		errs = append(errs, "arena: min_call_interval must be >= 0")
	}
	if c.Arena.MaxPositionUSD <= 0 {
		errs = append(errs, "arena: max_position_usd must be > 0")
	}
	if c.Arena.MaxOrderUSD <= 0 {
		errs = append(errs, "arena: max_order_usd must be > 0")
	}
	if c.Arena.StartingCash <= 0 {
		errs = append(errs, "arena: starting_cash must be > 0")
	}
	if c.Arena.PriceConcurrency < 1 {
		errs = append(errs, "arena: price_concurrency must be >= 1")
	}

	// Memory
	if c.Memory.Enabled {
		if c.Memory.ContextMaxItems < 1 {
			errs = append(errs, "memory: context_max_items must be >= 1")
		}
		if c.Memory.SummaryMaxTokens < 1 {
			errs = append(errs, "memory: summary_max_tokens must be >= 1")
		}
	}

	// Models
	for id, m := range c.Models {
		if !validProviders[strings.ToLower(m.Provider)] {
			errs = append(errs, fmt.Sprintf("models.%s: unknown provider %q (valid: openai, openrouter, mock)", id, m.Provider))
		}
	}

	// Broker key pair is required whenever the mode reaches the brokerage.
	if c.NeedsBroker() {
		if c.Broker.KeyID == "" {
			errs = append(errs, "broker: key_id must be set for mode "+c.Mode)
		}
		if c.Broker.SecretKey == "" && c.Broker.EncryptedSecretPath == "" {
			errs = append(errs, "broker: either secret_key or encrypted_secret_path must be set for mode "+c.Mode)
		}
		if c.Broker.EncryptedSecretPath != "" && c.Broker.SecretPassword == "" {
			errs = append(errs, "broker: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Broker.TradingURL == "" {
		errs = append(errs, "broker: trading_url must not be empty")
	}
	if c.Broker.DataURL == "" {
		errs = append(errs, "broker: data_url must not be empty")
	}

	// Market data
	switch strings.ToLower(c.MarketData.Provider) {
	case "alpaca":
	case "binance":
		if c.MarketData.BinanceURL == "" {
			errs = append(errs, "market_data: binance_url must not be empty")
		}
	default:
		errs = append(errs, fmt.Sprintf("market_data: unknown provider %q (valid: alpaca, binance)", c.MarketData.Provider))
	}

	// Store
	switch strings.ToLower(c.Store.Driver) {
	case "memory":
	case "postgres":
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	default:
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Archive needs S3 and a durable store to read from.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if strings.ToLower(c.Store.Driver) != "postgres" {
			errs = append(errs, "archive: requires store.driver = postgres")
		}
	}

	// Server
	if c.Server.Enabled || c.Mode == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server: rate_limit must be >= 0")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
