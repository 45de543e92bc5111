package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ARENA_* environment variable overrides, and
// returns the final Config. A missing file is not an error so the arena can
// be configured from the environment alone. The returned Config has NOT been
// validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	cfg.Normalize()

	return &cfg, nil
}

// applyEnvOverrides reads well-known ARENA_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). The unprefixed names accepted alongside them are the variables
// earlier arena deployments were configured with.
func applyEnvOverrides(cfg *Config) {
	// ── Arena ──
	setStringSlice(&cfg.Arena.Symbols, "SYMBOLS") // compatibility alias
	setStringSlice(&cfg.Arena.Symbols, "ARENA_SYMBOLS")
	setStringSlice(&cfg.Arena.Agents, "MODELS") // compatibility alias
	setStringSlice(&cfg.Arena.Agents, "ARENA_AGENTS")
	setMillis(&cfg.Arena.DecisionInterval, "DECISION_INTERVAL_MS") // compatibility alias
	setDuration(&cfg.Arena.DecisionInterval, "ARENA_DECISION_INTERVAL")
	setMillis(&cfg.Arena.MinCallInterval, "LLM_MIN_CALL_INTERVAL_MS") // compatibility alias
	setDuration(&cfg.Arena.MinCallInterval, "ARENA_MIN_CALL_INTERVAL")
	setDuration(&cfg.Arena.DecisionTimeout, "ARENA_DECISION_TIMEOUT")
	setFloat64(&cfg.Arena.MaxPositionUSD, "MAX_POSITION_USD") // compatibility alias
	setFloat64(&cfg.Arena.MaxPositionUSD, "ARENA_MAX_POSITION_USD")
	setFloat64(&cfg.Arena.MaxOrderUSD, "MAX_ORDER_USD") // compatibility alias
	setFloat64(&cfg.Arena.MaxOrderUSD, "ARENA_MAX_ORDER_USD")
	setFloat64(&cfg.Arena.StartingCash, "STARTING_CASH_PER_MODEL") // compatibility alias
	setFloat64(&cfg.Arena.StartingCash, "ARENA_STARTING_CASH")
	setInt(&cfg.Arena.PriceConcurrency, "PRICE_CONCURRENCY") // compatibility alias
	setInt(&cfg.Arena.PriceConcurrency, "ARENA_PRICE_CONCURRENCY")
	setBool(&cfg.Arena.DryRun, "DRY_RUN") // compatibility alias
	setBool(&cfg.Arena.DryRun, "ARENA_DRY_RUN")
	setBool(&cfg.Arena.QueueOffHours, "QUEUE_OFF_HOURS") // compatibility alias
	setBool(&cfg.Arena.QueueOffHours, "ARENA_QUEUE_OFF_HOURS")
	setDuration(&cfg.Arena.LockTTL, "ARENA_LOCK_TTL")

	// ── Memory ──
	setBool(&cfg.Memory.Enabled, "ENABLE_MODEL_MEMORY") // compatibility alias
	setBool(&cfg.Memory.Enabled, "ARENA_MEMORY_ENABLED")
	setInt(&cfg.Memory.ContextMaxItems, "CONTEXT_MAX_ITEMS") // compatibility alias
	setInt(&cfg.Memory.ContextMaxItems, "ARENA_MEMORY_CONTEXT_MAX_ITEMS")
	setInt(&cfg.Memory.SummaryMaxTokens, "SUMMARY_MAX_TOKENS") // compatibility alias
	setInt(&cfg.Memory.SummaryMaxTokens, "ARENA_MEMORY_SUMMARY_MAX_TOKENS")

	// ── LLM ──
	setFloat64(&cfg.LLM.Temperature, "LLM_TEMPERATURE") // compatibility alias
	setFloat64(&cfg.LLM.Temperature, "ARENA_LLM_TEMPERATURE")
	setInt(&cfg.LLM.MaxTokens, "LLM_MAX_TOKENS") // compatibility alias
	setInt(&cfg.LLM.MaxTokens, "ARENA_LLM_MAX_TOKENS")
	setStr(&cfg.LLM.OpenRouterAPIKey, "OPENROUTER_API_KEY") // compatibility alias
	setStr(&cfg.LLM.OpenRouterAPIKey, "ARENA_LLM_OPENROUTER_API_KEY")
	setStr(&cfg.LLM.OpenRouterReferer, "OPENROUTER_REFERRER") // compatibility alias
	setStr(&cfg.LLM.OpenRouterReferer, "ARENA_LLM_OPENROUTER_REFERER")
	setStr(&cfg.LLM.OpenRouterTitle, "OPENROUTER_APP_TITLE") // compatibility alias
	setStr(&cfg.LLM.OpenRouterTitle, "ARENA_LLM_OPENROUTER_TITLE")

	// ── Models ── per-agent provider settings, resolved after the agent list.
	applyModelOverrides(cfg)

	// ── Broker ──
	setStr(&cfg.Broker.KeyID, "ALPACA_API_KEY_ID") // compatibility alias
	setStr(&cfg.Broker.KeyID, "ARENA_BROKER_KEY_ID")
	setStr(&cfg.Broker.SecretKey, "ALPACA_API_SECRET_KEY") // compatibility alias
	setStr(&cfg.Broker.SecretKey, "ARENA_BROKER_SECRET_KEY")
	setStr(&cfg.Broker.EncryptedSecretPath, "ARENA_BROKER_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Broker.SecretPassword, "ARENA_BROKER_SECRET_PASSWORD")
	setStr(&cfg.Broker.TradingURL, "ALPACA_PAPER_BASE_URL") // compatibility alias
	setStr(&cfg.Broker.TradingURL, "ARENA_BROKER_TRADING_URL")
	setStr(&cfg.Broker.DataURL, "ALPACA_DATA_BASE_URL") // compatibility alias
	setStr(&cfg.Broker.DataURL, "ARENA_BROKER_DATA_URL")
	setDuration(&cfg.Broker.Timeout, "ARENA_BROKER_TIMEOUT")

	// ── Market data ──
	setStr(&cfg.MarketData.Provider, "ARENA_MARKET_DATA_PROVIDER")
	setStr(&cfg.MarketData.BinanceURL, "ARENA_MARKET_DATA_BINANCE_URL")

	// ── Store ──
	setStr(&cfg.Store.Driver, "ARENA_STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.DSN, "ARENA_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "ARENA_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ARENA_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ARENA_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ARENA_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ARENA_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ARENA_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ARENA_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ARENA_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ARENA_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "ARENA_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "ARENA_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ARENA_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ARENA_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ARENA_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ARENA_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ARENA_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "ARENA_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ARENA_S3_REGION")
	setStr(&cfg.S3.Bucket, "ARENA_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "ARENA_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ARENA_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ARENA_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ARENA_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARENA_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARENA_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "ARENA_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "ARENA_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PORT") // compatibility alias
	setInt(&cfg.Server.Port, "ARENA_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ARENA_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ARENA_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ARENA_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ARENA_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ARENA_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ARENA_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ARENA_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ARENA_MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL") // compatibility alias
	setStr(&cfg.LogLevel, "ARENA_LOG_LEVEL")
}

// applyModelOverrides reads MODEL_<id>_PROVIDER, _MODEL, _API_KEY and
// _ENDPOINT for every configured agent id.
func applyModelOverrides(cfg *Config) {
	if cfg.Models == nil {
		cfg.Models = map[string]ModelConfig{}
	}
	for _, raw := range cfg.Arena.Agents {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		m := cfg.Models[id]
		prefix := "MODEL_" + id + "_"
		setStr(&m.Provider, prefix+"PROVIDER")
		setStr(&m.Model, prefix+"MODEL")
		setStr(&m.APIKey, prefix+"API_KEY")
		setStr(&m.Endpoint, prefix+"ENDPOINT")
		// Unexpanded ${VAR} placeholders in .env files count as unset.
		if strings.Contains(m.APIKey, "${") {
			m.APIKey = ""
		}
		m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
		if m != (ModelConfig{}) {
			cfg.Models[id] = m
		}
	}
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

// setMillis reads an integer millisecond count.
func setMillis(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			dst.Duration = time.Duration(n) * time.Millisecond
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
