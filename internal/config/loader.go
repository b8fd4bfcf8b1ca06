package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies ESCROW_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load. An empty path skips the
// file and uses defaults plus environment.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known ESCROW_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "ESCROW_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "ESCROW_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "ESCROW_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "ESCROW_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "ESCROW_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "ESCROW_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "ESCROW_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "ESCROW_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "ESCROW_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "ESCROW_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "ESCROW_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "ESCROW_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "ESCROW_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "ESCROW_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "ESCROW_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "ESCROW_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.MarketCacheTTL, "ESCROW_REDIS_MARKET_CACHE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "ESCROW_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "ESCROW_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "ESCROW_S3_REGION")
	setStr(&cfg.S3.Bucket, "ESCROW_S3_BUCKET")
	setStr(&cfg.S3.Prefix, "ESCROW_S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "ESCROW_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "ESCROW_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "ESCROW_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "ESCROW_S3_FORCE_PATH_STYLE")

	// ── Ledger ──
	setStr(&cfg.Ledger.RPCURL, "ESCROW_LEDGER_RPC_URL")
	setStr(&cfg.Ledger.TokenContract, "ESCROW_LEDGER_TOKEN_CONTRACT")
	setInt(&cfg.Ledger.TokenDecimals, "ESCROW_LEDGER_TOKEN_DECIMALS")
	setInt(&cfg.Ledger.MinConfirmations, "ESCROW_LEDGER_MIN_CONFIRMATIONS")
	setDuration(&cfg.Ledger.CallTimeout, "ESCROW_LEDGER_CALL_TIMEOUT")
	setFloat64(&cfg.Ledger.RequestsPerSecond, "ESCROW_LEDGER_REQUESTS_PER_SECOND")
	setInt(&cfg.Ledger.MaxRetries, "ESCROW_LEDGER_MAX_RETRIES")
	setStr(&cfg.Ledger.EscrowWallet, "ESCROW_LEDGER_ESCROW_WALLET")

	// ── Market ──
	setDecimal(&cfg.Market.MinEntryPrice, "ESCROW_MARKET_MIN_ENTRY_PRICE")
	setDecimal(&cfg.Market.CreatorDeposit, "ESCROW_MARKET_CREATOR_DEPOSIT")
	setDecimal(&cfg.Market.CommissionRate, "ESCROW_MARKET_COMMISSION_RATE")
	setInt(&cfg.Market.MaxDurationHours, "ESCROW_MARKET_MAX_DURATION_HOURS")
	setDuration(&cfg.Market.SettlementWindow, "ESCROW_MARKET_SETTLEMENT_WINDOW")
	setStringSlice(&cfg.Market.CreatorTiers, "ESCROW_MARKET_CREATOR_TIERS")

	// ── Sweeper ──
	setStr(&cfg.Sweeper.Schedule, "ESCROW_SWEEPER_SCHEDULE")
	setInt(&cfg.Sweeper.BatchSize, "ESCROW_SWEEPER_BATCH_SIZE")
	setDuration(&cfg.Sweeper.LockTTL, "ESCROW_SWEEPER_LOCK_TTL")

	// ── Watcher ──
	setDuration(&cfg.Watcher.Interval, "ESCROW_WATCHER_INTERVAL")
	setInt(&cfg.Watcher.BatchSize, "ESCROW_WATCHER_BATCH_SIZE")
	setDuration(&cfg.Watcher.LockTTL, "ESCROW_WATCHER_LOCK_TTL")

	// ── Server ──
	setInt(&cfg.Server.Port, "ESCROW_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "ESCROW_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "ESCROW_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "ESCROW_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "ESCROW_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "ESCROW_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "ESCROW_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "ESCROW_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "ESCROW_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "ESCROW_MODE")
	setStr(&cfg.LogLevel, "ESCROW_LOG_LEVEL")
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

func setDecimal(dst *decimal.Decimal, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := decimal.NewFromString(strings.TrimSpace(v)); err == nil {
			*dst = d
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
