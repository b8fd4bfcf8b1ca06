// Package config defines the top-level configuration for the escrow engine
// and provides validation helpers.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/robfig/cron"
	"github.com/shopspring/decimal"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ESCROW_* environment variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Market   MarketConfig   `toml:"market"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Watcher  WatcherConfig  `toml:"watcher"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
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
	Addr           string   `toml:"addr"`
	Password       string   `toml:"password"`
	DB             int      `toml:"db"`
	PoolSize       int      `toml:"pool_size"`
	MaxRetries     int      `toml:"max_retries"`
	TLSEnabled     bool     `toml:"tls_enabled"`
	MarketCacheTTL duration `toml:"market_cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// archive. The archive is skipped entirely when Enabled is false.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// LedgerConfig holds the chain endpoint and the token payments are made in.
type LedgerConfig struct {
	RPCURL            string   `toml:"rpc_url"`
	TokenContract     string   `toml:"token_contract"`
	TokenDecimals     int      `toml:"token_decimals"`
	MinConfirmations  int      `toml:"min_confirmations"`
	CallTimeout       duration `toml:"call_timeout"`
	RequestsPerSecond float64  `toml:"requests_per_second"`
	MaxRetries        int      `toml:"max_retries"`
	// EscrowWallet, when set, must be the recipient of every transfer.
	EscrowWallet string `toml:"escrow_wallet"`
}

// MarketConfig holds pricing and deadline rules. Money values are TOML
// strings ("1.50") so they decode into exact decimals.
type MarketConfig struct {
	MinEntryPrice    decimal.Decimal `toml:"min_entry_price"`
	CreatorDeposit   decimal.Decimal `toml:"creator_deposit"`
	CommissionRate   decimal.Decimal `toml:"commission_rate"`
	MaxDurationHours int             `toml:"max_duration_hours"`
	SettlementWindow duration        `toml:"settlement_window"`
	CreatorTiers     []string        `toml:"creator_tiers"`
}

// SweeperConfig holds the deadline sweeper schedule.
type SweeperConfig struct {
	Schedule  string   `toml:"schedule"`
	BatchSize int      `toml:"batch_size"`
	LockTTL   duration `toml:"lock_ttl"`
}

// WatcherConfig holds the payment confirmation watcher cadence.
type WatcherConfig struct {
	Interval  duration `toml:"interval"`
	BatchSize int      `toml:"batch_size"`
	LockTTL   duration `toml:"lock_ttl"`
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
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey gates every route except health and metrics. Empty disables it.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds operator alert channel credentials. Events lists the
// notification types forwarded to the channels; every notification is still
// written to the outbox.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "escrow",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:           "localhost:6379",
			PoolSize:       20,
			MaxRetries:     3,
			MarketCacheTTL: duration{30 * time.Second},
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "escrow-reports",
			ForcePathStyle: true,
		},
		Ledger: LedgerConfig{
			RPCURL:            "http://localhost:8545",
			TokenDecimals:     6,
			MinConfirmations:  3,
			CallTimeout:       duration{10 * time.Second},
			RequestsPerSecond: 10,
			MaxRetries:        3,
		},
		Market: MarketConfig{
			MinEntryPrice:    decimal.NewFromInt(1),
			CreatorDeposit:   decimal.NewFromInt(25),
			CommissionRate:   decimal.RequireFromString("0.10"),
			MaxDurationHours: 720,
			SettlementWindow: duration{48 * time.Hour},
			CreatorTiers:     []string{"creator", "pro"},
		},
		Sweeper: SweeperConfig{
			Schedule:  "@hourly",
			BatchSize: 100,
			LockTTL:   duration{10 * time.Minute},
		},
		Watcher: WatcherConfig{
			Interval:  duration{90 * time.Second},
			BatchSize: 50,
			LockTTL:   duration{2 * time.Minute},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"admin_review_required", "deposit_forfeited"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"api":    true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// RunsAPI reports whether the mode serves HTTP.
func (c *Config) RunsAPI() bool {
	m := strings.ToLower(c.Mode)
	return m == "api" || m == "full"
}

// RunsWorkers reports whether the mode runs the sweeper and the watcher.
func (c *Config) RunsWorkers() bool {
	m := strings.ToLower(c.Mode)
	return m == "worker" || m == "full"
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: api, worker, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
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

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.MarketCacheTTL.Duration < 0 {
		errs = append(errs, "redis: market_cache_ttl must not be negative")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when enabled")
		}
	}

	// Ledger
	if c.Ledger.RPCURL == "" {
		errs = append(errs, "ledger: rpc_url must not be empty")
	}
	if !common.IsHexAddress(c.Ledger.TokenContract) {
		errs = append(errs, fmt.Sprintf("ledger: token_contract must be a hex address, got %q", c.Ledger.TokenContract))
	}
	if c.Ledger.EscrowWallet != "" && !common.IsHexAddress(c.Ledger.EscrowWallet) {
		errs = append(errs, fmt.Sprintf("ledger: escrow_wallet must be a hex address, got %q", c.Ledger.EscrowWallet))
	}
	if c.Ledger.TokenDecimals < 0 || c.Ledger.TokenDecimals > 36 {
		errs = append(errs, fmt.Sprintf("ledger: token_decimals must be 0-36, got %d", c.Ledger.TokenDecimals))
	}
	if c.Ledger.MinConfirmations < 1 {
		errs = append(errs, "ledger: min_confirmations must be >= 1")
	}
	if c.Ledger.CallTimeout.Duration <= 0 {
		errs = append(errs, "ledger: call_timeout must be > 0")
	}
	if c.Ledger.RequestsPerSecond <= 0 {
		errs = append(errs, "ledger: requests_per_second must be > 0")
	}
	if c.Ledger.MaxRetries < 0 {
		errs = append(errs, "ledger: max_retries must be >= 0")
	}

	// Market
	if !c.Market.MinEntryPrice.IsPositive() {
		errs = append(errs, "market: min_entry_price must be > 0")
	}
	if !c.Market.CreatorDeposit.IsPositive() {
		errs = append(errs, "market: creator_deposit must be > 0")
	}
	if c.Market.CommissionRate.IsNegative() || c.Market.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		errs = append(errs, fmt.Sprintf("market: commission_rate must be in [0, 1), got %s", c.Market.CommissionRate))
	}
	if c.Market.MaxDurationHours < 1 {
		errs = append(errs, "market: max_duration_hours must be >= 1")
	}
	if c.Market.SettlementWindow.Duration <= 0 {
		errs = append(errs, "market: settlement_window must be > 0")
	}
	if len(c.Market.CreatorTiers) == 0 {
		errs = append(errs, "market: creator_tiers must list at least one tier")
	}

	// Workers
	if c.RunsWorkers() {
		if _, err := cron.Parse(c.Sweeper.Schedule); err != nil {
			errs = append(errs, fmt.Sprintf("sweeper: invalid schedule %q: %v", c.Sweeper.Schedule, err))
		}
		if c.Sweeper.BatchSize < 1 {
			errs = append(errs, "sweeper: batch_size must be >= 1")
		}
		if c.Watcher.Interval.Duration <= 0 {
			errs = append(errs, "watcher: interval must be > 0")
		}
		if c.Watcher.BatchSize < 1 {
			errs = append(errs, "watcher: batch_size must be >= 1")
		}
	}

	// Server
	if c.RunsAPI() {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	// Notify
	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}
	if c.Notify.DiscordWebhookURL != "" {
		if u, err := url.Parse(c.Notify.DiscordWebhookURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, "notify: discord_webhook_url must be an absolute URL")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
