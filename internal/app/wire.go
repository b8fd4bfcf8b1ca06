package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/marketescrow/internal/blob/s3"
	"github.com/alanyoungcy/marketescrow/internal/cache/redis"
	"github.com/alanyoungcy/marketescrow/internal/config"
	"github.com/alanyoungcy/marketescrow/internal/domain"
	"github.com/alanyoungcy/marketescrow/internal/ledger"
	"github.com/alanyoungcy/marketescrow/internal/metrics"
	"github.com/alanyoungcy/marketescrow/internal/notify"
	"github.com/alanyoungcy/marketescrow/internal/server/handler"
	"github.com/alanyoungcy/marketescrow/internal/service"
	"github.com/alanyoungcy/marketescrow/internal/store/postgres"
)

// Dependencies bundles every dependency that the application modes need to
// operate. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	MarketStore  *postgres.MarketStore
	PaymentStore domain.PaymentStore
	AuditStore   domain.AuditStore

	// Caches
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Ledger
	Ledger *ledger.Client

	// Blob storage; nil when s3.enabled is false.
	Archiver domain.SettlementArchiver

	// Notifications
	Notifier *notify.Notifier

	Metrics *metrics.Metrics

	// Services
	Markets   *service.MarketService
	Sweeper   *service.DeadlineSweeper
	Watcher   *service.ConfirmationWatcher
	Pingers   map[string]handler.Pinger
	RulesView handler.Rules
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		Metrics: metrics.New(),
		Pingers: make(map[string]handler.Pinger, 3),
	}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)
	deps.Pingers["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.PaymentStore = postgres.NewPaymentStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	access := postgres.NewAccessStore(pool, cfg.Market.CreatorTiers)
	outbox := postgres.NewNotificationStore(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })
	deps.Pingers["redis"] = redisClient

	deps.MarketCache = redis.NewMarketCache(redisClient, cfg.Redis.MarketCacheTTL.Duration)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Ledger ---
	ledgerClient, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:            cfg.Ledger.RPCURL,
		CallTimeout:       cfg.Ledger.CallTimeout.Duration,
		RequestsPerSecond: cfg.Ledger.RequestsPerSecond,
		MaxRetries:        cfg.Ledger.MaxRetries,
	}, logger)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: ledger: %w", err)
	}
	closers = append(closers, ledgerClient.Close)
	deps.Ledger = ledgerClient
	deps.Pingers["ledger"] = ledgerClient

	// --- S3 settlement archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), cfg.S3.Prefix)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(outbox, senders, cfg.Notify.Events, logger)

	// --- Services ---
	decimals := int32(cfg.Ledger.TokenDecimals)
	verifier := service.NewDepositVerifier(ledgerClient, deps.MarketStore, decimals, deps.Metrics, logger)

	rules := service.MarketRules{
		MinEntryPrice:    cfg.Market.MinEntryPrice,
		CreatorDeposit:   cfg.Market.CreatorDeposit,
		CommissionRate:   cfg.Market.CommissionRate,
		MaxDurationHours: cfg.Market.MaxDurationHours,
		SettlementWindow: cfg.Market.SettlementWindow.Duration,
		TokenContract:    cfg.Ledger.TokenContract,
		EscrowWallet:     cfg.Ledger.EscrowWallet,
		TokenDecimals:    decimals,
		MinConfirmations: cfg.Ledger.MinConfirmations,
	}
	deps.Markets = service.NewMarketService(rules, service.MarketServiceDeps{
		Store:    deps.MarketStore,
		Verifier: verifier,
		Policy:   access,
		Admins:   access,
		Sink:     deps.Notifier,
		Cache:    deps.MarketCache,
		Bus:      deps.SignalBus,
		Audit:    deps.AuditStore,
		Archiver: deps.Archiver,
		Metrics:  deps.Metrics,
	}, logger)

	deps.Sweeper = service.NewDeadlineSweeper(
		deps.Markets,
		deps.MarketStore,
		deps.LockManager,
		deps.Notifier,
		service.SweeperConfig{
			Schedule:         cfg.Sweeper.Schedule,
			BatchSize:        cfg.Sweeper.BatchSize,
			LockTTL:          cfg.Sweeper.LockTTL.Duration,
			SettlementWindow: cfg.Market.SettlementWindow.Duration,
		},
		deps.Metrics,
		nil,
		logger,
	)

	deps.Watcher = service.NewConfirmationWatcher(
		deps.PaymentStore,
		ledgerClient,
		deps.LockManager,
		service.WatcherConfig{
			Interval:         cfg.Watcher.Interval.Duration,
			BatchSize:        cfg.Watcher.BatchSize,
			LockTTL:          cfg.Watcher.LockTTL.Duration,
			MinConfirmations: cfg.Ledger.MinConfirmations,
			TokenContract:    cfg.Ledger.TokenContract,
			TokenDecimals:    decimals,
		},
		deps.Metrics,
		logger,
	)

	deps.RulesView = RulesView(deps.Markets.Rules())

	return deps, cleanup, nil
}

// RulesView is the public subset of the market rules served on /api/status.
func RulesView(r service.MarketRules) handler.Rules {
	return handler.Rules{
		MinEntryPrice:    r.MinEntryPrice,
		CreatorDeposit:   r.CreatorDeposit,
		CommissionRate:   r.CommissionRate,
		MaxDurationHours: r.MaxDurationHours,
		SettlementHours:  r.SettlementWindow.Hours(),
		TokenContract:    r.TokenContract,
		TokenDecimals:    r.TokenDecimals,
		MinConfirmations: r.MinConfirmations,
	}
}
