package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/polyprop/polyprop/internal/blob/s3"
	"github.com/polyprop/polyprop/internal/cache/redis"
	"github.com/polyprop/polyprop/internal/config"
	"github.com/polyprop/polyprop/internal/domain"
	"github.com/polyprop/polyprop/internal/engine"
	"github.com/polyprop/polyprop/internal/jobs"
	"github.com/polyprop/polyprop/internal/marketdata"
	"github.com/polyprop/polyprop/internal/notify"
	"github.com/polyprop/polyprop/internal/platform/gamma"
	"github.com/polyprop/polyprop/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Persistence
	Store    domain.Store
	PGClient *postgres.Client

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.OrderbookCache
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	RedisClient *redis.Client

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver
	S3Client   *s3blob.Client

	// Market data
	Gamma   *gamma.Client
	Gateway *marketdata.Gateway

	// Engine
	Executor    *engine.Executor
	Provisioner *engine.Provisioner
	Valuer      *engine.Valuer
	Monitor     *engine.RiskMonitor
	Settlement  *engine.SettlementEngine
	Daily       *engine.DailyBoundary
	Rules       domain.RuleSet

	// Jobs
	Orchestrator *jobs.Orchestrator

	// Notifications
	Notifier *notify.Notifier
	Alerts   *notify.AccountAlerts
}

// needsS3 returns true for modes that run the archival job.
func needsS3(mode string) bool {
	switch mode {
	case "jobs", "full":
		return true
	default:
		return false
	}
}

// defaultRules builds the RuleSet stamped onto newly provisioned accounts
// from the engine configuration section.
func defaultRules(cfg config.EngineConfig) domain.RuleSet {
	return domain.RuleSet{
		MaxDrawdown:            cfg.MaxDrawdown,
		DailyLossLimitPct:      cfg.DailyLossLimitPct,
		ProfitTargetPct:        cfg.ProfitTargetPct,
		MinTradingDays:         cfg.MinTradingDays,
		MaxPositionSizePct:     cfg.MaxPositionSizePct,
		MaxCategoryExposurePct: cfg.MaxCategoryExposurePct,
		MinMarketVolume:        cfg.MinMarketVolume,
		FundedInactivityDays:   cfg.FundedInactivityDays,
	}
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

	deps := &Dependencies{}

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

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.PGClient = pgClient
	deps.Store = postgres.NewStore(pgClient.Pool())

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

	deps.RedisClient = redisClient
	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.BookCache = redis.NewOrderbookCache(redisClient)
	deps.MarketCache = redis.NewMarketCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage (only for modes that archive) ---
	if needsS3(cfg.Mode) {
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
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.S3Client = s3Client
		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.Store.Trades(),
			deps.Store.Audit(),
		)
	}

	// --- Market data ---
	deps.Gamma = gamma.NewClient(cfg.Gamma.Host)
	deps.Gateway = marketdata.NewGateway(deps.PriceCache, deps.BookCache, deps.MarketCache, deps.Store.Markets())

	// --- Engine ---
	deps.Rules = defaultRules(cfg.Engine)

	exposure := engine.NewExposureCache(deps.Store.Positions(), deps.Store.Markets())
	gate := engine.NewRiskGate(deps.Store.Positions(), exposure, logger)

	deps.Executor = engine.NewExecutor(
		deps.Store,
		deps.Gateway,
		gate,
		exposure,
		deps.SignalBus,
		cfg.Engine.StaleThreshold.Duration,
		logger,
	)
	deps.Provisioner = engine.NewProvisioner(deps.Store, logger)
	deps.Valuer = engine.NewValuer(deps.Store, deps.PriceCache, logger)
	deps.Monitor = engine.NewRiskMonitor(deps.Store, deps.Valuer, deps.SignalBus, logger)
	deps.Settlement = engine.NewSettlementEngine(deps.Store, deps.Gamma, exposure, deps.SignalBus, logger)
	deps.Daily = engine.NewDailyBoundary(deps.Store, deps.Valuer, deps.SignalBus, logger)

	// --- Jobs ---
	deps.Orchestrator = jobs.NewOrchestrator(
		deps.Monitor,
		deps.Settlement,
		deps.Daily,
		deps.Gamma,
		deps.Store.Markets(),
		deps.MarketCache,
		deps.Archiver,
		deps.LockManager,
		jobs.Config{
			MonitorInterval:      cfg.Jobs.MonitorInterval.Duration,
			SettlementInterval:   cfg.Jobs.SettlementInterval.Duration,
			RefreshInterval:      cfg.Jobs.RefreshInterval.Duration,
			RefreshPageSize:      cfg.Jobs.RefreshPageSize,
			ArchiveInterval:      cfg.Jobs.ArchiveInterval.Duration,
			ArchiveRetentionDays: cfg.Jobs.ArchiveRetentionDays,
		},
		logger,
	)

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
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	deps.Alerts = notify.NewAccountAlerts(deps.SignalBus, deps.Notifier, logger)
	if deps.Notifier.Enabled() {
		deps.Orchestrator.WithNotifier(deps.Notifier)
	}

	return deps, cleanup, nil
}
