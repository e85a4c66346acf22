package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	s3blob "github.com/quantafe/tokensentry/internal/blob/s3"
	"github.com/quantafe/tokensentry/internal/book"
	"github.com/quantafe/tokensentry/internal/cache/redis"
	"github.com/quantafe/tokensentry/internal/config"
	"github.com/quantafe/tokensentry/internal/domain"
	"github.com/quantafe/tokensentry/internal/feed"
	"github.com/quantafe/tokensentry/internal/ledger"
	"github.com/quantafe/tokensentry/internal/monitor"
	"github.com/quantafe/tokensentry/internal/notify"
	"github.com/quantafe/tokensentry/internal/oracle"
	"github.com/quantafe/tokensentry/internal/planner"
	"github.com/quantafe/tokensentry/internal/risk"
	"github.com/quantafe/tokensentry/internal/service"
	"github.com/quantafe/tokensentry/internal/store/postgres"
)

// Dependencies bundles everything the run loop needs. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Book   *book.Book
	Ledger *ledger.Ledger

	Positions domain.PositionRepository
	Journal   domain.TradeJournal
	Accounts  domain.AccountStore

	PriceCache  domain.PriceCache
	LockManager domain.LockManager
	Feed        domain.PriceFeed

	Oracle *oracle.Client

	Monitor  *monitor.Monitor
	Metrics  *monitor.Metrics
	Intake   *service.Intake
	Scanner  *service.Scanner
	Stream   *feed.TradeStream
	Archiver *s3blob.Archiver

	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function to call on
// shutdown.
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

	pool := pgClient.Pool()
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Journal = postgres.NewJournalStore(pool)
	deps.Accounts = postgres.NewAccountStore(pool)

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

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.New(senders, cfg.Notify.Events, logger)

	// --- Market data ---
	rest := feed.NewRESTFeed(cfg.Feed.RestURL)
	deps.Feed = feed.NewCachedFeed(deps.PriceCache, rest, cfg.Feed.CacheMaxAge.Duration, logger)

	// --- Core state ---
	deps.Book = book.New(logger)
	deps.Ledger = ledger.New(cfg.Account.StartingCapital, logger)

	calc := risk.New(riskParams(cfg.Risk))
	plan := planner.New(plannerParams(cfg.Planner), logger)

	deps.Metrics = monitor.NewMetrics(prometheus.DefaultRegisterer)
	deps.Monitor = monitor.New(
		monitor.Config{
			Interval:         cfg.Monitor.Interval.Duration,
			FetchConcurrency: cfg.Monitor.FetchConcurrency,
		},
		deps.Book, calc, deps.Ledger, deps.Feed,
		deps.Positions, deps.Journal, deps.Accounts,
		deps.Notifier, deps.Metrics, logger,
	)

	deps.Intake = service.NewIntake(
		plan, calc, deps.Ledger, deps.Book, deps.Feed,
		deps.Positions, deps.Journal, deps.Accounts,
		deps.Notifier, logger,
	)

	deps.Oracle = oracle.NewClient(cfg.Oracle.BaseURL, cfg.Oracle.APIKey)
	deps.Scanner = service.NewScanner(
		deps.Oracle, deps.Oracle, deps.Intake, deps.Book,
		cfg.Oracle.ScanInterval.Duration, logger,
	)

	if cfg.Feed.WsURL != "" {
		deps.Stream = feed.NewTradeStream(cfg.Feed.WsURL, deps.Book.ActiveAssetIDs, deps.PriceCache, logger)
	}

	// --- S3 trade archive (optional) ---
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
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client), deps.Journal,
			cfg.S3.ArchiveRetain.Duration, cfg.S3.ArchiveInterval.Duration,
			logger,
		)
	}

	return deps, cleanup, nil
}

// riskParams overlays non-zero config values on the built-in defaults.
func riskParams(cfg config.RiskConfig) risk.Params {
	p := risk.DefaultParams()
	if cfg.HighRiskStopPct > 0 {
		p.HighRiskStopPct = cfg.HighRiskStopPct
	}
	if cfg.MediumRiskStopPct > 0 {
		p.MediumRiskStopPct = cfg.MediumRiskStopPct
	}
	if cfg.LowRiskStopPct > 0 {
		p.LowRiskStopPct = cfg.LowRiskStopPct
	}
	if cfg.StopLossFloor > 0 {
		p.StopLossFloor = cfg.StopLossFloor
	}
	if cfg.StopLossCeil > 0 {
		p.StopLossCeil = cfg.StopLossCeil
	}
	if len(cfg.Stages) > 0 {
		stages := make([]risk.StageParam, 0, len(cfg.Stages))
		for _, s := range cfg.Stages {
			stages = append(stages, risk.StageParam{
				Name:         s.Name,
				Threshold:    s.Threshold,
				ExitFraction: s.ExitFraction,
			})
		}
		p.Stages = stages
	}
	if cfg.TrailingActivationGain > 0 {
		p.TrailingActivationGain = cfg.TrailingActivationGain
	}
	if cfg.DecayAfter.Duration > 0 {
		p.DecayAfter = cfg.DecayAfter.Duration
	}
	if cfg.DecayRate > 0 {
		p.DecayRate = cfg.DecayRate
	}
	return p
}

// plannerParams overlays non-zero config values on the built-in defaults.
func plannerParams(cfg config.PlannerConfig) planner.Params {
	p := planner.DefaultParams()
	if cfg.MaxPositionPct > 0 {
		p.MaxPositionPct = cfg.MaxPositionPct
	}
	if cfg.BaseSize > 0 {
		p.BaseSize = cfg.BaseSize
	}
	if cfg.ImmediateWait.Duration > 0 {
		p.ImmediateWait = cfg.ImmediateWait.Duration
	}
	if cfg.DipWait.Duration > 0 {
		p.DipWait = cfg.DipWait.Duration
	}
	if cfg.DipTriggerPct > 0 {
		p.DipTriggerPct = cfg.DipTriggerPct
	}
	if cfg.LadderWait.Duration > 0 {
		p.LadderWait = cfg.LadderWait.Duration
	}
	if cfg.LadderConfirm.Duration > 0 {
		p.LadderConfirmHold = cfg.LadderConfirm.Duration
	}
	return p
}
