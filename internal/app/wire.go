package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/agrimandi/dealpool/internal/blob/s3"
	"github.com/agrimandi/dealpool/internal/cache/redis"
	"github.com/agrimandi/dealpool/internal/config"
	"github.com/agrimandi/dealpool/internal/domain"
	"github.com/agrimandi/dealpool/internal/notify"
	"github.com/agrimandi/dealpool/internal/pool"
	"github.com/agrimandi/dealpool/internal/server/handler"
	"github.com/agrimandi/dealpool/internal/service"
	"github.com/agrimandi/dealpool/internal/store/postgres"
)

// Dependencies bundles everything the application modes need to operate. It
// is constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	CropStore         domain.CropStore
	ListingStore      domain.ListingStore
	GroupStore        domain.GroupStore
	NotificationStore domain.NotificationStore

	// Coordination
	LockManager domain.LockManager
	SignalBus   domain.SignalBus
	CropCache   domain.CropCache

	// Engine
	Matcher *pool.Matcher

	// Services
	Listings *service.ListingService
	Groups   *service.GroupService
	Crops    *service.CropService

	// Notifications
	Notifier *notify.Notifier

	// Infrastructure health checks for the /api/health endpoint.
	HealthChecks map[string]handler.Pinger
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
		HealthChecks: make(map[string]handler.Pinger),
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
	deps.HealthChecks["postgres"] = pgClient

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pgPool := pgClient.Pool()
	deps.CropStore = postgres.NewCropStore(pgPool)
	deps.ListingStore = postgres.NewListingStore(pgPool)
	deps.GroupStore = postgres.NewGroupStore(pgPool)
	deps.NotificationStore = postgres.NewNotificationStore(pgPool)

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
	deps.HealthChecks["redis"] = redisClient

	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.CropCache = redis.NewCropCache(redisClient, cfg.Pool.CropCacheTTL.Duration)

	// --- Blob storage (optional) ---
	var archiver domain.GroupArchiver
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
		closers = append(closers, func() { _ = s3Client.Close() })
		archiver = s3blob.NewGroupArchive(s3blob.NewWriter(s3Client))
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL))
	}
	deps.Notifier = notify.NewNotifier(deps.NotificationStore, deps.SignalBus, senders, logger)

	// --- Pooling engine ---
	threshold := pool.NewThresholdPolicy(deps.CropStore, deps.CropCache, cfg.Pool.DefaultThresholdKg, logger)
	deps.Matcher = pool.NewMatcher(
		deps.ListingStore,
		deps.GroupStore,
		deps.CropStore,
		threshold,
		deps.LockManager,
		deps.Notifier,
		cfg.Pool.LockTTL.Duration,
		logger,
	)

	// --- Services ---
	deps.Listings = service.NewListingService(deps.ListingStore, deps.CropStore, deps.Matcher, archiver, logger)
	deps.Groups = service.NewGroupService(deps.GroupStore, deps.ListingStore, deps.CropStore, logger)
	deps.Crops = service.NewCropService(deps.CropStore, deps.CropCache, logger)

	return deps, cleanup, nil
}
