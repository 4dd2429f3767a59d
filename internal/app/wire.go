package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/spotlight/internal/blob/s3"
	"github.com/alanyoungcy/spotlight/internal/cache/local"
	"github.com/alanyoungcy/spotlight/internal/cache/redis"
	"github.com/alanyoungcy/spotlight/internal/chain"
	"github.com/alanyoungcy/spotlight/internal/config"
	"github.com/alanyoungcy/spotlight/internal/crypto"
	"github.com/alanyoungcy/spotlight/internal/domain"
	"github.com/alanyoungcy/spotlight/internal/notify"
	"github.com/alanyoungcy/spotlight/internal/server/handler"
	"github.com/alanyoungcy/spotlight/internal/service"
	"github.com/alanyoungcy/spotlight/internal/store/memory"
	"github.com/alanyoungcy/spotlight/internal/store/postgres"
)

// Dependencies bundles every infrastructure adapter the modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Stores service.Stores

	// Caches and coordination. PoolCache is nil without Redis.
	PoolCache   domain.PoolCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage; nil unless s3.enabled.
	BlobReader domain.BlobReader
	Archiver   domain.Archiver

	// Verifier is nil unless chain.enabled.
	Verifier      domain.PaymentVerifier
	Authenticator domain.BidAuthenticator

	Notifier *notify.Notifier

	// Checks feed /api/health.
	Checks map[string]handler.Checker
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
	fail := func(format string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf(format, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- Stores ---
	switch cfg.Database.Backend {
	case "memory":
		logger.WarnContext(ctx, "using in-memory store; state is lost on exit")
		store := memory.New()
		deps.Stores = service.Stores{
			Tx:      store,
			Pools:   store.Pools(),
			Bids:    store.Bids(),
			Slots:   store.Slots(),
			Ledger:  store.Ledger(),
			Proofs:  store.Proofs(),
			Targets: store.Targets(),
			Audit:   store.Audit(),
		}
	default:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			return fail("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.Bootstrap(ctx, postgres.BootstrapConfig{
			Migrate:   cfg.Database.RunMigrations,
			SlotCount: cfg.Auction.SlotCount,
		}); err != nil {
			return fail("wire: postgres bootstrap: %w", err)
		}

		pool := pgClient.Pool()
		deps.Stores = service.Stores{
			Tx:      pgClient,
			Pools:   postgres.NewPoolStore(pool),
			Bids:    postgres.NewBidStore(pool),
			Slots:   postgres.NewSlotStore(pool),
			Ledger:  postgres.NewLedgerStore(pool),
			Proofs:  postgres.NewProofStore(pool),
			Targets: postgres.NewTargetStore(pool),
			Audit:   postgres.NewAuditStore(pool),
		}
		deps.Checks["postgres"] = pgClient.Ping
	}

	// --- Redis, or in-process fallbacks ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			Namespace:  cfg.Redis.Namespace,
		})
		if err != nil {
			return fail("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PoolCache = redis.NewPoolCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.InfoContext(ctx, "redis disabled; using in-process locks, limiter and bus")
		deps.RateLimiter = local.NewRateLimiter()
		deps.LockManager = local.NewLockManager()
		deps.SignalBus = local.NewBus()
	}

	// --- S3 archive ---
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
			return fail("wire: s3: %w", err)
		}
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.Archiver = s3blob.NewRoundArchiver(
			s3blob.NewWriter(s3Client),
			reader,
			deps.Stores.Pools,
			deps.Stores.Bids,
			deps.Stores.Audit,
		)
		deps.Checks["s3"] = s3Client.Health
	}

	// --- On-chain funding ---
	if cfg.Chain.Enabled {
		perUnit, _ := cfg.Chain.WeiPerUnitInt()
		verifier, closeChain, err := chain.Dial(ctx, chain.Config{
			RPCURL:           cfg.Chain.RPCURL,
			ChainID:          cfg.Chain.ChainID,
			Treasury:         cfg.Chain.TreasuryAddress,
			MinConfirmations: cfg.Chain.MinConfirmations,
			WeiPerUnit:       perUnit,
		})
		if err != nil {
			return fail("wire: chain: %w", err)
		}
		closers = append(closers, closeChain)
		deps.Verifier = verifier
	}
	if cfg.Chain.ChainID > 0 {
		deps.Authenticator = crypto.NewBidAuthenticator(cfg.Chain.ChainID)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, ""))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		senders = append(senders, notify.NewWebhookSender(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger,
		notify.WithTimeout(cfg.Notify.Timeout.Duration),
	)
	// Let in-flight deliveries finish before the rest is torn down.
	closers = append(closers, deps.Notifier.Wait)

	return deps, cleanup, nil
}
