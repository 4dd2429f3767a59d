package app

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/spotlight/internal/config"
	"github.com/alanyoungcy/spotlight/internal/domain"
	"github.com/alanyoungcy/spotlight/internal/service"
)

// Services holds the auction services shared by every mode.
type Services struct {
	Bidding     *service.BiddingService
	Refunds     *service.RefundIssuer
	RefundQueue *service.RefundQueue
	Registry    *service.Registry
	Lifecycle   *service.LifecycleProcessor
	Admin       *service.AdminService
	Queries     *service.QueryService
}

// auctionConfig maps the file configuration onto the service tunables.
func auctionConfig(c config.AuctionConfig) service.AuctionConfig {
	return service.AuctionConfig{
		MinBid:          c.MinBid,
		MaxBid:          c.MaxBid,
		RoundDuration:   c.RoundDuration.Duration,
		FeatureDuration: c.FeatureDuration.Duration,
		SlotCount:       c.SlotCount,
		Snipe: domain.SnipePolicy{
			Window:       c.SnipeWindow.Duration,
			Extension:    c.SnipeExtension.Duration,
			MaxExtension: c.MaxExtension.Duration,
		},
		RateLimit:        c.BidRateLimit,
		RateWindow:       c.BidRateWindow.Duration,
		RequireSignature: c.RequireSignature,
	}
}

func (a *App) buildServices(ctx context.Context, deps *Dependencies) (*Services, error) {
	cfg := auctionConfig(a.cfg.Auction)
	stores := deps.Stores

	bidding := service.NewBiddingService(cfg, stores, deps.SignalBus, a.clock, a.logger).
		WithRateLimiter(deps.RateLimiter).
		WithPoolCache(deps.PoolCache)
	if deps.Verifier != nil {
		bidding.WithPaymentVerifier(deps.Verifier)
	}
	if deps.Authenticator != nil {
		bidding.WithAuthenticator(deps.Authenticator)
	}

	refunds := service.NewRefundIssuer(stores, deps.SignalBus, a.clock, a.logger)
	queue := service.NewRefundQueue(refunds, a.cfg.Auction.RefundStagger.Duration, 0, a.clock, a.logger)

	registry := service.NewRegistry(stores, cfg.SlotCount, cfg.FeatureDuration, deps.SignalBus, a.clock, a.logger).
		WithPoolCache(deps.PoolCache).
		WithNotifier(deps.Notifier)
	if err := registry.Ensure(ctx); err != nil {
		return nil, fmt.Errorf("ensure featured slots: %w", err)
	}

	lifecycle := service.NewLifecycleProcessor(stores, registry, queue, deps.SignalBus, a.clock, a.logger).
		WithLockManager(deps.LockManager).
		WithPoolCache(deps.PoolCache).
		WithNotifier(deps.Notifier)

	admin := service.NewAdminService(stores, refunds, a.clock, a.logger)
	if deps.Archiver != nil {
		admin.WithArchive(deps.Archiver, deps.BlobReader)
	}

	return &Services{
		Bidding:     bidding,
		Refunds:     refunds,
		RefundQueue: queue,
		Registry:    registry,
		Lifecycle:   lifecycle,
		Admin:       admin,
		Queries:     service.NewQueryService(stores, deps.PoolCache, a.logger),
	}, nil
}
