package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/spotlight/internal/pipeline"
	"github.com/alanyoungcy/spotlight/internal/server"
	"github.com/alanyoungcy/spotlight/internal/server/handler"
	"github.com/alanyoungcy/spotlight/internal/server/ws"
)

// shutdownTimeout bounds graceful HTTP shutdown and the final refund drain.
const shutdownTimeout = 10 * time.Second

// APIMode serves HTTP and the websocket feed. Refunds scheduled by
// HTTP-triggered ticks are issued by the in-process queue.
func (a *App) APIMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting api mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startRefundQueue(ctx, g, svc)
	a.startHTTPServer(ctx, g, deps, svc)
	return ignoreCanceled(g.Wait())
}

// WorkerMode runs the lifecycle ticker, the refund queue and the archive cron.
func (a *App) WorkerMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting worker mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svc)
	return ignoreCanceled(g.Wait())
}

// FullMode runs the API and the workers in one process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies, svc *Services) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startWorkers(ctx, g, deps, svc)
	a.startHTTPServer(ctx, g, deps, svc)
	return ignoreCanceled(g.Wait())
}

// TickMode runs one lifecycle pass, issues the refunds it scheduled and
// exits. It suits an external cron.
func (a *App) TickMode(ctx context.Context, svc *Services) error {
	sum, err := svc.Lifecycle.RunTick(ctx)
	if err != nil {
		return fmt.Errorf("tick mode: %w", err)
	}

	drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout+time.Duration(sum.RefundsScheduled)*a.cfg.Auction.RefundStagger.Duration)
	defer cancel()
	issued, err := svc.RefundQueue.Drain(drainCtx)
	if err != nil {
		a.logger.WarnContext(ctx, "tick mode: refund drain incomplete",
			slog.Int("issued", issued),
			slog.Int("pending", svc.RefundQueue.Pending()),
			slog.String("error", err.Error()),
		)
	}

	a.logger.InfoContext(ctx, "tick mode finished",
		slog.Bool("skipped", sum.Skipped),
		slog.String("winner", sum.Winner),
		slog.Int("promoted", sum.Promoted),
		slog.Int("retired", sum.Retired),
		slog.Int("refunds_issued", issued),
		slog.Int("failures", len(sum.Failures)),
	)
	return nil
}

func (a *App) startWorkers(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *Services) {
	a.startRefundQueue(ctx, g, svc)

	interval := a.cfg.Auction.TickInterval.Duration
	g.Go(func() error {
		return svc.Lifecycle.Run(ctx, interval)
	})

	if deps.Archiver != nil {
		archiver := pipeline.NewArchiver(deps.Archiver, a.cfg.S3.ArchiveRetentionDays, a.clock, a.logger)
		g.Go(func() error {
			return archiver.RunCron(ctx, a.cfg.S3.ArchiveCron)
		})
	} else {
		a.logger.InfoContext(ctx, "s3 disabled, round archive cron not started")
	}

	a.logger.InfoContext(ctx, "workers started",
		slog.Duration("tick_interval", interval),
		slog.Duration("refund_stagger", a.cfg.Auction.RefundStagger.Duration),
	)
}

// startRefundQueue runs the queue and drains what is left on shutdown.
func (a *App) startRefundQueue(ctx context.Context, g *errgroup.Group, svc *Services) {
	g.Go(func() error {
		err := svc.RefundQueue.Run(ctx)
		if svc.RefundQueue.Pending() == 0 {
			return err
		}
		drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if n, derr := svc.RefundQueue.Drain(drainCtx); derr != nil {
			a.logger.WarnContext(ctx, "refund queue not fully drained",
				slog.Int("issued", n),
				slog.Int("pending", svc.RefundQueue.Pending()),
			)
		}
		return err
	})
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *Services) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:           a.cfg.Mode,
		StartedAt:      a.clock.Now(),
		AllowedOrigins: a.cfg.Server.CORSOrigins,
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if a.cfg.Server.AdminKeyHash == "" {
		a.logger.WarnContext(ctx, "server.admin_key_hash is empty; admin routes and the tick trigger are disabled")
	}

	srv := server.NewServer(server.Config{
		Port:              a.cfg.Server.Port,
		CORSOrigins:       a.cfg.Server.CORSOrigins,
		AdminKeyHash:      a.cfg.Server.AdminKeyHash,
		RequestsPerMinute: a.cfg.Server.RequestsPerMinute,
	}, server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.clock.Now(), svc.Registry, svc.RefundQueue, a.logger),
		Bids:      handler.NewBidHandler(svc.Bidding, svc.Queries, a.logger),
		Pools:     handler.NewPoolHandler(svc.Queries, svc.Registry, a.logger),
		Lifecycle: handler.NewLifecycleHandler(svc.Lifecycle, a.logger),
		Admin:     handler.NewAdminHandler(svc.Admin, a.logger),
	}, hub, deps.RateLimiter, a.logger)

	g.Go(srv.Start)

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats shutdown by signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
