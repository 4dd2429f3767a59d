package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alanyoungcy/spotlight/internal/config"
)

func offlineConfig() *config.Config {
	cfg := config.Defaults()
	cfg.Database.Backend = "memory"
	cfg.Redis.Enabled = false
	cfg.S3.Enabled = false
	cfg.Chain.Enabled = false
	return &cfg
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWire_Offline(t *testing.T) {
	deps, cleanup, err := Wire(context.Background(), offlineConfig(), discard())
	if err != nil {
		t.Fatalf("wire: %v", err)
	}
	defer cleanup()

	if deps.Stores.Tx == nil || deps.Stores.Pools == nil || deps.Stores.Ledger == nil {
		t.Fatalf("stores not wired: %+v", deps.Stores)
	}
	if deps.SignalBus == nil || deps.LockManager == nil || deps.RateLimiter == nil {
		t.Fatalf("local fallbacks not wired")
	}
	if deps.PoolCache != nil || deps.Archiver != nil || deps.Verifier != nil {
		t.Fatalf("optional adapters should be absent offline")
	}
	if deps.Authenticator == nil {
		t.Fatalf("authenticator should be wired from the default chain id")
	}
	if len(deps.Checks) != 0 {
		t.Fatalf("expected no health checks offline, got %d", len(deps.Checks))
	}
}

func TestAuctionConfig(t *testing.T) {
	cfg := offlineConfig()
	got := auctionConfig(cfg.Auction)
	if got.MinBid != cfg.Auction.MinBid || got.SlotCount != cfg.Auction.SlotCount {
		t.Fatalf("amounts not mapped: %+v", got)
	}
	if got.Snipe.Window != 5*time.Minute || got.Snipe.Extension != 3*time.Minute || got.Snipe.MaxExtension != 30*time.Minute {
		t.Fatalf("snipe policy not mapped: %+v", got.Snipe)
	}
	if got.RateLimit != cfg.Auction.BidRateLimit || got.RateWindow != time.Minute {
		t.Fatalf("rate limit not mapped: %+v", got)
	}
}

func TestRun_TickMode(t *testing.T) {
	cfg := offlineConfig()
	cfg.Mode = "tick"

	a := New(cfg, discard())
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("tick mode: %v", err)
	}
}

func TestRun_UnknownMode(t *testing.T) {
	cfg := offlineConfig()
	cfg.Mode = "batch"

	a := New(cfg, discard())
	defer a.Close()
	if err := a.Run(context.Background()); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
