package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/spotlight/internal/cache/local"
	"github.com/alanyoungcy/spotlight/internal/clock"
	"github.com/alanyoungcy/spotlight/internal/domain"
	"github.com/alanyoungcy/spotlight/internal/store/memory"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeNotifier struct {
	mu       sync.Mutex
	promoted []string
	outbid   []string
}

func (f *fakeNotifier) OnPromoted(_ context.Context, target domain.Target, _ domain.Pool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.promoted = append(f.promoted, target.ID)
}

func (f *fakeNotifier) OnOutbid(_ context.Context, contributor string, _ domain.Bid) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbid = append(f.outbid, contributor)
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	stores    Stores
	clock     *clock.Manual
	bus       *local.Bus
	cfg       AuctionConfig
	bidding   *BiddingService
	refunds   *RefundIssuer
	queue     *RefundQueue
	registry  *Registry
	lifecycle *LifecycleProcessor
	admin     *AdminService
	notifier  *fakeNotifier
}

func testConfig() AuctionConfig {
	cfg := DefaultAuctionConfig()
	cfg.MinBid = 100
	cfg.MaxBid = 100_000
	cfg.RoundDuration = time.Hour
	cfg.FeatureDuration = 6 * time.Hour
	cfg.RateLimit = 0
	return cfg
}

func newHarness(t *testing.T, cfg AuctionConfig) *harness {
	t.Helper()

	store := memory.New()
	stores := Stores{
		Tx:      store,
		Pools:   store.Pools(),
		Bids:    store.Bids(),
		Slots:   store.Slots(),
		Ledger:  store.Ledger(),
		Proofs:  store.Proofs(),
		Targets: store.Targets(),
		Audit:   store.Audit(),
	}
	clk := clock.NewManual(epoch)
	bus := local.NewBus()
	logger := discardLogger()
	notifier := &fakeNotifier{}

	refunds := NewRefundIssuer(stores, bus, clk, logger)
	queue := NewRefundQueue(refunds, 0, 0, clk, logger)
	registry := NewRegistry(stores, cfg.SlotCount, cfg.FeatureDuration, bus, clk, logger).WithNotifier(notifier)

	h := &harness{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		stores:    stores,
		clock:     clk,
		bus:       bus,
		cfg:       cfg,
		bidding:   NewBiddingService(cfg, stores, bus, clk, logger),
		refunds:   refunds,
		queue:     queue,
		registry:  registry,
		lifecycle: NewLifecycleProcessor(stores, registry, queue, bus, clk, logger).WithNotifier(notifier),
		admin:     NewAdminService(stores, refunds, clk, logger),
		notifier:  notifier,
	}
	if err := registry.Ensure(h.ctx); err != nil {
		t.Fatalf("ensure slots: %v", err)
	}
	for _, id := range []string{"post-a", "post-b", "post-c"} {
		h.target(id)
	}
	return h
}

func (h *harness) target(id string) {
	h.t.Helper()
	if err := h.store.Targets().Upsert(h.ctx, domain.Target{ID: id, DisplayName: "Post " + id}); err != nil {
		h.t.Fatalf("upsert target: %v", err)
	}
}

func (h *harness) fund(account string, amount int64) {
	h.store.SetBalance(account, amount)
}

func (h *harness) bid(contributor, target string, amount int64, proof string) domain.BidReceipt {
	h.t.Helper()
	r, err := h.bidding.PlaceBid(h.ctx, PlaceBidInput{
		Contributor: contributor,
		TargetID:    target,
		Amount:      amount,
		Proof:       proof,
	})
	if err != nil {
		h.t.Fatalf("place bid %s: %v", proof, err)
	}
	return r
}

func (h *harness) balance(account string) int64 {
	h.t.Helper()
	b, err := h.store.Ledger().Balance(h.ctx, account)
	if err != nil {
		h.t.Fatalf("balance %s: %v", account, err)
	}
	return b
}

func (h *harness) pool(id string) domain.Pool {
	h.t.Helper()
	p, err := h.store.Pools().GetByID(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get pool %s: %v", id, err)
	}
	return p
}

func (h *harness) bidByID(id string) domain.Bid {
	h.t.Helper()
	b, err := h.store.Bids().GetByID(h.ctx, id)
	if err != nil {
		h.t.Fatalf("get bid %s: %v", id, err)
	}
	return b
}

func (h *harness) tick() TickSummary {
	h.t.Helper()
	sum, err := h.lifecycle.RunTick(h.ctx)
	if err != nil {
		h.t.Fatalf("run tick: %v", err)
	}
	return sum
}

func (h *harness) drainRefunds() int {
	h.t.Helper()
	n, err := h.queue.Drain(h.ctx)
	if err != nil {
		h.t.Fatalf("drain refunds: %v", err)
	}
	return n
}

// assertPoolTotal checks TotalPooled against the live bids of a pool.
func (h *harness) assertPoolTotal(poolID string) {
	h.t.Helper()
	live, err := h.store.Bids().SumLive(h.ctx, poolID)
	if err != nil {
		h.t.Fatalf("sum live: %v", err)
	}
	if got := h.pool(poolID).TotalPooled; got != live {
		h.t.Fatalf("pool %s total %d, live bids %d", poolID, got, live)
	}
}

func newTestClock() *clock.Manual {
	return clock.NewManual(epoch)
}
