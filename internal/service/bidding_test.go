package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/spotlight/internal/cache/local"
	"github.com/alanyoungcy/spotlight/internal/domain"
)

func TestPlaceBid_MergesRepeatContribution(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund("alice", 5000)

	first := h.bid("alice", "post-a", 1000, "p1")
	second := h.bid("alice", "post-a", 500, "p2")

	if first.PoolID != second.PoolID || first.BidID != second.BidID {
		t.Fatalf("expected merge into %s/%s, got %s/%s", first.PoolID, first.BidID, second.PoolID, second.BidID)
	}
	if second.ContributorTotal != 1500 || second.PoolTotal != 1500 {
		t.Fatalf("expected totals 1500/1500, got %d/%d", second.ContributorTotal, second.PoolTotal)
	}

	bids, err := h.store.Bids().ListByPool(h.ctx, first.PoolID)
	if err != nil {
		t.Fatalf("list bids: %v", err)
	}
	if len(bids) != 1 || bids[0].Amount != 1500 || bids[0].Status != domain.BidStatusActive {
		t.Fatalf("expected one active bid of 1500, got %+v", bids)
	}
	if got := h.balance("alice"); got != 3500 {
		t.Fatalf("expected balance 3500, got %d", got)
	}
	h.assertPoolTotal(first.PoolID)

	p := h.pool(first.PoolID)
	if p.TopContributor != "alice" || p.LastBidAt == nil {
		t.Fatalf("expected top contributor and last bid time, got %+v", p)
	}

	// The merged bid keeps its first proof; each contribution is still
	// consumed and audited on its own.
	if bids[0].Proof != "p1" || bids[0].Funding != domain.FundingBalance {
		t.Fatalf("expected first contribution's funding and proof, got %s/%s", bids[0].Funding, bids[0].Proof)
	}
	for _, proof := range []string{"p1", "p2"} {
		if used, _ := h.store.Proofs().Exists(h.ctx, proof); !used {
			t.Fatalf("expected proof %s consumed", proof)
		}
	}
	placed, err := h.store.Audit().List(h.ctx, domain.AuditFilter{Event: domain.AuditBidPlaced, PoolID: first.PoolID})
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(placed) != 2 || placed[0].Detail["proof"] != "p2" || placed[1].Detail["proof"] != "p1" {
		t.Fatalf("expected one bid.placed entry per contribution, got %+v", placed)
	}
}

func TestPlaceBid_TopContributorIsMostRecent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund("alice", 5000)
	h.fund("bob", 5000)

	h.bid("alice", "post-a", 3000, "p1")
	r := h.bid("bob", "post-a", 200, "p2")

	p := h.pool(r.PoolID)
	if p.TopContributor != "bob" {
		t.Fatalf("expected most recent contributor bob, got %s", p.TopContributor)
	}
	if p.TotalPooled != 3200 {
		t.Fatalf("expected total 3200, got %d", p.TotalPooled)
	}
}

func TestPlaceBid_RejectsWithoutMutation(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund("alice", 1000)
	h.bid("alice", "post-a", 200, "used")

	tests := []struct {
		name string
		in   PlaceBidInput
		want error
	}{
		{"below minimum", PlaceBidInput{Contributor: "alice", TargetID: "post-b", Amount: 99, Proof: "x1"}, domain.ErrBelowMinimum},
		{"above maximum", PlaceBidInput{Contributor: "alice", TargetID: "post-b", Amount: 100_001, Proof: "x2"}, domain.ErrAboveMaximum},
		{"insufficient balance", PlaceBidInput{Contributor: "alice", TargetID: "post-b", Amount: 900, Proof: "x3"}, domain.ErrInsufficientBalance},
		{"unknown account", PlaceBidInput{Contributor: "nobody", TargetID: "post-b", Amount: 100, Proof: "x4"}, domain.ErrInsufficientBalance},
		{"duplicate proof", PlaceBidInput{Contributor: "alice", TargetID: "post-b", Amount: 100, Proof: "used"}, domain.ErrDuplicateProof},
		{"missing proof", PlaceBidInput{Contributor: "alice", TargetID: "post-b", Amount: 100}, domain.ErrInvalidBid},
		{"unknown target", PlaceBidInput{Contributor: "alice", TargetID: "nope", Amount: 100, Proof: "x5"}, domain.ErrNotFound},
		{"unknown funding", PlaceBidInput{Contributor: "alice", TargetID: "post-b", Amount: 100, Proof: "x6", Funding: "card"}, domain.ErrInvalidBid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.bidding.PlaceBid(h.ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if got := h.balance("alice"); got != 800 {
		t.Fatalf("expected balance untouched at 800, got %d", got)
	}
	if _, err := h.store.Pools().GetBiddingByTargetForUpdate(h.ctx, "post-b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected bids must not open a pool, got %v", err)
	}
	if used, _ := h.store.Proofs().Exists(h.ctx, "x3"); used {
		t.Fatalf("proof of a failed bid must not be consumed")
	}
}

func TestPlaceBid_AntiSnipe(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund("alice", 10_000)

	r := h.bid("alice", "post-a", 100, "p1")
	if r.Extended {
		t.Fatalf("first bid an hour out must not extend")
	}
	original := r.EndsAt

	h.clock.Set(original.Add(-time.Second))
	late := h.bid("alice", "post-a", 100, "p2")
	if !late.Extended {
		t.Fatalf("expected extension for a bid one second before close")
	}
	if want := original.Add(h.cfg.Snipe.Extension); !late.EndsAt.Equal(want) {
		t.Fatalf("expected ends_at %v, got %v", want, late.EndsAt)
	}

	t.Run("capped at max extension", func(t *testing.T) {
		ceiling := original.Add(h.cfg.Snipe.MaxExtension)
		for i := 0; i < 20; i++ {
			p := h.pool(r.PoolID)
			h.clock.Set(p.EndsAt.Add(-time.Second))
			h.bid("alice", "post-a", 100, fmt.Sprintf("cap-%d", i))
		}
		if got := h.pool(r.PoolID).EndsAt; !got.Equal(ceiling) {
			t.Fatalf("expected ends_at capped at %v, got %v", ceiling, got)
		}
	})

	t.Run("closed after ends_at", func(t *testing.T) {
		h.clock.Set(h.pool(r.PoolID).EndsAt)
		_, err := h.bidding.PlaceBid(h.ctx, PlaceBidInput{Contributor: "alice", TargetID: "post-a", Amount: 100, Proof: "late"})
		if !errors.Is(err, domain.ErrAuctionClosed) {
			t.Fatalf("expected ErrAuctionClosed, got %v", err)
		}
	})
}

func TestPlaceBid_ConcurrentSameContributor(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund("alice", 100_000)

	const n = 25
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.bidding.PlaceBid(context.Background(), PlaceBidInput{
				Contributor: "alice",
				TargetID:    "post-a",
				Amount:      100,
				Proof:       fmt.Sprintf("c-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent bid: %v", err)
		}
	}

	pool, err := h.store.Pools().GetBiddingByTargetForUpdate(h.ctx, "post-a")
	if err != nil {
		t.Fatalf("get pool: %v", err)
	}
	bids, _ := h.store.Bids().ListByPool(h.ctx, pool.ID)
	if len(bids) != 1 || bids[0].Amount != n*100 {
		t.Fatalf("expected a single merged bid of %d, got %+v", n*100, bids)
	}
	h.assertPoolTotal(pool.ID)
	if got := h.balance("alice"); got != 100_000-n*100 {
		t.Fatalf("expected balance %d, got %d", 100_000-n*100, got)
	}
}

func TestPlaceBid_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 2
	cfg.RateWindow = time.Minute
	h := newHarness(t, cfg)
	h.bidding.WithRateLimiter(local.NewRateLimiter())
	h.fund("alice", 10_000)

	h.bid("alice", "post-a", 100, "r1")
	h.bid("alice", "post-a", 100, "r2")
	_, err := h.bidding.PlaceBid(h.ctx, PlaceBidInput{Contributor: "alice", TargetID: "post-a", Amount: 100, Proof: "r3"})
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
}

type downLimiter struct{}

func (downLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("redis down")
}

func TestPlaceBid_LimiterOutageFailsOpen(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit = 1
	cfg.RateWindow = time.Minute
	h := newHarness(t, cfg)
	h.bidding.WithRateLimiter(downLimiter{})
	h.fund("alice", 1000)

	r := h.bid("alice", "post-a", 300, "p1")
	h.bid("alice", "post-a", 200, "p2")
	if got := h.bidByID(r.BidID).Amount; got != 500 {
		t.Fatalf("expected both bids accepted and merged, got amount %d", got)
	}
}

type fakeVerifier struct {
	payments map[string]domain.Payment
}

func (f fakeVerifier) Verify(_ context.Context, proof string) (domain.Payment, error) {
	return f.payments[proof], nil
}

func TestPlaceBid_OnChainFunding(t *testing.T) {
	h := newHarness(t, testConfig())
	payer := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	h.bidding.WithPaymentVerifier(fakeVerifier{payments: map[string]domain.Payment{
		"0xgood":  {Valid: true, Amount: 700, From: payer},
		"0xshort": {Valid: true, Amount: 100, From: payer},
		"0xother": {Valid: true, Amount: 700, From: "0x0000000000000000000000000000000000000001"},
	}})

	r, err := h.bidding.PlaceBid(h.ctx, PlaceBidInput{
		Contributor: "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed",
		TargetID:    "post-a",
		Amount:      700,
		Proof:       "0xgood",
		Funding:     domain.FundingOnChain,
	})
	if err != nil {
		t.Fatalf("place on-chain bid: %v", err)
	}
	if r.PoolTotal != 700 {
		t.Fatalf("expected pool total 700, got %d", r.PoolTotal)
	}
	if got := h.balance(payer); got != 0 {
		t.Fatalf("on-chain funding must open an empty account, got balance %d", got)
	}

	for _, proof := range []string{"0xshort", "0xother", "0xmissing"} {
		t.Run(proof, func(t *testing.T) {
			_, err := h.bidding.PlaceBid(h.ctx, PlaceBidInput{
				Contributor: payer, TargetID: "post-b", Amount: 700, Proof: proof, Funding: domain.FundingOnChain,
			})
			if !errors.Is(err, domain.ErrAuctionClosed) || !errors.Is(err, domain.ErrPaymentUnverified) {
				t.Fatalf("expected closed + unverified, got %v", err)
			}
		})
	}
	if _, err := h.store.Pools().GetBiddingByTargetForUpdate(h.ctx, "post-b"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unverified payments must not open a pool")
	}
}

type fakeAuth struct{ valid string }

func (f fakeAuth) Authenticate(_ context.Context, _ domain.BidIntent, sig string) error {
	if sig != f.valid {
		return fmt.Errorf("bad signature: %w", domain.ErrUnauthorized)
	}
	return nil
}

func TestPlaceBid_RequireSignature(t *testing.T) {
	cfg := testConfig()
	cfg.RequireSignature = true
	h := newHarness(t, cfg)
	h.fund("alice", 1000)

	in := PlaceBidInput{Contributor: "alice", TargetID: "post-a", Amount: 100, Proof: "s1"}
	if _, err := h.bidding.PlaceBid(h.ctx, in); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized without authenticator, got %v", err)
	}

	h.bidding.WithAuthenticator(fakeAuth{valid: "sig"})
	in.Signature = "wrong"
	if _, err := h.bidding.PlaceBid(h.ctx, in); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for bad signature, got %v", err)
	}
	in.Signature = "sig"
	if _, err := h.bidding.PlaceBid(h.ctx, in); err != nil {
		t.Fatalf("signed bid: %v", err)
	}
}

func TestPlaceBid_PublishesEvent(t *testing.T) {
	h := newHarness(t, testConfig())
	h.fund("alice", 1000)
	h.bid("alice", "post-a", 100, "e1")

	msgs, err := h.bus.StreamRead(h.ctx, domain.StreamEvents, "0", 10)
	if err != nil {
		t.Fatalf("stream read: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one event, got %d", len(msgs))
	}
}
