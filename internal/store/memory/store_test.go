package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

func TestStore_WithTxRollsBackOnError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	s.SetBalance("alice", 100)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(ctx context.Context) error {
		if err := s.Ledger().Debit(ctx, "alice", 40); err != nil {
			return err
		}
		if err := s.Proofs().Consume(ctx, "p-1", "bid-1"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	bal, err := s.Ledger().Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if bal != 100 {
		t.Fatalf("expected balance 100 after rollback, got %d", bal)
	}
	used, _ := s.Proofs().Exists(ctx, "p-1")
	if used {
		t.Fatalf("expected proof to be released after rollback")
	}
}

func TestStore_NestedTxJoinsOuter(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	s.SetBalance("alice", 10)

	err := s.WithTx(ctx, func(ctx context.Context) error {
		return s.WithTx(ctx, func(ctx context.Context) error {
			return s.Ledger().Credit(ctx, "alice", 5)
		})
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	bal, _ := s.Ledger().Balance(ctx, "alice")
	if bal != 15 {
		t.Fatalf("expected 15, got %d", bal)
	}
}

func TestStore_Constraints(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	t.Run("one bidding pool per target", func(t *testing.T) {
		s := New()
		pools := s.Pools()
		if err := pools.Create(ctx, domain.Pool{ID: "p1", TargetID: "t1", Status: domain.PoolStatusBidding, CreatedAt: now}); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := pools.Create(ctx, domain.Pool{ID: "p2", TargetID: "t1", Status: domain.PoolStatusBidding, CreatedAt: now})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("one active bid per contributor and pool", func(t *testing.T) {
		s := New()
		bids := s.Bids()
		if err := bids.Create(ctx, domain.Bid{ID: "b1", PoolID: "p1", Contributor: "alice", Status: domain.BidStatusActive}); err != nil {
			t.Fatalf("create: %v", err)
		}
		err := bids.Create(ctx, domain.Bid{ID: "b2", PoolID: "p1", Contributor: "alice", Status: domain.BidStatusActive})
		if !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("proof consumed once", func(t *testing.T) {
		s := New()
		if err := s.Proofs().Consume(ctx, "proof", "b1"); err != nil {
			t.Fatalf("consume: %v", err)
		}
		if err := s.Proofs().Consume(ctx, "proof", "b2"); !errors.Is(err, domain.ErrDuplicateProof) {
			t.Fatalf("expected ErrDuplicateProof, got %v", err)
		}
	})

	t.Run("debit never overdraws", func(t *testing.T) {
		s := New()
		s.SetBalance("bob", 5)
		if err := s.Ledger().Debit(ctx, "bob", 6); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance, got %v", err)
		}
		if err := s.Ledger().Debit(ctx, "carol", 1); !errors.Is(err, domain.ErrInsufficientBalance) {
			t.Fatalf("expected ErrInsufficientBalance for missing account, got %v", err)
		}
	})

	t.Run("credit requires account", func(t *testing.T) {
		s := New()
		if err := s.Ledger().Credit(ctx, "dave", 1); !errors.Is(err, domain.ErrAccountNotFound) {
			t.Fatalf("expected ErrAccountNotFound, got %v", err)
		}
	})
}

func TestBidStore_TransitionByPool(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := New()
	bids := s.Bids()
	for _, b := range []domain.Bid{
		{ID: "b1", PoolID: "p1", Contributor: "a", Amount: 10, Status: domain.BidStatusActive},
		{ID: "b2", PoolID: "p1", Contributor: "b", Amount: 20, Status: domain.BidStatusRefunded},
		{ID: "b3", PoolID: "p2", Contributor: "a", Amount: 30, Status: domain.BidStatusActive},
	} {
		if err := bids.Create(ctx, b); err != nil {
			t.Fatalf("create %s: %v", b.ID, err)
		}
	}

	moved, err := bids.TransitionByPool(ctx, "p1", domain.BidStatusActive, domain.BidStatusOutbid)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if len(moved) != 1 || moved[0].ID != "b1" {
		t.Fatalf("expected only b1 to move, got %+v", moved)
	}
	other, _ := bids.GetByID(ctx, "b3")
	if other.Status != domain.BidStatusActive {
		t.Fatalf("expected bid in other pool untouched, got %s", other.Status)
	}

	if _, err := bids.TransitionByPool(ctx, "p1", domain.BidStatusRefunded, domain.BidStatusActive); !errors.Is(err, domain.ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
}

func TestAuditStore_FiltersBySubject(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	audit := New().Audit()

	for _, e := range []domain.AuditEntry{
		{Event: domain.AuditBidPlaced, PoolID: "pool-1", BidID: "bid-1", Actor: "alice"},
		{Event: domain.AuditBidPlaced, PoolID: "pool-2", BidID: "bid-2", Actor: "bob"},
		{Event: domain.AuditPoolWon, PoolID: "pool-1"},
	} {
		if err := audit.Log(ctx, e); err != nil {
			t.Fatalf("log %s: %v", e.Event, err)
		}
	}
	if err := audit.Log(ctx, domain.AuditEntry{Event: "pool.exploded"}); !errors.Is(err, domain.ErrUnknownAuditEvent) {
		t.Fatalf("expected ErrUnknownAuditEvent, got %v", err)
	}

	got, err := audit.List(ctx, domain.AuditFilter{PoolID: "pool-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].Event != domain.AuditPoolWon || got[1].BidID != "bid-1" {
		t.Fatalf("unexpected pool-1 history %+v", got)
	}

	got, _ = audit.List(ctx, domain.AuditFilter{Event: domain.AuditBidPlaced, ListOpts: domain.ListOpts{Limit: 1}})
	if len(got) != 1 || got[0].Actor != "bob" {
		t.Fatalf("expected newest bid.placed entry, got %+v", got)
	}
}
