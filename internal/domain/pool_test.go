package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPool_ApplyAntiSnipe(t *testing.T) {
	t.Parallel()

	end := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := SnipePolicy{Window: 5 * time.Minute, Extension: 5 * time.Minute, MaxExtension: 12 * time.Minute}

	tests := []struct {
		name     string
		endsAt   time.Time
		now      time.Time
		extended bool
		want     time.Time
	}{
		{"outside window", end, end.Add(-10 * time.Minute), false, end},
		{"inside window", end, end.Add(-2 * time.Minute), true, end.Add(5 * time.Minute)},
		{"exactly at window edge", end, end.Add(-5 * time.Minute), true, end.Add(5 * time.Minute)},
		{"after close", end, end, false, end},
		{"capped at ceiling", end.Add(10 * time.Minute), end.Add(9 * time.Minute), true, end.Add(12 * time.Minute)},
		{"already at ceiling", end.Add(12 * time.Minute), end.Add(11 * time.Minute), false, end.Add(12 * time.Minute)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Pool{EndsAt: tt.endsAt, OriginalEndsAt: end}
			got := p.ApplyAntiSnipe(tt.now, policy)
			if got != tt.extended {
				t.Fatalf("expected extended=%v, got %v", tt.extended, got)
			}
			if !p.EndsAt.Equal(tt.want) {
				t.Fatalf("expected ends_at %v, got %v", tt.want, p.EndsAt)
			}
		})
	}

	t.Run("unbounded when max extension is zero", func(t *testing.T) {
		p := Pool{EndsAt: end.Add(time.Hour), OriginalEndsAt: end}
		if !p.ApplyAntiSnipe(end.Add(time.Hour-time.Minute), SnipePolicy{Window: 5 * time.Minute, Extension: 5 * time.Minute}) {
			t.Fatalf("expected extension")
		}
		if !p.EndsAt.Equal(end.Add(time.Hour + 5*time.Minute)) {
			t.Fatalf("unexpected ends_at %v", p.EndsAt)
		}
	})
}

func TestSelectWinner(t *testing.T) {
	t.Parallel()

	end := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	if got := SelectWinner(nil); got != -1 {
		t.Fatalf("expected -1 for no pools, got %d", got)
	}

	pools := []Pool{
		{ID: "c", TotalPooled: 70, EndsAt: end},
		{ID: "b", TotalPooled: 100, EndsAt: end},
		{ID: "a", TotalPooled: 100, EndsAt: end},
		{ID: "d", TotalPooled: 100, EndsAt: end.Add(time.Minute)},
	}
	if got := SelectWinner(pools); pools[got].ID != "a" {
		t.Fatalf("expected a, got %s", pools[got].ID)
	}

	pools[1].EndsAt = end.Add(-time.Minute)
	if got := SelectWinner(pools); pools[got].ID != "b" {
		t.Fatalf("expected earlier close to win tie, got %s", pools[got].ID)
	}
}

func TestTransitions(t *testing.T) {
	t.Parallel()

	p := Pool{Status: PoolStatusBidding}
	if err := p.Transition(PoolStatusActive); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected bidding -> active to be illegal, got %v", err)
	}
	for _, next := range []PoolStatus{PoolStatusPendingPromotion, PoolStatusActive, PoolStatusCompleted} {
		if err := p.Transition(next); err != nil {
			t.Fatalf("transition to %s: %v", next, err)
		}
	}
	if err := p.Transition(PoolStatusBidding); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected completed to be terminal, got %v", err)
	}

	b := Bid{Status: BidStatusWon}
	if err := b.Transition(BidStatusRefunded); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected won bid not to be refunded directly, got %v", err)
	}
	if !CanTransitionBid(BidStatusWon, BidStatusOutbid) {
		t.Fatalf("expected a cancelled winner's bid to become outbid")
	}

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	b = Bid{Status: BidStatusOutbid, Amount: 40}
	if err := b.MarkRefunded(now); err != nil {
		t.Fatalf("mark refunded: %v", err)
	}
	if b.RefundAmount != 40 || b.RefundedAt == nil || !b.RefundedAt.Equal(now) {
		t.Fatalf("unexpected refund fields: %+v", b)
	}
	if err := b.MarkRefunded(now); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected second refund to be illegal, got %v", err)
	}
}

func TestChooseEvictionSlot(t *testing.T) {
	t.Parallel()

	t0 := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		slots []FeaturedSlot
		want  int
	}{
		{"no rows", nil, 0},
		{"lowest unfilled", []FeaturedSlot{{SlotIndex: 0, TargetID: "x", PromotedAt: t0}, {SlotIndex: 1}}, 1},
		{"oldest promoted", []FeaturedSlot{
			{SlotIndex: 0, TargetID: "x", PromotedAt: t0.Add(time.Hour)},
			{SlotIndex: 1, TargetID: "y", PromotedAt: t0},
		}, 1},
		{"tie picks lowest index", []FeaturedSlot{
			{SlotIndex: 1, TargetID: "y", PromotedAt: t0},
			{SlotIndex: 0, TargetID: "x", PromotedAt: t0},
		}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ChooseEvictionSlot(tt.slots, 2); got != tt.want {
				t.Fatalf("expected slot %d, got %d", tt.want, got)
			}
		})
	}
}

func TestNormalizeContributor(t *testing.T) {
	t.Parallel()

	lower := "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	want := "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	if got := NormalizeContributor("  " + lower + " "); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
	if got := NormalizeContributor("user-42"); got != "user-42" {
		t.Fatalf("expected non-address id untouched, got %s", got)
	}
}
