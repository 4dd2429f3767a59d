package memory

import (
	"context"
	"fmt"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// BidStore implements domain.BidStore.
type BidStore struct {
	s *Store
}

func (b *BidStore) Create(ctx context.Context, bid domain.Bid) error {
	defer b.s.enter(ctx)()

	if _, ok := b.s.bids[bid.ID]; ok {
		return fmt.Errorf("memory: create bid %s: %w", bid.ID, domain.ErrAlreadyExists)
	}
	if bid.Status == domain.BidStatusActive {
		for _, other := range b.s.bids {
			if other.PoolID == bid.PoolID && other.Contributor == bid.Contributor && other.Status == domain.BidStatusActive {
				return fmt.Errorf("memory: create bid for %s in pool %s: %w", bid.Contributor, bid.PoolID, domain.ErrAlreadyExists)
			}
		}
	}
	b.s.bids[bid.ID] = bid
	return nil
}

func (b *BidStore) Update(ctx context.Context, bid domain.Bid) error {
	defer b.s.enter(ctx)()

	if _, ok := b.s.bids[bid.ID]; !ok {
		return fmt.Errorf("memory: update bid %s: %w", bid.ID, domain.ErrNotFound)
	}
	b.s.bids[bid.ID] = bid
	return nil
}

func (b *BidStore) GetByID(ctx context.Context, id string) (domain.Bid, error) {
	defer b.s.enter(ctx)()
	return b.get(id)
}

func (b *BidStore) GetForUpdate(ctx context.Context, id string) (domain.Bid, error) {
	defer b.s.enter(ctx)()
	return b.get(id)
}

func (b *BidStore) get(id string) (domain.Bid, error) {
	bid, ok := b.s.bids[id]
	if !ok {
		return domain.Bid{}, fmt.Errorf("memory: get bid %s: %w", id, domain.ErrNotFound)
	}
	return bid, nil
}

func (b *BidStore) GetActiveForUpdate(ctx context.Context, poolID, contributor string) (domain.Bid, error) {
	defer b.s.enter(ctx)()

	for _, bid := range b.s.bids {
		if bid.PoolID == poolID && bid.Contributor == contributor && bid.Status == domain.BidStatusActive {
			return bid, nil
		}
	}
	return domain.Bid{}, fmt.Errorf("memory: active bid for %s in pool %s: %w", contributor, poolID, domain.ErrNotFound)
}

func (b *BidStore) ListByPool(ctx context.Context, poolID string) ([]domain.Bid, error) {
	defer b.s.enter(ctx)()

	return b.filter(func(bid domain.Bid) bool { return bid.PoolID == poolID }), nil
}

func (b *BidStore) ListByStatus(ctx context.Context, status domain.BidStatus, limit int) ([]domain.Bid, error) {
	defer b.s.enter(ctx)()

	out := b.filter(func(bid domain.Bid) bool { return bid.Status == status })
	return page(out, domain.ListOpts{Limit: limit}), nil
}

func (b *BidStore) ListByContributor(ctx context.Context, contributor string, opts domain.ListOpts) ([]domain.Bid, error) {
	defer b.s.enter(ctx)()

	out := b.filter(func(bid domain.Bid) bool {
		return bid.Contributor == contributor && inRange(bid.PlacedAt, opts)
	})
	return page(out, opts), nil
}

func (b *BidStore) ListByContributorStatus(ctx context.Context, contributor string, status domain.BidStatus) ([]domain.Bid, error) {
	defer b.s.enter(ctx)()

	return b.filter(func(bid domain.Bid) bool {
		return bid.Contributor == contributor && bid.Status == status
	}), nil
}

func (b *BidStore) TransitionByPool(ctx context.Context, poolID string, from, to domain.BidStatus) ([]domain.Bid, error) {
	defer b.s.enter(ctx)()

	if !domain.CanTransitionBid(from, to) {
		return nil, fmt.Errorf("memory: transition bids of pool %s: %w: %s -> %s", poolID, domain.ErrIllegalTransition, from, to)
	}
	moved := b.filter(func(bid domain.Bid) bool {
		return bid.PoolID == poolID && bid.Status == from
	})
	for i := range moved {
		moved[i].Status = to
		b.s.bids[moved[i].ID] = moved[i]
	}
	return moved, nil
}

func (b *BidStore) SumLive(ctx context.Context, poolID string) (int64, error) {
	defer b.s.enter(ctx)()

	var sum int64
	for _, bid := range b.s.bids {
		if bid.PoolID != poolID {
			continue
		}
		if bid.Status == domain.BidStatusActive || bid.Status == domain.BidStatusWon {
			sum += bid.Amount
		}
	}
	return sum, nil
}

func (b *BidStore) ListOrphaned(ctx context.Context) ([]domain.Bid, error) {
	defer b.s.enter(ctx)()

	return b.filter(func(bid domain.Bid) bool {
		if bid.Status != domain.BidStatusActive {
			return false
		}
		pool, ok := b.s.pools[bid.PoolID]
		return ok && pool.Status == domain.PoolStatusCompleted
	}), nil
}

func (b *BidStore) filter(keep func(domain.Bid) bool) []domain.Bid {
	var out []domain.Bid
	for _, bid := range b.s.bids {
		if keep(bid) {
			out = append(out, bid)
		}
	}
	sortBids(out)
	return out
}
