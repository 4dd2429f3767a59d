package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// PoolStore implements domain.PoolStore.
type PoolStore struct {
	s *Store
}

func (p *PoolStore) Create(ctx context.Context, pool domain.Pool) error {
	defer p.s.enter(ctx)()

	if _, ok := p.s.pools[pool.ID]; ok {
		return fmt.Errorf("memory: create pool %s: %w", pool.ID, domain.ErrAlreadyExists)
	}
	if pool.Status == domain.PoolStatusBidding {
		for _, other := range p.s.pools {
			if other.TargetID == pool.TargetID && other.Status == domain.PoolStatusBidding {
				return fmt.Errorf("memory: create pool for target %s: %w", pool.TargetID, domain.ErrAlreadyExists)
			}
		}
	}
	p.s.pools[pool.ID] = pool
	return nil
}

func (p *PoolStore) Update(ctx context.Context, pool domain.Pool) error {
	defer p.s.enter(ctx)()

	if _, ok := p.s.pools[pool.ID]; !ok {
		return fmt.Errorf("memory: update pool %s: %w", pool.ID, domain.ErrNotFound)
	}
	p.s.pools[pool.ID] = pool
	return nil
}

func (p *PoolStore) GetByID(ctx context.Context, id string) (domain.Pool, error) {
	defer p.s.enter(ctx)()
	return p.get(id)
}

func (p *PoolStore) GetForUpdate(ctx context.Context, id string) (domain.Pool, error) {
	defer p.s.enter(ctx)()
	return p.get(id)
}

func (p *PoolStore) get(id string) (domain.Pool, error) {
	pool, ok := p.s.pools[id]
	if !ok {
		return domain.Pool{}, fmt.Errorf("memory: get pool %s: %w", id, domain.ErrNotFound)
	}
	return pool, nil
}

func (p *PoolStore) GetBiddingByTargetForUpdate(ctx context.Context, targetID string) (domain.Pool, error) {
	defer p.s.enter(ctx)()

	for _, pool := range p.s.pools {
		if pool.TargetID == targetID && pool.Status == domain.PoolStatusBidding {
			return pool, nil
		}
	}
	return domain.Pool{}, fmt.Errorf("memory: bidding pool for target %s: %w", targetID, domain.ErrNotFound)
}

func (p *PoolStore) ListByStatus(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	defer p.s.enter(ctx)()

	out := p.filter(func(pool domain.Pool) bool {
		return pool.Status == status && inRange(pool.CreatedAt, opts)
	})
	return page(out, opts), nil
}

func (p *PoolStore) ListEnded(ctx context.Context, now time.Time) ([]domain.Pool, error) {
	defer p.s.enter(ctx)()

	return p.filter(func(pool domain.Pool) bool {
		return pool.Status == domain.PoolStatusBidding && pool.Ended(now)
	}), nil
}

func (p *PoolStore) ListStatusForUpdate(ctx context.Context, status domain.PoolStatus) ([]domain.Pool, error) {
	defer p.s.enter(ctx)()

	return p.filter(func(pool domain.Pool) bool {
		return pool.Status == status
	}), nil
}

func (p *PoolStore) LastWonAt(ctx context.Context) (time.Time, error) {
	defer p.s.enter(ctx)()

	var last time.Time
	for _, pool := range p.s.pools {
		if pool.WonAt != nil && pool.WonAt.After(last) {
			last = *pool.WonAt
		}
	}
	return last, nil
}

func (p *PoolStore) ListCompletedBetween(ctx context.Context, since, before time.Time) ([]domain.Pool, error) {
	defer p.s.enter(ctx)()

	return p.filter(func(pool domain.Pool) bool {
		return pool.Status == domain.PoolStatusCompleted &&
			!pool.UpdatedAt.Before(since) && pool.UpdatedAt.Before(before)
	}), nil
}

func (p *PoolStore) filter(keep func(domain.Pool) bool) []domain.Pool {
	var out []domain.Pool
	for _, pool := range p.s.pools {
		if keep(pool) {
			out = append(out, pool)
		}
	}
	sortPools(out)
	return out
}
