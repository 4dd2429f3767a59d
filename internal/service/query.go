package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

// QueryService serves read-only views. Pool lookups read through the pool
// cache when one is configured.
type QueryService struct {
	stores Stores
	cache  domain.PoolCache
	logger *slog.Logger
}

func NewQueryService(stores Stores, cache domain.PoolCache, logger *slog.Logger) *QueryService {
	return &QueryService{stores: stores, cache: cache, logger: logger.With(slog.String("component", "query"))}
}

func (q *QueryService) Pool(ctx context.Context, id string) (domain.Pool, error) {
	if q.cache != nil {
		if p, err := q.cache.Get(ctx, id); err == nil {
			return p, nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			q.logger.WarnContext(ctx, "pool cache read", slog.String("pool_id", id), slog.String("error", err.Error()))
		}
	}
	p, err := q.stores.Pools.GetByID(ctx, id)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("service: get pool %s: %w", id, err)
	}
	if q.cache != nil {
		if err := q.cache.Set(ctx, p); err != nil {
			q.logger.WarnContext(ctx, "pool cache write", slog.String("pool_id", id), slog.String("error", err.Error()))
		}
	}
	return p, nil
}

// OpenPool returns the target's current bidding pool.
func (q *QueryService) OpenPool(ctx context.Context, targetID string) (domain.Pool, error) {
	if q.cache != nil {
		if p, err := q.cache.GetByTarget(ctx, targetID); err == nil && p.Status == domain.PoolStatusBidding {
			return p, nil
		}
	}
	p, err := q.stores.Pools.GetBiddingByTargetForUpdate(ctx, targetID)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("service: open pool of %s: %w", targetID, err)
	}
	if q.cache != nil {
		if err := q.cache.Set(ctx, p); err != nil {
			q.logger.WarnContext(ctx, "pool cache write", slog.String("pool_id", p.ID), slog.String("error", err.Error()))
		}
	}
	return p, nil
}

func (q *QueryService) Pools(ctx context.Context, status domain.PoolStatus, opts domain.ListOpts) ([]domain.Pool, error) {
	if !domain.ValidPoolStatus(status) {
		return nil, fmt.Errorf("service: list pools: %w: unknown status %q", domain.ErrInvalidBid, status)
	}
	pools, err := q.stores.Pools.ListByStatus(ctx, status, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list pools: %w", err)
	}
	return pools, nil
}

func (q *QueryService) PoolBids(ctx context.Context, poolID string) ([]domain.Bid, error) {
	if _, err := q.Pool(ctx, poolID); err != nil {
		return nil, err
	}
	bids, err := q.stores.Bids.ListByPool(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("service: list bids of pool %s: %w", poolID, err)
	}
	return bids, nil
}

func (q *QueryService) ContributorBids(ctx context.Context, contributor string, opts domain.ListOpts) ([]domain.Bid, error) {
	contributor = domain.NormalizeContributor(contributor)
	bids, err := q.stores.Bids.ListByContributor(ctx, contributor, opts)
	if err != nil {
		return nil, fmt.Errorf("service: list bids of %s: %w", contributor, err)
	}
	return bids, nil
}

func (q *QueryService) Balance(ctx context.Context, account string) (int64, error) {
	account = domain.NormalizeContributor(account)
	bal, err := q.stores.Ledger.Balance(ctx, account)
	if err != nil {
		if errors.Is(err, domain.ErrAccountNotFound) {
			return 0, fmt.Errorf("service: balance of %s: %w", account, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("service: balance of %s: %w", account, err)
	}
	return bal, nil
}

func (q *QueryService) Target(ctx context.Context, id string) (domain.Target, error) {
	t, err := q.stores.Targets.Lookup(ctx, id)
	if err != nil {
		return domain.Target{}, fmt.Errorf("service: target %s: %w", id, err)
	}
	return t, nil
}
