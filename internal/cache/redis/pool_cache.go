package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/spotlight/internal/domain"
)

const poolTTL = 30 * time.Second

// PoolCache implements domain.PoolCache.
//
// Key schema:
//
//	{ns}:pool:{id}          - hash with field "data" holding JSON
//	{ns}:pool:target:{tid}  - id of the target's bidding pool
type PoolCache struct {
	rdb  *redis.Client
	keys keyspace
	ttl  time.Duration
}

// NewPoolCache creates a PoolCache backed by the given Client.
func NewPoolCache(c *Client) *PoolCache {
	return &PoolCache{rdb: c.rdb, keys: c.keys, ttl: poolTTL}
}

func (pc *PoolCache) poolKey(id string) string        { return pc.keys.key("pool", id) }
func (pc *PoolCache) poolTargetKey(tid string) string { return pc.keys.key("pool", "target", tid) }

// Set caches a pool. Only bidding pools are indexed by target.
func (pc *PoolCache) Set(ctx context.Context, pool domain.Pool) error {
	data, err := json.Marshal(pool)
	if err != nil {
		return fmt.Errorf("redis: marshal pool %s: %w", pool.ID, err)
	}

	key := pc.poolKey(pool.ID)
	pipe := pc.rdb.TxPipeline()
	pipe.HSet(ctx, key, "data", data)
	pipe.Expire(ctx, key, pc.ttl)
	if pool.Status == domain.PoolStatusBidding {
		pipe.Set(ctx, pc.poolTargetKey(pool.TargetID), pool.ID, pc.ttl)
	} else {
		pipe.Del(ctx, pc.poolTargetKey(pool.TargetID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set pool %s: %w", pool.ID, err)
	}
	return nil
}

func (pc *PoolCache) Get(ctx context.Context, id string) (domain.Pool, error) {
	data, err := pc.rdb.HGet(ctx, pc.poolKey(id), "data").Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool %s: %w", id, err)
	}

	var pool domain.Pool
	if err := json.Unmarshal(data, &pool); err != nil {
		return domain.Pool{}, fmt.Errorf("redis: unmarshal pool %s: %w", id, err)
	}
	return pool, nil
}

func (pc *PoolCache) GetByTarget(ctx context.Context, targetID string) (domain.Pool, error) {
	id, err := pc.rdb.Get(ctx, pc.poolTargetKey(targetID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Pool{}, domain.ErrNotFound
		}
		return domain.Pool{}, fmt.Errorf("redis: get pool by target %s: %w", targetID, err)
	}
	return pc.Get(ctx, id)
}

// Invalidate drops a pool and, when it was cached, its target index entry.
func (pc *PoolCache) Invalidate(ctx context.Context, id string) error {
	pool, err := pc.Get(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("redis: invalidate pool %s: %w", id, err)
	}

	pipe := pc.rdb.TxPipeline()
	pipe.Del(ctx, pc.poolKey(id))
	if err == nil {
		pipe.Del(ctx, pc.poolTargetKey(pool.TargetID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: invalidate pool %s: %w", id, err)
	}
	return nil
}

var _ domain.PoolCache = (*PoolCache)(nil)
