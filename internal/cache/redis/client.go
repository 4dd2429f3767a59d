// Package redis implements the distributed helpers (locks, rate limits,
// event bus and read caches) on go-redis/v9.
package redis

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultNamespace prefixes every key and channel when none is configured.
const DefaultNamespace = "spotlight"

// ClientConfig holds connection parameters. Deployments sharing one Redis
// must use distinct namespaces: locks, limits, caches and bus channels are
// all scoped by it.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
	Namespace  string
}

// keyspace builds namespaced keys and channel names.
type keyspace string

func (k keyspace) key(parts ...string) string {
	return string(k) + ":" + strings.Join(parts, ":")
}

// Client is the shared connection every helper in this package is built on.
type Client struct {
	rdb  *redis.Client
	keys keyspace
}

// New connects and pings Redis.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts, err := options(cfg)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb, keys: keyspace(cmp.Or(cfg.Namespace, DefaultNamespace))}, nil
}

func options(cfg ClientConfig) (*redis.Options, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis: addr is required")
	}
	if strings.ContainsAny(cfg.Namespace, ":*?[ ") {
		return nil, fmt.Errorf("redis: namespace %q may not contain separators or glob characters", cfg.Namespace)
	}
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
		ClientName: cmp.Or(cfg.Namespace, DefaultNamespace),
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// Ping backs the redis health check.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Purge deletes every key in the client's namespace and returns how many
// were removed. Bus channels hold no keys and are unaffected.
func (c *Client) Purge(ctx context.Context) (int64, error) {
	var removed int64
	iter := c.rdb.Scan(ctx, 0, c.keys.key("*"), 500).Iterator()
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := c.rdb.Unlink(ctx, batch...).Result()
		removed += n
		batch = batch[:0]
		return err
	}
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 500 {
			if err := flush(); err != nil {
				return removed, fmt.Errorf("redis: purge %s: %w", c.keys, err)
			}
		}
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis: purge %s: %w", c.keys, err)
	}
	if err := flush(); err != nil {
		return removed, fmt.Errorf("redis: purge %s: %w", c.keys, err)
	}
	return removed, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
