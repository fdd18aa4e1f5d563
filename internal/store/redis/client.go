// Package redis adapts trading-systemv1's shared-store access pattern —
// one multiplexed go-redis client handed by reference to every pipeline
// component — to the cache/queue/stream/pub-sub facade this module's
// components (§4.A–§4.D) depend on.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Client is the uniform facade over the shared store (§4.A). It is the
// only component that speaks the store's wire protocol; every other
// component depends on it through model.CacheClient, model.StreamQueue,
// model.ListQueue, or model.PubSubBus.
type Client struct {
	rdb *goredis.Client
}

// New connects to the store at addr and pings it. A failed ping is a
// fatal boot error (§6, §7) — callers should treat a non-nil error as
// cause to exit non-zero, not to degrade gracefully.
func New(ctx context.Context, addr, password string, db int) (*Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	return &Client{rdb: rdb}, nil
}

// NewFromURL connects using a redis:// / rediss:// connection string
// (REDIS_URL), the form every cmd/ binary is configured with.
func NewFromURL(ctx context.Context, rawURL string) (*Client, error) {
	opts, err := goredis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return New(ctx, opts.Addr, opts.Password, opts.DB)
}

// Raw exposes the underlying go-redis client for components (stream.go,
// pubsub.go, listqueue.go in this package) that need operations beyond
// the CacheClient facade.
func (c *Client) Raw() *goredis.Client { return c.rdb }

func (c *Client) Close() error { return c.rdb.Close() }

func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %s: %w", key, err)
	}
	return v, true, nil
}

func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

func (c *Client) HIncrByFloat(ctx context.Context, key, field string, delta float64) error {
	if err := c.rdb.HIncrByFloat(ctx, key, field, delta).Err(); err != nil {
		return fmt.Errorf("hincrbyfloat %s.%s: %w", key, field, err)
	}
	return nil
}

func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) error {
	if err := c.rdb.HIncrBy(ctx, key, field, delta).Err(); err != nil {
		return fmt.Errorf("hincrby %s.%s: %w", key, field, err)
	}
	return nil
}

func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", key, err)
	}
	return m, nil
}

func (c *Client) SAdd(ctx context.Context, key, member string) error {
	if err := c.rdb.SAdd(ctx, key, member).Err(); err != nil {
		return fmt.Errorf("sadd %s: %w", key, err)
	}
	return nil
}

func (c *Client) SCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.SCard(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("scard %s: %w", key, err)
	}
	return n, nil
}

func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	m, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return m, nil
}

func (c *Client) LPush(ctx context.Context, key, value string) error {
	if err := c.rdb.LPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", key, err)
	}
	return nil
}

func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	if err := c.rdb.LTrim(ctx, key, start, stop).Err(); err != nil {
		return fmt.Errorf("ltrim %s: %w", key, err)
	}
	return nil
}

func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := c.rdb.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w", key, err)
	}
	return vals, nil
}

// ScanKeys walks the keyspace with a cursor-based SCAN/MATCH loop rather
// than a single blocking KEYS call, since the store may hold thousands of
// per-pair keys in production.
func (c *Client) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := c.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}
