// Package redisstore wraps the Redis operations the subscription store needs.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/catalog-kml/internal/core/observability"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("redis: key not found")

type Option func(*redis.Options)

func WithPoolSize(n int) Option {
	return func(o *redis.Options) { o.PoolSize = n }
}

func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.DialTimeout = d }
}

func WithReadTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.ReadTimeout = d }
}

func WithWriteTimeout(d time.Duration) Option {
	return func(o *redis.Options) { o.WriteTimeout = d }
}

func WithDB(db int) Option {
	return func(o *redis.Options) { o.DB = db }
}

type Client struct {
	rdb *redis.Client
}

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	ro := &redis.Options{
		Addr:         addr,
		PoolSize:     16,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
	for _, f := range opts {
		f(ro)
	}

	rdb := redis.NewClient(ro)
	c := &Client{rdb: rdb}
	if err := c.Ping(ctx); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) Ping(ctx context.Context) error {
	start := time.Now()
	err := c.rdb.Ping(ctx).Err()
	observability.ObserveSinkOp("redis", "ping", err, start)
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// HGet returns one hash field, or ErrNotFound when the key or field is
// missing.
func (c *Client) HGet(ctx context.Context, key, field string) ([]byte, error) {
	start := time.Now()
	b, err := c.rdb.HGet(ctx, key, field).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveSinkOp("redis", "hget", nil, start)
		return nil, ErrNotFound
	}
	observability.ObserveSinkOp("redis", "hget", err, start)
	if err != nil {
		return nil, fmt.Errorf("redis HGET %q %q: %w", key, field, err)
	}
	return b, nil
}

// PutIndexed replaces the hash at key with fields and adds member to every
// index set, in one MULTI/EXEC.
func (c *Client) PutIndexed(ctx context.Context, key string, fields map[string]string, member string, index []string) error {
	start := time.Now()
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, key)
		p.HSet(ctx, key, fields)
		for _, set := range index {
			p.SAdd(ctx, set, member)
		}
		return nil
	})
	observability.ObserveSinkOp("redis", "put_indexed", err, start)
	if err != nil {
		return fmt.Errorf("redis HSET %q with %d index sets: %w", key, len(index), err)
	}
	return nil
}

// DelIndexedIf removes member from every index set and deletes key only
// while its guard field still equals want. It reports whether key was
// deleted. A concurrent write to key retries the check.
func (c *Client) DelIndexedIf(ctx context.Context, key, guard, want, member string, index []string) (bool, error) {
	start := time.Now()
	var deleted bool
	txf := func(tx *redis.Tx) error {
		cur, err := tx.HGet(ctx, key, guard).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		match := err == nil && cur == want
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			if match {
				p.Del(ctx, key)
			}
			for _, set := range index {
				p.SRem(ctx, set, member)
			}
			return nil
		})
		deleted = match
		return err
	}

	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = c.rdb.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			break
		}
	}
	observability.ObserveSinkOp("redis", "del_indexed", err, start)
	if err != nil {
		return false, fmt.Errorf("redis DEL %q with %d index sets: %w", key, len(index), err)
	}
	return deleted, nil
}

// Union returns the distinct members of the given sets.
func (c *Client) Union(ctx context.Context, sets []string) ([]string, error) {
	start := time.Now()
	if len(sets) == 0 {
		observability.ObserveSinkOp("redis", "sunion", nil, start)
		return nil, nil
	}
	out, err := c.rdb.SUnion(ctx, sets...).Result()
	observability.ObserveSinkOp("redis", "sunion", err, start)
	if err != nil {
		return nil, fmt.Errorf("redis SUNION %d sets: %w", len(sets), err)
	}
	return out, nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
