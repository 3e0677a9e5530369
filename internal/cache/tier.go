package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Tier is the durable, out-of-process cache layer.
type Tier interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) (int, error)
	Close() error
}

// ErrCacheMiss signals that a cache key was not found.
var ErrCacheMiss = errors.New("cache miss")

// NoopTier implements Tier but never stores data.
type NoopTier struct{}

// Get always returns ErrCacheMiss.
func (NoopTier) Get(context.Context, string) ([]byte, error) {
	return nil, ErrCacheMiss
}

// Set discards the value and returns nil.
func (NoopTier) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

// DeletePrefix is a no-op for the noop tier.
func (NoopTier) DeletePrefix(context.Context, string) (int, error) { return 0, nil }

// Close is a no-op.
func (NoopTier) Close() error { return nil }

// RedisConfig holds connection parameters for the durable tier.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RedisTier stores entries in Redis with native key expiry.
type RedisTier struct {
	client *redis.Client
	prefix string
}

// NewRedisTier connects to Redis and pings it so misconfiguration fails fast.
func NewRedisTier(ctx context.Context, cfg RedisConfig) (*RedisTier, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return NewRedisTierFromClient(client, cfg.KeyPrefix), nil
}

// NewRedisTierFromClient wraps an existing client.
func NewRedisTierFromClient(client *redis.Client, prefix string) *RedisTier {
	return &RedisTier{client: client, prefix: prefix}
}

func (t *RedisTier) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := t.client.Get(ctx, t.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, nil
}

func (t *RedisTier) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := t.client.Set(ctx, t.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (t *RedisTier) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, t.prefix+prefix+"*", 200).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			n, err := t.client.Del(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis del: %w", err)
			}
			removed += int(n)
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func (t *RedisTier) Close() error {
	if t.client != nil {
		return t.client.Close()
	}
	return nil
}
