// Package redis implements domain cache interfaces using go-redis/v9:
// Store (generic byte store), SignalBus (pub/sub + streams), RateLimiter
// (sliding-window), and LockManager (distributed mutual exclusion), all
// sharing one pooled *redis.Client connection.
package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/arbitonlabs/arbiton/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr       string
	Password   string
	DB         int
	PoolSize   int
	MaxRetries int
	TLSEnabled bool
}

// Client wraps a go-redis Client and provides connectivity helpers. Every
// other type in this package (Store, SignalBus, RateLimiter, LockManager)
// is constructed from one Client's Underlying connection.
type Client struct {
	rdb *redis.Client
}

// New creates a new Redis Client, pings it to verify connectivity, and
// returns the wrapper. It returns an error if the connection cannot be
// established.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}

	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	rdb := redis.NewClient(opts)

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client for sub-packages that need direct
// access to the driver.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}

// Store implements domain.SharedStore as plain Redis string values with a
// per-key TTL. Category-specific serialization (JSON-encoded prices,
// opportunities, pool snapshots, ...) is the caller's concern; Store only
// moves bytes.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store backed by the given Client.
func NewStore(c *Client) *Store {
	return &Store{rdb: c.Underlying()}
}

// Get retrieves the value for key. found is false when the key does not
// exist; no error is returned in that case.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return val, true, nil
}

// Set stores value under key with the given TTL. A zero or negative ttl
// means the key never expires.
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. It is not an error for key to not exist.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis: delete %s: %w", key, err)
	}
	return nil
}

// MGet retrieves multiple keys in a single pipelined round trip. Missing
// keys are omitted from the result map.
func (s *Store) MGet(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}

	pipe := s.rdb.Pipeline()
	cmds := make(map[string]*redis.StringCmd, len(keys))
	for _, k := range keys {
		cmds[k] = pipe.Get(ctx, k)
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: mget pipeline: %w", err)
	}

	out := make(map[string][]byte, len(keys))
	for k, cmd := range cmds {
		val, err := cmd.Bytes()
		if err != nil {
			continue
		}
		out[k] = val
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SharedStore = (*Store)(nil)
