// Package cache provides the process-wide cache client created during Connect.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
	"github.com/ship-components/ceres-framework-sub000/pkg/model"
)

// Client is a byte oriented cache. It satisfies model.Cache.
type Client interface {
	model.Cache
	Ping(ctx context.Context) error
	Close() error
}

// New builds the cache client selected by cfg.Type. Unknown or empty types use
// the in-memory LRU.
func New(ctx context.Context, cfg config.CacheConfig) (Client, error) {
	switch cfg.Type {
	case "redis":
		c := NewRedis(cfg)
		if err := c.Ping(ctx); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Addr, err)
		}
		return c, nil
	default:
		return NewMemory(cfg.Size)
	}
}

// =============================================================================
// Redis
// =============================================================================

// Redis is a go-redis backed cache.
type Redis struct {
	client *redis.Client
}

// NewRedis creates a redis cache without contacting the server.
func NewRedis(cfg config.CacheConfig) *Redis {
	addr := cfg.Addr
	if addr == "" {
		addr = "localhost:6379"
	}
	return &Redis{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Get returns the value stored under key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

// Set stores value under key. A zero ttl never expires.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.client.Set(ctx, key, value, ttl).Err()
}

// Delete removes keys.
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// Ping checks the connection.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the connection pool.
func (r *Redis) Close() error {
	return r.client.Close()
}

// =============================================================================
// Memory
// =============================================================================

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is a size bounded LRU cache with per-entry expiry.
type Memory struct {
	lru *lru.Cache[string, entry]
	now func() time.Time
}

// NewMemory creates an LRU cache holding up to size entries.
func NewMemory(size int) (*Memory, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, entry](size)
	if err != nil {
		return nil, err
	}
	return &Memory{lru: c, now: time.Now}, nil
}

// Get returns a live entry.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.lru.Get(key)
	if !ok {
		return nil, false, nil
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		m.lru.Remove(key)
		return nil, false, nil
	}
	return e.value, true, nil
}

// Set stores value under key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := entry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.lru.Add(key, e)
	return nil
}

// Delete removes keys.
func (m *Memory) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		m.lru.Remove(k)
	}
	return nil
}

// Len returns the number of cached entries.
func (m *Memory) Len() int { return m.lru.Len() }

// Ping always succeeds.
func (m *Memory) Ping(context.Context) error { return nil }

// Close purges the cache.
func (m *Memory) Close() error {
	m.lru.Purge()
	return nil
}
