// Package testutil provides common testing utilities and fakes shared by the
// framework's package tests.
package testutil

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
)

// MemoryStore is a generic in-memory store for testing.
type MemoryStore[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore[K comparable, V any]() *MemoryStore[K, V] {
	return &MemoryStore[K, V]{items: make(map[K]V)}
}

// Set stores an item.
func (s *MemoryStore[K, V]) Set(key K, value V) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
}

// Get retrieves an item.
func (s *MemoryStore[K, V]) Get(key K) (V, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	return v, ok
}

// Delete removes an item.
func (s *MemoryStore[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
}

// Count returns the number of items.
func (s *MemoryStore[K, V]) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// =============================================================================
// Cache
// =============================================================================

// Cache is a byte cache that counts hits and misses. It satisfies model.Cache.
// TTLs are recorded but never expire entries.
type Cache struct {
	store  *MemoryStore[string, []byte]
	ttls   *MemoryStore[string, time.Duration]
	hits   atomic.Int64
	misses atomic.Int64
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		store: NewMemoryStore[string, []byte](),
		ttls:  NewMemoryStore[string, time.Duration](),
	}
}

// Get returns the stored bytes.
func (c *Cache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := c.store.Get(key)
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return v, ok, nil
}

// Set stores value under key.
func (c *Cache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.store.Set(key, append([]byte(nil), value...))
	c.ttls.Set(key, ttl)
	return nil
}

// Delete removes keys.
func (c *Cache) Delete(_ context.Context, keys ...string) error {
	for _, k := range keys {
		c.store.Delete(k)
		c.ttls.Delete(k)
	}
	return nil
}

// Raw returns the stored bytes without counting a hit.
func (c *Cache) Raw(key string) ([]byte, bool) { return c.store.Get(key) }

// TTL returns the ttl key was last stored with.
func (c *Cache) TTL(key string) time.Duration {
	ttl, _ := c.ttls.Get(key)
	return ttl
}

// Hits returns the number of Get calls that found a value.
func (c *Cache) Hits() int { return int(c.hits.Load()) }

// Misses returns the number of Get calls that found nothing.
func (c *Cache) Misses() int { return int(c.misses.Load()) }

// Len returns the number of stored keys.
func (c *Cache) Len() int { return c.store.Count() }

// =============================================================================
// Config and network
// =============================================================================

// Config returns the defaults with quiet logging and a test secret, then
// applies mutate.
func Config(mutate func(*config.Config)) *config.Config {
	cfg := config.Default()
	cfg.Env = config.EnvTest
	cfg.Secret = "test-secret-" + GenerateID()
	cfg.Logging.Level = "error"
	cfg.Logging.Output = "stderr"
	if mutate != nil {
		mutate(cfg)
	}
	return cfg
}

// Listen opens a loopback listener that is closed when the test ends.
func Listen(t testing.TB) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

// GenerateID generates a new UUID string.
func GenerateID() string {
	return uuid.NewString()
}
