package model

import (
	"context"
	"encoding/json"
	"strings"
	"time"
)

// Cache is the byte oriented cache the Cached model reads through.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// Cached decorates a Model with read-through caching of ReadAll and single id
// reads. Every write invalidates the list entry and the written ids.
type Cached struct {
	Model
	cache  Cache
	prefix string
	ttl    time.Duration
}

// NewCached wraps m. Cache failures are treated as misses.
func NewCached(m Model, c Cache, prefix string, ttl time.Duration) *Cached {
	return &Cached{Model: m, cache: c, prefix: prefix, ttl: ttl}
}

func (c *Cached) listKey() string { return c.prefix + ":all" }
func (c *Cached) idKey(id string) string { return c.prefix + ":id:" + id }

// ReadAll reads through the cache.
func (c *Cached) ReadAll(ctx context.Context) ([]Record, error) {
	if records, ok := c.load(ctx, c.listKey()); ok {
		return records, nil
	}
	records, err := c.Model.ReadAll(ctx)
	if err != nil {
		return nil, err
	}
	c.store(ctx, c.listKey(), records)
	return records, nil
}

// Read caches single id reads; bulk reads go straight to the model.
func (c *Cached) Read(ctx context.Context, key Key) ([]Record, error) {
	if !key.Single() {
		return c.Model.Read(ctx, key)
	}
	k := c.idKey(key.IDs[0])
	if records, ok := c.load(ctx, k); ok {
		return records, nil
	}
	records, err := c.Model.Read(ctx, key)
	if err != nil {
		return nil, err
	}
	c.store(ctx, k, records)
	return records, nil
}

// Create writes through and invalidates the list.
func (c *Cached) Create(ctx context.Context, body Record) (Record, error) {
	r, err := c.Model.Create(ctx, body)
	c.invalidate(ctx)
	return r, err
}

// Update writes through and invalidates the id.
func (c *Cached) Update(ctx context.Context, body Record, id string) (Record, error) {
	r, err := c.Model.Update(ctx, body, id)
	c.invalidate(ctx, id)
	return r, err
}

// UpdateAll writes through and invalidates every id.
func (c *Cached) UpdateAll(ctx context.Context, bodies []Record) ([]Record, error) {
	out, err := c.Model.UpdateAll(ctx, bodies)
	ids := make([]string, 0, len(bodies))
	for _, b := range bodies {
		ids = append(ids, b.ID())
	}
	c.invalidate(ctx, ids...)
	return out, err
}

// Del writes through and invalidates the id.
func (c *Cached) Del(ctx context.Context, id string) error {
	err := c.Model.Del(ctx, id)
	c.invalidate(ctx, id)
	return err
}

func (c *Cached) load(ctx context.Context, key string) ([]Record, bool) {
	data, ok, err := c.cache.Get(ctx, key)
	if err != nil || !ok {
		return nil, false
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false
	}
	return records, true
}

func (c *Cached) store(ctx context.Context, key string, records []Record) {
	data, err := json.Marshal(records)
	if err != nil {
		return
	}
	_ = c.cache.Set(ctx, key, data, c.ttl)
}

func (c *Cached) invalidate(ctx context.Context, ids ...string) {
	keys := []string{c.listKey()}
	for _, id := range ids {
		if strings.TrimSpace(id) != "" {
			keys = append(keys, c.idKey(id))
		}
	}
	_ = c.cache.Delete(ctx, keys...)
}
