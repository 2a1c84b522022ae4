package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ship-components/ceres-framework-sub000/pkg/config"
)

func TestMemoryGetSetDelete(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(2)
	require.NoError(t, err)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	v, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	require.NoError(t, c.Delete(ctx, "a"))
	_, ok, _ = c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(4)
	require.NoError(t, err)

	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))

	c.now = func() time.Time { return now.Add(2 * time.Second) }
	_, ok, _ := c.Get(ctx, "k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())
}

func TestMemoryEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c, err := NewMemory(2)
	require.NoError(t, err)

	_ = c.Set(ctx, "a", []byte("1"), 0)
	_ = c.Set(ctx, "b", []byte("2"), 0)
	_, _, _ = c.Get(ctx, "a")
	_ = c.Set(ctx, "c", []byte("3"), 0)

	_, ok, _ := c.Get(ctx, "b")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "a")
	assert.True(t, ok)
}

func TestNewDefaultsToMemory(t *testing.T) {
	c, err := New(context.Background(), config.CacheConfig{Type: "unknown"})
	require.NoError(t, err)
	_, isMemory := c.(*Memory)
	assert.True(t, isMemory)
	assert.NoError(t, c.Ping(context.Background()))
	assert.NoError(t, c.Close())
}
