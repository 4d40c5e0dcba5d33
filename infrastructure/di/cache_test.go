package di

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryCache_SetAndGet(t *testing.T) {
	cache := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "snapshot", 42, 60))

	value, ok := cache.Get(ctx, "snapshot")
	require.True(t, ok)
	assert.Equal(t, 42, value)

	_, ok = cache.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestInMemoryCache_OverwriteReplacesValue(t *testing.T) {
	cache := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "snapshot", "old", 0))
	require.NoError(t, cache.Set(ctx, "snapshot", "new", 0))

	value, ok := cache.Get(ctx, "snapshot")
	require.True(t, ok)
	assert.Equal(t, "new", value)
}

func TestInMemoryCache_ZeroTTLNeverExpires(t *testing.T) {
	cache := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "snapshot", "pinned", 0))

	cache.mu.RLock()
	expiresAt := cache.items["snapshot"].expiresAt
	cache.mu.RUnlock()
	assert.True(t, expiresAt.IsZero())

	_, ok := cache.Get(ctx, "snapshot")
	assert.True(t, ok)
}

func TestInMemoryCache_ExpiredEntryIsInvisible(t *testing.T) {
	cache := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "snapshot", "stale", 60))

	// Backdate the entry instead of sleeping through a real TTL
	cache.mu.Lock()
	item := cache.items["snapshot"]
	item.expiresAt = time.Now().Add(-time.Second)
	cache.items["snapshot"] = item
	cache.mu.Unlock()

	_, ok := cache.Get(ctx, "snapshot")
	assert.False(t, ok)
}

func TestInMemoryCache_Delete(t *testing.T) {
	cache := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "snapshot", 1, 0))
	require.NoError(t, cache.Delete(ctx, "snapshot"))

	_, ok := cache.Get(ctx, "snapshot")
	assert.False(t, ok)

	assert.NoError(t, cache.Delete(ctx, "never-set"))
}

func TestInMemoryCache_Clear(t *testing.T) {
	cache := NewInMemoryCache()
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "one", 1, 0))
	require.NoError(t, cache.Set(ctx, "two", 2, 60))
	require.NoError(t, cache.Clear(ctx))

	_, ok := cache.Get(ctx, "one")
	assert.False(t, ok)
	_, ok = cache.Get(ctx, "two")
	assert.False(t, ok)
}
