package rag

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/internal/cache"
	"github.com/BaSui01/searchflow/types"
)

func sampleResponse() SearchResponse {
	why := "matches hooks"
	return SearchResponse{
		Items: []ResultItem{{
			ID: "a", Score: 0.8, Content: "React hooks", Source: "react.dev",
			Rationale: &why, Origin: OriginMerged, Category: "react",
			Metadata: map[string]any{"category": "react"},
		}},
		Total:        1,
		SearchTimeMs: 12.5,
		SearchStats: SearchStats{
			VectorResults: 1, TextResults: 1, MergedResults: 1, Reranked: true,
			Intent:        IntentImplementation,
			AccessControl: AccessDecision{AccessLevel: AccessLevelPublic, Message: "Public content only; no restricted items matched"},
		},
	}
}

// ============================================================
// CacheKey
// ============================================================

func TestCacheKey(t *testing.T) {
	p := newTestProcessor()
	mk := func(raw string, f Filters, k int) string {
		q, err := p.Process(raw, f, k)
		require.NoError(t, err)
		return CacheKey(q)
	}

	base := mk("React Hooks", Filters{"category": {"react", "nextjs"}, "license": {"MIT"}}, 5)
	assert.Len(t, base, 64)

	// Case, whitespace and filter order do not matter.
	assert.Equal(t, base, mk("  react   hooks ", Filters{"license": {"MIT"}, "category": {"nextjs", "react", "react"}}, 5))

	assert.NotEqual(t, base, mk("react hooks", Filters{"category": {"react"}}, 5))
	assert.NotEqual(t, base, mk("react hooks", Filters{"category": {"react", "nextjs"}, "license": {"MIT"}}, 6))
	// Authorized and unauthorized results never share an entry.
	assert.NotEqual(t, base, mk("react hooks "+testToken, Filters{"category": {"react", "nextjs"}, "license": {"MIT"}}, 5))
}

// ============================================================
// MemoryCache
// ============================================================

func TestMemoryCache_PutGetExpire(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, 0, zap.NewNop())
	defer c.Close()

	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Put(ctx, "k", &CacheEntry{Key: "k", Response: sampleResponse()}))
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleResponse(), got.Response)
	assert.Equal(t, time.Minute, got.TTL)
	assert.False(t, got.Expired(now))

	now = now.Add(59 * time.Second)
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.NotNil(t, got)

	now = now.Add(time.Second)
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got, "entries expire at created_at + ttl")
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCache_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, 0, nil)
	defer c.Close()

	require.NoError(t, c.Put(ctx, "k", &CacheEntry{Response: sampleResponse()}))
	first, err := c.Get(ctx, "k")
	require.NoError(t, err)
	first.Response.Items[0].Content = "mutated"

	second, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "React hooks", second.Response.Items[0].Content)
}

func TestMemoryCache_Purge(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, 0, nil)
	defer c.Close()

	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Put(ctx, "short", &CacheEntry{TTL: time.Second}))
	require.NoError(t, c.Put(ctx, "long", &CacheEntry{TTL: time.Hour}))
	assert.Equal(t, 2, c.Len())

	now = now.Add(2 * time.Second)
	assert.Equal(t, 1, c.Purge())
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCache_JanitorAndClose(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Millisecond, 5*time.Millisecond, nil)
	require.NoError(t, c.Put(ctx, "k", &CacheEntry{}))

	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close(), "close is idempotent")
}

func TestMemoryCache_Concurrent(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(time.Minute, 0, nil)
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := string(rune('a' + i%8))
			_ = c.Put(ctx, key, &CacheEntry{Response: sampleResponse()})
			_, _ = c.Get(ctx, key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 8, c.Len())
}

// ============================================================
// RedisSearchCache
// ============================================================

func setupRedisCache(t *testing.T) (*miniredis.Miniredis, *cache.Manager, *RedisSearchCache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	m, err := cache.NewManager(cache.Config{Addr: mr.Addr(), KeyPrefix: "search:"}, zap.NewNop())
	require.NoError(t, err)
	return mr, m, NewRedisSearchCache(m, time.Minute, nil)
}

func TestRedisSearchCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	mr, m, c := setupRedisCache(t)
	defer m.Close()

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Put(ctx, "k", &CacheEntry{Key: "k", Response: sampleResponse()}))
	assert.True(t, mr.Exists("search:k"))
	assert.Equal(t, time.Minute, mr.TTL("search:k"))

	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, sampleResponse(), got.Response)

	mr.FastForward(2 * time.Minute)
	got, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSearchCache_Unavailable(t *testing.T) {
	ctx := context.Background()
	_, m, c := setupRedisCache(t)
	require.NoError(t, m.Close())

	_, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.Equal(t, types.ErrCacheUnavailable, types.GetErrorCode(err))

	err = c.Put(ctx, "k", &CacheEntry{})
	require.Error(t, err)
	assert.Equal(t, types.ErrCacheUnavailable, types.GetErrorCode(err))
}
