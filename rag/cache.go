package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/searchflow/internal/cache"
	"github.com/BaSui01/searchflow/types"
)

// CacheEntry is a memoized complete response.
type CacheEntry struct {
	Key       string         `json:"key"`
	Response  SearchResponse `json:"response"`
	CreatedAt time.Time      `json:"created_at"`
	TTL       time.Duration  `json:"ttl"`
}

// Expired reports whether the entry is past its TTL at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return e.TTL > 0 && !now.Before(e.CreatedAt.Add(e.TTL))
}

// SearchCache memoizes responses. Entries expire by TTL only.
type SearchCache interface {
	// Get returns nil, nil on a miss.
	Get(ctx context.Context, key string) (*CacheEntry, error)
	Put(ctx context.Context, key string, entry *CacheEntry) error
	Name() string
}

// CacheKey derives the cache key of q: SHA-256 over the canonical JSON of
// normalized text, sorted filters, top_k and the authorization outcome.
func CacheKey(q *Query) string {
	filters := q.Filters.Normalize()
	pairs := make([][2]any, 0, len(filters))
	for _, k := range filters.Keys() {
		pairs = append(pairs, [2]any{k, filters[k]})
	}
	canonical := struct {
		Q       string   `json:"q"`
		Filters [][2]any `json:"filters"`
		TopK    int      `json:"top_k"`
		Auth    bool     `json:"auth"`
	}{q.Normalized, pairs, q.TopK, q.Authorized}

	b, _ := json.Marshal(canonical)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// =============================================================================
// 🧠 Sharded in-memory cache
// =============================================================================

const memoryCacheShards = 32

type cacheShard struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// MemoryCache is a sharded TTL cache. Values are stored encoded so callers
// never share state with the cache. Size is unbounded; expired entries are
// dropped on read and by the janitor.
type MemoryCache struct {
	shards [memoryCacheShards]*cacheShard
	ttl    time.Duration
	now    func() time.Time
	logger *zap.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMemoryCache creates a cache. A positive cleanupInterval starts the
// janitor; call Close to stop it.
func NewMemoryCache(ttl, cleanupInterval time.Duration, logger *zap.Logger) *MemoryCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &MemoryCache{
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With(zap.String("component", "memory_search_cache")),
		stopCh: make(chan struct{}),
	}
	for i := range c.shards {
		c.shards[i] = &cacheShard{entries: make(map[string]memoryEntry)}
	}
	if cleanupInterval > 0 {
		c.wg.Add(1)
		go c.janitor(cleanupInterval)
	}
	return c
}

func (c *MemoryCache) Name() string { return "memory" }

func (c *MemoryCache) shard(key string) *cacheShard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%memoryCacheShards]
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	s := c.shard(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if !c.now().Before(e.expiresAt) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && !c.now().Before(cur.expiresAt) {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return nil, nil
	}

	var entry CacheEntry
	if err := json.Unmarshal(e.payload, &entry); err != nil {
		return nil, types.NewCacheUnavailableError(err)
	}
	return &entry, nil
}

func (c *MemoryCache) Put(ctx context.Context, key string, entry *CacheEntry) error {
	ttl := entry.TTL
	if ttl <= 0 {
		ttl = c.ttl
		entry.TTL = ttl
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = c.now()
	}
	payload, err := json.Marshal(entry)
	if err != nil {
		return types.NewCacheUnavailableError(err)
	}

	s := c.shard(key)
	s.mu.Lock()
	s.entries[key] = memoryEntry{payload: payload, expiresAt: entry.CreatedAt.Add(ttl)}
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, expired ones included.
func (c *MemoryCache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Purge drops expired entries and returns how many were removed.
func (c *MemoryCache) Purge() int {
	now := c.now()
	removed := 0
	for _, s := range c.shards {
		s.mu.Lock()
		for k, e := range s.entries {
			if !now.Before(e.expiresAt) {
				delete(s.entries, k)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

func (c *MemoryCache) janitor(interval time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.Purge(); n > 0 {
				c.logger.Debug("expired cache entries purged", zap.Int("count", n))
			}
		case <-c.stopCh:
			return
		}
	}
}

// Close stops the janitor.
func (c *MemoryCache) Close() error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
	return nil
}

// =============================================================================
// 🌐 Redis-backed cache
// =============================================================================

// RedisSearchCache shares cached responses across instances through Redis.
type RedisSearchCache struct {
	manager *cache.Manager
	ttl     time.Duration
	logger  *zap.Logger
}

// NewRedisSearchCache creates a cache on an existing manager. Keys are
// prefixed by the manager.
func NewRedisSearchCache(manager *cache.Manager, ttl time.Duration, logger *zap.Logger) *RedisSearchCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisSearchCache{
		manager: manager,
		ttl:     ttl,
		logger:  logger.With(zap.String("component", "redis_search_cache")),
	}
}

func (c *RedisSearchCache) Name() string { return "redis" }

func (c *RedisSearchCache) Get(ctx context.Context, key string) (*CacheEntry, error) {
	var entry CacheEntry
	if err := c.manager.GetJSON(ctx, key, &entry); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, nil
		}
		return nil, types.NewCacheUnavailableError(err)
	}
	return &entry, nil
}

func (c *RedisSearchCache) Put(ctx context.Context, key string, entry *CacheEntry) error {
	if entry.TTL <= 0 {
		entry.TTL = c.ttl
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	if err := c.manager.SetJSON(ctx, key, entry, entry.TTL); err != nil {
		return types.NewCacheUnavailableError(err)
	}
	return nil
}
