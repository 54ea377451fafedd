/*
Package cache manages the Redis connection used by the distributed search
cache.

Manager owns the go-redis client: connection pool, key prefixing, JSON
helpers (GetJSON / SetJSON), a background health check and hit/miss
counters. ErrCacheMiss distinguishes absent keys from backend failures,
which callers treat as CACHE_UNAVAILABLE and bypass.
*/
package cache
