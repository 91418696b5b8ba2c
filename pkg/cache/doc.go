// Package cache provides a Redis-backed response cache that wraps any
// backend.Backend.
//
// The caching backend stores successful GET responses and serves them while
// fresh. Stale entries carrying an ETag or Last-Modified value are
// revalidated with a conditional request; a 304 Not Modified answer refreshes
// the entry and is served from cache.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient)
//	cached := cache.NewBackend(inner, manager, cache.DefaultConfig(), logger)
//
// Freshness comes from Cache-Control max-age, then Expires, then
// Config.DefaultTTL. Responses marked no-store are never cached.
//
// # Metrics
//
//   - preq_cache_hits_total{layer="redis"} - Cache hits
//   - preq_cache_misses_total - Cache misses
//   - preq_cache_size_bytes{layer="redis"} - Bytes written to the cache
//   - preq_304_responses_total - Conditional request successes
//   - preq_cache_errors_total{operation} - Cache operation errors
//
// Cache failures never fail a request; they are counted and logged, and the
// request goes to the wrapped backend.
package cache
