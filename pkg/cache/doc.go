// Package cache provides response caching for the action API client with
// a Redis backend.
//
// Responses are keyed by their full request parameter set and share one
// configured TTL: the action API advertises no per-response freshness the
// way cache-header-driven APIs do, so the client decides how stale a
// query result may get.
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//
//	manager := cache.NewManager(redisClient, 5*time.Minute)
//
//	key := cache.Key{Params: map[string]string{
//		"action": "query",
//		"titles": "Cat",
//		"prop":   "extracts",
//	}}
//
//	entry, err := manager.Get(ctx, key)
//	if err == cache.ErrCacheMiss {
//		// fetch from the API, then manager.Set(ctx, key, body)
//	}
//
// # Metrics
//
// The cache manager exports Prometheus metrics:
//
//   - wiki_cache_hits_total{layer="redis"} - Cache hits
//   - wiki_cache_misses_total - Cache misses
//   - wiki_cache_errors_total{operation} - Cache operation errors
package cache
