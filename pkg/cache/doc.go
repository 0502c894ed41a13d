// Package cache provides named, versioned response stores for the edge cache.
//
// A Storage holds any number of named stores. Each store maps a request
// identity (CacheKey: method + URL) to a stored response (CacheEntry). The
// engine keeps two stores alive at a time, a long-lived static store and a
// short-lived API store, both suffixed with the configured cache version.
//
// Three backends implement Storage:
//
//   - RedisStorage: one hash per store plus a registry set of store names
//   - MemoryStorage: one bounded LRU per store (hashicorp/golang-lru)
//   - SQLiteStorage: a stores table and an entries table
//
// # Basic Usage
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	storage := cache.NewRedisStorage(redisClient, "edgecache")
//
//	store, err := storage.Open(ctx, "streamflow-v2-cache-1.0.3")
//	if err != nil {
//		return err
//	}
//
//	key := cache.CacheKey{Method: http.MethodGet, URL: "/css/styles.css"}
//	entry, err := cache.ResponseToEntry(resp, cache.TypeBasic)
//	if err != nil {
//		return err
//	}
//	if err := store.Put(ctx, key, entry); err != nil {
//		return err
//	}
//
//	// Lookups never create a store
//	entry, err = storage.Match(ctx, "streamflow-v2-cache-1.0.3", key)
//	if errors.Is(err, cache.ErrCacheMiss) {
//		// fetch from network
//	}
//
// # Metrics
//
//   - edgecache_cache_hits_total{store} - lookups served from a store
//   - edgecache_cache_misses_total{store} - lookups that missed
//   - edgecache_cache_writes_total{store} - entries written
//   - edgecache_cache_errors_total{operation} - backend failures
//   - edgecache_stores_deleted_total - stores removed by name
package cache
