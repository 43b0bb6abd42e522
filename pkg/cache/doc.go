// Package cache provides the response cache shared by every caller of the
// request core.
//
// The cache stores raw response payloads keyed by request signature:
//
// - Deterministic signatures from method, endpoint and sorted params
// - Ordered first-match policy rules (TTL or disabled per endpoint)
// - Lazy expiry on read
// - Wholesale clearing once the approximate size budget is exceeded
// - Optional shared Redis tier behind the local store
// - Prometheus metrics for observability
//
// # Basic Usage
//
//	policy := cache.DefaultPolicy().With(
//		cache.Rule{Name: "session", Match: cache.Prefix("/v1/session"), Disabled: true},
//		cache.Rule{Name: "catalog", Match: cache.Prefix("/v1/catalog"), TTL: 10 * time.Minute},
//	)
//
//	store := cache.NewStore(cache.Config{Policy: policy})
//
//	key := cache.NewKey("/v1/orders/", url.Values{"status": []string{"open"}})
//	if data, ok := store.Get(ctx, key); ok {
//		// Cache hit
//	}
//
//	store.Set(ctx, key, body, policy.Resolve(key.Endpoint).TTL)
//
// # Shared Tier
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	store := cache.NewStore(cache.Config{
//		Policy: policy,
//		Tier:   cache.NewRedisTier(redisClient, ""),
//	})
//
// Shared tier errors are logged and counted, never returned: a broken tier
// degrades to local caching only.
//
// # Eviction
//
// When the local store grows past MaxBytes the entire local cache is dropped,
// not trimmed. Callers that mutate data invalidate related keys themselves;
// there is no dependency tracking.
//
// # Metrics
//
//   - reqcore_cache_hits_total{layer} - Cache hits ("memory", "redis")
//   - reqcore_cache_misses_total - Cache misses
//   - reqcore_cache_size_bytes - Approximate local cache size
//   - reqcore_cache_evictions_total{reason} - Removals by reason
//   - reqcore_cache_errors_total{operation} - Shared tier errors
package cache
