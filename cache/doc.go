// Package cache holds the client-side query cache for roster reads.
//
// # Overview
//
// QueryCache maps a composite query key to one of three states:
//
//   - Pending: a loader is running; readers await the same run
//   - Ready: the loaded value is held in a CacheService
//   - Failed: the loader returned an error, which readers get until Retry
//
// Keys absent from the cache report Idle.
//
// Keys are built by a KeySerializer as "<namespace>::<Method>::<args>..."
// joined with KeySeparator:
//
//	keys := cache.NewNamespacedKeySerializer("teacher")
//	key := keys.SerializeKey("ListPage", 0, 10, "", filter)
//	// teacher::ListPage::0::10::::map:{}
//
// # Reads
//
//	page, err := cache.Read(ctx, queries, key, func(ctx context.Context) (teachers.Page, error) {
//		return client.ListPage(ctx, q)
//	})
//
// A loader runs detached from the reader's cancellation. The reader's
// context only bounds how long that reader waits.
//
// # Invalidation
//
// There is no TTL. Invalidate(ctx, prefix) drops every key equal to prefix or
// nested under it on a segment boundary, so invalidating "teacher::ListPage"
// drops every cached page while "teacher::GetOne::1" never matches
// "teacher::GetOne::10". Stored values evicted for capacity reasons are
// loaded again on the next read; eviction does not change a key's state.
//
// # Backends
//
// NewCacheService returns the sturdyc-backed CacheService from
// internal/cacheinfra. Any CacheService works; tests can pass a mock.
package cache
