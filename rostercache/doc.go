// Package rostercache puts the query cache in front of the teacher resource.
//
// Client implements teachers.Resource. Reads go through cache.QueryCache:
//
//	teacher::ListPage::<page>::<size>::<keyword>::<filter>
//	teacher::GetOne::<id>
//	teacher::ListFaces::<id>
//
// Writes go through the Coordinator, which calls the underlying resource and,
// on success only, invalidates:
//
//	create  teacher::ListPage
//	update  teacher::ListPage, teacher::GetOne::<id>
//	delete  teacher::ListPage, teacher::GetOne::<id>, teacher::ListFaces::<id>
//
// A failed write leaves the cache untouched and returns the resource error
// unchanged.
//
// Update and delete are serialized per record id: a second mutation for an
// id with one outstanding fails fast with ErrMutationInFlight. Views use
// InFlight to disable the control that would trigger it.
//
// # Usage
//
//	store, _ := cache.NewCacheService(cache.DefaultConfig())
//	queries := cache.NewQueryCache(store)
//	roster := rostercache.New(teachers.NewClient(cfg), queries)
//
//	page, err := roster.ListPage(ctx, teachers.ListQuery{Page: 0, Size: 10})
//	rec, err := roster.Create(ctx, fields) // invalidates every cached page
//
// Subscribe delivers an Event for every finished mutation so views can mark
// themselves stale.
package rostercache
