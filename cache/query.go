package cache

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrNilLoader is returned when Read is called without a loader.
var ErrNilLoader = errors.New("cache: nil loader")

// State is the validity state of a query key.
type State int

const (
	Idle State = iota
	Pending
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	default:
		return "idle"
	}
}

// Loader produces the value for a query key.
type Loader func(ctx context.Context) (any, error)

// Snapshot is a read-only view of a key's state.
type Snapshot struct {
	Key       string
	State     State
	FetchedAt time.Time
	Err       error
}

// Observer receives query cache events. Implementations must not block.
type Observer interface {
	CacheHit(key string)
	CacheMiss(key string)
	LoadFinished(key string, took time.Duration, err error)
	Invalidated(prefix string, removed int)
}

type nopObserver struct{}

func (nopObserver) CacheHit(string)                          {}
func (nopObserver) CacheMiss(string)                         {}
func (nopObserver) LoadFinished(string, time.Duration, error) {}
func (nopObserver) Invalidated(string, int)                  {}

// flight is one loader run. Waiters hold it directly so the registry can
// drop it as soon as the load settles.
type flight struct {
	done  chan struct{}
	value any
	err   error
}

type entry struct {
	state     State
	storeKey  string
	flight    *flight
	err       error
	fetchedAt time.Time
}

// QueryCache maps query keys to Pending, Ready or Failed outcomes.
// Ready values live in the CacheService under a generation-unique store key;
// the registry only tracks state. There is no expiry: keys leave through
// Invalidate, InvalidateKeys or Retry.
type QueryCache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	store       CacheService
	generation  uint64
	loadTimeout time.Duration
	observer    Observer
	logger      *zap.Logger
}

// Option configures a QueryCache.
type Option func(*QueryCache)

// WithLoadTimeout bounds every loader run.
func WithLoadTimeout(d time.Duration) Option {
	return func(q *QueryCache) { q.loadTimeout = d }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(q *QueryCache) {
		if o != nil {
			q.observer = o
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(q *QueryCache) {
		if l != nil {
			q.logger = l
		}
	}
}

// NewQueryCache creates a QueryCache backed by store.
func NewQueryCache(store CacheService, opts ...Option) *QueryCache {
	q := &QueryCache{
		entries:  make(map[string]*entry),
		store:    store,
		observer: nopObserver{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Read returns the outcome for key, starting loader when the key is absent.
// Concurrent readers of a Pending key share its single loader run. A Failed
// key returns its cached error until Retry or invalidation.
//
// ctx bounds only this caller's wait. The loader runs detached from ctx
// cancellation because other readers may be waiting on it.
func (q *QueryCache) Read(ctx context.Context, key string, loader Loader) (any, error) {
	if loader == nil {
		return nil, ErrNilLoader
	}

	q.mu.Lock()
	if e, ok := q.entries[key]; ok {
		switch e.state {
		case Pending:
			f := e.flight
			q.mu.Unlock()
			q.observer.CacheHit(key)
			return wait(ctx, f)
		case Failed:
			err := e.err
			q.mu.Unlock()
			q.observer.CacheHit(key)
			return nil, err
		case Ready:
			q.mu.Unlock()
			q.observer.CacheHit(key)
			return q.readStored(ctx, key, e, loader)
		}
	}

	q.generation++
	e := &entry{
		state:    Pending,
		storeKey: JoinKey(key, "g"+strconv.FormatUint(q.generation, 10)),
		flight:   &flight{done: make(chan struct{})},
	}
	q.entries[key] = e
	f := e.flight
	q.mu.Unlock()

	q.observer.CacheMiss(key)
	go q.load(ctx, key, e, loader)

	return wait(ctx, f)
}

// Retry drops a Failed outcome for key and reads it again.
func (q *QueryCache) Retry(ctx context.Context, key string, loader Loader) (any, error) {
	q.mu.Lock()
	if e, ok := q.entries[key]; ok && e.state == Failed {
		delete(q.entries, key)
	}
	q.mu.Unlock()
	return q.Read(ctx, key, loader)
}

// Invalidate removes every key equal to prefix or nested under it and
// returns how many were removed. Pending loads that get removed still
// deliver to their current waiters but are not recorded.
//
// The store is swept by prefix, so values of every generation under it go,
// including ones written back after their key was already dropped.
func (q *QueryCache) Invalidate(ctx context.Context, prefix string) int {
	q.mu.Lock()
	removed := 0
	for key := range q.entries {
		if !MatchesPrefix(key, prefix) {
			continue
		}
		delete(q.entries, key)
		removed++
	}
	q.mu.Unlock()

	if err := q.store.DeleteByPrefix(ctx, prefix); err != nil {
		q.logger.Warn("store prefix sweep failed", zap.String("prefix", prefix), zap.Error(err))
	}
	q.observer.Invalidated(prefix, removed)
	q.logger.Debug("query cache invalidated",
		zap.String("prefix", prefix),
		zap.Int("removed", removed),
	)
	return removed
}

// InvalidateKeys removes the exact keys given.
func (q *QueryCache) InvalidateKeys(ctx context.Context, keys ...string) int {
	q.mu.Lock()
	var storeKeys, removed []string
	for _, key := range keys {
		e, ok := q.entries[key]
		if !ok {
			continue
		}
		if e.state == Ready {
			storeKeys = append(storeKeys, e.storeKey)
		}
		delete(q.entries, key)
		removed = append(removed, key)
	}
	q.mu.Unlock()

	q.purge(ctx, storeKeys)
	for _, key := range removed {
		q.observer.Invalidated(key, 1)
	}
	return len(removed)
}

// Peek reports the state of key without loading it.
func (q *QueryCache) Peek(key string) Snapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.entries[key]
	if !ok {
		return Snapshot{Key: key, State: Idle}
	}
	return Snapshot{Key: key, State: e.state, FetchedAt: e.fetchedAt, Err: e.err}
}

// Len returns the number of tracked keys.
func (q *QueryCache) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

func (q *QueryCache) load(parent context.Context, key string, e *entry, loader Loader) {
	ctx, cancel := q.loadContext(parent)
	defer cancel()

	start := time.Now()
	value, err := q.store.GetOrFetch(ctx, e.storeKey, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	took := time.Since(start)
	q.observer.LoadFinished(key, took, err)

	f := e.flight
	f.value, f.err = value, err

	q.mu.Lock()
	current := q.entries[key] == e
	if current {
		e.flight = nil
		if err != nil {
			e.state = Failed
			e.err = err
		} else {
			e.state = Ready
			e.fetchedAt = time.Now()
		}
	}
	q.mu.Unlock()

	if !current && err == nil {
		_ = q.store.Delete(ctx, e.storeKey)
	}

	if err != nil {
		q.logger.Warn("query load failed",
			zap.String("key", key),
			zap.Duration("took", took),
			zap.Error(err),
		)
	} else {
		q.logger.Debug("query loaded",
			zap.String("key", key),
			zap.Duration("took", took),
			zap.Bool("recorded", current),
		)
	}

	close(f.done)
}

// readStored serves a Ready key from the store. A value evicted for capacity
// is loaded again under the same store key.
func (q *QueryCache) readStored(ctx context.Context, key string, e *entry, loader Loader) (any, error) {
	loadCtx, cancel := q.loadContext(ctx)
	defer cancel()

	var reloaded atomic.Bool
	value, err := q.store.GetOrFetch(loadCtx, e.storeKey, func(ctx context.Context) (any, error) {
		reloaded.Store(true)
		return loader(ctx)
	})
	if !reloaded.Load() && err == nil {
		return value, nil
	}

	q.mu.Lock()
	if q.entries[key] == e {
		if err != nil {
			e.state = Failed
			e.err = err
		} else {
			e.fetchedAt = time.Now()
		}
	}
	q.mu.Unlock()

	q.logger.Debug("query reloaded after eviction", zap.String("key", key), zap.Error(err))
	return value, err
}

func (q *QueryCache) loadContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(parent)
	if q.loadTimeout > 0 {
		return context.WithTimeout(ctx, q.loadTimeout)
	}
	return context.WithCancel(ctx)
}

func (q *QueryCache) purge(ctx context.Context, storeKeys []string) {
	if len(storeKeys) == 0 {
		return
	}
	if err := q.store.InvalidateKeys(ctx, storeKeys); err != nil {
		q.logger.Warn("store invalidation failed", zap.Strings("keys", storeKeys), zap.Error(err))
	}
}

func wait(ctx context.Context, f *flight) (any, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Read is the typed form of QueryCache.Read.
func Read[T any](ctx context.Context, q *QueryCache, key string, loader FetchFn[T]) (T, error) {
	result, err := q.Read(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return castResult[T](result)
}

// Retry is the typed form of QueryCache.Retry.
func Retry[T any](ctx context.Context, q *QueryCache, key string, loader FetchFn[T]) (T, error) {
	result, err := q.Retry(ctx, key, func(ctx context.Context) (any, error) {
		return loader(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return castResult[T](result)
}
