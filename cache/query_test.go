package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func newTestQueryCache(t *testing.T, opts ...Option) (*QueryCache, CacheService) {
	t.Helper()
	store, err := NewCacheService(DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService() failed: %v", err)
	}
	return NewQueryCache(store, opts...), store
}

// countingLoader returns value and counts how often it ran.
func countingLoader(value any, calls *int32) Loader {
	return func(ctx context.Context) (any, error) {
		atomic.AddInt32(calls, 1)
		return value, nil
	}
}

func waitForState(t *testing.T, q *QueryCache, key string, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if q.Peek(key).State == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("key %q never reached state %s (now %s)", key, want, q.Peek(key).State)
}

type recordingObserver struct {
	mu          sync.Mutex
	hits        int
	misses      int
	loads       int
	invalidated int
}

func (o *recordingObserver) CacheHit(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.hits++
}

func (o *recordingObserver) CacheMiss(string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.misses++
}

func (o *recordingObserver) LoadFinished(string, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.loads++
}

func (o *recordingObserver) Invalidated(_ string, n int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.invalidated += n
}

func TestQueryCache_ReadHitsAfterFirstLoad(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()
	var calls int32

	for i := 0; i < 3; i++ {
		got, err := q.Read(ctx, "teacher::ListPage::0::10", countingLoader("page-0", &calls))
		if err != nil {
			t.Fatalf("Read() failed: %v", err)
		}
		if got != "page-0" {
			t.Errorf("expected page-0, got %v", got)
		}
	}

	if calls != 1 {
		t.Errorf("expected 1 loader call, got %d", calls)
	}

	snap := q.Peek("teacher::ListPage::0::10")
	if snap.State != Ready {
		t.Errorf("expected Ready, got %s", snap.State)
	}
	if snap.FetchedAt.IsZero() {
		t.Error("expected FetchedAt to be set")
	}
}

func TestQueryCache_ConcurrentReadsShareOneLoad(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()
	key := "teacher::GetOne::1"

	var calls int32
	release := make(chan struct{})
	loader := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "record-1", nil
	}

	const readers = 8
	var wg sync.WaitGroup
	results := make([]any, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := q.Read(ctx, key, loader)
			if err != nil {
				t.Errorf("Read() failed: %v", err)
			}
			results[i] = v
		}(i)
	}

	waitForState(t, q, key, Pending)
	time.Sleep(10 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls != 1 {
		t.Fatalf("expected a single loader call, got %d", calls)
	}
	for i, v := range results {
		if v != "record-1" {
			t.Errorf("reader %d got %v", i, v)
		}
	}
}

func TestQueryCache_FailureIsCachedUntilRetry(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()
	key := "teacher::ListPage::0::10"
	boom := errors.New("network down")

	var calls int32
	failing := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return nil, boom
	}

	if _, err := q.Read(ctx, key, failing); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if _, err := q.Read(ctx, key, failing); !errors.Is(err, boom) {
		t.Fatalf("expected cached boom, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected failure to be cached, got %d calls", calls)
	}

	snap := q.Peek(key)
	if snap.State != Failed || !errors.Is(snap.Err, boom) {
		t.Errorf("expected Failed(boom), got %s(%v)", snap.State, snap.Err)
	}

	var okCalls int32
	got, err := q.Retry(ctx, key, countingLoader("page", &okCalls))
	if err != nil {
		t.Fatalf("Retry() failed: %v", err)
	}
	if got != "page" || okCalls != 1 {
		t.Errorf("expected retry to reload, got %v after %d calls", got, okCalls)
	}
	if q.Peek(key).State != Ready {
		t.Errorf("expected Ready after retry, got %s", q.Peek(key).State)
	}
}

func TestQueryCache_RetryOnReadyKeyDoesNotReload(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()
	var calls int32

	_, _ = q.Read(ctx, "k", countingLoader(1, &calls))
	_, _ = q.Retry(ctx, "k", countingLoader(1, &calls))

	if calls != 1 {
		t.Errorf("expected Retry on a Ready key to hit, got %d calls", calls)
	}
}

func TestQueryCache_InvalidatePrefix(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()

	var pageCalls, recordCalls int32
	pages := []string{"teacher::ListPage::0::10", "teacher::ListPage::1::10"}
	for _, key := range pages {
		_, _ = q.Read(ctx, key, countingLoader(key, &pageCalls))
	}
	_, _ = q.Read(ctx, "teacher::GetOne::1", countingLoader("r1", &recordCalls))

	removed := q.Invalidate(ctx, "teacher::ListPage")
	if removed != 2 {
		t.Errorf("expected 2 removed keys, got %d", removed)
	}

	for _, key := range pages {
		if q.Peek(key).State != Idle {
			t.Errorf("expected %s to be Idle", key)
		}
		_, _ = q.Read(ctx, key, countingLoader(key, &pageCalls))
	}
	if pageCalls != 4 {
		t.Errorf("expected every page to reload, got %d calls", pageCalls)
	}

	_, _ = q.Read(ctx, "teacher::GetOne::1", countingLoader("r1", &recordCalls))
	if recordCalls != 1 {
		t.Errorf("record key outside the prefix should stay cached, got %d calls", recordCalls)
	}
}

func TestQueryCache_InvalidateSweepsStore(t *testing.T) {
	q, store := newTestQueryCache(t)
	ctx := context.Background()
	var calls int32

	_, _ = q.Read(ctx, "teacher::ListPage::0::10", countingLoader("p0", &calls))

	// A value written under the prefix with no registry entry.
	orphan := "teacher::ListPage::1::10::g99"
	if _, err := store.GetOrFetch(ctx, orphan, func(ctx context.Context) (string, error) { return "old", nil }); err != nil {
		t.Fatalf("GetOrFetch() failed: %v", err)
	}
	outside := "teacher::GetOne::1::g98"
	if _, err := store.GetOrFetch(ctx, outside, func(ctx context.Context) (string, error) { return "keep", nil }); err != nil {
		t.Fatalf("GetOrFetch() failed: %v", err)
	}

	q.Invalidate(ctx, "teacher::ListPage")

	stored := func(key string) bool {
		fetched := false
		_, _ = store.GetOrFetch(ctx, key, func(ctx context.Context) (string, error) {
			fetched = true
			return "new", nil
		})
		return !fetched
	}
	if stored(orphan) {
		t.Error("expected orphaned value under the prefix to be swept")
	}
	if !stored(outside) {
		t.Error("expected value outside the prefix to survive")
	}
}

func TestQueryCache_InvalidateIsSegmentAware(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()
	var calls int32

	_, _ = q.Read(ctx, "teacher::GetOne::1", countingLoader("1", &calls))
	_, _ = q.Read(ctx, "teacher::GetOne::10", countingLoader("10", &calls))

	if n := q.InvalidateKeys(ctx, "teacher::GetOne::1"); n != 1 {
		t.Errorf("expected 1 removed, got %d", n)
	}
	if n := q.Invalidate(ctx, "teacher::GetOne::1"); n != 0 {
		t.Errorf("expected nothing left under the prefix, got %d", n)
	}
	if q.Peek("teacher::GetOne::10").State != Ready {
		t.Error("teacher::GetOne::10 should survive")
	}
}

func TestQueryCache_InvalidateWhilePending(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()
	key := "teacher::ListPage::0::10"

	release := make(chan struct{})
	var calls int32
	slow := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return "old", nil
	}

	result := make(chan any, 1)
	go func() {
		v, _ := q.Read(ctx, key, slow)
		result <- v
	}()

	waitForState(t, q, key, Pending)
	if n := q.Invalidate(ctx, "teacher::ListPage"); n != 1 {
		t.Errorf("expected pending key to be removed, got %d", n)
	}
	close(release)

	if v := <-result; v != "old" {
		t.Errorf("pending waiter should still get its outcome, got %v", v)
	}
	if q.Peek(key).State != Idle {
		t.Errorf("invalidated load must not be recorded, got %s", q.Peek(key).State)
	}

	got, err := q.Read(ctx, key, countingLoader("new", &calls))
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got != "new" {
		t.Errorf("expected fresh load, got %v", got)
	}
}

func TestQueryCache_CallerCancellationDoesNotCancelSharedLoad(t *testing.T) {
	q, _ := newTestQueryCache(t)
	key := "teacher::ListFaces::1"

	release := make(chan struct{})
	var loaderErr atomic.Value
	loader := func(ctx context.Context) (any, error) {
		<-release
		if err := ctx.Err(); err != nil {
			loaderErr.Store(err)
			return nil, err
		}
		return "faces", nil
	}

	cancelled, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := q.Read(cancelled, key, loader)
		first <- err
	}()
	waitForState(t, q, key, Pending)

	second := make(chan any, 1)
	go func() {
		v, _ := q.Read(context.Background(), key, loader)
		second <- v
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancelled reader to stop waiting, got %v", err)
	}

	close(release)
	if v := <-second; v != "faces" {
		t.Errorf("expected other reader to get faces, got %v", v)
	}
	if loaderErr.Load() != nil {
		t.Errorf("loader context should not be cancelled, got %v", loaderErr.Load())
	}
}

func TestQueryCache_LoadTimeout(t *testing.T) {
	q, _ := newTestQueryCache(t, WithLoadTimeout(20*time.Millisecond))

	_, err := q.Read(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if q.Peek("slow").State != Failed {
		t.Errorf("expected Failed after timeout, got %s", q.Peek("slow").State)
	}
}

func TestQueryCache_ReloadsAfterStoreEviction(t *testing.T) {
	q, store := newTestQueryCache(t)
	ctx := context.Background()
	key := "teacher::GetOne::5"
	var calls int32

	_, _ = q.Read(ctx, key, countingLoader("v1", &calls))

	// Drops the stored value while leaving the registry Ready.
	if err := store.DeleteByPrefix(ctx, key); err != nil {
		t.Fatalf("DeleteByPrefix() failed: %v", err)
	}

	got, err := q.Read(ctx, key, countingLoader("v2", &calls))
	if err != nil {
		t.Fatalf("Read() failed: %v", err)
	}
	if got != "v2" || calls != 2 {
		t.Errorf("expected reload after eviction, got %v after %d calls", got, calls)
	}
	if q.Peek(key).State != Ready {
		t.Errorf("expected Ready, got %s", q.Peek(key).State)
	}
}

func TestQueryCache_NilLoader(t *testing.T) {
	q, _ := newTestQueryCache(t)
	if _, err := q.Read(context.Background(), "k", nil); !errors.Is(err, ErrNilLoader) {
		t.Errorf("expected ErrNilLoader, got %v", err)
	}
}

func TestQueryCache_Observer(t *testing.T) {
	obs := &recordingObserver{}
	q, _ := newTestQueryCache(t, WithObserver(obs))
	ctx := context.Background()
	var calls int32

	_, _ = q.Read(ctx, "a::1", countingLoader(1, &calls))
	_, _ = q.Read(ctx, "a::1", countingLoader(1, &calls))
	_, _ = q.Read(ctx, "a::2", countingLoader(2, &calls))
	q.Invalidate(ctx, "a")

	obs.mu.Lock()
	defer obs.mu.Unlock()
	if obs.misses != 2 || obs.hits != 1 || obs.loads != 2 || obs.invalidated != 2 {
		t.Errorf("unexpected observer counts: %+v", obs)
	}
}

func TestRead_Typed(t *testing.T) {
	q, _ := newTestQueryCache(t)
	ctx := context.Background()

	got, err := Read(ctx, q, "typed", func(ctx context.Context) (int, error) { return 42, nil })
	if err != nil || got != 42 {
		t.Fatalf("Read() = %v, %v", got, err)
	}

	_, err = Read(ctx, q, "typed", func(ctx context.Context) (string, error) { return "x", nil })
	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType, got %v", err)
	}
}

func TestState_String(t *testing.T) {
	for state, want := range map[State]string{Idle: "idle", Pending: "pending", Ready: "ready", Failed: "failed"} {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
