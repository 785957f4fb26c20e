package views

import (
	"sync"
	"testing"

	"github.com/shaxzod-muhandis/Admin-Panel/cache"
	"github.com/shaxzod-muhandis/Admin-Panel/rostercache"
	"github.com/shaxzod-muhandis/Admin-Panel/teachers/teacherstest"
)

func newRoster(t *testing.T, seed int) (*rostercache.Client, *teacherstest.Resource) {
	t.Helper()
	store, err := cache.NewCacheService(cache.DefaultConfig())
	if err != nil {
		t.Fatalf("NewCacheService() failed: %v", err)
	}
	base := teacherstest.New(seed)
	return rostercache.New(base, cache.NewQueryCache(store)), base
}

type recordingNotifier struct {
	mu      sync.Mutex
	loading []string
	success []string
	errs    []error
}

func (n *recordingNotifier) Loading(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.loading = append(n.loading, msg)
}

func (n *recordingNotifier) Success(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.success = append(n.success, msg)
}

func (n *recordingNotifier) Error(_ string, err error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errs = append(n.errs, err)
}

func (n *recordingNotifier) counts() (loading, success, errs int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.loading), len(n.success), len(n.errs)
}
