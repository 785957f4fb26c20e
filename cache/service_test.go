package cache

import (
	"context"
	"errors"
	"testing"
)

// mockCacheService returns a canned result from GetOrFetch.
type mockCacheService struct {
	result any
	err    error
}

func (m *mockCacheService) GetOrFetch(ctx context.Context, key string, fetchFn any) (any, error) {
	return m.result, m.err
}

func (m *mockCacheService) Delete(ctx context.Context, key string) error {
	return nil
}

func (m *mockCacheService) DeleteByPrefix(ctx context.Context, prefix string) error {
	return nil
}

func (m *mockCacheService) InvalidateKeys(ctx context.Context, keys []string) error {
	return nil
}

func TestGetOrFetch_NilInterface(t *testing.T) {
	mock := &mockCacheService{}

	type Pager interface {
		TotalPages() int
	}

	result, err := GetOrFetch[Pager](context.Background(), mock, "k", func(ctx context.Context) (Pager, error) {
		return nil, nil
	})
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypedNilPointer(t *testing.T) {
	mock := &mockCacheService{result: (*string)(nil)}

	result, err := GetOrFetch[*string](context.Background(), mock, "k", func(ctx context.Context) (*string, error) {
		return nil, nil
	})
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != nil {
		t.Errorf("expected nil result but got: %v", result)
	}
}

func TestGetOrFetch_TypeAssertionFailure(t *testing.T) {
	mock := &mockCacheService{result: "wrong-type"}

	result, err := GetOrFetch[int](context.Background(), mock, "k", func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if !errors.Is(err, ErrInvalidResultType) {
		t.Errorf("expected ErrInvalidResultType but got: %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value (0) but got: %v", result)
	}
}

func TestGetOrFetch_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	mock := &mockCacheService{result: 1, err: boom}

	result, err := GetOrFetch[int](context.Background(), mock, "k", func(ctx context.Context) (int, error) {
		return 1, nil
	})
	if !errors.Is(err, boom) {
		t.Errorf("expected boom but got: %v", err)
	}
	if result != 0 {
		t.Errorf("expected zero value on error but got: %v", result)
	}
}

func TestGetOrFetch_ValidResult(t *testing.T) {
	mock := &mockCacheService{result: "page-0"}

	result, err := GetOrFetch[string](context.Background(), mock, "k", func(ctx context.Context) (string, error) {
		return "page-0", nil
	})
	if err != nil {
		t.Errorf("expected no error but got: %v", err)
	}
	if result != "page-0" {
		t.Errorf("expected 'page-0' but got: '%s'", result)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Retention != NoExpiry {
		t.Errorf("expected NoExpiry retention, got %v", cfg.Retention)
	}

	cfg.LoadTimeout = -1
	if err := cfg.Validate(); err == nil {
		t.Error("expected negative LoadTimeout to be rejected")
	}

	cfg = DefaultConfig()
	cfg.Capacity = 0
	if _, err := NewCacheService(cfg); err == nil {
		t.Error("expected NewCacheService to reject zero capacity")
	}
}
