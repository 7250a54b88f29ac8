package policy

import (
	"context"
	"testing"
	"time"
)

type countingStore struct {
	*fakeStore
	loads int
}

func (s *countingStore) Load(ctx context.Context, scope Scope, scopeID string) (Policy, error) {
	s.loads++
	return s.fakeStore.Load(ctx, scope, scopeID)
}

func TestCacheServesFromCacheUntilInvalidated(t *testing.T) {
	store := &countingStore{fakeStore: newFakeStore(PlatformBaselinePolicy())}
	cache := NewCache(store, time.Minute)
	ctx := context.Background()

	if _, err := cache.Get(ctx, ScopePlatform, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := cache.Get(ctx, ScopePlatform, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if store.loads != 1 {
		t.Fatalf("expected one underlying load before invalidation, got %d", store.loads)
	}

	cache.Invalidate(scopeKey(ScopePlatform, ""))
	if _, err := cache.Get(ctx, ScopePlatform, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if store.loads != 2 {
		t.Fatalf("expected a reload after invalidation, got %d loads", store.loads)
	}
}

func TestCacheReloadsAfterTTLExpiry(t *testing.T) {
	store := &countingStore{fakeStore: newFakeStore(PlatformBaselinePolicy())}
	cache := NewCache(store, time.Millisecond)
	ctx := context.Background()

	if _, err := cache.Get(ctx, ScopePlatform, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := cache.Get(ctx, ScopePlatform, ""); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if store.loads != 2 {
		t.Fatalf("expected TTL expiry to force a reload, got %d loads", store.loads)
	}
}
