package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
)

type stubStoreDirectory struct {
	resolveCalls atomic.Int32
	storeCalls   atomic.Int32
	resolveFunc  func(ctx context.Context, sub string) (int64, error)
	gate         chan struct{}
}

func (s *stubStoreDirectory) ResolveStoreID(ctx context.Context, sub string) (int64, error) {
	s.resolveCalls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	if s.resolveFunc != nil {
		return s.resolveFunc(ctx, sub)
	}
	return 9, nil
}

func (s *stubStoreDirectory) Store(_ context.Context, storeID int64) (domain.StoreContext, error) {
	s.storeCalls.Add(1)
	return domain.StoreContext{ID: storeID, Title: "Loja"}, nil
}

func TestFirstSubdomain(t *testing.T) {
	tests := map[string]string{
		"minhaloja.wizesale.com":      "minhaloja",
		"MinhaLoja.wizesale.com:8443": "minhaloja",
		"localhost:8080":              "localhost",
		"localhost":                   "localhost",
		"":                            "",
		"shop.example.com.":           "shop",
	}
	for host, want := range tests {
		if got := FirstSubdomain(host); got != want {
			t.Fatalf("FirstSubdomain(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestTenantResolverCachesWithinTTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	dir := &stubStoreDirectory{}
	resolver, err := NewTenantResolver(TenantResolverDeps{Directory: dir, CacheTTL: time.Minute, Clock: clock})
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		store, err := resolver.Resolve(ctx, "loja.wizesale.com")
		if err != nil || store.ID != 9 {
			t.Fatalf("resolve: %+v %v", store, err)
		}
	}
	if dir.resolveCalls.Load() != 1 {
		t.Fatalf("expected one remote resolve, got %d", dir.resolveCalls.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := resolver.Resolve(ctx, "loja.wizesale.com"); err != nil {
		t.Fatalf("resolve after expiry: %v", err)
	}
	if dir.resolveCalls.Load() != 2 {
		t.Fatalf("expected cache refresh after ttl, got %d", dir.resolveCalls.Load())
	}
}

func TestTenantResolverDeduplicatesConcurrentLookups(t *testing.T) {
	dir := &stubStoreDirectory{gate: make(chan struct{})}
	resolver, _ := NewTenantResolver(TenantResolverDeps{Directory: dir})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = resolver.Resolve(context.Background(), "loja.wizesale.com")
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(dir.gate)
	wg.Wait()

	if got := dir.resolveCalls.Load(); got != 1 {
		t.Fatalf("expected a single shared lookup, got %d", got)
	}
}

func TestTenantResolverFallbackSubdomain(t *testing.T) {
	var seen string
	dir := &stubStoreDirectory{resolveFunc: func(_ context.Context, sub string) (int64, error) {
		seen = sub
		return 1, nil
	}}
	resolver, _ := NewTenantResolver(TenantResolverDeps{Directory: dir, FallbackSubdomain: "Demo"})

	if _, err := resolver.Resolve(context.Background(), "localhost:8080"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if seen != "demo" {
		t.Fatalf("expected fallback subdomain, got %q", seen)
	}
}

func TestTenantResolverErrorsAreNotCached(t *testing.T) {
	fail := true
	dir := &stubStoreDirectory{resolveFunc: func(context.Context, string) (int64, error) {
		if fail {
			return 0, commerce.ErrStoreNotFound
		}
		return 3, nil
	}}
	resolver, _ := NewTenantResolver(TenantResolverDeps{Directory: dir})

	if _, err := resolver.Resolve(context.Background(), "x.wizesale.com"); !errors.Is(err, commerce.ErrStoreNotFound) {
		t.Fatalf("expected ErrStoreNotFound, got %v", err)
	}
	fail = false
	store, err := resolver.Resolve(context.Background(), "x.wizesale.com")
	if err != nil || store.ID != 3 {
		t.Fatalf("expected retry to succeed, got %+v %v", store, err)
	}
}

func TestTenantResolverStoreByID(t *testing.T) {
	dir := &stubStoreDirectory{}
	resolver, _ := NewTenantResolver(TenantResolverDeps{Directory: dir})
	for i := 0; i < 2; i++ {
		store, err := resolver.StoreByID(context.Background(), 5)
		if err != nil || store.ID != 5 {
			t.Fatalf("store by id: %+v %v", store, err)
		}
	}
	if dir.storeCalls.Load() != 1 || dir.resolveCalls.Load() != 0 {
		t.Fatalf("expected one store read and no resolve, got %d/%d", dir.storeCalls.Load(), dir.resolveCalls.Load())
	}
}

func TestTenantResolverRequiresHost(t *testing.T) {
	resolver, _ := NewTenantResolver(TenantResolverDeps{Directory: &stubStoreDirectory{}})
	if _, err := resolver.Resolve(context.Background(), ""); !errors.Is(err, ErrTenantHostRequired) {
		t.Fatalf("expected ErrTenantHostRequired, got %v", err)
	}
}
