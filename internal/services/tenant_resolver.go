package services

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/wizesale/storefront/internal/domain"
)

var errTenantDirectoryRequired = errors.New("tenant service: directory is required")

// ErrTenantHostRequired indicates the request carried no usable host.
var ErrTenantHostRequired = errors.New("tenant service: host is required")

const defaultTenantCacheTTL = time.Minute

// TenantResolverDeps wires store lookups.
type TenantResolverDeps struct {
	Directory         StoreDirectory
	CacheTTL          time.Duration
	FallbackSubdomain string
	Clock             func() time.Time
	Logger            func(context.Context, string, map[string]any)
}

// TenantResolver maps request hosts to store records. Concurrent lookups of the
// same subdomain share one remote call and results are cached briefly.
type TenantResolver struct {
	directory StoreDirectory
	ttl       time.Duration
	fallback  string
	now       func() time.Time
	logger    eventLogger
	group     singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedStore
}

type cachedStore struct {
	store     domain.StoreContext
	expiresAt time.Time
}

// NewTenantResolver constructs a resolver.
func NewTenantResolver(deps TenantResolverDeps) (*TenantResolver, error) {
	if deps.Directory == nil {
		return nil, errTenantDirectoryRequired
	}
	ttl := deps.CacheTTL
	if ttl <= 0 {
		ttl = defaultTenantCacheTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &TenantResolver{
		directory: deps.Directory,
		ttl:       ttl,
		fallback:  strings.ToLower(strings.TrimSpace(deps.FallbackSubdomain)),
		now:       clock,
		logger:    logger,
		cache:     make(map[string]cachedStore),
	}, nil
}

// FirstSubdomain returns the leftmost label of host, or host itself when it
// has a single label. Ports are ignored.
func FirstSubdomain(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return ""
	}
	if idx := strings.IndexByte(host, '.'); idx > 0 {
		return host[:idx]
	}
	return host
}

// Resolve returns the store serving host.
func (r *TenantResolver) Resolve(ctx context.Context, host string) (domain.StoreContext, error) {
	sub := FirstSubdomain(host)
	if r.fallback != "" && (sub == "" || !strings.Contains(hostOnly(host), ".")) {
		sub = r.fallback
	}
	if sub == "" {
		return domain.StoreContext{}, ErrTenantHostRequired
	}
	return r.cached(ctx, "host:"+sub, func(ctx context.Context) (domain.StoreContext, error) {
		storeID, err := r.directory.ResolveStoreID(ctx, sub)
		if err != nil {
			return domain.StoreContext{}, err
		}
		return r.directory.Store(ctx, storeID)
	})
}

// StoreByID returns the store record for a known id, as carried by the storeId cookie.
func (r *TenantResolver) StoreByID(ctx context.Context, storeID int64) (domain.StoreContext, error) {
	return r.cached(ctx, "id:"+strconv.FormatInt(storeID, 10), func(ctx context.Context) (domain.StoreContext, error) {
		return r.directory.Store(ctx, storeID)
	})
}

func (r *TenantResolver) cached(ctx context.Context, key string, load func(context.Context) (domain.StoreContext, error)) (domain.StoreContext, error) {
	now := r.now()
	r.mu.RLock()
	entry, ok := r.cache[key]
	r.mu.RUnlock()
	if ok && now.Before(entry.expiresAt) {
		return entry.store, nil
	}

	result, err, _ := r.group.Do(key, func() (any, error) {
		store, err := load(ctx)
		if err != nil {
			return domain.StoreContext{}, err
		}
		r.mu.Lock()
		r.cache[key] = cachedStore{store: store, expiresAt: r.now().Add(r.ttl)}
		r.mu.Unlock()
		return store, nil
	})
	if err != nil {
		r.logger(ctx, "tenant.resolve_failed", map[string]any{"key": key, "error": err.Error()})
		return domain.StoreContext{}, err
	}
	return result.(domain.StoreContext), nil
}

func hostOnly(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}
