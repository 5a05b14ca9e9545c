package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/platform/httpx"
	"github.com/wizesale/storefront/internal/platform/observability"
	"github.com/wizesale/storefront/internal/platform/requestctx"
	"github.com/wizesale/storefront/internal/platform/session"
	"github.com/wizesale/storefront/internal/services"
)

type tenantResolver interface {
	Resolve(ctx context.Context, host string) (domain.StoreContext, error)
	StoreByID(ctx context.Context, storeID int64) (domain.StoreContext, error)
}

type storeCookieWriter interface {
	WriteStoreCookie(w http.ResponseWriter, storeID int64)
}

// TenantMiddleware resolves the store from the request host and attaches it to
// the request context. When the host lookup fails for reasons other than an
// unknown store, the store pinned by the storeId cookie is used instead.
func TenantMiddleware(resolver tenantResolver, cookies storeCookieWriter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			pinned, hasPinned := session.StoreIDFromCookie(r)

			store, err := resolver.Resolve(ctx, r.Host)
			if err != nil && hasPinned && !errors.Is(err, commerce.ErrStoreNotFound) && !errors.Is(err, services.ErrTenantHostRequired) {
				store, err = resolver.StoreByID(ctx, pinned)
			}
			if err != nil {
				writeTenantError(ctx, w, err)
				return
			}

			if cookies != nil && (!hasPinned || pinned != store.ID) {
				cookies.WriteStoreCookie(w, store.ID)
			}

			r = r.WithContext(requestctx.WithStore(ctx, store))
			observability.AnnotateRequest(r)
			next.ServeHTTP(w, r)
		})
	}
}

func writeTenantError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commerce.ErrStoreNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("store_not_found", "no store is served on this host", http.StatusNotFound))
	case errors.Is(err, services.ErrTenantHostRequired):
		httpx.WriteError(ctx, w, httpx.NewError("store_host_required", "request host does not identify a store", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("store_unavailable", "store could not be resolved", http.StatusBadGateway))
	}
}
