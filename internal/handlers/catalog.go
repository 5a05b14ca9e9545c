package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/platform/httpx"
	"github.com/wizesale/storefront/internal/platform/requestctx"
	"github.com/wizesale/storefront/internal/services"
)

type catalogReader interface {
	ListProducts(ctx context.Context, storeID int64, filter services.ProductFilter) ([]services.ProductView, error)
	ProductDetail(ctx context.Context, storeID int64, productID string) (services.ProductDetail, error)
	Product(ctx context.Context, storeID int64, productID string) (domain.Product, error)
	Categories(ctx context.Context, storeID int64) ([]domain.Category, error)
}

// CatalogHandlers proxies the store catalog.
type CatalogHandlers struct {
	catalog catalogReader
}

// NewCatalogHandlers constructs CatalogHandlers.
func NewCatalogHandlers(catalog catalogReader) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes registers the catalog endpoints.
func (h *CatalogHandlers) Routes(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/categories", h.listCategories)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()
	filter := services.ProductFilter{
		Category: strings.TrimSpace(query.Get("category")),
		Query:    strings.TrimSpace(query.Get("q")),
	}
	products, err := h.catalog.ListProducts(ctx, requestctx.StoreID(ctx), filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if products == nil {
		products = []services.ProductView{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	detail, err := h.catalog.ProductDetail(ctx, requestctx.StoreID(ctx), productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if detail.Related == nil {
		detail.Related = []services.ProductView{}
	}
	httpx.WriteJSON(w, http.StatusOK, detail)
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	categories, err := h.catalog.Categories(ctx, requestctx.StoreID(ctx))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if categories == nil {
		categories = []domain.Category{}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"categories": categories})
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, commerce.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	case errors.Is(err, commerce.ErrStoreNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("store_not_found", "store not found", http.StatusNotFound))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_timeout", "catalog request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_unavailable", "catalog could not be loaded", http.StatusBadGateway))
	}
}
