package services

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/money"
)

var errCatalogSourceRequired = errors.New("catalog service: source is required")

const relatedProductsLimit = 3

// ProductFilter narrows the product listing. Empty fields match everything.
type ProductFilter struct {
	Category string
	Query    string
}

// ProductView decorates a product with display values.
type ProductView struct {
	domain.Product
	DiscountPercent int    `json:"discountPercent"`
	PriceLabel      string `json:"priceLabel"`
	ComparisonLabel string `json:"comparationLabel,omitempty"`
}

// ProductDetail is a product page: the product and similar public products.
type ProductDetail struct {
	Product ProductView   `json:"product"`
	Related []ProductView `json:"related"`
}

// CatalogServiceDeps wires the remote catalog.
type CatalogServiceDeps struct {
	Source CatalogSource
	Logger func(context.Context, string, map[string]any)
}

// CatalogService serves the store's public catalog.
type CatalogService struct {
	source CatalogSource
	logger eventLogger
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(deps CatalogServiceDeps) (*CatalogService, error) {
	if deps.Source == nil {
		return nil, errCatalogSourceRequired
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &CatalogService{source: deps.Source, logger: logger}, nil
}

// ListProducts returns public products matching filter, in API order.
func (s *CatalogService) ListProducts(ctx context.Context, storeID int64, filter ProductFilter) ([]ProductView, error) {
	products, err := s.source.Products(ctx, storeID)
	if err != nil {
		return nil, err
	}

	category := strings.TrimSpace(filter.Category)
	query := strings.ToLower(strings.TrimSpace(filter.Query))
	views := make([]ProductView, 0, len(products))
	for _, product := range products {
		if !product.IsPublic() {
			continue
		}
		if category != "" && product.Category != category {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(product.Name), query) {
			continue
		}
		views = append(views, newProductView(product))
	}
	return views, nil
}

// ProductDetail returns one product with up to three related public products
// from the same category.
func (s *CatalogService) ProductDetail(ctx context.Context, storeID int64, productID string) (ProductDetail, error) {
	var (
		product  domain.Product
		products []domain.Product
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		product, err = s.source.Product(gctx, storeID, productID)
		return err
	})
	g.Go(func() error {
		var err error
		products, err = s.source.Products(gctx, storeID)
		if err != nil {
			s.logger(ctx, "catalog.related_degraded", map[string]any{"storeId": storeID, "error": err.Error()})
			products = nil
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return ProductDetail{}, err
	}

	detail := ProductDetail{Product: newProductView(product), Related: []ProductView{}}
	for _, candidate := range products {
		if len(detail.Related) == relatedProductsLimit {
			break
		}
		if candidate.ID == product.ID || !candidate.IsPublic() || candidate.Category != product.Category {
			continue
		}
		detail.Related = append(detail.Related, newProductView(candidate))
	}
	return detail, nil
}

// Product returns the raw product record, used to build cart lines and favorites.
func (s *CatalogService) Product(ctx context.Context, storeID int64, productID string) (domain.Product, error) {
	return s.source.Product(ctx, storeID, productID)
}

// Categories returns the store's categories.
func (s *CatalogService) Categories(ctx context.Context, storeID int64) ([]domain.Category, error) {
	return s.source.Categories(ctx, storeID)
}

func newProductView(product domain.Product) ProductView {
	view := ProductView{
		Product:         product,
		DiscountPercent: money.DiscountPercentOf(product.Comparation, product.Price),
		PriceLabel:      money.FormatBRL(product.Price),
	}
	if product.Comparation.Valid {
		view.ComparisonLabel = money.FormatBRL(product.Comparation.Decimal)
	}
	if view.Images == nil {
		view.Images = []string{}
	}
	return view
}
