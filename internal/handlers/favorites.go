package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/platform/httpx"
	"github.com/wizesale/storefront/internal/services"
)

// FavoritesHandlers serves the session favorites list.
type FavoritesHandlers struct {
	sessions sessionProvider
	products productLookup
}

// NewFavoritesHandlers constructs FavoritesHandlers.
func NewFavoritesHandlers(sessions sessionProvider, products productLookup) *FavoritesHandlers {
	return &FavoritesHandlers{sessions: sessions, products: products}
}

// Routes registers the favorites endpoints.
func (h *FavoritesHandlers) Routes(r chi.Router) {
	r.Route("/favorites", func(rt chi.Router) {
		rt.Get("/", h.listFavorites)
		rt.Post("/", h.toggleFavorite)
		rt.Get("/{productID}", h.getFavorite)
	})
}

type toggleFavoriteRequest struct {
	ProductID string `json:"productId"`
}

func (h *FavoritesHandlers) listFavorites(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	httpx.NoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"favorites": favoritesOrEmpty(sess.Favorites.List())})
}

func (h *FavoritesHandlers) toggleFavorite(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req toggleFavoriteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		writeValidationError(ctx, w, "productId", "productId is required")
		return
	}
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	// Removing needs no catalog lookup, and must work for products that have
	// since been delisted.
	var lookupErr error
	favorited, err := sess.Favorites.ToggleWith(ctx, domain.ID(productID), func(ctx context.Context) (domain.FavoriteRef, error) {
		product, err := h.products.Product(ctx, sess.StoreID, productID)
		if err != nil {
			lookupErr = err
			return domain.FavoriteRef{}, err
		}
		return product.AsFavorite(), nil
	})
	if lookupErr != nil {
		writeCatalogError(ctx, w, lookupErr)
		return
	}
	if err != nil {
		writeFavoritesError(ctx, w, err)
		return
	}
	httpx.NoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"favorited": favorited,
		"favorites": favoritesOrEmpty(sess.Favorites.List()),
	})
}

func (h *FavoritesHandlers) getFavorite(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	id := domain.ID(strings.TrimSpace(chi.URLParam(r, "productID")))
	httpx.NoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"productId": id,
		"favorited": sess.Favorites.IsFavorited(id),
	})
}

func favoritesOrEmpty(refs []domain.FavoriteRef) []domain.FavoriteRef {
	if refs == nil {
		return []domain.FavoriteRef{}
	}
	return refs
}

func writeFavoritesError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrFavoritesInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_favorite", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrFavoritesUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("favorites_unavailable", "favorites could not be saved", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("favorites_error", "failed to update favorites", http.StatusInternalServerError))
	}
}
