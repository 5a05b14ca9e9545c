package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/platform/httpx"
	"github.com/wizesale/storefront/internal/platform/requestctx"
)

type termsRenderer interface {
	Render(source string) (string, error)
}

type paymentMethodLister interface {
	List() []domain.PaymentMethod
}

// StoreHandlers exposes the resolved tenant and its checkout options.
type StoreHandlers struct {
	terms   termsRenderer
	methods paymentMethodLister
}

// NewStoreHandlers constructs StoreHandlers.
func NewStoreHandlers(terms termsRenderer, methods paymentMethodLister) *StoreHandlers {
	return &StoreHandlers{terms: terms, methods: methods}
}

// Routes registers the store endpoints.
func (h *StoreHandlers) Routes(r chi.Router) {
	r.Get("/store", h.getStore)
	r.Get("/payment-methods", h.listPaymentMethods)
}

func (h *StoreHandlers) getStore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	store, ok := requestctx.Store(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("store_not_found", "no store resolved for request", http.StatusNotFound))
		return
	}

	termsHTML := ""
	if h.terms != nil && store.Terms != "" {
		rendered, err := h.terms.Render(store.Terms)
		if err != nil {
			requestctx.Logger(ctx).Warn("store: render terms failed")
		} else {
			termsHTML = rendered
		}
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"store":     store,
		"termsHtml": termsHTML,
	})
}

func (h *StoreHandlers) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	methods := []domain.PaymentMethod{}
	if h.methods != nil {
		for _, m := range h.methods.List() {
			if m.Enabled {
				methods = append(methods, m)
			}
		}
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"methods": methods})
}
