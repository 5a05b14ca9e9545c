package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/money"
	"github.com/wizesale/storefront/internal/platform/httpx"
	"github.com/wizesale/storefront/internal/platform/requestctx"
	"github.com/wizesale/storefront/internal/services"
)

const defaultHeartbeatInterval = 25 * time.Second

type productLookup interface {
	Product(ctx context.Context, storeID int64, productID string) (domain.Product, error)
}

// CartHandlers serves the session cart and its change stream.
type CartHandlers struct {
	sessions  sessionProvider
	products  productLookup
	heartbeat time.Duration
}

// CartOption customises CartHandlers.
type CartOption func(*CartHandlers)

// WithCartHeartbeat overrides the keep-alive interval of the event stream.
func WithCartHeartbeat(interval time.Duration) CartOption {
	return func(h *CartHandlers) {
		if interval > 0 {
			h.heartbeat = interval
		}
	}
}

// NewCartHandlers constructs CartHandlers.
func NewCartHandlers(sessions sessionProvider, products productLookup, opts ...CartOption) *CartHandlers {
	h := &CartHandlers{sessions: sessions, products: products, heartbeat: defaultHeartbeatInterval}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes registers the cart endpoints.
func (h *CartHandlers) Routes(r chi.Router) {
	r.Route("/cart", func(rt chi.Router) {
		rt.Get("/", h.getCart)
		rt.Delete("/", h.clearCart)
		rt.Get("/events", h.streamCart)
		rt.Post("/items", h.addItem)
		rt.Put("/items/{itemID}", h.setQuantity)
		rt.Delete("/items/{itemID}", h.removeItem)
		rt.Post("/items/{itemID}/increment", h.incrementItem)
		rt.Post("/items/{itemID}/decrement", h.decrementItem)
	})
}

type cartLinePayload struct {
	domain.LineItem
	Subtotal        string `json:"subtotal"`
	DiscountPercent int    `json:"discountPercent"`
}

type cartPayload struct {
	Items      []cartLinePayload `json:"items"`
	Total      string            `json:"total"`
	TotalItems int               `json:"totalItems"`
	Formatted  map[string]string `json:"formatted"`
	UpdatedAt  *time.Time        `json:"updatedAt,omitempty"`
}

func newCartPayload(cart domain.Cart) cartPayload {
	lines := make([]cartLinePayload, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, cartLinePayload{
			LineItem:        item,
			Subtotal:        money.FormatDecimal(item.Subtotal()),
			DiscountPercent: money.DiscountPercentOf(item.ComparisonPrice, item.UnitPrice),
		})
	}
	total := cart.Total()
	payload := cartPayload{
		Items:      lines,
		Total:      money.FormatDecimal(total),
		TotalItems: cart.TotalItems(),
		Formatted:  map[string]string{"total": money.FormatBRL(total)},
	}
	if !cart.UpdatedAt.IsZero() {
		updated := cart.UpdatedAt.UTC()
		payload.UpdatedAt = &updated
	}
	return payload
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	writeCartResponse(w, http.StatusOK, sess.Cart.Snapshot())
}

func (h *CartHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req addItemRequest
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

	product, err := h.products.Product(ctx, sess.StoreID, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	item := product.AsLineItem()
	if req.Quantity > 0 {
		item.Quantity = req.Quantity
	}

	cart, err := sess.Cart.AddItem(ctx, item)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req setQuantityRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Quantity == nil {
		writeValidationError(ctx, w, "quantity", "quantity is required")
		return
	}
	h.mutateItem(w, r, func(cart *services.CartStore, ctx context.Context, id domain.ID) (domain.Cart, error) {
		return cart.SetQuantity(ctx, id, *req.Quantity)
	})
}

func (h *CartHandlers) incrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, (*services.CartStore).Increment)
}

func (h *CartHandlers) decrementItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, (*services.CartStore).Decrement)
}

func (h *CartHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	h.mutateItem(w, r, (*services.CartStore).RemoveItem)
}

func (h *CartHandlers) mutateItem(w http.ResponseWriter, r *http.Request, op func(*services.CartStore, context.Context, domain.ID) (domain.Cart, error)) {
	ctx := r.Context()
	itemID := strings.TrimSpace(chi.URLParam(r, "itemID"))
	if itemID == "" {
		writeValidationError(ctx, w, "itemId", "item id is required")
		return
	}
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	cart, err := op(sess.Cart, ctx, domain.ID(itemID))
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, cart)
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	if err := sess.Cart.Clear(ctx); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeCartResponse(w, http.StatusOK, sess.Cart.Snapshot())
}

// streamCart pushes every cart change to the client as a server-sent event.
// The current snapshot is sent first so late subscribers start in sync.
func (h *CartHandlers) streamCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("streaming_unsupported", "response does not support streaming", http.StatusInternalServerError))
		return
	}
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}

	updates, cancel := sess.Cart.Subscribe()
	defer cancel()

	header := w.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	httpx.NoStore(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case cart, open := <-updates:
			if !open {
				return
			}
			if err := writeCartEvent(w, cart); err != nil {
				requestctx.Logger(ctx).Debug("cart stream closed")
				return
			}
			flusher.Flush()
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeCartEvent(w http.ResponseWriter, cart domain.Cart) error {
	data, err := json.Marshal(newCartPayload(cart))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: cart\ndata: %s\n\n", data)
	return err
}

func writeCartResponse(w http.ResponseWriter, status int, cart domain.Cart) {
	httpx.NoStore(w)
	httpx.WriteJSON(w, status, map[string]any{"cart": newCartPayload(cart)})
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, field, message string) {
	httpx.WriteError(ctx, w, httpx.NewError("validation_failed", message, http.StatusUnprocessableEntity).WithDetails(map[string]any{"field": field}))
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_cart_item", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart could not be saved", http.StatusServiceUnavailable))
	case errors.Is(err, commerce.ErrProductNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "failed to update cart", http.StatusInternalServerError))
	}
}
