package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/wizesale/storefront/internal/platform/httpx"
	"github.com/wizesale/storefront/internal/services"
)

// CheckoutHandlers drives the session checkout machine.
type CheckoutHandlers struct {
	sessions sessionProvider
}

// NewCheckoutHandlers constructs CheckoutHandlers.
func NewCheckoutHandlers(sessions sessionProvider) *CheckoutHandlers {
	return &CheckoutHandlers{sessions: sessions}
}

// Routes registers the checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Route("/checkout", func(rt chi.Router) {
		rt.Get("/", h.getCheckout)
		rt.Patch("/", h.updateCheckout)
		rt.Post("/coupon", h.applyCoupon)
		rt.Delete("/coupon", h.removeCoupon)
		rt.Post("/submit", h.submit)
		rt.Post("/acknowledge", h.acknowledge)
		rt.Post("/reset", h.reset)
	})
}

type updateCheckoutRequest struct {
	PaymentMethod  *string `json:"paymentMethod"`
	DeliveryMethod *string `json:"deliveryMethod"`
	Email          *string `json:"email"`
	TermsAccepted  *bool   `json:"termsAccepted"`
}

type applyCouponRequest struct {
	Code string `json:"code"`
}

func (h *CheckoutHandlers) getCheckout(w http.ResponseWriter, r *http.Request) {
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	writeCheckoutView(w, sess.Checkout.View())
}

// updateCheckout applies the present fields in a fixed order and stops at the
// first rejected one. Fields applied before the failure are kept.
func (h *CheckoutHandlers) updateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req updateCheckoutRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	machine := sess.Checkout

	steps := make([]func() error, 0, 4)
	if req.PaymentMethod != nil {
		steps = append(steps, func() error { return machine.SelectPaymentMethod(*req.PaymentMethod) })
	}
	if req.DeliveryMethod != nil {
		steps = append(steps, func() error { return machine.SelectDeliveryMethod(*req.DeliveryMethod) })
	}
	if req.Email != nil {
		steps = append(steps, func() error { return machine.SetDeliveryContact(*req.Email) })
	}
	if req.TermsAccepted != nil {
		steps = append(steps, func() error { return machine.SetTermsAccepted(*req.TermsAccepted) })
	}
	for _, step := range steps {
		if err := step(); err != nil {
			writeCheckoutError(ctx, w, err)
			return
		}
	}
	writeCheckoutView(w, machine.View())
}

func (h *CheckoutHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req applyCouponRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	adjustment, err := sess.Checkout.ApplyCoupon(ctx, req.Code)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	httpx.NoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"message":  services.CouponAppliedMessage,
		"coupon":   adjustment,
		"checkout": sess.Checkout.View(),
	})
}

func (h *CheckoutHandlers) removeCoupon(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*services.CheckoutMachine).RemoveCoupon)
}

func (h *CheckoutHandlers) acknowledge(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*services.CheckoutMachine).Acknowledge)
}

func (h *CheckoutHandlers) reset(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, (*services.CheckoutMachine).Reset)
}

func (h *CheckoutHandlers) transition(w http.ResponseWriter, r *http.Request, op func(*services.CheckoutMachine) error) {
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	if err := op(sess.Checkout); err != nil {
		writeCheckoutError(r.Context(), w, err)
		return
	}
	writeCheckoutView(w, sess.Checkout.View())
}

// submit answers 200 for both payment outcomes; a declined payment is reported
// through state "failed" and failureReason.
func (h *CheckoutHandlers) submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess, ok := currentSession(w, r, h.sessions)
	if !ok {
		return
	}
	view, err := sess.Checkout.Submit(ctx)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}
	writeCheckoutView(w, view)
}

func writeCheckoutView(w http.ResponseWriter, view services.CheckoutView) {
	httpx.NoStore(w)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"checkout": view})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var validationErr *services.ValidationError
	var couponErr *services.CouponError
	switch {
	case errors.As(err, &validationErr):
		writeValidationError(ctx, w, validationErr.Field, validationErr.Message)
	case errors.As(err, &couponErr):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_"+couponErr.Kind.String(), couponErr.Message, http.StatusUnprocessableEntity).
			WithDetails(map[string]any{"field": services.FieldCoupon}))
	case errors.Is(err, services.ErrSubmissionInFlight):
		httpx.WriteError(ctx, w, httpx.NewError("submission_in_flight", "a payment request is already running", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutCompleted):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_completed", "checkout was already handed off to the payment provider", http.StatusConflict))
	case errors.Is(err, services.ErrCheckoutNotIdle):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_idle", "acknowledge the failed checkout before retrying", http.StatusConflict))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_unavailable", "cart could not be updated", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("upstream_timeout", "checkout request timed out", http.StatusGatewayTimeout))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "checkout could not be processed", http.StatusInternalServerError))
	}
}
