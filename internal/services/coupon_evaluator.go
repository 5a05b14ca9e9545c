package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/money"
)

var errCouponSourceRequired = errors.New("coupon service: source is required")

// Shopper-facing coupon messages.
const (
	CouponAppliedMessage       = "Cupom utilizado com sucesso"
	couponNotFoundMessage      = "Cupom não encontrado."
	couponExhaustedMessage     = "O cupom atingiu o limite de usos."
	couponExpiredMessage       = "O cupom expirou."
	couponMinimumMessagePrefix = "O valor mínimo para usar o cupom é "
)

// CouponErrorKind classifies why a coupon was rejected.
type CouponErrorKind int

const (
	CouponNotFound CouponErrorKind = iota + 1
	CouponExhausted
	CouponExpired
	CouponMinimumNotMet
)

// String returns the snake_case name used in API error codes.
func (k CouponErrorKind) String() string {
	switch k {
	case CouponNotFound:
		return "not_found"
	case CouponExhausted:
		return "exhausted"
	case CouponExpired:
		return "expired"
	case CouponMinimumNotMet:
		return "minimum_not_met"
	default:
		return "unknown"
	}
}

// CouponError is a rejected coupon application. Message is shown to the shopper as-is.
type CouponError struct {
	Kind    CouponErrorKind
	Message string
	Err     error
}

func (e *CouponError) Error() string {
	return "coupon service: " + e.Kind.String() + ": " + e.Message
}

func (e *CouponError) Unwrap() error { return e.Err }

// CouponEvaluatorDeps wires the remote coupon source.
type CouponEvaluatorDeps struct {
	Source CouponSource
	Clock  func() time.Time
	Logger func(context.Context, string, map[string]any)
}

// CouponEvaluator validates coupon codes and prices the resulting discount.
type CouponEvaluator struct {
	source CouponSource
	now    func() time.Time
	logger eventLogger
}

// NewCouponEvaluator constructs an evaluator.
func NewCouponEvaluator(deps CouponEvaluatorDeps) (*CouponEvaluator, error) {
	if deps.Source == nil {
		return nil, errCouponSourceRequired
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	return &CouponEvaluator{
		source: deps.Source,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
	}, nil
}

// Apply fetches code for the store and evaluates it against cartTotal. The
// coupon is re-read on every call; nothing is cached.
func (e *CouponEvaluator) Apply(ctx context.Context, storeID int64, code string, cartTotal decimal.Decimal) (domain.CouponAdjustment, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.CouponAdjustment{}, &CouponError{Kind: CouponNotFound, Message: couponNotFoundMessage}
	}

	coupon, err := e.source.Coupon(ctx, storeID, code)
	if err != nil {
		message := couponNotFoundMessage
		var apiErr *commerce.APIError
		if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
			message = apiErr.Message
		}
		e.logger(ctx, "coupon.lookup_failed", map[string]any{"storeId": storeID, "code": code, "error": err.Error()})
		return domain.CouponAdjustment{}, &CouponError{Kind: CouponNotFound, Message: message, Err: err}
	}

	now := e.now()
	if coupon.MaxUses != nil && coupon.UsesSoFar >= *coupon.MaxUses {
		return domain.CouponAdjustment{}, &CouponError{Kind: CouponExhausted, Message: couponExhaustedMessage}
	}
	if coupon.ExpiresAt != nil && coupon.ExpiresAt.Before(now) {
		return domain.CouponAdjustment{}, &CouponError{Kind: CouponExpired, Message: couponExpiredMessage}
	}
	if coupon.MinPrice.Valid && cartTotal.LessThan(coupon.MinPrice.Decimal) {
		return domain.CouponAdjustment{}, &CouponError{
			Kind:    CouponMinimumNotMet,
			Message: couponMinimumMessagePrefix + money.FormatBRL(coupon.MinPrice.Decimal),
		}
	}

	amount, newTotal := money.ApplyPercent(cartTotal, coupon.DiscountPercent)
	adjustment := domain.CouponAdjustment{
		Code:            coupon.Code,
		DiscountPercent: coupon.DiscountPercent,
		Amount:          amount,
		BaseTotal:       cartTotal,
		NewTotal:        newTotal,
		AppliedAt:       now,
	}
	if adjustment.Code == "" {
		adjustment.Code = code
	}
	e.logger(ctx, "coupon.applied", map[string]any{"storeId": storeID, "code": adjustment.Code, "amount": amount.StringFixed(2)})
	return adjustment, nil
}
