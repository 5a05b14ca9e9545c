package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
)

func newTestEvaluator(t *testing.T, source CouponSource, now time.Time) *CouponEvaluator {
	t.Helper()
	evaluator, err := NewCouponEvaluator(CouponEvaluatorDeps{Source: source, Clock: fixedClock(now)})
	if err != nil {
		t.Fatalf("new coupon evaluator: %v", err)
	}
	return evaluator
}

func intPtr(v int) *int { return &v }

func TestCouponEvaluatorApplySuccess(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	source := &stubCouponSource{couponFunc: func(_ context.Context, storeID int64, code string) (domain.Coupon, error) {
		if storeID != 7 || code != "DESCONTO10" {
			t.Fatalf("unexpected lookup %d %q", storeID, code)
		}
		return domain.Coupon{
			Code:            "DESCONTO10",
			DiscountPercent: dec("10"),
			MinPrice:        decimal.NewNullDecimal(dec("100")),
			MaxUses:         intPtr(5),
			UsesSoFar:       4,
			ExpiresAt:       &future,
		}, nil
	}}

	adj, err := newTestEvaluator(t, source, now).Apply(context.Background(), 7, " DESCONTO10 ", dec("200"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !adj.Amount.Equal(dec("20")) || !adj.NewTotal.Equal(dec("180")) {
		t.Fatalf("unexpected adjustment %+v", adj)
	}
	if !adj.BaseTotal.Equal(dec("200")) || !adj.AppliedAt.Equal(now) {
		t.Fatalf("expected base total and timestamp recorded, got %+v", adj)
	}
}

func TestCouponEvaluatorRejections(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)

	tests := []struct {
		name    string
		coupon  domain.Coupon
		total   string
		kind    CouponErrorKind
		message string
	}{
		{
			name:    "exhausted",
			coupon:  domain.Coupon{Code: "X", DiscountPercent: dec("10"), MaxUses: intPtr(3), UsesSoFar: 3},
			total:   "100",
			kind:    CouponExhausted,
			message: "O cupom atingiu o limite de usos.",
		},
		{
			name:    "expired",
			coupon:  domain.Coupon{Code: "X", DiscountPercent: dec("10"), ExpiresAt: &past},
			total:   "100",
			kind:    CouponExpired,
			message: "O cupom expirou.",
		},
		{
			name:    "minimum not met",
			coupon:  domain.Coupon{Code: "X", DiscountPercent: dec("10"), MinPrice: decimal.NewNullDecimal(dec("300"))},
			total:   "299.99",
			kind:    CouponMinimumNotMet,
			message: "O valor mínimo para usar o cupom é R$ 300,00",
		},
		{
			name:    "exhausted wins over minimum",
			coupon:  domain.Coupon{Code: "X", MaxUses: intPtr(0), MinPrice: decimal.NewNullDecimal(dec("300"))},
			total:   "1",
			kind:    CouponExhausted,
			message: "O cupom atingiu o limite de usos.",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			coupon := tc.coupon
			source := &stubCouponSource{couponFunc: func(context.Context, int64, string) (domain.Coupon, error) {
				return coupon, nil
			}}
			_, err := newTestEvaluator(t, source, now).Apply(context.Background(), 1, "X", dec(tc.total))
			var couponErr *CouponError
			if !errors.As(err, &couponErr) {
				t.Fatalf("expected CouponError, got %v", err)
			}
			if couponErr.Kind != tc.kind || couponErr.Message != tc.message {
				t.Fatalf("expected %v %q, got %v %q", tc.kind, tc.message, couponErr.Kind, couponErr.Message)
			}
		})
	}
}

func TestCouponEvaluatorNotFoundMessages(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{name: "server message", err: &commerce.APIError{Status: 400, Message: "Cupom inválido para esta loja"}, message: "Cupom inválido para esta loja"},
		{name: "no message", err: &commerce.APIError{Status: 404}, message: "Cupom não encontrado."},
		{name: "network", err: errors.New("dial tcp: refused"), message: "Cupom não encontrado."},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			lookupErr := tc.err
			source := &stubCouponSource{couponFunc: func(context.Context, int64, string) (domain.Coupon, error) {
				return domain.Coupon{}, lookupErr
			}}
			_, err := newTestEvaluator(t, source, time.Now()).Apply(context.Background(), 1, "CODE", dec("10"))
			var couponErr *CouponError
			if !errors.As(err, &couponErr) || couponErr.Kind != CouponNotFound {
				t.Fatalf("expected not-found CouponError, got %v", err)
			}
			if couponErr.Message != tc.message {
				t.Fatalf("expected %q, got %q", tc.message, couponErr.Message)
			}
		})
	}
}

func TestCouponEvaluatorBlankCodeSkipsLookup(t *testing.T) {
	source := &stubCouponSource{}
	_, err := newTestEvaluator(t, source, time.Now()).Apply(context.Background(), 1, "   ", dec("10"))
	var couponErr *CouponError
	if !errors.As(err, &couponErr) || couponErr.Kind != CouponNotFound {
		t.Fatalf("expected not-found, got %v", err)
	}
	if source.calls != 0 {
		t.Fatalf("expected no remote lookup, got %d", source.calls)
	}
}

func TestCouponEvaluatorFullDiscountNeverNegative(t *testing.T) {
	source := &stubCouponSource{couponFunc: func(context.Context, int64, string) (domain.Coupon, error) {
		return domain.Coupon{Code: "FREE", DiscountPercent: dec("150")}, nil
	}}
	adj, err := newTestEvaluator(t, source, time.Now()).Apply(context.Background(), 1, "FREE", dec("80"))
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !adj.NewTotal.IsZero() || !adj.Amount.Equal(dec("80")) {
		t.Fatalf("expected full discount clamped at zero, got %+v", adj)
	}
}
