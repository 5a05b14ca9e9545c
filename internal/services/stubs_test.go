package services

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/repositories"
	"github.com/wizesale/storefront/internal/repositories/memory"
)

type stubSnapshotStore struct {
	loadFunc   func(ctx context.Context, key string) ([]byte, error)
	saveFunc   func(ctx context.Context, key string, data []byte, ttl time.Duration) error
	deleteFunc func(ctx context.Context, key string) error
}

func (s *stubSnapshotStore) Load(ctx context.Context, key string) ([]byte, error) {
	if s.loadFunc != nil {
		return s.loadFunc(ctx, key)
	}
	return nil, repositories.NewNotFoundError("load", key)
}

func (s *stubSnapshotStore) Save(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	if s.saveFunc != nil {
		return s.saveFunc(ctx, key, data, ttl)
	}
	return nil
}

func (s *stubSnapshotStore) Delete(ctx context.Context, key string) error {
	if s.deleteFunc != nil {
		return s.deleteFunc(ctx, key)
	}
	return nil
}

type stubCouponSource struct {
	couponFunc func(ctx context.Context, storeID int64, code string) (domain.Coupon, error)
	calls      int
}

func (s *stubCouponSource) Coupon(ctx context.Context, storeID int64, code string) (domain.Coupon, error) {
	s.calls++
	if s.couponFunc != nil {
		return s.couponFunc(ctx, storeID, code)
	}
	return domain.Coupon{}, &commerce.APIError{Status: 404}
}

type stubPaymentGateway struct {
	mu       sync.Mutex
	requests []commerce.PaymentRequest
	payFunc  func(ctx context.Context, req commerce.PaymentRequest) (domain.PaymentHandoff, error)
}

func (s *stubPaymentGateway) CreatePayment(ctx context.Context, req commerce.PaymentRequest) (domain.PaymentHandoff, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.payFunc != nil {
		return s.payFunc(ctx, req)
	}
	return domain.PaymentHandoff{CheckoutURL: "https://pay.example/session"}, nil
}

func (s *stubPaymentGateway) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []CheckoutEvent
	err    error
}

func (p *recordingPublisher) PublishCheckoutEvent(_ context.Context, event CheckoutEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

func fixedClock(ts time.Time) func() time.Time {
	return func() time.Time { return ts }
}

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func lineItem(id, price string) domain.LineItem {
	return domain.LineItem{ID: domain.ID(id), Name: "Produto " + id, UnitPrice: dec(price), Quantity: 1}
}

func newTestCart(t interface{ Fatalf(string, ...any) }, store repositories.SnapshotStore) *CartStore {
	if store == nil {
		store = memory.NewSnapshotStore(time.Now)
	}
	cart, err := NewCartStore(CartStoreDeps{Snapshots: store, Key: repositories.CartKey(1, "sess")})
	if err != nil {
		t.Fatalf("new cart store: %v", err)
	}
	return cart
}
