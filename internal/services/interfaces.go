package services

import (
	"context"
	"time"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart             = domain.Cart
	LineItem         = domain.LineItem
	FavoriteRef      = domain.FavoriteRef
	Coupon           = domain.Coupon
	CouponAdjustment = domain.CouponAdjustment
	CheckoutIntent   = domain.CheckoutIntent
	PaymentHandoff   = domain.PaymentHandoff
	PaymentMethod    = domain.PaymentMethod
	StoreContext     = domain.StoreContext
	Product          = domain.Product
	Category         = domain.Category
)

// StoreDirectory resolves tenants and reads their store records.
type StoreDirectory interface {
	ResolveStoreID(ctx context.Context, subOrDomain string) (int64, error)
	Store(ctx context.Context, storeID int64) (domain.StoreContext, error)
}

// CatalogSource reads a store's products and categories.
type CatalogSource interface {
	Products(ctx context.Context, storeID int64) ([]domain.Product, error)
	Product(ctx context.Context, storeID int64, productID string) (domain.Product, error)
	Categories(ctx context.Context, storeID int64) ([]domain.Category, error)
}

// CouponSource fetches coupon definitions.
type CouponSource interface {
	Coupon(ctx context.Context, storeID int64, code string) (domain.Coupon, error)
}

// PaymentGateway creates the payment handoff for an order intent.
type PaymentGateway interface {
	CreatePayment(ctx context.Context, req commerce.PaymentRequest) (domain.PaymentHandoff, error)
}

// CommerceAPI is everything the storefront consumes from the remote commerce API.
type CommerceAPI interface {
	StoreDirectory
	CatalogSource
	CouponSource
	PaymentGateway
}

// Checkout lifecycle event types.
const (
	CheckoutEventSubmitted       = "checkout.submitted"
	CheckoutEventRedirected      = "checkout.redirected"
	CheckoutEventAwaitingPayment = "checkout.awaiting_payment"
	CheckoutEventFailed          = "checkout.failed"
)

// CheckoutEvent is published for every payment attempt.
type CheckoutEvent struct {
	Type          string    `json:"type"`
	AttemptID     string    `json:"attemptId"`
	StoreID       int64     `json:"storeId"`
	PaymentMethod string    `json:"paymentMethod"`
	TotalToPay    string    `json:"totalToPay"`
	ItemCount     int       `json:"itemCount"`
	Reason        string    `json:"reason,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// CheckoutEventPublisher delivers checkout events to downstream consumers.
type CheckoutEventPublisher interface {
	PublishCheckoutEvent(ctx context.Context, event CheckoutEvent) error
}

type noopCheckoutPublisher struct{}

func (noopCheckoutPublisher) PublishCheckoutEvent(context.Context, CheckoutEvent) error { return nil }

// NoopCheckoutPublisher discards every event. Used when no topic is configured.
func NoopCheckoutPublisher() CheckoutEventPublisher { return noopCheckoutPublisher{} }

type eventLogger = func(context.Context, string, map[string]any)

func noopLogger(context.Context, string, map[string]any) {}
