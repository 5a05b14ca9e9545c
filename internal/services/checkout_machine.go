package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wizesale/storefront/internal/commerce"
	"github.com/wizesale/storefront/internal/domain"
	"github.com/wizesale/storefront/internal/money"
)

var (
	errCheckoutCartRequired     = errors.New("checkout service: cart is required")
	errCheckoutCouponsRequired  = errors.New("checkout service: coupon evaluator is required")
	errCheckoutPaymentsRequired = errors.New("checkout service: payment gateway is required")
	errCheckoutMethodsRequired  = errors.New("checkout service: payment method catalog is required")
)

// ErrSubmissionInFlight indicates a payment request for this checkout is still running.
var ErrSubmissionInFlight = errors.New("checkout service: submission in flight")

// ErrCheckoutCompleted indicates the shopper was already handed off to the payment provider.
var ErrCheckoutCompleted = errors.New("checkout service: checkout completed")

// ErrCheckoutNotIdle indicates a failed checkout must be acknowledged before resubmitting.
var ErrCheckoutNotIdle = errors.New("checkout service: checkout not idle")

const (
	unknownPaymentErrorMessage = "Erro desconhecido"
	publishTimeout             = 5 * time.Second
	checkoutMeterName          = "github.com/wizesale/storefront/internal/services"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// CheckoutState is the machine's lifecycle position.
type CheckoutState string

const (
	CheckoutIdle        CheckoutState = "idle"
	CheckoutValidating  CheckoutState = "validating"
	CheckoutSubmitting  CheckoutState = "submitting"
	CheckoutRedirecting CheckoutState = "redirecting"
	CheckoutFailed      CheckoutState = "failed"
)

// Checkout fields reported by ValidationError.
const (
	FieldPaymentMethod  = "paymentMethod"
	FieldDeliveryMethod = "deliveryMethod"
	FieldEmail          = "email"
	FieldTerms          = "termsAccepted"
	FieldCart           = "cart"
	FieldCoupon         = "coupon"
)

// ValidationError is a missing or invalid checkout field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return "checkout service: invalid " + e.Field + ": " + e.Message
}

// CheckoutView is the read model of one checkout, amounts included.
type CheckoutView struct {
	State         CheckoutState          `json:"state"`
	FailureReason string                 `json:"failureReason,omitempty"`
	Intent        domain.CheckoutIntent  `json:"intent"`
	CartTotal     decimal.Decimal        `json:"cartTotal"`
	Discount      decimal.Decimal        `json:"discount"`
	TotalToPay    decimal.Decimal        `json:"totalToPay"`
	CouponStale   bool                   `json:"couponStale"`
	Formatted     FormattedAmounts       `json:"formatted"`
	Handoff       *domain.PaymentHandoff `json:"handoff,omitempty"`
	AttemptID     string                 `json:"attemptId,omitempty"`
}

// FormattedAmounts carries display strings such as "R$ 180,00".
type FormattedAmounts struct {
	CartTotal  string `json:"cartTotal"`
	Discount   string `json:"discount"`
	TotalToPay string `json:"totalToPay"`
}

// CheckoutMachineDeps wires one session's checkout.
type CheckoutMachineDeps struct {
	StoreID     int64
	Cart        *CartStore
	Coupons     *CouponEvaluator
	Payments    PaymentGateway
	Methods     *PaymentMethodCatalog
	Events      CheckoutEventPublisher
	Meter       metric.Meter
	Clock       func() time.Time
	Logger      func(context.Context, string, map[string]any)
	IDGenerator func() string
}

// CheckoutMachine drives payment and delivery selection up to the payment handoff.
type CheckoutMachine struct {
	storeID  int64
	cart     *CartStore
	coupons  *CouponEvaluator
	payments PaymentGateway
	methods  *PaymentMethodCatalog
	events   CheckoutEventPublisher
	newID    func() string
	now      func() time.Time
	logger   eventLogger
	attempts metric.Int64Counter

	mu        sync.Mutex
	state     CheckoutState
	reason    string
	intent    domain.CheckoutIntent
	handoff   *domain.PaymentHandoff
	attemptID string
}

// NewCheckoutMachine constructs an idle checkout.
func NewCheckoutMachine(deps CheckoutMachineDeps) (*CheckoutMachine, error) {
	if deps.Cart == nil {
		return nil, errCheckoutCartRequired
	}
	if deps.Coupons == nil {
		return nil, errCheckoutCouponsRequired
	}
	if deps.Payments == nil {
		return nil, errCheckoutPaymentsRequired
	}
	if deps.Methods == nil {
		return nil, errCheckoutMethodsRequired
	}

	events := deps.Events
	if events == nil {
		events = NoopCheckoutPublisher()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	meter := deps.Meter
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(checkoutMeterName)
	}
	attempts, err := meter.Int64Counter(
		"checkout.submissions",
		metric.WithDescription("Checkout submissions by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return &CheckoutMachine{
		storeID:  deps.StoreID,
		cart:     deps.Cart,
		coupons:  deps.Coupons,
		payments: deps.Payments,
		methods:  deps.Methods,
		events:   events,
		newID:    idGen,
		now:      func() time.Time { return clock().UTC() },
		logger:   logger,
		attempts: attempts,
		state:    CheckoutIdle,
		intent:   newIntent(),
	}, nil
}

func newIntent() domain.CheckoutIntent {
	return domain.CheckoutIntent{DeliveryMethod: domain.DeliveryMethodEmail}
}

// SelectPaymentMethod records the payment option. It must be enabled in the catalog.
func (m *CheckoutMachine) SelectPaymentMethod(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setupAllowedLocked(); err != nil {
		return err
	}
	id = strings.ToLower(strings.TrimSpace(id))
	if !m.methods.Enabled(id) {
		return &ValidationError{Field: FieldPaymentMethod, Message: "Por favor, selecione uma metodo de pagamento."}
	}
	m.intent.PaymentMethod = id
	return nil
}

// SelectDeliveryMethod records the delivery channel. Only e-mail delivery exists.
func (m *CheckoutMachine) SelectDeliveryMethod(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setupAllowedLocked(); err != nil {
		return err
	}
	if strings.ToLower(strings.TrimSpace(method)) != domain.DeliveryMethodEmail {
		return &ValidationError{Field: FieldDeliveryMethod, Message: "Método de entrega indisponível."}
	}
	m.intent.DeliveryMethod = domain.DeliveryMethodEmail
	return nil
}

// SetDeliveryContact records the e-mail the purchase is delivered to. It is
// validated on submit.
func (m *CheckoutMachine) SetDeliveryContact(email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setupAllowedLocked(); err != nil {
		return err
	}
	m.intent.DeliveryContact = strings.TrimSpace(email)
	return nil
}

// SetTermsAccepted records the terms checkbox.
func (m *CheckoutMachine) SetTermsAccepted(accepted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setupAllowedLocked(); err != nil {
		return err
	}
	m.intent.TermsAccepted = accepted
	return nil
}

// ApplyCoupon evaluates code against the current cart total. On failure the
// previous adjustment, if any, is kept.
func (m *CheckoutMachine) ApplyCoupon(ctx context.Context, code string) (domain.CouponAdjustment, error) {
	m.mu.Lock()
	if err := m.setupAllowedLocked(); err != nil {
		m.mu.Unlock()
		return domain.CouponAdjustment{}, err
	}
	m.mu.Unlock()

	adjustment, err := m.coupons.Apply(ctx, m.storeID, code, m.cart.Total())
	if err != nil {
		return domain.CouponAdjustment{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A submission may have started while the coupon was being fetched.
	if err := m.setupAllowedLocked(); err != nil {
		return domain.CouponAdjustment{}, err
	}
	m.intent.CouponAdjustment = &adjustment
	return adjustment, nil
}

// RemoveCoupon drops the applied coupon.
func (m *CheckoutMachine) RemoveCoupon() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.setupAllowedLocked(); err != nil {
		return err
	}
	m.intent.CouponAdjustment = nil
	return nil
}

// Acknowledge returns a failed checkout to idle. It is a no-op in other
// resting states.
func (m *CheckoutMachine) Acknowledge() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case CheckoutSubmitting:
		return ErrSubmissionInFlight
	case CheckoutFailed:
		m.state = CheckoutIdle
		m.reason = ""
	}
	return nil
}

// Reset discards the intent and the last handoff and returns to idle.
func (m *CheckoutMachine) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == CheckoutSubmitting {
		return ErrSubmissionInFlight
	}
	m.state = CheckoutIdle
	m.reason = ""
	m.intent = newIntent()
	m.handoff = nil
	m.attemptID = ""
	return nil
}

// State returns the current lifecycle position.
func (m *CheckoutMachine) State() CheckoutState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// View returns the checkout read model.
func (m *CheckoutMachine) View() CheckoutView {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewLocked()
}

// Submit validates the intent and posts exactly one payment request. A
// payment failure is reported through the returned view's state, not as an error.
func (m *CheckoutMachine) Submit(ctx context.Context) (CheckoutView, error) {
	m.mu.Lock()
	switch m.state {
	case CheckoutSubmitting:
		m.mu.Unlock()
		return CheckoutView{}, ErrSubmissionInFlight
	case CheckoutRedirecting:
		m.mu.Unlock()
		return CheckoutView{}, ErrCheckoutCompleted
	case CheckoutFailed:
		m.mu.Unlock()
		return CheckoutView{}, ErrCheckoutNotIdle
	}

	m.state = CheckoutValidating
	cart := m.cart.Snapshot()
	if verr := m.validateLocked(cart); verr != nil {
		m.state = CheckoutIdle
		view := m.viewLocked()
		m.mu.Unlock()
		return view, verr
	}

	pricing := m.priceLocked(cart)
	m.intent.TotalToPay = pricing.totalToPay
	m.attemptID = m.newID()
	m.state = CheckoutSubmitting
	req := commerce.PaymentRequest{
		Price:         pricing.totalToPay,
		PaymentMethod: m.intent.PaymentMethod,
		StoreID:       m.storeID,
		Email:         m.intent.DeliveryContact,
		Items:         cart.Items,
	}
	event := CheckoutEvent{
		AttemptID:     m.attemptID,
		StoreID:       m.storeID,
		PaymentMethod: req.PaymentMethod,
		TotalToPay:    pricing.totalToPay.StringFixed(2),
		ItemCount:     cart.TotalItems(),
	}
	m.mu.Unlock()

	// The payment round-trip must not be abandoned when the caller goes away.
	callCtx := context.WithoutCancel(ctx)
	m.publish(callCtx, event, CheckoutEventSubmitted, "")

	handoff, err := m.payments.CreatePayment(callCtx, req)

	m.mu.Lock()
	outcome := CheckoutEventAwaitingPayment
	reason := ""
	switch {
	case err != nil:
		reason = paymentFailureMessage(err)
		m.state = CheckoutFailed
		m.reason = reason
		outcome = CheckoutEventFailed
		m.logger(ctx, "checkout.payment_failed", map[string]any{
			"attemptId": event.AttemptID,
			"storeId":   m.storeID,
			"error":     err.Error(),
		})
	case handoff.HasRedirect():
		m.state = CheckoutRedirecting
		m.handoff = &handoff
		outcome = CheckoutEventRedirected
		if clearErr := m.cart.Clear(callCtx); clearErr != nil {
			m.logger(ctx, "checkout.cart_clear_failed", map[string]any{"attemptId": event.AttemptID, "error": clearErr.Error()})
		}
	default:
		m.state = CheckoutIdle
		m.handoff = &handoff
	}
	view := m.viewLocked()
	m.mu.Unlock()

	m.attempts.Add(callCtx, 1, metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("payment_method", req.PaymentMethod),
	))
	m.publish(callCtx, event, outcome, reason)
	return view, nil
}

func (m *CheckoutMachine) setupAllowedLocked() error {
	switch m.state {
	case CheckoutSubmitting, CheckoutValidating:
		return ErrSubmissionInFlight
	case CheckoutRedirecting:
		return ErrCheckoutCompleted
	}
	return nil
}

func (m *CheckoutMachine) validateLocked(cart domain.Cart) *ValidationError {
	if m.intent.PaymentMethod == "" || !m.methods.Enabled(m.intent.PaymentMethod) {
		return &ValidationError{Field: FieldPaymentMethod, Message: "Por favor, selecione uma metodo de pagamento."}
	}
	if !m.intent.TermsAccepted {
		return &ValidationError{Field: FieldTerms, Message: "Por favor, aceite os termos para continuar."}
	}
	if !emailPattern.MatchString(m.intent.DeliveryContact) {
		return &ValidationError{Field: FieldEmail, Message: "Por favor, forneça um e-mail válido."}
	}
	if cart.IsEmpty() {
		return &ValidationError{Field: FieldCart, Message: "Seu carrinho está vazio."}
	}
	if adj := m.intent.CouponAdjustment; adj != nil && !adj.BaseTotal.Equal(cart.Total()) {
		m.intent.CouponAdjustment = nil
		return &ValidationError{Field: FieldCoupon, Message: "O total do carrinho mudou; aplique o cupom novamente."}
	}
	return nil
}

type checkoutPricing struct {
	cartTotal  decimal.Decimal
	discount   decimal.Decimal
	totalToPay decimal.Decimal
	stale      bool
}

func (m *CheckoutMachine) priceLocked(cart domain.Cart) checkoutPricing {
	pricing := checkoutPricing{cartTotal: cart.Total(), discount: decimal.Zero}
	if adj := m.intent.CouponAdjustment; adj != nil {
		if adj.BaseTotal.Equal(pricing.cartTotal) {
			pricing.discount = adj.Amount
		} else {
			pricing.stale = true
		}
	}
	pricing.totalToPay = money.NonNegative(pricing.cartTotal.Sub(pricing.discount))
	return pricing
}

func (m *CheckoutMachine) viewLocked() CheckoutView {
	pricing := m.priceLocked(m.cart.Snapshot())

	intent := m.intent
	if intent.CouponAdjustment != nil {
		adj := *intent.CouponAdjustment
		intent.CouponAdjustment = &adj
	}
	// The recorded total is frozen once a submission starts.
	if m.state != CheckoutSubmitting && m.state != CheckoutRedirecting {
		intent.TotalToPay = pricing.totalToPay
	}

	view := CheckoutView{
		State:         m.state,
		FailureReason: m.reason,
		Intent:        intent,
		CartTotal:     pricing.cartTotal,
		Discount:      pricing.discount,
		TotalToPay:    intent.TotalToPay,
		CouponStale:   pricing.stale,
		AttemptID:     m.attemptID,
		Formatted: FormattedAmounts{
			CartTotal:  money.FormatBRL(pricing.cartTotal),
			Discount:   money.FormatBRL(pricing.discount),
			TotalToPay: money.FormatBRL(intent.TotalToPay),
		},
	}
	if m.handoff != nil {
		handoff := *m.handoff
		view.Handoff = &handoff
	}
	return view
}

func (m *CheckoutMachine) publish(ctx context.Context, event CheckoutEvent, eventType, reason string) {
	event.Type = eventType
	event.Reason = reason
	event.OccurredAt = m.now()

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := m.events.PublishCheckoutEvent(pubCtx, event); err != nil {
		m.logger(ctx, "checkout.event_publish_failed", map[string]any{
			"attemptId": event.AttemptID,
			"type":      eventType,
			"error":     err.Error(),
		})
	}
}

func paymentFailureMessage(err error) string {
	var apiErr *commerce.APIError
	if errors.As(err, &apiErr) && strings.TrimSpace(apiErr.Message) != "" {
		return apiErr.Message
	}
	return unknownPaymentErrorMessage
}
