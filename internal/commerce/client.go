package commerce

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/googleapis/gax-go/v2"
	"github.com/shopspring/decimal"

	"github.com/wizesale/storefront/internal/domain"
)

const (
	defaultTimeout     = 8 * time.Second
	defaultMaxAttempts = 3
	maxErrorBody       = 4 << 10
)

var (
	// ErrStoreNotFound is returned when no store matches the requested subdomain.
	ErrStoreNotFound = errors.New("commerce: store not found")
	// ErrProductNotFound is returned when the product lookup yields nothing.
	ErrProductNotFound = errors.New("commerce: product not found")
)

// APIError is a non-2xx answer from the commerce API. Message carries the
// server's "error" field verbatim when present.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("commerce: status %d: %s", e.Status, e.Message)
}

// Client talks to the remote commerce API. With an empty base URL it serves
// the deterministic fake catalog from fake.go.
type Client struct {
	baseURL     string
	http        *http.Client
	maxAttempts int
	backoff     func() gax.Backoff
	fake        *fakeBackend
}

// Option customises Client construction.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.http.Timeout = timeout
		}
	}
}

// WithMaxAttempts bounds GET attempts. POSTs are always sent once.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithBackoff overrides the retry pause schedule, mostly for tests.
func WithBackoff(initial, max time.Duration) Option {
	return func(c *Client) {
		c.backoff = func() gax.Backoff {
			return gax.Backoff{Initial: initial, Max: max, Multiplier: 2}
		}
	}
}

// NewClient constructs an API client. When baseURL is empty, the client serves fake data.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:        &http.Client{Timeout: defaultTimeout},
		maxAttempts: defaultMaxAttempts,
		backoff: func() gax.Backoff {
			return gax.Backoff{Initial: 150 * time.Millisecond, Max: 2 * time.Second, Multiplier: 2}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.baseURL == "" {
		c.fake = newFakeBackend()
	}
	return c
}

// IsFake reports whether the client serves the built-in catalog.
func (c *Client) IsFake() bool { return c.fake != nil }

// ResolveStoreID maps a subdomain or custom domain to its store id.
func (c *Client) ResolveStoreID(ctx context.Context, subOrDomain string) (int64, error) {
	subOrDomain = strings.ToLower(strings.TrimSpace(subOrDomain))
	if subOrDomain == "" {
		return 0, ErrStoreNotFound
	}
	if c.fake != nil {
		return c.fake.resolve(subOrDomain)
	}
	var payload struct {
		Store *struct {
			ID json.Number `json:"id"`
		} `json:"store"`
	}
	query := url.Values{"subOrDomain": {subOrDomain}}
	if err := c.getJSON(ctx, "store", query, 0, &payload); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return 0, ErrStoreNotFound
		}
		return 0, err
	}
	if payload.Store == nil {
		return 0, ErrStoreNotFound
	}
	id, err := payload.Store.ID.Int64()
	if err != nil || id <= 0 {
		return 0, ErrStoreNotFound
	}
	return id, nil
}

// Store fetches the full store record.
func (c *Client) Store(ctx context.Context, storeID int64) (domain.StoreContext, error) {
	if c.fake != nil {
		return c.fake.store(storeID)
	}
	var payload struct {
		Store *domain.StoreContext `json:"store"`
	}
	if err := c.getJSON(ctx, "store", nil, storeID, &payload); err != nil {
		return domain.StoreContext{}, err
	}
	if payload.Store == nil {
		return domain.StoreContext{}, ErrStoreNotFound
	}
	store := *payload.Store
	if store.ID == 0 {
		store.ID = storeID
	}
	return store, nil
}

// Products lists the store catalog.
func (c *Client) Products(ctx context.Context, storeID int64) ([]domain.Product, error) {
	if c.fake != nil {
		return c.fake.products(storeID), nil
	}
	var payload struct {
		Products []domain.Product `json:"products"`
	}
	if err := c.getJSON(ctx, "products", nil, storeID, &payload); err != nil {
		return nil, err
	}
	return payload.Products, nil
}

// Product fetches one product.
func (c *Client) Product(ctx context.Context, storeID int64, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, ErrProductNotFound
	}
	if c.fake != nil {
		return c.fake.product(storeID, productID)
	}
	var payload struct {
		Product *domain.Product `json:"product"`
	}
	if err := c.getJSON(ctx, "product/"+url.PathEscape(productID), nil, storeID, &payload); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return domain.Product{}, ErrProductNotFound
		}
		return domain.Product{}, err
	}
	if payload.Product == nil {
		return domain.Product{}, ErrProductNotFound
	}
	return *payload.Product, nil
}

// Categories lists the store's product categories.
func (c *Client) Categories(ctx context.Context, storeID int64) ([]domain.Category, error) {
	if c.fake != nil {
		return c.fake.categories(storeID), nil
	}
	var payload struct {
		Categories []domain.Category `json:"categories"`
	}
	if err := c.getJSON(ctx, "categories", nil, storeID, &payload); err != nil {
		return nil, err
	}
	return payload.Categories, nil
}

// Coupon looks up a coupon definition by code.
func (c *Client) Coupon(ctx context.Context, storeID int64, code string) (domain.Coupon, error) {
	if c.fake != nil {
		return c.fake.coupon(storeID, code)
	}
	body := map[string]any{"name": code, "storeId": storeID}
	var payload struct {
		Coupon *couponPayload `json:"coupon"`
	}
	if err := c.postJSON(ctx, "coupon", body, &payload); err != nil {
		return domain.Coupon{}, err
	}
	if payload.Coupon == nil {
		return domain.Coupon{}, &APIError{Status: http.StatusNotFound}
	}
	return payload.Coupon.toCoupon(code), nil
}

// PaymentRequest is the order intent posted to /payments.
type PaymentRequest struct {
	Price         decimal.Decimal
	PaymentMethod string
	StoreID       int64
	Email         string
	Items         []domain.LineItem
}

// CreatePayment submits the order intent exactly once.
func (c *Client) CreatePayment(ctx context.Context, req PaymentRequest) (domain.PaymentHandoff, error) {
	if c.fake != nil {
		return c.fake.payment(req)
	}
	var payload paymentPayload
	if err := c.postJSON(ctx, "payments", req.wire(), &payload); err != nil {
		return domain.PaymentHandoff{}, err
	}
	return payload.toHandoff(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, storeID int64, out any) error {
	endpoint, err := c.endpoint(path, query)
	if err != nil {
		return err
	}
	backoff := c.backoff()
	for attempt := 1; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")
		if storeID > 0 {
			req.AddCookie(&http.Cookie{Name: "storeId", Value: strconv.FormatInt(storeID, 10)})
		}

		err = c.do(req, out)
		if err == nil || attempt >= c.maxAttempts || !retryable(ctx, err) {
			return err
		}
		if sleepErr := gax.Sleep(ctx, backoff.Pause()); sleepErr != nil {
			return err
		}
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body any, out any) error {
	endpoint, err := c.endpoint(path, nil)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return decodeAPIError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("commerce: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

func (c *Client) endpoint(path string, query url.Values) (string, error) {
	endpoint, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return "", err
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	return endpoint, nil
}

// retryable covers transport failures and 5xx answers. Caller cancellation is final.
func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status >= 500
	}
	return true
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	message := ""
	if json.Unmarshal(raw, &body) == nil {
		message = defaultString(body.Error, body.Message)
	}
	return &APIError{Status: resp.StatusCode, Message: message}
}

type couponPayload struct {
	Name      string              `json:"name"`
	MaxUses   *int                `json:"maxUses"`
	Uses      int                 `json:"uses"`
	MinPrice  decimal.NullDecimal `json:"minPrice"`
	ExpiresAt string              `json:"expiresAt"`
	Discount  decimal.Decimal     `json:"discount"`
}

func (p couponPayload) toCoupon(code string) domain.Coupon {
	coupon := domain.Coupon{
		Code:            defaultString(p.Name, code),
		DiscountPercent: p.Discount,
		MinPrice:        p.MinPrice,
		MaxUses:         p.MaxUses,
		UsesSoFar:       p.Uses,
	}
	if ts := parseTime(p.ExpiresAt); !ts.IsZero() {
		coupon.ExpiresAt = &ts
	}
	return coupon
}

type paymentPayload struct {
	CheckoutURL  *string `json:"checkoutUrl"`
	QRCode       *string `json:"qrCode"`
	QRCodeBase64 *string `json:"qrCodeBase64"`
}

func (p paymentPayload) toHandoff() domain.PaymentHandoff {
	deref := func(v *string) string {
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	}
	return domain.PaymentHandoff{
		CheckoutURL:  deref(p.CheckoutURL),
		QRCode:       deref(p.QRCode),
		QRCodeBase64: deref(p.QRCodeBase64),
	}
}

// wireItem mirrors the cart item the payments endpoint expects: prices are JSON
// numbers and numeric ids stay numeric.
type wireItem struct {
	ID          any      `json:"id"`
	Name        string   `json:"name"`
	Price       float64  `json:"price"`
	Comparation *float64 `json:"comparation"`
	Image       string   `json:"image,omitempty"`
	Quantity    int      `json:"quantity"`
}

type wirePayment struct {
	Price         float64    `json:"price"`
	PaymentMethod string     `json:"paymentMethod"`
	StoreID       int64      `json:"storeId"`
	Email         string     `json:"email"`
	Items         []wireItem `json:"items"`
}

func (r PaymentRequest) wire() wirePayment {
	items := make([]wireItem, 0, len(r.Items))
	for _, item := range r.Items {
		w := wireItem{
			ID:       wireID(item.ID),
			Name:     item.Name,
			Price:    item.UnitPrice.InexactFloat64(),
			Image:    item.ImageRef,
			Quantity: item.Quantity,
		}
		if item.ComparisonPrice.Valid {
			v := item.ComparisonPrice.Decimal.InexactFloat64()
			w.Comparation = &v
		}
		items = append(items, w)
	}
	return wirePayment{
		Price:         r.Price.InexactFloat64(),
		PaymentMethod: r.PaymentMethod,
		StoreID:       r.StoreID,
		Email:         r.Email,
		Items:         items,
	}
}

func wireID(id domain.ID) any {
	if _, err := strconv.ParseInt(id.String(), 10, 64); err == nil {
		return json.Number(id.String())
	}
	return id.String()
}

func defaultString(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return strings.TrimSpace(fallback)
	}
	return strings.TrimSpace(val)
}

func parseTime(val string) time.Time {
	val = strings.TrimSpace(val)
	if val == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, val); err == nil {
			return ts
		}
	}
	return time.Time{}
}
