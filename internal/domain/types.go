package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// LineItem is one product entry in a cart. Quantity is always at least one.
type LineItem struct {
	ID              ID                  `json:"id"`
	Name            string              `json:"name"`
	UnitPrice       decimal.Decimal     `json:"price"`
	ComparisonPrice decimal.NullDecimal `json:"comparation"`
	ImageRef        string              `json:"image,omitempty"`
	Quantity        int                 `json:"quantity"`
}

// Subtotal returns unit price multiplied by quantity.
func (i LineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the ordered cart aggregate for one session scope.
type Cart struct {
	Items     []LineItem `json:"items"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Total sums unit price times quantity across all lines.
func (c Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// TotalItems counts units across all lines.
func (c Cart) TotalItems() int {
	count := 0
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// IsEmpty reports whether the cart has no lines.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// FavoriteRef is the reduced product projection kept in the favorites list.
type FavoriteRef struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	ImageRef string `json:"image"`
}

// Coupon is the remote coupon definition for one store.
type Coupon struct {
	Code            string
	DiscountPercent decimal.Decimal
	MinPrice        decimal.NullDecimal
	MaxUses         *int
	UsesSoFar       int
	ExpiresAt       *time.Time
}

// CouponAdjustment captures a successful coupon evaluation against a cart total.
type CouponAdjustment struct {
	Code            string          `json:"code"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Amount          decimal.Decimal `json:"amount"`
	BaseTotal       decimal.Decimal `json:"baseTotal"`
	NewTotal        decimal.Decimal `json:"newTotal"`
	AppliedAt       time.Time       `json:"appliedAt"`
}

// DeliveryMethodEmail is the only delivery channel: digital goods sent by e-mail.
const DeliveryMethodEmail = "email"

// CheckoutIntent is the in-progress record of the shopper's checkout selections.
type CheckoutIntent struct {
	PaymentMethod    string            `json:"paymentMethod,omitempty"`
	DeliveryMethod   string            `json:"deliveryMethod,omitempty"`
	DeliveryContact  string            `json:"email,omitempty"`
	TermsAccepted    bool              `json:"termsAccepted"`
	CouponAdjustment *CouponAdjustment `json:"coupon,omitempty"`
	TotalToPay       decimal.Decimal   `json:"totalToPay"`
}

// PaymentHandoff is the payment endpoint response handed back to the shopper.
type PaymentHandoff struct {
	CheckoutURL  string `json:"checkoutUrl,omitempty"`
	QRCode       string `json:"qrCode,omitempty"`
	QRCodeBase64 string `json:"qrCodeBase64,omitempty"`
}

// HasRedirect reports whether the handoff carries a hosted checkout URL.
func (h PaymentHandoff) HasRedirect() bool {
	return h.CheckoutURL != ""
}

// AnnouncementCard is the optional banner shown on top of store pages.
type AnnouncementCard struct {
	Activated bool   `json:"activated"`
	Text      string `json:"text"`
}

// StoreContext is the resolved tenant record.
type StoreContext struct {
	ID              int64             `json:"id"`
	Title           string            `json:"title"`
	Logo            string            `json:"logo,omitempty"`
	Description     string            `json:"description,omitempty"`
	Banner          string            `json:"banner,omitempty"`
	BackgroundImage string            `json:"backgroundImage,omitempty"`
	Terms           string            `json:"terms,omitempty"`
	AnnounCard      *AnnouncementCard `json:"announCard,omitempty"`
	Image           string            `json:"image,omitempty"`
	FavIcon         string            `json:"favIcon,omitempty"`
}

// Product is a catalog entry proxied from the commerce API.
type Product struct {
	ID          ID                  `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Price       decimal.Decimal     `json:"price"`
	Comparation decimal.NullDecimal `json:"comparation"`
	Images      []string            `json:"images"`
	Category    string              `json:"category,omitempty"`
	Visibility  string              `json:"visibility"`
	HideSales   bool                `json:"hideSales"`
	HideReviews bool                `json:"hideReviews"`
	Sales       int                 `json:"sales"`
}

// IsPublic reports whether the product is listed. The platform stores the
// visibility label in either English or Portuguese.
func (p Product) IsPublic() bool {
	switch p.Visibility {
	case "public", "Publico":
		return true
	}
	return false
}

// FirstImage returns the cover image or an empty string.
func (p Product) FirstImage() string {
	if len(p.Images) == 0 {
		return ""
	}
	return p.Images[0]
}

// AsLineItem projects the product onto a single-unit cart line.
func (p Product) AsLineItem() LineItem {
	return LineItem{
		ID:              p.ID,
		Name:            p.Name,
		UnitPrice:       p.Price,
		ComparisonPrice: p.Comparation,
		ImageRef:        p.FirstImage(),
		Quantity:        1,
	}
}

// AsFavorite projects the product onto a favorites entry.
func (p Product) AsFavorite() FavoriteRef {
	return FavoriteRef{ID: p.ID, Name: p.Name, ImageRef: p.FirstImage()}
}

// Category groups products in the storefront navigation.
type Category struct {
	ID   ID     `json:"id"`
	Name string `json:"name"`
}

// PaymentMethod describes a selectable payment option.
type PaymentMethod struct {
	ID          string `json:"id" yaml:"id"`
	Label       string `json:"label" yaml:"label"`
	Description string `json:"description,omitempty" yaml:"description"`
	Enabled     bool   `json:"enabled" yaml:"enabled"`
}
