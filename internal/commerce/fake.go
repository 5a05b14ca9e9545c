package commerce

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/wizesale/storefront/internal/domain"
)

const fakeStoreID int64 = 1

// fakeBackend is the local development catalog: one store reachable as "demo"
// (and "localhost") with a handful of digital products and coupons covering
// every coupon rule.
type fakeBackend struct {
	storeRecord domain.StoreContext
	catalog     []domain.Product
	cats        []domain.Category
	coupons     map[string]domain.Coupon
}

func newFakeBackend() *fakeBackend {
	maxUses := 5
	expired := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &fakeBackend{
		storeRecord: domain.StoreContext{
			ID:          fakeStoreID,
			Title:       "Loja Demo",
			Description: "Produtos digitais entregues por e-mail.",
			Terms:       "## Termos de uso\n\nOs produtos são entregues **por e-mail** após a confirmação do pagamento.",
			AnnounCard:  &domain.AnnouncementCard{Activated: true, Text: "Entrega imediata em todos os produtos"},
		},
		catalog: []domain.Product{
			fakeProduct("101", "Curso de Go", "199.90", "249.90", "Cursos"),
			fakeProduct("102", "E-book Concorrência", "49.90", "", "E-books"),
			fakeProduct("103", "Pacote de Ícones", "100", "100", "Design"),
			{ID: "104", Name: "Rascunho", Price: decimal.RequireFromString("10"), Visibility: "private", Category: "Design"},
		},
		cats: []domain.Category{
			{ID: "1", Name: "Cursos"},
			{ID: "2", Name: "E-books"},
			{ID: "3", Name: "Design"},
		},
		coupons: map[string]domain.Coupon{
			"DESCONTO10": {Code: "DESCONTO10", DiscountPercent: decimal.NewFromInt(10)},
			"ESGOTADO":   {Code: "ESGOTADO", DiscountPercent: decimal.NewFromInt(20), MaxUses: &maxUses, UsesSoFar: 5},
			"EXPIRADO":   {Code: "EXPIRADO", DiscountPercent: decimal.NewFromInt(15), ExpiresAt: &expired},
			"MINIMO300": {Code: "MINIMO300", DiscountPercent: decimal.NewFromInt(30),
				MinPrice: decimal.NewNullDecimal(decimal.NewFromInt(300))},
		},
	}
}

func fakeProduct(id, name, price, comparation, category string) domain.Product {
	p := domain.Product{
		ID:          domain.ID(id),
		Name:        name,
		Description: name + " com acesso vitalício.",
		Price:       decimal.RequireFromString(price),
		Images:      []string{fmt.Sprintf("https://cdn.wizesale.test/products/%s.png", id)},
		Category:    category,
		Visibility:  "Publico",
		Sales:       12,
	}
	if comparation != "" {
		p.Comparation = decimal.NewNullDecimal(decimal.RequireFromString(comparation))
	}
	return p
}

func (f *fakeBackend) resolve(subOrDomain string) (int64, error) {
	switch subOrDomain {
	case "demo", "localhost", "127":
		return fakeStoreID, nil
	}
	return 0, ErrStoreNotFound
}

func (f *fakeBackend) store(storeID int64) (domain.StoreContext, error) {
	if storeID != fakeStoreID {
		return domain.StoreContext{}, ErrStoreNotFound
	}
	return f.storeRecord, nil
}

func (f *fakeBackend) products(storeID int64) []domain.Product {
	if storeID != fakeStoreID {
		return nil
	}
	return append([]domain.Product(nil), f.catalog...)
}

func (f *fakeBackend) product(storeID int64, id string) (domain.Product, error) {
	for _, p := range f.products(storeID) {
		if p.ID.String() == id {
			return p, nil
		}
	}
	return domain.Product{}, ErrProductNotFound
}

func (f *fakeBackend) categories(storeID int64) []domain.Category {
	if storeID != fakeStoreID {
		return nil
	}
	return append([]domain.Category(nil), f.cats...)
}

func (f *fakeBackend) coupon(storeID int64, code string) (domain.Coupon, error) {
	coupon, ok := f.coupons[strings.ToUpper(strings.TrimSpace(code))]
	if storeID != fakeStoreID || !ok {
		return domain.Coupon{}, &APIError{Status: http.StatusNotFound, Message: "Cupom não encontrado."}
	}
	return coupon, nil
}

// payment redirects for hosted providers and answers asaas with a PIX QR code.
func (f *fakeBackend) payment(req PaymentRequest) (domain.PaymentHandoff, error) {
	if req.StoreID != fakeStoreID {
		return domain.PaymentHandoff{}, &APIError{Status: http.StatusNotFound, Message: "Loja não encontrada."}
	}
	if len(req.Items) == 0 {
		return domain.PaymentHandoff{}, &APIError{Status: http.StatusBadRequest, Message: "Nenhum item informado."}
	}
	id := randomID("pay")
	if req.PaymentMethod == "asaas" {
		code := "00020126580014br.gov.bcb.pix0136" + id
		return domain.PaymentHandoff{
			QRCode:       code,
			QRCodeBase64: base64.StdEncoding.EncodeToString([]byte(code)),
		}, nil
	}
	return domain.PaymentHandoff{
		CheckoutURL: fmt.Sprintf("https://checkout.wizesale.test/%s/%s", req.PaymentMethod, id),
	}, nil
}

func randomID(prefix string) string {
	b := make([]byte, 6)
	if _, err := rand.Read(b); err == nil {
		return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
	}
	return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
}
