package services

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wizesale/storefront/internal/domain"
)

//go:embed payment_methods.yaml
var defaultPaymentMethods []byte

// PaymentMethodCatalog lists the payment options offered at checkout, in display order.
type PaymentMethodCatalog struct {
	methods []domain.PaymentMethod
	byID    map[string]domain.PaymentMethod
}

type paymentMethodFile struct {
	Methods []domain.PaymentMethod `yaml:"methods"`
}

// LoadPaymentMethodCatalog reads the catalog from path, or the built-in
// defaults when path is empty.
func LoadPaymentMethodCatalog(path string) (*PaymentMethodCatalog, error) {
	data := defaultPaymentMethods
	if p := strings.TrimSpace(path); p != "" {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("payment methods: read %s: %w", p, err)
		}
		data = raw
	}
	return ParsePaymentMethodCatalog(data)
}

// ParsePaymentMethodCatalog decodes a YAML catalog document.
func ParsePaymentMethodCatalog(data []byte) (*PaymentMethodCatalog, error) {
	var file paymentMethodFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("payment methods: decode: %w", err)
	}
	if len(file.Methods) == 0 {
		return nil, errors.New("payment methods: catalog is empty")
	}

	catalog := &PaymentMethodCatalog{
		methods: make([]domain.PaymentMethod, 0, len(file.Methods)),
		byID:    make(map[string]domain.PaymentMethod, len(file.Methods)),
	}
	for i, method := range file.Methods {
		method.ID = strings.ToLower(strings.TrimSpace(method.ID))
		if method.ID == "" {
			return nil, fmt.Errorf("payment methods: entry %d has no id", i)
		}
		if _, dup := catalog.byID[method.ID]; dup {
			return nil, fmt.Errorf("payment methods: duplicate id %q", method.ID)
		}
		if strings.TrimSpace(method.Label) == "" {
			method.Label = method.ID
		}
		catalog.methods = append(catalog.methods, method)
		catalog.byID[method.ID] = method
	}
	return catalog, nil
}

// List returns every configured method, enabled or not.
func (c *PaymentMethodCatalog) List() []domain.PaymentMethod {
	out := make([]domain.PaymentMethod, len(c.methods))
	copy(out, c.methods)
	return out
}

// Enabled reports whether id names a selectable method.
func (c *PaymentMethodCatalog) Enabled(id string) bool {
	method, ok := c.byID[strings.ToLower(strings.TrimSpace(id))]
	return ok && method.Enabled
}
