package money

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func TestDiscountPercent(t *testing.T) {
	cases := []struct {
		name       string
		list, sale string
		want       int
	}{
		{"zero list price", "0", "50", 0},
		{"zero both", "0", "0", 0},
		{"negative list price", "-10", "5", 0},
		{"equal prices", "80", "80", 0},
		{"half off", "200", "100", 50},
		{"truncates small fraction", "3", "2", 33},
		{"rounds fraction up", "30", "19.9", 34},
		{"rounds half away from zero", "8", "7", 13},
		{"sale above list clamps", "100", "150", 0},
		{"free item", "49.90", "0", 100},
		{"negative sale clamps", "10", "-5", 100},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := DiscountPercent(d(tc.list), d(tc.sale))
			if got != tc.want {
				t.Fatalf("DiscountPercent(%s, %s) = %d, want %d", tc.list, tc.sale, got, tc.want)
			}
		})
	}
}

func TestDiscountPercentBounds(t *testing.T) {
	for list := 1; list <= 250; list += 7 {
		for sale := -20; sale <= 300; sale += 13 {
			got := DiscountPercent(decimal.NewFromInt(int64(list)), decimal.NewFromInt(int64(sale)))
			if got < 0 || got > 100 {
				t.Fatalf("DiscountPercent(%d, %d) = %d out of range", list, sale, got)
			}
		}
	}
}

func TestDiscountPercentOfMissingListPrice(t *testing.T) {
	if got := DiscountPercentOf(decimal.NullDecimal{}, d("10")); got != 0 {
		t.Fatalf("expected 0 for absent list price, got %d", got)
	}
	if got := DiscountPercentOf(decimal.NewNullDecimal(d("20")), d("10")); got != 50 {
		t.Fatalf("expected 50, got %d", got)
	}
}

func TestApplyPercent(t *testing.T) {
	discount, total := ApplyPercent(d("200"), d("10"))
	if !discount.Equal(d("20")) || !total.Equal(d("180")) {
		t.Fatalf("expected 20/180, got %s/%s", discount, total)
	}

	discount, total = ApplyPercent(d("99.99"), d("15"))
	if !discount.Equal(d("15")) || !total.Equal(d("84.99")) {
		t.Fatalf("expected 15/84.99, got %s/%s", discount, total)
	}

	discount, total = ApplyPercent(d("50"), d("150"))
	if !discount.Equal(d("50")) || !total.IsZero() {
		t.Fatalf("expected percent clamp to 100, got %s/%s", discount, total)
	}

	discount, total = ApplyPercent(decimal.Zero, d("10"))
	if !discount.IsZero() || !total.IsZero() {
		t.Fatalf("expected zeros for empty total, got %s/%s", discount, total)
	}
}

func TestFormatBRL(t *testing.T) {
	cases := map[string]string{
		"0":                       "R$ 0,00",
		"5":                       "R$ 5,00",
		"19.9":                    "R$ 19,90",
		"1234.56":                 "R$ 1234,56",
		"180":                     "R$ 180,00",
		"0.005":                   "R$ 0,01",
		"-0.5":                    "R$ -0,50",
		"99999999999999.99":       "R$ 99999999999999,99",
		"123456789012345678.01":   "R$ 123456789012345678,01",
		"98765432109876543210.55": "R$ 98765432109876543210,55",
	}
	for in, want := range cases {
		if got := FormatBRL(d(in)); got != want {
			t.Errorf("FormatBRL(%s) = %q, want %q", in, got, want)
		}
	}
}
