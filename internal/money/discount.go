// Package money holds the pure price arithmetic shared by the cart, coupon and
// checkout services.
package money

import (
	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	centsExp = int32(2)
)

// DiscountPercent returns how much cheaper salePrice is than listPrice, as a
// whole percentage in [0, 100]. A zero or negative list price yields 0.
func DiscountPercent(listPrice, salePrice decimal.Decimal) int {
	if !listPrice.IsPositive() {
		return 0
	}
	pct := listPrice.Sub(salePrice).Mul(hundred).Div(listPrice).Round(0)
	return int(clampPercent(pct).IntPart())
}

// DiscountPercentOf is DiscountPercent for an optional comparison price.
func DiscountPercentOf(listPrice decimal.NullDecimal, salePrice decimal.Decimal) int {
	if !listPrice.Valid {
		return 0
	}
	return DiscountPercent(listPrice.Decimal, salePrice)
}

// ApplyPercent takes percent off total. The discount is rounded to cents and the
// resulting total never drops below zero.
func ApplyPercent(total, percent decimal.Decimal) (discount, newTotal decimal.Decimal) {
	if !total.IsPositive() {
		return decimal.Zero, decimal.Zero
	}
	discount = total.Mul(clampPercent(percent)).Div(hundred).Round(centsExp)
	newTotal = NonNegative(total.Sub(discount))
	return discount, newTotal
}

// NonNegative clamps negative amounts to zero.
func NonNegative(amount decimal.Decimal) decimal.Decimal {
	if amount.IsNegative() {
		return decimal.Zero
	}
	return amount
}

// Cents rounds an amount to two decimal places.
func Cents(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(centsExp)
}

func clampPercent(pct decimal.Decimal) decimal.Decimal {
	switch {
	case pct.IsNegative():
		return decimal.Zero
	case pct.GreaterThan(hundred):
		return hundred
	default:
		return pct
	}
}
