package money

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

const (
	currencyPrefix   = "R$ "
	decimalSeparator = ","
)

var brl = message.NewPrinter(language.BrazilianPortuguese)

// FormatBRL renders an amount the way the storefront prints prices:
// "R$ 1234,56". Two decimals, decimal comma, no digit grouping.
func FormatBRL(amount decimal.Decimal) string {
	return currencyPrefix + FormatDecimal(amount)
}

// FormatDecimal renders the numeric part of FormatBRL. The digits come from the
// exact decimal; only whole units go through the locale printer.
func FormatDecimal(amount decimal.Decimal) string {
	whole, fraction, _ := strings.Cut(Cents(amount).StringFixed(centsExp), ".")
	sign := ""
	if rest, negative := strings.CutPrefix(whole, "-"); negative {
		sign, whole = "-", rest
	}
	if units, err := strconv.ParseInt(whole, 10, 64); err == nil {
		whole = brl.Sprint(number.Decimal(units, number.NoSeparator()))
	}
	return sign + whole + decimalSeparator + fraction
}
