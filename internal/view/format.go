package view

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// Fraction digits shown for prices above and at or below one.
const (
	LargeFractionDigits = 2
	SmallFractionDigits = 6
)

var (
	printer = message.NewPrinter(language.English)
	one     = decimal.NewFromInt(1)
)

// FormatPrice renders a price as "$ 1,234.56": comma grouping every three
// digits, at most two fraction digits above one and six otherwise, and no
// trailing zeros.
func FormatPrice(p decimal.Decimal) string {
	digits := SmallFractionDigits
	if p.GreaterThan(one) {
		digits = LargeFractionDigits
	}

	// Round on the exact value so the float conversion never picks the digit.
	f := p.Round(int32(digits)).InexactFloat64()
	return "$ " + printer.Sprintf("%v", number.Decimal(f, number.MaxFractionDigits(digits)))
}
