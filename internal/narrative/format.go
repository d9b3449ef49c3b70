package narrative

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.AmericanEnglish)

// FormatCurrency renders dollars with grouping. Amounts of a thousand or
// more drop the cents.
func FormatCurrency(v float64) string {
	if math.Abs(v) >= 1000 {
		return printer.Sprintf("$%.0f", v)
	}
	return printer.Sprintf("$%.2f", v)
}

func FormatCount(v float64) string {
	return printer.Sprintf("%.0f", v)
}

func FormatPercent(v float64) string {
	return printer.Sprintf("%.1f%%", v)
}
