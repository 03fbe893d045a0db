package service

import (
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var amountPrinter = message.NewPrinter(language.Thai)

// FormatAmount renders a baht amount with thousands separators and 2 decimals.
func FormatAmount(v float64) string {
	return amountPrinter.Sprintf("%.2f", v)
}

// FormatCount renders an integer with thousands separators.
func FormatCount(n int) string {
	return amountPrinter.Sprintf("%d", n)
}

func formatDate(t *time.Time, loc *time.Location) string {
	if t == nil {
		return ""
	}
	return t.In(loc).Format("2006-01-02")
}
