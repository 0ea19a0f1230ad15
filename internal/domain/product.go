package domain

import (
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Currency is the single unit every catalog price is quoted in.
var Currency = currency.USD

// Product is an immutable catalog entry.
type Product struct {
	ID          int             `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Image       string          `json:"image"`
	Category    string          `json:"category"`
	Description string          `json:"description"`
	Badge       string          `json:"badge"`
}

// FormatPrice renders p with two decimals and the dollar sign, e.g. "$9.99".
func FormatPrice(p decimal.Decimal) string {
	return "$" + p.StringFixed(2)
}
