// Package pricing derives cart totals from line items under a shipping
// policy. Totals are never stored; they are recomputed on every read.
package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartsync/internal/domain"
)

// Policy is the shipping rule applied to a subtotal.
type Policy struct {
	// FreeThreshold: shipping is free when the subtotal is strictly above it.
	FreeThreshold decimal.Decimal
	FlatFee       decimal.Decimal
}

// Summary is the priced view of a set of line items.
type Summary struct {
	Subtotal  decimal.Decimal `json:"subtotal"`
	Shipping  decimal.Decimal `json:"shipping"`
	Total     decimal.Decimal `json:"total"`
	ItemCount int             `json:"item_count"`
}

// Subtotal is the sum of price × quantity.
func Subtotal(items []domain.LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.LineTotal())
	}
	return sum
}

// Shipping returns 0 when subtotal exceeds the threshold, the flat fee
// otherwise.
func Shipping(subtotal decimal.Decimal, p Policy) decimal.Decimal {
	if subtotal.GreaterThan(p.FreeThreshold) {
		return decimal.Zero
	}
	return p.FlatFee
}

// Total is subtotal plus shipping.
func Total(subtotal decimal.Decimal, p Policy) decimal.Decimal {
	return subtotal.Add(Shipping(subtotal, p))
}

// Summarize prices items under p.
func Summarize(items []domain.LineItem, p Policy) Summary {
	sub := Subtotal(items)
	ship := Shipping(sub, p)
	count := 0
	for _, it := range items {
		count += it.Quantity
	}
	return Summary{
		Subtotal:  sub.Round(2),
		Shipping:  ship.Round(2),
		Total:     sub.Add(ship).Round(2),
		ItemCount: count,
	}
}

// Policies holds the shipping rules of signed-in and guest checkouts.
type Policies struct {
	Authenticated Policy
	Guest         Policy
}

// For returns the policy for a guest or signed-in subject.
func (p Policies) For(guest bool) Policy {
	if guest {
		return p.Guest
	}
	return p.Authenticated
}
