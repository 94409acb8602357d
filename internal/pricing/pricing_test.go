package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/utafrali/cartsync/internal/domain"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func policy(threshold, fee string) Policy {
	return Policy{FreeThreshold: d(threshold), FlatFee: d(fee)}
}

func sampleItems() []domain.LineItem {
	return []domain.LineItem{
		{ProductID: "p1", Price: d("25"), Quantity: 2},
		{ProductID: "p2", Price: d("5"), Quantity: 1},
	}
}

func TestSummarize_FreeShippingAboveThreshold(t *testing.T) {
	s := Summarize(sampleItems(), policy("50", "10"))

	assert.True(t, s.Subtotal.Equal(d("55")))
	assert.True(t, s.Shipping.IsZero())
	assert.True(t, s.Total.Equal(d("55")))
	assert.Equal(t, 3, s.ItemCount)
}

func TestSummarize_FeeBelowThreshold(t *testing.T) {
	s := Summarize(sampleItems(), policy("60", "10"))

	assert.True(t, s.Shipping.Equal(d("10")))
	assert.True(t, s.Total.Equal(d("65")))
}

func TestShipping_ThresholdIsExclusive(t *testing.T) {
	assert.True(t, Shipping(d("50"), policy("50", "10")).Equal(d("10")))
	assert.True(t, Shipping(d("50.01"), policy("50", "10")).IsZero())
}

func TestSummarize_Empty(t *testing.T) {
	s := Summarize(nil, policy("50", "10"))
	assert.True(t, s.Subtotal.IsZero())
	assert.True(t, s.Total.Equal(d("10")))
	assert.Zero(t, s.ItemCount)
}

func TestTotal_RecomputedFromItems(t *testing.T) {
	items := sampleItems()
	p := policy("60", "10")
	before := Total(Subtotal(items), p)

	items[1].Quantity = 3
	after := Total(Subtotal(items), p)

	assert.True(t, before.Equal(d("65")))
	assert.True(t, after.Equal(d("65")), "subtotal 65 is above 60 so shipping is waived")
	assert.True(t, Subtotal(items).Equal(d("65")))
}

func TestSubtotal_DecimalPrecision(t *testing.T) {
	items := []domain.LineItem{{Price: d("0.1"), Quantity: 3}}
	assert.Equal(t, "0.3", Subtotal(items).String())
}

func TestPolicies_For(t *testing.T) {
	ps := Policies{Authenticated: policy("50", "10"), Guest: policy("100", "5")}
	assert.True(t, ps.For(false).FreeThreshold.Equal(d("50")))
	assert.True(t, ps.For(true).FlatFee.Equal(d("5")))
}
