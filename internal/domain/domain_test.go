package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// ============================================================================
// Normalize
// ============================================================================

func TestNormalize_CartClampsQuantity(t *testing.T) {
	item, err := Normalize(LineItem{ProductID: " p1 ", Name: " Mug ", Price: decimal.RequireFromString("10.005"), Quantity: 0}, KindCart)
	require.NoError(t, err)

	assert.Equal(t, "p1", item.ProductID)
	assert.Equal(t, "Mug", item.Name)
	assert.Equal(t, 1, item.Quantity)
	assert.True(t, item.Price.Equal(decimal.RequireFromString("10.01")), item.Price.String())
}

func TestNormalize_CartKeepsPositiveQuantity(t *testing.T) {
	item, err := Normalize(LineItem{ProductID: "p1", Price: decimal.NewFromInt(5), Quantity: 4}, KindCart)
	require.NoError(t, err)
	assert.Equal(t, 4, item.Quantity)
}

func TestNormalize_WishlistDropsQuantity(t *testing.T) {
	item, err := Normalize(LineItem{ProductID: "p1", Price: decimal.NewFromInt(5), Quantity: 7}, KindWishlist)
	require.NoError(t, err)
	assert.Zero(t, item.Quantity)
}

func TestNormalize_Rejects(t *testing.T) {
	_, err := Normalize(LineItem{ProductID: "   "}, KindCart)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)

	_, err = Normalize(LineItem{ProductID: "p1", Price: decimal.NewFromInt(-1)}, KindCart)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestCloneItems_Independent(t *testing.T) {
	src := []LineItem{{ProductID: "p1", Quantity: 1}}
	dst := CloneItems(src)
	dst[0].Quantity = 9
	assert.Equal(t, 1, src[0].Quantity)

	assert.NotNil(t, CloneItems(nil))
}

// ============================================================================
// Subject
// ============================================================================

func TestSubject_Key(t *testing.T) {
	assert.Equal(t, "user:42", User("42").Key())
	assert.Equal(t, "guest:abc", GuestSession("abc").Key())
}

func TestSubject_Validate(t *testing.T) {
	assert.NoError(t, User("42").Validate())
	assert.ErrorIs(t, User("").Validate(), apperrors.ErrUnauthorized)
	assert.ErrorIs(t, GuestSession("a:b").Validate(), apperrors.ErrInvalidInput)
}

// ============================================================================
// Order status
// ============================================================================

func TestOrderStatus_Transitions(t *testing.T) {
	assert.True(t, OrderStatusProcessing.CanTransitionTo(OrderStatusShipped))
	assert.True(t, OrderStatusProcessing.CanTransitionTo(OrderStatusCanceled))
	assert.True(t, OrderStatusShipped.CanTransitionTo(OrderStatusDelivered))
	assert.False(t, OrderStatusDelivered.CanTransitionTo(OrderStatusProcessing))
	assert.False(t, OrderStatusShipped.CanTransitionTo(OrderStatusCanceled))
}

func TestCart_IsEmpty(t *testing.T) {
	c := NewCart("user:1", false, "USD")
	assert.True(t, c.IsEmpty())
	c.Items = []LineItem{{Quantity: 2}, {Quantity: 3}}
	assert.False(t, c.IsEmpty())
	assert.Equal(t, "5", LineItem{Price: decimal.NewFromInt(1), Quantity: 5}.LineTotal().String())
}
