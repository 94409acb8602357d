package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the fulfilment state of an order.
type OrderStatus string

const (
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCanceled   OrderStatus = "canceled"
)

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCanceled},
	OrderStatusShipped:    {OrderStatusDelivered},
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Address is the shipping destination. Only structural presence is checked.
type Address struct {
	FullName   string `json:"full_name" validate:"required,max=200"`
	Line1      string `json:"line1" validate:"required,max=200"`
	Line2      string `json:"line2,omitempty" validate:"max=200"`
	City       string `json:"city" validate:"required,max=100"`
	State      string `json:"state,omitempty" validate:"max=100"`
	PostalCode string `json:"postal_code" validate:"required,max=20"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty" validate:"max=32"`
}

// PaymentMethod is an opaque reference to a payment instrument collected
// elsewhere.
type PaymentMethod struct {
	Type  string `json:"type" validate:"required,oneof=card paypal bank_transfer cash_on_delivery"`
	Token string `json:"token,omitempty" validate:"max=256"`
	Last4 string `json:"last4,omitempty" validate:"omitempty,len=4,numeric"`
}

// Order is the immutable record of a checkout. Items and totals never change
// after creation.
type Order struct {
	ID              string          `json:"id"`
	Owner           string          `json:"owner"`
	Guest           bool            `json:"guest"`
	IdempotencyKey  string          `json:"-"`
	Items           []LineItem      `json:"items"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Shipping        decimal.Decimal `json:"shipping"`
	Total           decimal.Decimal `json:"total"`
	Currency        string          `json:"currency"`
	ShippingAddress Address         `json:"shipping_address"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	Status          OrderStatus     `json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
}
