package domain

import "time"

// Cart is a shopper's intended purchase. Version is the optimistic
// concurrency token; 0 means the cart has never been stored.
type Cart struct {
	ID        string     `json:"id"`
	Owner     string     `json:"owner"`
	Guest     bool       `json:"guest"`
	Items     []LineItem `json:"items"`
	Currency  string     `json:"currency"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewCart returns an empty, unstored cart for owner.
func NewCart(owner string, guest bool, currency string) *Cart {
	return &Cart{
		Owner:    owner,
		Guest:    guest,
		Items:    []LineItem{},
		Currency: currency,
	}
}

// IsEmpty reports whether the cart holds no entries.
func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// Wishlist holds saved-for-later products of an authenticated owner. Its
// items carry no quantity.
type Wishlist struct {
	Owner     string     `json:"owner"`
	Items     []LineItem `json:"items"`
	Version   int        `json:"version"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewWishlist returns an empty, unstored wishlist for owner.
func NewWishlist(owner string) *Wishlist {
	return &Wishlist{Owner: owner, Items: []LineItem{}}
}
