package domain

import (
	"strings"

	"github.com/shopspring/decimal"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// CollectionKind distinguishes carts, whose entries carry a quantity, from
// wishlists, whose entries do not.
type CollectionKind string

const (
	KindCart     CollectionKind = "cart"
	KindWishlist CollectionKind = "wishlist"
)

// LineItem is a product entry in a cart, wishlist or order. Name, Price and
// Image are a snapshot of the catalog taken when the item was added.
type LineItem struct {
	ProductID string          `json:"product_id" yaml:"product_id"`
	Name      string          `json:"name" yaml:"name"`
	Price     decimal.Decimal `json:"price" yaml:"price"`
	Image     string          `json:"image,omitempty" yaml:"image,omitempty"`
	Quantity  int             `json:"quantity,omitempty" yaml:"quantity,omitempty"`
}

// LineTotal is Price × Quantity.
func (li LineItem) LineTotal() decimal.Decimal {
	return li.Price.Mul(decimal.NewFromInt(int64(li.Quantity)))
}

// Normalize validates a candidate item and brings it into canonical form for
// the given collection: trimmed strings, price rounded to cents, quantity
// clamped to at least 1 for carts and dropped for wishlists.
func Normalize(candidate LineItem, kind CollectionKind) (LineItem, error) {
	item := candidate
	item.ProductID = strings.TrimSpace(item.ProductID)
	item.Name = strings.TrimSpace(item.Name)
	item.Image = strings.TrimSpace(item.Image)

	if item.ProductID == "" {
		return LineItem{}, apperrors.InvalidInput("product id is required")
	}
	if item.Price.IsNegative() {
		return LineItem{}, apperrors.InvalidInput("price must not be negative")
	}
	item.Price = item.Price.Round(2)

	switch kind {
	case KindWishlist:
		item.Quantity = 0
	default:
		if item.Quantity < 1 {
			item.Quantity = 1
		}
	}
	return item, nil
}

// CloneItems returns a copy of items that shares no backing array with the
// input. A nil input yields an empty, non-nil slice.
func CloneItems(items []LineItem) []LineItem {
	out := make([]LineItem, len(items))
	copy(out, items)
	return out
}

// IndexOf returns the position of productID in items, or -1.
func IndexOf(items []LineItem, productID string) int {
	for i := range items {
		if items[i].ProductID == productID {
			return i
		}
	}
	return -1
}
