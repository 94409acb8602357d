// Package engine holds the pure mutation rules for carts and wishlists.
// Every function returns a new slice and leaves its inputs untouched.
package engine

import "github.com/utafrali/cartsync/internal/domain"

// Add inserts item, or merges it into the existing entry with the same
// product. Cart quantities accumulate; a product already on a wishlist is
// left as is.
func Add(items []domain.LineItem, item domain.LineItem, kind domain.CollectionKind) []domain.LineItem {
	out := domain.CloneItems(items)
	i := domain.IndexOf(out, item.ProductID)
	if i < 0 {
		if kind == domain.KindWishlist {
			item.Quantity = 0
		} else if item.Quantity < 1 {
			item.Quantity = 1
		}
		return append(out, item)
	}
	if kind == domain.KindCart {
		n := item.Quantity
		if n < 1 {
			n = 1
		}
		out[i].Quantity += n
	}
	return out
}

// SetQuantity sets the quantity of productID. A quantity below 1 removes the
// entry. An absent product leaves the collection unchanged.
func SetQuantity(items []domain.LineItem, productID string, n int) []domain.LineItem {
	if n < 1 {
		return Remove(items, productID)
	}
	out := domain.CloneItems(items)
	if i := domain.IndexOf(out, productID); i >= 0 {
		out[i].Quantity = n
	}
	return out
}

// Remove drops productID. Removing an absent product is a no-op.
func Remove(items []domain.LineItem, productID string) []domain.LineItem {
	out := make([]domain.LineItem, 0, len(items))
	for _, it := range items {
		if it.ProductID != productID {
			out = append(out, it)
		}
	}
	return out
}

// Clear returns an empty collection.
func Clear([]domain.LineItem) []domain.LineItem {
	return []domain.LineItem{}
}

// MoveToWishlist takes productID out of the cart and saves it on the
// wishlist. moved is false, and both collections are returned unchanged,
// when the product is not in the cart.
func MoveToWishlist(cart, wishlist []domain.LineItem, productID string) (newCart, newWishlist []domain.LineItem, moved bool) {
	i := domain.IndexOf(cart, productID)
	if i < 0 {
		return domain.CloneItems(cart), domain.CloneItems(wishlist), false
	}
	item := cart[i]
	return Remove(cart, productID), Add(wishlist, item, domain.KindWishlist), true
}

// MoveToCart takes productID off the wishlist and adds qty of it to the
// cart. qty below 1 defaults to 1.
func MoveToCart(wishlist, cart []domain.LineItem, productID string, qty int) (newWishlist, newCart []domain.LineItem, moved bool) {
	i := domain.IndexOf(wishlist, productID)
	if i < 0 {
		return domain.CloneItems(wishlist), domain.CloneItems(cart), false
	}
	if qty < 1 {
		qty = 1
	}
	item := wishlist[i]
	item.Quantity = qty
	return Remove(wishlist, productID), Add(cart, item, domain.KindCart), true
}
