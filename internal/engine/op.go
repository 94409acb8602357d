package engine

import (
	"fmt"

	"github.com/utafrali/cartsync/internal/domain"
)

// OpKind names a single collection mutation.
type OpKind string

const (
	OpAdd         OpKind = "add"
	OpSetQuantity OpKind = "set_quantity"
	OpRemove      OpKind = "remove"
	OpClear       OpKind = "clear"
)

// Op is an intent applied server-side to whatever the store currently holds,
// so a retry after a version conflict replays the intent rather than a stale
// snapshot of the collection.
type Op struct {
	Kind      OpKind          `json:"kind"`
	Item      domain.LineItem `json:"item,omitempty"`
	ProductID string          `json:"product_id,omitempty"`
	Quantity  int             `json:"quantity,omitempty"`
}

// AddOp returns an add intent for item.
func AddOp(item domain.LineItem) Op { return Op{Kind: OpAdd, Item: item, ProductID: item.ProductID} }

// SetQuantityOp returns a set-quantity intent.
func SetQuantityOp(productID string, n int) Op {
	return Op{Kind: OpSetQuantity, ProductID: productID, Quantity: n}
}

// RemoveOp returns a remove intent.
func RemoveOp(productID string) Op { return Op{Kind: OpRemove, ProductID: productID} }

// ClearOp returns a clear intent.
func ClearOp() Op { return Op{Kind: OpClear} }

// Apply runs op against items.
func Apply(items []domain.LineItem, op Op, kind domain.CollectionKind) ([]domain.LineItem, error) {
	switch op.Kind {
	case OpAdd:
		return Add(items, op.Item, kind), nil
	case OpSetQuantity:
		if kind == domain.KindWishlist {
			return nil, fmt.Errorf("%s is not supported on a wishlist", op.Kind)
		}
		return SetQuantity(items, op.ProductID, op.Quantity), nil
	case OpRemove:
		return Remove(items, op.ProductID), nil
	case OpClear:
		return Clear(items), nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op.Kind)
	}
}
