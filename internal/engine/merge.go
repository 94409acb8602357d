package engine

import (
	"fmt"
	"strings"

	"github.com/utafrali/cartsync/internal/domain"
)

// MergePolicy decides how a guest cart is folded into the signed-in cart.
type MergePolicy string

const (
	// MergeSum keeps every product of both carts and adds up quantities of
	// products present in both. Signed-in entries keep their position.
	MergeSum MergePolicy = "sum"
	// MergeReplace keeps the guest cart when it is non-empty.
	MergeReplace MergePolicy = "replace"
	// MergeDiscard keeps the signed-in cart and drops the guest one.
	MergeDiscard MergePolicy = "discard"
)

// ParseMergePolicy accepts "sum", "replace" or "discard", case-insensitively.
func ParseMergePolicy(s string) (MergePolicy, error) {
	switch p := MergePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case MergeSum, MergeReplace, MergeDiscard:
		return p, nil
	case "":
		return MergeSum, nil
	default:
		return "", fmt.Errorf("unknown merge policy %q", s)
	}
}

// Merge combines a guest cart with an authenticated cart under policy.
func Merge(guest, authenticated []domain.LineItem, policy MergePolicy) []domain.LineItem {
	switch policy {
	case MergeDiscard:
		return domain.CloneItems(authenticated)
	case MergeReplace:
		if len(guest) == 0 {
			return domain.CloneItems(authenticated)
		}
		return domain.CloneItems(guest)
	default:
		out := domain.CloneItems(authenticated)
		for _, it := range guest {
			out = Add(out, it, domain.KindCart)
		}
		return out
	}
}
