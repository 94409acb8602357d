package checkout

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strconv"
	"strings"

	"github.com/utafrali/cartsync/internal/domain"
)

// IdempotencyKey fingerprints a cart snapshot: its owner, id, version and
// items. Two submissions of the same snapshot share a key. The item order
// does not matter.
func IdempotencyKey(cart *domain.Cart) string {
	lines := make([]string, len(cart.Items))
	for i, it := range cart.Items {
		lines[i] = it.ProductID + "|" + strconv.Itoa(it.Quantity) + "|" + it.Price.StringFixed(2)
	}
	slices.Sort(lines)

	h := sha256.New()
	for _, part := range []string{cart.Owner, cart.ID, strconv.Itoa(cart.Version), strings.Join(lines, "\n")} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
