// Package service applies cart and wishlist mutations against the stores:
// load the current document, apply the operation, write it back under the
// loaded version, and retry on a version conflict.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/cartsync/internal/catalog"
	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/pricing"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// Collection limits.
const (
	DefaultMaxItems           = 100
	DefaultMaxQuantity        = 999
	DefaultMaxConflictRetries = 3
)

var versionConflicts = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "cartsync_version_conflicts_total",
		Help: "Optimistic-concurrency conflicts hit while writing a collection.",
	},
	[]string{"collection"},
)

// Events receives the domain events of successful writes.
type Events interface {
	CartUpdated(ctx context.Context, cart *domain.Cart, summary pricing.Summary) error
	CartCleared(ctx context.Context, cart *domain.Cart, reason string) error
	WishlistUpdated(ctx context.Context, wl *domain.Wishlist) error
}

// Limits bounds collection size.
type Limits struct {
	MaxItems    int
	MaxQuantity int
}

func (l Limits) withDefaults() Limits {
	if l.MaxItems <= 0 {
		l.MaxItems = DefaultMaxItems
	}
	if l.MaxQuantity <= 0 {
		l.MaxQuantity = DefaultMaxQuantity
	}
	return l
}

func (l Limits) check(items []domain.LineItem) error {
	if len(items) > l.MaxItems {
		return apperrors.InvalidInput(fmt.Sprintf("a collection must not contain more than %d products", l.MaxItems))
	}
	for _, it := range items {
		if it.Quantity > l.MaxQuantity {
			return apperrors.InvalidInput(fmt.Sprintf("quantity of %s must not exceed %d", it.ProductID, l.MaxQuantity))
		}
	}
	return nil
}

// retry runs attempt until it reports success, at most 1+maxRetries times.
// attempt returns false on a version conflict.
func retry(ctx context.Context, collection string, maxRetries int, attempt func(ctx context.Context) (bool, error)) error {
	for i := 0; i <= maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		ok, err := attempt(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		versionConflicts.WithLabelValues(collection).Inc()
	}
	return apperrors.Conflict(collection + " was modified concurrently, please retry")
}

// resolveItem normalizes item for kind and fills a missing name or price
// from the catalog.
func resolveItem(ctx context.Context, lookup catalog.Lookup, item domain.LineItem, kind domain.CollectionKind) (domain.LineItem, error) {
	item, err := domain.Normalize(item, kind)
	if err != nil {
		return domain.LineItem{}, err
	}
	if lookup == nil || (item.Name != "" && !item.Price.IsZero()) {
		return item, nil
	}

	p, err := lookup.GetProduct(ctx, item.ProductID)
	if err != nil {
		return domain.LineItem{}, err
	}
	if !p.Active {
		return domain.LineItem{}, apperrors.InvalidInput(fmt.Sprintf("product %s is not available", item.ProductID))
	}
	if item.Name == "" {
		item.Name = p.Name
	}
	if item.Price.IsZero() {
		item.Price = p.Price.Round(2)
	}
	if item.Image == "" {
		item.Image = p.Image
	}
	return item, nil
}

// sameItems reports whether a and b hold the same entries in the same order.
func sameItems(a, b []domain.LineItem) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ProductID != y.ProductID || x.Quantity != y.Quantity ||
			x.Name != y.Name || x.Image != y.Image || !x.Price.Equal(y.Price) {
			return false
		}
	}
	return true
}

func logPublishError(ctx context.Context, logger *slog.Logger, event, owner string, err error) {
	if err == nil {
		return
	}
	logger.ErrorContext(ctx, "failed to publish event",
		slog.String("event", event),
		slog.String("owner", owner),
		slog.String("error", err.Error()),
	)
}

func utcNow() time.Time { return time.Now().UTC() }
