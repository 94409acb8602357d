package repository

import (
	"context"
	"errors"

	"github.com/utafrali/cartsync/internal/domain"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// CartStore persists whole carts under optimistic concurrency.
//
// Load returns an apperrors.ErrNotFound error when owner has no cart.
// Replace stores cart only if the stored version equals expectedVersion
// (0 meaning absent) and then records expectedVersion+1, updating
// cart.Version to match. It reports false on a version mismatch. Transport
// failures come back as StoreWrite errors.
type CartStore interface {
	Load(ctx context.Context, owner string) (*domain.Cart, error)
	Replace(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error)
}

// CartStores routes a subject to the store that holds its cart.
type CartStores struct {
	Authenticated CartStore
	Guest         CartStore
}

// For returns the store for subject. Guest is nil when guest carts are not
// served, in which case guests are refused.
func (c CartStores) For(subject domain.Subject) (CartStore, error) {
	if !subject.Guest {
		return c.Authenticated, nil
	}
	if c.Guest == nil {
		return nil, apperrors.Unauthorized("guest carts are not enabled")
	}
	return c.Guest, nil
}

// WishlistStore is the wishlist counterpart of CartStore.
type WishlistStore interface {
	Load(ctx context.Context, owner string) (*domain.Wishlist, error)
	Replace(ctx context.Context, wishlist *domain.Wishlist, expectedVersion int) (bool, error)
}

// OrderStore persists immutable orders.
type OrderStore interface {
	// Create inserts order and its items atomically. A duplicate idempotency
	// key yields an apperrors.ErrConflict error.
	Create(ctx context.Context, order *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListByOwner(ctx context.Context, owner string, limit, offset int) ([]domain.Order, int, error)
}

// SpanError filters err for span status: a missing document is an expected
// outcome of Load, not a failure.
func SpanError(err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		return nil
	}
	return err
}
