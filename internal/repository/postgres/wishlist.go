package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/repository"
	"github.com/utafrali/cartsync/pkg/database"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// WishlistStore implements repository.WishlistStore on the wishlists table.
type WishlistStore struct {
	pool database.DBTX
}

// NewWishlistStore creates a PostgreSQL-backed wishlist store.
func NewWishlistStore(pool database.DBTX) *WishlistStore {
	return &WishlistStore{pool: pool}
}

// Load returns the wishlist of owner.
func (s *WishlistStore) Load(ctx context.Context, owner string) (w *domain.Wishlist, err error) {
	const query = `
		SELECT owner, items, version, created_at, updated_at
		FROM wishlists
		WHERE owner = $1`

	ctx, done := database.TraceQuery(ctx, database.SystemPostgres, "wishlist.load", query)
	defer func() { done(repository.SpanError(err)) }()

	var (
		wl        domain.Wishlist
		itemsJSON []byte
	)
	err = s.pool.QueryRow(ctx, query, owner).Scan(&wl.Owner, &itemsJSON, &wl.Version, &wl.CreatedAt, &wl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("wishlist", owner)
		}
		return nil, fmt.Errorf("scan wishlist: %w", err)
	}

	wl.Items = []domain.LineItem{}
	if len(itemsJSON) > 0 {
		if err := json.Unmarshal(itemsJSON, &wl.Items); err != nil {
			return nil, fmt.Errorf("unmarshal wishlist items: %w", err)
		}
	}
	return &wl, nil
}

// Replace inserts the first version of a wishlist or updates the row whose
// version still equals expectedVersion.
func (s *WishlistStore) Replace(ctx context.Context, wl *domain.Wishlist, expectedVersion int) (ok bool, err error) {
	const (
		insertQuery = `
			INSERT INTO wishlists (owner, items, version, created_at, updated_at)
			VALUES ($1, $2, 1, $3, $3)
			ON CONFLICT (owner) DO NOTHING`
		updateQuery = `
			UPDATE wishlists
			SET items = $2, version = version + 1, updated_at = $3
			WHERE owner = $1 AND version = $4`
	)

	ctx, done := database.TraceQuery(ctx, database.SystemPostgres, "wishlist.replace", updateQuery)
	defer func() { done(err) }()

	items := wl.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("marshal wishlist items: %w", err)
	}

	now := time.Now().UTC()
	var affected int64
	if expectedVersion == 0 {
		tag, err := s.pool.Exec(ctx, insertQuery, wl.Owner, itemsJSON, now)
		if err != nil {
			return false, apperrors.StoreWrite("save wishlist", err)
		}
		affected = tag.RowsAffected()
	} else {
		tag, err := s.pool.Exec(ctx, updateQuery, wl.Owner, itemsJSON, now, expectedVersion)
		if err != nil {
			return false, apperrors.StoreWrite("save wishlist", err)
		}
		affected = tag.RowsAffected()
	}
	if affected == 0 {
		return false, nil
	}

	wl.Version = expectedVersion + 1
	wl.UpdatedAt = now
	if expectedVersion == 0 {
		wl.CreatedAt = now
	}
	return true, nil
}
