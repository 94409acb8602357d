// Package sqlite stores guest carts in a local SQLite file, one row per slot.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/repository"
	"github.com/utafrali/cartsync/pkg/database"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// Schema is applied by database.OpenSQLite.
const Schema = `
CREATE TABLE IF NOT EXISTS guest_carts (
	slot       TEXT PRIMARY KEY,
	cart_id    TEXT NOT NULL,
	items      TEXT NOT NULL DEFAULT '[]',
	currency   TEXT NOT NULL,
	version    INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);`

// CartStore implements repository.CartStore over a local SQLite database.
type CartStore struct {
	db *sql.DB
}

// NewCartStore wraps an open database that already has Schema applied.
func NewCartStore(db *sql.DB) *CartStore {
	return &CartStore{db: db}
}

// Open opens path, applies Schema and returns a store. ":memory:" gives a
// private in-process store.
func Open(ctx context.Context, path string) (*CartStore, error) {
	db, err := database.OpenSQLite(ctx, path, Schema)
	if err != nil {
		return nil, err
	}
	return NewCartStore(db), nil
}

// Close releases the database.
func (s *CartStore) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *CartStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Load returns the cart in slot.
func (s *CartStore) Load(ctx context.Context, slot string) (cart *domain.Cart, err error) {
	const query = `
		SELECT cart_id, items, currency, version, created_at, updated_at
		FROM guest_carts WHERE slot = ?`

	ctx, done := database.TraceQuery(ctx, database.SystemSQLite, "guest_cart.load", query)
	defer func() { done(repository.SpanError(err)) }()

	var (
		c                    = domain.Cart{Owner: slot, Guest: true}
		itemsJSON            string
		createdAt, updatedAt string
	)
	err = s.db.QueryRowContext(ctx, query, slot).Scan(&c.ID, &itemsJSON, &c.Currency, &c.Version, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("guest cart", slot)
		}
		return nil, fmt.Errorf("scan guest cart: %w", err)
	}

	if err := json.Unmarshal([]byte(itemsJSON), &c.Items); err != nil {
		return nil, fmt.Errorf("unmarshal guest cart items: %w", err)
	}
	if c.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if c.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &c, nil
}

// Replace writes the slot if its stored version equals expectedVersion.
func (s *CartStore) Replace(ctx context.Context, cart *domain.Cart, expectedVersion int) (ok bool, err error) {
	const (
		insertQuery = `
			INSERT INTO guest_carts (slot, cart_id, items, currency, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (slot) DO NOTHING`
		updateQuery = `
			UPDATE guest_carts
			SET cart_id = ?, items = ?, currency = ?, version = version + 1, updated_at = ?
			WHERE slot = ? AND version = ?`
	)

	ctx, done := database.TraceQuery(ctx, database.SystemSQLite, "guest_cart.replace", updateQuery)
	defer func() { done(err) }()

	items := cart.Items
	if items == nil {
		items = []domain.LineItem{}
	}
	itemsJSON, err := json.Marshal(items)
	if err != nil {
		return false, fmt.Errorf("marshal guest cart items: %w", err)
	}

	now := time.Now().UTC()
	created := cart.CreatedAt
	if created.IsZero() {
		created = now
	}

	var res sql.Result
	if expectedVersion == 0 {
		res, err = s.db.ExecContext(ctx, insertQuery,
			cart.Owner, cart.ID, string(itemsJSON), cart.Currency,
			created.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano))
	} else {
		res, err = s.db.ExecContext(ctx, updateQuery,
			cart.ID, string(itemsJSON), cart.Currency, now.Format(time.RFC3339Nano),
			cart.Owner, expectedVersion)
	}
	if err != nil {
		return false, apperrors.StoreWrite("save guest cart", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, apperrors.StoreWrite("save guest cart", err)
	}
	if n == 0 {
		return false, nil
	}

	cart.Version = expectedVersion + 1
	return true, nil
}
