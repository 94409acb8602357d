package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/repository"
	"github.com/utafrali/cartsync/pkg/database"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

var (
	_ repository.WishlistStore = (*WishlistStore)(nil)
	_ repository.OrderStore    = (*OrderStore)(nil)
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

// --- Load ---

func TestWishlistStore_Load_Success(t *testing.T) {
	mock := newMock(t)
	store := NewWishlistStore(mock)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT owner, items, version").
		WithArgs("user:1").
		WillReturnRows(pgxmock.NewRows([]string{"owner", "items", "version", "created_at", "updated_at"}).
			AddRow("user:1", []byte(`[{"product_id":"p1","name":"Lamp","price":"39.90"}]`), 3, now, now))

	wl, err := store.Load(context.Background(), "user:1")
	require.NoError(t, err)
	assert.Equal(t, 3, wl.Version)
	require.Len(t, wl.Items, 1)
	assert.True(t, wl.Items[0].Price.Equal(decimal.RequireFromString("39.9")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistStore_Load_NotFound(t *testing.T) {
	mock := newMock(t)
	mock.ExpectQuery("SELECT owner, items, version").
		WithArgs("user:404").
		WillReturnError(pgx.ErrNoRows)

	_, err := NewWishlistStore(mock).Load(context.Background(), "user:404")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

// --- Replace ---

func TestWishlistStore_Replace_Insert(t *testing.T) {
	mock := newMock(t)
	wl := &domain.Wishlist{Owner: "user:1", Items: []domain.LineItem{{ProductID: "p1", Price: decimal.NewFromInt(2)}}}

	mock.ExpectExec("INSERT INTO wishlists").
		WithArgs("user:1", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	ok, err := NewWishlistStore(mock).Replace(context.Background(), wl, 0)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, wl.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistStore_Replace_InsertLosesRace(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("INSERT INTO wishlists").
		WithArgs("user:1", []byte("[]"), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	ok, err := NewWishlistStore(mock).Replace(context.Background(), domain.NewWishlist("user:1"), 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistStore_Replace_UpdateGuardedByVersion(t *testing.T) {
	mock := newMock(t)
	wl := domain.NewWishlist("user:1")

	mock.ExpectExec("UPDATE wishlists").
		WithArgs("user:1", []byte("[]"), pgxmock.AnyArg(), 4).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE wishlists").
		WithArgs("user:1", []byte("[]"), pgxmock.AnyArg(), 4).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	store := NewWishlistStore(mock)
	ok, err := store.Replace(context.Background(), wl, 4)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 5, wl.Version)

	ok, err = store.Replace(context.Background(), wl, 4)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWishlistStore_Replace_DatabaseError(t *testing.T) {
	mock := newMock(t)
	mock.ExpectExec("UPDATE wishlists").WillReturnError(errors.New("connection reset"))

	ok, err := NewWishlistStore(mock).Replace(context.Background(), domain.NewWishlist("user:1"), 2)
	assert.False(t, ok)
	assert.ErrorIs(t, err, apperrors.ErrStoreWrite)
}
