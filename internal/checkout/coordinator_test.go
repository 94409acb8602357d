package checkout

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/utafrali/cartsync/internal/catalog"
	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/pricing"
	"github.com/utafrali/cartsync/internal/repository"
	redisstore "github.com/utafrali/cartsync/internal/repository/redis"
	"github.com/utafrali/cartsync/internal/repository/sqlite"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/pagination"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type memOrderStore struct {
	mu        sync.Mutex
	byID      map[string]domain.Order
	createErr error
	creates   int
}

func newMemOrderStore() *memOrderStore {
	return &memOrderStore{byID: map[string]domain.Order{}}
}

func (m *memOrderStore) Create(_ context.Context, o *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return m.createErr
	}
	for _, existing := range m.byID {
		if existing.IdempotencyKey == o.IdempotencyKey {
			return apperrors.Conflict("an order for this cart already exists")
		}
	}
	cp := *o
	cp.Items = domain.CloneItems(o.Items)
	m.byID[o.ID] = cp
	return nil
}

func (m *memOrderStore) GetByID(_ context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, apperrors.NotFound("order", id)
	}
	return &o, nil
}

func (m *memOrderStore) GetByIdempotencyKey(_ context.Context, key string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.IdempotencyKey == key {
			return &o, nil
		}
	}
	return nil, apperrors.NotFound("order", key)
}

func (m *memOrderStore) ListByOwner(_ context.Context, owner string, limit, offset int) ([]domain.Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var all []domain.Order
	for _, o := range m.byID {
		if o.Owner == owner {
			all = append(all, o)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	if offset >= total {
		return []domain.Order{}, total, nil
	}
	return all[offset:min(offset+limit, total)], total, nil
}

func (m *memOrderStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

type stubCatalog struct {
	products map[string]catalog.Product
	err      error
}

func (s *stubCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	p, ok := s.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	return &p, nil
}

// flakyCartStore fails Replace while failures > 0. A queued stale cart is
// served by the next Load in place of the stored one.
type flakyCartStore struct {
	repository.CartStore
	failures int
	writes   int
	stale    *domain.Cart
}

func (f *flakyCartStore) Load(ctx context.Context, key string) (*domain.Cart, error) {
	if f.stale != nil {
		c := *f.stale
		c.Items = domain.CloneItems(f.stale.Items)
		f.stale = nil
		return &c, nil
	}
	return f.CartStore.Load(ctx, key)
}

func (f *flakyCartStore) Replace(ctx context.Context, c *domain.Cart, expected int) (bool, error) {
	f.writes++
	if f.failures > 0 {
		f.failures--
		return false, apperrors.StoreWrite("save cart", errors.New("connection reset"))
	}
	return f.CartStore.Replace(ctx, c, expected)
}

type recordingEvents struct {
	mu     sync.Mutex
	placed []string
	clears []string
}

func (r *recordingEvents) OrderPlaced(_ context.Context, o *domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed = append(r.placed, o.ID)
	return nil
}

func (r *recordingEvents) CartCleared(_ context.Context, c *domain.Cart, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clears = append(r.clears, c.Owner+":"+reason)
	return nil
}

type fixture struct {
	carts   *flakyCartStore
	guests  *flakyCartStore
	orders  *memOrderStore
	catalog *stubCatalog
	events  *recordingEvents
	coord   *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guestStore, err := sqlite.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = guestStore.Close() })

	f := &fixture{
		carts:  &flakyCartStore{CartStore: redisstore.NewCartStore(client, time.Hour)},
		guests: &flakyCartStore{CartStore: guestStore},
		orders: newMemOrderStore(),
		catalog: &stubCatalog{products: map[string]catalog.Product{
			"p1": {ID: "p1", Name: "Mug", Price: d("20"), Stock: 5, Active: true},
			"p2": {ID: "p2", Name: "Lamp", Price: d("15"), Stock: 5, Active: true},
		}},
		events: &recordingEvents{},
	}
	f.coord = NewCoordinator(Deps{
		Carts:   repository.CartStores{Authenticated: f.carts, Guest: f.guests},
		Orders:  f.orders,
		Catalog: f.catalog,
		Events:  f.events,
		Pricing: pricing.Policies{
			Authenticated: pricing.Policy{FreeThreshold: d("50"), FlatFee: d("10")},
			Guest:         pricing.Policy{FreeThreshold: d("60"), FlatFee: d("10")},
		},
		Logger: testLogger(),
	}, Timeouts{Catalog: time.Second, Persist: time.Second})
	return f
}

func (f *fixture) seed(t *testing.T, subject domain.Subject, items ...domain.LineItem) {
	t.Helper()
	store, err := f.coord.carts.For(subject)
	require.NoError(t, err)
	c := domain.NewCart(subject.Key(), subject.Guest, "USD")
	c.ID = "11111111-2222-4333-8444-555555555555"
	c.Items = items
	ok, err := store.Replace(context.Background(), c, 0)
	require.NoError(t, err)
	require.True(t, ok)
	f.carts.writes, f.guests.writes = 0, 0
}

func (f *fixture) cartItems(t *testing.T, subject domain.Subject) []domain.LineItem {
	t.Helper()
	store, err := f.coord.carts.For(subject)
	require.NoError(t, err)
	c, err := store.Load(context.Background(), subject.Key())
	require.NoError(t, err)
	return c.Items
}

func validInput() PlaceOrderInput {
	return PlaceOrderInput{
		ShippingAddress: domain.Address{
			FullName: "Ada Lovelace", Line1: "1 Analytical St", City: "London",
			PostalCode: "N1 9GU", Country: "GB",
		},
		PaymentMethod: domain.PaymentMethod{Type: "card", Token: "tok_123", Last4: "4242"},
	}
}

var bob = domain.User("bob")

func twoLines() []domain.LineItem {
	return []domain.LineItem{
		{ProductID: "p1", Name: "Mug", Price: d("20"), Quantity: 2},
		{ProductID: "p2", Name: "Lamp", Price: d("15"), Quantity: 1},
	}
}

func TestPlaceOrder_Success(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, twoLines()...)

	receipt, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	require.NoError(t, err)
	require.NotNil(t, receipt.Order)
	assert.False(t, receipt.Replayed)

	o := receipt.Order
	assert.Equal(t, domain.OrderStatusProcessing, o.Status)
	assert.Equal(t, bob.Key(), o.Owner)
	assert.True(t, o.Subtotal.Equal(d("55")))
	assert.True(t, o.Shipping.IsZero())
	assert.True(t, o.Total.Equal(d("55")))
	assert.NotEmpty(t, o.IdempotencyKey)

	assert.Empty(t, f.cartItems(t, bob))
	assert.Equal(t, []string{o.ID}, f.events.placed)
	assert.Equal(t, []string{"user:bob:order_placed"}, f.events.clears)
}

func TestPlaceOrder_EmptyCartNeverWrites(t *testing.T) {
	f := newFixture(t)

	_, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	assert.ErrorIs(t, err, apperrors.ErrEmptyCart)

	f.seed(t, bob)
	_, err = f.coord.PlaceOrder(context.Background(), bob, validInput())
	assert.ErrorIs(t, err, apperrors.ErrEmptyCart)

	assert.Zero(t, f.carts.writes)
	assert.Zero(t, f.orders.creates)
}

func TestPlaceOrder_RejectsMissingAddress(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, twoLines()...)

	in := validInput()
	in.ShippingAddress.Line1 = ""
	_, err := f.coord.PlaceOrder(context.Background(), bob, in)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line1")
	assert.Zero(t, f.orders.creates)
}

func TestPlaceOrder_OrderItemsAreACopy(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, twoLines()...)

	receipt, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	require.NoError(t, err)

	stored, err := f.orders.GetByID(context.Background(), receipt.Order.ID)
	require.NoError(t, err)
	receipt.Order.Items[0].Quantity = 99
	assert.Equal(t, 2, stored.Items[0].Quantity)
}

func TestPlaceOrder_UsesCurrentCatalogPrice(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, twoLines()...)
	f.catalog.products["p1"] = catalog.Product{ID: "p1", Name: "Mug v2", Price: d("25"), Stock: 5, Active: true}

	receipt, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	require.NoError(t, err)
	assert.Equal(t, "Mug v2", receipt.Order.Items[0].Name)
	assert.True(t, receipt.Order.Subtotal.Equal(d("65")))
}

func TestPlaceOrder_InsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, domain.LineItem{ProductID: "p1", Name: "Mug", Price: d("20"), Quantity: 6})

	_, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	assert.Zero(t, f.orders.creates)
	assert.Len(t, f.cartItems(t, bob), 1)
}

func TestPlaceOrder_ProductGone(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, domain.LineItem{ProductID: "p9", Name: "Ghost", Price: d("1"), Quantity: 1})

	_, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestPlaceOrder_CatalogUnavailable(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, twoLines()...)
	f.catalog.err = apperrors.ServiceUnavailable("catalog is unavailable")

	_, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	assert.ErrorIs(t, err, apperrors.ErrServiceUnavail)
	assert.Zero(t, f.orders.creates)
	assert.Zero(t, f.carts.writes)
}

func TestPlaceOrder_PersistFailureLeavesCart(t *testing.T) {
	f := newFixture(t)
	f.seed(t, bob, twoLines()...)
	f.orders.createErr = apperrors.StoreWrite("save order", errors.New("pg down"))

	_, err := f.coord.PlaceOrder(context.Background(), bob, validInput())
	assert.ErrorIs(t, err, apperrors.ErrStoreWrite)
	assert.Len(t, f.cartItems(t, bob), 2)
	assert.Zero(t, f.carts.writes)
}

func TestPlaceOrder_PartialThenReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, bob, twoLines()...)
	f.carts.failures = 1

	receipt, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrPartialCheckout)
	var partial *PartialCheckoutError
	require.ErrorAs(t, err, &partial)
	require.NotNil(t, receipt)
	assert.Equal(t, partial.Order.ID, receipt.Order.ID)
	assert.Len(t, f.cartItems(t, bob), 2)

	// Resubmitting the same snapshot must not create a second order.
	again, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, receipt.Order.ID, again.Order.ID)
	assert.Equal(t, 1, f.orders.count())
	assert.Empty(t, f.cartItems(t, bob))
}

func TestPlaceOrder_ReplayClearFailsAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, bob, twoLines()...)
	f.carts.failures = 2

	_, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.ErrorIs(t, err, apperrors.ErrPartialCheckout)

	receipt, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.ErrorIs(t, err, apperrors.ErrPartialCheckout)
	assert.True(t, receipt.Replayed)
	assert.Equal(t, 1, f.orders.count())
}

func TestPlaceOrder_DuplicateSubmitAfterClearIsReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, bob, twoLines()...)

	snapshot, err := f.carts.Load(ctx, bob.Key())
	require.NoError(t, err)

	first, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.NoError(t, err)

	// The second submission read the cart before the first one emptied it.
	f.carts.stale = snapshot
	second, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Order.ID, second.Order.ID)
	assert.Equal(t, 1, f.orders.count())
	assert.Empty(t, f.cartItems(t, bob))
	assert.Equal(t, []string{"user:bob:order_placed"}, f.events.clears)
}

func TestPlaceOrder_ReplayKeepsNewerCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, bob, twoLines()...)

	snapshot, err := f.carts.Load(ctx, bob.Key())
	require.NoError(t, err)
	_, err = f.coord.PlaceOrder(ctx, bob, validInput())
	require.NoError(t, err)

	current, err := f.carts.Load(ctx, bob.Key())
	require.NoError(t, err)
	current.Items = []domain.LineItem{{ProductID: "p2", Name: "Lamp", Price: d("15"), Quantity: 1}}
	ok, err := f.carts.Replace(ctx, current, current.Version)
	require.NoError(t, err)
	require.True(t, ok)

	f.carts.stale = snapshot
	receipt, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.ErrorIs(t, err, apperrors.ErrPartialCheckout)
	assert.True(t, receipt.Replayed)
	assert.Len(t, f.cartItems(t, bob), 1)
}

func TestPlaceOrder_StockCheckedAgainstCatalogNotCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cached := catalog.NewCachedLookup(f.catalog, client, 5*time.Minute, 0, testLogger())
	_, err := cached.GetProduct(ctx, "p1")
	require.NoError(t, err)
	f.coord.catalog = cached.Fresh()

	f.seed(t, bob, domain.LineItem{ProductID: "p1", Name: "Mug", Price: d("20"), Quantity: 3})
	f.catalog.products["p1"] = catalog.Product{ID: "p1", Name: "Mug", Price: d("20"), Stock: 0, Active: true}

	_, err = f.coord.PlaceOrder(ctx, bob, validInput())
	assert.ErrorIs(t, err, apperrors.ErrInsufficientStock)
	assert.Zero(t, f.orders.creates)
}

func TestPlaceOrder_GuestUsesGuestStoreAndPolicy(t *testing.T) {
	f := newFixture(t)
	guest := domain.GuestSession("g-7")
	f.seed(t, guest, twoLines()...)

	receipt, err := f.coord.PlaceOrder(context.Background(), guest, validInput())
	require.NoError(t, err)
	assert.True(t, receipt.Order.Guest)
	assert.True(t, receipt.Order.Shipping.Equal(d("10")), "55 is not above the guest threshold")
	assert.True(t, receipt.Order.Total.Equal(d("65")))
	assert.Empty(t, f.cartItems(t, guest))
	assert.Zero(t, f.carts.writes)
}

func TestIdempotencyKey(t *testing.T) {
	a := domain.NewCart("user:bob", false, "USD")
	a.ID, a.Version, a.Items = "c1", 3, twoLines()

	b := *a
	b.Items = []domain.LineItem{a.Items[1], a.Items[0]}
	assert.Equal(t, IdempotencyKey(a), IdempotencyKey(&b), "item order is irrelevant")

	c := *a
	c.Version = 4
	assert.NotEqual(t, IdempotencyKey(a), IdempotencyKey(&c))

	e := *a
	e.Items = domain.CloneItems(a.Items)
	e.Items[0].Quantity = 3
	assert.NotEqual(t, IdempotencyKey(a), IdempotencyKey(&e))
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, bob, twoLines()...)
	receipt, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.NoError(t, err)

	got, err := f.coord.GetOrder(ctx, bob, receipt.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, receipt.Order.ID, got.ID)

	_, err = f.coord.GetOrder(ctx, domain.User("mallory"), receipt.Order.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.coord.GetOrder(ctx, bob, "not-a-uuid")
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestListOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seed(t, bob, twoLines()...)
	_, err := f.coord.PlaceOrder(ctx, bob, validInput())
	require.NoError(t, err)

	orders, total, err := f.coord.ListOrders(ctx, bob, pagination.Params{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Len(t, orders, 1)

	orders, total, err = f.coord.ListOrders(ctx, domain.User("nobody"), pagination.Params{Page: 1, PerPage: 10})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, orders)
}
