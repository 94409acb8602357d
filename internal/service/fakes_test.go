package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/utafrali/cartsync/internal/catalog"
	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/pricing"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// errConflict scripted into a store makes the next Replace report a version
// conflict.
var errConflict = errors.New("scripted conflict")

// script hands out one scripted outcome per Replace call. A nil entry or an
// exhausted script lets the write through.
type script struct {
	steps []error
}

func (s *script) next() error {
	if len(s.steps) == 0 {
		return nil
	}
	e := s.steps[0]
	s.steps = s.steps[1:]
	return e
}

type memCartStore struct {
	mu     sync.Mutex
	docs   map[string]domain.Cart
	script script
	writes int
}

func newMemCartStore() *memCartStore {
	return &memCartStore{docs: map[string]domain.Cart{}}
}

func (m *memCartStore) Load(_ context.Context, owner string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.docs[owner]
	if !ok {
		return nil, apperrors.NotFound("cart", owner)
	}
	c.Items = domain.CloneItems(c.Items)
	return &c, nil
}

func (m *memCartStore) Replace(_ context.Context, cart *domain.Cart, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch err := m.script.next(); {
	case errors.Is(err, errConflict):
		return false, nil
	case err != nil:
		return false, apperrors.StoreWrite("save cart", err)
	}
	if m.docs[cart.Owner].Version != expected {
		return false, nil
	}
	stored := *cart
	stored.Items = domain.CloneItems(cart.Items)
	stored.Version = expected + 1
	m.docs[cart.Owner] = stored
	cart.Version = expected + 1
	m.writes++
	return true, nil
}

func (m *memCartStore) seed(c domain.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[c.Owner] = c
}

func (m *memCartStore) items(owner string) []domain.LineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CloneItems(m.docs[owner].Items)
}

type memWishlistStore struct {
	mu     sync.Mutex
	docs   map[string]domain.Wishlist
	script script
	writes int
}

func newMemWishlistStore() *memWishlistStore {
	return &memWishlistStore{docs: map[string]domain.Wishlist{}}
}

func (m *memWishlistStore) Load(_ context.Context, owner string) (*domain.Wishlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.docs[owner]
	if !ok {
		return nil, apperrors.NotFound("wishlist", owner)
	}
	w.Items = domain.CloneItems(w.Items)
	return &w, nil
}

func (m *memWishlistStore) Replace(_ context.Context, wl *domain.Wishlist, expected int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch err := m.script.next(); {
	case errors.Is(err, errConflict):
		return false, nil
	case err != nil:
		return false, apperrors.StoreWrite("save wishlist", err)
	}
	if m.docs[wl.Owner].Version != expected {
		return false, nil
	}
	stored := *wl
	stored.Items = domain.CloneItems(wl.Items)
	stored.Version = expected + 1
	m.docs[wl.Owner] = stored
	wl.Version = expected + 1
	m.writes++
	return true, nil
}

func (m *memWishlistStore) items(owner string) []domain.LineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.CloneItems(m.docs[owner].Items)
}

type fakeCatalog struct {
	products map[string]*catalog.Product
	err      error
	calls    int
}

func (f *fakeCatalog) GetProduct(_ context.Context, id string) (*catalog.Product, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	p, ok := f.products[id]
	if !ok {
		return nil, apperrors.NotFound("product", id)
	}
	cp := *p
	return &cp, nil
}

type recordedEvent struct {
	kind   string
	owner  string
	reason string
}

type fakeEvents struct {
	mu     sync.Mutex
	events []recordedEvent
	err    error
}

func (f *fakeEvents) record(e recordedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, e)
	return f.err
}

func (f *fakeEvents) CartUpdated(_ context.Context, c *domain.Cart, _ pricing.Summary) error {
	return f.record(recordedEvent{kind: "cart.updated", owner: c.Owner})
}

func (f *fakeEvents) CartCleared(_ context.Context, c *domain.Cart, reason string) error {
	return f.record(recordedEvent{kind: "cart.cleared", owner: c.Owner, reason: reason})
}

func (f *fakeEvents) WishlistUpdated(_ context.Context, w *domain.Wishlist) error {
	return f.record(recordedEvent{kind: "wishlist.updated", owner: w.Owner})
}

func (f *fakeEvents) kinds() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.events))
	for i, e := range f.events {
		out[i] = e.kind
	}
	return out
}
