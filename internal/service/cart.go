package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/cartsync/internal/catalog"
	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/engine"
	"github.com/utafrali/cartsync/internal/event"
	"github.com/utafrali/cartsync/internal/pricing"
	"github.com/utafrali/cartsync/internal/repository"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// CartView is a cart with its totals computed from its current items.
type CartView struct {
	*domain.Cart
	Summary pricing.Summary `json:"summary"`
}

// CartConfig holds the tunables of CartService.
type CartConfig struct {
	Pricing            pricing.Policies
	Currency           string
	MaxConflictRetries int
	MergePolicy        engine.MergePolicy
	Limits             Limits
}

// CartDeps are the collaborators of CartService. Catalog and Events may be
// nil.
type CartDeps struct {
	Carts     repository.CartStores
	Wishlists repository.WishlistStore
	Catalog   catalog.Lookup
	Events    Events
	Logger    *slog.Logger
}

// CartService implements cart reads and mutations for signed-in and guest
// subjects, and the moves between cart and wishlist.
type CartService struct {
	carts     repository.CartStores
	wishlists repository.WishlistStore
	catalog   catalog.Lookup
	events    Events
	logger    *slog.Logger
	cfg       CartConfig
	now       func() time.Time
}

// NewCartService creates a CartService.
func NewCartService(deps CartDeps, cfg CartConfig) *CartService {
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = DefaultMaxConflictRetries
	}
	if cfg.MergePolicy == "" {
		cfg.MergePolicy = engine.MergeSum
	}
	if cfg.Currency == "" {
		cfg.Currency = "USD"
	}
	cfg.Limits = cfg.Limits.withDefaults()

	return &CartService{
		carts:     deps.Carts,
		wishlists: deps.Wishlists,
		catalog:   deps.Catalog,
		events:    deps.Events,
		logger:    deps.Logger,
		cfg:       cfg,
		now:       utcNow,
	}
}

// View prices cart under the policy of its owner.
func (s *CartService) View(cart *domain.Cart) *CartView {
	return &CartView{
		Cart:    cart,
		Summary: pricing.Summarize(cart.Items, s.cfg.Pricing.For(cart.Guest)),
	}
}

// Get returns the subject's cart. A subject without a stored cart gets an
// empty one.
func (s *CartService) Get(ctx context.Context, subject domain.Subject) (*CartView, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	store, err := s.carts.For(subject)
	if err != nil {
		return nil, err
	}
	cart, err := s.load(ctx, store, subject)
	if err != nil {
		return nil, err
	}
	return s.View(cart), nil
}

// Mutate applies op to the subject's stored cart and writes the result under
// the loaded version. On a version conflict the cart is reloaded and op is
// applied again.
func (s *CartService) Mutate(ctx context.Context, subject domain.Subject, op engine.Op) (*CartView, error) {
	if err := subject.Validate(); err != nil {
		return nil, err
	}
	store, err := s.carts.For(subject)
	if err != nil {
		return nil, err
	}
	if op.Kind == engine.OpAdd {
		if op.Item, err = resolveItem(ctx, s.catalog, op.Item, domain.KindCart); err != nil {
			return nil, err
		}
		op.ProductID = op.Item.ProductID
	}

	var (
		cart    *domain.Cart
		changed bool
	)
	err = retry(ctx, "cart", s.cfg.MaxConflictRetries, func(ctx context.Context) (bool, error) {
		loaded, err := s.load(ctx, store, subject)
		if err != nil {
			return false, err
		}
		cart = loaded
		next, err := engine.Apply(cart.Items, op, domain.KindCart)
		if err != nil {
			return false, apperrors.InvalidInput(err.Error())
		}
		if sameItems(cart.Items, next) {
			changed = false
			return true, nil
		}
		if err := s.cfg.Limits.check(next); err != nil {
			return false, err
		}
		cart.Items = next
		changed = true
		return s.write(ctx, store, cart)
	})
	if err != nil {
		return nil, err
	}

	view := s.View(cart)
	if changed {
		s.publish(ctx, cart, view.Summary, op.Kind == engine.OpClear, event.ClearedByShopper)
		s.logger.InfoContext(ctx, "cart updated",
			slog.String("owner", cart.Owner),
			slog.String("op", string(op.Kind)),
			slog.String("product_id", op.ProductID),
			slog.Int("version", cart.Version),
		)
	}
	return view, nil
}

// Clear empties the subject's cart.
func (s *CartService) Clear(ctx context.Context, subject domain.Subject) (*CartView, error) {
	return s.Mutate(ctx, subject, engine.ClearOp())
}

func (s *CartService) load(ctx context.Context, store repository.CartStore, subject domain.Subject) (*domain.Cart, error) {
	cart, err := store.Load(ctx, subject.Key())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewCart(subject.Key(), subject.Guest, s.cfg.Currency), nil
		}
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if cart.Items == nil {
		cart.Items = []domain.LineItem{}
	}
	return cart, nil
}

// write stamps cart and replaces it under its current version.
func (s *CartService) write(ctx context.Context, store repository.CartStore, cart *domain.Cart) (bool, error) {
	now := s.now()
	if cart.ID == "" {
		cart.ID = uuid.NewString()
	}
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	return store.Replace(ctx, cart, cart.Version)
}

func (s *CartService) publish(ctx context.Context, cart *domain.Cart, summary pricing.Summary, cleared bool, reason string) {
	if s.events == nil {
		return
	}
	if cleared {
		logPublishError(ctx, s.logger, "cart.cleared", cart.Owner, s.events.CartCleared(ctx, cart, reason))
		return
	}
	logPublishError(ctx, s.logger, "cart.updated", cart.Owner, s.events.CartUpdated(ctx, cart, summary))
}
