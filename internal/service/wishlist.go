package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/utafrali/cartsync/internal/catalog"
	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/engine"
	"github.com/utafrali/cartsync/internal/repository"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// WishlistService implements wishlist reads and mutations. Wishlists exist
// for signed-in users only.
type WishlistService struct {
	store      repository.WishlistStore
	catalog    catalog.Lookup
	events     Events
	logger     *slog.Logger
	maxRetries int
	limits     Limits
	now        func() time.Time
}

// NewWishlistService creates a WishlistService. lookup and events may be nil.
func NewWishlistService(store repository.WishlistStore, lookup catalog.Lookup, events Events, logger *slog.Logger, maxRetries int, limits Limits) *WishlistService {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxConflictRetries
	}
	return &WishlistService{
		store:      store,
		catalog:    lookup,
		events:     events,
		logger:     logger,
		maxRetries: maxRetries,
		limits:     limits.withDefaults(),
		now:        utcNow,
	}
}

// Get returns the subject's wishlist, empty when none is stored.
func (s *WishlistService) Get(ctx context.Context, subject domain.Subject) (*domain.Wishlist, error) {
	if err := signedIn(subject); err != nil {
		return nil, err
	}
	return loadWishlist(ctx, s.store, subject)
}

// Mutate applies an add, remove or clear to the subject's wishlist.
func (s *WishlistService) Mutate(ctx context.Context, subject domain.Subject, op engine.Op) (*domain.Wishlist, error) {
	if err := signedIn(subject); err != nil {
		return nil, err
	}
	var err error
	if op.Kind == engine.OpAdd {
		if op.Item, err = resolveItem(ctx, s.catalog, op.Item, domain.KindWishlist); err != nil {
			return nil, err
		}
		op.ProductID = op.Item.ProductID
	}

	var (
		wl      *domain.Wishlist
		changed bool
	)
	err = retry(ctx, "wishlist", s.maxRetries, func(ctx context.Context) (bool, error) {
		loaded, err := loadWishlist(ctx, s.store, subject)
		if err != nil {
			return false, err
		}
		wl = loaded
		next, err := engine.Apply(wl.Items, op, domain.KindWishlist)
		if err != nil {
			return false, apperrors.InvalidInput(err.Error())
		}
		if sameItems(wl.Items, next) {
			changed = false
			return true, nil
		}
		if err := s.limits.check(next); err != nil {
			return false, err
		}
		wl.Items = next
		changed = true
		return writeWishlist(ctx, s.store, wl, s.now())
	})
	if err != nil {
		return nil, err
	}

	if changed {
		if s.events != nil {
			logPublishError(ctx, s.logger, "wishlist.updated", wl.Owner, s.events.WishlistUpdated(ctx, wl))
		}
		s.logger.InfoContext(ctx, "wishlist updated",
			slog.String("owner", wl.Owner),
			slog.String("op", string(op.Kind)),
			slog.String("product_id", op.ProductID),
		)
	}
	return wl, nil
}

func signedIn(subject domain.Subject) error {
	if err := subject.Validate(); err != nil {
		return err
	}
	if subject.Guest {
		return apperrors.Forbidden("wishlist requires sign-in")
	}
	return nil
}

func loadWishlist(ctx context.Context, store repository.WishlistStore, subject domain.Subject) (*domain.Wishlist, error) {
	wl, err := store.Load(ctx, subject.Key())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return domain.NewWishlist(subject.Key()), nil
		}
		return nil, fmt.Errorf("load wishlist: %w", err)
	}
	if wl.Items == nil {
		wl.Items = []domain.LineItem{}
	}
	return wl, nil
}

func writeWishlist(ctx context.Context, store repository.WishlistStore, wl *domain.Wishlist, now time.Time) (bool, error) {
	if wl.CreatedAt.IsZero() {
		wl.CreatedAt = now
	}
	wl.UpdatedAt = now
	return store.Replace(ctx, wl, wl.Version)
}
