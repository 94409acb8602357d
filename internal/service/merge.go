package service

import (
	"context"
	"log/slog"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/engine"
	"github.com/utafrali/cartsync/internal/event"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// MergeGuest folds the guest cart into the signed-in user's cart under the
// configured merge policy, then empties the guest slot. The user's cart is
// written first; a guest slot that cannot be emptied is logged and left
// behind.
func (s *CartService) MergeGuest(ctx context.Context, guest, user domain.Subject) (*CartView, error) {
	if !guest.Guest {
		return nil, apperrors.InvalidInput("merge source must be a guest session")
	}
	if user.Guest {
		return nil, apperrors.InvalidInput("merge target must be a signed-in user")
	}
	if err := guest.Validate(); err != nil {
		return nil, err
	}
	if err := user.Validate(); err != nil {
		return nil, err
	}
	guestStore, err := s.carts.For(guest)
	if err != nil {
		return nil, err
	}

	guestCart, err := s.load(ctx, guestStore, guest)
	if err != nil {
		return nil, err
	}
	if guestCart.IsEmpty() {
		return s.Get(ctx, user)
	}

	store := s.carts.Authenticated
	var (
		cart    *domain.Cart
		changed bool
	)
	err = retry(ctx, "cart", s.cfg.MaxConflictRetries, func(ctx context.Context) (bool, error) {
		c, err := s.load(ctx, store, user)
		if err != nil {
			return false, err
		}
		cart = c
		merged := engine.Merge(guestCart.Items, c.Items, s.cfg.MergePolicy)
		if sameItems(c.Items, merged) {
			changed = false
			return true, nil
		}
		if err := s.cfg.Limits.check(merged); err != nil {
			return false, err
		}
		c.Items = merged
		changed = true
		return s.write(ctx, store, c)
	})
	if err != nil {
		return nil, err
	}

	view := s.View(cart)
	if changed {
		s.publish(ctx, cart, view.Summary, false, "")
	}

	guestCart.Items = []domain.LineItem{}
	ok, err := s.write(ctx, guestStore, guestCart)
	switch {
	case err != nil:
		s.logger.WarnContext(ctx, "guest cart not cleared after merge",
			slog.String("guest", guest.Key()),
			slog.String("error", err.Error()),
		)
	case !ok:
		s.logger.WarnContext(ctx, "guest cart changed during merge, left in place",
			slog.String("guest", guest.Key()),
		)
	default:
		s.publish(ctx, guestCart, view.Summary, true, event.ClearedByMerge)
	}

	s.logger.InfoContext(ctx, "guest cart merged",
		slog.String("owner", cart.Owner),
		slog.String("guest", guest.Key()),
		slog.String("policy", string(s.cfg.MergePolicy)),
		slog.Int("items", len(cart.Items)),
	)
	return view, nil
}
