package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/engine"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// MoveResult holds both collections after a move.
type MoveResult struct {
	Cart     *CartView        `json:"cart"`
	Wishlist *domain.Wishlist `json:"wishlist"`
}

// sagaStep is one document write of a move together with the write that
// reverts it. skip marks a step whose document does not change.
type sagaStep struct {
	name  string
	skip  bool
	write func(ctx context.Context) (bool, error)
	undo  func(ctx context.Context) (bool, error)
}

// runMove writes dest first and src second. When src fails or hits a
// version conflict, dest is reverted so the product is never left in both
// collections or in neither. It returns false, nil on a conflict that the
// caller may retry.
func (s *CartService) runMove(ctx context.Context, dest, src sagaStep) (bool, error) {
	if !dest.skip {
		ok, err := dest.write(ctx)
		if err != nil || !ok {
			return ok, err
		}
	}

	ok, srcErr := src.write(ctx)
	if srcErr == nil && ok {
		return true, nil
	}
	if dest.skip {
		return ok, srcErr
	}

	// The request may already be canceled; the revert must still run.
	undoCtx := context.WithoutCancel(ctx)
	undone, undoErr := dest.undo(undoCtx)
	if undoErr == nil && !undone {
		undoErr = apperrors.Conflict(dest.name + " changed before it could be restored")
	}
	if undoErr != nil {
		cause := srcErr
		if cause == nil {
			cause = apperrors.Conflict(src.name + " changed during move")
		}
		s.logger.ErrorContext(ctx, "move compensation failed",
			slog.String("destination", dest.name),
			slog.String("source", src.name),
			slog.String("source_error", cause.Error()),
			slog.String("compensation_error", undoErr.Error()),
		)
		return false, apperrors.StoreWrite("move "+src.name+" to "+dest.name, errors.Join(cause, undoErr))
	}

	s.logger.WarnContext(ctx, "move reverted",
		slog.String("destination", dest.name),
		slog.String("source", src.name),
	)
	return ok, srcErr
}

// MoveToWishlist takes productID out of the subject's cart and saves it on
// the wishlist.
func (s *CartService) MoveToWishlist(ctx context.Context, subject domain.Subject, productID string) (*MoveResult, error) {
	if err := signedIn(subject); err != nil {
		return nil, err
	}
	store := s.carts.Authenticated

	var (
		cart *domain.Cart
		wl   *domain.Wishlist
	)
	err := retry(ctx, "cart", s.cfg.MaxConflictRetries, func(ctx context.Context) (bool, error) {
		c, err := s.load(ctx, store, subject)
		if err != nil {
			return false, err
		}
		w, err := loadWishlist(ctx, s.wishlists, subject)
		if err != nil {
			return false, err
		}

		nextCart, nextWl, moved := engine.MoveToWishlist(c.Items, w.Items, productID)
		if !moved {
			return false, apperrors.NotFound("cart item", productID)
		}
		if err := s.cfg.Limits.check(nextWl); err != nil {
			return false, err
		}

		prevCart, prevWl := c.Items, w.Items
		cart, wl = c, w
		dest := sagaStep{
			name: "wishlist",
			skip: sameItems(prevWl, nextWl),
			write: func(ctx context.Context) (bool, error) {
				w.Items = nextWl
				return writeWishlist(ctx, s.wishlists, w, s.now())
			},
			undo: func(ctx context.Context) (bool, error) {
				w.Items = prevWl
				return writeWishlist(ctx, s.wishlists, w, s.now())
			},
		}
		src := sagaStep{
			name: "cart",
			write: func(ctx context.Context) (bool, error) {
				c.Items = nextCart
				ok, err := s.write(ctx, store, c)
				if !ok || err != nil {
					c.Items = prevCart
				}
				return ok, err
			},
		}
		return s.runMove(ctx, dest, src)
	})
	if err != nil {
		return nil, err
	}

	view := s.View(cart)
	if s.events != nil {
		logPublishError(ctx, s.logger, "cart.updated", cart.Owner, s.events.CartUpdated(ctx, cart, view.Summary))
		logPublishError(ctx, s.logger, "wishlist.updated", wl.Owner, s.events.WishlistUpdated(ctx, wl))
	}
	s.logger.InfoContext(ctx, "moved to wishlist",
		slog.String("owner", cart.Owner),
		slog.String("product_id", productID),
	)
	return &MoveResult{Cart: view, Wishlist: wl}, nil
}

// MoveToCart takes productID off the subject's wishlist and adds qty of it
// to the cart. qty below 1 adds one.
func (s *CartService) MoveToCart(ctx context.Context, subject domain.Subject, productID string, qty int) (*MoveResult, error) {
	if err := signedIn(subject); err != nil {
		return nil, err
	}
	store := s.carts.Authenticated

	var (
		cart *domain.Cart
		wl   *domain.Wishlist
	)
	err := retry(ctx, "wishlist", s.cfg.MaxConflictRetries, func(ctx context.Context) (bool, error) {
		w, err := loadWishlist(ctx, s.wishlists, subject)
		if err != nil {
			return false, err
		}
		c, err := s.load(ctx, store, subject)
		if err != nil {
			return false, err
		}

		nextWl, nextCart, moved := engine.MoveToCart(w.Items, c.Items, productID, qty)
		if !moved {
			return false, apperrors.NotFound("wishlist item", productID)
		}
		if err := s.cfg.Limits.check(nextCart); err != nil {
			return false, err
		}

		prevCart, prevWl := c.Items, w.Items
		cart, wl = c, w
		dest := sagaStep{
			name: "cart",
			write: func(ctx context.Context) (bool, error) {
				c.Items = nextCart
				return s.write(ctx, store, c)
			},
			undo: func(ctx context.Context) (bool, error) {
				c.Items = prevCart
				return s.write(ctx, store, c)
			},
		}
		src := sagaStep{
			name: "wishlist",
			write: func(ctx context.Context) (bool, error) {
				w.Items = nextWl
				ok, err := writeWishlist(ctx, s.wishlists, w, s.now())
				if !ok || err != nil {
					w.Items = prevWl
				}
				return ok, err
			},
		}
		return s.runMove(ctx, dest, src)
	})
	if err != nil {
		return nil, err
	}

	view := s.View(cart)
	if s.events != nil {
		logPublishError(ctx, s.logger, "wishlist.updated", wl.Owner, s.events.WishlistUpdated(ctx, wl))
		logPublishError(ctx, s.logger, "cart.updated", cart.Owner, s.events.CartUpdated(ctx, cart, view.Summary))
	}
	s.logger.InfoContext(ctx, "moved to cart",
		slog.String("owner", cart.Owner),
		slog.String("product_id", productID),
		slog.Int("quantity", max(qty, 1)),
	)
	return &MoveResult{Cart: view, Wishlist: wl}, nil
}
