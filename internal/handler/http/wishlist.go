package http

import (
	"log/slog"
	"net/http"

	"github.com/utafrali/cartsync/internal/engine"
	"github.com/utafrali/cartsync/internal/service"
	"github.com/utafrali/cartsync/pkg/httputil"
)

// WishlistHandler serves the wishlist endpoints.
type WishlistHandler struct {
	wishlists *service.WishlistService
	carts     *service.CartService
	logger    *slog.Logger
}

// NewWishlistHandler creates a WishlistHandler. carts serves move-to-cart.
func NewWishlistHandler(wishlists *service.WishlistService, carts *service.CartService, logger *slog.Logger) *WishlistHandler {
	return &WishlistHandler{wishlists: wishlists, carts: carts, logger: logger}
}

// GetWishlist handles GET /api/v1/wishlist.
func (h *WishlistHandler) GetWishlist(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	wl, err := h.wishlists.Get(r.Context(), subj)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, wl)
}

// AddItem handles POST /api/v1/wishlist/items.
func (h *WishlistHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.mutate(w, r, engine.AddOp(req.item()))
}

// RemoveItem handles DELETE /api/v1/wishlist/items/{productId}.
func (h *WishlistHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.mutate(w, r, engine.RemoveOp(productID))
}

// ClearWishlist handles DELETE /api/v1/wishlist.
func (h *WishlistHandler) ClearWishlist(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, engine.ClearOp())
}

func (h *WishlistHandler) mutate(w http.ResponseWriter, r *http.Request, op engine.Op) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	wl, err := h.wishlists.Mutate(r.Context(), subj, op)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, wl)
}

// MoveToCart handles POST /api/v1/wishlist/items/{productId}/move-to-cart.
func (h *WishlistHandler) MoveToCart(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	productID, err := productIDParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	var req MoveToCartRequest
	if err := decodeOptional(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	res, err := h.carts.MoveToCart(r.Context(), subj, productID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}
