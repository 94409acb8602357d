package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/utafrali/cartsync/internal/domain"
	"github.com/utafrali/cartsync/internal/engine"
	"github.com/utafrali/cartsync/internal/service"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/httputil"
)

// CartHandler serves the cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a CartHandler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{service: svc, logger: logger}
}

// subject returns the caller resolved by Identity, writing a 401 when the
// middleware was not mounted.
func subject(w http.ResponseWriter, r *http.Request, l *slog.Logger) (domain.Subject, bool) {
	s, ok := SubjectFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), l)
	}
	return s, ok
}

// GetCart handles GET /api/v1/cart.
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.service.Get(r.Context(), subj)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view)
}

// ClearCart handles DELETE /api/v1/cart.
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.service.Clear(r.Context(), subj)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view)
}

// AddItem handles POST /api/v1/cart/items.
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.mutate(w, r, engine.AddOp(req.item()))
}

// SetQuantity handles PUT /api/v1/cart/items/{productId}.
func (h *CartHandler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	var req SetQuantityRequest
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.mutate(w, r, engine.SetQuantityOp(productID, req.Quantity))
}

// RemoveItem handles DELETE /api/v1/cart/items/{productId}.
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	productID, err := productIDParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	h.mutate(w, r, engine.RemoveOp(productID))
}

func (h *CartHandler) mutate(w http.ResponseWriter, r *http.Request, op engine.Op) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	view, err := h.service.Mutate(r.Context(), subj, op)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view)
}

// MoveToWishlist handles POST /api/v1/cart/items/{productId}/move-to-wishlist.
func (h *CartHandler) MoveToWishlist(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	productID, err := productIDParam(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	res, err := h.service.MoveToWishlist(r.Context(), subj, productID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, res)
}

// Merge handles POST /api/v1/cart/merge. The caller must be signed in and
// name the guest session to fold in with X-Guest-ID.
func (h *CartHandler) Merge(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	if subj.Guest {
		httputil.WriteError(w, r, apperrors.Forbidden("merging requires sign-in"), h.logger)
		return
	}
	guestID := strings.TrimSpace(r.Header.Get(HeaderGuestID))
	if guestID == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput(HeaderGuestID+" header is required"), h.logger)
		return
	}
	view, err := h.service.MergeGuest(r.Context(), domain.GuestSession(guestID), subj)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, view)
}
