package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/cartsync/internal/checkout"
	"github.com/utafrali/cartsync/pkg/httputil"
	"github.com/utafrali/cartsync/pkg/logger"
	"github.com/utafrali/cartsync/pkg/pagination"
)

// OrderHandler serves checkout and order history.
type OrderHandler struct {
	coordinator *checkout.Coordinator
	logger      *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(c *checkout.Coordinator, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{coordinator: c, logger: logger}
}

// PlaceOrder handles POST /api/v1/orders.
//
// A new order answers 201, a replay of an already ordered cart 200. An order
// placed while the cart could not be emptied answers 201 with both the
// receipt and a PARTIAL_CHECKOUT error, so clients show the order and do
// not resubmit.
func (h *OrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	var req checkout.PlaceOrderInput
	if err := decode(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	receipt, err := h.coordinator.PlaceOrder(r.Context(), subj, req)
	var partial *checkout.PartialCheckoutError
	switch {
	case errors.As(err, &partial):
		httputil.WriteJSON(w, http.StatusCreated, httputil.Response{
			Data: receipt,
			Error: &httputil.ErrorResponse{
				Code:      "PARTIAL_CHECKOUT",
				Message:   "your order was placed but the cart could not be emptied; do not resubmit",
				RequestID: logger.CorrelationIDFromContext(r.Context()),
			},
		})
	case err != nil:
		httputil.WriteError(w, r, err, h.logger)
	case receipt.Replayed:
		httputil.WriteData(w, http.StatusOK, receipt)
	default:
		httputil.WriteData(w, http.StatusCreated, receipt)
	}
}

// ListOrders handles GET /api/v1/orders.
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	page := pagination.FromRequest(r)
	orders, total, err := h.coordinator.ListOrders(r.Context(), subj, page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.NewPaginatedResponse(orders, total, page.Page, page.PerPage))
}

// GetOrder handles GET /api/v1/orders/{id}.
func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	subj, ok := subject(w, r, h.logger)
	if !ok {
		return
	}
	id, ok := httputil.ParseUUID(w, chi.URLParam(r, "id"))
	if !ok {
		return
	}
	order, err := h.coordinator.GetOrder(r.Context(), subj, id.String())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteData(w, http.StatusOK, order)
}
