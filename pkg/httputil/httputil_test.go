package httputil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/logger"
	"github.com/utafrali/cartsync/pkg/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	return resp
}

// --- WriteJSON ---

func TestWriteJSON_SetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteData(rec, http.StatusOK, "hello")

	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello", decode(t, rec).Data)
}

func TestWriteJSON_DataAndError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, Response{
		Data:  map[string]string{"id": "order-1"},
		Error: &ErrorResponse{Code: "PARTIAL_CHECKOUT", Message: "cart not cleared"},
	})

	resp := decode(t, rec)
	assert.NotNil(t, resp.Data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "PARTIAL_CHECKOUT", resp.Error.Code)
}

// --- WriteError ---

func TestWriteError_AppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)

	WriteError(rec, req, apperrors.EmptyCart(), testLogger())

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "EMPTY_CART", resp.Error.Code)
}

func TestWriteError_WrappedAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)

	err := fmt.Errorf("load cart: %w", apperrors.StoreWrite("save cart", errors.New("EOF")))
	WriteError(rec, req, err, testLogger())

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "STORE_WRITE_FAILED", resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "EOF")
}

func TestWriteError_ValidationError(t *testing.T) {
	type body struct {
		ProductID string `json:"product_id" validate:"required"`
	}
	verr := validator.Validate(body{})
	require.Error(t, verr)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/cart/items", nil)
	WriteError(rec, req, verr, testLogger())

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
	assert.Equal(t, "is required", resp.Error.Fields["product_id"])
}

func TestWriteError_UnknownErrorHidesMessage(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)

	WriteError(rec, req, errors.New("pq: relation does not exist"), testLogger())

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "INTERNAL_ERROR", resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "relation")
}

func TestWriteError_IncludesRequestID(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req = req.WithContext(logger.WithCorrelationID(context.Background(), "corr-1"))

	WriteError(rec, req, apperrors.Unauthorized("missing identity"), testLogger())

	resp := decode(t, rec)
	assert.Equal(t, "corr-1", resp.Error.RequestID)
}

// --- Pagination ---

func TestNewPaginatedResponse(t *testing.T) {
	p := NewPaginatedResponse([]int{1, 2}, 5, 1, 2)
	assert.Equal(t, 3, p.TotalPages)
	assert.True(t, p.HasNext)

	empty := NewPaginatedResponse[int](nil, 0, 1, 20)
	assert.NotNil(t, empty.Data)
	assert.False(t, empty.HasNext)
}

// --- ParseUUID ---

func TestParseUUID(t *testing.T) {
	rec := httptest.NewRecorder()
	_, ok := ParseUUID(rec, "not-a-uuid")
	assert.False(t, ok)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	id, ok := ParseUUID(rec, "6f1c1c1e-6d55-4d3e-9d57-2a4b9a0f3b11")
	assert.True(t, ok)
	assert.Equal(t, "6f1c1c1e-6d55-4d3e-9d57-2a4b9a0f3b11", id.String())
}
