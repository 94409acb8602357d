package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/utafrali/cartsync/internal/domain"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
	"github.com/utafrali/cartsync/pkg/validator"
)

// AddItemRequest is the body of POST /cart/items and POST /wishlist/items.
// Name and price may be omitted; they are then taken from the catalog.
type AddItemRequest struct {
	ProductID string          `json:"product_id" validate:"required,max=64"`
	Name      string          `json:"name,omitempty" validate:"max=500"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	Image     string          `json:"image,omitempty" validate:"omitempty,url,max=2048"`
	Quantity  int             `json:"quantity,omitempty" validate:"gte=0,lte=999"`
}

func (r AddItemRequest) item() domain.LineItem {
	return domain.LineItem{
		ProductID: r.ProductID,
		Name:      r.Name,
		Price:     r.Price,
		Image:     r.Image,
		Quantity:  r.Quantity,
	}
}

// SetQuantityRequest is the body of PUT /cart/items/{productId}. A quantity
// below 1 removes the item.
type SetQuantityRequest struct {
	Quantity int `json:"quantity" validate:"lte=999"`
}

// MoveToCartRequest is the optional body of
// POST /wishlist/items/{productId}/move-to-cart.
type MoveToCartRequest struct {
	Quantity int `json:"quantity,omitempty" validate:"gte=0,lte=999"`
}

// decode reads and validates a JSON body. Malformed JSON is reported as
// invalid input; validation errors keep their field details.
func decode(r *http.Request, dst any) error {
	return bodyError(validator.DecodeAndValidate(r, dst))
}

// decodeOptional is decode for endpoints whose body may be empty.
func decodeOptional(r *http.Request, dst any) error {
	err := validator.DecodeAndValidate(r, dst)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return bodyError(err)
}

func bodyError(err error) error {
	if err == nil {
		return nil
	}
	var valErr *validator.ValidationError
	if errors.As(err, &valErr) {
		return err
	}
	return apperrors.InvalidInput("invalid request body")
}

func productIDParam(r *http.Request) (string, error) {
	id := chi.URLParam(r, "productId")
	if id == "" || len(id) > 64 {
		return "", apperrors.InvalidInput("invalid product id")
	}
	return id, nil
}
