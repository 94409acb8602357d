package checkout

import (
	"fmt"

	"github.com/utafrali/cartsync/internal/domain"
	apperrors "github.com/utafrali/cartsync/pkg/errors"
)

// PartialCheckoutError reports an order that was placed while emptying the
// cart afterwards failed. Order is authoritative; the caller must not
// resubmit.
type PartialCheckoutError struct {
	Order *domain.Order
	Err   error
}

func (e *PartialCheckoutError) Error() string {
	return fmt.Sprintf("order %s placed but cart was not cleared: %v", e.Order.ID, e.Err)
}

func (e *PartialCheckoutError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, apperrors.ErrPartialCheckout) hold.
func (e *PartialCheckoutError) Is(target error) bool {
	return target == apperrors.ErrPartialCheckout
}
