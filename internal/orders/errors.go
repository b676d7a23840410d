package orders

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrProductNotFound      = errors.New("product not found")
	ErrPaymentRejected      = errors.New("payment rejected")
	ErrPaymentTimeout       = errors.New("payment gateway timeout")
	ErrPaymentFailed        = errors.New("payment processing failed")
	ErrStoreUnavailable     = errors.New("order store unavailable")
	ErrTransportUnavailable = errors.New("message transport unavailable")
	ErrOrderNotFound        = errors.New("order not found")
)

// ProductNotFoundError names the first product that failed validation.
type ProductNotFoundError struct {
	ProductID string
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("Product %s not found", e.ProductID)
}

func (e *ProductNotFoundError) Is(target error) bool { return target == ErrProductNotFound }

// InvalidRequestError carries the client-facing reason.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return e.Reason }

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

// FanoutError is returned when the order was persisted but a side effect could not be sent.
// The order stands; callers get the id so they do not retry and charge twice.
type FanoutError struct {
	OrderID string
	Step    string
	Err     error
}

func (e *FanoutError) Error() string {
	return fmt.Sprintf("order %s placed but %s failed: %v", e.OrderID, e.Step, e.Err)
}

func (e *FanoutError) Unwrap() []error { return []error{ErrTransportUnavailable, e.Err} }
