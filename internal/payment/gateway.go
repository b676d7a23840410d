// Package payment charges customers through an external payment API.
package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

type ChargeRequest struct {
	CustomerID string
	Amount     decimal.Decimal
	Currency   string
}

type Receipt struct {
	ID string
}

// Gateway charges synchronously. Implementations return orders.ErrPaymentRejected,
// orders.ErrPaymentTimeout or orders.ErrPaymentFailed (possibly wrapped) on failure.
// The caller bounds the call with ctx.
type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (Receipt, error)
}

const unknownPaymentID = "unknown"
