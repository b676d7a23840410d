package payment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// Outcome decides how a simulated charge ends.
type Outcome func(req ChargeRequest) error

func AlwaysApprove(ChargeRequest) error { return nil }

// Simulated stands in for the payment API when PAYMENT_API_URL is unset.
// It waits Latency (honouring ctx) and then applies Outcome.
type Simulated struct {
	Latency time.Duration
	Outcome Outcome
}

func (s *Simulated) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	if s.Latency > 0 {
		t := time.NewTimer(s.Latency)
		defer t.Stop()
		select {
		case <-ctx.Done():
			if ctx.Err() == context.DeadlineExceeded {
				return Receipt{}, orders.ErrPaymentTimeout
			}
			return Receipt{}, orders.ErrPaymentFailed
		case <-t.C:
		}
	}
	outcome := s.Outcome
	if outcome == nil {
		outcome = AlwaysApprove
	}
	if err := outcome(req); err != nil {
		return Receipt{}, err
	}
	return Receipt{ID: "pay_" + uuid.NewString()}, nil
}
