package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderCreated   = "order_created"
	EventOrderConfirmed = "order_confirmed"
	EventOrderShipped   = "order_shipped"
	EventOrderCancelled = "order_cancelled"
)

// Envelope is what the publisher puts on the wire around every payload.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // usually order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderEvent struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	EventType   string          `json:"event_type"`
	Timestamp   int64           `json:"timestamp,omitempty"`
}

func NewOrderCreatedEvent(o Order) OrderEvent {
	return OrderEvent{
		OrderID:     o.OrderID,
		CustomerID:  o.CustomerID,
		TotalAmount: o.TotalAmount,
		EventType:   EventOrderCreated,
		Timestamp:   o.Timestamp,
	}
}

type FraudCheckMessage struct {
	OrderID       string          `json:"order_id"`
	CustomerID    string          `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
}

const (
	AdjustmentPlaced    = "order_placed"
	AdjustmentCancelled = "order_cancelled"
)

// InventoryAdjustmentMessage asks for stock -= quantity per item. A cancellation
// carries negative quantities, which puts the stock back.
type InventoryAdjustmentMessage struct {
	OrderID string    `json:"order_id"`
	Items   []ItemQty `json:"items"`
	Reason  string    `json:"reason,omitempty"`
}

type RefundRequest struct {
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	PaymentID  string          `json:"payment_id"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
}

type FraudReviewRequest struct {
	OrderID    string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	FraudScore float64 `json:"fraud_score"`
}
