package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ProductID   string          `json:"product_id" db:"product_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description,omitempty" db:"description"`
	Category    string          `json:"category" db:"category"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock"`
}

type Order struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	Timestamp   int64           `json:"timestamp"` // creation time in ms, sort key of the customer index
	Items       []LineItem      `json:"items"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Currency    string          `json:"currency"`
	Status      Status          `json:"status"`
	PaymentID   string          `json:"payment_id"`
	CreatedAt   time.Time       `json:"created_at"`
	FraudScore  *float64        `json:"fraud_score,omitempty"`
	FraudStatus FraudStatus     `json:"fraud_status,omitempty"`
}

type LineItem struct {
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

// ItemQty is the request-side shape of a line item and the inventory message item.
type ItemQty struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func NewLineItem(productID string, quantity int, price decimal.Decimal) LineItem {
	return LineItem{
		ProductID: productID,
		Quantity:  quantity,
		Price:     price,
		Subtotal:  price.Mul(decimal.NewFromInt(int64(quantity))),
	}
}

// SumSubtotals is only called at creation; the stored total is never recomputed.
func SumSubtotals(items []LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.Subtotal)
	}
	return total
}

func (o Order) Quantities() []ItemQty {
	out := make([]ItemQty, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemQty{ProductID: it.ProductID, Quantity: it.Quantity})
	}
	return out
}
