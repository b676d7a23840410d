package orders

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/ariefcatur/go-order-saga/internal/attrvalue"
)

// ToImage renders the order as a change-feed snapshot.
func (o Order) ToImage() (attrvalue.Image, error) {
	items := make([]any, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, map[string]any{
			"product_id": it.ProductID,
			"quantity":   it.Quantity,
			"price":      it.Price,
			"subtotal":   it.Subtotal,
		})
	}
	m := map[string]any{
		"order_id":     o.OrderID,
		"customer_id":  o.CustomerID,
		"timestamp":    o.Timestamp,
		"items":        items,
		"total_amount": o.TotalAmount,
		"currency":     o.Currency,
		"status":       string(o.Status),
		"payment_id":   o.PaymentID,
		"created_at":   o.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if o.FraudScore != nil {
		m["fraud_score"] = *o.FraudScore
	}
	if o.FraudStatus != "" {
		m["fraud_status"] = string(o.FraudStatus)
	}
	return attrvalue.EncodeImage(m)
}

// OrderFromImage decodes a change-feed snapshot into an Order. Only order_id is required;
// absent attributes stay at their zero value.
func OrderFromImage(img attrvalue.Image) (Order, error) {
	tree, err := attrvalue.DecodeImage(img)
	if err != nil {
		return Order{}, err
	}
	v := valueTree(tree)

	o := Order{
		OrderID:     v.str("order_id"),
		CustomerID:  v.str("customer_id"),
		Currency:    v.str("currency"),
		Status:      Status(v.str("status")),
		PaymentID:   v.str("payment_id"),
		FraudStatus: FraudStatus(v.str("fraud_status")),
		TotalAmount: v.dec("total_amount"),
		Timestamp:   v.dec("timestamp").IntPart(),
	}
	if o.OrderID == "" {
		return Order{}, errors.New("image has no order_id")
	}
	if raw := v.str("created_at"); raw != "" {
		if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			o.CreatedAt = t
		}
	}
	if d, ok := tree["fraud_score"].(decimal.Decimal); ok {
		f := d.InexactFloat64()
		o.FraudScore = &f
	}
	if list, ok := tree["items"].([]any); ok {
		for _, el := range list {
			m, ok := el.(map[string]any)
			if !ok {
				return Order{}, errors.Errorf("items: element is %T, want map", el)
			}
			iv := valueTree(m)
			o.Items = append(o.Items, LineItem{
				ProductID: iv.str("product_id"),
				Quantity:  int(iv.dec("quantity").IntPart()),
				Price:     iv.dec("price"),
				Subtotal:  iv.dec("subtotal"),
			})
		}
	}
	return o, nil
}

type valueTree map[string]any

func (v valueTree) str(key string) string {
	s, _ := v[key].(string)
	return s
}

func (v valueTree) dec(key string) decimal.Decimal {
	d, _ := v[key].(decimal.Decimal)
	return d
}
