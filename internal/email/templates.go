package email

import (
	"fmt"
	"strings"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type Message struct {
	To      string
	From    string
	Subject string
	Body    string
}

func Recipient(customerID string) string { return customerID + "@example.com" }

// Compose picks the template for eventType. Unknown types get a generic update.
func Compose(eventType string, o orders.Order, customerID, from string) Message {
	m := Message{To: Recipient(customerID), From: from}
	total := o.TotalAmount.StringFixed(2)

	switch eventType {
	case orders.EventOrderCreated:
		m.Subject = "Order Confirmation - " + o.OrderID
		m.Body = lines(
			"Thank you for your order!",
			"",
			"Order ID: "+o.OrderID,
			"Total: $"+total,
			"Status: "+string(o.Status),
			"",
			"We'll send you a shipping notification soon.",
		)
	case orders.EventOrderConfirmed:
		m.Subject = "Payment Confirmed - " + o.OrderID
		m.Body = lines(
			"Your payment has been confirmed!",
			"",
			"Order ID: "+o.OrderID,
			"Total: $"+total,
			"",
			"Your order is being prepared for shipping.",
		)
	case orders.EventOrderShipped:
		m.Subject = "Order Shipped - " + o.OrderID
		m.Body = lines(
			"Your order has been shipped!",
			"",
			"Order ID: "+o.OrderID,
			"Tracking: "+trackingNumber(o.OrderID),
			"",
			"Expected delivery: 3-5 business days",
		)
	default:
		m.Subject = "Order Update - " + o.OrderID
		m.Body = fmt.Sprintf("Order %s - Status: %s", o.OrderID, eventType)
	}
	return m
}

func trackingNumber(orderID string) string {
	id := strings.ToUpper(strings.ReplaceAll(orderID, "-", ""))
	if len(id) > 10 {
		id = id[:10]
	}
	return "TRACK-" + id
}

func lines(ls ...string) string { return strings.Join(ls, "\n") + "\n" }
