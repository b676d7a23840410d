// Package email turns order events into customer notifications.
package email

import (
	"context"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
)

const DefaultFrom = "noreply@ecommerce-demo.com"

type Store interface {
	GetOrder(ctx context.Context, orderID string, timestampMs int64) (orders.Order, error)
}

type Sender interface {
	Send(ctx context.Context, m Message) error
}

// LogSender writes the email to the log instead of delivering it.
type LogSender struct {
	Log log.FieldLogger
}

func (s LogSender) Send(_ context.Context, m Message) error {
	s.Log.WithFields(log.Fields{"to": m.To, "from": m.From, "subject": m.Subject}).Info("email sent")
	return nil
}

type Consumer struct {
	Store  Store
	Sender Sender
	From   string
	Log    log.FieldLogger
}

func (c *Consumer) HandleBatch(ctx context.Context, msgs []queue.Message) queue.Report {
	logger := c.logger()
	logger.WithField("batch", len(msgs)).Info("processing email notifications")

	rep := queue.Tally(ctx, msgs, c.handle)
	logger.WithFields(rep.Fields()).Info("email batch complete")
	return rep
}

func (c *Consumer) handle(ctx context.Context, m queue.Message) (string, error) {
	ev, err := orders.DecodePayload[orders.OrderEvent](m.Body)
	if err != nil {
		return "", errors.Wrap(err, "decode order event")
	}
	if ev.OrderID == "" {
		return "", errors.New("order event without order_id")
	}
	logger := c.logger().WithFields(log.Fields{"order_id": ev.OrderID, "event_type": ev.EventType})

	o, err := c.Store.GetOrder(ctx, ev.OrderID, ev.Timestamp)
	if errors.Is(err, orders.ErrOrderNotFound) {
		// the read may not see the order yet, nothing to mail
		logger.Infof("Order %s not found", ev.OrderID)
		return "not_found", nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "look up order %s", ev.OrderID)
	}

	customerID := ev.CustomerID
	if customerID == "" {
		customerID = o.CustomerID
	}
	msg := Compose(ev.EventType, o, customerID, c.from())
	if err := c.Sender.Send(ctx, msg); err != nil {
		return "", errors.Wrapf(err, "send email for %s", ev.OrderID)
	}
	return "sent", nil
}

func (c *Consumer) from() string {
	if c.From == "" {
		return DefaultFrom
	}
	return c.From
}

func (c *Consumer) logger() log.FieldLogger {
	if c.Log == nil {
		return log.WithField("consumer", "email")
	}
	return c.Log
}
