// Package changefeed re-derives side effects from the orders commit log: customer
// index maintenance on insert, shipment and cancellation handling and fraud review
// flags on modify, archiving on remove.
package changefeed

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/attrvalue"
	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
)

// Effects apply what a change implies. change identifies the commit-log record and is
// stable across redeliveries of it.
type Effects interface {
	IndexCustomerOrder(ctx context.Context, customerID, orderID string) error
	OrderShipped(ctx context.Context, change string, o orders.Order) error
	OrderCancelled(ctx context.Context, change string, o orders.Order) error
	FlagForReview(ctx context.Context, change string, o orders.Order) error
	Archive(ctx context.Context, change string, o orders.Order) error
}

type Processor struct {
	Effects   Effects
	Threshold float64
	Log       log.FieldLogger
}

// Decode parses one commit-log record.
func Decode(body []byte) (orders.ChangeRecord, error) {
	var rec orders.ChangeRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return orders.ChangeRecord{}, errors.Wrap(err, "decode change record")
	}
	return rec, nil
}

func (p *Processor) HandleBatch(ctx context.Context, msgs []queue.Message) queue.Report {
	logger := p.logger()
	logger.WithField("batch", len(msgs)).Info("processing change records")

	rep := queue.Tally(ctx, msgs, p.handle)
	logger.WithFields(rep.Fields()).Info("change batch complete")
	return rep
}

func (p *Processor) handle(ctx context.Context, m queue.Message) (string, error) {
	rec, err := Decode(m.Body)
	if err != nil {
		return "", err
	}
	change := rec.EventID
	if change == "" {
		change = m.ID
	}
	switch rec.EventName {
	case orders.ChangeInsert:
		return "inserts", p.insert(ctx, rec)
	case orders.ChangeModify:
		return "modifies", p.modify(ctx, change, rec)
	case orders.ChangeRemove:
		return "removes", p.remove(ctx, change, rec)
	}
	return "", errors.Errorf("unknown change event %q", rec.EventName)
}

func (p *Processor) insert(ctx context.Context, rec orders.ChangeRecord) error {
	o, err := image("NewImage", rec.Dynamodb.NewImage)
	if err != nil {
		return err
	}
	p.logger().WithFields(log.Fields{"order_id": o.OrderID, "customer_id": o.CustomerID}).Info("new order")
	return errors.Wrap(p.Effects.IndexCustomerOrder(ctx, o.CustomerID, o.OrderID), "index customer order")
}

func (p *Processor) modify(ctx context.Context, change string, rec orders.ChangeRecord) error {
	prev, err := image("OldImage", rec.Dynamodb.OldImage)
	if err != nil {
		return err
	}
	cur, err := image("NewImage", rec.Dynamodb.NewImage)
	if err != nil {
		return err
	}
	logger := p.logger().WithField("order_id", cur.OrderID)

	if prev.Status != cur.Status {
		entry := logger.WithFields(log.Fields{"from": prev.Status, "to": cur.Status})
		if orders.CanTransition(prev.Status, cur.Status) {
			entry.Info("status changed")
		} else {
			entry.Warn("status changed outside the order lifecycle")
		}
		switch cur.Status {
		case orders.StatusShipped:
			if err := p.Effects.OrderShipped(ctx, change, cur); err != nil {
				return errors.Wrap(err, "shipment side effects")
			}
		case orders.StatusCancelled:
			if err := p.Effects.OrderCancelled(ctx, change, cur); err != nil {
				return errors.Wrap(err, "cancellation side effects")
			}
		}
	}

	if p.needsReview(prev.FraudScore, cur.FraudScore) {
		logger.WithField("fraud_score", *cur.FraudScore).Warn("high fraud score, flagging for review")
		if err := p.Effects.FlagForReview(ctx, change, cur); err != nil {
			return errors.Wrap(err, "flag for review")
		}
	}
	return nil
}

func (p *Processor) remove(ctx context.Context, change string, rec orders.ChangeRecord) error {
	o, err := image("OldImage", rec.Dynamodb.OldImage)
	if err != nil {
		return err
	}
	p.logger().WithField("order_id", o.OrderID).Info("order removed")
	return errors.Wrap(p.Effects.Archive(ctx, change, o), "archive")
}

// needsReview is true when the new score reaches the threshold and is not the old score.
func (p *Processor) needsReview(prev, cur *float64) bool {
	if cur == nil || *cur < p.threshold() {
		return false
	}
	return prev == nil || *prev != *cur
}

func (p *Processor) threshold() float64 {
	if p.Threshold <= 0 {
		return 0.70
	}
	return p.Threshold
}

func (p *Processor) logger() log.FieldLogger {
	if p.Log == nil {
		return log.WithField("consumer", "changefeed")
	}
	return p.Log
}

func image(name string, img attrvalue.Image) (orders.Order, error) {
	if len(img) == 0 {
		return orders.Order{}, errors.Errorf("record has no %s", name)
	}
	o, err := orders.OrderFromImage(img)
	return o, errors.Wrapf(err, "decode %s", name)
}
