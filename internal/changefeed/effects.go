package changefeed

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

// Bus is the subset of kafka.Bus the side effects publish through.
type Bus interface {
	PublishOrderEvent(ctx context.Context, ev orders.OrderEvent) error
	EnqueueInventoryAdjustment(ctx context.Context, msg orders.InventoryAdjustmentMessage) error
	RequestRefund(ctx context.Context, req orders.RefundRequest) error
	RequestFraudReview(ctx context.Context, req orders.FraudReviewRequest) error
	ArchiveOrder(ctx context.Context, o orders.Order) error
}

// Claimer records which effects of a change already went out.
type Claimer interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// SideEffects keeps the customer's recent orders in Redis and hands everything else to the bus.
// Every publish is claimed under change:effect first, so a redelivered change only repeats
// the effects that did not go out. Once defaults to a Redis claimer on the same client.
type SideEffects struct {
	Redis *redis.Client
	Bus   Bus
	Once  Claimer
	Log   log.FieldLogger
}

// once runs fn unless effect was already applied for change. A failed fn gives the claim back.
func (e *SideEffects) once(ctx context.Context, change, effect string, fn func() error) error {
	claims := e.claimer()
	if claims == nil || change == "" {
		return fn()
	}
	id := change + ":" + effect
	ok, err := claims.Claim(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		e.logger().WithFields(log.Fields{"change": change, "effect": effect}).Info("effect already applied, skipping")
		return nil
	}
	if err := fn(); err != nil {
		if rerr := claims.Release(ctx, id); rerr != nil {
			e.logger().WithError(rerr).WithField("effect", effect).Warn("release effect claim")
		}
		return err
	}
	return nil
}

func (e *SideEffects) claimer() Claimer {
	if e.Once != nil {
		return e.Once
	}
	if e.Redis != nil {
		return &redisx.Deduper{Redis: e.Redis, Consumer: "changefeed"}
	}
	return nil
}

func (e *SideEffects) logger() log.FieldLogger {
	if e.Log == nil {
		return log.WithField("consumer", "changefeed")
	}
	return e.Log
}

func (e *SideEffects) IndexCustomerOrder(ctx context.Context, customerID, orderID string) error {
	key := fmt.Sprintf(redisx.KeyCustomerOrders, customerID)
	_, err := e.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, key, 0, orderID)
		p.LPush(ctx, key, orderID)
		p.LTrim(ctx, key, 0, redisx.CustomerCacheSize-1)
		p.Expire(ctx, key, redisx.TTLCustomerCache)
		return nil
	})
	return errors.Wrapf(err, "index order %s for %s", orderID, customerID)
}

func (e *SideEffects) RecentOrders(ctx context.Context, customerID string) ([]string, error) {
	ids, err := e.Redis.LRange(ctx, fmt.Sprintf(redisx.KeyCustomerOrders, customerID), 0, -1).Result()
	return ids, errors.Wrap(err, "recent orders")
}

func (e *SideEffects) OrderShipped(ctx context.Context, change string, o orders.Order) error {
	return e.once(ctx, change, "shipped", func() error {
		return e.Bus.PublishOrderEvent(ctx, orders.OrderEvent{
			OrderID:     o.OrderID,
			CustomerID:  o.CustomerID,
			TotalAmount: o.TotalAmount,
			EventType:   orders.EventOrderShipped,
			Timestamp:   o.Timestamp,
		})
	})
}

// OrderCancelled puts the stock back and asks payments for a refund.
func (e *SideEffects) OrderCancelled(ctx context.Context, change string, o orders.Order) error {
	reversal := o.Quantities()
	for i := range reversal {
		reversal[i].Quantity = -reversal[i].Quantity
	}
	if len(reversal) > 0 {
		err := e.once(ctx, change, "stock_reversal", func() error {
			return e.Bus.EnqueueInventoryAdjustment(ctx, orders.InventoryAdjustmentMessage{
				OrderID: o.OrderID,
				Items:   reversal,
				Reason:  orders.AdjustmentCancelled,
			})
		})
		if err != nil {
			return err
		}
	}
	err := e.once(ctx, change, "refund", func() error {
		return e.Bus.RequestRefund(ctx, orders.RefundRequest{
			OrderID:    o.OrderID,
			CustomerID: o.CustomerID,
			PaymentID:  o.PaymentID,
			Amount:     o.TotalAmount,
			Currency:   o.Currency,
		})
	})
	if err != nil {
		return err
	}
	return e.once(ctx, change, "cancelled", func() error {
		return e.Bus.PublishOrderEvent(ctx, orders.OrderEvent{
			OrderID:     o.OrderID,
			CustomerID:  o.CustomerID,
			TotalAmount: o.TotalAmount,
			EventType:   orders.EventOrderCancelled,
			Timestamp:   o.Timestamp,
		})
	})
}

func (e *SideEffects) FlagForReview(ctx context.Context, change string, o orders.Order) error {
	var score float64
	if o.FraudScore != nil {
		score = *o.FraudScore
	}
	return e.once(ctx, change, "review", func() error {
		return e.Bus.RequestFraudReview(ctx, orders.FraudReviewRequest{
			OrderID:    o.OrderID,
			CustomerID: o.CustomerID,
			FraudScore: score,
		})
	})
}

func (e *SideEffects) Archive(ctx context.Context, change string, o orders.Order) error {
	return e.once(ctx, change, "archive", func() error {
		return e.Bus.ArchiveOrder(ctx, o)
	})
}
