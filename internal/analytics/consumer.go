// Package analytics aggregates order_created events into per-order records and
// daily per-customer counters in Redis.
package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

type OrderMetrics struct {
	OrderID     string          `json:"order_id"`
	CustomerID  string          `json:"customer_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	Timestamp   time.Time       `json:"timestamp"`
	Metrics     Metrics         `json:"metrics"`
}

type Metrics struct {
	OrderValue decimal.Decimal `json:"order_value"`
	Currency   string          `json:"currency"`
	Channel    string          `json:"channel"`
}

type Daily struct {
	Date        string
	CustomerID  string
	OrdersCount int64
	Revenue     decimal.Decimal
}

type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Consumer counts every delivery it sees. Set Dedup to count each order once.
type Consumer struct {
	Redis    *redis.Client
	Dedup    Deduper
	Currency string
	Log      log.FieldLogger

	Now func() time.Time
}

func (c *Consumer) HandleBatch(ctx context.Context, msgs []queue.Message) queue.Report {
	logger := c.logger()
	logger.WithField("batch", len(msgs)).Info("processing analytics events")

	rep := queue.Tally(ctx, msgs, c.handle)
	logger.WithFields(rep.Fields()).Info("analytics batch complete")
	return rep
}

func (c *Consumer) handle(ctx context.Context, m queue.Message) (string, error) {
	ev, err := orders.DecodePayload[orders.OrderEvent](m.Body)
	if err != nil {
		return "", errors.Wrap(err, "decode order event")
	}
	if ev.EventType != orders.EventOrderCreated {
		return "ignored", nil
	}
	if ev.OrderID == "" {
		return "", errors.New("order event without order_id")
	}

	if c.Dedup != nil {
		ok, err := c.Dedup.Claim(ctx, ev.OrderID)
		if err != nil {
			return "", err
		}
		if !ok {
			return "duplicates", nil
		}
	}
	if err := c.record(ctx, ev); err != nil {
		if c.Dedup != nil {
			if rerr := c.Dedup.Release(ctx, ev.OrderID); rerr != nil {
				c.logger().WithError(rerr).Warn("release dedup claim")
			}
		}
		return "", err
	}
	c.logger().WithFields(log.Fields{"order_id": ev.OrderID, "customer_id": ev.CustomerID, "amount": ev.TotalAmount.String()}).
		Info("analytics processed")
	return "recorded", nil
}

func (c *Consumer) record(ctx context.Context, ev orders.OrderEvent) error {
	at := c.now().UTC()
	if ev.Timestamp > 0 {
		at = time.UnixMilli(ev.Timestamp).UTC()
	}
	rec, err := json.Marshal(OrderMetrics{
		OrderID:     ev.OrderID,
		CustomerID:  ev.CustomerID,
		TotalAmount: ev.TotalAmount,
		Timestamp:   at,
		Metrics:     Metrics{OrderValue: ev.TotalAmount, Currency: c.currency(), Channel: "web"},
	})
	if err != nil {
		return errors.Wrap(err, "encode metrics")
	}

	daily := dailyKey(at, ev.CustomerID)
	_, err = c.Redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, fmt.Sprintf(redisx.KeyOrderMetrics, ev.OrderID), rec, redisx.TTLOrderMetrics)
		p.HIncrBy(ctx, daily, "orders_count", 1)
		p.HIncrBy(ctx, daily, "revenue_cents", cents(ev.TotalAmount))
		p.Expire(ctx, daily, redisx.TTLDailyMetrics)
		return nil
	})
	return errors.Wrapf(err, "record analytics for %s", ev.OrderID)
}

// DailyMetrics reads the aggregate of customerID on the UTC day of at.
func (c *Consumer) DailyMetrics(ctx context.Context, at time.Time, customerID string) (Daily, error) {
	at = at.UTC()
	vals, err := c.Redis.HGetAll(ctx, dailyKey(at, customerID)).Result()
	if err != nil {
		return Daily{}, errors.Wrap(err, "read daily metrics")
	}
	d := Daily{Date: at.Format(time.DateOnly), CustomerID: customerID, Revenue: decimal.Zero}
	if v, ok := vals["orders_count"]; ok {
		n, err := decimal.NewFromString(v)
		if err != nil {
			return Daily{}, errors.Wrap(err, "parse orders_count")
		}
		d.OrdersCount = n.IntPart()
	}
	if v, ok := vals["revenue_cents"]; ok {
		n, err := decimal.NewFromString(v)
		if err != nil {
			return Daily{}, errors.Wrap(err, "parse revenue")
		}
		d.Revenue = n.Shift(-2)
	}
	return d, nil
}

func dailyKey(at time.Time, customerID string) string {
	return fmt.Sprintf(redisx.KeyDailyMetrics, at.Format(time.DateOnly), customerID)
}

func cents(amount decimal.Decimal) int64 { return amount.Shift(2).Round(0).IntPart() }

func (c *Consumer) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

func (c *Consumer) currency() string {
	if c.Currency == "" {
		return "USD"
	}
	return c.Currency
}

func (c *Consumer) logger() log.FieldLogger {
	if c.Log == nil {
		return log.WithField("consumer", "analytics")
	}
	return c.Log
}
