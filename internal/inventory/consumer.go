// Package inventory applies inventory-adjustment messages to catalog stock.
package inventory

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
)

type Catalog interface {
	AdjustStock(ctx context.Context, productID string, delta int) error
}

// Deduper guards against applying the same line twice. See redisx.Deduper.
type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
}

// Consumer decrements stock by each line's quantity. No floor is enforced.
// Without Dedup a redelivered message is applied again.
type Consumer struct {
	Catalog Catalog
	Dedup   Deduper
	Log     log.FieldLogger
}

func (c *Consumer) HandleBatch(ctx context.Context, msgs []queue.Message) queue.Report {
	logger := c.logger()
	logger.WithField("batch", len(msgs)).Info("processing inventory updates")

	rep := queue.Tally(ctx, msgs, c.handle)
	logger.WithFields(rep.Fields()).Info("inventory batch complete")
	return rep
}

func (c *Consumer) handle(ctx context.Context, m queue.Message) (string, error) {
	msg, err := orders.DecodePayload[orders.InventoryAdjustmentMessage](m.Body)
	if err != nil {
		return "", errors.Wrap(err, "decode inventory adjustment")
	}
	if msg.OrderID == "" {
		return "", errors.New("inventory adjustment without order_id")
	}
	reason := msg.Reason
	if reason == "" {
		reason = orders.AdjustmentPlaced
	}

	logger := c.logger().WithFields(log.Fields{"order_id": msg.OrderID, "reason": reason})
	skipped := 0
	for _, it := range msg.Items {
		if it.ProductID == "" {
			return "", errors.Errorf("order %s: item without product_id", msg.OrderID)
		}
		applied, err := c.apply(ctx, lineKey(msg.OrderID, reason, it.ProductID), it)
		if err != nil {
			return "", err
		}
		if !applied {
			skipped++
			continue
		}
		logger.WithFields(log.Fields{"product_id": it.ProductID, "delta": -it.Quantity}).Info("stock updated")
	}
	if skipped > 0 && skipped == len(msg.Items) {
		return "duplicates", nil
	}
	return "adjusted", nil
}

func (c *Consumer) apply(ctx context.Context, key string, it orders.ItemQty) (bool, error) {
	if c.Dedup != nil {
		ok, err := c.Dedup.Claim(ctx, key)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	if err := c.Catalog.AdjustStock(ctx, it.ProductID, -it.Quantity); err != nil {
		if c.Dedup != nil {
			if rerr := c.Dedup.Release(ctx, key); rerr != nil {
				c.logger().WithError(rerr).WithField("key", key).Warn("release dedup claim")
			}
		}
		return false, errors.Wrapf(err, "adjust %s", it.ProductID)
	}
	return true, nil
}

// lineKey identifies one line of one adjustment, so a partially applied message
// resumes where it stopped when redelivered.
func lineKey(orderID, reason, productID string) string {
	return fmt.Sprintf("%s:%s:%s", orderID, reason, productID)
}

func (c *Consumer) logger() log.FieldLogger {
	if c.Log == nil {
		return log.WithField("consumer", "inventory")
	}
	return c.Log
}
