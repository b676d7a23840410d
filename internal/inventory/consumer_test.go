package inventory

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
	"github.com/ariefcatur/go-order-saga/internal/redisx"
)

type memCatalog struct {
	stock   map[string]int
	failFor string
}

func (c *memCatalog) AdjustStock(_ context.Context, productID string, delta int) error {
	if productID == c.failFor {
		return errors.New("throttled")
	}
	if _, ok := c.stock[productID]; !ok {
		return &orders.ProductNotFoundError{ProductID: productID}
	}
	c.stock[productID] += delta
	return nil
}

func newCatalog() *memCatalog {
	return &memCatalog{stock: map[string]int{"prod-1": 10, "prod-2": 5}}
}

func newTestConsumer(cat Catalog, dedup Deduper) *Consumer {
	logger, _ := test.NewNullLogger()
	return &Consumer{Catalog: cat, Dedup: dedup, Log: logger}
}

func redisDeduper(t *testing.T) *redisx.Deduper {
	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })
	return &redisx.Deduper{Redis: rdb, Consumer: "inventory"}
}

const orderMsg = `{"order_id":"o-1","items":[{"product_id":"prod-1","quantity":2},{"product_id":"prod-2","quantity":1}]}`

func TestConsumer_DecrementsStock(t *testing.T) {
	cat := newCatalog()
	rep := newTestConsumer(cat, nil).HandleBatch(context.Background(), []queue.Message{{ID: "m1", Body: []byte(orderMsg)}})

	assert.Zero(t, rep.Failed())
	assert.Equal(t, 8, cat.stock["prod-1"])
	assert.Equal(t, 4, cat.stock["prod-2"])
}

// Known gap: without a dedup guard a redelivered adjustment is applied twice.
func TestConsumer_DuplicateDeliveryDecrementsTwiceWithoutDedup(t *testing.T) {
	cat := newCatalog()
	c := newTestConsumer(cat, nil)
	msg := queue.Message{ID: "m1", Body: []byte(orderMsg)}

	c.HandleBatch(context.Background(), []queue.Message{msg})
	c.HandleBatch(context.Background(), []queue.Message{msg})

	assert.Equal(t, 6, cat.stock["prod-1"])
	assert.Equal(t, 3, cat.stock["prod-2"])
}

func TestConsumer_DedupAppliesOnce(t *testing.T) {
	cat := newCatalog()
	c := newTestConsumer(cat, redisDeduper(t))
	msg := queue.Message{ID: "m1", Body: []byte(orderMsg)}

	c.HandleBatch(context.Background(), []queue.Message{msg})
	rep := c.HandleBatch(context.Background(), []queue.Message{msg})

	assert.Equal(t, 1, rep.Counters["duplicates"])
	assert.Equal(t, 8, cat.stock["prod-1"])
	assert.Equal(t, 4, cat.stock["prod-2"])
}

func TestConsumer_DedupResumesPartialMessage(t *testing.T) {
	cat := newCatalog()
	cat.failFor = "prod-2"
	c := newTestConsumer(cat, redisDeduper(t))
	msg := queue.Message{ID: "m1", Body: []byte(orderMsg)}

	rep := c.HandleBatch(context.Background(), []queue.Message{msg})
	require.Equal(t, 1, rep.Failed())
	assert.Equal(t, 8, cat.stock["prod-1"])

	cat.failFor = ""
	rep = c.HandleBatch(context.Background(), []queue.Message{msg})
	assert.Zero(t, rep.Failed())
	assert.Equal(t, 8, cat.stock["prod-1"], "already applied line is skipped")
	assert.Equal(t, 4, cat.stock["prod-2"])
}

func TestConsumer_CancellationReversesStock(t *testing.T) {
	cat := newCatalog()
	c := newTestConsumer(cat, redisDeduper(t))

	c.HandleBatch(context.Background(), []queue.Message{{ID: "m1", Body: []byte(orderMsg)}})
	c.HandleBatch(context.Background(), []queue.Message{{ID: "m2", Body: []byte(
		`{"order_id":"o-1","reason":"order_cancelled","items":[{"product_id":"prod-1","quantity":-2},{"product_id":"prod-2","quantity":-1}]}`,
	)}})

	assert.Equal(t, 10, cat.stock["prod-1"])
	assert.Equal(t, 5, cat.stock["prod-2"])
}

func TestConsumer_IsolatesFailures(t *testing.T) {
	cat := newCatalog()
	rep := newTestConsumer(cat, nil).HandleBatch(context.Background(), []queue.Message{
		{ID: "bad", Body: []byte(`{"order_id":`)},
		{ID: "unknown", Body: []byte(`{"order_id":"o-2","items":[{"product_id":"nope","quantity":1}]}`)},
		{ID: "good", Body: []byte(`{"order_id":"o-3","items":[{"product_id":"prod-1","quantity":3}]}`)},
	})

	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 2, rep.Failed())
	assert.Contains(t, rep.FailedIDs(), "bad")
	assert.Contains(t, rep.FailedIDs(), "unknown")
	assert.Equal(t, 7, cat.stock["prod-1"])
}

func TestConsumer_StockMayGoNegative(t *testing.T) {
	cat := newCatalog()
	newTestConsumer(cat, nil).HandleBatch(context.Background(), []queue.Message{
		{ID: "m", Body: []byte(`{"order_id":"o-4","items":[{"product_id":"prod-2","quantity":7}]}`)},
	})
	assert.Equal(t, -2, cat.stock["prod-2"])
}
