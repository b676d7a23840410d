package kafka

import (
	"context"
	"strconv"

	"github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type Topics struct {
	OrderEvents string
	Inventory   string
	FraudChecks string
	ChangeFeed  string
	Refunds     string
	FraudReview string
	Archive     string
}

func DefaultTopics() Topics {
	return Topics{
		OrderEvents: orders.TopicOrderEvents,
		Inventory:   orders.TopicInventoryAdjust,
		FraudChecks: orders.TopicFraudChecks,
		ChangeFeed:  orders.TopicOrderChangeFeed,
		Refunds:     orders.TopicRefundRequests,
		FraudReview: orders.TopicFraudReview,
		Archive:     orders.TopicOrderArchive,
	}
}

type publisher interface {
	Publish(ctx context.Context, topic string, key, value []byte, headers ...kafka.Header) error
}

// Bus maps the domain's publish/enqueue operations onto topics. Order events go out
// enveloped on the broadcast topic (one consumer group per subscriber); work-queue
// messages go out as raw payloads on their own topics.
type Bus struct {
	P       publisher
	Topics  Topics
	Service string
}

func (b *Bus) PublishOrderEvent(ctx context.Context, ev orders.OrderEvent) error {
	env := NewEnvelope(ev.EventType, b.Service, ev.OrderID, ev)
	return b.P.Publish(ctx, b.Topics.OrderEvents, orders.PartitionKey(ev.OrderID), MustMarshal(env),
		kafka.Header{Key: HeaderEventType, Value: []byte(ev.EventType)},
		kafka.Header{Key: HeaderEventVersion, Value: []byte(strconv.Itoa(env.EventVersion))},
	)
}

func (b *Bus) PublishOrderCreated(ctx context.Context, ev orders.OrderEvent) error {
	ev.EventType = orders.EventOrderCreated
	return b.PublishOrderEvent(ctx, ev)
}

func (b *Bus) EnqueueInventoryAdjustment(ctx context.Context, msg orders.InventoryAdjustmentMessage) error {
	return b.P.Publish(ctx, b.Topics.Inventory, orders.PartitionKey(msg.OrderID), MustMarshal(msg))
}

func (b *Bus) EnqueueFraudCheck(ctx context.Context, msg orders.FraudCheckMessage) error {
	return b.P.Publish(ctx, b.Topics.FraudChecks, orders.PartitionKey(msg.OrderID), MustMarshal(msg))
}

func (b *Bus) RequestRefund(ctx context.Context, req orders.RefundRequest) error {
	return b.P.Publish(ctx, b.Topics.Refunds, orders.PartitionKey(req.OrderID), MustMarshal(req))
}

func (b *Bus) RequestFraudReview(ctx context.Context, req orders.FraudReviewRequest) error {
	return b.P.Publish(ctx, b.Topics.FraudReview, orders.PartitionKey(req.OrderID), MustMarshal(req))
}

func (b *Bus) ArchiveOrder(ctx context.Context, o orders.Order) error {
	return b.P.Publish(ctx, b.Topics.Archive, orders.PartitionKey(o.OrderID), MustMarshal(o))
}

// PublishChange forwards a commit-log record, keyed by order so per-order order holds.
func (b *Bus) PublishChange(ctx context.Context, orderID string, record []byte) error {
	return b.P.Publish(ctx, b.Topics.ChangeFeed, orders.PartitionKey(orderID), record)
}
