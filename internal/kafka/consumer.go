package kafka

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type BatchConfig struct {
	Size        int
	Wait        time.Duration
	MaxAttempts int
}

// Consumer delivers batches from one topic, plus its group's retry topic, to a
// queue.BatchHandler. Failed messages are re-enqueued on the group's retry topic with an
// incremented attempt header until MaxAttempts, then parked on the group's dead-letter
// topic. Offsets are committed only after routing, so a crash in between redelivers the
// whole batch.
type Consumer struct {
	r     messageReader
	w     messageWriter
	topic string
	group string
	cfg   BatchConfig
	log   log.FieldLogger
}

func NewConsumer(brokers []string, group, topic string, cfg BatchConfig, logger log.FieldLogger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		GroupTopics:    []string{topic, orders.RetryTopic(topic, group)},
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return newConsumer(r, w, topic, group, cfg, logger.WithFields(log.Fields{"topic": topic, "group": group}))
}

func newConsumer(r messageReader, w messageWriter, topic, group string, cfg BatchConfig, logger log.FieldLogger) *Consumer {
	if cfg.Size <= 0 {
		cfg.Size = 10
	}
	if cfg.Wait <= 0 {
		cfg.Wait = time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Consumer{r: r, w: w, topic: topic, group: group, cfg: cfg, log: logger}
}

// Run blocks until ctx is cancelled or the transport fails.
func (c *Consumer) Run(ctx context.Context, h queue.BatchHandler) error {
	defer func() {
		_ = c.r.Close()
		_ = c.w.Close()
	}()

	for {
		batch, err := c.fetchBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "fetch batch")
		}
		if err := c.process(ctx, batch, h); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// fetchBatch blocks for the first message, then collects more until Size or Wait.
func (c *Consumer) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := c.r.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	batch := []kafka.Message{first}

	waitCtx, cancel := context.WithTimeout(ctx, c.cfg.Wait)
	defer cancel()
	for len(batch) < c.cfg.Size {
		m, err := c.r.FetchMessage(waitCtx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			break // wait elapsed
		}
		batch = append(batch, m)
	}
	return batch, nil
}

func (c *Consumer) process(ctx context.Context, batch []kafka.Message, h queue.BatchHandler) error {
	msgs := make([]queue.Message, 0, len(batch))
	byID := make(map[string]kafka.Message, len(batch))
	for _, km := range batch {
		m := toQueueMessage(km)
		msgs = append(msgs, m)
		byID[m.ID] = km
	}

	rep := h.HandleBatch(ctx, msgs)
	c.log.WithFields(rep.Fields()).Info("batch complete")

	for _, f := range rep.Failures {
		km, ok := byID[f.MessageID]
		if !ok {
			continue
		}
		if err := c.route(ctx, km, f.Err); err != nil {
			return err
		}
	}
	return errors.Wrap(c.r.CommitMessages(ctx, batch...), "commit batch")
}

// route re-enqueues a failed message or parks it once its attempts are spent.
func (c *Consumer) route(ctx context.Context, km kafka.Message, cause error) error {
	attempt := attemptOf(km)
	id := messageID(km)
	reason := "<nil>"
	if cause != nil {
		reason = cause.Error()
	}

	headers := withHeader(km.Headers, HeaderMessageID, id)
	headers = withHeader(headers, HeaderLastError, reason)

	topic := orders.RetryTopic(c.topic, c.group)
	headers = withHeader(headers, HeaderOrigTopic, c.topic)
	fields := log.Fields{"message_id": id, "attempt": attempt, "error": reason}
	if attempt >= c.cfg.MaxAttempts {
		topic = orders.DeadLetterTopic(c.topic, c.group)
		c.log.WithFields(fields).Warn("message parked on dead-letter topic")
	} else {
		headers = withHeader(headers, HeaderAttempt, strconv.Itoa(attempt+1))
		c.log.WithFields(fields).Info("message scheduled for redelivery")
	}

	err := c.w.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     km.Key,
		Value:   km.Value,
		Time:    time.Now(),
		Headers: headers,
	})
	return errors.Wrapf(err, "route message %s to %s", id, topic)
}

func toQueueMessage(km kafka.Message) queue.Message {
	topic := km.Topic
	if orig, ok := header(km, HeaderOrigTopic); ok && orig != "" {
		topic = orig
	}
	return queue.Message{
		ID:      messageID(km),
		Topic:   topic,
		Key:     km.Key,
		Body:    km.Value,
		Attempt: attemptOf(km),
	}
}

// messageID is stable across redeliveries: the first delivery's coordinates.
func messageID(km kafka.Message) string {
	if id, ok := header(km, HeaderMessageID); ok && id != "" {
		return id
	}
	return fmt.Sprintf("%s/%d/%d", km.Topic, km.Partition, km.Offset)
}
