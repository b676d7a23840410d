// Package outbox moves committed order_changes rows onto the change-feed topic.
package outbox

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

type ChangeLog interface {
	PendingChanges(ctx context.Context, limit int) ([]orders.PendingChange, error)
	MarkPublished(ctx context.Context, id int64) error
	MarkFailed(ctx context.Context, id int64, cause error) error
}

type Publisher interface {
	PublishChange(ctx context.Context, orderID string, record []byte) error
}

// Relay polls the change log. A row that fails to publish holds back the later rows of
// the same order until it goes through, so per-order order survives retries.
type Relay struct {
	Log       ChangeLog
	Publisher Publisher
	Interval  time.Duration
	Batch     int
	Logger    log.FieldLogger
}

type Stats struct {
	Published int
	Failed    int
	Held      int
}

func (r *Relay) Run(ctx context.Context) error {
	interval := r.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		st, err := r.Tick(ctx)
		if err != nil {
			r.logger().WithError(err).Warn("relay tick failed")
		} else if st.Published+st.Failed+st.Held > 0 {
			r.logger().WithFields(log.Fields{"published": st.Published, "failed": st.Failed, "held": st.Held}).Info("relay tick")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Tick publishes one batch of pending rows.
func (r *Relay) Tick(ctx context.Context) (Stats, error) {
	batch := r.Batch
	if batch <= 0 {
		batch = 100
	}
	pending, err := r.Log.PendingChanges(ctx, batch)
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	blocked := map[string]bool{}
	for _, pc := range pending {
		if blocked[pc.OrderID] {
			st.Held++
			continue
		}
		if err := r.Publisher.PublishChange(ctx, pc.OrderID, pc.Record); err != nil {
			st.Failed++
			blocked[pc.OrderID] = true
			r.logger().WithFields(log.Fields{"change_id": pc.ID, "order_id": pc.OrderID, "attempts": pc.Attempts + 1}).
				WithError(err).Warn("publish change failed")
			if merr := r.Log.MarkFailed(ctx, pc.ID, err); merr != nil {
				return st, merr
			}
			continue
		}
		if err := r.Log.MarkPublished(ctx, pc.ID); err != nil {
			return st, err
		}
		st.Published++
	}
	return st, nil
}

func (r *Relay) logger() log.FieldLogger {
	if r.Logger == nil {
		return log.WithField("component", "relay")
	}
	return r.Logger
}
