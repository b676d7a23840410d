package changefeed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
)

type recorder struct {
	indexed   []string
	shipped   []string
	cancelled []string
	reviewed  []string
	archived  []string
	err       error
}

func (r *recorder) IndexCustomerOrder(_ context.Context, customerID, orderID string) error {
	r.indexed = append(r.indexed, customerID+"/"+orderID)
	return r.err
}

func (r *recorder) OrderShipped(_ context.Context, _ string, o orders.Order) error {
	r.shipped = append(r.shipped, o.OrderID)
	return r.err
}

func (r *recorder) OrderCancelled(_ context.Context, _ string, o orders.Order) error {
	r.cancelled = append(r.cancelled, o.OrderID)
	return r.err
}

func (r *recorder) FlagForReview(_ context.Context, _ string, o orders.Order) error {
	r.reviewed = append(r.reviewed, o.OrderID)
	return r.err
}

func (r *recorder) Archive(_ context.Context, _ string, o orders.Order) error {
	r.archived = append(r.archived, o.OrderID)
	return r.err
}

func baseOrder() orders.Order {
	return orders.Order{
		OrderID:     "o-1",
		CustomerID:  "cust-1",
		Timestamp:   1700000000000,
		Items:       []orders.LineItem{orders.NewLineItem("prod-1", 2, decimal.RequireFromString("9.99"))},
		TotalAmount: decimal.RequireFromString("19.98"),
		Currency:    "USD",
		Status:      orders.StatusConfirmed,
		PaymentID:   "pay-1",
		CreatedAt:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func record(t *testing.T, event string, prev, cur *orders.Order) queue.Message {
	t.Helper()
	rec := orders.ChangeRecord{EventName: event}
	if prev != nil {
		img, err := prev.ToImage()
		require.NoError(t, err)
		rec.Dynamodb.OldImage = img
	}
	if cur != nil {
		img, err := cur.ToImage()
		require.NoError(t, err)
		rec.Dynamodb.NewImage = img
	}
	body, err := json.Marshal(rec)
	require.NoError(t, err)
	return queue.Message{ID: event, Body: body}
}

func newProcessor(fx Effects) *Processor {
	logger, _ := test.NewNullLogger()
	return &Processor{Effects: fx, Log: logger}
}

func score(f float64) *float64 { return &f }

func TestProcessor_InsertIndexesCustomer(t *testing.T) {
	fx := &recorder{}
	o := baseOrder()

	rep := newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeInsert, nil, &o)})

	assert.Zero(t, rep.Failed())
	assert.Equal(t, 1, rep.Counters["inserts"])
	assert.Equal(t, []string{"cust-1/o-1"}, fx.indexed)
}

func TestProcessor_ShipmentTriggersOnce(t *testing.T) {
	fx := &recorder{}
	p := newProcessor(fx)
	prev, cur := baseOrder(), baseOrder()
	cur.Status = orders.StatusShipped
	shipped := cur

	rep := p.HandleBatch(context.Background(), []queue.Message{
		record(t, orders.ChangeModify, &prev, &cur),
		record(t, orders.ChangeModify, &shipped, &shipped),
	})

	assert.Zero(t, rep.Failed())
	assert.Equal(t, 2, rep.Counters["modifies"])
	assert.Equal(t, []string{"o-1"}, fx.shipped)
	assert.Empty(t, fx.cancelled)
}

func TestProcessor_UnchangedStatusTriggersNothing(t *testing.T) {
	fx := &recorder{}
	prev, cur := baseOrder(), baseOrder()
	cur.PaymentID = "pay-2"

	newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeModify, &prev, &cur)})

	assert.Empty(t, fx.shipped)
	assert.Empty(t, fx.cancelled)
	assert.Empty(t, fx.reviewed)
}

func TestProcessor_Cancellation(t *testing.T) {
	fx := &recorder{}
	prev, cur := baseOrder(), baseOrder()
	cur.Status = orders.StatusCancelled

	newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeModify, &prev, &cur)})
	assert.Equal(t, []string{"o-1"}, fx.cancelled)
}

func TestProcessor_TransitionOutsideLifecycleStillProcessed(t *testing.T) {
	fx := &recorder{}
	prev, cur := baseOrder(), baseOrder()
	prev.Status = orders.StatusCancelled
	cur.Status = orders.StatusShipped

	rep := newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeModify, &prev, &cur)})
	assert.Zero(t, rep.Failed())
	assert.Equal(t, []string{"o-1"}, fx.shipped)
}

func TestProcessor_FraudScoreReview(t *testing.T) {
	cases := []struct {
		name      string
		prev, cur *float64
		want      bool
	}{
		{"first high score", nil, score(0.85), true},
		{"raised above threshold", score(0.4), score(0.75), true},
		{"at threshold", nil, score(0.7), true},
		{"unchanged high score", score(0.85), score(0.85), false},
		{"low score", nil, score(0.3), false},
		{"no score", nil, nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fx := &recorder{}
			prev, cur := baseOrder(), baseOrder()
			prev.FraudScore, cur.FraudScore = tc.prev, tc.cur

			newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeModify, &prev, &cur)})
			assert.Equal(t, tc.want, len(fx.reviewed) == 1)
		})
	}
}

func TestProcessor_ReviewIndependentOfStatus(t *testing.T) {
	fx := &recorder{}
	prev, cur := baseOrder(), baseOrder()
	cur.Status = orders.StatusShipped
	cur.FraudScore = score(0.9)

	newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeModify, &prev, &cur)})
	assert.Len(t, fx.shipped, 1)
	assert.Len(t, fx.reviewed, 1)
}

func TestProcessor_RemoveArchives(t *testing.T) {
	fx := &recorder{}
	o := baseOrder()

	rep := newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeRemove, &o, nil)})
	assert.Equal(t, 1, rep.Counters["removes"])
	assert.Equal(t, []string{"o-1"}, fx.archived)
}

func TestProcessor_DecodesTypedWireFormat(t *testing.T) {
	fx := &recorder{}
	body := `{
		"eventName": "MODIFY",
		"dynamodb": {
			"OldImage": {
				"order_id": {"S": "o-7"}, "customer_id": {"S": "c-7"}, "status": {"S": "approved"},
				"total_amount": {"N": "10.5"}, "timestamp": {"N": "1700000000000"}
			},
			"NewImage": {
				"order_id": {"S": "o-7"}, "customer_id": {"S": "c-7"}, "status": {"S": "shipped"},
				"total_amount": {"N": "10.5"}, "timestamp": {"N": "1700000000000"},
				"fraud_score": {"N": "0.2"}, "gift": {"BOOL": false}, "note": {"NULL": true},
				"items": {"L": [{"M": {"product_id": {"S": "p"}, "quantity": {"N": "1"}}}]}
			}
		}
	}`

	rep := newProcessor(fx).HandleBatch(context.Background(), []queue.Message{{ID: "1", Body: []byte(body)}})
	require.Zero(t, rep.Failed())
	assert.Equal(t, []string{"o-7"}, fx.shipped)
	assert.Empty(t, fx.reviewed)
}

func TestProcessor_IsolatesBadRecords(t *testing.T) {
	fx := &recorder{}
	o := baseOrder()

	rep := newProcessor(fx).HandleBatch(context.Background(), []queue.Message{
		{ID: "garbage", Body: []byte(`{"eventName":"MODIFY","dynamodb":{"NewImage":{"order_id":{"X":"?"}}}}`)},
		{ID: "unknown", Body: []byte(`{"eventName":"TRUNCATE","dynamodb":{}}`)},
		{ID: "no-image", Body: []byte(`{"eventName":"INSERT","dynamodb":{}}`)},
		record(t, orders.ChangeInsert, nil, &o),
	})

	assert.Equal(t, 4, rep.Processed)
	assert.Equal(t, 3, rep.Failed())
	assert.Len(t, fx.indexed, 1)
}

func TestProcessor_EffectFailureFailsRecord(t *testing.T) {
	fx := &recorder{err: errors.New("redis down")}
	o := baseOrder()

	rep := newProcessor(fx).HandleBatch(context.Background(), []queue.Message{record(t, orders.ChangeInsert, nil, &o)})
	assert.Equal(t, 1, rep.Failed())
}
