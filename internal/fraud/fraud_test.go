package fraud

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-saga/internal/orders"
	"github.com/ariefcatur/go-order-saga/internal/queue"
)

type verdict struct {
	score  float64
	status orders.FraudStatus
}

type memStore struct {
	verdicts map[string]verdict
	writes   int
	err      error
}

func (s *memStore) UpdateFraud(_ context.Context, orderID string, score float64, status orders.FraudStatus) error {
	if s.err != nil {
		return s.err
	}
	if s.verdicts == nil {
		s.verdicts = map[string]verdict{}
	}
	s.writes++
	s.verdicts[orderID] = verdict{score, status}
	return nil
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestScore_Rules(t *testing.T) {
	cases := []struct {
		name string
		in   Input
		want float64
	}{
		{"small returning card", Input{amount("20"), "cust-1", "card"}, 0},
		{"medium", Input{amount("750"), "cust-1", "card"}, 0.2},
		{"exactly 1000 is medium", Input{amount("1000"), "cust-1", "card"}, 0.2},
		{"exactly 500 adds nothing", Input{amount("500"), "cust-1", "card"}, 0},
		{"new customer large card", Input{amount("1500"), "new-42", "card"}, 0.7},
		{"crypto", Input{amount("10"), "cust-1", "crypto"}, 0.2},
		{"everything", Input{amount("5000"), "new-1", "crypto"}, 0.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Score(tc.in, 0), 1e-9)
		})
	}
}

func TestScore_NewCustomerLargeOrderIsHighRiskAtDefaultThreshold(t *testing.T) {
	s := Score(Input{amount("1500"), "new-42", "card"}, 0)
	assert.GreaterOrEqual(t, s, DefaultThreshold)
}

func TestScore_Clamped(t *testing.T) {
	assert.Equal(t, 0.0, Score(Input{amount("1"), "cust-1", "card"}, -0.1))
	assert.Equal(t, 1.0, Score(Input{amount("5000"), "new-1", "crypto"}, 0.1))
	assert.InDelta(t, 0.3, Score(Input{amount("750"), "cust-1", "card"}, 5), 1e-9, "jitter is bounded")
}

func TestOrderJitter_BoundedAndStable(t *testing.T) {
	for _, id := range []string{"a", "b", "order-1", "4b1c3f4e-0000-4000-8000-000000000000"} {
		j := OrderJitter(id)
		assert.GreaterOrEqual(t, j, -MaxJitter)
		assert.LessOrEqual(t, j, MaxJitter)
		assert.Equal(t, j, OrderJitter(id))
	}
}

func newConsumer(store Store, jitter Jitter) *Consumer {
	logger, _ := test.NewNullLogger()
	return &Consumer{Store: store, Jitter: jitter, Log: logger}
}

func TestConsumer_ClassifiesBatch(t *testing.T) {
	store := &memStore{}
	c := newConsumer(store, NoJitter)

	rep := c.HandleBatch(context.Background(), []queue.Message{
		{ID: "1", Body: []byte(`{"order_id":"o-1","customer_id":"new-1","amount":1500,"payment_method":"card"}`)},
		{ID: "2", Body: []byte(`{"order_id":"o-2","customer_id":"cust-2","amount":"20.00"}`)},
		{ID: "3", Body: []byte(`not json`)},
	})

	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 1, rep.Counters["high_risk"])
	assert.Equal(t, 1, rep.Counters["low_risk"])
	require.Equal(t, 1, rep.Failed())
	assert.Equal(t, "3", rep.Failures[0].MessageID)

	assert.Equal(t, orders.FraudHighRisk, store.verdicts["o-1"].status)
	assert.InDelta(t, 0.7, store.verdicts["o-1"].score, 1e-9)
	assert.Equal(t, orders.FraudApproved, store.verdicts["o-2"].status)
}

func TestConsumer_RedeliveryConverges(t *testing.T) {
	store := &memStore{}
	c := newConsumer(store, nil)
	msg := queue.Message{ID: "1", Body: []byte(`{"order_id":"o-9","customer_id":"new-9","amount":"800","payment_method":"crypto"}`)}

	c.HandleBatch(context.Background(), []queue.Message{msg})
	first := store.verdicts["o-9"]
	c.HandleBatch(context.Background(), []queue.Message{msg})

	assert.Equal(t, first, store.verdicts["o-9"])
	assert.Equal(t, 2, store.writes)
}

func TestConsumer_UnwrapsEnvelopes(t *testing.T) {
	store := &memStore{}
	c := newConsumer(store, NoJitter)

	rep := c.HandleBatch(context.Background(), []queue.Message{{
		ID:   "1",
		Body: []byte(`{"Message":"{\"order_id\":\"o-5\",\"customer_id\":\"c\",\"amount\":\"10\"}"}`),
	}})

	assert.Zero(t, rep.Failed())
	assert.Contains(t, store.verdicts, "o-5")
}

func TestConsumer_StoreFailureStillHandled(t *testing.T) {
	c := newConsumer(&memStore{err: errors.New("throttled")}, NoJitter)

	rep := c.HandleBatch(context.Background(), []queue.Message{
		{ID: "1", Body: []byte(`{"order_id":"o-1","customer_id":"c","amount":"10"}`)},
	})

	assert.Zero(t, rep.Failed())
	assert.Equal(t, 1, rep.Counters["low_risk"])
}

func TestConsumer_CustomThreshold(t *testing.T) {
	store := &memStore{}
	c := newConsumer(store, NoJitter)
	c.Threshold = 0.2

	c.HandleBatch(context.Background(), []queue.Message{
		{ID: "1", Body: []byte(`{"order_id":"o-1","customer_id":"c","amount":"600"}`)},
	})
	assert.Equal(t, orders.FraudHighRisk, store.verdicts["o-1"].status)
}
