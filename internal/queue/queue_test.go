package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForEach_IsolatesFailures(t *testing.T) {
	msgs := []Message{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	var seen []string

	rep := ForEach(context.Background(), msgs, func(_ context.Context, m Message) error {
		seen = append(seen, m.ID)
		if m.ID == "b" {
			return errors.New("malformed")
		}
		return nil
	})

	assert.Equal(t, []string{"a", "b", "c"}, seen)
	assert.Equal(t, 3, rep.Processed)
	assert.Equal(t, 2, rep.Succeeded())
	require.Len(t, rep.Failures, 1)
	assert.Equal(t, "b", rep.Failures[0].MessageID)
}

func TestForEach_RecoversPanics(t *testing.T) {
	msgs := []Message{{ID: "boom"}, {ID: "ok"}}

	rep := ForEach(context.Background(), msgs, func(_ context.Context, m Message) error {
		if m.ID == "boom" {
			panic("nil map")
		}
		return nil
	})

	require.Equal(t, 1, rep.Failed())
	assert.Contains(t, rep.FailedIDs()["boom"].Error(), "panic")
}

func TestReport_Fields(t *testing.T) {
	rep := Report{Processed: 2}
	rep.Inc("high_risk")
	rep.Inc("high_risk")
	rep.Fail(Message{ID: "x"}, errors.New("x"))

	f := rep.Fields()
	assert.Equal(t, 2, f["processed"])
	assert.Equal(t, 1, f["failed"])
	assert.Equal(t, 1, f["successful"])
	assert.Equal(t, 2, f["high_risk"])
}

func TestTally_CountsOutcomesOfSuccessesOnly(t *testing.T) {
	msgs := []Message{{ID: "1"}, {ID: "2"}, {ID: "3"}, {ID: "4"}}

	rep := Tally(context.Background(), msgs, func(_ context.Context, m Message) (string, error) {
		switch m.ID {
		case "1", "2":
			return "inserts", nil
		case "3":
			return "inserts", errors.New("decode")
		}
		return "", nil
	})

	assert.Equal(t, 4, rep.Processed)
	assert.Equal(t, 2, rep.Counters["inserts"])
	assert.Equal(t, 1, rep.Failed())
	assert.Equal(t, 3, rep.Succeeded())
}
