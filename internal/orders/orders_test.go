package orders

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnwrap(t *testing.T) {
	raw := `{"order_id":"o-1"}`
	notification, _ := json.Marshal(map[string]string{"Type": "Notification", "Message": raw})
	envelope := `{"event_id":"e-1","event_version":1,"payload":` + raw + `}`
	nested, _ := json.Marshal(map[string]string{"Message": envelope})

	for name, body := range map[string]string{
		"raw":          raw,
		"notification": string(notification),
		"envelope":     envelope,
		"nested":       string(nested),
	} {
		t.Run(name, func(t *testing.T) {
			got, err := Unwrap([]byte(body))
			require.NoError(t, err)
			assert.JSONEq(t, raw, string(got))
		})
	}
}

func TestUnwrap_Rejects(t *testing.T) {
	_, err := Unwrap([]byte("  "))
	assert.ErrorIs(t, err, ErrEmptyPayload)

	_, err = Unwrap([]byte(`[1,2]`))
	assert.Error(t, err)

	_, err = Unwrap([]byte(`{"Message": 42}`))
	assert.Error(t, err)
}

func TestUnwrap_PayloadFieldWithoutEnvelopeIsData(t *testing.T) {
	body := `{"payload":{"x":1},"order_id":"o-1"}`
	got, err := Unwrap([]byte(body))
	require.NoError(t, err)
	assert.JSONEq(t, body, string(got))
}

func TestDecodeErrorsKeepTheirCause(t *testing.T) {
	_, err := DecodePayload[FraudCheckMessage]([]byte(`{"order_id":7}`))
	require.Error(t, err)
	var typeErr *json.UnmarshalTypeError
	assert.ErrorAs(t, errors.Cause(err), &typeErr)
	assert.Contains(t, fmt.Sprintf("%+v", err), "DecodePayload")

	_, err = Unwrap([]byte(`{"Message": 42}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode notification message")
	assert.ErrorAs(t, errors.Cause(err), &typeErr)
}

func TestDecodePayload(t *testing.T) {
	msg, err := DecodePayload[FraudCheckMessage]([]byte(`{"order_id":"o-1","amount":"12.50","payment_method":"card"}`))
	require.NoError(t, err)
	assert.Equal(t, "o-1", msg.OrderID)
	assert.True(t, msg.Amount.Equal(decimal.RequireFromString("12.5")))

	_, err = DecodePayload[FraudCheckMessage]([]byte(`{"order_id":7}`))
	assert.Error(t, err)
}

func TestOrderImageRoundTrip(t *testing.T) {
	score := 0.42
	items := []LineItem{
		NewLineItem("prod-1", 2, decimal.RequireFromString("9.99")),
		NewLineItem("prod-2", 1, decimal.RequireFromString("5.00")),
	}
	o := Order{
		OrderID:     "o-1",
		CustomerID:  "c-1",
		Timestamp:   1700000000123,
		Items:       items,
		TotalAmount: SumSubtotals(items),
		Currency:    "USD",
		Status:      StatusConfirmed,
		PaymentID:   "pay-1",
		CreatedAt:   time.UnixMilli(1700000000123).UTC(),
		FraudScore:  &score,
		FraudStatus: FraudApproved,
	}

	img, err := o.ToImage()
	require.NoError(t, err)
	b, err := json.Marshal(img)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"total_amount":{"N":"24.98"}`)

	got, err := OrderFromImage(img)
	require.NoError(t, err)
	assert.Equal(t, o.OrderID, got.OrderID)
	assert.Equal(t, o.Timestamp, got.Timestamp)
	assert.True(t, o.TotalAmount.Equal(got.TotalAmount))
	assert.True(t, o.CreatedAt.Equal(got.CreatedAt))
	require.NotNil(t, got.FraudScore)
	assert.InDelta(t, score, *got.FraudScore, 1e-9)
	require.Len(t, got.Items, 2)
	assert.Equal(t, 2, got.Items[0].Quantity)
	assert.Equal(t, "19.98", got.Items[0].Subtotal.StringFixed(2))
}

func TestOrderFromImage_RequiresOrderID(t *testing.T) {
	_, err := OrderFromImage(nil)
	assert.Error(t, err)
}

func TestNewLineItem(t *testing.T) {
	it := NewLineItem("p", 3, decimal.RequireFromString("0.10"))
	assert.Equal(t, "0.30", it.Subtotal.StringFixed(2))
	assert.Equal(t, []ItemQty{{ProductID: "p", Quantity: 3}}, Order{Items: []LineItem{it}}.Quantities())
}

func TestStatusLifecycle(t *testing.T) {
	assert.True(t, CanTransition(StatusConfirmed, StatusShipped))
	assert.True(t, CanTransition(StatusHighRisk, StatusApproved))
	assert.False(t, CanTransition(StatusShipped, StatusConfirmed))
	assert.False(t, CanTransition(StatusCancelled, StatusShipped))
	assert.False(t, CanTransition("unknown", StatusShipped))

	assert.True(t, StatusShipped.IsTerminal())
	assert.False(t, StatusApproved.IsTerminal())

	s, ok := ParseStatus("shipped")
	assert.True(t, ok)
	assert.Equal(t, StatusShipped, s)
	_, ok = ParseStatus("lost")
	assert.False(t, ok)
}

func TestStampRecord(t *testing.T) {
	rec, err := newChangeRecord(ChangeInsert, "o-1", nil, &Order{OrderID: "o-1", Status: StatusConfirmed})
	require.NoError(t, err)
	raw, err := json.Marshal(rec)
	require.NoError(t, err)

	stamped, err := stampRecord(raw, 42)
	require.NoError(t, err)
	var got ChangeRecord
	require.NoError(t, json.Unmarshal(stamped, &got))
	assert.Equal(t, "42", got.EventID)
	assert.Equal(t, "42", got.Dynamodb.SequenceNumber)
	assert.Equal(t, ChangeInsert, got.EventName)
	assert.Empty(t, got.Dynamodb.OldImage)
	assert.NotEmpty(t, got.Dynamodb.NewImage)
}

func TestProductNotFoundError(t *testing.T) {
	var err error = &ProductNotFoundError{ProductID: "prod-9"}
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, "Product prod-9 not found", err.Error())
}

func TestFanoutErrorIsTransportFailure(t *testing.T) {
	cause := assert.AnError
	err := &FanoutError{OrderID: "o-1", Step: "publish order_created", Err: cause}
	assert.ErrorIs(t, err, ErrTransportUnavailable)
	assert.ErrorIs(t, err, cause)
}
