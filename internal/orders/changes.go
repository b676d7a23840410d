package orders

import (
	"github.com/ariefcatur/go-order-saga/internal/attrvalue"
)

const (
	ChangeInsert = "INSERT"
	ChangeModify = "MODIFY"
	ChangeRemove = "REMOVE"
)

// ChangeRecord is one entry of the orders commit log, in stream-record shape.
type ChangeRecord struct {
	EventID   string       `json:"eventID,omitempty"`
	EventName string       `json:"eventName"`
	Dynamodb  StreamImages `json:"dynamodb"`
}

type StreamImages struct {
	Keys           attrvalue.Image `json:"Keys,omitempty"`
	NewImage       attrvalue.Image `json:"NewImage,omitempty"`
	OldImage       attrvalue.Image `json:"OldImage,omitempty"`
	SequenceNumber string          `json:"SequenceNumber,omitempty"`
}

func newChangeRecord(eventName string, orderID string, oldOrder, newOrder *Order) (ChangeRecord, error) {
	rec := ChangeRecord{
		EventName: eventName,
		Dynamodb: StreamImages{
			Keys: attrvalue.Image{"order_id": attrvalue.String(orderID)},
		},
	}
	if oldOrder != nil {
		img, err := oldOrder.ToImage()
		if err != nil {
			return ChangeRecord{}, err
		}
		rec.Dynamodb.OldImage = img
	}
	if newOrder != nil {
		img, err := newOrder.ToImage()
		if err != nil {
			return ChangeRecord{}, err
		}
		rec.Dynamodb.NewImage = img
	}
	return rec, nil
}
