package orders

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

const maxEnvelopeDepth = 3

var ErrEmptyPayload = errors.New("empty payload")

// Unwrap strips transport envelopes from a queued body and returns the inner payload.
// Two envelope shapes are recognised: a notification wrapper carrying the payload as a
// JSON string under "Message", and the publisher Envelope carrying it under "payload".
// Anything else is taken to be the raw payload.
func Unwrap(body []byte) (json.RawMessage, error) {
	cur := bytes.TrimSpace(body)
	for depth := 0; depth < maxEnvelopeDepth; depth++ {
		if len(cur) == 0 {
			return nil, ErrEmptyPayload
		}
		if cur[0] != '{' {
			return nil, errors.New("payload is not a json object")
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(cur, &fields); err != nil {
			return nil, errors.Wrap(err, "decode body")
		}

		if msg, ok := fields["Message"]; ok {
			var inner string
			if err := json.Unmarshal(msg, &inner); err != nil {
				return nil, errors.Wrap(err, "decode notification message")
			}
			cur = bytes.TrimSpace([]byte(inner))
			continue
		}
		if p, ok := fields["payload"]; ok && isEnvelope(fields) {
			cur = bytes.TrimSpace(p)
			continue
		}
		return json.RawMessage(cur), nil
	}
	return nil, errors.Errorf("envelope nesting deeper than %d", maxEnvelopeDepth)
}

func isEnvelope(fields map[string]json.RawMessage) bool {
	_, hasID := fields["event_id"]
	_, hasVersion := fields["event_version"]
	return hasID || hasVersion
}

// DecodePayload unwraps body and decodes the payload into T.
func DecodePayload[T any](body []byte) (T, error) {
	var t T
	raw, err := Unwrap(body)
	if err != nil {
		return t, err
	}
	if err := json.Unmarshal(raw, &t); err != nil {
		return t, errors.Wrap(err, "decode payload")
	}
	return t, nil
}
