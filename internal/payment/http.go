package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/pkg/errors"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

// HTTPGateway posts {customer_id, amount, currency} to URL. 200 is a charge,
// any other status a rejection.
type HTTPGateway struct {
	URL    string
	Client *http.Client
}

func NewHTTPGateway(url string) *HTTPGateway {
	return &HTTPGateway{URL: url, Client: &http.Client{}}
}

type chargeBody struct {
	CustomerID string      `json:"customer_id"`
	Amount     json.Number `json:"amount"`
	Currency   string      `json:"currency"`
}

type chargeResponse struct {
	ID string `json:"id"`
}

func (g *HTTPGateway) Charge(ctx context.Context, req ChargeRequest) (Receipt, error) {
	body, err := json.Marshal(chargeBody{
		CustomerID: req.CustomerID,
		Amount:     json.Number(req.Amount.String()),
		Currency:   req.Currency,
	})
	if err != nil {
		return Receipt{}, errors.Wrap(err, "encode charge")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return Receipt{}, errors.Wrapf(orders.ErrPaymentFailed, "build request: %v", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.Client.Do(httpReq)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Receipt{}, orders.ErrPaymentTimeout
		}
		return Receipt{}, errors.Wrapf(orders.ErrPaymentFailed, "call payment api: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return Receipt{}, errors.Wrapf(orders.ErrPaymentRejected, "payment api status %d", resp.StatusCode)
	}

	var out chargeResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return Receipt{}, orders.ErrPaymentTimeout
		}
		return Receipt{}, errors.Wrapf(orders.ErrPaymentFailed, "decode payment response: %v", err)
	}
	if out.ID == "" {
		out.ID = unknownPaymentID
	}
	return Receipt{ID: out.ID}, nil
}
