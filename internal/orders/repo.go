package orders

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
)

const orderColumns = `order_id::text, customer_id, timestamp_ms, items, total_amount::text, currency,
	status, payment_id, created_at, fraud_score, fraud_status`

// Repo is the Postgres order store. Every committed write also appends a change record
// to order_changes in the same transaction; the relay turns that table into the change feed.
type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) CreateOrder(ctx context.Context, o Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return errors.Wrap(err, "encode items")
	}
	rec, err := newChangeRecord(ChangeInsert, o.OrderID, nil, &o)
	if err != nil {
		return errors.Wrap(err, "build change record")
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO orders(order_id, customer_id, timestamp_ms, items, total_amount, currency,
		                   status, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.OrderID, o.CustomerID, o.Timestamp, string(items), o.TotalAmount.String(), o.Currency,
		string(o.Status), o.PaymentID, o.CreatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "insert order")
	}
	if err := appendChange(ctx, tx, o.OrderID, rec); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit order")
}

// GetOrder looks an order up by id. A non-zero timestampMs must also match the sort key.
func (r *Repo) GetOrder(ctx context.Context, orderID string, timestampMs int64) (Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE order_id::text = $1 AND ($2::bigint = 0 OR timestamp_ms = $2)`, orderID, timestampMs)
	o, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	return o, errors.Wrap(err, "get order")
}

// ListByCustomer walks the customer index newest first.
func (r *Repo) ListByCustomer(ctx context.Context, customerID string, limit int) ([]Order, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE customer_id = $1
		ORDER BY timestamp_ms DESC, seq DESC
		LIMIT $2`, customerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query customer orders")
	}
	defer rows.Close()

	out := []Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan order")
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "iterate customer orders")
}

// UpdateFraud sets fraud_score/fraud_status only. Writing the same verdict again is a no-op.
func (r *Repo) UpdateFraud(ctx context.Context, orderID string, score float64, status FraudStatus) error {
	return r.modify(ctx, orderID, func(o *Order) bool {
		if o.FraudScore != nil && *o.FraudScore == score && o.FraudStatus == status {
			return false
		}
		o.FraudScore = &score
		o.FraudStatus = status
		return true
	}, `UPDATE orders SET fraud_score = $2, fraud_status = $3, updated_at = now() WHERE order_id::text = $1`,
		score, string(status))
}

// UpdateStatus is the write path of downstream systems (shipping, cancellation).
func (r *Repo) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	return r.modify(ctx, orderID, func(o *Order) bool {
		if o.Status == status {
			return false
		}
		o.Status = status
		return true
	}, `UPDATE orders SET status = $2, updated_at = now() WHERE order_id::text = $1`,
		string(status))
}

func (r *Repo) modify(ctx context.Context, orderID string, mutate func(*Order) bool, stmt string, args ...any) error {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	old, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id::text = $1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrOrderNotFound
	}
	if err != nil {
		return errors.Wrap(err, "lock order")
	}

	updated := old
	if !mutate(&updated) {
		return nil
	}
	if _, err := tx.Exec(ctx, stmt, append([]any{orderID}, args...)...); err != nil {
		return errors.Wrap(err, "update order")
	}
	rec, err := newChangeRecord(ChangeModify, orderID, &old, &updated)
	if err != nil {
		return errors.Wrap(err, "build change record")
	}
	if err := appendChange(ctx, tx, orderID, rec); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit update")
}

func appendChange(ctx context.Context, tx pgx.Tx, orderID string, rec ChangeRecord) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode change record")
	}
	_, err = tx.Exec(ctx, `INSERT INTO order_changes(order_id, event_name, record) VALUES ($1, $2, $3)`,
		orderID, rec.EventName, string(b))
	return errors.Wrap(err, "append change record")
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o           Order
		items       []byte
		total       string
		status      string
		fraudScore  *float64
		fraudStatus *string
	)
	if err := row.Scan(&o.OrderID, &o.CustomerID, &o.Timestamp, &items, &total, &o.Currency,
		&status, &o.PaymentID, &o.CreatedAt, &fraudScore, &fraudStatus); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, errors.Wrap(err, "decode items")
	}
	d, err := decimal.NewFromString(total)
	if err != nil {
		return Order{}, errors.Wrap(err, "decode total_amount")
	}
	o.TotalAmount = d
	o.Status = Status(status)
	o.FraudScore = fraudScore
	if fraudStatus != nil {
		o.FraudStatus = FraudStatus(*fraudStatus)
	}
	return o, nil
}
