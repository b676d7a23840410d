package orders

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// PendingChange is a commit-log row not yet on the change-feed topic.
type PendingChange struct {
	ID       int64
	OrderID  string
	Record   []byte
	Attempts int
}

// PendingChanges returns unpublished rows in commit order.
func (r *Repo) PendingChanges(ctx context.Context, limit int) ([]PendingChange, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id::text, record, attempts FROM order_changes
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query pending changes")
	}
	defer rows.Close()

	var out []PendingChange
	for rows.Next() {
		var (
			pc  PendingChange
			raw []byte
		)
		if err := rows.Scan(&pc.ID, &pc.OrderID, &raw, &pc.Attempts); err != nil {
			return nil, errors.Wrap(err, "scan pending change")
		}
		if pc.Record, err = stampRecord(raw, pc.ID); err != nil {
			return nil, errors.Wrapf(err, "change %d", pc.ID)
		}
		out = append(out, pc)
	}
	return out, errors.Wrap(rows.Err(), "iterate pending changes")
}

func (r *Repo) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.DB.Exec(ctx, `UPDATE order_changes SET published_at = now(), attempts = attempts + 1, last_error = NULL WHERE id = $1`, id)
	return errors.Wrapf(err, "mark change %d published", id)
}

func (r *Repo) MarkFailed(ctx context.Context, id int64, cause error) error {
	_, err := r.DB.Exec(ctx, `UPDATE order_changes SET attempts = attempts + 1, last_error = $2 WHERE id = $1`, id, cause.Error())
	return errors.Wrapf(err, "mark change %d failed", id)
}

// DeleteOrder removes an order and records the REMOVE change. It is an administrative
// action; nothing on the order path deletes.
func (r *Repo) DeleteOrder(ctx context.Context, orderID string) error {
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
	if _, err := tx.Exec(ctx, `DELETE FROM orders WHERE order_id::text = $1`, orderID); err != nil {
		return errors.Wrap(err, "delete order")
	}
	rec, err := newChangeRecord(ChangeRemove, orderID, &old, nil)
	if err != nil {
		return errors.Wrap(err, "build change record")
	}
	if err := appendChange(ctx, tx, orderID, rec); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(ctx), "commit delete")
}

// stampRecord sets the log position as the record's event id and sequence number.
func stampRecord(raw []byte, id int64) ([]byte, error) {
	var rec ChangeRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, errors.Wrap(err, "decode record")
	}
	seq := strconv.FormatInt(id, 10)
	rec.EventID = seq
	rec.Dynamodb.SequenceNumber = seq
	b, err := json.Marshal(rec)
	return b, errors.Wrap(err, "encode record")
}
