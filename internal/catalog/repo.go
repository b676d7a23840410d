// Package catalog reads products from the catalog database and applies the relative stock
// adjustments the inventory consumer is allowed to make. The catalog owns product records;
// nothing here creates or deletes them.
package catalog

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/ariefcatur/go-order-saga/internal/orders"
)

const productColumns = `product_id, name, COALESCE(description, '') AS description, category, price, stock`

type Repo struct{ DB *sqlx.DB }

func (r *Repo) GetProduct(ctx context.Context, productID string) (orders.Product, error) {
	var p orders.Product
	err := r.DB.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE product_id = ?`, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Product{}, &orders.ProductNotFoundError{ProductID: productID}
	}
	if err != nil {
		return orders.Product{}, errors.Wrapf(err, "get product %s", productID)
	}
	return p, nil
}

func (r *Repo) ListProducts(ctx context.Context, limit int) ([]orders.Product, error) {
	out := []orders.Product{}
	err := r.DB.SelectContext(ctx, &out, `SELECT `+productColumns+` FROM products ORDER BY product_id LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	return out, nil
}

// AdjustStock applies stock = stock + delta. No floor is enforced; stock may go negative.
func (r *Repo) AdjustStock(ctx context.Context, productID string, delta int) error {
	if delta == 0 {
		return nil
	}
	res, err := r.DB.ExecContext(ctx, `UPDATE products SET stock = stock + ? WHERE product_id = ?`, delta, productID)
	if err != nil {
		return errors.Wrapf(err, "adjust stock of %s", productID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "rows affected")
	}
	if n == 0 {
		return &orders.ProductNotFoundError{ProductID: productID}
	}
	return nil
}
