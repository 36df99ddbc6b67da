package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-coupons/internal/domain/order"
)

const (
	countOrdersSQL = `SELECT COUNT(*) FROM orders WHERE customer_id = $1`

	findOutstandingCODSQL = `SELECT id, customer_id, payment_method, status, total, created_at
		FROM orders
		WHERE customer_id = $1 AND payment_method = 'cod' AND status NOT IN ('delivered', 'cancelled')
		ORDER BY created_at DESC
		LIMIT 1`

	createOrderSQL = `INSERT INTO orders (id, customer_id, payment_method, status, total, coupon_code)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))`
)

var _ order.History = (*OrderRepository)(nil)

// OrderRepository implements order.History backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// CountOrders returns the number of orders placed by the customer.
func (r *OrderRepository) CountOrders(ctx context.Context, customerID string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countOrdersSQL, customerID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting orders of customer %q: %w", customerID, err)
	}
	return int(n), nil
}

// FindOutstandingCOD returns the latest cash on delivery order of the
// customer that is neither delivered nor cancelled, or nil.
func (r *OrderRepository) FindOutstandingCOD(ctx context.Context, customerID string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, findOutstandingCODSQL, customerID)
	if err != nil {
		return nil, fmt.Errorf("finding outstanding COD order of %q: %w", customerID, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding outstanding COD order of %q: %w", customerID, err)
	}
	return o, nil
}

// Create persists an order. Used by the seed tool and tests; order placement
// itself belongs to the checkout service.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order, couponCode string) error {
	_, err := r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.CustomerID, string(o.PaymentMethod), string(o.Status), o.Total, couponCode,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o      order.Order
		method string
		status string
	)
	if err := row.Scan(&o.ID, &o.CustomerID, &method, &status, &o.Total, &o.CreatedAt); err != nil {
		return nil, err
	}
	o.PaymentMethod = order.PaymentMethod(method)
	o.Status = order.Status(status)
	return &o, nil
}
