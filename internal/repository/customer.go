package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-coupons/internal/domain/customer"
)

const (
	findAbandonedCheckoutSQL = `SELECT id, customer_id, status, updated_at
		FROM checkouts
		WHERE customer_id = $1 AND status IN ('abandoned', 'incomplete') AND updated_at >= $2
		ORDER BY updated_at DESC
		LIMIT 1`

	findSubscriptionFlagsSQL = `SELECT email_subscribed FROM customers WHERE id = $1`

	upsertCustomerSQL = `INSERT INTO customers (id, email, email_subscribed)
		VALUES ($1, NULLIF($2, ''), $3)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, email_subscribed = EXCLUDED.email_subscribed`

	createCheckoutSQL = `INSERT INTO checkouts (id, customer_id, status, updated_at)
		VALUES ($1, $2, $3, $4)`
)

var (
	_ customer.Checkouts = (*CustomerRepository)(nil)
	_ customer.Profiles  = (*CustomerRepository)(nil)
)

// CustomerRepository implements the customer collaborators backed by PostgreSQL.
type CustomerRepository struct {
	pool *pgxpool.Pool
}

// NewCustomerRepository returns a CustomerRepository that uses the given pool.
func NewCustomerRepository(pool *pgxpool.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

// FindAbandoned returns the most recent abandoned or incomplete checkout of
// the customer updated at or after since, or nil.
func (r *CustomerRepository) FindAbandoned(ctx context.Context, customerID string, since time.Time) (*customer.Checkout, error) {
	rows, err := r.pool.Query(ctx, findAbandonedCheckoutSQL, customerID, since)
	if err != nil {
		return nil, fmt.Errorf("finding abandoned checkout of %q: %w", customerID, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, func(row pgx.CollectableRow) (*customer.Checkout, error) {
		var (
			c      customer.Checkout
			status string
		)
		err := row.Scan(&c.ID, &c.CustomerID, &status, &c.UpdatedAt)
		c.Status = customer.CheckoutStatus(status)
		return &c, err
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding abandoned checkout of %q: %w", customerID, err)
	}
	return c, nil
}

// FindSubscriptionFlags returns nil for unknown customers.
func (r *CustomerRepository) FindSubscriptionFlags(ctx context.Context, customerID string) (*customer.SubscriptionFlags, error) {
	var flags customer.SubscriptionFlags
	err := r.pool.QueryRow(ctx, findSubscriptionFlagsSQL, customerID).Scan(&flags.EmailSubscribed)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding subscription flags of %q: %w", customerID, err)
	}
	return &flags, nil
}

// UpsertCustomer stores the customer's profile flags.
func (r *CustomerRepository) UpsertCustomer(ctx context.Context, id, email string, flags customer.SubscriptionFlags) error {
	if _, err := r.pool.Exec(ctx, upsertCustomerSQL, id, email, flags.EmailSubscribed); err != nil {
		return fmt.Errorf("upserting customer %q: %w", id, err)
	}
	return nil
}

// CreateCheckout stores a checkout session.
func (r *CustomerRepository) CreateCheckout(ctx context.Context, c *customer.Checkout) error {
	if _, err := r.pool.Exec(ctx, createCheckoutSQL, c.ID, c.CustomerID, string(c.Status), c.UpdatedAt); err != nil {
		return fmt.Errorf("creating checkout %q: %w", c.ID, err)
	}
	return nil
}
