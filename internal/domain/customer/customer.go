// Package customer holds the customer-side records that coupon segment
// targeting reads: checkout sessions and marketing subscription flags.
package customer

import (
	"context"
	"time"
)

// CheckoutStatus is the lifecycle state of a checkout session.
type CheckoutStatus string

const (
	CheckoutOpen       CheckoutStatus = "open"
	CheckoutIncomplete CheckoutStatus = "incomplete"
	CheckoutAbandoned  CheckoutStatus = "abandoned"
	CheckoutCompleted  CheckoutStatus = "completed"
)

// Checkout is a storefront checkout session.
type Checkout struct {
	ID         string
	CustomerID string
	Status     CheckoutStatus
	UpdatedAt  time.Time
}

// SubscriptionFlags describes a customer's marketing opt-ins.
type SubscriptionFlags struct {
	EmailSubscribed bool
}

// Checkouts looks up checkout sessions.
type Checkouts interface {
	// FindAbandoned returns an abandoned or incomplete checkout of the
	// customer updated at or after since, or nil when there is none.
	FindAbandoned(ctx context.Context, customerID string, since time.Time) (*Checkout, error)
}

// Profiles looks up customer profile data.
type Profiles interface {
	// FindSubscriptionFlags returns nil when the customer is unknown.
	FindSubscriptionFlags(ctx context.Context, customerID string) (*SubscriptionFlags, error)
}
