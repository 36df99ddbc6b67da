package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// PaymentMethod identifies how a customer pays for an order.
type PaymentMethod string

const (
	// PaymentPrepaid covers every method settled before dispatch.
	PaymentPrepaid PaymentMethod = "prepaid"
	// PaymentCOD is cash on delivery.
	PaymentCOD PaymentMethod = "cod"
)

// ErrUnknownPaymentMethod is returned by ParsePaymentMethod for unsupported values.
var ErrUnknownPaymentMethod = errors.New("unknown payment method")

// ParsePaymentMethod converts raw input into a PaymentMethod. An empty value
// defaults to PaymentPrepaid.
func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case "", PaymentPrepaid:
		return PaymentPrepaid, nil
	case PaymentCOD:
		return PaymentCOD, nil
	default:
		return "", errors.Wrapf(ErrUnknownPaymentMethod, "%q", s)
	}
}

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusReturned  Status = "returned"
)

// Order is a historical customer order as seen by coupon eligibility checks.
type Order struct {
	ID            string
	CustomerID    string
	PaymentMethod PaymentMethod
	Status        Status
	Total         decimal.Decimal
	CreatedAt     time.Time
}

// IsOutstandingCOD reports whether the order was placed cash on delivery and
// has neither been delivered nor cancelled yet.
func (o *Order) IsOutstandingCOD() bool {
	if o.PaymentMethod != PaymentCOD {
		return false
	}
	return o.Status != StatusDelivered && o.Status != StatusCancelled
}

// History provides read access to a customer's past orders.
type History interface {
	// CountOrders returns the number of orders the customer has placed.
	CountOrders(ctx context.Context, customerID string) (int, error)
	// FindOutstandingCOD returns any outstanding cash on delivery order of the
	// customer, or nil when there is none.
	FindOutstandingCOD(ctx context.Context, customerID string) (*Order, error)
}
