package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-coupons/internal/domain/order"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountFlat takes a fixed amount off, capped at the eligible amount.
	DiscountFlat DiscountType = "flat"
	// DiscountPercent takes a percentage of the eligible amount.
	DiscountPercent DiscountType = "percent"
	// DiscountSpecial takes SpecialAmount (or Value when unset) off, capped
	// at the eligible amount.
	DiscountSpecial DiscountType = "special"
)

var (
	// ErrNotFound is returned by Store.FindByCode when no live coupon has the code.
	ErrNotFound = errors.New("coupon not found")
	// ErrUsageLimitReached is returned by Store.Redeem when the global usage
	// limit was reached before the increment could be applied.
	ErrUsageLimitReached = errors.New("coupon usage limit reached")
	// ErrAlreadyRedeemed is returned by Store.Redeem when the customer has
	// already used a coupon limited to one use per customer.
	ErrAlreadyRedeemed = errors.New("coupon already redeemed by customer")
)

// DiscountRule is the type/value pair a discount is computed from.
type DiscountRule struct {
	Type          DiscountType
	Value         decimal.Decimal
	SpecialAmount decimal.NullDecimal
}

// Eligibility restricts which customers may use a coupon.
type Eligibility struct {
	AllCustomers      bool
	SpecificCustomers []string
	SpecificSegments  []Segment
}

// Coupon is a coupon rule definition.
type Coupon struct {
	ID   string
	Code string

	Type          DiscountType
	Value         decimal.Decimal
	SpecialAmount decimal.NullDecimal

	IsActive  bool
	DeletedAt *time.Time
	StartAt   *time.Time
	EndAt     *time.Time

	// UsageLimit is nil for coupons without a global cap.
	UsageLimit *int
	UsedCount  int

	MinCartValue                         decimal.NullDecimal
	MinCartAppliesToSelectedProducts     bool
	MinQuantity                          int
	MinQuantityAppliesToSelectedProducts bool

	// Products scopes the coupon to matching line items. Empty means cart-wide.
	Products           []string
	ApplyOnActualPrice bool
	OncePerOrder       bool

	Eligibility           Eligibility
	LimitToOnePerCustomer bool

	PaymentSpecific  bool
	PaymentDiscounts map[order.PaymentMethod]DiscountRule

	CODMaxOrderValue            decimal.NullDecimal
	EnforceSingleOutstandingCOD bool
}

// BaseRule returns the coupon's top-level discount rule.
func (c *Coupon) BaseRule() DiscountRule {
	return DiscountRule{
		Type:          c.Type,
		Value:         c.Value,
		SpecialAmount: c.SpecialAmount,
	}
}

// IsScoped reports whether the coupon is restricted to specific products.
func (c *Coupon) IsScoped() bool {
	return len(c.Products) > 0
}

// Item is a cart line item.
type Item struct {
	ProductID   string
	Price       decimal.Decimal
	ActualPrice decimal.NullDecimal
	Quantity    int
}

// Request is a validated coupon evaluation request.
type Request struct {
	Code string
	// CartValue is the order value as priced by the storefront. Either it or
	// Items must be set.
	CartValue     decimal.NullDecimal
	Items         []Item
	PaymentMethod order.PaymentMethod
	CustomerID    string
}

// Applied is the result of a successful coupon application.
type Applied struct {
	Discount       decimal.Decimal
	Coupon         *Coupon
	ShippingCharge decimal.Decimal
	EligibleAmount decimal.Decimal
}

// Outcome holds exactly one of Applied or Rejection.
type Outcome struct {
	Applied   *Applied
	Rejection *Rejection
}

// OK reports whether the coupon was applied.
func (o *Outcome) OK() bool {
	return o.Applied != nil
}

// Redemption describes a usage increment to commit.
type Redemption struct {
	CouponID   string
	CustomerID string
	// LimitToOnePerCustomer makes the store refuse the per-customer
	// increment when the customer already has a recorded use.
	LimitToOnePerCustomer bool
}

// Store provides coupon lookup and redemption.
type Store interface {
	// FindByCode returns the non-deleted coupon with exactly this code or ErrNotFound.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// CustomerUsage returns how many times the customer used the coupon.
	CustomerUsage(ctx context.Context, couponID, customerID string) (int, error)
	// Redeem increments the usage counters atomically, enforcing the global
	// and per-customer limits in the same operation.
	Redeem(ctx context.Context, r Redemption) error
}
