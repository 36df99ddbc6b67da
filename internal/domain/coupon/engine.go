package coupon

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-coupons/internal/domain/customer"
	"github.com/xenking/storefront-coupons/internal/domain/order"
)

// DefaultLookupTimeout bounds every segment lookup.
const DefaultLookupTimeout = 2 * time.Second

// Evaluator applies coupons to carts.
type Evaluator interface {
	Evaluate(ctx context.Context, req Request) (*Outcome, error)
}

var _ Evaluator = (*Engine)(nil)

// Deps are the collaborators the engine reads from. Coupons is required;
// the segment collaborators may be nil, in which case segments depending on
// them never match.
type Deps struct {
	Coupons   Store
	Orders    order.History
	Checkouts customer.Checkouts
	Customers customer.Profiles
}

// Options tune the engine.
type Options struct {
	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
	// LookupTimeout bounds each segment lookup. Defaults to DefaultLookupTimeout.
	LookupTimeout time.Duration
}

func (o *Options) setDefaults() {
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.LookupTimeout <= 0 {
		o.LookupTimeout = DefaultLookupTimeout
	}
}

// Engine evaluates a coupon against a cart and, when every rule passes,
// redeems it.
type Engine struct {
	deps Deps
	now  func() time.Time

	lookupTimeout time.Duration
}

// NewEngine creates an Engine.
func NewEngine(deps Deps, opts Options) *Engine {
	opts.setDefaults()
	return &Engine{
		deps:          deps,
		now:           opts.Now,
		lookupTimeout: opts.LookupTimeout,
	}
}

// Evaluate runs the coupon rules for req. Business rule failures are
// reported through Outcome.Rejection; the error is reserved for faults.
//
// Redemption is the only mutating step and runs after every check passed.
func (e *Engine) Evaluate(ctx context.Context, req Request) (*Outcome, error) {
	lg := zctx.From(ctx).With(zap.String("coupon_code", req.Code))

	applied, rejection, err := e.evaluate(ctx, req)
	switch {
	case err != nil:
		return nil, err
	case rejection != nil:
		lg.Debug("Coupon rejected",
			zap.Stringer("reason", rejection.Reason),
			zap.String("customer_id", req.CustomerID),
		)
		return &Outcome{Rejection: rejection}, nil
	default:
		lg.Info("Coupon applied",
			zap.String("coupon_id", applied.Coupon.ID),
			zap.String("customer_id", req.CustomerID),
			zap.Stringer("discount", applied.Discount),
		)
		return &Outcome{Applied: applied}, nil
	}
}

func (e *Engine) evaluate(ctx context.Context, req Request) (*Applied, *Rejection, error) {
	if r := validateRequest(&req); r != nil {
		return nil, r, nil
	}

	c, err := e.deps.Coupons.FindByCode(ctx, req.Code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, reject(ReasonInvalidCoupon), nil
		}
		return nil, nil, errors.Wrap(err, "find coupon")
	}

	if r := checkStatus(c, e.now()); r != nil {
		return nil, r, nil
	}
	if r, err := e.checkEligibility(ctx, c, req.CustomerID); err != nil || r != nil {
		return nil, r, err
	}
	if r, err := e.checkCustomerLimit(ctx, c, req.CustomerID); err != nil || r != nil {
		return nil, r, err
	}

	scope, r := resolveScope(c, req)
	if r != nil {
		return nil, r, nil
	}
	if r := checkMinimums(c, scope); r != nil {
		return nil, r, nil
	}
	if r, err := e.checkPayment(ctx, c, req, scope); err != nil || r != nil {
		return nil, r, err
	}

	discount, err := calculateDiscount(c, selectRule(c, req.PaymentMethod), scope)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "coupon %q", c.Code)
	}
	if !discount.IsPositive() {
		return nil, reject(ReasonZeroDiscount), nil
	}

	if err := e.deps.Coupons.Redeem(ctx, Redemption{
		CouponID:              c.ID,
		CustomerID:            req.CustomerID,
		LimitToOnePerCustomer: c.LimitToOnePerCustomer,
	}); err != nil {
		switch {
		case errors.Is(err, ErrUsageLimitReached):
			return nil, reject(ReasonUsageLimitExceeded), nil
		case errors.Is(err, ErrAlreadyRedeemed):
			return nil, reject(ReasonAlreadyUsed), nil
		default:
			return nil, nil, errors.Wrap(err, "redeem coupon")
		}
	}

	redeemed := *c
	redeemed.UsedCount++

	return &Applied{
		Discount:       discount,
		Coupon:         &redeemed,
		ShippingCharge: ShippingCharge(req.PaymentMethod, scope.CartValue),
		EligibleAmount: scope.EligibleAmount,
	}, nil, nil
}

// validateRequest normalizes req and rejects inputs no coupon can apply to.
func validateRequest(req *Request) *Rejection {
	req.Code = strings.TrimSpace(req.Code)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.Code == "" {
		return reject(ReasonCouponRequired)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = order.PaymentPrepaid
	}

	if !req.CartValue.Valid && len(req.Items) == 0 {
		return rejectf(ReasonInvalidCartValue, "Cart value or cart items are required")
	}
	if req.CartValue.Valid && req.CartValue.Decimal.IsNegative() {
		return rejectf(ReasonInvalidCartValue, "Cart value cannot be negative")
	}
	for _, item := range req.Items {
		if item.Quantity <= 0 {
			return rejectf(ReasonInvalidCartValue, "Quantity of product %q must be positive", item.ProductID)
		}
		if item.Price.IsNegative() || (item.ActualPrice.Valid && item.ActualPrice.Decimal.IsNegative()) {
			return rejectf(ReasonInvalidCartValue, "Price of product %q cannot be negative", item.ProductID)
		}
	}
	return nil
}

func checkStatus(c *Coupon, now time.Time) *Rejection {
	switch {
	case !c.IsActive || c.DeletedAt != nil:
		return reject(ReasonCouponInactive)
	case c.StartAt != nil && now.Before(*c.StartAt):
		return reject(ReasonNotYetActive)
	case c.EndAt != nil && now.After(*c.EndAt):
		return reject(ReasonExpired)
	case c.UsageLimit != nil && c.UsedCount >= *c.UsageLimit:
		return reject(ReasonUsageLimitExceeded)
	}
	return nil
}

func (e *Engine) checkEligibility(ctx context.Context, c *Coupon, customerID string) (*Rejection, error) {
	if c.Eligibility.AllCustomers {
		return nil, nil
	}
	if customerID == "" {
		return reject(ReasonCustomerRequired), nil
	}
	if slices.Contains(c.Eligibility.SpecificCustomers, customerID) {
		return nil, nil
	}

	resolver := &segmentResolver{
		orders:     e.deps.Orders,
		checkouts:  e.deps.Checkouts,
		profiles:   e.deps.Customers,
		timeout:    e.lookupTimeout,
		now:        e.now(),
		customerID: customerID,
	}
	for _, seg := range c.Eligibility.SpecificSegments {
		verdict, err := resolver.Evaluate(ctx, seg)
		if err != nil {
			zctx.From(ctx).Debug("Segment lookup failed",
				zap.String("segment", string(seg)),
				zap.String("customer_id", customerID),
				zap.Error(err),
			)
		}
		if verdict == VerdictYes {
			return nil, nil
		}
	}
	// A cancelled request is a fault, not an ineligible customer.
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "check eligibility")
	}

	return reject(ReasonCustomerNotEligible), nil
}

func (e *Engine) checkCustomerLimit(ctx context.Context, c *Coupon, customerID string) (*Rejection, error) {
	if !c.LimitToOnePerCustomer {
		return nil, nil
	}
	if customerID == "" {
		return reject(ReasonCustomerRequired), nil
	}
	n, err := e.deps.Coupons.CustomerUsage(ctx, c.ID, customerID)
	if err != nil {
		return nil, errors.Wrap(err, "customer usage")
	}
	if n >= 1 {
		return reject(ReasonAlreadyUsed), nil
	}
	return nil, nil
}

func (e *Engine) checkPayment(ctx context.Context, c *Coupon, req Request, s Scope) (*Rejection, error) {
	if req.PaymentMethod != order.PaymentCOD {
		return nil, nil
	}

	if limit := codLimit(c); s.CartValue.GreaterThan(limit) {
		return rejectf(ReasonCODLimitExceeded,
			"Cash on delivery is not available for orders above %s", limit.StringFixed(2)), nil
	}

	if !c.EnforceSingleOutstandingCOD {
		return nil, nil
	}
	if req.CustomerID == "" {
		return reject(ReasonCustomerRequired), nil
	}
	if e.deps.Orders == nil {
		return nil, errors.New("order history not configured")
	}
	outstanding, err := e.deps.Orders.FindOutstandingCOD(ctx, req.CustomerID)
	if err != nil {
		return nil, errors.Wrap(err, "find outstanding COD order")
	}
	if outstanding != nil {
		return reject(ReasonOutstandingCODOrder), nil
	}
	return nil, nil
}
