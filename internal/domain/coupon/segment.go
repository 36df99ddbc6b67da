package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-coupons/internal/domain/customer"
	"github.com/xenking/storefront-coupons/internal/domain/order"
)

// Segment is a named customer-behaviour predicate used for targeting.
type Segment string

const (
	SegmentNeverPurchased          Segment = "neverPurchased"
	SegmentPurchasedAtLeastOnce    Segment = "purchasedAtLeastOnce"
	SegmentPurchasedMoreThanOnce   Segment = "purchasedMoreThanOnce"
	SegmentPurchasedMoreThan3Times Segment = "purchasedMoreThan3Times"
	SegmentAbandonedCart30Days     Segment = "abandonedCart30Days"
	SegmentEmailSubscribers        Segment = "emailSubscribers"
)

const abandonedCartWindow = 30 * 24 * time.Hour

var errUnknownSegment = errors.New("unknown segment")

// Verdict is the outcome of a segment lookup. VerdictUnknown means the
// lookup could not be performed and never counts as a match.
type Verdict int8

const (
	VerdictUnknown Verdict = iota
	VerdictNo
	VerdictYes
)

func (v Verdict) String() string {
	switch v {
	case VerdictNo:
		return "no"
	case VerdictYes:
		return "yes"
	default:
		return "unknown"
	}
}

func verdictOf(match bool) Verdict {
	if match {
		return VerdictYes
	}
	return VerdictNo
}

// segmentResolver evaluates segments for a single customer. The order count
// is fetched at most once per resolver.
type segmentResolver struct {
	orders     order.History
	checkouts  customer.Checkouts
	profiles   customer.Profiles
	timeout    time.Duration
	now        time.Time
	customerID string

	countDone bool
	count     int
	countErr  error
}

// Evaluate returns the verdict for seg. The error, when set, explains a
// VerdictUnknown result and is meant for logging only.
func (r *segmentResolver) Evaluate(ctx context.Context, seg Segment) (Verdict, error) {
	switch seg {
	case SegmentNeverPurchased:
		return r.byCount(ctx, func(n int) bool { return n == 0 })
	case SegmentPurchasedAtLeastOnce:
		return r.byCount(ctx, func(n int) bool { return n >= 1 })
	case SegmentPurchasedMoreThanOnce:
		return r.byCount(ctx, func(n int) bool { return n > 1 })
	case SegmentPurchasedMoreThan3Times:
		return r.byCount(ctx, func(n int) bool { return n > 3 })
	case SegmentAbandonedCart30Days:
		return r.abandonedCart(ctx)
	case SegmentEmailSubscribers:
		return r.emailSubscriber(ctx)
	default:
		return VerdictUnknown, errors.Wrapf(errUnknownSegment, "%q", seg)
	}
}

func (r *segmentResolver) byCount(ctx context.Context, match func(n int) bool) (Verdict, error) {
	if r.orders == nil {
		return VerdictUnknown, errors.New("order history not configured")
	}
	if !r.countDone {
		lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
		r.count, r.countErr = r.orders.CountOrders(lookupCtx, r.customerID)
		cancel()
		r.countDone = true
	}
	if r.countErr != nil {
		return VerdictUnknown, errors.Wrap(r.countErr, "count orders")
	}
	return verdictOf(match(r.count)), nil
}

func (r *segmentResolver) abandonedCart(ctx context.Context) (Verdict, error) {
	if r.checkouts == nil {
		return VerdictUnknown, errors.New("checkouts not configured")
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	c, err := r.checkouts.FindAbandoned(lookupCtx, r.customerID, r.now.Add(-abandonedCartWindow))
	if err != nil {
		return VerdictUnknown, errors.Wrap(err, "find abandoned checkout")
	}
	return verdictOf(c != nil), nil
}

func (r *segmentResolver) emailSubscriber(ctx context.Context) (Verdict, error) {
	if r.profiles == nil {
		return VerdictUnknown, errors.New("customer profiles not configured")
	}
	lookupCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	flags, err := r.profiles.FindSubscriptionFlags(lookupCtx, r.customerID)
	if err != nil {
		return VerdictUnknown, errors.Wrap(err, "find subscription flags")
	}
	return verdictOf(flags != nil && flags.EmailSubscribed), nil
}
