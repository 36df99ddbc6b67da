package coupon

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-coupons/internal/domain/order"
)

var (
	zero    = decimal.Zero
	hundred = decimal.NewFromInt(100)

	// DefaultCODMaxOrderValue caps COD orders for coupons without an explicit limit.
	DefaultCODMaxOrderValue = decimal.NewFromInt(1500)

	freeShippingThreshold = decimal.NewFromInt(500)
	codShippingCharge     = decimal.NewFromInt(80)
	prepaidShippingCharge = decimal.NewFromInt(40)
)

// selectRule picks the payment-specific rule when the coupon defines one for
// the method, and the top-level rule otherwise.
func selectRule(c *Coupon, method order.PaymentMethod) DiscountRule {
	if c.PaymentSpecific {
		if rule, ok := c.PaymentDiscounts[method]; ok {
			return rule
		}
	}
	return c.BaseRule()
}

// calculateDiscount computes the discount for rule against the resolved scope.
// The result is rounded to cents and never exceeds the eligible amount.
func calculateDiscount(c *Coupon, rule DiscountRule, s Scope) (decimal.Decimal, error) {
	var amount decimal.Decimal

	switch rule.Type {
	case DiscountFlat:
		amount = perUnit(c, s, rule.Value)
	case DiscountSpecial:
		value := rule.Value
		if rule.SpecialAmount.Valid {
			value = rule.SpecialAmount.Decimal
		}
		amount = perUnit(c, s, value)
	case DiscountPercent:
		amount = s.EligibleAmount.Mul(rule.Value).Div(hundred)
	default:
		return zero, errors.Errorf("unsupported discount type: %q", rule.Type)
	}

	discount := decimal.Min(amount, s.EligibleAmount).Round(2)
	if discount.GreaterThan(s.EligibleAmount) {
		// Sub-cent eligible amounts round down so the cap still holds.
		discount = s.EligibleAmount.RoundFloor(2)
	}
	return discount, nil
}

// perUnit multiplies value by the eligible quantity for product-scoped
// coupons that are not limited to once per order.
func perUnit(c *Coupon, s Scope, value decimal.Decimal) decimal.Decimal {
	if s.Scoped && !c.OncePerOrder {
		return value.Mul(decimal.NewFromInt(int64(s.EligibleQuantity)))
	}
	return value
}

// ShippingCharge suggests the shipping charge for an order of the given value.
func ShippingCharge(method order.PaymentMethod, cartValue decimal.Decimal) decimal.Decimal {
	if cartValue.GreaterThan(freeShippingThreshold) {
		return zero
	}
	if method == order.PaymentCOD {
		return codShippingCharge
	}
	return prepaidShippingCharge
}

// codLimit returns the maximum order value accepted for cash on delivery.
func codLimit(c *Coupon) decimal.Decimal {
	if c.CODMaxOrderValue.Valid && c.CODMaxOrderValue.Decimal.IsPositive() {
		return c.CODMaxOrderValue.Decimal
	}
	return DefaultCODMaxOrderValue
}
