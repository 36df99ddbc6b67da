package coupon

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Scope is the part of the cart a coupon applies to.
type Scope struct {
	// Scoped is true for product-scoped coupons.
	Scoped bool
	// Items are the line items the discount is computed against.
	Items            []Item
	EligibleQuantity int
	EligibleAmount   decimal.Decimal

	// CartValue and CartQuantity always describe the whole cart.
	CartValue    decimal.Decimal
	CartQuantity int
}

// unitPrice returns the price a discount is based on.
func unitPrice(item Item, actual bool) decimal.Decimal {
	if actual && item.ActualPrice.Valid {
		return item.ActualPrice.Decimal
	}
	return item.Price
}

func lineAmount(item Item, actual bool) decimal.Decimal {
	return unitPrice(item, actual).Mul(decimal.NewFromInt(int64(item.Quantity)))
}

func sumAmount(items []Item, actual bool) decimal.Decimal {
	sum := zero
	for _, item := range items {
		sum = sum.Add(lineAmount(item, actual))
	}
	return sum
}

func sumQuantity(items []Item) int {
	return lo.SumBy(items, func(item Item) int { return item.Quantity })
}

// cartValue is the storefront-priced cart value, falling back to the sum of
// current prices when no explicit value was sent.
func cartValue(req Request) decimal.Decimal {
	if req.CartValue.Valid {
		return req.CartValue.Decimal
	}
	return sumAmount(req.Items, false)
}

// resolveScope selects the line items the coupon applies to and computes the
// eligible amount and quantity.
func resolveScope(c *Coupon, req Request) (Scope, *Rejection) {
	s := Scope{
		Scoped:       c.IsScoped(),
		CartValue:    cartValue(req),
		CartQuantity: sumQuantity(req.Items),
	}

	if s.Scoped {
		products := lo.SliceToMap(c.Products, func(id string) (string, struct{}) {
			return id, struct{}{}
		})
		s.Items = lo.Filter(req.Items, func(item Item, _ int) bool {
			_, ok := products[item.ProductID]
			return ok
		})
		if len(s.Items) == 0 {
			return Scope{}, reject(ReasonNoEligibleItems)
		}
		s.EligibleQuantity = sumQuantity(s.Items)
		s.EligibleAmount = sumAmount(s.Items, c.ApplyOnActualPrice)
		return s, nil
	}

	s.Items = req.Items
	s.EligibleQuantity = s.CartQuantity
	switch {
	case len(req.Items) > 0 && (c.ApplyOnActualPrice || !req.CartValue.Valid):
		s.EligibleAmount = sumAmount(req.Items, c.ApplyOnActualPrice)
	default:
		s.EligibleAmount = s.CartValue
	}
	return s, nil
}

// checkMinimums enforces the minimum quantity and minimum cart value rules.
func checkMinimums(c *Coupon, s Scope) *Rejection {
	if c.MinQuantity > 0 {
		qty := s.CartQuantity
		if c.MinQuantityAppliesToSelectedProducts && s.Scoped {
			qty = s.EligibleQuantity
		}
		if qty < c.MinQuantity {
			return rejectf(ReasonMinQuantityNotMet,
				"Minimum quantity of %d required for this coupon", c.MinQuantity)
		}
	}

	if c.MinCartValue.Valid && c.MinCartValue.Decimal.IsPositive() {
		value := s.CartValue
		if c.MinCartAppliesToSelectedProducts && s.Scoped {
			value = s.EligibleAmount
		}
		if value.LessThan(c.MinCartValue.Decimal) {
			return rejectf(ReasonMinCartValueNotMet,
				"Minimum cart value of %s required for this coupon", c.MinCartValue.Decimal.StringFixed(2))
		}
	}

	return nil
}
