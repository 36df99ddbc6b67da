package codec

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-coupons/internal/domain/coupon"
	"github.com/xenking/storefront-coupons/internal/domain/order"
)

// EncodeCoupon writes the public representation of c.
func EncodeCoupon(e *jx.Encoder, c *coupon.Coupon) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(c.ID) })
		e.Field("code", func(e *jx.Encoder) { e.Str(c.Code) })
		encodeRuleFields(e, c.BaseRule())
		e.Field("isActive", func(e *jx.Encoder) { e.Bool(c.IsActive) })
		e.Field("startAt", func(e *jx.Encoder) { encodeTime(e, c.StartAt) })
		e.Field("endAt", func(e *jx.Encoder) { encodeTime(e, c.EndAt) })
		e.Field("usageLimit", func(e *jx.Encoder) {
			if c.UsageLimit == nil {
				e.Null()
				return
			}
			e.Int(*c.UsageLimit)
		})
		e.Field("usedCount", func(e *jx.Encoder) { e.Int(c.UsedCount) })
		e.Field("minCartValue", func(e *jx.Encoder) { EncodeNullDecimal(e, c.MinCartValue) })
		e.Field("minCartAppliesToSelectedProducts", func(e *jx.Encoder) { e.Bool(c.MinCartAppliesToSelectedProducts) })
		e.Field("minQuantity", func(e *jx.Encoder) { e.Int(c.MinQuantity) })
		e.Field("minQuantityAppliesToSelectedProducts", func(e *jx.Encoder) { e.Bool(c.MinQuantityAppliesToSelectedProducts) })
		e.Field("products", func(e *jx.Encoder) { encodeStrings(e, c.Products) })
		e.Field("applyOnActualPrice", func(e *jx.Encoder) { e.Bool(c.ApplyOnActualPrice) })
		e.Field("oncePerOrder", func(e *jx.Encoder) { e.Bool(c.OncePerOrder) })
		e.Field("eligibility", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("allCustomers", func(e *jx.Encoder) { e.Bool(c.Eligibility.AllCustomers) })
				e.Field("specificCustomers", func(e *jx.Encoder) { encodeStrings(e, c.Eligibility.SpecificCustomers) })
				e.Field("specificSegments", func(e *jx.Encoder) {
					e.Arr(func(e *jx.Encoder) {
						for _, s := range c.Eligibility.SpecificSegments {
							e.Str(string(s))
						}
					})
				})
			})
		})
		e.Field("limitToOnePerCustomer", func(e *jx.Encoder) { e.Bool(c.LimitToOnePerCustomer) })
		e.Field("paymentSpecific", func(e *jx.Encoder) { e.Bool(c.PaymentSpecific) })
		e.Field("paymentDiscounts", func(e *jx.Encoder) { EncodePaymentDiscounts(e, c.PaymentDiscounts) })
		e.Field("codMaxOrderValue", func(e *jx.Encoder) { EncodeNullDecimal(e, c.CODMaxOrderValue) })
		e.Field("enforceSingleOutstandingCOD", func(e *jx.Encoder) { e.Bool(c.EnforceSingleOutstandingCOD) })
	})
}

// EncodePaymentDiscounts writes the per-payment-method rules as an object
// keyed by method.
func EncodePaymentDiscounts(e *jx.Encoder, rules map[order.PaymentMethod]coupon.DiscountRule) {
	e.Obj(func(e *jx.Encoder) {
		// Fixed order keeps the stored JSON stable.
		for _, m := range []order.PaymentMethod{order.PaymentPrepaid, order.PaymentCOD} {
			rule, ok := rules[m]
			if !ok {
				continue
			}
			e.Field(string(m), func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) { encodeRuleFields(e, rule) })
			})
		}
	})
}

// DecodePaymentDiscounts reads the object written by EncodePaymentDiscounts.
func DecodePaymentDiscounts(d *jx.Decoder) (map[order.PaymentMethod]coupon.DiscountRule, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	rules := make(map[order.PaymentMethod]coupon.DiscountRule)
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		m, err := order.ParsePaymentMethod(key)
		if err != nil {
			return err
		}
		var rule coupon.DiscountRule
		if err := d.Obj(func(d *jx.Decoder, key string) error {
			return decodeRuleField(d, key, &rule)
		}); err != nil {
			return errors.Wrapf(err, "rule %q", key)
		}
		rules[m] = rule
		return nil
	}); err != nil {
		return nil, errors.Wrap(err, "payment discounts")
	}
	return rules, nil
}

// DecodeCoupon reads a coupon definition. Unknown fields are skipped.
// Omitted fields take the defaults of a newly created coupon: active and
// open to all customers.
func DecodeCoupon(d *jx.Decoder) (*coupon.Coupon, error) {
	c := &coupon.Coupon{
		IsActive:    true,
		Eligibility: coupon.Eligibility{AllCustomers: true},
	}
	rule := coupon.DiscountRule{}

	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			c.ID, err = d.Str()
		case "code":
			c.Code, err = d.Str()
		case "type", "value", "specialAmount":
			err = decodeRuleField(d, key, &rule)
		case "isActive":
			c.IsActive, err = d.Bool()
		case "startAt":
			c.StartAt, err = decodeTime(d)
		case "endAt":
			c.EndAt, err = decodeTime(d)
		case "usageLimit":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var n int
			n, err = DecodeInt(d)
			c.UsageLimit = &n
		case "usedCount":
			c.UsedCount, err = DecodeInt(d)
		case "minCartValue":
			c.MinCartValue, err = DecodeNullDecimal(d)
		case "minCartAppliesToSelectedProducts":
			c.MinCartAppliesToSelectedProducts, err = d.Bool()
		case "minQuantity":
			c.MinQuantity, err = DecodeInt(d)
		case "minQuantityAppliesToSelectedProducts":
			c.MinQuantityAppliesToSelectedProducts, err = d.Bool()
		case "products":
			c.Products, err = decodeStrings(d)
		case "applyOnActualPrice":
			c.ApplyOnActualPrice, err = d.Bool()
		case "oncePerOrder":
			c.OncePerOrder, err = d.Bool()
		case "eligibility":
			err = decodeEligibility(d, &c.Eligibility)
		case "limitToOnePerCustomer":
			c.LimitToOnePerCustomer, err = d.Bool()
		case "paymentSpecific":
			c.PaymentSpecific, err = d.Bool()
		case "paymentDiscounts":
			c.PaymentDiscounts, err = DecodePaymentDiscounts(d)
		case "codMaxOrderValue":
			c.CODMaxOrderValue, err = DecodeNullDecimal(d)
		case "enforceSingleOutstandingCOD":
			c.EnforceSingleOutstandingCOD, err = d.Bool()
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.Type, c.Value, c.SpecialAmount = rule.Type, rule.Value, rule.SpecialAmount
	if err := ValidateCoupon(c); err != nil {
		return nil, err
	}
	return c, nil
}

// ValidateCoupon checks the invariants a stored coupon definition must hold.
func ValidateCoupon(c *coupon.Coupon) error {
	if c.Code == "" {
		return errors.New("code is required")
	}
	if err := validateRule(c.BaseRule()); err != nil {
		return errors.Wrapf(err, "coupon %q", c.Code)
	}
	for m, rule := range c.PaymentDiscounts {
		if err := validateRule(rule); err != nil {
			return errors.Wrapf(err, "coupon %q: %s rule", c.Code, m)
		}
	}
	if c.UsageLimit != nil && *c.UsageLimit < 0 {
		return errors.Errorf("coupon %q: negative usage limit", c.Code)
	}
	if c.StartAt != nil && c.EndAt != nil && c.EndAt.Before(*c.StartAt) {
		return errors.Errorf("coupon %q: endAt before startAt", c.Code)
	}
	return nil
}

func validateRule(rule coupon.DiscountRule) error {
	switch rule.Type {
	case coupon.DiscountFlat, coupon.DiscountPercent, coupon.DiscountSpecial:
	default:
		return errors.Errorf("unsupported discount type %q", rule.Type)
	}
	if rule.Value.IsNegative() {
		return errors.New("negative value")
	}
	if rule.SpecialAmount.Valid && rule.SpecialAmount.Decimal.IsNegative() {
		return errors.New("negative special amount")
	}
	return nil
}

func encodeRuleFields(e *jx.Encoder, rule coupon.DiscountRule) {
	e.Field("type", func(e *jx.Encoder) { e.Str(string(rule.Type)) })
	e.Field("value", func(e *jx.Encoder) { EncodeDecimal(e, rule.Value) })
	e.Field("specialAmount", func(e *jx.Encoder) { EncodeNullDecimal(e, rule.SpecialAmount) })
}

func decodeRuleField(d *jx.Decoder, key string, rule *coupon.DiscountRule) error {
	var err error
	switch key {
	case "type":
		var s string
		s, err = d.Str()
		rule.Type = coupon.DiscountType(s)
	case "value":
		rule.Value, err = DecodeDecimal(d)
	case "specialAmount":
		rule.SpecialAmount, err = DecodeNullDecimal(d)
	default:
		return d.Skip()
	}
	return err
}

func decodeEligibility(d *jx.Decoder, el *coupon.Eligibility) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "allCustomers":
			el.AllCustomers, err = d.Bool()
		case "specificCustomers":
			el.SpecificCustomers, err = decodeStrings(d)
		case "specificSegments":
			var segs []string
			segs, err = decodeStrings(d)
			el.SpecificSegments = make([]coupon.Segment, 0, len(segs))
			for _, s := range segs {
				el.SpecificSegments = append(el.SpecificSegments, coupon.Segment(s))
			}
		default:
			return d.Skip()
		}
		return err
	})
}

func encodeStrings(e *jx.Encoder, values []string) {
	e.Arr(func(e *jx.Encoder) {
		for _, v := range values {
			e.Str(v)
		}
	})
}

func decodeStrings(d *jx.Decoder) ([]string, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	var out []string
	err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return err
		}
		out = append(out, s)
		return nil
	})
	return out, err
}

func encodeTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func decodeTime(d *jx.Decoder) (*time.Time, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.Wrap(err, "parse time")
	}
	return &t, nil
}
