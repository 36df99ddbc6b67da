package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-coupons/internal/domain/customer"
	"github.com/xenking/storefront-coupons/internal/domain/order"
)

type mockStore struct {
	coupon    *Coupon
	findErr   error
	usage     int
	usageErr  error
	redeemErr error

	redeemed []Redemption
}

func (m *mockStore) FindByCode(_ context.Context, code string) (*Coupon, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	if m.coupon == nil || m.coupon.Code != code {
		return nil, ErrNotFound
	}
	c := *m.coupon
	return &c, nil
}

func (m *mockStore) CustomerUsage(_ context.Context, _, _ string) (int, error) {
	return m.usage, m.usageErr
}

func (m *mockStore) Redeem(_ context.Context, r Redemption) error {
	if m.redeemErr != nil {
		return m.redeemErr
	}
	m.redeemed = append(m.redeemed, r)
	return nil
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(store *mockStore, history *mockHistory) *Engine {
	deps := Deps{Coupons: store}
	if history != nil {
		deps.Orders = history
	}
	return NewEngine(deps, Options{Now: func() time.Time { return fixedNow }})
}

func openCoupon(code string, typ DiscountType, value string) *Coupon {
	return &Coupon{
		ID:          "id-" + code,
		Code:        code,
		Type:        typ,
		Value:       d(value),
		IsActive:    true,
		Eligibility: Eligibility{AllCustomers: true},
	}
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func TestEngine_Scenarios(t *testing.T) {
	t.Run("SAVE10 percent on cart value", func(t *testing.T) {
		c := openCoupon("SAVE10", DiscountPercent, "10")
		c.MinCartValue = nd("0")
		store := &mockStore{coupon: c}

		out, err := newTestEngine(store, nil).Evaluate(t.Context(), Request{
			Code:          "SAVE10",
			CartValue:     nd("200"),
			PaymentMethod: order.PaymentPrepaid,
		})
		require.NoError(t, err)
		require.True(t, out.OK(), "rejected: %+v", out.Rejection)
		assert.True(t, d("20").Equal(out.Applied.Discount), "got %s", out.Applied.Discount)
		// Prepaid carts at or below the free-shipping threshold pay the prepaid charge.
		assert.True(t, d("40").Equal(out.Applied.ShippingCharge), "got %s", out.Applied.ShippingCharge)
		assert.Equal(t, 1, out.Applied.Coupon.UsedCount)
		require.Len(t, store.redeemed, 1)
		assert.Equal(t, c.ID, store.redeemed[0].CouponID)
	})

	t.Run("SAVE10 free shipping above threshold", func(t *testing.T) {
		c := openCoupon("SAVE10", DiscountPercent, "10")
		out, err := newTestEngine(&mockStore{coupon: c}, nil).Evaluate(t.Context(), Request{
			Code:      "SAVE10",
			CartValue: nd("600"),
		})
		require.NoError(t, err)
		require.True(t, out.OK())
		assert.True(t, d("60").Equal(out.Applied.Discount))
		assert.True(t, out.Applied.ShippingCharge.IsZero())
	})

	t.Run("FLAT50 below minimum cart value", func(t *testing.T) {
		c := openCoupon("FLAT50", DiscountFlat, "50")
		c.MinCartValue = nd("100")
		store := &mockStore{coupon: c}

		out, err := newTestEngine(store, nil).Evaluate(t.Context(), Request{
			Code:      "FLAT50",
			CartValue: nd("80"),
		})
		require.NoError(t, err)
		require.NotNil(t, out.Rejection)
		assert.Equal(t, ReasonMinCartValueNotMet, out.Rejection.Reason)
		assert.Empty(t, store.redeemed)
	})

	t.Run("BULK scoped per unit", func(t *testing.T) {
		c := openCoupon("BULK", DiscountFlat, "10")
		c.Products = []string{"P1"}

		out, err := newTestEngine(&mockStore{coupon: c}, nil).Evaluate(t.Context(), Request{
			Code:  "BULK",
			Items: []Item{{ProductID: "P1", Price: d("20"), Quantity: 3}},
		})
		require.NoError(t, err)
		require.True(t, out.OK())
		assert.True(t, d("30").Equal(out.Applied.Discount), "got %s", out.Applied.Discount)
		assert.True(t, d("60").Equal(out.Applied.EligibleAmount))
	})

	t.Run("payment specific rule for COD", func(t *testing.T) {
		c := openCoupon("CODFLAT", DiscountPercent, "20")
		c.PaymentSpecific = true
		c.PaymentDiscounts = map[order.PaymentMethod]DiscountRule{
			order.PaymentCOD: {Type: DiscountFlat, Value: d("5")},
		}

		out, err := newTestEngine(&mockStore{coupon: c}, nil).Evaluate(t.Context(), Request{
			Code:          "CODFLAT",
			CartValue:     nd("300"),
			PaymentMethod: order.PaymentCOD,
		})
		require.NoError(t, err)
		require.True(t, out.OK())
		assert.True(t, d("5").Equal(out.Applied.Discount), "got %s", out.Applied.Discount)
		assert.True(t, d("80").Equal(out.Applied.ShippingCharge))
	})

	t.Run("flat capped by sub-cent cart value", func(t *testing.T) {
		c := openCoupon("TINY", DiscountFlat, "1")

		out, err := newTestEngine(&mockStore{coupon: c}, nil).Evaluate(t.Context(), Request{
			Code:      "TINY",
			CartValue: nd("0.125"),
		})
		require.NoError(t, err)
		require.True(t, out.OK(), "rejected: %+v", out.Rejection)
		assert.True(t, d("0.12").Equal(out.Applied.Discount), "got %s", out.Applied.Discount)
		assert.True(t, out.Applied.Discount.LessThanOrEqual(out.Applied.EligibleAmount))
	})
}

func TestEngine_Rejections(t *testing.T) {
	past := fixedNow.Add(-time.Hour)
	future := fixedNow.Add(time.Hour)

	tests := []struct {
		name    string
		coupon  func(c *Coupon)
		store   func(s *mockStore)
		history *mockHistory
		req     Request
		want    Reason
	}{
		{
			name: "blank code",
			req:  Request{Code: "  ", CartValue: nd("100")},
			want: ReasonCouponRequired,
		},
		{
			name: "missing cart",
			req:  Request{Code: "C"},
			want: ReasonInvalidCartValue,
		},
		{
			name: "negative cart value",
			req:  Request{Code: "C", CartValue: nd("-1")},
			want: ReasonInvalidCartValue,
		},
		{
			name: "non-positive quantity",
			req:  Request{Code: "C", Items: []Item{{ProductID: "P1", Price: d("10"), Quantity: 0}}},
			want: ReasonInvalidCartValue,
		},
		{
			name: "unknown code",
			req:  Request{Code: "NOPE", CartValue: nd("100")},
			want: ReasonInvalidCoupon,
		},
		{
			name: "code match is exact",
			req:  Request{Code: "c", CartValue: nd("100")},
			want: ReasonInvalidCoupon,
		},
		{
			name:   "inactive",
			coupon: func(c *Coupon) { c.IsActive = false },
			req:    Request{Code: "C", CartValue: nd("100")},
			want:   ReasonCouponInactive,
		},
		{
			name:   "deleted",
			coupon: func(c *Coupon) { c.DeletedAt = timePtr(past) },
			req:    Request{Code: "C", CartValue: nd("100")},
			want:   ReasonCouponInactive,
		},
		{
			name:   "not yet active",
			coupon: func(c *Coupon) { c.StartAt = timePtr(future) },
			req:    Request{Code: "C", CartValue: nd("100")},
			want:   ReasonNotYetActive,
		},
		{
			name:   "expired",
			coupon: func(c *Coupon) { c.EndAt = timePtr(past) },
			req:    Request{Code: "C", Items: []Item{{ProductID: "P1", Price: d("10"), Quantity: 1}}},
			want:   ReasonExpired,
		},
		{
			name: "usage limit reached",
			coupon: func(c *Coupon) {
				c.UsageLimit = intPtr(5)
				c.UsedCount = 5
			},
			req:  Request{Code: "C", CartValue: nd("100")},
			want: ReasonUsageLimitExceeded,
		},
		{
			name:   "restricted coupon without customer",
			coupon: func(c *Coupon) { c.Eligibility = Eligibility{SpecificCustomers: []string{"c1"}} },
			req:    Request{Code: "C", CartValue: nd("100")},
			want:   ReasonCustomerRequired,
		},
		{
			name:   "customer not listed",
			coupon: func(c *Coupon) { c.Eligibility = Eligibility{SpecificCustomers: []string{"c1"}} },
			req:    Request{Code: "C", CartValue: nd("100"), CustomerID: "c2"},
			want:   ReasonCustomerNotEligible,
		},
		{
			name: "segment does not match",
			coupon: func(c *Coupon) {
				c.Eligibility = Eligibility{SpecificSegments: []Segment{SegmentNeverPurchased}}
			},
			history: &mockHistory{count: 2},
			req:     Request{Code: "C", CartValue: nd("100"), CustomerID: "c2"},
			want:    ReasonCustomerNotEligible,
		},
		{
			name: "segment lookup failure does not match",
			coupon: func(c *Coupon) {
				c.Eligibility = Eligibility{SpecificSegments: []Segment{SegmentNeverPurchased}}
			},
			history: &mockHistory{countErr: errors.New("orders table missing")},
			req:     Request{Code: "C", CartValue: nd("100"), CustomerID: "c2"},
			want:    ReasonCustomerNotEligible,
		},
		{
			name:   "one per customer without customer",
			coupon: func(c *Coupon) { c.LimitToOnePerCustomer = true },
			req:    Request{Code: "C", CartValue: nd("100")},
			want:   ReasonCustomerRequired,
		},
		{
			name:   "already used",
			coupon: func(c *Coupon) { c.LimitToOnePerCustomer = true },
			store:  func(s *mockStore) { s.usage = 1 },
			req:    Request{Code: "C", CartValue: nd("100"), CustomerID: "c1"},
			want:   ReasonAlreadyUsed,
		},
		{
			name:   "no eligible items",
			coupon: func(c *Coupon) { c.Products = []string{"P9"} },
			req:    Request{Code: "C", Items: []Item{{ProductID: "P1", Price: d("10"), Quantity: 1}}},
			want:   ReasonNoEligibleItems,
		},
		{
			name:   "minimum quantity",
			coupon: func(c *Coupon) { c.MinQuantity = 3 },
			req:    Request{Code: "C", Items: []Item{{ProductID: "P1", Price: d("10"), Quantity: 2}}},
			want:   ReasonMinQuantityNotMet,
		},
		{
			name: "COD default limit",
			req:  Request{Code: "C", CartValue: nd("1500.01"), PaymentMethod: order.PaymentCOD},
			want: ReasonCODLimitExceeded,
		},
		{
			name:   "COD custom limit",
			coupon: func(c *Coupon) { c.CODMaxOrderValue = nd("300") },
			req:    Request{Code: "C", CartValue: nd("301"), PaymentMethod: order.PaymentCOD},
			want:   ReasonCODLimitExceeded,
		},
		{
			name:    "outstanding COD order",
			coupon:  func(c *Coupon) { c.EnforceSingleOutstandingCOD = true },
			history: &mockHistory{outstanding: &order.Order{ID: "o1", Status: order.StatusShipped}},
			req:     Request{Code: "C", CartValue: nd("100"), PaymentMethod: order.PaymentCOD, CustomerID: "c1"},
			want:    ReasonOutstandingCODOrder,
		},
		{
			name: "zero discount",
			req:  Request{Code: "C", CartValue: nd("0")},
			want: ReasonZeroDiscount,
		},
		{
			name:  "lost usage limit race",
			store: func(s *mockStore) { s.redeemErr = errors.Wrap(ErrUsageLimitReached, "redeem") },
			req:   Request{Code: "C", CartValue: nd("100")},
			want:  ReasonUsageLimitExceeded,
		},
		{
			name:   "lost per customer race",
			coupon: func(c *Coupon) { c.LimitToOnePerCustomer = true },
			store:  func(s *mockStore) { s.redeemErr = ErrAlreadyRedeemed },
			req:    Request{Code: "C", CartValue: nd("100"), CustomerID: "c1"},
			want:   ReasonAlreadyUsed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openCoupon("C", DiscountFlat, "10")
			if tt.coupon != nil {
				tt.coupon(c)
			}
			store := &mockStore{coupon: c}
			if tt.store != nil {
				tt.store(store)
			}
			e := newTestEngine(store, tt.history)

			for range 2 {
				out, err := e.Evaluate(t.Context(), tt.req)
				require.NoError(t, err)
				require.NotNil(t, out.Rejection)
				assert.False(t, out.OK())
				assert.Equal(t, tt.want, out.Rejection.Reason)
				assert.NotEmpty(t, out.Rejection.Message)
			}
			assert.Empty(t, store.redeemed)
		})
	}
}

func TestEngine_Eligibility(t *testing.T) {
	t.Run("listed customer", func(t *testing.T) {
		c := openCoupon("VIP", DiscountFlat, "10")
		c.Eligibility = Eligibility{SpecificCustomers: []string{"c1"}}

		out, err := newTestEngine(&mockStore{coupon: c}, nil).Evaluate(t.Context(), Request{
			Code: "VIP", CartValue: nd("100"), CustomerID: "c1",
		})
		require.NoError(t, err)
		assert.True(t, out.OK())
	})

	t.Run("any segment matches", func(t *testing.T) {
		c := openCoupon("BACK", DiscountPercent, "15")
		c.Eligibility = Eligibility{SpecificSegments: []Segment{
			SegmentEmailSubscribers,
			SegmentPurchasedMoreThan3Times,
		}}
		e := NewEngine(Deps{
			Coupons:   &mockStore{coupon: c},
			Orders:    &mockHistory{count: 7},
			Customers: &mockProfiles{err: errors.New("customers unavailable")},
		}, Options{Now: func() time.Time { return fixedNow }})

		out, err := e.Evaluate(t.Context(), Request{Code: "BACK", CartValue: nd("100"), CustomerID: "c1"})
		require.NoError(t, err)
		require.True(t, out.OK())
		assert.True(t, d("15").Equal(out.Applied.Discount))
	})

	t.Run("abandoned cart", func(t *testing.T) {
		c := openCoupon("COMEBACK", DiscountFlat, "25")
		c.Eligibility = Eligibility{SpecificSegments: []Segment{SegmentAbandonedCart30Days}}
		e := NewEngine(Deps{
			Coupons:   &mockStore{coupon: c},
			Checkouts: &mockCheckouts{checkout: &customer.Checkout{ID: "ch1"}},
		}, Options{Now: func() time.Time { return fixedNow }})

		out, err := e.Evaluate(t.Context(), Request{Code: "COMEBACK", CartValue: nd("100"), CustomerID: "c1"})
		require.NoError(t, err)
		assert.True(t, out.OK())
	})
}

func TestEngine_OnePerCustomer(t *testing.T) {
	c := openCoupon("ONCE", DiscountFlat, "10")
	c.LimitToOnePerCustomer = true
	store := &mockStore{coupon: c}

	out, err := newTestEngine(store, nil).Evaluate(t.Context(), Request{
		Code: "ONCE", CartValue: nd("100"), CustomerID: "c1",
	})
	require.NoError(t, err)
	require.True(t, out.OK())
	require.Len(t, store.redeemed, 1)
	assert.Equal(t, Redemption{CouponID: c.ID, CustomerID: "c1", LimitToOnePerCustomer: true}, store.redeemed[0])
}

func TestEngine_Faults(t *testing.T) {
	dbErr := errors.New("connection refused")

	tests := []struct {
		name    string
		coupon  func(c *Coupon)
		store   func(s *mockStore)
		history *mockHistory
		req     Request
	}{
		{
			name:  "lookup failure",
			store: func(s *mockStore) { s.findErr = dbErr },
			req:   Request{Code: "C", CartValue: nd("100")},
		},
		{
			name:   "customer usage failure",
			coupon: func(c *Coupon) { c.LimitToOnePerCustomer = true },
			store:  func(s *mockStore) { s.usageErr = dbErr },
			req:    Request{Code: "C", CartValue: nd("100"), CustomerID: "c1"},
		},
		{
			name:    "outstanding COD lookup failure",
			coupon:  func(c *Coupon) { c.EnforceSingleOutstandingCOD = true },
			history: &mockHistory{codErr: dbErr},
			req:     Request{Code: "C", CartValue: nd("100"), PaymentMethod: order.PaymentCOD, CustomerID: "c1"},
		},
		{
			name:  "redeem failure",
			store: func(s *mockStore) { s.redeemErr = dbErr },
			req:   Request{Code: "C", CartValue: nd("100")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := openCoupon("C", DiscountFlat, "10")
			if tt.coupon != nil {
				tt.coupon(c)
			}
			store := &mockStore{coupon: c}
			if tt.store != nil {
				tt.store(store)
			}

			out, err := newTestEngine(store, tt.history).Evaluate(t.Context(), tt.req)
			require.ErrorIs(t, err, dbErr)
			assert.Nil(t, out)
		})
	}
}

func TestEngine_CancelledDuringEligibility(t *testing.T) {
	c := openCoupon("SEG", DiscountFlat, "10")
	c.Eligibility = Eligibility{SpecificSegments: []Segment{SegmentPurchasedAtLeastOnce}}

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := newTestEngine(&mockStore{coupon: c}, &mockHistory{block: true}).Evaluate(ctx, Request{
		Code: "SEG", CartValue: nd("100"), CustomerID: "c1",
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestEngine_PercentProperty(t *testing.T) {
	for _, value := range []string{"0.5", "1", "10", "33.33", "50", "99.99", "100"} {
		for _, cart := range []string{"0.99", "10", "123.45", "999.99"} {
			c := openCoupon("PCT", DiscountPercent, value)
			out, err := newTestEngine(&mockStore{coupon: c}, nil).Evaluate(t.Context(), Request{
				Code: "PCT", CartValue: nd(cart),
			})
			require.NoError(t, err)

			want := d(cart).Mul(d(value)).Div(decimal.NewFromInt(100)).Round(2)
			if !want.IsPositive() {
				require.NotNil(t, out.Rejection)
				assert.Equal(t, ReasonZeroDiscount, out.Rejection.Reason)
				continue
			}
			require.True(t, out.OK(), "value=%s cart=%s", value, cart)
			assert.True(t, want.Equal(out.Applied.Discount), "value=%s cart=%s: got %s", value, cart, out.Applied.Discount)
			assert.True(t, out.Applied.Discount.LessThanOrEqual(d(cart)))
		}
	}
}
