package repository

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-coupons/internal/domain/coupon"
)

func TestCouponRepository_UpsertOutOfRange(t *testing.T) {
	limit := math.MaxInt32 + 1
	for name, c := range map[string]*coupon.Coupon{
		"usage limit":  {Code: "X", Type: coupon.DiscountFlat, Value: decimal.NewFromInt(1), UsageLimit: &limit},
		"min quantity": {Code: "X", Type: coupon.DiscountFlat, Value: decimal.NewFromInt(1), MinQuantity: limit},
		"used count":   {Code: "X", Type: coupon.DiscountFlat, Value: decimal.NewFromInt(1), UsedCount: -limit - 1},
	} {
		t.Run(name, func(t *testing.T) {
			// Rejected before any query, so no pool is needed.
			err := NewCouponRepository(nil).Upsert(t.Context(), c)
			require.ErrorContains(t, err, name+" ")
			require.ErrorContains(t, err, "out of range")
		})
	}
}
