package repository

import (
	"context"
	"fmt"
	"math"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/storefront-coupons/internal/codec"
	"github.com/xenking/storefront-coupons/internal/domain/coupon"
)

const (
	couponColumns = `id, code, discount_type, value, special_amount,
		is_active, deleted_at, start_at, end_at, usage_limit, used_count,
		min_cart_value, min_cart_applies_to_selected_products,
		min_quantity, min_quantity_applies_to_selected_products,
		products, apply_on_actual_price, once_per_order,
		all_customers, specific_customers, specific_segments, limit_to_one_per_customer,
		payment_specific, payment_discounts, cod_max_order_value, enforce_single_outstanding_cod`

	getCouponByCodeSQL = `SELECT ` + couponColumns + `
		FROM coupons WHERE code = $1 AND deleted_at IS NULL`

	getCustomerUsageSQL = `SELECT count FROM coupon_customer_usage
		WHERE coupon_id = $1 AND customer_id = $2`

	incrementUsedCountSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = NOW()
		WHERE id = $1 AND (usage_limit IS NULL OR used_count < usage_limit)`

	// The conflict branch only fires when the customer may redeem again.
	upsertCustomerUsageSQL = `INSERT INTO coupon_customer_usage (coupon_id, customer_id, count)
		VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, customer_id) DO UPDATE
		SET count = coupon_customer_usage.count + 1, updated_at = NOW()
		WHERE NOT $3 OR coupon_customer_usage.count < 1`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18,
			$19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (code) WHERE deleted_at IS NULL DO UPDATE SET
			discount_type = EXCLUDED.discount_type,
			value = EXCLUDED.value,
			special_amount = EXCLUDED.special_amount,
			is_active = EXCLUDED.is_active,
			start_at = EXCLUDED.start_at,
			end_at = EXCLUDED.end_at,
			usage_limit = EXCLUDED.usage_limit,
			min_cart_value = EXCLUDED.min_cart_value,
			min_cart_applies_to_selected_products = EXCLUDED.min_cart_applies_to_selected_products,
			min_quantity = EXCLUDED.min_quantity,
			min_quantity_applies_to_selected_products = EXCLUDED.min_quantity_applies_to_selected_products,
			products = EXCLUDED.products,
			apply_on_actual_price = EXCLUDED.apply_on_actual_price,
			once_per_order = EXCLUDED.once_per_order,
			all_customers = EXCLUDED.all_customers,
			specific_customers = EXCLUDED.specific_customers,
			specific_segments = EXCLUDED.specific_segments,
			limit_to_one_per_customer = EXCLUDED.limit_to_one_per_customer,
			payment_specific = EXCLUDED.payment_specific,
			payment_discounts = EXCLUDED.payment_discounts,
			cod_max_order_value = EXCLUDED.cod_max_order_value,
			enforce_single_outstanding_cod = EXCLUDED.enforce_single_outstanding_cod,
			updated_at = NOW()
		RETURNING id`
)

var _ coupon.Store = (*CouponRepository)(nil)

// CouponRepository implements coupon.Store backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a non-deleted coupon by its exact code.
// Returns coupon.ErrNotFound when no such coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return c, nil
}

// CustomerUsage returns how many times the customer redeemed the coupon.
func (r *CouponRepository) CustomerUsage(ctx context.Context, couponID, customerID string) (int, error) {
	var n int32
	err := r.pool.QueryRow(ctx, getCustomerUsageSQL, couponID, customerID).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading usage of coupon %q: %w", couponID, err)
	}
	return int(n), nil
}

// Redeem increments the global and per-customer usage counters in one
// transaction. Each increment is conditional on its limit, so concurrent
// redemptions cannot overshoot either of them.
func (r *CouponRepository) Redeem(ctx context.Context, red coupon.Redemption) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, incrementUsedCountSQL, red.CouponID)
		if err != nil {
			return fmt.Errorf("incrementing used count: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrUsageLimitReached
		}

		if red.CustomerID == "" {
			return nil
		}
		tag, err = tx.Exec(ctx, upsertCustomerUsageSQL, red.CouponID, red.CustomerID, red.LimitToOnePerCustomer)
		if err != nil {
			return fmt.Errorf("recording customer usage: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrAlreadyRedeemed
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, coupon.ErrUsageLimitReached) || errors.Is(err, coupon.ErrAlreadyRedeemed) {
			return err
		}
		return fmt.Errorf("redeeming coupon %q: %w", red.CouponID, err)
	}
	return nil
}

// Upsert creates the coupon or replaces the definition of the live coupon
// with the same code. Usage counters are left untouched on update. The id of
// the stored coupon is written back to c.
func (r *CouponRepository) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}

	var usageLimit *int32
	if c.UsageLimit != nil {
		v, err := toInt32("usage limit", *c.UsageLimit)
		if err != nil {
			return err
		}
		usageLimit = &v
	}
	usedCount, err := toInt32("used count", c.UsedCount)
	if err != nil {
		return err
	}
	minQuantity, err := toInt32("min quantity", c.MinQuantity)
	if err != nil {
		return err
	}

	var e jx.Encoder
	codec.EncodePaymentDiscounts(&e, c.PaymentDiscounts)

	err = r.pool.QueryRow(ctx, upsertCouponSQL,
		c.ID, c.Code, string(c.Type), c.Value, c.SpecialAmount,
		c.IsActive, c.DeletedAt, c.StartAt, c.EndAt, usageLimit, usedCount,
		c.MinCartValue, c.MinCartAppliesToSelectedProducts,
		minQuantity, c.MinQuantityAppliesToSelectedProducts,
		nonNil(c.Products), c.ApplyOnActualPrice, c.OncePerOrder,
		c.Eligibility.AllCustomers, nonNil(c.Eligibility.SpecificCustomers), segmentNames(c.Eligibility.SpecificSegments),
		c.LimitToOnePerCustomer,
		c.PaymentSpecific, e.Bytes(), c.CODMaxOrderValue, c.EnforceSingleOutstandingCOD,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (*coupon.Coupon, error) {
	var (
		c                coupon.Coupon
		discountType     string
		usageLimit       *int32
		usedCount        int32
		minQuantity      int32
		segments         []string
		paymentDiscounts []byte
	)
	err := row.Scan(
		&c.ID, &c.Code, &discountType, &c.Value, &c.SpecialAmount,
		&c.IsActive, &c.DeletedAt, &c.StartAt, &c.EndAt, &usageLimit, &usedCount,
		&c.MinCartValue, &c.MinCartAppliesToSelectedProducts,
		&minQuantity, &c.MinQuantityAppliesToSelectedProducts,
		&c.Products, &c.ApplyOnActualPrice, &c.OncePerOrder,
		&c.Eligibility.AllCustomers, &c.Eligibility.SpecificCustomers, &segments, &c.LimitToOnePerCustomer,
		&c.PaymentSpecific, &paymentDiscounts, &c.CODMaxOrderValue, &c.EnforceSingleOutstandingCOD,
	)
	if err != nil {
		return nil, err
	}

	c.Type = coupon.DiscountType(discountType)
	if usageLimit != nil {
		n := int(*usageLimit)
		c.UsageLimit = &n
	}
	c.UsedCount = int(usedCount)
	c.MinQuantity = int(minQuantity)
	for _, s := range segments {
		c.Eligibility.SpecificSegments = append(c.Eligibility.SpecificSegments, coupon.Segment(s))
	}
	if len(paymentDiscounts) > 0 {
		c.PaymentDiscounts, err = codec.DecodePaymentDiscounts(jx.DecodeBytes(paymentDiscounts))
		if err != nil {
			return nil, fmt.Errorf("decoding coupon %q: %w", c.Code, err)
		}
	}
	return &c, nil
}

func toInt32(field string, v int) (int32, error) {
	if v < math.MinInt32 || v > math.MaxInt32 {
		return 0, errors.Errorf("%s %d out of range", field, v)
	}
	return int32(v), nil
}

func segmentNames(segs []coupon.Segment) []string {
	out := make([]string, 0, len(segs))
	for _, s := range segs {
		out = append(out, string(s))
	}
	return out
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
