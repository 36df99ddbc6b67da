package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront-coupons/internal/domain/customer"
	"github.com/xenking/storefront-coupons/internal/domain/order"
)

type mockHistory struct {
	count       int
	countErr    error
	countCalls  int
	outstanding *order.Order
	codErr      error
	block       bool
}

func (m *mockHistory) CountOrders(ctx context.Context, _ string) (int, error) {
	m.countCalls++
	if m.block {
		<-ctx.Done()
		return 0, ctx.Err()
	}
	return m.count, m.countErr
}

func (m *mockHistory) FindOutstandingCOD(_ context.Context, _ string) (*order.Order, error) {
	return m.outstanding, m.codErr
}

type mockCheckouts struct {
	checkout *customer.Checkout
	err      error
	since    time.Time
}

func (m *mockCheckouts) FindAbandoned(_ context.Context, _ string, since time.Time) (*customer.Checkout, error) {
	m.since = since
	return m.checkout, m.err
}

type mockProfiles struct {
	flags *customer.SubscriptionFlags
	err   error
}

func (m *mockProfiles) FindSubscriptionFlags(_ context.Context, _ string) (*customer.SubscriptionFlags, error) {
	return m.flags, m.err
}

func TestSegmentResolver_OrderCount(t *testing.T) {
	tests := []struct {
		count int
		want  map[Segment]Verdict
	}{
		{
			count: 0,
			want: map[Segment]Verdict{
				SegmentNeverPurchased:          VerdictYes,
				SegmentPurchasedAtLeastOnce:    VerdictNo,
				SegmentPurchasedMoreThanOnce:   VerdictNo,
				SegmentPurchasedMoreThan3Times: VerdictNo,
			},
		},
		{
			count: 1,
			want: map[Segment]Verdict{
				SegmentNeverPurchased:          VerdictNo,
				SegmentPurchasedAtLeastOnce:    VerdictYes,
				SegmentPurchasedMoreThanOnce:   VerdictNo,
				SegmentPurchasedMoreThan3Times: VerdictNo,
			},
		},
		{
			count: 3,
			want: map[Segment]Verdict{
				SegmentNeverPurchased:          VerdictNo,
				SegmentPurchasedAtLeastOnce:    VerdictYes,
				SegmentPurchasedMoreThanOnce:   VerdictYes,
				SegmentPurchasedMoreThan3Times: VerdictNo,
			},
		},
		{
			count: 4,
			want: map[Segment]Verdict{
				SegmentNeverPurchased:          VerdictNo,
				SegmentPurchasedAtLeastOnce:    VerdictYes,
				SegmentPurchasedMoreThanOnce:   VerdictYes,
				SegmentPurchasedMoreThan3Times: VerdictYes,
			},
		},
	}

	for _, tt := range tests {
		history := &mockHistory{count: tt.count}
		r := &segmentResolver{orders: history, timeout: time.Second, customerID: "c1"}
		for seg, want := range tt.want {
			got, err := r.Evaluate(t.Context(), seg)
			require.NoError(t, err)
			assert.Equal(t, want, got, "count=%d segment=%s", tt.count, seg)
		}
		assert.Equal(t, 1, history.countCalls, "order count fetched once per resolver")
	}
}

func TestSegmentResolver_Unknown(t *testing.T) {
	lookupErr := errors.New(`relation "orders" does not exist`)

	t.Run("lookup error", func(t *testing.T) {
		r := &segmentResolver{orders: &mockHistory{countErr: lookupErr}, timeout: time.Second}
		got, err := r.Evaluate(t.Context(), SegmentNeverPurchased)
		require.ErrorIs(t, err, lookupErr)
		assert.Equal(t, VerdictUnknown, got)
	})

	t.Run("missing collaborator", func(t *testing.T) {
		r := &segmentResolver{timeout: time.Second}
		for _, seg := range []Segment{SegmentNeverPurchased, SegmentAbandonedCart30Days, SegmentEmailSubscribers} {
			got, err := r.Evaluate(t.Context(), seg)
			require.Error(t, err)
			assert.Equal(t, VerdictUnknown, got, seg)
		}
	})

	t.Run("unknown segment", func(t *testing.T) {
		r := &segmentResolver{orders: &mockHistory{}, timeout: time.Second}
		got, err := r.Evaluate(t.Context(), "vip")
		require.ErrorIs(t, err, errUnknownSegment)
		assert.Equal(t, VerdictUnknown, got)
	})

	t.Run("timeout", func(t *testing.T) {
		r := &segmentResolver{orders: &mockHistory{block: true}, timeout: 10 * time.Millisecond}
		got, err := r.Evaluate(t.Context(), SegmentPurchasedAtLeastOnce)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, VerdictUnknown, got)
	})
}

func TestSegmentResolver_AbandonedCart(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	checkouts := &mockCheckouts{checkout: &customer.Checkout{ID: "ch1", Status: customer.CheckoutAbandoned}}
	r := &segmentResolver{checkouts: checkouts, timeout: time.Second, now: now, customerID: "c1"}

	got, err := r.Evaluate(t.Context(), SegmentAbandonedCart30Days)
	require.NoError(t, err)
	assert.Equal(t, VerdictYes, got)
	assert.Equal(t, now.AddDate(0, 0, -30), checkouts.since)

	checkouts.checkout = nil
	got, err = r.Evaluate(t.Context(), SegmentAbandonedCart30Days)
	require.NoError(t, err)
	assert.Equal(t, VerdictNo, got)
}

func TestSegmentResolver_EmailSubscribers(t *testing.T) {
	tests := []struct {
		name  string
		flags *customer.SubscriptionFlags
		want  Verdict
	}{
		{"subscribed", &customer.SubscriptionFlags{EmailSubscribed: true}, VerdictYes},
		{"not subscribed", &customer.SubscriptionFlags{}, VerdictNo},
		{"unknown customer", nil, VerdictNo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &segmentResolver{profiles: &mockProfiles{flags: tt.flags}, timeout: time.Second}
			got, err := r.Evaluate(t.Context(), SegmentEmailSubscribers)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
