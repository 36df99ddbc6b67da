package handler

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xenking/storefront-coupons/internal/domain/coupon"
)

const meterName = "github.com/xenking/storefront-coupons/internal/handler"

type metrics struct {
	evaluations metric.Int64Counter
	discount    metric.Float64Histogram
}

func newMetrics(mp metric.MeterProvider) (*metrics, error) {
	meter := mp.Meter(meterName)

	evaluations, err := meter.Int64Counter("coupon.evaluations",
		metric.WithDescription("Coupon evaluations by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "evaluations counter")
	}
	discount, err := meter.Float64Histogram("coupon.discount",
		metric.WithDescription("Discount granted by applied coupons"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "discount histogram")
	}
	return &metrics{evaluations: evaluations, discount: discount}, nil
}

func (m *metrics) record(ctx context.Context, out *coupon.Outcome, err error) {
	switch {
	case err != nil:
		m.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "error")))
	case out.OK():
		m.evaluations.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "applied")))
		// Attributes stay bounded: the coupon code is never recorded.
		m.discount.Record(ctx, out.Applied.Discount.InexactFloat64(),
			metric.WithAttributes(attribute.String("type", string(out.Applied.Coupon.Type))),
		)
	default:
		m.evaluations.Add(ctx, 1, metric.WithAttributes(
			attribute.String("outcome", "rejected"),
			attribute.String("reason", string(out.Rejection.Reason)),
		))
	}
}
