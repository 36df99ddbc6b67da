package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-coupons/internal/codec"
	"github.com/xenking/storefront-coupons/internal/domain/coupon"
)

const (
	msgApplied  = "Coupon applied successfully"
	msgInternal = "internal server error"
)

// response is a rendered envelope, kept as bytes so that it can also be
// stored for idempotent replay.
type response struct {
	status int
	body   []byte
}

func appliedResponse(a *coupon.Applied) response {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(true) })
		e.Field("message", func(e *jx.Encoder) { e.Str(msgApplied) })
		e.Field("data", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("discount", func(e *jx.Encoder) { codec.EncodeMoney(e, a.Discount) })
				e.Field("coupon", func(e *jx.Encoder) { codec.EncodeCoupon(e, a.Coupon) })
				e.Field("shippingCharge", func(e *jx.Encoder) { codec.EncodeMoney(e, a.ShippingCharge) })
			})
		})
	})
	return response{status: http.StatusOK, body: e.Bytes()}
}

func rejectedResponse(r *coupon.Rejection) response {
	return failureResponse(http.StatusBadRequest, r.Message, string(r.Reason))
}

// failureResponse renders {success:false, message, data:null}. The reason
// field is only present for business rejections.
func failureResponse(status int, message, reason string) response {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("success", func(e *jx.Encoder) { e.Bool(false) })
		e.Field("message", func(e *jx.Encoder) { e.Str(message) })
		e.Field("data", func(e *jx.Encoder) { e.Null() })
		if reason != "" {
			e.Field("reason", func(e *jx.Encoder) { e.Str(reason) })
		}
	})
	return response{status: status, body: e.Bytes()}
}

func (r response) write(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(r.status)
	_, _ = w.Write(r.body)
}
