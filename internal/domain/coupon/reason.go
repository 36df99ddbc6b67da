package coupon

import "fmt"

// Reason identifies why a coupon was rejected.
type Reason string

const (
	ReasonCouponRequired      Reason = "CouponRequired"
	ReasonInvalidCoupon       Reason = "InvalidCoupon"
	ReasonCouponInactive      Reason = "CouponInactive"
	ReasonNotYetActive        Reason = "NotYetActive"
	ReasonExpired             Reason = "Expired"
	ReasonUsageLimitExceeded  Reason = "UsageLimitExceeded"
	ReasonCustomerRequired    Reason = "CustomerRequired"
	ReasonCustomerNotEligible Reason = "CustomerNotEligible"
	ReasonAlreadyUsed         Reason = "AlreadyUsed"
	ReasonNoEligibleItems     Reason = "NoEligibleItems"
	ReasonMinQuantityNotMet   Reason = "MinQuantityNotMet"
	ReasonMinCartValueNotMet  Reason = "MinCartValueNotMet"
	ReasonCODLimitExceeded    Reason = "CODLimitExceeded"
	ReasonOutstandingCODOrder Reason = "OutstandingCODOrder"
	ReasonZeroDiscount        Reason = "ZeroDiscount"
	ReasonInvalidCartValue    Reason = "InvalidCartValue"
)

var reasonMessages = map[Reason]string{
	ReasonCouponRequired:      "Coupon code is required",
	ReasonInvalidCoupon:       "Invalid coupon code",
	ReasonCouponInactive:      "Coupon is not active",
	ReasonNotYetActive:        "Coupon is not active yet",
	ReasonExpired:             "Coupon has expired",
	ReasonUsageLimitExceeded:  "Coupon usage limit has been reached",
	ReasonCustomerRequired:    "Customer ID is required for this coupon",
	ReasonCustomerNotEligible: "You are not eligible for this coupon",
	ReasonAlreadyUsed:         "You have already used this coupon",
	ReasonNoEligibleItems:     "No eligible products in cart for this coupon",
	ReasonMinQuantityNotMet:   "Minimum quantity not met for this coupon",
	ReasonMinCartValueNotMet:  "Minimum cart value not met for this coupon",
	ReasonCODLimitExceeded:    "Cash on delivery is not available for this order value",
	ReasonOutstandingCODOrder: "You have an outstanding cash on delivery order",
	ReasonZeroDiscount:        "Coupon does not give any discount on this cart",
	ReasonInvalidCartValue:    "Cart value is invalid",
}

func (r Reason) String() string {
	return string(r)
}

// Message returns the default human-readable text for the reason.
func (r Reason) Message() string {
	if m, ok := reasonMessages[r]; ok {
		return m
	}
	return string(r)
}

// Rejection is a business-rule refusal to apply a coupon.
//
// It implements error so it can travel through error-typed plumbing, but
// Engine.Evaluate always reports it in Outcome rather than as an error.
type Rejection struct {
	Reason  Reason
	Message string
}

func (r *Rejection) Error() string {
	return r.Message
}

func reject(reason Reason) *Rejection {
	return &Rejection{Reason: reason, Message: reason.Message()}
}

func rejectf(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}
