package handler

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-coupons/internal/codec"
	"github.com/xenking/storefront-coupons/internal/domain/coupon"
	"github.com/xenking/storefront-coupons/internal/domain/order"
)

// ValidationError is a malformed request. Its message is safe to show to the
// client.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request body"
	}
	return "invalid " + e.Field
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(field string, err error) error {
	return &ValidationError{Field: field, Err: err}
}

// decodeApplyRequest converts the JSON body of POST /coupons/apply into a
// typed coupon request. Numbers are accepted as JSON numbers or numeric
// strings; anything else is a ValidationError.
func decodeApplyRequest(body []byte) (coupon.Request, error) {
	var req coupon.Request

	d := jx.DecodeBytes(body)
	if d.Next() != jx.Object {
		return req, invalid("", errors.New("body must be a JSON object"))
	}
	err := d.Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "code":
			s, err := decodeID(d)
			if err != nil {
				return invalid("code", err)
			}
			req.Code = s
		case "cartValue":
			v, err := codec.DecodeNullDecimal(d)
			if err != nil {
				return invalid("cartValue", err)
			}
			req.CartValue = v
		case "cartItems":
			items, err := decodeItems(d)
			if err != nil {
				return err
			}
			req.Items = items
		case "paymentMethod":
			s, err := decodeOptionalString(d)
			if err != nil {
				return invalid("paymentMethod", err)
			}
			m, err := order.ParsePaymentMethod(s)
			if err != nil {
				return invalid("paymentMethod", err)
			}
			req.PaymentMethod = m
		case "customerId":
			s, err := decodeID(d)
			if err != nil {
				return invalid("customerId", err)
			}
			req.CustomerID = s
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return req, ve
		}
		return req, invalid("", err)
	}
	return req, nil
}

func decodeItems(d *jx.Decoder) ([]coupon.Item, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	if d.Next() != jx.Array {
		return nil, invalid("cartItems", errors.New("expected array"))
	}

	var items []coupon.Item
	err := d.Arr(func(d *jx.Decoder) error {
		var (
			item     coupon.Item
			hasPrice bool
			hasQty   bool
		)
		err := d.Obj(func(d *jx.Decoder, key string) error {
			var err error
			switch key {
			case "productId":
				item.ProductID, err = decodeID(d)
				if err != nil {
					return invalid("cartItems.productId", err)
				}
			case "price":
				item.Price, err = codec.DecodeDecimal(d)
				if err != nil {
					return invalid("cartItems.price", err)
				}
				hasPrice = true
			case "actualPrice":
				item.ActualPrice, err = codec.DecodeNullDecimal(d)
				if err != nil {
					return invalid("cartItems.actualPrice", err)
				}
			case "quantity":
				item.Quantity, err = codec.DecodeInt(d)
				if err != nil {
					return invalid("cartItems.quantity", err)
				}
				hasQty = true
			default:
				return d.Skip()
			}
			return nil
		})
		if err != nil {
			return err
		}
		switch {
		case item.ProductID == "":
			return invalid("cartItems.productId", errors.New("required"))
		case !hasPrice:
			return invalid("cartItems.price", errors.New("required"))
		case !hasQty:
			return invalid("cartItems.quantity", errors.New("required"))
		}
		items = append(items, item)
		return nil
	})
	return items, err
}

// decodeID reads an identifier sent either as a string or as a number.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return decodeOptionalString(d)
	}
}

func decodeOptionalString(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.String:
		return d.Str()
	default:
		if err := d.Skip(); err != nil {
			return "", err
		}
		return "", errors.New("expected string")
	}
}
