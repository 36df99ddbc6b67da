// Package codec holds the JSON representation of coupons and money, shared by
// the HTTP boundary, the storage layer and the operator tools.
package codec

import (
	"math"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// ErrNotNumeric is returned when a value is neither a JSON number nor a
// string holding one.
var ErrNotNumeric = errors.New("value is not numeric")

// MaxInt bounds the integers accepted by DecodeInt.
const MaxInt = math.MaxInt32

var maxInt = decimal.NewFromInt(MaxInt)

// DecodeDecimal reads a JSON number or a numeric string.
func DecodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(n.String())
		if err != nil {
			return decimal.Zero, errors.Wrap(ErrNotNumeric, n.String())
		}
		return v, nil
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		v, err := decimal.NewFromString(strings.TrimSpace(s))
		if err != nil {
			return decimal.Zero, errors.Wrapf(ErrNotNumeric, "%q", s)
		}
		return v, nil
	default:
		if err := d.Skip(); err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, ErrNotNumeric
	}
}

// DecodeNullDecimal is DecodeDecimal that maps JSON null to an invalid value.
func DecodeNullDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	if d.Next() == jx.Null {
		return decimal.NullDecimal{}, d.Null()
	}
	v, err := DecodeDecimal(d)
	if err != nil {
		return decimal.NullDecimal{}, err
	}
	return decimal.NewNullDecimal(v), nil
}

// DecodeInt reads an integral JSON number or numeric string whose magnitude
// does not exceed MaxInt.
func DecodeInt(d *jx.Decoder) (int, error) {
	v, err := DecodeDecimal(d)
	if err != nil {
		return 0, err
	}
	if !v.IsInteger() {
		return 0, errors.Wrapf(ErrNotNumeric, "%s is not an integer", v)
	}
	if v.Abs().GreaterThan(maxInt) {
		return 0, errors.Wrapf(ErrNotNumeric, "%s is out of range", v)
	}
	return int(v.IntPart()), nil
}

// EncodeDecimal writes v as a JSON number.
func EncodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.String()))
}

// EncodeMoney writes v as a JSON number with two decimal places.
func EncodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Raw([]byte(v.StringFixed(2)))
}

// EncodeNullDecimal writes null for an invalid value.
func EncodeNullDecimal(e *jx.Encoder, v decimal.NullDecimal) {
	if !v.Valid {
		e.Null()
		return
	}
	EncodeDecimal(e, v.Decimal)
}
