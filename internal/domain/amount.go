package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Amount is a fixed-point quantity with two decimal places, stored as hundredths.
// Token balances, token package sizes and prices all use it.
type Amount int64

var (
	maxScaled = decimal.NewFromInt(math.MaxInt64)
	minScaled = decimal.NewFromInt(math.MinInt64)
)

// NewAmount converts a decimal into an Amount. More than two decimal places is an error.
func NewAmount(d decimal.Decimal) (Amount, error) {
	scaled := d.Shift(2)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("%w: %s has more than two decimal places", ErrInvalidAmount, d)
	}
	if scaled.GreaterThan(maxScaled) || scaled.LessThan(minScaled) {
		return 0, fmt.Errorf("%w: %s is out of range", ErrInvalidAmount, d)
	}
	return Amount(scaled.IntPart()), nil
}

func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return NewAmount(d)
}

// MustParseAmount panics on malformed input. Only for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Amount) Decimal() decimal.Decimal { return decimal.New(int64(a), -2) }
func (a Amount) String() string           { return a.Decimal().StringFixed(2) }
func (a Amount) Neg() Amount              { return -a }
func (a Amount) IsPositive() bool         { return a > 0 }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both "9.00" and 9.00.
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidAmount, string(b))
	}
	v, err := NewAmount(d)
	if err != nil {
		return err
	}
	*a = v
	return nil
}
