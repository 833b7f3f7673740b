// Package decimal provides the fixed-scale exact arithmetic used on the
// vote path. All tally math goes through a Context configured with the
// contest's decimal places; division and multiplication truncate toward
// zero at that scale so no value is ever silently rounded up. Binary
// floating point is never used.
package decimal

import (
	"github.com/shopspring/decimal"

	"github.com/openrcv/tally/internal/errors"
)

// Bounds for the configurable number of decimal places.
const (
	MinScale = 1
	MaxScale = 20
)

// Zero is the additive identity.
var Zero = decimal.Zero

// One is a vote's initial fractional value.
var One = decimal.New(1, 0)

// Decimal re-exports the underlying exact decimal type. Add, Sub and Cmp
// on it are exact; scaled operations go through a Context.
type Decimal = decimal.Decimal

// Context performs vote arithmetic at a fixed scale.
type Context struct {
	scale int32
}

// NewContext creates a Context keeping the given number of decimal places.
func NewContext(scale int) (Context, error) {
	if scale < MinScale || scale > MaxScale {
		return Context{}, errors.ConfigInvalidf(
			"decimalPlacesForVoteArithmetic must be between %d and %d, got %d",
			MinScale, MaxScale, scale)
	}
	return Context{scale: int32(scale)}, nil
}

// Scale returns the number of decimal places kept by scaled operations.
func (c Context) Scale() int {
	return int(c.scale)
}

// Div returns dividend/divisor truncated toward zero at the context scale.
func (c Context) Div(dividend, divisor Decimal) Decimal {
	quotient, _ := dividend.QuoRem(divisor, c.scale)
	return quotient
}

// Mul returns the full-precision product truncated toward zero at the
// context scale.
func (c Context) Mul(multiplier, multiplicand Decimal) Decimal {
	return multiplier.Mul(multiplicand).Truncate(c.scale)
}

// SmallestUnit returns 10^(-scale), the augend for non-integer winning
// thresholds.
func (c Context) SmallestUnit() Decimal {
	return decimal.New(1, -c.scale)
}

// FloorDiv returns the integer part of dividend/divisor.
func FloorDiv(dividend, divisor Decimal) Decimal {
	quotient, _ := dividend.QuoRem(divisor, 0)
	return quotient
}

// FromInt converts an integer vote count.
func FromInt(n int) Decimal {
	return decimal.New(int64(n), 0)
}

// Parse converts an exact decimal string. It rejects anything that does
// not parse; callers are expected to have validated ranges themselves.
func Parse(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, errors.InvalidInputf("invalid decimal %q", s)
	}
	return d, nil
}

// Sum adds a series of values exactly.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
