// Package money provides the fixed-precision decimal representation used
// everywhere a price, quantity, or balance crosses a component boundary in
// the matching engine. Binary floats never appear in ledger arithmetic.
package money

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places every Amount is normalized to
// before it is compared, summed, or persisted. It is deliberately finer
// than any realistic tick/lot size so rounding only ever happens at the
// instrument boundary (see RoundToStep), never inside ledger or position math.
const Scale = 8

// Amount is a fixed-precision decimal value. The zero Amount is zero.
type Amount struct {
	d decimal.Decimal
}

// Zero is the additive identity.
var Zero = Amount{}

// New builds an Amount from an integer number of whole units.
func New(units int64) Amount {
	return Amount{d: decimal.New(units, 0).Truncate(Scale)}
}

// NewFromString parses a decimal string (e.g. "50000.25") into an Amount.
func NewFromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: invalid amount %q: %w", s, err)
	}
	return Amount{d: d.Truncate(Scale)}, nil
}

// FromDecimal wraps an existing decimal.Decimal, truncating to Scale.
func FromDecimal(d decimal.Decimal) Amount {
	return Amount{d: d.Truncate(Scale)}
}

// Decimal exposes the underlying decimal.Decimal for callers (storage
// encoders, API marshalling) that need it directly.
func (a Amount) Decimal() decimal.Decimal { return a.d }

func (a Amount) String() string { return a.d.String() }

func (a Amount) Add(b Amount) Amount { return Amount{d: a.d.Add(b.d).Truncate(Scale)} }
func (a Amount) Sub(b Amount) Amount { return Amount{d: a.d.Sub(b.d).Truncate(Scale)} }
func (a Amount) Mul(b Amount) Amount { return Amount{d: a.d.Mul(b.d).Truncate(Scale)} }
func (a Amount) Neg() Amount         { return Amount{d: a.d.Neg()} }

// Div divides, rounding the result to Scale places (half away from zero,
// unlike the truncating Add/Sub/Mul); callers doing qty/avg math
// accept the same rounding contract as a real ledger would.
func (a Amount) Div(b Amount) Amount {
	if b.d.IsZero() {
		return Zero
	}
	return Amount{d: a.d.DivRound(b.d, Scale)}
}

func (a Amount) Cmp(b Amount) int  { return a.d.Cmp(b.d) }
func (a Amount) Equal(b Amount) bool { return a.d.Equal(b.d) }
func (a Amount) IsZero() bool      { return a.d.IsZero() }
func (a Amount) IsPositive() bool  { return a.d.IsPositive() }
func (a Amount) IsNegative() bool  { return a.d.IsNegative() }
func (a Amount) GreaterThan(b Amount) bool      { return a.d.GreaterThan(b.d) }
func (a Amount) GreaterThanOrEqual(b Amount) bool { return a.d.GreaterThanOrEqual(b.d) }
func (a Amount) LessThan(b Amount) bool         { return a.d.LessThan(b.d) }
func (a Amount) LessThanOrEqual(b Amount) bool  { return a.d.LessThanOrEqual(b.d) }

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// RoundToStep rounds a toward zero to a whole multiple of step (step > 0);
// a non-positive step returns a unchanged. Instrument.RoundPrice and
// RoundQuantity use it, and AlignsToStep uses it to check an order's price
// against the tick size at admission.
func RoundToStep(a, step Amount) Amount {
	if step.IsZero() || step.IsNegative() {
		return a
	}
	quotient := a.d.Div(step.d).Truncate(0) // whole multiples of step
	return Amount{d: quotient.Mul(step.d).Truncate(Scale)}
}

// AlignsToStep reports whether a is an exact multiple of step.
func AlignsToStep(a, step Amount) bool {
	if step.IsZero() {
		return true
	}
	return RoundToStep(a, step).Equal(a)
}

// MarshalJSON renders the amount as a decimal-string JSON value so API
// consumers never round-trip through a binary float.
func (a Amount) MarshalJSON() ([]byte, error) {
	return a.d.MarshalJSON()
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(data); err != nil {
		return err
	}
	a.d = d.Truncate(Scale)
	return nil
}
