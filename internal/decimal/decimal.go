// Package decimal is the sole arithmetic currency for safety-critical
// values in the FFS core. It wraps shopspring/decimal so that every value
// crossing a component boundary is an exact base-10 number, never a binary
// float, and so that rounding only ever happens at an explicitly named
// presentation boundary with an explicitly named mode.
package decimal

import (
	"errors"
	"fmt"

	shopspring "github.com/shopspring/decimal"
)

// workingPrecision is the number of significant digits the kernel
// guarantees before a PrecisionLossError is raised. shopspring/decimal is
// backed by math/big.Int and has no fixed limit; this module enforces its
// own ceiling so that a runaway iterative calculation fails loudly instead
// of silently growing an unbounded coefficient.
const workingPrecision = 50

// Decimal is a fixed-precision decimal value. The zero value is not
// meaningful; always construct via NewFromInt, NewFromString,
// MustFromString, or an arithmetic method.
type Decimal struct {
	v shopspring.Decimal
}

// Mode names a rounding mode for a presentation-boundary operation. The
// zero value is not a valid mode; callers must name one explicitly.
type Mode int

const (
	// HalfEven rounds to the nearest value, ties to the even digit.
	// Mandated by spec for thickness (4 fractional digits), pressure (2),
	// and stress (0, i.e. whole psi).
	HalfEven Mode = iota + 1
	// Down truncates toward zero. Mandated for remaining life (1
	// fractional digit) — a safety-conservative choice that never rounds
	// a remaining-life estimate up.
	Down
)

// ArithmeticError reports an operation that has no defined numeric result,
// such as division by zero. It is never silently coerced to infinity or NaN.
type ArithmeticError struct {
	Op string
}

func (e *ArithmeticError) Error() string {
	return fmt.Sprintf("decimal: arithmetic failure in %s", e.Op)
}

// PrecisionLossError reports a value whose exact coefficient would exceed
// the kernel's working precision. Returned instead of silently truncating.
type PrecisionLossError struct {
	Op        string
	Precision int32
}

func (e *PrecisionLossError) Error() string {
	return fmt.Sprintf("decimal: %s exceeds working precision (%d digits)", e.Op, e.Precision)
}

// ErrDivisionByZero is wrapped by ArithmeticError for errors.Is checks.
var ErrDivisionByZero = errors.New("division by zero")

// Zero, One and other small constants used throughout the core. Built from
// decimal string literals, never from a float64 literal, so that not even
// a compile-time constant touches binary floating point.
var (
	Zero        = Decimal{v: shopspring.Zero}
	One         = Decimal{v: shopspring.NewFromInt(1)}
	Two         = Decimal{v: shopspring.NewFromInt(2)}
	pointSix    = MustFromString("0.6")
	pointTwelve = MustFromString("1.2")
)

// PointSix is the 0.6 coefficient in the thin-wall shell formulas (§4.4.1).
func PointSix() Decimal { return pointSix }

// PointTwelve is the 1.2 coefficient of the diameter-form shell formulas.
// No calculation in this module calls it.
func PointTwelve() Decimal { return pointTwelve }

// NewFromInt builds an exact Decimal from an integer.
func NewFromInt(i int64) Decimal { return Decimal{v: shopspring.NewFromInt(i)} }

// NewFromString parses the canonical string form of a decimal value. This
// is the only accepted entry point for numeric literals originating from
// JSON/HTTP — no float64 intermediate is ever constructed.
func NewFromString(s string) (Decimal, error) {
	v, err := shopspring.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("decimal: parse %q: %w", s, err)
	}
	if exceedsPrecision(v) {
		return Decimal{}, &PrecisionLossError{Op: "parse", Precision: workingPrecision}
	}
	return Decimal{v: v}, nil
}

// MustFromString is NewFromString for use with compile-time-known literals
// (test fixtures, policy constants). It panics on malformed input.
func MustFromString(s string) Decimal {
	d, err := NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func exceedsPrecision(v shopspring.Decimal) bool {
	return len(v.Coefficient().String()) > workingPrecision
}

// String renders the value in plain decimal notation, never scientific
// notation. Trailing zeros of the fractional part are dropped, so the
// output does not keep a value's declared precision: "0.2120" renders as
// "0.212" and 10.0 as "10".
func (d Decimal) String() string { return d.v.String() }

// MarshalJSON delegates to the embedded shopspring.Decimal, which encodes
// as its canonical decimal string. Without this, Decimal's only field is
// unexported and every numeric value in the core would marshal to "{}" —
// invisible to anything (audit.CanonicalHash among them) that round-trips
// a struct through encoding/json.
func (d Decimal) MarshalJSON() ([]byte, error) { return d.v.MarshalJSON() }

// UnmarshalJSON delegates to the embedded shopspring.Decimal.
func (d *Decimal) UnmarshalJSON(b []byte) error { return d.v.UnmarshalJSON(b) }

// IsZero reports whether the value is exactly zero.
func (d Decimal) IsZero() bool { return d.v.IsZero() }

// Sign returns -1, 0, or 1.
func (d Decimal) Sign() int { return d.v.Sign() }

// Add returns d + other, exact.
func (d Decimal) Add(other Decimal) Decimal { return Decimal{v: d.v.Add(other.v)} }

// Sub returns d - other, exact.
func (d Decimal) Sub(other Decimal) Decimal { return Decimal{v: d.v.Sub(other.v)} }

// Mul returns d * other, exact.
func (d Decimal) Mul(other Decimal) Decimal { return Decimal{v: d.v.Mul(other.v)} }

// divisionScratchPlaces is the number of decimal places DivRound computes
// before insignificant trailing zeros are stripped. It is kept below
// workingPrecision, leaving room for integer digits, and the stripping
// makes exact results (e.g. 48.00/2) come back as a short coefficient
// instead of carrying 40 digits of zero padding.
const divisionScratchPlaces = 40

// Div returns d / other at the kernel's working precision. It fails with
// ArithmeticError rather than returning +Inf/NaN when other is zero.
func (d Decimal) Div(other Decimal) (Decimal, error) {
	if other.v.IsZero() {
		return Decimal{}, &ArithmeticError{Op: "division"}
	}
	// String drops trailing fractional zeros, so parsing it back yields the
	// shortest coefficient for the same value.
	v, err := shopspring.NewFromString(d.v.DivRound(other.v, divisionScratchPlaces).String())
	if err != nil {
		return Decimal{}, &ArithmeticError{Op: "division"}
	}
	if exceedsPrecision(v) {
		return Decimal{}, &PrecisionLossError{Op: "division", Precision: workingPrecision}
	}
	return Decimal{v: v}, nil
}

// Neg returns -d.
func (d Decimal) Neg() Decimal { return Decimal{v: d.v.Neg()} }

// Abs returns |d|.
func (d Decimal) Abs() Decimal { return Decimal{v: d.v.Abs()} }

// Cmp returns -1, 0, or 1 comparing d to other.
func (d Decimal) Cmp(other Decimal) int { return d.v.Cmp(other.v) }

// LessThan reports d < other.
func (d Decimal) LessThan(other Decimal) bool { return d.v.LessThan(other.v) }

// LessThanOrEqual reports d <= other.
func (d Decimal) LessThanOrEqual(other Decimal) bool { return d.v.LessThanOrEqual(other.v) }

// GreaterThan reports d > other.
func (d Decimal) GreaterThan(other Decimal) bool { return d.v.GreaterThan(other.v) }

// GreaterThanOrEqual reports d >= other.
func (d Decimal) GreaterThanOrEqual(other Decimal) bool { return d.v.GreaterThanOrEqual(other.v) }

// Equal reports exact numeric equality (1.10 == 1.1).
func (d Decimal) Equal(other Decimal) bool { return d.v.Equal(other.v) }

// Min returns the smaller of d and other. §4.4.2 mandates always accepting
// the conservative (lower) of two reconciled values via this function.
func Min(a, b Decimal) Decimal {
	if a.LessThanOrEqual(b) {
		return a
	}
	return b
}

// Max returns the larger of d and other.
func Max(a, b Decimal) Decimal {
	if a.GreaterThanOrEqual(b) {
		return a
	}
	return b
}

// Round applies the named mode at the given number of fractional digits.
// This is the only place rounding happens in the core; every call site
// names both the mode and the digit count explicitly per §4.1.
func (d Decimal) Round(places int32, mode Mode) Decimal {
	switch mode {
	case HalfEven:
		return Decimal{v: d.v.RoundBank(places)}
	case Down:
		return Decimal{v: d.v.Truncate(places)}
	default:
		panic(fmt.Sprintf("decimal: unknown rounding mode %d", mode))
	}
}

// RelativeDifference computes |p - s| / max(|p|, |s|, eps), the metric the
// dual-path reconciliation protocol (§4.4.2) compares against a tolerance.
func RelativeDifference(p, s, eps Decimal) Decimal {
	diff := p.Sub(s).Abs()
	denom := Max(Max(p.Abs(), s.Abs()), eps)
	if denom.IsZero() {
		return Zero
	}
	rel, err := diff.Div(denom)
	if err != nil {
		// denom was validated non-zero above; DivRound cannot fail here.
		return Zero
	}
	return rel
}

// WithinTolerance reports whether the relative difference between p and s,
// against the floor eps, is at or below tolerance.
func WithinTolerance(p, s, tolerance, eps Decimal) bool {
	return RelativeDifference(p, s, eps).LessThanOrEqual(tolerance)
}
