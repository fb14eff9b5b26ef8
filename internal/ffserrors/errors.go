// Package ffserrors defines the stable error taxonomy (spec §7) that every
// FFS core component returns instead of a best-effort numeric answer or a
// swallowed exception. Each kind is a distinct type so callers can recover
// it with errors.As; none of them is ever retried inside the core.
package ffserrors

import (
	"fmt"

	"github.com/vertexffs/ffscore/internal/decimal"
)

// Kind is a stable error code transmitted to external collaborators.
type Kind string

const (
	KindInputInvalid           Kind = "InputInvalid"
	KindPropertyMissing        Kind = "PropertyMissing"
	KindOutOfMaterialRange     Kind = "OutOfMaterialRange"
	KindThickWallOutOfScope    Kind = "ThickWallOutOfScope"
	KindDualPathDivergence     Kind = "DualPathDivergence"
	KindPrecisionLoss          Kind = "PrecisionLoss"
	KindArithmeticFailure      Kind = "ArithmeticFailure"
	KindBudgetExceeded         Kind = "BudgetExceeded"
	KindAuditImmutableViolation Kind = "AuditImmutableViolation"
	KindInternal               Kind = "Internal"
)

// Error is the common shape of every FFS core error: a stable Kind plus a
// human-readable Detail. Transport layers serialize Kind/Detail as a
// tagged variant; the core never returns a plain string error for a
// domain failure.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

func wrap(kind Kind, detail string, cause error) *Error {
	return &Error{Kind: kind, Detail: detail, cause: cause}
}

// InputInvalid wraps one or more ValidationIssue failures (see the
// validator package); issues is carried separately by the caller, this
// error only signals the category.
func InputInvalid(detail string) *Error { return wrap(KindInputInvalid, detail, nil) }

// PropertyMissing reports material or geometry that cannot be resolved.
func PropertyMissing(detail string) *Error { return wrap(KindPropertyMissing, detail, nil) }

// OutOfMaterialRange reports a design temperature beyond table coverage.
func OutOfMaterialRange(detail string) *Error { return wrap(KindOutOfMaterialRange, detail, nil) }

// ThickWallOutOfScope reports t/R > 0.1, signaling escalation to Level 2/3.
func ThickWallOutOfScope(detail string) *Error {
	return wrap(KindThickWallOutOfScope, detail, nil)
}

// DivergenceDetail carries both reconciled values for diagnostics.
type DivergenceDetail struct {
	APIReference     string
	Primary          decimal.Decimal
	Secondary        decimal.Decimal
	RelativeDiff     decimal.Decimal
	Tolerance        decimal.Decimal
}

// DualPathDivergenceError is returned when primary/secondary calculation
// paths disagree beyond tolerance. It is never coerced into a numeric
// answer (§4.4.2 step 4).
type DualPathDivergenceError struct {
	*baseError
	Detail DivergenceDetail
}

// baseError lets DualPathDivergenceError embed *Error under a field name
// other than Error, so the promoted Error() method is not shadowed by the
// field and the type satisfies the error interface.
type baseError = Error

// DualPathDivergence constructs a DualPathDivergenceError with a
// diagnostic snapshot of both paths.
func DualPathDivergence(d DivergenceDetail) *DualPathDivergenceError {
	msg := fmt.Sprintf(
		"%s: primary=%s secondary=%s relative_diff=%s tolerance=%s",
		d.APIReference, d.Primary, d.Secondary, d.RelativeDiff, d.Tolerance,
	)
	return &DualPathDivergenceError{
		baseError: wrap(KindDualPathDivergence, msg, nil),
		Detail:    d,
	}
}

// PrecisionLoss reports decimal overflow past the kernel's working
// precision.
func PrecisionLoss(detail string, cause error) *Error {
	return wrap(KindPrecisionLoss, detail, cause)
}

// ArithmeticFailure reports an undefined arithmetic operation (e.g.
// division by zero).
func ArithmeticFailure(detail string, cause error) *Error {
	return wrap(KindArithmeticFailure, detail, cause)
}

// BudgetExceeded reports a per-component soft timeout overrun (§5).
func BudgetExceeded(component string, budget string) *Error {
	return wrap(KindBudgetExceeded, fmt.Sprintf("%s exceeded budget of %s", component, budget), nil)
}

// AuditImmutableViolation reports an attempted mutation or deletion of an
// audit record.
func AuditImmutableViolation(detail string) *Error {
	return wrap(KindAuditImmutableViolation, detail, nil)
}

// Internal is the last-resort kind; never used for a domain reason.
func Internal(detail string, cause error) *Error {
	return wrap(KindInternal, detail, cause)
}
