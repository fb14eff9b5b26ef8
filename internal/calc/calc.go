// Package calc is the dual-path calculator (spec §4.4): for each safety
// formula, two independent implementations are evaluated and reconciled.
// It is stateless — every exported function takes its inputs and the
// policy tolerances it needs, and returns either a reconciled Decimal or a
// typed error. Nothing here retries; the Orchestrator decides what to do
// with a failure.
//
// Formulas and the reconciliation protocol are grounded on
// original_source/backend/app/calculations/dual_path_calculator.py. Per
// the Open Questions resolved in spec §9 and restated in DESIGN.md, the
// MAWP paths here are genuinely independent (closed-form vs bisection, not
// two algebraically identical expressions) and the RSF paths implement one
// formula via two independent methods with identical FCA treatment.
package calc

import (
	"fmt"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/ffserrors"
	"github.com/vertexffs/ffscore/internal/policy"
)

// maxBisectionIterations caps the iterative secondary paths per §4.4.1.
const maxBisectionIterations = 200

// bisectionAbsTolerance is the 1e-6 in absolute tolerance on thickness
// bisection named in §4.4.1.
var bisectionAbsTolerance = decimal.MustFromString("0.000001")

// Reconciled carries a dual-path result after it has passed reconciliation
// — the conservative (lower) of the two paths, plus both originals for
// audit traceability.
type Reconciled struct {
	Value     decimal.Decimal
	Primary   decimal.Decimal
	Secondary decimal.Decimal
}

// reconcile implements §4.4.2: compute the relative difference, accept
// min(primary, secondary) within tolerance, else fail with
// DualPathDivergenceError carrying both values.
func reconcile(primary, secondary, tolerance, eps decimal.Decimal, apiReference string) (Reconciled, error) {
	rel := decimal.RelativeDifference(primary, secondary, eps)
	if rel.GreaterThan(tolerance) {
		return Reconciled{}, ffserrors.DualPathDivergence(ffserrors.DivergenceDetail{
			APIReference: apiReference,
			Primary:      primary,
			Secondary:    secondary,
			RelativeDiff: rel,
			Tolerance:    tolerance,
		})
	}
	return Reconciled{
		Value:     decimal.Min(primary, secondary),
		Primary:   primary,
		Secondary: secondary,
	}, nil
}

// CheckThinWall fails with ThickWallOutOfScope when t/R > 0.1, per §4.4.3.
// The calculator never silently switches to a thick-wall formula.
func CheckThinWall(thickness, radius decimal.Decimal) error {
	ratio, err := thickness.Div(radius)
	if err != nil {
		return ffserrors.ArithmeticFailure("thin-wall ratio", err)
	}
	tenth := decimal.MustFromString("0.1")
	if ratio.GreaterThan(tenth) {
		return ffserrors.ThickWallOutOfScope(fmt.Sprintf("t/R = %s exceeds 0.1; Level 1 thin-wall formulas do not apply", ratio))
	}
	return nil
}

// MinimumRequiredThickness computes t_min for a cylindrical shell,
// circumferential stress governing (§4.4.1), via a closed-form primary
// path and a bisection secondary path, then reconciles them.
//
//	t_min = (P * R) / (S * E - 0.6 * P)
func MinimumRequiredThickness(pressure, radius, stress, efficiency decimal.Decimal, p policy.Policy) (Reconciled, error) {
	if pressure.Sign() <= 0 {
		return Reconciled{}, ffserrors.InputInvalid("pressure must be positive")
	}
	if radius.Sign() <= 0 {
		return Reconciled{}, ffserrors.InputInvalid("radius must be positive")
	}
	if stress.Sign() <= 0 {
		return Reconciled{}, ffserrors.InputInvalid("allowable stress must be positive")
	}

	primary, err := tMinClosedForm(pressure, radius, stress, efficiency)
	if err != nil {
		return Reconciled{}, err
	}
	if err := CheckThinWall(primary, radius); err != nil {
		return Reconciled{}, err
	}

	secondary, err := tMinBisection(pressure, radius, stress, efficiency)
	if err != nil {
		return Reconciled{}, err
	}

	return reconcile(primary, secondary, p.Tolerances.DualPathRelative, p.Tolerances.Epsilon, "API 579 Part 4, Equation 4.7")
}

// tMinClosedForm is the primary path: t_min = (P*R) / (S*E - 0.6*P).
func tMinClosedForm(pressure, radius, stress, efficiency decimal.Decimal) (decimal.Decimal, error) {
	denom := stress.Mul(efficiency).Sub(decimal.PointSix().Mul(pressure))
	if denom.Sign() <= 0 {
		return decimal.Decimal{}, ffserrors.InputInvalid(
			fmt.Sprintf("pressure too high for material: S*E=%s, 0.6*P=%s", stress.Mul(efficiency), decimal.PointSix().Mul(pressure)))
	}
	num := pressure.Mul(radius)
	t, err := num.Div(denom)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("t_min closed form", err)
	}
	return t, nil
}

// tMinBisection is the secondary path: solve P = S*E*t / (R + 0.6*t) for
// t by bisection on [0.001, R]. The upper end is the internal radius, not
// a multiple of the nominal thickness, which this function does not
// receive; bisection narrows from that wide bracket regardless.
func tMinBisection(pressure, radius, stress, efficiency decimal.Decimal) (decimal.Decimal, error) {
	pressureAt := func(t decimal.Decimal) (decimal.Decimal, error) {
		denom := radius.Add(decimal.PointSix().Mul(t))
		return stress.Mul(efficiency).Mul(t).Div(denom)
	}

	lo := decimal.MustFromString("0.001")
	hi := radius // generous upper bound: thickness cannot plausibly reach the radius itself without failing thin-wall
	pLo, err := pressureAt(lo)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("bisection lower bound", err)
	}
	pHi, err := pressureAt(hi)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("bisection upper bound", err)
	}
	if pLo.GreaterThan(pressure) || pHi.LessThan(pressure) {
		return decimal.Decimal{}, ffserrors.Internal("bisection bracket does not contain a root for t_min", nil)
	}

	for i := 0; i < maxBisectionIterations; i++ {
		mid, err := lo.Add(hi).Div(decimal.Two)
		if err != nil {
			return decimal.Decimal{}, ffserrors.ArithmeticFailure("bisection midpoint", err)
		}
		pMid, err := pressureAt(mid)
		if err != nil {
			return decimal.Decimal{}, ffserrors.ArithmeticFailure("bisection evaluation", err)
		}
		width := hi.Sub(lo)
		if width.Abs().LessThanOrEqual(bisectionAbsTolerance) {
			return mid, nil
		}
		if pMid.LessThan(pressure) {
			lo = mid
		} else {
			hi = mid
		}
	}
	mid, err := lo.Add(hi).Div(decimal.Two)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("bisection final midpoint", err)
	}
	return mid, nil
}

// EffectiveThickness computes t_eff = measuredMin - FCA, FCA =
// futureCorrosionRate * futureYears, per §4.4.1.
func EffectiveThickness(measuredMin, futureCorrosionRate decimal.Decimal, futureYears int) (tEff, fca decimal.Decimal, err error) {
	years := decimal.NewFromInt(int64(futureYears))
	fca = futureCorrosionRate.Mul(years)
	tEff = measuredMin.Sub(fca)
	if tEff.Sign() <= 0 {
		return decimal.Decimal{}, decimal.Decimal{}, ffserrors.InputInvalid(
			fmt.Sprintf("no available thickness after future corrosion allowance: %s - %s = %s", measuredMin, fca, tEff))
	}
	return tEff, fca, nil
}

// MAWP computes Maximum Allowable Working Pressure via a closed-form
// primary path and a bisection-on-pressure secondary path, then
// reconciles them. Per spec §9's Open Question resolution, the secondary
// path is a genuine root-find, not an algebraic restatement of the
// primary.
//
//	MAWP = (S * E * t_eff) / (R + 0.6 * t_eff)
func MAWP(tEff, radius, stress, efficiency decimal.Decimal, p policy.Policy) (Reconciled, error) {
	if tEff.Sign() <= 0 {
		return Reconciled{}, ffserrors.InputInvalid("effective thickness must be positive")
	}
	if err := CheckThinWall(tEff, radius); err != nil {
		return Reconciled{}, err
	}

	primary, err := mawpClosedForm(tEff, radius, stress, efficiency)
	if err != nil {
		return Reconciled{}, err
	}

	secondary, err := mawpBisection(tEff, radius, stress, efficiency, p)
	if err != nil {
		return Reconciled{}, err
	}

	return reconcile(primary, secondary, p.Tolerances.DualPathRelative, p.Tolerances.Epsilon, "API 579 Part 4, Equation 4.8")
}

func mawpClosedForm(tEff, radius, stress, efficiency decimal.Decimal) (decimal.Decimal, error) {
	num := stress.Mul(efficiency).Mul(tEff)
	denom := radius.Add(decimal.PointSix().Mul(tEff))
	mawp, err := num.Div(denom)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("MAWP closed form", err)
	}
	return mawp, nil
}

// mawpBisection finds P such that t_min(P) = tEff, by bisecting on
// pressure over a bracket derived from the material allowable stress
// (§4.4.1): [epsilon, S*E / 0.6) is the pressure range for which the
// closed-form t_min denominator stays positive.
func mawpBisection(tEff, radius, stress, efficiency decimal.Decimal, p policy.Policy) (decimal.Decimal, error) {
	tMinAt := func(pressure decimal.Decimal) (decimal.Decimal, error) {
		denom := stress.Mul(efficiency).Sub(decimal.PointSix().Mul(pressure))
		if denom.Sign() <= 0 {
			return decimal.Decimal{}, ffserrors.ArithmeticFailure("t_min(P) denominator non-positive during bisection", nil)
		}
		return pressure.Mul(radius).Div(denom)
	}

	lo := decimal.MustFromString("0.001")
	seDivPointSix, err := stress.Mul(efficiency).Div(decimal.PointSix())
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("pressure bracket upper bound", err)
	}
	// Back off from the asymptote so tMinAt stays defined at hi.
	ninetyNinePercent := decimal.MustFromString("0.999")
	hi := seDivPointSix.Mul(ninetyNinePercent)

	tLo, err := tMinAt(lo)
	if err != nil {
		return decimal.Decimal{}, err
	}
	tHi, err := tMinAt(hi)
	if err != nil {
		return decimal.Decimal{}, err
	}
	// t_min(P) is increasing in P, so bracket [lo,hi] must satisfy
	// tLo <= tEff <= tHi for a root to exist inside it.
	if tLo.GreaterThan(tEff) || tHi.LessThan(tEff) {
		return decimal.Decimal{}, ffserrors.Internal("bisection bracket does not contain a root for MAWP", nil)
	}

	for i := 0; i < maxBisectionIterations; i++ {
		mid, err := lo.Add(hi).Div(decimal.Two)
		if err != nil {
			return decimal.Decimal{}, ffserrors.ArithmeticFailure("MAWP bisection midpoint", err)
		}
		tMid, err := tMinAt(mid)
		if err != nil {
			return decimal.Decimal{}, err
		}
		width := hi.Sub(lo)
		if width.Abs().LessThanOrEqual(bisectionAbsTolerance) {
			return mid, nil
		}
		if tMid.LessThan(tEff) {
			lo = mid
		} else {
			hi = mid
		}
	}
	mid, err := lo.Add(hi).Div(decimal.Two)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("MAWP bisection final midpoint", err)
	}
	return mid, nil
}

// RSF computes the Remaining Strength Factor per API 579 Part 5, Eq. 5.5,
// via two independent methods that share the exact same formula and FCA
// treatment (spec §9's Open Question resolution: no asymmetric paths).
//
//	RSF = (t_current - FCA - t_min) / (t_nominal - t_min)
func RSF(currentThickness, futureCorrosionAllowance, tMin, nominalThickness decimal.Decimal, p policy.Policy) (Reconciled, error) {
	if currentThickness.Sign() <= 0 || tMin.Sign() <= 0 || nominalThickness.Sign() <= 0 {
		return Reconciled{}, ffserrors.InputInvalid("thickness inputs to RSF must be positive")
	}
	if futureCorrosionAllowance.Sign() < 0 {
		return Reconciled{}, ffserrors.InputInvalid("future corrosion allowance cannot be negative")
	}
	denom := nominalThickness.Sub(tMin)
	if denom.Sign() <= 0 {
		return Reconciled{}, ffserrors.InputInvalid(
			fmt.Sprintf("nominal thickness (%s) must exceed minimum required thickness (%s)", nominalThickness, tMin))
	}

	primary, err := rsfDirect(currentThickness, futureCorrosionAllowance, tMin, nominalThickness)
	if err != nil {
		return Reconciled{}, err
	}
	secondary, err := rsfRearranged(currentThickness, futureCorrosionAllowance, tMin, nominalThickness)
	if err != nil {
		return Reconciled{}, err
	}

	primary = clampUnit(primary)
	secondary = clampUnit(secondary)

	return reconcile(primary, secondary, p.Tolerances.DualPathRelative, p.Tolerances.Epsilon, "API 579 Part 5, Equation 5.5")
}

// rsfDirect evaluates RSF = (t_current - FCA - t_min) / (t_nominal - t_min)
// directly, left to right.
func rsfDirect(tCurrent, fca, tMin, tNominal decimal.Decimal) (decimal.Decimal, error) {
	num := tCurrent.Sub(fca).Sub(tMin)
	denom := tNominal.Sub(tMin)
	rsf, err := num.Div(denom)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("RSF direct method", err)
	}
	return rsf, nil
}

// rsfRearranged evaluates the identical formula via metal-loss accounting:
// RSF = 1 - (t_nominal - t_current + FCA) / (t_nominal - t_min), which is
// algebraically equal to rsfDirect but computed by an independent chain of
// operations (subtraction grouped around total metal loss rather than
// around available thickness).
func rsfRearranged(tCurrent, fca, tMin, tNominal decimal.Decimal) (decimal.Decimal, error) {
	metalLossPlusFCA := tNominal.Sub(tCurrent).Add(fca)
	denom := tNominal.Sub(tMin)
	ratio, err := metalLossPlusFCA.Div(denom)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("RSF rearranged method", err)
	}
	return decimal.One.Sub(ratio), nil
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	if d.Sign() < 0 {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.One) {
		return decimal.One
	}
	return d
}
