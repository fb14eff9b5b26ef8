// Package analysis is the Trend & Life Analyzer (C5, spec §4.5). It
// consumes a chronologically ordered series of inspections for one CML and
// derives a corrosion rate (point-to-point or least-squares regression),
// confidence-banded rate estimates, and a remaining-life projection.
//
// Grounded on original_source/backend/app/calculations/dual_path_calculator.py
// (calculate_remaining_life: confidence factor table, "indefinite"
// sentinel, DOWN rounding) and app/services/analysis_service.py for the
// regression shape.
package analysis

import (
	"fmt"
	"time"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/ffserrors"
	"github.com/vertexffs/ffscore/internal/policy"
)

// Point is one (years-since-epoch, measured-thickness) observation fed
// into the regression. Years are Decimal, never float64, even though they
// derive from a time.Time difference — see yearsSince.
type Point struct {
	Years     decimal.Decimal
	Thickness decimal.Decimal
}

// Regression is the least-squares fit over a CML's reading history:
// thickness = intercept + slope*years. A negative slope means thickness is
// decreasing over time (the normal corrosion case); rate is reported as a
// positive magnitude.
type Regression struct {
	Slope      decimal.Decimal
	Intercept  decimal.Decimal
	RSquared   decimal.Decimal
	StdError   decimal.Decimal
	PointCount int
}

// nanosPerYear mirrors the validator's calendar-to-year conversion
// (Julian year, 365.25 days) so that both packages agree on what a "year"
// means when turning timestamps into a Decimal rate.
var nanosPerYear = decimal.MustFromString("31557600000000000")

// yearsSince converts a duration since a fixed epoch into Decimal years,
// going through integer nanoseconds rather than time.Duration.Hours() so
// that no float64 intermediate ever touches a value feeding a corrosion
// rate.
func yearsSince(epoch, t time.Time) decimal.Decimal {
	nanos := decimal.NewFromInt(t.Sub(epoch).Nanoseconds())
	years, err := nanos.Div(nanosPerYear)
	if err != nil {
		return decimal.Zero
	}
	return years
}

// SeriesForCml extracts the chronological (Years, Thickness) series for
// one CML across a caller-ordered slice of inspections. Inspections must
// already be sorted ascending by Date; SeriesForCml does not sort them.
func SeriesForCml(cmlId string, inspections []domain.InspectionRecord) []Point {
	if len(inspections) == 0 {
		return nil
	}
	epoch := inspections[0].Date
	var pts []Point
	for _, insp := range inspections {
		for _, r := range insp.Readings {
			if r.CmlId != cmlId {
				continue
			}
			pts = append(pts, Point{Years: yearsSince(epoch, insp.Date), Thickness: r.Measured})
		}
	}
	return pts
}

// PointToPointRate computes rate = (prev - curr) / Δyears between the two
// most recent points in a series. Returns a positive rate for metal loss.
func PointToPointRate(points []Point) (decimal.Decimal, error) {
	if len(points) < 2 {
		return decimal.Decimal{}, ffserrors.InputInvalid("point-to-point rate requires at least two readings")
	}
	prev := points[len(points)-2]
	curr := points[len(points)-1]
	deltaYears := curr.Years.Sub(prev.Years)
	if deltaYears.Sign() <= 0 {
		return decimal.Decimal{}, ffserrors.InputInvalid("readings are not chronologically ordered")
	}
	loss := prev.Thickness.Sub(curr.Thickness)
	rate, err := loss.Div(deltaYears)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("point-to-point corrosion rate", err)
	}
	return rate, nil
}

// LinearRegression performs an ordinary least-squares fit of thickness
// against years. Requires at least two points with distinct years.
func LinearRegression(points []Point) (Regression, error) {
	n := len(points)
	if n < 2 {
		return Regression{}, ffserrors.InputInvalid("linear regression requires at least two readings")
	}

	nDec := decimal.NewFromInt(int64(n))
	var sumX, sumY, sumXY, sumXX decimal.Decimal = decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, pt := range points {
		sumX = sumX.Add(pt.Years)
		sumY = sumY.Add(pt.Thickness)
		sumXY = sumXY.Add(pt.Years.Mul(pt.Thickness))
		sumXX = sumXX.Add(pt.Years.Mul(pt.Years))
	}

	meanX, err := sumX.Div(nDec)
	if err != nil {
		return Regression{}, ffserrors.ArithmeticFailure("regression mean x", err)
	}
	meanY, err := sumY.Div(nDec)
	if err != nil {
		return Regression{}, ffserrors.ArithmeticFailure("regression mean y", err)
	}

	// slope = (n*sumXY - sumX*sumY) / (n*sumXX - sumX*sumX)
	numerator := nDec.Mul(sumXY).Sub(sumX.Mul(sumY))
	denominator := nDec.Mul(sumXX).Sub(sumX.Mul(sumX))
	if denominator.IsZero() {
		return Regression{}, ffserrors.InputInvalid("regression requires readings at more than one distinct time")
	}
	slope, err := numerator.Div(denominator)
	if err != nil {
		return Regression{}, ffserrors.ArithmeticFailure("regression slope", err)
	}
	intercept := meanY.Sub(slope.Mul(meanX))

	// R^2 and standard error of the slope.
	var ssTot, ssRes decimal.Decimal = decimal.Zero, decimal.Zero
	for _, pt := range points {
		predicted := intercept.Add(slope.Mul(pt.Years))
		resid := pt.Thickness.Sub(predicted)
		ssRes = ssRes.Add(resid.Mul(resid))
		devY := pt.Thickness.Sub(meanY)
		ssTot = ssTot.Add(devY.Mul(devY))
	}

	rSquared := decimal.One
	if !ssTot.IsZero() {
		ratio, err := ssRes.Div(ssTot)
		if err != nil {
			return Regression{}, ffserrors.ArithmeticFailure("regression R-squared", err)
		}
		rSquared = decimal.One.Sub(ratio)
	}

	stdErr := decimal.Zero
	if n > 2 {
		dof := decimal.NewFromInt(int64(n - 2))
		variance, err := ssRes.Div(dof)
		if err != nil {
			return Regression{}, ffserrors.ArithmeticFailure("regression residual variance", err)
		}
		seDenom, err := variance.Div(denominator)
		if err != nil {
			return Regression{}, ffserrors.ArithmeticFailure("regression slope variance", err)
		}
		stdErr = sqrtDecimal(nDec.Mul(seDenom))
	}

	return Regression{Slope: slope, Intercept: intercept, RSquared: rSquared, StdError: stdErr, PointCount: n}, nil
}

// sqrtDecimal computes a square root to decimal's working precision via
// Newton's method, staying entirely within the Decimal Kernel.
func sqrtDecimal(d decimal.Decimal) decimal.Decimal {
	if d.Sign() <= 0 {
		return decimal.Zero
	}
	guess := d
	two := decimal.Two
	for i := 0; i < 60; i++ {
		quotient, err := d.Div(guess)
		if err != nil {
			return decimal.Zero
		}
		next, err := guess.Add(quotient).Div(two)
		if err != nil {
			return decimal.Zero
		}
		if next.Sub(guess).Abs().LessThanOrEqual(decimal.MustFromString("0.0000000001")) {
			return next
		}
		guess = next
	}
	return guess
}

// ConfidenceRates reports the conservative, average, and optimistic
// corrosion-rate estimates that ConfidenceRatesFromBase derives from a
// base rate and its standard error: average minus or plus the policy's
// per-label factor times the standard error.
// The label "nominal" is not a valid ConfidenceLabel constant and any
// attempt to look it up returns InputInvalid — spec §9's resolution of the
// source's nominal/average inconsistency.
type ConfidenceRates struct {
	Conservative decimal.Decimal
	Average      decimal.Decimal
	Optimistic   decimal.Decimal
}

// ConfidenceRatesFromBase derives the three banded rate estimates from the
// regression mean (baseRate) and its standard error, per §4.5's "regression
// mean ± k*SE" rule: each policy factor is the k applied to stdError on
// either side of the mean. stdError is decimal.Zero when the underlying
// estimate came from a two-point series (no regression, so no SE is
// available), which collapses all three bands to baseRate. Conservative is
// floored at zero — a corrosion rate cannot be negative.
func ConfidenceRatesFromBase(baseRate, stdError decimal.Decimal, p policy.Policy) (ConfidenceRates, error) {
	conservativeFactor, ok := p.Analysis.ConfidenceFactors[domain.ConfidenceConservative]
	if !ok {
		return ConfidenceRates{}, ffserrors.Internal("policy missing conservative confidence factor", nil)
	}
	averageFactor, ok := p.Analysis.ConfidenceFactors[domain.ConfidenceAverage]
	if !ok {
		return ConfidenceRates{}, ffserrors.Internal("policy missing average confidence factor", nil)
	}
	optimisticFactor, ok := p.Analysis.ConfidenceFactors[domain.ConfidenceOptimistic]
	if !ok {
		return ConfidenceRates{}, ffserrors.Internal("policy missing optimistic confidence factor", nil)
	}

	average := baseRate.Mul(averageFactor)
	conservative := average.Sub(conservativeFactor.Mul(stdError))
	if conservative.Sign() < 0 {
		conservative = decimal.Zero
	}
	optimistic := average.Add(optimisticFactor.Mul(stdError))

	// §8 invariant: conservative <= average <= optimistic, holding by
	// construction since stdError and both factors are non-negative.
	return ConfidenceRates{Conservative: conservative, Average: average, Optimistic: optimistic}, nil
}

// RateForLabel resolves a caller-supplied confidence label to the
// corresponding rate. "nominal" and any other unrecognized label fail
// InputInvalid — the core never aliases it to "average".
func RateForLabel(rates ConfidenceRates, label string) (decimal.Decimal, error) {
	switch domain.ConfidenceLabel(label) {
	case domain.ConfidenceConservative:
		return rates.Conservative, nil
	case domain.ConfidenceAverage:
		return rates.Average, nil
	case domain.ConfidenceOptimistic:
		return rates.Optimistic, nil
	default:
		return decimal.Decimal{}, ffserrors.InputInvalid(fmt.Sprintf("unsupported confidence label %q", label))
	}
}

// RemainingLifeResult is the output of RemainingLife.
type RemainingLifeResult struct {
	Years       decimal.Decimal
	Indefinite  bool
	FitnessHint domain.Fitness
	Warnings    []string
}

// RemainingLife computes (measuredMin - t_min) / corrosionRate, rounded
// DOWN to one fractional digit, capped at 100 years, per §4.5. A
// nonpositive numerator returns 0.0 with an Unfit hint; a nonpositive rate
// returns the "indefinite" sentinel (never infinity) with a warning; a
// rate beyond the fatal plausibility threshold is rejected outright.
func RemainingLife(measuredMin, tMin, corrosionRate decimal.Decimal, p policy.Policy) (RemainingLifeResult, error) {
	if corrosionRate.GreaterThan(p.Analysis.FatalCorrosionRateInPerYear) {
		return RemainingLifeResult{}, ffserrors.InputInvalid(
			fmt.Sprintf("corrosion rate %s in/yr exceeds the physically plausible maximum", corrosionRate))
	}

	available := measuredMin.Sub(tMin)
	if available.Sign() <= 0 {
		return RemainingLifeResult{
			Years:       decimal.Zero.Round(p.Rounding.RemainingLife.Places, p.Rounding.RemainingLife.Mode),
			FitnessHint: domain.FitnessUnfit,
		}, nil
	}

	if corrosionRate.Sign() <= 0 {
		return RemainingLifeResult{
			Indefinite: true,
			Warnings:   []string{"corrosion rate is zero or negative; remaining life is indefinite"},
		}, nil
	}

	years, err := available.Div(corrosionRate)
	if err != nil {
		return RemainingLifeResult{}, ffserrors.ArithmeticFailure("remaining life", err)
	}

	var warnings []string
	capped := years
	if capped.GreaterThan(p.Analysis.RemainingLifeCapYears) {
		capped = p.Analysis.RemainingLifeCapYears
		warnings = append(warnings, fmt.Sprintf("remaining life capped at %s years", p.Analysis.RemainingLifeCapYears))
	}
	if corrosionRate.GreaterThan(p.Analysis.WarnCorrosionRateInPerYear) {
		warnings = append(warnings, fmt.Sprintf("corrosion rate %s in/yr exceeds the typical warning threshold", corrosionRate))
	}

	rounded := capped.Round(p.Rounding.RemainingLife.Places, p.Rounding.RemainingLife.Mode)

	fitness := domain.FitnessFit
	if rounded.LessThan(p.RBI.CriticalLifeThresholdYrs) {
		fitness = domain.FitnessUnfit
	}

	return RemainingLifeResult{Years: rounded, FitnessHint: fitness, Warnings: warnings}, nil
}
