// Package rbi is the Risk-Based Inspection interval engine (C6, spec
// §4.6). It takes the fitness outputs of calc/analysis and derives the
// next-inspection interval, risk tier, and any immediate-review flag.
//
// Restores the statutory caps, consequence multipliers, and the RSF/life
// escalation rules that the original system kept as module-level constants
// in app/services/rbi_service.py into policy.RBIPolicy, per spec §9's
// REDESIGN FLAG.
package rbi

import (
	"fmt"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/ffserrors"
	"github.com/vertexffs/ffscore/internal/policy"
)

// Result is the RBI engine's output for one assessed CML/component.
type Result struct {
	IntervalYears           decimal.Decimal
	Risk                    domain.RiskLevel
	RequiresImmediateReview bool
	Rationale               []string
}

// Interval computes the next inspection interval per §4.6:
//
//  1. base = min(remainingLifeYears/2, statutory cap for equipment kind)
//  2. if RSF < high-risk threshold, cap the interval at RSFCapIntervalYears
//     and force risk to at least High
//  3. apply the consequence-tier multiplier
//  4. round DOWN to the nearest IntervalRoundingStep, floor at IntervalFloor
//
// remainingLifeYears < CriticalLifeThresholdYrs always yields Critical risk
// and RequiresImmediateReview regardless of RSF or consequence tier.
func Interval(
	kind domain.EquipmentKind,
	consequence domain.ConsequenceTier,
	remainingLifeYears decimal.Decimal,
	remainingLifeIndefinite bool,
	rsf decimal.Decimal,
	p policy.Policy,
) (Result, error) {
	cap, ok := p.RBI.StatutoryCapYears[kind]
	if !ok {
		return Result{}, ffserrors.Internal(fmt.Sprintf("no statutory cap configured for equipment kind %q", kind), nil)
	}
	multiplier, ok := p.RBI.ConsequenceMultiplier[consequence]
	if !ok {
		return Result{}, ffserrors.InputInvalid(fmt.Sprintf("unknown consequence tier %q", consequence))
	}

	var rationale []string
	risk := riskFromRSF(rsf, p)

	if !remainingLifeIndefinite && remainingLifeYears.LessThan(p.RBI.CriticalLifeThresholdYrs) {
		rationale = append(rationale, fmt.Sprintf(
			"remaining life %s yr is below the critical threshold of %s yr", remainingLifeYears, p.RBI.CriticalLifeThresholdYrs))
		return Result{
			IntervalYears:           p.RBI.IntervalFloor,
			Risk:                    domain.RiskCritical,
			RequiresImmediateReview: true,
			Rationale:               rationale,
		}, nil
	}

	var base decimal.Decimal
	if remainingLifeIndefinite {
		base = cap
		rationale = append(rationale, "remaining life is indefinite; base interval is the statutory cap")
	} else {
		half, err := remainingLifeYears.Div(decimal.Two)
		if err != nil {
			return Result{}, ffserrors.ArithmeticFailure("half remaining life", err)
		}
		base = decimal.Min(half, cap)
		rationale = append(rationale, fmt.Sprintf(
			"base interval = min(remaining life / 2 = %s, statutory cap = %s) = %s", half, cap, base))
	}

	if rsf.LessThan(p.RBI.RSFHighRiskThreshold) {
		if base.GreaterThan(p.RBI.RSFCapIntervalYears) {
			rationale = append(rationale, fmt.Sprintf(
				"RSF %s below high-risk threshold %s; interval capped at %s yr", rsf, p.RBI.RSFHighRiskThreshold, p.RBI.RSFCapIntervalYears))
			base = p.RBI.RSFCapIntervalYears
		}
		if risk == domain.RiskLow || risk == domain.RiskMedium {
			risk = domain.RiskHigh
		}
	}

	withConsequence := base.Mul(multiplier)
	rationale = append(rationale, fmt.Sprintf(
		"consequence tier %q multiplier %s applied: %s -> %s", consequence, multiplier, base, withConsequence))

	rounded := roundDownToStep(withConsequence, p.RBI.IntervalRoundingStep)
	if rounded.LessThan(p.RBI.IntervalFloor) {
		rounded = p.RBI.IntervalFloor
		rationale = append(rationale, fmt.Sprintf("interval floored at %s yr", p.RBI.IntervalFloor))
	}

	return Result{
		IntervalYears:           rounded,
		Risk:                    risk,
		RequiresImmediateReview: false,
		Rationale:               rationale,
	}, nil
}

// riskFromRSF gives the base risk tier implied by RSF alone, before the
// critical-life and high-risk-RSF escalations in Interval are applied.
func riskFromRSF(rsf decimal.Decimal, p policy.Policy) domain.RiskLevel {
	switch {
	case rsf.LessThan(decimal.MustFromString("0.70")):
		return domain.RiskCritical
	case rsf.LessThan(p.RBI.RSFHighRiskThreshold):
		return domain.RiskHigh
	case rsf.LessThan(decimal.MustFromString("0.95")):
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// roundDownToStep truncates a value to the nearest multiple of step at or
// below it, e.g. roundDownToStep(3.7, 0.5) = 3.5.
func roundDownToStep(value, step decimal.Decimal) decimal.Decimal {
	if step.Sign() <= 0 {
		return value
	}
	quotient, err := value.Div(step)
	if err != nil {
		return value
	}
	wholeSteps := quotient.Round(0, decimal.Down)
	return wholeSteps.Mul(step)
}
