// Package policy carries every safety factor, statutory cap, tolerance,
// and rounding rule that the original system (per spec.md §9's REDESIGN
// FLAGS) kept as global mutable constants. Policy is built once, treated
// as immutable, and passed by value into the Orchestrator — there is no
// package-level state anywhere in this module that a caller could mutate
// at runtime.
package policy

import (
	"time"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
)

// Tolerances bundles the absolute and relative tolerances named in §4.1.
type Tolerances struct {
	ThicknessAbsolute decimal.Decimal // ±0.001 in
	PressureAbsolute  decimal.Decimal // ±0.1 psi
	StressAbsolute    decimal.Decimal // ±1 psi
	DualPathRelative  decimal.Decimal // 0.1%
	Epsilon           decimal.Decimal // 1e-12 floor for relative-difference denominators
}

// RoundingScale names the fractional-digit count and mode for one
// presentation boundary.
type RoundingScale struct {
	Places int32
	Mode   decimal.Mode
}

// RoundingPolicy bundles the four rounding rules §4.1 mandates.
type RoundingPolicy struct {
	Thickness     RoundingScale // 4 digits, HALF_EVEN
	Pressure      RoundingScale // 2 digits, HALF_EVEN
	Stress        RoundingScale // 0 digits, HALF_EVEN
	RemainingLife RoundingScale // 1 digit, ROUND DOWN
}

// RBIPolicy bundles the statutory caps and consequence multipliers the
// RBI engine (§4.6) uses. Restored from
// original_source/backend/app/services/rbi_service.py's in-code tables
// into data the Orchestrator injects, per the REDESIGN FLAG in spec §9.
type RBIPolicy struct {
	StatutoryCapYears        map[domain.EquipmentKind]decimal.Decimal
	ConsequenceMultiplier    map[domain.ConsequenceTier]decimal.Decimal
	RSFHighRiskThreshold     decimal.Decimal // 0.90
	RSFCapIntervalYears      decimal.Decimal // 2.0
	CriticalLifeThresholdYrs decimal.Decimal // 2.0
	IntervalRoundingStep     decimal.Decimal // 0.5
	IntervalFloor            decimal.Decimal // 0.25
}

// AnalysisPolicy bundles the corrosion-rate plausibility thresholds (§4.3)
// and remaining-life bounds (§4.5).
type AnalysisPolicy struct {
	WarnCorrosionRateInPerYear  decimal.Decimal // > 0.05 in/yr warned
	FatalCorrosionRateInPerYear decimal.Decimal // > 0.5 in/yr fatal
	RemainingLifeCapYears       decimal.Decimal // 100 yr cap
	ConfidenceFactors           map[domain.ConfidenceLabel]decimal.Decimal
}

// BudgetPolicy bundles the per-component soft timeouts of spec §5.
type BudgetPolicy struct {
	DualPathCalculator time.Duration // <= 50ms
	TrendAnalyzer      time.Duration // <= 100ms
}

// Policy is the complete immutable configuration surface injected into the
// Orchestrator. Construct once at the composition root (cmd/ffscore) and
// never mutate afterward.
type Policy struct {
	Tolerances        Tolerances
	Rounding          RoundingPolicy
	RBI               RBIPolicy
	Analysis          AnalysisPolicy
	Budgets           BudgetPolicy
	MaxInFlightJobs   int
	SoftwareVersion   string
	CalcMethodVersion string
	TagPattern        string // validator whitelist, §4.3(c)
}

// Default returns the policy values named directly in spec.md. It is the
// only place these numbers are allowed to live as literals; every other
// package receives them through a Policy value.
func Default() Policy {
	return Policy{
		Tolerances: Tolerances{
			ThicknessAbsolute: decimal.MustFromString("0.001"),
			PressureAbsolute:  decimal.MustFromString("0.1"),
			StressAbsolute:    decimal.MustFromString("1"),
			DualPathRelative:  decimal.MustFromString("0.001"),
			Epsilon:           decimal.MustFromString("0.000000000001"),
		},
		Rounding: RoundingPolicy{
			Thickness:     RoundingScale{Places: 4, Mode: decimal.HalfEven},
			Pressure:      RoundingScale{Places: 2, Mode: decimal.HalfEven},
			Stress:        RoundingScale{Places: 0, Mode: decimal.HalfEven},
			RemainingLife: RoundingScale{Places: 1, Mode: decimal.Down},
		},
		RBI: RBIPolicy{
			StatutoryCapYears: map[domain.EquipmentKind]decimal.Decimal{
				domain.KindVessel:    decimal.MustFromString("10"),
				domain.KindPiping:    decimal.MustFromString("5"),
				domain.KindTank:      decimal.MustFromString("10"),
				domain.KindExchanger: decimal.MustFromString("10"),
			},
			ConsequenceMultiplier: map[domain.ConsequenceTier]decimal.Decimal{
				domain.ConsequenceLow:      decimal.MustFromString("1.0"),
				domain.ConsequenceMedium:   decimal.MustFromString("0.75"),
				domain.ConsequenceHigh:     decimal.MustFromString("0.5"),
				domain.ConsequenceCritical: decimal.MustFromString("0.25"),
			},
			RSFHighRiskThreshold:     decimal.MustFromString("0.90"),
			RSFCapIntervalYears:      decimal.MustFromString("2.0"),
			CriticalLifeThresholdYrs: decimal.MustFromString("2.0"),
			IntervalRoundingStep:     decimal.MustFromString("0.5"),
			IntervalFloor:            decimal.MustFromString("0.25"),
		},
		Analysis: AnalysisPolicy{
			WarnCorrosionRateInPerYear:  decimal.MustFromString("0.05"),
			FatalCorrosionRateInPerYear: decimal.MustFromString("0.5"),
			RemainingLifeCapYears:       decimal.MustFromString("100"),
			ConfidenceFactors: map[domain.ConfidenceLabel]decimal.Decimal{
				domain.ConfidenceConservative: decimal.MustFromString("1.25"),
				domain.ConfidenceAverage:      decimal.MustFromString("1.0"),
				domain.ConfidenceOptimistic:   decimal.MustFromString("0.75"),
			},
		},
		Budgets: BudgetPolicy{
			DualPathCalculator: 50 * time.Millisecond,
			TrendAnalyzer:      100 * time.Millisecond,
		},
		MaxInFlightJobs:   16,
		SoftwareVersion:   "ffscore/1.0.0",
		CalcMethodVersion: "API579-Part4-5-L1/1.0",
		TagPattern:        `^[A-Z0-9\-_/ .]{1,64}$`,
	}
}
