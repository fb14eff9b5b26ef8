package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/vertexffs/ffscore/internal/audit"
	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/ffserrors"
	"github.com/vertexffs/ffscore/internal/policy"
	"github.com/vertexffs/ffscore/internal/properties"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleMaterialTable(t *testing.T) *properties.Table {
	rows := []domain.MaterialPoint{
		{
			Spec: "SA-516", Grade: "70", TemperatureF: decimal.MustFromString("100"),
			AllowableStress: decimal.MustFromString("21000"), YieldStrength: decimal.MustFromString("38000"),
			TensileStrength: decimal.MustFromString("70000"), ElasticModulus: decimal.MustFromString("29000000"),
			SourceDocument: "ASME BPVC Section II-D", SourceTable: "1A", SourceYear: 2023,
		},
		{
			Spec: "SA-516", Grade: "70", TemperatureF: decimal.MustFromString("300"),
			AllowableStress: decimal.MustFromString("20000"), YieldStrength: decimal.MustFromString("36000"),
			TensileStrength: decimal.MustFromString("70000"), ElasticModulus: decimal.MustFromString("28500000"),
			SourceDocument: "ASME BPVC Section II-D", SourceTable: "1A", SourceYear: 2023,
		},
		{
			Spec: "SA-516", Grade: "70", TemperatureF: decimal.MustFromString("800"),
			AllowableStress: decimal.MustFromString("14000"), YieldStrength: decimal.MustFromString("30000"),
			TensileStrength: decimal.MustFromString("70000"), ElasticModulus: decimal.MustFromString("26000000"),
			SourceDocument: "ASME BPVC Section II-D", SourceTable: "1A", SourceYear: 2023,
		},
	}
	tbl, err := properties.NewTable(rows)
	require.NoError(t, err)
	return tbl
}

func healthyVesselEquipment() domain.Equipment {
	return domain.Equipment{
		Tag:                "V-101",
		Kind:               domain.KindVessel,
		DesignPressure:     decimal.MustFromString("150"),
		DesignTemperature:  decimal.MustFromString("300"),
		NominalThickness:   decimal.MustFromString("0.500"),
		CorrosionAllowance: decimal.MustFromString("0.125"),
		JointEfficiency:    decimal.MustFromString("0.85"),
		MaterialSpec:       "SA-516",
		MaterialGrade:      "70",
		InternalDiameter:   decimal.MustFromString("48.00"),
		ExternalDiameter:   decimal.MustFromString("49.00"),
	}
}

func threeYearInspectionHistory() []domain.InspectionRecord {
	reading := func(measured string) domain.ThicknessReading {
		return domain.ThicknessReading{CmlId: "CML-1", Location: "shell course 1", Measured: decimal.MustFromString(measured)}
	}
	return []domain.InspectionRecord{
		{
			Date:                   time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			InspectorCertification: "API-510-12345",
			Readings:               []domain.ThicknessReading{reading("0.500")},
		},
		{
			Date:                   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			InspectorCertification: "API-510-12345",
			Readings:               []domain.ThicknessReading{reading("0.498")},
		},
		{
			Date:                   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			InspectorCertification: "API-510-12345",
			Readings:               []domain.ThicknessReading{reading("0.496")},
		},
	}
}

func newTestOrchestrator(t *testing.T) *Orchestrator {
	resolver := properties.NewResolver(sampleMaterialTable(t))
	admission := NewJobAdmission(1, rate.Inf, 1)
	return New(policy.Default(), resolver, audit.NewMemoryStore(), admission, testLogger())
}

func TestAssessHealthyVesselProducesFitResult(t *testing.T) {
	orch := newTestOrchestrator(t)
	job := Job{
		CalculationId:   "CALC-1",
		Equipment:       healthyVesselEquipment(),
		Inspections:     threeYearInspectionHistory(),
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	result, err := orch.Assess(context.Background(), job)
	require.NoError(t, err)

	assert.Equal(t, domain.FitnessFit, result.Fitness)
	assert.False(t, result.RequiresImmediateReview)
	assert.True(t, result.Mawp.GreaterThan(job.Equipment.DesignPressure))
	assert.True(t, result.Rsf.GreaterThan(decimal.Zero))
	assert.True(t, result.Rsf.LessThanOrEqual(decimal.One))
	assert.True(t, result.CorrosionRateInPerYear.GreaterThan(decimal.Zero))
	assert.False(t, result.RemainingLifeIndefinite)
	assert.True(t, result.NextInspectionYears.GreaterThan(decimal.Zero))

	entry, err := orch.AuditStore.Get(context.Background(), "CALC-1")
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ChainHash)
	assert.Empty(t, entry.PrevChainHash)
}

func TestAssessRejectsNominalConfidenceLabel(t *testing.T) {
	orch := newTestOrchestrator(t)
	job := Job{
		CalculationId:   "CALC-2",
		Equipment:       healthyVesselEquipment(),
		Inspections:     threeYearInspectionHistory(),
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "nominal",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	_, err := orch.Assess(context.Background(), job)
	require.Error(t, err)
}

func TestAssessFatalValidationAbortsBeforeCalculation(t *testing.T) {
	orch := newTestOrchestrator(t)
	equipment := healthyVesselEquipment()
	equipment.Tag = "bad tag!!"
	job := Job{
		CalculationId:   "CALC-3",
		Equipment:       equipment,
		Inspections:     threeYearInspectionHistory(),
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	_, err := orch.Assess(context.Background(), job)
	require.Error(t, err)

	_, getErr := orch.AuditStore.Get(context.Background(), "CALC-3")
	assert.Error(t, getErr, "a rejected job must never reach the audit log")
}

// TestAssessConfidencePinnedUnderStackedPenalties reproduces spec §4.8's
// confidence algorithm with every penalty but the per-Warning one stacked at
// once: a single historical reading with no previous comparison. Starting
// from 1.0: -0.10 (missing previousMeasured) -0.15 (<3 readings) -0.05
// (<5 readings) = 0.70, capped at the <2-readings 0.75 ceiling (no change,
// already below it), then -0.05 for the "remaining life is indefinite"
// warning RemainingLife raises when the corrosion rate is zero, landing at
// 0.65.
func TestAssessConfidencePinnedUnderStackedPenalties(t *testing.T) {
	orch := newTestOrchestrator(t)
	job := Job{
		CalculationId: "CALC-CONFIDENCE",
		Equipment:     healthyVesselEquipment(),
		Inspections: []domain.InspectionRecord{
			{
				Date:                   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				InspectorCertification: "API-510-12345",
				Readings:               []domain.ThicknessReading{{CmlId: "CML-1", Location: "shell course 1", Measured: decimal.MustFromString("0.460")}},
			},
		},
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	result, err := orch.Assess(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, result.RemainingLifeIndefinite)
	assert.Equal(t, "0.65", result.Confidence.String())
}

// TestAssessIsIdempotentOnInputAndOutputHash reproduces spec.md's §8
// idempotence invariant: Assess called twice with byte-identical Job inputs
// must produce equal InputHash and OutputHash values. Each call runs
// against its own fresh orchestrator/audit store (rather than the same
// store under the same calculation id) so the two runs cannot influence
// each other through the hash chain or a duplicate-id lookup.
func TestAssessIsIdempotentOnInputAndOutputHash(t *testing.T) {
	job := Job{
		CalculationId:   "CALC-IDEMPOTENT",
		Equipment:       healthyVesselEquipment(),
		Inspections:     threeYearInspectionHistory(),
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	orchA := newTestOrchestrator(t)
	_, err := orchA.Assess(context.Background(), job)
	require.NoError(t, err)
	entryA, err := orchA.AuditStore.Get(context.Background(), "CALC-IDEMPOTENT")
	require.NoError(t, err)

	orchB := newTestOrchestrator(t)
	_, err = orchB.Assess(context.Background(), job)
	require.NoError(t, err)
	entryB, err := orchB.AuditStore.Get(context.Background(), "CALC-IDEMPOTENT")
	require.NoError(t, err)

	assert.Equal(t, entryA.InputHash, entryB.InputHash)
	assert.Equal(t, entryA.OutputHash, entryB.OutputHash)
}

func TestAssessTwoJobsChainAuditEntries(t *testing.T) {
	orch := newTestOrchestrator(t)
	base := Job{
		Equipment:       healthyVesselEquipment(),
		Inspections:     threeYearInspectionHistory(),
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	first := base
	first.CalculationId = "CALC-A"
	_, err := orch.Assess(context.Background(), first)
	require.NoError(t, err)

	second := base
	second.CalculationId = "CALC-B"
	_, err = orch.Assess(context.Background(), second)
	require.NoError(t, err)

	entryA, err := orch.AuditStore.Get(context.Background(), "CALC-A")
	require.NoError(t, err)
	entryB, err := orch.AuditStore.Get(context.Background(), "CALC-B")
	require.NoError(t, err)
	assert.Equal(t, entryA.ChainHash, entryB.PrevChainHash)
}

// TestAssessBorderlineRSFEscalatesToConditional reproduces spec.md's
// "borderline RSF" scenario: RSF drops below the 0.90 high-risk threshold
// while remaining life stays well above the critical-life floor, so the
// interval is capped at 2 years without forcing an immediate review.
func TestAssessBorderlineRSFEscalatesToConditional(t *testing.T) {
	orch := newTestOrchestrator(t)
	reading := func(measured string) domain.ThicknessReading {
		return domain.ThicknessReading{CmlId: "CML-1", Location: "shell course 1", Measured: decimal.MustFromString(measured)}
	}
	job := Job{
		CalculationId: "CALC-BORDERLINE",
		Equipment:     healthyVesselEquipment(),
		Inspections: []domain.InspectionRecord{
			{
				Date:                   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				InspectorCertification: "API-510-12345",
				Readings:               []domain.ThicknessReading{reading("0.460")},
			},
			{
				Date:                   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				InspectorCertification: "API-510-12345",
				Readings:               []domain.ThicknessReading{reading("0.457")},
			},
		},
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     0,
		Performer:       "test-suite",
	}

	result, err := orch.Assess(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, result.Rsf.LessThan(decimal.MustFromString("0.90")))
	assert.Equal(t, domain.RiskHigh, result.Risk)
	assert.False(t, result.RequiresImmediateReview)
	assert.True(t, result.NextInspectionYears.Equal(decimal.MustFromString("2.0")))
	assert.Equal(t, domain.FitnessConditional, result.Fitness)
}

// TestAssessCriticalLifeForcesUnfitAndImmediateReview reproduces spec.md's
// "critical life" scenario: remaining life drops under 2 years, which must
// force Critical risk, an immediate-review flag, and an Unfit verdict
// regardless of what RSF alone would have implied.
func TestAssessCriticalLifeForcesUnfitAndImmediateReview(t *testing.T) {
	orch := newTestOrchestrator(t)
	reading := func(measured string) domain.ThicknessReading {
		return domain.ThicknessReading{CmlId: "CML-1", Location: "shell course 1", Measured: decimal.MustFromString(measured)}
	}
	job := Job{
		CalculationId: "CALC-CRITICAL",
		Equipment:     healthyVesselEquipment(),
		Inspections: []domain.InspectionRecord{
			{
				Date:                   time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
				InspectorCertification: "API-510-12345",
				Readings:               []domain.ThicknessReading{reading("0.270")},
			},
			{
				Date:                   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				InspectorCertification: "API-510-12345",
				Readings:               []domain.ThicknessReading{reading("0.220")},
			},
		},
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     1,
		Performer:       "test-suite",
	}

	result, err := orch.Assess(context.Background(), job)
	require.NoError(t, err)

	assert.True(t, result.RemainingLifeYears.LessThan(decimal.MustFromString("2.0")))
	assert.Equal(t, domain.RiskCritical, result.Risk)
	assert.True(t, result.RequiresImmediateReview)
	assert.Equal(t, domain.FitnessUnfit, result.Fitness)
}

// TestAssessThickWallEquipmentIsRejected reproduces spec.md's "thick-wall
// rejection" scenario: a small-radius, high-pressure component pushes t/R
// past the Level 1 thin-wall limit before any dual-path value is produced.
func TestAssessThickWallEquipmentIsRejected(t *testing.T) {
	orch := newTestOrchestrator(t)
	equipment := domain.Equipment{
		Tag:                "TW-1",
		Kind:               domain.KindPiping,
		DesignPressure:     decimal.MustFromString("2500"),
		DesignTemperature:  decimal.MustFromString("300"),
		NominalThickness:   decimal.MustFromString("0.600"),
		CorrosionAllowance: decimal.MustFromString("0.100"),
		JointEfficiency:    decimal.MustFromString("0.85"),
		MaterialSpec:       "SA-516",
		MaterialGrade:      "70",
		InternalDiameter:   decimal.MustFromString("2.00"),
		ExternalDiameter:   decimal.MustFromString("3.00"),
	}
	job := Job{
		CalculationId: "CALC-THICKWALL",
		Equipment:     equipment,
		Inspections: []domain.InspectionRecord{
			{
				Date:                   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
				InspectorCertification: "API-510-12345",
				Readings:               []domain.ThicknessReading{{CmlId: "CML-1", Location: "body", Measured: decimal.MustFromString("0.300")}},
			},
		},
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     1,
		Performer:       "test-suite",
	}

	_, err := orch.Assess(context.Background(), job)
	require.Error(t, err)
	var ffsErr *ffserrors.Error
	require.ErrorAs(t, err, &ffsErr)
	assert.Equal(t, ffserrors.KindThickWallOutOfScope, ffsErr.Kind)

	_, getErr := orch.AuditStore.Get(context.Background(), "CALC-THICKWALL")
	assert.Error(t, getErr, "a thick-wall rejection must never reach the audit log")
}

// TestAssessOutOfRangeMaterialIsRejected reproduces spec.md's "out-of-range
// material" scenario: a design temperature beyond the table's coverage
// fails property resolution before any calculation runs, with no audit
// entry written.
func TestAssessOutOfRangeMaterialIsRejected(t *testing.T) {
	orch := newTestOrchestrator(t)
	equipment := healthyVesselEquipment()
	equipment.DesignTemperature = decimal.MustFromString("900")
	job := Job{
		CalculationId:   "CALC-OUTOFRANGE",
		Equipment:       equipment,
		Inspections:     threeYearInspectionHistory(),
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	_, err := orch.Assess(context.Background(), job)
	require.Error(t, err)
	var ffsErr *ffserrors.Error
	require.ErrorAs(t, err, &ffsErr)
	assert.Equal(t, ffserrors.KindOutOfMaterialRange, ffsErr.Kind)

	_, getErr := orch.AuditStore.Get(context.Background(), "CALC-OUTOFRANGE")
	assert.Error(t, getErr, "an out-of-range material resolution must never reach the audit log")
}

// TestAssessDualPathDivergenceWritesNoAuditEntry reproduces spec §8 scenario
// 6 end-to-end: the dual-path calculator's closed-form and bisection paths
// for t_min never land on exactly the same decimal (bisection only narrows
// its bracket to an absolute width of 1e-6, the closed form is exact), so
// tightening the reconciliation tolerance far below that residual — the
// equivalent of "swap the iterative bracket to converge to a wrong value" —
// forces a real DualPathDivergence out of the production code path, not a
// synthetic one. No audit entry must result.
func TestAssessDualPathDivergenceWritesNoAuditEntry(t *testing.T) {
	orch := newTestOrchestrator(t)
	orch.Policy.Tolerances.DualPathRelative = decimal.MustFromString("0.0000000001")

	job := Job{
		CalculationId:   "CALC-DIVERGENCE",
		Equipment:       healthyVesselEquipment(),
		Inspections:     threeYearInspectionHistory(),
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "test-suite",
	}

	_, err := orch.Assess(context.Background(), job)
	require.Error(t, err)

	var divErr *ffserrors.DualPathDivergenceError
	require.ErrorAs(t, err, &divErr)
	assert.Equal(t, ffserrors.KindDualPathDivergence, divErr.Kind)
	assert.True(t, divErr.Detail.Primary.GreaterThan(decimal.Zero))
	assert.True(t, divErr.Detail.Secondary.GreaterThan(decimal.Zero))
	assert.True(t, divErr.Detail.RelativeDiff.GreaterThan(divErr.Detail.Tolerance))

	_, getErr := orch.AuditStore.Get(context.Background(), "CALC-DIVERGENCE")
	assert.Error(t, getErr, "a dual-path divergence must never reach the audit log")
}
