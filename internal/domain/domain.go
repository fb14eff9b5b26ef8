// Package domain holds the data model of spec.md §3: equipment, material
// reference points, inspection records, and the two output types the core
// produces, CalculationResult and AuditEntry. These types carry no
// behavior beyond simple invariant helpers — calculation lives in the
// calc/analysis/rbi packages, persistence in audit, orchestration in
// orchestrator.
package domain

import (
	"time"

	"github.com/google/uuid"

	"github.com/vertexffs/ffscore/internal/decimal"
)

// EquipmentKind enumerates the equipment categories this core assesses.
type EquipmentKind string

const (
	KindVessel    EquipmentKind = "vessel"
	KindTank      EquipmentKind = "tank"
	KindPiping    EquipmentKind = "piping"
	KindExchanger EquipmentKind = "exchanger"
)

// Equipment is the identity, design parameters, and geometry of a piece of
// in-service pressure equipment.
type Equipment struct {
	Tag                string
	Kind               EquipmentKind
	DesignPressure     decimal.Decimal // psi
	DesignTemperature  decimal.Decimal // °F
	NominalThickness   decimal.Decimal // in
	CorrosionAllowance decimal.Decimal // in
	JointEfficiency    decimal.Decimal // 0 < E <= 1
	MaterialSpec       string
	MaterialGrade      string
	InternalDiameter   decimal.Decimal // in; required for vessel/tank/exchanger
	ExternalDiameter   decimal.Decimal // in
	LengthInches       decimal.Decimal // optional; zero value means absent
	HasLength          bool
}

// InternalRadius returns ID/2, the radius the shell formulas use.
func (e Equipment) InternalRadius() decimal.Decimal {
	two := decimal.NewFromInt(2)
	r, _ := e.InternalDiameter.Div(two)
	return r
}

// MaterialRef identifies a material/grade pair to resolve against the
// property tables; kept distinct from Equipment so a job can be evaluated
// against a hypothetical material without mutating the equipment record.
type MaterialRef struct {
	Spec  string
	Grade string
}

// MaterialPoint is one tabulated (spec, grade, temperature) -> strengths
// row, as published in ASME Section II-D.
type MaterialPoint struct {
	Spec            string
	Grade           string
	TemperatureF    decimal.Decimal
	AllowableStress decimal.Decimal // psi
	YieldStrength   decimal.Decimal // psi
	TensileStrength decimal.Decimal // psi
	ElasticModulus  decimal.Decimal // psi
	SourceDocument  string // e.g. "ASME BPVC Section II-D"
	SourceTable     string
	SourceYear      int
}

// ThicknessReading is one measured wall-thickness at one condition
// monitoring location on one inspection date.
type ThicknessReading struct {
	CmlId            string
	Location         string
	Measured         decimal.Decimal // in, 4-digit precision
	PreviousMeasured decimal.Decimal
	HasPrevious      bool
}

// InspectionRecord is one inspection event: a date, the certified
// inspector, and the ordered set of readings taken.
type InspectionRecord struct {
	Date                   time.Time
	InspectorCertification string
	Readings               []ThicknessReading
}

// Fitness is the qualitative fitness-for-service verdict.
type Fitness string

const (
	FitnessFit         Fitness = "Fit"
	FitnessConditional Fitness = "Conditional"
	FitnessUnfit       Fitness = "Unfit"
)

// RiskLevel is the RBI-derived risk tier.
type RiskLevel string

const (
	RiskLow      RiskLevel = "Low"
	RiskMedium   RiskLevel = "Medium"
	RiskHigh     RiskLevel = "High"
	RiskCritical RiskLevel = "Critical"
)

// ConsequenceTier is the service consequence-of-failure classification fed
// into the RBI engine.
type ConsequenceTier string

const (
	ConsequenceLow      ConsequenceTier = "Low"
	ConsequenceMedium   ConsequenceTier = "Medium"
	ConsequenceHigh     ConsequenceTier = "High"
	ConsequenceCritical ConsequenceTier = "Critical"
)

// ConfidenceLabel names which corrosion-rate band an analysis should use.
// "nominal" is deliberately not defined as a constant here: spec §9
// resolves the source's nominal/average inconsistency by rejecting
// "nominal" as invalid input rather than aliasing it.
type ConfidenceLabel string

const (
	ConfidenceConservative ConfidenceLabel = "conservative"
	ConfidenceAverage      ConfidenceLabel = "average"
	ConfidenceOptimistic   ConfidenceLabel = "optimistic"
)

// CalculationResult is the core's sole safety-relevant output for one job.
type CalculationResult struct {
	Id                      uuid.UUID
	CalculationId           string
	EquipmentTag            string
	TMin                    decimal.Decimal
	Mawp                    decimal.Decimal
	Rsf                     decimal.Decimal
	CorrosionRateInPerYear  decimal.Decimal
	RemainingLifeYears      decimal.Decimal
	RemainingLifeIndefinite bool
	NextInspectionYears     decimal.Decimal
	Fitness                 Fitness
	Risk                    RiskLevel
	RequiresImmediateReview bool
	Confidence              decimal.Decimal
	Warnings                []string
	RationaleRBI            []string
	PerformedAt             time.Time
}

// AuditEntry is one immutable, hash-chained record of a performed
// calculation. Fields map directly onto spec.md §3's AuditEntry; there is
// deliberately no mutator method anywhere on this type.
type AuditEntry struct {
	Id                       uuid.UUID
	CalculationId            string
	PerformedAt              time.Time
	Performer                string
	InputHash                string
	OutputHash               string
	ContentHash              string
	ChainHash                string
	PrevChainHash            string
	SoftwareVersion          string
	CalculationMethodVersion string
}
