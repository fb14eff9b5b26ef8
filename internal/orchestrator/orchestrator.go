// Package orchestrator is the Assessment Orchestrator (C8, spec §4.8). It
// is the only component that wires the Property Resolver, Validator,
// Dual-Path Calculator, Trend Analyzer, and RBI engine together into one
// job, and the only component that writes to the Audit Log.
//
// Structured logging follows log/slog, the way the rest of the ambient
// stack is specified; bounded concurrency follows the teacher's
// IPRateLimiter (internal/auth/auth.go), adapted from a per-IP HTTP
// limiter into a per-process job admission gate built on
// golang.org/x/time/rate plus a counting semaphore for hard concurrency
// bounds.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vertexffs/ffscore/internal/analysis"
	"github.com/vertexffs/ffscore/internal/audit"
	"github.com/vertexffs/ffscore/internal/calc"
	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/ffserrors"
	"github.com/vertexffs/ffscore/internal/policy"
	"github.com/vertexffs/ffscore/internal/properties"
	"github.com/vertexffs/ffscore/internal/rbi"
	"github.com/vertexffs/ffscore/internal/validator"
)

// JobAdmission bounds how many assessment jobs run concurrently and how
// fast new ones may start. The semaphore gives a hard concurrency ceiling
// (policy.MaxInFlightJobs); the rate.Limiter throttles burst submission
// the way IPRateLimiter throttles per-IP login attempts.
type JobAdmission struct {
	slots   chan struct{}
	limiter *rate.Limiter
}

// NewJobAdmission builds an admission gate allowing at most maxInFlight
// concurrent jobs, with new job starts throttled to r per second and a
// burst of b.
func NewJobAdmission(maxInFlight int, r rate.Limit, b int) *JobAdmission {
	slots := make(chan struct{}, maxInFlight)
	for i := 0; i < maxInFlight; i++ {
		slots <- struct{}{}
	}
	return &JobAdmission{slots: slots, limiter: rate.NewLimiter(r, b)}
}

// Acquire blocks until a job slot is available and the submission rate
// allows it, or ctx is done first.
func (a *JobAdmission) Acquire(ctx context.Context) error {
	if err := a.limiter.Wait(ctx); err != nil {
		return ffserrors.BudgetExceeded("job admission rate limiter", "n/a")
	}
	select {
	case <-a.slots:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns a job slot to the pool.
func (a *JobAdmission) Release() {
	a.slots <- struct{}{}
}

// Job is the caller-supplied input to Assess.
type Job struct {
	CalculationId   string
	Equipment       domain.Equipment
	Inspections     []domain.InspectionRecord
	Consequence     domain.ConsequenceTier
	ConfidenceLabel string // "conservative" | "average" | "optimistic"; never "nominal"
	FutureYears     int
	Performer       string
}

// Orchestrator wires C2-C7 together for one job at a time, per Assess
// call, subject to the admission gate.
type Orchestrator struct {
	Policy     policy.Policy
	Properties *properties.Resolver
	AuditStore audit.Store
	Admission  *JobAdmission
	Logger     *slog.Logger
}

// New builds an Orchestrator. If logger is nil, slog.Default() is used,
// matching the teacher's convention of never constructing a second global
// logger per package.
func New(p policy.Policy, resolver *properties.Resolver, store audit.Store, admission *JobAdmission, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{Policy: p, Properties: resolver, AuditStore: store, Admission: admission, Logger: logger}
}

// runWithBudget runs fn in a goroutine and fails with BudgetExceeded if it
// has not returned within budget or ctx is cancelled first. fn itself is
// not interrupted mid-computation — the Dual-Path Calculator and Trend
// Analyzer are pure, fast, and have no cancellation points of their own —
// but the Orchestrator will not wait past the deadline to find out.
func runWithBudget[T any](ctx context.Context, component string, budget time.Duration, fn func() (T, error)) (T, error) {
	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		v, err := fn()
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-time.After(budget):
		var zero T
		return zero, ffserrors.BudgetExceeded(component, budget.String())
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Assess performs one complete fitness-for-service assessment: resolve
// material properties and geometry, validate, run the dual-path
// calculator, run the trend analyzer, derive the RBI interval, and append
// an audit entry — in that order, failing fast on the first typed error.
func (o *Orchestrator) Assess(ctx context.Context, job Job) (domain.CalculationResult, error) {
	if err := o.Admission.Acquire(ctx); err != nil {
		return domain.CalculationResult{}, err
	}
	defer o.Admission.Release()

	log := o.Logger.With("calculation_id", job.CalculationId, "equipment_tag", job.Equipment.Tag)
	log.Info("assessment started")

	confidence := decimal.One
	var warnings []string

	// §4.8 step 1: resolve properties before validation, so a job that
	// fails both simultaneously fails with PropertyMissing/OutOfMaterialRange,
	// not a generic InputInvalid.
	materialRef := domain.MaterialRef{Spec: job.Equipment.MaterialSpec, Grade: job.Equipment.MaterialGrade}
	resolved, err := o.Properties.Resolve(materialRef, job.Equipment.DesignTemperature)
	if err != nil {
		log.Error("property resolution failed", "error", err)
		return domain.CalculationResult{}, err
	}

	radius, err := properties.ResolveGeometry(job.Equipment)
	if err != nil {
		log.Error("geometry resolution failed", "error", err)
		return domain.CalculationResult{}, err
	}

	// §4.8 step 2: validate; fatal issues abort before arithmetic.
	validation, err := validator.Validate(job.Equipment, job.Inspections, o.Policy)
	if err != nil {
		log.Error("validation failed", "error", err)
		return domain.CalculationResult{}, err
	}
	if validation.HasFatal() {
		log.Warn("validation produced fatal issues", "issue_count", len(validation.Fatals))
		return domain.CalculationResult{}, ffserrors.InputInvalid(fmt.Sprintf("%d fatal validation issue(s), first: %s", len(validation.Fatals), validation.Fatals[0].Detail))
	}
	for _, w := range validation.Warnings {
		warnings = append(warnings, w.Detail)
		confidence = confidence.Sub(decimal.MustFromString("0.05"))
	}

	tMinResult, err := runWithBudget(ctx, "dual_path_calculator.t_min", o.Policy.Budgets.DualPathCalculator, func() (calc.Reconciled, error) {
		return calc.MinimumRequiredThickness(job.Equipment.DesignPressure, radius, resolved.AllowableStress, job.Equipment.JointEfficiency, o.Policy)
	})
	if err != nil {
		log.Error("minimum required thickness failed", "error", err)
		return domain.CalculationResult{}, err
	}

	governingReading, err := latestMinimumReading(job.Inspections)
	if err != nil {
		return domain.CalculationResult{}, err
	}
	measuredMin := governingReading.Measured

	baseRate, stdError, _, readingCount, err := corrosionRate(governingReading.CmlId, job.Inspections)
	if err != nil {
		log.Error("corrosion rate estimation failed", "error", err)
		return domain.CalculationResult{}, err
	}

	// Confidence scoring per §4.8: starts at 1.0, penalties stack, floored
	// at 0.50, reported to 2 digits.
	if !governingReading.HasPrevious {
		confidence = confidence.Sub(decimal.MustFromString("0.10"))
	}
	if readingCount < 3 {
		confidence = confidence.Sub(decimal.MustFromString("0.15"))
	}
	if readingCount < 5 {
		confidence = confidence.Sub(decimal.MustFromString("0.05"))
	}
	if readingCount < 2 {
		// §4.8 step 4: fewer than two historical readings means regression
		// is skipped outright; confidence may not exceed 0.75 regardless
		// of how the other penalties net out.
		confidence = decimal.Min(confidence, decimal.MustFromString("0.75"))
	}

	confidenceRates, err := analysis.ConfidenceRatesFromBase(baseRate, stdError, o.Policy)
	if err != nil {
		return domain.CalculationResult{}, err
	}
	appliedRate, err := analysis.RateForLabel(confidenceRates, job.ConfidenceLabel)
	if err != nil {
		log.Error("confidence label rejected", "error", err, "label", job.ConfidenceLabel)
		return domain.CalculationResult{}, err
	}

	tEff, fca, err := calc.EffectiveThickness(measuredMin, appliedRate, job.FutureYears)
	if err != nil {
		log.Error("effective thickness computation failed", "error", err)
		return domain.CalculationResult{}, err
	}

	mawpResult, err := runWithBudget(ctx, "dual_path_calculator.mawp", o.Policy.Budgets.DualPathCalculator, func() (calc.Reconciled, error) {
		return calc.MAWP(tEff, radius, resolved.AllowableStress, job.Equipment.JointEfficiency, o.Policy)
	})
	if err != nil {
		log.Error("MAWP failed", "error", err)
		return domain.CalculationResult{}, err
	}

	rsfResult, err := runWithBudget(ctx, "dual_path_calculator.rsf", o.Policy.Budgets.DualPathCalculator, func() (calc.Reconciled, error) {
		return calc.RSF(measuredMin, fca, tMinResult.Value, job.Equipment.NominalThickness, o.Policy)
	})
	if err != nil {
		log.Error("RSF failed", "error", err)
		return domain.CalculationResult{}, err
	}

	remainingLife, err := runWithBudget(ctx, "trend_analyzer.remaining_life", o.Policy.Budgets.TrendAnalyzer, func() (analysis.RemainingLifeResult, error) {
		return analysis.RemainingLife(measuredMin, tMinResult.Value, appliedRate, o.Policy)
	})
	if err != nil {
		log.Error("remaining life estimation failed", "error", err)
		return domain.CalculationResult{}, err
	}
	warnings = append(warnings, remainingLife.Warnings...)
	for range remainingLife.Warnings {
		confidence = confidence.Sub(decimal.MustFromString("0.05"))
	}

	interval, err := rbi.Interval(job.Equipment.Kind, job.Consequence, remainingLife.Years, remainingLife.Indefinite, rsfResult.Value, o.Policy)
	if err != nil {
		log.Error("RBI interval failed", "error", err)
		return domain.CalculationResult{}, err
	}

	fitness := domain.FitnessFit
	switch {
	case remainingLife.FitnessHint == domain.FitnessUnfit,
		rsfResult.Value.LessThan(decimal.MustFromString("0.70")),
		interval.Risk == domain.RiskCritical:
		fitness = domain.FitnessUnfit
	case interval.Risk == domain.RiskHigh:
		fitness = domain.FitnessConditional
	}

	// §4.8: confidence is capped minimum 0.50 and reported to 2 digits.
	confidence = decimal.Max(confidence, decimal.MustFromString("0.50"))
	confidence = confidence.Round(2, decimal.HalfEven)

	result := domain.CalculationResult{
		Id:                      uuid.New(),
		CalculationId:           job.CalculationId,
		EquipmentTag:            job.Equipment.Tag,
		TMin:                    tMinResult.Value.Round(o.Policy.Rounding.Thickness.Places, o.Policy.Rounding.Thickness.Mode),
		Mawp:                    mawpResult.Value.Round(o.Policy.Rounding.Pressure.Places, o.Policy.Rounding.Pressure.Mode),
		Rsf:                     rsfResult.Value,
		CorrosionRateInPerYear:  appliedRate,
		RemainingLifeYears:      remainingLife.Years,
		RemainingLifeIndefinite: remainingLife.Indefinite,
		NextInspectionYears:     interval.IntervalYears,
		Fitness:                 fitness,
		Risk:                    interval.Risk,
		RequiresImmediateReview: interval.RequiresImmediateReview,
		Confidence:              confidence,
		Warnings:                warnings,
		RationaleRBI:            interval.Rationale,
		PerformedAt:             time.Now().UTC(),
	}

	if err := o.recordAudit(ctx, job, result); err != nil {
		log.Error("audit append failed", "error", err)
		return domain.CalculationResult{}, err
	}

	log.Info("assessment completed", "fitness", result.Fitness, "risk", result.Risk)
	return result, nil
}

// auditableResult is the subset of CalculationResult that feeds OutputHash:
// every field the calculation pipeline actually derived, excluding Id and
// PerformedAt. Those two are assigned fresh on every Assess call even when
// the Job is byte-identical to a previous one, so hashing them would break
// §8's idempotence invariant (same input -> same inputHash and outputHash).
type auditableResult struct {
	TMin                    decimal.Decimal
	Mawp                    decimal.Decimal
	Rsf                     decimal.Decimal
	CorrosionRateInPerYear  decimal.Decimal
	RemainingLifeYears      decimal.Decimal
	RemainingLifeIndefinite bool
	NextInspectionYears     decimal.Decimal
	Fitness                 domain.Fitness
	Risk                    domain.RiskLevel
	RequiresImmediateReview bool
	Confidence              decimal.Decimal
	Warnings                []string
	RationaleRBI            []string
}

func (o *Orchestrator) recordAudit(ctx context.Context, job Job, result domain.CalculationResult) error {
	inputHash, err := audit.CanonicalHash(job)
	if err != nil {
		return err
	}
	outputHash, err := audit.CanonicalHash(auditableResult{
		TMin:                    result.TMin,
		Mawp:                    result.Mawp,
		Rsf:                     result.Rsf,
		CorrosionRateInPerYear:  result.CorrosionRateInPerYear,
		RemainingLifeYears:      result.RemainingLifeYears,
		RemainingLifeIndefinite: result.RemainingLifeIndefinite,
		NextInspectionYears:     result.NextInspectionYears,
		Fitness:                 result.Fitness,
		Risk:                    result.Risk,
		RequiresImmediateReview: result.RequiresImmediateReview,
		Confidence:              result.Confidence,
		Warnings:                result.Warnings,
		RationaleRBI:            result.RationaleRBI,
	})
	if err != nil {
		return err
	}
	_, err = o.AuditStore.Append(ctx, domain.AuditEntry{
		CalculationId:            job.CalculationId,
		PerformedAt:              result.PerformedAt,
		Performer:                job.Performer,
		InputHash:                inputHash,
		OutputHash:               outputHash,
		SoftwareVersion:          o.Policy.SoftwareVersion,
		CalculationMethodVersion: o.Policy.CalcMethodVersion,
	})
	return err
}

// latestMinimumReading finds the most recent inspection's reading with the
// lowest measured thickness across all CMLs, the conservative choice of
// "which wall thickness governs" when several CMLs were read on the same
// date.
func latestMinimumReading(inspections []domain.InspectionRecord) (domain.ThicknessReading, error) {
	if len(inspections) == 0 {
		return domain.ThicknessReading{}, ffserrors.InputInvalid("at least one inspection is required")
	}
	ordered := make([]domain.InspectionRecord, len(inspections))
	copy(ordered, inspections)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })
	latest := ordered[len(ordered)-1]
	if len(latest.Readings) == 0 {
		return domain.ThicknessReading{}, ffserrors.InputInvalid("most recent inspection has no readings")
	}

	governing := latest.Readings[0]
	for _, r := range latest.Readings[1:] {
		if r.Measured.LessThan(governing.Measured) {
			governing = r
		}
	}
	return governing, nil
}

// corrosionRate picks a regression-based rate when the CML has three or
// more readings (more statistically defensible), a point-to-point rate
// between the two most recent readings when it has exactly two, and skips
// rate estimation entirely when it has fewer than two — §4.8 step 4, which
// RemainingLife then reports as an indefinite life with a warning rather
// than an error. readingCount is the CML's point count, which Assess needs
// for its own confidence penalties (<3, <5 readings) independent of which
// path ran. The returned stdError is the regression's standard error of the
// slope, or decimal.Zero when point-to-point (or no estimate) was used —
// analysis.ConfidenceRatesFromBase needs it to band the rate per §4.5's
// "regression mean ± k*SE" rule.
func corrosionRate(cmlId string, inspections []domain.InspectionRecord) (rate, stdError decimal.Decimal, usedRegression bool, readingCount int, err error) {
	ordered := make([]domain.InspectionRecord, len(inspections))
	copy(ordered, inspections)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Date.Before(ordered[j].Date) })

	points := analysis.SeriesForCml(cmlId, ordered)
	readingCount = len(points)

	switch {
	case readingCount < 2:
		return decimal.Zero, decimal.Zero, false, readingCount, nil
	case readingCount >= 3:
		reg, err := analysis.LinearRegression(points)
		if err != nil {
			return decimal.Decimal{}, decimal.Decimal{}, false, readingCount, err
		}
		// Slope is thickness-per-year; a negative slope is metal loss,
		// reported here as a positive rate.
		return reg.Slope.Neg(), reg.StdError, true, readingCount, nil
	default:
		rate, err = analysis.PointToPointRate(points)
		if err != nil {
			return decimal.Decimal{}, decimal.Decimal{}, false, readingCount, err
		}
		return rate, decimal.Zero, false, readingCount, nil
	}
}
