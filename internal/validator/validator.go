// Package validator performs the range, physical-bounds, cross-field, and
// sanitization checks of spec §4.3. It restores the original system's
// split between validators.py and physical_bounds.py as two check passes
// folded into one exported entry point, Validate, consistent with the
// teacher's one-package-per-concern layout.
package validator

import (
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/policy"
)

// Severity classifies a ValidationIssue. Fatal issues abort the job
// before any arithmetic runs; Warning issues propagate into the result
// and audit entry.
type Severity string

const (
	SeverityFatal   Severity = "Fatal"
	SeverityWarning Severity = "Warning"
)

// Issue is one structured validation finding.
type Issue struct {
	Severity Severity
	Field    string
	Detail   string
}

// Result is the outcome of a Validate call: the full set of issues, split
// for caller convenience into Fatals and Warnings (both are also present
// in Issues in original order).
type Result struct {
	Issues   []Issue
	Fatals   []Issue
	Warnings []Issue
}

// HasFatal reports whether any issue is fatal.
func (r Result) HasFatal() bool { return len(r.Fatals) > 0 }

var (
	tagPatternCache   = map[string]*regexp.Regexp{}
	tagPatternCacheMu sync.RWMutex
)

// compiledPattern is called from Validate on every invocation, and spec §5
// runs the core as a pool of parallel worker tasks each calling Validate
// independently — so the cache needs the same guard as the teacher's
// IPRateLimiter.getLimiter.
func compiledPattern(pattern string) (*regexp.Regexp, error) {
	tagPatternCacheMu.RLock()
	re, ok := tagPatternCache[pattern]
	tagPatternCacheMu.RUnlock()
	if ok {
		return re, nil
	}

	tagPatternCacheMu.Lock()
	defer tagPatternCacheMu.Unlock()
	if re, ok := tagPatternCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	tagPatternCache[pattern] = re
	return re, nil
}

// Validate runs every check named in spec §4.3 against one job's equipment
// and its chronologically ordered inspection history. The most recent
// inspection (inspections[len-1]) is the one under assessment; earlier
// inspections, when present, supply the Δyears needed for the corrosion-
// rate plausibility check (§4.3(d)). Validate never mutates its inputs and
// never raises a Go panic for a domain-level problem — every finding
// becomes an Issue.
func Validate(e domain.Equipment, inspections []domain.InspectionRecord, p policy.Policy) (Result, error) {
	var res Result
	add := func(sev Severity, field, detail string) {
		iss := Issue{Severity: sev, Field: field, Detail: detail}
		res.Issues = append(res.Issues, iss)
		if sev == SeverityFatal {
			res.Fatals = append(res.Fatals, iss)
		} else {
			res.Warnings = append(res.Warnings, iss)
		}
	}

	if len(inspections) == 0 {
		return Result{}, fmt.Errorf("validator: at least one inspection is required")
	}
	current := inspections[len(inspections)-1]

	tagRe, err := compiledPattern(p.TagPattern)
	if err != nil {
		return Result{}, fmt.Errorf("validator: invalid tag pattern policy: %w", err)
	}

	// (c) sanitization of tag and inspector strings.
	if !tagRe.MatchString(e.Tag) {
		add(SeverityFatal, "tag", fmt.Sprintf("tag %q does not match the allowed pattern %s", e.Tag, p.TagPattern))
	}
	if !tagRe.MatchString(current.InspectorCertification) {
		add(SeverityFatal, "inspectorCertification", fmt.Sprintf("inspector certification %q does not match the allowed pattern", current.InspectorCertification))
	}

	// (a) range checks per §3 invariants.
	validateGeometry(e, add)
	validateDesignParameters(e, add)

	// (b) cross-field and duplicate-CML checks.
	validateReadings(e, current, add)

	// (d) corrosion-rate plausibility, using Δyears between the two most
	// recent inspections when history is available.
	if len(inspections) >= 2 {
		previous := inspections[len(inspections)-2]
		validateCorrosionPlausibility(previous, current, p, add)
	}

	return res, nil
}

func validateGeometry(e domain.Equipment, add func(Severity, string, string)) {
	if e.InternalDiameter.Sign() > 0 && e.ExternalDiameter.Sign() > 0 {
		if !e.InternalDiameter.LessThan(e.ExternalDiameter) {
			add(SeverityFatal, "internalDiameter", "internal diameter must be less than external diameter")
		}
		two := decimal.NewFromInt(2)
		wallThickness, err := e.ExternalDiameter.Sub(e.InternalDiameter).Div(two)
		if err == nil {
			minWall := decimal.MustFromString("0.0625") // 1/16 inch
			if wallThickness.LessThan(minWall) {
				add(SeverityFatal, "externalDiameter", "(OD - ID)/2 must be at least 1/16 inch")
			}
		}
		ratio, err := e.InternalDiameter.Div(e.ExternalDiameter)
		if err == nil {
			minRatio := decimal.MustFromString("0.5")
			if ratio.LessThan(minRatio) {
				add(SeverityFatal, "internalDiameter", "internalDiameter/externalDiameter must be at least 0.5")
			}
		}
	}
}

func validateDesignParameters(e domain.Equipment, add func(Severity, string, string)) {
	if e.NominalThickness.Sign() <= 0 {
		add(SeverityFatal, "nominalThickness", "nominal thickness must be positive")
	}
	if e.CorrosionAllowance.Sign() < 0 {
		add(SeverityFatal, "corrosionAllowance", "corrosion allowance cannot be negative")
	}
	zero := decimal.Zero
	one := decimal.One
	if e.JointEfficiency.LessThanOrEqual(zero) || e.JointEfficiency.GreaterThan(one) {
		add(SeverityFatal, "jointEfficiency", "joint efficiency must be in (0, 1]")
	}
	minPressure := decimal.MustFromString("-14.7")
	maxPressure := decimal.MustFromString("10000")
	if e.DesignPressure.LessThan(minPressure) || e.DesignPressure.GreaterThan(maxPressure) {
		add(SeverityFatal, "designPressure", "design pressure must be within [-14.7, 10000] psi")
	}
	minTemp := decimal.MustFromString("-320")
	maxTemp := decimal.MustFromString("1500")
	if e.DesignTemperature.LessThan(minTemp) || e.DesignTemperature.GreaterThan(maxTemp) {
		add(SeverityFatal, "designTemperature", "design temperature must be within [-320, 1500] degF")
	}
}

func validateReadings(e domain.Equipment, insp domain.InspectionRecord, add func(Severity, string, string)) {
	seenCml := make(map[string]bool, len(insp.Readings))
	for _, reading := range insp.Readings {
		if seenCml[reading.CmlId] {
			add(SeverityFatal, "cmlId", fmt.Sprintf("duplicate cmlId %q within inspection", reading.CmlId))
		}
		seenCml[reading.CmlId] = true

		if reading.Measured.Sign() <= 0 {
			add(SeverityFatal, "measured", fmt.Sprintf("cml %q: measured thickness must be positive", reading.CmlId))
		}
		if e.InternalDiameter.Sign() > 0 && !reading.Measured.LessThan(e.InternalDiameter) {
			add(SeverityFatal, "measured", fmt.Sprintf("cml %q: measured thickness must be less than internal diameter", reading.CmlId))
		}
		if reading.HasPrevious && reading.PreviousMeasured.LessThan(reading.Measured) {
			add(SeverityWarning, "previousMeasured", fmt.Sprintf("cml %q: previous reading %s is thinner than current %s (thickness increased)", reading.CmlId, reading.PreviousMeasured, reading.Measured))
		}
	}
}

func validateCorrosionPlausibility(previous, current domain.InspectionRecord, p policy.Policy, add func(Severity, string, string)) {
	deltaYears := yearsBetween(previous.Date, current.Date)
	if deltaYears.Sign() <= 0 {
		return
	}
	previousByCml := make(map[string]decimal.Decimal, len(previous.Readings))
	for _, r := range previous.Readings {
		previousByCml[r.CmlId] = r.Measured
	}
	for _, reading := range current.Readings {
		prevMeasured, ok := previousByCml[reading.CmlId]
		if !ok {
			continue
		}
		loss := prevMeasured.Sub(reading.Measured)
		if loss.Sign() <= 0 {
			continue
		}
		rate, err := loss.Div(deltaYears)
		if err != nil {
			continue
		}
		if rate.GreaterThan(p.Analysis.FatalCorrosionRateInPerYear) {
			add(SeverityFatal, "measured", fmt.Sprintf("cml %q: implied corrosion rate %s in/yr is physically impossible", reading.CmlId, rate))
		} else if rate.GreaterThan(p.Analysis.WarnCorrosionRateInPerYear) {
			add(SeverityWarning, "measured", fmt.Sprintf("cml %q: implied corrosion rate %s in/yr is unusually high", reading.CmlId, rate))
		}
	}
}

// nanosPerYear uses the Julian year (365.25 days) as the calendar-to-year
// conversion, avoiding any float64 intermediate in a value that feeds a
// safety-relevant corrosion rate.
var nanosPerYear = decimal.MustFromString("31557600000000000")

func yearsBetween(earlier, later time.Time) decimal.Decimal {
	nanos := decimal.NewFromInt(later.Sub(earlier).Nanoseconds())
	years, err := nanos.Div(nanosPerYear)
	if err != nil {
		return decimal.Zero
	}
	return years
}
