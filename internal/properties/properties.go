// Package properties resolves (material, temperature) pairs to ASME
// Section II-D allowable stress and companion strengths, and resolves
// equipment geometry. It never extrapolates and never defaults a missing
// dimension — both failure modes are reported as typed errors, per §4.2.
package properties

import (
	"fmt"
	"sort"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/ffserrors"
)

// ResolvedProperties is the typed output of Resolve: the interpolated
// strengths plus the provenance of the table they came from, so the Audit
// Log can capture exactly which edition of which standard was used.
type ResolvedProperties struct {
	AllowableStress decimal.Decimal
	YieldStrength   decimal.Decimal
	TensileStrength decimal.Decimal
	ElasticModulus  decimal.Decimal
	SourceDocument  string
	SourceTable     string
	SourceYear      int
	InternalRadius  decimal.Decimal
}

// Table is an in-memory material property table: an ordered set of
// MaterialPoint rows per (spec, grade), sorted by temperature ascending.
type Table struct {
	points map[materialKey][]domain.MaterialPoint
}

type materialKey struct {
	spec  string
	grade string
}

// NewTable builds a lookup table from a flat list of MaterialPoint rows,
// grouping by (spec, grade) and sorting each group by temperature.
func NewTable(points []domain.MaterialPoint) (*Table, error) {
	t := &Table{points: make(map[materialKey][]domain.MaterialPoint)}
	for _, p := range points {
		if p.AllowableStress.Sign() <= 0 {
			return nil, fmt.Errorf("properties: %s/%s@%s: allowable stress must be positive", p.Spec, p.Grade, p.TemperatureF)
		}
		if p.YieldStrength.Sign() <= 0 || p.TensileStrength.Sign() <= 0 {
			return nil, fmt.Errorf("properties: %s/%s@%s: strengths must be positive", p.Spec, p.Grade, p.TemperatureF)
		}
		if p.YieldStrength.GreaterThan(p.TensileStrength) {
			return nil, fmt.Errorf("properties: %s/%s@%s: yield strength exceeds tensile strength", p.Spec, p.Grade, p.TemperatureF)
		}
		k := materialKey{spec: p.Spec, grade: p.Grade}
		t.points[k] = append(t.points[k], p)
	}
	for k := range t.points {
		rows := t.points[k]
		sort.Slice(rows, func(i, j int) bool {
			return rows[i].TemperatureF.LessThan(rows[j].TemperatureF)
		})
		t.points[k] = rows
	}
	return t, nil
}

// Resolver resolves material properties and equipment geometry for one
// job. It holds no mutable state: the underlying Table is built once and
// is safe for unbounded concurrent readers per spec §5.
type Resolver struct {
	table *Table
}

// NewResolver constructs a Resolver over an already-built Table.
func NewResolver(table *Table) *Resolver {
	return &Resolver{table: table}
}

// Resolve looks up (ref, temperature) and linearly interpolates between
// the two bracketing tabulated points. Extrapolation beyond the table's
// coverage fails with an OutOfMaterialRange error; an unknown (spec, grade)
// fails with a PropertyMissing error.
func (r *Resolver) Resolve(ref domain.MaterialRef, temperatureF decimal.Decimal) (ResolvedProperties, error) {
	rows, ok := r.table.points[materialKey{spec: ref.Spec, grade: ref.Grade}]
	if !ok || len(rows) == 0 {
		return ResolvedProperties{}, ffserrors.PropertyMissing(
			fmt.Sprintf("no material table for %s/%s", ref.Spec, ref.Grade))
	}

	if temperatureF.LessThan(rows[0].TemperatureF) || temperatureF.GreaterThan(rows[len(rows)-1].TemperatureF) {
		return ResolvedProperties{}, ffserrors.OutOfMaterialRange(
			fmt.Sprintf("design temperature %s outside table coverage [%s, %s] for %s/%s",
				temperatureF, rows[0].TemperatureF, rows[len(rows)-1].TemperatureF, ref.Spec, ref.Grade))
	}

	lo, hi, found := bracket(rows, temperatureF)
	if !found {
		return ResolvedProperties{}, ffserrors.Internal("failed to bracket temperature within validated coverage", nil)
	}

	allowable, err := interpolate(lo.TemperatureF, lo.AllowableStress, hi.TemperatureF, hi.AllowableStress, temperatureF)
	if err != nil {
		return ResolvedProperties{}, err
	}
	yield, err := interpolate(lo.TemperatureF, lo.YieldStrength, hi.TemperatureF, hi.YieldStrength, temperatureF)
	if err != nil {
		return ResolvedProperties{}, err
	}
	tensile, err := interpolate(lo.TemperatureF, lo.TensileStrength, hi.TemperatureF, hi.TensileStrength, temperatureF)
	if err != nil {
		return ResolvedProperties{}, err
	}
	elastic, err := interpolate(lo.TemperatureF, lo.ElasticModulus, hi.TemperatureF, hi.ElasticModulus, temperatureF)
	if err != nil {
		return ResolvedProperties{}, err
	}

	return ResolvedProperties{
		AllowableStress: allowable,
		YieldStrength:   yield,
		TensileStrength: tensile,
		ElasticModulus:  elastic,
		SourceDocument:  lo.SourceDocument,
		SourceTable:     lo.SourceTable,
		SourceYear:      lo.SourceYear,
	}, nil
}

// bracket finds the two tabulated rows that bracket t, or the single exact
// match if t lands precisely on a tabulated temperature.
func bracket(rows []domain.MaterialPoint, t decimal.Decimal) (lo, hi domain.MaterialPoint, found bool) {
	for i := 0; i < len(rows); i++ {
		if rows[i].TemperatureF.Equal(t) {
			return rows[i], rows[i], true
		}
		if rows[i].TemperatureF.GreaterThan(t) {
			if i == 0 {
				return domain.MaterialPoint{}, domain.MaterialPoint{}, false
			}
			return rows[i-1], rows[i], true
		}
	}
	return domain.MaterialPoint{}, domain.MaterialPoint{}, false
}

// interpolate performs linear interpolation of y at x between (x0,y0) and
// (x1,y1). If x0 == x1 (an exact tabulated match), y0 is returned directly.
func interpolate(x0, y0, x1, y1, x decimal.Decimal) (decimal.Decimal, error) {
	if x0.Equal(x1) {
		return y0, nil
	}
	// y = y0 + (y1 - y0) * (x - x0) / (x1 - x0)
	num := y1.Sub(y0).Mul(x.Sub(x0))
	denom := x1.Sub(x0)
	delta, err := num.Div(denom)
	if err != nil {
		return decimal.Decimal{}, ffserrors.ArithmeticFailure("material interpolation", err)
	}
	return y0.Add(delta), nil
}

// ResolveGeometry validates and extracts the internal radius from an
// Equipment record. It fails with MissingGeometryError-equivalent
// (PropertyMissing) if InternalDiameter is absent for a kind that
// requires it; the core never assumes or defaults a dimension.
func ResolveGeometry(e domain.Equipment) (decimal.Decimal, error) {
	switch e.Kind {
	case domain.KindVessel, domain.KindTank, domain.KindPiping, domain.KindExchanger:
		if e.InternalDiameter.Sign() <= 0 {
			return decimal.Decimal{}, ffserrors.PropertyMissing(
				fmt.Sprintf("internal diameter is required for equipment kind %q", e.Kind))
		}
	default:
		return decimal.Decimal{}, ffserrors.PropertyMissing(fmt.Sprintf("unknown equipment kind %q", e.Kind))
	}
	return e.InternalRadius(), nil
}
