// Package report renders a CalculationResult into the two deliverables an
// inspector actually files: a one-page PDF compliance summary and an XLSX
// worksheet of the underlying CML readings. The PDF layout is adapted from
// the teacher's internal/calc/report/handler.go (gofpdf, Helvetica,
// Cell/MultiCell layout); the worksheet follows
// original_source/backend/scripts/generate_compliance_report.py's column
// set, expressed with excelize instead of openpyxl.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/xuri/excelize/v2"

	"github.com/vertexffs/ffscore/internal/domain"
)

// WritePDF renders a one-page API 579 compliance summary for one
// CalculationResult to w.
func WritePDF(w io.Writer, equipment domain.Equipment, result domain.CalculationResult) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 10, "Fitness-For-Service Compliance Summary")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Equipment tag: %s (%s)", equipment.Tag, equipment.Kind))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Material: %s / %s", equipment.MaterialSpec, equipment.MaterialGrade))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Calculation id: %s", result.CalculationId))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Performed: %s", result.PerformedAt.Format(time.RFC3339)))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "B", 13)
	pdf.Cell(0, 8, "Results")
	pdf.Ln(9)
	pdf.SetFont("Helvetica", "", 11)
	pdf.Cell(0, 6, fmt.Sprintf("Minimum required thickness (t_min): %s in", result.TMin))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Maximum allowable working pressure (MAWP): %s psi", result.Mawp))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Remaining strength factor (RSF): %s", result.Rsf))
	pdf.Ln(6)
	if result.RemainingLifeIndefinite {
		pdf.Cell(0, 6, "Remaining life: indefinite")
	} else {
		pdf.Cell(0, 6, fmt.Sprintf("Remaining life: %s yr", result.RemainingLifeYears))
	}
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Fitness: %s", result.Fitness))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Risk level: %s", result.Risk))
	pdf.Ln(6)
	pdf.Cell(0, 6, fmt.Sprintf("Next inspection interval: %s yr", result.NextInspectionYears))
	pdf.Ln(10)

	if result.RequiresImmediateReview {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.SetTextColor(178, 34, 34)
		pdf.Cell(0, 8, "IMMEDIATE ENGINEERING REVIEW REQUIRED")
		pdf.SetTextColor(0, 0, 0)
		pdf.Ln(10)
	}

	if len(result.Warnings) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, "Warnings")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 10)
		for _, warning := range result.Warnings {
			pdf.MultiCell(0, 5, "- "+warning, "", "L", false)
		}
	}

	return pdf.Output(w)
}

// WriteWorksheet renders the CML reading history for one piece of
// equipment to an XLSX workbook, one row per (inspection date, CML)
// reading, following generate_compliance_report.py's column ordering.
func WriteWorksheet(w io.Writer, equipment domain.Equipment, inspections []domain.InspectionRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "CML Readings"
	f.SetSheetName(f.GetSheetName(0), sheet)

	headers := []string{"Inspection Date", "Inspector Certification", "CML ID", "Location", "Measured (in)", "Previous (in)"}
	for col, header := range headers {
		cell, err := excelize.CoordinatesToCellName(col+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheet, cell, header); err != nil {
			return err
		}
	}

	row := 2
	for _, insp := range inspections {
		for _, reading := range insp.Readings {
			values := []any{
				insp.Date.Format("2006-01-02"),
				insp.InspectorCertification,
				reading.CmlId,
				reading.Location,
				reading.Measured.String(),
			}
			if reading.HasPrevious {
				values = append(values, reading.PreviousMeasured.String())
			} else {
				values = append(values, "")
			}
			for col, v := range values {
				cell, err := excelize.CoordinatesToCellName(col+1, row)
				if err != nil {
					return err
				}
				if err := f.SetCellValue(sheet, cell, v); err != nil {
					return err
				}
			}
			row++
		}
	}

	return f.Write(w)
}
