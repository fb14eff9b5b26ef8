package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
)

func sampleEquipment() domain.Equipment {
	return domain.Equipment{
		Tag:           "V-101",
		Kind:          domain.KindVessel,
		MaterialSpec:  "SA-516",
		MaterialGrade: "70",
	}
}

func sampleResult() domain.CalculationResult {
	return domain.CalculationResult{
		CalculationId:       "CALC-1",
		EquipmentTag:        "V-101",
		TMin:                decimal.MustFromString("0.2129"),
		Mawp:                decimal.MustFromString("333.30"),
		Rsf:                 decimal.MustFromString("0.9164"),
		RemainingLifeYears:  decimal.MustFromString("100.0"),
		NextInspectionYears: decimal.MustFromString("10.0"),
		Fitness:             domain.FitnessFit,
		Risk:                domain.RiskMedium,
		Warnings:            []string{"remaining life capped at 100 years"},
		PerformedAt:         time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestWritePDFProducesNonEmptyOutput(t *testing.T) {
	var buf bytes.Buffer
	err := WritePDF(&buf, sampleEquipment(), sampleResult())
	require.NoError(t, err)
	assert.Greater(t, buf.Len(), 0)
	// PDF files begin with the %PDF- magic bytes.
	assert.Equal(t, "%PDF-", string(buf.Bytes()[:5]))
}

func TestWritePDFFlagsImmediateReview(t *testing.T) {
	// PDF content streams may be compressed, so this checks for the extra
	// rendered content by output size rather than by searching raw bytes
	// for the warning text.
	var withoutFlag, withFlag bytes.Buffer
	require.NoError(t, WritePDF(&withoutFlag, sampleEquipment(), sampleResult()))

	flagged := sampleResult()
	flagged.RequiresImmediateReview = true
	require.NoError(t, WritePDF(&withFlag, sampleEquipment(), flagged))

	assert.Greater(t, withFlag.Len(), withoutFlag.Len())
}

func TestWriteWorksheetProducesValidWorkbook(t *testing.T) {
	inspections := []domain.InspectionRecord{
		{
			Date:                   time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
			InspectorCertification: "API-510-12345",
			Readings: []domain.ThicknessReading{
				{CmlId: "CML-1", Location: "shell course 1", Measured: decimal.MustFromString("0.478")},
			},
		},
	}

	var buf bytes.Buffer
	err := WriteWorksheet(&buf, sampleEquipment(), inspections)
	require.NoError(t, err)
	assert.Greater(t, buf.Len(), 0)
	// XLSX files are zip archives; PK is the zip local-file-header magic.
	assert.Equal(t, "PK", string(buf.Bytes()[:2]))
}
