// Command ffscore is the composition root: it loads configuration, wires
// the property table, audit store, and job admission gate into a
// ffscore.Core, runs one demonstration assessment, and writes its
// compliance PDF and CML worksheet to disk.
//
// Graceful shutdown on SIGINT/SIGTERM and .env loading follow the
// teacher's main.go (signal.NotifyContext, godotenv.Load); the HTTP
// server, mux routing, and JWT session handling are dropped, since this
// core is an embeddable library with no outward-facing transport of its
// own (see DESIGN.md).
package main

import (
	"context"
	"database/sql"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/vertexffs/ffscore/internal/audit"
	"github.com/vertexffs/ffscore/internal/decimal"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/ffscore"
	"github.com/vertexffs/ffscore/internal/orchestrator"
	"github.com/vertexffs/ffscore/internal/policy"
	"github.com/vertexffs/ffscore/internal/report"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, continuing with process environment")
	}

	auditStore := buildAuditStore()

	core, err := ffscore.New(ffscore.Config{
		Policy:         policy.Default(),
		MaterialPoints: seedMaterialTable(),
		AuditStore:     auditStore,
	})
	if err != nil {
		log.Fatalf("failed to build FFS core: %v", err)
	}

	job := demoJob()
	result, err := core.Assess(ctx, job)
	if err != nil {
		log.Fatalf("assessment failed: %v", err)
	}

	slog.Info("assessment complete",
		"calculation_id", result.CalculationId,
		"fitness", result.Fitness,
		"risk", result.Risk,
		"t_min", result.TMin.String(),
		"mawp", result.Mawp.String(),
		"rsf", result.Rsf.String(),
	)

	if err := writeReports(job.Equipment, job.Inspections, result); err != nil {
		log.Fatalf("failed to write reports: %v", err)
	}
}

func buildAuditStore() audit.Store {
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		return audit.NewMemoryStore()
	}
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		log.Fatalf("failed to open audit database: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.Ping(); err != nil {
		log.Fatalf("audit database did not respond: %v", err)
	}
	return audit.NewPostgresStore(db)
}

func seedMaterialTable() []domain.MaterialPoint {
	return []domain.MaterialPoint{
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
}

func demoJob() orchestrator.Job {
	reading := func(measured string) domain.ThicknessReading {
		return domain.ThicknessReading{CmlId: "CML-1", Location: "shell course 1, 90 deg", Measured: decimal.MustFromString(measured)}
	}
	return orchestrator.Job{
		CalculationId: "DEMO-" + time.Now().UTC().Format("20060102T150405"),
		Equipment: domain.Equipment{
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
		},
		Inspections: []domain.InspectionRecord{
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
		},
		Consequence:     domain.ConsequenceLow,
		ConfidenceLabel: "average",
		FutureYears:     10,
		Performer:       "cmd/ffscore demo run",
	}
}

func writeReports(equipment domain.Equipment, inspections []domain.InspectionRecord, result domain.CalculationResult) error {
	pdfFile, err := os.Create(result.CalculationId + "-compliance-summary.pdf")
	if err != nil {
		return err
	}
	defer pdfFile.Close()
	if err := report.WritePDF(pdfFile, equipment, result); err != nil {
		return err
	}

	xlsxFile, err := os.Create(result.CalculationId + "-cml-readings.xlsx")
	if err != nil {
		return err
	}
	defer xlsxFile.Close()
	return report.WriteWorksheet(xlsxFile, equipment, inspections)
}
