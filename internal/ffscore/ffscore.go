// Package ffscore is the public surface of the FFS core (spec §6): the
// thin facade a caller embeds to run an assessment and to retrieve or
// verify its audit trail, without reaching into internal/orchestrator or
// internal/audit directly.
package ffscore

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/vertexffs/ffscore/internal/audit"
	"github.com/vertexffs/ffscore/internal/domain"
	"github.com/vertexffs/ffscore/internal/orchestrator"
	"github.com/vertexffs/ffscore/internal/policy"
	"github.com/vertexffs/ffscore/internal/properties"
)

// Core is the composed FFS engine: policy, material tables, audit store,
// and job admission all wired together behind one Assess entry point.
type Core struct {
	orchestrator *orchestrator.Orchestrator
	auditStore   audit.Store
}

// Config is everything needed to construct a Core. MaterialPoints seeds
// the property resolver; AuditStore defaults to an in-memory store when
// nil, and admission defaults to policy.MaxInFlightJobs slots with an
// unthrottled submission rate when AdmissionRate/AdmissionBurst are zero.
type Config struct {
	Policy         policy.Policy
	MaterialPoints []domain.MaterialPoint
	AuditStore     audit.Store
	AdmissionRate  rate.Limit
	AdmissionBurst int
}

// New builds a Core from Config, failing if the material table is
// malformed (see properties.NewTable).
func New(cfg Config) (*Core, error) {
	table, err := properties.NewTable(cfg.MaterialPoints)
	if err != nil {
		return nil, err
	}
	resolver := properties.NewResolver(table)

	store := cfg.AuditStore
	if store == nil {
		store = audit.NewMemoryStore()
	}

	admissionRate := cfg.AdmissionRate
	admissionBurst := cfg.AdmissionBurst
	if admissionRate == 0 {
		admissionRate = rate.Inf
	}
	if admissionBurst == 0 {
		admissionBurst = cfg.Policy.MaxInFlightJobs
	}
	admission := orchestrator.NewJobAdmission(cfg.Policy.MaxInFlightJobs, admissionRate, admissionBurst)

	return &Core{
		orchestrator: orchestrator.New(cfg.Policy, resolver, store, admission, nil),
		auditStore:   store,
	}, nil
}

// Assess runs one complete fitness-for-service assessment and records it
// to the audit log before returning.
func (c *Core) Assess(ctx context.Context, job orchestrator.Job) (domain.CalculationResult, error) {
	return c.orchestrator.Assess(ctx, job)
}

// GetAudit retrieves the audit entry for a previously performed
// calculation.
func (c *Core) GetAudit(ctx context.Context, calculationId string) (domain.AuditEntry, error) {
	return c.auditStore.Get(ctx, calculationId)
}

// VerifyAudit walks the audit chain over [from, to] and reports whether
// every content hash and chain link still verifies.
func (c *Core) VerifyAudit(ctx context.Context, from, to time.Time) (audit.VerifyResult, error) {
	return c.auditStore.Verify(ctx, from, to)
}
