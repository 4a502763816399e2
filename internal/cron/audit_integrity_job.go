package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/ledgergate-backend/internal/audit"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

const (
	defaultIntegrityWindow = 25 * time.Hour
	defaultIntegrityBatch  = 5000
)

type integrityScanner interface {
	ScanSince(ctx context.Context, since time.Time, limit int) (audit.IntegrityReport, error)
}

type AuditIntegrityJobParams struct {
	Logger  *logger.Logger
	Audit   integrityScanner
	Window  time.Duration
	Limit   int
	Cadence time.Duration
}

// NewAuditIntegrityJob re-verifies checksums of recently written audit entries.
// The window overlaps the cadence so no entry falls between two scans.
func NewAuditIntegrityJob(params AuditIntegrityJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Audit == nil {
		return nil, fmt.Errorf("audit scanner required")
	}
	window := params.Window
	if window <= 0 {
		window = defaultIntegrityWindow
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultIntegrityBatch
	}
	cadence := params.Cadence
	if cadence <= 0 || cadence > window {
		cadence = window - time.Hour
	}
	return &auditIntegrityJob{
		logg:    params.Logger,
		audit:   params.Audit,
		window:  window,
		limit:   limit,
		cadence: cadence,
		now:     time.Now,
	}, nil
}

type auditIntegrityJob struct {
	logg    *logger.Logger
	audit   integrityScanner
	window  time.Duration
	limit   int
	cadence time.Duration
	now     func() time.Time
}

func (j *auditIntegrityJob) Name() string         { return "audit-integrity" }
func (j *auditIntegrityJob) Every() time.Duration { return j.cadence }

func (j *auditIntegrityJob) Run(ctx context.Context) error {
	since := j.now().UTC().Add(-j.window)
	report, err := j.audit.ScanSince(ctx, since, j.limit)
	if err != nil {
		return fmt.Errorf("audit integrity scan: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"since":   since,
		"checked": report.Checked,
		"failed":  len(report.Failed),
	})
	if len(report.Failed) > 0 {
		j.logg.Warn(logCtx, "audit integrity scan found tampered entries")
		return nil
	}
	j.logg.Info(logCtx, "audit integrity scan clean")
	return nil
}
