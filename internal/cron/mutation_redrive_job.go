package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/ledgergate-backend/internal/finance"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

const (
	defaultRedriveGrace = 2 * time.Minute
	defaultRedriveBatch = 100
)

type mutationRedriver interface {
	Redrive(ctx context.Context, resolvedBefore time.Time, limit int) (finance.RedriveResult, error)
}

type MutationRedriveJobParams struct {
	Logger  *logger.Logger
	Finance mutationRedriver
	Cadence time.Duration
	// Grace leaves fresh resolutions to the in-process hook.
	Grace time.Duration
	Batch int
}

// NewMutationRedriveJob settles parked mutations whose approval resolved but
// whose resolution hook never completed.
func NewMutationRedriveJob(params MutationRedriveJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Finance == nil {
		return nil, fmt.Errorf("finance service required")
	}
	cadence := params.Cadence
	if cadence <= 0 {
		cadence = defaultTimerCadence
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultRedriveGrace
	}
	batch := params.Batch
	if batch <= 0 {
		batch = defaultRedriveBatch
	}
	return &mutationRedriveJob{
		logg:    params.Logger,
		finance: params.Finance,
		cadence: cadence,
		grace:   grace,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type mutationRedriveJob struct {
	logg    *logger.Logger
	finance mutationRedriver
	cadence time.Duration
	grace   time.Duration
	batch   int
	now     func() time.Time
}

func (j *mutationRedriveJob) Name() string         { return "mutation-redrive" }
func (j *mutationRedriveJob) Every() time.Duration { return j.cadence }

func (j *mutationRedriveJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	result, err := j.finance.Redrive(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("redrive mutations: %w", err)
	}
	if result.Scanned > 0 {
		logCtx := j.logg.WithFields(ctx, map[string]any{
			"scanned": result.Scanned,
			"handled": result.Handled,
			"cutoff":  cutoff,
		})
		j.logg.Warn(logCtx, "stranded ledger mutations redriven")
	}
	return nil
}
