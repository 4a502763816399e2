package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

const defaultTimerCadence = 5 * time.Minute

type approvalSweeper interface {
	Sweep(ctx context.Context, now time.Time) (approvals.SweepResult, error)
}

type ApprovalTimersJobParams struct {
	Logger  *logger.Logger
	Engine  approvalSweeper
	Cadence time.Duration
	// Timeout bounds one sweep; zero leaves it to the caller's context.
	Timeout time.Duration
}

// NewApprovalTimersJob applies due auto-approvals and escalations.
func NewApprovalTimersJob(params ApprovalTimersJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Engine == nil {
		return nil, fmt.Errorf("approval engine required")
	}
	cadence := params.Cadence
	if cadence <= 0 {
		cadence = defaultTimerCadence
	}
	return &approvalTimersJob{
		logg:    params.Logger,
		engine:  params.Engine,
		cadence: cadence,
		timeout: params.Timeout,
		now:     time.Now,
	}, nil
}

type approvalTimersJob struct {
	logg    *logger.Logger
	engine  approvalSweeper
	cadence time.Duration
	timeout time.Duration
	now     func() time.Time
}

func (j *approvalTimersJob) Name() string         { return "approval-timers" }
func (j *approvalTimersJob) Every() time.Duration { return j.cadence }

// Run returns the aggregated per-request errors; requests that did transition stay transitioned.
func (j *approvalTimersJob) Run(ctx context.Context) error {
	if j.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.timeout)
		defer cancel()
	}
	result, err := j.engine.Sweep(ctx, j.now().UTC())
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"auto_approved": result.AutoApproved,
		"escalated":     result.Escalated,
		"skipped":       result.Skipped,
	})
	if err != nil {
		return fmt.Errorf("approval sweep: %w", err)
	}
	j.logg.Info(logCtx, "approval timers swept")
	return nil
}
