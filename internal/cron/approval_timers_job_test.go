package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/internal/approvals"
	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

type fakeSweeper struct {
	calls  []time.Time
	result approvals.SweepResult
	err    error
}

func (f *fakeSweeper) Sweep(_ context.Context, now time.Time) (approvals.SweepResult, error) {
	f.calls = append(f.calls, now)
	return f.result, f.err
}

func TestApprovalTimersJobSweepsAtCurrentTime(t *testing.T) {
	sweeper := &fakeSweeper{result: approvals.SweepResult{AutoApproved: 2, Escalated: 1}}
	job, err := NewApprovalTimersJob(ApprovalTimersJobParams{Logger: logger.Nop(), Engine: sweeper})
	require.NoError(t, err)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	job.(*approvalTimersJob).now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))
	require.Equal(t, []time.Time{now}, sweeper.calls)
	require.Equal(t, "approval-timers", job.Name())
	require.Equal(t, defaultTimerCadence, job.(Scheduled).Every())
}

func TestApprovalTimersJobSurfacesSweepErrors(t *testing.T) {
	sweeper := &fakeSweeper{result: approvals.SweepResult{AutoApproved: 1, Skipped: 1}, err: errors.New("one request failed")}
	job, err := NewApprovalTimersJob(ApprovalTimersJobParams{Logger: logger.Nop(), Engine: sweeper, Cadence: time.Minute})
	require.NoError(t, err)

	require.ErrorContains(t, job.Run(context.Background()), "one request failed")
	require.Equal(t, time.Minute, job.(Scheduled).Every())
}

func TestApprovalTimersJobRequiresEngine(t *testing.T) {
	_, err := NewApprovalTimersJob(ApprovalTimersJobParams{Logger: logger.Nop()})
	require.Error(t, err)
}
