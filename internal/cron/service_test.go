package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/ledgergate-backend/pkg/logger"
)

type fakeLock struct {
	held     bool
	acquires int
	releases int
}

func (f *fakeLock) Acquire(context.Context) (bool, error) {
	f.acquires++
	if f.held {
		return false, nil
	}
	f.held = true
	return true, nil
}

func (f *fakeLock) Release(context.Context) error {
	f.releases++
	f.held = false
	return nil
}

type testJob struct {
	name  string
	err   error
	every time.Duration
	runs  int
}

func (t *testJob) Name() string         { return t.name }
func (t *testJob) Every() time.Duration { return t.every }

func (t *testJob) Run(context.Context) error {
	t.runs++
	return t.err
}

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newCronService(t *testing.T, lock Lock, clk *clock, jobs ...Job) *Service {
	t.Helper()
	svc, err := NewService(ServiceParams{
		Logger:   logger.Nop(),
		Registry: NewRegistry(jobs...),
		Lock:     lock,
		Tick:     time.Minute,
		Now:      clk.Now,
	})
	require.NoError(t, err)
	return svc
}

func TestServiceRunCycleRunsAllJobsEvenOnFailure(t *testing.T) {
	ok := &testJob{name: "success"}
	failing := &testJob{name: "fail", err: errors.New("boom")}
	lock := &fakeLock{}
	svc := newCronService(t, lock, &clock{now: time.Now()}, ok, failing)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Equal(t, 1, ok.runs)
	require.Equal(t, 1, failing.runs)
	require.Equal(t, 1, lock.releases)
	require.False(t, lock.held)
}

func TestServiceHonoursPerJobCadence(t *testing.T) {
	clk := &clock{now: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)}
	fast := &testJob{name: "fast"}
	daily := &testJob{name: "daily", every: 24 * time.Hour}
	svc := newCronService(t, &fakeLock{}, clk, fast, daily)
	ctx := context.Background()

	require.NoError(t, svc.runCycle(ctx))
	clk.now = clk.now.Add(time.Minute)
	require.NoError(t, svc.runCycle(ctx))
	require.Equal(t, 2, fast.runs)
	require.Equal(t, 1, daily.runs)

	clk.now = clk.now.Add(24 * time.Hour)
	require.NoError(t, svc.runCycle(ctx))
	require.Equal(t, 3, fast.runs)
	require.Equal(t, 2, daily.runs)
}

func TestServiceSkipsCycleWhenLockHeldElsewhere(t *testing.T) {
	job := &testJob{name: "job"}
	lock := &fakeLock{held: true}
	svc := newCronService(t, lock, &clock{now: time.Now()}, job)

	require.NoError(t, svc.runCycle(context.Background()))
	require.Equal(t, 0, job.runs)
	require.Equal(t, 0, lock.releases)

	lock.held = false
	require.NoError(t, svc.runCycle(context.Background()))
	require.Equal(t, 1, job.runs)
}

func TestServiceDoesNotTakeLockWhenNothingIsDue(t *testing.T) {
	clk := &clock{now: time.Now()}
	job := &testJob{name: "daily", every: 24 * time.Hour}
	lock := &fakeLock{}
	svc := newCronService(t, lock, clk, job)

	require.NoError(t, svc.runCycle(context.Background()))
	require.NoError(t, svc.runCycle(context.Background()))
	require.Equal(t, 1, lock.acquires)
	require.Equal(t, 1, job.runs)
}

func TestNewServiceRequiresLock(t *testing.T) {
	_, err := NewService(ServiceParams{Logger: logger.Nop()})
	require.Error(t, err)
}
