package scheduler_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkeep/internal/config"
	"upkeep/internal/scheduler"
	"upkeep/internal/workflow"
)

type fakeSweeper struct {
	calls []string
	err   error
}

func (f *fakeSweeper) ActivateDueJobs(context.Context) (workflow.SweepReport, error) {
	f.calls = append(f.calls, "activate")
	return workflow.SweepReport{Sweep: "activate", Due: 2, Activated: 2}, f.err
}

func (f *fakeSweeper) ExpandAll(_ context.Context, actorID string) (workflow.ExpansionReport, error) {
	f.calls = append(f.calls, "expand:"+actorID)
	return workflow.ExpansionReport{Cycles: 1, Expanded: 1}, f.err
}

func (f *fakeSweeper) ResumeProvisioning(context.Context) (workflow.SweepReport, error) {
	f.calls = append(f.calls, "resume")
	return workflow.SweepReport{Sweep: "resume"}, f.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewRegistersConfiguredSweeps(t *testing.T) {
	cfg := config.Default().Schedule
	cfg.ResumeCron = ""
	s, err := scheduler.New(&fakeSweeper{}, cfg, quietLogger())
	require.NoError(t, err)
	next := s.Next()
	require.Len(t, next, 2)
	assert.Equal(t, "activate", next[0].Sweep)
	assert.Equal(t, "expand", next[1].Sweep)
	for _, n := range next {
		assert.False(t, n.At.IsZero())
	}
}

func TestNewRejectsBadCron(t *testing.T) {
	cfg := config.Default().Schedule
	cfg.ActivationCron = "every day"
	_, err := scheduler.New(&fakeSweeper{}, cfg, quietLogger())
	assert.Error(t, err)
}

func TestRunDispatchesByName(t *testing.T) {
	sw := &fakeSweeper{}
	s, err := scheduler.New(sw, config.Default().Schedule, quietLogger())
	require.NoError(t, err)
	ctx := context.Background()
	for _, name := range scheduler.Names() {
		_, err := s.Run(ctx, name)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"activate", "expand:scheduler", "resume"}, sw.calls)

	res, err := s.Run(ctx, scheduler.SweepActivate)
	require.NoError(t, err)
	require.NotNil(t, res.Activation)
	assert.Equal(t, 2, res.Activation.Activated)
	assert.Nil(t, res.Expansion)

	_, err = s.Run(ctx, "reindex")
	assert.ErrorIs(t, err, scheduler.ErrUnknownSweep)

	sw.err = errors.New("db locked")
	_, err = s.Run(ctx, scheduler.SweepActivate)
	assert.Error(t, err)
}

// blockingSweeper holds ResumeProvisioning open until release is closed.
type blockingSweeper struct {
	fakeSweeper
	started chan struct{}
	release chan struct{}
}

func (b *blockingSweeper) ResumeProvisioning(context.Context) (workflow.SweepReport, error) {
	close(b.started)
	<-b.release
	return workflow.SweepReport{Sweep: "resume", Activated: 1}, nil
}

func TestRunnerRefusesOverlappingRuns(t *testing.T) {
	sw := &blockingSweeper{started: make(chan struct{}), release: make(chan struct{})}
	r := scheduler.NewRunner(sw, quietLogger())
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := r.Run(ctx, scheduler.SweepResume, "")
		done <- err
	}()
	<-sw.started

	_, err := r.Run(ctx, scheduler.SweepResume, "")
	assert.ErrorIs(t, err, scheduler.ErrSweepRunning)
	// other sweeps are not blocked
	_, err = r.Run(ctx, scheduler.SweepActivate, "")
	assert.NoError(t, err)

	close(sw.release)
	require.NoError(t, <-done)
	res, err := r.Run(ctx, scheduler.SweepExpand, "ops-1")
	require.NoError(t, err)
	require.NotNil(t, res.Expansion)
	assert.Equal(t, []string{"activate", "expand:ops-1"}, sw.calls)
}

func TestStartStop(t *testing.T) {
	s, err := scheduler.New(&fakeSweeper{}, config.Default().Schedule, quietLogger())
	require.NoError(t, err)
	s.Start(context.Background())
	s.Stop()
}
