// Package scheduler triggers the workflow sweeps on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"upkeep/internal/config"
	"upkeep/internal/events"
	"upkeep/internal/workflow"
)

const (
	SweepActivate = "activate"
	SweepExpand   = "expand"
	SweepResume   = "resume"
)

// Sweeper is the part of the workflow engine driven by the clock.
type Sweeper interface {
	ActivateDueJobs(ctx context.Context) (workflow.SweepReport, error)
	ExpandAll(ctx context.Context, actorID string) (workflow.ExpansionReport, error)
	ResumeProvisioning(ctx context.Context) (workflow.SweepReport, error)
}

var (
	ErrUnknownSweep = errors.New("unknown sweep")
	ErrSweepRunning = errors.New("sweep already running")
)

// Names lists the sweeps in a stable order.
func Names() []string {
	return []string{SweepActivate, SweepExpand, SweepResume}
}

// Result is the report of one sweep run. Activate and resume fill Activation.
type Result struct {
	Sweep      string                    `json:"sweep"`
	Activation *workflow.SweepReport     `json:"activation,omitempty"`
	Expansion  *workflow.ExpansionReport `json:"expansion,omitempty"`
}

// Runner runs sweeps by name. A sweep already running in this process is
// refused with ErrSweepRunning rather than started twice.
type Runner struct {
	sweeper Sweeper
	logger  *slog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func NewRunner(sw Sweeper, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{sweeper: sw, logger: logger, running: map[string]bool{}}
}

func (r *Runner) acquire(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running[name] {
		return false
	}
	r.running[name] = true
	return true
}

func (r *Runner) release(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.running, name)
}

// Run executes one sweep synchronously. actorID is recorded on expansion events.
func (r *Runner) Run(ctx context.Context, name, actorID string) (Result, error) {
	res := Result{Sweep: name}
	switch name {
	case SweepActivate, SweepExpand, SweepResume:
	default:
		return res, fmt.Errorf("%w %q (want one of activate, expand, resume)", ErrUnknownSweep, name)
	}
	if !r.acquire(name) {
		return res, fmt.Errorf("%w: %s", ErrSweepRunning, name)
	}
	defer r.release(name)

	start := time.Now()
	switch name {
	case SweepActivate:
		rep, err := r.sweeper.ActivateDueJobs(ctx)
		if err != nil {
			return res, err
		}
		res.Activation = &rep
		r.logger.Info("sweep done", "sweep", name, "due", rep.Due, "activated", rep.Activated, "failed", rep.Failed, "took", time.Since(start))
	case SweepExpand:
		rep, err := r.sweeper.ExpandAll(ctx, actorID)
		if err != nil {
			return res, err
		}
		res.Expansion = &rep
		r.logger.Info("sweep done", "sweep", name, "cycles", rep.Cycles, "expanded", rep.Expanded, "failed", rep.Failed, "took", time.Since(start))
	case SweepResume:
		rep, err := r.sweeper.ResumeProvisioning(ctx)
		if err != nil {
			return res, err
		}
		res.Activation = &rep
		r.logger.Info("sweep done", "sweep", name, "due", rep.Due, "provisioned", rep.Activated, "skipped", rep.Skipped, "failed", rep.Failed, "took", time.Since(start))
	}
	return res, nil
}

type Scheduler struct {
	cron    *cron.Cron
	runner  *Runner
	logger  *slog.Logger
	entries map[string]cron.EntryID
	ctx     context.Context
}

// New registers every sweep whose cron expression is set.
func New(sw Sweeper, cfg config.ScheduleConfig, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	s := &Scheduler{
		runner:  NewRunner(sw, logger),
		logger:  logger,
		entries: map[string]cron.EntryID{},
		ctx:     context.Background(),
		cron: cron.New(
			cron.WithLocation(time.UTC),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}
	for name, spec := range map[string]string{
		SweepActivate: cfg.ActivationCron,
		SweepExpand:   cfg.ExpansionCron,
		SweepResume:   cfg.ResumeCron,
	} {
		if spec == "" {
			continue
		}
		id, err := s.cron.AddFunc(spec, func() {
			_, err := s.Run(s.ctx, name)
			switch {
			case errors.Is(err, ErrSweepRunning):
				s.logger.Info("sweep still running, skipped", "sweep", name)
			case err != nil:
				s.logger.Error("sweep failed", "sweep", name, "err", err)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("schedule %s sweep %q: %w", name, spec, err)
		}
		s.entries[name] = id
	}
	return s, nil
}

// Start runs the cron loop in the background until Stop.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
	for _, n := range s.Next() {
		s.logger.Info("sweep scheduled", "sweep", n.Sweep, "next", n.At.Format(time.RFC3339))
	}
}

// Stop halts the cron loop and waits for running sweeps.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Run executes one sweep synchronously as the scheduler actor. Cron and
// manual runs share one Runner.
func (s *Scheduler) Run(ctx context.Context, name string) (Result, error) {
	return s.runner.Run(ctx, name, events.SystemActor)
}

// Runner is the guard shared by cron and manual runs.
func (s *Scheduler) Runner() *Runner {
	return s.runner
}

type NextRun struct {
	Sweep string    `json:"sweep"`
	At    time.Time `json:"next"`
}

// Next reports the next run of each registered sweep, ordered by name.
func (s *Scheduler) Next() []NextRun {
	var out []NextRun
	for name, id := range s.entries {
		e := s.cron.Entry(id)
		next := e.Next
		if next.IsZero() && e.Schedule != nil {
			next = e.Schedule.Next(time.Now().UTC())
		}
		out = append(out, NextRun{Sweep: name, At: next})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sweep < out[j].Sweep })
	return out
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.logger.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.logger.Error("cron: "+msg, append(keysAndValues, "err", err)...)
}
