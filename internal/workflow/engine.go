// Package workflow drives maintenance schedules and crack escalations across
// the task, building, crack and notification services.
package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"upkeep/internal/config"
	"upkeep/internal/events"
	"upkeep/internal/remote"
	"upkeep/internal/repo"
)

var tracer = otel.Tracer("upkeep/workflow")

var (
	ErrAlreadyActivated  = errors.New("job already activated")
	ErrNotPending        = errors.New("crack report is not pending")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrRecentSchedule    = errors.New("cycle already produced a schedule within the dedup window")
	ErrNoBuildings       = errors.New("no buildings to schedule")

	// ErrProvisioningInFlight means another caller holds the origin's ledger claim.
	ErrProvisioningInFlight = errors.New("provisioning already in flight")
)

// Services groups the remote collaborators.
type Services struct {
	Tasks     remote.TaskService
	Buildings remote.BuildingService
	Cracks    remote.CrackService
	Notifier  remote.Notifier
}

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Tasks     remote.TaskService
	Buildings remote.BuildingService
	Cracks    remote.CrackService
	Notifier  remote.Notifier
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config, svc Services, logger *slog.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Tasks:     svc.Tasks,
		Buildings: svc.Buildings,
		Cracks:    svc.Cracks,
		Notifier:  svc.Notifier,
		Config:    cfg,
		Logger:    logger,
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now().UTC()
	}
	return time.Now().UTC()
}

// writer stamps events with the engine clock unless Events has its own.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e Engine) concurrency() int {
	if e.Config != nil && e.Config.Schedule.Concurrency > 0 {
		return e.Config.Schedule.Concurrency
	}
	return 8
}

// inTx runs fn in a transaction and commits when it returns nil.
func (e Engine) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (e Engine) notify(ctx context.Context, n remote.SystemNotification) {
	if e.Notifier == nil {
		return
	}
	e.Notifier.Notify(ctx, n)
}

// truncateDay returns midnight UTC of t's calendar day.
func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
