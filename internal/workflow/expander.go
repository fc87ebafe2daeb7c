package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"upkeep/internal/domain"
	"upkeep/internal/events"
	"upkeep/internal/metrics"
	"upkeep/internal/repo"
)

// Expansion is the outcome of expanding one cycle.
type Expansion struct {
	CycleID  string            `json:"cycle_id"`
	Schedule *domain.Schedule  `json:"schedule,omitempty"`
	Created  int               `json:"jobs_created"`
	Failed   int               `json:"jobs_failed"`
	Skipped  string            `json:"skipped,omitempty"`
	Errors   map[string]string `json:"errors,omitempty"`
}

// ExpansionReport summarizes an ExpandAll pass.
type ExpansionReport struct {
	Cycles   int         `json:"cycles"`
	Expanded int         `json:"expanded"`
	Skipped  int         `json:"skipped"`
	Failed   int         `json:"failed"`
	Results  []Expansion `json:"results"`
}

// CreateCycle stores a new maintenance cycle template.
func (e Engine) CreateCycle(ctx context.Context, c domain.MaintenanceCycle, actorID string) (domain.MaintenanceCycle, error) {
	if !c.Frequency.Valid() {
		return c, fmt.Errorf("invalid frequency %q", c.Frequency)
	}
	if c.DeviceType == "" {
		return c, errors.New("device type is required")
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Name == "" {
		c.Name = c.DeviceType
	}
	c.CreatedAt = e.now()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertCycle(ctx, tx, c); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, events.CycleCreated, "cycle", c.ID, actorID, events.EventPayload{
			"device_type": c.DeviceType,
			"frequency":   string(c.Frequency),
		})
	})
	return c, err
}

// ExpandCycle creates a schedule for the cycle with one job per building,
// starting today. Job creation per building is independent and best-effort.
func (e Engine) ExpandCycle(ctx context.Context, cycleID, actorID string) (Expansion, error) {
	ctx, span := tracer.Start(ctx, "workflow.ExpandCycle")
	span.SetAttributes(attribute.String("cycle.id", cycleID))
	defer span.End()

	exp := Expansion{CycleID: cycleID}
	cycle, err := e.Repo.GetCycle(ctx, cycleID)
	if err != nil {
		return exp, err
	}
	now := e.now()
	if err := e.checkRecentSchedule(ctx, nil, cycleID, now, &exp); err != nil {
		return exp, err
	}

	buildings, err := e.Buildings.ListBuildings(ctx)
	if err != nil {
		return exp, fmt.Errorf("list buildings: %w", err)
	}
	if len(buildings) == 0 {
		exp.Skipped = "no buildings"
		return exp, ErrNoBuildings
	}

	start := truncateDay(now)
	end := start.AddDate(0, 0, e.Config.Schedule.HorizonDays)
	schedule := domain.Schedule{
		ID:          uuid.NewString(),
		CycleID:     cycle.ID,
		Name:        cycle.Name,
		Description: fmt.Sprintf("%s maintenance (%s)", cycle.DeviceType, cycle.Frequency),
		StartDate:   start,
		EndDate:     &end,
		Status:      domain.ScheduleStatusInProgress,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = e.inTx(ctx, func(tx *sql.Tx) error {
		// another expansion may have committed while buildings were listed
		if err := e.checkRecentSchedule(ctx, tx, cycleID, now, &exp); err != nil {
			return err
		}
		if err := e.Repo.InsertSchedule(ctx, tx, schedule); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, events.ScheduleCreated, "schedule", schedule.ID, actorID, events.EventPayload{
			"cycle_id":   cycle.ID,
			"start_date": start.Format(domain.DateLayout),
			"end_date":   end.Format(domain.DateLayout),
			"buildings":  len(buildings),
		})
	})
	if errors.Is(err, ErrRecentSchedule) {
		return exp, err
	}
	if err != nil {
		return exp, fmt.Errorf("create schedule: %w", err)
	}
	exp.Schedule = &schedule

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for _, b := range buildings {
		g.Go(func() error {
			job := domain.ScheduleJob{
				ID:         uuid.NewString(),
				ScheduleID: schedule.ID,
				BuildingID: b.ID,
				RunDate:    start,
				Status:     domain.JobStatusPending,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			err := e.insertJob(gctx, job, events.JobCreated, actorID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				exp.Failed++
				if exp.Errors == nil {
					exp.Errors = map[string]string{}
				}
				exp.Errors[b.ID] = err.Error()
				metrics.SweepUnits.WithLabelValues("expand", "failed").Inc()
				e.log().Warn("job creation failed", "cycle_id", cycle.ID, "schedule_id", schedule.ID, "building_id", b.ID, "err", err)
				return nil
			}
			exp.Created++
			metrics.JobsCreated.WithLabelValues("expansion").Inc()
			metrics.SweepUnits.WithLabelValues("expand", "created").Inc()
			return nil
		})
	}
	_ = g.Wait()

	if exp.Created == 0 {
		if err := e.Repo.UpdateScheduleStatus(ctx, nil, schedule.ID, domain.ScheduleStatusCancelled, e.now()); err != nil {
			e.log().Error("cancel empty schedule failed", "schedule_id", schedule.ID, "err", err)
		}
		schedule.Status = domain.ScheduleStatusCancelled
	}
	e.log().Info("cycle expanded", "cycle_id", cycle.ID, "schedule_id", schedule.ID, "jobs_created", exp.Created, "jobs_failed", exp.Failed)
	return exp, nil
}

// checkRecentSchedule fails with ErrRecentSchedule when the cycle's latest
// schedule is younger than the dedup window.
func (e Engine) checkRecentSchedule(ctx context.Context, tx *sql.Tx, cycleID string, now time.Time, exp *Expansion) error {
	window := e.Config.Schedule.DedupWindow()
	if window <= 0 {
		return nil
	}
	latest, err := e.Repo.LatestScheduleForCycleTx(ctx, tx, cycleID)
	switch {
	case err == nil:
		if now.Sub(latest.CreatedAt) < window {
			exp.Skipped = "recent schedule " + latest.ID
			return ErrRecentSchedule
		}
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return nil
	default:
		return fmt.Errorf("latest schedule: %w", err)
	}
}

func (e Engine) insertJob(ctx context.Context, job domain.ScheduleJob, evtType, actorID string) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertJob(ctx, tx, job); err != nil {
			return err
		}
		return e.writer().Append(ctx, tx, evtType, domain.OriginJob, job.ID, actorID, events.EventPayload{
			"schedule_id": job.ScheduleID,
			"building_id": job.BuildingID,
			"run_date":    job.RunDate.Format(domain.DateLayout),
		})
	})
}

// ExpandAll expands every cycle. Cycles expanded recently or with no
// buildings are skipped; other failures are logged and counted.
func (e Engine) ExpandAll(ctx context.Context, actorID string) (ExpansionReport, error) {
	ctx, span := tracer.Start(ctx, "workflow.ExpandAll")
	defer span.End()
	metrics.SweepRuns.WithLabelValues("expand").Inc()

	var report ExpansionReport
	cycles, err := e.Repo.ListCycles(ctx)
	if err != nil {
		return report, fmt.Errorf("list cycles: %w", err)
	}
	report.Cycles = len(cycles)
	for _, c := range cycles {
		exp, err := e.ExpandCycle(ctx, c.ID, actorID)
		switch {
		case err == nil:
			report.Expanded++
		case errors.Is(err, ErrRecentSchedule), errors.Is(err, ErrNoBuildings):
			report.Skipped++
		default:
			report.Failed++
			if exp.Errors == nil {
				exp.Errors = map[string]string{}
			}
			exp.Errors[c.ID] = err.Error()
			e.log().Warn("cycle expansion failed", "cycle_id", c.ID, "err", err)
		}
		report.Results = append(report.Results, exp)
	}
	e.log().Info("expansion sweep finished", "cycles", report.Cycles, "expanded", report.Expanded, "skipped", report.Skipped, "failed", report.Failed)
	return report, nil
}
