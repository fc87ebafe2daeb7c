package workflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"upkeep/internal/domain"
	"upkeep/internal/events"
	"upkeep/internal/metrics"
	"upkeep/internal/remote"
	"upkeep/internal/repo"
)

// resumeGrace keeps the resume sweep away from activations still provisioning.
// A provisioning claim untouched for this long is taken over.
const resumeGrace = 5 * time.Minute

// SweepReport summarizes one sweep. Errors is keyed by unit id.
type SweepReport struct {
	Sweep     string            `json:"sweep"`
	Due       int               `json:"due"`
	Activated int               `json:"activated"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
	Errors    map[string]string `json:"errors,omitempty"`
}

func (r *SweepReport) fail(id string, err error) {
	r.Failed++
	if r.Errors == nil {
		r.Errors = map[string]string{}
	}
	r.Errors[id] = err.Error()
}

// Activation is the outcome of activating one job.
type Activation struct {
	Job       domain.ScheduleJob `json:"job"`
	Provision ApiResponse        `json:"provision"`
}

// DueJobs selects Pending jobs whose run date falls on now's UTC day.
func DueJobs(now time.Time, jobs []domain.ScheduleJob) []domain.ScheduleJob {
	today := truncateDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	var due []domain.ScheduleJob
	for _, j := range jobs {
		if j.Status != domain.JobStatusPending {
			continue
		}
		if j.RunDate.Before(today) || !j.RunDate.Before(tomorrow) {
			continue
		}
		due = append(due, j)
	}
	sort.SliceStable(due, func(a, b int) bool { return due[a].ID < due[b].ID })
	return due
}

// ActivateDueJobs is the daily sweep. Each due job is activated independently;
// one job's failure never stops the others.
func (e Engine) ActivateDueJobs(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "workflow.ActivateDueJobs")
	defer span.End()
	metrics.SweepRuns.WithLabelValues("activate").Inc()

	report := SweepReport{Sweep: "activate"}
	now := e.now()
	today := truncateDay(now)
	tomorrow := today.AddDate(0, 0, 1)
	candidates, err := e.Repo.ListJobs(ctx, repo.JobFilters{Status: domain.JobStatusPending, From: &today, To: &tomorrow})
	if err != nil {
		return report, fmt.Errorf("list due jobs: %w", err)
	}
	due := DueJobs(now, candidates)
	report.Due = len(due)
	span.SetAttributes(attribute.Int("jobs.due", len(due)))

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for _, job := range due {
		g.Go(func() error {
			_, err := e.activate(gctx, job, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Activated++
				metrics.SweepUnits.WithLabelValues("activate", "activated").Inc()
			case errors.Is(err, ErrAlreadyActivated):
				report.Skipped++
				metrics.SweepUnits.WithLabelValues("activate", "skipped").Inc()
			default:
				report.fail(job.ID, err)
				metrics.SweepUnits.WithLabelValues("activate", "failed").Inc()
				e.log().Warn("job activation failed", "job_id", job.ID, "building_id", job.BuildingID, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	e.log().Info("activation sweep finished", "due", report.Due, "activated", report.Activated, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

// ActivateJob activates a single Pending job regardless of its run date.
func (e Engine) ActivateJob(ctx context.Context, jobID, actorID string) (Activation, error) {
	ctx, span := tracer.Start(ctx, "workflow.ActivateJob")
	span.SetAttributes(attribute.String("job.id", jobID))
	defer span.End()
	job, err := e.Repo.GetJob(ctx, jobID)
	if err != nil {
		return Activation{}, err
	}
	return e.activate(ctx, job, actorID)
}

// activate commits Pending->InProgress before any remote call, then provisions
// and notifies residents.
func (e Engine) activate(ctx context.Context, job domain.ScheduleJob, actorID string) (Activation, error) {
	now := e.now()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.TransitionJob(ctx, tx, job.ID, domain.JobStatusPending, domain.JobStatusInProgress, now)
		if err != nil {
			return err
		}
		if !ok {
			return ErrAlreadyActivated
		}
		return e.writer().Append(ctx, tx, events.JobActivated, domain.OriginJob, job.ID, actorID, events.EventPayload{
			"schedule_id": job.ScheduleID,
			"building_id": job.BuildingID,
			"run_date":    job.RunDate.Format(domain.DateLayout),
		})
	})
	if err != nil {
		return Activation{Job: job}, err
	}
	job.Status = domain.JobStatusInProgress
	job.UpdatedAt = now

	act := Activation{Job: job}
	schedule, cycle := e.jobContext(ctx, job)
	resp, perr := e.Provision(ctx, ProvisionRequest{Origin: jobOrigin(job, schedule, cycle), ActorID: actorID})
	act.Provision = resp

	e.notifyResidents(ctx, job, cycle)
	if perr != nil {
		return act, perr
	}
	return act, nil
}

// ResumeProvisioning finishes provisioning for jobs that were activated but
// never got a task and assignment, for example after a crash.
func (e Engine) ResumeProvisioning(ctx context.Context) (SweepReport, error) {
	ctx, span := tracer.Start(ctx, "workflow.ResumeProvisioning")
	defer span.End()
	metrics.SweepRuns.WithLabelValues("resume").Inc()

	report := SweepReport{Sweep: "resume"}
	ids, err := e.Repo.JobsAwaitingProvisioning(ctx, e.now().Add(-resumeGrace), 0)
	if err != nil {
		return report, fmt.Errorf("list jobs awaiting provisioning: %w", err)
	}
	report.Due = len(ids)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency())
	for _, id := range ids {
		g.Go(func() error {
			err := e.resumeJob(gctx, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				report.Activated++
				metrics.SweepUnits.WithLabelValues("resume", "provisioned").Inc()
			case errors.Is(err, ErrProvisioningInFlight):
				report.Skipped++
				metrics.SweepUnits.WithLabelValues("resume", "skipped").Inc()
			default:
				report.fail(id, err)
				metrics.SweepUnits.WithLabelValues("resume", "failed").Inc()
				e.log().Warn("resume provisioning failed", "job_id", id, "err", err)
			}
			return nil
		})
	}
	_ = g.Wait()
	e.log().Info("resume sweep finished", "due", report.Due, "provisioned", report.Activated, "failed", report.Failed, "skipped", report.Skipped)
	return report, nil
}

func (e Engine) resumeJob(ctx context.Context, id string) error {
	job, err := e.Repo.GetJob(ctx, id)
	if err != nil {
		return err
	}
	schedule, cycle := e.jobContext(ctx, job)
	_, err = e.Provision(ctx, ProvisionRequest{Origin: jobOrigin(job, schedule, cycle)})
	return err
}

// jobContext loads the job's schedule and cycle. Read failures degrade to zero values.
func (e Engine) jobContext(ctx context.Context, job domain.ScheduleJob) (domain.Schedule, domain.MaintenanceCycle) {
	schedule, err := e.Repo.GetSchedule(ctx, job.ScheduleID)
	if err != nil {
		e.log().Warn("schedule lookup failed", "job_id", job.ID, "schedule_id", job.ScheduleID, "err", err)
		return domain.Schedule{ID: job.ScheduleID}, domain.MaintenanceCycle{}
	}
	cycle, err := e.Repo.GetCycle(ctx, schedule.CycleID)
	if err != nil {
		e.log().Warn("cycle lookup failed", "job_id", job.ID, "cycle_id", schedule.CycleID, "err", err)
	}
	return schedule, cycle
}

func jobOrigin(job domain.ScheduleJob, schedule domain.Schedule, cycle domain.MaintenanceCycle) Origin {
	what := schedule.Name
	if what == "" {
		what = cycle.DeviceType
	}
	if what == "" {
		what = "Scheduled"
	}
	return Origin{
		Kind:        domain.OriginJob,
		ID:          job.ID,
		BuildingID:  job.BuildingID,
		Description: fmt.Sprintf("%s maintenance for building %s on %s", what, job.BuildingID, job.RunDate.Format(domain.DateLayout)),
	}
}

// notifyResidents emails every resident of the job's building. Lookup
// failures are logged and end the notification step only.
func (e Engine) notifyResidents(ctx context.Context, job domain.ScheduleJob, cycle domain.MaintenanceCycle) {
	if e.Notifier == nil {
		return
	}
	residents, err := e.Buildings.ListResidents(ctx, job.BuildingID)
	if err != nil {
		e.log().Warn("resident lookup failed, skipping notification", "job_id", job.ID, "building_id", job.BuildingID, "err", err)
		return
	}
	var buildingName string
	if b, err := e.Buildings.GetBuilding(ctx, job.BuildingID); err == nil {
		buildingName = b.Name
	} else if !remote.IsNotFound(err) {
		e.log().Debug("building lookup failed for notification", "building_id", job.BuildingID, "err", err)
	}
	window := ""
	if e.Config != nil {
		window = e.Config.Notifications.TimeWindow
	}
	for _, r := range residents {
		if r.Email == "" {
			continue
		}
		e.Notifier.SendMaintenanceEmail(ctx, remote.MaintenanceEmail{
			To:            r.Email,
			ResidentName:  r.Name,
			BuildingID:    job.BuildingID,
			BuildingName:  buildingName,
			Date:          job.RunDate.Format(domain.DateLayout),
			TimeWindow:    window,
			DeviceType:    cycle.DeviceType,
			ScheduleJobID: job.ID,
		})
	}
}
