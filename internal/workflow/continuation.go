package workflow

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"upkeep/internal/domain"
	"upkeep/internal/events"
	"upkeep/internal/metrics"
)

// NextRunDate advances runDate by one frequency step. Month and year steps
// clamp to the last day of the target month.
func NextRunDate(runDate time.Time, freq domain.Frequency) (time.Time, error) {
	switch freq {
	case domain.Daily:
		return runDate.AddDate(0, 0, 1), nil
	case domain.Weekly:
		return runDate.AddDate(0, 0, 7), nil
	case domain.Monthly:
		return addMonthsClamped(runDate, 1), nil
	case domain.Yearly:
		return addMonthsClamped(runDate, 12), nil
	}
	return time.Time{}, fmt.Errorf("unknown frequency %q", freq)
}

func addMonthsClamped(t time.Time, months int) time.Time {
	first := time.Date(t.Year(), t.Month(), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	target := first.AddDate(0, months, 0)
	lastDay := target.AddDate(0, 1, -1).Day()
	day := t.Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(target.Year(), target.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Completion is the outcome of completing a job.
type Completion struct {
	Job            domain.ScheduleJob  `json:"job"`
	Successor      *domain.ScheduleJob `json:"successor,omitempty"`
	ScheduleStatus string              `json:"schedule_status"`
	// AlreadyCompleted is set when the job was completed before this call.
	AlreadyCompleted bool `json:"already_completed,omitempty"`
}

// CompleteJob moves an InProgress job to Completed and creates at most one
// successor, unless the successor would run after the schedule's end date.
// Completing an already completed job is a no-op.
func (e Engine) CompleteJob(ctx context.Context, jobID, actorID string) (Completion, error) {
	ctx, span := tracer.Start(ctx, "workflow.CompleteJob")
	span.SetAttributes(attribute.String("job.id", jobID))
	defer span.End()

	var out Completion
	now := e.now()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		job, err := e.Repo.GetJobTx(ctx, tx, jobID)
		if err != nil {
			return err
		}
		schedule, err := e.Repo.GetScheduleTx(ctx, tx, job.ScheduleID)
		if err != nil {
			return fmt.Errorf("schedule %s: %w", job.ScheduleID, err)
		}
		out.Job = job
		out.ScheduleStatus = schedule.Status
		switch job.Status {
		case domain.JobStatusCompleted:
			out.AlreadyCompleted = true
			return nil
		case domain.JobStatusInProgress:
		default:
			return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, jobID, job.Status)
		}
		ok, err := e.Repo.TransitionJob(ctx, tx, jobID, domain.JobStatusInProgress, domain.JobStatusCompleted, now)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: job %s changed concurrently", ErrInvalidTransition, jobID)
		}
		out.Job.Status = domain.JobStatusCompleted
		out.Job.UpdatedAt = now
		if err := e.writer().Append(ctx, tx, events.JobCompleted, domain.OriginJob, jobID, actorID, events.EventPayload{
			"schedule_id": job.ScheduleID,
			"building_id": job.BuildingID,
		}); err != nil {
			return err
		}

		successor, err := e.continueJob(ctx, tx, out.Job, schedule, actorID, now)
		if err != nil {
			return err
		}
		out.Successor = successor
		out.Job.SuccessionCreated = true

		status, err := e.reconcileTx(ctx, tx, schedule, actorID, now)
		if err != nil {
			return err
		}
		out.ScheduleStatus = status
		return nil
	})
	if err != nil {
		return Completion{}, err
	}
	if out.Successor != nil {
		metrics.JobsCreated.WithLabelValues("succession").Inc()
		e.log().Info("successor job created", "job_id", jobID, "successor_id", out.Successor.ID, "run_date", out.Successor.RunDate.Format(domain.DateLayout))
	}
	return out, nil
}

// continueJob claims the job's succession flag and inserts the successor.
// It returns nil when the flag was already claimed or the schedule has ended.
func (e Engine) continueJob(ctx context.Context, tx *sql.Tx, job domain.ScheduleJob, schedule domain.Schedule, actorID string, now time.Time) (*domain.ScheduleJob, error) {
	claimed, err := e.Repo.MarkSuccessionCreated(ctx, tx, job.ID, now)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, nil
	}
	if schedule.Status == domain.ScheduleStatusCancelled {
		return nil, nil
	}
	cycle, err := e.Repo.GetCycleTx(ctx, tx, schedule.CycleID)
	if err != nil {
		return nil, fmt.Errorf("cycle %s: %w", schedule.CycleID, err)
	}
	next, err := NextRunDate(job.RunDate, cycle.Frequency)
	if err != nil {
		return nil, err
	}
	if schedule.EndDate != nil && next.After(*schedule.EndDate) {
		e.log().Info("schedule reached its end date", "schedule_id", schedule.ID, "job_id", job.ID, "next_run_date", next.Format(domain.DateLayout))
		return nil, nil
	}
	successor := domain.ScheduleJob{
		ID:         uuid.NewString(),
		ScheduleID: schedule.ID,
		BuildingID: job.BuildingID,
		RunDate:    next,
		Status:     domain.JobStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.Repo.InsertJob(ctx, tx, successor); err != nil {
		return nil, err
	}
	if err := e.writer().Append(ctx, tx, events.JobSuccessorCreated, domain.OriginJob, successor.ID, actorID, events.EventPayload{
		"predecessor_id": job.ID,
		"schedule_id":    schedule.ID,
		"building_id":    job.BuildingID,
		"run_date":       next.Format(domain.DateLayout),
	}); err != nil {
		return nil, err
	}
	return &successor, nil
}

// ReconcileSchedule derives a schedule's status from its jobs.
func (e Engine) ReconcileSchedule(ctx context.Context, scheduleID, actorID string) (domain.Schedule, error) {
	var out domain.Schedule
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		s, err := e.Repo.GetScheduleTx(ctx, tx, scheduleID)
		if err != nil {
			return err
		}
		status, err := e.reconcileTx(ctx, tx, s, actorID, e.now())
		if err != nil {
			return err
		}
		s.Status = status
		out = s
		return nil
	})
	return out, err
}

// reconcileTx completes an InProgress schedule once no job is open and
// promotes a Pending schedule that has open jobs. Terminal schedules are left alone.
func (e Engine) reconcileTx(ctx context.Context, tx *sql.Tx, s domain.Schedule, actorID string, now time.Time) (string, error) {
	if s.Status == domain.ScheduleStatusCompleted || s.Status == domain.ScheduleStatusCancelled {
		return s.Status, nil
	}
	open, err := e.Repo.CountOpenJobs(ctx, tx, s.ID)
	if err != nil {
		return s.Status, err
	}
	next := s.Status
	switch {
	case open == 0 && s.Status == domain.ScheduleStatusInProgress:
		next = domain.ScheduleStatusCompleted
	case open > 0 && s.Status == domain.ScheduleStatusPending:
		next = domain.ScheduleStatusInProgress
	}
	if next == s.Status {
		return next, nil
	}
	if err := e.Repo.UpdateScheduleStatus(ctx, tx, s.ID, next, now); err != nil {
		return s.Status, err
	}
	if next == domain.ScheduleStatusCompleted {
		if err := e.writer().Append(ctx, tx, events.ScheduleCompleted, "schedule", s.ID, actorID, nil); err != nil {
			return s.Status, err
		}
	}
	return next, nil
}
