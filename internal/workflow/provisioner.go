package workflow

import (
	"context"
	"database/sql"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"upkeep/internal/domain"
	"upkeep/internal/events"
	"upkeep/internal/metrics"
	"upkeep/internal/remote"
)

// Origin is the entity a task is provisioned for: a schedule job or a crack report.
type Origin struct {
	Kind        string
	ID          string
	BuildingID  string
	Description string
}

type ProvisionRequest struct {
	Origin Origin
	// ResponsibleID is the employee to assign; empty means the building manager.
	ResponsibleID string
	ActorID       string
}

type ProvisionResult struct {
	Task       domain.Task           `json:"task"`
	Assignment domain.TaskAssignment `json:"assignment"`
}

// ApiResponse is the provisioner's reply shape.
type ApiResponse struct {
	IsSuccess bool             `json:"isSuccess"`
	Message   string           `json:"message"`
	Data      *ProvisionResult `json:"data,omitempty"`
}

// PartialSagaFailure means the task exists but no assignment could be created.
// The task is left for manual reconciliation; the ledger keeps its id so a
// retry only repeats the assignment.
type PartialSagaFailure struct {
	Origin Origin
	Task   domain.Task
	Cause  error
}

func (p *PartialSagaFailure) Error() string {
	return fmt.Sprintf("task %s created for %s %s but assignment failed: %v", p.Task.ID, p.Origin.Kind, p.Origin.ID, p.Cause)
}

func (p *PartialSagaFailure) Unwrap() error { return p.Cause }

// Provision creates a task for the origin and assigns it. The origin's ledger
// row is claimed before any remote call, so concurrent callers cannot both
// create a task; the loser gets ErrProvisioningInFlight. Steps already
// recorded in the ledger are not repeated.
func (e Engine) Provision(ctx context.Context, req ProvisionRequest) (ApiResponse, error) {
	o := req.Origin
	ctx, span := tracer.Start(ctx, "workflow.Provision")
	span.SetAttributes(attribute.String("origin.kind", o.Kind), attribute.String("origin.id", o.ID))
	defer span.End()

	var (
		prior   domain.ProvisioningRecord
		claimed bool
	)
	now := e.now()
	err := e.inTx(ctx, func(tx *sql.Tx) error {
		var err error
		prior, claimed, err = e.Repo.ClaimProvisioning(ctx, tx, o.Kind, o.ID, now, now.Add(-resumeGrace))
		return err
	})
	if err != nil {
		return ApiResponse{Message: err.Error()}, fmt.Errorf("claim provisioning: %w", err)
	}
	if prior.Status == domain.ProvisionCompleted && prior.TaskID != nil && prior.AssignmentID != nil {
		res := ProvisionResult{
			Task: originTask(o, *prior.TaskID),
			Assignment: domain.TaskAssignment{
				ID:          *prior.AssignmentID,
				TaskID:      *prior.TaskID,
				Description: o.Description,
				Status:      domain.AssignmentStatusPending,
			},
		}
		if prior.EmployeeID != nil {
			res.Assignment.EmployeeID = *prior.EmployeeID
		}
		return ApiResponse{IsSuccess: true, Message: "already provisioned", Data: &res}, nil
	}
	if !claimed {
		err := fmt.Errorf("%w: %s %s", ErrProvisioningInFlight, o.Kind, o.ID)
		return ApiResponse{Message: err.Error()}, err
	}
	// ledger writes from here on must land even if the caller goes away
	lctx := context.WithoutCancel(ctx)

	var res ProvisionResult
	if prior.TaskID != nil {
		res.Task = originTask(o, *prior.TaskID)
	}
	responsible := req.ResponsibleID

	saga := Saga{Name: "provision", Logger: e.log(), Steps: []Step{
		{
			Name: "resolve_responsible",
			Skip: func() bool { return responsible != "" },
			Run: func(ctx context.Context) error {
				id, err := e.buildingManager(ctx, o.BuildingID)
				if err != nil {
					return err
				}
				responsible = id
				return nil
			},
		},
		{
			// no compensation: the task service has no safe delete
			Name: "create_task",
			Skip: func() bool { return res.Task.ID != "" },
			Run: func(ctx context.Context) error {
				task, err := e.Tasks.CreateTask(ctx, createTaskRequest(o))
				if err != nil {
					return err
				}
				res.Task = task
				id := task.ID
				rec := domain.ProvisioningRecord{OriginKind: o.Kind, OriginID: o.ID, TaskID: &id, Status: domain.ProvisionTaskCreated}
				if err := e.recordProvisioning(lctx, rec, events.ProvisionTaskCreated, req.ActorID); err != nil {
					e.log().Error("provisioning ledger write failed after task creation", "origin_kind", o.Kind, "origin_id", o.ID, "task_id", id, "err", err)
				}
				return nil
			},
		},
		{
			Name: "assign_task",
			Run: func(ctx context.Context) error {
				a, err := e.Tasks.AssignTask(ctx, remote.AssignTaskRequest{
					TaskID:      res.Task.ID,
					EmployeeID:  responsible,
					Description: o.Description,
					Status:      domain.AssignmentStatusPending,
				})
				if err != nil {
					return err
				}
				res.Assignment = a
				return nil
			},
		},
	}}

	if err := saga.Run(ctx); err != nil {
		span.RecordError(err)
		rec := domain.ProvisioningRecord{OriginKind: o.Kind, OriginID: o.ID, Status: domain.ProvisionFailed, Message: err.Error()}
		if responsible != "" {
			rec.EmployeeID = &responsible
		}
		if res.Task.ID == "" {
			metrics.SagaOutcomes.WithLabelValues("provision", "failed").Inc()
			if lerr := e.recordProvisioning(lctx, rec, events.ProvisionFailed, req.ActorID); lerr != nil {
				e.log().Error("provisioning ledger write failed", "origin_id", o.ID, "err", lerr)
			}
			return ApiResponse{Message: err.Error()}, err
		}
		taskID := res.Task.ID
		rec.TaskID = &taskID
		rec.Status = domain.ProvisionAssignmentFailed
		metrics.SagaOutcomes.WithLabelValues("provision", "partial").Inc()
		if lerr := e.recordProvisioning(lctx, rec, events.ProvisionPartial, req.ActorID); lerr != nil {
			e.log().Error("provisioning ledger write failed", "origin_id", o.ID, "task_id", taskID, "err", lerr)
		}
		e.notify(ctx, remote.SystemNotification{
			Title:      "Task left without assignment",
			Message:    fmt.Sprintf("Task %s for %s %s was created but could not be assigned: %v", taskID, o.Kind, o.ID, err),
			Severity:   "warning",
			EntityKind: "task",
			EntityID:   taskID,
		})
		partial := &PartialSagaFailure{Origin: o, Task: res.Task, Cause: err}
		return ApiResponse{Message: partial.Error(), Data: &res}, partial
	}

	taskID, assignmentID := res.Task.ID, res.Assignment.ID
	if res.Assignment.EmployeeID == "" {
		res.Assignment.EmployeeID = responsible
	}
	rec := domain.ProvisioningRecord{
		OriginKind:   o.Kind,
		OriginID:     o.ID,
		TaskID:       &taskID,
		AssignmentID: &assignmentID,
		EmployeeID:   &responsible,
		Status:       domain.ProvisionCompleted,
	}
	if err := e.recordProvisioning(lctx, rec, events.ProvisionCompleted, req.ActorID); err != nil {
		e.log().Error("provisioning ledger write failed", "origin_id", o.ID, "task_id", taskID, "err", err)
	}
	metrics.SagaOutcomes.WithLabelValues("provision", "completed").Inc()
	e.log().Info("task provisioned", "origin_kind", o.Kind, "origin_id", o.ID, "task_id", taskID, "assignment_id", assignmentID, "employee_id", responsible)
	return ApiResponse{IsSuccess: true, Message: "Task created and assigned", Data: &res}, nil
}

func (e Engine) buildingManager(ctx context.Context, buildingID string) (string, error) {
	b, err := e.Buildings.GetBuilding(ctx, buildingID)
	if err != nil {
		return "", err
	}
	if b.ManagerID == "" {
		return "", fmt.Errorf("building %s has no manager", buildingID)
	}
	return b.ManagerID, nil
}

func (e Engine) recordProvisioning(ctx context.Context, rec domain.ProvisioningRecord, evtType, actorID string) error {
	now := e.now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	return e.inTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.UpsertProvisioning(ctx, tx, rec); err != nil {
			return err
		}
		payload := events.EventPayload{"origin_kind": rec.OriginKind, "status": rec.Status}
		if rec.TaskID != nil {
			payload["task_id"] = *rec.TaskID
		}
		if rec.AssignmentID != nil {
			payload["assignment_id"] = *rec.AssignmentID
		}
		if rec.EmployeeID != nil {
			payload["employee_id"] = *rec.EmployeeID
		}
		if rec.Message != "" {
			payload["message"] = rec.Message
		}
		return e.writer().Append(ctx, tx, evtType, rec.OriginKind, rec.OriginID, actorID, payload)
	})
}

func createTaskRequest(o Origin) remote.CreateTaskRequest {
	id := o.ID
	req := remote.CreateTaskRequest{Description: o.Description, Status: domain.TaskStatusAssigned}
	switch o.Kind {
	case domain.OriginCrack:
		req.CrackID = &id
	default:
		req.ScheduleJobID = &id
	}
	return req
}

func originTask(o Origin, taskID string) domain.Task {
	req := createTaskRequest(o)
	return domain.Task{ID: taskID, Description: o.Description, Status: domain.TaskStatusAssigned, CrackID: req.CrackID, ScheduleJobID: req.ScheduleJobID}
}
