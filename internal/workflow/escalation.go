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

// Escalation is the outcome of escalating a crack report.
type Escalation struct {
	Report    domain.CrackReport `json:"report"`
	ManagerID string             `json:"manager_id"`
	Provision ApiResponse        `json:"provision"`
}

// EscalateCrack moves a Pending crack report to InProgress. The task and
// assignment are provisioned first and the report status is written last, so
// any failure leaves the report Pending and the escalation can be retried.
func (e Engine) EscalateCrack(ctx context.Context, reportID, managerID, actorID string) (Escalation, error) {
	ctx, span := tracer.Start(ctx, "workflow.EscalateCrack")
	span.SetAttributes(attribute.String("crack.id", reportID))
	defer span.End()

	out := Escalation{ManagerID: managerID}
	var report domain.CrackReport
	saga := Saga{Name: "crack_escalation", Logger: e.log(), Steps: []Step{
		{
			Name: "read_report",
			Run: func(ctx context.Context) error {
				r, err := e.Cracks.GetCrackReport(ctx, reportID)
				if err != nil {
					return err
				}
				if r.Status != domain.CrackStatusPending {
					return fmt.Errorf("%w: report %s is %s", ErrNotPending, reportID, r.Status)
				}
				report = r
				return nil
			},
		},
		{
			Name: "resolve_manager",
			Skip: func() bool { return out.ManagerID != "" },
			Run: func(ctx context.Context) error {
				id, err := e.buildingManager(ctx, report.BuildingID)
				if err != nil {
					return err
				}
				out.ManagerID = id
				return nil
			},
		},
		{
			Name: "provision",
			Run: func(ctx context.Context) error {
				resp, err := e.Provision(ctx, ProvisionRequest{
					Origin: Origin{
						Kind:        domain.OriginCrack,
						ID:          reportID,
						BuildingID:  report.BuildingID,
						Description: crackTaskDescription(report),
					},
					ResponsibleID: out.ManagerID,
					ActorID:       actorID,
				})
				out.Provision = resp
				return err
			},
		},
		{
			Name: "mark_in_progress",
			Run: func(ctx context.Context) error {
				updated, err := e.Cracks.UpdateCrackReportStatus(ctx, reportID, domain.CrackStatusInProgress, out.ManagerID)
				if err != nil {
					return err
				}
				report = updated
				return nil
			},
		},
	}}

	err := saga.Run(ctx)
	out.Report = report
	if err != nil {
		span.RecordError(err)
		metrics.SagaOutcomes.WithLabelValues("crack_escalation", "failed").Inc()
		if lerr := e.recordEscalation(ctx, events.CrackEscalationFailed, reportID, actorID, events.EventPayload{
			"step":  FailedStep(err),
			"error": err.Error(),
		}); lerr != nil {
			e.log().Error("escalation event write failed", "report_id", reportID, "err", lerr)
		}
		e.log().Warn("crack escalation failed, report left pending", "report_id", reportID, "step", FailedStep(err), "err", err)
		return out, err
	}

	metrics.SagaOutcomes.WithLabelValues("crack_escalation", "completed").Inc()
	payload := events.EventPayload{"manager_id": out.ManagerID}
	if d := out.Provision.Data; d != nil {
		payload["task_id"] = d.Task.ID
		payload["assignment_id"] = d.Assignment.ID
	}
	if lerr := e.recordEscalation(ctx, events.CrackEscalated, reportID, actorID, payload); lerr != nil {
		e.log().Error("escalation event write failed", "report_id", reportID, "err", lerr)
	}
	e.notify(ctx, remote.SystemNotification{
		Title:       "Crack report escalated",
		Message:     fmt.Sprintf("Crack report %s in building %s is now being fixed", reportID, report.BuildingID),
		Severity:    "info",
		EntityKind:  "crack",
		EntityID:    reportID,
		RecipientID: out.ManagerID,
	})
	e.log().Info("crack escalated", "report_id", reportID, "manager_id", out.ManagerID)
	return out, nil
}

func (e Engine) recordEscalation(ctx context.Context, evtType, reportID, actorID string, payload events.EventPayload) error {
	return e.inTx(ctx, func(tx *sql.Tx) error {
		return e.writer().Append(ctx, tx, evtType, domain.OriginCrack, reportID, actorID, payload)
	})
}

func crackTaskDescription(r domain.CrackReport) string {
	if r.Description == "" {
		return fmt.Sprintf("Fix crack %s in building %s", r.ID, r.BuildingID)
	}
	return fmt.Sprintf("Fix crack in building %s: %s", r.BuildingID, r.Description)
}
