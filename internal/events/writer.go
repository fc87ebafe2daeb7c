package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Event types written by the orchestrator.
const (
	CycleCreated          = "cycle.created"
	ScheduleCreated       = "schedule.created"
	ScheduleCompleted     = "schedule.completed"
	JobCreated            = "job.created"
	JobActivated          = "job.activated"
	JobCompleted          = "job.completed"
	JobSuccessorCreated   = "job.successor_created"
	ProvisionTaskCreated  = "provision.task_created"
	ProvisionCompleted    = "provision.completed"
	ProvisionPartial      = "provision.assignment_failed"
	ProvisionFailed       = "provision.failed"
	CrackEscalated        = "crack.escalated"
	CrackEscalationFailed = "crack.escalation_failed"
)

// SystemActor is recorded for changes made by sweeps rather than operators.
const SystemActor = "scheduler"

type Writer struct {
	Now func() time.Time
}

type EventPayload map[string]any

// Append writes one event row inside tx so it commits with the change it describes.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	if actorID == "" {
		actorID = SystemActor
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
