package server

import (
	"encoding/json"

	"upkeep/internal/domain"
	"upkeep/internal/scheduler"
	"upkeep/internal/workflow"
)

type CycleCreateRequest struct {
	ID         string `json:"cycle_id,omitempty"`
	Name       string `json:"name,omitempty"`
	DeviceType string `json:"device_type" minLength:"1"`
	Frequency  string `json:"frequency" enum:"Daily,Weekly,Monthly,Yearly"`
	Basis      string `json:"basis,omitempty"`
}

type EscalateRequest struct {
	// ManagerID overrides the building manager lookup.
	ManagerID string `json:"manager_id,omitempty"`
}

type SweepResponse struct {
	Sweep      string                    `json:"sweep"`
	Activation *workflow.SweepReport     `json:"activation,omitempty"`
	Expansion  *workflow.ExpansionReport `json:"expansion,omitempty"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload,omitempty"`
	PayloadRaw string         `json:"payload_raw,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	resp := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(evt.Payload), &payload); err == nil {
			resp.Payload = payload
		} else {
			resp.PayloadRaw = evt.Payload
		}
	}
	return resp
}

type CycleList struct {
	Items []domain.MaintenanceCycle `json:"items"`
}

type ScheduleList struct {
	Items []domain.Schedule `json:"items"`
}

type JobList struct {
	Items []domain.ScheduleJob `json:"items"`
}

type ProvisioningList struct {
	Items []domain.ProvisioningRecord `json:"items"`
}

type EventList struct {
	Items []EventResponse `json:"items"`
}

type SchedulerStatus struct {
	Enabled bool                `json:"enabled"`
	Sweeps  []scheduler.NextRun `json:"sweeps"`
}

// ScheduleDetail is a schedule with its per-status job counts.
type ScheduleDetail struct {
	domain.Schedule
	Jobs map[string]int `json:"jobs"`
}
