package remote

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"upkeep/internal/domain"
)

// Request/reply patterns understood by the platform services.
const (
	PatternCreateTask          = "CREATE_TASK"
	PatternAssignTask          = "ASSIGN_TASK_TO_EMPLOYEE"
	PatternGetBuilding         = "GET_BUILDING_BY_ID"
	PatternGetAllBuildings     = "GET_ALL_BUILDINGS"
	PatternGetResidents        = "GET_RESIDENTS_BY_BUILDING"
	PatternGetCrackReport      = "GET_CRACK_REPORT"
	PatternUpdateCrackStatus   = "UPDATE_CRACK_REPORT_STATUS"
	PatternSendMaintenanceMail = "SEND_MAINTENANCE_EMAIL"
	PatternSystemNotification  = "SYSTEM_NOTIFICATION"
)

// TaskService creates tasks and assigns them to employees.
type TaskService interface {
	CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error)
	AssignTask(ctx context.Context, req AssignTaskRequest) (domain.TaskAssignment, error)
}

// BuildingService reads buildings and their residents.
type BuildingService interface {
	GetBuilding(ctx context.Context, id string) (domain.Building, error)
	ListBuildings(ctx context.Context) ([]domain.Building, error)
	ListResidents(ctx context.Context, buildingID string) ([]domain.Resident, error)
}

// CrackService reads and updates crack reports.
type CrackService interface {
	GetCrackReport(ctx context.Context, id string) (domain.CrackReport, error)
	UpdateCrackReportStatus(ctx context.Context, id, status, verifiedBy string) (domain.CrackReport, error)
}

type CreateTaskRequest struct {
	Description   string  `json:"description"`
	Status        string  `json:"status"`
	CrackID       *string `json:"crack_id,omitempty"`
	ScheduleJobID *string `json:"schedule_job_id,omitempty"`
}

// Validate enforces that a task references exactly one origin.
func (r CreateTaskRequest) Validate() error {
	hasCrack := r.CrackID != nil && *r.CrackID != ""
	hasJob := r.ScheduleJobID != nil && *r.ScheduleJobID != ""
	if hasCrack == hasJob {
		return errors.New("task must reference exactly one of crack_id or schedule_job_id")
	}
	return nil
}

type AssignTaskRequest struct {
	TaskID      string `json:"task_id"`
	EmployeeID  string `json:"employee_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type updateCrackStatusRequest struct {
	Status     string `json:"status"`
	VerifiedBy string `json:"verified_by,omitempty"`
}

// TaskClient adapts the task service's HTTP API to TaskService.
type TaskClient struct {
	Client *Client
	// WriteTimeout applies to task writes; zero falls back to the client timeout.
	WriteTimeout time.Duration
}

func (t TaskClient) CreateTask(ctx context.Context, req CreateTaskRequest) (domain.Task, error) {
	var task domain.Task
	if err := req.Validate(); err != nil {
		return task, &Error{Target: t.Client.Target, Operation: PatternCreateTask, Kind: KindRejection, Cause: err}
	}
	err := t.Client.Call(ctx, Request{
		Pattern: PatternCreateTask,
		Method:  http.MethodPost,
		Path:    "/tasks",
		Body:    req,
		Timeout: t.WriteTimeout,
	}, &task)
	return task, err
}

func (t TaskClient) AssignTask(ctx context.Context, req AssignTaskRequest) (domain.TaskAssignment, error) {
	var a domain.TaskAssignment
	err := t.Client.Call(ctx, Request{
		Pattern: PatternAssignTask,
		Method:  http.MethodPost,
		Path:    "/tasks/" + url.PathEscape(req.TaskID) + "/assignments",
		Body:    req,
		Timeout: t.WriteTimeout,
	}, &a)
	return a, err
}

// BuildingClient adapts the building service's HTTP API to BuildingService.
type BuildingClient struct {
	Client *Client
}

func (b BuildingClient) GetBuilding(ctx context.Context, id string) (domain.Building, error) {
	var building domain.Building
	err := b.Client.Call(ctx, Request{Pattern: PatternGetBuilding, Path: "/buildings/" + url.PathEscape(id)}, &building)
	return building, err
}

func (b BuildingClient) ListBuildings(ctx context.Context) ([]domain.Building, error) {
	var buildings []domain.Building
	err := b.Client.Call(ctx, Request{Pattern: PatternGetAllBuildings, Path: "/buildings"}, &buildings)
	return buildings, err
}

func (b BuildingClient) ListResidents(ctx context.Context, buildingID string) ([]domain.Resident, error) {
	var residents []domain.Resident
	err := b.Client.Call(ctx, Request{Pattern: PatternGetResidents, Path: "/buildings/" + url.PathEscape(buildingID) + "/residents"}, &residents)
	return residents, err
}

// CrackClient adapts the crack service's HTTP API to CrackService.
type CrackClient struct {
	Client *Client
}

func (c CrackClient) GetCrackReport(ctx context.Context, id string) (domain.CrackReport, error) {
	var report domain.CrackReport
	err := c.Client.Call(ctx, Request{Pattern: PatternGetCrackReport, Path: "/crack-reports/" + url.PathEscape(id)}, &report)
	return report, err
}

func (c CrackClient) UpdateCrackReportStatus(ctx context.Context, id, status, verifiedBy string) (domain.CrackReport, error) {
	var report domain.CrackReport
	err := c.Client.Call(ctx, Request{
		Pattern: PatternUpdateCrackStatus,
		Method:  http.MethodPatch,
		Path:    "/crack-reports/" + url.PathEscape(id) + "/status",
		Body:    updateCrackStatusRequest{Status: status, VerifiedBy: verifiedBy},
	}, &report)
	return report, err
}
