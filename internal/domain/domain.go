package domain

import "time"

// Frequency is how often a maintenance cycle recurs.
type Frequency string

const (
	Daily   Frequency = "Daily"
	Weekly  Frequency = "Weekly"
	Monthly Frequency = "Monthly"
	Yearly  Frequency = "Yearly"
)

func (f Frequency) Valid() bool {
	switch f {
	case Daily, Weekly, Monthly, Yearly:
		return true
	}
	return false
}

const (
	ScheduleStatusPending    = "Pending"
	ScheduleStatusInProgress = "InProgress"
	ScheduleStatusCompleted  = "Completed"
	ScheduleStatusCancelled  = "Cancelled"
)

const (
	JobStatusPending    = "Pending"
	JobStatusInProgress = "InProgress"
	JobStatusCompleted  = "Completed"
)

const (
	CrackStatusPending    = "Pending"
	CrackStatusInProgress = "InProgress"
	CrackStatusResolved   = "Resolved"
	CrackStatusRejected   = "Rejected"
)

const (
	TaskStatusAssigned  = "Assigned"
	TaskStatusInFixing  = "InFixing"
	TaskStatusFixed     = "Fixed"
	TaskStatusCompleted = "Completed"
)

const (
	AssignmentStatusPending      = "Pending"
	AssignmentStatusInFixing     = "InFixing"
	AssignmentStatusFixed        = "Fixed"
	AssignmentStatusReassigned   = "Reassigned"
	AssignmentStatusNotCompleted = "NotCompleted"
)

// DateLayout is the storage and wire format of run dates.
const DateLayout = "2006-01-02"

// MaintenanceCycle is an operator-defined template; the orchestrator never mutates it.
type MaintenanceCycle struct {
	ID         string    `json:"cycle_id"`
	Name       string    `json:"name"`
	DeviceType string    `json:"device_type"`
	Frequency  Frequency `json:"frequency" enum:"Daily,Weekly,Monthly,Yearly"`
	Basis      string    `json:"basis"`
	CreatedAt  time.Time `json:"created_at" format:"date-time"`
}

// Schedule groups the jobs produced by one expansion of a cycle.
type Schedule struct {
	ID          string     `json:"schedule_id"`
	CycleID     string     `json:"cycle_id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     *time.Time `json:"end_date,omitempty"`
	Status      string     `json:"status" enum:"Pending,InProgress,Completed,Cancelled"`
	CreatedAt   time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt   time.Time  `json:"updated_at" format:"date-time"`
}

// ScheduleJob is one building's maintenance occurrence under a schedule.
type ScheduleJob struct {
	ID                string    `json:"schedule_job_id"`
	ScheduleID        string    `json:"schedule_id"`
	BuildingID        string    `json:"building_id"`
	RunDate           time.Time `json:"run_date"`
	Status            string    `json:"status" enum:"Pending,InProgress,Completed"`
	SuccessionCreated bool      `json:"succession_created"`
	CreatedAt         time.Time `json:"created_at" format:"date-time"`
	UpdatedAt         time.Time `json:"updated_at" format:"date-time"`
}

// CrackReport is owned by the crack service.
type CrackReport struct {
	ID          string  `json:"report_id"`
	BuildingID  string  `json:"building_id"`
	Description string  `json:"description"`
	Status      string  `json:"status"`
	ReportedBy  string  `json:"reported_by"`
	VerifiedBy  *string `json:"verified_by,omitempty"`
}

// Task is owned by the task service. Exactly one of CrackID and ScheduleJobID is set.
type Task struct {
	ID            string  `json:"task_id"`
	Description   string  `json:"description"`
	Status        string  `json:"status"`
	CrackID       *string `json:"crack_id,omitempty"`
	ScheduleJobID *string `json:"schedule_job_id,omitempty"`
}

type TaskAssignment struct {
	ID          string `json:"assignment_id"`
	TaskID      string `json:"task_id"`
	EmployeeID  string `json:"employee_id"`
	Description string `json:"description"`
	Status      string `json:"status"`
}

type Building struct {
	ID        string `json:"building_id"`
	Name      string `json:"name"`
	AreaID    string `json:"area_id,omitempty"`
	ManagerID string `json:"manager_id,omitempty"`
}

type Resident struct {
	ID    string `json:"resident_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Origin kinds for provisioning.
const (
	OriginJob   = "job"
	OriginCrack = "crack"
)

// Provisioning ledger statuses.
const (
	ProvisionInFlight         = "in_flight"
	ProvisionTaskCreated      = "task_created"
	ProvisionCompleted        = "completed"
	ProvisionAssignmentFailed = "assignment_failed"
	ProvisionFailed           = "failed"
)

// ProvisioningRecord tracks task/assignment creation for one origin entity.
type ProvisioningRecord struct {
	OriginKind   string    `json:"origin_kind"`
	OriginID     string    `json:"origin_id"`
	TaskID       *string   `json:"task_id,omitempty"`
	AssignmentID *string   `json:"assignment_id,omitempty"`
	EmployeeID   *string   `json:"employee_id,omitempty"`
	Status       string    `json:"status"`
	Message      string    `json:"message,omitempty"`
	Attempts     int       `json:"attempts"`
	CreatedAt    time.Time `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
