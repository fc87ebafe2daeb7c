package workflow_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/domain"
	"upkeep/internal/migrate"
	"upkeep/internal/remote"
	"upkeep/internal/workflow"
)

func rejection(op, msg string) error {
	return &remote.Error{Target: "task", Operation: op, Kind: remote.KindRejection, Message: msg}
}

type fakeTasks struct {
	mu         sync.Mutex
	created    []remote.CreateTaskRequest
	assigned   []remote.AssignTaskRequest
	failCreate func(remote.CreateTaskRequest) error
	failAssign func(remote.AssignTaskRequest) error
	nextID     int

	// createDelay stretches CreateTask so concurrent callers overlap.
	createDelay time.Duration
}

func (f *fakeTasks) CreateTask(_ context.Context, req remote.CreateTaskRequest) (domain.Task, error) {
	time.Sleep(f.createDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreate != nil {
		if err := f.failCreate(req); err != nil {
			return domain.Task{}, err
		}
	}
	f.nextID++
	f.created = append(f.created, req)
	return domain.Task{
		ID:            fmt.Sprintf("task-%d", f.nextID),
		Description:   req.Description,
		Status:        req.Status,
		CrackID:       req.CrackID,
		ScheduleJobID: req.ScheduleJobID,
	}, nil
}

func (f *fakeTasks) AssignTask(_ context.Context, req remote.AssignTaskRequest) (domain.TaskAssignment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.assigned = append(f.assigned, req)
	if f.failAssign != nil {
		if err := f.failAssign(req); err != nil {
			return domain.TaskAssignment{}, err
		}
	}
	return domain.TaskAssignment{
		ID:          "assign-" + req.TaskID,
		TaskID:      req.TaskID,
		EmployeeID:  req.EmployeeID,
		Description: req.Description,
		Status:      req.Status,
	}, nil
}

func (f *fakeTasks) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created)
}

func (f *fakeTasks) assignCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.assigned)
}

type fakeBuildings struct {
	mu           sync.Mutex
	buildings    []domain.Building
	residents    map[string][]domain.Resident
	listErr      error
	listDelay    time.Duration
	residentsErr error
}

func (f *fakeBuildings) GetBuilding(_ context.Context, id string) (domain.Building, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, b := range f.buildings {
		if b.ID == id {
			return b, nil
		}
	}
	return domain.Building{}, &remote.Error{Target: "building", Operation: remote.PatternGetBuilding, Kind: remote.KindRejection, StatusCode: 404, Message: "building not found"}
}

func (f *fakeBuildings) ListBuildings(context.Context) ([]domain.Building, error) {
	time.Sleep(f.listDelay)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.Building(nil), f.buildings...), nil
}

func (f *fakeBuildings) ListResidents(_ context.Context, buildingID string) ([]domain.Resident, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.residentsErr != nil {
		return nil, f.residentsErr
	}
	return f.residents[buildingID], nil
}

type fakeCracks struct {
	mu        sync.Mutex
	reports   map[string]domain.CrackReport
	updateErr error
	updates   int
}

func (f *fakeCracks) GetCrackReport(_ context.Context, id string) (domain.CrackReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.reports[id]
	if !ok {
		return r, &remote.Error{Target: "crack", Operation: remote.PatternGetCrackReport, Kind: remote.KindRejection, StatusCode: 404}
	}
	return r, nil
}

func (f *fakeCracks) UpdateCrackReportStatus(_ context.Context, id, status, verifiedBy string) (domain.CrackReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.updateErr != nil {
		return domain.CrackReport{}, f.updateErr
	}
	r := f.reports[id]
	r.Status = status
	r.VerifiedBy = &verifiedBy
	f.reports[id] = r
	return r, nil
}

func (f *fakeCracks) status(id string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reports[id].Status
}

type fakeNotifier struct {
	mu     sync.Mutex
	emails []remote.MaintenanceEmail
	system []remote.SystemNotification
}

func (f *fakeNotifier) SendMaintenanceEmail(_ context.Context, email remote.MaintenanceEmail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emails = append(f.emails, email)
}

func (f *fakeNotifier) Notify(_ context.Context, n remote.SystemNotification) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, n)
}

type harness struct {
	engine    workflow.Engine
	tasks     *fakeTasks
	buildings *fakeBuildings
	cracks    *fakeCracks
	notifier  *fakeNotifier
	clock     *time.Time
}

func (h *harness) setNow(t time.Time) { *h.clock = t }

func newHarness(t *testing.T, now time.Time) *harness {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	h := &harness{
		tasks: &fakeTasks{},
		buildings: &fakeBuildings{
			buildings: []domain.Building{
				{ID: "A", Name: "Alder", ManagerID: "mgr-a"},
				{ID: "B", Name: "Birch", ManagerID: "mgr-b"},
				{ID: "C", Name: "Cedar", ManagerID: "mgr-c"},
			},
			residents: map[string][]domain.Resident{},
		},
		cracks:   &fakeCracks{reports: map[string]domain.CrackReport{}},
		notifier: &fakeNotifier{},
		clock:    &now,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.engine = workflow.New(conn, config.Default(), workflow.Services{
		Tasks:     h.tasks,
		Buildings: h.buildings,
		Cracks:    h.cracks,
		Notifier:  h.notifier,
	}, logger)
	h.engine.Now = func() time.Time { return *h.clock }
	return h
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func forBuilding(id string) func(remote.CreateTaskRequest) error {
	return func(req remote.CreateTaskRequest) error {
		if strings.Contains(req.Description, "building "+id+" ") {
			return rejection(remote.PatternCreateTask, "task service unavailable for "+id)
		}
		return nil
	}
}
