package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkeep/internal/config"
	"upkeep/internal/db"
	"upkeep/internal/domain"
	"upkeep/internal/migrate"
	"upkeep/internal/remote"
	"upkeep/internal/scheduler"
	"upkeep/internal/workflow"
)

type stubTasks struct {
	mu        sync.Mutex
	next      int
	assignErr error
}

func (s *stubTasks) CreateTask(_ context.Context, req remote.CreateTaskRequest) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	return domain.Task{ID: fmt.Sprintf("task-%d", s.next), Description: req.Description, Status: req.Status, CrackID: req.CrackID, ScheduleJobID: req.ScheduleJobID}, nil
}

func (s *stubTasks) AssignTask(_ context.Context, req remote.AssignTaskRequest) (domain.TaskAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assignErr != nil {
		return domain.TaskAssignment{}, s.assignErr
	}
	return domain.TaskAssignment{ID: "as-" + req.TaskID, TaskID: req.TaskID, EmployeeID: req.EmployeeID, Status: req.Status}, nil
}

type stubBuildings struct{}

func (stubBuildings) GetBuilding(_ context.Context, id string) (domain.Building, error) {
	return domain.Building{ID: id, Name: "Building " + id, ManagerID: "mgr-" + id}, nil
}

func (stubBuildings) ListBuildings(context.Context) ([]domain.Building, error) {
	return []domain.Building{{ID: "A", Name: "Alder", ManagerID: "mgr-A"}}, nil
}

func (stubBuildings) ListResidents(context.Context, string) ([]domain.Resident, error) {
	return nil, nil
}

type stubCracks struct {
	mu      sync.Mutex
	reports map[string]domain.CrackReport
}

func (s *stubCracks) GetCrackReport(_ context.Context, id string) (domain.CrackReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	if !ok {
		return r, &remote.Error{Target: "crack", Operation: remote.PatternGetCrackReport, Kind: remote.KindRejection, StatusCode: http.StatusNotFound, Message: "report not found"}
	}
	return r, nil
}

func (s *stubCracks) UpdateCrackReportStatus(_ context.Context, id, status, verifiedBy string) (domain.CrackReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reports[id]
	r.Status = status
	r.VerifiedBy = &verifiedBy
	s.reports[id] = r
	return r, nil
}

type nopNotifier struct{}

func (nopNotifier) SendMaintenanceEmail(context.Context, remote.MaintenanceEmail) {}
func (nopNotifier) Notify(context.Context, remote.SystemNotification)             {}

type testServer struct {
	URL    string
	client *http.Client
	tasks  *stubTasks
	cracks *stubCracks
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T, auth AuthConfig) *testServer {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	_, err = migrate.Migrate(conn)
	require.NoError(t, err)

	tasks := &stubTasks{}
	cracks := &stubCracks{reports: map[string]domain.CrackReport{
		"cr-1": {ID: "cr-1", BuildingID: "A", Description: "stairwell crack", Status: domain.CrackStatusPending},
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	e := workflow.New(conn, config.Default(), workflow.Services{
		Tasks:     tasks,
		Buildings: stubBuildings{},
		Cracks:    cracks,
		Notifier:  nopNotifier{},
	}, logger)
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return now }

	auth.Logger = logger
	handler, err := New(Config{Engine: e, BasePath: "/v0", Auth: auth})
	require.NoError(t, err)
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	ts := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		tasks:  tasks,
		cracks: cracks,
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	t.Cleanup(ts.Close)
	return ts
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, data
}

func decodeError(t *testing.T, data []byte) apiErrorBody {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(data, &env), string(data))
	return env.Error
}

func TestCycleToCompletionOverHTTP(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles", map[string]any{
		"device_type": "elevator",
		"frequency":   "Monthly",
	}, map[string]string{"X-Actor-Id": "ops-1"})
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))
	var cycle domain.MaintenanceCycle
	require.NoError(t, json.Unmarshal(data, &cycle))
	require.NotEmpty(t, cycle.ID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles/"+cycle.ID+"/expand", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var exp workflow.Expansion
	require.NoError(t, json.Unmarshal(data, &exp))
	require.NotNil(t, exp.Schedule)
	assert.Equal(t, 1, exp.Created)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles/"+cycle.ID+"/expand", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "recent_schedule", decodeError(t, data).Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/schedules/"+exp.Schedule.ID+"/jobs", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var jobs JobList
	require.NoError(t, json.Unmarshal(data, &jobs))
	require.Len(t, jobs.Items, 1)
	jobID := jobs.Items[0].ID

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+jobID+"/complete", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "invalid_transition", decodeError(t, data).Code)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+jobID+"/activate", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var act workflow.Activation
	require.NoError(t, json.Unmarshal(data, &act))
	assert.True(t, act.Provision.IsSuccess)
	require.NotNil(t, act.Provision.Data)
	assert.Equal(t, "mgr-A", act.Provision.Data.Assignment.EmployeeID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+jobID+"/activate", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "already_activated", decodeError(t, data).Code)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/jobs/"+jobID+"/provisioning", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var rec domain.ProvisioningRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, domain.ProvisionCompleted, rec.Status)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/jobs/"+jobID+"/complete", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var done workflow.Completion
	require.NoError(t, json.Unmarshal(data, &done))
	require.NotNil(t, done.Successor)
	assert.Equal(t, "2025-04-10", done.Successor.RunDate.Format(domain.DateLayout))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?entity_kind=cycle", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts EventList
	require.NoError(t, json.Unmarshal(data, &evts))
	require.Len(t, evts.Items, 1)
	assert.Equal(t, "ops-1", evts.Items[0].ActorID)
	assert.Equal(t, "elevator", evts.Items[0].Payload["device_type"])
}

func TestEscalateCrackErrors(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cracks/missing/escalate", nil, nil)
	require.Equal(t, http.StatusNotFound, res.StatusCode, string(data))

	srv.tasks.assignErr = &remote.Error{Target: "task", Operation: remote.PatternAssignTask, Kind: remote.KindRejection, StatusCode: http.StatusBadRequest, Message: "employee unavailable"}
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cracks/cr-1/escalate", map[string]any{"manager_id": "mgr-9"}, nil)
	require.Equal(t, http.StatusBadGateway, res.StatusCode, string(data))
	apiErr := decodeError(t, data)
	assert.Equal(t, "partial_saga_failure", apiErr.Code)
	assert.Equal(t, "task-1", apiErr.Details["task_id"])

	srv.tasks.assignErr = nil
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cracks/cr-1/escalate", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var esc workflow.Escalation
	require.NoError(t, json.Unmarshal(data, &esc))
	assert.Equal(t, domain.CrackStatusInProgress, esc.Report.Status)
	require.NotNil(t, esc.Provision.Data)
	assert.Equal(t, "task-1", esc.Provision.Data.Task.ID)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cracks/cr-1/escalate", nil, nil)
	require.Equal(t, http.StatusConflict, res.StatusCode, string(data))
	assert.Equal(t, "not_pending", decodeError(t, data).Code)
}

func TestRunSweep(t *testing.T) {
	srv := newTestServer(t, AuthConfig{})
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/sweeps/activate", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var sweep SweepResponse
	require.NoError(t, json.Unmarshal(data, &sweep))
	require.NotNil(t, sweep.Activation)
	assert.Equal(t, 0, sweep.Activation.Due)

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sweeps/resume", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	sweep = SweepResponse{}
	require.NoError(t, json.Unmarshal(data, &sweep))
	require.NotNil(t, sweep.Activation)
	assert.Equal(t, "resume", sweep.Activation.Sweep)
	assert.Nil(t, sweep.Expansion)

	res, _ = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sweeps/reindex", nil, nil)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/scheduler", nil, nil)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var status SchedulerStatus
	require.NoError(t, json.Unmarshal(data, &status))
	assert.False(t, status.Enabled)
}

func TestJWTRequiredWhenSecretSet(t *testing.T) {
	secret := "s3cret"
	srv := newTestServer(t, AuthConfig{JWTSecret: secret})
	client := srv.Client()

	res, _ := doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles", nil, nil)
	require.Equal(t, http.StatusUnauthorized, res.StatusCode)
	assert.Equal(t, "unauthorized", decodeError(t, data).Code)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cycles", nil, map[string]string{"Authorization": "Bearer nope"})
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "ops-7",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(secret))
	require.NoError(t, err)
	auth := map[string]string{"Authorization": "Bearer " + token}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cycles", map[string]any{
		"device_type": "boiler",
		"frequency":   "Yearly",
	}, auth)
	require.Equal(t, http.StatusCreated, res.StatusCode, string(data))

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events", nil, auth)
	require.Equal(t, http.StatusOK, res.StatusCode, string(data))
	var evts EventList
	require.NoError(t, json.Unmarshal(data, &evts))
	require.NotEmpty(t, evts.Items)
	assert.Equal(t, "ops-7", evts.Items[0].ActorID)

	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/metrics", nil, nil)
	assert.Equal(t, http.StatusOK, res.StatusCode)
}

func TestHandleErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("wrap: %w", workflow.ErrNoBuildings), http.StatusConflict, "no_buildings"},
		{fmt.Errorf("%w: crack r1", workflow.ErrProvisioningInFlight), http.StatusConflict, "provisioning_in_flight"},
		{fmt.Errorf("%w: resume", scheduler.ErrSweepRunning), http.StatusConflict, "sweep_running"},
		{&remote.Error{Target: "task", Operation: remote.PatternCreateTask, Kind: remote.KindTimeout}, http.StatusGatewayTimeout, "upstream_timeout"},
		{&remote.Error{Target: "task", Operation: remote.PatternCreateTask, Kind: remote.KindTransport}, http.StatusBadGateway, "upstream_failed"},
		{errors.New("invalid frequency \"Hourly\""), http.StatusBadRequest, "bad_request"},
		{errors.New("disk full"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		se := handleError(tc.err)
		ae, ok := se.(*apiError)
		require.True(t, ok)
		assert.Equal(t, tc.status, ae.GetStatus(), tc.err.Error())
		assert.Equal(t, tc.code, ae.Body.Code, tc.err.Error())
	}
}
