package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"upkeep/internal/remote"
)

func writeEnvelope(w http.ResponseWriter, status int, ok bool, msg string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"isSuccess": ok, "message": msg, "data": data})
}

func TestCreateTaskSendsPatternAndDecodesData(t *testing.T) {
	var gotPattern, gotAuth string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPattern = r.Header.Get("X-Upkeep-Pattern")
		gotAuth = r.Header.Get("Authorization")
		require.Equal(t, "/tasks", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		writeEnvelope(w, http.StatusCreated, true, "created", map[string]any{"task_id": "t1", "status": "Assigned", "schedule_job_id": "j1"})
	}))
	defer srv.Close()

	c := remote.New("task", srv.URL, time.Second)
	c.Tokens = remote.NewServiceTokens("s3cret")
	tasks := remote.TaskClient{Client: c}
	jobID := "j1"
	task, err := tasks.CreateTask(context.Background(), remote.CreateTaskRequest{Description: "inspect", Status: "Assigned", ScheduleJobID: &jobID})
	require.NoError(t, err)
	assert.Equal(t, "t1", task.ID)
	require.NotNil(t, task.ScheduleJobID)
	assert.Equal(t, "j1", *task.ScheduleJobID)
	assert.Equal(t, remote.PatternCreateTask, gotPattern)
	assert.Equal(t, "j1", body["schedule_job_id"])
	_, hasCrack := body["crack_id"]
	assert.False(t, hasCrack)

	require.True(t, strings.HasPrefix(gotAuth, "Bearer "))
	parsed, err := jwt.ParseWithClaims(strings.TrimPrefix(gotAuth, "Bearer "), &jwt.RegisteredClaims{}, func(*jwt.Token) (any, error) {
		return []byte("s3cret"), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithAudience("task"))
	require.NoError(t, err)
	assert.True(t, parsed.Valid)
}

func TestCreateTaskRequiresExactlyOneOrigin(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()
	tasks := remote.TaskClient{Client: remote.New("task", srv.URL, time.Second)}
	a, b := "c1", "j1"
	_, err := tasks.CreateTask(context.Background(), remote.CreateTaskRequest{CrackID: &a, ScheduleJobID: &b})
	assert.True(t, remote.IsRejection(err))
	_, err = tasks.CreateTask(context.Background(), remote.CreateTaskRequest{})
	assert.True(t, remote.IsRejection(err))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestCallTimeoutIsNotRetried(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	buildings := remote.BuildingClient{Client: remote.New("building", srv.URL, 50*time.Millisecond)}
	_, err := buildings.GetBuilding(context.Background(), "b1")
	require.Error(t, err)
	assert.True(t, remote.IsTimeout(err), "got %v", err)
	var re *remote.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, "building", re.Target)
	assert.Equal(t, remote.PatternGetBuilding, re.Operation)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestRejectionFromStatusAndEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/crack-reports/missing":
			writeEnvelope(w, http.StatusNotFound, false, "crack report not found", nil)
		default:
			writeEnvelope(w, http.StatusOK, false, "status transition not allowed", nil)
		}
	}))
	defer srv.Close()
	cracks := remote.CrackClient{Client: remote.New("crack", srv.URL, time.Second)}

	_, err := cracks.GetCrackReport(context.Background(), "missing")
	assert.True(t, remote.IsNotFound(err))
	assert.Contains(t, err.Error(), "crack report not found")

	_, err = cracks.UpdateCrackReportStatus(context.Background(), "r1", "InProgress", "m1")
	assert.True(t, remote.IsRejection(err))
	assert.False(t, remote.IsNotFound(err))
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()
	buildings := remote.BuildingClient{Client: remote.New("building", srv.URL, time.Second)}
	_, err := buildings.ListBuildings(context.Background())
	var re *remote.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, remote.KindDecode, re.Kind)
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	buildings := remote.BuildingClient{Client: remote.New("building", url, time.Second)}
	_, err := buildings.ListResidents(context.Background(), "b1")
	var re *remote.Error
	require.True(t, errors.As(err, &re))
	assert.Equal(t, remote.KindTransport, re.Kind)
}

func TestZeroValueClientIsSafeForConcurrentCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "", map[string]any{"building_id": "b1", "name": "Birch"})
	}))
	defer srv.Close()

	c := &remote.Client{Target: "building", BaseURL: srv.URL, Timeout: time.Second}
	buildings := remote.BuildingClient{Client: c}
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = buildings.GetBuilding(context.Background(), "b1")
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Nil(t, c.HTTPClient, "calls must not mutate the shared client")
}

type recordingPublisher struct {
	mu    sync.Mutex
	sent  map[string][][]byte
	fail  bool
	delay time.Duration
}

func (p *recordingPublisher) Publish(ctx context.Context, pattern string, body []byte) error {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if p.fail {
		return errors.New("broker down")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sent == nil {
		p.sent = map[string][][]byte{}
	}
	p.sent[pattern] = append(p.sent[pattern], body)
	return nil
}

func TestEventNotifierDeliversAfterCallerCancels(t *testing.T) {
	pub := &recordingPublisher{delay: 10 * time.Millisecond}
	n := remote.NewEventNotifier(pub, remote.EmitterOptions{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	n.SendMaintenanceEmail(ctx, remote.MaintenanceEmail{To: "a@example.com", BuildingID: "b1", Date: "2024-01-01", TimeWindow: "08:00-17:00"})
	cancel()
	n.Wait()

	require.Len(t, pub.sent[remote.PatternSendMaintenanceMail], 1)
	var msg struct {
		Pattern string                  `json:"pattern"`
		Data    remote.MaintenanceEmail `json:"data"`
	}
	require.NoError(t, json.Unmarshal(pub.sent[remote.PatternSendMaintenanceMail][0], &msg))
	assert.Equal(t, remote.PatternSendMaintenanceMail, msg.Pattern)
	assert.Equal(t, "a@example.com", msg.Data.To)
}

func TestEventNotifierSwallowsFailures(t *testing.T) {
	pub := &recordingPublisher{fail: true}
	n := remote.NewEventNotifier(pub, remote.EmitterOptions{Timeout: 100 * time.Millisecond, RatePerSecond: 100, Burst: 10})
	assert.NotPanics(t, func() {
		n.Notify(context.Background(), remote.SystemNotification{Title: "x", Message: "y"})
		n.Wait()
	})
	assert.Empty(t, pub.sent)
}

func TestHTTPEmitterPostsPattern(t *testing.T) {
	got := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got <- r.Header.Get("X-Upkeep-Pattern")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()
	err := remote.HTTPEmitter{URL: srv.URL}.Publish(context.Background(), remote.PatternSystemNotification, []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, remote.PatternSystemNotification, <-got)
}

func TestHTTPEmitterReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()
	err := remote.HTTPEmitter{URL: srv.URL}.Publish(context.Background(), remote.PatternSystemNotification, []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestRedisEmitterChannel(t *testing.T) {
	assert.Equal(t, "upkeep:SYSTEM_NOTIFICATION", remote.RedisEmitter{ChannelPrefix: "upkeep"}.Channel(remote.PatternSystemNotification))
	assert.Equal(t, "SEND_MAINTENANCE_EMAIL", remote.RedisEmitter{}.Channel(remote.PatternSendMaintenanceMail))
}
