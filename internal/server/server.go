package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"upkeep/internal/domain"
	"upkeep/internal/metrics"
	"upkeep/internal/remote"
	"upkeep/internal/repo"
	"upkeep/internal/scheduler"
	"upkeep/internal/workflow"
)

// Config for the HTTP API handler.
type Config struct {
	Engine    workflow.Engine
	Scheduler *scheduler.Scheduler
	BasePath  string
	Auth      AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"already_activated"`
	Message string         `json:"message" example:"job already activated"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"job_id\":\"j-1\"}"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the operator API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	router.Handle("/metrics", metrics.Handler())
	hcfg := huma.DefaultConfig("Upkeep Orchestrator API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerCycles(group, cfg.Engine)
	registerSchedules(group, cfg.Engine)
	registerJobs(group, cfg.Engine)
	registerCracks(group, cfg.Engine)
	registerSweeps(group, cfg.Engine, cfg.Scheduler)
	registerProvisioning(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	var partial *workflow.PartialSagaFailure
	if errors.As(err, &partial) {
		details := map[string]any{"origin_kind": partial.Origin.Kind, "origin_id": partial.Origin.ID}
		if partial.Task.ID != "" {
			details["task_id"] = partial.Task.ID
		}
		return newAPIError(http.StatusBadGateway, "partial_saga_failure", msg, details)
	}
	switch {
	case errors.Is(err, repo.ErrNotFound), remote.IsNotFound(err):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case errors.Is(err, workflow.ErrAlreadyActivated):
		return newAPIError(http.StatusConflict, "already_activated", msg, nil)
	case errors.Is(err, workflow.ErrNotPending):
		return newAPIError(http.StatusConflict, "not_pending", msg, nil)
	case errors.Is(err, workflow.ErrInvalidTransition):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case errors.Is(err, workflow.ErrRecentSchedule):
		return newAPIError(http.StatusConflict, "recent_schedule", msg, nil)
	case errors.Is(err, workflow.ErrNoBuildings):
		return newAPIError(http.StatusConflict, "no_buildings", msg, nil)
	case errors.Is(err, workflow.ErrProvisioningInFlight):
		return newAPIError(http.StatusConflict, "provisioning_in_flight", msg, nil)
	case errors.Is(err, scheduler.ErrSweepRunning):
		return newAPIError(http.StatusConflict, "sweep_running", msg, nil)
	case errors.Is(err, scheduler.ErrUnknownSweep):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	case remote.IsTimeout(err):
		return newAPIError(http.StatusGatewayTimeout, "upstream_timeout", msg, upstreamDetails(err))
	}
	var rerr *remote.Error
	if errors.As(err, &rerr) {
		return newAPIError(http.StatusBadGateway, "upstream_failed", msg, upstreamDetails(err))
	}
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func upstreamDetails(err error) map[string]any {
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		return nil
	}
	details := map[string]any{"target": rerr.Target, "operation": rerr.Operation, "kind": rerr.Kind}
	if rerr.StatusCode != 0 {
		details["status"] = rerr.StatusCode
	}
	if step := workflow.FailedStep(err); step != "" {
		details["step"] = step
	}
	return details
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	healthPath := path.Join("/", basePath, "health")
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{item.Get, item.Put, item.Post, item.Delete, item.Patch} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Upkeep API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerCycles(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-cycles",
		Method:      http.MethodGet,
		Path:        "/cycles",
		Summary:     "List maintenance cycles",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body CycleList `json:"body"`
	}, error) {
		items, err := e.Repo.ListCycles(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.MaintenanceCycle{}
		}
		return &struct {
			Body CycleList `json:"body"`
		}{Body: CycleList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-cycle",
		Method:        http.MethodPost,
		Path:          "/cycles",
		Summary:       "Create a maintenance cycle",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body CycleCreateRequest `json:"body"`
	}) (*struct {
		Body domain.MaintenanceCycle `json:"body"`
	}, error) {
		c, err := e.CreateCycle(ctx, domain.MaintenanceCycle{
			ID:         input.Body.ID,
			Name:       input.Body.Name,
			DeviceType: input.Body.DeviceType,
			Frequency:  domain.Frequency(input.Body.Frequency),
			Basis:      input.Body.Basis,
		}, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MaintenanceCycle `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-cycle",
		Method:      http.MethodGet,
		Path:        "/cycles/{cycle_id}",
		Summary:     "Get a maintenance cycle",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body domain.MaintenanceCycle `json:"body"`
	}, error) {
		c, err := e.Repo.GetCycle(ctx, input.CycleID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MaintenanceCycle `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "expand-cycle",
		Method:      http.MethodPost,
		Path:        "/cycles/{cycle_id}/expand",
		Summary:     "Expand a cycle into a schedule of per-building jobs",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway, http.StatusGatewayTimeout},
	}, func(ctx context.Context, input *struct {
		CycleID string `path:"cycle_id"`
	}) (*struct {
		Body workflow.Expansion `json:"body"`
	}, error) {
		exp, err := e.ExpandCycle(ctx, input.CycleID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.Expansion `json:"body"`
		}{Body: exp}, nil
	})
}

func registerSchedules(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-schedules",
		Method:      http.MethodGet,
		Path:        "/schedules",
		Summary:     "List schedules",
	}, func(ctx context.Context, input *struct {
		CycleID string `query:"cycle_id"`
		Status  string `query:"status" enum:"Pending,InProgress,Completed,Cancelled"`
	}) (*struct {
		Body ScheduleList `json:"body"`
	}, error) {
		items, err := e.Repo.ListSchedules(ctx, repo.ScheduleFilters{CycleID: input.CycleID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Schedule{}
		}
		return &struct {
			Body ScheduleList `json:"body"`
		}{Body: ScheduleList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-schedule",
		Method:      http.MethodGet,
		Path:        "/schedules/{schedule_id}",
		Summary:     "Get a schedule with job counts",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScheduleID string `path:"schedule_id"`
	}) (*struct {
		Body ScheduleDetail `json:"body"`
	}, error) {
		s, err := e.Repo.GetSchedule(ctx, input.ScheduleID)
		if err != nil {
			return nil, handleError(err)
		}
		jobs, err := e.Repo.ListJobs(ctx, repo.JobFilters{ScheduleID: s.ID})
		if err != nil {
			return nil, handleError(err)
		}
		counts := map[string]int{}
		for _, j := range jobs {
			counts[j.Status]++
		}
		return &struct {
			Body ScheduleDetail `json:"body"`
		}{Body: ScheduleDetail{Schedule: s, Jobs: counts}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-schedule-jobs",
		Method:      http.MethodGet,
		Path:        "/schedules/{schedule_id}/jobs",
		Summary:     "List the jobs of a schedule",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScheduleID string `path:"schedule_id"`
		Status     string `query:"status" enum:"Pending,InProgress,Completed"`
	}) (*struct {
		Body JobList `json:"body"`
	}, error) {
		if _, err := e.Repo.GetSchedule(ctx, input.ScheduleID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListJobs(ctx, repo.JobFilters{ScheduleID: input.ScheduleID, Status: input.Status})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ScheduleJob{}
		}
		return &struct {
			Body JobList `json:"body"`
		}{Body: JobList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reconcile-schedule",
		Method:      http.MethodPost,
		Path:        "/schedules/{schedule_id}/reconcile",
		Summary:     "Recompute a schedule's status from its jobs",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ScheduleID string `path:"schedule_id"`
	}) (*struct {
		Body domain.Schedule `json:"body"`
	}, error) {
		s, err := e.ReconcileSchedule(ctx, input.ScheduleID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Schedule `json:"body"`
		}{Body: s}, nil
	})
}

func registerJobs(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List schedule jobs",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		BuildingID string `query:"building_id"`
		Status     string `query:"status" enum:"Pending,InProgress,Completed"`
		From       string `query:"from" doc:"inclusive run date, YYYY-MM-DD"`
		To         string `query:"to" doc:"exclusive run date, YYYY-MM-DD"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body JobList `json:"body"`
	}, error) {
		f := repo.JobFilters{BuildingID: input.BuildingID, Status: input.Status, Limit: normalizeLimit(input.Limit)}
		for _, bound := range []struct {
			name string
			raw  string
			dst  **time.Time
		}{{"from", input.From, &f.From}, {"to", input.To, &f.To}} {
			if bound.raw == "" {
				continue
			}
			t, err := time.Parse(domain.DateLayout, bound.raw)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid "+bound.name+" date", map[string]any{bound.name: bound.raw})
			}
			*bound.dst = &t
		}
		items, err := e.Repo.ListJobs(ctx, f)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ScheduleJob{}
		}
		return &struct {
			Body JobList `json:"body"`
		}{Body: JobList{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Get a schedule job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.ScheduleJob `json:"body"`
	}, error) {
		j, err := e.Repo.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ScheduleJob `json:"body"`
		}{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "activate-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/activate",
		Summary:     "Activate a pending job and provision its task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway, http.StatusGatewayTimeout},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body workflow.Activation `json:"body"`
	}, error) {
		act, err := e.ActivateJob(ctx, input.JobID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.Activation `json:"body"`
		}{Body: act}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/complete",
		Summary:     "Complete an in-progress job and schedule its successor",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body workflow.Completion `json:"body"`
	}, error) {
		c, err := e.CompleteJob(ctx, input.JobID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.Completion `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job-provisioning",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/provisioning",
		Summary:     "Get the task provisioning record of a job",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		JobID string `path:"job_id"`
	}) (*struct {
		Body domain.ProvisioningRecord `json:"body"`
	}, error) {
		rec, err := e.Repo.GetProvisioning(ctx, domain.OriginJob, input.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ProvisioningRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerCracks(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "escalate-crack",
		Method:      http.MethodPost,
		Path:        "/cracks/{report_id}/escalate",
		Summary:     "Turn a pending crack report into an assigned repair task",
		Errors:      []int{http.StatusNotFound, http.StatusConflict, http.StatusBadGateway, http.StatusGatewayTimeout},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
		Body     *EscalateRequest `json:"body,omitempty" required:"false"`
	}) (*struct {
		Body workflow.Escalation `json:"body"`
	}, error) {
		managerID := ""
		if input.Body != nil {
			managerID = strings.TrimSpace(input.Body.ManagerID)
		}
		esc, err := e.EscalateCrack(ctx, input.ReportID, managerID, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body workflow.Escalation `json:"body"`
		}{Body: esc}, nil
	})
}

func registerSweeps(api huma.API, e workflow.Engine, sched *scheduler.Scheduler) {
	runner := scheduler.NewRunner(e, e.Logger)
	if sched != nil {
		runner = sched.Runner()
	}
	huma.Register(api, huma.Operation{
		OperationID: "run-sweep",
		Method:      http.MethodPost,
		Path:        "/sweeps/{name}",
		Summary:     "Run one sweep now",
		Errors:      []int{http.StatusBadRequest, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Name string `path:"name" enum:"activate,expand,resume"`
	}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		res, err := runner.Run(ctx, input.Name, actorID(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Sweep: res.Sweep, Activation: res.Activation, Expansion: res.Expansion}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "scheduler-status",
		Method:      http.MethodGet,
		Path:        "/scheduler",
		Summary:     "Next run of each scheduled sweep",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SchedulerStatus `json:"body"`
	}, error) {
		status := SchedulerStatus{Sweeps: []scheduler.NextRun{}}
		if sched != nil {
			status.Enabled = true
			if next := sched.Next(); next != nil {
				status.Sweeps = next
			}
		}
		return &struct {
			Body SchedulerStatus `json:"body"`
		}{Body: status}, nil
	})
}

func registerProvisioning(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-provisioning",
		Method:      http.MethodGet,
		Path:        "/provisioning",
		Summary:     "List task provisioning records",
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" enum:"in_flight,task_created,completed,assignment_failed,failed"`
	}) (*struct {
		Body ProvisioningList `json:"body"`
	}, error) {
		items, err := e.Repo.ListProvisioning(ctx, input.Status)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.ProvisioningRecord{}
		}
		return &struct {
			Body ProvisioningList `json:"body"`
		}{Body: ProvisioningList{Items: items}}, nil
	})
}

func registerEvents(api huma.API, e workflow.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"cycle,schedule,job,crack"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
	}) (*struct {
		Body EventList `json:"body"`
	}, error) {
		items, err := e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := EventList{Items: []EventResponse{}}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body EventList `json:"body"`
		}{Body: resp}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
