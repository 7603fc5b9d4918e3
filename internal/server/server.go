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

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"canopy/internal/domain"
	"canopy/internal/monitor"
	"canopy/internal/repo"
	"canopy/internal/risk"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   risk.Engine
	Monitor  *monitor.Manager
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"job j-100 not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Canopy API.
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Canopy API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerAssessments(group, cfg.Engine)
	registerJobs(group, cfg.Engine, cfg.Monitor)
	registerSnapshots(group, cfg.Monitor)
	registerAlerts(group, cfg.Engine)
	registerIncidents(group, cfg.Engine)
	registerCatalog(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	if notify := startWebhookDispatcher(cfg.Engine); notify != nil && cfg.Monitor != nil {
		cfg.Monitor.Notify = notify
	}

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, monitor.ErrNotMonitored) {
		return newAPIError(http.StatusConflict, "not_monitored", err.Error(), nil)
	}
	if errors.Is(err, monitor.ErrStaleSnapshot) {
		return newAPIError(http.StatusConflict, "stale_snapshot", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "already assessed"),
		strings.Contains(lowered, "invalid job transition"),
		strings.Contains(lowered, "start refused"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "unknown"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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

func registerAssessments(api huma.API, e risk.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-assessment",
		Method:        http.MethodPost,
		Path:          "/assessments",
		Summary:       "Score a site before work starts",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, in *struct {
		Body CreateAssessmentRequest
	}) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		input, crew := in.Body.input()
		a, err := e.Assess(ctx, input, crew, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})

	type jobPath struct {
		JobID string `path:"job_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID: "get-assessment",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/assessment",
		Summary:     "Baseline assessment for a job",
	}, func(ctx context.Context, in *jobPath) (*struct {
		Body domain.RiskAssessment `json:"body"`
	}, error) {
		a, err := e.Repo.GetAssessmentByJob(ctx, in.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.RiskAssessment `json:"body"`
		}{Body: a}, nil
	})
}

func registerJobs(api huma.API, e risk.Engine, m *monitor.Manager) {
	type jobPath struct {
		JobID string `path:"job_id"`
	}
	type jobOut struct {
		Body domain.Job `json:"body"`
	}

	huma.Register(api, huma.Operation{
		OperationID: "list-jobs",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List jobs",
	}, func(ctx context.Context, in *struct {
		Status string `query:"status" enum:"pending,active,completed,cancelled,"`
	}) (*struct {
		Body []domain.Job `json:"body"`
	}, error) {
		jobs, err := e.Repo.ListJobs(ctx, domain.JobStatus(in.Status))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Job `json:"body"`
		}{Body: jobs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}",
		Summary:     "Job by id",
	}, func(ctx context.Context, in *jobPath) (*jobOut, error) {
		j, err := e.Repo.GetJob(ctx, in.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &jobOut{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/start",
		Summary:     "Start work and begin monitoring",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, in *jobPath) (*jobOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.StartJob(ctx, in.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if m != nil {
			if err := m.Start(ctx, j.ID); err != nil {
				return nil, handleError(err)
			}
		}
		return &jobOut{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/complete",
		Summary:     "Complete an active job",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, in *jobPath) (*jobOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CompleteJob(ctx, in.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if m != nil {
			m.Stop(in.JobID)
		}
		return &jobOut{Body: j}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{job_id}/cancel",
		Summary:     "Cancel a pending or active job",
		Errors:      []int{http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, in *jobPath) (*jobOut, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		j, err := e.CancelJob(ctx, in.JobID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		if m != nil {
			m.Stop(in.JobID)
		}
		return &jobOut{Body: j}, nil
	})
}

func registerSnapshots(api huma.API, m *monitor.Manager) {
	type jobPath struct {
		JobID string `path:"job_id"`
	}
	huma.Register(api, huma.Operation{
		OperationID:   "submit-snapshot",
		Method:        http.MethodPost,
		Path:          "/jobs/{job_id}/snapshots",
		Summary:       "Submit a compliance check-in",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusNotFound},
	}, func(ctx context.Context, in *struct {
		JobID string `path:"job_id"`
		Body  SnapshotRequest
	}) (*struct {
		Body domain.TickResult `json:"body"`
	}, error) {
		if m == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "monitor_disabled", "monitoring is not running", nil)
		}
		if in.Body.Timestamp.IsZero() {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "timestamp is required", nil)
		}
		res, err := m.Submit(ctx, in.Body.snapshot(in.JobID))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.TickResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-monitor-state",
		Method:      http.MethodGet,
		Path:        "/jobs/{job_id}/monitor",
		Summary:     "Current monitoring state for a job",
	}, func(ctx context.Context, in *jobPath) (*struct {
		Body domain.MonitoringState `json:"body"`
	}, error) {
		if m == nil {
			return nil, newAPIError(http.StatusServiceUnavailable, "monitor_disabled", "monitoring is not running", nil)
		}
		state, err := m.State(ctx, in.JobID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.MonitoringState `json:"body"`
		}{Body: state}, nil
	})
}

func registerAlerts(api huma.API, e risk.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-alerts",
		Method:      http.MethodGet,
		Path:        "/alerts",
		Summary:     "List alerts, newest first",
	}, func(ctx context.Context, in *struct {
		JobID string `query:"job_id"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []domain.Alert `json:"body"`
	}, error) {
		alerts, err := e.Repo.ListAlerts(ctx, in.JobID, in.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Alert `json:"body"`
		}{Body: alerts}, nil
	})
}

func registerIncidents(api huma.API, e risk.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-incident",
		Method:        http.MethodPost,
		Path:          "/incidents",
		Summary:       "Record a historical incident",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, in *struct {
		Body CreateIncidentRequest
	}) (*struct {
		Body domain.IncidentRecord `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rec := domain.IncidentRecord{
			Location: in.Body.Location,
			Tags:     in.Body.Tags,
			Severity: in.Body.Severity,
		}
		if in.Body.ID != nil {
			rec.ID = *in.Body.ID
		}
		if in.Body.Description != nil {
			rec.Description = *in.Body.Description
		}
		if in.Body.OccurredAt != nil {
			rec.OccurredAt = *in.Body.OccurredAt
		}
		rec, err := e.RecordIncident(ctx, rec, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.IncidentRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-incidents",
		Method:      http.MethodGet,
		Path:        "/incidents",
		Summary:     "List recorded incidents",
	}, func(ctx context.Context, in *struct {
		Limit int `query:"limit"`
	}) (*struct {
		Body []domain.IncidentRecord `json:"body"`
	}, error) {
		recs, err := e.Repo.ListIncidents(ctx, in.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.IncidentRecord `json:"body"`
		}{Body: recs}, nil
	})
}

func registerCatalog(api huma.API, e risk.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-catalog",
		Method:      http.MethodGet,
		Path:        "/catalog",
		Summary:     "Risk factor catalog",
	}, func(ctx context.Context, in *struct {
		Domain string `query:"domain" enum:"access,fall_zone,interference,severity,site_conditions,"`
	}) (*struct {
		Body []domain.RiskFactor `json:"body"`
	}, error) {
		var factors []domain.RiskFactor
		if in.Domain != "" {
			d := domain.RiskDomain(in.Domain)
			if !d.IsValid() {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("unknown domain %q", in.Domain), nil)
			}
			factors = e.Catalog.DomainFactors(d)
		} else {
			for _, d := range domain.Domains() {
				factors = append(factors, e.Catalog.DomainFactors(d)...)
			}
		}
		return &struct {
			Body []domain.RiskFactor `json:"body"`
		}{Body: factors}, nil
	})
}

func registerEvents(api huma.API, e risk.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Audit event log, newest first",
	}, func(ctx context.Context, in *struct {
		JobID string `query:"job_id"`
		Limit int    `query:"limit"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		events, err := e.Repo.ListEvents(ctx, in.JobID, in.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: events}, nil
	})
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
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
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
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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
    <title>Canopy API Docs</title>
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
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
