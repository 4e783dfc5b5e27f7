package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path"
	"reflect"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/cors"

	"aurora/internal/domain"
	"aurora/internal/engine"
	"aurora/internal/repo"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 200
)

// Config for the HTTP API handler.
type Config struct {
	Engine      engine.Engine
	BasePath    string
	Auth        AuthConfig
	CORSOrigins []string
	Logger      *slog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"phase_not_open"`
	Message string         `json:"message" example:"phase 7f3c is not open"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope returned by every endpoint.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Aurora API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		code := ""
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// request schema failures share the 400 used for field validation
			status = http.StatusBadRequest
			code = "validation_failed"
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, code, msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog(logger))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Aurora API", "0.1.0")
	hcfg.OpenAPIPath = ""
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMe(group)
	registerAgents(group, cfg.Engine)
	registerOpportunities(group, cfg.Engine)
	registerPhases(group, cfg.Engine)
	registerInscriptions(group, cfg.Engine)
	registerTimeline(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	if len(cfg.CORSOrigins) == 0 {
		return router, nil
	}
	c := cors.New(cors.Options{
		AllowedOrigins: cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Actor-Id"},
		MaxAge:         600,
	})
	return c.Handler(router), nil
}

func accessLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
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

// handleError maps engine errors onto the envelope. Anything unrecognised is
// an infrastructure failure and becomes a 500.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if ve, ok := errorAs[engine.ValidationError](err); ok {
		return newAPIError(http.StatusBadRequest, "validation_failed", msg, map[string]any{"fields": ve.Fields})
	}
	if nf, ok := errorAs[engine.NotFoundError](err); ok {
		return newAPIError(http.StatusNotFound, "not_found", msg, map[string]any{"entity": nf.Entity, "id": nf.ID})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	}
	if de, ok := errorAs[engine.DuplicateInscriptionError](err); ok {
		return newAPIError(http.StatusConflict, "duplicate_inscription", msg, map[string]any{"agent_id": de.AgentID, "opportunity_id": de.OpportunityID})
	}
	if ce, ok := errorAs[engine.ConcurrentModificationError](err); ok {
		return newAPIError(http.StatusConflict, "concurrent_modification", msg, map[string]any{"entity": ce.Entity, "id": ce.ID})
	}
	if pe, ok := errorAs[engine.PhaseLockedError](err); ok {
		return newAPIError(http.StatusConflict, "phase_locked", msg, map[string]any{"phase_id": pe.PhaseID})
	}
	if le, ok := errorAs[engine.LastAgentError](err); ok {
		return newAPIError(http.StatusConflict, "last_agent", msg, map[string]any{"agent_id": le.AgentID, "owner_user_id": le.OwnerUserID})
	}
	if te, ok := errorAs[engine.IllegalTransitionError](err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "illegal_transition", msg, map[string]any{"from": te.From, "to": te.To})
	}
	if ne, ok := errorAs[engine.NotEligibleError](err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "not_eligible", msg, map[string]any{"inscription_id": ne.InscriptionID, "status": ne.Status})
	}
	if po, ok := errorAs[engine.PhaseNotOpenError](err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "phase_not_open", msg, map[string]any{"phase_id": po.PhaseID, "opens_at": po.OpensAt, "closes_at": po.ClosesAt})
	}
	if nn, ok := errorAs[engine.NoNextPhaseError](err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "no_next_phase", msg, map[string]any{"inscription_id": nn.InscriptionID})
	}
	if np, ok := errorAs[engine.NoPreviousPhaseError](err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "no_previous_phase", msg, map[string]any{"inscription_id": np.InscriptionID})
	}
	if oc, ok := errorAs[engine.OpportunityClosedError](err); ok {
		return newAPIError(http.StatusUnprocessableEntity, "opportunity_closed", msg, map[string]any{"opportunity_id": oc.OpportunityID})
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func errorAs[T error](err error) (T, bool) {
	var target T
	ok := errors.As(err, &target)
	return target, ok
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
		return "unprocessable"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get(path.Join(basePath, "docs"), func(w http.ResponseWriter, r *http.Request) {
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
	if oas.Components != nil && oas.Components.Schemas != nil {
		oas.Components.Schemas.Schema(reflect.TypeOf(apiError{}), true, "")
	}
	for _, item := range oas.Paths {
		for _, op := range operations(item) {
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
		for _, op := range operations(item) {
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func operations(item *huma.PathItem) []*huma.Operation {
	var out []*huma.Operation
	for _, op := range []*huma.Operation{
		item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
	} {
		if op != nil {
			out = append(out, op)
		}
	}
	return out
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Aurora API Docs</title>
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

func normalizeLimit(in int) int {
	if in <= 0 {
		return defaultPageLimit
	}
	if in > maxPageLimit {
		return maxPageLimit
	}
	return in
}

// parsePageCursor decodes a "created_at|id" cursor for newest-first listings.
func parsePageCursor(cursor string, limit int) (repo.Page, huma.StatusError) {
	page := repo.Page{Limit: limit}
	if cursor == "" {
		return page, nil
	}
	parts := strings.SplitN(cursor, "|", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return page, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
	}
	at, err := domain.ParseTime(parts[0])
	if err != nil {
		return page, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", nil)
	}
	page.CursorCreatedAt = at
	page.CursorID = parts[1]
	return page, nil
}

func composeCursor(at time.Time, id string) string {
	if at.IsZero() || id == "" {
		return ""
	}
	return domain.FormatTime(at) + "|" + id
}
