package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"skylark/internal/domain"
	"skylark/internal/engine"
	"skylark/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Repo     repo.Repo
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"precondition_failed"`
	Message string         `json:"message" example:"pilot P004 is On Leave"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"id\":\"P004\"}"`
}

type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Skylark API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = cfg.Log
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
	router.Use(requestIDMiddleware(cfg.Log))
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Skylark API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerTurns(group, cfg.Engine, cfg.Log)
	registerFleet(group, cfg.Repo)
	registerConflicts(group, cfg.Engine, cfg.Repo)
	registerMissionActions(group, cfg.Engine)
	registerStatus(group, cfg.Engine)
	registerEvents(group, cfg.Repo)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

// requestIDMiddleware echoes X-Request-Id, minting one when the client sent none.
func requestIDMiddleware(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
			if reqID == "" {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-Id", reqID)
			log.Debug("request", zap.String("request_id", reqID), zap.String("method", r.Method), zap.String("path", r.URL.Path))
			next.ServeHTTP(w, r)
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

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, domain.CodeNotFound, err.Error(), nil)
	}
	var nf domain.NotFoundError
	if errors.As(err, &nf) {
		return newAPIError(http.StatusNotFound, domain.CodeNotFound, err.Error(), map[string]any{"type": nf.Type, "id": nf.ID})
	}
	switch code := domain.Code(err); code {
	case domain.CodeMissingSlot, domain.CodeValidation:
		return newAPIError(http.StatusBadRequest, code, err.Error(), nil)
	case domain.CodePrecondition:
		return newAPIError(http.StatusConflict, code, err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
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
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
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
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
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
	healthPath := path.Join(basePath, "health")
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

// sessionKey scopes a client session id to the authenticated actor.
func sessionKey(actorID, sessionID string) string {
	return actorID + "/" + sessionID
}

func registerTurns(api huma.API, e engine.Engine, log *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "post-turn",
		Method:      http.MethodPost,
		Path:        "/sessions/{session_id}/turns",
		Summary:     "Send one message to a conversation",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id" minLength:"1" maxLength:"128"`
		Body      TurnRequest
	}) (*struct {
		Body TurnResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.Text) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "text is required", nil)
		}
		res := e.HandleTurn(engine.WithActor(ctx, actorID), sessionKey(actorID, input.SessionID), input.Body.Text)
		log.Debug("turn", zap.String("actor", actorID), zap.String("session", input.SessionID), zap.String("code", res.Code))
		return &struct {
			Body TurnResponse `json:"body"`
		}{Body: turnResponse(input.SessionID, res)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{session_id}",
		Summary:     "Abandon any flow in progress for a conversation",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		SessionID string `path:"session_id" minLength:"1" maxLength:"128"`
	}) (*struct{}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.Sessions.Clear(ctx, sessionKey(actorID, input.SessionID)); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

type fleetFilter struct {
	Status   string `query:"status"`
	Location string `query:"location"`
}

func (f fleetFilter) match(status, location string) bool {
	if f.Status != "" && !domain.StatusIs(status, f.Status) {
		return false
	}
	if f.Location != "" && !domain.SameLocation(location, f.Location) {
		return false
	}
	return true
}

func registerFleet(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-pilots",
		Method:      http.MethodGet,
		Path:        "/pilots",
		Summary:     "List pilots",
	}, func(ctx context.Context, input *fleetFilter) (*struct {
		Body []domain.Pilot `json:"body"`
	}, error) {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		var out []domain.Pilot
		for _, p := range snap.Pilots {
			if input.match(p.Status, p.Location) {
				out = append(out, p)
			}
		}
		return &struct {
			Body []domain.Pilot `json:"body"`
		}{Body: nonNilSlice(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-drones",
		Method:      http.MethodGet,
		Path:        "/drones",
		Summary:     "List drones",
	}, func(ctx context.Context, input *fleetFilter) (*struct {
		Body []domain.Drone `json:"body"`
	}, error) {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		var out []domain.Drone
		for _, d := range snap.Drones {
			if input.match(d.Status, d.Location) {
				out = append(out, d)
			}
		}
		return &struct {
			Body []domain.Drone `json:"body"`
		}{Body: nonNilSlice(out)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-missions",
		Method:      http.MethodGet,
		Path:        "/missions",
		Summary:     "List missions",
	}, func(ctx context.Context, input *fleetFilter) (*struct {
		Body []domain.Mission `json:"body"`
	}, error) {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		var out []domain.Mission
		for _, m := range snap.Missions {
			if input.match(m.Status, m.Location) {
				out = append(out, m)
			}
		}
		return &struct {
			Body []domain.Mission `json:"body"`
		}{Body: nonNilSlice(out)}, nil
	})
}

func registerConflicts(api huma.API, e engine.Engine, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-conflicts",
		Method:      http.MethodGet,
		Path:        "/conflicts",
		Summary:     "Detect fleet conflicts",
	}, func(ctx context.Context, input *struct {
		Severity string `query:"severity" enum:"Critical,High,Medium"`
	}) (*struct {
		Body ConflictsResponse `json:"body"`
	}, error) {
		snap, err := r.Snapshot(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		items := []domain.Conflict{}
		for _, c := range e.Detector().Detect(snap) {
			if input.Severity == "" || string(c.Severity) == input.Severity {
				items = append(items, c)
			}
		}
		return &struct {
			Body ConflictsResponse `json:"body"`
		}{Body: ConflictsResponse{Count: len(items), Items: items}}, nil
	})
}

func resourceKind(kind string) (domain.EntityType, huma.StatusError) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", string(domain.EntityPilot):
		return domain.EntityPilot, nil
	case string(domain.EntityDrone):
		return domain.EntityDrone, nil
	}
	return "", newAPIError(http.StatusBadRequest, "bad_request", "kind must be pilot or drone", map[string]any{"kind": kind})
}

func registerMissionActions(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "mission-candidates",
		Method:      http.MethodGet,
		Path:        "/missions/{id}/candidates",
		Summary:     "Rank available resources for a mission",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"id"`
		Kind      string `query:"kind" enum:"pilot,drone" default:"pilot"`
	}) (*struct {
		Body CandidatesResponse `json:"body"`
	}, error) {
		kind, kerr := resourceKind(input.Kind)
		if kerr != nil {
			return nil, kerr
		}
		reply, err := e.Candidates(ctx, kind, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		resp := CandidatesResponse{
			MissionID: input.MissionID,
			Kind:      string(kind),
			Text:      reply.Text,
			Pilots:    nonNilSlice(reply.Pilots),
			Drones:    nonNilSlice(reply.Drones),
		}
		return &struct {
			Body CandidatesResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "assign-resource",
		Method:      http.MethodPost,
		Path:        "/missions/{id}/assignments",
		Summary:     "Assign a pilot or drone to a mission",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		MissionID string `path:"id"`
		Body      AssignRequest
	}) (*struct {
		Body ActionResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		kind, kerr := resourceKind(input.Body.Kind)
		if kerr != nil {
			return nil, kerr
		}
		reply, err := e.Assign(engine.WithActor(ctx, actorID), kind, input.Body.ResourceID, input.MissionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ActionResponse `json:"body"`
		}{Body: ActionResponse{Text: reply.Text, Code: reply.Code, Conflicts: reply.Conflicts}}, nil
	})
}

func registerStatus(api huma.API, e engine.Engine) {
	for _, et := range []domain.EntityType{domain.EntityPilot, domain.EntityDrone, domain.EntityMission} {
		huma.Register(api, huma.Operation{
			OperationID: "set-" + string(et) + "-status",
			Method:      http.MethodPut,
			Path:        fmt.Sprintf("/%ss/{id}/status", et),
			Summary:     "Set " + string(et) + " status",
			Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
		}, func(ctx context.Context, input *struct {
			ID   string `path:"id"`
			Body StatusRequest
		}) (*struct {
			Body ActionResponse `json:"body"`
		}, error) {
			actorID, authErr := actorIDFromContext(ctx)
			if authErr != nil {
				return nil, authErr
			}
			reply, err := e.Update(engine.WithActor(ctx, actorID), et, input.ID, domain.FieldStatus, input.Body.Status)
			if err != nil {
				return nil, handleError(err)
			}
			return &struct {
				Body ActionResponse `json:"body"`
			}{Body: ActionResponse{Text: reply.Text, Code: reply.Code, Conflicts: reply.Conflicts}}, nil
		})
	}
}

func registerEvents(api huma.API, r repo.Repo) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind" enum:"pilot,drone,mission"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := r.LatestEventsFrom(ctx, limit+1, cursorID, repo.EventFilter{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	return nil
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

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}
