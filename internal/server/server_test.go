package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"skylark/internal/config"
	"skylark/internal/db"
	"skylark/internal/domain"
	"skylark/internal/engine"
	"skylark/internal/events"
	"skylark/internal/migrate"
	"skylark/internal/repo"
)

const testSecret = "test-secret"

type testServer struct {
	URL    string
	Repo   repo.Repo
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	seedFleet(t, r)
	e := engine.New(conn, cfg, nil)
	handler, err := New(Config{
		Engine:   e,
		Repo:     r,
		BasePath: "/v0",
		Auth:     AuthConfig{JWTSecret: testSecret, AllowActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Repo:   r,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func seedFleet(t *testing.T, r repo.Repo) {
	t.Helper()
	fleet := map[domain.EntityType][]domain.Record{
		domain.EntityPilot: {
			{"pilot_id": "P001", "name": "Arjun", "skills": "Mapping, Thermal", "location": "Mumbai", "status": "Available", "current_assignment": "none", "available_from": "2026-01-01"},
			{"pilot_id": "P002", "name": "Neha", "skills": "Mapping", "location": "Mumbai", "status": "Available", "current_assignment": "none", "available_from": "2026-01-01"},
			{"pilot_id": "P004", "name": "Sara", "skills": "Mapping", "location": "Mumbai", "status": "On Leave", "current_assignment": "none", "available_from": "2026-01-01"},
		},
		domain.EntityDrone: {
			{"drone_id": "D001", "model": "Mavic 3", "location": "Mumbai", "status": "Available", "current_assignment": "none", "flight_hours": "120"},
		},
		domain.EntityMission: {
			{"project_id": "PRJ001", "name": "Coastal Survey", "location": "Mumbai", "status": "Pending", "start_date": "2026-02-01",
				"end_date": "2026-02-10", "required_skills": "Mapping, Thermal", "assigned_pilot": "none", "assigned_drone": "none"},
		},
	}
	for _, et := range domain.EntityTypes {
		if _, err := r.Import(context.Background(), et, fleet[et]); err != nil {
			t.Fatalf("seed %s: %v", et, err)
		}
	}
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		headers = map[string]string{"X-Actor-Id": "ops-lead"}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func TestHealthNeedsNoAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(body))
	}
	if res.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected a minted request id")
	}
	res, _ = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{"X-Request-Id": "req-42"})
	if got := res.Header.Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected request id echoed, got %q", got)
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pilots", nil, map[string]string{})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d: %s", res.StatusCode, string(body))
	}
	var envelope struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		t.Fatalf("unmarshal error: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected unauthorized code, got %q", envelope.Error.Code)
	}
}

func TestBearerTokenAuthenticates(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	token, err := SignToken(testSecret, "coordinator", time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pilots", nil, map[string]string{"Authorization": "Bearer " + token})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pilots status %d: %s", res.StatusCode, string(body))
	}
	bad, _ := SignToken("other-secret", "coordinator", time.Hour)
	res, body = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pilots", nil, map[string]string{"Authorization": "Bearer " + bad})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for foreign signature, got %d: %s", res.StatusCode, string(body))
	}
}

func TestVerifyTokenRequiresIssuer(t *testing.T) {
	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{Subject: "coordinator"}).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifyToken(foreign, testSecret); err == nil {
		t.Fatalf("expected token without issuer to be rejected")
	}
	token, _ := SignToken(testSecret, "coordinator", 0)
	op, err := verifyToken(token, testSecret)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if op.ID != "coordinator" || op.Via != "jwt" {
		t.Fatalf("unexpected operator %+v", op)
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]bool{
		"Bearer abc":  true,
		"bearer  abc": true,
		"Basic abc":   false,
		"Bearer":      false,
		"Bearer ":     false,
	}
	for header, want := range cases {
		if _, ok := bearerToken(header); ok != want {
			t.Fatalf("bearerToken(%q) ok=%v, want %v", header, ok, want)
		}
	}
}

func TestListPilotsFilters(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/pilots?status=available", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("pilots status %d: %s", res.StatusCode, string(body))
	}
	var pilots []domain.Pilot
	if err := json.Unmarshal(body, &pilots); err != nil {
		t.Fatalf("unmarshal pilots: %v", err)
	}
	if len(pilots) != 2 || pilots[0].ID != "P001" || pilots[1].ID != "P002" {
		t.Fatalf("unexpected pilots %+v", pilots)
	}
}

func TestTurnsKeepSessionState(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/sessions/chat-1/turns"

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{"text": "assign a pilot to PRJ001"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status %d: %s", res.StatusCode, string(body))
	}
	var turn TurnResponse
	if err := json.Unmarshal(body, &turn); err != nil {
		t.Fatalf("unmarshal turn: %v", err)
	}
	if turn.Pending != "awaiting_pilot_selection" || len(turn.Pilots) != 2 || turn.Pilots[0].Pilot.ID != "P001" {
		t.Fatalf("unexpected first turn %+v", turn)
	}

	// Another actor with the same session id starts from idle.
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"text": "P001"}, map[string]string{"X-Actor-Id": "someone-else"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status %d: %s", res.StatusCode, string(body))
	}
	var other TurnResponse
	if err := json.Unmarshal(body, &other); err != nil {
		t.Fatalf("unmarshal turn: %v", err)
	}
	if other.Pending != "" || len(other.Pilots) != 0 || strings.Contains(other.Text, "Assigned") {
		t.Fatalf("session leaked across actors: %+v", other)
	}

	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"text": "P001"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("turn status %d: %s", res.StatusCode, string(body))
	}
	var done TurnResponse
	if err := json.Unmarshal(body, &done); err != nil {
		t.Fatalf("unmarshal turn: %v", err)
	}
	if done.Code != domain.CodeOK || done.Pending != "" || !strings.Contains(done.Text, "Assigned pilot P001") {
		t.Fatalf("unexpected assignment turn %+v", done)
	}

	evts, err := srv.Repo.LatestEvents(context.Background(), 10, repo.EventFilter{Type: events.AssignmentCreated})
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 || evts[0].ActorID != "ops-lead" {
		t.Fatalf("expected one assignment by ops-lead, got %+v", evts)
	}
}

func TestResetSessionAbandonsFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/s/turns", map[string]any{"text": "delete D001"}, nil)
	res, body := doJSON(t, client, http.MethodDelete, srv.URL+"/v0/sessions/s", nil, nil)
	if res.StatusCode >= 300 {
		t.Fatalf("reset status %d: %s", res.StatusCode, string(body))
	}
	_, body = doJSON(t, client, http.MethodPost, srv.URL+"/v0/sessions/s/turns", map[string]any{"text": "yes"}, nil)
	var turn TurnResponse
	_ = json.Unmarshal(body, &turn)
	if strings.Contains(turn.Text, "Deleted") {
		t.Fatalf("confirmation survived reset: %+v", turn)
	}
	drones, err := srv.Repo.GetAll(context.Background(), domain.EntityDrone)
	if err != nil {
		t.Fatalf("drones: %v", err)
	}
	if len(drones) != 1 {
		t.Fatalf("expected drone to survive, got %d", len(drones))
	}
}

func TestEmptyTurnIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/sessions/s/turns", map[string]any{"text": "   "}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", res.StatusCode, string(body))
	}
}

func TestAssignEndpointMapsDomainErrors(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	url := srv.URL + "/v0/missions/PRJ001/assignments"

	res, body := doJSON(t, client, http.MethodPost, url, map[string]any{"kind": "pilot", "resource_id": "P004"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for pilot on leave, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"kind": "drone", "resource_id": "D009"}, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown drone, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPost, url, map[string]any{"kind": "drone", "resource_id": "D001"}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("assign drone status %d: %s", res.StatusCode, string(body))
	}
	var action ActionResponse
	if err := json.Unmarshal(body, &action); err != nil {
		t.Fatalf("unmarshal action: %v", err)
	}
	if action.Code != domain.CodeOK {
		t.Fatalf("unexpected code %q", action.Code)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions", nil, nil)
	var missions []domain.Mission
	_ = json.Unmarshal(body, &missions)
	if res.StatusCode != http.StatusOK || len(missions) != 1 || missions[0].AssignedDrone != "D001" {
		t.Fatalf("mission not updated: %d %s", res.StatusCode, string(body))
	}
}

func TestCandidatesAndConflicts(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions/PRJ001/candidates?kind=pilot", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("candidates status %d: %s", res.StatusCode, string(body))
	}
	var cands CandidatesResponse
	if err := json.Unmarshal(body, &cands); err != nil {
		t.Fatalf("unmarshal candidates: %v", err)
	}
	if len(cands.Pilots) != 2 || cands.Pilots[0].Score != 2 || cands.Pilots[1].Score != 1 {
		t.Fatalf("unexpected ranking %+v", cands.Pilots)
	}
	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/missions/PRJ404/candidates", nil, nil)
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown mission, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodPut, srv.URL+"/v0/pilots/P002/status", map[string]any{"status": "Assigned"}, nil)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for Assigned without mission, got %d: %s", res.StatusCode, string(body))
	}
	res, body = doJSON(t, client, http.MethodPut, srv.URL+"/v0/drones/D001/status", map[string]any{"status": "grounded"}, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d: %s", res.StatusCode, string(body))
	}

	res, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/conflicts", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("conflicts status %d: %s", res.StatusCode, string(body))
	}
	var cr ConflictsResponse
	if err := json.Unmarshal(body, &cr); err != nil {
		t.Fatalf("unmarshal conflicts: %v", err)
	}
	if cr.Count != len(cr.Items) || cr.Items == nil {
		t.Fatalf("inconsistent conflicts response %+v", cr)
	}
}

func TestEventsPagination(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	for _, status := range []string{"Maintenance", "Available", "Maintenance"} {
		res, body := doJSON(t, client, http.MethodPut, srv.URL+"/v0/drones/D001/status", map[string]any{"status": status}, nil)
		if res.StatusCode != http.StatusOK {
			t.Fatalf("status %s: %d %s", status, res.StatusCode, string(body))
		}
	}
	res, body := doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=status.changed&limit=2", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(body))
	}
	var page paginatedEvents
	if err := json.Unmarshal(body, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("unexpected first page %+v", page)
	}
	if page.Items[0].Payload["to"] != "Maintenance" {
		t.Fatalf("expected newest first, got %+v", page.Items[0])
	}
	_, body = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?type=status.changed&limit=2&cursor="+page.NextCursor, nil, nil)
	var next paginatedEvents
	_ = json.Unmarshal(body, &next)
	if len(next.Items) != 1 || next.NextCursor != "" || next.Items[0].Payload["from"] != "Available" {
		t.Fatalf("unexpected second page %+v", next)
	}
	res, _ = doJSON(t, client, http.MethodGet, srv.URL+"/v0/events?cursor=abc", nil, nil)
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", res.StatusCode)
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, body := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/openapi.json", nil, map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(body), "/v0/sessions/{session_id}/turns") {
		t.Fatalf("turns route missing from openapi document")
	}
}

type captured struct {
	mu   sync.Mutex
	reqs []*http.Request
	body [][]byte
}

func (c *captured) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.reqs = append(c.reqs, r)
	c.body = append(c.body, data)
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDeliversNewEventsOnly(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	sink := &captured{}
	hook := httptest.NewServer(sink)
	defer hook.Close()

	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL, Events: []string{events.StatusChanged}, Secret: "s3cret"}}
	d := newWebhookDispatcher(srv.Repo, cfg, nil)
	ctx := context.Background()
	d.dispatchAll(ctx)
	if len(sink.reqs) != 0 {
		t.Fatalf("seeded history must not be replayed, got %d deliveries", len(sink.reqs))
	}

	doJSON(t, srv.Client(), http.MethodPut, srv.URL+"/v0/drones/D001/status", map[string]any{"status": "Maintenance"}, nil)
	d.dispatchAll(ctx)
	d.dispatchAll(ctx)

	if len(sink.reqs) != 1 {
		t.Fatalf("expected one delivery, got %d", len(sink.reqs))
	}
	req := sink.reqs[0]
	if req.Header.Get("X-Skylark-Event") != events.StatusChanged {
		t.Fatalf("unexpected event header %q", req.Header.Get("X-Skylark-Event"))
	}
	if want := "sha256=" + sign("s3cret", sink.body[0]); req.Header.Get("X-Skylark-Signature") != want {
		t.Fatalf("signature mismatch")
	}
	var evt webhookEvent
	if err := json.Unmarshal(sink.body[0], &evt); err != nil {
		t.Fatalf("unmarshal webhook: %v", err)
	}
	if evt.EntityID != "D001" || evt.Fleet != "skylark" || evt.ActorID != "ops-lead" {
		t.Fatalf("unexpected webhook body %+v", evt)
	}
}

type flakyEvents struct {
	failLatest int
	evts       []domain.Event
}

func (f *flakyEvents) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	var out []domain.Event
	for _, evt := range f.evts {
		if evt.ID > cursor && len(out) < limit {
			out = append(out, evt)
		}
	}
	return out, nil
}

func (f *flakyEvents) LatestEventID(context.Context) (int64, error) {
	if f.failLatest > 0 {
		f.failLatest--
		return 0, errors.New("database is locked")
	}
	if len(f.evts) == 0 {
		return 0, nil
	}
	return f.evts[len(f.evts)-1].ID, nil
}

func TestWebhookCursorWaitsForNewestEvent(t *testing.T) {
	sink := &captured{}
	hook := httptest.NewServer(sink)
	defer hook.Close()
	src := &flakyEvents{failLatest: 1, evts: []domain.Event{
		{ID: 1, Type: events.RecordCreated, EntityKind: "pilot", EntityID: "P001", Payload: "{}"},
		{ID: 2, Type: events.RecordCreated, EntityKind: "pilot", EntityID: "P002", Payload: "{}"},
	}}
	cfg := config.Default()
	cfg.Webhooks = []config.WebhookConfig{{URL: hook.URL}}
	d := newWebhookDispatcher(src, cfg, nil)
	ctx := context.Background()

	d.dispatchAll(ctx)
	d.dispatchAll(ctx)
	if len(sink.reqs) != 0 {
		t.Fatalf("history replayed after a failed cursor read: %d deliveries", len(sink.reqs))
	}
	src.evts = append(src.evts, domain.Event{ID: 3, Type: events.StatusChanged, EntityKind: "drone", EntityID: "D001", Payload: "{}"})
	d.dispatchAll(ctx)
	if len(sink.reqs) != 1 || sink.reqs[0].Header.Get("X-Skylark-Delivery") != "3" {
		t.Fatalf("expected only event 3, got %d deliveries", len(sink.reqs))
	}
}

func TestEventFilter(t *testing.T) {
	if !newEventFilter(nil).match("anything") {
		t.Fatalf("empty filter should match all")
	}
	f := newEventFilter([]string{" record.created ", ""})
	if !f.match("record.created") || f.match("record.deleted") {
		t.Fatalf("filter mismatch")
	}
	f = newEventFilter([]string{"assignment.*", "status.changed"})
	for evt, want := range map[string]bool{
		"assignment.created":        true,
		"assignment.irreconcilable": true,
		"status.changed":            true,
		"record.updated":            false,
		"assignments":               false,
	} {
		if got := f.match(evt); got != want {
			t.Fatalf("match(%q) = %v, want %v", evt, got, want)
		}
	}
	if !newEventFilter([]string{"*"}).match("record.deleted") {
		t.Fatalf("star should match all")
	}
}
