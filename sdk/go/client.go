package skylarksdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Skylark HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	// ActorID is sent as X-Actor-Id when no bearer token is set.
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v0",
		Timeout:  10 * time.Second,
	}
}

// Pilot mirrors the API pilot model.
type Pilot struct {
	ID                string   `json:"pilot_id"`
	Name              string   `json:"name"`
	Skills            []string `json:"skills"`
	Location          string   `json:"location"`
	Status            string   `json:"status"`
	CurrentAssignment string   `json:"current_assignment"`
	AvailableFrom     string   `json:"available_from"`
}

// Drone mirrors the API drone model.
type Drone struct {
	ID                string  `json:"drone_id"`
	Model             string  `json:"model"`
	Location          string  `json:"location"`
	Status            string  `json:"status"`
	CurrentAssignment string  `json:"current_assignment"`
	FlightHours       float64 `json:"flight_hours"`
}

// Mission mirrors the API mission model.
type Mission struct {
	ID             string   `json:"project_id"`
	Name           string   `json:"name"`
	Location       string   `json:"location"`
	Status         string   `json:"status"`
	StartDate      string   `json:"start_date"`
	EndDate        string   `json:"end_date"`
	RequiredSkills []string `json:"required_skills"`
	AssignedPilot  string   `json:"assigned_pilot"`
	AssignedDrone  string   `json:"assigned_drone"`
}

type Conflict struct {
	Kind   string `json:"kind"`
	Entity struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	} `json:"entity"`
	MissionID string `json:"mission_id,omitempty"`
	Message   string `json:"message"`
	Severity  string `json:"severity"`
}

type PilotCandidate struct {
	Pilot   Pilot    `json:"pilot"`
	Score   int      `json:"score"`
	Missing []string `json:"missing,omitempty"`
}

type DroneCandidate struct {
	Drone Drone `json:"drone"`
}

// Turn is the reply to one conversational message.
type Turn struct {
	SessionID string           `json:"session_id"`
	Text      string           `json:"text"`
	Code      string           `json:"code"`
	Intent    string           `json:"intent"`
	Pending   string           `json:"pending,omitempty"`
	Pilots    []PilotCandidate `json:"pilot_candidates,omitempty"`
	Drones    []DroneCandidate `json:"drone_candidates,omitempty"`
	Conflicts []Conflict       `json:"conflicts,omitempty"`
}

type Candidates struct {
	MissionID string           `json:"mission_id"`
	Kind      string           `json:"kind"`
	Text      string           `json:"text"`
	Pilots    []PilotCandidate `json:"pilot_candidates"`
	Drones    []DroneCandidate `json:"drone_candidates"`
}

// ActionResult is returned by mutating endpoints.
type ActionResult struct {
	Text      string     `json:"text"`
	Code      string     `json:"code"`
	Conflicts []Conflict `json:"conflicts,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityID   string         `json:"entity_id"`
	EntityKind string         `json:"entity_kind"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ErrorCode returns the API error code carried by err, or "".
func ErrorCode(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}

// Say sends one message to a conversation.
func (c *Client) Say(ctx context.Context, sessionID, text string) (Turn, error) {
	var resp Turn
	endpoint := fmt.Sprintf("sessions/%s/turns", url.PathEscape(sessionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"text": text}, &resp)
	return resp, err
}

// ResetSession abandons any flow in progress.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	return c.do(ctx, http.MethodDelete, "sessions/"+url.PathEscape(sessionID), nil, nil)
}

func (c *Client) Pilots(ctx context.Context, status, location string) ([]Pilot, error) {
	var resp []Pilot
	err := c.do(ctx, http.MethodGet, withQuery("pilots", "status", status, "location", location), nil, &resp)
	return resp, err
}

func (c *Client) Drones(ctx context.Context, status, location string) ([]Drone, error) {
	var resp []Drone
	err := c.do(ctx, http.MethodGet, withQuery("drones", "status", status, "location", location), nil, &resp)
	return resp, err
}

func (c *Client) Missions(ctx context.Context, status, location string) ([]Mission, error) {
	var resp []Mission
	err := c.do(ctx, http.MethodGet, withQuery("missions", "status", status, "location", location), nil, &resp)
	return resp, err
}

// Conflicts returns detected conflicts, optionally limited to one severity.
func (c *Client) Conflicts(ctx context.Context, severity string) ([]Conflict, error) {
	var resp struct {
		Items []Conflict `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, withQuery("conflicts", "severity", severity), nil, &resp)
	return resp.Items, err
}

// Candidates ranks pilots or drones for a mission.
func (c *Client) Candidates(ctx context.Context, missionID, kind string) (Candidates, error) {
	var resp Candidates
	endpoint := withQuery(fmt.Sprintf("missions/%s/candidates", url.PathEscape(missionID)), "kind", kind)
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Assign links a pilot or drone to a mission.
func (c *Client) Assign(ctx context.Context, missionID, kind, resourceID string) (ActionResult, error) {
	var resp ActionResult
	endpoint := fmt.Sprintf("missions/%s/assignments", url.PathEscape(missionID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"kind": kind, "resource_id": resourceID}, &resp)
	return resp, err
}

// SetStatus changes the status of a pilot, drone or mission.
func (c *Client) SetStatus(ctx context.Context, entityType, id, status string) (ActionResult, error) {
	var resp ActionResult
	endpoint := fmt.Sprintf("%ss/%s/status", entityType, url.PathEscape(id))
	err := c.do(ctx, http.MethodPut, endpoint, map[string]any{"status": status}, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	lim := ""
	if limit > 0 {
		lim = fmt.Sprintf("%d", limit)
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, withQuery("events", "limit", lim, "cursor", cursor), nil, &resp)
	return resp, err
}

func withQuery(endpoint string, kv ...string) string {
	q := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		if kv[i+1] != "" {
			q.Set(kv[i], kv[i+1])
		}
	}
	if len(q) == 0 {
		return endpoint
	}
	return endpoint + "?" + q.Encode()
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base
}
