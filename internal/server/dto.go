package server

import (
	"encoding/json"

	"skylark/internal/domain"
	"skylark/internal/engine"
	"skylark/internal/rank"
)

// Request payloads

type TurnRequest struct {
	Text string `json:"text" minLength:"1" doc:"One user message in natural language"`
}

type AssignRequest struct {
	Kind       string `json:"kind" enum:"pilot,drone"`
	ResourceID string `json:"resource_id" minLength:"1"`
}

type StatusRequest struct {
	Status string `json:"status" minLength:"1"`
}

// Response payloads

type TurnResponse struct {
	SessionID string                `json:"session_id"`
	Text      string                `json:"text"`
	Code      string                `json:"code"`
	Intent    string                `json:"intent"`
	Pending   string                `json:"pending,omitempty"`
	Pilots    []rank.PilotCandidate `json:"pilot_candidates,omitempty"`
	Drones    []rank.DroneCandidate `json:"drone_candidates,omitempty"`
	Conflicts []domain.Conflict     `json:"conflicts,omitempty"`
}

type ActionResponse struct {
	Text      string            `json:"text"`
	Code      string            `json:"code"`
	Conflicts []domain.Conflict `json:"conflicts,omitempty"`
}

type CandidatesResponse struct {
	MissionID string                `json:"mission_id"`
	Kind      string                `json:"kind"`
	Text      string                `json:"text"`
	Pilots    []rank.PilotCandidate `json:"pilot_candidates"`
	Drones    []rank.DroneCandidate `json:"drone_candidates"`
}

type ConflictsResponse struct {
	Count int               `json:"count"`
	Items []domain.Conflict `json:"items"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func turnResponse(sessionID string, res engine.Response) TurnResponse {
	return TurnResponse{
		SessionID: sessionID,
		Text:      res.Text,
		Code:      res.Code,
		Intent:    string(res.Intent),
		Pending:   res.Pending,
		Pilots:    res.Pilots,
		Drones:    res.Drones,
		Conflicts: res.Conflicts,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var tmp any
	if err := json.Unmarshal([]byte(raw), &tmp); err != nil {
		return nil
	}
	if obj, ok := tmp.(map[string]any); ok {
		return obj
	}
	return nil
}
