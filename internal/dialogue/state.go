// Package dialogue sequences the multi-turn flows that collect missing slots
// before an assignment, creation, edit or deletion can run.
package dialogue

import (
	"encoding/json"
	"fmt"
	"strings"

	"skylark/internal/domain"
)

// State is one flow position. The set of implementations is closed.
type State interface {
	Action() string
	isState()
}

type Idle struct{}

// AwaitingAssignmentKind waits for "pilot" or "drone". MissionID is kept when the
// opening command already named the mission.
type AwaitingAssignmentKind struct {
	MissionID string `json:"mission_id,omitempty"`
}

// AwaitingMission waits for the mission id. ResourceID is kept when the opening
// command already named the pilot or drone.
type AwaitingMission struct {
	Kind       domain.EntityType `json:"-"`
	ResourceID string            `json:"resource_id,omitempty"`
}

type AwaitingSelection struct {
	Kind      domain.EntityType `json:"-"`
	MissionID string            `json:"mission_id"`
}

type AwaitingCreateType struct{}

type AwaitingDetails struct {
	Kind domain.EntityType `json:"-"`
}

type AwaitingFieldToEdit struct {
	Type domain.EntityType `json:"entity_type"`
	ID   string            `json:"entity_id"`
}

type AwaitingNewValue struct {
	Type  domain.EntityType `json:"entity_type"`
	ID    string            `json:"entity_id"`
	Field string            `json:"field"`
}

type AwaitingDeleteConfirmation struct {
	Type domain.EntityType `json:"entity_type"`
	ID   string            `json:"entity_id"`
}

const (
	actionAssignmentKind     = "awaiting_assignment_kind"
	actionMissionFor         = "awaiting_mission_for_"
	actionSelectionSuffix    = "_selection"
	actionCreateType         = "awaiting_create_type"
	actionDetailsSuffix      = "_details"
	actionFieldToEdit        = "awaiting_field_to_edit"
	actionNewValue           = "awaiting_new_value"
	actionDeleteConfirmation = "awaiting_delete_confirmation"
)

func (Idle) Action() string                   { return "" }
func (AwaitingAssignmentKind) Action() string { return actionAssignmentKind }
func (s AwaitingMission) Action() string      { return actionMissionFor + string(s.Kind) }
func (s AwaitingSelection) Action() string {
	return "awaiting_" + string(s.Kind) + actionSelectionSuffix
}
func (AwaitingCreateType) Action() string { return actionCreateType }
func (s AwaitingDetails) Action() string {
	return "awaiting_" + string(s.Kind) + actionDetailsSuffix
}
func (AwaitingFieldToEdit) Action() string        { return actionFieldToEdit }
func (AwaitingNewValue) Action() string           { return actionNewValue }
func (AwaitingDeleteConfirmation) Action() string { return actionDeleteConfirmation }

func (Idle) isState()                       {}
func (AwaitingAssignmentKind) isState()     {}
func (AwaitingMission) isState()            {}
func (AwaitingSelection) isState()          {}
func (AwaitingCreateType) isState()         {}
func (AwaitingDetails) isState()            {}
func (AwaitingFieldToEdit) isState()        {}
func (AwaitingNewValue) isState()           {}
func (AwaitingDeleteConfirmation) isState() {}

// Encode flattens a state into the stored (current_action, temp_data) pair.
func Encode(s State) (string, string, error) {
	if s == nil {
		return "", "", nil
	}
	if _, idle := s.(Idle); idle {
		return "", "", nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", "", fmt.Errorf("encode %s: %w", s.Action(), err)
	}
	return s.Action(), string(data), nil
}

// Decode rebuilds a state from its stored form.
func Decode(action, data string) (State, error) {
	if strings.TrimSpace(data) == "" {
		data = "{}"
	}
	var (
		st  State
		err error
	)
	switch {
	case action == "":
		return Idle{}, nil
	case action == actionAssignmentKind:
		var s AwaitingAssignmentKind
		err = json.Unmarshal([]byte(data), &s)
		st = s
	case strings.HasPrefix(action, actionMissionFor):
		kind, ok := resourceKind(strings.TrimPrefix(action, actionMissionFor))
		if !ok {
			return nil, fmt.Errorf("unknown dialogue action %q", action)
		}
		s := AwaitingMission{Kind: kind}
		err = json.Unmarshal([]byte(data), &s)
		st = s
	case action == actionCreateType:
		st = AwaitingCreateType{}
	case action == actionFieldToEdit:
		var s AwaitingFieldToEdit
		err = json.Unmarshal([]byte(data), &s)
		st = s
	case action == actionNewValue:
		var s AwaitingNewValue
		err = json.Unmarshal([]byte(data), &s)
		st = s
	case action == actionDeleteConfirmation:
		var s AwaitingDeleteConfirmation
		err = json.Unmarshal([]byte(data), &s)
		st = s
	case strings.HasSuffix(action, actionSelectionSuffix):
		kind, ok := resourceKind(strings.TrimSuffix(strings.TrimPrefix(action, "awaiting_"), actionSelectionSuffix))
		if !ok {
			return nil, fmt.Errorf("unknown dialogue action %q", action)
		}
		s := AwaitingSelection{Kind: kind}
		err = json.Unmarshal([]byte(data), &s)
		st = s
	case strings.HasSuffix(action, actionDetailsSuffix):
		kind, ok := domain.ParseEntityType(strings.TrimSuffix(strings.TrimPrefix(action, "awaiting_"), actionDetailsSuffix))
		if !ok {
			return nil, fmt.Errorf("unknown dialogue action %q", action)
		}
		st = AwaitingDetails{Kind: kind}
	default:
		return nil, fmt.Errorf("unknown dialogue action %q", action)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", action, err)
	}
	return st, nil
}

func resourceKind(s string) (domain.EntityType, bool) {
	et, ok := domain.ParseEntityType(s)
	if !ok || et == domain.EntityMission {
		return "", false
	}
	return et, true
}
