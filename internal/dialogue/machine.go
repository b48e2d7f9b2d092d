package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"skylark/internal/domain"
	"skylark/internal/intent"
	"skylark/internal/rank"
)

// Reply is what one turn produces for the caller to render.
type Reply struct {
	Text      string                `json:"text"`
	Code      string                `json:"code"`
	Pilots    []rank.PilotCandidate `json:"pilot_candidates,omitempty"`
	Drones    []rank.DroneCandidate `json:"drone_candidates,omitempty"`
	Conflicts []domain.Conflict     `json:"conflicts,omitempty"`
}

// Text builds an informational reply.
func Text(format string, args ...any) Reply {
	return Reply{Text: fmt.Sprintf(format, args...), Code: domain.CodeOK}
}

// ErrorReply renders err for the user.
func ErrorReply(err error) Reply {
	return Reply{Text: domain.Message(err), Code: domain.Code(err)}
}

// Actions are the side effects a completed flow triggers.
type Actions interface {
	// Describe returns a short label for an entity or a NotFoundError.
	Describe(ctx context.Context, et domain.EntityType, id string) (string, error)
	// Candidates lists ranked resources for a mission. An empty list is not an error.
	Candidates(ctx context.Context, kind domain.EntityType, missionID string) (Reply, error)
	Assign(ctx context.Context, kind domain.EntityType, resourceID, missionID string) (Reply, error)
	Create(ctx context.Context, kind domain.EntityType, rec domain.Record) (Reply, error)
	Update(ctx context.Context, et domain.EntityType, id, field, value string) (Reply, error)
	Delete(ctx context.Context, et domain.EntityType, id string) (Reply, error)
}

type Machine struct {
	Actions Actions
}

var cancelWords = map[string]bool{"cancel": true, "stop": true, "abort": true, "nevermind": true, "quit": true}

// IsCancel reports an explicit request to abandon the active flow.
func IsCancel(text string) bool {
	norm := strings.TrimSpace(intent.Normalize(text))
	return cancelWords[norm] || norm == "never mind"
}

// Advance routes one user turn into the active flow and returns the next state.
func (m Machine) Advance(ctx context.Context, st State, text string, res intent.Result) (State, Reply) {
	if _, idle := st.(Idle); !idle && IsCancel(text) {
		return Idle{}, Text("Cancelled. Nothing was changed.")
	}
	switch s := st.(type) {
	case Idle:
		return Idle{}, Reply{Text: "There is nothing in progress.", Code: domain.CodeOK}
	case AwaitingAssignmentKind:
		kind := resourceSlot(res)
		if kind == "" {
			return s, Text("Please answer pilot or drone.")
		}
		if s.MissionID != "" {
			return m.toSelection(ctx, kind, s.MissionID)
		}
		return AwaitingMission{Kind: kind}, missionPrompt(kind)
	case AwaitingMission:
		missionID := res.Slot(intent.SlotMissionID)
		if missionID == "" {
			return s, Text("I need a mission id such as PRJ001 for the %s.", s.Kind)
		}
		if s.ResourceID != "" {
			return m.assignChosen(ctx, s, missionID)
		}
		return m.toSelection(ctx, s.Kind, missionID)
	case AwaitingSelection:
		return m.selection(ctx, s, res)
	case AwaitingCreateType:
		kind := domain.EntityType(res.Slot(intent.SlotKind))
		if !kind.Valid() {
			return s, Text("What would you like to add? Reply pilot, drone or mission.")
		}
		return AwaitingDetails{Kind: kind}, detailsPrompt(kind)
	case AwaitingDetails:
		rec, err := ParseDetails(s.Kind, text)
		if err != nil {
			return Idle{}, ErrorReply(err)
		}
		reply, err := m.Actions.Create(ctx, s.Kind, rec)
		if err != nil {
			return Idle{}, ErrorReply(err)
		}
		return Idle{}, reply
	case AwaitingFieldToEdit:
		field, err := editableField(s.Type, text)
		if err != nil {
			reply := ErrorReply(err)
			reply.Text += " " + fieldPrompt(s.Type, s.ID).Text
			return s, reply
		}
		return AwaitingNewValue{Type: s.Type, ID: s.ID, Field: field}, valuePrompt(s.Type, s.ID, field)
	case AwaitingNewValue:
		value, err := domain.ValidateValue(s.Type, s.Field, text)
		if err != nil {
			return Idle{}, ErrorReply(err)
		}
		reply, err := m.Actions.Update(ctx, s.Type, s.ID, s.Field, value)
		if err != nil {
			return Idle{}, ErrorReply(err)
		}
		return Idle{}, reply
	case AwaitingDeleteConfirmation:
		if !IsConfirm(text) {
			return Idle{}, Text("Deletion of %s %s cancelled.", s.Type, s.ID)
		}
		reply, err := m.Actions.Delete(ctx, s.Type, s.ID)
		if err != nil {
			return Idle{}, ErrorReply(err)
		}
		return Idle{}, reply
	}
	return Idle{}, ErrorReply(fmt.Errorf("unsupported dialogue state %T", st))
}

func (m Machine) toSelection(ctx context.Context, kind domain.EntityType, missionID string) (State, Reply) {
	reply, err := m.Actions.Candidates(ctx, kind, missionID)
	var nf domain.NotFoundError
	if errors.As(err, &nf) {
		return AwaitingMission{Kind: kind}, Text("Mission %s was not found. Which mission is the %s for?", missionID, kind)
	}
	if err != nil {
		return Idle{}, ErrorReply(err)
	}
	reply.Text = strings.TrimSpace(reply.Text + fmt.Sprintf("\n\nReply with the %s id to assign to %s, or cancel.", kind, missionID))
	return AwaitingSelection{Kind: kind, MissionID: missionID}, reply
}

// assignChosen completes an assignment whose resource was named before the mission.
// An unknown mission re-prompts; any other outcome ends the flow.
func (m Machine) assignChosen(ctx context.Context, s AwaitingMission, missionID string) (State, Reply) {
	reply, err := m.Actions.Assign(ctx, s.Kind, s.ResourceID, missionID)
	var nf domain.NotFoundError
	if errors.As(err, &nf) && nf.Type == domain.EntityMission {
		return s, Text("Mission %s was not found. Which mission should %s %s be assigned to?", missionID, s.Kind, s.ResourceID)
	}
	if err != nil {
		return Idle{}, ErrorReply(err)
	}
	return Idle{}, reply
}

func (m Machine) selection(ctx context.Context, s AwaitingSelection, res intent.Result) (State, Reply) {
	slot := intent.SlotPilotID
	if s.Kind == domain.EntityDrone {
		slot = intent.SlotDroneID
	}
	id := res.Slot(slot)
	if id == "" {
		return s, Text("Please reply with a %s id for %s.", s.Kind, s.MissionID)
	}
	reply, err := m.Actions.Assign(ctx, s.Kind, id, s.MissionID)
	var (
		nf domain.NotFoundError
		pe domain.PreconditionError
	)
	switch {
	case errors.As(err, &nf) && nf.Type == s.Kind:
		return s, Text("%s %s was not found. Please reply with another %s id.", s.Kind, id, s.Kind)
	case errors.As(err, &pe):
		reply := ErrorReply(err)
		reply.Text += fmt.Sprintf(" Please reply with another %s id for %s, or cancel.", s.Kind, s.MissionID)
		return s, reply
	case err != nil:
		return Idle{}, ErrorReply(err)
	}
	return Idle{}, reply
}

// StartAssign opens the assignment flow, skipping steps the command already answers.
func (m Machine) StartAssign(ctx context.Context, res intent.Result) (State, Reply) {
	missionID := res.Slot(intent.SlotMissionID)
	kind := resourceSlot(res)
	if kind == "" {
		switch {
		case res.Slot(intent.SlotPilotID) != "":
			kind = domain.EntityPilot
		case res.Slot(intent.SlotDroneID) != "":
			kind = domain.EntityDrone
		}
	}
	if kind == "" {
		return AwaitingAssignmentKind{MissionID: missionID}, Text("Should I assign a pilot or a drone?")
	}
	resourceID := res.Slot(intent.SlotPilotID)
	if kind == domain.EntityDrone {
		resourceID = res.Slot(intent.SlotDroneID)
	}
	if missionID == "" {
		reply := missionPrompt(kind)
		if resourceID != "" {
			reply = Text("Which mission should %s %s be assigned to? Give a mission id such as PRJ001.", kind, resourceID)
		}
		return AwaitingMission{Kind: kind, ResourceID: resourceID}, reply
	}
	if resourceID == "" {
		return m.toSelection(ctx, kind, missionID)
	}
	reply, err := m.Actions.Assign(ctx, kind, resourceID, missionID)
	if err != nil {
		return Idle{}, ErrorReply(err)
	}
	return Idle{}, reply
}

// StartCreate opens the creation flow.
func (m Machine) StartCreate(_ context.Context, res intent.Result) (State, Reply) {
	if kind := res.Slot(intent.SlotKind); kind != "" {
		return AwaitingDetails{Kind: domain.EntityType(kind)}, detailsPrompt(domain.EntityType(kind))
	}
	return AwaitingCreateType{}, Text("What would you like to add? Reply pilot, drone or mission.")
}

// StartEdit opens the field edit flow for the referenced entity.
func (m Machine) StartEdit(ctx context.Context, res intent.Result) (State, Reply) {
	if res.EntityID == "" {
		return Idle{}, ErrorReply(domain.MissingSlotError{Slot: "entity id", Hint: "say which pilot, drone or mission to edit, e.g. edit P001"})
	}
	label, err := m.Actions.Describe(ctx, res.EntityType, res.EntityID)
	if err != nil {
		return Idle{}, ErrorReply(err)
	}
	if named := res.Slot(intent.SlotField); named != "" {
		if field, err := editableField(res.EntityType, named); err == nil {
			return AwaitingNewValue{Type: res.EntityType, ID: res.EntityID, Field: field}, valuePrompt(res.EntityType, res.EntityID, field)
		}
	}
	reply := fieldPrompt(res.EntityType, res.EntityID)
	reply.Text = "Editing " + label + ". " + reply.Text
	return AwaitingFieldToEdit{Type: res.EntityType, ID: res.EntityID}, reply
}

// StartDelete asks for confirmation before removing the referenced entity.
func (m Machine) StartDelete(ctx context.Context, res intent.Result) (State, Reply) {
	if res.EntityID == "" {
		return Idle{}, ErrorReply(domain.MissingSlotError{Slot: "entity id", Hint: "say which pilot, drone or mission to delete, e.g. delete D002"})
	}
	label, err := m.Actions.Describe(ctx, res.EntityType, res.EntityID)
	if err != nil {
		return Idle{}, ErrorReply(err)
	}
	return AwaitingDeleteConfirmation{Type: res.EntityType, ID: res.EntityID},
		Text("Delete %s? Reply yes to confirm; anything else cancels.", label)
}

// IsConfirm accepts yes or confirm as the first word.
func IsConfirm(text string) bool {
	words := strings.Fields(intent.Normalize(text))
	if len(words) == 0 {
		return false
	}
	switch words[0] {
	case "yes", "y", "confirm", "confirmed":
		return true
	}
	return false
}

func resourceSlot(res intent.Result) domain.EntityType {
	switch domain.EntityType(res.Slot(intent.SlotKind)) {
	case domain.EntityPilot:
		return domain.EntityPilot
	case domain.EntityDrone:
		return domain.EntityDrone
	}
	return ""
}

func editableField(et domain.EntityType, name string) (string, error) {
	field, ok := intent.ResolveField(et, name)
	if !ok {
		return "", domain.ValidationError{Field: "field", Reason: fmt.Sprintf("%q is not a %s field", strings.TrimSpace(name), et)}
	}
	if field == et.IDField() {
		return "", domain.ValidationError{Field: field, Reason: "ids cannot be edited"}
	}
	if domain.AssignmentFields[field] {
		return "", domain.ValidationError{Field: field, Reason: "use assign or unassign to change assignments"}
	}
	return field, nil
}

func editableFields(et domain.EntityType) []string {
	var out []string
	for _, f := range domain.Fields[et] {
		if f != et.IDField() && !domain.AssignmentFields[f] {
			out = append(out, f)
		}
	}
	return out
}

func missionPrompt(kind domain.EntityType) Reply {
	return Text("Which mission is the %s for? Give a mission id such as PRJ001.", kind)
}

func fieldPrompt(et domain.EntityType, id string) Reply {
	return Text("Which field of %s should I change? Fields: %s.", id, strings.Join(editableFields(et), ", "))
}

func valuePrompt(et domain.EntityType, id, field string) Reply {
	hint := ""
	switch field {
	case domain.FieldStatus:
		hint = " (" + strings.Join(domain.Statuses[et], ", ") + ")"
	case domain.FieldAvailableFrom, domain.FieldStartDate, domain.FieldEndDate:
		hint = " (YYYY-MM-DD)"
	case domain.FieldSkills, domain.FieldRequiredSkills:
		hint = " (comma separated)"
	}
	return Text("What is the new %s for %s%s?", field, id, hint)
}
