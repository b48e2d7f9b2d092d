// Package intent turns a free-text fleet command into an intent, a referenced
// entity and auxiliary slot values. Extraction is a pure function of the text
// and the roster used for name lookup.
package intent

import (
	"regexp"
	"strings"
	"unicode"

	"skylark/internal/domain"
)

type Intent string

const (
	None              Intent = ""
	Delete            Intent = "delete"
	Edit              Intent = "edit"
	Create            Intent = "create"
	ReportUnavailable Intent = "report_unavailable"
	SetStatus         Intent = "set_status"
	Unassign          Intent = "unassign"
	Assign            Intent = "assign"
	Conflicts         Intent = "conflicts"
	Recommend         Intent = "recommend"
	Availability      Intent = "availability"
	Roster            Intent = "roster"
	Missions          Intent = "missions"
	Info              Intent = "info"
)

// Rule is one row of the priority table.
type Rule struct {
	Intent   Intent
	Keywords []string
}

// Rules is evaluated top to bottom; the first rule with a matching keyword wins.
// Keywords match whole words or phrases of the normalized text.
var Rules = []Rule{
	{Delete, []string{"delete", "remove", "decommission", "retire"}},
	{Edit, []string{"edit", "change", "modify", "update"}},
	{Create, []string{"add", "create", "register", "onboard"}},
	{ReportUnavailable, []string{"not working", "unavailable", "not available", "maintenance", "offline", "sick", "broken", "grounded"}},
	{SetStatus, []string{"set", "mark", "on leave", "back"}},
	{Unassign, []string{"unassign", "release", "free up"}},
	{Assign, []string{"assign", "allocate", "reassign", "deploy"}},
	{Conflicts, []string{"conflict", "conflicts", "clash", "clashes", "double booked", "problems", "issues"}},
	{Recommend, []string{"find", "recommend", "suggest", "replacement", "replace", "best"}},
	{Availability, []string{"available", "free", "idle", "who can"}},
	{Roster, []string{"roster", "list", "pilots", "drones", "fleet", "team", "all"}},
	{Missions, []string{"missions", "projects"}},
	{Info, []string{"info", "details", "about", "show", "status", "who is", "what is", "tell me"}},
}

const (
	SlotMissionID = "mission_id"
	SlotPilotID   = "pilot_id"
	SlotDroneID   = "drone_id"
	SlotStatus    = "status"
	SlotKind      = "kind"
	SlotField     = "field"
)

// Result is the outcome of one extraction.
type Result struct {
	Intent     Intent            `json:"intent"`
	EntityID   string            `json:"entity_id,omitempty"`
	EntityType domain.EntityType `json:"entity_type,omitempty"`
	Slots      map[string]string `json:"slots"`
	// StatusExplicit is true when the status slot came from a keyword rather than the default.
	StatusExplicit bool `json:"status_explicit"`
}

// Slot returns a slot value or "".
func (r Result) Slot(name string) string {
	return r.Slots[name]
}

var (
	missionIDPattern = regexp.MustCompile(`^PRJ\d+$`)
	pilotIDPattern   = regexp.MustCompile(`^P0\d+$`)
	droneIDPattern   = regexp.MustCompile(`^D0\d+$`)
)

// ClassifyID reports which collection an id token belongs to.
func ClassifyID(token string) (domain.EntityType, bool) {
	token = strings.ToUpper(strings.TrimFunc(token, isPunct))
	switch {
	case missionIDPattern.MatchString(token):
		return domain.EntityMission, true
	case pilotIDPattern.MatchString(token):
		return domain.EntityPilot, true
	case droneIDPattern.MatchString(token):
		return domain.EntityDrone, true
	}
	return "", false
}

func isPunct(r rune) bool {
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// Extract parses text against the roster in snap.
func Extract(text string, snap domain.Snapshot) Result {
	res := Result{Slots: map[string]string{}}
	norm := Normalize(text)
	res.Intent = MatchIntent(norm)

	for _, raw := range strings.Fields(text) {
		token := strings.ToUpper(strings.TrimFunc(raw, isPunct))
		et, ok := ClassifyID(token)
		if !ok {
			continue
		}
		if res.EntityID == "" {
			res.EntityID, res.EntityType = token, et
		}
		slot := idSlot(et)
		if _, seen := res.Slots[slot]; !seen {
			res.Slots[slot] = token
		}
	}
	if res.EntityID == "" {
		res.EntityID, res.EntityType = lookupName(strings.ToLower(text), snap)
		if res.EntityID != "" {
			res.Slots[idSlot(res.EntityType)] = res.EntityID
		}
	}

	status, explicit := ExtractStatus(text)
	res.Slots[SlotStatus] = status
	res.StatusExplicit = explicit
	if kind := extractKind(norm); kind != "" {
		res.Slots[SlotKind] = string(kind)
	}
	if field := ExtractField(norm); field != "" {
		res.Slots[SlotField] = field
	}
	return res
}

func idSlot(et domain.EntityType) string {
	switch et {
	case domain.EntityMission:
		return SlotMissionID
	case domain.EntityPilot:
		return SlotPilotID
	}
	return SlotDroneID
}

func lookupName(lowered string, snap domain.Snapshot) (string, domain.EntityType) {
	for _, p := range snap.Pilots {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name != "" && strings.Contains(lowered, name) {
			return p.ID, domain.EntityPilot
		}
	}
	for _, d := range snap.Drones {
		model := strings.ToLower(strings.TrimSpace(d.Model))
		if model != "" && strings.Contains(lowered, model) {
			return d.ID, domain.EntityDrone
		}
	}
	return "", ""
}

// Normalize lowercases text, turns punctuation into spaces and pads it for word matching.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text) + 2)
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}
	return " " + strings.Join(strings.Fields(b.String()), " ") + " "
}

// MatchIntent applies the priority table to normalized text.
func MatchIntent(norm string) Intent {
	for _, rule := range Rules {
		for _, kw := range rule.Keywords {
			if containsPhrase(norm, kw) {
				return rule.Intent
			}
		}
	}
	return None
}

func containsPhrase(norm, phrase string) bool {
	return strings.Contains(norm, " "+phrase+" ")
}

var statusKeywords = []struct {
	needle string
	status string
}{
	{"leave", domain.StatusOnLeave},
	{"mainten", domain.StatusMaintenance},
	{"assign", domain.StatusAssigned},
	{"active", domain.StatusActive},
	{"complete", domain.StatusCompleted},
	{"pending", domain.StatusPending},
}

// ExtractStatus finds a target status by keyword presence, defaulting to Available.
func ExtractStatus(text string) (string, bool) {
	lowered := strings.ToLower(text)
	for _, kw := range statusKeywords {
		if strings.Contains(lowered, kw.needle) {
			return kw.status, true
		}
	}
	return domain.StatusAvailable, false
}

func extractKind(norm string) domain.EntityType {
	for _, word := range strings.Fields(norm) {
		switch word {
		case "pilot", "pilots":
			return domain.EntityPilot
		case "drone", "drones":
			return domain.EntityDrone
		}
	}
	for _, word := range strings.Fields(norm) {
		switch word {
		case "mission", "missions", "project", "projects":
			return domain.EntityMission
		}
	}
	return ""
}

// fieldPhrases is ordered longest phrase first so "required skills" beats "skills".
var fieldPhrases = []struct {
	phrase string
	field  string
}{
	{"current assignment", domain.FieldCurrentAssignment},
	{"required skills", domain.FieldRequiredSkills},
	{"available from", domain.FieldAvailableFrom},
	{"availability date", domain.FieldAvailableFrom},
	{"flight hours", domain.FieldFlightHours},
	{"start date", domain.FieldStartDate},
	{"end date", domain.FieldEndDate},
	{"assigned pilot", domain.FieldAssignedPilot},
	{"assigned drone", domain.FieldAssignedDrone},
	{"skills", domain.FieldSkills},
	{"location", domain.FieldLocation},
	{"status", domain.FieldStatus},
	{"model", domain.FieldModel},
	{"name", domain.FieldName},
	{"hours", domain.FieldFlightHours},
}

// ExtractField returns the store field named in normalized text, or "".
func ExtractField(norm string) string {
	for _, fp := range fieldPhrases {
		if containsPhrase(norm, fp.phrase) {
			return fp.field
		}
	}
	return ""
}

// ResolveField maps a user-supplied field name onto a header of the given collection.
func ResolveField(et domain.EntityType, name string) (string, bool) {
	field := ExtractField(Normalize(name))
	if field == "" {
		field = strings.ToLower(strings.TrimSpace(name))
	}
	if et == domain.EntityMission && field == domain.FieldSkills {
		field = domain.FieldRequiredSkills
	}
	if et != domain.EntityMission && field == domain.FieldRequiredSkills {
		field = domain.FieldSkills
	}
	for _, f := range domain.Fields[et] {
		if f == field {
			return field, true
		}
	}
	return "", false
}
