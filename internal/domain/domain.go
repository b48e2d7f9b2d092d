package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityType names one of the three fleet collections.
type EntityType string

const (
	EntityPilot   EntityType = "pilot"
	EntityDrone   EntityType = "drone"
	EntityMission EntityType = "mission"
)

// EntityTypes lists the collections in display order.
var EntityTypes = []EntityType{EntityPilot, EntityDrone, EntityMission}

func (t EntityType) Valid() bool {
	switch t {
	case EntityPilot, EntityDrone, EntityMission:
		return true
	}
	return false
}

// IDField returns the record field holding the entity id.
func (t EntityType) IDField() string {
	switch t {
	case EntityPilot:
		return FieldPilotID
	case EntityDrone:
		return FieldDroneID
	case EntityMission:
		return FieldProjectID
	}
	return ""
}

// IDPrefix returns the prefix new ids are minted with.
func (t EntityType) IDPrefix() string {
	switch t {
	case EntityPilot:
		return "P"
	case EntityDrone:
		return "D"
	case EntityMission:
		return "PRJ"
	}
	return ""
}

// MintID formats the nth id of the collection, zero padded to width digits.
// Pilot and drone ids keep a zero right after the letter however large n grows,
// so P0100 follows P099.
func (t EntityType) MintID(n, width int) string {
	digits := fmt.Sprintf("%0*d", width, n)
	if t != EntityMission && !strings.HasPrefix(digits, "0") {
		digits = "0" + digits
	}
	return t.IDPrefix() + digits
}

// Title returns the capitalized type name for messages.
func (t EntityType) Title() string {
	if t == "" {
		return ""
	}
	return strings.ToUpper(string(t[:1])) + string(t[1:])
}

// ParseEntityType accepts singular, plural and "project" spellings.
func ParseEntityType(s string) (EntityType, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pilot", "pilots":
		return EntityPilot, true
	case "drone", "drones":
		return EntityDrone, true
	case "mission", "missions", "project", "projects":
		return EntityMission, true
	}
	return "", false
}

const (
	StatusAvailable   = "Available"
	StatusAssigned    = "Assigned"
	StatusOnLeave     = "On Leave"
	StatusUnavailable = "Unavailable"
	StatusMaintenance = "Maintenance"
	StatusActive      = "Active"
	StatusPending     = "Pending"
	StatusCompleted   = "Completed"
)

// Unassigned is the stored value of an empty assignment reference.
const Unassigned = "none"

// DateLayout is the on-disk date format.
const DateLayout = "2006-01-02"

// NormalizeAssignment maps the placeholder spellings of "no assignment" to Unassigned.
func NormalizeAssignment(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "none", "-", "–", "—", "n/a":
		return Unassigned
	}
	return v
}

// IsAssigned reports whether an assignment reference is live.
func IsAssigned(v string) bool {
	return NormalizeAssignment(v) != Unassigned
}

// ParseDate parses a YYYY-MM-DD date.
func ParseDate(s string) (time.Time, bool) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type Pilot struct {
	ID                string   `json:"pilot_id"`
	Name              string   `json:"name"`
	Skills            []string `json:"skills"`
	Location          string   `json:"location"`
	Status            string   `json:"status" enum:"Available,Assigned,On Leave,Unavailable"`
	CurrentAssignment string   `json:"current_assignment"`
	AvailableFrom     string   `json:"available_from"`
}

type Drone struct {
	ID                string  `json:"drone_id"`
	Model             string  `json:"model"`
	Location          string  `json:"location"`
	Status            string  `json:"status" enum:"Available,Assigned,Maintenance"`
	CurrentAssignment string  `json:"current_assignment"`
	FlightHours       float64 `json:"flight_hours"`
}

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

// Snapshot is one consistent read of all three collections.
type Snapshot struct {
	Pilots   []Pilot
	Drones   []Drone
	Missions []Mission
}

func (s Snapshot) Pilot(id string) (Pilot, bool) {
	for _, p := range s.Pilots {
		if strings.EqualFold(p.ID, id) {
			return p, true
		}
	}
	return Pilot{}, false
}

func (s Snapshot) Drone(id string) (Drone, bool) {
	for _, d := range s.Drones {
		if strings.EqualFold(d.ID, id) {
			return d, true
		}
	}
	return Drone{}, false
}

func (s Snapshot) Mission(id string) (Mission, bool) {
	for _, m := range s.Missions {
		if strings.EqualFold(m.ID, id) {
			return m, true
		}
	}
	return Mission{}, false
}

// SplitSkills parses a comma-separated skill list, dropping blanks.
func SplitSkills(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func JoinSkills(skills []string) string {
	return strings.Join(skills, ", ")
}

// MissingSkills returns the required skills absent from have, verbatim and in order.
// Matching ignores case and surrounding whitespace.
func MissingSkills(have, required []string) []string {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[skillKey(s)] = struct{}{}
	}
	var missing []string
	for _, req := range required {
		if _, ok := set[skillKey(req)]; !ok {
			missing = append(missing, req)
		}
	}
	return missing
}

// MatchedSkills counts required skills present in have. Duplicate requirements count each time.
func MatchedSkills(have, required []string) int {
	return len(required) - len(MissingSkills(have, required))
}

func skillKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func formatHours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}

// Event is an audit log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// StatusIs compares statuses ignoring case and surrounding whitespace.
func StatusIs(status, want string) bool {
	return strings.EqualFold(strings.TrimSpace(status), want)
}

// SameLocation compares locations ignoring case and surrounding whitespace.
func SameLocation(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
