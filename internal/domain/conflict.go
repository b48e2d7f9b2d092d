package domain

// Severity orders conflicts for presentation.
type Severity string

const (
	SeverityCritical Severity = "Critical"
	SeverityHigh     Severity = "High"
	SeverityMedium   Severity = "Medium"
)

// Rank is lower for more severe conflicts.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	}
	return 3
}

type ConflictKind string

const (
	ConflictDoubleBooking        ConflictKind = "double_booking"
	ConflictDate                 ConflictKind = "date_conflict"
	ConflictSkillMismatch        ConflictKind = "skill_mismatch"
	ConflictLocationMismatch     ConflictKind = "location_mismatch"
	ConflictEquipmentUnavailable ConflictKind = "equipment_unavailable"
	ConflictPilotUnavailable     ConflictKind = "pilot_unavailable"
	ConflictDanglingAssignment   ConflictKind = "dangling_assignment"
	ConflictAssignmentMismatch   ConflictKind = "assignment_mismatch"
)

// EntityRef points at one record.
type EntityRef struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// Conflict is a detected violation of a fleet consistency rule. It is informational.
type Conflict struct {
	Kind      ConflictKind `json:"kind"`
	Entity    EntityRef    `json:"entity"`
	MissionID string       `json:"mission_id,omitempty"`
	Message   string       `json:"message"`
	Severity  Severity     `json:"severity" enum:"Critical,High,Medium"`
}
