package domain

import (
	"strconv"
	"strings"
)

// Statuses lists the allowed status values per collection.
var Statuses = map[EntityType][]string{
	EntityPilot:   {StatusAvailable, StatusAssigned, StatusOnLeave, StatusUnavailable},
	EntityDrone:   {StatusAvailable, StatusAssigned, StatusMaintenance},
	EntityMission: {StatusActive, StatusPending, StatusCompleted},
}

// CanonicalStatus returns the stored spelling of a status valid for et.
func CanonicalStatus(et EntityType, s string) (string, bool) {
	for _, st := range Statuses[et] {
		if StatusIs(s, st) {
			return st, true
		}
	}
	return "", false
}

// ValidateValue checks and canonicalizes a new field value.
func ValidateValue(et EntityType, field, value string) (string, error) {
	value = strings.TrimSpace(value)
	switch field {
	case FieldStatus:
		st, ok := CanonicalStatus(et, value)
		if !ok {
			return "", ValidationError{Field: field, Reason: "must be one of " + strings.Join(Statuses[et], ", ")}
		}
		return st, nil
	case FieldAvailableFrom, FieldStartDate, FieldEndDate:
		if _, ok := ParseDate(value); !ok {
			return "", ValidationError{Field: field, Reason: "expected a date like 2026-01-31"}
		}
		return value, nil
	case FieldFlightHours:
		h, err := strconv.ParseFloat(value, 64)
		if err != nil || h < 0 {
			return "", ValidationError{Field: field, Reason: "expected a non-negative number"}
		}
		return formatHours(h), nil
	case FieldSkills, FieldRequiredSkills:
		skills := SplitSkills(value)
		if len(skills) == 0 {
			return "", ValidationError{Field: field, Reason: "expected a comma-separated list"}
		}
		return JoinSkills(skills), nil
	case FieldCurrentAssignment, FieldAssignedPilot, FieldAssignedDrone:
		return NormalizeAssignment(value), nil
	}
	if value == "" {
		return "", ValidationError{Field: field, Reason: "must not be empty"}
	}
	return value, nil
}
