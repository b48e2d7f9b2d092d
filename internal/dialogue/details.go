package dialogue

import (
	"fmt"
	"strings"

	"skylark/internal/domain"
)

// detailFields is the positional layout of a creation line per collection.
var detailFields = map[domain.EntityType][]string{
	domain.EntityPilot:   {domain.FieldName, domain.FieldSkills, domain.FieldLocation, domain.FieldAvailableFrom},
	domain.EntityDrone:   {domain.FieldModel, domain.FieldLocation, domain.FieldFlightHours},
	domain.EntityMission: {domain.FieldName, domain.FieldLocation, domain.FieldStartDate, domain.FieldEndDate, domain.FieldRequiredSkills},
}

// ParseDetails reads one "a | b | c" line into a new record with default status
// and no assignment.
func ParseDetails(kind domain.EntityType, line string) (domain.Record, error) {
	fields, ok := detailFields[kind]
	if !ok {
		return nil, domain.ValidationError{Field: "type", Reason: fmt.Sprintf("cannot create %q", kind)}
	}
	parts := strings.Split(line, "|")
	if len(parts) != len(fields) {
		return nil, domain.ValidationError{
			Reason: fmt.Sprintf("expected %d values separated by | (%s), got %d", len(fields), strings.Join(fields, " | "), len(parts)),
		}
	}
	rec := domain.Record{}
	for i, field := range fields {
		value, err := domain.ValidateValue(kind, field, parts[i])
		if err != nil {
			return nil, err
		}
		rec[field] = value
	}
	switch kind {
	case domain.EntityPilot:
		rec[domain.FieldStatus] = domain.StatusAvailable
		rec[domain.FieldCurrentAssignment] = domain.Unassigned
	case domain.EntityDrone:
		rec[domain.FieldStatus] = domain.StatusAvailable
		rec[domain.FieldCurrentAssignment] = domain.Unassigned
	case domain.EntityMission:
		start, _ := domain.ParseDate(rec[domain.FieldStartDate])
		end, _ := domain.ParseDate(rec[domain.FieldEndDate])
		if end.Before(start) {
			return nil, domain.ValidationError{Field: domain.FieldEndDate, Reason: "ends before it starts"}
		}
		rec[domain.FieldStatus] = domain.StatusPending
		rec[domain.FieldAssignedPilot] = domain.Unassigned
		rec[domain.FieldAssignedDrone] = domain.Unassigned
	}
	return rec, nil
}

func detailsPrompt(kind domain.EntityType) Reply {
	switch kind {
	case domain.EntityPilot:
		return Text("Send the pilot on one line: name | skills (comma separated) | location | available from (YYYY-MM-DD)")
	case domain.EntityDrone:
		return Text("Send the drone on one line: model | location | flight hours")
	}
	return Text("Send the mission on one line: name | location | start date | end date | required skills")
}
