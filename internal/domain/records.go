package domain

import (
	"strconv"
	"strings"
)

// Record is one row of a collection keyed by field name.
type Record map[string]string

const (
	FieldPilotID           = "pilot_id"
	FieldDroneID           = "drone_id"
	FieldProjectID         = "project_id"
	FieldName              = "name"
	FieldModel             = "model"
	FieldSkills            = "skills"
	FieldLocation          = "location"
	FieldStatus            = "status"
	FieldCurrentAssignment = "current_assignment"
	FieldAvailableFrom     = "available_from"
	FieldFlightHours       = "flight_hours"
	FieldStartDate         = "start_date"
	FieldEndDate           = "end_date"
	FieldRequiredSkills    = "required_skills"
	FieldAssignedPilot     = "assigned_pilot"
	FieldAssignedDrone     = "assigned_drone"
)

// Fields lists the ordered header of each collection.
var Fields = map[EntityType][]string{
	EntityPilot:   {FieldPilotID, FieldName, FieldSkills, FieldLocation, FieldStatus, FieldCurrentAssignment, FieldAvailableFrom},
	EntityDrone:   {FieldDroneID, FieldModel, FieldLocation, FieldStatus, FieldCurrentAssignment, FieldFlightHours},
	EntityMission: {FieldProjectID, FieldName, FieldLocation, FieldStatus, FieldStartDate, FieldEndDate, FieldRequiredSkills, FieldAssignedPilot, FieldAssignedDrone},
}

// AssignmentFields are the reference columns that must change in pairs.
var AssignmentFields = map[string]bool{
	FieldCurrentAssignment: true,
	FieldAssignedPilot:     true,
	FieldAssignedDrone:     true,
}

func (r Record) get(field string) string {
	return strings.TrimSpace(r[field])
}

func PilotFromRecord(r Record) Pilot {
	return Pilot{
		ID:                r.get(FieldPilotID),
		Name:              r.get(FieldName),
		Skills:            SplitSkills(r[FieldSkills]),
		Location:          r.get(FieldLocation),
		Status:            r.get(FieldStatus),
		CurrentAssignment: NormalizeAssignment(r[FieldCurrentAssignment]),
		AvailableFrom:     r.get(FieldAvailableFrom),
	}
}

func (p Pilot) Record() Record {
	return Record{
		FieldPilotID:           p.ID,
		FieldName:              p.Name,
		FieldSkills:            JoinSkills(p.Skills),
		FieldLocation:          p.Location,
		FieldStatus:            p.Status,
		FieldCurrentAssignment: NormalizeAssignment(p.CurrentAssignment),
		FieldAvailableFrom:     p.AvailableFrom,
	}
}

func DroneFromRecord(r Record) Drone {
	hours, _ := strconv.ParseFloat(r.get(FieldFlightHours), 64)
	return Drone{
		ID:                r.get(FieldDroneID),
		Model:             r.get(FieldModel),
		Location:          r.get(FieldLocation),
		Status:            r.get(FieldStatus),
		CurrentAssignment: NormalizeAssignment(r[FieldCurrentAssignment]),
		FlightHours:       hours,
	}
}

func (d Drone) Record() Record {
	return Record{
		FieldDroneID:           d.ID,
		FieldModel:             d.Model,
		FieldLocation:          d.Location,
		FieldStatus:            d.Status,
		FieldCurrentAssignment: NormalizeAssignment(d.CurrentAssignment),
		FieldFlightHours:       formatHours(d.FlightHours),
	}
}

func MissionFromRecord(r Record) Mission {
	return Mission{
		ID:             r.get(FieldProjectID),
		Name:           r.get(FieldName),
		Location:       r.get(FieldLocation),
		Status:         r.get(FieldStatus),
		StartDate:      r.get(FieldStartDate),
		EndDate:        r.get(FieldEndDate),
		RequiredSkills: SplitSkills(r[FieldRequiredSkills]),
		AssignedPilot:  NormalizeAssignment(r[FieldAssignedPilot]),
		AssignedDrone:  NormalizeAssignment(r[FieldAssignedDrone]),
	}
}

func (m Mission) Record() Record {
	return Record{
		FieldProjectID:      m.ID,
		FieldName:           m.Name,
		FieldLocation:       m.Location,
		FieldStatus:         m.Status,
		FieldStartDate:      m.StartDate,
		FieldEndDate:        m.EndDate,
		FieldRequiredSkills: JoinSkills(m.RequiredSkills),
		FieldAssignedPilot:  NormalizeAssignment(m.AssignedPilot),
		FieldAssignedDrone:  NormalizeAssignment(m.AssignedDrone),
	}
}

// NewSnapshot converts raw collections into typed records.
func NewSnapshot(pilots, drones, missions []Record) Snapshot {
	s := Snapshot{
		Pilots:   make([]Pilot, 0, len(pilots)),
		Drones:   make([]Drone, 0, len(drones)),
		Missions: make([]Mission, 0, len(missions)),
	}
	for _, r := range pilots {
		s.Pilots = append(s.Pilots, PilotFromRecord(r))
	}
	for _, r := range drones {
		s.Drones = append(s.Drones, DroneFromRecord(r))
	}
	for _, r := range missions {
		s.Missions = append(s.Missions, MissionFromRecord(r))
	}
	return s
}
