// Package conflict scans a fleet snapshot for consistency violations.
// Checks are independent and read-only; one entity can appear in several results.
package conflict

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"skylark/internal/domain"
)

// DateRule selects the mission date a pilot's availability is compared to.
type DateRule string

const (
	DateRuleStart DateRule = "start"
	DateRuleEnd   DateRule = "end"
)

func (r DateRule) Valid() bool {
	return r == "" || r == DateRuleStart || r == DateRuleEnd
}

// Detector runs every check against one snapshot.
type Detector struct {
	DateRule DateRule
}

type check func(domain.Snapshot) []domain.Conflict

// Detect runs the checks with the default date rule.
func Detect(snap domain.Snapshot) []domain.Conflict {
	return Detector{}.Detect(snap)
}

func (d Detector) Detect(snap domain.Snapshot) []domain.Conflict {
	checks := []check{
		doubleBookings,
		d.dateConflicts,
		skillMismatches,
		locationMismatches,
		equipmentUnavailable,
		pilotsUnavailable,
		danglingAssignments,
		assignmentMismatches,
	}
	var out []domain.Conflict
	for _, c := range checks {
		out = append(out, c(snap)...)
	}
	return out
}

// Sort orders conflicts by severity, keeping detection order within a severity.
func Sort(conflicts []domain.Conflict) {
	sort.SliceStable(conflicts, func(i, j int) bool {
		return conflicts[i].Severity.Rank() < conflicts[j].Severity.Rank()
	})
}

// CheckPilot evaluates one pilot against the mission it is, or is about to be, assigned to.
func (d Detector) CheckPilot(p domain.Pilot, m domain.Mission) []domain.Conflict {
	var out []domain.Conflict
	if c, ok := d.pilotDate(p, m); ok {
		out = append(out, c)
	}
	if c, ok := pilotSkills(p, m); ok {
		out = append(out, c)
	}
	if c, ok := locationMismatch(pilotRef(p), p.Location, m); ok {
		out = append(out, c)
	}
	return out
}

// CheckDrone evaluates one drone against a mission.
func (d Detector) CheckDrone(dr domain.Drone, m domain.Mission) []domain.Conflict {
	var out []domain.Conflict
	if c, ok := locationMismatch(droneRef(dr), dr.Location, m); ok {
		out = append(out, c)
	}
	return out
}

func pilotRef(p domain.Pilot) domain.EntityRef {
	return domain.EntityRef{Type: domain.EntityPilot, ID: p.ID}
}

func droneRef(d domain.Drone) domain.EntityRef {
	return domain.EntityRef{Type: domain.EntityDrone, ID: d.ID}
}

func doubleBookings(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	for _, p := range snap.Pilots {
		if domain.IsAssigned(p.CurrentAssignment) && domain.StatusIs(p.Status, domain.StatusAvailable) {
			out = append(out, domain.Conflict{
				Kind:      domain.ConflictDoubleBooking,
				Entity:    pilotRef(p),
				MissionID: p.CurrentAssignment,
				Message:   fmt.Sprintf("Pilot %s is assigned to %s but marked Available", p.ID, p.CurrentAssignment),
				Severity:  domain.SeverityCritical,
			})
		}
	}
	for _, d := range snap.Drones {
		if domain.IsAssigned(d.CurrentAssignment) && domain.StatusIs(d.Status, domain.StatusAvailable) {
			out = append(out, domain.Conflict{
				Kind:      domain.ConflictDoubleBooking,
				Entity:    droneRef(d),
				MissionID: d.CurrentAssignment,
				Message:   fmt.Sprintf("Drone %s is assigned to %s but marked Available", d.ID, d.CurrentAssignment),
				Severity:  domain.SeverityCritical,
			})
		}
	}
	return out
}

func (d Detector) dateConflicts(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	for _, p := range snap.Pilots {
		m, ok := assignedMission(p.CurrentAssignment, snap)
		if !ok {
			continue
		}
		if c, ok := d.pilotDate(p, m); ok {
			out = append(out, c)
		}
	}
	return out
}

func (d Detector) pilotDate(p domain.Pilot, m domain.Mission) (domain.Conflict, bool) {
	avail, ok := domain.ParseDate(p.AvailableFrom)
	if !ok {
		return domain.Conflict{}, false
	}
	label, raw := "starts", m.StartDate
	if d.DateRule == DateRuleEnd {
		label, raw = "ends", m.EndDate
	}
	ref, ok := domain.ParseDate(raw)
	if !ok || !avail.After(ref) {
		return domain.Conflict{}, false
	}
	return domain.Conflict{
		Kind:      domain.ConflictDate,
		Entity:    pilotRef(p),
		MissionID: m.ID,
		Message: fmt.Sprintf("Pilot %s is available from %s but %s %s on %s (%d days late)",
			p.ID, p.AvailableFrom, m.ID, label, raw, daysBetween(ref, avail)),
		Severity: domain.SeverityHigh,
	}, true
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}

func skillMismatches(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	for _, p := range snap.Pilots {
		m, ok := assignedMission(p.CurrentAssignment, snap)
		if !ok {
			continue
		}
		if c, ok := pilotSkills(p, m); ok {
			out = append(out, c)
		}
	}
	return out
}

func pilotSkills(p domain.Pilot, m domain.Mission) (domain.Conflict, bool) {
	missing := domain.MissingSkills(p.Skills, m.RequiredSkills)
	if len(missing) == 0 {
		return domain.Conflict{}, false
	}
	return domain.Conflict{
		Kind:      domain.ConflictSkillMismatch,
		Entity:    pilotRef(p),
		MissionID: m.ID,
		Message:   fmt.Sprintf("Pilot %s is missing %s required by %s", p.ID, strings.Join(missing, ", "), m.ID),
		Severity:  domain.SeverityHigh,
	}, true
}

func locationMismatches(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	for _, p := range snap.Pilots {
		if m, ok := assignedMission(p.CurrentAssignment, snap); ok {
			if c, ok := locationMismatch(pilotRef(p), p.Location, m); ok {
				out = append(out, c)
			}
		}
	}
	for _, d := range snap.Drones {
		if m, ok := assignedMission(d.CurrentAssignment, snap); ok {
			if c, ok := locationMismatch(droneRef(d), d.Location, m); ok {
				out = append(out, c)
			}
		}
	}
	return out
}

func locationMismatch(ref domain.EntityRef, location string, m domain.Mission) (domain.Conflict, bool) {
	if domain.SameLocation(location, m.Location) {
		return domain.Conflict{}, false
	}
	return domain.Conflict{
		Kind:      domain.ConflictLocationMismatch,
		Entity:    ref,
		MissionID: m.ID,
		Message:   fmt.Sprintf("%s %s is in %s but %s is in %s", ref.Type.Title(), ref.ID, location, m.ID, m.Location),
		Severity:  domain.SeverityMedium,
	}, true
}

func equipmentUnavailable(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	for _, d := range snap.Drones {
		if domain.IsAssigned(d.CurrentAssignment) && domain.StatusIs(d.Status, domain.StatusMaintenance) {
			out = append(out, domain.Conflict{
				Kind:      domain.ConflictEquipmentUnavailable,
				Entity:    droneRef(d),
				MissionID: d.CurrentAssignment,
				Message:   fmt.Sprintf("Drone %s is assigned to %s but is in Maintenance", d.ID, d.CurrentAssignment),
				Severity:  domain.SeverityCritical,
			})
		}
	}
	return out
}

func pilotsUnavailable(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	for _, p := range snap.Pilots {
		if !domain.IsAssigned(p.CurrentAssignment) {
			continue
		}
		if domain.StatusIs(p.Status, domain.StatusOnLeave) || domain.StatusIs(p.Status, domain.StatusUnavailable) {
			out = append(out, domain.Conflict{
				Kind:      domain.ConflictPilotUnavailable,
				Entity:    pilotRef(p),
				MissionID: p.CurrentAssignment,
				Message:   fmt.Sprintf("Pilot %s is assigned to %s but is %s", p.ID, p.CurrentAssignment, p.Status),
				Severity:  domain.SeverityHigh,
			})
		}
	}
	return out
}

func danglingAssignments(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	dangling := func(ref domain.EntityRef, assignment string) {
		if !domain.IsAssigned(assignment) {
			return
		}
		if _, ok := snap.Mission(assignment); ok {
			return
		}
		out = append(out, domain.Conflict{
			Kind:      domain.ConflictDanglingAssignment,
			Entity:    ref,
			MissionID: assignment,
			Message:   fmt.Sprintf("%s %s references mission %s which does not exist", ref.Type.Title(), ref.ID, assignment),
			Severity:  domain.SeverityMedium,
		})
	}
	for _, p := range snap.Pilots {
		dangling(pilotRef(p), p.CurrentAssignment)
	}
	for _, d := range snap.Drones {
		dangling(droneRef(d), d.CurrentAssignment)
	}
	return out
}

func assignmentMismatches(snap domain.Snapshot) []domain.Conflict {
	var out []domain.Conflict
	mismatch := func(m domain.Mission, et domain.EntityType, id string, found bool, back string) {
		if found && strings.EqualFold(domain.NormalizeAssignment(back), m.ID) {
			return
		}
		msg := fmt.Sprintf("%s lists %s %s but that %s is assigned to %s", m.ID, et, id, et, domain.NormalizeAssignment(back))
		if !found {
			msg = fmt.Sprintf("%s lists %s %s which does not exist", m.ID, et, id)
		}
		out = append(out, domain.Conflict{
			Kind:      domain.ConflictAssignmentMismatch,
			Entity:    domain.EntityRef{Type: domain.EntityMission, ID: m.ID},
			MissionID: m.ID,
			Message:   msg,
			Severity:  domain.SeverityHigh,
		})
	}
	for _, p := range snap.Pilots {
		if m, ok := assignedMission(p.CurrentAssignment, snap); ok && !strings.EqualFold(m.AssignedPilot, p.ID) {
			out = append(out, resourceMismatch(pilotRef(p), m, m.AssignedPilot))
		}
	}
	for _, d := range snap.Drones {
		if m, ok := assignedMission(d.CurrentAssignment, snap); ok && !strings.EqualFold(m.AssignedDrone, d.ID) {
			out = append(out, resourceMismatch(droneRef(d), m, m.AssignedDrone))
		}
	}
	for _, m := range snap.Missions {
		if domain.IsAssigned(m.AssignedPilot) {
			p, ok := snap.Pilot(m.AssignedPilot)
			mismatch(m, domain.EntityPilot, m.AssignedPilot, ok, p.CurrentAssignment)
		}
		if domain.IsAssigned(m.AssignedDrone) {
			d, ok := snap.Drone(m.AssignedDrone)
			mismatch(m, domain.EntityDrone, m.AssignedDrone, ok, d.CurrentAssignment)
		}
	}
	return out
}

func resourceMismatch(ref domain.EntityRef, m domain.Mission, listed string) domain.Conflict {
	return domain.Conflict{
		Kind:      domain.ConflictAssignmentMismatch,
		Entity:    ref,
		MissionID: m.ID,
		Message:   fmt.Sprintf("%s %s is assigned to %s but %s lists %s %s", ref.Type.Title(), ref.ID, m.ID, m.ID, ref.Type, domain.NormalizeAssignment(listed)),
		Severity:  domain.SeverityHigh,
	}
}

func assignedMission(assignment string, snap domain.Snapshot) (domain.Mission, bool) {
	if !domain.IsAssigned(assignment) {
		return domain.Mission{}, false
	}
	return snap.Mission(assignment)
}
