package engine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"skylark/internal/conflict"
	"skylark/internal/dialogue"
	"skylark/internal/domain"
	"skylark/internal/intent"
	"skylark/internal/render"
)

func (e Engine) roster(snap domain.Snapshot, res intent.Result) dialogue.Reply {
	var parts []string
	kind := domain.EntityType(res.Slot(intent.SlotKind))
	if kind != domain.EntityDrone {
		parts = append(parts, fmt.Sprintf("**Pilots (%d)**\n\n%s", len(snap.Pilots), render.Markdown(render.Pilots(snap.Pilots))))
	}
	if kind != domain.EntityPilot {
		parts = append(parts, fmt.Sprintf("**Drones (%d)**\n\n%s", len(snap.Drones), render.Markdown(render.Drones(snap.Drones))))
	}
	return dialogue.Text("%s", strings.Join(parts, "\n\n"))
}

func (e Engine) missions(snap domain.Snapshot) dialogue.Reply {
	if len(snap.Missions) == 0 {
		return dialogue.Text("There are no missions yet.")
	}
	return dialogue.Text("**Missions (%d)**\n\n%s", len(snap.Missions), render.Markdown(render.Missions(snap.Missions)))
}

// availability answers for one referenced resource, or lists the free pilots (or drones).
func (e Engine) availability(snap domain.Snapshot, res intent.Result) dialogue.Reply {
	switch res.EntityType {
	case domain.EntityPilot:
		if p, ok := snap.Pilot(res.EntityID); ok {
			return dialogue.Text("%s", describeAvailability("Pilot", p.ID, p.Name, p.Status, p.CurrentAssignment, p.AvailableFrom))
		}
	case domain.EntityDrone:
		if d, ok := snap.Drone(res.EntityID); ok {
			return dialogue.Text("%s", describeAvailability("Drone", d.ID, d.Model, d.Status, d.CurrentAssignment, ""))
		}
	}
	if domain.EntityType(res.Slot(intent.SlotKind)) == domain.EntityDrone {
		var free []domain.Drone
		for _, d := range snap.Drones {
			if domain.StatusIs(d.Status, domain.StatusAvailable) && !domain.IsAssigned(d.CurrentAssignment) {
				free = append(free, d)
			}
		}
		if len(free) == 0 {
			return dialogue.Text("No drones are available right now.")
		}
		return dialogue.Text("Here are the currently available drones:\n\n%s", render.Markdown(render.Drones(free)))
	}
	var free []domain.Pilot
	for _, p := range snap.Pilots {
		if domain.StatusIs(p.Status, domain.StatusAvailable) && !domain.IsAssigned(p.CurrentAssignment) {
			free = append(free, p)
		}
	}
	if len(free) == 0 {
		return dialogue.Text("No pilots are available right now.")
	}
	return dialogue.Text("Here are the currently available pilots:\n\n%s", render.Markdown(render.Pilots(free)))
}

func describeAvailability(title, id, name, status, assignment, from string) string {
	who := fmt.Sprintf("%s %s (%s)", title, id, name)
	switch {
	case domain.IsAssigned(assignment):
		return fmt.Sprintf("%s is %s on %s.", who, status, assignment)
	case domain.StatusIs(status, domain.StatusAvailable) && from != "":
		return fmt.Sprintf("%s is Available from %s.", who, from)
	}
	return fmt.Sprintf("%s is %s.", who, status)
}

func (e Engine) info(snap domain.Snapshot, res intent.Result) (dialogue.Reply, error) {
	if res.EntityID == "" {
		return dialogue.Reply{}, domain.MissingSlotError{Slot: "entity id", Hint: "name a pilot, drone or mission, e.g. show PRJ001"}
	}
	var rec domain.Record
	switch res.EntityType {
	case domain.EntityPilot:
		if p, ok := snap.Pilot(res.EntityID); ok {
			rec = p.Record()
		}
	case domain.EntityDrone:
		if d, ok := snap.Drone(res.EntityID); ok {
			rec = d.Record()
		}
	case domain.EntityMission:
		if m, ok := snap.Mission(res.EntityID); ok {
			rec = m.Record()
		}
	}
	if rec == nil {
		return dialogue.Reply{}, domain.NotFoundError{Type: res.EntityType, ID: res.EntityID}
	}
	var b strings.Builder
	fmt.Fprintf(&b, "**%s %s**\n", res.EntityType.Title(), rec[res.EntityType.IDField()])
	for _, f := range domain.Fields[res.EntityType] {
		if f == res.EntityType.IDField() {
			continue
		}
		fmt.Fprintf(&b, "\n- %s: %s", f, rec[f])
	}
	var related []domain.Conflict
	for _, c := range e.Detector().Detect(snap) {
		if strings.EqualFold(c.Entity.ID, res.EntityID) || strings.EqualFold(c.MissionID, res.EntityID) {
			related = append(related, c)
		}
	}
	conflict.Sort(related)
	reply := dialogue.Text("%s", withWarnings(b.String(), related))
	reply.Conflicts = related
	return reply, nil
}

func (e Engine) conflicts(snap domain.Snapshot, res intent.Result) dialogue.Reply {
	all := e.Detector().Detect(snap)
	if res.EntityID != "" {
		var filtered []domain.Conflict
		for _, c := range all {
			if strings.EqualFold(c.Entity.ID, res.EntityID) || strings.EqualFold(c.MissionID, res.EntityID) {
				filtered = append(filtered, c)
			}
		}
		all = filtered
	}
	if len(all) == 0 {
		return dialogue.Text("No active conflicts detected.")
	}
	conflict.Sort(all)
	reply := dialogue.Text("**%d conflicts detected:**\n\n%s", len(all), render.ConflictLines(all))
	if len(all) == 1 {
		reply.Text = "**1 conflict detected:**\n\n" + render.ConflictLines(all)
	}
	reply.Conflicts = all
	return reply
}

// recommend ranks replacements for a mission, or for the mission of a referenced resource.
func (e Engine) recommend(ctx context.Context, res intent.Result, snap domain.Snapshot) (dialogue.Reply, error) {
	kind := domain.EntityPilot
	if domain.EntityType(res.Slot(intent.SlotKind)) == domain.EntityDrone || res.EntityType == domain.EntityDrone {
		kind = domain.EntityDrone
	}
	missionID := res.Slot(intent.SlotMissionID)
	if missionID == "" {
		switch res.EntityType {
		case domain.EntityPilot:
			if p, ok := snap.Pilot(res.EntityID); ok && domain.IsAssigned(p.CurrentAssignment) {
				missionID = p.CurrentAssignment
			}
		case domain.EntityDrone:
			if d, ok := snap.Drone(res.EntityID); ok && domain.IsAssigned(d.CurrentAssignment) {
				missionID = d.CurrentAssignment
			}
		}
	}
	if missionID == "" {
		return dialogue.Reply{}, domain.MissingSlotError{Slot: "mission id", Hint: "e.g. find a pilot for PRJ001"}
	}
	return e.Candidates(ctx, kind, missionID)
}

// setStatus applies the status named in the text to the referenced entity.
func (e Engine) setStatus(ctx context.Context, res intent.Result) (dialogue.Reply, error) {
	if res.EntityID == "" {
		return dialogue.Reply{}, domain.MissingSlotError{Slot: "entity id", Hint: "e.g. set P001 to on leave"}
	}
	status, ok := domain.CanonicalStatus(res.EntityType, res.Slot(intent.SlotStatus))
	if !ok {
		return dialogue.Reply{}, domain.ValidationError{
			Field:  domain.FieldStatus,
			Reason: fmt.Sprintf("%q is not a %s status (%s)", res.Slot(intent.SlotStatus), res.EntityType, strings.Join(domain.Statuses[res.EntityType], ", ")),
		}
	}
	return e.Update(ctx, res.EntityType, res.EntityID, domain.FieldStatus, status)
}

// reportUnavailable takes a pilot or drone out of service and, when it was on a
// mission, suggests replacements for that mission.
func (e Engine) reportUnavailable(ctx context.Context, res intent.Result) (dialogue.Reply, error) {
	if res.EntityID == "" {
		return dialogue.Reply{}, domain.MissingSlotError{Slot: "pilot or drone id", Hint: "e.g. D002 is in maintenance"}
	}
	if !resourcePair(res.EntityType) {
		return dialogue.Reply{}, domain.ValidationError{Field: "entity", Reason: "only pilots and drones can be reported unavailable"}
	}
	status := e.config().Unavailable.PilotStatus
	if res.EntityType == domain.EntityDrone {
		status = e.config().Unavailable.DroneStatus
	}
	if res.StatusExplicit {
		if explicit, ok := domain.CanonicalStatus(res.EntityType, res.Slot(intent.SlotStatus)); ok && explicit != domain.StatusAssigned && explicit != domain.StatusAvailable {
			status = explicit
		}
	}
	_, rec, err := e.find(ctx, res.EntityType, res.EntityID)
	if err != nil {
		return dialogue.Reply{}, err
	}
	reply, err := e.Update(ctx, res.EntityType, res.EntityID, domain.FieldStatus, status)
	if err != nil {
		return dialogue.Reply{}, err
	}
	mission := domain.NormalizeAssignment(rec[domain.FieldCurrentAssignment])
	if !domain.IsAssigned(mission) {
		return reply, nil
	}
	cands, err := e.Candidates(ctx, res.EntityType, mission)
	if err != nil {
		e.logger().Warn("rank replacements", zap.String("mission", mission), zap.Error(err))
		return reply, nil
	}
	reply.Text += fmt.Sprintf("\n\n%s %s was assigned to %s. %s", res.EntityType.Title(), res.EntityID, mission, cands.Text)
	reply.Pilots = cands.Pilots
	reply.Drones = cands.Drones
	return reply, nil
}

// unassign clears an assignment on both sides, mission side first. A resource id
// clears that resource; a mission id alone clears the resources of the named kind, or both.
func (e Engine) unassign(ctx context.Context, res intent.Result) (dialogue.Reply, error) {
	type pair struct {
		kind       domain.EntityType
		resourceID string
		missionID  string
	}
	var pairs []pair
	for _, kind := range []domain.EntityType{domain.EntityPilot, domain.EntityDrone} {
		slot := intent.SlotPilotID
		if kind == domain.EntityDrone {
			slot = intent.SlotDroneID
		}
		id := res.Slot(slot)
		if id == "" {
			continue
		}
		_, rec, err := e.find(ctx, kind, id)
		if err != nil {
			return dialogue.Reply{}, err
		}
		mission := domain.NormalizeAssignment(rec[domain.FieldCurrentAssignment])
		if !domain.IsAssigned(mission) {
			return dialogue.Reply{}, domain.PreconditionError{Reason: fmt.Sprintf("%s %s has no assignment", kind.Title(), rec[kind.IDField()])}
		}
		pairs = append(pairs, pair{kind, rec[kind.IDField()], mission})
	}
	if len(pairs) == 0 {
		missionID := res.Slot(intent.SlotMissionID)
		if missionID == "" {
			return dialogue.Reply{}, domain.MissingSlotError{Slot: "pilot, drone or mission id", Hint: "e.g. unassign P001"}
		}
		_, mrec, err := e.find(ctx, domain.EntityMission, missionID)
		if err != nil {
			return dialogue.Reply{}, err
		}
		wanted := domain.EntityType(res.Slot(intent.SlotKind))
		for _, kind := range []domain.EntityType{domain.EntityPilot, domain.EntityDrone} {
			if resourcePair(wanted) && wanted != kind {
				continue
			}
			if id := domain.NormalizeAssignment(mrec[missionField(kind)]); domain.IsAssigned(id) {
				pairs = append(pairs, pair{kind, id, mrec[domain.FieldProjectID]})
			}
		}
		if len(pairs) == 0 {
			return dialogue.Reply{}, domain.PreconditionError{Reason: fmt.Sprintf("mission %s has nothing assigned", mrec[domain.FieldProjectID])}
		}
	}

	var done []string
	for _, p := range pairs {
		if _, err := e.detachMission(ctx, p.kind, p.missionID, p.resourceID); err != nil {
			return dialogue.Reply{}, err
		}
		if _, err := e.detachResource(ctx, p.kind, p.resourceID, p.missionID); err != nil {
			if mh, _, ferr := e.find(ctx, domain.EntityMission, p.missionID); ferr == nil {
				e.compensate(ctx, mh, []fieldValue{{missionField(p.kind), p.resourceID}}, err)
			}
			return dialogue.Reply{}, err
		}
		done = append(done, fmt.Sprintf("Unassigned %s %s from %s.", p.kind, p.resourceID, p.missionID))
	}
	return dialogue.Text("%s", strings.Join(done, " ")), nil
}
