package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"skylark/internal/dialogue"
	"skylark/internal/domain"
	"skylark/internal/events"
	"skylark/internal/rank"
	"skylark/internal/render"
)

var _ dialogue.Actions = Engine{}

func (e Engine) Describe(ctx context.Context, et domain.EntityType, id string) (string, error) {
	_, rec, err := e.find(ctx, et, id)
	if err != nil {
		return "", err
	}
	return label(et, rec), nil
}

// Candidates ranks resources of kind for a mission from a fresh read.
func (e Engine) Candidates(ctx context.Context, kind domain.EntityType, missionID string) (dialogue.Reply, error) {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		return dialogue.Reply{}, domain.NewStoreError("read fleet", "", "", err)
	}
	mission, ok := snap.Mission(missionID)
	if !ok {
		return dialogue.Reply{}, domain.NotFoundError{Type: domain.EntityMission, ID: missionID}
	}
	if kind == domain.EntityDrone {
		drones, err := rank.Drones(mission.ID, snap)
		if errors.Is(err, rank.ErrNoEligibleDrones) {
			return dialogue.Text("No available drones in %s for %s.", mission.Location, mission.ID), nil
		}
		if err != nil {
			return dialogue.Reply{}, err
		}
		reply := dialogue.Text("**Available drones for %s (%s):**\n\n%s", mission.ID, mission.Location, render.Markdown(render.DroneCandidates(drones)))
		reply.Drones = drones
		return reply, nil
	}
	pilots, err := rank.Pilots(mission.ID, snap)
	if errors.Is(err, rank.ErrNoEligiblePilots) {
		return dialogue.Text("No direct matches found for %s in %s.", mission.ID, mission.Location), nil
	}
	if err != nil {
		return dialogue.Reply{}, err
	}
	reply := dialogue.Text("**Top recommendations for %s:**\n\n%s", mission.ID, render.Markdown(render.PilotCandidates(pilots)))
	reply.Pilots = pilots
	return reply, nil
}

// Assign links a pilot or drone to a mission, writing the resource side first and
// the mission side second. A failed mission write reverts the resource side.
// A resource the mission previously held is released once both sides are written.
func (e Engine) Assign(ctx context.Context, kind domain.EntityType, resourceID, missionID string) (dialogue.Reply, error) {
	if !resourcePair(kind) {
		return dialogue.Reply{}, domain.ValidationError{Field: "kind", Reason: "only pilots and drones can be assigned"}
	}
	mh, mrec, err := e.find(ctx, domain.EntityMission, missionID)
	if err != nil {
		return dialogue.Reply{}, err
	}
	if domain.StatusIs(mrec[domain.FieldStatus], domain.StatusCompleted) {
		return dialogue.Reply{}, domain.PreconditionError{Reason: fmt.Sprintf("mission %s is Completed", mh.ID)}
	}
	rh, rrec, err := e.find(ctx, kind, resourceID)
	if err != nil {
		return dialogue.Reply{}, err
	}
	status := rrec[domain.FieldStatus]
	if !domain.StatusIs(status, domain.StatusAvailable) {
		return dialogue.Reply{}, domain.PreconditionError{Reason: fmt.Sprintf("%s %s is %s, not Available", kind.Title(), rh.ID, status)}
	}
	if current := domain.NormalizeAssignment(rrec[domain.FieldCurrentAssignment]); domain.IsAssigned(current) {
		return dialogue.Reply{}, domain.PreconditionError{Reason: fmt.Sprintf("%s %s is already assigned to %s", kind.Title(), rh.ID, current)}
	}

	field := missionField(kind)
	previous := domain.NormalizeAssignment(mrec[field])

	if err := e.write(ctx, rh, domain.FieldCurrentAssignment, mh.ID); err != nil {
		return dialogue.Reply{}, err
	}
	if err := e.write(ctx, rh, domain.FieldStatus, domain.StatusAssigned); err != nil {
		e.compensate(ctx, rh, []fieldValue{{domain.FieldCurrentAssignment, domain.Unassigned}}, err)
		return dialogue.Reply{}, err
	}
	if err := e.write(ctx, mh, field, rh.ID); err != nil {
		e.compensate(ctx, rh, []fieldValue{
			{domain.FieldStatus, status},
			{domain.FieldCurrentAssignment, domain.Unassigned},
		}, err)
		return dialogue.Reply{}, err
	}
	e.record(ctx, events.AssignmentCreated, kind, rh.ID, events.EventPayload{"mission_id": mh.ID})

	var notes []string
	if domain.IsAssigned(previous) && !strings.EqualFold(previous, rh.ID) {
		released, err := e.detachResource(ctx, kind, previous, mh.ID)
		switch {
		case err != nil:
			e.logger().Error("release previous resource", zap.String("id", previous), zap.String("mission", mh.ID), zap.Error(err))
			notes = append(notes, fmt.Sprintf("%s %s could not be released: %s.", kind.Title(), previous, domain.Message(err)))
		case released:
			notes = append(notes, fmt.Sprintf("Released %s %s from %s.", kind, previous, mh.ID))
		}
	}

	rrec[domain.FieldStatus] = domain.StatusAssigned
	rrec[domain.FieldCurrentAssignment] = mh.ID
	mrec[field] = rh.ID
	mission := domain.MissionFromRecord(mrec)
	var warnings []domain.Conflict
	if kind == domain.EntityPilot {
		warnings = e.Detector().CheckPilot(domain.PilotFromRecord(rrec), mission)
	} else {
		warnings = e.Detector().CheckDrone(domain.DroneFromRecord(rrec), mission)
	}

	text := fmt.Sprintf("Assigned %s to %s.", label(kind, rrec), label(domain.EntityMission, mrec))
	if len(notes) > 0 {
		text += " " + strings.Join(notes, " ")
	}
	reply := dialogue.Text("%s", withWarnings(text, warnings))
	reply.Conflicts = warnings
	return reply, nil
}

// detachResource clears a resource's assignment when it still points at missionID.
// A missing resource or one assigned elsewhere is left alone.
func (e Engine) detachResource(ctx context.Context, kind domain.EntityType, id, missionID string) (bool, error) {
	h, rec, err := e.find(ctx, kind, id)
	var nf domain.NotFoundError
	if errors.As(err, &nf) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !strings.EqualFold(domain.NormalizeAssignment(rec[domain.FieldCurrentAssignment]), missionID) {
		return false, nil
	}
	if err := e.write(ctx, h, domain.FieldCurrentAssignment, domain.Unassigned); err != nil {
		return false, err
	}
	if domain.StatusIs(rec[domain.FieldStatus], domain.StatusAssigned) {
		if err := e.write(ctx, h, domain.FieldStatus, domain.StatusAvailable); err != nil {
			return false, err
		}
	}
	e.record(ctx, events.AssignmentCleared, kind, h.ID, events.EventPayload{"mission_id": missionID})
	return true, nil
}

// detachMission clears the mission's reference to resourceID when it still holds it.
func (e Engine) detachMission(ctx context.Context, kind domain.EntityType, missionID, resourceID string) (bool, error) {
	h, rec, err := e.find(ctx, domain.EntityMission, missionID)
	var nf domain.NotFoundError
	if errors.As(err, &nf) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	field := missionField(kind)
	if !strings.EqualFold(domain.NormalizeAssignment(rec[field]), resourceID) {
		return false, nil
	}
	if err := e.write(ctx, h, field, domain.Unassigned); err != nil {
		return false, err
	}
	return true, nil
}

func (e Engine) Create(ctx context.Context, kind domain.EntityType, rec domain.Record) (dialogue.Reply, error) {
	id, err := e.Store.AppendRow(ctx, kind, rec)
	if err != nil {
		return dialogue.Reply{}, domain.NewStoreError("append", kind, "", err)
	}
	payload := events.EventPayload{}
	for k, v := range rec {
		payload[k] = v
	}
	e.record(ctx, events.RecordCreated, kind, id, payload)
	created := domain.Record{kind.IDField(): id}
	for k, v := range rec {
		created[k] = v
	}
	return dialogue.Text("Created %s.", label(kind, created)), nil
}

// Update writes one validated field value after re-checking status rules against a fresh read.
func (e Engine) Update(ctx context.Context, et domain.EntityType, id, field, value string) (dialogue.Reply, error) {
	if field == et.IDField() {
		return dialogue.Reply{}, domain.ValidationError{Field: field, Reason: "ids cannot be edited"}
	}
	if domain.AssignmentFields[field] {
		return dialogue.Reply{}, domain.ValidationError{Field: field, Reason: "use assign or unassign to change assignments"}
	}
	value, err := domain.ValidateValue(et, field, value)
	if err != nil {
		return dialogue.Reply{}, err
	}
	h, rec, err := e.find(ctx, et, id)
	if err != nil {
		return dialogue.Reply{}, err
	}
	old := rec[field]
	if field == domain.FieldStatus && resourcePair(et) {
		assigned := domain.IsAssigned(rec[domain.FieldCurrentAssignment])
		switch {
		case value == domain.StatusAvailable && assigned:
			return dialogue.Reply{}, domain.PreconditionError{Reason: fmt.Sprintf(
				"%s %s is assigned to %s; unassign it before marking it Available", et.Title(), h.ID, domain.NormalizeAssignment(rec[domain.FieldCurrentAssignment]))}
		case value == domain.StatusAssigned && !assigned:
			return dialogue.Reply{}, domain.PreconditionError{Reason: fmt.Sprintf("%s %s has no mission; use assign instead", et.Title(), h.ID)}
		}
	}
	if old == value {
		return dialogue.Text("%s already has %s %s.", label(et, rec), field, value), nil
	}
	if err := e.write(ctx, h, field, value); err != nil {
		return dialogue.Reply{}, err
	}
	evtType := events.RecordUpdated
	if field == domain.FieldStatus {
		evtType = events.StatusChanged
	}
	e.record(ctx, evtType, et, h.ID, events.EventPayload{"field": field, "from": old, "to": value})

	warnings := e.conflictsFor(ctx, h.ID)
	reply := dialogue.Text("%s", withWarnings(fmt.Sprintf("Updated %s %s to %q.", label(et, rec), field, value), warnings))
	reply.Conflicts = warnings
	return reply, nil
}

// Delete removes a record after clearing the references other records hold to it.
func (e Engine) Delete(ctx context.Context, et domain.EntityType, id string) (dialogue.Reply, error) {
	h, rec, err := e.find(ctx, et, id)
	if err != nil {
		return dialogue.Reply{}, err
	}
	var notes []string
	if resourcePair(et) {
		if mission := domain.NormalizeAssignment(rec[domain.FieldCurrentAssignment]); domain.IsAssigned(mission) {
			cleared, err := e.detachMission(ctx, et, mission, h.ID)
			if err != nil {
				return dialogue.Reply{}, err
			}
			if cleared {
				notes = append(notes, fmt.Sprintf("Cleared it from %s.", mission))
			}
		}
	} else {
		for _, kind := range []domain.EntityType{domain.EntityPilot, domain.EntityDrone} {
			resource := domain.NormalizeAssignment(rec[missionField(kind)])
			if !domain.IsAssigned(resource) {
				continue
			}
			released, err := e.detachResource(ctx, kind, resource, h.ID)
			if err != nil {
				return dialogue.Reply{}, err
			}
			if released {
				notes = append(notes, fmt.Sprintf("Released %s %s.", kind, resource))
			}
		}
	}
	if err := e.Store.DeleteRow(ctx, h); err != nil {
		return dialogue.Reply{}, e.rowError("delete", h, err)
	}
	payload := events.EventPayload{}
	for k, v := range rec {
		payload[k] = v
	}
	e.record(ctx, events.RecordDeleted, et, h.ID, payload)
	text := fmt.Sprintf("Deleted %s.", label(et, rec))
	if len(notes) > 0 {
		text += " " + strings.Join(notes, " ")
	}
	return dialogue.Text("%s", text), nil
}

func withWarnings(text string, warnings []domain.Conflict) string {
	if len(warnings) == 0 {
		return text
	}
	return text + "\n\n**Warnings:**\n" + render.ConflictLines(warnings)
}
