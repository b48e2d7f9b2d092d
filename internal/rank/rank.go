// Package rank matches available resources to a mission's requirements.
// All functions are pure and read only the snapshot they are given.
package rank

import (
	"errors"
	"sort"

	"skylark/internal/domain"
)

var (
	ErrMissionNotFound  = errors.New("mission not found")
	ErrNoEligiblePilots = errors.New("no eligible pilots")
	ErrNoEligibleDrones = errors.New("no eligible drones")
)

// PilotCandidate is an eligible pilot with its skill score.
type PilotCandidate struct {
	Pilot domain.Pilot `json:"pilot"`
	// Score counts the mission's required skills the pilot holds.
	Score   int      `json:"score"`
	Missing []string `json:"missing,omitempty"`
}

// DroneCandidate is an eligible drone.
type DroneCandidate struct {
	Drone domain.Drone `json:"drone"`
}

// Pilots ranks Available pilots at the mission's location by descending score.
// Equal scores keep snapshot order.
func Pilots(missionID string, snap domain.Snapshot) ([]PilotCandidate, error) {
	mission, ok := snap.Mission(missionID)
	if !ok {
		return nil, ErrMissionNotFound
	}
	var out []PilotCandidate
	for _, p := range snap.Pilots {
		if !eligible(p.Status, p.Location, mission.Location) {
			continue
		}
		out = append(out, PilotCandidate{
			Pilot:   p,
			Score:   domain.MatchedSkills(p.Skills, mission.RequiredSkills),
			Missing: domain.MissingSkills(p.Skills, mission.RequiredSkills),
		})
	}
	if len(out) == 0 {
		return nil, ErrNoEligiblePilots
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

// Drones lists Available drones at the mission's location in snapshot order.
func Drones(missionID string, snap domain.Snapshot) ([]DroneCandidate, error) {
	mission, ok := snap.Mission(missionID)
	if !ok {
		return nil, ErrMissionNotFound
	}
	var out []DroneCandidate
	for _, d := range snap.Drones {
		if eligible(d.Status, d.Location, mission.Location) {
			out = append(out, DroneCandidate{Drone: d})
		}
	}
	if len(out) == 0 {
		return nil, ErrNoEligibleDrones
	}
	return out, nil
}

// Eligible resources are Available and located at the mission.
func eligible(status, location, missionLocation string) bool {
	return domain.StatusIs(status, domain.StatusAvailable) && domain.SameLocation(location, missionLocation)
}
