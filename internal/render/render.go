// Package render builds the fleet tables shown in chat replies and on the terminal.
package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"skylark/internal/domain"
	"skylark/internal/rank"
)

func Pilots(pilots []domain.Pilot) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Name", "Skills", "Location", "Status", "Assignment", "Available From"})
	for _, p := range pilots {
		tw.AppendRow(table.Row{p.ID, p.Name, domain.JoinSkills(p.Skills), p.Location, p.Status, p.CurrentAssignment, p.AvailableFrom})
	}
	return tw
}

func Drones(drones []domain.Drone) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Model", "Location", "Status", "Assignment", "Flight Hours"})
	for _, d := range drones {
		tw.AppendRow(table.Row{d.ID, d.Model, d.Location, d.Status, d.CurrentAssignment, hours(d.FlightHours)})
	}
	return tw
}

func Missions(missions []domain.Mission) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Name", "Location", "Status", "Start", "End", "Required Skills", "Pilot", "Drone"})
	for _, m := range missions {
		tw.AppendRow(table.Row{m.ID, m.Name, m.Location, m.Status, m.StartDate, m.EndDate, domain.JoinSkills(m.RequiredSkills), m.AssignedPilot, m.AssignedDrone})
	}
	return tw
}

// PilotCandidates lists ranked pilots with their score and missing skills.
func PilotCandidates(cands []rank.PilotCandidate) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "ID", "Name", "Score", "Missing Skills"})
	for i, c := range cands {
		missing := "-"
		if len(c.Missing) > 0 {
			missing = domain.JoinSkills(c.Missing)
		}
		tw.AppendRow(table.Row{i + 1, c.Pilot.ID, c.Pilot.Name, c.Score, missing})
	}
	return tw
}

func DroneCandidates(cands []rank.DroneCandidate) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"#", "ID", "Model", "Flight Hours"})
	for i, c := range cands {
		tw.AppendRow(table.Row{i + 1, c.Drone.ID, c.Drone.Model, hours(c.Drone.FlightHours)})
	}
	return tw
}

func Conflicts(conflicts []domain.Conflict) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Severity", "Kind", "Entity", "Mission", "Detail"})
	for _, c := range conflicts {
		tw.AppendRow(table.Row{c.Severity, c.Kind, c.Entity.ID, c.MissionID, c.Message})
	}
	return tw
}

func Events(evts []domain.Event) table.Writer {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor"})
	for _, e := range evts {
		entity := e.EntityKind
		if e.EntityID != "" {
			entity += " " + e.EntityID
		}
		tw.AppendRow(table.Row{e.ID, e.TS, e.Type, entity, e.ActorID})
	}
	return tw
}

// Markdown renders tw as a markdown table for chat replies.
func Markdown(tw table.Writer) string {
	return tw.RenderMarkdown()
}

// ConflictLines renders conflicts as a markdown bullet list, one per line.
func ConflictLines(conflicts []domain.Conflict) string {
	var b strings.Builder
	for i, c := range conflicts {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "- **%s** %s", c.Severity, c.Message)
	}
	return b.String()
}

func hours(h float64) string {
	return strconv.FormatFloat(h, 'f', -1, 64)
}
