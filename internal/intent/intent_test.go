package intent

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skylark/internal/domain"
)

func roster() domain.Snapshot {
	return domain.Snapshot{
		Pilots: []domain.Pilot{{ID: "P001", Name: "Arjun"}, {ID: "P002", Name: "Neha"}},
		Drones: []domain.Drone{{ID: "D001", Model: "Mavic 3"}},
	}
}

func TestExtractDeleteIsCaseAndPunctuationInsensitive(t *testing.T) {
	for _, text := range []string{"Delete P001", "delete p001?", "DELETE P001.", "  delete   P001!! "} {
		res := Extract(text, roster())
		assert.Equal(t, Delete, res.Intent, text)
		assert.Equal(t, "P001", res.EntityID, text)
		assert.Equal(t, domain.EntityPilot, res.EntityType, text)
	}
}

func TestExtractIsIdempotent(t *testing.T) {
	text := "assign P002 to PRJ003 with D004"
	first := Extract(text, roster())
	second := Extract(text, roster())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("extraction not deterministic (-first +second):\n%s", diff)
	}
}

func TestFirstIDTokenWinsAndEverySlotIsFilled(t *testing.T) {
	res := Extract("assign P002 to PRJ003 with D004", roster())
	require.Equal(t, Assign, res.Intent)
	assert.Equal(t, "P002", res.EntityID)
	assert.Equal(t, domain.EntityPilot, res.EntityType)
	assert.Equal(t, "PRJ003", res.Slot(SlotMissionID))
	assert.Equal(t, "P002", res.Slot(SlotPilotID))
	assert.Equal(t, "D004", res.Slot(SlotDroneID))

	res = Extract("Find a pilot for PRJ001, maybe P003", roster())
	assert.Equal(t, "PRJ001", res.EntityID)
	assert.Equal(t, domain.EntityMission, res.EntityType)
}

func TestIDPatterns(t *testing.T) {
	cases := map[string]domain.EntityType{"PRJ12": domain.EntityMission, "p007": domain.EntityPilot, "D010,": domain.EntityDrone}
	for _, minted := range []domain.EntityType{domain.EntityPilot, domain.EntityDrone, domain.EntityMission} {
		cases[minted.MintID(100, 3)] = minted
		cases[minted.MintID(12345, 3)] = minted
	}
	for token, want := range cases {
		got, ok := ClassifyID(token)
		require.True(t, ok, token)
		assert.Equal(t, want, got, token)
	}
	for _, token := range []string{"P1", "D1", "PRJ", "PROJECT", "P0A"} {
		_, ok := ClassifyID(token)
		assert.False(t, ok, token)
	}
}

func TestNameFallbackPrefersPilotsThenDrones(t *testing.T) {
	res := Extract("what is Neha doing", roster())
	assert.Equal(t, "P002", res.EntityID)
	assert.Equal(t, domain.EntityPilot, res.EntityType)

	res = Extract("is the mavic 3 free?", roster())
	assert.Equal(t, "D001", res.EntityID)
	assert.Equal(t, domain.EntityDrone, res.EntityType)
	assert.Equal(t, Availability, res.Intent)

	res = Extract("hello there", roster())
	assert.Empty(t, res.EntityID)
	assert.Equal(t, None, res.Intent)
}

func TestPriorityTableOrder(t *testing.T) {
	cases := []struct {
		text string
		want Intent
	}{
		{"remove drone D002 and add a new one", Delete},
		{"update the location of P001", Edit},
		{"add a pilot", Create},
		{"D002 is not working", ReportUnavailable},
		{"P001 is unavailable today", ReportUnavailable},
		{"set P001 to on leave", SetStatus},
		{"unassign P001", Unassign},
		{"assign a pilot to PRJ001", Assign},
		{"reassign PRJ002", Assign},
		{"any conflicts?", Conflicts},
		{"find a pilot for PRJ001", Recommend},
		{"who is available?", Availability},
		{"show me the roster", Roster},
		{"list projects", Roster},
		{"what missions are running", Missions},
		{"tell me about P003", Info},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Extract(tc.text, domain.Snapshot{}).Intent, tc.text)
	}
}

func TestKeywordsMatchWholeWordsOnly(t *testing.T) {
	assert.Equal(t, Unassign, MatchIntent(Normalize("unassign D001")))
	assert.Equal(t, None, MatchIntent(Normalize("addendum")))
	assert.Equal(t, " on leave p001 ", Normalize("On-Leave: P001"))
}

func TestExtractStatus(t *testing.T) {
	cases := map[string]string{
		"put P001 on leave":        domain.StatusOnLeave,
		"D002 needs maintenance":   domain.StatusMaintenance,
		"mark P003 assigned":       domain.StatusAssigned,
		"PRJ001 is active":         domain.StatusActive,
		"PRJ001 completed":         domain.StatusCompleted,
		"P001 is back":             domain.StatusAvailable,
	}
	for text, want := range cases {
		got, _ := ExtractStatus(text)
		assert.Equal(t, want, got, text)
	}
	_, explicit := ExtractStatus("P001 is back")
	assert.False(t, explicit)
}

func TestKindAndFieldSlots(t *testing.T) {
	res := Extract("assign a drone to the mission", domain.Snapshot{})
	assert.Equal(t, "drone", res.Slot(SlotKind))
	res = Extract("create mission", domain.Snapshot{})
	assert.Equal(t, "mission", res.Slot(SlotKind))
	res = Extract("change required skills of PRJ001", domain.Snapshot{})
	assert.Equal(t, domain.FieldRequiredSkills, res.Slot(SlotField))
}

func TestResolveField(t *testing.T) {
	f, ok := ResolveField(domain.EntityMission, "skills")
	require.True(t, ok)
	assert.Equal(t, domain.FieldRequiredSkills, f)
	f, ok = ResolveField(domain.EntityDrone, "Flight Hours")
	require.True(t, ok)
	assert.Equal(t, domain.FieldFlightHours, f)
	f, ok = ResolveField(domain.EntityPilot, "available_from")
	require.True(t, ok)
	assert.Equal(t, domain.FieldAvailableFrom, f)
	_, ok = ResolveField(domain.EntityDrone, "skills")
	assert.False(t, ok)
}
