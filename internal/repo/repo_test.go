package repo_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"skylark/internal/db"
	"skylark/internal/domain"
	"skylark/internal/intent"
	"skylark/internal/migrate"
	"skylark/internal/repo"
)

func newTestRepo(t *testing.T) (repo.Repo, context.Context) {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}, context.Background()
}

func TestHeadersFollowSchemaOrder(t *testing.T) {
	r, ctx := newTestRepo(t)
	for _, et := range domain.EntityTypes {
		got, err := r.Headers(ctx, et)
		if err != nil {
			t.Fatalf("headers %s: %v", et, err)
		}
		if !reflect.DeepEqual(got, domain.Fields[et]) {
			t.Fatalf("headers %s = %v, want %v", et, got, domain.Fields[et])
		}
	}
	if _, err := r.Headers(ctx, domain.EntityType("crew")); !errors.Is(err, repo.ErrUnknownEntity) {
		t.Fatalf("expected ErrUnknownEntity, got %v", err)
	}
}

func TestAppendRowMintsSequentialIDs(t *testing.T) {
	r, ctx := newTestRepo(t)
	if _, err := r.Import(ctx, domain.EntityPilot, []domain.Record{{domain.FieldPilotID: "P007", domain.FieldName: "Old"}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	id, err := r.AppendRow(ctx, domain.EntityPilot, domain.Record{domain.FieldName: "Neha", domain.FieldLocation: "Pune"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if id != "P008" {
		t.Fatalf("expected P008, got %s", id)
	}
	mid, err := r.AppendRow(ctx, domain.EntityMission, domain.Record{domain.FieldName: "Survey"})
	if err != nil {
		t.Fatalf("append mission: %v", err)
	}
	if mid != "PRJ001" {
		t.Fatalf("expected PRJ001, got %s", mid)
	}
	all, err := r.GetAll(ctx, domain.EntityPilot)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 2 || all[1][domain.FieldStatus] != domain.StatusAvailable || all[1][domain.FieldCurrentAssignment] != domain.Unassigned {
		t.Fatalf("unexpected rows: %+v", all)
	}
	if _, err := r.AppendRow(ctx, domain.EntityDrone, domain.Record{"wingspan": "2m"}); !errors.Is(err, repo.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestNextID(t *testing.T) {
	cases := []struct {
		kind     domain.EntityType
		existing []string
		want     string
	}{
		{domain.EntityPilot, nil, "P001"},
		{domain.EntityDrone, []string{"D001", "D004", "junk"}, "D005"},
		{domain.EntityMission, []string{"prj009"}, "PRJ010"},
		{domain.EntityPilot, []string{"P098", "P099"}, "P0100"},
		{domain.EntityDrone, []string{"D0100"}, "D0101"},
		{domain.EntityMission, []string{"PRJ999"}, "PRJ1000"},
	}
	for _, tc := range cases {
		if got := repo.NextID(tc.kind, tc.existing, 3); got != tc.want {
			t.Fatalf("NextID(%s, %v) = %s, want %s", tc.kind, tc.existing, got, tc.want)
		}
	}
}

func TestHundredthPilotStaysAddressable(t *testing.T) {
	r, ctx := newTestRepo(t)
	var last string
	for i := 0; i < 100; i++ {
		id, err := r.AppendRow(ctx, domain.EntityPilot, domain.Record{domain.FieldName: fmt.Sprintf("Pilot %d", i)})
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		last = id
	}
	if last != "P0100" {
		t.Fatalf("expected P0100, got %s", last)
	}
	if kind, ok := intent.ClassifyID(last); !ok || kind != domain.EntityPilot {
		t.Fatalf("ClassifyID(%s) = %s, %v", last, kind, ok)
	}
	if _, err := r.FindRow(ctx, domain.EntityPilot, strings.ToLower(last)); err != nil {
		t.Fatalf("find %s: %v", last, err)
	}
}

func TestUpdateFieldRejectsStaleHandle(t *testing.T) {
	r, ctx := newTestRepo(t)
	if _, err := r.Import(ctx, domain.EntityDrone, []domain.Record{{domain.FieldDroneID: "D001", domain.FieldModel: "Mavic"}}); err != nil {
		t.Fatalf("import: %v", err)
	}
	first, err := r.FindRow(ctx, domain.EntityDrone, "d001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	second, err := r.FindRow(ctx, domain.EntityDrone, "D001")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if err := r.UpdateField(ctx, first, domain.FieldStatus, domain.StatusMaintenance); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := r.UpdateField(ctx, second, domain.FieldStatus, domain.StatusAssigned); !errors.Is(err, repo.ErrStaleRow) {
		t.Fatalf("expected ErrStaleRow, got %v", err)
	}
	if err := r.UpdateField(ctx, first, domain.FieldStatus, domain.StatusAvailable); err != nil {
		t.Fatalf("handle should advance after a write: %v", err)
	}
	if err := r.UpdateField(ctx, first, "colour", "red"); !errors.Is(err, repo.ErrUnknownField) {
		t.Fatalf("expected ErrUnknownField, got %v", err)
	}
}

func TestFindAndDeleteRow(t *testing.T) {
	r, ctx := newTestRepo(t)
	if _, err := r.FindRow(ctx, domain.EntityPilot, "P404"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	id, err := r.AppendRow(ctx, domain.EntityPilot, domain.Record{domain.FieldName: "Rohit"})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	h, err := r.FindRow(ctx, domain.EntityPilot, id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	rec, err := r.Get(ctx, h)
	if err != nil || rec[domain.FieldName] != "Rohit" {
		t.Fatalf("get: %v %+v", err, rec)
	}
	if err := r.DeleteRow(ctx, h); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.DeleteRow(ctx, h); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestImportUpsertsAndNormalizesAssignments(t *testing.T) {
	r, ctx := newTestRepo(t)
	recs := []domain.Record{{domain.FieldPilotID: "P001", domain.FieldName: "Arjun", domain.FieldCurrentAssignment: "–"}}
	if n, err := r.Import(ctx, domain.EntityPilot, recs); err != nil || n != 1 {
		t.Fatalf("import: %d %v", n, err)
	}
	recs[0][domain.FieldName] = "Arjun K"
	if _, err := r.Import(ctx, domain.EntityPilot, recs); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	all, err := r.GetAll(ctx, domain.EntityPilot)
	if err != nil {
		t.Fatalf("get all: %v", err)
	}
	if len(all) != 1 || all[0][domain.FieldName] != "Arjun K" || all[0][domain.FieldCurrentAssignment] != domain.Unassigned {
		t.Fatalf("unexpected rows: %+v", all)
	}
	if _, err := r.Import(ctx, domain.EntityPilot, []domain.Record{{domain.FieldName: "no id"}}); err == nil {
		t.Fatalf("expected error for missing id")
	}
}

func TestSessionStoreRoundTrip(t *testing.T) {
	r, ctx := newTestRepo(t)
	s := repo.SessionStore{DB: r.DB}
	action, data, err := s.Load(ctx, "alice/1")
	if err != nil || action != "" || data != "" {
		t.Fatalf("fresh session: %q %q %v", action, data, err)
	}
	if err := s.Save(ctx, "alice/1", "awaiting_mission", `{"kind":"pilot"}`); err != nil {
		t.Fatalf("save: %v", err)
	}
	action, data, err = s.Load(ctx, "alice/1")
	if err != nil || action != "awaiting_mission" || data != `{"kind":"pilot"}` {
		t.Fatalf("load: %q %q %v", action, data, err)
	}
	if err := s.Save(ctx, "alice/1", "", ""); err != nil {
		t.Fatalf("save idle: %v", err)
	}
	if action, _, _ := s.Load(ctx, "alice/1"); action != "" {
		t.Fatalf("expected cleared session, got %q", action)
	}
}
