package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"skylark/internal/app"
	"skylark/internal/domain"
	"skylark/internal/engine"
)

func TestChatLoopKeepsFlowAcrossLines(t *testing.T) {
	viper.Set("json", false)
	ctx := context.Background()
	env, err := app.Open(ctx, t.TempDir())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer env.Close()
	recs := []domain.Record{
		{"drone_id": "D001", "model": "Mavic 3", "location": "Mumbai", "status": "Available", "current_assignment": "none", "flight_hours": "80"},
	}
	if _, err := app.Import(ctx, env.Repo, env.Engine.Events, domain.EntityDrone, recs, "tester"); err != nil {
		t.Fatalf("import: %v", err)
	}

	in := strings.NewReader("delete D001\n\nyes\nexit\nshow drones\n")
	var out bytes.Buffer
	if err := chatLoop(engine.WithActor(ctx, "tester"), env.Engine, "chat-test", in, &out); err != nil {
		t.Fatalf("chat: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "(waiting for your answer: awaiting_delete_confirmation)") {
		t.Fatalf("expected pending confirmation in output:\n%s", text)
	}
	if !strings.Contains(text, "Deleted drone D001") {
		t.Fatalf("expected deletion in output:\n%s", text)
	}
	if strings.Contains(text, "Mavic 3 |") {
		t.Fatalf("lines after exit must not run:\n%s", text)
	}
	drones, err := env.Repo.GetAll(ctx, domain.EntityDrone)
	if err != nil || len(drones) != 0 {
		t.Fatalf("expected drone removed: %v %d", err, len(drones))
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "b", "c"); got != "b" {
		t.Fatalf("got %q", got)
	}
	if got := firstNonEmpty(); got != "" {
		t.Fatalf("got %q", got)
	}
}
