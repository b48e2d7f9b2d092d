package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types.
const (
	RecordCreated            = "record.created"
	RecordUpdated            = "record.updated"
	RecordDeleted            = "record.deleted"
	StatusChanged            = "status.changed"
	AssignmentCreated        = "assignment.created"
	AssignmentCleared        = "assignment.cleared"
	AssignmentCompensated    = "assignment.compensated"
	AssignmentIrreconcilable = "assignment.irreconcilable"
	FleetImported            = "fleet.imported"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Append writes an event using tx, or the writer's DB when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	var ex execer
	switch {
	case tx != nil:
		ex = tx
	case w.DB != nil:
		ex = w.DB
	default:
		return fmt.Errorf("event writer has no database")
	}
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = EventPayload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	if actorID == "" {
		actorID = "system"
	}
	_, err = ex.ExecContext(ctx, `INSERT INTO events(ts,type,entity_kind,entity_id,actor_id,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, evtType, entityKind, nullable(entityID), actorID, string(data))
	return err
}

// Record appends an event outside any transaction.
func (w Writer) Record(ctx context.Context, evtType, entityKind, entityID, actorID string, payload EventPayload) error {
	return w.Append(ctx, nil, evtType, entityKind, entityID, actorID, payload)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
