package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"skylark/internal/config"
	"skylark/internal/conflict"
	"skylark/internal/dialogue"
	"skylark/internal/domain"
	"skylark/internal/events"
	"skylark/internal/intent"
	"skylark/internal/repo"
)

// Store is the row-oriented repository the engine reads and mutates.
type Store interface {
	Snapshot(ctx context.Context) (domain.Snapshot, error)
	FindRow(ctx context.Context, t domain.EntityType, id string) (*repo.RowHandle, error)
	Get(ctx context.Context, h *repo.RowHandle) (domain.Record, error)
	UpdateField(ctx context.Context, h *repo.RowHandle, field, value string) error
	AppendRow(ctx context.Context, t domain.EntityType, rec domain.Record) (string, error)
	DeleteRow(ctx context.Context, h *repo.RowHandle) error
}

type Engine struct {
	DB       *sql.DB
	Store    Store
	Sessions repo.SessionStore
	Events   events.Writer
	Config   *config.Config
	Log      *zap.Logger
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:       db,
		Store:    repo.Repo{DB: db, IDWidth: cfg.Fleet.IDWidth},
		Sessions: repo.SessionStore{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Log:      log,
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *zap.Logger {
	if e.Log != nil {
		return e.Log
	}
	return zap.NewNop()
}

func (e Engine) config() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

// Detector applies the configured date rule.
func (e Engine) Detector() conflict.Detector {
	return conflict.Detector{DateRule: e.config().Conflicts.DateRule}
}

func (e Engine) machine() dialogue.Machine {
	return dialogue.Machine{Actions: e}
}

type actorKey struct{}

// WithActor attributes the mutations made under ctx to actorID.
func WithActor(ctx context.Context, actorID string) context.Context {
	return context.WithValue(ctx, actorKey{}, actorID)
}

func actorFrom(ctx context.Context) string {
	if v, ok := ctx.Value(actorKey{}).(string); ok {
		return v
	}
	return ""
}

// Response is the formatted outcome of one turn.
type Response struct {
	dialogue.Reply
	Intent intent.Intent `json:"intent"`
	// Pending names the flow awaiting the next turn; empty when idle.
	Pending string `json:"pending,omitempty"`
}

// HandleTurn interprets one user message for a session. Failures are reported in the
// response text and code; it never returns an error.
func (e Engine) HandleTurn(ctx context.Context, sessionID, text string) Response {
	log := e.logger().With(zap.String("session", sessionID))
	action, data, err := e.Sessions.Load(ctx, sessionID)
	if err != nil {
		log.Error("load session", zap.Error(err))
		return Response{Reply: dialogue.ErrorReply(domain.NewStoreError("load session", "", sessionID, err))}
	}
	st, err := dialogue.Decode(action, data)
	if err != nil {
		log.Warn("discarding unreadable session state", zap.String("action", action), zap.Error(err))
		st = dialogue.Idle{}
	}
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		log.Error("read fleet", zap.Error(err))
		return Response{Reply: dialogue.ErrorReply(domain.NewStoreError("read fleet", "", "", err)), Pending: st.Action()}
	}
	res := intent.Extract(text, snap)

	var (
		next  dialogue.State
		reply dialogue.Reply
		in    intent.Intent
	)
	if _, idle := st.(dialogue.Idle); idle {
		in = res.Intent
		next, reply = e.dispatch(ctx, res, snap)
	} else {
		in = flowIntent(st)
		next, reply = e.machine().Advance(ctx, st, text, res)
	}

	action, data, err = dialogue.Encode(next)
	if err == nil {
		err = e.Sessions.Save(ctx, sessionID, action, data)
	}
	if err != nil {
		log.Error("save session", zap.String("action", next.Action()), zap.Error(err))
		reply.Text += "\n\nThe conversation state could not be saved; the next message starts fresh."
		next = dialogue.Idle{}
	}
	log.Debug("turn handled", zap.String("intent", string(in)), zap.String("code", reply.Code), zap.String("pending", next.Action()))
	return Response{Reply: reply, Intent: in, Pending: next.Action()}
}

func flowIntent(st dialogue.State) intent.Intent {
	switch st.(type) {
	case dialogue.AwaitingAssignmentKind, dialogue.AwaitingMission, dialogue.AwaitingSelection:
		return intent.Assign
	case dialogue.AwaitingCreateType, dialogue.AwaitingDetails:
		return intent.Create
	case dialogue.AwaitingFieldToEdit, dialogue.AwaitingNewValue:
		return intent.Edit
	case dialogue.AwaitingDeleteConfirmation:
		return intent.Delete
	}
	return intent.None
}

func (e Engine) dispatch(ctx context.Context, res intent.Result, snap domain.Snapshot) (dialogue.State, dialogue.Reply) {
	m := e.machine()
	switch res.Intent {
	case intent.Delete:
		return m.StartDelete(ctx, res)
	case intent.Edit:
		if res.StatusExplicit && res.EntityID != "" && editsStatus(res) {
			return idle(e.setStatus(ctx, res))
		}
		return m.StartEdit(ctx, res)
	case intent.Create:
		return m.StartCreate(ctx, res)
	case intent.Assign:
		return m.StartAssign(ctx, res)
	case intent.ReportUnavailable:
		return idle(e.reportUnavailable(ctx, res))
	case intent.SetStatus:
		return idle(e.setStatus(ctx, res))
	case intent.Unassign:
		return idle(e.unassign(ctx, res))
	case intent.Conflicts:
		return dialogue.Idle{}, e.conflicts(snap, res)
	case intent.Recommend:
		return idle(e.recommend(ctx, res, snap))
	case intent.Availability:
		return dialogue.Idle{}, e.availability(snap, res)
	case intent.Roster:
		if res.Slot(intent.SlotKind) == string(domain.EntityMission) {
			return dialogue.Idle{}, e.missions(snap)
		}
		return dialogue.Idle{}, e.roster(snap, res)
	case intent.Missions:
		return dialogue.Idle{}, e.missions(snap)
	case intent.Info:
		return idle(e.info(snap, res))
	}
	return dialogue.Idle{}, dialogue.Reply{Text: helpText, Code: domain.CodeUnknownIntent}
}

// editsStatus reports whether an edit command names no field or the status field,
// so a status keyword in it is the new value.
func editsStatus(res intent.Result) bool {
	named := res.Slot(intent.SlotField)
	if named == "" {
		return true
	}
	field, ok := intent.ResolveField(res.EntityType, named)
	return ok && field == domain.FieldStatus
}

func idle(reply dialogue.Reply, err error) (dialogue.State, dialogue.Reply) {
	if err != nil {
		return dialogue.Idle{}, dialogue.ErrorReply(err)
	}
	return dialogue.Idle{}, reply
}

const helpText = `I can help you:
1. Find pilots for a mission (` + "`find a pilot for PRJ001`" + `)
2. Assign resources (` + "`assign P001 to PRJ001`" + `)
3. Update status (` + "`set P001 to on leave`" + `, ` + "`D002 is in maintenance`" + `)
4. Check availability and conflicts (` + "`who is available?`" + `, ` + "`show conflicts`" + `)
5. Add, edit or delete records (` + "`add a drone`" + `, ` + "`edit PRJ002`" + `, ` + "`delete P005`" + `)`

// find resolves an id and reads its row at the current revision.
func (e Engine) find(ctx context.Context, et domain.EntityType, id string) (*repo.RowHandle, domain.Record, error) {
	h, err := e.Store.FindRow(ctx, et, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, domain.NotFoundError{Type: et, ID: id}
	}
	if err != nil {
		return nil, nil, domain.NewStoreError("find", et, id, err)
	}
	rec, err := e.Store.Get(ctx, h)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, nil, domain.NotFoundError{Type: et, ID: id}
	}
	if err != nil {
		return nil, nil, domain.NewStoreError("read", et, id, err)
	}
	return h, rec, nil
}

// write updates one field, translating repository failures into domain errors.
func (e Engine) write(ctx context.Context, h *repo.RowHandle, field, value string) error {
	if err := e.Store.UpdateField(ctx, h, field, value); err != nil {
		return e.rowError("update "+field, h, err)
	}
	return nil
}

func (e Engine) rowError(op string, h *repo.RowHandle, err error) error {
	switch {
	case errors.Is(err, repo.ErrStaleRow):
		e.logger().Warn("stale row rejected", zap.String("op", op), zap.String("entity", string(h.Type)), zap.String("id", h.ID), zap.Error(err))
		return domain.PreconditionError{Reason: fmt.Sprintf("%s %s changed while this command ran; please retry", h.Type, h.ID)}
	case errors.Is(err, repo.ErrNotFound):
		return domain.NotFoundError{Type: h.Type, ID: h.ID}
	}
	return domain.NewStoreError(op, h.Type, h.ID, err)
}

// record appends an audit event. Failures are logged, never surfaced.
func (e Engine) record(ctx context.Context, evtType string, et domain.EntityType, id string, payload events.EventPayload) {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	if err := w.Record(ctx, evtType, string(et), id, actorFrom(ctx), payload); err != nil {
		e.logger().Error("append audit event", zap.String("type", evtType), zap.String("id", id), zap.Error(err))
	}
}

type fieldValue struct {
	field string
	value string
}

// compensate reverts the resource side of a paired write after the mission side failed.
func (e Engine) compensate(ctx context.Context, h *repo.RowHandle, restore []fieldValue, cause error) {
	log := e.logger().With(zap.String("entity", string(h.Type)), zap.String("id", h.ID), zap.NamedError("cause", cause))
	for _, fv := range restore {
		if err := e.Store.UpdateField(ctx, h, fv.field, fv.value); err != nil {
			log.Error("paired write left irreconcilable; manual repair needed",
				zap.String("field", fv.field), zap.String("expected", fv.value), zap.NamedError("revert", err))
			e.record(ctx, events.AssignmentIrreconcilable, h.Type, h.ID, events.EventPayload{
				"field":        fv.field,
				"expected":     fv.value,
				"cause":        cause.Error(),
				"revert_error": err.Error(),
			})
			return
		}
	}
	log.Warn("paired write compensated")
	e.record(ctx, events.AssignmentCompensated, h.Type, h.ID, events.EventPayload{"cause": cause.Error()})
}

func label(et domain.EntityType, rec domain.Record) string {
	id := rec[et.IDField()]
	name := rec[domain.FieldName]
	if et == domain.EntityDrone {
		name = rec[domain.FieldModel]
	}
	if name == "" {
		return fmt.Sprintf("%s %s", et, id)
	}
	return fmt.Sprintf("%s %s (%s)", et, id, name)
}

func missionField(kind domain.EntityType) string {
	if kind == domain.EntityDrone {
		return domain.FieldAssignedDrone
	}
	return domain.FieldAssignedPilot
}

// resourcePair reports whether et carries a current assignment.
func resourcePair(et domain.EntityType) bool {
	return et == domain.EntityPilot || et == domain.EntityDrone
}

// conflictsFor re-reads the fleet and returns conflicts touching id.
// A failed read only loses the warnings.
func (e Engine) conflictsFor(ctx context.Context, id string) []domain.Conflict {
	snap, err := e.Store.Snapshot(ctx)
	if err != nil {
		e.logger().Warn("read fleet for warnings", zap.Error(err))
		return nil
	}
	var out []domain.Conflict
	for _, c := range e.Detector().Detect(snap) {
		if strings.EqualFold(c.Entity.ID, id) || strings.EqualFold(c.MissionID, id) {
			out = append(out, c)
		}
	}
	conflict.Sort(out)
	return out
}
