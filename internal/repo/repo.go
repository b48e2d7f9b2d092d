package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"skylark/internal/domain"
)

type Repo struct {
	DB *sql.DB
	// IDWidth is the zero padding of minted ids. Zero means 3.
	IDWidth int
}

var (
	ErrNotFound      = errors.New("not found")
	ErrStaleRow      = errors.New("row changed since it was read")
	ErrUnknownField  = errors.New("unknown field")
	ErrUnknownEntity = errors.New("unknown entity type")
)

// RowHandle addresses one stored row at the revision it was read.
type RowHandle struct {
	Type     domain.EntityType
	RowID    int64
	ID       string
	Revision int64
}

var tables = map[domain.EntityType]string{
	domain.EntityPilot:   "pilots",
	domain.EntityDrone:   "drones",
	domain.EntityMission: "missions",
}

var internalColumns = map[string]bool{"row_id": true, "revision": true}

func tableFor(t domain.EntityType) (string, error) {
	name, ok := tables[t]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEntity, t)
	}
	return name, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Headers returns the user-visible columns of a collection in schema order.
func (r Repo) Headers(ctx context.Context, t domain.EntityType) ([]string, error) {
	return headersOf(ctx, r.DB, t)
}

func headersOf(ctx context.Context, q querier, t domain.EntityType) ([]string, error) {
	name, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA table_info(%s)`, name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var headers []string
	for rows.Next() {
		var (
			cid     int
			col     string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &col, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		if internalColumns[col] {
			continue
		}
		headers = append(headers, col)
	}
	return headers, rows.Err()
}

// GetAll reads every row of a collection in insertion order.
func (r Repo) GetAll(ctx context.Context, t domain.EntityType) ([]domain.Record, error) {
	name, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	headers, err := r.Headers(ctx, t)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s ORDER BY row_id`, strings.Join(headers, ","), name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Record
	for rows.Next() {
		rec, err := scanRecord(rows, headers)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func scanRecord(rows *sql.Rows, headers []string) (domain.Record, error) {
	values := make([]sql.NullString, len(headers))
	dest := make([]any, len(headers))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	rec := make(domain.Record, len(headers))
	for i, h := range headers {
		rec[h] = values[i].String
	}
	return rec, nil
}

// FindRow resolves an id to a handle. Ids match case-insensitively.
func (r Repo) FindRow(ctx context.Context, t domain.EntityType, id string) (*RowHandle, error) {
	name, err := tableFor(t)
	if err != nil {
		return nil, err
	}
	idCol := t.IDField()
	h := &RowHandle{Type: t}
	err = r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT row_id,revision,%s FROM %s WHERE %s=? COLLATE NOCASE`, idCol, name, idCol), strings.TrimSpace(id)).
		Scan(&h.RowID, &h.Revision, &h.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %s: %w", t, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Get reads the row behind a handle and refreshes its revision.
func (r Repo) Get(ctx context.Context, h *RowHandle) (domain.Record, error) {
	name, err := tableFor(h.Type)
	if err != nil {
		return nil, err
	}
	headers, err := r.Headers(ctx, h.Type)
	if err != nil {
		return nil, err
	}
	rows, err := r.DB.QueryContext(ctx, fmt.Sprintf(`SELECT revision,%s FROM %s WHERE row_id=?`, strings.Join(headers, ","), name), h.RowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%s %s: %w", h.Type, h.ID, ErrNotFound)
	}
	values := make([]sql.NullString, len(headers))
	dest := []any{&h.Revision}
	for i := range values {
		dest = append(dest, &values[i])
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}
	rec := make(domain.Record, len(headers))
	for i, col := range headers {
		rec[col] = values[i].String
	}
	return rec, nil
}

func (r Repo) checkField(ctx context.Context, t domain.EntityType, field string) error {
	headers, err := r.Headers(ctx, t)
	if err != nil {
		return err
	}
	for _, h := range headers {
		if h == field {
			return nil
		}
	}
	return fmt.Errorf("%w %q for %s", ErrUnknownField, field, t)
}

// UpdateField writes one field if the row is still at the handle's revision.
// On success the handle advances to the new revision.
func (r Repo) UpdateField(ctx context.Context, h *RowHandle, field, value string) error {
	if h == nil {
		return fmt.Errorf("nil row handle")
	}
	name, err := tableFor(h.Type)
	if err != nil {
		return err
	}
	if err := r.checkField(ctx, h.Type, field); err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET %s=?, revision=revision+1 WHERE row_id=? AND revision=?`, name, field),
		value, h.RowID, h.Revision)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrStale(ctx, h)
	}
	h.Revision++
	if field == h.Type.IDField() {
		h.ID = value
	}
	return nil
}

// DeleteRow removes the row if it is still at the handle's revision.
func (r Repo) DeleteRow(ctx context.Context, h *RowHandle) error {
	if h == nil {
		return fmt.Errorf("nil row handle")
	}
	name, err := tableFor(h.Type)
	if err != nil {
		return err
	}
	res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE row_id=? AND revision=?`, name), h.RowID, h.Revision)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return r.missOrStale(ctx, h)
	}
	return nil
}

func (r Repo) missOrStale(ctx context.Context, h *RowHandle) error {
	name, _ := tableFor(h.Type)
	var rev int64
	err := r.DB.QueryRowContext(ctx, fmt.Sprintf(`SELECT revision FROM %s WHERE row_id=?`, name), h.RowID).Scan(&rev)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", h.Type, h.ID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	return fmt.Errorf("%s %s at revision %d (now %d): %w", h.Type, h.ID, h.Revision, rev, ErrStaleRow)
}

// AppendRow inserts a record under the next sequential id and returns that id.
// Fields left out of rec take their column defaults.
func (r Repo) AppendRow(ctx context.Context, t domain.EntityType, rec domain.Record) (string, error) {
	name, err := tableFor(t)
	if err != nil {
		return "", err
	}
	headers, err := r.Headers(ctx, t)
	if err != nil {
		return "", err
	}
	known := make(map[string]bool, len(headers))
	for _, h := range headers {
		known[h] = true
	}
	idCol := t.IDField()
	for field := range rec {
		if !known[field] {
			return "", fmt.Errorf("%w %q for %s", ErrUnknownField, field, t)
		}
	}

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT %s FROM %s`, idCol, name))
	if err != nil {
		return "", err
	}
	var existing []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return "", err
		}
		existing = append(existing, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", err
	}
	newID := NextID(t, existing, r.IDWidth)

	cols := []string{idCol}
	args := []any{newID}
	for _, h := range headers {
		if h == idCol {
			continue
		}
		if v, ok := rec[h]; ok {
			cols = append(cols, h)
			args = append(args, v)
		}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s)`, name, strings.Join(cols, ","), placeholders), args...); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	return newID, nil
}

// NextID mints the id after the largest numeric suffix among existing ids of t.
func NextID(t domain.EntityType, existing []string, width int) string {
	if width <= 0 {
		width = 3
	}
	prefix := t.IDPrefix()
	max := 0
	for _, id := range existing {
		id = strings.ToUpper(strings.TrimSpace(id))
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, prefix))
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return t.MintID(max+1, width)
}

// Import upserts records keeping the ids they carry. It returns the number of rows written.
func (r Repo) Import(ctx context.Context, t domain.EntityType, recs []domain.Record) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := r.ImportTx(ctx, tx, t, recs)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}

// ImportTx upserts records inside tx. Nothing is written if any row fails.
func (r Repo) ImportTx(ctx context.Context, tx *sql.Tx, t domain.EntityType, recs []domain.Record) (int, error) {
	name, err := tableFor(t)
	if err != nil {
		return 0, err
	}
	headers, err := headersOf(ctx, tx, t)
	if err != nil {
		return 0, err
	}
	idCol := t.IDField()
	count := 0
	for i, rec := range recs {
		id := strings.TrimSpace(rec[idCol])
		if id == "" {
			return 0, fmt.Errorf("row %d: %s is required", i+1, idCol)
		}
		var (
			cols    []string
			args    []any
			updates []string
		)
		for _, h := range headers {
			v, ok := rec[h]
			if !ok {
				continue
			}
			if domain.AssignmentFields[h] {
				v = domain.NormalizeAssignment(v)
			}
			cols = append(cols, h)
			args = append(args, strings.TrimSpace(v))
			if h != idCol {
				updates = append(updates, fmt.Sprintf("%s=excluded.%s", h, h))
			}
		}
		updates = append(updates, "revision=revision+1")
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",")
		query := fmt.Sprintf(`INSERT INTO %s(%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
			name, strings.Join(cols, ","), placeholders, idCol, strings.Join(updates, ","))
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, fmt.Errorf("row %d (%s): %w", i+1, id, err)
		}
		count++
	}
	return count, nil
}

// Snapshot reads all three collections.
func (r Repo) Snapshot(ctx context.Context) (domain.Snapshot, error) {
	pilots, err := r.GetAll(ctx, domain.EntityPilot)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read pilots: %w", err)
	}
	drones, err := r.GetAll(ctx, domain.EntityDrone)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read drones: %w", err)
	}
	missions, err := r.GetAll(ctx, domain.EntityMission)
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("read missions: %w", err)
	}
	return domain.NewSnapshot(pilots, drones, missions), nil
}
