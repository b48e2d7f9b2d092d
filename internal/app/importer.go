package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"skylark/internal/domain"
	"skylark/internal/events"
	"skylark/internal/repo"
)

// ReadCSV parses a collection export whose first row is the header.
// Unknown columns are rejected; missing ones take their defaults.
func ReadCSV(et domain.EntityType, r io.Reader) ([]domain.Record, error) {
	known := map[string]bool{}
	for _, f := range domain.Fields[et] {
		known[f] = true
	}
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%s csv is empty", et)
	}
	if err != nil {
		return nil, err
	}
	for i, h := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if !known[header[i]] {
			return nil, fmt.Errorf("%s csv: unknown column %q", et, h)
		}
	}
	var out []domain.Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rec := make(domain.Record, len(header))
		for i, v := range row {
			rec[header[i]] = strings.TrimSpace(v)
		}
		out = append(out, rec)
	}
	return out, nil
}

// ImportFile upserts a CSV file into a collection and records a fleet.imported event.
func (e *Env) ImportFile(ctx context.Context, et domain.EntityType, path, actorID string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	recs, err := ReadCSV(et, f)
	if err != nil {
		return 0, err
	}
	return Import(ctx, e.Repo, events.Writer{DB: e.DB}, et, recs, actorID)
}

// Import upserts recs and records a fleet.imported event in the same transaction.
func Import(ctx context.Context, r repo.Repo, w events.Writer, et domain.EntityType, recs []domain.Record, actorID string) (int, error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()
	n, err := r.ImportTx(ctx, tx, et, recs)
	if err != nil {
		return 0, fmt.Errorf("import %s: %w", et, err)
	}
	if err := w.Append(ctx, tx, events.FleetImported, string(et), "", actorID, events.EventPayload{"rows": n}); err != nil {
		return 0, fmt.Errorf("record import: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
