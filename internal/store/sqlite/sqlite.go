// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package sqlite implements the stores on the local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	dbpkg "github.com/Thermoquad/coffer/internal/db"
	"github.com/Thermoquad/coffer/internal/store"
	"github.com/Thermoquad/coffer/pkg/access"
	"github.com/Thermoquad/coffer/pkg/telemetry"
)

const keyActiveCode = "active_code"

// Store implements every store interface. Reads go straight to db; writes
// are serialised through the worker.
type Store struct {
	db     *sql.DB
	writer *dbpkg.Worker
}

var (
	_ store.CodeStore    = (*Store)(nil)
	_ store.EventStore   = (*Store)(nil)
	_ store.ReadingStore = (*Store)(nil)
)

func New(db *sql.DB, writer *dbpkg.Worker) *Store {
	return &Store{db: db, writer: writer}
}

// LoadCode returns access.ErrNoCode when no code has been saved.
func (s *Store) LoadCode(ctx context.Context) (string, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?;`, keyActiveCode).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", access.ErrNoCode
	}
	if err != nil {
		return "", fmt.Errorf("LoadCode: %w", err)
	}
	return code, nil
}

func (s *Store) SaveCode(ctx context.Context, code string) error {
	now := time.Now().UTC().UnixMilli()
	return s.writer.Do(ctx, "save_code", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO settings(key, value, updated_at_ms) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at_ms = excluded.updated_at_ms;
`, keyActiveCode, code, now); err != nil {
			return fmt.Errorf("SaveCode: %w", err)
		}
		return nil
	})
}

func (s *Store) ClearCode(ctx context.Context) error {
	return s.writer.Do(ctx, "clear_code", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM settings WHERE key = ?;`, keyActiveCode); err != nil {
			return fmt.Errorf("ClearCode: %w", err)
		}
		return nil
	})
}

func (s *Store) RecordEvent(ctx context.Context, rec store.EventRecord) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	return s.writer.Do(ctx, "record_event", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO access_events(kind, phase, failed_attempts, occurred_at_ms)
VALUES (?, ?, ?, ?);
`, string(rec.Kind), rec.Phase.String(), rec.FailedAttempts, rec.OccurredAt.UTC().UnixMilli()); err != nil {
			return fmt.Errorf("RecordEvent insert: %w", err)
		}
		return nil
	})
}

func (s *Store) ListEvents(ctx context.Context, limit int) ([]store.EventRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, kind, phase, failed_attempts, occurred_at_ms
FROM access_events ORDER BY occurred_at_ms DESC, id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListEvents: %w", err)
	}
	defer rows.Close()

	var out []store.EventRecord
	for rows.Next() {
		var (
			rec   store.EventRecord
			kind  string
			phase string
			atMs  int64
		)
		if err := rows.Scan(&rec.ID, &kind, &phase, &rec.FailedAttempts, &atMs); err != nil {
			return nil, fmt.Errorf("ListEvents scan: %w", err)
		}
		rec.Kind = access.EventKind(kind)
		rec.Phase, _ = access.ParsePhase(phase)
		rec.OccurredAt = time.UnixMilli(atMs).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *Store) RecordReading(ctx context.Context, r telemetry.Reading) error {
	if !r.Valid {
		return fmt.Errorf("RecordReading: reading has no record")
	}
	raw := telemetry.Encode(r.Record)
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	return s.writer.Do(ctx, "record_reading", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO telemetry_readings(received_at_ms, record, temperature_c, humidity_pct, sound_pct, tilt, stale)
VALUES (?, ?, ?, ?, ?, ?, ?);
`, at.UTC().UnixMilli(), raw[:], r.Record.Temperature, r.Record.Humidity,
			r.Record.SoundPercent, boolInt(r.Record.Tilt), boolInt(r.Stale)); err != nil {
			return fmt.Errorf("RecordReading insert: %w", err)
		}
		return nil
	})
}

func (s *Store) ListReadings(ctx context.Context, limit int) ([]telemetry.Reading, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT received_at_ms, record, stale
FROM telemetry_readings ORDER BY received_at_ms DESC, id DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("ListReadings: %w", err)
	}
	defer rows.Close()

	var out []telemetry.Reading
	for rows.Next() {
		var (
			atMs  int64
			raw   []byte
			stale int
		)
		if err := rows.Scan(&atMs, &raw, &stale); err != nil {
			return nil, fmt.Errorf("ListReadings scan: %w", err)
		}
		rec, err := telemetry.Decode(raw)
		if err != nil {
			return nil, fmt.Errorf("ListReadings decode: %w", err)
		}
		out = append(out, telemetry.Reading{
			Record: rec,
			At:     time.UnixMilli(atMs).UTC(),
			Stale:  stale == 1,
			Valid:  true,
		})
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
