package schedstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/rs/zerolog"
)

type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLite opens (and migrates) a single-node embedded store, the
// deployment mode the reference dispatcher uses out of the box —
// grounded in the teacher's storage/sqlite.Store.
func NewSQLite(path string, logger zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("schedstore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 30000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("schedstore: %s: %w", pragma, err)
		}
	}

	if err := runMigrations(db, "sqlite", logger); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

func (s *SQLiteStore) Close() { _ = s.db.Close() }

func (s *SQLiteStore) GetWatermark(ctx context.Context, uid string, instance int64, attendee string) (time.Time, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		select dtstamp from reply_watermarks where uid = ? and instance = ? and attendee = ?`,
		uid, instance, attendee)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if err == sql.ErrNoRows {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (s *SQLiteStore) SetWatermark(ctx context.Context, w Watermark) error {
	_, err := s.db.ExecContext(ctx, `
		insert into reply_watermarks (uid, instance, attendee, dtstamp)
		values (?, ?, ?, ?)
		on conflict (uid, instance, attendee) do update set dtstamp = excluded.dtstamp
	`, w.UID, w.Instance, w.Attendee, w.DTStamp.UTC())
	return err
}

func (s *SQLiteStore) AddPendingCounter(ctx context.Context, p PendingCounter) error {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into pending_counters (id, uid, instance, from_addr, proposal, created_at)
		values (?, ?, ?, ?, ?, ?)
	`, id, p.UID, p.Instance, p.From, p.Proposal, time.Now().UTC())
	return err
}

func (s *SQLiteStore) ListPendingCounters(ctx context.Context, uid string) ([]PendingCounter, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, uid, instance, from_addr, proposal, created_at
		from pending_counters where uid = ? order by created_at`, uid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingCounter
	for rows.Next() {
		var p PendingCounter
		if err := rows.Scan(&p.ID, &p.UID, &p.Instance, &p.From, &p.Proposal, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) ClearPendingCounter(ctx context.Context, uid string, instance int64) error {
	_, err := s.db.ExecContext(ctx, `delete from pending_counters where uid = ? and instance = ?`, uid, instance)
	return err
}

func (s *SQLiteStore) DeleteOldWatermarks(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `delete from reply_watermarks where dtstamp < ?`, cutoff.UTC())
	return err
}

func (s *SQLiteStore) GetObject(ctx context.Context, uid string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `select ics from scheduling_objects where uid = ?`, uid)
	var ics string
	if err := row.Scan(&ics); err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, err
	}
	return ics, true, nil
}

func (s *SQLiteStore) PutObject(ctx context.Context, uid, ics string) error {
	_, err := s.db.ExecContext(ctx, `
		insert into scheduling_objects (uid, ics, updated_at)
		values (?, ?, ?)
		on conflict (uid) do update set ics = excluded.ics, updated_at = excluded.updated_at
	`, uid, ics, time.Now().UTC())
	return err
}

func (s *SQLiteStore) DeleteObject(ctx context.Context, uid string) error {
	_, err := s.db.ExecContext(ctx, `delete from scheduling_objects where uid = ?`, uid)
	return err
}
