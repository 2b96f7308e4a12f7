package schedstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// NewPostgres opens a pooled connection and migrates the watermark/
// pending-counter schema, grounded in the teacher's storage/postgres
// package for pool handling and go-sqlite3's migrate wiring for the
// migration runner itself (the teacher's postgres store predates
// having one).
func NewPostgres(dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	pool, err := pgxpool.New(context.Background(), dsn)
	if err != nil {
		return nil, fmt.Errorf("schedstore: pgxpool: %w", err)
	}

	migDB, err := sql.Open("pgx", dsn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("schedstore: open migration conn: %w", err)
	}
	defer migDB.Close()
	if err := runMigrations(migDB, "postgres", logger); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool, logger: logger}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

func (s *PostgresStore) GetWatermark(ctx context.Context, uid string, instance int64, attendee string) (time.Time, bool, error) {
	row := s.pool.QueryRow(ctx, `
		select dtstamp from reply_watermarks where uid = $1 and instance = $2 and attendee = $3`,
		uid, instance, attendee)
	var ts time.Time
	if err := row.Scan(&ts); err != nil {
		if err.Error() == "no rows in result set" {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts, true, nil
}

func (s *PostgresStore) SetWatermark(ctx context.Context, w Watermark) error {
	_, err := s.pool.Exec(ctx, `
		insert into reply_watermarks (uid, instance, attendee, dtstamp)
		values ($1, $2, $3, $4)
		on conflict (uid, instance, attendee) do update set dtstamp = excluded.dtstamp
	`, w.UID, w.Instance, w.Attendee, w.DTStamp.UTC())
	return err
}

func (s *PostgresStore) AddPendingCounter(ctx context.Context, p PendingCounter) error {
	id := p.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx, `
		insert into pending_counters (id, uid, instance, from_addr, proposal, created_at)
		values ($1, $2, $3, $4, $5, $6)
	`, id, p.UID, p.Instance, p.From, p.Proposal, time.Now().UTC())
	return err
}

func (s *PostgresStore) ListPendingCounters(ctx context.Context, uid string) ([]PendingCounter, error) {
	rows, err := s.pool.Query(ctx, `
		select id, uid, instance, from_addr, proposal, created_at
		from pending_counters where uid = $1 order by created_at`, uid)
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

func (s *PostgresStore) ClearPendingCounter(ctx context.Context, uid string, instance int64) error {
	_, err := s.pool.Exec(ctx, `delete from pending_counters where uid = $1 and instance = $2`, uid, instance)
	return err
}

func (s *PostgresStore) DeleteOldWatermarks(ctx context.Context, cutoff time.Time) error {
	_, err := s.pool.Exec(ctx, `delete from reply_watermarks where dtstamp < $1`, cutoff.UTC())
	return err
}

func (s *PostgresStore) GetObject(ctx context.Context, uid string) (string, bool, error) {
	row := s.pool.QueryRow(ctx, `select ics from scheduling_objects where uid = $1`, uid)
	var ics string
	if err := row.Scan(&ics); err != nil {
		if err.Error() == "no rows in result set" {
			return "", false, nil
		}
		return "", false, err
	}
	return ics, true, nil
}

func (s *PostgresStore) PutObject(ctx context.Context, uid, ics string) error {
	_, err := s.pool.Exec(ctx, `
		insert into scheduling_objects (uid, ics, updated_at)
		values ($1, $2, $3)
		on conflict (uid) do update set ics = excluded.ics, updated_at = excluded.updated_at
	`, uid, ics, time.Now().UTC())
	return err
}

func (s *PostgresStore) DeleteObject(ctx context.Context, uid string) error {
	_, err := s.pool.Exec(ctx, `delete from scheduling_objects where uid = $1`, uid)
	return err
}

var _ = stdlib.GetDefaultDriver // ensures database/sql "pgx" driver is registered
