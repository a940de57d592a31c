package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists call records in PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS call_records (
			id TEXT PRIMARY KEY,
			stream_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			error TEXT NOT NULL DEFAULT '',
			started_at TIMESTAMPTZ NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			frames_to_ai BIGINT NOT NULL DEFAULT 0,
			frames_to_telephony BIGINT NOT NULL DEFAULT 0,
			clears BIGINT NOT NULL DEFAULT 0,
			pongs BIGINT NOT NULL DEFAULT 0,
			dropped BIGINT NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_call_records_ended ON call_records (ended_at DESC);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

const recordColumns = `id, stream_id, outcome, error, started_at, ended_at, duration_ms,
	frames_to_ai, frames_to_telephony, clears, pongs, dropped`

func (s *PostgresStore) SaveCall(ctx context.Context, r CallRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.EndedAt.IsZero() {
		r.EndedAt = time.Now().UTC()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = r.EndedAt
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO call_records (`+recordColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO UPDATE SET
			stream_id = EXCLUDED.stream_id,
			outcome = EXCLUDED.outcome,
			error = EXCLUDED.error,
			ended_at = EXCLUDED.ended_at,
			duration_ms = EXCLUDED.duration_ms,
			frames_to_ai = EXCLUDED.frames_to_ai,
			frames_to_telephony = EXCLUDED.frames_to_telephony,
			clears = EXCLUDED.clears,
			pongs = EXCLUDED.pongs,
			dropped = EXCLUDED.dropped`,
		r.ID, r.StreamID, r.Outcome, r.Error, r.StartedAt, r.EndedAt, r.DurationMS,
		r.FramesToAI, r.FramesToTelephony, r.Clears, r.Pongs, r.Dropped,
	)
	if err != nil {
		return fmt.Errorf("save call record: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCall(ctx context.Context, id string) (CallRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM call_records WHERE id=$1`, id)
	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return CallRecord{}, ErrNotFound
	}
	if err != nil {
		return CallRecord{}, fmt.Errorf("get call record: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+recordColumns+` FROM call_records ORDER BY ended_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query call records: %w", err)
	}
	defer rows.Close()

	items := make([]CallRecord, 0, limit)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan call record: %w", err)
		}
		items = append(items, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate call records: %w", err)
	}
	return items, nil
}

func scanRecord(row pgx.Row) (CallRecord, error) {
	var r CallRecord
	err := row.Scan(&r.ID, &r.StreamID, &r.Outcome, &r.Error, &r.StartedAt, &r.EndedAt, &r.DurationMS,
		&r.FramesToAI, &r.FramesToTelephony, &r.Clears, &r.Pongs, &r.Dropped)
	return r, err
}

func (s *PostgresStore) Mode() string { return "postgres" }

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
