package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists checkpoints in a single-file SQLite database. WAL
// mode allows concurrent readers; the single-connection pool serializes
// writes, which also serializes writes per checkpoint id.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at path. Use ":memory:"
// for an ephemeral store.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS runs (
	checkpoint_id      TEXT PRIMARY KEY,
	query              TEXT NOT NULL,
	frame_json         TEXT,
	state_summary_json TEXT,
	created_at         TIMESTAMP NOT NULL,
	completed_at       TIMESTAMP,
	error_count        INTEGER NOT NULL DEFAULT 0,
	partial            BOOLEAN NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS run_metrics (
	checkpoint_id      TEXT NOT NULL REFERENCES runs(checkpoint_id) ON DELETE CASCADE,
	intent             TEXT,
	total_latency_ms   INTEGER NOT NULL,
	node_latencies_json TEXT,
	cache_hit_rate     REAL NOT NULL,
	item_count         INTEGER NOT NULL,
	success            BOOLEAN NOT NULL,
	created_at         TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}

// Save implements Store. Saving an existing id overwrites it, so completing
// a run updates the row written at creation.
func (s *SQLiteStore) Save(ctx context.Context, cp Checkpoint) error {
	const q = `
INSERT INTO runs (checkpoint_id, query, frame_json, state_summary_json, created_at, completed_at, error_count, partial)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(checkpoint_id) DO UPDATE SET
	state_summary_json = excluded.state_summary_json,
	completed_at = excluded.completed_at,
	error_count = excluded.error_count,
	partial = excluded.partial`

	var completed any
	if cp.CompletedAt != nil {
		completed = cp.CompletedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, q,
		cp.ID, cp.Query, nullableJSON(cp.Frame), nullableJSON(cp.Summary),
		cp.CreatedAt.UTC(), completed, cp.ErrorCount, cp.Partial)
	if err != nil {
		return fmt.Errorf("sqlite save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// SaveMetrics implements Store.
func (s *SQLiteStore) SaveMetrics(ctx context.Context, m Metrics) error {
	const q = `
INSERT INTO run_metrics (checkpoint_id, intent, total_latency_ms, node_latencies_json, cache_hit_rate, item_count, success, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		m.CheckpointID, m.Intent, m.TotalLatencyMS, nullableJSON(m.NodeLatencies),
		m.CacheHitRate, m.ItemCount, m.Success, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("sqlite save metrics %s: %w", m.CheckpointID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Checkpoint, error) {
	const q = `
SELECT checkpoint_id, query, frame_json, state_summary_json, created_at, completed_at, error_count, partial
FROM runs WHERE checkpoint_id = ?`

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("sqlite get checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// List implements Store: newest first.
func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT checkpoint_id, query, frame_json, state_summary_json, created_at, completed_at, error_count, partial
FROM runs ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite list checkpoints: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Sweep implements Store.
func (s *SQLiteStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlite sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close implements Store.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCheckpoint(row rowScanner) (Checkpoint, error) {
	var cp Checkpoint
	var frame, summary sql.NullString
	var completed sql.NullTime

	err := row.Scan(&cp.ID, &cp.Query, &frame, &summary, &cp.CreatedAt, &completed, &cp.ErrorCount, &cp.Partial)
	if err != nil {
		return Checkpoint{}, err
	}
	if frame.Valid {
		cp.Frame = []byte(frame.String)
	}
	if summary.Valid {
		cp.Summary = []byte(summary.String)
	}
	if completed.Valid {
		t := completed.Time
		cp.CompletedAt = &t
	}
	return cp, nil
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
