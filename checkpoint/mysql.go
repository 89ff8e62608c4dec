package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// MySQLStore persists checkpoints in MySQL for multi-process deployments
// that share one checkpoint history. The schema mirrors SQLiteStore.
type MySQLStore struct {
	db *sql.DB
}

// NewMySQLStore opens a MySQL-backed store. The DSN must include
// parseTime=true so TIMESTAMP columns scan into time.Time.
func NewMySQLStore(dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	s := &MySQLStore{db: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			checkpoint_id      VARCHAR(64) PRIMARY KEY,
			query              TEXT NOT NULL,
			frame_json         JSON,
			state_summary_json JSON,
			created_at         TIMESTAMP(3) NOT NULL,
			completed_at       TIMESTAMP(3) NULL,
			error_count        INT NOT NULL DEFAULT 0,
			partial            BOOLEAN NOT NULL DEFAULT FALSE,
			INDEX idx_runs_created_at (created_at)
		) ENGINE=InnoDB`,
		`CREATE TABLE IF NOT EXISTS run_metrics (
			checkpoint_id      VARCHAR(64) NOT NULL,
			intent             VARCHAR(64),
			total_latency_ms   BIGINT NOT NULL,
			node_latencies_json JSON,
			cache_hit_rate     DOUBLE NOT NULL,
			item_count         INT NOT NULL,
			success            BOOLEAN NOT NULL,
			created_at         TIMESTAMP(3) NOT NULL,
			CONSTRAINT fk_metrics_run FOREIGN KEY (checkpoint_id)
				REFERENCES runs(checkpoint_id) ON DELETE CASCADE
		) ENGINE=InnoDB`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("mysql migrate: %w", err)
		}
	}
	return nil
}

// Save implements Store.
func (s *MySQLStore) Save(ctx context.Context, cp Checkpoint) error {
	const q = `
INSERT INTO runs (checkpoint_id, query, frame_json, state_summary_json, created_at, completed_at, error_count, partial)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
	state_summary_json = VALUES(state_summary_json),
	completed_at = VALUES(completed_at),
	error_count = VALUES(error_count),
	partial = VALUES(partial)`

	var completed any
	if cp.CompletedAt != nil {
		completed = cp.CompletedAt.UTC()
	}
	_, err := s.db.ExecContext(ctx, q,
		cp.ID, cp.Query, nullableJSON(cp.Frame), nullableJSON(cp.Summary),
		cp.CreatedAt.UTC(), completed, cp.ErrorCount, cp.Partial)
	if err != nil {
		return fmt.Errorf("mysql save checkpoint %s: %w", cp.ID, err)
	}
	return nil
}

// SaveMetrics implements Store.
func (s *MySQLStore) SaveMetrics(ctx context.Context, m Metrics) error {
	const q = `
INSERT INTO run_metrics (checkpoint_id, intent, total_latency_ms, node_latencies_json, cache_hit_rate, item_count, success, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, q,
		m.CheckpointID, m.Intent, m.TotalLatencyMS, nullableJSON(m.NodeLatencies),
		m.CacheHitRate, m.ItemCount, m.Success, m.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("mysql save metrics %s: %w", m.CheckpointID, err)
	}
	return nil
}

// Get implements Store.
func (s *MySQLStore) Get(ctx context.Context, id string) (Checkpoint, error) {
	const q = `
SELECT checkpoint_id, query, frame_json, state_summary_json, created_at, completed_at, error_count, partial
FROM runs WHERE checkpoint_id = ?`

	cp, err := scanCheckpoint(s.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Checkpoint{}, ErrNotFound
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("mysql get checkpoint %s: %w", id, err)
	}
	return cp, nil
}

// List implements Store: newest first.
func (s *MySQLStore) List(ctx context.Context, limit int) ([]Checkpoint, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
SELECT checkpoint_id, query, frame_json, state_summary_json, created_at, completed_at, error_count, partial
FROM runs ORDER BY created_at DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("mysql list checkpoints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Checkpoint
	for rows.Next() {
		cp, err := scanCheckpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("mysql list checkpoints: %w", err)
		}
		out = append(out, cp)
	}
	return out, rows.Err()
}

// Sweep implements Store.
func (s *MySQLStore) Sweep(ctx context.Context, cutoff time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("mysql sweep: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// Close implements Store.
func (s *MySQLStore) Close() error { return s.db.Close() }
