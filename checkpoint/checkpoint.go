// Package checkpoint persists run records with deterministic identities so
// identical inputs are recognizable across re-runs. Backends: in-memory (TTL
// + LRU count cap), SQLite, and MySQL.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrNotFound is returned when no checkpoint exists for an id.
var ErrNotFound = errors.New("checkpoint not found")

// Checkpoint is one persisted run record. Frame and Summary travel as raw
// JSON so the store stays agnostic of the domain types.
type Checkpoint struct {
	ID          string          `json:"checkpoint_id"`
	Query       string          `json:"query"`
	Frame       json.RawMessage `json:"frame,omitempty"`
	Summary     json.RawMessage `json:"final_state_summary,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	ErrorCount  int             `json:"error_count"`
	Partial     bool            `json:"partial"`
}

// Metrics is the per-run metrics row kept alongside the checkpoint.
type Metrics struct {
	CheckpointID   string          `json:"checkpoint_id"`
	Intent         string          `json:"intent"`
	TotalLatencyMS int64           `json:"total_latency_ms"`
	NodeLatencies  json.RawMessage `json:"node_latencies,omitempty"`
	CacheHitRate   float64         `json:"cache_hit_rate"`
	ItemCount      int             `json:"item_count"`
	Success        bool            `json:"success"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Store is the persistence contract. Writes for the same checkpoint id are
// serialized by the implementation.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) error
	SaveMetrics(ctx context.Context, m Metrics) error
	Get(ctx context.Context, id string) (Checkpoint, error)
	List(ctx context.Context, limit int) ([]Checkpoint, error)

	// Sweep removes checkpoints created before cutoff and returns how many
	// were deleted.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)

	Close() error
}

// NewID computes the deterministic checkpoint id: a date-time prefix (which
// keeps concurrent identical runs unique) and a 12-hex-digit suffix hashed
// from the normalized query, the intent, and the source-coverage signature.
// Re-running the identical input yields an equal suffix.
func NewID(now time.Time, query, intent string, sourceCounts map[string]int) string {
	prefix := now.UTC().Format("20060102_150405")

	sig := make([]string, 0, len(sourceCounts))
	for src, count := range sourceCounts {
		sig = append(sig, fmt.Sprintf("%s:%d", src, count))
	}
	sort.Strings(sig)

	payload := NormalizeQuery(query) + "|" + intent + "|" + strings.Join(sig, ",")
	sum := sha256.Sum256([]byte(payload))
	return prefix + "_" + hex.EncodeToString(sum[:])[:12]
}

// Suffix returns the deterministic portion of a checkpoint id (everything
// after the date-time prefix), or the whole id if it has no prefix.
func Suffix(id string) string {
	if i := strings.LastIndex(id, "_"); i >= 0 {
		return id[i+1:]
	}
	return id
}

// NormalizeQuery lowercases and collapses whitespace so trivially different
// spellings of the same question hash identically.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}
