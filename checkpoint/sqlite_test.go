package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	completed := now.Add(3 * time.Second)

	frame, _ := json.Marshal(map[string]string{"intent": "recent_pubs_by_topic"})
	cp := Checkpoint{
		ID:          "20260824_100000_abcdef123456",
		Query:       "recent papers on sglt2 inhibitors",
		Frame:       frame,
		Summary:     json.RawMessage(`{"item_count":20}`),
		CreatedAt:   now,
		CompletedAt: &completed,
		ErrorCount:  1,
		Partial:     true,
	}

	if err := s.Save(ctx, cp); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := s.Get(ctx, cp.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Query != cp.Query || got.ErrorCount != 1 || !got.Partial {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if string(got.Frame) != string(frame) {
		t.Errorf("frame mismatch: %s", got.Frame)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(completed) {
		t.Errorf("completed_at mismatch: %v", got.CompletedAt)
	}
}

func TestSQLiteStore_UpsertOverwrites(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cp := Checkpoint{ID: "a", Query: "q", CreatedAt: now}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}
	cp.ErrorCount = 2
	cp.Partial = true
	if err := s.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil || got.ErrorCount != 2 || !got.Partial {
		t.Errorf("expected upserted row, got %+v err=%v", got, err)
	}
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListAndSweep(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, age := range []time.Duration{0, 24 * time.Hour, 10 * 24 * time.Hour} {
		cp := Checkpoint{
			ID:        []string{"fresh", "day_old", "ancient"}[i],
			Query:     "q",
			CreatedAt: now.Add(-age),
		}
		if err := s.Save(ctx, cp); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx, 10)
	if err != nil || len(list) != 3 {
		t.Fatalf("List: n=%d err=%v", len(list), err)
	}
	if list[0].ID != "fresh" {
		t.Errorf("expected newest first, got %s", list[0].ID)
	}

	removed, err := s.Sweep(ctx, now.Add(-7*24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("Sweep: removed=%d err=%v", removed, err)
	}
	if _, err := s.Get(ctx, "ancient"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ancient swept, got %v", err)
	}
}

func TestSQLiteStore_MetricsCascade(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	cp := Checkpoint{ID: "a", Query: "q", CreatedAt: now.Add(-48 * time.Hour)}
	if err := s.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}
	m := Metrics{
		CheckpointID:   "a",
		Intent:         "company_pipeline",
		TotalLatencyMS: 4200,
		NodeLatencies:  json.RawMessage(`{"pubs_fetch":900}`),
		CacheHitRate:   0.33,
		ItemCount:      12,
		Success:        true,
		CreatedAt:      now,
	}
	if err := s.SaveMetrics(ctx, m); err != nil {
		t.Fatalf("SaveMetrics failed: %v", err)
	}

	// Sweeping the run cascades to its metrics row.
	if _, err := s.Sweep(ctx, now.Add(-24*time.Hour)); err != nil {
		t.Fatal(err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM run_metrics`).Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected metrics cascaded on delete, got %d rows", count)
	}
}
