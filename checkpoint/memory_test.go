package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func memCheckpoint(id string, created time.Time) Checkpoint {
	return Checkpoint{ID: id, Query: "q " + id, CreatedAt: created}
}

func TestMemStore_SaveGet(t *testing.T) {
	s := NewMemStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Save(ctx, memCheckpoint("a", now)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	cp, err := s.Get(ctx, "a")
	if err != nil || cp.ID != "a" {
		t.Fatalf("Get: cp=%+v err=%v", cp, err)
	}

	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestMemStore_SaveIsUpsert(t *testing.T) {
	s := NewMemStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	cp := memCheckpoint("a", now)
	if err := s.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}
	cp.ErrorCount = 3
	if err := s.Save(ctx, cp); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, "a")
	if err != nil || got.ErrorCount != 3 {
		t.Errorf("expected updated record, got %+v err=%v", got, err)
	}

	list, err := s.List(ctx, 0)
	if err != nil || len(list) != 1 {
		t.Errorf("expected single record after upsert, got %d err=%v", len(list), err)
	}
}

func TestMemStore_LRUEviction(t *testing.T) {
	s := NewMemStore(2)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, id := range []string{"a", "b"} {
		if err := s.Save(ctx, memCheckpoint(id, now)); err != nil {
			t.Fatal(err)
		}
	}

	// Touch "a" so "b" becomes the eviction candidate.
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, memCheckpoint("c", now)); err != nil {
		t.Fatal(err)
	}

	if _, err := s.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected b evicted, got %v", err)
	}
	if _, err := s.Get(ctx, "a"); err != nil {
		t.Errorf("expected a retained, got %v", err)
	}
}

func TestMemStore_ListNewestFirst(t *testing.T) {
	s := NewMemStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		if err := s.Save(ctx, memCheckpoint(fmt.Sprintf("cp-%d", i), now)); err != nil {
			t.Fatal(err)
		}
	}

	list, err := s.List(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 records, got %d", len(list))
	}
	if list[0].ID != "cp-4" || list[2].ID != "cp-2" {
		t.Errorf("expected newest first, got %s..%s", list[0].ID, list[2].ID)
	}
}

func TestMemStore_Sweep(t *testing.T) {
	s := NewMemStore(0)
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.Save(ctx, memCheckpoint("old", now.Add(-48*time.Hour))); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, memCheckpoint("fresh", now)); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveMetrics(ctx, Metrics{CheckpointID: "old", CreatedAt: now}); err != nil {
		t.Fatal(err)
	}

	removed, err := s.Sweep(ctx, now.Add(-24*time.Hour))
	if err != nil || removed != 1 {
		t.Fatalf("Sweep: removed=%d err=%v", removed, err)
	}
	if _, err := s.Get(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected old swept, got %v", err)
	}
	if _, err := s.GetMetrics(ctx, "old"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected metrics swept with checkpoint, got %v", err)
	}
	if _, err := s.Get(ctx, "fresh"); err != nil {
		t.Errorf("expected fresh retained, got %v", err)
	}
}

func TestMemStore_Metrics(t *testing.T) {
	s := NewMemStore(0)
	ctx := context.Background()

	m := Metrics{
		CheckpointID:   "a",
		Intent:         "recent_pubs_by_topic",
		TotalLatencyMS: 1234,
		CacheHitRate:   0.5,
		ItemCount:      17,
		Success:        true,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.SaveMetrics(ctx, m); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetMetrics(ctx, "a")
	if err != nil || got.ItemCount != 17 || !got.Success {
		t.Errorf("GetMetrics: %+v err=%v", got, err)
	}
}
