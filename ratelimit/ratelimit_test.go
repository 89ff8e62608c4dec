package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestRegistry_BurstThenSpacing(t *testing.T) {
	r := NewRegistry(map[string]Limit{"pubs": {RPS: 10, Burst: 2}})
	ctx := context.Background()

	// The burst drains immediately.
	start := time.Now()
	for i := 0; i < 2; i++ {
		if err := r.Acquire(ctx, "pubs"); err != nil {
			t.Fatalf("burst acquire %d failed: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("burst took %v, expected near-instant", elapsed)
	}

	// The next token waits for refill (~100ms at 10 rps).
	start = time.Now()
	if err := r.Acquire(ctx, "pubs"); err != nil {
		t.Fatalf("post-burst acquire failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("post-burst acquire returned in %v, expected a refill wait", elapsed)
	}
}

func TestRegistry_AcquireHonorsDeadline(t *testing.T) {
	r := NewRegistry(map[string]Limit{"slow": {RPS: 0.1, Burst: 1}})
	ctx := context.Background()

	if err := r.Acquire(ctx, "slow"); err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	start := time.Now()
	err := r.Acquire(shortCtx, "slow")
	if err == nil {
		t.Fatal("expected error when deadline is shorter than refill wait")
	}
	if !strings.Contains(err.Error(), "rate limit acquire for slow") {
		t.Errorf("expected wrapped source context in error, got %v", err)
	}
	// Wait fails fast when the deadline cannot fit the refill.
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("acquire blocked %v past a 30ms deadline", elapsed)
	}
}

func TestRegistry_Allow(t *testing.T) {
	r := NewRegistry(map[string]Limit{"trials": {RPS: 1, Burst: 1}})

	if !r.Allow("trials") {
		t.Error("expected first Allow to succeed")
	}
	if r.Allow("trials") {
		t.Error("expected second Allow to fail with empty bucket")
	}
}

func TestRegistry_UnknownSourcePermissive(t *testing.T) {
	r := NewRegistry(Defaults())
	if err := r.Acquire(context.Background(), "new_source"); err != nil {
		t.Errorf("unknown source should not fail closed: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	d := Defaults()
	for _, src := range []string{SourcePubs, SourceTrials, SourceRAG} {
		l, ok := d[src]
		if !ok {
			t.Errorf("missing default for %s", src)
			continue
		}
		if l.RPS <= 0 || l.Burst <= 0 {
			t.Errorf("%s has non-positive limit: %+v", src, l)
		}
	}
}
