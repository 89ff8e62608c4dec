package research

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a mutex-guarded manual clock for tracker tests.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func TestTracker_Allocation(t *testing.T) {
	clock := newFakeClock()
	budget := 10 * time.Second
	tr := NewTracker(budget, []string{NodePubsFetch, NodeTrialsFetch}, clock.Now)
	tr.Start()

	snap := tr.Snapshot()
	if snap.AllocatedMS != 10000 {
		t.Errorf("AllocatedMS = %d", snap.AllocatedMS)
	}

	// Usable = 9000ms. parse 5% = 450, route 2% = 180, synth 8% = 720,
	// fetch 35% split two ways = 1575 each (within float truncation).
	expected := map[string]int64{
		NodeParse:       450,
		NodeRoute:       180,
		NodeSynthesize:  720,
		NodePubsFetch:   1575,
		NodeTrialsFetch: 1575,
	}
	for node, want := range expected {
		got := snap.PerNodeMS[node]
		if got < want-1 || got > want+1 {
			t.Errorf("allocation[%s] = %d, want ~%d", node, got, want)
		}
	}
	if snap.PerNodeMS[NodePubsFetch] != snap.PerNodeMS[NodeTrialsFetch] {
		t.Error("fetch nodes must split the fetch share evenly")
	}
}

func TestTracker_NodeBudgetIncludesSlack(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(10*time.Second, []string{NodePubsFetch}, clock.Now)
	tr.Start()

	// Weights cover 50% of usable; the rest is slack every node may borrow.
	nb := tr.NodeBudget(NodePubsFetch)
	if nb <= 3150*time.Millisecond {
		t.Errorf("expected allocation plus slack, got %v", nb)
	}
	if nb > tr.Remaining() {
		t.Errorf("node budget %v exceeds remaining %v", nb, tr.Remaining())
	}
}

func TestTracker_Consumption(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(5*time.Second, []string{NodePubsFetch}, clock.Now)

	if tr.Consumed() != 0 {
		t.Error("consumption before Start must be zero")
	}

	tr.Start()
	clock.Advance(2 * time.Second)

	if tr.Consumed() != 2*time.Second {
		t.Errorf("Consumed = %v", tr.Consumed())
	}
	if tr.Remaining() != 3*time.Second {
		t.Errorf("Remaining = %v", tr.Remaining())
	}

	// Past the budget, remaining floors at zero.
	clock.Advance(10 * time.Second)
	if tr.Remaining() != 0 {
		t.Errorf("Remaining past budget = %v", tr.Remaining())
	}
	if tr.NodeBudget(NodeSynthesize) != 0 {
		t.Error("node budget must be zero once the run budget is gone")
	}
}

func TestTracker_DangerZone(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(10*time.Second, []string{NodePubsFetch}, clock.Now)
	tr.Start()

	clock.Advance(7 * time.Second)
	if tr.DangerZone() {
		t.Error("70% consumed should not be the danger zone")
	}

	clock.Advance(1 * time.Second)
	if !tr.DangerZone() {
		t.Error("80% consumed is the danger zone")
	}
}

func TestTracker_UnknownNodeGetsHalfSlack(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(10*time.Second, []string{NodePubsFetch}, clock.Now)
	tr.Start()

	nb := tr.NodeBudget("mystery_node")
	if nb <= 0 {
		t.Errorf("unknown node should still get a slice, got %v", nb)
	}
	if nb >= tr.NodeBudget(NodePubsFetch) {
		t.Errorf("unknown node slice %v should be below an allocated node's", nb)
	}
}

func TestTracker_SnapshotConsistency(t *testing.T) {
	clock := newFakeClock()
	tr := NewTracker(4*time.Second, []string{NodePubsFetch, NodeTrialsFetch, NodeRAGFetch}, clock.Now)
	tr.Start()
	clock.Advance(1 * time.Second)

	snap := tr.Snapshot()
	if snap.ConsumedMS+snap.RemainingMS != snap.AllocatedMS {
		t.Errorf("consumed %d + remaining %d != allocated %d",
			snap.ConsumedMS, snap.RemainingMS, snap.AllocatedMS)
	}
}
