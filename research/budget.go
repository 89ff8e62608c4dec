package research

import (
	"sync"
	"time"
)

// Budget allocation weights as fractions of the usable (post-overhead)
// budget. The fetch share is split evenly among the active fetch nodes;
// whatever the weights leave over is slack shared by every node.
const (
	budgetOverheadFrac = 0.10
	parseWeight        = 0.05
	routeWeight        = 0.02
	fetchWeight        = 0.35
	synthWeight        = 0.08

	// dangerZoneFrac is the consumed fraction past which the scheduler
	// prefers conservative routing and smaller fetch batches.
	dangerZoneFrac = 0.80
)

// Tracker accounts wall-clock budget for one run. Consumption is elapsed
// time since Start, so concurrent siblings are not double-counted.
type Tracker struct {
	mu          sync.Mutex
	total       time.Duration
	slack       time.Duration
	allocations map[string]time.Duration
	started     time.Time
	now         func() time.Time
}

// NewTracker allocates the run budget across the given fetch nodes. The
// clock is injectable; pass nil for time.Now.
func NewTracker(budget time.Duration, fetchNodes []string, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}

	usable := time.Duration(float64(budget) * (1 - budgetOverheadFrac))
	alloc := map[string]time.Duration{
		NodeParse:      time.Duration(float64(usable) * parseWeight),
		NodeRoute:      time.Duration(float64(usable) * routeWeight),
		NodeSynthesize: time.Duration(float64(usable) * synthWeight),
	}

	n := len(fetchNodes)
	if n == 0 {
		n = 1
		fetchNodes = []string{NodePubsFetch}
	}
	perFetch := time.Duration(float64(usable) * fetchWeight / float64(n))
	for _, node := range fetchNodes {
		alloc[node] = perFetch
	}

	var assigned time.Duration
	for _, d := range alloc {
		assigned += d
	}

	return &Tracker{
		total:       budget,
		slack:       usable - assigned,
		allocations: alloc,
		now:         now,
	}
}

// Start marks the beginning of budget consumption.
func (t *Tracker) Start() {
	t.mu.Lock()
	t.started = t.now()
	t.mu.Unlock()
}

// Consumed returns wall-clock time elapsed since Start.
func (t *Tracker) Consumed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started.IsZero() {
		return 0
	}
	return t.now().Sub(t.started)
}

// Remaining returns the unconsumed budget, never negative.
func (t *Tracker) Remaining() time.Duration {
	rem := t.total - t.Consumed()
	if rem < 0 {
		return 0
	}
	return rem
}

// NodeBudget computes the deadline slice for a node: its base allocation plus
// the shared slack, capped by the remaining total budget. A result <= 0 means
// the node must be skipped.
func (t *Tracker) NodeBudget(node string) time.Duration {
	t.mu.Lock()
	alloc, ok := t.allocations[node]
	slack := t.slack
	t.mu.Unlock()

	if !ok {
		alloc = slack / 2
	}
	budget := alloc + slack
	if rem := t.Remaining(); budget > rem {
		budget = rem
	}
	return budget
}

// DangerZone reports whether consumption crossed the conservative-scheduling
// threshold.
func (t *Tracker) DangerZone() bool {
	return t.Consumed() >= time.Duration(float64(t.total)*dangerZoneFrac)
}

// Snapshot captures the tracker for folding into RunState.
func (t *Tracker) Snapshot() BudgetSnapshot {
	consumed := t.Consumed()
	rem := t.total - consumed
	if rem < 0 {
		rem = 0
	}

	t.mu.Lock()
	perNode := make(map[string]int64, len(t.allocations))
	for node, d := range t.allocations {
		perNode[node] = d.Milliseconds()
	}
	t.mu.Unlock()

	return BudgetSnapshot{
		AllocatedMS: t.total.Milliseconds(),
		ConsumedMS:  consumed.Milliseconds(),
		RemainingMS: rem.Milliseconds(),
		PerNodeMS:   perNode,
	}
}
