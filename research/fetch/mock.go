package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dshills/bioquery-go/research"
)

// MockAdapter is a scriptable Adapter for tests and local development. Each
// Search call consumes the next scripted error (nil means success), sleeps
// for Latency, then returns Items.
type MockAdapter struct {
	SourceName string
	Items      []research.Item
	Latency    time.Duration

	// Errs is consumed one per call; nil entries succeed. After the script
	// is exhausted every call succeeds.
	Errs []error

	mu    sync.Mutex
	calls int
}

// Search implements Adapter.
func (m *MockAdapter) Search(ctx context.Context, q Query) ([]research.Item, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.mu.Unlock()

	if m.Latency > 0 {
		timer := time.NewTimer(m.Latency)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return nil, m.Errs[idx]
	}

	items := m.Items
	if q.Limit > 0 && len(items) > q.Limit {
		items = items[:q.Limit]
	}
	return append([]research.Item(nil), items...), nil
}

// FetchDetails implements DetailFetcher: it echoes the scripted items whose
// ids were requested.
func (m *MockAdapter) FetchDetails(ctx context.Context, ids []string) ([]research.Item, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []research.Item
	for _, item := range m.Items {
		if want[item.ID] {
			out = append(out, item)
		}
	}
	return out, nil
}

// Calls returns how many Search calls have been made.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// MakeItems generates n deterministic items for a source, with descending
// relevance and recent years. Useful for scenario tests.
func MakeItems(source string, n, baseYear int) []research.Item {
	items := make([]research.Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, research.Item{
			ID:             fmt.Sprintf("%s-%04d", source, i+1),
			Source:         source,
			Title:          fmt.Sprintf("Result %d from %s", i+1, source),
			Authors:        []string{"Smith J", "Chen L"},
			Venue:          "Journal of Test Medicine",
			Year:           baseYear - i%5,
			RelevanceScore: 1.0 - float64(i)*0.01,
		})
	}
	return items
}
