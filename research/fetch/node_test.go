package fetch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dshills/bioquery-go/cache"
	"github.com/dshills/bioquery-go/ratelimit"
	"github.com/dshills/bioquery-go/research"
)

func newTestCache(t *testing.T) *cache.Memory {
	t.Helper()
	c := cache.NewMemory(time.Minute)
	t.Cleanup(c.Close)
	return c
}

func stateWithFrame(policy research.FetchPolicy, intent research.Intent) research.RunState {
	return research.RunState{
		Settings: research.Settings{MaxResultsPerSource: 20, QualityThreshold: 0},
		Frame: &research.Frame{
			Intent:      intent,
			Entities:    research.Entities{Topic: "sglt2 inhibitors"},
			FetchPolicy: policy,
		},
	}
}

func TestNode_CacheThenNetwork(t *testing.T) {
	adapter := &MockAdapter{SourceName: research.SourceTrials, Items: MakeItems(research.SourceTrials, 5, 2025)}
	node := NewNode(research.SourceTrials, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	st := stateWithFrame(research.FetchCacheThenNetwork, research.IntentPhaseTrials)

	items, hit, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("first fetch must be a miss")
	}
	if len(items) != 5 {
		t.Errorf("items = %d", len(items))
	}

	items, hit, err = node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if !hit {
		t.Error("second fetch must hit the cache")
	}
	if len(items) != 5 {
		t.Errorf("items = %d", len(items))
	}
	if adapter.Calls() != 1 {
		t.Errorf("adapter calls = %d", adapter.Calls())
	}
}

func TestNode_CacheOnlyCold(t *testing.T) {
	adapter := &MockAdapter{SourceName: research.SourcePubs, Items: MakeItems(research.SourcePubs, 3, 2025)}
	node := NewNode(research.SourcePubs, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	st := stateWithFrame(research.FetchCacheOnly, research.IntentPhaseTrials)
	items, hit, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("cold cache cannot hit")
	}
	if items == nil || len(items) != 0 {
		t.Errorf("cache_only cold must yield an empty slot, got %v", items)
	}
	if adapter.Calls() != 0 {
		t.Errorf("cache_only must never touch the network, calls = %d", adapter.Calls())
	}
}

func TestNode_ReportsProgress(t *testing.T) {
	adapter := &MockAdapter{SourceName: research.SourceTrials, Items: MakeItems(research.SourceTrials, 3, 2025)}
	node := NewNode(research.SourceTrials, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	var percents []int
	ctx := research.WithProgress(context.Background(), func(p int) { percents = append(percents, p) })
	st := stateWithFrame(research.FetchCacheThenNetwork, research.IntentPhaseTrials)

	if _, _, err := node.Fetch(ctx, st); err != nil {
		t.Fatal(err)
	}
	if len(percents) == 0 {
		t.Fatal("network fill reported no progress")
	}
	for i := 1; i < len(percents); i++ {
		if percents[i] < percents[i-1] {
			t.Fatalf("progress regressed: %v", percents)
		}
	}

	// A cache hit is instant and stays silent.
	percents = nil
	if _, hit, err := node.Fetch(ctx, st); err != nil || !hit {
		t.Fatalf("hit=%v err=%v", hit, err)
	}
	if len(percents) != 0 {
		t.Errorf("cache hit reported progress: %v", percents)
	}
}

func TestNode_NetworkOnlySeedsCache(t *testing.T) {
	adapter := &MockAdapter{SourceName: research.SourceRAG, Items: MakeItems(research.SourceRAG, 4, 2025)}
	node := NewNode(research.SourceRAG, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	st := stateWithFrame(research.FetchNetworkOnly, research.IntentHybridSearch)
	_, hit, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if hit {
		t.Error("network_only never reports a hit")
	}

	// The fill is still cached for later cache-tolerant requests.
	st.Frame.FetchPolicy = research.FetchCacheOnly
	items, hit, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if !hit || len(items) != 4 {
		t.Errorf("seeded cache: hit=%v items=%d", hit, len(items))
	}
	if adapter.Calls() != 1 {
		t.Errorf("adapter calls = %d", adapter.Calls())
	}
}

func TestNode_ThresholdAppliedAfterCache(t *testing.T) {
	adapter := &MockAdapter{SourceName: research.SourcePubs, Items: []research.Item{
		{ID: "hi", Source: research.SourcePubs, QualityScore: 0.9, RelevanceScore: 0.9},
		{ID: "lo", Source: research.SourcePubs, QualityScore: 0.2, RelevanceScore: 0.8},
	}}
	node := NewNode(research.SourcePubs, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	st := stateWithFrame(research.FetchCacheThenNetwork, research.IntentPhaseTrials)
	st.Settings.QualityThreshold = 0.5

	items, _, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].ID != "hi" {
		t.Errorf("threshold filter: %v", items)
	}

	// The same cached fill serves a laxer threshold in full.
	st.Settings.QualityThreshold = 0
	items, hit, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if !hit || len(items) != 2 {
		t.Errorf("relaxed threshold over cache: hit=%v items=%d", hit, len(items))
	}
	if adapter.Calls() != 1 {
		t.Errorf("adapter calls = %d", adapter.Calls())
	}
}

func TestNode_DangerZoneCapsLimit(t *testing.T) {
	adapter := &MockAdapter{SourceName: research.SourcePubs, Items: MakeItems(research.SourcePubs, 20, 2025)}
	node := NewNode(research.SourcePubs, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	st := stateWithFrame(research.FetchCacheThenNetwork, research.IntentPhaseTrials)
	st.DangerZone = true

	items, _, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != dangerZoneLimit {
		t.Errorf("danger-zone items = %d, want %d", len(items), dangerZoneLimit)
	}
}

func TestNode_NormalizeDedupeSortCap(t *testing.T) {
	adapter := &MockAdapter{SourceName: research.SourcePubs, Items: []research.Item{
		{ID: "b", RelevanceScore: 0.5, Year: 2020},
		{ID: "b", RelevanceScore: 0.5, Year: 2020}, // duplicate
		{ID: "a", RelevanceScore: 0.5, Year: 2020},
		{ID: "c", RelevanceScore: 0.9, Year: 2018},
		{ID: "", RelevanceScore: 1.0}, // blank id dropped
		{ID: "d", RelevanceScore: 1.5, Year: 2024}, // relevance clamps to 1
	}}
	node := NewNode(research.SourcePubs, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	st := stateWithFrame(research.FetchCacheThenNetwork, research.IntentPhaseTrials)
	st.Settings.MaxResultsPerSource = 3

	items, _, err := node.Fetch(context.Background(), st)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %v", items)
	}
	if items[0].ID != "d" || items[1].ID != "c" || items[2].ID != "a" {
		t.Errorf("order = %s, %s, %s", items[0].ID, items[1].ID, items[2].ID)
	}
	if items[0].RelevanceScore != 1.0 {
		t.Errorf("relevance not clamped: %f", items[0].RelevanceScore)
	}
	for _, item := range items {
		if item.Source != research.SourcePubs {
			t.Errorf("source not stamped on %s", item.ID)
		}
		if item.QualityScore <= 0 {
			t.Errorf("quality score not attached on %s", item.ID)
		}
	}
}

// detailAdapter wraps a MockAdapter and records detail-pass invocations.
type detailAdapter struct {
	MockAdapter
	detailIDs []string
	detailErr error
}

func (d *detailAdapter) FetchDetails(ctx context.Context, ids []string) ([]research.Item, error) {
	d.detailIDs = append([]string(nil), ids...)
	if d.detailErr != nil {
		return nil, d.detailErr
	}
	out, err := d.MockAdapter.FetchDetails(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Abstract = "full abstract"
	}
	return out, nil
}

func TestNode_DetailPass(t *testing.T) {
	t.Run("runs for pubs on pubs intents", func(t *testing.T) {
		adapter := &detailAdapter{MockAdapter: MockAdapter{
			SourceName: research.SourcePubs,
			Items:      MakeItems(research.SourcePubs, 3, 2025),
		}}
		node := NewNode(research.SourcePubs, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

		st := stateWithFrame(research.FetchNetworkOnly, research.IntentRecentPubs)
		items, _, err := node.Fetch(context.Background(), st)
		if err != nil {
			t.Fatal(err)
		}
		if len(adapter.detailIDs) != 3 {
			t.Fatalf("detail ids = %v", adapter.detailIDs)
		}
		for _, item := range items {
			if item.Abstract != "full abstract" {
				t.Errorf("detail record not applied to %s", item.ID)
			}
			if item.RelevanceScore == 0 {
				t.Errorf("search relevance lost on %s", item.ID)
			}
		}
	})

	t.Run("detail failure keeps search results", func(t *testing.T) {
		adapter := &detailAdapter{
			MockAdapter: MockAdapter{
				SourceName: research.SourcePubs,
				Items:      MakeItems(research.SourcePubs, 3, 2025),
			},
			detailErr: errors.New("fetch endpoint down"),
		}
		node := NewNode(research.SourcePubs, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

		st := stateWithFrame(research.FetchNetworkOnly, research.IntentRecentPubs)
		items, _, err := node.Fetch(context.Background(), st)
		if err != nil {
			t.Fatal(err)
		}
		if len(items) != 3 {
			t.Errorf("search results must stand: %d items", len(items))
		}
	})

	t.Run("skipped off pubs intents", func(t *testing.T) {
		adapter := &detailAdapter{MockAdapter: MockAdapter{
			SourceName: research.SourcePubs,
			Items:      MakeItems(research.SourcePubs, 3, 2025),
		}}
		node := NewNode(research.SourcePubs, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

		st := stateWithFrame(research.FetchNetworkOnly, research.IntentPhaseTrials)
		if _, _, err := node.Fetch(context.Background(), st); err != nil {
			t.Fatal(err)
		}
		if adapter.detailIDs != nil {
			t.Errorf("detail pass ran for a trials intent: %v", adapter.detailIDs)
		}
	})
}

func TestNode_SearchErrorWrapped(t *testing.T) {
	adapter := &MockAdapter{
		SourceName: research.SourceTrials,
		Errs:       []error{errors.New("connection refused")},
	}
	node := NewNode(research.SourceTrials, adapter, newTestCache(t), ratelimit.NewRegistry(nil), time.Minute)

	st := stateWithFrame(research.FetchNetworkOnly, research.IntentPhaseTrials)
	_, _, err := node.Fetch(context.Background(), st)
	if err == nil || !strings.Contains(err.Error(), "trials search:") {
		t.Errorf("err = %v", err)
	}
}

func TestNode_RateLimitedUnderDeadline(t *testing.T) {
	limiter := ratelimit.NewRegistry(map[string]ratelimit.Limit{
		research.SourcePubs: {RPS: 0.1, Burst: 1},
	})
	adapter := &MockAdapter{SourceName: research.SourcePubs, Items: MakeItems(research.SourcePubs, 2, 2025)}
	node := NewNode(research.SourcePubs, adapter, newTestCache(t), limiter, time.Minute)

	st := stateWithFrame(research.FetchNetworkOnly, research.IntentPhaseTrials)
	if _, _, err := node.Fetch(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	// The bucket is drained; a short deadline cannot wait out the refill.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, _, err := node.Fetch(ctx, st)
	if err == nil || !strings.Contains(err.Error(), "rate limit acquire") {
		t.Errorf("err = %v", err)
	}
}

func TestQueryFromFrame(t *testing.T) {
	frame := &research.Frame{
		Entities: research.Entities{
			Topic:      "sglt2 inhibitors",
			Indication: "heart failure",
			Company:    "Novartis",
			TrialID:    "NCT04852770",
		},
		Filters: research.Filters{
			Phases:              []string{"phase_3"},
			PublishedWithinDays: 730,
		},
	}
	q := queryFromFrame(frame, 15)
	if q.Topic != "sglt2 inhibitors" || q.Indication != "heart failure" {
		t.Errorf("entities: %+v", q)
	}
	if q.TrialID != "NCT04852770" || len(q.Phases) != 1 {
		t.Errorf("filters: %+v", q)
	}
	if q.Limit != 15 {
		t.Errorf("limit = %d", q.Limit)
	}

	if q := queryFromFrame(nil, 5); q.Limit != 5 || q.Topic != "" {
		t.Errorf("nil frame: %+v", q)
	}
}
