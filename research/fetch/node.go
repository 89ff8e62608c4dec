package fetch

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dshills/bioquery-go/cache"
	"github.com/dshills/bioquery-go/ratelimit"
	"github.com/dshills/bioquery-go/research"
)

// dangerZoneLimit caps fetch batch sizes once the run enters the budget
// danger zone.
const dangerZoneLimit = 10

// maxDetailIDs bounds the second-pass detail fetch.
const maxDetailIDs = 50

// Node is the uniform fetch template shared by all sources:
//
//  1. Build a content-addressed cache key from node, entities, filters, and
//     the result limit.
//  2. Consult the cache per the frame's fetch policy.
//  3. On miss (or network_only), acquire a rate-limiter token, then call the
//     adapter under the caller's deadline.
//  4. Normalize items, attach quality scores, dedupe by id, sort, cap.
//  5. Apply the request's quality threshold after the cache, so one cached
//     fill serves requests with different thresholds.
//
// Node implements research.Fetcher.
type Node struct {
	source  string
	adapter Adapter
	cache   *cache.Memory
	limiter *ratelimit.Registry
	ttl     time.Duration
	now     func() time.Time
}

// NewNode builds the fetch node for a source. cache and limiter are the
// process-wide instances; ttl <= 0 takes the cache default.
func NewNode(source string, adapter Adapter, c *cache.Memory, limiter *ratelimit.Registry, ttl time.Duration) *Node {
	return &Node{
		source:  source,
		adapter: adapter,
		cache:   c,
		limiter: limiter,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Source implements research.Fetcher.
func (n *Node) Source() string { return n.source }

// Fetch implements research.Fetcher.
func (n *Node) Fetch(ctx context.Context, st research.RunState) ([]research.Item, bool, error) {
	limit := st.Settings.MaxResultsPerSource
	if st.DangerZone && limit > dangerZoneLimit {
		limit = dangerZoneLimit
	}

	q := queryFromFrame(st.Frame, limit)
	key := n.cacheKey(q)

	policy := research.FetchCacheThenNetwork
	var intent research.Intent
	if st.Frame != nil {
		if st.Frame.FetchPolicy != "" {
			policy = st.Frame.FetchPolicy
		}
		intent = st.Frame.Intent
	}

	switch policy {
	case research.FetchCacheOnly:
		if v, ok := n.cache.Get(ctx, key); ok {
			return n.applyThreshold(v.([]research.Item), st.Settings.QualityThreshold), true, nil
		}
		// Cache-only with a cold cache yields an empty slot, not an error.
		return []research.Item{}, false, nil

	case research.FetchNetworkOnly:
		items, err := n.fill(ctx, q, intent)
		if err != nil {
			return nil, false, err
		}
		n.cache.Set(ctx, key, items, n.ttl)
		return n.applyThreshold(items, st.Settings.QualityThreshold), false, nil

	default: // cache_then_network
		v, hit, err := n.cache.GetOrFill(ctx, key, n.ttl, func(ctx context.Context) (any, error) {
			items, err := n.fill(ctx, q, intent)
			if err != nil {
				return nil, err
			}
			return items, nil
		})
		if err != nil {
			return nil, false, err
		}
		return n.applyThreshold(v.([]research.Item), st.Settings.QualityThreshold), hit, nil
	}
}

// fill is the network path: token acquisition, adapter call, optional detail
// pass, then normalization.
func (n *Node) fill(ctx context.Context, q Query, intent research.Intent) ([]research.Item, error) {
	if err := n.limiter.Acquire(ctx, n.source); err != nil {
		return nil, err
	}
	research.ReportProgress(ctx, 10)

	items, err := n.adapter.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%s search: %w", n.source, err)
	}
	research.ReportProgress(ctx, 60)

	items = n.normalize(items, q.Limit)

	if n.wantsDetails(intent) {
		items = n.fetchDetails(ctx, items, q.Limit)
		research.ReportProgress(ctx, 90)
	}
	return items, nil
}

// wantsDetails reports whether the intent calls for full records. Only the
// pubs source supports a detail pass.
func (n *Node) wantsDetails(intent research.Intent) bool {
	if n.source != research.SourcePubs {
		return false
	}
	if _, ok := n.adapter.(DetailFetcher); !ok {
		return false
	}
	return intent == research.IntentRecentPubs || intent == research.IntentTrialsWithPubs
}

// fetchDetails replaces the top items with their full records. A detail
// failure is non-fatal: the search results stand.
func (n *Node) fetchDetails(ctx context.Context, items []research.Item, limit int) []research.Item {
	df := n.adapter.(DetailFetcher)

	top := len(items)
	if top > maxDetailIDs {
		top = maxDetailIDs
	}
	if top > limit {
		top = limit
	}
	if top == 0 {
		return items
	}

	ids := make([]string, 0, top)
	for _, item := range items[:top] {
		ids = append(ids, item.ID)
	}

	details, err := df.FetchDetails(ctx, ids)
	if err != nil {
		return items
	}

	byID := make(map[string]research.Item, len(details))
	for _, d := range details {
		byID[d.ID] = d
	}
	for i, item := range items {
		if d, ok := byID[item.ID]; ok {
			// Keep the search ranking's relevance when details omit it.
			if d.RelevanceScore == 0 {
				d.RelevanceScore = item.RelevanceScore
			}
			items[i] = d
		}
	}
	return n.normalize(items, limit)
}

// normalize attaches source and quality scores, unions duplicates by id,
// sorts by relevance desc / year desc / id asc, and caps to limit.
func (n *Node) normalize(items []research.Item, limit int) []research.Item {
	year := n.now().UTC().Year()
	seen := make(map[string]bool, len(items))
	out := make([]research.Item, 0, len(items))

	for _, item := range items {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true

		if item.Source == "" {
			item.Source = n.source
		}
		item.RelevanceScore = clamp01(item.RelevanceScore)
		if item.QualityScore == 0 {
			item.QualityScore = research.ScoreItem(item, year)
		}
		item.QualityScore = clamp01(item.QualityScore)
		out = append(out, item)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].RelevanceScore != out[j].RelevanceScore {
			return out[i].RelevanceScore > out[j].RelevanceScore
		}
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (n *Node) applyThreshold(items []research.Item, threshold float64) []research.Item {
	if threshold <= 0 {
		return items
	}
	out := make([]research.Item, 0, len(items))
	for _, item := range items {
		if item.QualityScore >= threshold {
			out = append(out, item)
		}
	}
	return out
}

// cacheKey builds the content address from the node name, entities, filters,
// and limit.
func (n *Node) cacheKey(q Query) string {
	parts := []string{
		"node=" + n.source,
		"topic=" + strings.ToLower(q.Topic),
		"indication=" + strings.ToLower(q.Indication),
		"company=" + strings.ToLower(q.Company),
		"trial_id=" + q.TrialID,
		"phases=" + strings.Join(q.Phases, ","),
		"statuses=" + strings.Join(q.Statuses, ","),
		"within_days=" + strconv.Itoa(q.PublishedWithinDays),
		"years=" + strconv.Itoa(q.YearFrom) + "-" + strconv.Itoa(q.YearTo),
		"limit=" + strconv.Itoa(q.Limit),
	}
	return cache.Key(parts...)
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
