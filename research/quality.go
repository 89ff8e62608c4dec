package research

import "strings"

// QualityWeights are the component weights for the overall quality score.
// Exposed as configuration because the authoritative weighting differs
// between deployments.
type QualityWeights struct {
	Completeness float64 `json:"completeness"`
	Recency      float64 `json:"recency"`
	Authority    float64 `json:"authority"`
	Diversity    float64 `json:"diversity"`
	Relevance    float64 `json:"relevance"`
}

// DefaultQualityWeights returns the standard weighting.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{
		Completeness: 0.25,
		Recency:      0.20,
		Authority:    0.25,
		Diversity:    0.15,
		Relevance:    0.15,
	}
}

// sourceWeights weight each source's contribution to completeness. The RAG
// store is internal corpus material and counts slightly less than the
// primary indexes.
var sourceWeights = map[string]float64{
	SourcePubs:   1.0,
	SourceTrials: 1.0,
	SourceRAG:    0.8,
}

// highReputationVenues is the venue allowlist for the authority component,
// matched case-insensitively as a substring.
var highReputationVenues = []string{
	"nature", "science", "cell", "lancet", "nejm",
	"new england journal", "jama", "bmj", "annals of internal medicine",
	"circulation", "journal of clinical oncology", "blood",
	"diabetes care", "european heart journal",
}

func authoritative(item Item) bool {
	// Registry records are authoritative by construction.
	if item.Source == SourceTrials {
		return true
	}
	venue := strings.ToLower(item.Venue)
	for _, v := range highReputationVenues {
		if strings.Contains(venue, v) {
			return true
		}
	}
	return false
}

// ScoreItem computes an item's composite quality score in [0,1] from
// recency, authority, and its own relevance signal. Used by fetch nodes when
// the adapter does not supply a quality score.
func ScoreItem(item Item, currentYear int) float64 {
	recency := 0.3
	switch {
	case item.Year >= currentYear-2:
		recency = 1.0
	case item.Year >= currentYear-5:
		recency = 0.7
	case item.Year == 0:
		recency = 0.5
	}

	authority := 0.4
	if authoritative(item) {
		authority = 1.0
	}

	score := 0.4*recency + 0.4*authority + 0.2*item.RelevanceScore
	return clamp01(score)
}

// ComputeMetrics scores the synthesized answer per the definitions:
//
//   - completeness: weight-sum of sources that returned items over the
//     weight-sum of requested sources
//   - recency: full credit for cited items within 5 years, half-credit bonus
//     within 2 years, normalized to [0,1]
//   - authority: fraction of cited items from high-reputation venues or
//     authoritative registries
//   - diversity: source coverage times publication-type spread
//   - relevance: mean relevance of cited items
func ComputeMetrics(results map[string][]Item, citations []Citation, requested []string, currentYear int, w QualityWeights) QualityMetrics {
	var m QualityMetrics

	var reqWeight, gotWeight float64
	for _, src := range requested {
		reqWeight += sourceWeights[src]
		if len(results[src]) > 0 {
			gotWeight += sourceWeights[src]
		}
	}
	if reqWeight > 0 {
		m.Completeness = clamp01(gotWeight / reqWeight)
	}

	if len(citations) > 0 {
		var recencyCredit, authorityHits, relevanceSum float64
		types := make(map[string]bool)
		sources := make(map[string]bool)

		for _, c := range citations {
			if c.Year >= currentYear-5 {
				recencyCredit += 1.0
			}
			if c.Year >= currentYear-2 {
				recencyCredit += 0.5
			}
			item := Item{Source: c.Source, Venue: c.Venue}
			if authoritative(item) {
				authorityHits++
			}
			relevanceSum += c.RelevanceScore
			sources[c.Source] = true
			types[typeBucket(c.Source)] = true
		}

		n := float64(len(citations))
		m.Recency = clamp01(recencyCredit / (1.5 * n))
		m.Authority = clamp01(authorityHits / n)
		m.Relevance = clamp01(relevanceSum / n)
		m.Diversity = clamp01(float64(len(sources)) / 3.0 * float64(len(types)) / 3.0)
	}

	m.Overall = clamp01(w.Completeness*m.Completeness +
		w.Recency*m.Recency +
		w.Authority*m.Authority +
		w.Diversity*m.Diversity +
		w.Relevance*m.Relevance)
	return m
}

// typeBucket maps a source to its publication-type bucket.
func typeBucket(source string) string {
	switch source {
	case SourcePubs:
		return "journal_article"
	case SourceTrials:
		return "clinical_trial"
	default:
		return "internal_document"
	}
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
