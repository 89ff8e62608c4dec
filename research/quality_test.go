package research

import (
	"math"
	"testing"
)

const currentYear = 2026

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestScoreItem(t *testing.T) {
	t.Run("fresh authoritative relevant", func(t *testing.T) {
		item := Item{Source: SourcePubs, Venue: "The Lancet", Year: 2026, RelevanceScore: 1.0}
		if got := ScoreItem(item, currentYear); !almostEqual(got, 1.0) {
			t.Errorf("score = %f", got)
		}
	})

	t.Run("trials are always authoritative", func(t *testing.T) {
		item := Item{Source: SourceTrials, Year: 2026, RelevanceScore: 0}
		// 0.4*1.0 + 0.4*1.0 + 0.2*0 = 0.8
		if got := ScoreItem(item, currentYear); !almostEqual(got, 0.8) {
			t.Errorf("score = %f", got)
		}
	})

	t.Run("stale unknown venue", func(t *testing.T) {
		item := Item{Source: SourcePubs, Venue: "Obscure Bulletin", Year: 2010, RelevanceScore: 0.5}
		// 0.4*0.3 + 0.4*0.4 + 0.2*0.5 = 0.38
		if got := ScoreItem(item, currentYear); !almostEqual(got, 0.38) {
			t.Errorf("score = %f", got)
		}
	})

	t.Run("missing year is neutral", func(t *testing.T) {
		item := Item{Source: SourcePubs, RelevanceScore: 0.5}
		// 0.4*0.5 + 0.4*0.4 + 0.2*0.5 = 0.46
		if got := ScoreItem(item, currentYear); !almostEqual(got, 0.46) {
			t.Errorf("score = %f", got)
		}
	})
}

func TestComputeMetrics_Completeness(t *testing.T) {
	w := DefaultQualityWeights()

	t.Run("full coverage", func(t *testing.T) {
		results := map[string][]Item{
			SourcePubs:   {{ID: "p1"}},
			SourceTrials: {{ID: "t1"}},
		}
		m := ComputeMetrics(results, nil, []string{SourcePubs, SourceTrials}, currentYear, w)
		if !almostEqual(m.Completeness, 1.0) {
			t.Errorf("Completeness = %f", m.Completeness)
		}
	})

	t.Run("rag counts less", func(t *testing.T) {
		results := map[string][]Item{SourcePubs: {{ID: "p1"}}}
		requested := []string{SourcePubs, SourceRAG}
		m := ComputeMetrics(results, nil, requested, currentYear, w)
		// pubs weight 1.0 of total 1.8
		if !almostEqual(m.Completeness, 1.0/1.8) {
			t.Errorf("Completeness = %f", m.Completeness)
		}
	})

	t.Run("empty slot does not count", func(t *testing.T) {
		results := map[string][]Item{SourcePubs: {}}
		m := ComputeMetrics(results, nil, []string{SourcePubs}, currentYear, w)
		if m.Completeness != 0 {
			t.Errorf("Completeness = %f", m.Completeness)
		}
	})
}

func TestComputeMetrics_CitationComponents(t *testing.T) {
	w := DefaultQualityWeights()
	results := map[string][]Item{SourcePubs: {{ID: "p1"}}}

	t.Run("recency credit", func(t *testing.T) {
		citations := []Citation{
			{Source: SourcePubs, Year: currentYear},     // 1.0 + 0.5
			{Source: SourcePubs, Year: currentYear - 4}, // 1.0
			{Source: SourcePubs, Year: currentYear - 10},
		}
		m := ComputeMetrics(results, citations, []string{SourcePubs}, currentYear, w)
		want := 2.5 / (1.5 * 3)
		if !almostEqual(m.Recency, want) {
			t.Errorf("Recency = %f, want %f", m.Recency, want)
		}
	})

	t.Run("authority fraction", func(t *testing.T) {
		citations := []Citation{
			{Source: SourcePubs, Venue: "Nature Medicine"},
			{Source: SourceTrials},
			{Source: SourcePubs, Venue: "Random Letters"},
			{Source: SourceRAG},
		}
		m := ComputeMetrics(results, citations, []string{SourcePubs}, currentYear, w)
		if !almostEqual(m.Authority, 0.5) {
			t.Errorf("Authority = %f", m.Authority)
		}
	})

	t.Run("diversity spans sources and types", func(t *testing.T) {
		one := []Citation{{Source: SourcePubs}}
		m := ComputeMetrics(results, one, []string{SourcePubs}, currentYear, w)
		if !almostEqual(m.Diversity, 1.0/9.0) {
			t.Errorf("single-source Diversity = %f", m.Diversity)
		}

		three := []Citation{{Source: SourcePubs}, {Source: SourceTrials}, {Source: SourceRAG}}
		m = ComputeMetrics(results, three, []string{SourcePubs}, currentYear, w)
		if !almostEqual(m.Diversity, 1.0) {
			t.Errorf("full-spread Diversity = %f", m.Diversity)
		}
	})

	t.Run("relevance mean", func(t *testing.T) {
		citations := []Citation{
			{Source: SourcePubs, RelevanceScore: 0.8},
			{Source: SourcePubs, RelevanceScore: 0.4},
		}
		m := ComputeMetrics(results, citations, []string{SourcePubs}, currentYear, w)
		if !almostEqual(m.Relevance, 0.6) {
			t.Errorf("Relevance = %f", m.Relevance)
		}
	})
}

func TestComputeMetrics_Overall(t *testing.T) {
	w := DefaultQualityWeights()
	citations := []Citation{{Source: SourceTrials, Year: currentYear, RelevanceScore: 1.0}}
	results := map[string][]Item{SourceTrials: {{ID: "t1"}}}

	m := ComputeMetrics(results, citations, []string{SourceTrials}, currentYear, w)
	want := w.Completeness*m.Completeness + w.Recency*m.Recency +
		w.Authority*m.Authority + w.Diversity*m.Diversity + w.Relevance*m.Relevance
	if !almostEqual(m.Overall, want) {
		t.Errorf("Overall = %f, want %f", m.Overall, want)
	}
	if m.Overall < 0 || m.Overall > 1 {
		t.Errorf("Overall out of range: %f", m.Overall)
	}
}

func TestDefaultQualityWeights(t *testing.T) {
	w := DefaultQualityWeights()
	sum := w.Completeness + w.Recency + w.Authority + w.Diversity + w.Relevance
	if !almostEqual(sum, 1.0) {
		t.Errorf("weights sum to %f, want 1", sum)
	}
}

func TestNoCitationsZeroComponents(t *testing.T) {
	m := ComputeMetrics(nil, nil, []string{SourcePubs}, currentYear, DefaultQualityWeights())
	if m.Recency != 0 || m.Authority != 0 || m.Diversity != 0 || m.Relevance != 0 {
		t.Errorf("expected zero citation components, got %+v", m)
	}
}
