package research

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dshills/bioquery-go/errclass"
)

// Synthesis stages reported through synthesis_stage events.
const (
	StageCitation = "citation"
	StageQuality  = "quality"
	StageRender   = "render"
)

// SynthResult is everything the synthesizer contributes to a run.
type SynthResult struct {
	Answer        string
	AnswerType    AnswerType
	Citations     []Citation
	CitationsMore int
	Quality       QualityMetrics

	// Err records an internal synthesis failure. The answer is still
	// populated (empty template); synthesis never propagates errors.
	Err *errclass.Record
}

// Synthesizer renders the final answer from the collected result slots.
// It is deterministic for a fixed clock and never fails: internal errors
// produce the empty template with the error recorded.
type Synthesizer struct {
	Weights QualityWeights

	// Now is injectable for deterministic output; nil means time.Now.
	Now func() time.Time

	// Progress, when non-nil, receives stage updates for event emission.
	Progress func(stage string, percent int)
}

// Synthesize consumes the run's result slots and produces the answer text,
// citations, and quality metrics.
func (s *Synthesizer) Synthesize(st RunState) (out SynthResult) {
	defer func() {
		if r := recover(); r != nil {
			rec := errclass.NewRecord(NodeSynthesize,
				fmt.Errorf("synthesis panic: %v", r), s.now())
			out = SynthResult{
				Answer:     s.renderEmpty(st),
				AnswerType: AnswerEmpty,
				Err:        &rec,
			}
		}
	}()

	if s.Weights == (QualityWeights{}) {
		s.Weights = DefaultQualityWeights()
	}

	s.progress(StageCitation, 10)
	citations, more := BuildCitations(st.Results)
	s.progress(StageCitation, 100)

	s.progress(StageQuality, 50)
	quality := ComputeMetrics(st.Results, citations, st.RequestedSources(), s.now().UTC().Year(), s.Weights)
	s.progress(StageQuality, 100)

	answerType := s.answerType(&st)

	s.progress(StageRender, 50)
	var answer string
	switch answerType {
	case AnswerEmpty:
		answer = s.renderEmpty(st)
	case AnswerMinimal:
		answer = s.renderMinimal(st, citations, more, quality)
	case AnswerPartial:
		answer = s.renderPartial(st, citations, more, quality)
	default:
		answer = s.renderComprehensive(st, citations, more, quality)
	}
	s.progress(StageRender, 100)

	return SynthResult{
		Answer:        answer,
		AnswerType:    answerType,
		Citations:     citations,
		CitationsMore: more,
		Quality:       quality,
	}
}

// answerType selects the template. Coverage is judged against the requested
// sources, so a single-source request that fully delivers still counts as
// comprehensive when it has enough items.
func (s *Synthesizer) answerType(st *RunState) AnswerType {
	total := st.TotalItems()
	contributed := len(st.AvailableSources())
	requested := len(st.RequestedSources())

	fetchErrors := 0
	for _, rec := range st.Errors {
		if NodeSource(rec.Node) != "" {
			fetchErrors++
		}
	}

	switch {
	case total == 0:
		return AnswerEmpty
	case st.Partial || fetchErrors > 0:
		return AnswerPartial
	case contributed == 1 && total < 5:
		return AnswerMinimal
	case contributed >= requested && total >= 10:
		return AnswerComprehensive
	case contributed >= 2 && total >= 10:
		return AnswerComprehensive
	default:
		return AnswerPartial
	}
}

func (s *Synthesizer) renderComprehensive(st RunState, citations []Citation, more int, q QualityMetrics) string {
	var sb strings.Builder
	topic := s.topic(st)
	fmt.Fprintf(&sb, "Research synthesis: %s\n\n", topic)
	fmt.Fprintf(&sb, "Across %d sources, %d items were retrieved and ranked.\n\n",
		len(st.AvailableSources()), st.TotalItems())
	s.writeSourceSections(&sb, st, citations)
	s.writeQualityLine(&sb, q)
	sb.WriteString(RenderCitations(citations, more, st.Settings.CitationFormat))
	return sb.String()
}

func (s *Synthesizer) renderPartial(st RunState, citations []Citation, more int, q QualityMetrics) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Partial research synthesis: %s\n\n", s.topic(st))
	sb.WriteString("This answer is based on incomplete source coverage")
	if st.PartialReason != "" {
		fmt.Fprintf(&sb, " (%s)", st.PartialReason)
	}
	sources := st.AvailableSources()
	if len(sources) > 0 {
		fmt.Fprintf(&sb, ". Contributing sources: %s", strings.Join(sources, ", "))
	}
	sb.WriteString(".\n\n")
	s.writeSourceSections(&sb, st, citations)
	s.writeQualityLine(&sb, q)
	sb.WriteString(RenderCitations(citations, more, st.Settings.CitationFormat))
	return sb.String()
}

func (s *Synthesizer) renderMinimal(st RunState, citations []Citation, more int, q QualityMetrics) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Limited results for: %s\n\n", s.topic(st))
	fmt.Fprintf(&sb, "Only %d item(s) matched from %s.\n\n",
		st.TotalItems(), strings.Join(st.AvailableSources(), ", "))
	s.writeSourceSections(&sb, st, citations)
	s.writeQualityLine(&sb, q)
	sb.WriteString(RenderCitations(citations, more, st.Settings.CitationFormat))
	return sb.String()
}

func (s *Synthesizer) renderEmpty(st RunState) string {
	return fmt.Sprintf("No results found for: %s\n\nNo source returned items matching the query and quality threshold. Consider broadening the question or lowering the quality threshold.\n", s.topic(st))
}

// writeSourceSections emits one section per contributing source, listing the
// top items with their citation indices.
func (s *Synthesizer) writeSourceSections(sb *strings.Builder, st RunState, citations []Citation) {
	index := make(map[string]int, len(citations))
	for _, c := range citations {
		index[canonicalID(Item{ID: c.ID})] = c.Index
	}

	sources := make([]string, 0, len(st.Results))
	for src := range st.Results {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	for _, src := range sources {
		items := st.Results[src]
		if len(items) == 0 {
			continue
		}
		fmt.Fprintf(sb, "%s (%d items):\n", sectionTitle(src), len(items))
		limit := 5
		if limit > len(items) {
			limit = len(items)
		}
		for _, item := range items[:limit] {
			ref := ""
			if idx, ok := index[canonicalID(item)]; ok {
				ref = fmt.Sprintf(" [%d]", idx)
			}
			line := item.Title
			if item.Year > 0 {
				line = fmt.Sprintf("%s (%d)", line, item.Year)
			}
			fmt.Fprintf(sb, "  - %s%s\n", line, ref)
		}
		sb.WriteString("\n")
	}
}

func (s *Synthesizer) writeQualityLine(sb *strings.Builder, q QualityMetrics) {
	fmt.Fprintf(sb, "Quality: overall %.2f (completeness %.2f, recency %.2f, authority %.2f, diversity %.2f, relevance %.2f)\n\n",
		q.Overall, q.Completeness, q.Recency, q.Authority, q.Diversity, q.Relevance)
}

func (s *Synthesizer) topic(st RunState) string {
	if st.Frame != nil && st.Frame.Entities.Topic != "" {
		return st.Frame.Entities.Topic
	}
	return st.Query
}

func (s *Synthesizer) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Synthesizer) progress(stage string, percent int) {
	if s.Progress != nil {
		s.Progress(stage, percent)
	}
}

func sectionTitle(source string) string {
	switch source {
	case SourcePubs:
		return "Publications"
	case SourceTrials:
		return "Clinical trials"
	case SourceRAG:
		return "Internal knowledge base"
	default:
		return source
	}
}
