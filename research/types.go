// Package research implements the biomedical query orchestration core: intent
// parsing, routing, budgeted fetch scheduling with classified retries, cited
// synthesis with quality metrics, and run lifecycle management.
package research

import (
	"fmt"
	"strings"
)

// Logical source names. These key the result slots, the rate limiter buckets,
// and the fetch node registry.
const (
	SourcePubs   = "pubs"
	SourceTrials = "trials"
	SourceRAG    = "rag"
)

// Fetch node names as they appear in node_path and events.
const (
	NodeParse       = "intent_parse"
	NodeRoute       = "route"
	NodePubsFetch   = "pubs_fetch"
	NodeTrialsFetch = "trials_fetch"
	NodeRAGFetch    = "rag_fetch"
	NodeSynthesize  = "synthesize"
)

// NodeSource maps a fetch node name to its result-slot source. Returns ""
// for non-fetch nodes.
func NodeSource(node string) string {
	switch node {
	case NodePubsFetch:
		return SourcePubs
	case NodeTrialsFetch:
		return SourceTrials
	case NodeRAGFetch:
		return SourceRAG
	default:
		return ""
	}
}

// FetchNodeFor is the inverse of NodeSource.
func FetchNodeFor(source string) string {
	switch source {
	case SourcePubs:
		return NodePubsFetch
	case SourceTrials:
		return NodeTrialsFetch
	case SourceRAG:
		return NodeRAGFetch
	default:
		return ""
	}
}

// Intent is the parsed query intent.
type Intent string

const (
	IntentRecentPubs     Intent = "recent_pubs_by_topic"
	IntentPhaseTrials    Intent = "indication_phase_trials"
	IntentTrialsWithPubs Intent = "trials_with_pubs"
	IntentHybridSearch   Intent = "hybrid_search"
	IntentCompany        Intent = "company_pipeline"
)

// FetchPolicy controls how fetch nodes use the cache.
type FetchPolicy string

const (
	FetchCacheOnly        FetchPolicy = "cache_only"
	FetchCacheThenNetwork FetchPolicy = "cache_then_network"
	FetchNetworkOnly      FetchPolicy = "network_only"
)

// Entities are the concrete things extracted from the query text.
type Entities struct {
	Topic      string `json:"topic,omitempty"`
	Indication string `json:"indication,omitempty"`
	Company    string `json:"company,omitempty"`
	TrialID    string `json:"trial_id,omitempty"`
}

// Filters narrow fetch node queries.
type Filters struct {
	Phases              []string `json:"phases,omitempty"`
	Statuses            []string `json:"statuses,omitempty"`
	PublishedWithinDays int      `json:"published_within_days,omitempty"`
	YearFrom            int      `json:"year_from,omitempty"`
	YearTo              int      `json:"year_to,omitempty"`
}

// Frame is the structured representation of user intent.
type Frame struct {
	Intent      Intent      `json:"intent"`
	Entities    Entities    `json:"entities"`
	Filters     Filters     `json:"filters"`
	FetchPolicy FetchPolicy `json:"fetch_policy"`
	Confidence  float64     `json:"confidence"`
}

// Item is the common envelope for anything a fetch node returns: a
// publication, a trial record, or a RAG document.
type Item struct {
	ID             string         `json:"id"`
	Source         string         `json:"source"`
	Title          string         `json:"title"`
	Authors        []string       `json:"authors,omitempty"`
	Venue          string         `json:"venue,omitempty"`
	Year           int            `json:"year,omitempty"`
	Abstract       string         `json:"abstract,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
	RelevanceScore float64        `json:"relevance_score"`
	QualityScore   float64        `json:"quality_score"`
}

// Citation is a source-attributed reference in the synthesized answer.
// Index is assigned 1-based on emission.
type Citation struct {
	Index          int      `json:"index"`
	ID             string   `json:"id"`
	Source         string   `json:"source"`
	Title          string   `json:"title"`
	Authors        []string `json:"authors,omitempty"`
	Venue          string   `json:"venue,omitempty"`
	Year           int      `json:"year,omitempty"`
	ExternalURL    string   `json:"external_url,omitempty"`
	RelevanceScore float64  `json:"relevance_score"`
}

// QualityMetrics scores the synthesized answer, all components in [0,1].
type QualityMetrics struct {
	Completeness float64 `json:"completeness"`
	Recency      float64 `json:"recency"`
	Authority    float64 `json:"authority"`
	Diversity    float64 `json:"diversity"`
	Relevance    float64 `json:"relevance"`
	Overall      float64 `json:"overall"`
}

// AnswerType selects the synthesis template.
type AnswerType string

const (
	AnswerComprehensive AnswerType = "comprehensive"
	AnswerPartial       AnswerType = "partial"
	AnswerMinimal       AnswerType = "minimal"
	AnswerEmpty         AnswerType = "empty"
)

// RunStatus is the run-level state machine. Transitions move only forward:
// Pending -> Running -> (Completed | Partial | Failed).
type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusPartial   RunStatus = "partial"
	StatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusPartial || s == StatusFailed
}

// Priority presets bundle budget, quality threshold, and retry strategy.
const (
	PrioritySpeed         = "speed"
	PriorityComprehensive = "comprehensive"
	PriorityBalanced      = "balanced"
)

// Citation block formats.
const (
	CitationIDOnly = "id_only"
	CitationFull   = "full"
	CitationInline = "inline"
)

// Retry strategies accepted at the request level. These mirror the
// classifier's backoff shapes.
const (
	RetryExponential = "exponential"
	RetryLinear      = "linear"
	RetryNone        = "none"
)

// Budget bounds in milliseconds.
const (
	MinBudgetMS = 1000
	MaxBudgetMS = 30000
)

// QueryRequest is a submitted research question. Sources and Options are
// optional; omitted option keys take priority-preset or configured defaults.
type QueryRequest struct {
	Query   string   `json:"query"`
	Sources []string `json:"sources,omitempty"`
	Options *Options `json:"options,omitempty"`
}

// Options is the wire form of the per-request option map. Pointer fields
// distinguish "omitted" from an explicit zero value.
type Options struct {
	MaxResultsPerSource  *int     `json:"max_results_per_source,omitempty"`
	IncludeSynthesis     *bool    `json:"include_synthesis,omitempty"`
	Priority             string   `json:"priority,omitempty"`
	BudgetMS             *int     `json:"budget_ms,omitempty"`
	EnablePartialResults *bool    `json:"enable_partial_results,omitempty"`
	RetryStrategy        string   `json:"retry_strategy,omitempty"`
	ParallelExecution    *bool    `json:"parallel_execution,omitempty"`
	CitationFormat       string   `json:"citation_format,omitempty"`
	QualityThreshold     *float64 `json:"quality_threshold,omitempty"`
	CheckpointEnabled    *bool    `json:"checkpoint_enabled,omitempty"`
}

// Settings are the fully resolved options for one run.
type Settings struct {
	MaxResultsPerSource  int     `json:"max_results_per_source"`
	IncludeSynthesis     bool    `json:"include_synthesis"`
	Priority             string  `json:"priority"`
	BudgetMS             int     `json:"budget_ms"`
	EnablePartialResults bool    `json:"enable_partial_results"`
	RetryStrategy        string  `json:"retry_strategy"`
	ParallelExecution    bool    `json:"parallel_execution"`
	CitationFormat       string  `json:"citation_format"`
	QualityThreshold     float64 `json:"quality_threshold"`
	CheckpointEnabled    bool    `json:"checkpoint_enabled"`
	Sources              []string `json:"sources,omitempty"`
}

// ValidationError reports an invalid request field. Semantic marks a value
// violation on an otherwise well-formed field (range or enum); the server maps
// semantic errors to HTTP 422 and structural ones to 400.
type ValidationError struct {
	Field    string
	Message  string
	Semantic bool
}

func (e *ValidationError) Error() string {
	return "invalid " + e.Field + ": " + e.Message
}

// Defaults used when neither the request nor a priority preset sets a value.
type RequestDefaults struct {
	BudgetMS    int
	MaxBudgetMS int
}

// Resolve merges the request options with priority presets and defaults, then
// validates ranges and enums. The precedence is: explicit option > priority
// preset > configured default.
func (r *QueryRequest) Resolve(def RequestDefaults) (Settings, error) {
	if strings.TrimSpace(r.Query) == "" {
		return Settings{}, &ValidationError{Field: "query", Message: "must not be empty"}
	}
	if def.BudgetMS <= 0 {
		def.BudgetMS = 5000
	}
	if def.MaxBudgetMS <= 0 {
		def.MaxBudgetMS = MaxBudgetMS
	}

	opts := r.Options
	if opts == nil {
		opts = &Options{}
	}

	s := Settings{
		MaxResultsPerSource:  20,
		IncludeSynthesis:     true,
		Priority:             PriorityBalanced,
		BudgetMS:             def.BudgetMS,
		EnablePartialResults: true,
		RetryStrategy:        RetryExponential,
		ParallelExecution:    true,
		CitationFormat:       CitationFull,
		QualityThreshold:     0.4,
		CheckpointEnabled:    true,
	}

	switch opts.Priority {
	case PrioritySpeed:
		s.Priority = PrioritySpeed
		s.BudgetMS = 3000
		s.QualityThreshold = 0.3
		s.RetryStrategy = RetryNone
		s.MaxResultsPerSource = 10
	case PriorityComprehensive:
		s.Priority = PriorityComprehensive
		s.BudgetMS = 20000
		s.QualityThreshold = 0.6
		s.RetryStrategy = RetryExponential
		s.MaxResultsPerSource = 50
	case PriorityBalanced, "":
	default:
		return Settings{}, &ValidationError{Field: "priority", Semantic: true, Message: "must be one of speed, comprehensive, balanced"}
	}

	if opts.MaxResultsPerSource != nil {
		s.MaxResultsPerSource = *opts.MaxResultsPerSource
	}
	if opts.IncludeSynthesis != nil {
		s.IncludeSynthesis = *opts.IncludeSynthesis
	}
	if opts.BudgetMS != nil {
		s.BudgetMS = *opts.BudgetMS
	}
	if opts.EnablePartialResults != nil {
		s.EnablePartialResults = *opts.EnablePartialResults
	}
	if opts.RetryStrategy != "" {
		s.RetryStrategy = opts.RetryStrategy
	}
	if opts.ParallelExecution != nil {
		s.ParallelExecution = *opts.ParallelExecution
	}
	if opts.CitationFormat != "" {
		s.CitationFormat = opts.CitationFormat
	}
	if opts.QualityThreshold != nil {
		s.QualityThreshold = *opts.QualityThreshold
	}
	if opts.CheckpointEnabled != nil {
		s.CheckpointEnabled = *opts.CheckpointEnabled
	}

	if s.MaxResultsPerSource < 1 {
		return Settings{}, &ValidationError{Field: "max_results_per_source", Semantic: true, Message: "must be >= 1"}
	}
	maxBudget := def.MaxBudgetMS
	if maxBudget > MaxBudgetMS {
		maxBudget = MaxBudgetMS
	}
	if s.BudgetMS < MinBudgetMS || s.BudgetMS > maxBudget {
		return Settings{}, &ValidationError{
			Field:    "budget_ms",
			Semantic: true,
			Message:  fmt.Sprintf("must be in [%d, %d]", MinBudgetMS, maxBudget),
		}
	}
	switch s.RetryStrategy {
	case RetryExponential, RetryLinear, RetryNone:
	default:
		return Settings{}, &ValidationError{Field: "retry_strategy", Semantic: true, Message: "must be one of exponential, linear, none"}
	}
	switch s.CitationFormat {
	case CitationIDOnly, CitationFull, CitationInline:
	default:
		return Settings{}, &ValidationError{Field: "citation_format", Semantic: true, Message: "must be one of id_only, full, inline"}
	}
	if s.QualityThreshold < 0 || s.QualityThreshold > 1 {
		return Settings{}, &ValidationError{Field: "quality_threshold", Semantic: true, Message: "must be in [0, 1]"}
	}

	for _, src := range r.Sources {
		switch src {
		case SourcePubs, SourceTrials, SourceRAG:
		default:
			return Settings{}, &ValidationError{Field: "sources", Semantic: true, Message: "unknown source " + src}
		}
	}
	s.Sources = append([]string(nil), r.Sources...)

	return s, nil
}
