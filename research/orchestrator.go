package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/bioquery-go/checkpoint"
	"github.com/dshills/bioquery-go/errclass"
	"github.com/dshills/bioquery-go/graph"
	"github.com/dshills/bioquery-go/graph/emit"
)

// runRetention is how long terminal runs (and their event history) stay
// resident before eviction.
const runRetention = 24 * time.Hour

// maxRunSteps bounds a single run's node executions; the graph is small, so
// this only guards against routing bugs.
const maxRunSteps = 32

// OrchestratorConfig wires the orchestrator's collaborators and limits.
type OrchestratorConfig struct {
	Defaults      RequestDefaults
	MaxParallel   int
	Weights       QualityWeights
	CheckpointTTL time.Duration

	// Now is injectable for deterministic tests; nil means time.Now.
	Now func() time.Time
}

// Orchestrator owns the process-wide run lifecycle: submission, graph
// execution, partial-result salvage, checkpointing, and event fan-out.
type Orchestrator struct {
	cfg      OrchestratorConfig
	parser   *Parser
	fetchers map[string]Fetcher
	bus      *emit.Bus
	emitter  emit.Emitter
	metrics  *graph.PrometheusMetrics
	store    checkpoint.Store
	now      func() time.Time

	mu   sync.Mutex
	runs map[string]*Run

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// NewOrchestrator builds an orchestrator. parser's Chat tier may be nil;
// extra emitters (logging, tracing) are fanned out alongside the SSE bus.
func NewOrchestrator(cfg OrchestratorConfig, parser *Parser, fetchers map[string]Fetcher, store checkpoint.Store, metrics *graph.PrometheusMetrics, extra ...emit.Emitter) *Orchestrator {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 5
	}
	if cfg.Weights == (QualityWeights{}) {
		cfg.Weights = DefaultQualityWeights()
	}
	if cfg.CheckpointTTL <= 0 {
		cfg.CheckpointTTL = 7 * 24 * time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	if parser == nil {
		parser = &Parser{}
	}

	bus := emit.NewBus()
	emitters := append(emit.Multi{bus}, extra...)

	o := &Orchestrator{
		cfg:      cfg,
		parser:   parser,
		fetchers: fetchers,
		bus:      bus,
		emitter:  emitters,
		metrics:  metrics,
		store:    store,
		now:      now,
		runs:     make(map[string]*Run),
		stop:     make(chan struct{}),
	}

	o.wg.Add(1)
	go o.sweeper()
	return o
}

// Bus exposes the per-run event broadcaster for SSE subscriptions.
func (o *Orchestrator) Bus() *emit.Bus { return o.bus }

// Metrics exposes the shared metrics handle.
func (o *Orchestrator) Metrics() *graph.PrometheusMetrics { return o.metrics }

// SubmitResult is the response to a run submission.
type SubmitResult struct {
	RunID                 string    `json:"run_id"`
	Status                RunStatus `json:"status"`
	StreamURL             string    `json:"stream_url"`
	EstimatedCompletionMS int       `json:"estimated_completion_ms"`
	CreatedAt             time.Time `json:"created_at"`
}

// Submit validates the request, creates the run, and starts graph execution
// in the background. The returned result references the run's event stream.
func (o *Orchestrator) Submit(req QueryRequest) (SubmitResult, error) {
	settings, err := req.Resolve(o.cfg.Defaults)
	if err != nil {
		return SubmitResult{}, err
	}

	run := &Run{
		ID:        uuid.NewString(),
		Query:     req.Query,
		Settings:  settings,
		Status:    StatusPending,
		CreatedAt: o.now().UTC(),
	}

	o.mu.Lock()
	o.runs[run.ID] = run
	o.mu.Unlock()

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.execute(run)
	}()

	return SubmitResult{
		RunID:                 run.ID,
		Status:                StatusPending,
		StreamURL:             "/api/research/stream/" + run.ID,
		EstimatedCompletionMS: settings.BudgetMS,
		CreatedAt:             run.CreatedAt,
	}, nil
}

// Get returns the run handle for an id.
func (o *Orchestrator) Get(runID string) (*Run, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	run, ok := o.runs[runID]
	return run, ok
}

// Active lists non-terminal runs.
func (o *Orchestrator) Active() []*Run {
	o.mu.Lock()
	defer o.mu.Unlock()
	var out []*Run
	for _, run := range o.runs {
		if !run.StatusNow().Terminal() {
			out = append(out, run)
		}
	}
	return out
}

// ActiveCount returns how many runs are currently non-terminal.
func (o *Orchestrator) ActiveCount() int {
	return len(o.Active())
}

// Cancel aborts a running run's in-flight work. A terminal run is untouched.
func (o *Orchestrator) Cancel(runID string) bool {
	run, ok := o.Get(runID)
	if !ok {
		return false
	}
	run.cancelRun()
	return true
}

// Close cancels in-flight runs and stops the background sweeper.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() { close(o.stop) })
	o.mu.Lock()
	for _, run := range o.runs {
		run.cancelRun()
	}
	o.mu.Unlock()
	o.wg.Wait()
}

// execute drives one run end to end: graph execution under the budget
// deadline, partial salvage on exhaustion, checkpointing, and terminal
// events.
func (o *Orchestrator) execute(run *Run) {
	settings := run.Settings
	budget := time.Duration(settings.BudgetMS) * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), budget)
	run.setCancel(cancel)
	defer cancel()

	fetchNodes := o.plannedFetchNodes(settings)
	tracker := NewTracker(budget, fetchNodes, o.now)
	sched := NewScheduler(run.ID, settings, tracker, o.emitter, o.metrics, o.now)
	synth := &Synthesizer{
		Weights: o.cfg.Weights,
		Now:     o.now,
		Progress: func(stage string, percent int) {
			sched.Emit(emit.TypeSynthesisStage, NodeSynthesize, map[string]interface{}{
				"stage":   stage,
				"percent": percent,
			})
		},
	}

	engine, err := o.buildGraph(sched, synth, settings)
	if err != nil {
		run.finish(StatusFailed, RunState{RunID: run.ID, Query: run.Query, Settings: settings}, o.now())
		sched.Emit(emit.TypeRunFailed, "", map[string]interface{}{
			"error_kind": string(errclass.KindUnknown),
			"message":    err.Error(),
		})
		return
	}

	run.setStatus(StatusRunning)
	tracker.Start()
	sched.Emit(emit.TypeRunStarted, "", map[string]interface{}{
		"query": run.Query,
		"enabled_features": map[string]interface{}{
			"synthesis":       settings.IncludeSynthesis,
			"partial_results": settings.EnablePartialResults,
			"parallel":        settings.ParallelExecution,
			"checkpoint":      settings.CheckpointEnabled,
		},
	})

	initial := RunState{RunID: run.ID, Query: run.Query, Settings: settings}
	final, runErr := engine.Run(ctx, run.ID, initial)

	switch {
	case runErr == nil:
		o.complete(run, sched, final, tracker)

	case errors.Is(runErr, context.DeadlineExceeded) || errors.Is(runErr, context.Canceled):
		o.salvage(run, sched, synth, final, tracker, runErr)

	default:
		kind := errclass.Classify(runErr)
		run.finish(StatusFailed, final, o.now())
		if o.metrics != nil {
			o.metrics.IncRunFinished(string(StatusFailed))
		}
		sched.Emit(emit.TypeRunFailed, "", map[string]interface{}{
			"error_kind": string(kind),
			"message":    runErr.Error(),
		})
	}
}

// complete finalizes a run whose graph reached the end. A fetch failure
// inside the budget still means synthesis ran on incomplete data, so the run
// surfaces as Partial with a partial_results event, not as a silent Completed.
func (o *Orchestrator) complete(run *Run, sched *Scheduler, final RunState, tracker *Tracker) {
	if !final.Partial {
		if reason := fetchFailureReason(final); reason != "" {
			final.Partial = true
			final.PartialReason = reason
		}
	}

	status := StatusCompleted
	if final.Partial {
		status = StatusPartial
		o.emitPartialResults(sched, &final)
	}

	o.persistCheckpoint(&final, tracker)
	run.finish(status, final, o.now())
	if o.metrics != nil {
		o.metrics.IncRunFinished(string(status))
	}

	sched.Emit(emit.TypeRunCompleted, "", runCompletedMeta(&final))
}

// fetchFailureReason reports why the result set is incomplete: "timeout" when
// any fetch node timed out, "error" for any other fetch failure, "" when every
// fetch delivered.
func fetchFailureReason(st RunState) string {
	reason := ""
	for _, rec := range st.Errors {
		if NodeSource(rec.Node) == "" {
			continue
		}
		if rec.Kind == errclass.KindTimeout {
			return "timeout"
		}
		reason = "error"
	}
	return reason
}

// emitPartialResults publishes the partial_results event; it must precede
// run_completed.
func (o *Orchestrator) emitPartialResults(sched *Scheduler, final *RunState) {
	available := final.AvailableSources()
	requested := final.RequestedSources()
	completionPct := 0
	if len(requested) > 0 {
		completionPct = 100 * len(available) / len(requested)
	}
	sched.Emit(emit.TypePartialResults, "", map[string]interface{}{
		"reason":            final.PartialReason,
		"completion_pct":    completionPct,
		"available_sources": available,
	})
}

// salvage handles budget exhaustion: when partial results are enabled and at
// least one fetch produced items, the run short-circuits to the synthesizer
// instead of failing.
func (o *Orchestrator) salvage(run *Run, sched *Scheduler, synth *Synthesizer, final RunState, tracker *Tracker, cause error) {
	settings := run.Settings

	if !settings.EnablePartialResults || final.TotalItems() == 0 {
		run.finish(StatusFailed, final, o.now())
		if o.metrics != nil {
			o.metrics.IncBudgetExhausted()
			o.metrics.IncRunFinished(string(StatusFailed))
		}
		sched.Emit(emit.TypeRunFailed, "", map[string]interface{}{
			"error_kind": string(errclass.Classify(cause)),
			"message":    "budget exhausted: " + cause.Error(),
		})
		return
	}

	final.Partial = true
	final.PartialReason = "budget_exhausted"
	o.emitPartialResults(sched, &final)

	if settings.IncludeSynthesis {
		res := synth.Synthesize(final)
		final.Answer = res.Answer
		final.AnswerType = res.AnswerType
		final.Citations = res.Citations
		final.CitationsMore = res.CitationsMore
		final.Quality = &res.Quality
		if res.Err != nil {
			final.Errors = append(final.Errors, *res.Err)
		}
	} else {
		final.AnswerType = AnswerPartial
	}

	o.persistCheckpoint(&final, tracker)
	run.finish(StatusPartial, final, o.now())
	if o.metrics != nil {
		o.metrics.IncRunFinished(string(StatusPartial))
	}

	sched.Emit(emit.TypeRunCompleted, "", runCompletedMeta(&final))
}

func runCompletedMeta(st *RunState) map[string]interface{} {
	meta := map[string]interface{}{
		"checkpoint_id": st.CheckpointID,
		"item_count":    st.TotalItems(),
		"answer_type":   string(st.AnswerType),
	}
	if st.Quality != nil {
		meta["quality_overall"] = st.Quality.Overall
	}
	return meta
}

// buildGraph assembles the run's graph: parse -> route -> fetches ->
// synthesize (or END when synthesis is disabled).
func (o *Orchestrator) buildGraph(sched *Scheduler, synth *Synthesizer, settings Settings) (*graph.Engine[RunState], error) {
	// Metrics are recorded by the scheduler wrapper, which sees classified
	// outcomes; the engine's own hook would only ever observe success.
	eng := graph.New(Reduce,
		graph.WithMaxSteps[RunState](maxRunSteps),
		graph.WithMaxParallel[RunState](o.cfg.MaxParallel),
		graph.WithParallelWhen[RunState](func(st RunState) bool {
			return st.Settings.ParallelExecution && !st.DangerZone
		}),
	)

	parse := sched.Wrap(NodeParse, func(ctx context.Context, st RunState) (RunState, graph.Next, error) {
		frame, err := o.parser.Parse(ctx, st.Query)
		if err != nil {
			return RunState{}, graph.Next{}, err
		}
		return RunState{Frame: frame}, graph.Next{}, nil
	})

	route := sched.Wrap(NodeRoute, func(_ context.Context, st RunState) (RunState, graph.Next, error) {
		successors := RouteFrame(st.Frame, st.Settings.Sources, st.DangerZone)
		delta := RunState{RoutingDecision: successors}
		if len(successors) == 1 {
			return delta, graph.Goto(successors[0]), nil
		}
		return delta, graph.FanOut(successors...), nil
	})

	synthNode := sched.Wrap(NodeSynthesize, func(_ context.Context, st RunState) (RunState, graph.Next, error) {
		res := synth.Synthesize(st)
		delta := RunState{
			Answer:        res.Answer,
			AnswerType:    res.AnswerType,
			Citations:     res.Citations,
			CitationsMore: res.CitationsMore,
			Quality:       &res.Quality,
		}
		if res.Err != nil {
			delta.Errors = append(delta.Errors, *res.Err)
		}
		return delta, graph.Stop(), nil
	})

	if err := eng.Register(NodeParse, parse); err != nil {
		return nil, err
	}
	if err := eng.Register(NodeRoute, route); err != nil {
		return nil, err
	}
	if err := eng.Register(NodeSynthesize, synthNode); err != nil {
		return nil, err
	}

	for source, fetcher := range o.fetchers {
		node := FetchNodeFor(source)
		if node == "" {
			return nil, fmt.Errorf("unknown fetch source %q", source)
		}
		f := fetcher
		src := source
		step := sched.Wrap(node, func(ctx context.Context, st RunState) (RunState, graph.Next, error) {
			ctx = WithProgress(ctx, func(percent int) {
				sched.Emit(emit.TypeNodeProgress, node, map[string]interface{}{
					"percent": percent,
				})
			})
			items, hit, err := f.Fetch(ctx, st)
			if err != nil {
				return RunState{}, graph.Next{}, err
			}
			return RunState{
				Results:   map[string][]Item{src: items},
				CacheHits: map[string]bool{node: hit},
			}, graph.Next{}, nil
		})
		if err := eng.Register(node, step); err != nil {
			return nil, err
		}

		if settings.IncludeSynthesis {
			if err := eng.Connect(node, NodeSynthesize, nil); err != nil {
				return nil, err
			}
		} else {
			if err := eng.Connect(node, graph.End, nil); err != nil {
				return nil, err
			}
		}
	}

	if err := eng.Connect(NodeParse, NodeRoute, nil); err != nil {
		return nil, err
	}
	if err := eng.StartAt(NodeParse); err != nil {
		return nil, err
	}
	return eng, nil
}

// plannedFetchNodes estimates the active fetch set for budget allocation:
// the requested sources when given, otherwise every wired source.
func (o *Orchestrator) plannedFetchNodes(settings Settings) []string {
	sources := settings.Sources
	if len(sources) == 0 {
		sources = make([]string, 0, len(o.fetchers))
		for src := range o.fetchers {
			sources = append(sources, src)
		}
	}
	nodes := make([]string, 0, len(sources))
	for _, src := range sources {
		if node := FetchNodeFor(src); node != "" {
			nodes = append(nodes, node)
		}
	}
	return nodes
}

// persistCheckpoint computes the deterministic id, stamps it on the state,
// and writes the run row plus metrics. Store failures are recorded on the
// run, never fatal.
func (o *Orchestrator) persistCheckpoint(st *RunState, tracker *Tracker) {
	if !st.Settings.CheckpointEnabled {
		return
	}

	intent := ""
	if st.Frame != nil {
		intent = string(st.Frame.Intent)
	}
	counts := make(map[string]int, len(st.Results))
	for src, items := range st.Results {
		counts[src] = len(items)
	}

	nowTS := o.now()
	st.CheckpointID = checkpoint.NewID(nowTS, st.Query, intent, counts)

	if o.store == nil {
		return
	}

	frameJSON, _ := json.Marshal(st.Frame)
	summary := map[string]interface{}{
		"answer_type":    st.AnswerType,
		"item_count":     st.TotalItems(),
		"sources":        st.AvailableSources(),
		"node_path":      st.NodePath,
		"quality":        st.Quality,
		"error_count":    len(st.Errors),
		"partial":        st.Partial,
		"partial_reason": st.PartialReason,
	}
	summaryJSON, _ := json.Marshal(summary)

	completed := nowTS.UTC()
	cp := checkpoint.Checkpoint{
		ID:          st.CheckpointID,
		Query:       st.Query,
		Frame:       frameJSON,
		Summary:     summaryJSON,
		CreatedAt:   nowTS.UTC(),
		CompletedAt: &completed,
		ErrorCount:  len(st.Errors),
		Partial:     st.Partial,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := o.store.Save(ctx, cp); err != nil {
		st.Errors = append(st.Errors, errclass.NewRecord("checkpoint", err, nowTS))
		return
	}

	latencies, _ := json.Marshal(st.NodeLatencyMS)
	metrics := checkpoint.Metrics{
		CheckpointID:   st.CheckpointID,
		Intent:         intent,
		TotalLatencyMS: tracker.Consumed().Milliseconds(),
		NodeLatencies:  latencies,
		CacheHitRate:   st.CacheHitRate(),
		ItemCount:      st.TotalItems(),
		Success:        !st.Partial,
		CreatedAt:      nowTS.UTC(),
	}
	if err := o.store.SaveMetrics(ctx, metrics); err != nil {
		st.Errors = append(st.Errors, errclass.NewRecord("checkpoint", err, nowTS))
	}
}

// sweeper periodically drops expired checkpoints and evicts terminal runs
// (with their event history) past the retention window.
func (o *Orchestrator) sweeper() {
	defer o.wg.Done()

	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-o.stop:
			return
		case <-ticker.C:
			now := o.now()

			if o.store != nil {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				_, _ = o.store.Sweep(ctx, now.Add(-o.cfg.CheckpointTTL))
				cancel()
			}

			o.mu.Lock()
			for id, run := range o.runs {
				if run.StatusNow().Terminal() && now.Sub(run.CompletedAtNow()) > runRetention {
					delete(o.runs, id)
					o.bus.Evict(id)
				}
			}
			o.mu.Unlock()
		}
	}
}

// Run is the orchestrator's handle for one submitted query.
type Run struct {
	ID        string
	Query     string
	Settings  Settings
	CreatedAt time.Time

	mu          sync.Mutex
	Status      RunStatus
	CompletedAt time.Time
	state       RunState
	cancel      context.CancelFunc
}

func (r *Run) setCancel(cancel context.CancelFunc) {
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()
}

func (r *Run) cancelRun() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (r *Run) setStatus(status RunStatus) {
	r.mu.Lock()
	if !r.Status.Terminal() {
		r.Status = status
	}
	r.mu.Unlock()
}

func (r *Run) finish(status RunStatus, state RunState, at time.Time) {
	r.mu.Lock()
	if !r.Status.Terminal() {
		r.Status = status
		r.CompletedAt = at.UTC()
	}
	r.state = state
	r.mu.Unlock()
}

// StatusNow returns the current status.
func (r *Run) StatusNow() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Status
}

// CompletedAtNow returns when the run reached a terminal status.
func (r *Run) CompletedAtNow() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.CompletedAt
}

// State returns a snapshot of the run's final (or latest) state.
func (r *Run) State() RunState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// View is the JSON-friendly snapshot served by the HTTP API.
type View struct {
	RunID       string     `json:"run_id"`
	Query       string     `json:"query"`
	Status      RunStatus  `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	State       RunState   `json:"state"`
}

// View snapshots the run for API responses.
func (r *Run) View() View {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := View{
		RunID:     r.ID,
		Query:     r.Query,
		Status:    r.Status,
		CreatedAt: r.CreatedAt,
		State:     r.state,
	}
	if !r.CompletedAt.IsZero() {
		t := r.CompletedAt
		v.CompletedAt = &t
	}
	return v
}
