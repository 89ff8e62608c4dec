package research

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/bioquery-go/errclass"
	"github.com/dshills/bioquery-go/graph"
	"github.com/dshills/bioquery-go/graph/emit"
)

// retryBase is the base delay for retry backoff.
const retryBase = 200 * time.Millisecond

// minRetrySlice is the least remaining budget worth spending on another
// attempt; a retry that cannot fit is suppressed and the last error surfaces.
const minRetrySlice = 50 * time.Millisecond

// StepFunc is the unwrapped body of a node: pure state to delta, plus an
// optional explicit route. Errors are returned, not folded into the delta;
// classification, retries, and fallbacks are the scheduler's job.
type StepFunc func(ctx context.Context, st RunState) (RunState, graph.Next, error)

// Scheduler wraps every node with the run's cross-cutting concerns: budget
// slicing and deadlines, panic trapping, error classification with
// policy-driven retries, event emission, and metrics. One Scheduler serves
// one run.
type Scheduler struct {
	runID    string
	settings Settings
	tracker  *Tracker
	emitter  emit.Emitter
	metrics  *graph.PrometheusMetrics
	now      func() time.Time
}

// NewScheduler builds the per-run scheduler. emitter and metrics may be nil;
// now may be nil for time.Now.
func NewScheduler(runID string, settings Settings, tracker *Tracker, emitter emit.Emitter, metrics *graph.PrometheusMetrics, now func() time.Time) *Scheduler {
	if emitter == nil {
		emitter = emit.NullEmitter{}
	}
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		runID:    runID,
		settings: settings,
		tracker:  tracker,
		emitter:  emitter,
		metrics:  metrics,
		now:      now,
	}
}

// Emit publishes an event on the run's stream.
func (s *Scheduler) Emit(eventType, node string, meta map[string]interface{}) {
	s.emitter.Emit(emit.New(eventType, s.runID, node, meta))
}

// Wrap turns a StepFunc into a graph node carrying the scheduler's
// middleware. The returned node never surfaces an error to the engine:
// failures become error records in the delta so the graph keeps progressing.
func (s *Scheduler) Wrap(name string, fn StepFunc) graph.Node[RunState] {
	return graph.NodeFunc[RunState](func(ctx context.Context, st RunState) graph.NodeResult[RunState] {
		nodeBudget := s.tracker.NodeBudget(name)
		if nodeBudget <= 0 {
			return s.skipExhausted(name)
		}

		if s.metrics != nil {
			s.metrics.AddInflight(1)
			defer s.metrics.AddInflight(-1)
		}

		s.Emit(emit.TypeNodeStarted, name, nil)
		start := s.now()

		delta, route, err := s.runWithRetries(ctx, name, fn, st, nodeBudget)
		latency := s.now().Sub(start)
		s.recordLatency(name, latency, err)

		if err != nil {
			kind := errclass.Classify(err)
			rec := errclass.NewRecord(name, err, s.now())
			s.Emit(emit.TypeNodeFailed, name, map[string]interface{}{
				"error_kind": string(kind),
				"message":    err.Error(),
			})
			delta = RunState{
				NodePath:      []string{name},
				NodeLatencyMS: map[string]int64{name: latency.Milliseconds()},
				Errors:        []errclass.Record{rec},
			}
			// Failed nodes contribute an error entry, never a result slot.
			// Declared edges still route onward so fallbacks cannot block
			// graph progress.
			route = graph.Next{}
		} else {
			delta.NodePath = append(delta.NodePath, name)
			if delta.NodeLatencyMS == nil {
				delta.NodeLatencyMS = make(map[string]int64, 1)
			}
			delta.NodeLatencyMS[name] = latency.Milliseconds()

			meta := map[string]interface{}{"latency_ms": latency.Milliseconds()}
			if src := NodeSource(name); src != "" {
				meta["item_count"] = len(delta.Results[src])
				meta["cache_hit"] = delta.CacheHits[name]
				if delta.CacheHits[name] && s.metrics != nil {
					s.metrics.IncCacheHit(name)
				}
			}
			s.Emit(emit.TypeNodeCompleted, name, meta)
		}

		s.fold(&delta)
		snap := delta.Budget
		s.Emit(emit.TypeBudgetUpdate, name, map[string]interface{}{
			"consumed_ms":  snap.ConsumedMS,
			"remaining_ms": snap.RemainingMS,
			"danger_zone":  delta.DangerZone,
		})

		return graph.NodeResult[RunState]{Delta: delta, Route: route}
	})
}

// recordLatency feeds the latency histogram with the classified outcome. The
// scheduler records here, not the engine, because wrapped nodes fold failures
// into the delta and the engine would only ever see success.
func (s *Scheduler) recordLatency(name string, latency time.Duration, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
		if errclass.Classify(err) == errclass.KindTimeout {
			status = "timeout"
		}
	}
	s.metrics.RecordNodeLatency(name, latency, status)
}

// runWithRetries executes fn under a per-attempt deadline, retrying per the
// classified error's policy. Retries respect the remaining run budget; the
// Timeout kind grows its deadline by the policy's scale factor each attempt.
func (s *Scheduler) runWithRetries(ctx context.Context, name string, fn StepFunc, st RunState, budget time.Duration) (RunState, graph.Next, error) {
	timeout := budget
	attempt := 0
	var lastErr error

	for {
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		delta, route, err := s.runProtected(attemptCtx, fn, st)
		cancel()
		if err == nil {
			return delta, route, nil
		}
		lastErr = err

		// The run itself is over; retrying cannot help.
		if ctx.Err() != nil {
			return RunState{}, graph.Next{}, lastErr
		}

		kind := errclass.Classify(err)
		policy := errclass.PolicyFor(kind)
		if !policy.Retryable || attempt >= policy.MaxRetries {
			return RunState{}, graph.Next{}, lastErr
		}

		strategy := policy.Strategy
		if strategy != errclass.StrategyNone && s.settings.RetryStrategy != "" {
			strategy = errclass.Strategy(s.settings.RetryStrategy)
		}
		delay := errclass.Delay(strategy, attempt, retryBase, nil)

		if policy.TimeoutScale > 1 {
			timeout = time.Duration(float64(timeout) * policy.TimeoutScale)
		}
		if rem := s.tracker.Remaining(); delay+minRetrySlice > rem {
			return RunState{}, graph.Next{}, lastErr
		}

		attempt++
		s.Emit(emit.TypeRetryAttempt, name, map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": policy.MaxRetries,
			"delay_ms":     delay.Milliseconds(),
			"error_kind":   string(kind),
		})
		if s.metrics != nil {
			s.metrics.IncRetry(name, string(kind))
		}

		if delay > 0 {
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return RunState{}, graph.Next{}, lastErr
			}
		}
	}
}

// runProtected invokes fn, converting panics into errors so they classify
// as Unknown at the scheduler boundary.
func (s *Scheduler) runProtected(ctx context.Context, fn StepFunc, st RunState) (delta RunState, route graph.Next, err error) {
	defer func() {
		if r := recover(); r != nil {
			delta = RunState{}
			route = graph.Next{}
			err = fmt.Errorf("node panic: %v", r)
		}
	}()
	return fn(ctx, st)
}

// skipExhausted records a skipped node when its budget slice is already gone.
func (s *Scheduler) skipExhausted(name string) graph.NodeResult[RunState] {
	err := fmt.Errorf("node %s skipped: budget exhausted, deadline exceeded before start", name)
	rec := errclass.NewRecord(name, err, s.now())
	if s.metrics != nil {
		s.metrics.IncBudgetExhausted()
		s.metrics.RecordNodeLatency(name, 0, "skipped")
	}
	s.Emit(emit.TypeNodeFailed, name, map[string]interface{}{
		"error_kind": string(rec.Kind),
		"message":    err.Error(),
	})

	delta := RunState{
		NodePath: []string{name},
		Errors:   []errclass.Record{rec},
	}
	s.fold(&delta)
	return graph.NodeResult[RunState]{Delta: delta}
}

// fold stamps the current budget view and danger-zone flag onto a delta.
func (s *Scheduler) fold(delta *RunState) {
	delta.Budget = s.tracker.Snapshot()
	delta.DangerZone = s.tracker.DangerZone()
}
