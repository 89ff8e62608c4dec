package graph

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics provides Prometheus-compatible metrics for graph and
// scheduler execution, namespaced "bioquery":
//
//   - inflight_nodes (gauge): nodes currently executing across all runs
//   - node_latency_ms (histogram): node execution duration; labels node, status
//   - retries_total (counter): retry attempts; labels node, kind
//   - cache_hits_total (counter): fetch-node cache hits; label node
//   - budget_exhausted_total (counter): runs that hit budget exhaustion
//   - partial_runs_total (counter): runs completing on partial data
//   - runs_total (counter): finished runs; label status
//
// Besides the registry, the collector keeps lock-free shadow aggregates so the
// middleware-status endpoint can report averages and rates without scraping.
type PrometheusMetrics struct {
	inflightNodes   prometheus.Gauge
	nodeLatency     *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	cacheHits       *prometheus.CounterVec
	budgetExhausted prometheus.Counter
	partialRuns     prometheus.Counter
	runs            *prometheus.CounterVec

	// Shadow aggregates for the middleware-status surface.
	nodeExecs     atomic.Int64
	nodeLatencyMS atomic.Int64
	timeouts      atomic.Int64
	retryCount    atomic.Int64
	partials      atomic.Int64
	finishedRuns  atomic.Int64
}

// NewPrometheusMetrics creates and registers all execution metrics with the
// provided registry. Pass prometheus.DefaultRegisterer for the global
// registry, or a private registry for isolation in tests.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &PrometheusMetrics{
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "bioquery",
			Name:      "inflight_nodes",
			Help:      "Current number of nodes executing across all runs",
		}),
		nodeLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "bioquery",
			Name:      "node_latency_ms",
			Help:      "Node execution duration in milliseconds",
			Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 30000},
		}, []string{"node", "status"}), // status: success, error, timeout, skipped
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bioquery",
			Name:      "retries_total",
			Help:      "Cumulative retry attempts per node and error kind",
		}, []string{"node", "kind"}),
		cacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bioquery",
			Name:      "cache_hits_total",
			Help:      "Fetch-node cache hits",
		}, []string{"node"}),
		budgetExhausted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bioquery",
			Name:      "budget_exhausted_total",
			Help:      "Runs that exhausted their wall-clock budget",
		}),
		partialRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "bioquery",
			Name:      "partial_runs_total",
			Help:      "Runs that completed on partial source coverage",
		}),
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "bioquery",
			Name:      "runs_total",
			Help:      "Finished runs by terminal status",
		}, []string{"status"}), // status: completed, partial, failed
	}
}

// AddInflight adjusts the inflight-nodes gauge by delta.
func (pm *PrometheusMetrics) AddInflight(delta int) {
	pm.inflightNodes.Add(float64(delta))
}

// RecordNodeLatency records a node execution duration and outcome.
func (pm *PrometheusMetrics) RecordNodeLatency(node string, latency time.Duration, status string) {
	ms := latency.Milliseconds()
	pm.nodeLatency.WithLabelValues(node, status).Observe(float64(ms))
	pm.nodeExecs.Add(1)
	pm.nodeLatencyMS.Add(ms)
	if status == "timeout" {
		pm.timeouts.Add(1)
	}
}

// IncRetry counts one retry attempt for a node and error kind.
func (pm *PrometheusMetrics) IncRetry(node, kind string) {
	pm.retries.WithLabelValues(node, kind).Inc()
	pm.retryCount.Add(1)
}

// IncCacheHit counts one cache hit for a fetch node.
func (pm *PrometheusMetrics) IncCacheHit(node string) {
	pm.cacheHits.WithLabelValues(node).Inc()
}

// IncBudgetExhausted counts one budget-exhausted run.
func (pm *PrometheusMetrics) IncBudgetExhausted() {
	pm.budgetExhausted.Inc()
}

// IncRunFinished counts one finished run by terminal status.
func (pm *PrometheusMetrics) IncRunFinished(status string) {
	pm.runs.WithLabelValues(status).Inc()
	pm.finishedRuns.Add(1)
	if status == "partial" {
		pm.partialRuns.Inc()
		pm.partials.Add(1)
	}
}

// MiddlewareStats is the live aggregate snapshot served by the
// middleware-status endpoint.
type MiddlewareStats struct {
	AvgExecutionMS float64 `json:"avg_execution_ms"`
	TimeoutRate    float64 `json:"timeout_rate"`
	RetryRate      float64 `json:"retry_rate"`
	PartialRate    float64 `json:"partial_rate"`
}

// Stats returns the current middleware aggregates. Rates are fractions of
// node executions (timeout, retry) or finished runs (partial); all zero when
// nothing has executed yet.
func (pm *PrometheusMetrics) Stats() MiddlewareStats {
	var s MiddlewareStats
	if execs := pm.nodeExecs.Load(); execs > 0 {
		s.AvgExecutionMS = float64(pm.nodeLatencyMS.Load()) / float64(execs)
		s.TimeoutRate = float64(pm.timeouts.Load()) / float64(execs)
		s.RetryRate = float64(pm.retryCount.Load()) / float64(execs)
	}
	if runs := pm.finishedRuns.Load(); runs > 0 {
		s.PartialRate = float64(pm.partials.Load()) / float64(runs)
	}
	return s
}
