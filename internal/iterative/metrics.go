package iterative

import (
	"sort"
	"sync"
	"time"
)

// MetricsCollector provides instrumentation for refinement runs.
// Implementations must be safe for concurrent use: several runs may share
// one collector. Pass nil to the controller to disable collection.
type MetricsCollector interface {
	// RecordIterationStart is called before the producer is invoked
	RecordIterationStart(runID string, iteration int)

	// RecordIterationEnd is called once an iteration record has been appended
	RecordIterationEnd(runID string, metrics *IterationMetrics)

	// RecordRunComplete is called exactly once when a run terminates
	RecordRunComplete(metrics *RunMetrics)
}

// IterationMetrics captures one completed iteration.
type IterationMetrics struct {
	// Iteration is the iteration number (1-based)
	Iteration int

	// Aggregate is the aggregate score accepted for this iteration
	Aggregate int

	// IssueCount is the number of issues the critic raised
	IssueCount int

	ProduceDuration  time.Duration
	CritiqueDuration time.Duration
}

// Duration is the total time spent on this iteration.
func (m *IterationMetrics) Duration() time.Duration {
	return m.ProduceDuration + m.CritiqueDuration
}

// RunMetrics captures a whole run.
type RunMetrics struct {
	RunID string

	// Kind identifies what was refined (e.g. "blog_post")
	Kind string

	Reason          TerminationReason
	TotalIterations int
	TargetScore     int

	// FirstScore and FinalScore are aggregates; zero when no iteration completed
	FirstScore int
	FinalScore int

	TotalDuration time.Duration

	// Iterations contains the per-iteration metrics
	Iterations []*IterationMetrics
}

// Improvement is the first-to-final aggregate delta.
func (m *RunMetrics) Improvement() int {
	if m.TotalIterations == 0 {
		return 0
	}
	return m.FinalScore - m.FirstScore
}

// AggregateMetrics provides rolled-up statistics across runs.
type AggregateMetrics struct {
	TotalRuns       int
	TargetReached   int
	BudgetExhausted int
	Cancelled       int
	Failed          int

	TotalIterations int
	MeanIterations  float64

	// P50Iterations and P95Iterations are computed over runs that reached the target
	P50Iterations int
	P95Iterations int

	MeanImprovement float64
	TotalDuration   time.Duration

	// ByKind breaks down metrics by artifact kind
	ByKind map[string]*KindMetrics
}

// SuccessRate is the percentage of runs that reached their target.
func (a *AggregateMetrics) SuccessRate() float64 {
	if a.TotalRuns == 0 {
		return 0
	}
	return float64(a.TargetReached) / float64(a.TotalRuns) * 100
}

// KindMetrics provides aggregate statistics for one artifact kind.
type KindMetrics struct {
	Count           int
	TargetReached   int
	MeanIterations  float64
	MeanImprovement float64
}

// InMemoryMetricsCollector stores all metrics in memory for analysis and testing.
type InMemoryMetricsCollector struct {
	mu sync.Mutex

	runs []*RunMetrics

	// pending holds iterations of runs still in progress, keyed by run ID
	pending map[string][]*IterationMetrics
}

// NewInMemoryMetricsCollector creates a new in-memory metrics collector
func NewInMemoryMetricsCollector() *InMemoryMetricsCollector {
	return &InMemoryMetricsCollector{
		pending: make(map[string][]*IterationMetrics),
	}
}

// RecordIterationStart implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationStart(runID string, iteration int) {
	// Nothing to do - we record metrics at iteration end
}

// RecordIterationEnd implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordIterationEnd(runID string, metrics *IterationMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending[runID] = append(m.pending[runID], metrics)
}

// RecordRunComplete implements MetricsCollector
func (m *InMemoryMetricsCollector) RecordRunComplete(metrics *RunMetrics) {
	if metrics == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	metrics.Iterations = m.pending[metrics.RunID]
	delete(m.pending, metrics.RunID)
	m.runs = append(m.runs, metrics)
}

// Runs returns all completed run metrics
func (m *InMemoryMetricsCollector) Runs() []*RunMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*RunMetrics, len(m.runs))
	copy(out, m.runs)
	return out
}

// GetAggregateMetrics returns rolled-up statistics across all completed runs
func (m *InMemoryMetricsCollector) GetAggregateMetrics() *AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	agg := &AggregateMetrics{
		ByKind: make(map[string]*KindMetrics),
	}
	if len(m.runs) == 0 {
		return agg
	}

	var reachedCounts []int
	improvementSum := 0
	for _, run := range m.runs {
		agg.TotalRuns++
		agg.TotalIterations += run.TotalIterations
		agg.TotalDuration += run.TotalDuration
		improvementSum += run.Improvement()

		switch run.Reason {
		case ReasonTargetReached:
			agg.TargetReached++
			reachedCounts = append(reachedCounts, run.TotalIterations)
		case ReasonBudgetExhausted:
			agg.BudgetExhausted++
		case ReasonCancelled:
			agg.Cancelled++
		case ReasonFailed:
			agg.Failed++
		}

		updateKindMetrics(agg.ByKind, run)
	}

	agg.MeanIterations = float64(agg.TotalIterations) / float64(agg.TotalRuns)
	agg.MeanImprovement = float64(improvementSum) / float64(agg.TotalRuns)

	if len(reachedCounts) > 0 {
		sort.Ints(reachedCounts)
		agg.P50Iterations = percentile(reachedCounts, 50)
		agg.P95Iterations = percentile(reachedCounts, 95)
	}

	return agg
}

// updateKindMetrics folds one run into its kind bucket using incremental means
func updateKindMetrics(byKind map[string]*KindMetrics, run *RunMetrics) {
	kind := run.Kind
	if kind == "" {
		kind = "unknown"
	}
	km := byKind[kind]
	if km == nil {
		km = &KindMetrics{}
		byKind[kind] = km
	}

	km.Count++
	if run.Reason == ReasonTargetReached {
		km.TargetReached++
	}
	n := float64(km.Count)
	km.MeanIterations += (float64(run.TotalIterations) - km.MeanIterations) / n
	km.MeanImprovement += (float64(run.Improvement()) - km.MeanImprovement) / n
}

// percentile calculates the Nth percentile from a sorted slice
func percentile(sorted []int, p int) int {
	if len(sorted) == 0 {
		return 0
	}
	index := (len(sorted) * p) / 100
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
