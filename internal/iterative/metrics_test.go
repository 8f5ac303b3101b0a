package iterative

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryMetricsCollector_BasicCollection(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	collector.RecordIterationStart("run-1", 1)
	collector.RecordIterationEnd("run-1", &IterationMetrics{
		Iteration:        1,
		Aggregate:        60,
		IssueCount:       3,
		ProduceDuration:  100 * time.Millisecond,
		CritiqueDuration: 50 * time.Millisecond,
	})
	collector.RecordIterationStart("run-1", 2)
	collector.RecordIterationEnd("run-1", &IterationMetrics{
		Iteration:        2,
		Aggregate:        85,
		IssueCount:       1,
		ProduceDuration:  90 * time.Millisecond,
		CritiqueDuration: 40 * time.Millisecond,
	})
	collector.RecordRunComplete(&RunMetrics{
		RunID:           "run-1",
		Kind:            "blog_post",
		Reason:          ReasonTargetReached,
		TotalIterations: 2,
		TargetScore:     80,
		FirstScore:      60,
		FinalScore:      85,
		TotalDuration:   280 * time.Millisecond,
	})

	runs := collector.Runs()
	require.Len(t, runs, 1)
	run := runs[0]
	require.Len(t, run.Iterations, 2)
	assert.Equal(t, 150*time.Millisecond, run.Iterations[0].Duration())
	assert.Equal(t, 25, run.Improvement())
}

func TestInMemoryMetricsCollector_AggregateStatistics(t *testing.T) {
	collector := NewInMemoryMetricsCollector()

	complete := func(id, kind string, reason TerminationReason, iterations, first, final int) {
		collector.RecordRunComplete(&RunMetrics{
			RunID:           id,
			Kind:            kind,
			Reason:          reason,
			TotalIterations: iterations,
			FirstScore:      first,
			FinalScore:      final,
			TotalDuration:   time.Second,
		})
	}

	complete("a", "blog_post", ReasonTargetReached, 2, 60, 85)
	complete("b", "blog_post", ReasonTargetReached, 4, 50, 90)
	complete("c", "blog_post", ReasonBudgetExhausted, 10, 40, 70)
	complete("d", "summary", ReasonFailed, 0, 0, 0)
	complete("e", "", ReasonCancelled, 1, 30, 30)

	agg := collector.GetAggregateMetrics()

	assert.Equal(t, 5, agg.TotalRuns)
	assert.Equal(t, 2, agg.TargetReached)
	assert.Equal(t, 1, agg.BudgetExhausted)
	assert.Equal(t, 1, agg.Failed)
	assert.Equal(t, 1, agg.Cancelled)
	assert.Equal(t, 17, agg.TotalIterations)
	assert.InDelta(t, 3.4, agg.MeanIterations, 0.001)
	assert.InDelta(t, 40.0, agg.SuccessRate(), 0.001)
	// (25 + 40 + 30 + 0 + 0) / 5
	assert.InDelta(t, 19.0, agg.MeanImprovement, 0.001)
	assert.Equal(t, 5*time.Second, agg.TotalDuration)

	// Percentiles only consider runs that reached their target: [2, 4]
	assert.Equal(t, 4, agg.P50Iterations)
	assert.Equal(t, 4, agg.P95Iterations)

	blog := agg.ByKind["blog_post"]
	require.NotNil(t, blog)
	assert.Equal(t, 3, blog.Count)
	assert.Equal(t, 2, blog.TargetReached)
	assert.InDelta(t, 16.0/3.0, blog.MeanIterations, 0.001)
	assert.NotNil(t, agg.ByKind["summary"])
	assert.NotNil(t, agg.ByKind["unknown"], "empty kind should be bucketed as unknown")
}

func TestInMemoryMetricsCollector_Empty(t *testing.T) {
	agg := NewInMemoryMetricsCollector().GetAggregateMetrics()
	assert.Equal(t, 0, agg.TotalRuns)
	assert.Equal(t, 0.0, agg.SuccessRate())
	assert.NotNil(t, agg.ByKind)
}

func TestInMemoryMetricsCollector_FromController(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	ctrl := &Controller[string]{
		Producer:  &mockProducer{},
		Critic:    &scriptedCritic{scores: []int{40, 70, 90}},
		Collector: collector,
		Kind:      "blog_post",
	}

	state, err := ctrl.Run(context.Background(), Config{MaxIterations: 5, TargetScore: 80}, "topic")
	require.NoError(t, err)

	runs := collector.Runs()
	require.Len(t, runs, 1)
	run := runs[0]
	assert.Equal(t, state.RunID, run.RunID)
	assert.Equal(t, "blog_post", run.Kind)
	assert.Equal(t, ReasonTargetReached, run.Reason)
	assert.Equal(t, 3, run.TotalIterations)
	assert.Equal(t, 40, run.FirstScore)
	assert.Equal(t, 90, run.FinalScore)
	assert.Equal(t, 80, run.TargetScore)
	require.Len(t, run.Iterations, 3)
	for i, it := range run.Iterations {
		assert.Equal(t, i+1, it.Iteration)
		assert.Equal(t, 1, it.IssueCount)
	}
}

func TestInMemoryMetricsCollector_FailedRunReported(t *testing.T) {
	collector := NewInMemoryMetricsCollector()
	critic := &scriptedCritic{scores: []int{1}}
	critic.critiqueErr = assert.AnError

	_, err := Refine[string](context.Background(), Config{MaxIterations: 3, TargetScore: 80}, "topic", &mockProducer{}, critic, collector)
	require.Error(t, err)

	runs := collector.Runs()
	require.Len(t, runs, 1)
	assert.Equal(t, ReasonFailed, runs[0].Reason)
	assert.Equal(t, 0, runs[0].TotalIterations)
	assert.Empty(t, runs[0].Iterations)
}

func TestPrometheusCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg, "blog_post")
	require.NoError(t, err)

	ctrl := &Controller[string]{
		Producer:  &mockProducer{},
		Critic:    &scriptedCritic{scores: []int{50, 60}},
		Collector: collector,
	}
	_, err = ctrl.Run(context.Background(), Config{MaxIterations: 2, TargetScore: 80}, "topic")
	require.NoError(t, err)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.iterations.WithLabelValues("blog_post")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runs.WithLabelValues("blog_post", string(ReasonBudgetExhausted))))
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.runsActive.WithLabelValues("blog_post")))
}

func TestPrometheusCollector_CancelledRunReleasesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewPrometheusCollector(reg, "blog_post")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	producer := &mockProducer{
		produceFunc: func(ctx context.Context, req ProduceRequest[string]) (string, error) {
			cancel()
			return "", ctx.Err()
		},
	}

	state, err := Refine[string](ctx, Config{MaxIterations: 3, TargetScore: 80}, "topic", producer, &scriptedCritic{scores: []int{1}}, collector)
	require.NoError(t, err)
	assert.Equal(t, ReasonCancelled, state.Reason)
	assert.Equal(t, 0.0, testutil.ToFloat64(collector.runsActive.WithLabelValues("blog_post")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.runs.WithLabelValues("blog_post", string(ReasonCancelled))))
}

func TestPrometheusCollector_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewPrometheusCollector(reg, "blog_post")
	require.NoError(t, err)
	second, err := NewPrometheusCollector(reg, "summary")
	require.NoError(t, err)

	first.RecordIterationEnd("a", &IterationMetrics{Iteration: 1, Aggregate: 50})
	second.RecordIterationEnd("b", &IterationMetrics{Iteration: 1, Aggregate: 70})

	// Both collectors write into the same registered vectors
	assert.Equal(t, 1.0, testutil.ToFloat64(first.iterations.WithLabelValues("summary")))
	assert.Equal(t, 2, testutil.CollectAndCount(second.iterations))
}

func TestMultiCollector(t *testing.T) {
	a := NewInMemoryMetricsCollector()
	b := NewInMemoryMetricsCollector()

	_, err := Refine[string](context.Background(), Config{MaxIterations: 1, TargetScore: 10}, "topic", &mockProducer{}, &scriptedCritic{scores: []int{20}}, MultiCollector{a, b})
	require.NoError(t, err)

	assert.Len(t, a.Runs(), 1)
	assert.Len(t, b.Runs(), 1)
	assert.Equal(t, a.Runs()[0].RunID, b.Runs()[0].RunID)
}
