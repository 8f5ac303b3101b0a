// Package iterative provides a bounded producer/critic refinement loop.
//
// # Overview
//
// A Producer writes an artifact (or revises the previous one using the
// latest critique), a Critic scores and critiques it, and the Controller
// decides whether to stop. The loop owns the mechanics (iteration counter,
// budget, cancellation, history, metrics); the stages own all judgment.
//
// # Core Types
//
// Config holds MaxIterations, TargetScore and the Scale every sub-score
// must fall within.
//
// Score is a set of named Dimensions. Its aggregate is always derived from
// the dimensions (floor of the unweighted mean) and cannot be supplied by a
// stage. A single scalar score is a Score with one dimension.
//
// IterationRecord is the immutable snapshot of one round. LoopState collects
// the records in chronological order together with the termination reason.
//
// # Termination
//
// After every critique the policy is evaluated in this order:
//
//  1. aggregate >= TargetScore: ReasonTargetReached
//  2. iteration >= MaxIterations: ReasonBudgetExhausted
//  3. otherwise continue
//
// The context is checked before every producer call. A cancelled context
// ends the run with ReasonCancelled and the history gathered so far.
//
// # Error Handling
//
//   - Producer errors become *GenerationError and abort the run
//   - Critic errors and out-of-range, empty or duplicate dimensions become
//     *EvaluationError and abort the run; values are never clamped
//   - An iteration that fails leaves no record behind
//   - Nothing is retried here; retries belong to the stage implementations
//
// # Usage Example
//
//	ctrl := &iterative.Controller[string]{
//	    Producer:  writer,
//	    Critic:    editor,
//	    Collector: iterative.NewInMemoryMetricsCollector(),
//	    Observer: func(rec iterative.IterationRecord[string]) {
//	        fmt.Printf("iteration %d: %d\n", rec.Iteration, rec.Score.Aggregate())
//	    },
//	    Kind: "blog_post",
//	}
//	state, err := ctrl.Run(ctx, iterative.Config{MaxIterations: 10, TargetScore: 80}, topic)
//
// # Metrics
//
// MetricsCollector receives per-iteration and per-run metrics. The
// in-memory collector computes aggregate statistics (success rate, mean and
// percentile iterations, mean improvement); PrometheusCollector exports the
// same activity for scraping. Both are safe for concurrent runs.
package iterative
