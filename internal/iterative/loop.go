package iterative

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Controller runs the refinement loop for one kind of artifact. A Controller
// holds no per-run state, so one value may serve many concurrent runs as long
// as its Producer, Critic and Collector are themselves safe for that.
type Controller[T any] struct {
	Producer Producer[T]
	Critic   Critic[T]

	// Collector receives iteration and run metrics (optional)
	Collector MetricsCollector

	// Observer is called once for every appended iteration record (optional)
	Observer func(IterationRecord[T])

	// Kind labels runs in metrics (e.g. "blog_post")
	Kind string
}

// Refine runs a single refinement loop with the given stages. It is shorthand
// for building a Controller and calling Run.
func Refine[T any](ctx context.Context, cfg Config, brief string, producer Producer[T], critic Critic[T], collector MetricsCollector) (*LoopState[T], error) {
	c := &Controller[T]{
		Producer:  producer,
		Critic:    critic,
		Collector: collector,
	}
	return c.Run(ctx, cfg, brief)
}

// Run refines an artifact until the target score is reached, the iteration
// budget is exhausted, the context is cancelled, or a stage fails.
//
// Each iteration calls the producer, then the critic, validates the
// evaluation and appends one IterationRecord. Either a full record is
// appended or none is. Stages are never called concurrently and no stage is
// retried here.
//
// Return values:
//   - invalid config: nil state and an error wrapping ErrInvalidConfig
//   - stage failure: the partial state (Reason=ReasonFailed) and the same
//     *GenerationError or *EvaluationError that is stored in state.Err
//   - otherwise the final state and a nil error, including cancellation
func (c *Controller[T]) Run(ctx context.Context, cfg Config, brief string) (*LoopState[T], error) {
	if c.Producer == nil || c.Critic == nil {
		return nil, fmt.Errorf("%w: producer and critic are required", ErrInvalidConfig)
	}
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}

	state := &LoopState[T]{
		RunID:     uuid.NewString(),
		Iteration: 1,
		StartedAt: time.Now(),
	}

	for {
		// Cancellation is observed between stages; in-flight stage calls are
		// always awaited.
		if ctx.Err() != nil {
			return c.finish(state, cfg, ReasonCancelled, nil), nil
		}

		if c.Collector != nil {
			c.Collector.RecordIterationStart(state.RunID, state.Iteration)
		}

		req := ProduceRequest[T]{
			Iteration: state.Iteration,
			Brief:     brief,
			Scale:     cfg.Scale,
		}
		if last, ok := state.Latest(); ok {
			prior := state.Artifact
			req.Prior = &prior
			req.Feedback = &last.Feedback
			req.Score = &last.Score
		}

		produceStart := time.Now()
		artifact, err := c.Producer.Produce(ctx, req)
		produceDuration := time.Since(produceStart)
		if err != nil {
			if ctx.Err() != nil {
				return c.finish(state, cfg, ReasonCancelled, nil), nil
			}
			genErr := &GenerationError{Iteration: state.Iteration, Err: err}
			var existing *GenerationError
			if errors.As(err, &existing) {
				genErr = existing
			}
			return c.finish(state, cfg, ReasonFailed, genErr), genErr
		}
		// A draft with no critique yet is discarded
		if ctx.Err() != nil {
			return c.finish(state, cfg, ReasonCancelled, nil), nil
		}

		critiqueStart := time.Now()
		eval, err := c.Critic.Critique(ctx, artifact)
		critiqueDuration := time.Since(critiqueStart)
		if err == nil {
			err = validateEvaluation(eval, cfg.Scale)
		} else if ctx.Err() != nil {
			return c.finish(state, cfg, ReasonCancelled, nil), nil
		}
		if err != nil {
			evalErr := &EvaluationError{Iteration: state.Iteration, Err: err}
			var existing *EvaluationError
			if errors.As(err, &existing) {
				evalErr = existing
			}
			return c.finish(state, cfg, ReasonFailed, evalErr), evalErr
		}

		record := IterationRecord[T]{
			Iteration: state.Iteration,
			Score:     eval.Score.clone(),
			Feedback:  eval.Feedback.clone(),
			Artifact:  artifact,
		}
		state.History = append(state.History, record)
		state.Artifact = artifact
		latest := record.Score.clone()
		state.Score = &latest

		if c.Collector != nil {
			c.Collector.RecordIterationEnd(state.RunID, &IterationMetrics{
				Iteration:        state.Iteration,
				Aggregate:        latest.Aggregate(),
				IssueCount:       len(record.Feedback.Issues),
				ProduceDuration:  produceDuration,
				CritiqueDuration: critiqueDuration,
			})
		}
		if c.Observer != nil {
			c.Observer(record.clone())
		}

		if reason, stop := EvaluatePolicy(cfg, state.Iteration, latest); stop {
			return c.finish(state, cfg, reason, nil), nil
		}
		state.Iteration++
	}
}

// finish stamps the terminal fields and reports the run to the collector.
func (c *Controller[T]) finish(state *LoopState[T], cfg Config, reason TerminationReason, err error) *LoopState[T] {
	state.Reason = reason
	state.Err = err
	state.ElapsedTime = time.Since(state.StartedAt)

	if c.Collector != nil {
		metrics := &RunMetrics{
			RunID:           state.RunID,
			Kind:            c.Kind,
			Reason:          reason,
			TotalIterations: state.Completed(),
			TargetScore:     cfg.TargetScore,
			TotalDuration:   state.ElapsedTime,
		}
		if len(state.History) > 0 {
			metrics.FirstScore = state.History[0].Score.Aggregate()
			metrics.FinalScore = state.Score.Aggregate()
		}
		c.Collector.RecordRunComplete(metrics)
	}
	return state
}

func (r IterationRecord[T]) clone() IterationRecord[T] {
	return IterationRecord[T]{
		Iteration: r.Iteration,
		Score:     r.Score.clone(),
		Feedback:  r.Feedback.clone(),
		Artifact:  r.Artifact,
	}
}
