package iterative

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Scale is the closed range every sub-score must fall within.
type Scale struct {
	Min int `json:"min" yaml:"min"`
	Max int `json:"max" yaml:"max"`
}

// DefaultScale is used when a Config leaves Scale unset.
var DefaultScale = Scale{Min: 0, Max: 100}

// IsZero reports whether the scale was left unset.
func (s Scale) IsZero() bool {
	return s.Min == 0 && s.Max == 0
}

// Contains reports whether v lies within [Min, Max].
func (s Scale) Contains(v int) bool {
	return v >= s.Min && v <= s.Max
}

func (s Scale) String() string {
	return fmt.Sprintf("%d-%d", s.Min, s.Max)
}

// Dimension is a single named sub-score (e.g. "clarity").
type Dimension struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Score is a multi-dimensional quality score. The aggregate is never stored;
// it is derived from the dimensions on every call.
type Score struct {
	Dimensions []Dimension `json:"dimensions"`
}

// SingleScore builds the degenerate one-dimension score.
func SingleScore(value int) Score {
	return Score{Dimensions: []Dimension{{Name: "overall", Value: value}}}
}

// Aggregate is the unweighted mean of the dimensions, floored.
func (s Score) Aggregate() int {
	k := len(s.Dimensions)
	if k == 0 {
		return 0
	}
	sum := 0
	for _, d := range s.Dimensions {
		sum += d.Value
	}
	q := sum / k
	// Go truncates toward zero; floor for negative sums
	if sum%k != 0 && sum < 0 {
		q--
	}
	return q
}

// Value returns the named sub-score.
func (s Score) Value(name string) (int, bool) {
	for _, d := range s.Dimensions {
		if d.Name == name {
			return d.Value, true
		}
	}
	return 0, false
}

func (s Score) clone() Score {
	if s.Dimensions == nil {
		return Score{}
	}
	dims := make([]Dimension, len(s.Dimensions))
	copy(dims, s.Dimensions)
	return Score{Dimensions: dims}
}

// Feedback is the critic's structured critique. The controller never
// interprets it; it is handed back to the producer as revision context.
type Feedback struct {
	Assessment string   `json:"overall_assessment"`
	Strengths  []string `json:"strengths"`
	Issues     []string `json:"issues"`
}

func (f Feedback) clone() Feedback {
	out := Feedback{Assessment: f.Assessment}
	if f.Strengths != nil {
		out.Strengths = append([]string(nil), f.Strengths...)
	}
	if f.Issues != nil {
		out.Issues = append([]string(nil), f.Issues...)
	}
	return out
}

// Format renders feedback as the revision note handed to a writer.
func (f Feedback) Format(score Score, scale Scale) string {
	var sb strings.Builder
	sb.WriteString("Overall: ")
	sb.WriteString(f.Assessment)
	sb.WriteString(fmt.Sprintf("\nCurrent score: %d/%d", score.Aggregate(), scale.Max))
	writeList(&sb, "Strengths", f.Strengths)
	writeList(&sb, "Issues", f.Issues)
	return sb.String()
}

func writeList(sb *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	sb.WriteString("\n" + title + ":")
	for _, item := range items {
		sb.WriteString("\n- ")
		sb.WriteString(item)
	}
}

// Evaluation is what a Critic returns for one artifact.
type Evaluation struct {
	Score    Score
	Feedback Feedback
}

// IterationRecord is the snapshot of one completed round. Records are
// appended to LoopState.History and never modified afterwards.
type IterationRecord[T any] struct {
	// Iteration is 1-based
	Iteration int
	Score     Score
	Feedback  Feedback
	Artifact  T
}

// TerminationReason explains why a run stopped.
type TerminationReason string

const (
	ReasonTargetReached   TerminationReason = "target_reached"
	ReasonBudgetExhausted TerminationReason = "iteration_budget_exhausted"
	ReasonCancelled       TerminationReason = "cancelled"
	ReasonFailed          TerminationReason = "failed"
)

// Succeeded reports whether the run reached its target.
func (r TerminationReason) Succeeded() bool {
	return r == ReasonTargetReached
}

// Config holds the immutable per-run parameters.
type Config struct {
	// MaxIterations bounds the number of producer/critic passes. Must be >= 1.
	MaxIterations int

	// TargetScore stops the run once the aggregate meets or exceeds it.
	// A target above Scale.Max is legal and simply never reached.
	TargetScore int

	// Scale bounds every sub-score. Zero value means DefaultScale.
	Scale Scale
}

// ProduceRequest carries everything a Producer needs for one pass.
// Prior, Feedback and Score are nil on the first iteration ("write from
// scratch") and all set afterwards ("revise").
type ProduceRequest[T any] struct {
	Iteration int
	Brief     string
	Prior     *T
	Feedback  *Feedback
	Score     *Score
	Scale     Scale
}

// IsRevision reports whether the producer is asked to revise a prior artifact.
func (r ProduceRequest[T]) IsRevision() bool {
	return r.Prior != nil
}

// Producer generates or revises the artifact.
type Producer[T any] interface {
	Produce(ctx context.Context, req ProduceRequest[T]) (T, error)
}

// Critic scores and critiques an artifact.
type Critic[T any] interface {
	Critique(ctx context.Context, artifact T) (*Evaluation, error)
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc[T any] func(ctx context.Context, req ProduceRequest[T]) (T, error)

// Produce implements Producer
func (f ProducerFunc[T]) Produce(ctx context.Context, req ProduceRequest[T]) (T, error) {
	return f(ctx, req)
}

// CriticFunc adapts a function to the Critic interface.
type CriticFunc[T any] func(ctx context.Context, artifact T) (*Evaluation, error)

// Critique implements Critic
func (f CriticFunc[T]) Critique(ctx context.Context, artifact T) (*Evaluation, error) {
	return f(ctx, artifact)
}

// LoopState is the full record of one run. It is owned by the controller
// until Run returns and is never shared between runs.
type LoopState[T any] struct {
	RunID string

	// Artifact is the latest artifact that completed a full iteration
	Artifact T

	// Iteration is the current iteration counter (starts at 1)
	Iteration int

	// Score is the latest accepted score, nil before the first iteration completes
	Score *Score

	History []IterationRecord[T]

	// Reason is empty until the loop ends
	Reason TerminationReason

	// Err is set when Reason is ReasonFailed
	Err error

	StartedAt   time.Time
	ElapsedTime time.Duration
}

// Completed returns the number of fully completed iterations.
func (s *LoopState[T]) Completed() int {
	return len(s.History)
}

// Trend returns the aggregate score of every completed iteration in order.
func (s *LoopState[T]) Trend() []int {
	trend := make([]int, len(s.History))
	for i, rec := range s.History {
		trend[i] = rec.Score.Aggregate()
	}
	return trend
}

// FirstScore is the aggregate of the first iteration, or 0 if none completed.
func (s *LoopState[T]) FirstScore() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[0].Score.Aggregate()
}

// Delta is the change in aggregate score from the first to the last iteration.
func (s *LoopState[T]) Delta() int {
	if len(s.History) == 0 {
		return 0
	}
	return s.History[len(s.History)-1].Score.Aggregate() - s.History[0].Score.Aggregate()
}

// Latest returns a copy of the most recent record, if any iteration completed.
func (s *LoopState[T]) Latest() (IterationRecord[T], bool) {
	if len(s.History) == 0 {
		var zero IterationRecord[T]
		return zero, false
	}
	return s.History[len(s.History)-1].clone(), true
}
