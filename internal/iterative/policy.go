package iterative

import (
	"errors"
	"fmt"
)

// Validate checks the config and fills in the default scale.
func (c Config) Validate() (Config, error) {
	if c.MaxIterations < 1 {
		return c, fmt.Errorf("%w: MaxIterations must be >= 1, got %d", ErrInvalidConfig, c.MaxIterations)
	}
	if c.Scale.IsZero() {
		c.Scale = DefaultScale
	}
	if c.Scale.Min > c.Scale.Max {
		return c, fmt.Errorf("%w: scale min %d exceeds max %d", ErrInvalidConfig, c.Scale.Min, c.Scale.Max)
	}
	return c, nil
}

// EvaluatePolicy decides whether the run stops after an iteration.
// The target check comes first so that reaching the target on the last
// allowed iteration is reported as success rather than exhaustion.
func EvaluatePolicy(cfg Config, iteration int, score Score) (TerminationReason, bool) {
	if score.Aggregate() >= cfg.TargetScore {
		return ReasonTargetReached, true
	}
	if iteration >= cfg.MaxIterations {
		return ReasonBudgetExhausted, true
	}
	return "", false
}

// validateEvaluation rejects evaluations before they enter LoopState.
// Out-of-range values are errors, never clamped.
func validateEvaluation(eval *Evaluation, scale Scale) error {
	if eval == nil {
		return errors.New("critic returned no evaluation")
	}
	if len(eval.Score.Dimensions) == 0 {
		return errors.New("score has no dimensions")
	}
	seen := make(map[string]bool, len(eval.Score.Dimensions))
	for _, d := range eval.Score.Dimensions {
		if d.Name == "" {
			return errors.New("score dimension has empty name")
		}
		if seen[d.Name] {
			return fmt.Errorf("duplicate score dimension %q", d.Name)
		}
		seen[d.Name] = true
		if !scale.Contains(d.Value) {
			return fmt.Errorf("dimension %q value %d outside scale %s", d.Name, d.Value, scale)
		}
	}
	return nil
}
