package iterative

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when a Config is rejected before the loop starts.
var ErrInvalidConfig = errors.New("invalid refinement config")

// GenerationError reports that the producer failed to deliver an artifact.
type GenerationError struct {
	Iteration int
	Err       error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// EvaluationError reports that the critic failed or returned an evaluation
// that could not be accepted (e.g. a sub-score outside the scale).
type EvaluationError struct {
	Iteration int
	Err       error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }

// IsGenerationError reports whether err wraps a GenerationError.
func IsGenerationError(err error) bool {
	var genErr *GenerationError
	return errors.As(err, &genErr)
}

// IsEvaluationError reports whether err wraps an EvaluationError.
func IsEvaluationError(err error) bool {
	var evalErr *EvaluationError
	return errors.As(err, &evalErr)
}
