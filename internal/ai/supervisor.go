package ai

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

const (
	// ModelSonnet is the default model for writing and editing
	ModelSonnet = "claude-sonnet-4-5-20250929"

	// ModelHaiku is the cost-efficient model, useful for quick experiments
	ModelHaiku = "claude-3-5-haiku-20241022"
)

// GetDefaultModel returns the default model, checking REFINE_MODEL env var first
func GetDefaultModel() string {
	if model := os.Getenv("REFINE_MODEL"); model != "" {
		return model
	}
	return ModelSonnet
}

// Supervisor wraps the Anthropic client with retries, a circuit breaker,
// a concurrency cap and request pacing. The writer and editor stages share
// one Supervisor so that all their calls count against the same limits.
//
// The Supervisor's responsibilities are distributed across multiple files:
//   - supervisor.go: Core struct, constructor and CallAI (this file)
//   - retry.go: Circuit breaker and retry logic
//   - json_parser.go: Resilient parsing of model JSON output
//   - writer.go / editor.go: the producer and critic stages
type Supervisor struct {
	client         *anthropic.Client
	model          string
	temperature    float64
	maxTokens      int
	retry          RetryConfig
	circuitBreaker *CircuitBreaker
	concurrencySem *semaphore.Weighted
	limiter        *rate.Limiter

	inputTokens  atomic.Int64
	outputTokens atomic.Int64
}

// Config holds supervisor configuration
type Config struct {
	APIKey      string  // Anthropic API key (if empty, reads from ANTHROPIC_API_KEY env var)
	Model       string  // Model to use (default: GetDefaultModel())
	Temperature float64 // Sampling temperature
	MaxTokens   int     // Default max tokens per call (default: 4096)
	Retry       RetryConfig

	// RequestsPerMinute paces API calls (0 = unlimited)
	RequestsPerMinute int

	// Options are passed to the Anthropic client (e.g. option.WithBaseURL in tests)
	Options []option.RequestOption
}

// Usage reports token usage for one call.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// NewSupervisor creates a new AI supervisor
func NewSupervisor(cfg *Config) (*Supervisor, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
		if apiKey == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
	}

	model := cfg.Model
	if model == "" {
		model = GetDefaultModel()
	}

	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	// Use default retry config if not specified
	retry := cfg.Retry
	if retry.MaxRetries == 0 && retry.InitialBackoff == 0 {
		retry = DefaultRetryConfig()
	}
	if retry.Timeout == 0 {
		retry.Timeout = DefaultRetryConfig().Timeout
	}

	opts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, cfg.Options...)
	client := anthropic.NewClient(opts...)

	var circuitBreaker *CircuitBreaker
	if retry.CircuitBreakerEnabled {
		circuitBreaker = NewCircuitBreaker(
			retry.FailureThreshold,
			retry.SuccessThreshold,
			retry.OpenTimeout,
		)
		slog.Debug("Circuit breaker initialized",
			"failureThreshold", retry.FailureThreshold,
			"successThreshold", retry.SuccessThreshold,
			"openTimeout", retry.OpenTimeout)
	}

	var concurrencySem *semaphore.Weighted
	if retry.MaxConcurrentCalls > 0 {
		concurrencySem = semaphore.NewWeighted(int64(retry.MaxConcurrentCalls))
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Supervisor{
		client:         &client,
		model:          model,
		temperature:    cfg.Temperature,
		maxTokens:      maxTokens,
		retry:          retry,
		circuitBreaker: circuitBreaker,
		concurrencySem: concurrencySem,
		limiter:        limiter,
	}, nil
}

// Model returns the model used for calls.
func (s *Supervisor) Model() string {
	return s.model
}

// TotalUsage returns the tokens consumed by every call made so far.
func (s *Supervisor) TotalUsage() Usage {
	return Usage{
		InputTokens:  s.inputTokens.Load(),
		OutputTokens: s.outputTokens.Load(),
	}
}

// HealthCheck performs a pre-flight check of the supervisor's health
// Returns an error if the circuit breaker is open
func (s *Supervisor) HealthCheck(ctx context.Context) error {
	if s.circuitBreaker != nil {
		state, failures, _ := s.circuitBreaker.GetMetrics()
		if state == CircuitOpen {
			return fmt.Errorf("AI supervisor unavailable: %w (failures=%d, retry in %v)",
				ErrCircuitOpen, failures, s.retry.OpenTimeout)
		}
	}
	return nil
}

// CallAI sends one user prompt (with an optional system prompt) and returns
// the concatenated text blocks of the reply. An empty reply is an error.
func (s *Supervisor) CallAI(ctx context.Context, operation, system, prompt string, maxTokens int) (string, Usage, error) {
	startTime := time.Now()

	if maxTokens == 0 {
		maxTokens = s.maxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if s.temperature > 0 {
		params.Temperature = anthropic.Float(s.temperature)
	}

	var response *anthropic.Message
	err := s.retryWithBackoff(ctx, operation, func(attemptCtx context.Context) error {
		resp, apiErr := s.client.Messages.New(attemptCtx, params)
		if apiErr != nil {
			return apiErr
		}
		response = resp
		return nil
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("anthropic API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	usage := Usage{
		InputTokens:  response.Usage.InputTokens,
		OutputTokens: response.Usage.OutputTokens,
	}
	s.inputTokens.Add(usage.InputTokens)
	s.outputTokens.Add(usage.OutputTokens)
	slog.Debug("AI call complete",
		"operation", operation,
		"inputTokens", usage.InputTokens,
		"outputTokens", usage.OutputTokens,
		"duration", time.Since(startTime))

	result := strings.TrimSpace(text.String())
	if result == "" {
		return "", usage, fmt.Errorf("%s: model returned no text", operation)
	}
	return result, usage, nil
}
