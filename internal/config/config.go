// Package config loads refine's settings from defaults, an optional YAML
// file, .env files and REFINE_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/steveyegge/refine/internal/iterative"
)

// Config holds all refine settings
type Config struct {
	// Model is the Anthropic model used by the writer and editor
	// Default: "" (the ai package picks its default model)
	Model string `yaml:"model"`

	// MaxTokens caps each model reply
	// Default: 2048
	MaxTokens int `yaml:"max_tokens"`

	// Temperature is the sampling temperature
	// Default: 0.7
	Temperature float64 `yaml:"temperature"`

	// MaxIterations bounds the number of write/critique rounds per post
	// Default: 10
	MaxIterations int `yaml:"max_iterations"`

	// TargetScore ends the run once the aggregate score meets it
	// Default: 80
	TargetScore int `yaml:"target_score"`

	// Scale bounds every sub-score
	// Default: 0-100
	Scale iterative.Scale `yaml:"scale"`

	// Dimensions are the editorial criteria scored on every draft
	// Default: clarity, structure, engagement, accuracy, completeness, call_to_action
	Dimensions []string `yaml:"dimensions"`

	// MinWords and MaxWords set the requested post length
	// Default: 300-400
	MinWords int `yaml:"min_words"`
	MaxWords int `yaml:"max_words"`

	Retry RetryConfig `yaml:"retry"`

	// RequestsPerMinute paces API calls (0 = unlimited)
	// Default: 0
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// MaxConcurrentCalls caps in-flight API calls across all runs (0 = unlimited)
	// Default: 3
	MaxConcurrentCalls int `yaml:"max_concurrent_calls"`

	// DBPath is the SQLite history database
	// Default: "refine.db"
	DBPath string `yaml:"db_path"`

	// BatchConcurrency is the number of posts refined at once by `refine batch`
	// Default: 2
	BatchConcurrency int `yaml:"batch_concurrency"`
}

// RetryConfig holds API retry settings
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	Timeout        time.Duration `yaml:"timeout"`
	CircuitBreaker bool          `yaml:"circuit_breaker"`
}

// DefaultDimensions are the editorial criteria used when none are configured
var DefaultDimensions = []string{
	"clarity",
	"structure",
	"engagement",
	"accuracy",
	"completeness",
	"call_to_action",
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		MaxTokens:     2048,
		Temperature:   0.7,
		MaxIterations: 10,
		TargetScore:   80,
		Scale:         iterative.DefaultScale,
		Dimensions:    append([]string(nil), DefaultDimensions...),
		MinWords:      300,
		MaxWords:      400,
		Retry: RetryConfig{
			MaxRetries:     3,
			InitialBackoff: time.Second,
			MaxBackoff:     30 * time.Second,
			Timeout:        120 * time.Second,
			CircuitBreaker: true,
		},
		MaxConcurrentCalls: 3,
		DBPath:             "refine.db",
		BatchConcurrency:   2,
	}
}

// LoadFile overlays a YAML file on the defaults. Keys missing from the file
// keep their default values.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return cfg, nil
}

// Load builds the effective configuration: .env files, then defaults or
// the YAML file at path (if non-empty), then REFINE_* overrides. The
// result is validated.
func Load(path string) (*Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration has usable values
func (c *Config) Validate() error {
	var errs []error

	if c.MaxIterations < 1 {
		errs = append(errs, fmt.Errorf("max_iterations must be >= 1, got %d", c.MaxIterations))
	}
	if c.Scale.Min > c.Scale.Max {
		errs = append(errs, fmt.Errorf("scale min %d exceeds max %d", c.Scale.Min, c.Scale.Max))
	}
	if c.MaxTokens < 1 {
		errs = append(errs, fmt.Errorf("max_tokens must be positive, got %d", c.MaxTokens))
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		errs = append(errs, fmt.Errorf("temperature must be between 0 and 1, got %.2f", c.Temperature))
	}
	if len(c.Dimensions) == 0 {
		errs = append(errs, errors.New("at least one dimension is required"))
	}
	seen := make(map[string]bool, len(c.Dimensions))
	for _, d := range c.Dimensions {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, errors.New("dimension names must not be empty"))
			continue
		}
		if seen[d] {
			errs = append(errs, fmt.Errorf("duplicate dimension %q", d))
		}
		seen[d] = true
	}
	if c.MinWords < 1 || c.MaxWords < c.MinWords {
		errs = append(errs, fmt.Errorf("word range %d-%d is invalid", c.MinWords, c.MaxWords))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("retry.max_retries must be non-negative, got %d", c.Retry.MaxRetries))
	}
	if c.RequestsPerMinute < 0 {
		errs = append(errs, fmt.Errorf("requests_per_minute must be non-negative, got %d", c.RequestsPerMinute))
	}
	if c.MaxConcurrentCalls < 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_calls must be non-negative, got %d", c.MaxConcurrentCalls))
	}
	if c.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("batch_concurrency must be >= 1, got %d", c.BatchConcurrency))
	}

	return errors.Join(errs...)
}

// LoopConfig returns the per-run refinement parameters
func (c *Config) LoopConfig() iterative.Config {
	return iterative.Config{
		MaxIterations: c.MaxIterations,
		TargetScore:   c.TargetScore,
		Scale:         c.Scale,
	}
}
