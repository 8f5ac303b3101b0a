package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvFiles are loaded by LoadEnvFiles, most specific first. godotenv never
// overrides variables that are already set, so the first file wins.
var EnvFiles = []string{".env.local", ".env"}

// LoadEnvFiles loads .env files into the process environment. Missing
// files are ignored.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = EnvFiles
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from REFINE_* environment variables.
//
// Environment variables:
//   - REFINE_MODEL, REFINE_MAX_TOKENS, REFINE_TEMPERATURE
//   - REFINE_MAX_ITERATIONS, REFINE_TARGET_SCORE
//   - REFINE_SCALE_MIN, REFINE_SCALE_MAX
//   - REFINE_DIMENSIONS (comma-separated)
//   - REFINE_MIN_WORDS, REFINE_MAX_WORDS
//   - REFINE_MAX_RETRIES, REFINE_INITIAL_BACKOFF, REFINE_MAX_BACKOFF,
//     REFINE_TIMEOUT, REFINE_CIRCUIT_BREAKER
//   - REFINE_REQUESTS_PER_MINUTE, REFINE_MAX_CONCURRENT_CALLS
//   - REFINE_DB_PATH, REFINE_BATCH_CONCURRENCY
//
// Returns an error if any environment variable has an invalid value.
func (c *Config) ApplyEnv() error {
	parsers := []func() error{
		func() error { return parseEnvString("REFINE_MODEL", &c.Model) },
		func() error { return parseEnvInt("REFINE_MAX_TOKENS", &c.MaxTokens) },
		func() error { return parseEnvFloat("REFINE_TEMPERATURE", &c.Temperature) },
		func() error { return parseEnvInt("REFINE_MAX_ITERATIONS", &c.MaxIterations) },
		func() error { return parseEnvInt("REFINE_TARGET_SCORE", &c.TargetScore) },
		func() error { return parseEnvInt("REFINE_SCALE_MIN", &c.Scale.Min) },
		func() error { return parseEnvInt("REFINE_SCALE_MAX", &c.Scale.Max) },
		func() error { return parseEnvList("REFINE_DIMENSIONS", &c.Dimensions) },
		func() error { return parseEnvInt("REFINE_MIN_WORDS", &c.MinWords) },
		func() error { return parseEnvInt("REFINE_MAX_WORDS", &c.MaxWords) },
		func() error { return parseEnvInt("REFINE_MAX_RETRIES", &c.Retry.MaxRetries) },
		func() error { return parseEnvDuration("REFINE_INITIAL_BACKOFF", &c.Retry.InitialBackoff) },
		func() error { return parseEnvDuration("REFINE_MAX_BACKOFF", &c.Retry.MaxBackoff) },
		func() error { return parseEnvDuration("REFINE_TIMEOUT", &c.Retry.Timeout) },
		func() error { return parseEnvBool("REFINE_CIRCUIT_BREAKER", &c.Retry.CircuitBreaker) },
		func() error { return parseEnvInt("REFINE_REQUESTS_PER_MINUTE", &c.RequestsPerMinute) },
		func() error { return parseEnvInt("REFINE_MAX_CONCURRENT_CALLS", &c.MaxConcurrentCalls) },
		func() error { return parseEnvString("REFINE_DB_PATH", &c.DBPath) },
		func() error { return parseEnvInt("REFINE_BATCH_CONCURRENCY", &c.BatchConcurrency) },
	}
	for _, parse := range parsers {
		if err := parse(); err != nil {
			return err
		}
	}
	return nil
}

// parseEnvInt parses an int from an environment variable
func parseEnvInt(key string, dest *int) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvFloat parses a float from an environment variable
func parseEnvFloat(key string, dest *float64) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvBool parses a bool from an environment variable
func parseEnvBool(key string, dest *bool) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

// parseEnvDuration parses a duration such as "500ms" or "2m"
func parseEnvDuration(key string, dest *time.Duration) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	*dest = parsed
	return nil
}

func parseEnvString(key string, dest *string) error {
	if value := os.Getenv(key); value != "" {
		*dest = value
	}
	return nil
}

// parseEnvList parses a comma-separated list, dropping blank entries
func parseEnvList(key string, dest *[]string) error {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return fmt.Errorf("invalid value for %s: no entries", key)
	}
	*dest = items
	return nil
}
