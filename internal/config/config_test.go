package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/refine/internal/iterative"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 80, cfg.TargetScore)
	assert.Equal(t, iterative.DefaultScale, cfg.Scale)
	assert.Equal(t, DefaultDimensions, cfg.Dimensions)
	assert.NoError(t, cfg.Validate())

	// Callers may mutate their copy without touching the package default
	cfg.Dimensions[0] = "changed"
	assert.Equal(t, "clarity", DefaultDimensions[0])
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "refine.yaml")
	content := `
model: claude-3-5-haiku-20241022
max_iterations: 4
target_score: 7
scale:
  min: 1
  max: 10
dimensions: [clarity, humor]
retry:
  max_retries: 5
  initial_backoff: 250ms
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "claude-3-5-haiku-20241022", cfg.Model)
	assert.Equal(t, 4, cfg.MaxIterations)
	assert.Equal(t, 7, cfg.TargetScore)
	assert.Equal(t, iterative.Scale{Min: 1, Max: 10}, cfg.Scale)
	assert.Equal(t, []string{"clarity", "humor"}, cfg.Dimensions)
	assert.Equal(t, 5, cfg.Retry.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.InitialBackoff)

	// Unset keys keep their defaults
	assert.Equal(t, 30*time.Second, cfg.Retry.MaxBackoff)
	assert.Equal(t, 300, cfg.MinWords)
	assert.Equal(t, "refine.db", cfg.DBPath)

	assert.Equal(t, iterative.Config{MaxIterations: 4, TargetScore: 7, Scale: iterative.Scale{Min: 1, Max: 10}}, cfg.LoopConfig())
}

func TestLoadFile_Errors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_iterations: [oops"), 0o644))
	_, err = LoadFile(path)
	assert.ErrorContains(t, err, "parsing YAML")
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("REFINE_MODEL", "claude-test")
	t.Setenv("REFINE_MAX_ITERATIONS", "3")
	t.Setenv("REFINE_TARGET_SCORE", "90")
	t.Setenv("REFINE_TEMPERATURE", "0.2")
	t.Setenv("REFINE_DIMENSIONS", " clarity , accuracy,, ")
	t.Setenv("REFINE_INITIAL_BACKOFF", "2s")
	t.Setenv("REFINE_CIRCUIT_BREAKER", "false")
	t.Setenv("REFINE_DB_PATH", "/tmp/history.db")

	cfg := DefaultConfig()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "claude-test", cfg.Model)
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 90, cfg.TargetScore)
	assert.InDelta(t, 0.2, cfg.Temperature, 0.0001)
	assert.Equal(t, []string{"clarity", "accuracy"}, cfg.Dimensions)
	assert.Equal(t, 2*time.Second, cfg.Retry.InitialBackoff)
	assert.False(t, cfg.Retry.CircuitBreaker)
	assert.Equal(t, "/tmp/history.db", cfg.DBPath)
}

func TestApplyEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"REFINE_MAX_ITERATIONS", "ten"},
		{"REFINE_TEMPERATURE", "warm"},
		{"REFINE_CIRCUIT_BREAKER", "maybe"},
		{"REFINE_TIMEOUT", "soon"},
		{"REFINE_DIMENSIONS", " , "},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			err := DefaultConfig().ApplyEnv()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.key)
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero iterations", func(c *Config) { c.MaxIterations = 0 }},
		{"inverted scale", func(c *Config) { c.Scale = iterative.Scale{Min: 10, Max: 1} }},
		{"no dimensions", func(c *Config) { c.Dimensions = nil }},
		{"duplicate dimension", func(c *Config) { c.Dimensions = []string{"a", "a"} }},
		{"blank dimension", func(c *Config) { c.Dimensions = []string{" "} }},
		{"temperature", func(c *Config) { c.Temperature = 1.5 }},
		{"word range", func(c *Config) { c.MinWords, c.MaxWords = 400, 300 }},
		{"batch concurrency", func(c *Config) { c.BatchConcurrency = 0 }},
		{"negative rpm", func(c *Config) { c.RequestsPerMinute = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	// A target above the scale is legal: the run simply exhausts its budget
	cfg := DefaultConfig()
	cfg.TargetScore = 150
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, ".env.local")
	shared := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(local, []byte("REFINE_TEST_VALUE=local\n"), 0o644))
	require.NoError(t, os.WriteFile(shared, []byte("REFINE_TEST_VALUE=shared\nREFINE_TEST_OTHER=shared\n"), 0o644))

	t.Setenv("REFINE_TEST_VALUE", "")
	t.Setenv("REFINE_TEST_OTHER", "")
	os.Unsetenv("REFINE_TEST_VALUE")
	os.Unsetenv("REFINE_TEST_OTHER")

	require.NoError(t, LoadEnvFiles(local, shared, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "local", os.Getenv("REFINE_TEST_VALUE"))
	assert.Equal(t, "shared", os.Getenv("REFINE_TEST_OTHER"))
}

func TestLoad(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("REFINE_TARGET_SCORE", "85")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 85, cfg.TargetScore)

	t.Setenv("REFINE_MAX_ITERATIONS", "0")
	_, err = Load("")
	assert.ErrorContains(t, err, "invalid configuration")
}
