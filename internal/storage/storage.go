// Package storage persists refinement runs so they can be reviewed later.
package storage

import (
	"context"

	"github.com/steveyegge/refine/internal/storage/sqlite"
)

// Storage defines the interface for run history backends
type Storage interface {
	// SaveRun stores a run and all of its iterations, replacing any
	// earlier copy with the same ID
	SaveRun(ctx context.Context, run *sqlite.RunRecord) error

	// GetRun returns a run with its iterations, or (nil, nil) if unknown
	GetRun(ctx context.Context, id string) (*sqlite.RunRecord, error)

	// ListRuns returns the most recent runs without their iterations
	ListRuns(ctx context.Context, limit int) ([]*sqlite.RunRecord, error)

	// GetStatistics summarizes every stored run
	GetStatistics(ctx context.Context) (*sqlite.Statistics, error)

	Close() error
}

var _ Storage = (*sqlite.SQLiteStorage)(nil)

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: "refine.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: "refine.db",
	}
}

// NewStorage creates a new SQLite storage backend
func NewStorage(ctx context.Context, cfg *Config) (Storage, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = DefaultConfig().Path
	}
	return sqlite.New(ctx, cfg.Path)
}
