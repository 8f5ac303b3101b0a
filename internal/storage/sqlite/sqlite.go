// Package sqlite stores refinement runs in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/steveyegge/refine/internal/iterative"
)

// timeLayout has a fixed width so started_at sorts correctly as text
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStorage stores run history in SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// RunRecord is a stored refinement run
type RunRecord struct {
	ID     string
	Brief  string
	Kind   string
	Model  string
	Reason iterative.TerminationReason

	// Error is the failure message when Reason is failed
	Error string

	MaxIterations int
	TargetScore   int
	Scale         iterative.Scale

	IterationCount int
	FirstScore     int
	FinalScore     int
	FinalArtifact  string

	StartedAt time.Time
	Elapsed   time.Duration

	// Iterations is empty in ListRuns results
	Iterations []iterative.IterationRecord[string]
}

// Improvement is the first-to-final aggregate delta
func (r *RunRecord) Improvement() int {
	if r.IterationCount == 0 {
		return 0
	}
	return r.FinalScore - r.FirstScore
}

// Statistics summarizes all stored runs
type Statistics struct {
	TotalRuns       int
	ByReason        map[iterative.TerminationReason]int
	AvgIterations   float64
	AvgFinalScore   float64
	AvgImprovement  float64
	TotalIterations int
}

// RunRecordFromState converts a finished run into a record for storage
func RunRecordFromState(state *iterative.LoopState[string], brief string, cfg iterative.Config) *RunRecord {
	scale := cfg.Scale
	if scale.IsZero() {
		scale = iterative.DefaultScale
	}

	rec := &RunRecord{
		ID:             state.RunID,
		Brief:          brief,
		Reason:         state.Reason,
		MaxIterations:  cfg.MaxIterations,
		TargetScore:    cfg.TargetScore,
		Scale:          scale,
		IterationCount: state.Completed(),
		FirstScore:     state.FirstScore(),
		FinalArtifact:  state.Artifact,
		StartedAt:      state.StartedAt,
		Elapsed:        state.ElapsedTime,
		Iterations:     append([]iterative.IterationRecord[string](nil), state.History...),
	}
	if state.Score != nil {
		rec.FinalScore = state.Score.Aggregate()
	}
	if state.Err != nil {
		rec.Error = state.Err.Error()
	}
	return rec
}

// New opens (or creates) the database at path and applies the schema.
// The special path ":memory:" opens a private in-memory database.
func New(ctx context.Context, path string) (*SQLiteStorage, error) {
	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?_pragma=foreign_keys(1)"
	} else {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		// WAL lets `refine history` read while a batch is writing
		dsn = "file:" + path + "?_pragma=journal_mode(wal)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// SaveRun stores a run and its iterations in one transaction. Saving a run
// with an existing ID replaces it.
func (s *SQLiteStorage) SaveRun(ctx context.Context, run *RunRecord) error {
	if run == nil || run.ID == "" {
		return errors.New("run ID is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	// Cascades to the run's iterations
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, run.ID); err != nil {
		return fmt.Errorf("failed to replace run: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, brief, kind, model, reason, error,
			max_iterations, target_score, scale_min, scale_max,
			iteration_count, first_score, final_score, final_artifact,
			started_at, elapsed_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.Brief, run.Kind, run.Model, string(run.Reason), run.Error,
		run.MaxIterations, run.TargetScore, run.Scale.Min, run.Scale.Max,
		run.IterationCount, run.FirstScore, run.FinalScore, run.FinalArtifact,
		run.StartedAt.UTC().Format(timeLayout), run.Elapsed.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO iterations (run_id, iteration, aggregate, scores, assessment, strengths, issues, artifact)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare iteration insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, it := range run.Iterations {
		scores, err := json.Marshal(it.Score.Dimensions)
		if err != nil {
			return fmt.Errorf("failed to encode scores: %w", err)
		}
		strengths, err := marshalList(it.Feedback.Strengths)
		if err != nil {
			return err
		}
		issues, err := marshalList(it.Feedback.Issues)
		if err != nil {
			return err
		}
		_, err = stmt.ExecContext(ctx,
			run.ID, it.Iteration, it.Score.Aggregate(), string(scores),
			it.Feedback.Assessment, strengths, issues, it.Artifact,
		)
		if err != nil {
			return fmt.Errorf("failed to insert iteration %d: %w", it.Iteration, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

const runColumns = `
	id, brief, kind, model, reason, error,
	max_iterations, target_score, scale_min, scale_max,
	iteration_count, first_score, final_score, final_artifact,
	started_at, elapsed_ms
`

// GetRun returns a run with its iterations, or (nil, nil) if not found
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT iteration, scores, assessment, strengths, issues, artifact
		FROM iterations
		WHERE run_id = ?
		ORDER BY iteration ASC
	`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var it iterative.IterationRecord[string]
		var scores, strengths, issues string
		if err := rows.Scan(&it.Iteration, &scores, &it.Feedback.Assessment, &strengths, &issues, &it.Artifact); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		if err := json.Unmarshal([]byte(scores), &it.Score.Dimensions); err != nil {
			return nil, fmt.Errorf("failed to decode scores of iteration %d: %w", it.Iteration, err)
		}
		if it.Feedback.Strengths, err = unmarshalList(strengths); err != nil {
			return nil, fmt.Errorf("failed to decode strengths of iteration %d: %w", it.Iteration, err)
		}
		if it.Feedback.Issues, err = unmarshalList(issues); err != nil {
			return nil, fmt.Errorf("failed to decode issues of iteration %d: %w", it.Iteration, err)
		}
		run.Iterations = append(run.Iterations, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read iterations: %w", err)
	}

	return run, nil
}

// ListRuns returns up to limit runs, most recent first (limit <= 0 means all)
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit int) ([]*RunRecord, error) {
	query := `SELECT ` + runColumns + ` FROM runs ORDER BY started_at DESC, id ASC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*RunRecord
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read runs: %w", err)
	}
	return runs, nil
}

// GetStatistics summarizes every stored run
func (s *SQLiteStorage) GetStatistics(ctx context.Context) (*Statistics, error) {
	stats := &Statistics{ByReason: make(map[iterative.TerminationReason]int)}
	if err := s.countByReason(ctx, stats); err != nil {
		return nil, err
	}
	if stats.TotalRuns == 0 {
		return stats, nil
	}

	var avgFinal, avgImprovement sql.NullFloat64
	err := s.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(iteration_count), 0),
			AVG(CASE WHEN iteration_count > 0 THEN final_score END),
			AVG(CASE WHEN iteration_count > 0 THEN final_score - first_score ELSE 0 END)
		FROM runs
	`).Scan(&stats.TotalIterations, &avgFinal, &avgImprovement)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate runs: %w", err)
	}
	stats.AvgIterations = float64(stats.TotalIterations) / float64(stats.TotalRuns)
	stats.AvgFinalScore = avgFinal.Float64
	stats.AvgImprovement = avgImprovement.Float64

	return stats, nil
}

func (s *SQLiteStorage) countByReason(ctx context.Context, stats *Statistics) error {
	rows, err := s.db.QueryContext(ctx, `SELECT reason, COUNT(*) FROM runs GROUP BY reason`)
	if err != nil {
		return fmt.Errorf("failed to count runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var reason string
		var count int
		if err := rows.Scan(&reason, &count); err != nil {
			return fmt.Errorf("failed to scan run count: %w", err)
		}
		stats.ByReason[iterative.TerminationReason(reason)] = count
		stats.TotalRuns += count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read run counts: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*RunRecord, error) {
	var run RunRecord
	var reason, startedAt string
	var elapsedMS int64

	err := row.Scan(
		&run.ID, &run.Brief, &run.Kind, &run.Model, &reason, &run.Error,
		&run.MaxIterations, &run.TargetScore, &run.Scale.Min, &run.Scale.Max,
		&run.IterationCount, &run.FirstScore, &run.FinalScore, &run.FinalArtifact,
		&startedAt, &elapsedMS,
	)
	if err != nil {
		return nil, err
	}

	run.Reason = iterative.TerminationReason(reason)
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	if run.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
		return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
	}
	return &run, nil
}

func unmarshalList(data string) ([]string, error) {
	var items []string
	if err := json.Unmarshal([]byte(data), &items); err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return items, nil
}

func marshalList(items []string) (string, error) {
	if items == nil {
		items = []string{}
	}
	data, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("failed to encode feedback: %w", err)
	}
	return string(data), nil
}
