package sqlite

const schema = `
-- One row per refinement run
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    brief TEXT NOT NULL,
    kind TEXT NOT NULL DEFAULT '',
    model TEXT NOT NULL DEFAULT '',
    reason TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    max_iterations INTEGER NOT NULL CHECK(max_iterations >= 1),
    target_score INTEGER NOT NULL,
    scale_min INTEGER NOT NULL,
    scale_max INTEGER NOT NULL,
    iteration_count INTEGER NOT NULL DEFAULT 0,
    first_score INTEGER NOT NULL DEFAULT 0,
    final_score INTEGER NOT NULL DEFAULT 0,
    final_artifact TEXT NOT NULL DEFAULT '',
    started_at TEXT NOT NULL,
    elapsed_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
CREATE INDEX IF NOT EXISTS idx_runs_reason ON runs(reason);

-- One row per completed iteration; scores, strengths and issues are JSON
CREATE TABLE IF NOT EXISTS iterations (
    run_id TEXT NOT NULL,
    iteration INTEGER NOT NULL CHECK(iteration >= 1),
    aggregate INTEGER NOT NULL,
    scores TEXT NOT NULL,
    assessment TEXT NOT NULL DEFAULT '',
    strengths TEXT NOT NULL DEFAULT '[]',
    issues TEXT NOT NULL DEFAULT '[]',
    artifact TEXT NOT NULL,
    PRIMARY KEY (run_id, iteration),
    FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
);
`
