package repl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/storage"
	"github.com/steveyegge/refine/internal/storage/sqlite"
)

type recordingRefiner struct {
	topics  []string
	configs []iterative.Config
	err     error
}

func (m *recordingRefiner) refine(ctx context.Context, topic string, cfg iterative.Config) error {
	m.topics = append(m.topics, topic)
	m.configs = append(m.configs, cfg)
	return m.err
}

func newTestREPL(t *testing.T, store storage.Storage) (*REPL, *recordingRefiner, *bytes.Buffer) {
	t.Helper()
	color.NoColor = true

	refiner := &recordingRefiner{}
	var out bytes.Buffer
	r, err := New(&Config{
		Refine: refiner.refine,
		Store:  store,
		Loop:   iterative.Config{MaxIterations: 10, TargetScore: 80},
		Out:    &out,
	})
	require.NoError(t, err)
	return r, refiner, &out
}

func TestNew_RequiresRefine(t *testing.T) {
	_, err := New(&Config{})
	assert.Error(t, err)
}

func TestProcessInput_TopicRunsRefinement(t *testing.T) {
	r, refiner, _ := newTestREPL(t, nil)

	require.NoError(t, r.processInput("  How AI is transforming education  "))
	require.NoError(t, r.processInput(""))

	assert.Equal(t, []string{"How AI is transforming education"}, refiner.topics)
	assert.Equal(t, 10, refiner.configs[0].MaxIterations)
}

func TestProcessInput_RefineError(t *testing.T) {
	r, refiner, _ := newTestREPL(t, nil)
	refiner.err = errors.New("api down")

	assert.EqualError(t, r.processInput("topic"), "api down")
}

func TestProcessInput_Settings(t *testing.T) {
	r, refiner, out := newTestREPL(t, nil)

	require.NoError(t, r.processInput("target 90"))
	require.NoError(t, r.processInput("iterations 3"))
	assert.Contains(t, out.String(), "Budget: 3 iterations, target 90 (scale 0-100)")

	require.NoError(t, r.processInput("a topic"))
	assert.Equal(t, iterative.Config{MaxIterations: 3, TargetScore: 90}, refiner.configs[0])

	assert.Error(t, r.processInput("iterations 0"))
	assert.Error(t, r.processInput("target"))
}

func TestProcessInput_TopicsStartingWithCommandWords(t *testing.T) {
	r, refiner, out := newTestREPL(t, nil)

	topics := []string{
		"history of jazz",
		"help desk automation",
		"stats for beginners",
		"target audiences explained",
		"iterations 3 times faster",
		"exit strategies for startups",
		"settings that matter",
		"history 5 ways",
	}
	for _, topic := range topics {
		require.NoError(t, r.processInput(topic), topic)
	}

	assert.Equal(t, topics, refiner.topics)
	assert.NotContains(t, out.String(), "Available Commands")
	assert.Equal(t, 10, r.loop.MaxIterations)
}

func TestProcessInput_Exit(t *testing.T) {
	r, _, _ := newTestREPL(t, nil)
	assert.Equal(t, io.EOF, r.processInput("exit"))
	assert.Equal(t, io.EOF, r.processInput("quit"))
}

func TestProcessInput_Help(t *testing.T) {
	r, refiner, out := newTestREPL(t, nil)
	require.NoError(t, r.processInput("help"))
	assert.Contains(t, out.String(), "Available Commands")
	assert.Empty(t, refiner.topics)
}

func TestHistoryWithoutStore(t *testing.T) {
	r, _, _ := newTestREPL(t, nil)
	assert.ErrorIs(t, r.processInput("history"), errNoStore)
	assert.ErrorIs(t, r.processInput("stats"), errNoStore)
}

func TestHistoryAndStats(t *testing.T) {
	ctx := context.Background()
	store, err := storage.NewStorage(ctx, &storage.Config{Path: filepath.Join(t.TempDir(), "refine.db")})
	require.NoError(t, err)
	defer store.Close()

	r, _, out := newTestREPL(t, store)

	require.NoError(t, r.processInput("history"))
	assert.Contains(t, out.String(), "No runs yet")

	state := &iterative.LoopState[string]{
		RunID:     "run-1",
		Reason:    iterative.ReasonTargetReached,
		StartedAt: time.Now(),
		History: []iterative.IterationRecord[string]{
			{Iteration: 1, Score: iterative.SingleScore(70), Artifact: "draft"},
			{Iteration: 2, Score: iterative.SingleScore(85), Artifact: "final"},
		},
	}
	final := state.History[1].Score
	state.Score = &final
	require.NoError(t, store.SaveRun(ctx, sqlite.RunRecordFromState(state, "Remote work", iterative.Config{MaxIterations: 5, TargetScore: 80})))

	out.Reset()
	require.NoError(t, r.processInput("history 5"))
	assert.Contains(t, out.String(), "Remote work")
	assert.Contains(t, out.String(), "70 -> 85")

	out.Reset()
	require.NoError(t, r.processInput("stats"))
	assert.Contains(t, out.String(), "Runs:             1")
	assert.Contains(t, out.String(), "+15.0")

	assert.Error(t, r.processInput("history 0"))
}
