package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/refine/internal/config"
	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/report"
)

// fakeAnthropic answers writer calls with a numbered draft and editor calls
// with critiques whose scores follow the scores slice (the last repeats).
type fakeAnthropic struct {
	mu       sync.Mutex
	scores   []int
	critique int
	drafts   atomic.Int32
	failAll  bool
}

func (f *fakeAnthropic) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	if f.failAll {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"type":"error","error":{"type":"invalid_request_error","message":"bad request"}}`)
		return
	}

	var text string
	if bytes.Contains(body, []byte("experienced blog editor")) {
		f.mu.Lock()
		score := f.scores[min(f.critique, len(f.scores)-1)]
		f.critique++
		f.mu.Unlock()

		scores := map[string]int{}
		for _, name := range config.DefaultDimensions {
			scores[name] = score
		}
		data, _ := json.Marshal(map[string]any{
			"overall_assessment": "Readable draft",
			"strengths":          []string{"clear hook"},
			"issues":             []string{"needs a stronger call to action"},
			"scores":             scores,
		})
		text = "```json\n" + string(data) + "\n```"
	} else {
		n := f.drafts.Add(1)
		text = fmt.Sprintf("Draft %d\nLine about learning.\n", n)
	}

	resp, _ := json.Marshal(map[string]any{
		"id":            "msg_test",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-test",
		"stop_reason":   "end_turn",
		"stop_sequence": nil,
		"content":       []map[string]any{{"type": "text", "text": text}},
		"usage":         map[string]any{"input_tokens": 10, "output_tokens": 20},
	})
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}

func newTestApp(t *testing.T, fake *fakeAnthropic, save bool) *app {
	t.Helper()
	color.NoColor = true
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	cfg := config.DefaultConfig()
	cfg.Model = "claude-test"
	cfg.MaxIterations = 4
	cfg.TargetScore = 80
	cfg.Retry.MaxRetries = 0
	cfg.Retry.CircuitBreaker = false
	cfg.DBPath = filepath.Join(t.TempDir(), "refine.db")

	a, err := newApp(context.Background(), cfg, appOptions{
		save: save,
		requestOptions: []option.RequestOption{
			option.WithBaseURL(server.URL + "/"),
			option.WithMaxRetries(0),
		},
	})
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestApp_RefineReachesTargetAndSaves(t *testing.T) {
	fake := &fakeAnthropic{scores: []int{60, 72, 85}}
	a := newTestApp(t, fake, true)
	ctx := context.Background()

	var observed []int
	state, err := a.refine(ctx, "AI tutors", a.cfg.LoopConfig(), func(rec iterative.IterationRecord[string]) {
		observed = append(observed, rec.Score.Aggregate())
	})
	require.NoError(t, err)

	assert.Equal(t, iterative.ReasonTargetReached, state.Reason)
	assert.Equal(t, []int{60, 72, 85}, observed)
	assert.Equal(t, "Draft 3\nLine about learning.", state.Artifact)
	assert.Equal(t, int32(3), fake.drafts.Load())

	rec, err := a.store.GetRun(ctx, state.RunID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "AI tutors", rec.Brief)
	assert.Equal(t, artifactKind, rec.Kind)
	assert.Equal(t, "claude-test", rec.Model)
	assert.Equal(t, 25, rec.Improvement())
	assert.Len(t, rec.Iterations, 3)

	usage := a.sup.TotalUsage()
	assert.Equal(t, int64(60), usage.InputTokens)
	assert.Equal(t, int64(120), usage.OutputTokens)
	assert.Equal(t, 1, a.metrics.GetAggregateMetrics().TargetReached)
	assert.Equal(t, 3.0, gatheredValue(t, a, "refine_loop_iterations_total"))
}

// gatheredValue sums every series of the named counter family
func gatheredValue(t *testing.T, a *app, name string) float64 {
	t.Helper()
	families, err := a.registry.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		total := 0.0
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		return total
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestApp_RefineFailureIsSaved(t *testing.T) {
	fake := &fakeAnthropic{failAll: true}
	a := newTestApp(t, fake, true)
	ctx := context.Background()

	state, err := a.refine(ctx, "AI tutors", a.cfg.LoopConfig(), nil)
	require.Error(t, err)
	require.NotNil(t, state)
	assert.Equal(t, iterative.ReasonFailed, state.Reason)
	assert.True(t, iterative.IsGenerationError(err))

	rec, err := a.store.GetRun(ctx, state.RunID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, iterative.ReasonFailed, rec.Reason)
	assert.NotEmpty(t, rec.Error)
	assert.Empty(t, rec.Iterations)
}

func TestApp_CancelledRunIsSaved(t *testing.T) {
	fake := &fakeAnthropic{scores: []int{50}}
	a := newTestApp(t, fake, true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	state, err := a.refine(ctx, "AI tutors", a.cfg.LoopConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, iterative.ReasonCancelled, state.Reason)
	assert.Equal(t, int32(0), fake.drafts.Load())

	rec, err := a.store.GetRun(context.Background(), state.RunID)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, iterative.ReasonCancelled, rec.Reason)
}

func TestApp_NoSave(t *testing.T) {
	a := newTestApp(t, &fakeAnthropic{scores: []int{90}}, false)
	assert.Nil(t, a.store)

	state, err := a.refine(context.Background(), "topic", a.cfg.LoopConfig(), nil)
	require.NoError(t, err)
	assert.Equal(t, 1, state.Completed())
}

func TestRunBatch_IsolatedRuns(t *testing.T) {
	// Every critique scores 50, so every run spends its whole budget
	fake := &fakeAnthropic{scores: []int{50}}
	a := newTestApp(t, fake, true)
	a.cfg.MaxIterations = 2

	topics := []string{"first", "second", "third"}
	var progress bytes.Buffer
	rows := runBatch(context.Background(), a, topics, 2, &progress)

	require.Len(t, rows, 3)
	ids := map[string]bool{}
	for i, row := range rows {
		assert.Equal(t, topics[i], row.Brief)
		require.NotNil(t, row.State)
		assert.NoError(t, row.Err)
		assert.Equal(t, iterative.ReasonBudgetExhausted, row.State.Reason)
		assert.Equal(t, 2, row.State.Completed())
		ids[row.State.RunID] = true
	}
	assert.Len(t, ids, 3, "every run has its own ID")
	assert.Equal(t, 3, strings.Count(progress.String(), "iteration budget exhausted"))

	runs, err := a.store.ListRuns(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	var table bytes.Buffer
	report.PrintBatchTable(&table, rows)
	assert.Contains(t, table.String(), "second")
}

func TestReadTopics(t *testing.T) {
	input := "# topics\nRemote work\n\n  Climate tech  \n#skip\n"
	topics, err := readTopics(strings.NewReader(input))
	require.NoError(t, err)
	assert.Equal(t, []string{"Remote work", "Climate tech"}, topics)

	_, err = readTopicsFile(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestApplyLoopFlags(t *testing.T) {
	newCmd := func() *cobra.Command {
		cmd := &cobra.Command{Use: "test"}
		addLoopFlags(cmd)
		return cmd
	}

	cmd := newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--max-iterations", "3", "--target", "95"}))
	cfg := config.DefaultConfig()
	require.NoError(t, applyLoopFlags(cmd, cfg))
	assert.Equal(t, 3, cfg.MaxIterations)
	assert.Equal(t, 95, cfg.TargetScore)

	// Unset flags leave the loaded values alone
	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse(nil))
	cfg = config.DefaultConfig()
	cfg.MaxIterations = 7
	require.NoError(t, applyLoopFlags(cmd, cfg))
	assert.Equal(t, 7, cfg.MaxIterations)

	cmd = newCmd()
	require.NoError(t, cmd.Flags().Parse([]string{"--max-iterations", "0"}))
	assert.Error(t, applyLoopFlags(cmd, config.DefaultConfig()))
}

func TestPrintRun(t *testing.T) {
	fake := &fakeAnthropic{scores: []int{70, 82}}
	a := newTestApp(t, fake, true)
	ctx := context.Background()

	state, err := a.refine(ctx, "AI tutors", a.cfg.LoopConfig(), nil)
	require.NoError(t, err)

	rec, err := a.store.GetRun(ctx, state.RunID)
	require.NoError(t, err)

	var out bytes.Buffer
	printRun(&out, rec, false)
	assert.Contains(t, out.String(), "Topic:   AI tutors")
	assert.Contains(t, out.String(), "Improvement: 70 -> 82 (+12)")
	assert.Contains(t, out.String(), "Draft 2")

	var list bytes.Buffer
	runs, err := a.store.ListRuns(ctx, 10)
	require.NoError(t, err)
	printRunList(&list, runs)
	assert.Contains(t, list.String(), state.RunID)
	assert.Contains(t, list.String(), "70 -> 82")
}
