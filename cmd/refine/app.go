package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steveyegge/refine/internal/ai"
	"github.com/steveyegge/refine/internal/config"
	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/storage"
	"github.com/steveyegge/refine/internal/storage/sqlite"
)

const artifactKind = "blog_post"

// app wires the configured stages, history store and metrics for one
// command invocation.
type app struct {
	cfg     *config.Config
	sup     *ai.Supervisor
	writer  *ai.BlogWriter
	editor  *ai.BlogEditor
	store   storage.Storage
	metrics *iterative.InMemoryMetricsCollector

	registry  *prometheus.Registry
	collector iterative.MetricsCollector
}

// appOptions are the knobs commands and tests set on top of the loaded config.
type appOptions struct {
	save bool

	// requestOptions are passed to the Anthropic client
	requestOptions []option.RequestOption
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	return cfg, nil
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	retry := ai.DefaultRetryConfig()
	retry.MaxRetries = cfg.Retry.MaxRetries
	retry.InitialBackoff = cfg.Retry.InitialBackoff
	retry.MaxBackoff = cfg.Retry.MaxBackoff
	retry.Timeout = cfg.Retry.Timeout
	retry.CircuitBreakerEnabled = cfg.Retry.CircuitBreaker
	retry.MaxConcurrentCalls = cfg.MaxConcurrentCalls

	sup, err := ai.NewSupervisor(&ai.Config{
		Model:             cfg.Model,
		Temperature:       cfg.Temperature,
		MaxTokens:         cfg.MaxTokens,
		Retry:             retry,
		RequestsPerMinute: cfg.RequestsPerMinute,
		Options:           opts.requestOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AI supervisor: %w", err)
	}

	editor, err := ai.NewBlogEditor(sup, ai.EditorConfig{
		Criteria:    ai.CriteriaFor(cfg.Dimensions),
		Scale:       cfg.Scale,
		TargetScore: cfg.TargetScore,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create editor: %w", err)
	}

	registry := prometheus.NewRegistry()
	prom, err := iterative.NewPrometheusCollector(registry, artifactKind)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}
	inMemory := iterative.NewInMemoryMetricsCollector()

	a := &app{
		cfg:       cfg,
		sup:       sup,
		writer:    ai.NewBlogWriter(sup, ai.WithWordRange(cfg.MinWords, cfg.MaxWords), ai.WithWriterMaxTokens(cfg.MaxTokens)),
		editor:    editor,
		metrics:   inMemory,
		registry:  registry,
		collector: iterative.MultiCollector{inMemory, prom},
	}

	if opts.save {
		store, err := storage.NewStorage(ctx, &storage.Config{Path: cfg.DBPath})
		if err != nil {
			return nil, fmt.Errorf("failed to open history database: %w", err)
		}
		a.store = store
	}
	return a, nil
}

func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			slog.Warn("failed to close history database", "error", err)
		}
	}
}

// refine runs one loop for topic. observer may be nil. Runs are saved even
// when cancelled or failed; a save failure is logged, not returned.
func (a *app) refine(ctx context.Context, topic string, loop iterative.Config, observer func(iterative.IterationRecord[string])) (*iterative.LoopState[string], error) {
	c := &iterative.Controller[string]{
		Producer:  a.writer,
		Critic:    a.editor.ForTopic(topic),
		Collector: a.collector,
		Observer:  observer,
		Kind:      artifactKind,
	}

	state, err := c.Run(ctx, loop, topic)
	if state == nil {
		return nil, err
	}

	if a.store != nil {
		rec := sqlite.RunRecordFromState(state, topic, loop)
		rec.Kind = artifactKind
		rec.Model = a.sup.Model()
		// The run context may already be cancelled; the record is still wanted
		if saveErr := a.store.SaveRun(context.WithoutCancel(ctx), rec); saveErr != nil {
			slog.Warn("failed to save run", "run_id", state.RunID, "error", saveErr)
		}
	}
	return state, err
}

// serveMetrics exposes the app's Prometheus registry on addr until ctx ends.
func (a *app) serveMetrics(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("metrics server stopped", "addr", addr, "error", err)
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
}

// usageLine summarizes token usage and run outcomes for the invocation.
func (a *app) usageLine() string {
	usage := a.sup.TotalUsage()
	agg := a.metrics.GetAggregateMetrics()
	return fmt.Sprintf("Model %s | %d input / %d output tokens | %d runs, %.0f%% reached target",
		a.sup.Model(), usage.InputTokens, usage.OutputTokens, agg.TotalRuns, agg.SuccessRate())
}
