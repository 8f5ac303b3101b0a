package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/report"
)

var batchCmd = &cobra.Command{
	Use:   "batch <topics-file>",
	Short: "Refine one blog post per topic, several at a time",
	Long: `Read topics from a file (one per line; blank lines and lines starting
with # are ignored) and refine a post for each. Runs are independent: one
failing does not stop the others. Use "-" to read topics from stdin.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

		topics, err := readTopicsFile(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(topics) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no topics in %s\n", args[0])
			os.Exit(1)
		}

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if cmd.Flags().Changed("concurrency") {
			cfg.BatchConcurrency = concurrency
		}
		if err := applyLoopFlags(cmd, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, appOptions{save: !noSave})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		if metricsAddr != "" {
			a.serveMetrics(ctx, metricsAddr)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n", cyan(fmt.Sprintf("=== Refining %d topics (%d at a time) ===", len(topics), cfg.BatchConcurrency)))

		rows := runBatch(ctx, a, topics, cfg.BatchConcurrency, os.Stdout)

		fmt.Println()
		report.PrintBatchTable(os.Stdout, rows)

		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s\n", gray(a.usageLine()))
	},
}

// runBatch refines every topic with at most concurrency runs in flight.
// Each run gets its own state; rows come back in topic order.
func runBatch(ctx context.Context, a *app, topics []string, concurrency int, progress io.Writer) []report.BatchRow {
	rows := make([]report.BatchRow, len(topics))
	loop := a.cfg.LoopConfig()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(concurrency)

	for i, topic := range topics {
		g.Go(func() error {
			state, err := a.refine(ctx, topic, loop, nil)
			rows[i] = report.BatchRow{Brief: topic, State: state, Err: err}

			mu.Lock()
			defer mu.Unlock()
			printBatchProgress(progress, topic, state, err)
			// A failed run never cancels its siblings
			return nil
		})
	}
	_ = g.Wait()
	return rows
}

func printBatchProgress(w io.Writer, topic string, state *iterative.LoopState[string], err error) {
	red := color.New(color.FgRed).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()

	switch {
	case state == nil:
		fmt.Fprintf(w, "%s %s: %v\n", red("✗"), topic, err)
	case state.Reason == iterative.ReasonFailed:
		fmt.Fprintf(w, "%s %s: %v\n", red("✗"), topic, state.Err)
	default:
		final := 0
		if state.Score != nil {
			final = state.Score.Aggregate()
		}
		fmt.Fprintf(w, "%s %s: %s after %d iterations (score %d)\n",
			green("✓"), topic, report.ReasonLabel(state.Reason), state.Completed(), final)
	}
}

func readTopicsFile(path string) ([]string, error) {
	if path == "-" {
		return readTopics(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open topics file: %w", err)
	}
	defer f.Close()
	return readTopics(f)
}

func readTopics(r io.Reader) ([]string, error) {
	var topics []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		topics = append(topics, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read topics: %w", err)
	}
	return topics, nil
}

func init() {
	batchCmd.Flags().Int("concurrency", 2, "Number of posts refined at once")
	batchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	addLoopFlags(batchCmd)
	rootCmd.AddCommand(batchCmd)
}
