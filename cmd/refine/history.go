package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/report"
	"github.com/steveyegge/refine/internal/storage"
	"github.com/steveyegge/refine/internal/storage/sqlite"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded refinement runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs",
	Run: func(cmd *cobra.Command, args []string) {
		limit, _ := cmd.Flags().GetInt("limit")

		store := openHistory()
		defer store.Close()

		runs, err := store.ListRuns(context.Background(), limit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(runs) == 0 {
			fmt.Println("No runs recorded")
			return
		}
		printRunList(os.Stdout, runs)
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its score trend and final post",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		drafts, _ := cmd.Flags().GetBool("drafts")

		store := openHistory()
		defer store.Close()

		run, err := store.GetRun(context.Background(), args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if run == nil {
			store.Close()
			fmt.Fprintf(os.Stderr, "Error: run %s not found\n", args[0])
			os.Exit(1)
		}
		printRun(os.Stdout, run, drafts)
	},
}

var historyStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize all recorded runs",
	Run: func(cmd *cobra.Command, args []string) {
		store := openHistory()
		defer store.Close()

		stats, err := store.GetStatistics(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
		fmt.Printf("\n%s\n\n", cyan("=== Run Statistics ==="))
		fmt.Printf("Runs:            %d\n", stats.TotalRuns)
		for _, reason := range []iterative.TerminationReason{
			iterative.ReasonTargetReached,
			iterative.ReasonBudgetExhausted,
			iterative.ReasonCancelled,
			iterative.ReasonFailed,
		} {
			fmt.Printf("  %-28s %d\n", report.ReasonLabel(reason), stats.ByReason[reason])
		}
		fmt.Printf("Iterations:      %d (avg %.1f per run)\n", stats.TotalIterations, stats.AvgIterations)
		fmt.Printf("Avg final score: %.1f\n", stats.AvgFinalScore)
		fmt.Printf("Avg improvement: %+.1f\n", stats.AvgImprovement)
	},
}

func openHistory() storage.Storage {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	store, err := storage.NewStorage(context.Background(), &storage.Config{Path: cfg.DBPath})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to open history database: %v\n", err)
		os.Exit(1)
	}
	return store
}

func printRunList(w io.Writer, runs []*sqlite.RunRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tSTARTED\tRESULT\tITERATIONS\tSCORE\tTOPIC")
	for _, run := range runs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d/%d\t%d -> %d\t%s\n",
			run.ID, run.StartedAt.Local().Format("2006-01-02 15:04"), run.Reason,
			run.IterationCount, run.MaxIterations, run.FirstScore, run.FinalScore, run.Brief)
	}
	_ = tw.Flush()
}

// printRun renders a stored run the same way a live run is summarized.
func printRun(w io.Writer, run *sqlite.RunRecord, drafts bool) {
	fmt.Fprintf(w, "Topic:   %s\n", run.Brief)
	fmt.Fprintf(w, "Model:   %s\n", run.Model)
	fmt.Fprintf(w, "Started: %s\n", run.StartedAt.Local().Format("2006-01-02 15:04:05"))

	state := &iterative.LoopState[string]{
		RunID:       run.ID,
		Artifact:    run.FinalArtifact,
		Iteration:   run.IterationCount,
		History:     run.Iterations,
		Reason:      run.Reason,
		ElapsedTime: run.Elapsed,
		StartedAt:   run.StartedAt,
	}
	if n := len(run.Iterations); n > 0 {
		score := run.Iterations[n-1].Score
		state.Score = &score
	}
	if run.Error != "" {
		state.Err = errors.New(run.Error)
	}

	loop := iterative.Config{MaxIterations: run.MaxIterations, TargetScore: run.TargetScore, Scale: run.Scale}
	printer := report.NewPrinter(w, loop)
	if drafts {
		for _, rec := range run.Iterations {
			printer.PrintIteration(rec)
			report.PrintArtifact(w, rec.Artifact)
		}
	}
	printer.PrintSummary(state)

	if !drafts && run.FinalArtifact != "" {
		fmt.Fprintln(w)
		report.PrintArtifact(w, run.FinalArtifact)
	}
}

func init() {
	historyListCmd.Flags().IntP("limit", "n", 20, "Maximum number of runs to list (0 = all)")
	historyShowCmd.Flags().Bool("drafts", false, "Show every draft with its critique")
	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyStatsCmd)
	rootCmd.AddCommand(historyCmd)
}
