package repl

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fatih/color"

	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/report"
)

var errNoStore = errors.New("history is disabled (no database)")

// cmdHistory lists recent runs
func (r *REPL) cmdHistory(args []string) error {
	if r.store == nil {
		return errNoStore
	}

	limit := 10
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 1 {
			return fmt.Errorf("usage: history [n]")
		}
		limit = n
	}

	runs, err := r.store.ListRuns(r.ctx, limit)
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(runs) == 0 {
		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Fprintf(r.out, "  %s\n", gray("No runs yet"))
		return nil
	}

	for _, run := range runs {
		fmt.Fprintf(r.out, "  %s  %s  %d iterations  %d -> %d  %s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04"),
			report.ReasonLabel(run.Reason),
			run.IterationCount, run.FirstScore, run.FinalScore,
			run.Brief)
	}
	return nil
}

// cmdStats summarizes stored runs
func (r *REPL) cmdStats(args []string) error {
	if r.store == nil {
		return errNoStore
	}

	stats, err := r.store.GetStatistics(r.ctx)
	if err != nil {
		return fmt.Errorf("failed to get statistics: %w", err)
	}

	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Run Statistics"))
	fmt.Fprintf(r.out, "  Runs:             %d\n", stats.TotalRuns)
	for _, reason := range []iterative.TerminationReason{
		iterative.ReasonTargetReached,
		iterative.ReasonBudgetExhausted,
		iterative.ReasonCancelled,
		iterative.ReasonFailed,
	} {
		fmt.Fprintf(r.out, "    %-28s %d\n", report.ReasonLabel(reason), stats.ByReason[reason])
	}
	fmt.Fprintf(r.out, "  Avg iterations:   %.1f\n", stats.AvgIterations)
	fmt.Fprintf(r.out, "  Avg final score:  %.1f\n", stats.AvgFinalScore)
	fmt.Fprintf(r.out, "  Avg improvement:  %+.1f\n", stats.AvgImprovement)
	fmt.Fprintln(r.out)
	return nil
}
