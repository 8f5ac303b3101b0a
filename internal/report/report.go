// Package report renders refinement progress and results for the console.
package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"

	"github.com/steveyegge/refine/internal/iterative"
)

var (
	cyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	yellow = color.New(color.FgYellow).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()

	artifactStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")).
			Padding(0, 1)
)

// Printer writes per-iteration progress and the final summary of one run.
// It remembers the previous artifact so each iteration can report how much
// of the draft changed.
type Printer struct {
	w     io.Writer
	cfg   iterative.Config
	prev  *string
	Quiet bool
}

// NewPrinter creates a printer for a run with the given config.
func NewPrinter(w io.Writer, cfg iterative.Config) *Printer {
	if cfg.Scale.IsZero() {
		cfg.Scale = iterative.DefaultScale
	}
	return &Printer{w: w, cfg: cfg}
}

// PrintHeader announces a new run.
func (p *Printer) PrintHeader(brief string) {
	fmt.Fprintf(p.w, "\n%s\n", cyan("=== Refining ==="))
	fmt.Fprintf(p.w, "Topic:  %s\n", brief)
	fmt.Fprintf(p.w, "Budget: %d iterations, target %d (scale %s)\n\n", p.cfg.MaxIterations, p.cfg.TargetScore, p.cfg.Scale)
}

// PrintIteration reports one completed iteration. It is meant to be used as
// a Controller observer.
func (p *Printer) PrintIteration(rec iterative.IterationRecord[string]) {
	agg := rec.Score.Aggregate()
	scoreColor := yellow
	if agg >= p.cfg.TargetScore {
		scoreColor = green
	}

	line := fmt.Sprintf("Iteration %d: score %s", rec.Iteration, scoreColor(fmt.Sprintf("%d/%d", agg, p.cfg.Scale.Max)))
	if p.prev != nil {
		line += "  " + gray(Diff(*p.prev, rec.Artifact).String())
	} else {
		line += "  " + gray(fmt.Sprintf("%d words", len(strings.Fields(rec.Artifact))))
	}
	fmt.Fprintln(p.w, line)

	artifact := rec.Artifact
	p.prev = &artifact

	if p.Quiet {
		return
	}
	fmt.Fprintf(p.w, "  %s\n", gray(formatDimensions(rec.Score)))
	if rec.Feedback.Assessment != "" {
		fmt.Fprintf(p.w, "  %s\n", rec.Feedback.Assessment)
	}
	for _, issue := range rec.Feedback.Issues {
		fmt.Fprintf(p.w, "  - %s\n", issue)
	}
}

// PrintSummary reports how the run ended and the score trend.
func (p *Printer) PrintSummary(state *iterative.LoopState[string]) {
	fmt.Fprintf(p.w, "\n%s\n", cyan("=== Summary ==="))
	fmt.Fprintf(p.w, "Run:         %s\n", state.RunID)
	fmt.Fprintf(p.w, "Result:      %s\n", ReasonLabel(state.Reason))
	fmt.Fprintf(p.w, "Iterations:  %d/%d\n", state.Completed(), p.cfg.MaxIterations)

	if state.Score != nil {
		final := state.Score.Aggregate()
		fmt.Fprintf(p.w, "Final score: %d (target %d, scale %s)\n", final, p.cfg.TargetScore, p.cfg.Scale)
		fmt.Fprintf(p.w, "Improvement: %d -> %d (%s)\n", state.FirstScore(), final, signed(state.Delta()))
	} else {
		fmt.Fprintf(p.w, "Final score: %s\n", gray("none"))
	}
	if state.Err != nil {
		fmt.Fprintf(p.w, "Error:       %s\n", red(state.Err.Error()))
	}
	fmt.Fprintf(p.w, "Elapsed:     %s\n", state.ElapsedTime.Round(time.Millisecond))

	if len(state.History) > 0 {
		fmt.Fprintln(p.w, "Trend:")
		for i, rec := range state.History {
			agg := rec.Score.Aggregate()
			if i == 0 {
				fmt.Fprintf(p.w, "  #%-3d %3d\n", rec.Iteration, agg)
				continue
			}
			prev := state.History[i-1]
			fmt.Fprintf(p.w, "  #%-3d %3d  %-6s %s\n", rec.Iteration, agg,
				signed(agg-prev.Score.Aggregate()), gray(Diff(prev.Artifact, rec.Artifact).String()))
		}
	}
}

// PrintArtifact prints the final artifact inside a panel.
func PrintArtifact(w io.Writer, artifact string) {
	if strings.TrimSpace(artifact) == "" {
		return
	}
	fmt.Fprintln(w, artifactStyle.Render(artifact))
}

// BatchRow is one line of a batch summary table.
type BatchRow struct {
	Brief string
	State *iterative.LoopState[string]
	Err   error
}

// PrintBatchTable prints one row per batch entry.
func PrintBatchTable(w io.Writer, rows []BatchRow) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TOPIC\tRESULT\tITERATIONS\tFIRST\tFINAL\tDELTA\tRUN")
	for _, row := range rows {
		if row.State == nil {
			fmt.Fprintf(tw, "%s\t%s\t-\t-\t-\t-\t-\n", truncate(row.Brief, 40), "error: "+errString(row.Err))
			continue
		}
		final := "-"
		if row.State.Score != nil {
			final = fmt.Sprintf("%d", row.State.Score.Aggregate())
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\t%s\n",
			truncate(row.Brief, 40), row.State.Reason, row.State.Completed(),
			row.State.FirstScore(), final, signed(row.State.Delta()), row.State.RunID)
	}
	_ = tw.Flush()
}

// ReasonLabel is the human-readable form of a termination reason.
func ReasonLabel(reason iterative.TerminationReason) string {
	switch reason {
	case iterative.ReasonTargetReached:
		return green("target reached")
	case iterative.ReasonBudgetExhausted:
		return yellow("iteration budget exhausted")
	case iterative.ReasonCancelled:
		return yellow("cancelled")
	case iterative.ReasonFailed:
		return red("failed")
	default:
		return string(reason)
	}
}

func formatDimensions(score iterative.Score) string {
	parts := make([]string, len(score.Dimensions))
	for i, d := range score.Dimensions {
		parts[i] = fmt.Sprintf("%s %d", d.Name, d.Value)
	}
	return strings.Join(parts, " | ")
}

func signed(n int) string {
	if n > 0 {
		return fmt.Sprintf("+%d", n)
	}
	return fmt.Sprintf("%d", n)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func errString(err error) string {
	if err == nil {
		return "unknown"
	}
	return err.Error()
}
