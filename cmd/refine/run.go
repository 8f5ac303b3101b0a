package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/refine/internal/config"
	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/report"
)

// DefaultTopic is the topic refined when --topic is not given
const DefaultTopic = "How AI is transforming personalized learning in education"

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Write and refine one blog post",
	Long: `Draft a blog post on a topic, then alternate editor critique and writer
revision until the editor's score meets the target or the iteration budget
is spent. Ctrl+C stops after the current stage and still reports the run.`,
	Run: func(cmd *cobra.Command, args []string) {
		topic, _ := cmd.Flags().GetString("topic")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		quiet, _ := cmd.Flags().GetBool("quiet")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
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

		state, err := runOne(ctx, a, topic, cfg.LoopConfig(), quiet)
		if err != nil && state == nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		fmt.Printf("\n%s\n", gray(a.usageLine()))

		if state.Reason == iterative.ReasonFailed {
			a.Close()
			os.Exit(1)
		}
	},
}

// runOne refines topic and prints progress, the summary and the final post
// to stdout.
func runOne(ctx context.Context, a *app, topic string, loop iterative.Config, quiet bool) (*iterative.LoopState[string], error) {
	printer := report.NewPrinter(os.Stdout, loop)
	printer.Quiet = quiet
	printer.PrintHeader(topic)

	state, err := a.refine(ctx, topic, loop, printer.PrintIteration)
	if state == nil {
		return nil, err
	}

	printer.PrintSummary(state)
	if state.Completed() > 0 {
		fmt.Println()
		report.PrintArtifact(os.Stdout, state.Artifact)
	}
	return state, err
}

// applyLoopFlags overrides the loaded config with explicitly set flags.
func applyLoopFlags(cmd *cobra.Command, cfg *config.Config) error {
	if cmd.Flags().Changed("max-iterations") {
		cfg.MaxIterations, _ = cmd.Flags().GetInt("max-iterations")
	}
	if cmd.Flags().Changed("target") {
		cfg.TargetScore, _ = cmd.Flags().GetInt("target")
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func addLoopFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-iterations", 10, "Maximum write/critique rounds per post")
	cmd.Flags().Int("target", 80, "Stop once the editor's aggregate score reaches this")
}

func init() {
	runCmd.Flags().StringP("topic", "t", DefaultTopic, "Blog post topic")
	runCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	runCmd.Flags().BoolP("quiet", "q", false, "Print only scores for each iteration")
	addLoopFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}
