package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/refine/internal/config"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check configuration, API access and the history database",
	Long: `Run checks that catch common setup problems before a long run.

This command checks for:
- A valid configuration (file, .env and REFINE_* variables)
- ANTHROPIC_API_KEY
- The history database opening and migrating
- The model answering a one-line prompt (skip with --offline)

Exits with status 1 if any check fails.`,
	Run: func(cmd *cobra.Command, args []string) {
		offline, _ := cmd.Flags().GetBool("offline")

		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if failures := runDoctor(ctx, os.Stdout, cfg, doctorOptions{offline: offline}); failures > 0 {
			cancel()
			os.Exit(1)
		}
	},
}

type doctorOptions struct {
	offline bool
	app     appOptions
}

// runDoctor prints one line per check and returns the number of failures.
func runDoctor(ctx context.Context, w io.Writer, cfg *config.Config, opts doctorOptions) int {
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	cyan := color.New(color.FgCyan).SprintFunc()

	failures := 0
	fail := func(format string, args ...any) {
		failures++
		fmt.Fprintf(w, "  %s %s\n", red("✗"), fmt.Sprintf(format, args...))
	}
	pass := func(format string, args ...any) {
		fmt.Fprintf(w, "  %s %s\n", green("✓"), fmt.Sprintf(format, args...))
	}

	fmt.Fprintf(w, "%s Configuration\n", cyan("→"))
	pass("%d iterations, target %d, scale %s, %d dimensions", cfg.MaxIterations, cfg.TargetScore, cfg.Scale, len(cfg.Dimensions))
	if cfg.TargetScore > cfg.Scale.Max {
		fmt.Fprintf(w, "  %s target %d is above the scale maximum %d and can never be reached\n", yellow("⚠"), cfg.TargetScore, cfg.Scale.Max)
	}

	fmt.Fprintf(w, "%s API key\n", cyan("→"))
	if os.Getenv("ANTHROPIC_API_KEY") == "" {
		fail("ANTHROPIC_API_KEY is not set")
		return failures
	}
	pass("ANTHROPIC_API_KEY is set")

	fmt.Fprintf(w, "%s History database\n", cyan("→"))
	appOpts := opts.app
	appOpts.save = true
	a, err := newApp(ctx, cfg, appOpts)
	if err != nil {
		fail("%v", err)
		return failures
	}
	defer a.Close()

	stats, err := a.store.GetStatistics(ctx)
	if err != nil {
		fail("cannot read %s: %v", cfg.DBPath, err)
	} else {
		pass("%s (%d runs recorded)", cfg.DBPath, stats.TotalRuns)
	}

	fmt.Fprintf(w, "%s Model\n", cyan("→"))
	if opts.offline {
		fmt.Fprintf(w, "  %s skipped (--offline)\n", yellow("-"))
		return failures
	}
	if err := a.sup.HealthCheck(ctx); err != nil {
		fail("%v", err)
		return failures
	}
	if _, _, err := a.sup.CallAI(ctx, "doctor", "", "Reply with the single word OK.", 16); err != nil {
		fail("%s did not answer: %v", a.sup.Model(), err)
	} else {
		pass("%s answered", a.sup.Model())
	}
	return failures
}

func init() {
	doctorCmd.Flags().Bool("offline", false, "Skip the live model check")
	rootCmd.AddCommand(doctorCmd)
}
