package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/repl"
)

var interactiveCmd = &cobra.Command{
	Use:     "interactive",
	Aliases: []string{"repl"},
	Short:   "Start an interactive shell that refines each topic you enter",
	Long: `Start an interactive shell. Each line that is not a command is treated
as a blog topic and refined while you watch. Ctrl+C during a run cancels
that run only.

Type 'help' in the shell for available commands.`,
	Run: func(cmd *cobra.Command, args []string) {
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

		ctx := context.Background()
		a, err := newApp(ctx, cfg, appOptions{save: !noSave})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer a.Close()

		r, err := repl.New(&repl.Config{
			Refine: func(ctx context.Context, topic string, loop iterative.Config) error {
				_, err := runOne(ctx, a, topic, loop, quiet)
				return err
			},
			Store: a.store,
			Loop:  cfg.LoopConfig(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create shell: %v\n", err)
			os.Exit(1)
		}

		if err := r.Run(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	interactiveCmd.Flags().BoolP("quiet", "q", false, "Print only scores for each iteration")
	addLoopFlags(interactiveCmd)
	rootCmd.AddCommand(interactiveCmd)
}
