package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbPath     string
	noSave     bool
	debug      bool
)

var rootCmd = &cobra.Command{
	Use:   "refine",
	Short: "Draft and iteratively refine blog posts with a writer/editor loop",
	Long: `refine drafts a blog post with an AI writer, has an AI editor score and
critique it, and revises until the score meets the target or the
iteration budget runs out.

Configuration is read from --config (YAML), .env.local, .env and
REFINE_* environment variables. ANTHROPIC_API_KEY must be set.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelWarn
		if debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "History database path (overrides db_path)")
	rootCmd.PersistentFlags().BoolVar(&noSave, "no-save", false, "Do not record runs in the history database")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
