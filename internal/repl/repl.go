// Package repl implements `refine interactive`: a shell that refines each
// entered topic and can browse stored history.
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
	"github.com/fatih/color"

	"github.com/steveyegge/refine/internal/iterative"
	"github.com/steveyegge/refine/internal/storage"
)

// RefineFunc refines one topic with the given loop settings.
type RefineFunc func(ctx context.Context, topic string, cfg iterative.Config) error

// REPL represents the interactive shell
type REPL struct {
	refine   RefineFunc
	store    storage.Storage
	loop     iterative.Config
	out      io.Writer
	rl       *readline.Instance
	ctx      context.Context
	commands map[string]command
}

// CommandHandler handles a specific command
type CommandHandler func(args []string) error

type command struct {
	handler CommandHandler
	// intArg commands also accept "<name> <integer>"
	intArg bool
}

// Config holds REPL configuration
type Config struct {
	Refine RefineFunc

	// Store enables the history and stats commands (optional)
	Store storage.Storage

	// Loop holds the initial budget and target; both can be changed in the shell
	Loop iterative.Config

	// Out defaults to stdout
	Out io.Writer
}

// New creates a new REPL instance
func New(cfg *Config) (*REPL, error) {
	if cfg.Refine == nil {
		return nil, fmt.Errorf("refine function is required")
	}

	out := cfg.Out
	if out == nil {
		out = os.Stdout
	}

	r := &REPL{
		refine:   cfg.Refine,
		store:    cfg.Store,
		loop:     cfg.Loop,
		out:      out,
		ctx:      context.Background(),
		commands: make(map[string]command),
	}

	// Register built-in commands
	r.registerCommands()

	return r, nil
}

// Run starts the REPL loop
func (r *REPL) Run(ctx context.Context) error {
	r.ctx = ctx

	cyan := color.New(color.FgCyan).SprintFunc()
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            cyan("refine> "),
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create readline: %w", err)
	}
	defer rl.Close()

	r.rl = rl
	r.printWelcome()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				// Ctrl+C at the prompt just shows the prompt again
				continue
			} else if err == io.EOF {
				fmt.Fprintln(r.out, "\nGoodbye!")
				return nil
			}
			return err
		}

		if err := r.processInput(line); err != nil {
			if err == io.EOF {
				return nil
			}
			red := color.New(color.FgRed).SprintFunc()
			fmt.Fprintf(r.out, "%s %v\n", red("Error:"), err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// processInput runs a command, or refines the line as a topic. A line is a
// command only when it is the bare command name, or the name plus one
// integer for commands that take one; "history of jazz" is a topic.
func (r *REPL) processInput(line string) error {
	line = strings.TrimSpace(line)
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	if cmd, ok := r.lookupCommand(parts); ok {
		return cmd.handler(parts[1:])
	}
	return r.refineTopic(line)
}

func (r *REPL) lookupCommand(parts []string) (command, bool) {
	cmd, ok := r.commands[parts[0]]
	if !ok {
		return command{}, false
	}
	switch len(parts) {
	case 1:
		return cmd, true
	case 2:
		if _, err := strconv.Atoi(parts[1]); err == nil && cmd.intArg {
			return cmd, true
		}
	}
	return command{}, false
}

// refineTopic runs one refinement. Ctrl+C while it runs cancels only this
// run; the shell stays open.
func (r *REPL) refineTopic(topic string) error {
	runCtx, stop := signal.NotifyContext(r.ctx, os.Interrupt)
	defer stop()
	return r.refine(runCtx, topic, r.loop)
}

// registerCommands registers all built-in commands
func (r *REPL) registerCommands() {
	r.commands["help"] = command{handler: r.cmdHelp}
	r.commands["?"] = command{handler: r.cmdHelp}
	r.commands["exit"] = command{handler: r.cmdExit}
	r.commands["quit"] = command{handler: r.cmdExit}
	r.commands["target"] = command{handler: r.cmdTarget, intArg: true}
	r.commands["iterations"] = command{handler: r.cmdIterations, intArg: true}
	r.commands["settings"] = command{handler: r.cmdSettings}
	r.commands["history"] = command{handler: r.cmdHistory, intArg: true}
	r.commands["stats"] = command{handler: r.cmdStats}
}

func (r *REPL) printWelcome() {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n", cyan("refine - iterative writer/editor loop"))
	fmt.Fprintln(r.out, "Enter a blog topic to draft and refine it.")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'exit' to quit")
	fmt.Fprintln(r.out, "Any other line, including one that starts with a command word, is a topic.")
	fmt.Fprintln(r.out)
}

// cmdHelp shows help information
func (r *REPL) cmdHelp(args []string) error {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s\n\n", cyan("Available Commands:"))

	commands := []struct {
		name string
		desc string
	}{
		{"<topic>", "Write and refine a blog post about the topic"},
		{"target <n>", "Set the target score"},
		{"iterations <n>", "Set the iteration budget"},
		{"settings", "Show the current budget and target"},
		{"history [n]", "List recent runs"},
		{"stats", "Summarize stored runs"},
		{"help, ?", "Show this help message"},
		{"exit, quit", "Exit the shell"},
	}
	for _, cmd := range commands {
		fmt.Fprintf(r.out, "  %-16s %s\n", green(cmd.name), cmd.desc)
	}
	fmt.Fprintln(r.out)
	return nil
}

// cmdExit exits the REPL
func (r *REPL) cmdExit(args []string) error {
	green := color.New(color.FgGreen).SprintFunc()
	fmt.Fprintf(r.out, "\n%s Goodbye!\n", green("✓"))
	return io.EOF // Signal to exit the loop
}

func (r *REPL) cmdTarget(args []string) error {
	n, err := singleInt(args, "target <n>")
	if err != nil {
		return err
	}
	r.loop.TargetScore = n
	return r.cmdSettings(nil)
}

func (r *REPL) cmdIterations(args []string) error {
	n, err := singleInt(args, "iterations <n>")
	if err != nil {
		return err
	}
	if n < 1 {
		return errors.New("iteration budget must be at least 1")
	}
	r.loop.MaxIterations = n
	return r.cmdSettings(nil)
}

func (r *REPL) cmdSettings(args []string) error {
	scale := r.loop.Scale
	if scale.IsZero() {
		scale = iterative.DefaultScale
	}
	fmt.Fprintf(r.out, "Budget: %d iterations, target %d (scale %s)\n", r.loop.MaxIterations, r.loop.TargetScore, scale)
	return nil
}

func singleInt(args []string, usage string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("usage: %s", usage)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", args[0])
	}
	return n, nil
}
