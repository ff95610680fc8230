// graphmcp: a project knowledge graph served over MCP.
//
// The graph carries its own rules (node types, actions, constraints and
// allowed connections) and mirrors every node as a markdown document that
// humans can edit.
//
// Usage:
//
//	graphmcp serve              # Start MCP server (stdio transport)
//	graphmcp sync [uid]         # Rewrite documents from the graph
//	graphmcp ingest <path>...   # Read edited documents into the graph
//	graphmcp watch              # Follow document edits until interrupted
//	graphmcp bootstrap          # Load or print the meta-graph seed
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/graphmcp/internal/config"
	"github.com/HendryAvila/graphmcp/internal/server"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// app holds what the persistent pre-run resolves for every subcommand.
type app struct {
	cfg    config.Config
	logger *slog.Logger

	dataDir   string
	workspace string
	project   string
	agent     string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "graphmcp",
		Short: "Project knowledge graph served over MCP",
		Long: `graphmcp keeps a project's ideas, specs, requirements and tasks in a graph whose
rules live in the graph itself, and mirrors every node as a markdown document
under Graph_Export/.

Settings come from the environment (WORKSPACE_ROOT, GRAPHMCP_*, OPENAI_*);
flags override them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.dataDir, "data-dir", "", "directory holding the graph database and session")
	pf.StringVar(&a.workspace, "workspace", "", "workspace root; documents go to <workspace>/Graph_Export")
	pf.StringVar(&a.project, "project", "", "initial project for a new session")
	pf.StringVar(&a.agent, "agent", "", "agent identifier recorded on created nodes")
	pf.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")

	root.AddCommand(
		a.serveCmd(),
		a.syncCmd(),
		a.ingestCmd(),
		a.watchCmd(),
		a.bootstrapCmd(),
		versionCmd(),
	)
	return root
}

// setup loads the environment, applies flag overrides and builds the logger.
func (a *app) setup(logOut io.Writer) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	if a.dataDir != "" {
		cfg.DataDir = a.dataDir
	}
	if a.workspace != "" {
		cfg.WorkspaceRoot = a.workspace
	}
	if a.project != "" {
		cfg.Project = a.project
	}
	if a.agent != "" {
		cfg.AgentID = a.agent
	}
	if a.logLevel != "" {
		level, err := config.ParseLevel(a.logLevel)
		if err != nil {
			return err
		}
		cfg.LogLevel = level
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = newLogger(logOut, cfg.LogLevel)
	slog.SetDefault(a.logger)
	return nil
}

// newLogger writes text to a terminal and JSON everywhere else. Stdout is
// the MCP transport, so logs always go to w (stderr in practice).
func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		// Skips the root pre-run: printing the version needs no config.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graphmcp v%s\n", server.Version)
		},
	}
}
