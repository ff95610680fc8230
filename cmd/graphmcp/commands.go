package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/graphmcp/internal/bootstrap"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/server"
)

// open wires the components for a one-shot command.
func (a *app) open(ctx context.Context) (*server.Components, func(), error) {
	c, cleanup, err := server.Open(ctx, a.cfg, a.logger)
	if err != nil {
		return nil, cleanup, fmt.Errorf("opening graph: %w", err)
	}
	return c, cleanup, nil
}

// ─── sync ───────────────────────────────────────────────────────────────────

func (a *app) syncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync [uid]",
		Short: "Rewrite Graph_Export documents from the graph",
		Long: `Materializes one node, or every node when no uid is given. Documents edited by
humans are merged; conflicting edits are kept and tracked as BUG-Conflict-* nodes.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := a.open(cmd.Context())
			defer cleanup()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				o, err := c.Sync.Materialize(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s → %s (%s)\n", o.UID, o.Path, o.Status)
				if o.Tracker != "" {
					fmt.Fprintf(out, "conflict tracked by %s\n", o.Tracker)
				}
				return nil
			}

			report, err := c.Sync.SyncAll(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, report.Summary())
			for _, f := range report.Failures {
				fmt.Fprintf(out, "  %s: %s\n", f.UID, f.Error)
			}
			if len(report.Failures) > 0 {
				return fmt.Errorf("%d node(s) failed to sync", len(report.Failures))
			}
			return nil
		},
	}
}

// ─── ingest ─────────────────────────────────────────────────────────────────

func (a *app) ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <path>...",
		Short: "Read edited documents back into the graph",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := a.open(cmd.Context())
			defer cleanup()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			var errs []error
			for _, path := range args {
				res, err := c.Sync.Ingest(cmd.Context(), path)
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", path, err))
					continue
				}
				verb := "updated"
				if res.Created {
					verb = "created"
				}
				fmt.Fprintf(out, "%s (%s) %s from %s, %d edge(s) added\n", res.UID, res.Type, verb, res.Path, res.Edges)
				for _, target := range res.Skipped {
					fmt.Fprintf(out, "  skipped link to %s\n", target)
				}
			}
			return errors.Join(errs...)
		},
	}
}

// ─── watch ──────────────────────────────────────────────────────────────────

func (a *app) watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Follow human edits under Graph_Export until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			c, cleanup, err := a.open(ctx)
			defer cleanup()
			if err != nil {
				return err
			}
			stopWatch, err := a.startWatcher(ctx, c.Sync)
			if err != nil {
				return err
			}
			defer stopWatch()
			if a.cfg.ReconcileInterval > 0 {
				go c.Sync.RunReconciler(ctx, a.cfg.ReconcileInterval)
			}

			<-ctx.Done()
			a.logger.Info("watch stopped")
			return nil
		},
	}
}

// ─── bootstrap ──────────────────────────────────────────────────────────────

func (a *app) bootstrapCmd() *cobra.Command {
	var (
		seedFile  string
		overwrite bool
		printSeed bool
		export    bool
	)
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Load the meta-graph seed into the store",
		Long: `Loads node types, actions, constraints and allowed connections from a YAML seed.
Without --seed the built-in seed is used. Existing facts are kept unless
--overwrite is given; nothing is ever deleted.

--print writes the built-in seed to stdout, and --export writes the meta-graph
currently in the store, both without changing anything.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if printSeed {
				_, err := out.Write(bootstrap.DefaultYAML())
				return err
			}

			store, err := graph.NewSQLiteStore(a.cfg.Store())
			if err != nil {
				return fmt.Errorf("opening graph store: %w", err)
			}
			defer store.Close()

			if export {
				seed, err := bootstrap.Export(cmd.Context(), store)
				if err != nil {
					return err
				}
				enc := yaml.NewEncoder(out)
				enc.SetIndent(2)
				if err := enc.Encode(seed); err != nil {
					return fmt.Errorf("encoding seed: %w", err)
				}
				return enc.Close()
			}

			seed, err := loadSeed(seedFile)
			if err != nil {
				return err
			}
			report, err := bootstrap.Load(cmd.Context(), store, seed, bootstrap.Options{Overwrite: overwrite}, a.logger)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, report.String())
			return nil
		},
	}
	cmd.Flags().StringVar(&seedFile, "seed", "", "YAML seed file (default: built-in seed)")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace facts that already exist")
	cmd.Flags().BoolVar(&printSeed, "print", false, "print the built-in seed and exit")
	cmd.Flags().BoolVar(&export, "export", false, "print the meta-graph stored in the database and exit")
	cmd.MarkFlagsMutuallyExclusive("print", "export")
	cmd.MarkFlagsMutuallyExclusive("print", "seed")
	cmd.MarkFlagsMutuallyExclusive("export", "seed")
	return cmd
}

func loadSeed(path string) (*bootstrap.Seed, error) {
	if path == "" {
		return bootstrap.Default()
	}
	return bootstrap.ReadFile(path)
}
