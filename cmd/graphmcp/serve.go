package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/metrics"
	"github.com/HendryAvila/graphmcp/internal/server"
)

func (a *app) serveCmd() *cobra.Command {
	var (
		watch       bool
		metricsAddr string
		reconcile   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server on stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("watch") {
				a.cfg.Watch = watch
			}
			if cmd.Flags().Changed("metrics-addr") {
				a.cfg.MetricsAddr = metricsAddr
			}
			if cmd.Flags().Changed("reconcile-interval") {
				a.cfg.ReconcileInterval = reconcile
			}
			return a.runServe(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "follow human edits under Graph_Export while serving")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().DurationVar(&reconcile, "reconcile-interval", 0, "rewrite every document on this interval (0 disables)")
	return cmd
}

func (a *app) runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, cleanup, err := server.Open(ctx, a.cfg, a.logger)
	defer cleanup()
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	// Background workers log to stderr so they don't interfere with the
	// stdio transport on stdout.
	if a.cfg.Watch {
		stopWatch, err := a.startWatcher(ctx, c.Sync)
		if err != nil {
			a.logger.Warn("document watcher disabled", "error", err)
		} else {
			defer stopWatch()
		}
	}
	if a.cfg.ReconcileInterval > 0 {
		go c.Sync.RunReconciler(ctx, a.cfg.ReconcileInterval)
	}
	if a.cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, a.cfg.MetricsAddr, a.logger)
	}

	a.logger.Info("serving", "version", server.Version, "data_dir", a.cfg.DataDir,
		"workspace", a.cfg.WorkspaceRoot, "project", c.Session.Current().Project)
	return mcpserver.ServeStdio(server.New(c))
}

// startWatcher follows the export tree and logs every processed batch.
func (a *app) startWatcher(ctx context.Context, engine *docsync.Engine) (func(), error) {
	w, err := docsync.NewWatcher(engine, docsync.WatcherOptions{
		OnBatch: func(b docsync.BatchResult) {
			a.logger.Info("documents processed", "batch", b.ID, "ingested", len(b.Ingested),
				"materialized", b.Materialized, "removed", len(b.Removed), "failures", len(b.Failures))
		},
	}, a.logger.With("component", "watcher"))
	if err != nil {
		return nil, err
	}
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return nil, err
	}
	return w.Stop, nil
}
