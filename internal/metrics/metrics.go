// Package metrics exposes Prometheus counters for policy decisions,
// document synchronization and embedding health.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for gateway decisions.
const (
	OutcomeAllowed             = "allowed"
	OutcomePolicyDenied        = "policy_denied"
	OutcomeWorkflowDenied      = "workflow_denied"
	OutcomeConstraintViolation = "constraint_violation"
	OutcomeSchemaViolation     = "schema_violation"
	OutcomeIntegrity           = "integrity_violation"
	OutcomeNotFound            = "not_found"
	OutcomeStoreUnavailable    = "store_unavailable"
	OutcomeInvalidArgument     = "invalid_argument"
)

var (
	// PolicyDecisions counts gateway decisions by tool and outcome.
	PolicyDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmcp_policy_decisions_total",
		Help: "Gateway decisions by tool and outcome",
	}, []string{"tool", "outcome"})

	// Materializations counts materialize() results by merge status.
	Materializations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "graphmcp_materializations_total",
		Help: "Document materializations by merge status",
	}, []string{"status"})

	// MaterializeErrors counts per-node sync failures.
	MaterializeErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphmcp_materialize_errors_total",
		Help: "Per-node document synchronization failures",
	})

	// Ingested counts documents ingested into the graph.
	Ingested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphmcp_documents_ingested_total",
		Help: "Documents ingested from the mirror",
	})

	// SyncDuration tracks full reconciliation passes.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "graphmcp_sync_all_duration_seconds",
		Help:    "Duration of full reconciliation passes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	// EmbeddingFailures counts best-effort embeddings that were skipped.
	EmbeddingFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "graphmcp_embedding_failures_total",
		Help: "Embeddings skipped because the provider was unavailable",
	})
)

// Serve exposes /metrics on addr until ctx is cancelled. Listener failures
// are logged and do not stop the caller.
func Serve(ctx context.Context, addr string, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("metrics listener started", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("metrics listener stopped", "addr", addr, "error", err)
	}
}
