package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/bootstrap"
	"github.com/HendryAvila/graphmcp/internal/embedding"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/metrics"
	"github.com/HendryAvila/graphmcp/internal/session"
)

// SyncGraph re-materializes one node, or every node when uid is empty.
func (g *Gateway) SyncGraph(ctx context.Context, uid string) (*Result, error) {
	return g.run(ctx, ToolSyncGraph, true, func(ctx context.Context, c *call) (string, any, error) {
		if g.sync == nil {
			return "", nil, newError(KindStoreUnavailable, "document-mirror", "the document mirror is not configured")
		}
		if uid = strings.TrimSpace(uid); uid != "" {
			n, err := g.load(ctx, c, uid)
			if err != nil {
				return "", nil, err
			}
			out, err := g.sync.Materialize(ctx, n.UID)
			if err != nil {
				return "", nil, err
			}
			return fmt.Sprintf("Synced %s: %s.", n.UID, out.Status), out, nil
		}

		report, err := g.sync.SyncAll(ctx)
		if err != nil {
			return "", nil, err
		}
		return report.Summary(), report, nil
	})
}

// Refreshed counts the outcome of RefreshKnowledge.
type Refreshed struct {
	Total    int      `json:"total"`
	Embedded int      `json:"embedded"`
	Failed   []string `json:"failed,omitempty"`
}

// RefreshKnowledge recomputes the embedding of every node in the active
// project. Only successes are counted; failures are listed.
func (g *Gateway) RefreshKnowledge(ctx context.Context) (*Result, error) {
	return g.run(ctx, ToolRefreshKnowledge, true, func(ctx context.Context, c *call) (string, any, error) {
		if !embedding.Available(g.embedder) {
			return "", nil, &Error{
				Kind:    KindStoreUnavailable,
				Rule:    "embedding-provider",
				Message: "no embedding provider is configured",
				Hint:    "set OPENAI_API_KEY and restart the server",
				Err:     embedding.ErrUnavailable,
			}
		}
		nodes, err := g.store.ListNodes(ctx, graph.NodeFilter{Project: c.state.Project})
		if err != nil {
			return "", nil, err
		}

		var out Refreshed
		for i := range nodes {
			n := &nodes[i]
			if graph.IsProtected(n.Type) || strings.TrimSpace(n.Text()) == "" {
				continue
			}
			if err := ctx.Err(); err != nil {
				return "", nil, err
			}
			out.Total++
			vec, err := g.embedder.Embed(ctx, n.Text())
			if err == nil {
				err = g.store.SetEmbedding(ctx, n.UID, vec)
			}
			if err != nil {
				metrics.EmbeddingFailures.Inc()
				out.Failed = append(out.Failed, n.UID)
				g.logger.Warn("embedding refresh failed", "request_id", c.id, "uid", n.UID, "error", err)
				continue
			}
			out.Embedded++
		}
		c.check("embedding", len(out.Failed) == 0, fmt.Sprintf("%d/%d embedded", out.Embedded, out.Total))
		return fmt.Sprintf("Refreshed %d of %d node(s).", out.Embedded, out.Total), out, nil
	})
}

// SwitchProject changes the active project. A relative root is resolved
// against the current directory and must exist when given.
func (g *Gateway) SwitchProject(ctx context.Context, project, root string) (*Result, error) {
	return g.run(ctx, ToolSwitchProject, false, func(ctx context.Context, c *call) (string, any, error) {
		project = strings.TrimSpace(project)
		if project == "" {
			return "", nil, invalid("project is required")
		}
		if root = strings.TrimSpace(root); root != "" {
			abs, err := filepath.Abs(root)
			if err != nil {
				return "", nil, invalid("project root %q: %v", root, err)
			}
			info, err := os.Stat(abs)
			if err != nil || !info.IsDir() {
				return "", nil, invalid("project root %s is not a directory", abs)
			}
			root = abs
		}
		st, err := g.session.SwitchProject(project, root)
		if err != nil {
			return "", nil, err
		}
		c.check("session", true, "persisted")
		return fmt.Sprintf("Active project is now %s.", st.Project), st, nil
	})
}

// SetWorkflow changes the workflow mode. Auditor makes the session
// read-only.
func (g *Gateway) SetWorkflow(ctx context.Context, mode string) (*Result, error) {
	return g.run(ctx, ToolSetWorkflow, false, func(ctx context.Context, c *call) (string, any, error) {
		m, err := session.ParseMode(mode)
		if err != nil {
			return "", nil, invalid("%v", err)
		}
		st, err := g.session.SetWorkflow(m)
		if err != nil {
			return "", nil, err
		}
		c.check("session", true, "persisted")
		msg := fmt.Sprintf("Workflow is now %s.", st.Workflow)
		if st.Workflow.ReadOnly() {
			msg += " Mutating tools are refused until the mode changes."
		}
		return msg, st, nil
	})
}

// ProposeChange validates a YAML meta-graph patch against the current
// physics and formats it for a human. Nothing is applied.
func (g *Gateway) ProposeChange(ctx context.Context, patch, rationale string) (*Result, error) {
	return g.run(ctx, ToolProposeChange, false, func(ctx context.Context, c *call) (string, any, error) {
		if strings.TrimSpace(patch) == "" {
			return "", nil, invalid("patch is required")
		}
		p, err := bootstrap.Propose(ctx, g.store, []byte(patch), rationale)
		if err != nil {
			if errors.Is(err, bootstrap.ErrInvalidSeed) {
				return "", nil, &Error{
					Kind:    KindSchemaViolation,
					Rule:    "meta-graph-patch",
					Message: err.Error(),
					Hint:    "explain_physics shows the current facts a patch may refer to",
					Err:     err,
				}
			}
			return "", nil, err
		}
		c.check("meta-graph-patch", true, fmt.Sprintf("%d addition(s), %d replacement(s)", len(p.Add), len(p.Replace)))
		return p.Format(), p, nil
	})
}
