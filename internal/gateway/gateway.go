// Package gateway is the single entry point for every graph operation.
//
// Each call runs the same pipeline: resolve the agent's cursor to a node
// type, ask the policy engine whether the tool is visible from there, refuse
// mutations in read-only workflow modes, run the operation (which performs
// its own content and schema validation before committing) and finally
// re-materialize every node the operation touched. Errors leave the gateway
// as *Error values from a closed taxonomy; it is the only place raw store
// errors are translated.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/HendryAvila/graphmcp/internal/cursor"
	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/embedding"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/metrics"
	"github.com/HendryAvila/graphmcp/internal/policy"
	"github.com/HendryAvila/graphmcp/internal/session"
)

// Tool names. Each one is an Action in the meta-graph.
const (
	ToolLookAround       = "look_around"
	ToolMoveTo           = "move_to"
	ToolCreateConcept    = policy.CreateTool
	ToolRegisterTask     = "register_task"
	ToolReadNode         = "read_node"
	ToolUpdateNode       = "update_node"
	ToolDeleteNode       = "delete_node"
	ToolLinkNodes        = "link_nodes"
	ToolDeleteLink       = "delete_link"
	ToolLookForSimilar   = "look_for_similar"
	ToolExplainPhysics   = "explain_physics"
	ToolGetFullContext   = "get_full_context"
	ToolIlluminatePath   = "illuminate_path"
	ToolSyncGraph        = "sync_graph"
	ToolFindOrphans      = "find_orphans"
	ToolSwitchProject    = "switch_project"
	ToolSetWorkflow      = "set_workflow"
	ToolRefreshKnowledge = "refresh_knowledge"
	ToolProposeChange    = "propose_change"
)

// Deps are the collaborators a Gateway is built from. Sync and Embedder
// may be nil: the mirror is then skipped and semantic features report the
// provider as unavailable.
type Deps struct {
	Store    graph.Store
	Policy   *policy.Engine
	Cursor   *cursor.Cursor
	Session  *session.Session
	Sync     *docsync.Engine
	Embedder embedding.Provider
	Logger   *slog.Logger
}

// Gateway authorizes and executes operations.
type Gateway struct {
	store    graph.Store
	policy   *policy.Engine
	cursor   *cursor.Cursor
	session  *session.Session
	sync     *docsync.Engine
	embedder embedding.Provider
	logger   *slog.Logger
}

// New creates a Gateway.
func New(d Deps) *Gateway {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Embedder == nil {
		d.Embedder = embedding.Unavailable{}
	}
	return &Gateway{
		store:    d.Store,
		policy:   d.Policy,
		cursor:   d.Cursor,
		session:  d.Session,
		sync:     d.Sync,
		embedder: d.Embedder,
		logger:   d.Logger,
	}
}

// Session returns the current session state.
func (g *Gateway) Session() session.State { return g.session.Current() }

// Sync returns the synchronization engine, nil when the mirror is disabled.
func (g *Gateway) Sync() *docsync.Engine { return g.sync }

// ─── Results ────────────────────────────────────────────────────────────────

// Check is one rule the gateway evaluated for a call.
type Check struct {
	Rule   string `json:"rule"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Result is what every successful operation returns. Checks echoes the rules
// that were evaluated, in order.
type Result struct {
	RequestID  string            `json:"request_id"`
	Tool       string            `json:"tool"`
	Message    string            `json:"message"`
	Checks     []Check           `json:"checks"`
	Affected   []string          `json:"affected,omitempty"`
	Sync       []docsync.Outcome `json:"sync,omitempty"`
	SyncErrors []string          `json:"sync_errors,omitempty"`
	Data       any               `json:"data,omitempty"`
}

// ─── Pipeline ───────────────────────────────────────────────────────────────

type touched struct {
	uid  string
	base *string
}

type removal struct {
	uid      string
	nodeType string
}

// call carries per-request state through an operation.
type call struct {
	id        string
	tool      string
	state     session.State
	location  *graph.Node
	permitted policy.ActionSet
	checks    []Check
	touched   []touched
	removed   []removal
}

func (c *call) check(rule string, passed bool, detail string) {
	c.checks = append(c.checks, Check{Rule: rule, Passed: passed, Detail: detail})
}

// touch queues uid for materialization once the operation succeeds.
func (c *call) touch(uid string) {
	c.touched = append(c.touched, touched{uid: uid})
}

// touchAfterWrite queues uid whose stored text just changed from previous.
func (c *call) touchAfterWrite(uid, previous string) {
	c.touched = append(c.touched, touched{uid: uid, base: &previous})
}

func (c *call) remove(uid, nodeType string) {
	c.removed = append(c.removed, removal{uid: uid, nodeType: nodeType})
}

type handler func(ctx context.Context, c *call) (message string, data any, err error)

// run executes h behind the authorization pipeline.
func (g *Gateway) run(ctx context.Context, tool string, mutating bool, h handler) (*Result, error) {
	c := &call{id: uuid.NewString(), tool: tool, state: g.session.Current()}

	msg, data, err := g.execute(ctx, c, mutating, h)
	if err != nil {
		ge := translate(err)
		metrics.PolicyDecisions.WithLabelValues(tool, outcomes[ge.Kind]).Inc()
		level := slog.LevelInfo
		if ge.Kind == KindStoreUnavailable {
			level = slog.LevelWarn
		}
		g.logger.Log(ctx, level, "operation refused", "request_id", c.id, "tool", tool,
			"kind", ge.Kind, "rule", ge.Rule, "error", ge.Message)
		return nil, ge
	}
	metrics.PolicyDecisions.WithLabelValues(tool, metrics.OutcomeAllowed).Inc()

	res := &Result{RequestID: c.id, Tool: tool, Message: msg, Checks: c.checks, Data: data}
	g.flush(ctx, c, res)
	g.logger.Debug("operation completed", "request_id", c.id, "tool", tool, "affected", len(res.Affected))
	return res, nil
}

func (g *Gateway) execute(ctx context.Context, c *call, mutating bool, h handler) (string, any, error) {
	loc, err := g.cursor.Resolve(ctx, c.state.AgentID)
	if err != nil {
		return "", nil, fmt.Errorf("resolving cursor: %w", err)
	}
	c.location = loc

	permitted, perr := g.policy.ResolvePermittedActions(ctx, loc.Type)
	c.permitted = permitted
	if !permitted.Has(c.tool) {
		if perr != nil {
			return "", nil, &Error{
				Kind:    KindStoreUnavailable,
				Rule:    "meta-graph",
				Message: fmt.Sprintf("the meta-graph could not be read; only %s is available until it recovers", strings.Join(policy.MinimalActions, ", ")),
				Err:     perr,
			}
		}
		return "", nil, g.denied(ctx, c)
	}
	c.check("permission", true, fmt.Sprintf("%s is visible from %s (%s)", c.tool, loc.UID, loc.Type))

	if mutating {
		if c.state.Workflow.ReadOnly() {
			return "", nil, &Error{
				Kind:    KindWorkflowDenied,
				Rule:    "workflow-mode",
				Message: fmt.Sprintf("%s mutates the graph and the session is in %s mode", c.tool, c.state.Workflow),
				Hint:    "call set_workflow with Architect or Builder to make changes",
			}
		}
		c.check("workflow", true, string(c.state.Workflow)+" mode allows mutations")
	}

	return h(ctx, c)
}

// denied builds a PolicyDenied error that tells the agent where the tool
// becomes visible.
func (g *Gateway) denied(ctx context.Context, c *call) *Error {
	e := &Error{
		Kind:    KindPolicyDenied,
		Rule:    "can-perform",
		Message: fmt.Sprintf("%s is not available while focused on %s (%s)", c.tool, c.location.UID, c.location.Type),
	}
	ex, err := g.policy.Explain(ctx, c.location.Type, c.tool)
	switch {
	case err != nil:
	case len(ex.UnlockFrom) > 0:
		e.Hint = fmt.Sprintf("move_to a node of type %s; available here: %s",
			strings.Join(ex.UnlockFrom, " or "), strings.Join(c.permitted.Tools(), ", "))
	default:
		e.Hint = "available here: " + strings.Join(c.permitted.Tools(), ", ")
	}
	return e
}

// flush materializes touched nodes and removes deleted documents. Mirror
// failures never fail the call; syncAll re-derives the mirror later.
func (g *Gateway) flush(ctx context.Context, c *call, res *Result) {
	seen := make(map[string]bool)
	for _, r := range c.removed {
		seen[r.uid] = true
		res.Affected = append(res.Affected, r.uid)
		if g.sync == nil {
			continue
		}
		if _, err := g.sync.Remove(r.uid, r.nodeType); err != nil {
			res.SyncErrors = append(res.SyncErrors, err.Error())
			g.logger.Warn("removing document failed", "request_id", c.id, "uid", r.uid, "error", err)
		}
	}
	for _, t := range c.touched {
		if seen[t.uid] {
			continue
		}
		seen[t.uid] = true
		res.Affected = append(res.Affected, t.uid)
		if g.sync == nil {
			continue
		}
		var (
			out docsync.Outcome
			err error
		)
		if t.base != nil {
			out, err = g.sync.MaterializeAfterWrite(ctx, t.uid, *t.base)
		} else {
			out, err = g.sync.Materialize(ctx, t.uid)
		}
		if err != nil {
			metrics.MaterializeErrors.Inc()
			res.SyncErrors = append(res.SyncErrors, err.Error())
			g.logger.Warn("materialize after write failed", "request_id", c.id, "uid", t.uid, "error", err)
			continue
		}
		res.Sync = append(res.Sync, out)
	}
}

// ─── Shared helpers ─────────────────────────────────────────────────────────

// forbiddenProps are managed by the store and never accepted from callers.
var forbiddenProps = []string{"uid", "type", "created_at", "updated_at", "embedding", "project"}

// stripForbidden removes managed keys from props in place and reports them.
func stripForbidden(props map[string]any) []string {
	var stripped []string
	for _, k := range forbiddenProps {
		if _, ok := props[k]; ok {
			delete(props, k)
			stripped = append(stripped, k)
		}
	}
	return stripped
}

// load fetches a node and checks it belongs to the active project scope.
func (g *Gateway) load(ctx context.Context, c *call, uid string) (*graph.Node, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return nil, invalid("uid is required")
	}
	n, err := g.store.GetNode(ctx, uid)
	if err != nil {
		ge := translate(err)
		if ge.Kind == KindNotFound {
			ge.Message = fmt.Sprintf("node %s does not exist", uid)
			ge.Hint = "use look_around or look_for_similar to find existing uids"
		}
		return nil, ge
	}
	if n.Project != "" && c.state.Project != "" && n.Project != c.state.Project {
		return nil, &Error{
			Kind:    KindPolicyDenied,
			Rule:    "project-scope",
			Message: fmt.Sprintf("node %s belongs to project %s; the active project is %s", uid, n.Project, c.state.Project),
			Hint:    "switch_project to " + n.Project + " first",
		}
	}
	return n, nil
}

// NodeRef is a short reference to a node.
type NodeRef struct {
	UID   string `json:"uid"`
	Type  string `json:"type"`
	Title string `json:"title"`
}

func refOf(n *graph.Node) NodeRef {
	return NodeRef{UID: n.UID, Type: n.Type, Title: n.Title}
}

// Similar is a node ranked by cosine similarity.
type Similar struct {
	NodeRef
	Score float64 `json:"score"`
}

// embed computes and stores the vector of n. It never fails the call.
func (g *Gateway) embed(ctx context.Context, c *call, n *graph.Node) []float32 {
	if !embedding.Available(g.embedder) {
		return nil
	}
	vec, err := g.embedder.Embed(ctx, n.Text())
	if err == nil {
		err = g.store.SetEmbedding(ctx, n.UID, vec)
	}
	if err != nil {
		metrics.EmbeddingFailures.Inc()
		g.logger.Warn("embedding skipped", "request_id", c.id, "uid", n.UID, "error", err)
		c.check("embedding", false, "skipped: "+err.Error())
		return nil
	}
	c.check("embedding", true, "")
	return vec
}

// similarTo ranks nodes in the project scope that carry a vector.
func (g *Gateway) similarTo(ctx context.Context, project string, vec []float32, threshold float64, limit int, exclude string) ([]Similar, error) {
	nodes, err := g.store.ListNodes(ctx, graph.NodeFilter{Project: project, WithEmbedding: true})
	if err != nil {
		return nil, err
	}
	byUID := make(map[string]*graph.Node, len(nodes))
	candidates := make([]embedding.Candidate, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.UID == exclude || graph.IsProtected(n.Type) {
			continue
		}
		byUID[n.UID] = n
		candidates = append(candidates, embedding.Candidate{UID: n.UID, Vector: n.Embedding})
	}
	matches := embedding.Rank(vec, candidates, threshold, limit)
	out := make([]Similar, len(matches))
	for i, m := range matches {
		out[i] = Similar{NodeRef: refOf(byUID[m.UID]), Score: m.Score}
	}
	return out, nil
}
