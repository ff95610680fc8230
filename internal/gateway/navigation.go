package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/embedding"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
	"github.com/HendryAvila/graphmcp/internal/session"
)

// Direction labels for neighbours.
const (
	DirOut = "out"
	DirIn  = "in"
)

// Neighbour is a node adjacent to the cursor.
type Neighbour struct {
	NodeRef
	Relation  string `json:"relation"`
	Direction string `json:"direction"`
}

// View is what an agent sees from its cursor.
type View struct {
	Location   *graph.Node     `json:"location"`
	Project    string          `json:"project"`
	Workflow   session.Mode    `json:"workflow"`
	Actions    []policy.Action `json:"actions"`
	Neighbours []Neighbour     `json:"neighbours,omitempty"`
}

// neighbours lists nodes adjacent to uid within the project scope. limit
// <= 0 means all.
func (g *Gateway) neighbours(ctx context.Context, uid, project string, limit int) ([]Neighbour, error) {
	edges, err := g.store.Edges(ctx, graph.EdgeFilter{UID: uid, Direction: graph.Both})
	if err != nil {
		return nil, err
	}
	others := make([]string, 0, len(edges))
	for _, e := range edges {
		if e.From == uid {
			others = append(others, e.To)
		} else {
			others = append(others, e.From)
		}
	}
	if len(others) == 0 {
		return nil, nil
	}
	nodes, err := g.store.ListNodes(ctx, graph.NodeFilter{UIDs: others, Project: project})
	if err != nil {
		return nil, err
	}
	byUID := make(map[string]*graph.Node, len(nodes))
	for i := range nodes {
		byUID[nodes[i].UID] = &nodes[i]
	}

	var out []Neighbour
	for _, e := range edges {
		other, dir := e.To, DirOut
		if e.From != uid {
			other, dir = e.From, DirIn
		}
		n, ok := byUID[other]
		if !ok {
			continue
		}
		out = append(out, Neighbour{NodeRef: refOf(n), Relation: e.Type, Direction: dir})
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (g *Gateway) view(ctx context.Context, c *call, loc *graph.Node, actions policy.ActionSet) (View, error) {
	ns, err := g.neighbours(ctx, loc.UID, c.state.Project, 0)
	if err != nil {
		return View{}, err
	}
	return View{
		Location:   loc,
		Project:    c.state.Project,
		Workflow:   c.state.Workflow,
		Actions:    actions.Actions(),
		Neighbours: ns,
	}, nil
}

// LookAround describes the cursor location, its neighbours and the actions
// visible from it. The root is created on first use.
func (g *Gateway) LookAround(ctx context.Context) (*Result, error) {
	return g.run(ctx, ToolLookAround, false, func(ctx context.Context, c *call) (string, any, error) {
		v, err := g.view(ctx, c, c.location, c.permitted)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("You are at %s (%s).", c.location.UID, c.location.Type), v, nil
	})
}

// MoveTo moves the agent's cursor. The destination must exist and belong to
// the active project scope.
func (g *Gateway) MoveTo(ctx context.Context, uid string) (*Result, error) {
	return g.run(ctx, ToolMoveTo, false, func(ctx context.Context, c *call) (string, any, error) {
		dst, err := g.load(ctx, c, uid)
		if err != nil {
			return "", nil, err
		}
		moved, err := g.cursor.Move(ctx, c.state.AgentID, dst.UID)
		if err != nil {
			return "", nil, err
		}
		c.check("destination-exists", true, moved.UID)

		// Fail closed here too: an unreadable meta-graph shows the minimal set.
		actions, _ := g.policy.ResolvePermittedActions(ctx, moved.Type)
		v, err := g.view(ctx, c, moved, actions)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Moved to %s (%s).", moved.UID, moved.Type), v, nil
	})
}

// ExplainPhysics says whether action is available from contextType (the
// cursor type when empty) and which constraints restrict it.
func (g *Gateway) ExplainPhysics(ctx context.Context, action, contextType string) (*Result, error) {
	return g.run(ctx, ToolExplainPhysics, false, func(ctx context.Context, c *call) (string, any, error) {
		action = strings.TrimSpace(action)
		if action == "" {
			return "", nil, invalid("action is required")
		}
		if contextType == "" {
			contextType = c.location.Type
		}
		ex, err := g.policy.Explain(ctx, contextType, action)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s from %s: %s. %s", action, contextType, ex.Status, ex.Reason), ex, nil
	})
}

// LookForSimilar ranks nodes of the active project by similarity to query.
func (g *Gateway) LookForSimilar(ctx context.Context, query string, limit int) (*Result, error) {
	return g.run(ctx, ToolLookForSimilar, false, func(ctx context.Context, c *call) (string, any, error) {
		if strings.TrimSpace(query) == "" {
			return "", nil, invalid("query is required")
		}
		if !embedding.Available(g.embedder) {
			return "", nil, &Error{
				Kind:    KindStoreUnavailable,
				Rule:    "embedding-provider",
				Message: "semantic search needs an embedding provider and none is configured",
				Hint:    "set OPENAI_API_KEY, then run refresh_knowledge",
				Err:     embedding.ErrUnavailable,
			}
		}
		if limit <= 0 {
			limit = 10
		}
		vec, err := g.embedder.Embed(ctx, query)
		if err != nil {
			return "", nil, err
		}
		matches, err := g.similarTo(ctx, c.state.Project, vec, 0.3, 0, "")
		if err != nil {
			return "", nil, err
		}
		r := Ranked{Matches: matches, Total: len(matches)}
		if len(r.Matches) > limit {
			r.Matches = r.Matches[:limit]
		}
		return fmt.Sprintf("Found %d similar node(s).", r.Total), r, nil
	})
}

// Ranked is a capped similarity ranking. Total counts every match above the
// threshold.
type Ranked struct {
	Matches []Similar `json:"matches"`
	Total   int       `json:"total"`
}

// ─── Full context ───────────────────────────────────────────────────────────

// FullContext aggregates everything an agent needs before acting.
type FullContext struct {
	Location        *graph.Node         `json:"location"`
	Neighbours      []Neighbour         `json:"neighbours,omitempty"`
	Similar         []Similar           `json:"similar,omitempty"`
	Related         []NodeRef           `json:"related,omitempty"`
	Constraints     []policy.Constraint `json:"constraints,omitempty"`
	Stats           map[string]int      `json:"stats"`
	Recommendations []string            `json:"recommendations"`

	// NeighbourTotal counts every neighbour; Neighbours holds at most five.
	NeighbourTotal int `json:"neighbour_total"`
}

// GetFullContext aggregates the cursor location, its neighbours, similar
// nodes, the Specs and Requirements around it, every constraint and
// per-type counts.
func (g *Gateway) GetFullContext(ctx context.Context) (*Result, error) {
	return g.run(ctx, ToolGetFullContext, false, func(ctx context.Context, c *call) (string, any, error) {
		loc := c.location
		fc := FullContext{Location: loc}

		var err error
		if fc.Neighbours, err = g.neighbours(ctx, loc.UID, c.state.Project, 0); err != nil {
			return "", nil, err
		}
		fc.NeighbourTotal = len(fc.Neighbours)
		if len(fc.Neighbours) > 5 {
			fc.Neighbours = fc.Neighbours[:5]
		}

		vec := loc.Embedding
		if len(vec) == 0 && embedding.Available(g.embedder) {
			if v, err := g.embedder.Embed(ctx, loc.Text()); err == nil {
				vec = v
			}
		}
		if len(vec) > 0 {
			if fc.Similar, err = g.similarTo(ctx, c.state.Project, vec, 0.4, 5, loc.UID); err != nil {
				return "", nil, err
			}
		}

		if fc.Related, err = g.related(ctx, loc.UID, c.state.Project); err != nil {
			return "", nil, err
		}

		constraints, err := g.store.ListNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeConstraint}})
		if err != nil {
			return "", nil, err
		}
		for _, n := range constraints {
			fc.Constraints = append(fc.Constraints, policy.ConstraintFromNode(n))
		}

		if fc.Stats, err = g.store.TypeCounts(ctx, c.state.Project); err != nil {
			return "", nil, err
		}

		fc.Recommendations, err = g.recommend(ctx, c, fc)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("Context for %s (%s).", loc.UID, loc.Type), fc, nil
	})
}

// related walks DECOMPOSES one or two hops in either direction and keeps
// Specs and Requirements.
func (g *Gateway) related(ctx context.Context, uid, project string) ([]NodeRef, error) {
	const limit = 10
	frontier := []string{uid}
	seen := map[string]bool{uid: true}
	var found []string
	for depth := 0; depth < 2 && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			edges, err := g.store.Edges(ctx, graph.EdgeFilter{UID: cur, Direction: graph.Both, Types: []string{graph.RelDecomposes}})
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				other := e.To
				if e.To == cur {
					other = e.From
				}
				if !seen[other] {
					seen[other] = true
					found = append(found, other)
					next = append(next, other)
				}
			}
		}
		frontier = next
	}
	if len(found) == 0 {
		return nil, nil
	}
	nodes, err := g.store.ListNodes(ctx, graph.NodeFilter{
		UIDs:    found,
		Types:   []string{graph.TypeSpec, graph.TypeRequirement},
		Project: project,
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	out := make([]NodeRef, len(nodes))
	for i := range nodes {
		out[i] = refOf(&nodes[i])
	}
	return out, nil
}

func (g *Gateway) recommend(ctx context.Context, c *call, fc FullContext) ([]string, error) {
	var recs []string
	if c.permitted.Has(ToolCreateConcept) {
		tr, err := g.policy.ValidateTypeTransition(ctx, fc.Location.Type, "")
		if err != nil {
			return nil, err
		}
		if len(tr.AllowedTargets) > 0 {
			recs = append(recs, "create_concept here can create: "+strings.Join(tr.AllowedTargets, ", "))
		}
	}
	if len(fc.Similar) > 0 {
		recs = append(recs, fmt.Sprintf("link_nodes can connect %s to %d similar node(s) before you duplicate them", fc.Location.UID, len(fc.Similar)))
	}
	if len(fc.Constraints) > 0 {
		recs = append(recs, "explain_physics shows which constraints restrict an action before you write content")
	}

	conflicts, err := g.openConflicts(ctx, c.state.Project)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		recs = append(recs, fmt.Sprintf("%d document conflict(s) are open: %s", len(conflicts), strings.Join(conflicts, ", ")))
	}
	if len(recs) == 0 {
		recs = append(recs, "look_around lists the actions available here")
	}
	return recs, nil
}

// openConflicts lists nodes with an open conflict tracker.
func (g *Gateway) openConflicts(ctx context.Context, project string) ([]string, error) {
	bugs, err := g.store.ListNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeBug}, Project: project})
	if err != nil {
		return nil, err
	}
	var out []string
	prefix := docsync.TrackerUID("")
	for _, b := range bugs {
		if b.Status == docsync.TrackerOpen && strings.HasPrefix(b.UID, prefix) {
			out = append(out, strings.TrimPrefix(b.UID, prefix))
		}
	}
	sort.Strings(out)
	return out, nil
}

// ─── Orphans ────────────────────────────────────────────────────────────────

// Orphans are nodes detached from the main hierarchy.
type Orphans struct {
	// Absolute nodes have no edges at all.
	Absolute []NodeRef `json:"absolute,omitempty"`
	// Islands have edges but cannot reach the root through DECOMPOSES or
	// IMPLEMENTS in either direction.
	Islands []NodeRef `json:"islands,omitempty"`
	// Total counts every orphan found before the limit applied.
	Total int `json:"total"`
}

// FindOrphans lists absolute orphans first, then island nodes, up to limit
// (50 when <= 0). Meta-graph facts are not part of the hierarchy and are
// skipped.
func (g *Gateway) FindOrphans(ctx context.Context, limit int) (*Result, error) {
	return g.run(ctx, ToolFindOrphans, false, func(ctx context.Context, c *call) (string, any, error) {
		if limit <= 0 {
			limit = 50
		}
		nodes, err := g.store.ListNodes(ctx, graph.NodeFilter{Project: c.state.Project})
		if err != nil {
			return "", nil, err
		}
		edges, err := g.store.Edges(ctx, graph.EdgeFilter{})
		if err != nil {
			return "", nil, err
		}

		degree := make(map[string]int)
		adj := make(map[string][]string)
		for _, e := range edges {
			degree[e.From]++
			degree[e.To]++
			if e.Type == graph.RelDecomposes || e.Type == graph.RelImplements {
				adj[e.From] = append(adj[e.From], e.To)
				adj[e.To] = append(adj[e.To], e.From)
			}
		}
		reached := map[string]bool{graph.RootUID: true}
		queue := []string{graph.RootUID}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range adj[cur] {
				if !reached[next] {
					reached[next] = true
					queue = append(queue, next)
				}
			}
		}

		var out Orphans
		for i := range nodes {
			n := &nodes[i]
			if graph.IsProtected(n.Type) || n.UID == graph.RootUID || degree[n.UID] != 0 {
				continue
			}
			out.Total++
			if len(out.Absolute) < limit {
				out.Absolute = append(out.Absolute, refOf(n))
			}
		}
		for i := range nodes {
			n := &nodes[i]
			if graph.IsProtected(n.Type) || degree[n.UID] == 0 || reached[n.UID] {
				continue
			}
			out.Total++
			if len(out.Absolute)+len(out.Islands) < limit {
				out.Islands = append(out.Islands, refOf(n))
			}
		}
		return fmt.Sprintf("Found %d absolute orphan(s) and %d island node(s).", len(out.Absolute), len(out.Islands)), out, nil
	})
}
