package gateway

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/embedding"
	"github.com/HendryAvila/graphmcp/internal/graph"
)

// Path tracing limits.
const (
	pathEntryThreshold = 0.5
	pathMaxDepth       = 5
	pathCandidates     = 25
)

// entryTypes are the node types a traced path may start from.
var entryTypes = map[string]bool{
	graph.TypeIdea:        true,
	graph.TypeSpec:        true,
	graph.TypeRequirement: true,
	graph.TypeTask:        true,
	graph.TypeDomain:      true,
}

// lateralRelations link the entry to nodes beside its hierarchy.
var lateralRelations = []string{graph.RelDependsOn, graph.RelConflict, graph.RelImplements}

// PathNode is one node on a traced path with its full text.
type PathNode struct {
	NodeRef
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Entry       bool   `json:"entry,omitempty"`
}

// Path is the hierarchy around the node most similar to a query.
type Path struct {
	Query string `json:"query"`
	// Entry is nil when no node was similar enough.
	Entry *Similar `json:"entry,omitempty"`
	// Vertical holds the entry, its DECOMPOSES ancestors and descendants,
	// ordered Idea, Spec, Domain, Requirement, Task, then the rest.
	Vertical []PathNode `json:"vertical,omitempty"`
	// Lateral holds DEPENDS_ON, CONFLICT and IMPLEMENTS neighbours of the
	// entry in either direction.
	Lateral []PathNode `json:"lateral,omitempty"`
}

// IlluminatePath finds the Idea, Spec, Requirement, Task or Domain most
// similar to query and returns the full text of everything on its vertical
// DECOMPOSES path (up to five hops each way) plus its lateral links.
func (g *Gateway) IlluminatePath(ctx context.Context, query string) (*Result, error) {
	return g.run(ctx, ToolIlluminatePath, false, func(ctx context.Context, c *call) (string, any, error) {
		query = strings.TrimSpace(query)
		if query == "" {
			return "", nil, invalid("query is required")
		}
		if !embedding.Available(g.embedder) {
			return "", nil, &Error{
				Kind:    KindStoreUnavailable,
				Rule:    "embedding-provider",
				Message: "tracing a path needs an embedding provider and none is configured",
				Hint:    "set OPENAI_API_KEY, then run refresh_knowledge",
				Err:     embedding.ErrUnavailable,
			}
		}
		vec, err := g.embedder.Embed(ctx, query)
		if err != nil {
			return "", nil, err
		}
		matches, err := g.similarTo(ctx, c.state.Project, vec, pathEntryThreshold, pathCandidates, "")
		if err != nil {
			return "", nil, err
		}

		p := Path{Query: query}
		for i := range matches {
			if entryTypes[matches[i].Type] {
				p.Entry = &matches[i]
				break
			}
		}
		if p.Entry == nil {
			return "No node is similar enough to the query; try other words or run refresh_knowledge.", p, nil
		}
		entry := p.Entry.UID

		up, err := g.walk(ctx, entry, graph.Incoming)
		if err != nil {
			return "", nil, err
		}
		down, err := g.walk(ctx, entry, graph.Outgoing)
		if err != nil {
			return "", nil, err
		}
		vertical := append(append([]string{entry}, up...), down...)
		onPath := make(map[string]bool, len(vertical))
		for _, uid := range vertical {
			onPath[uid] = true
		}

		edges, err := g.store.Edges(ctx, graph.EdgeFilter{UID: entry, Direction: graph.Both, Types: lateralRelations})
		if err != nil {
			return "", nil, err
		}
		var lateral []string
		for _, e := range edges {
			other := e.To
			if other == entry {
				other = e.From
			}
			if !onPath[other] {
				onPath[other] = true
				lateral = append(lateral, other)
			}
		}

		if p.Vertical, err = g.pathNodes(ctx, c.state.Project, vertical, entry); err != nil {
			return "", nil, err
		}
		if p.Lateral, err = g.pathNodes(ctx, c.state.Project, lateral, entry); err != nil {
			return "", nil, err
		}
		c.check("entry-point", true, fmt.Sprintf("%s (similarity %.2f)", entry, p.Entry.Score))
		return fmt.Sprintf("Path through %s: %d node(s) on the hierarchy, %d lateral.",
			entry, len(p.Vertical), len(p.Lateral)), p, nil
	})
}

// walk follows DECOMPOSES from uid in one direction, breadth first, up to
// pathMaxDepth hops. The start node is not included.
func (g *Gateway) walk(ctx context.Context, uid string, dir graph.Direction) ([]string, error) {
	seen := map[string]bool{uid: true}
	frontier := []string{uid}
	var found []string
	for depth := 0; depth < pathMaxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, cur := range frontier {
			edges, err := g.store.Edges(ctx, graph.EdgeFilter{UID: cur, Direction: dir, Types: []string{graph.RelDecomposes}})
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				other := e.To
				if dir == graph.Incoming {
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
	return found, nil
}

// pathNodes loads uids within the project scope, ordered by hierarchy level.
func (g *Gateway) pathNodes(ctx context.Context, project string, uids []string, entry string) ([]PathNode, error) {
	if len(uids) == 0 {
		return nil, nil
	}
	nodes, err := g.store.ListNodes(ctx, graph.NodeFilter{UIDs: uids, Project: project})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		ri, rj := levelRank(nodes[i].Type), levelRank(nodes[j].Type)
		if ri != rj {
			return ri < rj
		}
		return nodes[i].UID < nodes[j].UID
	})
	out := make([]PathNode, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		out[i] = PathNode{
			NodeRef:     refOf(n),
			Description: n.Description,
			Content:     n.Content,
			Entry:       n.UID == entry,
		}
	}
	return out, nil
}

func levelRank(nodeType string) int {
	switch nodeType {
	case graph.TypeIdea:
		return 1
	case graph.TypeSpec:
		return 2
	case graph.TypeDomain:
		return 3
	case graph.TypeRequirement:
		return 4
	case graph.TypeTask:
		return 5
	}
	return 6
}
