package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/gateway"
)

// ─── LookForSimilarTool ─────────────────────────────────────────────────────

// LookForSimilarTool handles the look_for_similar MCP tool.
type LookForSimilarTool struct {
	gw *gateway.Gateway
}

// NewLookForSimilarTool creates a LookForSimilarTool.
func NewLookForSimilarTool(gw *gateway.Gateway) *LookForSimilarTool {
	return &LookForSimilarTool{gw: gw}
}

// Definition returns the MCP tool definition for look_for_similar.
func (t *LookForSimilarTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolLookForSimilar,
		mcp.WithDescription(
			"Semantic search over the active project. Use it before creating a node to find "+
				"existing concepts to reuse or link. Needs an embedding provider.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Free-text description of what you are looking for"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum results (default: 10)"),
		),
	)
}

// Handle processes the look_for_similar tool call.
func (t *LookForSimilarTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	res, err := t.gw.LookForSimilar(ctx, query, intArg(req, "limit", 10))
	if err != nil {
		return failure(err)
	}
	ranked, _ := res.Data.(gateway.Ranked)
	return respond(res, detailArg(req), func(b *strings.Builder) {
		writeSimilar(b, ranked.Matches)
		writeHint(b, len(ranked.Matches), ranked.Total, "Raise limit to see more.")
	})
}

// writeHint adds the capped-results line when not everything is shown.
func writeHint(b *strings.Builder, showing, total int, hint string) {
	if h := NavigationHint(showing, total, hint); h != "" {
		b.WriteString(h + "\n")
	}
}

func writeSimilar(b *strings.Builder, matches []gateway.Similar) {
	for i, s := range matches {
		fmt.Fprintf(b, "%d. %s (%s) %s · %.2f\n", i+1, s.UID, s.Type, s.Title, s.Score)
	}
}

// ─── GetFullContextTool ─────────────────────────────────────────────────────

// GetFullContextTool handles the get_full_context MCP tool.
type GetFullContextTool struct {
	gw *gateway.Gateway
}

// NewGetFullContextTool creates a GetFullContextTool.
func NewGetFullContextTool(gw *gateway.Gateway) *GetFullContextTool {
	return &GetFullContextTool{gw: gw}
}

// Definition returns the MCP tool definition for get_full_context.
func (t *GetFullContextTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolGetFullContext,
		mcp.WithDescription(
			"Everything you need before acting at your location in one call: neighbours, "+
				"similar nodes, the Specs and Requirements around it, every constraint, "+
				"per-type counts and recommended next steps.",
		),
		withDetailLevel(),
	)
}

// Handle processes the get_full_context tool call.
func (t *GetFullContextTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.gw.GetFullContext(ctx)
	if err != nil {
		return failure(err)
	}
	fc, _ := res.Data.(gateway.FullContext)
	return respond(res, detailArg(req), func(b *strings.Builder) {
		if fc.Location != nil && fc.Location.Title != "" {
			b.WriteString(fc.Location.Title + "\n")
		}
		if len(fc.Neighbours) > 0 {
			b.WriteString("\n### Neighbours\n")
			for _, n := range fc.Neighbours {
				fmt.Fprintf(b, "- %s %s %s (%s)\n", n.Direction, n.Relation, n.UID, n.Type)
			}
			writeHint(b, len(fc.Neighbours), fc.NeighbourTotal, "look_around lists them all.")
		}
		if len(fc.Similar) > 0 {
			b.WriteString("\n### Similar\n")
			writeSimilar(b, fc.Similar)
		}
		if len(fc.Related) > 0 {
			b.WriteString("\n### Related Specs and Requirements\n")
			writeRefs(b, fc.Related)
		}
		if len(fc.Constraints) > 0 {
			b.WriteString("\n### Constraints\n")
			for _, c := range fc.Constraints {
				fmt.Fprintf(b, "- %s (%s)\n", c.UID, c.Function)
			}
		}
		if len(fc.Stats) > 0 {
			types := make([]string, 0, len(fc.Stats))
			for k := range fc.Stats {
				types = append(types, k)
			}
			sort.Strings(types)
			b.WriteString("\n### Counts\n")
			for _, k := range types {
				fmt.Fprintf(b, "- %s: %d\n", k, fc.Stats[k])
			}
		}
		if len(fc.Recommendations) > 0 {
			b.WriteString("\n### Next steps\n")
			for _, r := range fc.Recommendations {
				b.WriteString("- " + r + "\n")
			}
		}
	})
}

// ─── IlluminatePathTool ─────────────────────────────────────────────────────

// IlluminatePathTool handles the illuminate_path MCP tool.
type IlluminatePathTool struct {
	gw *gateway.Gateway
}

// NewIlluminatePathTool creates an IlluminatePathTool.
func NewIlluminatePathTool(gw *gateway.Gateway) *IlluminatePathTool {
	return &IlluminatePathTool{gw: gw}
}

// Definition returns the MCP tool definition for illuminate_path.
func (t *IlluminatePathTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolIlluminatePath,
		mcp.WithDescription(
			"Given a task or question, find the most relevant Idea, Spec, Requirement, Task or "+
				"Domain and return the full text of its path through the hierarchy (Idea → Spec "+
				"→ Requirement → Task) plus DEPENDS_ON, CONFLICT and IMPLEMENTS links. Use it at "+
				"the start of a task. Needs an embedding provider.",
		),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Task or question, e.g. 'add two-factor login'"),
		),
		withDetailLevel(),
	)
}

// Handle processes the illuminate_path tool call.
func (t *IlluminatePathTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query := req.GetString("query", "")
	if query == "" {
		return mcp.NewToolResultError("'query' is required"), nil
	}
	res, err := t.gw.IlluminatePath(ctx, query)
	if err != nil {
		return failure(err)
	}
	level := detailArg(req)
	p, _ := res.Data.(gateway.Path)
	return respond(res, level, func(b *strings.Builder) {
		if p.Entry == nil {
			return
		}
		fmt.Fprintf(b, "Entry: %s (%s) · %.2f\n", p.Entry.UID, p.Entry.Type, p.Entry.Score)
		b.WriteString("\n### Hierarchy\n")
		for _, n := range p.Vertical {
			writePathNode(b, n, level)
		}
		if len(p.Lateral) > 0 {
			b.WriteString("\n### Lateral links\n")
			for _, n := range p.Lateral {
				writePathNode(b, n, level)
			}
		}
	})
}

func writePathNode(b *strings.Builder, n gateway.PathNode, level string) {
	marker := ""
	if n.Entry {
		marker = " ← entry"
	}
	fmt.Fprintf(b, "\n**[%s] %s**%s\n%s\n", n.Type, n.UID, marker, n.Title)
	for _, text := range []string{n.Description, n.Content} {
		if text == "" {
			continue
		}
		if level != DetailFull {
			if cut, ok := truncate(text, MaxBodyRunes); ok {
				text = cut + "\n… truncated, use detail_level: full"
			}
		}
		b.WriteString("\n" + text + "\n")
	}
}

// ─── FindOrphansTool ────────────────────────────────────────────────────────

// FindOrphansTool handles the find_orphans MCP tool.
type FindOrphansTool struct {
	gw *gateway.Gateway
}

// NewFindOrphansTool creates a FindOrphansTool.
func NewFindOrphansTool(gw *gateway.Gateway) *FindOrphansTool {
	return &FindOrphansTool{gw: gw}
}

// Definition returns the MCP tool definition for find_orphans.
func (t *FindOrphansTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolFindOrphans,
		mcp.WithDescription(
			"List nodes detached from the hierarchy: nodes with no edges at all, then "+
				"groups of nodes that cannot reach the root through DECOMPOSES or IMPLEMENTS.",
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum nodes to report (default: 50)"),
		),
	)
}

// Handle processes the find_orphans tool call.
func (t *FindOrphansTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.gw.FindOrphans(ctx, intArg(req, "limit", 50))
	if err != nil {
		return failure(err)
	}
	out, _ := res.Data.(gateway.Orphans)
	return respond(res, detailArg(req), func(b *strings.Builder) {
		if len(out.Absolute) > 0 {
			b.WriteString("### No edges\n")
			writeRefs(b, out.Absolute)
		}
		if len(out.Islands) > 0 {
			b.WriteString("\n### Unreachable from the root\n")
			writeRefs(b, out.Islands)
		}
		writeHint(b, len(out.Absolute)+len(out.Islands), out.Total, "Raise limit to see more.")
	})
}

// ─── RefreshKnowledgeTool ───────────────────────────────────────────────────

// RefreshKnowledgeTool handles the refresh_knowledge MCP tool.
type RefreshKnowledgeTool struct {
	gw *gateway.Gateway
}

// NewRefreshKnowledgeTool creates a RefreshKnowledgeTool.
func NewRefreshKnowledgeTool(gw *gateway.Gateway) *RefreshKnowledgeTool {
	return &RefreshKnowledgeTool{gw: gw}
}

// Definition returns the MCP tool definition for refresh_knowledge.
func (t *RefreshKnowledgeTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolRefreshKnowledge,
		mcp.WithDescription(
			"Recompute embeddings for every node in the active project. Run it after bulk "+
				"edits or after configuring an embedding provider.",
		),
	)
}

// Handle processes the refresh_knowledge tool call.
func (t *RefreshKnowledgeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.gw.RefreshKnowledge(ctx)
	if err != nil {
		return failure(err)
	}
	out, _ := res.Data.(gateway.Refreshed)
	return respond(res, DetailStandard, func(b *strings.Builder) {
		if len(out.Failed) > 0 {
			b.WriteString("Failed: " + strings.Join(out.Failed, ", ") + "\n")
		}
	})
}
