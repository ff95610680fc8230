package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/gateway"
)

func edgeArgs(req mcp.CallToolRequest) (from, relation, to string, missing *mcp.CallToolResult) {
	from = req.GetString("from", "")
	relation = req.GetString("relation", "")
	to = req.GetString("to", "")
	switch {
	case from == "":
		return "", "", "", mcp.NewToolResultError("'from' is required")
	case relation == "":
		return "", "", "", mcp.NewToolResultError("'relation' is required")
	case to == "":
		return "", "", "", mcp.NewToolResultError("'to' is required")
	}
	return from, relation, to, nil
}

func edgeOptions() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithString("from",
			mcp.Required(),
			mcp.Description("UID of the source node"),
		),
		mcp.WithString("relation",
			mcp.Required(),
			mcp.Description("Relation type: DECOMPOSES, DEPENDS_ON, IMPLEMENTS, RELATES_TO or CONFLICT"),
		),
		mcp.WithString("to",
			mcp.Required(),
			mcp.Description("UID of the target node"),
		),
	}
}

// ─── LinkNodesTool ──────────────────────────────────────────────────────────

// LinkNodesTool handles the link_nodes MCP tool.
type LinkNodesTool struct {
	gw *gateway.Gateway
}

// NewLinkNodesTool creates a LinkNodesTool.
func NewLinkNodesTool(gw *gateway.Gateway) *LinkNodesTool {
	return &LinkNodesTool{gw: gw}
}

// Definition returns the MCP tool definition for link_nodes.
func (t *LinkNodesTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Link two nodes with a typed relation. The pair of types must be allowed by the " +
				"meta-graph; a refusal lists the connections that are legal. Linking a Task " +
				"with IMPLEMENTS also marks its DECOMPOSES ancestors as implementing the target.",
		),
	}, edgeOptions()...)
	return mcp.NewTool(gateway.ToolLinkNodes, opts...)
}

// Handle processes the link_nodes tool call.
func (t *LinkNodesTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, relation, to, missing := edgeArgs(req)
	if missing != nil {
		return missing, nil
	}
	res, err := t.gw.LinkNodes(ctx, from, relation, to)
	if err != nil {
		return failure(err)
	}
	out, _ := res.Data.(gateway.Linked)
	return respond(res, detailArg(req), func(b *strings.Builder) {
		if !out.Added {
			b.WriteString("The edge already existed.\n")
		}
		if len(out.Echoed) > 0 {
			b.WriteString("Also implementing through the hierarchy: " + strings.Join(out.Echoed, ", ") + "\n")
		}
	})
}

// ─── DeleteLinkTool ─────────────────────────────────────────────────────────

// DeleteLinkTool handles the delete_link MCP tool.
type DeleteLinkTool struct {
	gw *gateway.Gateway
}

// NewDeleteLinkTool creates a DeleteLinkTool.
func NewDeleteLinkTool(gw *gateway.Gateway) *DeleteLinkTool {
	return &DeleteLinkTool{gw: gw}
}

// Definition returns the MCP tool definition for delete_link.
func (t *DeleteLinkTool) Definition() mcp.Tool {
	opts := append([]mcp.ToolOption{
		mcp.WithDescription(
			"Remove a relation between two nodes. The last inbound edge of a node cannot be " +
				"removed; that would orphan it.",
		),
	}, edgeOptions()...)
	return mcp.NewTool(gateway.ToolDeleteLink, opts...)
}

// Handle processes the delete_link tool call.
func (t *DeleteLinkTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	from, relation, to, missing := edgeArgs(req)
	if missing != nil {
		return missing, nil
	}
	res, err := t.gw.DeleteLink(ctx, from, relation, to)
	if err != nil {
		return failure(err)
	}
	return respond(res, DetailStandard, nil)
}
