package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/gateway"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

func writeView(b *strings.Builder, v gateway.View) {
	if v.Location != nil {
		fmt.Fprintf(b, "## %s (%s)\n", v.Location.UID, v.Location.Type)
		if v.Location.Title != "" {
			b.WriteString(v.Location.Title + "\n")
		}
	}
	fmt.Fprintf(b, "Project: %s · Workflow: %s\n", v.Project, v.Workflow)

	b.WriteString("\n### Available actions\n")
	for _, a := range v.Actions {
		fmt.Fprintf(b, "- %s", a.ToolName)
		if a.TargetType != "" {
			fmt.Fprintf(b, " → %s", a.TargetType)
			if a.LinkType != "" {
				fmt.Fprintf(b, " via %s", a.LinkType)
			}
		}
		if a.Scope == policy.ScopeContextual {
			b.WriteString(" (here)")
		}
		b.WriteString("\n")
	}

	if len(v.Neighbours) > 0 {
		b.WriteString("\n### Neighbours\n")
		for _, n := range v.Neighbours {
			arrow := "→"
			if n.Direction == gateway.DirIn {
				arrow = "←"
			}
			fmt.Fprintf(b, "- %s %s %s (%s) %s\n", arrow, n.Relation, n.UID, n.Type, n.Title)
		}
	}
}

// ─── LookAroundTool ─────────────────────────────────────────────────────────

// LookAroundTool handles the look_around MCP tool.
type LookAroundTool struct {
	gw *gateway.Gateway
}

// NewLookAroundTool creates a LookAroundTool.
func NewLookAroundTool(gw *gateway.Gateway) *LookAroundTool {
	return &LookAroundTool{gw: gw}
}

// Definition returns the MCP tool definition for look_around.
func (t *LookAroundTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolLookAround,
		mcp.WithDescription(
			"Show where you are in the graph: the node you are focused on, its neighbours "+
				"and the actions visible from here. Call this first; other tools only appear "+
				"when the meta-graph allows them from your location.",
		),
		withDetailLevel(),
	)
}

// Handle processes the look_around tool call.
func (t *LookAroundTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.gw.LookAround(ctx)
	if err != nil {
		return failure(err)
	}
	v, _ := res.Data.(gateway.View)
	return respond(res, detailArg(req), func(b *strings.Builder) { writeView(b, v) })
}

// ─── MoveToTool ─────────────────────────────────────────────────────────────

// MoveToTool handles the move_to MCP tool.
type MoveToTool struct {
	gw *gateway.Gateway
}

// NewMoveToTool creates a MoveToTool.
func NewMoveToTool(gw *gateway.Gateway) *MoveToTool {
	return &MoveToTool{gw: gw}
}

// Definition returns the MCP tool definition for move_to.
func (t *MoveToTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolMoveTo,
		mcp.WithDescription(
			"Move your focus to another node. The actions you can take depend on the "+
				"type of the node you are focused on.",
		),
		mcp.WithString("uid",
			mcp.Required(),
			mcp.Description("UID of the destination node, e.g. SPEC-SEARCH_API"),
		),
		withDetailLevel(),
	)
}

// Handle processes the move_to tool call.
func (t *MoveToTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := req.GetString("uid", "")
	if uid == "" {
		return mcp.NewToolResultError("'uid' is required"), nil
	}
	res, err := t.gw.MoveTo(ctx, uid)
	if err != nil {
		return failure(err)
	}
	v, _ := res.Data.(gateway.View)
	return respond(res, detailArg(req), func(b *strings.Builder) { writeView(b, v) })
}

// ─── ExplainPhysicsTool ─────────────────────────────────────────────────────

// ExplainPhysicsTool handles the explain_physics MCP tool.
type ExplainPhysicsTool struct {
	gw *gateway.Gateway
}

// NewExplainPhysicsTool creates an ExplainPhysicsTool.
func NewExplainPhysicsTool(gw *gateway.Gateway) *ExplainPhysicsTool {
	return &ExplainPhysicsTool{gw: gw}
}

// Definition returns the MCP tool definition for explain_physics.
func (t *ExplainPhysicsTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolExplainPhysics,
		mcp.WithDescription(
			"Explain whether an action is available from a node type, why, where it "+
				"unlocks, and which constraints restrict it.",
		),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("Tool name, e.g. create_concept or delete_node"),
		),
		mcp.WithString("context_type",
			mcp.Description("Node type to evaluate from (default: the type of your current location)"),
		),
	)
}

// Handle processes the explain_physics tool call.
func (t *ExplainPhysicsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	action := req.GetString("action", "")
	if action == "" {
		return mcp.NewToolResultError("'action' is required"), nil
	}
	res, err := t.gw.ExplainPhysics(ctx, action, req.GetString("context_type", ""))
	if err != nil {
		return failure(err)
	}
	ex, _ := res.Data.(policy.Explanation)
	return respond(res, detailArg(req), func(b *strings.Builder) {
		if len(ex.UnlockFrom) > 0 {
			b.WriteString("Unlocks from: " + strings.Join(ex.UnlockFrom, ", ") + "\n")
		}
		if len(ex.Constraints) > 0 {
			b.WriteString("\n### Constraints\n")
			for _, c := range ex.Constraints {
				fmt.Fprintf(b, "- %s: %s", c.UID, c.Function)
				if c.Message != "" {
					b.WriteString(" · " + c.Message)
				}
				b.WriteString("\n")
			}
		}
	})
}
