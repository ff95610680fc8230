package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/gateway"
	"github.com/HendryAvila/graphmcp/internal/session"
)

// ─── SyncGraphTool ──────────────────────────────────────────────────────────

// SyncGraphTool handles the sync_graph MCP tool.
type SyncGraphTool struct {
	gw *gateway.Gateway
}

// NewSyncGraphTool creates a SyncGraphTool.
func NewSyncGraphTool(gw *gateway.Gateway) *SyncGraphTool {
	return &SyncGraphTool{gw: gw}
}

// Definition returns the MCP tool definition for sync_graph.
func (t *SyncGraphTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolSyncGraph,
		mcp.WithDescription(
			"Force the Graph_Export documents back in line with the graph. With a uid only "+
				"that node is synced; without one every node is. Conflicts are reported and "+
				"tracked, never overwritten.",
		),
		mcp.WithString("uid",
			mcp.Description("Node to sync (default: all nodes)"),
		),
	)
}

// Handle processes the sync_graph tool call.
func (t *SyncGraphTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	res, err := t.gw.SyncGraph(ctx, req.GetString("uid", ""))
	if err != nil {
		return failure(err)
	}
	return respond(res, DetailStandard, func(b *strings.Builder) {
		switch data := res.Data.(type) {
		case docsync.Outcome:
			fmt.Fprintf(b, "Document: %s\n", data.Path)
			if data.Tracker != "" {
				fmt.Fprintf(b, "Conflict tracked by %s\n", data.Tracker)
			}
		case docsync.Report:
			if len(data.Conflicts) > 0 {
				b.WriteString("Conflicts: " + strings.Join(data.Conflicts, ", ") + "\n")
			}
			for _, f := range data.Failures {
				fmt.Fprintf(b, "- %s: %s\n", f.UID, f.Error)
			}
		}
	})
}

// ─── SwitchProjectTool ──────────────────────────────────────────────────────

// SwitchProjectTool handles the switch_project MCP tool.
type SwitchProjectTool struct {
	gw *gateway.Gateway
}

// NewSwitchProjectTool creates a SwitchProjectTool.
func NewSwitchProjectTool(gw *gateway.Gateway) *SwitchProjectTool {
	return &SwitchProjectTool{gw: gw}
}

// Definition returns the MCP tool definition for switch_project.
func (t *SwitchProjectTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolSwitchProject,
		mcp.WithDescription(
			"Change the active project. Reads and writes are scoped to this project plus "+
				"global nodes. The choice survives restarts.",
		),
		mcp.WithString("project",
			mcp.Required(),
			mcp.Description("Project identifier"),
		),
		mcp.WithString("root",
			mcp.Description("Optional path of the project's source tree"),
		),
	)
}

// Handle processes the switch_project tool call.
func (t *SwitchProjectTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	project := req.GetString("project", "")
	if project == "" {
		return mcp.NewToolResultError("'project' is required"), nil
	}
	res, err := t.gw.SwitchProject(ctx, project, req.GetString("root", ""))
	if err != nil {
		return failure(err)
	}
	return respond(res, DetailStandard, sessionBody(res))
}

func sessionBody(res *gateway.Result) func(*strings.Builder) {
	st, ok := res.Data.(session.State)
	if !ok {
		return nil
	}
	return func(b *strings.Builder) {
		fmt.Fprintf(b, "Project: %s\nWorkflow: %s\nAgent: %s\n", st.Project, st.Workflow, st.AgentID)
		if st.Root != "" {
			b.WriteString("Root: " + st.Root + "\n")
		}
	}
}

// ─── SetWorkflowTool ────────────────────────────────────────────────────────

// SetWorkflowTool handles the set_workflow MCP tool.
type SetWorkflowTool struct {
	gw *gateway.Gateway
}

// NewSetWorkflowTool creates a SetWorkflowTool.
func NewSetWorkflowTool(gw *gateway.Gateway) *SetWorkflowTool {
	return &SetWorkflowTool{gw: gw}
}

// Definition returns the MCP tool definition for set_workflow.
func (t *SetWorkflowTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolSetWorkflow,
		mcp.WithDescription(
			"Set the workflow mode. Architect and Builder can change the graph; Auditor is "+
				"read-only and every mutating tool is refused.",
		),
		mcp.WithString("mode",
			mcp.Required(),
			mcp.Description("Workflow mode"),
			mcp.Enum(string(session.ModeArchitect), string(session.ModeBuilder), string(session.ModeAuditor)),
		),
	)
}

// Handle processes the set_workflow tool call.
func (t *SetWorkflowTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	mode := req.GetString("mode", "")
	if mode == "" {
		return mcp.NewToolResultError("'mode' is required"), nil
	}
	res, err := t.gw.SetWorkflow(ctx, mode)
	if err != nil {
		return failure(err)
	}
	return respond(res, DetailStandard, sessionBody(res))
}

// ─── ProposeChangeTool ──────────────────────────────────────────────────────

// ProposeChangeTool handles the propose_change MCP tool.
type ProposeChangeTool struct {
	gw *gateway.Gateway
}

// NewProposeChangeTool creates a ProposeChangeTool.
func NewProposeChangeTool(gw *gateway.Gateway) *ProposeChangeTool {
	return &ProposeChangeTool{gw: gw}
}

// Definition returns the MCP tool definition for propose_change.
func (t *ProposeChangeTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolProposeChange,
		mcp.WithDescription(
			"Propose a change to the meta-graph (node types, actions, constraints, allowed "+
				"connections) as a YAML seed fragment. It is validated against the current "+
				"physics and formatted for a human; nothing is applied.",
		),
		mcp.WithString("patch",
			mcp.Required(),
			mcp.Description("YAML with any of node_types, actions, constraints, connections"),
		),
		mcp.WithString("rationale",
			mcp.Required(),
			mcp.Description("Why the physics should change"),
		),
	)
}

// Handle processes the propose_change tool call.
func (t *ProposeChangeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	patch := req.GetString("patch", "")
	if patch == "" {
		return mcp.NewToolResultError("'patch' is required"), nil
	}
	rationale := req.GetString("rationale", "")
	if rationale == "" {
		return mcp.NewToolResultError("'rationale' is required"), nil
	}
	res, err := t.gw.ProposeChange(ctx, patch, rationale)
	if err != nil {
		return failure(err)
	}
	// The formatted proposal is the message itself.
	return respond(res, DetailStandard, nil)
}
