package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/gateway"
	"github.com/HendryAvila/graphmcp/internal/graph"
)

// ─── CreateConceptTool ──────────────────────────────────────────────────────

// CreateConceptTool handles the create_concept MCP tool.
type CreateConceptTool struct {
	gw *gateway.Gateway
}

// NewCreateConceptTool creates a CreateConceptTool.
func NewCreateConceptTool(gw *gateway.Gateway) *CreateConceptTool {
	return &CreateConceptTool{gw: gw}
}

// Definition returns the MCP tool definition for create_concept.
func (t *CreateConceptTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolCreateConcept,
		mcp.WithDescription(
			"Create a node under the node you are focused on. Which types can be created "+
				"depends on your location (see look_around). The new node is linked to your "+
				"location, checked against every constraint and mirrored to Graph_Export. "+
				"The response lists similar existing nodes you may want to link instead.",
		),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Node type to create, e.g. Spec, Requirement, Epic, Domain"),
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("Short title; also used to mint the UID (TYPE-TITLE)"),
		),
		mcp.WithString("description",
			mcp.Description("One-paragraph summary"),
		),
		mcp.WithString("content",
			mcp.Description("Full markdown body"),
		),
		mcp.WithString("status",
			mcp.Description("Optional status, e.g. Draft"),
		),
		mcp.WithObject("props",
			mcp.Description("Extra properties. uid, type, project, created_at and embedding are managed and ignored."),
		),
		withDetailLevel(),
	)
}

// Handle processes the create_concept tool call.
func (t *CreateConceptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	nodeType := req.GetString("type", "")
	title := req.GetString("title", "")
	if nodeType == "" {
		return mcp.NewToolResultError("'type' is required"), nil
	}
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}

	res, err := t.gw.CreateConcept(ctx, gateway.CreateInput{
		Type:        nodeType,
		Title:       title,
		Description: req.GetString("description", ""),
		Content:     req.GetString("content", ""),
		Status:      req.GetString("status", ""),
		Props:       mapArg(req, "props"),
	})
	if err != nil {
		return failure(err)
	}
	out, _ := res.Data.(gateway.Created)
	return respond(res, detailArg(req), func(b *strings.Builder) {
		if len(out.Constraints) > 0 {
			b.WriteString("Constraints applied: " + strings.Join(out.Constraints, ", ") + "\n")
		}
		if len(out.Similar) > 0 {
			b.WriteString("\n### Similar nodes (consider link_nodes)\n")
			for _, s := range out.Similar {
				fmt.Fprintf(b, "- %s (%s) %s · %.2f\n", s.UID, s.Type, s.Title, s.Score)
			}
		}
	})
}

// ─── RegisterTaskTool ───────────────────────────────────────────────────────

// RegisterTaskTool handles the register_task MCP tool.
type RegisterTaskTool struct {
	gw *gateway.Gateway
}

// NewRegisterTaskTool creates a RegisterTaskTool.
func NewRegisterTaskTool(gw *gateway.Gateway) *RegisterTaskTool {
	return &RegisterTaskTool{gw: gw}
}

// Definition returns the MCP tool definition for register_task.
func (t *RegisterTaskTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolRegisterTask,
		mcp.WithDescription(
			"Register a task requested by the human. The task is created unlinked with "+
				"status Registered; connect it with link_nodes (IMPLEMENTS a Requirement, "+
				"RELATES_TO a Spec).",
		),
		mcp.WithString("title",
			mcp.Required(),
			mcp.Description("What needs doing"),
		),
		mcp.WithString("description",
			mcp.Description("Details and acceptance notes"),
		),
	)
}

// Handle processes the register_task tool call.
func (t *RegisterTaskTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := req.GetString("title", "")
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}
	res, err := t.gw.RegisterTask(ctx, title, req.GetString("description", ""))
	if err != nil {
		return failure(err)
	}
	return respond(res, detailArg(req), nil)
}

// ─── ReadNodeTool ───────────────────────────────────────────────────────────

// ReadNodeTool handles the read_node MCP tool.
type ReadNodeTool struct {
	gw *gateway.Gateway
}

// NewReadNodeTool creates a ReadNodeTool.
func NewReadNodeTool(gw *gateway.Gateway) *ReadNodeTool {
	return &ReadNodeTool{gw: gw}
}

// Definition returns the MCP tool definition for read_node.
func (t *ReadNodeTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolReadNode,
		mcp.WithDescription(
			"Read a node: its properties, edges and body. Nodes without stored text show "+
				"the body of their mirrored document. Bodies are cut at 8000 characters "+
				"unless detail_level is full.",
		),
		mcp.WithString("uid",
			mcp.Required(),
			mcp.Description("UID of the node to read"),
		),
		withDetailLevel(),
	)
}

// Handle processes the read_node tool call.
func (t *ReadNodeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := req.GetString("uid", "")
	if uid == "" {
		return mcp.NewToolResultError("'uid' is required"), nil
	}
	res, err := t.gw.ReadNode(ctx, uid)
	if err != nil {
		return failure(err)
	}
	level := detailArg(req)
	view, _ := res.Data.(gateway.NodeView)
	return respond(res, level, func(b *strings.Builder) { writeNodeView(b, view, level) })
}

func writeNodeView(b *strings.Builder, v gateway.NodeView, level string) {
	n := v.Node
	if n == nil {
		return
	}
	if n.Status != "" {
		b.WriteString("Status: " + n.Status + "\n")
	}
	if n.Project != "" {
		b.WriteString("Project: " + n.Project + "\n")
	}
	if n.Description != "" && v.BodySource != gateway.BodyDescription {
		b.WriteString("\n" + n.Description + "\n")
	}
	if len(v.Outgoing) > 0 {
		b.WriteString("\n### Outgoing\n")
		for _, e := range v.Outgoing {
			b.WriteString("- " + e.String() + "\n")
		}
	}
	if len(v.Incoming) > 0 {
		b.WriteString("\n### Incoming\n")
		for _, e := range v.Incoming {
			b.WriteString("- " + e.String() + "\n")
		}
	}
	if v.Body == "" {
		return
	}
	body, cut := v.Body, false
	if level != DetailFull {
		body, cut = truncate(body, MaxBodyRunes)
	}
	fmt.Fprintf(b, "\n### Body (%s)\n%s\n", v.BodySource, body)
	if cut {
		fmt.Fprintf(b, "\n… truncated at %d characters. Use detail_level: full for the whole body.\n", MaxBodyRunes)
	}
}

// ─── UpdateNodeTool ─────────────────────────────────────────────────────────

// UpdateNodeTool handles the update_node MCP tool.
type UpdateNodeTool struct {
	gw *gateway.Gateway
}

// NewUpdateNodeTool creates an UpdateNodeTool.
func NewUpdateNodeTool(gw *gateway.Gateway) *UpdateNodeTool {
	return &UpdateNodeTool{gw: gw}
}

// Definition returns the MCP tool definition for update_node.
func (t *UpdateNodeTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolUpdateNode,
		mcp.WithDescription(
			"Update fields of a node. Omitted fields are left alone. The new text must pass "+
				"the constraints restricting update_node. Meta-graph nodes cannot be edited "+
				"here; use propose_change.",
		),
		mcp.WithString("uid",
			mcp.Required(),
			mcp.Description("UID of the node to update"),
		),
		mcp.WithString("title", mcp.Description("New title")),
		mcp.WithString("description", mcp.Description("New description")),
		mcp.WithString("status", mcp.Description("New status")),
		mcp.WithString("content", mcp.Description("New markdown body")),
		mcp.WithObject("props",
			mcp.Description("Properties to set; a null value removes the key. Managed keys are ignored."),
		),
	)
}

// Handle processes the update_node tool call.
func (t *UpdateNodeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := req.GetString("uid", "")
	if uid == "" {
		return mcp.NewToolResultError("'uid' is required"), nil
	}
	res, err := t.gw.UpdateNode(ctx, uid, gateway.UpdateInput{
		Title:       optString(req, "title"),
		Description: optString(req, "description"),
		Status:      optString(req, "status"),
		Content:     optString(req, "content"),
		Props:       mapArg(req, "props"),
	})
	if err != nil {
		return failure(err)
	}
	n, _ := res.Data.(*graph.Node)
	return respond(res, detailArg(req), func(b *strings.Builder) {
		if n != nil {
			b.WriteString(nodeLine(n) + "\n")
		}
	})
}

// ─── DeleteNodeTool ─────────────────────────────────────────────────────────

// DeleteNodeTool handles the delete_node MCP tool.
type DeleteNodeTool struct {
	gw *gateway.Gateway
}

// NewDeleteNodeTool creates a DeleteNodeTool.
func NewDeleteNodeTool(gw *gateway.Gateway) *DeleteNodeTool {
	return &DeleteNodeTool{gw: gw}
}

// Definition returns the MCP tool definition for delete_node.
func (t *DeleteNodeTool) Definition() mcp.Tool {
	return mcp.NewTool(gateway.ToolDeleteNode,
		mcp.WithDescription(
			"Delete a leaf node and its mirrored document. Nodes with children, nodes an "+
				"agent is focused on, and meta-graph nodes are refused.",
		),
		mcp.WithString("uid",
			mcp.Required(),
			mcp.Description("UID of the node to delete"),
		),
	)
}

// Handle processes the delete_node tool call.
func (t *DeleteNodeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	uid := req.GetString("uid", "")
	if uid == "" {
		return mcp.NewToolResultError("'uid' is required"), nil
	}
	res, err := t.gw.DeleteNode(ctx, uid)
	if err != nil {
		return failure(err)
	}
	return respond(res, DetailStandard, nil)
}

// nodeLine renders a node reference on one line.
func nodeLine(n *graph.Node) string {
	if n == nil {
		return ""
	}
	return fmt.Sprintf("%s (%s) %s", n.UID, n.Type, n.Title)
}
