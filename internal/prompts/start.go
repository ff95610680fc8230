// Package prompts implements MCP prompts for working with the graph.
//
// Prompts are user-triggered workflows (like slash commands) that tell the
// AI which tools to run in which order. Unlike tools, the user starts them.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/session"
)

// SessionReader exposes the active session to prompts.
type SessionReader interface {
	Session() session.State
}

// StartPrompt handles the graph-start MCP prompt. It orients the AI in a
// project before any change is made.
type StartPrompt struct{}

// NewStartPrompt creates a StartPrompt.
func NewStartPrompt() *StartPrompt {
	return &StartPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StartPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("graph-start",
		mcp.WithPromptDescription(
			"Start working on a project graph: select the project and workflow mode, "+
				"then look around before changing anything.",
		),
		mcp.WithArgument("project",
			mcp.ArgumentDescription("Project identifier (default: keep the active project)"),
		),
		mcp.WithArgument("mode",
			mcp.ArgumentDescription("Workflow mode: Architect, Builder or Auditor. Default: Architect"),
		),
	)
}

// Handle processes the graph-start prompt request.
func (p *StartPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	project := strings.TrimSpace(req.Params.Arguments["project"])
	mode, err := session.ParseMode(req.Params.Arguments["mode"])
	if err != nil {
		mode = session.ModeArchitect
	}

	var steps []string
	if project != "" {
		steps = append(steps, fmt.Sprintf("Run `switch_project` with project='%s'", project))
	}
	steps = append(steps,
		fmt.Sprintf("Run `set_workflow` with mode='%s'", mode),
		"Run `look_around` and tell me where we are and which actions are available",
		"Run `get_full_context` and summarize the Specs, Requirements and open conflicts",
		"Ask me what I want to build; before creating anything, run `look_for_similar` to find existing nodes to reuse",
	)

	var b strings.Builder
	b.WriteString("I want to work on the project graph.\n\nPlease:\n")
	for i, s := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	if mode.ReadOnly() {
		b.WriteString("\nWe are auditing: do not try to change the graph.")
	}

	desc := "Start working on the graph"
	if project != "" {
		desc += ": " + project
	}
	return &mcp.GetPromptResult{
		Description: desc,
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(b.String()),
			},
		},
	}, nil
}
