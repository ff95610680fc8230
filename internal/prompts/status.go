package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the physics-status MCP prompt. It asks the AI to
// report what the meta-graph allows from the current location and what in
// the graph needs attention.
type StatusPrompt struct {
	sessions SessionReader
}

// NewStatusPrompt creates a StatusPrompt. sessions may be nil.
func NewStatusPrompt(sessions SessionReader) *StatusPrompt {
	return &StatusPrompt{sessions: sessions}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("physics-status",
		mcp.WithPromptDescription(
			"Check the state of the project graph: where you are, what the physics "+
				"allows from there, detached nodes and unresolved sync conflicts.",
		),
	)
}

// Handle processes the physics-status prompt request.
func (p *StatusPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	header := ""
	if p.sessions != nil {
		st := p.sessions.Session()
		header = fmt.Sprintf("Active project: %s · workflow: %s · agent: %s\n\n", st.Project, st.Workflow, st.AgentID)
	}
	return &mcp.GetPromptResult{
		Description: "Graph physics status",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					header +
						"Please run `look_around` and `get_full_context`, then `find_orphans`.\n\n" +
						"Then:\n" +
						"1. Show where I am and the actions available from here\n" +
						"2. For any action I might expect but cannot see, run `explain_physics` and tell me where it unlocks\n" +
						"3. List detached nodes and open SYNC CONFLICT trackers (BUG-Conflict-*)\n" +
						"4. Tell me exactly what I should do next",
				),
			},
		},
	}, nil
}
