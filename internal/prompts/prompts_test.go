package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/session"
)

type fixedSession session.State

func (f fixedSession) Session() session.State { return session.State(f) }

func promptText(t *testing.T, r *mcp.GetPromptResult) string {
	t.Helper()
	if len(r.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(r.Messages))
	}
	tc, ok := r.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T, want text", r.Messages[0].Content)
	}
	return tc.Text
}

func TestStartPrompt_Defaults(t *testing.T) {
	p := NewStartPrompt()
	if p.Definition().Name != "graph-start" {
		t.Errorf("Name = %s", p.Definition().Name)
	}
	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, res)
	if strings.Contains(text, "switch_project") {
		t.Error("no project argument should keep the active project")
	}
	if !strings.Contains(text, "mode='Architect'") {
		t.Errorf("default mode should be Architect:\n%s", text)
	}
}

func TestStartPrompt_ProjectAndAuditor(t *testing.T) {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = map[string]string{"project": "shop", "mode": "auditor"}
	res, err := NewStartPrompt().Handle(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, res)
	for _, want := range []string{"project='shop'", "mode='Auditor'", "do not try to change the graph"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt should contain %q:\n%s", want, text)
		}
	}
	if res.Description != "Start working on the graph: shop" {
		t.Errorf("Description = %q", res.Description)
	}
}

func TestStatusPrompt_IncludesSession(t *testing.T) {
	st := session.Default("shop", "agent-9")
	p := NewStatusPrompt(fixedSession(st))
	if p.Definition().Name != "physics-status" {
		t.Errorf("Name = %s", p.Definition().Name)
	}
	res, err := p.Handle(context.Background(), mcp.GetPromptRequest{})
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, res)
	if !strings.Contains(text, "Active project: shop") || !strings.Contains(text, "agent-9") {
		t.Errorf("status prompt should name the session:\n%s", text)
	}

	res, _ = NewStatusPrompt(nil).Handle(context.Background(), mcp.GetPromptRequest{})
	if strings.Contains(promptText(t, res), "Active project") {
		t.Error("a nil session reader should omit the header")
	}
}
