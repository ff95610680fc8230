package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/bootstrap"
	"github.com/HendryAvila/graphmcp/internal/cursor"
	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/gateway"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
	"github.com/HendryAvila/graphmcp/internal/session"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

func newTestGateway(t *testing.T) *gateway.Gateway {
	t.Helper()
	s, err := graph.NewSQLiteStore(graph.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	seed, err := bootstrap.Default()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bootstrap.Load(context.Background(), s, seed, bootstrap.Options{}, nil); err != nil {
		t.Fatal(err)
	}
	sess, err := session.Open(session.NewFileStore(t.TempDir()), session.Default("alpha", "agent-1"))
	if err != nil {
		t.Fatal(err)
	}
	return gateway.New(gateway.Deps{
		Store:   s,
		Policy:  policy.NewEngine(s, nil),
		Cursor:  cursor.New(s),
		Session: sess,
		Sync:    docsync.NewEngine(s, docsync.Config{WorkspaceRoot: t.TempDir()}, nil),
	})
}

func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

type handler interface {
	Definition() mcp.Tool
	Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

func call(t *testing.T, h handler, args map[string]interface{}) (string, bool) {
	t.Helper()
	res, err := h.Handle(context.Background(), makeReq(args))
	if err != nil {
		t.Fatalf("%s returned a Go error: %v", h.Definition().Name, err)
	}
	return resultText(res), res.IsError
}

// ─── Definitions ────────────────────────────────────────────────────────────

func TestDefinitions_NamesAndRequiredArgs(t *testing.T) {
	gw := newTestGateway(t)
	tests := []struct {
		tool     handler
		name     string
		required []string
	}{
		{NewLookAroundTool(gw), "look_around", nil},
		{NewMoveToTool(gw), "move_to", []string{"uid"}},
		{NewCreateConceptTool(gw), "create_concept", []string{"type", "title"}},
		{NewRegisterTaskTool(gw), "register_task", []string{"title"}},
		{NewReadNodeTool(gw), "read_node", []string{"uid"}},
		{NewUpdateNodeTool(gw), "update_node", []string{"uid"}},
		{NewDeleteNodeTool(gw), "delete_node", []string{"uid"}},
		{NewLinkNodesTool(gw), "link_nodes", []string{"from", "relation", "to"}},
		{NewDeleteLinkTool(gw), "delete_link", []string{"from", "relation", "to"}},
		{NewLookForSimilarTool(gw), "look_for_similar", []string{"query"}},
		{NewExplainPhysicsTool(gw), "explain_physics", []string{"action"}},
		{NewGetFullContextTool(gw), "get_full_context", nil},
		{NewSyncGraphTool(gw), "sync_graph", nil},
		{NewFindOrphansTool(gw), "find_orphans", nil},
		{NewIlluminatePathTool(gw), "illuminate_path", []string{"query"}},
		{NewSwitchProjectTool(gw), "switch_project", []string{"project"}},
		{NewSetWorkflowTool(gw), "set_workflow", []string{"mode"}},
		{NewRefreshKnowledgeTool(gw), "refresh_knowledge", nil},
		{NewProposeChangeTool(gw), "propose_change", []string{"patch", "rationale"}},
	}
	for _, tt := range tests {
		def := tt.tool.Definition()
		if def.Name != tt.name {
			t.Errorf("Name = %s, want %s", def.Name, tt.name)
		}
		if def.Description == "" {
			t.Errorf("%s has no description", tt.name)
		}
		got := strings.Join(def.InputSchema.Required, ",")
		if got != strings.Join(tt.required, ",") {
			t.Errorf("%s required = [%s], want %v", tt.name, got, tt.required)
		}
	}
}

func TestHandlers_MissingArgsAreToolErrors(t *testing.T) {
	gw := newTestGateway(t)
	for _, h := range []handler{
		NewMoveToTool(gw),
		NewCreateConceptTool(gw),
		NewRegisterTaskTool(gw),
		NewReadNodeTool(gw),
		NewUpdateNodeTool(gw),
		NewDeleteNodeTool(gw),
		NewLinkNodesTool(gw),
		NewDeleteLinkTool(gw),
		NewLookForSimilarTool(gw),
		NewIlluminatePathTool(gw),
		NewExplainPhysicsTool(gw),
		NewSwitchProjectTool(gw),
		NewSetWorkflowTool(gw),
		NewProposeChangeTool(gw),
	} {
		text, isErr := call(t, h, map[string]interface{}{})
		if !isErr || !strings.Contains(text, "is required") {
			t.Errorf("%s with no args = %q (error %v)", h.Definition().Name, text, isErr)
		}
	}
}

// ─── Navigation ─────────────────────────────────────────────────────────────

func TestLookAroundTool_ShowsLocationAndActions(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewLookAroundTool(gw), nil)
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}
	for _, want := range []string{graph.RootUID, "Available actions", "create_concept → Spec via DECOMPOSES", "Checks:", "Request:"} {
		if !strings.Contains(text, want) {
			t.Errorf("look_around should contain %q:\n%s", want, text)
		}
	}
}

func TestLookAroundTool_SummaryDetail(t *testing.T) {
	gw := newTestGateway(t)
	text, _ := call(t, NewLookAroundTool(gw), map[string]interface{}{"detail_level": "summary"})
	if strings.Contains(text, "Available actions") {
		t.Error("summary should omit the body")
	}
	if !strings.Contains(text, SummaryFooter) {
		t.Error("summary should end with the summary footer")
	}

	full, _ := call(t, NewLookAroundTool(gw), map[string]interface{}{"detail_level": "full"})
	if !strings.Contains(full, "```json") {
		t.Error("full detail should include the raw result")
	}
}

func TestMoveToTool_UnknownNode(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewMoveToTool(gw), map[string]interface{}{"uid": "SPEC-NOWHERE"})
	if !isErr || !strings.Contains(text, "NotFound") {
		t.Errorf("move_to unknown = %q (error %v)", text, isErr)
	}
}

func TestExplainPhysicsTool(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewExplainPhysicsTool(gw), map[string]interface{}{
		"action":       "create_concept",
		"context_type": "Task",
	})
	if isErr {
		t.Fatalf("unexpected error: %s", text)
	}
	if !strings.Contains(text, policy.Blocked) || !strings.Contains(text, "Unlocks from:") {
		t.Errorf("explain from Task should be blocked with an unlock path:\n%s", text)
	}
}

// ─── Nodes ──────────────────────────────────────────────────────────────────

func TestCreateConceptTool_CreatesAndMirrors(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewCreateConceptTool(gw), map[string]interface{}{
		"type":    "Spec",
		"title":   "Search API",
		"content": "Full-text search over the catalogue.",
		"props":   map[string]interface{}{"owner": "team-search", "uid": "HIJACK"},
	})
	if isErr {
		t.Fatalf("create_concept failed: %s", text)
	}
	for _, want := range []string{"Created SPEC-SEARCH_API", "type-transition ✓", "managed-keys", "Mirror: SPEC-SEARCH_API"} {
		if !strings.Contains(text, want) {
			t.Errorf("response should contain %q:\n%s", want, text)
		}
	}
}

func TestCreateConceptTool_RefusalNamesRule(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewCreateConceptTool(gw), map[string]interface{}{
		"type":  "Task",
		"title": "Not here",
	})
	if !isErr {
		t.Fatalf("a Task under the root should be refused:\n%s", text)
	}
	if !strings.Contains(text, "type-transition") || !strings.Contains(text, "Hint:") {
		t.Errorf("refusal should name the rule and a hint:\n%s", text)
	}
}

func TestReadNodeTool_TruncatesLongBodies(t *testing.T) {
	gw := newTestGateway(t)
	body := strings.Repeat("search ", 2000)
	if _, isErr := call(t, NewCreateConceptTool(gw), map[string]interface{}{
		"type": "Spec", "title": "Search API", "content": body,
	}); isErr {
		t.Fatal("create failed")
	}

	text, isErr := call(t, NewReadNodeTool(gw), map[string]interface{}{"uid": "SPEC-SEARCH_API"})
	if isErr {
		t.Fatalf("read_node failed: %s", text)
	}
	if !strings.Contains(text, "truncated at 8000") {
		t.Error("standard detail should truncate a long body")
	}
	if !strings.Contains(text, "### Incoming") || !strings.Contains(text, graph.RootUID) {
		t.Errorf("read_node should list the DECOMPOSES edge from the root:\n%.400s", text)
	}

	full, _ := call(t, NewReadNodeTool(gw), map[string]interface{}{"uid": "SPEC-SEARCH_API", "detail_level": "full"})
	if strings.Contains(full, "truncated at") {
		t.Error("full detail should not truncate")
	}
}

func TestUpdateNodeTool_LeavesOmittedFieldsAlone(t *testing.T) {
	gw := newTestGateway(t)
	call(t, NewCreateConceptTool(gw), map[string]interface{}{
		"type": "Spec", "title": "Search API", "description": "Catalogue search.",
	})

	text, isErr := call(t, NewUpdateNodeTool(gw), map[string]interface{}{
		"uid":    "SPEC-SEARCH_API",
		"status": "Approved",
	})
	if isErr {
		t.Fatalf("update_node failed: %s", text)
	}
	read, _ := call(t, NewReadNodeTool(gw), map[string]interface{}{"uid": "SPEC-SEARCH_API"})
	if !strings.Contains(read, "Status: Approved") || !strings.Contains(read, "Catalogue search.") {
		t.Errorf("status should change and description stay:\n%s", read)
	}
}

func TestDeleteNodeTool_RefusesProtected(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewDeleteNodeTool(gw), map[string]interface{}{"uid": "CON-No_WikiLinks"})
	if !isErr || !strings.Contains(text, "protected-meta-type") {
		t.Errorf("deleting a constraint = %q (error %v)", text, isErr)
	}
}

// ─── Links ──────────────────────────────────────────────────────────────────

func TestLinkNodesTool_IllegalPairListsAlternatives(t *testing.T) {
	gw := newTestGateway(t)
	call(t, NewRegisterTaskTool(gw), map[string]interface{}{"title": "Write docs"})

	text, isErr := call(t, NewLinkNodesTool(gw), map[string]interface{}{
		"from": "TASK-WRITE_DOCS", "relation": "DECOMPOSES", "to": graph.RootUID,
	})
	if !isErr || !strings.Contains(text, "IMPLEMENTS -> Requirement") {
		t.Errorf("illegal link should list legal connections:\n%s", text)
	}
}

// ─── Knowledge ──────────────────────────────────────────────────────────────

func TestLookForSimilarTool_NoProvider(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewLookForSimilarTool(gw), map[string]interface{}{"query": "search"})
	if !isErr || !strings.Contains(text, "OPENAI_API_KEY") {
		t.Errorf("look_for_similar without a provider = %q (error %v)", text, isErr)
	}
}

func TestGetFullContextTool(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewGetFullContextTool(gw), nil)
	if isErr {
		t.Fatalf("get_full_context failed: %s", text)
	}
	for _, want := range []string{"### Constraints", "CON-No_WikiLinks", "### Next steps"} {
		if !strings.Contains(text, want) {
			t.Errorf("full context should contain %q:\n%s", want, text)
		}
	}
}

func TestFindOrphansTool(t *testing.T) {
	gw := newTestGateway(t)
	call(t, NewRegisterTaskTool(gw), map[string]interface{}{"title": "Loose end"})
	text, isErr := call(t, NewFindOrphansTool(gw), nil)
	if isErr || !strings.Contains(text, "TASK-LOOSE_END") {
		t.Errorf("find_orphans = %q (error %v)", text, isErr)
	}
}

func TestFindOrphansTool_LimitAddsHint(t *testing.T) {
	gw := newTestGateway(t)
	for _, title := range []string{"Loose end", "Another end", "Third end"} {
		call(t, NewRegisterTaskTool(gw), map[string]interface{}{"title": title})
	}
	text, isErr := call(t, NewFindOrphansTool(gw), map[string]interface{}{"limit": float64(1)})
	if isErr || !strings.Contains(text, "Showing 1 of 3.") {
		t.Errorf("capped find_orphans should say how many are hidden:\n%s", text)
	}

	text, _ = call(t, NewFindOrphansTool(gw), nil)
	if strings.Contains(text, "Showing") {
		t.Errorf("uncapped find_orphans should carry no hint:\n%s", text)
	}
}

func TestIlluminatePathTool_NoProvider(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewIlluminatePathTool(gw), map[string]interface{}{"query": "add login"})
	if !isErr || !strings.Contains(text, "OPENAI_API_KEY") {
		t.Errorf("illuminate_path without a provider = %q (error %v)", text, isErr)
	}
}

// ─── Session and maintenance ────────────────────────────────────────────────

func TestSetWorkflowTool_AuditorRefusesMutations(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewSetWorkflowTool(gw), map[string]interface{}{"mode": "auditor"})
	if isErr || !strings.Contains(text, "Workflow: Auditor") {
		t.Fatalf("set_workflow = %q (error %v)", text, isErr)
	}
	text, isErr = call(t, NewRegisterTaskTool(gw), map[string]interface{}{"title": "Sneaky"})
	if !isErr || !strings.Contains(text, "WorkflowDenied") {
		t.Errorf("register_task in Auditor mode = %q", text)
	}
}

func TestSwitchProjectTool(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewSwitchProjectTool(gw), map[string]interface{}{"project": "beta", "root": t.TempDir()})
	if isErr || !strings.Contains(text, "Project: beta") || !strings.Contains(text, "Root: ") {
		t.Errorf("switch_project = %q (error %v)", text, isErr)
	}
}

func TestSyncGraphTool(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewSyncGraphTool(gw), nil)
	if isErr || !strings.Contains(text, "Synced") {
		t.Errorf("sync_graph = %q (error %v)", text, isErr)
	}
	text, isErr = call(t, NewSyncGraphTool(gw), map[string]interface{}{"uid": graph.RootUID})
	if isErr || !strings.Contains(text, "Document: ") {
		t.Errorf("sync_graph uid = %q (error %v)", text, isErr)
	}
}

func TestRefreshKnowledgeTool_NoProvider(t *testing.T) {
	gw := newTestGateway(t)
	if _, isErr := call(t, NewRefreshKnowledgeTool(gw), nil); !isErr {
		t.Error("refresh_knowledge without a provider should be a tool error")
	}
}

func TestProposeChangeTool(t *testing.T) {
	gw := newTestGateway(t)
	text, isErr := call(t, NewProposeChangeTool(gw), map[string]interface{}{
		"patch":     "node_types:\n  - name: Risk\n",
		"rationale": "Track risks",
	})
	if isErr || !strings.Contains(text, "NodeType TYPE-Risk") || !strings.Contains(text, "Not applied") {
		t.Errorf("propose_change = %q (error %v)", text, isErr)
	}
}
