package policy_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

// ─── Helpers ────────────────────────────────────────────────────────────────

type fixture struct {
	t     *testing.T
	store *graph.SQLiteStore
	eng   *policy.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := graph.NewSQLiteStore(graph.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return &fixture{t: t, store: s, eng: policy.NewEngine(s, nil)}
}

func (f *fixture) nodeType(name string, props map[string]any) {
	f.t.Helper()
	f.create(graph.Node{UID: policy.NodeTypeUID(name), Type: graph.TypeNodeType, Title: name, Props: props})
}

func (f *fixture) action(name, tool string, scope policy.Scope, target string) {
	f.t.Helper()
	props := map[string]any{"tool_name": tool, "scope": string(scope)}
	if target != "" {
		props["target_type"] = target
	}
	f.create(graph.Node{UID: policy.ActionUID(name), Type: graph.TypeAction, Title: name, Props: props})
}

func (f *fixture) constraint(name string, props map[string]any, restricts ...string) {
	f.t.Helper()
	uid := policy.ConstraintUID(name)
	f.create(graph.Node{UID: uid, Type: graph.TypeConstraint, Title: name, Props: props})
	for _, act := range restricts {
		f.link(uid, graph.RelRestricts, policy.ActionUID(act), "")
	}
}

func (f *fixture) canPerform(typeName, act string) {
	f.t.Helper()
	f.link(policy.NodeTypeUID(typeName), graph.RelCanPerform, policy.ActionUID(act), "")
}

func (f *fixture) allow(src, rel, dst string) {
	f.t.Helper()
	f.link(policy.NodeTypeUID(src), graph.RelAllowsConnection, policy.NodeTypeUID(dst), rel)
}

func (f *fixture) create(n graph.Node) {
	f.t.Helper()
	if _, err := f.store.CreateNode(context.Background(), n, graph.CreateOptions{}); err != nil {
		f.t.Fatalf("CreateNode(%s): %v", n.UID, err)
	}
}

func (f *fixture) link(from, rel, to, tag string) {
	f.t.Helper()
	if _, err := f.store.UpsertEdge(context.Background(), graph.Edge{From: from, To: to, Type: rel, Tag: tag}); err != nil {
		f.t.Fatalf("UpsertEdge: %v", err)
	}
}

// failingReader fails every read.
type failingReader struct{}

var errDown = errors.New("connection refused")

func (failingReader) GetNode(context.Context, string) (*graph.Node, error) { return nil, errDown }
func (failingReader) ListNodes(context.Context, graph.NodeFilter) ([]graph.Node, error) {
	return nil, errDown
}
func (failingReader) CountNodes(context.Context, graph.NodeFilter) (int, error) { return 0, errDown }
func (failingReader) Edges(context.Context, graph.EdgeFilter) ([]graph.Edge, error) {
	return nil, errDown
}

// ─── Permissions ────────────────────────────────────────────────────────────

func TestResolvePermittedActions_RootAndChild(t *testing.T) {
	f := newFixture(t)
	f.nodeType("Root", nil)
	f.nodeType("Child", nil)
	f.action("make-child", "make-child", policy.ScopeContextual, "Child")
	f.action("look_around", "look_around", policy.ScopeGlobal, "")
	f.action("move_to", "move_to", policy.ScopeGlobal, "")
	f.canPerform("Root", "make-child")

	ctx := context.Background()
	root, err := f.eng.ResolvePermittedActions(ctx, "Root")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(root.Tools(), ","); got != "look_around,make-child,move_to" {
		t.Errorf("Root tools = %s", got)
	}

	child, err := f.eng.ResolvePermittedActions(ctx, "Child")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(child.Tools(), ","); got != "look_around,move_to" {
		t.Errorf("Child tools = %s, want globals only", got)
	}
	if child.Has("make-child") {
		t.Error("Child must not see make-child")
	}
}

func TestResolvePermittedActions_Completeness(t *testing.T) {
	f := newFixture(t)
	types := []string{"A", "B", "C"}
	for _, name := range types {
		f.nodeType(name, nil)
	}
	f.action("g", "g", policy.ScopeGlobal, "")
	f.action("x", "x", policy.ScopeContextual, "")
	f.action("y", "y", policy.ScopeContextual, "")
	f.canPerform("A", "x")
	f.canPerform("B", "x")
	f.canPerform("B", "y")

	facts := map[string]map[string]bool{
		"A": {"x": true},
		"B": {"x": true, "y": true},
		"C": {},
	}
	for _, typ := range types {
		set, err := f.eng.ResolvePermittedActions(context.Background(), typ)
		if err != nil {
			t.Fatal(err)
		}
		for _, act := range []string{"g", "x", "y"} {
			want := act == "g" || facts[typ][act]
			if got := set.Has(act); got != want {
				t.Errorf("%s sees %s = %v, want %v", typ, act, got, want)
			}
		}
	}
}

func TestResolvePermittedActions_FailsClosed(t *testing.T) {
	eng := policy.NewEngine(failingReader{}, nil)
	set, err := eng.ResolvePermittedActions(context.Background(), "Idea")
	if !errors.Is(err, policy.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !errors.Is(err, errDown) {
		t.Errorf("cause should be preserved: %v", err)
	}
	for _, tool := range set.Tools() {
		found := false
		for _, m := range policy.MinimalActions {
			if m == tool {
				found = true
			}
		}
		if !found {
			t.Errorf("fail-closed set leaked %q", tool)
		}
	}
}

// ─── Constraints ────────────────────────────────────────────────────────────

func TestValidateConstraints_RatioThreshold(t *testing.T) {
	f := newFixture(t)
	f.action("create_concept", "create_concept", policy.ScopeContextual, "")
	f.constraint("Russian", map[string]any{
		"function": "ratio_check", "operator": ">=", "threshold": 0.25,
		"error_message": "Text must be at least 25% Cyrillic",
	}, "create_concept")

	ctx := context.Background()
	// 1 Cyrillic rune of 10.
	low, err := f.eng.ValidateConstraints(ctx, "create_concept", policy.Facts{Text: "жaaaaaaaaa"})
	if err != nil {
		t.Fatal(err)
	}
	if low.OK {
		t.Fatal("10% text should be rejected")
	}
	if low.Violations[0].Message != "Text must be at least 25% Cyrillic" {
		t.Errorf("message = %q", low.Violations[0].Message)
	}

	// 3 of 10.
	high, err := f.eng.ValidateConstraints(ctx, "create_concept", policy.Facts{Text: "жжжaaaaaaa"})
	if err != nil {
		t.Fatal(err)
	}
	if !high.OK {
		t.Fatalf("30%% text should pass: %+v", high.Violations)
	}
	if len(high.Checked) != 1 || high.Checked[0] != "CON-Russian" {
		t.Errorf("checked = %v", high.Checked)
	}
}

func TestValidateConstraints_CollectsEveryViolation(t *testing.T) {
	f := newFixture(t)
	f.action("create_concept", "create_concept", policy.ScopeContextual, "")
	f.action("create_spec", "create_concept", policy.ScopeContextual, "Spec")
	f.constraint("NoTodo", map[string]any{"function": "regex_match", "pattern": `(?i)todo`}, "create_concept")
	f.constraint("MinLength", map[string]any{"function": "comparison", "metric": "text_length", "operator": ">=", "threshold": 50}, "create_spec")
	// Restricting two matching actions must still evaluate once.
	f.link(policy.ConstraintUID("NoTodo"), graph.RelRestricts, policy.ActionUID("create_spec"), "")

	v, err := f.eng.ValidateConstraints(context.Background(), "create_concept", policy.Facts{Text: "TODO later"})
	if err != nil {
		t.Fatal(err)
	}
	if v.OK || len(v.Violations) != 2 {
		t.Fatalf("want 2 violations, got %+v", v)
	}
	if len(v.Checked) != 2 {
		t.Errorf("constraints should be deduplicated, checked = %v", v.Checked)
	}
}

func TestValidateConstraints_CountCheckInScope(t *testing.T) {
	f := newFixture(t)
	f.action("create_concept", "create_concept", policy.ScopeContextual, "")
	f.constraint("OneSpec", map[string]any{
		"function": "node_count", "target_label": "Spec", "operator": ">=", "threshold": 1,
		"error_message": "Only one Spec per project",
	}, "create_concept")
	f.create(graph.Node{UID: "SPEC-A", Type: graph.TypeSpec, Title: "A", Project: "alpha"})

	ctx := context.Background()
	v, err := f.eng.ValidateConstraints(ctx, "create_concept", policy.Facts{TargetType: "Spec", Project: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if v.OK {
		t.Error("second Spec in alpha should be refused")
	}

	v, err = f.eng.ValidateConstraints(ctx, "create_concept", policy.Facts{TargetType: "Spec", Project: "beta"})
	if err != nil {
		t.Fatal(err)
	}
	if !v.OK {
		t.Errorf("beta has no Spec yet: %+v", v.Violations)
	}

	v, err = f.eng.ValidateConstraints(ctx, "create_concept", policy.Facts{TargetType: "Task", Project: "alpha"})
	if err != nil {
		t.Fatal(err)
	}
	if !v.OK {
		t.Errorf("count check must not apply to other types: %+v", v.Violations)
	}
}

func TestValidateConstraints_UnknownPredicateFailsClosed(t *testing.T) {
	f := newFixture(t)
	f.action("link_nodes", "link_nodes", policy.ScopeGlobal, "")
	f.constraint("Weird", map[string]any{"function": "vibes_check"}, "link_nodes")

	v, err := f.eng.ValidateConstraints(context.Background(), "link_nodes", policy.Facts{})
	if err != nil {
		t.Fatal(err)
	}
	if v.OK || !strings.Contains(v.Violations[0].Message, "unknown predicate") {
		t.Errorf("unknown predicate should violate, got %+v", v)
	}
}

func TestValidateConstraints_StoreFailureIsNotPass(t *testing.T) {
	eng := policy.NewEngine(failingReader{}, nil)
	v, err := eng.ValidateConstraints(context.Background(), "create_concept", policy.Facts{Text: "x"})
	if !errors.Is(err, policy.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if v.OK {
		t.Error("verdict must not pass when constraints cannot be read")
	}
}

// ─── Schema ─────────────────────────────────────────────────────────────────

func TestValidateStructuralEdge(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"Idea", "Spec", "Task"} {
		f.nodeType(name, nil)
	}
	f.allow("Idea", graph.RelDecomposes, "Spec")
	f.allow("Task", graph.RelImplements, "Spec")

	ctx := context.Background()
	ok, err := f.eng.ValidateStructuralEdge(ctx, "Idea", graph.RelDecomposes, "Spec")
	if err != nil || !ok.Allowed {
		t.Fatalf("Idea DECOMPOSES Spec should be legal: %+v %v", ok, err)
	}

	bad, err := f.eng.ValidateStructuralEdge(ctx, "Idea", graph.RelImplements, "Spec")
	if err != nil {
		t.Fatal(err)
	}
	if bad.Allowed {
		t.Fatal("Idea IMPLEMENTS Spec should be illegal")
	}
	if len(bad.Alternatives) != 1 || bad.Alternatives[0].String() != "DECOMPOSES -> Spec" {
		t.Errorf("alternatives = %v", bad.Alternatives)
	}
}

func TestValidateTypeTransition(t *testing.T) {
	f := newFixture(t)
	for _, name := range []string{"Idea", "Spec", "Task"} {
		f.nodeType(name, nil)
	}
	f.action("create_spec", policy.CreateTool, policy.ScopeContextual, "Spec")
	f.canPerform("Idea", "create_spec")

	ctx := context.Background()
	tr, err := f.eng.ValidateTypeTransition(ctx, "Idea", "Spec")
	if err != nil {
		t.Fatal(err)
	}
	if !tr.Allowed || tr.Action == nil || tr.Action.UID != "ACT-create_spec" {
		t.Errorf("Idea -> Spec should be allowed via ACT-create_spec: %+v", tr)
	}

	tr, err = f.eng.ValidateTypeTransition(ctx, "Idea", "Task")
	if err != nil {
		t.Fatal(err)
	}
	if tr.Allowed {
		t.Error("Idea -> Task should be refused")
	}
	if strings.Join(tr.AllowedTargets, ",") != "Spec" {
		t.Errorf("allowed targets = %v", tr.AllowedTargets)
	}
}

func TestMaxCount(t *testing.T) {
	f := newFixture(t)
	f.nodeType("Spec", map[string]any{"max_count": 1})
	f.nodeType("Task", nil)

	ctx := context.Background()
	if n, err := f.eng.MaxCount(ctx, "Spec"); err != nil || n != 1 {
		t.Errorf("Spec max = %d, %v", n, err)
	}
	if n, err := f.eng.MaxCount(ctx, "Task"); err != nil || n != 0 {
		t.Errorf("Task max = %d, %v", n, err)
	}
	if n, err := f.eng.MaxCount(ctx, "Nope"); err != nil || n != 0 {
		t.Errorf("unknown type max = %d, %v", n, err)
	}
}

// ─── Explanations ───────────────────────────────────────────────────────────

func TestExplain(t *testing.T) {
	f := newFixture(t)
	f.nodeType("Idea", nil)
	f.nodeType("Spec", nil)
	f.action("look_around", "look_around", policy.ScopeGlobal, "")
	f.action("create_spec", policy.CreateTool, policy.ScopeContextual, "Spec")
	f.canPerform("Idea", "create_spec")

	ctx := context.Background()
	tests := []struct {
		ctxType, action, want string
	}{
		{"Spec", "look_around", policy.AllowedGlobal},
		{"Idea", "create_concept", policy.AllowedContextual},
		{"Spec", "create_concept", policy.Blocked},
		{"Spec", "teleport", policy.Unknown},
	}
	for _, tt := range tests {
		ex, err := f.eng.Explain(ctx, tt.ctxType, tt.action)
		if err != nil {
			t.Fatalf("Explain(%s, %s): %v", tt.ctxType, tt.action, err)
		}
		if ex.Status != tt.want {
			t.Errorf("Explain(%s, %s) = %s, want %s (%s)", tt.ctxType, tt.action, ex.Status, tt.want, ex.Reason)
		}
		if ex.Status == policy.Blocked && strings.Join(ex.UnlockFrom, ",") != "Idea" {
			t.Errorf("unlock path = %v, want [Idea]", ex.UnlockFrom)
		}
	}
}
