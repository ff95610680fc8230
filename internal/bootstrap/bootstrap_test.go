package bootstrap_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/graphmcp/internal/bootstrap"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

func newTestStore(t *testing.T) *graph.SQLiteStore {
	t.Helper()
	s, err := graph.NewSQLiteStore(graph.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func loadDefault(t *testing.T, s *graph.SQLiteStore) bootstrap.Report {
	t.Helper()
	seed, err := bootstrap.Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}
	r, err := bootstrap.Load(context.Background(), s, seed, bootstrap.Options{}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return r
}

// --- Default seed ---

func TestDefault_IsValid(t *testing.T) {
	seed, err := bootstrap.Default()
	if err != nil {
		t.Fatalf("Default(): %v", err)
	}
	if len(seed.NodeTypes) == 0 || len(seed.Actions) == 0 || len(seed.Constraints) == 0 || len(seed.Connections) == 0 {
		t.Errorf("default seed is missing a section: %+v", seed)
	}
}

func TestLoad_IsIdempotent(t *testing.T) {
	s := newTestStore(t)
	first := loadDefault(t, s)
	if first.Created == 0 || first.EdgesAdded == 0 {
		t.Fatalf("first load = %+v, want facts created", first)
	}

	second := loadDefault(t, s)
	if second.Created != 0 || second.Updated != 0 || second.EdgesAdded != 0 {
		t.Errorf("second load = %+v, want no changes", second)
	}
	if second.Unchanged != first.Created {
		t.Errorf("Unchanged = %d, want %d", second.Unchanged, first.Created)
	}
}

func TestLoad_KeepsEditedFactsUnlessOverwrite(t *testing.T) {
	s := newTestStore(t)
	loadDefault(t, s)
	ctx := context.Background()

	uid := policy.NodeTypeUID("Spec")
	if _, err := s.UpdateNode(ctx, uid, graph.NodePatch{Props: map[string]any{"max_count": 3}}); err != nil {
		t.Fatal(err)
	}
	loadDefault(t, s)
	n, _ := s.GetNode(ctx, uid)
	if v, _ := n.PropFloat("max_count"); v != 3 {
		t.Errorf("max_count = %v, want the edited 3", v)
	}

	seed, _ := bootstrap.Default()
	r, err := bootstrap.Load(ctx, s, seed, bootstrap.Options{Overwrite: true}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.Updated == 0 {
		t.Error("Overwrite should update existing facts")
	}
	n, _ = s.GetNode(ctx, uid)
	if v, _ := n.PropFloat("max_count"); v != 1 {
		t.Errorf("max_count = %v, want seed value 1", v)
	}
}

// --- Physics after loading ---

func TestDefault_Physics(t *testing.T) {
	s := newTestStore(t)
	loadDefault(t, s)
	eng := policy.NewEngine(s, nil)
	ctx := context.Background()

	idea, err := eng.ResolvePermittedActions(ctx, graph.TypeIdea)
	if err != nil {
		t.Fatal(err)
	}
	for _, tool := range []string{"look_around", "create_concept", "link_nodes", "switch_project"} {
		if !idea.Has(tool) {
			t.Errorf("Idea should see %s; got %v", tool, idea.Tools())
		}
	}

	domain, _ := eng.ResolvePermittedActions(ctx, graph.TypeDomain)
	if domain.Has("update_node") || domain.Has("create_concept") {
		t.Errorf("Domain should only see global tools, got %v", domain.Tools())
	}

	tr, err := eng.ValidateTypeTransition(ctx, graph.TypeIdea, graph.TypeSpec)
	if err != nil || !tr.Allowed || tr.Action.LinkType != graph.RelDecomposes {
		t.Errorf("Idea -> Spec transition = %+v, %v", tr, err)
	}
	if tr, _ := eng.ValidateTypeTransition(ctx, graph.TypeIdea, graph.TypeTask); tr.Allowed {
		t.Error("Idea -> Task should not be a creation transition")
	}

	chk, _ := eng.ValidateStructuralEdge(ctx, graph.TypeTask, graph.RelImplements, graph.TypeRequirement)
	if !chk.Allowed {
		t.Error("Task IMPLEMENTS Requirement should be legal")
	}

	v, err := eng.ValidateConstraints(ctx, policy.ActionUID("create_req"), policy.Facts{Text: "see [[REQ-Other]]"})
	if err != nil {
		t.Fatal(err)
	}
	if v.OK {
		t.Error("wiki links should violate the default seed")
	}

	if limit, _ := eng.MaxCount(ctx, graph.TypeIdea); limit != 1 {
		t.Errorf("Idea max_count = %d, want 1", limit)
	}
}

func TestExport_RoundTripsTheLoadedSeed(t *testing.T) {
	s := newTestStore(t)
	loadDefault(t, s)
	want, _ := bootstrap.Default()

	got, err := bootstrap.Export(context.Background(), s)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if len(got.NodeTypes) != len(want.NodeTypes) || len(got.Actions) != len(want.Actions) ||
		len(got.Constraints) != len(want.Constraints) || len(got.Connections) != len(want.Connections) {
		t.Errorf("Export sizes = %d/%d/%d/%d, want %d/%d/%d/%d",
			len(got.NodeTypes), len(got.Actions), len(got.Constraints), len(got.Connections),
			len(want.NodeTypes), len(want.Actions), len(want.Constraints), len(want.Connections))
	}

	data, err := yaml.Marshal(got)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := bootstrap.Parse(data); err != nil {
		t.Errorf("exported seed should parse back: %v", err)
	}
}

// --- Validation ---

func TestParse_ReportsEveryProblem(t *testing.T) {
	data := []byte(`
node_types:
  - name: Idea
actions:
  - name: create_thing
    tool: create_concept
    scope: sometimes
    performed_by: [Ghost]
  - name: look_around
    tool: look_around
    scope: global
    performed_by: [Idea]
constraints:
  - name: Bad
    function: telepathy
    operator: "=~"
    restricts: [missing_action]
connections:
  - {from: Idea, relation: decomposes, to: Nowhere}
`)
	_, err := bootstrap.Parse(data)
	if !errors.Is(err, bootstrap.ErrInvalidSeed) {
		t.Fatalf("err = %v, want ErrInvalidSeed", err)
	}
	for _, want := range []string{
		"Scope",                       // oneof
		"required for create_concept", // target_type
		"must be empty for global",    // performed_by on a global action
		"telepathy",                   // unknown predicate
		"=~",                          // operator
		"undeclared type Ghost",
		"undeclared action missing_action",
		"undeclared type",
		"Relation",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q:\n%v", want, err)
		}
	}
}

func TestParse_MalformedYAML(t *testing.T) {
	if _, err := bootstrap.Parse([]byte("node_types: [")); !errors.Is(err, bootstrap.ErrInvalidSeed) {
		t.Errorf("err = %v, want ErrInvalidSeed", err)
	}
}

// --- Proposals ---

func TestPropose_DiffsAgainstStore(t *testing.T) {
	s := newTestStore(t)
	loadDefault(t, s)

	patch := []byte(`
node_types:
  - name: Risk
    description: A known project risk.
actions:
  - name: create_risk
    tool: create_concept
    scope: contextual
    target_type: Risk
    link_type: RELATES_TO
    performed_by: [Spec]
connections:
  - {from: Risk, relation: RELATES_TO, to: Spec}
  - {from: Task, relation: IMPLEMENTS, to: Requirement}
`)
	p, err := bootstrap.Propose(context.Background(), s, patch, "Risks need a home in the graph")
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}
	added := strings.Join(p.Add, "\n")
	for _, want := range []string{"NodeType TYPE-Risk", "Action ACT-create_risk", "CAN_PERFORM", "ALLOWS_CONNECTION:RELATES_TO"} {
		if !strings.Contains(added, want) {
			t.Errorf("Add should contain %q:\n%s", want, added)
		}
	}
	if len(p.Present) != 1 || !strings.Contains(p.Present[0], "TYPE-Task") {
		t.Errorf("Present = %v, want the existing Task IMPLEMENTS fact", p.Present)
	}
	out := p.Format()
	if !strings.Contains(out, "Not applied") || !strings.Contains(out, "create_risk") {
		t.Errorf("Format() missing content:\n%s", out)
	}

	if _, err := s.GetNode(context.Background(), "TYPE-Risk"); !errors.Is(err, graph.ErrNotFound) {
		t.Error("a proposal must not change the store")
	}
}

func TestPropose_Refusals(t *testing.T) {
	s := newTestStore(t)
	loadDefault(t, s)
	ctx := context.Background()

	if _, err := bootstrap.Propose(ctx, s, []byte("node_types: [{name: Risk}]"), " "); !errors.Is(err, bootstrap.ErrInvalidSeed) {
		t.Errorf("missing rationale: err = %v", err)
	}
	if _, err := bootstrap.Propose(ctx, s, []byte("{}"), "nothing"); !errors.Is(err, bootstrap.ErrInvalidSeed) {
		t.Errorf("empty patch: err = %v", err)
	}
	bad := []byte("connections: [{from: Ghost, relation: DECOMPOSES, to: Spec}]")
	if _, err := bootstrap.Propose(ctx, s, bad, "ghosts"); err == nil || !strings.Contains(err.Error(), "undeclared type") {
		t.Errorf("unknown type: err = %v", err)
	}
}
