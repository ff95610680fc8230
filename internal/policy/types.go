// Package policy evaluates the meta-graph: the NodeType, Action and
// Constraint facts stored in the graph that decide which operations are
// visible, which content is acceptable and which edges are schema-legal.
//
// Nothing here is hardcoded business logic. Rules change by editing the
// graph, and every read failure is treated as a denial.
package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/graph"
)

// MetaReader is the slice of the graph store the engine needs.
type MetaReader interface {
	GetNode(ctx context.Context, uid string) (*graph.Node, error)
	ListNodes(ctx context.Context, f graph.NodeFilter) ([]graph.Node, error)
	CountNodes(ctx context.Context, f graph.NodeFilter) (int, error)
	Edges(ctx context.Context, f graph.EdgeFilter) ([]graph.Edge, error)
}

// ─── Scope ──────────────────────────────────────────────────────────────────

// Scope controls when an action is visible.
type Scope string

const (
	// ScopeGlobal actions are visible from every node type.
	ScopeGlobal Scope = "global"
	// ScopeContextual actions need a CAN_PERFORM fact from the cursor's type.
	ScopeContextual Scope = "contextual"
)

var validScopes = map[Scope]bool{
	ScopeGlobal:     true,
	ScopeContextual: true,
}

// ValidateScope checks that a scope string is known.
func ValidateScope(s string) (Scope, error) {
	scope := Scope(s)
	if !validScopes[scope] {
		return "", fmt.Errorf("invalid scope %q: must be %q or %q", s, ScopeGlobal, ScopeContextual)
	}
	return scope, nil
}

// ─── Meta facts ─────────────────────────────────────────────────────────────

// NodeTypeUID returns the uid of the NodeType fact for a type name.
func NodeTypeUID(name string) string { return "TYPE-" + name }

// ActionUID returns the uid of an Action fact.
func ActionUID(name string) string { return "ACT-" + name }

// ConstraintUID returns the uid of a Constraint fact.
func ConstraintUID(name string) string { return "CON-" + name }

// Action is a decoded Action node.
type Action struct {
	UID        string `json:"uid"`
	ToolName   string `json:"tool_name"`
	Scope      Scope  `json:"scope"`
	TargetType string `json:"target_type,omitempty"`
	LinkType   string `json:"link_type,omitempty"`
}

// ActionFromNode decodes an Action node. A missing tool_name falls back to
// the uid suffix and a missing scope means contextual.
func ActionFromNode(n graph.Node) Action {
	a := Action{
		UID:        n.UID,
		ToolName:   n.PropString("tool_name"),
		Scope:      Scope(n.PropString("scope")),
		TargetType: n.PropString("target_type"),
		LinkType:   n.PropString("link_type"),
	}
	if a.ToolName == "" {
		a.ToolName = strings.TrimPrefix(n.UID, "ACT-")
	}
	if !validScopes[a.Scope] {
		a.Scope = ScopeContextual
	}
	return a
}

// Constraint is a decoded Constraint node.
type Constraint struct {
	UID         string  `json:"uid"`
	Function    string  `json:"function"`
	Operator    string  `json:"operator,omitempty"`
	Threshold   float64 `json:"threshold,omitempty"`
	Pattern     string  `json:"pattern,omitempty"`
	TargetLabel string  `json:"target_label,omitempty"`
	CharClass   string  `json:"char_class,omitempty"`
	Metric      string  `json:"metric,omitempty"`
	Message     string  `json:"error_message,omitempty"`
}

// ConstraintFromNode decodes a Constraint node.
func ConstraintFromNode(n graph.Node) Constraint {
	threshold, _ := n.PropFloat("threshold")
	return Constraint{
		UID:         n.UID,
		Function:    n.PropString("function"),
		Operator:    n.PropString("operator"),
		Threshold:   threshold,
		Pattern:     n.PropString("pattern"),
		TargetLabel: n.PropString("target_label"),
		CharClass:   n.PropString("char_class"),
		Metric:      n.PropString("metric"),
		Message:     n.PropString("error_message"),
	}
}

// ─── Action sets ────────────────────────────────────────────────────────────

// ActionSet is the set of actions visible from one node type.
type ActionSet struct {
	actions []Action
}

func newActionSet(actions []Action) ActionSet {
	seen := make(map[string]bool, len(actions))
	out := make([]Action, 0, len(actions))
	for _, a := range actions {
		if seen[a.UID] {
			continue
		}
		seen[a.UID] = true
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return ActionSet{actions: out}
}

// Has reports whether the set contains an action with the given tool name
// or uid.
func (s ActionSet) Has(name string) bool {
	for _, a := range s.actions {
		if a.ToolName == name || a.UID == name {
			return true
		}
	}
	return false
}

// Tools returns the distinct tool names, sorted.
func (s ActionSet) Tools() []string {
	seen := make(map[string]bool)
	var tools []string
	for _, a := range s.actions {
		if !seen[a.ToolName] {
			seen[a.ToolName] = true
			tools = append(tools, a.ToolName)
		}
	}
	sort.Strings(tools)
	return tools
}

// Actions returns the actions ordered by uid.
func (s ActionSet) Actions() []Action {
	return append([]Action(nil), s.actions...)
}

// Len returns the number of actions.
func (s ActionSet) Len() int { return len(s.actions) }

// ─── Validation inputs and outputs ──────────────────────────────────────────

// Facts is the context a constraint is evaluated against. Fields that do not
// apply to an operation stay empty.
type Facts struct {
	Text         string
	TargetType   string
	CurrentUID   string
	CandidateUID string
	Project      string
	// TargetCount is filled by the engine for count checks.
	TargetCount int
}

// Violation is one failed constraint.
type Violation struct {
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// Verdict is the outcome of ValidateConstraints.
type Verdict struct {
	OK         bool        `json:"ok"`
	Checked    []string    `json:"checked"`
	Violations []Violation `json:"violations,omitempty"`
}

// Messages returns the violation messages in evaluation order.
func (v Verdict) Messages() []string {
	out := make([]string, len(v.Violations))
	for i, x := range v.Violations {
		out[i] = x.Message
	}
	return out
}

// Connection is one legal ALLOWS_CONNECTION fact seen from a source type.
type Connection struct {
	Relation string `json:"relation"`
	Target   string `json:"target"`
}

func (c Connection) String() string { return c.Relation + " -> " + c.Target }

// EdgeCheck is the outcome of ValidateStructuralEdge.
type EdgeCheck struct {
	Allowed bool `json:"allowed"`
	// Alternatives lists what the source type may legally connect to.
	Alternatives []Connection `json:"alternatives,omitempty"`
}

// Transition is the outcome of ValidateTypeTransition.
type Transition struct {
	Allowed bool    `json:"allowed"`
	Action  *Action `json:"action,omitempty"`
	// AllowedTargets lists the types creatable under the parent type.
	AllowedTargets []string `json:"allowed_targets,omitempty"`
}
