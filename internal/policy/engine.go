package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/graph"
)

// CreateTool is the tool whose contextual actions carry target_type and
// therefore drive type transitions.
const CreateTool = "create_concept"

// MinimalActions is the set returned when the meta-graph cannot be read.
// It only lets an agent observe where it is.
var MinimalActions = []string{"look_around"}

// ErrUnavailable wraps every store read failure surfaced by the engine.
var ErrUnavailable = errors.New("policy: meta-graph unavailable")

// Engine answers permission, content and schema questions from meta-graph
// facts. It holds no state of its own and is safe for concurrent use.
type Engine struct {
	store  MetaReader
	logger *slog.Logger
}

// NewEngine creates an Engine over the given store. A nil logger falls back
// to slog.Default().
func NewEngine(store MetaReader, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

func (e *Engine) unavailable(op string, err error) error {
	e.logger.Warn("meta-graph read failed, failing closed", "op", op, "error", err)
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func minimalSet() ActionSet {
	actions := make([]Action, len(MinimalActions))
	for i, name := range MinimalActions {
		actions[i] = Action{UID: ActionUID(name), ToolName: name, Scope: ScopeGlobal}
	}
	return newActionSet(actions)
}

// ─── Permissions ────────────────────────────────────────────────────────────

// ResolvePermittedActions returns global actions plus the actions reachable
// from contextType through CAN_PERFORM. On any store failure it returns the
// minimal set together with an error wrapping ErrUnavailable.
func (e *Engine) ResolvePermittedActions(ctx context.Context, contextType string) (ActionSet, error) {
	globals, err := e.globalActions(ctx)
	if err != nil {
		return minimalSet(), e.unavailable("resolving global actions", err)
	}
	contextual, err := e.performable(ctx, contextType)
	if err != nil {
		return minimalSet(), e.unavailable("resolving contextual actions", err)
	}
	return newActionSet(append(globals, contextual...)), nil
}

func (e *Engine) globalActions(ctx context.Context) ([]Action, error) {
	nodes, err := e.store.ListNodes(ctx, graph.NodeFilter{
		Types: []string{graph.TypeAction},
		Props: map[string]string{"scope": string(ScopeGlobal)},
	})
	if err != nil {
		return nil, err
	}
	actions := make([]Action, 0, len(nodes))
	for _, n := range nodes {
		actions = append(actions, ActionFromNode(n))
	}
	return actions, nil
}

// performable returns the actions a type reaches through CAN_PERFORM.
func (e *Engine) performable(ctx context.Context, nodeType string) ([]Action, error) {
	if nodeType == "" {
		return nil, nil
	}
	edges, err := e.store.Edges(ctx, graph.EdgeFilter{
		UID:       NodeTypeUID(nodeType),
		Direction: graph.Outgoing,
		Types:     []string{graph.RelCanPerform},
	})
	if err != nil {
		return nil, err
	}
	if len(edges) == 0 {
		return nil, nil
	}
	uids := make([]string, len(edges))
	for i, edge := range edges {
		uids[i] = edge.To
	}
	nodes, err := e.store.ListNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeAction}, UIDs: uids})
	if err != nil {
		return nil, err
	}
	actions := make([]Action, 0, len(nodes))
	for _, n := range nodes {
		actions = append(actions, ActionFromNode(n))
	}
	return actions, nil
}

// ─── Constraints ────────────────────────────────────────────────────────────

// Constraints returns the constraints restricting an action, matched by
// action uid or by tool name, deduplicated and ordered by uid.
func (e *Engine) Constraints(ctx context.Context, action string) ([]Constraint, error) {
	actions, err := e.store.ListNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeAction}})
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var uids []string
	for _, n := range actions {
		a := ActionFromNode(n)
		if a.UID != action && a.ToolName != action {
			continue
		}
		edges, err := e.store.Edges(ctx, graph.EdgeFilter{
			UID:       a.UID,
			Direction: graph.Incoming,
			Types:     []string{graph.RelRestricts},
		})
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			if !seen[edge.From] {
				seen[edge.From] = true
				uids = append(uids, edge.From)
			}
		}
	}
	if len(uids) == 0 {
		return nil, nil
	}

	nodes, err := e.store.ListNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeConstraint}, UIDs: uids})
	if err != nil {
		return nil, err
	}
	out := make([]Constraint, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, ConstraintFromNode(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out, nil
}

// ValidateConstraints evaluates every constraint restricting action and
// collects all violations. A store failure yields a failed verdict and an
// error wrapping ErrUnavailable, never a pass.
func (e *Engine) ValidateConstraints(ctx context.Context, action string, f Facts) (Verdict, error) {
	constraints, err := e.Constraints(ctx, action)
	if err != nil {
		return Verdict{Violations: []Violation{{
			Rule:    "meta-graph",
			Message: "constraints for " + action + " could not be loaded; operation refused",
		}}}, e.unavailable("loading constraints", err)
	}

	v := Verdict{OK: true}
	for _, c := range constraints {
		v.Checked = append(v.Checked, c.UID)

		facts := f
		if Canonical(c.Function) == PredCountCheck && c.TargetLabel != "" && f.TargetType == c.TargetLabel {
			n, err := e.store.CountNodes(ctx, graph.NodeFilter{Types: []string{c.TargetLabel}, Project: f.Project})
			if err != nil {
				v.OK = false
				v.Violations = append(v.Violations, Violation{Rule: c.UID, Message: c.UID + ": count unavailable; operation refused"})
				return v, e.unavailable("counting "+c.TargetLabel, err)
			}
			facts.TargetCount = n
		}

		if violation, hit := evaluate(c, facts); hit {
			v.OK = false
			v.Violations = append(v.Violations, violation)
		}
	}
	return v, nil
}

func evaluate(c Constraint, f Facts) (Violation, bool) {
	pred, ok := Lookup(c.Function)
	if !ok {
		return Violation{Rule: c.UID, Message: fmt.Sprintf("%s: unknown predicate %q", c.UID, c.Function)}, true
	}
	violated, detail, err := pred(c, f)
	if err != nil {
		return Violation{Rule: c.UID, Message: fmt.Sprintf("%s: %v", c.UID, err)}, true
	}
	if !violated {
		return Violation{}, false
	}
	msg := c.Message
	if msg == "" {
		msg = c.UID + ": " + detail
	}
	return Violation{Rule: c.UID, Message: msg}, true
}

// ─── Schema ─────────────────────────────────────────────────────────────────

// Connections lists the ALLOWS_CONNECTION facts leaving srcType, ordered by
// (relation, target).
func (e *Engine) Connections(ctx context.Context, srcType string) ([]Connection, error) {
	edges, err := e.store.Edges(ctx, graph.EdgeFilter{
		UID:       NodeTypeUID(srcType),
		Direction: graph.Outgoing,
		Types:     []string{graph.RelAllowsConnection},
	})
	if err != nil {
		return nil, e.unavailable("loading connections", err)
	}
	out := make([]Connection, 0, len(edges))
	for _, edge := range edges {
		target, err := e.typeName(ctx, edge.To)
		if err != nil {
			return nil, e.unavailable("loading connection target", err)
		}
		out = append(out, Connection{Relation: edge.Tag, Target: target})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Relation != out[j].Relation {
			return out[i].Relation < out[j].Relation
		}
		return out[i].Target < out[j].Target
	})
	return out, nil
}

// ValidateStructuralEdge reports whether srcType -[relation]-> dstType is
// schema-legal. Rejections carry the legal alternatives from srcType.
func (e *Engine) ValidateStructuralEdge(ctx context.Context, srcType, relation, dstType string) (EdgeCheck, error) {
	conns, err := e.Connections(ctx, srcType)
	if err != nil {
		return EdgeCheck{}, err
	}
	for _, c := range conns {
		if c.Relation == relation && c.Target == dstType {
			return EdgeCheck{Allowed: true}, nil
		}
	}
	return EdgeCheck{Allowed: false, Alternatives: conns}, nil
}

// typeName maps a NodeType uid to its name.
func (e *Engine) typeName(ctx context.Context, uid string) (string, error) {
	n, err := e.store.GetNode(ctx, uid)
	if err != nil {
		return "", err
	}
	if n.Title != "" {
		return n.Title, nil
	}
	return strings.TrimPrefix(n.UID, "TYPE-"), nil
}

// ValidateTypeTransition reports whether a node of targetType may be created
// under a parent of parentType: the parent type must CAN_PERFORM a creation
// action whose target_type is targetType.
func (e *Engine) ValidateTypeTransition(ctx context.Context, parentType, targetType string) (Transition, error) {
	actions, err := e.performable(ctx, parentType)
	if err != nil {
		return Transition{}, e.unavailable("resolving type transition", err)
	}

	var t Transition
	seen := make(map[string]bool)
	for _, a := range actions {
		if a.ToolName != CreateTool || a.TargetType == "" {
			continue
		}
		if a.TargetType == targetType && t.Action == nil {
			a := a
			t.Allowed, t.Action = true, &a
		}
		if !seen[a.TargetType] {
			seen[a.TargetType] = true
			t.AllowedTargets = append(t.AllowedTargets, a.TargetType)
		}
	}
	sort.Strings(t.AllowedTargets)
	return t, nil
}

// ─── Node types ─────────────────────────────────────────────────────────────

// MaxCount returns the max_count of a node type, 0 when unlimited or when
// the type has no NodeType fact.
func (e *Engine) MaxCount(ctx context.Context, nodeType string) (int, error) {
	n, err := e.store.GetNode(ctx, NodeTypeUID(nodeType))
	if errors.Is(err, graph.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, e.unavailable("loading node type", err)
	}
	v, ok := n.PropFloat("max_count")
	if !ok || v <= 0 {
		return 0, nil
	}
	return int(v), nil
}

// ─── Explanations ───────────────────────────────────────────────────────────

// Verdict kinds returned by Explain.
const (
	AllowedGlobal     = "allowed_global"
	AllowedContextual = "allowed_contextual"
	Blocked           = "blocked"
	Unknown           = "unknown"
)

// Explanation tells an agent why an action is or is not available.
type Explanation struct {
	Action string `json:"action"`
	Status string `json:"status"`
	Reason string `json:"reason"`
	// UnlockFrom lists node types from which the action becomes visible.
	UnlockFrom  []string     `json:"unlock_from,omitempty"`
	Constraints []Constraint `json:"constraints,omitempty"`
}

// Explain describes whether action is available from contextType.
func (e *Engine) Explain(ctx context.Context, contextType, action string) (Explanation, error) {
	nodes, err := e.store.ListNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeAction}})
	if err != nil {
		return Explanation{}, e.unavailable("explaining "+action, err)
	}
	var matches []Action
	for _, n := range nodes {
		a := ActionFromNode(n)
		if a.UID == action || a.ToolName == action {
			matches = append(matches, a)
		}
	}
	ex := Explanation{Action: action}
	if len(matches) == 0 {
		ex.Status = Unknown
		ex.Reason = fmt.Sprintf("no Action node defines %q", action)
		return ex, nil
	}

	ex.Constraints, err = e.Constraints(ctx, action)
	if err != nil {
		return Explanation{}, e.unavailable("explaining "+action, err)
	}

	for _, a := range matches {
		if a.Scope == ScopeGlobal {
			ex.Status = AllowedGlobal
			ex.Reason = fmt.Sprintf("%s has global scope", a.UID)
			return ex, nil
		}
	}

	unlock := make(map[string]bool)
	for _, a := range matches {
		edges, err := e.store.Edges(ctx, graph.EdgeFilter{UID: a.UID, Direction: graph.Incoming, Types: []string{graph.RelCanPerform}})
		if err != nil {
			return Explanation{}, e.unavailable("explaining "+action, err)
		}
		for _, edge := range edges {
			name, err := e.typeName(ctx, edge.From)
			if err != nil {
				return Explanation{}, e.unavailable("explaining "+action, err)
			}
			if name == contextType {
				ex.Status = AllowedContextual
				ex.Reason = fmt.Sprintf("fact: %s -[CAN_PERFORM]-> %s", edge.From, a.UID)
				return ex, nil
			}
			unlock[name] = true
		}
	}

	ex.Status = Blocked
	for name := range unlock {
		ex.UnlockFrom = append(ex.UnlockFrom, name)
	}
	sort.Strings(ex.UnlockFrom)
	if len(ex.UnlockFrom) == 0 {
		ex.Reason = fmt.Sprintf("no node type can perform %s", action)
	} else {
		ex.Reason = fmt.Sprintf("%s is not available from %s; move to a node of type %v", action, contextType, ex.UnlockFrom)
	}
	return ex, nil
}
