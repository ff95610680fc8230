package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

// Store is the slice of the graph store loading needs.
type Store interface {
	GetNode(ctx context.Context, uid string) (*graph.Node, error)
	CreateNode(ctx context.Context, n graph.Node, opts graph.CreateOptions) (*graph.Node, error)
	UpsertNode(ctx context.Context, n graph.Node) (*graph.Node, error)
	UpsertEdge(ctx context.Context, e graph.Edge) (bool, error)
}

// Options tune Load.
type Options struct {
	// Overwrite replaces the properties of facts that already exist. By
	// default existing facts are left as they are so edits made in the graph
	// survive a restart.
	Overwrite bool
}

// Report counts what a Load changed.
type Report struct {
	Created    int `json:"created"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	EdgesAdded int `json:"edges_added"`
}

func (r Report) String() string {
	return fmt.Sprintf("%d fact(s) created, %d updated, %d unchanged, %d edge(s) added",
		r.Created, r.Updated, r.Unchanged, r.EdgesAdded)
}

// Load writes the seed into the store. Running it twice changes nothing the
// second time.
func Load(ctx context.Context, store Store, s *Seed, opts Options, logger *slog.Logger) (Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var r Report

	for _, n := range s.Nodes() {
		if err := r.putNode(ctx, store, n, opts.Overwrite); err != nil {
			return r, err
		}
	}
	for _, e := range s.Edges() {
		added, err := store.UpsertEdge(ctx, e)
		if err != nil {
			return r, fmt.Errorf("loading %s: %w", e, err)
		}
		if added {
			r.EdgesAdded++
		}
	}

	logger.Info("meta-graph loaded", "created", r.Created, "updated", r.Updated,
		"unchanged", r.Unchanged, "edges_added", r.EdgesAdded)
	return r, nil
}

func (r *Report) putNode(ctx context.Context, store Store, n graph.Node, overwrite bool) error {
	_, err := store.GetNode(ctx, n.UID)
	switch {
	case errors.Is(err, graph.ErrNotFound):
		if _, err := store.CreateNode(ctx, n, graph.CreateOptions{}); err != nil {
			return fmt.Errorf("creating %s: %w", n.UID, err)
		}
		r.Created++
	case err != nil:
		return fmt.Errorf("reading %s: %w", n.UID, err)
	case overwrite:
		if _, err := store.UpsertNode(ctx, n); err != nil {
			return fmt.Errorf("updating %s: %w", n.UID, err)
		}
		r.Updated++
	default:
		r.Unchanged++
	}
	return nil
}

// ─── Fact encoding ──────────────────────────────────────────────────────────

// Nodes returns the NodeType, Action and Constraint nodes of the seed.
func (s *Seed) Nodes() []graph.Node {
	var out []graph.Node
	for _, nt := range s.NodeTypes {
		out = append(out, nt.node())
	}
	for _, a := range s.Actions {
		out = append(out, a.node())
	}
	for _, c := range s.Constraints {
		out = append(out, c.node())
	}
	return out
}

// Edges returns the CAN_PERFORM, RESTRICTS and ALLOWS_CONNECTION facts.
func (s *Seed) Edges() []graph.Edge {
	var out []graph.Edge
	for _, a := range s.Actions {
		for _, t := range a.PerformedBy {
			out = append(out, graph.Edge{From: policy.NodeTypeUID(t), To: policy.ActionUID(a.Name), Type: graph.RelCanPerform})
		}
	}
	for _, c := range s.Constraints {
		for _, a := range c.Restricts {
			out = append(out, graph.Edge{From: policy.ConstraintUID(c.Name), To: policy.ActionUID(a), Type: graph.RelRestricts})
		}
	}
	for _, c := range s.Connections {
		out = append(out, graph.Edge{
			From: policy.NodeTypeUID(c.From),
			To:   policy.NodeTypeUID(c.To),
			Type: graph.RelAllowsConnection,
			Tag:  c.Relation,
		})
	}
	return out
}

func (nt NodeType) node() graph.Node {
	n := graph.Node{
		UID:         policy.NodeTypeUID(nt.Name),
		Type:        graph.TypeNodeType,
		Title:       nt.Name,
		Description: nt.Description,
	}
	if nt.MaxCount > 0 {
		n.Props = map[string]any{"max_count": nt.MaxCount}
	}
	return n
}

func (a Action) node() graph.Node {
	props := map[string]any{"tool_name": a.Tool, "scope": a.Scope}
	setIf(props, "target_type", a.TargetType)
	setIf(props, "link_type", a.LinkType)
	return graph.Node{
		UID:         policy.ActionUID(a.Name),
		Type:        graph.TypeAction,
		Title:       a.Name,
		Description: a.Description,
		Props:       props,
	}
}

func (c Constraint) node() graph.Node {
	props := map[string]any{"function": policy.Canonical(c.Function)}
	setIf(props, "operator", c.Operator)
	setIf(props, "pattern", c.Pattern)
	setIf(props, "target_label", c.TargetLabel)
	setIf(props, "char_class", c.CharClass)
	setIf(props, "metric", c.Metric)
	setIf(props, "error_message", c.Message)
	if c.Threshold != 0 {
		props["threshold"] = c.Threshold
	}
	return graph.Node{
		UID:         policy.ConstraintUID(c.Name),
		Type:        graph.TypeConstraint,
		Title:       c.Name,
		Description: c.Message,
		Props:       props,
	}
}

func setIf(props map[string]any, key, value string) {
	if value != "" {
		props[key] = value
	}
}
