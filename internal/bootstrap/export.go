package bootstrap

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

// Export reads the meta-graph back out of the store in seed form. Facts
// edited in the graph since the last Load are reflected.
func Export(ctx context.Context, store Reader) (*Seed, error) {
	nodes, err := store.ListNodes(ctx, graph.NodeFilter{
		Types: []string{graph.TypeNodeType, graph.TypeAction, graph.TypeConstraint},
	})
	if err != nil {
		return nil, fmt.Errorf("reading meta-graph: %w", err)
	}
	edges, err := store.Edges(ctx, graph.EdgeFilter{
		Types: []string{graph.RelCanPerform, graph.RelRestricts, graph.RelAllowsConnection},
	})
	if err != nil {
		return nil, fmt.Errorf("reading meta-graph edges: %w", err)
	}

	performers := make(map[string][]string)
	restricts := make(map[string][]string)
	s := &Seed{}
	for _, e := range edges {
		switch e.Type {
		case graph.RelCanPerform:
			performers[e.To] = append(performers[e.To], typeName(e.From))
		case graph.RelRestricts:
			restricts[e.From] = append(restricts[e.From], strings.TrimPrefix(e.To, policy.ActionUID("")))
		case graph.RelAllowsConnection:
			s.Connections = append(s.Connections, Connection{From: typeName(e.From), Relation: e.Tag, To: typeName(e.To)})
		}
	}

	for i := range nodes {
		n := &nodes[i]
		switch n.Type {
		case graph.TypeNodeType:
			nt := NodeType{Name: typeName(n.UID), Description: n.Description}
			if v, ok := n.PropFloat("max_count"); ok {
				nt.MaxCount = int(v)
			}
			s.NodeTypes = append(s.NodeTypes, nt)
		case graph.TypeAction:
			a := policy.ActionFromNode(*n)
			by := performers[n.UID]
			sort.Strings(by)
			s.Actions = append(s.Actions, Action{
				Name:        strings.TrimPrefix(n.UID, policy.ActionUID("")),
				Tool:        a.ToolName,
				Scope:       string(a.Scope),
				TargetType:  a.TargetType,
				LinkType:    a.LinkType,
				Description: n.Description,
				PerformedBy: by,
			})
		case graph.TypeConstraint:
			c := policy.ConstraintFromNode(*n)
			s.Constraints = append(s.Constraints, Constraint{
				Name:        strings.TrimPrefix(n.UID, policy.ConstraintUID("")),
				Function:    c.Function,
				Operator:    c.Operator,
				Threshold:   c.Threshold,
				Pattern:     c.Pattern,
				TargetLabel: c.TargetLabel,
				CharClass:   c.CharClass,
				Metric:      c.Metric,
				Message:     c.Message,
				Restricts:   restricts[n.UID],
			})
		}
	}
	return s, nil
}

func typeName(uid string) string {
	return strings.TrimPrefix(uid, policy.NodeTypeUID(""))
}
