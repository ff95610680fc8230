package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/graph"
)

// maxHints bounds the alternatives listed in a schema violation.
const maxHints = 5

// Linked is the outcome of LinkNodes.
type Linked struct {
	Edge  graph.Edge `json:"edge"`
	Added bool       `json:"added"`
	// Echoed lists DECOMPOSES ancestors that now implement the target too.
	Echoed []string `json:"echoed,omitempty"`
}

func normalizeRelation(rel string) string {
	return strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(rel), "-", "_"))
}

// LinkNodes creates from -[relation]-> to when the meta-graph declares the
// connection legal between the two node types.
func (g *Gateway) LinkNodes(ctx context.Context, from, relation, to string) (*Result, error) {
	return g.run(ctx, ToolLinkNodes, true, func(ctx context.Context, c *call) (string, any, error) {
		relation = normalizeRelation(relation)
		if relation == "" {
			return "", nil, invalid("relation is required")
		}
		src, err := g.load(ctx, c, from)
		if err != nil {
			return "", nil, err
		}
		dst, err := g.load(ctx, c, to)
		if err != nil {
			return "", nil, err
		}

		chk, err := g.policy.ValidateStructuralEdge(ctx, src.Type, relation, dst.Type)
		if err != nil {
			return "", nil, err
		}
		if !chk.Allowed {
			e := newError(KindSchemaViolation, "allows-connection",
				"(:%s)-[:%s]->(:%s) is not declared by the meta-graph", src.Type, relation, dst.Type)
			if len(chk.Alternatives) == 0 {
				e.Hint = "no connections are allowed from " + src.Type
			} else {
				alts := chk.Alternatives
				if len(alts) > maxHints {
					alts = alts[:maxHints]
				}
				parts := make([]string, len(alts))
				for i, a := range alts {
					parts[i] = a.String()
				}
				e.Hint = "allowed from " + src.Type + ": " + strings.Join(parts, "; ")
			}
			return "", nil, e
		}
		c.check("allows-connection", true, fmt.Sprintf("(:%s)-[:%s]->(:%s)", src.Type, relation, dst.Type))

		edge := graph.Edge{From: src.UID, To: dst.UID, Type: relation}
		added, err := g.store.UpsertEdge(ctx, edge)
		if err != nil {
			return "", nil, err
		}
		out := Linked{Edge: edge, Added: added}

		if relation == graph.RelImplements {
			out.Echoed, err = g.echoImplements(ctx, src.UID, dst.UID)
			if err != nil {
				return "", nil, err
			}
			c.check("implementation-echo", true, fmt.Sprintf("%d ancestor(s) linked", len(out.Echoed)))
		}

		c.touch(src.UID)
		for _, uid := range out.Echoed {
			c.touch(uid)
		}
		if !added {
			return fmt.Sprintf("%s already exists.", edge), out, nil
		}
		return fmt.Sprintf("Linked %s.", edge), out, nil
	})
}

// echoImplements propagates child -[IMPLEMENTS]-> target to every
// DECOMPOSES ancestor of child: a container implements whatever its parts
// implement.
func (g *Gateway) echoImplements(ctx context.Context, child, target string) ([]string, error) {
	var echoed []string
	seen := map[string]bool{child: true}
	queue := []string{child}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		parents, err := g.store.Edges(ctx, graph.EdgeFilter{UID: cur, Direction: graph.Incoming, Types: []string{graph.RelDecomposes}})
		if err != nil {
			return nil, err
		}
		for _, p := range parents {
			if seen[p.From] || p.From == target {
				continue
			}
			seen[p.From] = true
			added, err := g.store.UpsertEdge(ctx, graph.Edge{From: p.From, To: target, Type: graph.RelImplements})
			if err != nil {
				return nil, err
			}
			if added {
				echoed = append(echoed, p.From)
			}
			queue = append(queue, p.From)
		}
	}
	return echoed, nil
}

// DeleteLink removes from -[relation]-> to unless it is the last inbound
// edge of to.
func (g *Gateway) DeleteLink(ctx context.Context, from, relation, to string) (*Result, error) {
	return g.run(ctx, ToolDeleteLink, true, func(ctx context.Context, c *call) (string, any, error) {
		relation = normalizeRelation(relation)
		if relation == "" || strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
			return "", nil, invalid("from, relation and to are required")
		}
		src, err := g.load(ctx, c, from)
		if err != nil {
			return "", nil, err
		}
		dst, err := g.load(ctx, c, to)
		if err != nil {
			return "", nil, err
		}

		edge := graph.Edge{From: src.UID, To: dst.UID, Type: relation}
		if err := g.store.RemoveEdge(ctx, edge, true); err != nil {
			ge := translate(err)
			switch {
			case errors.Is(err, graph.ErrSoleInbound):
				ge.Message = fmt.Sprintf("%s is the only inbound edge of %s; removing it would orphan the node", edge, dst.UID)
				ge.Hint = "link " + dst.UID + " to another node first, or delete it"
			case errors.Is(err, graph.ErrNotFound):
				ge.Message = fmt.Sprintf("%s does not exist", edge)
			}
			return "", nil, ge
		}
		c.check("orphan-prevention", true, dst.UID+" keeps another inbound edge")
		c.touch(src.UID)
		return fmt.Sprintf("Removed %s.", edge), edge, nil
	})
}
