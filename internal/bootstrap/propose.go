package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

// Reader is the slice of the graph store a proposal is checked against.
type Reader interface {
	GetNode(ctx context.Context, uid string) (*graph.Node, error)
	ListNodes(ctx context.Context, f graph.NodeFilter) ([]graph.Node, error)
	Edges(ctx context.Context, f graph.EdgeFilter) ([]graph.Edge, error)
}

// Proposal is a validated meta-graph patch. Nothing in it has been applied.
type Proposal struct {
	Rationale string   `json:"rationale"`
	Add       []string `json:"add,omitempty"`
	Replace   []string `json:"replace,omitempty"`
	Present   []string `json:"present,omitempty"`
	// YAML is the normalized patch, ready to append to a seed file and load
	// with `graphmcp bootstrap --seed`.
	YAML string `json:"yaml"`
}

// Propose validates a partial seed against the facts already in the store
// and describes what loading it would change.
func Propose(ctx context.Context, store Reader, patch []byte, rationale string) (*Proposal, error) {
	rationale = strings.TrimSpace(rationale)
	if rationale == "" {
		return nil, fmt.Errorf("%w: a rationale is required", ErrInvalidSeed)
	}
	s, err := decode(patch)
	if err != nil {
		return nil, err
	}
	if len(s.NodeTypes)+len(s.Actions)+len(s.Constraints)+len(s.Connections) == 0 {
		return nil, fmt.Errorf("%w: the patch declares no facts", ErrInvalidSeed)
	}

	known, err := knownFacts(ctx, store)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(known); err != nil {
		return nil, err
	}

	p := &Proposal{Rationale: rationale}
	for _, n := range s.Nodes() {
		_, err := store.GetNode(ctx, n.UID)
		switch {
		case errors.Is(err, graph.ErrNotFound):
			p.Add = append(p.Add, n.Type+" "+n.UID)
		case err != nil:
			return nil, fmt.Errorf("reading %s: %w", n.UID, err)
		default:
			p.Replace = append(p.Replace, n.Type+" "+n.UID)
		}
	}
	for _, e := range s.Edges() {
		exists, err := edgeExists(ctx, store, e)
		if err != nil {
			return nil, err
		}
		if exists {
			p.Present = append(p.Present, e.String())
		} else {
			p.Add = append(p.Add, e.String())
		}
	}

	out, err := yaml.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encoding proposal: %w", err)
	}
	p.YAML = string(out)
	return p, nil
}

// Format renders the proposal for a human reviewer.
func (p *Proposal) Format() string {
	var b strings.Builder
	b.WriteString("# Meta-graph change proposal\n\n")
	b.WriteString("Rationale: " + p.Rationale + "\n")
	section := func(title string, items []string) {
		if len(items) == 0 {
			return
		}
		b.WriteString("\n## " + title + "\n")
		for _, it := range items {
			b.WriteString("- " + it + "\n")
		}
	}
	section("Adds", p.Add)
	section("Replaces (requires --overwrite)", p.Replace)
	section("Already present", p.Present)
	b.WriteString("\n## Patch\n\n```yaml\n" + p.YAML + "```\n")
	b.WriteString("\nNot applied. A human applies it with `graphmcp bootstrap --seed <file>`.\n")
	return b.String()
}

func knownFacts(ctx context.Context, store Reader) (Known, error) {
	known := Known{Types: make(map[string]bool), Actions: make(map[string]bool)}
	nodes, err := store.ListNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeNodeType, graph.TypeAction}})
	if err != nil {
		return Known{}, fmt.Errorf("reading meta-graph: %w", err)
	}
	for _, n := range nodes {
		switch n.Type {
		case graph.TypeNodeType:
			name := n.Title
			if name == "" {
				name = strings.TrimPrefix(n.UID, policy.NodeTypeUID(""))
			}
			known.Types[name] = true
		case graph.TypeAction:
			known.Actions[strings.TrimPrefix(n.UID, policy.ActionUID(""))] = true
		}
	}
	return known, nil
}

func edgeExists(ctx context.Context, store Reader, e graph.Edge) (bool, error) {
	edges, err := store.Edges(ctx, graph.EdgeFilter{UID: e.From, Direction: graph.Outgoing, Types: []string{e.Type}, Tag: e.Tag})
	if err != nil {
		return false, fmt.Errorf("reading edges of %s: %w", e.From, err)
	}
	for _, x := range edges {
		if x.To == e.To {
			return true, nil
		}
	}
	return false, nil
}
