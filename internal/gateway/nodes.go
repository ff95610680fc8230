package gateway

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
)

// TaskRegistered is the status of tasks created by RegisterTask.
const TaskRegistered = "Registered"

// ─── Create ─────────────────────────────────────────────────────────────────

// CreateInput describes a node to create under the cursor.
type CreateInput struct {
	Type        string
	Title       string
	Description string
	Content     string
	Status      string
	Props       map[string]any
}

// Created is the impact report of a successful create.
type Created struct {
	Node        *graph.Node `json:"node"`
	Link        graph.Edge  `json:"link"`
	Similar     []Similar   `json:"similar,omitempty"`
	Constraints []string    `json:"constraints_applied,omitempty"`
}

// CreateConcept creates a node of in.Type under the node the agent is
// focused on, linked to it by the creating action's relation.
func (g *Gateway) CreateConcept(ctx context.Context, in CreateInput) (*Result, error) {
	return g.run(ctx, ToolCreateConcept, true, func(ctx context.Context, c *call) (string, any, error) {
		in.Type, in.Title = strings.TrimSpace(in.Type), strings.TrimSpace(in.Title)
		if in.Type == "" || in.Title == "" {
			return "", nil, invalid("type and title are required")
		}
		parent := c.location

		tr, err := g.policy.ValidateTypeTransition(ctx, parent.Type, in.Type)
		if err != nil {
			return "", nil, err
		}
		if !tr.Allowed {
			e := newError(KindSchemaViolation, "type-transition",
				"a %s cannot be created under %s (%s)", in.Type, parent.UID, parent.Type)
			if len(tr.AllowedTargets) > 0 {
				e.Hint = "types creatable here: " + strings.Join(tr.AllowedTargets, ", ")
			} else {
				e.Hint = "nothing can be created under a " + parent.Type + "; move_to another node"
			}
			return "", nil, e
		}
		c.check("type-transition", true, fmt.Sprintf("%s -[CAN_PERFORM]-> %s (target %s)", parent.Type, tr.Action.UID, in.Type))

		uid := graph.MintUID(in.Type, in.Title)
		node := graph.Node{
			UID:         uid,
			Type:        in.Type,
			Title:       in.Title,
			Description: in.Description,
			Content:     in.Content,
			Status:      in.Status,
			Project:     c.state.Project,
			Props:       in.Props,
		}
		if stripped := stripForbidden(node.Props); len(stripped) > 0 {
			c.check("managed-keys", true, "ignored: "+strings.Join(stripped, ", "))
		}

		verdict, err := g.validate(ctx, c, tr.Action.UID, policy.Facts{
			Text:         node.Text(),
			TargetType:   in.Type,
			CurrentUID:   parent.UID,
			CandidateUID: uid,
			Project:      c.state.Project,
		})
		if err != nil {
			return "", nil, err
		}

		maxCount, err := g.policy.MaxCount(ctx, in.Type)
		if err != nil {
			return "", nil, err
		}
		link, err := g.creationLink(ctx, c, parent, in.Type, tr.Action.LinkType)
		if err != nil {
			return "", nil, err
		}

		created, err := g.store.CreateNode(ctx, node, graph.CreateOptions{MaxCount: maxCount, Link: &link})
		switch {
		case errors.Is(err, graph.ErrCardinality):
			return "", nil, &Error{
				Kind:    KindConstraintViolation,
				Rule:    "cardinality",
				Message: fmt.Sprintf("%s allows at most %d node(s) in project %q", in.Type, maxCount, c.state.Project),
				Reasons: []string{err.Error()},
				Hint:    "reuse the existing " + in.Type + " or raise max_count through propose_change",
				Err:     err,
			}
		case errors.Is(err, graph.ErrExists):
			return "", nil, &Error{
				Kind:    KindIntegrityViolation,
				Rule:    "unique-uid",
				Message: fmt.Sprintf("%s already exists", uid),
				Hint:    "read_node " + uid + " or choose a different title",
				Err:     err,
			}
		case err != nil:
			return "", nil, err
		}
		if maxCount > 0 {
			c.check("cardinality", true, fmt.Sprintf("at most %d %s per project", maxCount, in.Type))
		}
		if link.From == "" {
			link.From = uid
		}
		if link.To == "" {
			link.To = uid
		}

		out := Created{Node: created, Link: link, Constraints: verdict.Checked}
		if vec := g.embed(ctx, c, created); vec != nil {
			similar, err := g.similarTo(ctx, c.state.Project, vec, 0.3, 5, uid)
			if err != nil {
				g.logger.Warn("impact analysis skipped", "request_id", c.id, "error", err)
			}
			out.Similar = similar
		}

		c.touch(uid)
		c.touch(parent.UID)
		return fmt.Sprintf("Created %s (%s) linked %s.", uid, in.Type, link), out, nil
	})
}

// creationLink picks the edge joining a new node of childType to parent.
// The relation comes from the creating action (DECOMPOSES by default). The
// direction follows ALLOWS_CONNECTION: parent to child unless only the
// reverse is declared.
func (g *Gateway) creationLink(ctx context.Context, c *call, parent *graph.Node, childType, relation string) (graph.Edge, error) {
	if relation == "" {
		relation = graph.RelDecomposes
	}
	down, err := g.policy.ValidateStructuralEdge(ctx, parent.Type, relation, childType)
	if err != nil {
		return graph.Edge{}, err
	}
	if !down.Allowed {
		up, err := g.policy.ValidateStructuralEdge(ctx, childType, relation, parent.Type)
		if err != nil {
			return graph.Edge{}, err
		}
		if up.Allowed {
			c.check("link", true, fmt.Sprintf("(:%s)-[:%s]->(:%s)", childType, relation, parent.Type))
			return graph.Edge{To: parent.UID, Type: relation}, nil
		}
	}
	c.check("link", true, fmt.Sprintf("(:%s)-[:%s]->(:%s)", parent.Type, relation, childType))
	return graph.Edge{From: parent.UID, Type: relation}, nil
}

// validate runs the constraints restricting action and converts failures
// into taxonomy errors. A store failure refuses the operation.
func (g *Gateway) validate(ctx context.Context, c *call, action string, f policy.Facts) (policy.Verdict, error) {
	verdict, err := g.policy.ValidateConstraints(ctx, action, f)
	if err != nil {
		return verdict, &Error{
			Kind:    KindStoreUnavailable,
			Rule:    "meta-graph",
			Message: "constraints could not be evaluated; operation refused",
			Reasons: verdict.Messages(),
			Err:     err,
		}
	}
	if !verdict.OK {
		rules := make([]string, len(verdict.Violations))
		for i, v := range verdict.Violations {
			rules[i] = v.Rule
		}
		return verdict, &Error{
			Kind:    KindConstraintViolation,
			Rule:    strings.Join(rules, ", "),
			Message: fmt.Sprintf("%d constraint(s) failed for %s", len(verdict.Violations), action),
			Reasons: verdict.Messages(),
			Hint:    "revise the text and retry; explain_physics " + c.tool + " lists the constraints",
		}
	}
	detail := "none apply"
	if len(verdict.Checked) > 0 {
		detail = strings.Join(verdict.Checked, ", ")
	}
	c.check("constraints", true, detail)
	return verdict, nil
}

// ─── Register task ──────────────────────────────────────────────────────────

// RegisterTask creates an unlinked Task from a human request.
func (g *Gateway) RegisterTask(ctx context.Context, title, description string) (*Result, error) {
	return g.run(ctx, ToolRegisterTask, true, func(ctx context.Context, c *call) (string, any, error) {
		title = strings.TrimSpace(title)
		if title == "" {
			return "", nil, invalid("title is required")
		}
		uid := graph.MintUID(graph.TypeTask, title)
		node := graph.Node{
			UID:         uid,
			Type:        graph.TypeTask,
			Title:       title,
			Description: description,
			Status:      TaskRegistered,
			Project:     c.state.Project,
		}
		if _, err := g.validate(ctx, c, ToolRegisterTask, policy.Facts{
			Text:         node.Text(),
			TargetType:   graph.TypeTask,
			CurrentUID:   c.location.UID,
			CandidateUID: uid,
			Project:      c.state.Project,
		}); err != nil {
			return "", nil, err
		}
		maxCount, err := g.policy.MaxCount(ctx, graph.TypeTask)
		if err != nil {
			return "", nil, err
		}

		created, err := g.store.CreateNode(ctx, node, graph.CreateOptions{MaxCount: maxCount})
		if errors.Is(err, graph.ErrExists) {
			return "", nil, &Error{
				Kind:    KindIntegrityViolation,
				Rule:    "unique-uid",
				Message: fmt.Sprintf("%s is already registered", uid),
				Hint:    "read_node " + uid,
				Err:     err,
			}
		}
		if err != nil {
			return "", nil, err
		}
		g.embed(ctx, c, created)
		c.touch(uid)
		return fmt.Sprintf("Registered task %s. Use link_nodes to connect it to a Spec or Requirement.", uid), created, nil
	})
}

// ─── Read ───────────────────────────────────────────────────────────────────

// Body sources reported by ReadNode.
const (
	BodyContent     = "content"
	BodyDescription = "description"
	BodyDocument    = "document"
)

// NodeView is a node with its edges and readable body.
type NodeView struct {
	Node       *graph.Node  `json:"node"`
	Outgoing   []graph.Edge `json:"outgoing,omitempty"`
	Incoming   []graph.Edge `json:"incoming,omitempty"`
	Body       string       `json:"body,omitempty"`
	BodySource string       `json:"body_source,omitempty"`
}

// ReadNode returns a node, its edges and its body. A node without stored
// text falls back to the body of its mirrored document.
func (g *Gateway) ReadNode(ctx context.Context, uid string) (*Result, error) {
	return g.run(ctx, ToolReadNode, false, func(ctx context.Context, c *call) (string, any, error) {
		n, err := g.load(ctx, c, uid)
		if err != nil {
			return "", nil, err
		}
		edges, err := g.store.Edges(ctx, graph.EdgeFilter{UID: n.UID, Direction: graph.Both})
		if err != nil {
			return "", nil, err
		}
		view := NodeView{Node: n}
		for _, e := range edges {
			if e.From == n.UID {
				view.Outgoing = append(view.Outgoing, e)
			} else {
				view.Incoming = append(view.Incoming, e)
			}
		}

		switch {
		case strings.TrimSpace(n.Content) != "":
			view.Body, view.BodySource = n.Content, BodyContent
		case strings.TrimSpace(n.Description) != "":
			view.Body, view.BodySource = n.Description, BodyDescription
		case g.sync != nil:
			if data, err := os.ReadFile(g.sync.Layout().Path(n.UID, n.Type)); err == nil {
				if doc, err := docsync.Parse(data); err == nil && doc.Body != "" {
					view.Body, view.BodySource = doc.Body, BodyDocument
				}
			}
		}
		return fmt.Sprintf("%s (%s): %s", n.UID, n.Type, n.Title), view, nil
	})
}

// ─── Update ─────────────────────────────────────────────────────────────────

// UpdateInput is a partial update. Nil fields are left alone; a nil value
// in Props deletes the key.
type UpdateInput struct {
	Title       *string
	Description *string
	Status      *string
	Content     *string
	Props       map[string]any
}

func (in UpdateInput) empty() bool {
	return in.Title == nil && in.Description == nil && in.Status == nil && in.Content == nil && len(in.Props) == 0
}

// UpdateNode applies a partial update. Meta-graph facts are refused and
// the resulting text must pass the constraints restricting update_node.
func (g *Gateway) UpdateNode(ctx context.Context, uid string, in UpdateInput) (*Result, error) {
	return g.run(ctx, ToolUpdateNode, true, func(ctx context.Context, c *call) (string, any, error) {
		n, err := g.load(ctx, c, uid)
		if err != nil {
			return "", nil, err
		}
		if graph.IsProtected(n.Type) {
			return "", nil, &Error{
				Kind:    KindIntegrityViolation,
				Rule:    "protected-meta-type",
				Message: fmt.Sprintf("%s is a %s; meta-graph facts cannot be edited with update_node", n.UID, n.Type),
				Hint:    "describe the change with propose_change",
			}
		}
		c.check("protected-meta-type", true, n.Type+" is editable")

		if stripped := stripForbidden(in.Props); len(stripped) > 0 {
			c.check("managed-keys", true, "ignored: "+strings.Join(stripped, ", "))
		}
		if in.empty() {
			return "", nil, invalid("nothing to update")
		}

		next := *n
		if in.Title != nil {
			next.Title = *in.Title
		}
		if in.Description != nil {
			next.Description = *in.Description
		}
		if in.Content != nil {
			next.Content = *in.Content
		}
		if _, err := g.validate(ctx, c, ToolUpdateNode, policy.Facts{
			Text:         next.Text(),
			TargetType:   n.Type,
			CurrentUID:   c.location.UID,
			CandidateUID: n.UID,
			Project:      c.state.Project,
		}); err != nil {
			return "", nil, err
		}

		previous := docsync.StoredText(n)
		updated, err := g.store.UpdateNode(ctx, n.UID, graph.NodePatch{
			Title:       in.Title,
			Description: in.Description,
			Status:      in.Status,
			Content:     in.Content,
			Props:       in.Props,
		})
		if err != nil {
			return "", nil, err
		}
		if updated.Text() != n.Text() {
			g.embed(ctx, c, updated)
		}
		c.touchAfterWrite(n.UID, previous)
		return fmt.Sprintf("Updated %s.", n.UID), updated, nil
	})
}

// ─── Delete ─────────────────────────────────────────────────────────────────

// DeleteNode removes a leaf node and its document. Protected meta types,
// cursor locations and nodes with outgoing structural edges are refused in
// every workflow mode.
func (g *Gateway) DeleteNode(ctx context.Context, uid string) (*Result, error) {
	return g.run(ctx, ToolDeleteNode, true, func(ctx context.Context, c *call) (string, any, error) {
		n, err := g.load(ctx, c, uid)
		if err != nil {
			return "", nil, err
		}
		parents, err := g.store.Edges(ctx, graph.EdgeFilter{UID: n.UID, Direction: graph.Incoming})
		if err != nil {
			return "", nil, err
		}

		err = g.store.DeleteLeaf(ctx, n.UID)
		if err != nil {
			ge := translate(err)
			switch {
			case errors.Is(err, graph.ErrProtected):
				ge.Hint = n.Type + " nodes define the physics and can only change through propose_change"
			case errors.Is(err, graph.ErrIsCursor):
				ge.Hint = "move_to another node before deleting " + n.UID
			case errors.Is(err, graph.ErrHasChildren):
				ge.Hint = "delete or re-link its children first"
			}
			return "", nil, ge
		}
		c.check("protected-meta-type", true, n.Type+" is deletable")
		c.check("cursor-location", true, "no agent is focused on "+n.UID)
		c.check("leaf-only-deletion", true, n.UID+" has no outgoing structural edges")

		c.remove(n.UID, n.Type)
		for _, e := range parents {
			if e.From != n.UID {
				c.touch(e.From)
			}
		}
		return fmt.Sprintf("Deleted %s (%s).", n.UID, n.Type), refOf(n), nil
	})
}
