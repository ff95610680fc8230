// Package graph defines the typed knowledge graph the rest of the server
// mutates: nodes with a single type discriminant, directed typed edges, and
// one cursor per agent.
//
// Store is the contract every other package depends on. SQLiteStore is the
// production implementation; invariants that must survive concurrent callers
// (cardinality, orphan prevention, leaf-only deletion, cursor singularity)
// are enforced inside single store statements, never by callers reading
// first and writing later.
package graph

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ─── Well-known types and relations ─────────────────────────────────────────

// Domain node types seeded by the default meta-graph.
const (
	TypeEpic        = "Epic"
	TypeIdea        = "Idea"
	TypeSpec        = "Spec"
	TypeRoadmap     = "Roadmap"
	TypeRequirement = "Requirement"
	TypeTask        = "Task"
	TypeBug         = "Bug"
	TypeDomain      = "Domain"
)

// Meta types. Nodes of these types define the physics and can never be
// deleted through the store.
const (
	TypeNodeType   = "NodeType"
	TypeAction     = "Action"
	TypeConstraint = "Constraint"
)

// ProtectedTypes lists the meta types refused by DeleteLeaf.
var ProtectedTypes = []string{TypeAction, TypeConstraint, TypeNodeType}

// IsProtected reports whether nodes of type t are meta-graph facts.
func IsProtected(t string) bool {
	for _, p := range ProtectedTypes {
		if p == t {
			return true
		}
	}
	return false
}

// Relations.
const (
	RelDecomposes       = "DECOMPOSES"
	RelDependsOn        = "DEPENDS_ON"
	RelImplements       = "IMPLEMENTS"
	RelRelatesTo        = "RELATES_TO"
	RelConflict         = "CONFLICT"
	RelImports          = "IMPORTS"
	RelCanPerform       = "CAN_PERFORM"
	RelRestricts        = "RESTRICTS"
	RelAllowsConnection = "ALLOWS_CONNECTION"
)

// RootUID is the well-known node every cursor falls back to.
const RootUID = "IDEA-Genesis"

// ─── Errors ─────────────────────────────────────────────────────────────────

// Sentinel errors returned by Store implementations. Any other error means
// the store could not answer.
var (
	ErrNotFound     = errors.New("graph: not found")
	ErrExists       = errors.New("graph: uid already exists")
	ErrTypeMismatch = errors.New("graph: node type is immutable")
	ErrCardinality  = errors.New("graph: cardinality limit reached")
	ErrHasChildren  = errors.New("graph: node has outgoing structural edges")
	ErrIsCursor     = errors.New("graph: node is a cursor location")
	ErrProtected    = errors.New("graph: node is a protected meta type")
	ErrSoleInbound  = errors.New("graph: edge is the target's only inbound edge")
)

// ─── Types ──────────────────────────────────────────────────────────────────

// Node is a typed vertex. Type is decided at creation and never changes.
type Node struct {
	UID         string         `json:"uid"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status,omitempty"`
	Content     string         `json:"content,omitempty"`
	Project     string         `json:"project,omitempty"` // empty = global
	Props       map[string]any `json:"props,omitempty"`
	Embedding   []float32      `json:"-"`
	CreatedAt   string         `json:"created_at,omitempty"`
	UpdatedAt   string         `json:"updated_at,omitempty"`
}

// Prop returns a free-form property or nil.
func (n *Node) Prop(key string) any {
	if n.Props == nil {
		return nil
	}
	return n.Props[key]
}

// PropString returns a property rendered as a string ("" when absent).
func (n *Node) PropString(key string) string {
	switch v := n.Prop(key).(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// PropFloat returns a numeric property. Numeric strings are accepted because
// documents edited by hand often quote numbers.
func (n *Node) PropFloat(key string) (float64, bool) {
	switch v := n.Prop(key).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// Text joins the human-authored text of a node, the input for content
// constraints and embeddings.
func (n *Node) Text() string {
	parts := make([]string, 0, 3)
	for _, s := range []string{n.Title, n.Description, n.Content} {
		if strings.TrimSpace(s) != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n")
}

// Edge is a directed typed relation between two uids. Tag qualifies meta
// edges: an ALLOWS_CONNECTION fact carries the relation it legalises.
type Edge struct {
	From      string         `json:"from"`
	To        string         `json:"to"`
	Type      string         `json:"type"`
	Tag       string         `json:"tag,omitempty"`
	Props     map[string]any `json:"props,omitempty"`
	CreatedAt string         `json:"created_at,omitempty"`
}

func (e Edge) String() string {
	if e.Tag != "" {
		return fmt.Sprintf("%s -[%s:%s]-> %s", e.From, e.Type, e.Tag, e.To)
	}
	return fmt.Sprintf("%s -[%s]-> %s", e.From, e.Type, e.To)
}

// Direction selects edges relative to a uid.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
	Both
)

// NodeFilter narrows ListNodes/CountNodes. Zero value matches everything.
type NodeFilter struct {
	Types []string
	UIDs  []string
	// Project applies OR-scoping: nodes of that project plus global nodes.
	// Empty means no project filter.
	Project string
	// Props matches exact string values of free-form properties.
	Props         map[string]string
	WithEmbedding bool
	Limit         int
}

// EdgeFilter narrows Edges. An empty UID matches edges anywhere.
type EdgeFilter struct {
	UID       string
	Direction Direction
	Types     []string
	Tag       string
}

// CreateOptions carries the guards CreateNode applies atomically.
type CreateOptions struct {
	// MaxCount > 0 refuses the insert when that many nodes of the same type
	// already exist within the node's project scope.
	MaxCount int
	// Link, when set, is inserted in the same transaction. Its empty endpoint
	// is filled with the new node's uid; the other endpoint must exist.
	Link *Edge
}

// NodePatch is a partial update. Nil fields are left untouched; a nil value
// inside Props deletes the key.
type NodePatch struct {
	Title       *string
	Description *string
	Status      *string
	Content     *string
	Props       map[string]any
}

// Store is the injected graph backend.
type Store interface {
	GetNode(ctx context.Context, uid string) (*Node, error)
	ListNodes(ctx context.Context, f NodeFilter) ([]Node, error)
	CountNodes(ctx context.Context, f NodeFilter) (int, error)
	TypeCounts(ctx context.Context, project string) (map[string]int, error)

	CreateNode(ctx context.Context, n Node, opts CreateOptions) (*Node, error)
	UpsertNode(ctx context.Context, n Node) (*Node, error)
	UpdateNode(ctx context.Context, uid string, p NodePatch) (*Node, error)
	DeleteLeaf(ctx context.Context, uid string) error
	SetEmbedding(ctx context.Context, uid string, vec []float32) error

	UpsertEdge(ctx context.Context, e Edge) (bool, error)
	RemoveEdge(ctx context.Context, e Edge, keepInbound bool) error
	Edges(ctx context.Context, f EdgeFilter) ([]Edge, error)

	Cursor(ctx context.Context, agentID string) (string, error)
	SetCursor(ctx context.Context, agentID, uid string) error

	Close() error
}

// IsStoreFailure reports whether err is an availability failure rather than
// one of the store's semantic refusals.
func IsStoreFailure(err error) bool {
	if err == nil {
		return false
	}
	for _, s := range []error{
		ErrNotFound, ErrExists, ErrTypeMismatch, ErrCardinality,
		ErrHasChildren, ErrIsCursor, ErrProtected, ErrSoleInbound,
	} {
		if errors.Is(err, s) {
			return false
		}
	}
	return true
}
