// Package cursor tracks where each agent is focused. The focus node decides
// which contextual actions the policy engine exposes.
package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/HendryAvila/graphmcp/internal/graph"
)

// Store is the slice of the graph store the cursor needs.
type Store interface {
	GetNode(ctx context.Context, uid string) (*graph.Node, error)
	CreateNode(ctx context.Context, n graph.Node, opts graph.CreateOptions) (*graph.Node, error)
	Cursor(ctx context.Context, agentID string) (string, error)
	SetCursor(ctx context.Context, agentID, uid string) error
}

// Cursor resolves and moves agent cursors.
type Cursor struct {
	store Store
}

// New creates a Cursor over the store.
func New(store Store) *Cursor {
	return &Cursor{store: store}
}

// EnsureRoot returns the root node, creating it when the graph is empty.
func (c *Cursor) EnsureRoot(ctx context.Context) (*graph.Node, error) {
	root, err := c.store.GetNode(ctx, graph.RootUID)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, graph.ErrNotFound) {
		return nil, err
	}
	root, err = c.store.CreateNode(ctx, graph.Node{
		UID:         graph.RootUID,
		Type:        graph.TypeIdea,
		Title:       "Genesis",
		Description: "Root of the knowledge graph.",
		Status:      "Active",
	}, graph.CreateOptions{})
	if errors.Is(err, graph.ErrExists) {
		return c.store.GetNode(ctx, graph.RootUID)
	}
	return root, err
}

// Resolve returns the node the agent is focused on. An unset cursor, or one
// whose node was deleted, falls back to the root and is persisted there.
func (c *Cursor) Resolve(ctx context.Context, agentID string) (*graph.Node, error) {
	uid, err := c.store.Cursor(ctx, agentID)
	switch {
	case err == nil:
		n, err := c.store.GetNode(ctx, uid)
		if err == nil {
			return n, nil
		}
		if !errors.Is(err, graph.ErrNotFound) {
			return nil, err
		}
	case !errors.Is(err, graph.ErrNotFound):
		return nil, err
	}

	root, err := c.EnsureRoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	if err := c.store.SetCursor(ctx, agentID, root.UID); err != nil {
		return nil, fmt.Errorf("resetting cursor to root: %w", err)
	}
	return root, nil
}

// Move replaces the agent's cursor. The destination must exist; on failure
// the cursor stays where it was.
func (c *Cursor) Move(ctx context.Context, agentID, uid string) (*graph.Node, error) {
	if err := c.store.SetCursor(ctx, agentID, uid); err != nil {
		return nil, err
	}
	return c.store.GetNode(ctx, uid)
}
