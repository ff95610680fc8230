// Package resources implements read-only MCP resources over the graph.
//
// Resources use URI-based addressing (graph://...) following MCP
// conventions. They never go through the gateway: reading them changes
// nothing and needs no cursor.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"gopkg.in/yaml.v3"

	"github.com/HendryAvila/graphmcp/internal/bootstrap"
	"github.com/HendryAvila/graphmcp/internal/session"
)

// Resource URIs.
const (
	SessionURI = "graph://session"
	PhysicsURI = "graph://physics"
)

// SessionReader exposes the active session.
type SessionReader interface {
	Session() session.State
}

// Handler serves the graph resources.
type Handler struct {
	sessions SessionReader
	store    bootstrap.Reader
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(sessions SessionReader, store bootstrap.Reader) *Handler {
	return &Handler{sessions: sessions, store: store}
}

// SessionResource returns the MCP resource definition for the session.
func (h *Handler) SessionResource() mcp.Resource {
	return mcp.NewResource(
		SessionURI,
		"Graph Session",
		mcp.WithResourceDescription("Active project, project root, workflow mode and agent id"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleSession returns the session state as JSON.
func (h *Handler) HandleSession(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(h.sessions.Session(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling session: %w", err)
	}
	return textResource(req.Params.URI, "application/json", string(data)), nil
}

// PhysicsResource returns the MCP resource definition for the meta-graph.
func (h *Handler) PhysicsResource() mcp.Resource {
	return mcp.NewResource(
		PhysicsURI,
		"Graph Physics",
		mcp.WithResourceDescription("The meta-graph in seed form: node types, actions, constraints and allowed connections"),
		mcp.WithMIMEType("application/yaml"),
	)
}

// HandlePhysics returns the current meta-graph as a YAML seed.
func (h *Handler) HandlePhysics(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	seed, err := bootstrap.Export(ctx, h.store)
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	data, err := yaml.Marshal(seed)
	if err != nil {
		return nil, fmt.Errorf("marshaling physics: %w", err)
	}
	return textResource(req.Params.URI, "application/yaml", string(data)), nil
}
