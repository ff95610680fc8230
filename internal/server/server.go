// Package server wires all components and creates the MCP server instance.
//
// This is the composition root: it creates concrete implementations and
// injects them into the gateway, tools, prompts and resources. No business
// logic lives here, only wiring.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mark3labs/mcp-go/server"

	"github.com/HendryAvila/graphmcp/internal/bootstrap"
	"github.com/HendryAvila/graphmcp/internal/config"
	"github.com/HendryAvila/graphmcp/internal/cursor"
	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/embedding"
	"github.com/HendryAvila/graphmcp/internal/gateway"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/policy"
	"github.com/HendryAvila/graphmcp/internal/prompts"
	"github.com/HendryAvila/graphmcp/internal/resources"
	"github.com/HendryAvila/graphmcp/internal/session"
	"github.com/HendryAvila/graphmcp/internal/tools"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Components are the wired collaborators shared by the MCP server and the
// CLI commands that work without it.
type Components struct {
	Store    *graph.SQLiteStore
	Policy   *policy.Engine
	Session  *session.Session
	Sync     *docsync.Engine
	Embedder embedding.Provider
	Gateway  *gateway.Gateway
}

// Open opens the store, seeds an empty meta-graph and builds the gateway.
//
// The returned cleanup function closes the store and must be called on
// shutdown (typically via defer). It is always non-nil and safe to call
// even when Open failed.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Components, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := graph.NewSQLiteStore(cfg.Store())
	if err != nil {
		return nil, noop, fmt.Errorf("opening graph store: %w", err)
	}
	cleanup := func() {
		if err := store.Close(); err != nil {
			logger.Warn("graph store close", "error", err)
		}
	}

	if err := seedIfEmpty(ctx, store, logger); err != nil {
		cleanup()
		return nil, noop, err
	}

	sess, err := session.Open(session.NewFileStore(cfg.DataDir), session.Default(cfg.Project, cfg.AgentID))
	if err != nil {
		cleanup()
		return nil, noop, fmt.Errorf("opening session: %w", err)
	}

	// The embedding provider is optional: without a key semantic features
	// report it as unavailable and everything else keeps working.
	embedder := embedding.NewOpenAI(embedding.OpenAIConfig{
		APIKey:  cfg.OpenAIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.EmbedModel,
	}, logger)

	sync := docsync.NewEngine(store, docsync.Config{
		WorkspaceRoot: cfg.WorkspaceRoot,
		DiskPriority:  cfg.DiskPriority,
	}, logger.With("component", "docsync"))

	pol := policy.NewEngine(store, logger.With("component", "policy"))
	gw := gateway.New(gateway.Deps{
		Store:    store,
		Policy:   pol,
		Cursor:   cursor.New(store),
		Session:  sess,
		Sync:     sync,
		Embedder: embedder,
		Logger:   logger.With("component", "gateway"),
	})

	return &Components{
		Store:    store,
		Policy:   pol,
		Session:  sess,
		Sync:     sync,
		Embedder: embedder,
		Gateway:  gw,
	}, cleanup, nil
}

// seedIfEmpty loads the embedded seed when the store has no meta-graph, so
// a custom seed loaded with `graphmcp bootstrap --seed` is left alone.
func seedIfEmpty(ctx context.Context, store *graph.SQLiteStore, logger *slog.Logger) error {
	n, err := store.CountNodes(ctx, graph.NodeFilter{Types: []string{graph.TypeNodeType}})
	if err != nil {
		return fmt.Errorf("reading meta-graph: %w", err)
	}
	if n > 0 {
		return nil
	}
	seed, err := bootstrap.Default()
	if err != nil {
		return err
	}
	if _, err := bootstrap.Load(ctx, store, seed, bootstrap.Options{}, logger); err != nil {
		return fmt.Errorf("seeding meta-graph: %w", err)
	}
	return nil
}

// New creates the MCP server with every tool, prompt and resource
// registered.
func New(c *Components) *server.MCPServer {
	s := server.NewMCPServer(
		"graphmcp",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	registerGraphTools(s, c.Gateway)

	// --- Register prompts ---

	startPrompt := prompts.NewStartPrompt()
	s.AddPrompt(startPrompt.Definition(), startPrompt.Handle)

	statusPrompt := prompts.NewStatusPrompt(c.Gateway)
	s.AddPrompt(statusPrompt.Definition(), statusPrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(c.Gateway, c.Store)
	s.AddResource(resourceHandler.SessionResource(), resourceHandler.HandleSession)
	s.AddResource(resourceHandler.PhysicsResource(), resourceHandler.HandlePhysics)

	return s
}

// noop is the cleanup returned when nothing was opened.
func noop() {}

// registerGraphTools registers the 19 graph tools. Every one of them is
// routed through the gateway, which decides per call whether the tool is
// visible from the agent's location.
func registerGraphTools(s *server.MCPServer, gw *gateway.Gateway) {
	// --- Navigation ---
	lookAround := tools.NewLookAroundTool(gw)
	s.AddTool(lookAround.Definition(), lookAround.Handle)

	moveTo := tools.NewMoveToTool(gw)
	s.AddTool(moveTo.Definition(), moveTo.Handle)

	explain := tools.NewExplainPhysicsTool(gw)
	s.AddTool(explain.Definition(), explain.Handle)

	// --- Nodes ---
	create := tools.NewCreateConceptTool(gw)
	s.AddTool(create.Definition(), create.Handle)

	registerTask := tools.NewRegisterTaskTool(gw)
	s.AddTool(registerTask.Definition(), registerTask.Handle)

	readNode := tools.NewReadNodeTool(gw)
	s.AddTool(readNode.Definition(), readNode.Handle)

	updateNode := tools.NewUpdateNodeTool(gw)
	s.AddTool(updateNode.Definition(), updateNode.Handle)

	deleteNode := tools.NewDeleteNodeTool(gw)
	s.AddTool(deleteNode.Definition(), deleteNode.Handle)

	// --- Links ---
	link := tools.NewLinkNodesTool(gw)
	s.AddTool(link.Definition(), link.Handle)

	unlink := tools.NewDeleteLinkTool(gw)
	s.AddTool(unlink.Definition(), unlink.Handle)

	// --- Knowledge ---
	similar := tools.NewLookForSimilarTool(gw)
	s.AddTool(similar.Definition(), similar.Handle)

	fullContext := tools.NewGetFullContextTool(gw)
	s.AddTool(fullContext.Definition(), fullContext.Handle)

	illuminate := tools.NewIlluminatePathTool(gw)
	s.AddTool(illuminate.Definition(), illuminate.Handle)

	orphans := tools.NewFindOrphansTool(gw)
	s.AddTool(orphans.Definition(), orphans.Handle)

	refresh := tools.NewRefreshKnowledgeTool(gw)
	s.AddTool(refresh.Definition(), refresh.Handle)

	// --- Session and maintenance ---
	syncGraph := tools.NewSyncGraphTool(gw)
	s.AddTool(syncGraph.Definition(), syncGraph.Handle)

	switchProject := tools.NewSwitchProjectTool(gw)
	s.AddTool(switchProject.Definition(), switchProject.Handle)

	setWorkflow := tools.NewSetWorkflowTool(gw)
	s.AddTool(setWorkflow.Definition(), setWorkflow.Handle)

	propose := tools.NewProposeChangeTool(gw)
	s.AddTool(propose.Definition(), propose.Handle)
}

// serverInstructions tells the AI how the graph behaves.
func serverInstructions() string {
	return `You have access to graphmcp, a project knowledge graph whose rules live in the graph itself.

## HOW IT WORKS
- You always stand on one node (your cursor). Start with look_around.
- The tools you may use depend on the type of that node. A refused call names the
  rule that fired and how to satisfy it; explain_physics tells you where an action unlocks.
- Every change is validated against the meta-graph: allowed node types under your
  location, allowed connections, content constraints and per-type limits.
- Every node is mirrored as a markdown document under Graph_Export/. Humans edit those
  documents; their edits flow back into the graph. Conflicts are kept and tracked as
  BUG-Conflict-* nodes, never silently overwritten.

## GOOD HABITS
1. look_around, then get_full_context before creating anything. illuminate_path gives the
   full hierarchy behind a task in one call.
2. look_for_similar before create_concept; link existing nodes instead of duplicating them.
3. Create top-down: Idea, Epic, Spec, Requirement. Register human requests with register_task
   and link them with IMPLEMENTS.
4. Run find_orphans when you finish a batch of changes.
5. You cannot change the physics. Use propose_change and let a human apply it.

## WORKFLOW MODES
Architect and Builder may change the graph. Auditor is read-only.`
}
