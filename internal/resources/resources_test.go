package resources

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/HendryAvila/graphmcp/internal/bootstrap"
	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/session"
)

type fixedSession session.State

func (f fixedSession) Session() session.State { return session.State(f) }

type brokenReader struct{}

var errDown = errors.New("database is down")

func (brokenReader) GetNode(context.Context, string) (*graph.Node, error) { return nil, errDown }
func (brokenReader) ListNodes(context.Context, graph.NodeFilter) ([]graph.Node, error) {
	return nil, errDown
}
func (brokenReader) Edges(context.Context, graph.EdgeFilter) ([]graph.Edge, error) {
	return nil, errDown
}

func readReq(uri string) mcp.ReadResourceRequest {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	return req
}

func contentText(t *testing.T, rc []mcp.ResourceContents) mcp.TextResourceContents {
	t.Helper()
	if len(rc) != 1 {
		t.Fatalf("contents = %d, want 1", len(rc))
	}
	tc, ok := rc[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("content is %T", rc[0])
	}
	return tc
}

func TestHandleSession(t *testing.T) {
	h := NewHandler(fixedSession(session.Default("shop", "agent-1")), brokenReader{})
	rc, err := h.HandleSession(context.Background(), readReq(SessionURI))
	if err != nil {
		t.Fatal(err)
	}
	tc := contentText(t, rc)
	if tc.MIMEType != "application/json" || !strings.Contains(tc.Text, `"project": "shop"`) {
		t.Errorf("session resource = %+v", tc)
	}
}

func TestHandlePhysics(t *testing.T) {
	s, err := graph.NewSQLiteStore(graph.Config{DataDir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	seed, _ := bootstrap.Default()
	if _, err := bootstrap.Load(context.Background(), s, seed, bootstrap.Options{}, nil); err != nil {
		t.Fatal(err)
	}

	h := NewHandler(fixedSession(session.Default("shop", "agent-1")), s)
	rc, err := h.HandlePhysics(context.Background(), readReq(PhysicsURI))
	if err != nil {
		t.Fatal(err)
	}
	tc := contentText(t, rc)
	for _, want := range []string{"node_types:", "name: Spec", "create_spec", "No_WikiLinks", "relation: DECOMPOSES"} {
		if !strings.Contains(tc.Text, want) {
			t.Errorf("physics should contain %q", want)
		}
	}
}

func TestHandlePhysics_StoreDown(t *testing.T) {
	h := NewHandler(fixedSession(session.State{}), brokenReader{})
	rc, err := h.HandlePhysics(context.Background(), readReq(PhysicsURI))
	if err != nil {
		t.Fatalf("store failures should be reported in the resource, got %v", err)
	}
	tc := contentText(t, rc)
	if tc.MIMEType != "text/plain" || !strings.Contains(tc.Text, "database is down") {
		t.Errorf("error resource = %+v", tc)
	}
}
