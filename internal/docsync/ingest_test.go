package docsync_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/graphmcp/internal/docsync"
	"github.com/HendryAvila/graphmcp/internal/graph"
)

func writeDoc(t *testing.T, e *docsync.Engine, rel, text string) string {
	t.Helper()
	path := filepath.Join(e.Layout().Root(), filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const loginDoc = `---
uid: "REQ-Login"
type: "Requirement"
title: "Login"
tags: [auth]
priority: high
depends-on:
  - "[[TASK-Exists]]"
  - "[[TASK-Missing]]"
conflict:
  - "[[TASK-Exists]]"
---

# Login

Users log in with email.
`

func TestIngest_CreatesNodeAndVettedEdges(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, s, graph.Node{UID: "TASK-Exists", Type: "Task", Title: "Exists"})
	path := writeDoc(t, e, "4_Requirements/REQ-Login.md", loginDoc)

	res, err := e.Ingest(ctx, path)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Created || res.UID != "REQ-Login" || res.Type != "Requirement" {
		t.Errorf("result = %+v", res)
	}
	if res.Edges != 1 || !reflect.DeepEqual(res.Skipped, []string{"TASK-Missing"}) {
		t.Errorf("edges = %d skipped = %v, want 1 and [TASK-Missing]", res.Edges, res.Skipped)
	}

	n, err := s.GetNode(ctx, "REQ-Login")
	if err != nil {
		t.Fatalf("GetNode: %v", err)
	}
	if n.Title != "Login" || n.Content != "Users log in with email." {
		t.Errorf("node = %+v", n)
	}
	if n.PropString("priority") != "high" || n.Prop("tags") != nil {
		t.Errorf("props = %v", n.Props)
	}

	conflicts, err := s.Edges(ctx, graph.EdgeFilter{UID: "REQ-Login", Types: []string{graph.RelConflict}})
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("non-vetted relation was ingested: %v", conflicts)
	}

	again, err := e.Ingest(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Created || again.Edges != 0 {
		t.Errorf("re-ingest = %+v, want no new node or edges", again)
	}
}

func TestIngest_KeepsStoredFieldsTheDocumentOmits(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, s, graph.Node{UID: "TASK-Keep", Type: "Task", Title: "Keep", Status: "Open", Project: "alpha", Description: "short"})
	out := mustMaterialize(t, e, "TASK-Keep")

	if _, err := e.Ingest(ctx, out.Path); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	n, err := s.GetNode(ctx, "TASK-Keep")
	if err != nil {
		t.Fatal(err)
	}
	if n.Project != "alpha" || n.Status != "Open" {
		t.Errorf("node = %+v", n)
	}
	if n.Content != "" {
		t.Errorf("body rendered from the description was stored as content: %q", n.Content)
	}
}

func TestIngest_Refusals(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, s, graph.Node{UID: "REQ-Typed", Type: "Requirement", Title: "Typed"})

	wrongType := writeDoc(t, e, "3_Tasks/REQ-Typed.md", "---\nuid: REQ-Typed\ntype: Task\n---\n\nbody\n")
	if _, err := e.Ingest(ctx, wrongType); !errors.Is(err, graph.ErrTypeMismatch) {
		t.Errorf("type change: err = %v, want ErrTypeMismatch", err)
	}

	noUID := writeDoc(t, e, "notes.md", "# Scratch\n\nnothing here\n")
	if _, err := e.Ingest(ctx, noUID); !errors.Is(err, docsync.ErrNotDocument) {
		t.Errorf("no uid: err = %v, want ErrNotDocument", err)
	}

	untyped := writeDoc(t, e, "x/NEW-1.md", "---\nuid: NEW-1\n---\n\nbody\n")
	if _, err := e.Ingest(ctx, untyped); err == nil {
		t.Error("new node without a type was accepted")
	}
}

// ─── Watcher ────────────────────────────────────────────────────────────────

func newTestWatcher(t *testing.T, e *docsync.Engine, opts docsync.WatcherOptions) *docsync.Watcher {
	t.Helper()
	w, err := docsync.NewWatcher(e, opts, nil)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	t.Cleanup(w.Stop)
	return w
}

func TestWatcherProcess(t *testing.T) {
	e, s := newTestEngine(t)
	ctx := context.Background()
	mustCreate(t, s, graph.Node{UID: "TASK-W", Type: "Task", Title: "W", Content: "one"})
	path := mustMaterialize(t, e, "TASK-W").Path
	w := newTestWatcher(t, e, docsync.WatcherOptions{})

	own := w.Process(ctx, []string{path})
	if own.Ignored != 1 || len(own.Ingested) != 0 {
		t.Errorf("own write batch = %+v, want ignored", own)
	}
	if own.ID == "" {
		t.Error("batch has no id")
	}

	editBody(t, path, "one", "two")
	edited := w.Process(ctx, []string{path, path})
	if len(edited.Ingested) != 1 || edited.Materialized != 1 || len(edited.Failures) != 0 {
		t.Fatalf("edit batch = %+v", edited)
	}
	n, err := s.GetNode(ctx, "TASK-W")
	if err != nil {
		t.Fatal(err)
	}
	if n.Content != "two" {
		t.Errorf("content = %q, want two", n.Content)
	}
	if text := readFile(t, path); strings.Contains(text, docsync.ConflictMarker) {
		t.Errorf("human edit produced a conflict:\n%s", text)
	}

	scratch := writeDoc(t, e, "scratch.md", "just notes\n")
	if res := w.Process(ctx, []string{scratch}); res.Ignored != 1 {
		t.Errorf("scratch batch = %+v, want ignored", res)
	}

	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	gone := w.Process(ctx, []string{path})
	if len(gone.Removed) != 1 {
		t.Errorf("removal batch = %+v", gone)
	}
	if _, err := s.GetNode(ctx, "TASK-W"); err != nil {
		t.Errorf("node deleted with its document: %v", err)
	}
}

func TestWatcher_PicksUpEdits(t *testing.T) {
	e, s := newTestEngine(t)
	mustCreate(t, s, graph.Node{UID: "TASK-Live", Type: "Task", Title: "Live", Content: "before"})
	path := mustMaterialize(t, e, "TASK-Live").Path

	batches := make(chan docsync.BatchResult, 16)
	w := newTestWatcher(t, e, docsync.WatcherOptions{
		Debounce: 50 * time.Millisecond,
		OnBatch:  func(b docsync.BatchResult) { batches <- b },
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	editBody(t, path, "before", "after")

	timeout := time.After(10 * time.Second)
	for {
		select {
		case b := <-batches:
			if len(b.Ingested) == 0 {
				continue
			}
			n, err := s.GetNode(context.Background(), "TASK-Live")
			if err != nil {
				t.Fatal(err)
			}
			if n.Content != "after" {
				t.Errorf("content = %q, want after", n.Content)
			}
			return
		case <-timeout:
			t.Fatal("watcher never ingested the edit")
		}
	}
}
