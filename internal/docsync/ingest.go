package docsync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"

	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/metrics"
)

// ErrNotDocument is returned for files that carry no uid.
var ErrNotDocument = errors.New("docsync: file is not a mirrored document")

// ingestedRelations is the vetted subset of relation keys a document may
// add to the graph. Everything else in the frontmatter stays a projection.
var ingestedRelations = []string{
	graph.RelCanPerform,
	graph.RelDecomposes,
	graph.RelDependsOn,
	graph.RelImplements,
	graph.RelRelatesTo,
	graph.RelRestricts,
}

// IngestResult describes one ingested document.
type IngestResult struct {
	UID     string   `json:"uid"`
	Type    string   `json:"type"`
	Path    string   `json:"path"`
	Created bool     `json:"created"`
	Edges   int      `json:"edges_added"`
	Skipped []string `json:"skipped_targets,omitempty"`
}

// Ingest reads the document at path and upserts its metadata and body into
// the store. The node keeps its type; a document declaring another type is
// refused with graph.ErrTypeMismatch.
func (e *Engine) Ingest(ctx context.Context, path string) (IngestResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return IngestResult{Path: path}, fmt.Errorf("reading %s: %w", path, err)
	}
	return e.ingest(ctx, path, data)
}

func (e *Engine) ingest(ctx context.Context, path string, data []byte) (IngestResult, error) {
	res := IngestResult{Path: path}
	doc, err := Parse(data)
	if err != nil {
		return res, fmt.Errorf("%s: %w", path, err)
	}
	if doc.UID == "" {
		return res, fmt.Errorf("%s: %w", path, ErrNotDocument)
	}
	res.UID = doc.UID

	unlock := e.locks.Lock(doc.UID)
	defer unlock()

	existing, err := e.store.GetNode(ctx, doc.UID)
	switch {
	case errors.Is(err, graph.ErrNotFound):
		existing = nil
	case err != nil:
		return res, fmt.Errorf("ingesting %s: %w", doc.UID, err)
	}

	n, err := nodeFromDocument(doc, existing)
	if err != nil {
		return res, fmt.Errorf("ingesting %s: %w", path, err)
	}
	res.Type = n.Type
	res.Created = existing == nil

	if _, err := e.store.UpsertNode(ctx, n); err != nil {
		return res, fmt.Errorf("ingesting %s: %w", doc.UID, err)
	}

	for _, rel := range ingestedRelations {
		for _, target := range doc.Relations[rel] {
			added, err := e.store.UpsertEdge(ctx, graph.Edge{From: doc.UID, To: target, Type: rel})
			switch {
			case errors.Is(err, graph.ErrNotFound):
				res.Skipped = append(res.Skipped, target)
			case err != nil:
				return res, fmt.Errorf("ingesting %s: linking %s: %w", doc.UID, target, err)
			case added:
				res.Edges++
			}
		}
	}
	sort.Strings(res.Skipped)

	metrics.Ingested.Inc()
	e.logger.Info("document ingested", "uid", res.UID, "type", res.Type, "path", path,
		"created", res.Created, "edges_added", res.Edges, "skipped", len(res.Skipped))
	return res, nil
}

// nodeFromDocument merges a parsed document over the stored node. Empty
// document fields leave the stored values alone.
func nodeFromDocument(doc Document, existing *graph.Node) (graph.Node, error) {
	var n graph.Node
	if existing != nil {
		n = *existing
		n.Props = make(map[string]any, len(existing.Props))
		for k, v := range existing.Props {
			n.Props[k] = v
		}
	}
	n.UID = doc.UID

	switch {
	case existing == nil && doc.Type == "":
		return n, fmt.Errorf("new node %s declares no type", doc.UID)
	case existing != nil && doc.Type != "" && doc.Type != existing.Type:
		return n, fmt.Errorf("document declares %s but %s is a %s: %w", doc.Type, doc.UID, existing.Type, graph.ErrTypeMismatch)
	case doc.Type != "":
		n.Type = doc.Type
	}

	if doc.Title != "" {
		n.Title = doc.Title
	}
	if n.Title == "" {
		n.Title = doc.UID
	}
	if doc.Status != "" {
		n.Status = doc.Status
	}
	if doc.Description != "" {
		n.Description = doc.Description
	}
	if doc.Project != "" {
		n.Project = doc.Project
	}
	for k, v := range doc.Props {
		if n.Props == nil {
			n.Props = make(map[string]any, len(doc.Props))
		}
		n.Props[k] = v
	}

	// A body that only repeats the description was rendered from it.
	body := doc.Body
	switch {
	case body == "":
	case n.Content == "" && Normalize(body) == Normalize(n.Description):
	default:
		n.Content = body
	}
	return n, nil
}
