// Package docsync keeps a tree of markdown documents convergent with the
// graph. Documents are a projection of nodes and their outgoing edges; the
// only state that can flow back is what a human typed into a document body
// or its frontmatter.
//
// There is no lock file and no version vector. Convergence comes from a
// deterministic renderer, a fixed merge order and writes that only happen
// when bytes change, so any number of passes over the same state is a no-op.
package docsync

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/HendryAvila/graphmcp/internal/graph"
	"github.com/HendryAvila/graphmcp/internal/metrics"
)

// DefaultDiskPriority lists the types whose documents outrank the store.
var DefaultDiskPriority = []string{graph.TypeSpec, graph.TypeRoadmap, graph.TypeEpic}

// Tracker statuses.
const (
	TrackerOpen     = "Open"
	TrackerResolved = "Resolved"
)

// TrackerUID returns the uid of the conflict tracker for uid.
func TrackerUID(uid string) string { return "BUG-Conflict-" + uid }

func isTracker(uid string) bool { return strings.HasPrefix(uid, "BUG-Conflict-") }

// Store is the slice of the graph store the engine needs.
type Store interface {
	GetNode(ctx context.Context, uid string) (*graph.Node, error)
	ListNodes(ctx context.Context, f graph.NodeFilter) ([]graph.Node, error)
	Edges(ctx context.Context, f graph.EdgeFilter) ([]graph.Edge, error)
	CreateNode(ctx context.Context, n graph.Node, opts graph.CreateOptions) (*graph.Node, error)
	UpsertNode(ctx context.Context, n graph.Node) (*graph.Node, error)
	UpdateNode(ctx context.Context, uid string, p graph.NodePatch) (*graph.Node, error)
	UpsertEdge(ctx context.Context, e graph.Edge) (bool, error)
}

// Config configures an Engine.
type Config struct {
	WorkspaceRoot string
	// DiskPriority overrides DefaultDiskPriority when non-nil.
	DiskPriority []string
	// PropagateDisk writes an adopted disk body back into an empty node.
	PropagateDisk bool
	// Workers bounds SyncAll parallelism; 0 means 8.
	Workers int
}

// Engine materializes nodes into documents and ingests documents back.
type Engine struct {
	store        Store
	layout       Layout
	diskPriority map[string]bool
	propagate    bool
	workers      int
	logger       *slog.Logger

	locks  *keyedMutex
	writes sync.Map // path -> sha256 of the last bytes this engine wrote
}

// NewEngine creates an Engine. A nil logger falls back to slog.Default().
func NewEngine(store Store, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	priority := cfg.DiskPriority
	if priority == nil {
		priority = DefaultDiskPriority
	}
	dp := make(map[string]bool, len(priority))
	for _, t := range priority {
		dp[strings.TrimSpace(t)] = true
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	return &Engine{
		store:        store,
		layout:       NewLayout(cfg.WorkspaceRoot),
		diskPriority: dp,
		propagate:    cfg.PropagateDisk,
		workers:      workers,
		logger:       logger,
		locks:        newKeyedMutex(),
	}
}

// Layout returns the document layout.
func (e *Engine) Layout() Layout { return e.layout }

// DiskPriority reports whether documents of nodeType outrank the store.
func (e *Engine) DiskPriority(nodeType string) bool { return e.diskPriority[nodeType] }

// ─── Materialize ────────────────────────────────────────────────────────────

// Outcome describes one materialization.
type Outcome struct {
	UID     string `json:"uid"`
	Path    string `json:"path"`
	Status  Status `json:"status"`
	Written bool   `json:"written"`
	Tracker string `json:"tracker,omitempty"`
}

// Materialize renders uid to its document, applying the merge rules against
// whatever is on disk. Calls for the same uid are serialized.
func (e *Engine) Materialize(ctx context.Context, uid string) (Outcome, error) {
	return e.materialize(ctx, uid, nil)
}

// MaterializeAfterWrite is Materialize for a node whose stored text was just
// changed from previous. A document still showing previous is stale and is
// overwritten instead of being reported as a conflict.
func (e *Engine) MaterializeAfterWrite(ctx context.Context, uid, previous string) (Outcome, error) {
	return e.materialize(ctx, uid, &previous)
}

func (e *Engine) materialize(ctx context.Context, uid string, base *string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{UID: uid}, err
	}
	unlock := e.locks.Lock(uid)
	defer unlock()

	n, err := e.store.GetNode(ctx, uid)
	if err != nil {
		return Outcome{UID: uid}, fmt.Errorf("materialize %s: %w", uid, err)
	}
	edges, err := e.store.Edges(ctx, graph.EdgeFilter{UID: uid, Direction: graph.Outgoing, Types: renderedRelations})
	if err != nil {
		return Outcome{UID: uid}, fmt.Errorf("materialize %s: loading edges: %w", uid, err)
	}

	path := e.layout.Path(n.UID, n.Type)
	out := Outcome{UID: uid, Path: path}

	existing, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return out, fmt.Errorf("materialize %s: reading %s: %w", uid, path, err)
	}
	var disk string
	if existing != nil {
		doc, err := Parse(existing)
		if err != nil {
			return out, fmt.Errorf("materialize %s: %s: %w", uid, path, err)
		}
		disk = doc.Body
	}

	res := Merge(MergeInput{
		DB:           StoredText(n),
		Disk:         disk,
		DiskPriority: e.diskPriority[n.Type],
		Base:         base,
	})
	out.Status = res.Status

	if res.Status == StatusDiskAuthoritative && e.propagate && strings.TrimSpace(StoredText(n)) == "" {
		body := res.Body
		if _, err := e.store.UpdateNode(ctx, uid, graph.NodePatch{Content: &body}); err != nil {
			e.logger.Warn("propagating document body failed", "uid", uid, "error", err)
		}
	}

	var trackerChanged bool
	switch {
	case isTracker(uid):
	case res.Status == StatusConflict:
		out.Tracker, trackerChanged, err = e.openTracker(ctx, n)
		if err != nil {
			return out, fmt.Errorf("materialize %s: recording conflict: %w", uid, err)
		}
	default:
		out.Tracker, trackerChanged, err = e.resolveTracker(ctx, uid)
		if err != nil {
			return out, fmt.Errorf("materialize %s: resolving conflict: %w", uid, err)
		}
	}

	doc := DocumentFor(n, edges, res.Body)
	doc.Conflict = res.Conflict
	rendered, err := doc.Render()
	if err != nil {
		return out, fmt.Errorf("materialize %s: %w", uid, err)
	}

	if !bytes.Equal(rendered, existing) {
		if err := e.write(path, rendered); err != nil {
			return out, fmt.Errorf("materialize %s: %w", uid, err)
		}
		out.Written = true
	}
	metrics.Materializations.WithLabelValues(string(res.Status)).Inc()
	if res.Status == StatusConflict {
		e.logger.Warn("document conflict recorded", "uid", uid, "path", path, "tracker", out.Tracker)
	}
	if trackerChanged {
		if _, err := e.materialize(ctx, out.Tracker, nil); err != nil {
			e.logger.Warn("materializing conflict tracker failed", "tracker", out.Tracker, "error", err)
		}
	}
	return out, nil
}

// StoredText is the stored body of a node: content, else description.
func StoredText(n *graph.Node) string {
	if strings.TrimSpace(n.Content) != "" {
		return n.Content
	}
	return n.Description
}

func (e *Engine) write(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	e.writes.Store(path, digest(data))
	return nil
}

// IsOwnWrite reports whether data is exactly what the engine last wrote to
// path. The watcher uses it to ignore its own echoes.
func (e *Engine) IsOwnWrite(path string, data []byte) bool {
	v, ok := e.writes.Load(path)
	return ok && v.(string) == digest(data)
}

func digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ─── Conflict tracking ──────────────────────────────────────────────────────

// openTracker upserts the tracking Bug for a conflicting node. Repeated
// conflicts reuse the same record. changed reports whether the tracker was
// created or reopened.
func (e *Engine) openTracker(ctx context.Context, n *graph.Node) (uid string, changed bool, err error) {
	uid = TrackerUID(n.UID)
	_, err = e.store.CreateNode(ctx, graph.Node{
		UID:   uid,
		Type:  graph.TypeBug,
		Title: "Sync conflict: " + n.UID,
		Description: fmt.Sprintf("The stored text of %s and its document diverged. "+
			"Edit the document or update the node until both agree.", n.UID),
		Status:  TrackerOpen,
		Project: n.Project,
	}, graph.CreateOptions{Link: &graph.Edge{To: n.UID, Type: graph.RelConflict}})
	switch {
	case err == nil:
		return uid, true, nil
	case !errors.Is(err, graph.ErrExists):
		return "", false, err
	}

	existing, err := e.store.GetNode(ctx, uid)
	if err != nil {
		return "", false, err
	}
	if existing.Status != TrackerOpen {
		open := TrackerOpen
		if _, err := e.store.UpdateNode(ctx, uid, graph.NodePatch{Status: &open}); err != nil {
			return "", false, err
		}
		changed = true
	}
	if _, err := e.store.UpsertEdge(ctx, graph.Edge{From: uid, To: n.UID, Type: graph.RelConflict}); err != nil {
		return "", false, err
	}
	return uid, changed, nil
}

// resolveTracker marks an open tracker resolved. It returns the tracker uid
// when one exists.
func (e *Engine) resolveTracker(ctx context.Context, nodeUID string) (uid string, changed bool, err error) {
	uid = TrackerUID(nodeUID)
	t, err := e.store.GetNode(ctx, uid)
	if errors.Is(err, graph.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if t.Status != TrackerOpen {
		return uid, false, nil
	}
	resolved := TrackerResolved
	if _, err := e.store.UpdateNode(ctx, uid, graph.NodePatch{Status: &resolved}); err != nil {
		return "", false, err
	}
	e.logger.Info("document conflict resolved", "uid", nodeUID, "tracker", uid)
	return uid, true, nil
}

// ─── Removal ────────────────────────────────────────────────────────────────

// Remove deletes the document of a node. nodeType may be empty when the
// node is already gone; every folder is searched then.
func (e *Engine) Remove(uid, nodeType string) (bool, error) {
	unlock := e.locks.Lock(uid)
	defer unlock()

	var paths []string
	if nodeType != "" {
		if p := e.layout.Path(uid, nodeType); fileExists(p) {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		paths = e.layout.Find(uid)
	}

	var errs []error
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			errs = append(errs, fmt.Errorf("removing %s: %w", p, err))
			continue
		}
		e.writes.Delete(p)
	}
	return len(paths) > 0 && len(errs) == 0, errors.Join(errs...)
}

// ─── Full reconciliation ────────────────────────────────────────────────────

// Failure is one node that could not be materialized.
type Failure struct {
	UID   string `json:"uid"`
	Error string `json:"error"`
}

// Report aggregates a batch of materializations.
type Report struct {
	Total     int            `json:"total"`
	Written   int            `json:"written"`
	ByStatus  map[Status]int `json:"by_status"`
	Conflicts []string       `json:"conflicts,omitempty"`
	Failures  []Failure      `json:"failures,omitempty"`
	Duration  time.Duration  `json:"duration"`
}

func (r *Report) add(o Outcome, err error) {
	r.Total++
	if err != nil {
		r.Failures = append(r.Failures, Failure{UID: o.UID, Error: err.Error()})
		return
	}
	if r.ByStatus == nil {
		r.ByStatus = make(map[Status]int)
	}
	r.ByStatus[o.Status]++
	if o.Written {
		r.Written++
	}
	if o.Status == StatusConflict {
		r.Conflicts = append(r.Conflicts, o.UID)
	}
}

// Summary renders the report as one line.
func (r Report) Summary() string {
	return fmt.Sprintf("Synced %d node(s): %d written, %d clean, %d disk-authoritative, %d conflict(s), %d failure(s).",
		r.Total, r.Written, r.ByStatus[StatusClean], r.ByStatus[StatusDiskAuthoritative], len(r.Conflicts), len(r.Failures))
}

// MaterializeMany materializes uids with bounded parallelism. Per-node
// failures are collected in the report and never stop the batch.
func (e *Engine) MaterializeMany(ctx context.Context, uids []string) Report {
	start := time.Now()
	seen := make(map[string]bool, len(uids))

	var (
		mu     sync.Mutex
		report Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, uid := range uids {
		if uid == "" || seen[uid] {
			continue
		}
		seen[uid] = true
		g.Go(func() error {
			o, err := e.Materialize(gctx, uid)
			if err != nil {
				metrics.MaterializeErrors.Inc()
				e.logger.Warn("materialize failed", "uid", uid, "error", err)
			}
			mu.Lock()
			report.add(o, err)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(report.Conflicts)
	sort.Slice(report.Failures, func(i, j int) bool { return report.Failures[i].UID < report.Failures[j].UID })
	report.Duration = time.Since(start)
	return report
}

// SyncAll materializes every node in the store.
func (e *Engine) SyncAll(ctx context.Context) (Report, error) {
	nodes, err := e.store.ListNodes(ctx, graph.NodeFilter{})
	if err != nil {
		return Report{}, fmt.Errorf("listing nodes: %w", err)
	}
	uids := make([]string, len(nodes))
	for i, n := range nodes {
		uids[i] = n.UID
	}
	report := e.MaterializeMany(ctx, uids)
	metrics.SyncDuration.Observe(report.Duration.Seconds())
	e.logger.Info("full sync finished", "total", report.Total, "written", report.Written,
		"conflicts", len(report.Conflicts), "failures", len(report.Failures), "duration", report.Duration)
	return report, nil
}

// RunReconciler runs SyncAll every interval until ctx is done.
func (e *Engine) RunReconciler(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	e.logger.Info("reconciler started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := e.SyncAll(ctx); err != nil {
				e.logger.Warn("reconciliation pass failed", "error", err)
			}
		}
	}
}
