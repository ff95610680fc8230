package docsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
)

// DefaultDebounce is how long the watcher waits for edits to settle.
const DefaultDebounce = 2 * time.Second

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is the quiet period before a batch is processed.
	Debounce time.Duration
	// BufferSize bounds queued events; overflow is dropped and picked up by
	// the next full sync.
	BufferSize int
	// OnBatch, when set, receives every processed batch.
	OnBatch func(BatchResult)
}

// BatchResult is the outcome of one debounced batch.
type BatchResult struct {
	ID           string         `json:"id"`
	Ingested     []IngestResult `json:"ingested,omitempty"`
	Materialized int            `json:"materialized"`
	Removed      []string       `json:"removed,omitempty"`
	Ignored      int            `json:"ignored"`
	Failures     []Failure      `json:"failures,omitempty"`
}

// Watcher feeds human edits in the export tree back into the graph.
type Watcher struct {
	engine   *Engine
	root     string
	debounce time.Duration
	onBatch  func(BatchResult)
	logger   *slog.Logger

	fs       *fsnotify.Watcher
	changes  chan string
	done     chan struct{}
	stopOnce sync.Once

	mu       sync.Mutex
	watching bool
}

// NewWatcher creates a watcher over the engine's export directory. A nil
// logger falls back to slog.Default().
func NewWatcher(engine *Engine, opts WatcherOptions, logger *slog.Logger) (*Watcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1000
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	return &Watcher{
		engine:   engine,
		root:     engine.Layout().Root(),
		debounce: opts.Debounce,
		onBatch:  opts.OnBatch,
		logger:   logger,
		fs:       fw,
		changes:  make(chan string, opts.BufferSize),
		done:     make(chan struct{}),
	}, nil
}

// Start watches the export tree until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.watching {
		w.mu.Unlock()
		return nil
	}
	w.watching = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", w.root, err)
	}
	if err := w.addRecursive(w.root); err != nil {
		return fmt.Errorf("watching %s: %w", w.root, err)
	}
	go w.processEvents(ctx)
	go w.debounceLoop(ctx)
	w.logger.Info("document watcher started", "root", w.root, "debounce", w.debounce)
	return nil
}

// Stop ends watching. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fs.Close()
		w.mu.Lock()
		w.watching = false
		w.mu.Unlock()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && ignored(path) {
			return filepath.SkipDir
		}
		return w.fs.Add(path)
	})
}

// ignored matches hidden entries and editor scratch files.
func ignored(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") {
		return true
	}
	for _, suffix := range []string{".swp", ".swx", ".tmp"} {
		if strings.HasSuffix(base, suffix) {
			return true
		}
	}
	return false
}

func (w *Watcher) processEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ignored(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("watching new directory failed", "path", event.Name, "error", err)
					}
					continue
				}
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			select {
			case w.changes <- event.Name:
			default:
				w.logger.Warn("watch buffer full, dropping event", "path", event.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounceLoop(ctx context.Context) {
	pending := make(map[string]struct{})
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	flush := func() {
		if timer != nil {
			timer.Stop()
			timer, timerC = nil, nil
		}
		if len(pending) == 0 {
			return
		}
		paths := make([]string, 0, len(pending))
		for p := range pending {
			paths = append(paths, p)
		}
		clear(pending)
		res := w.Process(context.WithoutCancel(ctx), paths)
		if w.onBatch != nil {
			w.onBatch(res)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.changes:
			pending[path] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case <-timerC:
			timer, timerC = nil, nil
			flush()
		}
	}
}

// Process handles a batch of changed document paths: edits are ingested and
// the node re-materialized, vanished files are reported, and files whose
// bytes match the engine's last write are skipped.
func (w *Watcher) Process(ctx context.Context, paths []string) BatchResult {
	res := BatchResult{ID: uuid.NewString()}
	sort.Strings(paths)

	var last string
	for _, path := range paths {
		if path == last {
			continue
		}
		last = path

		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			// The node stays; the next full sync renders the document again.
			res.Removed = append(res.Removed, path)
			w.logger.Info("document removed", "batch", res.ID, "path", path)
			continue
		}
		if err != nil {
			res.Failures = append(res.Failures, Failure{UID: path, Error: err.Error()})
			continue
		}
		if w.engine.IsOwnWrite(path, data) {
			res.Ignored++
			continue
		}

		ing, err := w.engine.ingest(ctx, path, data)
		if errors.Is(err, ErrNotDocument) {
			res.Ignored++
			w.logger.Debug("skipping file without uid", "batch", res.ID, "path", path)
			continue
		}
		if err != nil {
			res.Failures = append(res.Failures, Failure{UID: path, Error: err.Error()})
			w.logger.Warn("ingest failed", "batch", res.ID, "path", path, "error", err)
			continue
		}
		res.Ingested = append(res.Ingested, ing)

		if _, err := w.engine.Materialize(ctx, ing.UID); err != nil {
			res.Failures = append(res.Failures, Failure{UID: ing.UID, Error: err.Error()})
			w.logger.Warn("re-materialize after ingest failed", "batch", res.ID, "uid", ing.UID, "error", err)
			continue
		}
		res.Materialized++
	}

	w.logger.Info("document batch processed", "batch", res.ID, "ingested", len(res.Ingested),
		"removed", len(res.Removed), "ignored", res.Ignored, "failures", len(res.Failures))
	return res
}
