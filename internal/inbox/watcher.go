package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"docqa-ai/internal/apperr"
	"docqa-ai/internal/contextutil"
	"docqa-ai/internal/indexer"
)

// Ingester is the part of indexer.Pipeline the watcher uses.
type Ingester interface {
	Ingest(ctx context.Context, req indexer.IngestRequest) (indexer.IngestResult, error)
}

// Config tunes the watcher.
type Config struct {
	// Debounce is how long a file must stay unchanged before it is ingested.
	Debounce     time.Duration `yaml:"debounce"`
	MaxFileBytes int64         `yaml:"max_file_bytes"`
}

// DefaultConfig returns a 500ms debounce and a 50MB file limit.
func DefaultConfig() Config {
	return Config{Debounce: 500 * time.Millisecond, MaxFileBytes: 50 << 20}
}

// Summary counts the outcomes of an ingestion pass.
type Summary struct {
	Indexed    int
	Duplicates int
	Failed     int
}

// Watcher ingests documents from a folder on behalf of one user.
type Watcher struct {
	root     string
	userID   string
	ingester Ingester
	cfg      Config

	mu      sync.Mutex
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher for root. Zero config fields take their defaults.
func NewWatcher(root, userID string, ingester Ingester, cfg Config) *Watcher {
	def := DefaultConfig()
	if cfg.Debounce <= 0 {
		cfg.Debounce = def.Debounce
	}
	if cfg.MaxFileBytes <= 0 {
		cfg.MaxFileBytes = def.MaxFileBytes
	}
	return &Watcher{
		root:     root,
		userID:   userID,
		ingester: ingester,
		cfg:      cfg,
		pending:  make(map[string]*time.Timer),
	}
}

func getLogger(ctx context.Context) *slog.Logger {
	return contextutil.LoggerFromContext(ctx).With("component", "inbox")
}

// IngestAll ingests every supported file currently under the root. Files
// that fail are counted and logged; only scan errors are returned.
func (w *Watcher) IngestAll(ctx context.Context) (Summary, error) {
	files, err := Scan(ctx, w.root)
	if err != nil {
		return Summary{}, err
	}

	var sum Summary
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		duplicate, err := w.ingestFile(ctx, f.AbsPath)
		switch {
		case err != nil:
			sum.Failed++
		case duplicate:
			sum.Duplicates++
		default:
			sum.Indexed++
		}
	}
	getLogger(ctx).InfoContext(ctx, "inbox pass complete",
		"root", w.root,
		"files", len(files),
		"indexed", sum.Indexed,
		"duplicates", sum.Duplicates,
		"failed", sum.Failed,
	)
	return sum, nil
}

// Run ingests the files already present, then watches the root and its
// subdirectories and ingests files as they are created or rewritten.
// It returns when ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	logger := getLogger(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	if err := w.addTree(fsw, w.root); err != nil {
		return err
	}
	if _, err := w.IngestAll(ctx); err != nil {
		return err
	}

	ready := make(chan string)
	defer w.stopPending()

	logger.InfoContext(ctx, "watching inbox", "root", w.root, "user_id", w.userID)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if isDir(ev) {
				if err := w.addTree(fsw, ev.Name); err != nil {
					logger.WarnContext(ctx, "failed to watch new directory", "path", ev.Name, "error", err)
				}
				continue
			}
			if path, ok := handleEvent(ev); ok {
				w.schedule(ctx, path, ready)
			}
		case path := <-ready:
			_, _ = w.ingestFile(ctx, path)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.WarnContext(ctx, "file watcher error", "error", err)
		}
	}
}

// handleEvent returns the path to ingest for ev, if any. Only creates and
// writes of supported, visible files are of interest; removals leave the
// indexed document in place.
func handleEvent(ev fsnotify.Event) (string, bool) {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return "", false
	}
	if !accepts(ev.Name) {
		return "", false
	}
	return ev.Name, true
}

func isDir(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(ev.Name)
	return err == nil && info.IsDir()
}

// schedule (re)starts the debounce timer of path. When it fires the path is
// handed to the Run loop through ready.
func (w *Watcher) schedule(ctx context.Context, path string, ready chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.cfg.Debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.root && hidden(d.Name()) {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

// ingestFile reads path and hands it to the ingester. It reports whether
// the content was already indexed.
func (w *Watcher) ingestFile(ctx context.Context, path string) (bool, error) {
	logger := getLogger(ctx).With("path", path)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		logger.WarnContext(ctx, "failed to stat file", "error", err)
		return false, err
	}
	if info.Size() > w.cfg.MaxFileBytes {
		err := apperr.Invalid("file", fmt.Sprintf("%d bytes exceeds the %d byte limit", info.Size(), w.cfg.MaxFileBytes))
		logger.WarnContext(ctx, "skipping oversized file", "error", err)
		return false, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		logger.WarnContext(ctx, "failed to read file", "error", err)
		return false, err
	}
	name, err := filepath.Rel(w.root, path)
	if err != nil {
		name = filepath.Base(path)
	}

	result, err := w.ingester.Ingest(ctx, indexer.IngestRequest{
		UserID:  w.userID,
		Name:    filepath.ToSlash(name),
		Content: content,
	})
	if err != nil {
		logger.ErrorContext(ctx, "failed to ingest file", "error", err)
		return false, err
	}
	logger.InfoContext(ctx, "ingested file",
		"document_id", result.Document.ID,
		"status", result.Document.Status,
		"duplicate", result.Duplicate,
	)
	return result.Duplicate, nil
}
