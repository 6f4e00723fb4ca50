package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"livepreview/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// skippedDirs are never loaded or watched.
var skippedDirs = map[string]bool{
	"node_modules": true,
	".git":         true,
	".preview":     true,
	"dist":         true,
}

// hidden reports dotfiles and dot-directories (.env, .vscode, ...). They are
// never part of a preview; .env in particular holds the service's own secrets.
func hidden(name string) bool {
	return len(name) > 1 && strings.HasPrefix(name, ".")
}

// DefaultMaxFileSize bounds individual files read from disk.
const DefaultMaxFileSize = 2 << 20

// Dir is a project backed by a directory on disk. Snapshot reads the tree on
// every call; Start watches it and emits one change signal per quiet period.
type Dir struct {
	root        string
	maxFileSize int64

	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	pending     map[string]time.Time
	debounceDur time.Duration
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	changes     chan struct{}

	stats DirStats
}

// DirStats tracks watcher activity.
type DirStats struct {
	Events        int
	Notifications int
	Errors        int
	LastEventPath string
	LastEventTime time.Time
}

// NewDir creates a directory source. debounce <= 0 uses 300ms.
func NewDir(root string, debounce time.Duration) (*Dir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat project root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("project root %s is not a directory", abs)
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Dir{
		root:        abs,
		maxFileSize: DefaultMaxFileSize,
		pending:     make(map[string]time.Time),
		debounceDur: debounce,
		changes:     make(chan struct{}, 1),
	}, nil
}

// Root returns the absolute project directory.
func (d *Dir) Root() string { return d.root }

// SetMaxFileSize changes the per-file limit. n <= 0 restores the default.
func (d *Dir) SetMaxFileSize(n int64) {
	if n <= 0 {
		n = DefaultMaxFileSize
	}
	d.mu.Lock()
	d.maxFileSize = n
	d.mu.Unlock()
}

// Changes returns the debounced change signal.
func (d *Dir) Changes() <-chan struct{} { return d.changes }

// Snapshot reads every file under the root into a snapshot keyed by
// slash-separated relative paths.
func (d *Dir) Snapshot(ctx context.Context) (Snapshot, error) {
	d.mu.Lock()
	limit := d.maxFileSize
	d.mu.Unlock()

	files := make(map[string]string)
	err := filepath.WalkDir(d.root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if entry.IsDir() {
			if path != d.root && (skippedDirs[entry.Name()] || hidden(entry.Name())) {
				return filepath.SkipDir
			}
			return nil
		}
		if !entry.Type().IsRegular() || hidden(entry.Name()) {
			return nil
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if info.Size() > limit {
			logging.ProjectWarn("skipping %s: %d bytes exceeds limit", key, info.Size())
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[key] = string(data)
		return nil
	})
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to load project %s: %w", d.root, err)
	}
	logging.ProjectDebug("loaded %d files from %s", len(files), d.root)
	return newSnapshot(files), nil
}

// Start begins watching the tree. It is non-blocking and idempotent.
func (d *Dir) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	d.watcher = w
	if err := d.addTree(d.root); err != nil {
		_ = w.Close()
		return err
	}

	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.running = true
	go d.run(ctx, w, d.stopCh, d.doneCh)

	logging.Project("watching %s", d.root)
	return nil
}

// Stop stops watching and waits for the event loop to exit.
func (d *Dir) Stop() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stopCh, doneCh, w := d.stopCh, d.doneCh, d.watcher
	d.mu.Unlock()

	close(stopCh)
	<-doneCh
	if err := w.Close(); err != nil {
		logging.ProjectWarn("error closing watcher: %v", err)
	}
	logging.Project("stopped watching %s", d.root)
}

// Stats returns a copy of the watcher counters.
func (d *Dir) Stats() DirStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// addTree registers root and every non-skipped subdirectory. Caller holds mu.
func (d *Dir) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if path != d.root && (skippedDirs[entry.Name()] || hidden(entry.Name())) {
			return filepath.SkipDir
		}
		if err := d.watcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}

func (d *Dir) run(ctx context.Context, w *fsnotify.Watcher, stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(max(d.debounceDur/3, time.Millisecond))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			d.handleEvent(event)
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logging.ProjectWarn("watcher error: %v", err)
			d.mu.Lock()
			d.stats.Errors++
			d.mu.Unlock()
		case <-ticker.C:
			d.flush()
		}
	}
}

func (d *Dir) handleEvent(event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	rel, err := filepath.Rel(d.root, event.Name)
	if err != nil || d.ignored(rel) {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if event.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := d.addTree(event.Name); err != nil {
				logging.ProjectWarn("failed to watch new directory: %v", err)
			}
		}
	}

	d.pending[event.Name] = time.Now()
	d.stats.Events++
	d.stats.LastEventPath = filepath.ToSlash(rel)
	d.stats.LastEventTime = time.Now()
	logging.ProjectDebug("%s %s", event.Op, filepath.ToSlash(rel))
}

// ignored reports whether a relative path is hidden or falls inside a
// skipped or hidden directory.
func (d *Dir) ignored(rel string) bool {
	dir := filepath.ToSlash(rel)
	for dir != "." && dir != "" {
		if base := filepath.Base(dir); skippedDirs[base] || hidden(base) {
			return true
		}
		dir = filepath.ToSlash(filepath.Dir(dir))
	}
	return false
}

// flush emits a change once every pending path has been quiet for the
// debounce window.
func (d *Dir) flush() {
	d.mu.Lock()
	if len(d.pending) == 0 {
		d.mu.Unlock()
		return
	}
	now := time.Now()
	for _, t := range d.pending {
		if now.Sub(t) < d.debounceDur {
			d.mu.Unlock()
			return
		}
	}
	n := len(d.pending)
	d.pending = make(map[string]time.Time)
	d.stats.Notifications++
	d.mu.Unlock()

	logging.ProjectDebug("%d paths changed", n)
	select {
	case d.changes <- struct{}{}:
	default:
	}
}
