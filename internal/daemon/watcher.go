package daemon

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/untoldecay/scribe/internal/integrity"
	"github.com/untoldecay/scribe/internal/registry"
	"github.com/untoldecay/scribe/internal/storage"
	"github.com/untoldecay/scribe/internal/types"
)

const (
	// debounceWindow coalesces editor write bursts (atomic saves fire
	// create+write+rename) into one refresh per document.
	debounceWindow = 500 * time.Millisecond

	// rescanInterval picks up documents registered after startup.
	rescanInterval = 30 * time.Second

	watcherAgent = "daemon-watcher"
)

// docRef identifies one registered document by project and docs key.
type docRef struct {
	project string
	key     string
}

// Watcher refreshes registry hash bookkeeping when a registered
// document is edited outside scribe, so drift detection sees external
// edits too.
type Watcher struct {
	store storage.Storage
	reg   *registry.Registry
	log   *Logger

	Debounce time.Duration
	Rescan   time.Duration

	mu       sync.Mutex
	index    map[string]docRef // absolute doc path -> owner
	lastHash map[string]string
	timers   map[string]*time.Timer
}

func NewWatcher(store storage.Storage, reg *registry.Registry, log *Logger) *Watcher {
	return &Watcher{
		store:    store,
		reg:      reg,
		log:      log,
		Debounce: debounceWindow,
		Rescan:   rescanInterval,
		index:    make(map[string]docRef),
		lastHash: make(map[string]string),
		timers:   make(map[string]*time.Timer),
	}
}

// Run watches until the context is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	changed := make(chan string, 64)
	w.refreshIndex(ctx, fsw)

	rescan := time.NewTicker(w.Rescan)
	defer rescan.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-rescan.C:
			w.refreshIndex(ctx, fsw)
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.debounce(filepath.Clean(event.Name), changed)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", "error", err)
		case path := <-changed:
			w.handleChange(ctx, path)
		}
	}
}

// refreshIndex rebuilds the path index from the project registry and
// watches every directory holding a registered document.
func (w *Watcher) refreshIndex(ctx context.Context, fsw *fsnotify.Watcher) {
	projects, err := w.store.ListProjects(ctx)
	if err != nil {
		w.log.Warn("doc index refresh failed", "error", err)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	watched := make(map[string]bool, len(fsw.WatchList()))
	for _, dir := range fsw.WatchList() {
		watched[dir] = true
	}

	for _, p := range projects {
		for key, path := range p.Docs {
			if path == "" {
				continue
			}
			abs := filepath.Clean(path)
			if _, seen := w.index[abs]; !seen {
				if sha, err := integrity.HashFile(abs); err == nil {
					w.lastHash[abs] = sha
				}
			}
			w.index[abs] = docRef{project: p.Name, key: key}

			dir := filepath.Dir(abs)
			if watched[dir] {
				continue
			}
			if _, err := os.Stat(dir); err != nil {
				continue
			}
			if err := fsw.Add(dir); err != nil {
				w.log.Warn("failed to watch directory", "dir", dir, "error", err)
				continue
			}
			watched[dir] = true
		}
	}
}

func (w *Watcher) debounce(path string, changed chan<- string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, tracked := w.index[path]; !tracked {
		return
	}
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.Debounce, func() {
		select {
		case changed <- path:
		default:
		}
	})
}

func (w *Watcher) handleChange(ctx context.Context, path string) {
	w.mu.Lock()
	ref, tracked := w.index[path]
	prev := w.lastHash[path]
	w.mu.Unlock()
	if !tracked {
		return
	}

	sha, err := integrity.HashFile(path)
	if err != nil {
		// Deleted or mid-rename; the next write will re-hash.
		return
	}
	if sha == prev {
		return
	}

	change := &types.DocumentChange{
		ProjectName: ref.project,
		Doc:         ref.key,
		Action:      "external_edit",
		SHABefore:   prev,
		SHAAfter:    sha,
		Agent:       watcherAgent,
	}
	if err := w.reg.RecordDocUpdate(ctx, ref.project, change); err != nil {
		w.log.Warn("failed to record external doc edit",
			"project", ref.project, "doc", ref.key, "error", err)
		return
	}

	w.mu.Lock()
	w.lastHash[path] = sha
	w.mu.Unlock()
	w.log.Info("external doc edit recorded", "project", ref.project, "doc", ref.key)
}
