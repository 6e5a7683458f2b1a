package ingest

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/franz/book-janitor/internal/meta"
	"github.com/franz/book-janitor/internal/util"
)

const (
	// settleDelay gives a newly written file time to finish arriving
	// before it is hashed
	settleDelay = 2 * time.Second
	// stopPollInterval is how often the worker checks for cancellation
	stopPollInterval = 250 * time.Millisecond
	// stopTimeout bounds how long Stop waits for the worker to exit
	stopTimeout = 5 * time.Second
)

// Watcher ingests files as they appear under a directory tree. A single
// background worker consumes filesystem events; Start and Stop are safe to
// call from multiple goroutines.
type Watcher struct {
	coordinator *Coordinator
	root        string

	mu       sync.Mutex
	running  bool
	stopping bool
	stop     chan struct{}
	done     chan struct{}
}

// NewWatcher creates a watcher over the given root directory
func NewWatcher(coordinator *Coordinator, root string) *Watcher {
	return &Watcher{
		coordinator: coordinator,
		root:        root,
	}
}

// IsRunning reports whether the background worker is alive
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start launches the background worker. Calling Start on a running
// watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		util.DebugLog("Watcher already running on %s", w.root)
		return nil
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watchRecursive(fsWatcher, w.root); err != nil {
		fsWatcher.Close()
		return err
	}

	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true
	w.stopping = false

	go w.run(fsWatcher, w.stop, w.done)

	util.InfoLog("Watching %s for new files", w.root)
	return nil
}

// Stop signals the worker and waits for it to exit, up to a bound.
// Stopping a stopped watcher is a no-op, and a Stop retried after a
// timeout waits again instead of re-closing the signal channel.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	if !w.stopping {
		w.stopping = true
		close(w.stop)
	}
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
	case <-time.After(stopTimeout):
		return fmt.Errorf("watcher did not stop within %s", stopTimeout)
	}

	w.mu.Lock()
	w.running = false
	w.stopping = false
	w.mu.Unlock()

	util.InfoLog("Watcher stopped")
	return nil
}

func (w *Watcher) run(fsWatcher *fsnotify.Watcher, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer fsWatcher.Close()

	// Paths seen recently enough that they are still settling
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return

		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			w.handleEvent(fsWatcher, event, pending)

		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			util.WarnLog("Watcher error: %v", err)

		case now := <-ticker.C:
			for path, seen := range pending {
				if now.Sub(seen) < settleDelay {
					continue
				}
				delete(pending, path)
				w.ingest(path)
			}
		}
	}
}

func (w *Watcher) handleEvent(fsWatcher *fsnotify.Watcher, event fsnotify.Event, pending map[string]time.Time) {
	if !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Write) {
		return
	}

	info, err := os.Stat(event.Name)
	if err != nil {
		return
	}

	if info.IsDir() {
		if err := watchRecursive(fsWatcher, event.Name); err != nil {
			util.WarnLog("Failed to watch new directory %s: %v", event.Name, err)
		}
		return
	}

	if meta.IsSupported(event.Name) {
		pending[event.Name] = time.Now()
	}
}

func (w *Watcher) ingest(path string) {
	status, _, err := w.coordinator.IngestFile(path)
	if err != nil {
		util.ErrorLog("Failed to ingest %s: %v", path, err)
		return
	}
	util.InfoLog("Ingested %s: %s", path, status)
}

// watchRecursive adds a directory and all its subdirectories to the watch
// set
func watchRecursive(fsWatcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			util.WarnLog("Error accessing path %s: %v", path, err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if err := fsWatcher.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		return nil
	})
}
