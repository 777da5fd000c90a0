// internal/watcher/watcher.go
package watcher

import (
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Change is a debounced file change inside the watched workspace. Path is
// relative to the workspace root, matching snapshot file keys.
type Change struct {
	Path string
}

// Watcher observes the workspace root and reports file changes after a
// debounce window, so a burst of writes to one file collapses into a
// single callback. Consumers use it to flag context-tracker entries stale
// when a file shown to the model changes outside a turn.
type Watcher struct {
	root     string
	debounce time.Duration
	callback func(Change)

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool

	timersMu sync.Mutex
	timers   map[string]*time.Timer
}

// New creates a watcher over the workspace root.
func New(root string, debounce time.Duration, callback func(Change)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", root, err)
	}

	return &Watcher{
		root:     root,
		debounce: debounce,
		callback: callback,
		watcher:  fsw,
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
	}, nil
}

// AddDir watches an additional directory under the workspace.
func (w *Watcher) AddDir(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	return w.watcher.Add(dir)
}

// Start begins delivering changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.run()
	return nil
}

// Close stops the watcher and cancels pending debounce timers.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	if w.started {
		close(w.done)
	}

	w.timersMu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.timersMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) run() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.schedule(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[Watcher] error: %v", err)

		case <-w.done:
			return
		}
	}
}

// schedule arms (or re-arms) the debounce timer for one path.
func (w *Watcher) schedule(absPath string) {
	rel, err := filepath.Rel(w.root, absPath)
	if err != nil {
		rel = absPath
	}

	w.timersMu.Lock()
	defer w.timersMu.Unlock()

	if timer, ok := w.timers[rel]; ok {
		timer.Stop()
	}
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		w.timersMu.Lock()
		delete(w.timers, rel)
		w.timersMu.Unlock()

		w.callback(Change{Path: rel})
	})
}
