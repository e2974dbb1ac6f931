package watchsvc

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/cxrefd/cxrefd/internal/config"
	"github.com/cxrefd/cxrefd/internal/logging"
)

// EventType classifies a coalesced filesystem change, mirroring the
// teacher's FileEventType.
type EventType int

const (
	EventCreate EventType = iota
	EventWrite
	EventRemove
)

// coalesceWindow is spec.md §5's "modified-files coalescing 50ms".
const coalesceWindow = 50 * time.Millisecond

// pollInterval is how often a directory falls back to os.Stat polling once
// fsnotify can no longer watch it (spec.md §7, "fall back to polling the
// affected directory every N seconds").
const pollInterval = 2 * time.Second

// DirWatcher observes every directory in a Scanner-built Index and delivers
// coalesced create/write/remove events through OnChange. It is the
// generalization of the teacher's FileWatcher: same fsnotify-plus-debounce
// shape, reworked to drive Project's dependency-aware dirty engine instead
// of a language-agnostic reference tracker.
type DirWatcher struct {
	cfg     *config.Config
	scanner *Scanner
	fsw     *fsnotify.Watcher

	onChange func(path string, event EventType)

	mu      sync.Mutex
	pending map[string]EventType
	timer   *time.Timer

	pollMu   sync.Mutex
	polled   map[string]map[string]time.Time
	pollStop map[string]chan struct{}

	wg sync.WaitGroup
}

// NewDirWatcher builds a DirWatcher applying cfg's exclude filters via the
// Scanner it's handed.
func NewDirWatcher(cfg *config.Config, scanner *Scanner) (*DirWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &DirWatcher{
		cfg:      cfg,
		scanner:  scanner,
		fsw:      fsw,
		pending:  make(map[string]EventType),
		polled:   make(map[string]map[string]time.Time),
		pollStop: make(map[string]chan struct{}),
	}, nil
}

// OnChange registers the callback invoked once per coalesced path change.
// Must be called before Start.
func (w *DirWatcher) OnChange(f func(path string, event EventType)) {
	w.onChange = f
}

// Start adds a watch for every directory in idx and begins processing
// fsnotify events until ctx is cancelled.
func (w *DirWatcher) Start(ctx context.Context, idx *Index) error {
	for _, dir := range idx.Directories() {
		w.addWatch(dir)
	}
	w.wg.Add(1)
	go w.run(ctx)
	return nil
}

// Stop closes the underlying fsnotify watcher and waits for the event loop
// and any polling fallbacks to exit. It deliberately does not flush pending
// debounced events, the same tradeoff the teacher's debouncer.run documents:
// events in flight at shutdown are acceptable to lose since the project is
// being torn down anyway.
func (w *DirWatcher) Stop() error {
	w.pollMu.Lock()
	for dir, stop := range w.pollStop {
		close(stop)
		delete(w.pollStop, dir)
	}
	w.pollMu.Unlock()

	err := w.fsw.Close()
	w.wg.Wait()
	return err
}

func (w *DirWatcher) addWatch(dir string) {
	if err := w.fsw.Add(dir); err != nil {
		logging.Warnf("WATCH", "add watch for %s failed, falling back to polling: %v", dir, err)
		w.startPolling(dir)
	}
}

func (w *DirWatcher) run(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logging.Errorf("WATCH", "fsnotify error: %v", err)
		}
	}
}

func (w *DirWatcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	info, statErr := os.Stat(path)

	if statErr != nil {
		if ev.Op&fsnotify.Remove != 0 || ev.Op&fsnotify.Rename != 0 {
			w.queue(path, EventRemove)
		}
		return
	}

	if info.IsDir() {
		if ev.Op&fsnotify.Create != 0 {
			w.addWatch(path)
		}
		return
	}

	if !IsSourceFile(path) {
		return
	}
	if w.cfg != nil {
		if rel, err := filepath.Rel(w.cfg.Project.Root, path); err == nil && w.cfg.IsExcluded(filepath.ToSlash(rel)) {
			return
		}
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.queue(path, EventCreate)
	case ev.Op&fsnotify.Write != 0:
		w.queue(path, EventWrite)
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		w.queue(path, EventRemove)
	}
}

// queue debounces path's latest event behind coalesceWindow, the way the
// teacher's eventDebouncer.addEvent resets a single shared timer per batch.
func (w *DirWatcher) queue(path string, event EventType) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = event
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(coalesceWindow, w.flush)
}

func (w *DirWatcher) flush() {
	w.mu.Lock()
	events := w.pending
	w.pending = make(map[string]EventType)
	w.mu.Unlock()

	if w.onChange == nil {
		return
	}
	for path, event := range events {
		w.onChange(path, event)
	}
}

// startPolling handles spec.md §7's watcher-loss path: when fsnotify.Add
// fails (typically an OS inotify-instance limit), poll the directory's
// mtimes on a ticker instead of giving up on observing it.
func (w *DirWatcher) startPolling(dir string) {
	w.pollMu.Lock()
	if _, already := w.pollStop[dir]; already {
		w.pollMu.Unlock()
		return
	}
	stop := make(chan struct{})
	w.pollStop[dir] = stop
	w.pollMu.Unlock()

	snapshot := w.snapshotDir(dir)
	w.pollMu.Lock()
	w.polled[dir] = snapshot
	w.pollMu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				w.pollOnce(dir)
			}
		}
	}()
}

func (w *DirWatcher) snapshotDir(dir string) map[string]time.Time {
	out := make(map[string]time.Time)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		if e.IsDir() || !IsSourceFile(e.Name()) {
			continue
		}
		if info, err := e.Info(); err == nil {
			out[filepath.Join(dir, e.Name())] = info.ModTime()
		}
	}
	return out
}

func (w *DirWatcher) pollOnce(dir string) {
	current := w.snapshotDir(dir)

	w.pollMu.Lock()
	previous := w.polled[dir]
	w.polled[dir] = current
	w.pollMu.Unlock()

	for path, mtime := range current {
		if prev, ok := previous[path]; !ok {
			w.queue(path, EventCreate)
		} else if !mtime.Equal(prev) {
			w.queue(path, EventWrite)
		}
	}
	for path := range previous {
		if _, ok := current[path]; !ok {
			w.queue(path, EventRemove)
		}
	}
}
