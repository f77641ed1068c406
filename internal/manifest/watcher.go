package manifest

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"hotsync/internal/debounce"
	"hotsync/internal/logging"
	"hotsync/internal/resource"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the manifest when it changes on disk. The parent directory
// is watched rather than the file so that editors which replace the file on
// save are still seen.
type Watcher struct {
	path     string
	dir      string
	onChange func([]resource.Resource)

	watcher   *fsnotify.Watcher
	debouncer *debounce.Debouncer

	mu      sync.Mutex
	running bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	stats WatcherStats
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events       int
	Reloads      int
	ReloadErrors int
	LastEvent    time.Time
}

// NewWatcher creates a watcher for the manifest at path. onChange receives
// each successfully reloaded manifest on the watch goroutine; parse errors
// are logged and the previous manifest stays in effect.
func NewWatcher(path string, debounceDur time.Duration, onChange func([]resource.Resource)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve manifest path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	return &Watcher{
		path:      abs,
		dir:       filepath.Dir(abs),
		onChange:  onChange,
		watcher:   fw,
		debouncer: debounce.New(debounceDur),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running || w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(w.dir); err != nil {
		// No loop was started; Stop only has the fsnotify watcher to close.
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	logging.Manifest("watching %s", w.path)

	go w.run(ctx)
	return nil
}

// Stop ends the watch loop, drops any pending reload and releases the
// underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	wasRunning := w.running
	w.stopped = true
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if pending, events := w.debouncer.Pending(); pending {
		logging.ManifestDebug("dropping reload pending after %d event(s)", events)
	}
	w.debouncer.Cancel()

	if err := w.watcher.Close(); err != nil {
		logging.ManifestError("closing watcher: %v", err)
	}
	logging.ManifestDebug("watcher stopped")
}

// Stats returns a snapshot of the watcher's counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			logging.ManifestDebug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.ManifestError("watcher error: %v", err)

		case <-w.debouncer.C():
			w.reload()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEvent = time.Now()
	w.mu.Unlock()

	logging.ManifestDebug("%s event for %s", event.Op, event.Name)
	w.debouncer.Trigger()
}

// reload runs on the watch loop, so onChange never overlaps itself or Stop.
func (w *Watcher) reload() {
	resources, err := Load(w.path)
	if err != nil {
		w.mu.Lock()
		w.stats.ReloadErrors++
		w.mu.Unlock()
		logging.ManifestWarn("reload failed, keeping previous manifest: %v", err)
		return
	}

	w.mu.Lock()
	w.stats.Reloads++
	w.mu.Unlock()
	logging.Manifest("reloaded %d resource(s) from %s", len(resources), w.path)
	w.onChange(resources)
}
