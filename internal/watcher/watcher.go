// Package watcher reports changes to locally opened document files so open
// readers can reload them.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher monitors individual files. Each file is watched through its parent
// directory so editors that save by renaming over the original are seen.
type Watcher struct {
	logger *slog.Logger
	opts   Options
	fs     *fsnotify.Watcher

	mu      sync.Mutex
	files   map[string]int // path -> watch count
	dirs    map[string]int // dir -> watched files inside
	pending map[string]*pendingEvent

	events   chan Event
	errors   chan error
	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// pendingEvent tracks a file that may still be changing
type pendingEvent struct {
	size    int64
	modTime time.Time
	exists  bool
	timer   *time.Timer
}

// New creates a file watcher.
func New(logger *slog.Logger, opts Options) (*Watcher, error) {
	opts.setDefaults()

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	return &Watcher{
		logger:  logger,
		opts:    opts,
		fs:      fs,
		files:   make(map[string]int),
		dirs:    make(map[string]int),
		pending: make(map[string]*pendingEvent),
		events:  make(chan Event, 100),
		errors:  make(chan error, 10),
		done:    make(chan struct{}),
	}, nil
}

// Watch adds a file to be monitored. Watching the same path twice needs two
// Unwatch calls to stop.
func (w *Watcher) Watch(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.files[path]++
	if w.files[path] > 1 {
		return nil
	}

	dir := filepath.Dir(path)
	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			delete(w.files, path)
			return fmt.Errorf("failed to add watch: %w", err)
		}
		w.logger.Debug("added watch", "dir", dir)
	}
	w.dirs[dir]++
	return nil
}

// Unwatch releases one Watch of path.
func (w *Watcher) Unwatch(path string) error {
	path, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	count, ok := w.files[path]
	if !ok {
		return nil
	}
	if count > 1 {
		w.files[path] = count - 1
		return nil
	}

	delete(w.files, path)
	w.cancelPendingLocked(path)

	dir := filepath.Dir(path)
	w.dirs[dir]--
	if w.dirs[dir] > 0 {
		return nil
	}
	delete(w.dirs, dir)
	if err := w.fs.Remove(dir); err != nil {
		return fmt.Errorf("failed to remove watch: %w", err)
	}
	return nil
}

// Watching reports whether path is currently watched.
func (w *Watcher) Watching(path string) bool {
	path, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[path] > 0
}

// Start processes file system events until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errors <- err:
			default:
				w.logger.Warn("dropped watcher error", "error", err)
			}
		}
	}
}

// handle restarts the settle timer for a watched path.
func (w *Watcher) handle(event fsnotify.Event) {
	path := filepath.Clean(event.Name)
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] == 0 {
		return
	}

	pending, ok := w.pending[path]
	if ok {
		pending.timer.Stop()
	} else {
		pending = &pendingEvent{}
		w.pending[path] = pending
	}
	pending.size, pending.modTime, pending.exists = stat(path)
	pending.timer = time.AfterFunc(w.opts.SettleDelay, func() { w.checkSettled(path) })
}

// checkSettled emits once the file stopped changing for a full settle delay.
func (w *Watcher) checkSettled(path string) {
	w.mu.Lock()
	pending, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}

	size, modTime, exists := stat(path)
	if exists != pending.exists || size != pending.size || !modTime.Equal(pending.modTime) {
		// Still changing, restart timer
		pending.size, pending.modTime, pending.exists = size, modTime, exists
		pending.timer = time.AfterFunc(w.opts.SettleDelay, func() { w.checkSettled(path) })
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.mu.Unlock()

	event := Event{Type: EventModified, Path: path, Size: size, ModTime: modTime}
	if !exists {
		event.Type = EventRemoved
	}
	w.logger.Debug("document file changed", "path", path, "type", event.Type.String())

	select {
	case w.events <- event:
	case <-w.done:
	}
}

func (w *Watcher) cancelPendingLocked(path string) {
	if pending, ok := w.pending[path]; ok {
		pending.timer.Stop()
		delete(w.pending, path)
	}
}

func stat(path string) (int64, time.Time, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, time.Time{}, false
	}
	return info.Size(), info.ModTime(), true
}

// Stop stops the watcher and releases resources. It is idempotent.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for _, pending := range w.pending {
			pending.timer.Stop()
		}
		clear(w.pending)
		w.mu.Unlock()

		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

// Events returns the channel for receiving file events
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Errors returns the channel for receiving errors
func (w *Watcher) Errors() <-chan error {
	return w.errors
}
