package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher notifies the gateway when its config file changes on disk,
// so edits and the setup-mode write-back take effect without a restart.
type Watcher struct {
	fs      *fsnotify.Watcher
	mu      sync.RWMutex
	onEvent []func(string)
	done    chan struct{}
	logger  *slog.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger for the watcher.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher creates a config file watcher.
func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		fs:     fs,
		done:   make(chan struct{}),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch registers a config file. The parent directory is watched rather
// than the file itself, so editor save-via-rename still reports.
func (w *Watcher) Watch(path string) error {
	dir := filepath.Dir(path)
	if err := w.fs.Add(dir); err != nil {
		w.logger.Error("watch config directory failed", "dir", dir, "error", err)
		return err
	}
	w.logger.Debug("watching config directory", "dir", dir, "file", filepath.Base(path))
	return nil
}

// OnChange registers a callback for file changes. The callback receives
// the path reported by the filesystem.
func (w *Watcher) OnChange(fn func(string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onEvent = append(w.onEvent, fn)
}

// Start consumes filesystem events until Stop is called. Writes and
// creates fire the callbacks; everything else (chmod, remove) is noise
// for a config file and is ignored.
func (w *Watcher) Start() {
	w.logger.Info("config watcher started")

	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) {
				w.logger.Debug("config file changed", "file", ev.Name, "op", ev.Op.String())
				w.notify(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		case <-w.done:
			return
		}
	}
}

// StartAsync runs Start on its own goroutine.
func (w *Watcher) StartAsync() {
	go w.Start()
}

// Stop ends the event loop and releases the filesystem watch.
func (w *Watcher) Stop() error {
	close(w.done)
	if err := w.fs.Close(); err != nil {
		w.logger.Error("close config watcher failed", "error", err)
		return err
	}
	w.logger.Info("config watcher stopped")
	return nil
}

func (w *Watcher) notify(path string) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, fn := range w.onEvent {
		fn(path)
	}
}
