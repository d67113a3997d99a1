package catalog

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/vertiqo/entitle/pkg/observability"
)

// Watcher hot-reloads a seed-backed MemorySource when the seed file
// changes on disk. A reload that fails validation keeps the previous
// catalog; a half-applied catalog is never observable.
type Watcher struct {
	path    string
	target  *MemorySource
	logger  *observability.Logger
	watcher *fsnotify.Watcher
	onSwap  func()
	done    chan struct{}
}

// NewWatcher creates a watcher that reloads path into target on change.
// onSwap runs after each successful reload (cache purge hook); may be nil.
func NewWatcher(path string, target *MemorySource, logger *observability.Logger, onSwap func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create seed watcher: %w", err)
	}

	// Watch the directory, not the file: most editors and config
	// management tools replace the file by rename, which drops a
	// file-level watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch seed directory: %w", err)
	}

	return &Watcher{
		path:    path,
		target:  target,
		logger:  logger,
		watcher: fsw,
		onSwap:  onSwap,
		done:    make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events in a background goroutine
func (w *Watcher) Start() {
	go w.loop()
}

// Close stops watching
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	defer observability.RecoverPanic(w.logger, "catalog seed watcher")

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("Seed watcher error")
		}
	}
}

func (w *Watcher) reload() {
	seed, err := LoadSeed(w.path)
	if err != nil {
		w.logger.WithError(err).WithField("path", w.path).Error("Seed reload rejected, keeping previous catalog")
		return
	}

	w.target.Replace(seed.BuildSource())
	if w.onSwap != nil {
		w.onSwap()
	}
	w.logger.WithField("path", w.path).Info("Catalog seed reloaded")
}
