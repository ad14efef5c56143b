package scanner

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/calliope-audio/calliope/internal/database"
	"github.com/calliope-audio/calliope/internal/events"
	"github.com/calliope-audio/calliope/internal/logger"
)

// LibraryWatcher watches one library root recursively and reports changed
// directories. Rapid bursts of events are debounced before the callback
// fires; newly created subdirectories are added to the watch set on the
// fly. The callback runs on the watcher's own goroutine and must not block
// for long.
type LibraryWatcher struct {
	library  database.Library
	bus      events.EventBus
	onChange func(dir string)

	watcher *fsnotify.Watcher

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	queue    chan string
	debounce time.Duration
}

// NewLibraryWatcher creates and starts a watcher over the library root.
func NewLibraryWatcher(library database.Library, bus events.EventBus, onChange func(dir string)) (*LibraryWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	w := &LibraryWatcher{
		library:  library,
		bus:      bus,
		onChange: onChange,
		watcher:  watcher,
		ctx:      ctx,
		cancel:   cancel,
		queue:    make(chan string, 1000),
		debounce: 2 * time.Second,
	}

	if err := w.watchRecursive(library.Path); err != nil {
		watcher.Close()
		cancel()
		return nil, err
	}

	w.wg.Add(2)
	go w.watchEvents()
	go w.processChanges()

	w.publishMonitoring()

	logger.Info("Watching library", "library", library.Name, "path", library.Path)
	return w, nil
}

// Stop shuts the watcher down and waits for its goroutines.
func (w *LibraryWatcher) Stop() {
	w.cancel()
	w.watcher.Close()
	w.wg.Wait()
}

// watchRecursive adds the directory and all its subdirectories to the
// watch set. Individual unwatchable directories are skipped.
func (w *LibraryWatcher) watchRecursive(root string) error {
	if err := w.watcher.Add(root); err != nil {
		return fmt.Errorf("failed to watch %s: %w", root, err)
	}

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && path != root {
			if err := w.watcher.Add(path); err != nil {
				logger.Debug("Failed to watch subdirectory", "path", path, "error", err)
			}
		}
		return nil
	})
}

func (w *LibraryWatcher) watchEvents() {
	defer w.wg.Done()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Error("File watcher error", "library", w.library.Name, "error", err)

		case <-w.ctx.Done():
			return
		}
	}
}

func (w *LibraryWatcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	// New subdirectories must join the watch set before their contents
	// produce events of their own.
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.watchRecursive(event.Name); err != nil {
				logger.Error("Failed to watch new directory", "path", event.Name, "error", err)
			}
		}
	}

	dir := filepath.Dir(event.Name)
	if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
		dir = event.Name
	}

	select {
	case w.queue <- dir:
	default:
		logger.Warn("Watch queue full, dropping change", "dir", dir)
	}
}

// processChanges coalesces queued directories and fires the callback once
// per changed directory per debounce window.
func (w *LibraryWatcher) processChanges() {
	defer w.wg.Done()

	pending := make(map[string]struct{})
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case dir := <-w.queue:
			pending[dir] = struct{}{}

		case <-ticker.C:
			if len(pending) > 0 {
				w.notify(pending)
				pending = make(map[string]struct{})
			}

		case <-w.ctx.Done():
			if len(pending) > 0 {
				w.notify(pending)
			}
			return
		}
	}
}

func (w *LibraryWatcher) notify(dirs map[string]struct{}) {
	for dir := range dirs {
		logger.Debug("Library directory changed", "library", w.library.Name, "dir", dir)

		if w.bus != nil {
			event := events.NewScannerEvent(events.EventLibraryDirectoryChanged, "Library directory changed", "")
			event.Data["directory"] = events.DirectoryChangedData{
				LibraryID: w.library.ID,
				Directory: dir,
			}
			if err := w.bus.PublishAsync(event); err != nil {
				logger.Debug("Failed to publish directory change", "error", err)
			}
		}

		if w.onChange != nil {
			w.onChange(dir)
		}
	}
}

func (w *LibraryWatcher) publishMonitoring() {
	if w.bus == nil {
		return
	}
	event := events.NewScannerEvent(events.EventLibraryMonitoring, "Library monitoring started",
		fmt.Sprintf("Watching %s", w.library.Path))
	event.Data["library"] = events.LibraryStatusData{
		LibraryID: w.library.ID,
		Path:      w.library.Path,
		Name:      w.library.Name,
		Status:    string(database.LibraryMonitoring),
	}
	if err := w.bus.PublishAsync(event); err != nil {
		logger.Debug("Failed to publish monitoring event", "error", err)
	}
}
