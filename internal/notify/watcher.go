package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/logging"
)

// Watcher consumes event files from a directory and hands each event to a
// callback. Consumed files are deleted.
type Watcher struct {
	dir     string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a watcher for dir.
func NewWatcher(dir string, logger *slog.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default()
	}
	return &Watcher{dir: dir, logger: logger}
}

// Start drains any existing event files, then watches for new ones until
// Stop is called.
func (w *Watcher) Start(callback func(engine.Event)) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("notify: create watcher: %w", err)
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return fmt.Errorf("notify: watch %s: %w", w.dir, err)
	}
	w.watcher = fw
	w.done = make(chan struct{})

	// Registered before draining, so nothing written in between is missed.
	w.drainExisting(callback)

	go w.loop(callback)
	w.logger.Info("watching for change events", "dir", w.dir)
	return nil
}

// Stop shuts down the watcher and waits for the loop to exit.
func (w *Watcher) Stop() {
	if w.watcher == nil {
		return
	}
	_ = w.watcher.Close()
	<-w.done
	w.watcher = nil
}

func (w *Watcher) loop(callback func(engine.Event)) {
	defer close(w.done)
	for {
		select {
		case evt, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Writers rename into place, so Create covers both paths.
			if evt.Op&(fsnotify.Create|fsnotify.Rename) != 0 && isEventFile(evt.Name) {
				w.processFile(evt.Name, callback)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("event watcher error", "error", err)
		}
	}
}

// drainExisting consumes files left from before Start, oldest first.
func (w *Watcher) drainExisting(callback func(engine.Event)) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return
	}
	type pending struct {
		name    string
		modTime time.Time
	}
	var files []pending
	for _, entry := range entries {
		if entry.IsDir() || !isEventFile(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, pending{name: entry.Name(), modTime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if !files[i].modTime.Equal(files[j].modTime) {
			return files[i].modTime.Before(files[j].modTime)
		}
		return files[i].name < files[j].name
	})
	for _, f := range files {
		w.processFile(filepath.Join(w.dir, f.name), callback)
	}
}

// processFile claims path by renaming it away, so a newer event for the same
// memory written meanwhile is left for the next round.
func (w *Watcher) processFile(path string, callback func(engine.Event)) {
	claimed := filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.%d.claimed", filepath.Base(path), os.Getpid()))
	if err := os.Rename(path, claimed); err != nil {
		return // consumed by another watcher
	}
	data, err := os.ReadFile(claimed)
	_ = os.Remove(claimed)
	if err != nil {
		w.logger.Warn("failed to read event file", "file", filepath.Base(path), "error", err)
		return
	}

	var evt engine.Event
	if err := json.Unmarshal(data, &evt); err != nil {
		w.logger.Warn("invalid event file", "file", filepath.Base(path), "error", err)
		return
	}
	if evt.MemoryID != 0 && callback != nil {
		callback(evt)
	}
}

func isEventFile(name string) bool {
	base := filepath.Base(name)
	return strings.HasSuffix(base, fileSuffix) && !strings.HasPrefix(base, ".")
}
