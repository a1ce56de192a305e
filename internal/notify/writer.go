// Package notify carries memory change events between processes that share a
// data path. The MCP process writes one file per memory, holding its latest
// event; the HTTP server watches the directory and forwards events to its
// websocket clients. The directory never holds more files than there are
// memories, even when nothing consumes it.
package notify

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/logging"
)

const fileSuffix = ".event"

func eventFileName(memoryID int64) string {
	return fmt.Sprintf("memory-%d%s", memoryID, fileSuffix)
}

// Writer writes engine events as files in a shared directory.
type Writer struct {
	dir    string
	logger *slog.Logger
	seq    atomic.Uint64
}

// NewWriter creates a writer that emits events into dir.
func NewWriter(dir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Writer{dir: dir, logger: logger}
}

// Write stores evt as the latest event of its memory, replacing any event
// for that memory not yet consumed. The file is written under a temporary
// name and renamed so watchers never observe a partial payload. Embeddings
// are dropped.
func (w *Writer) Write(evt engine.Event) error {
	if err := os.MkdirAll(w.dir, 0o700); err != nil {
		return fmt.Errorf("notify: mkdir %s: %w", w.dir, err)
	}
	if evt.Memory != nil {
		m := *evt.Memory
		m.Embedding = nil
		evt.Memory = &m
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("notify: encode event: %w", err)
	}

	name := eventFileName(evt.MemoryID)
	tmp := filepath.Join(w.dir, fmt.Sprintf(".%s.%d-%d.tmp", name, os.Getpid(), w.seq.Add(1)))
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("notify: write event: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(w.dir, name)); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("notify: publish event: %w", err)
	}
	return nil
}

// Publish is Write with errors logged, suitable for engine.SetOnChange.
func (w *Writer) Publish(evt engine.Event) {
	if err := w.Write(evt); err != nil {
		w.logger.Warn("failed to write change event", "type", evt.Type, "memory_id", evt.MemoryID, "error", err)
	}
}
