// Package backup takes consistent snapshots of the SQLite memory database
// with integrity verification and count-based retention.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/scrypster/nexus/internal/logging"
)

const (
	filePrefix = "nexus-"
	fileSuffix = ".db"
	timeLayout = "20060102-150405.000000"
)

// Config holds snapshot settings.
type Config struct {
	// Dir is where snapshots are written. Required.
	Dir string

	// Interval is the period used by Run (default: 1h).
	Interval time.Duration

	// Keep is the number of newest snapshots retained (default: 24).
	Keep int

	// Verify runs PRAGMA integrity_check on every snapshot.
	Verify bool

	Logger *slog.Logger
}

// Result describes a finished snapshot.
type Result struct {
	Path     string
	Size     int64
	Duration time.Duration
	Verified bool
	Pruned   int
}

// Info describes a snapshot on disk.
type Info struct {
	Path      string
	CreatedAt time.Time
	Size      int64
}

// Service snapshots a live database handle.
type Service struct {
	db     *sql.DB
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	mu   sync.Mutex
	last time.Time
}

// NewService creates a Service for db, creating cfg.Dir if needed.
func NewService(db *sql.DB, cfg Config) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database handle is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("backup directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.Keep <= 0 {
		cfg.Keep = 24
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	return &Service{
		db:     db,
		cfg:    cfg,
		logger: cfg.Logger,
		now:    time.Now,
	}, nil
}

// Snapshot writes a point-in-time copy of the database with VACUUM INTO,
// optionally verifies it, then prunes old snapshots. Pruning failures are
// logged, not returned.
func (s *Service) Snapshot(ctx context.Context) (*Result, error) {
	start := time.Now()
	path := filepath.Join(s.cfg.Dir, filePrefix+s.now().UTC().Format(timeLayout)+fileSuffix)

	// VACUUM INTO takes a literal, not a bound parameter.
	quoted := strings.ReplaceAll(path, "'", "''")
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO '"+quoted+"'"); err != nil {
		return nil, fmt.Errorf("failed to snapshot database: %w", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat snapshot: %w", err)
	}
	result := &Result{Path: path, Size: info.Size()}

	if s.cfg.Verify {
		if err := Verify(ctx, path); err != nil {
			return result, err
		}
		result.Verified = true
	}

	s.mu.Lock()
	s.last = s.now()
	s.mu.Unlock()

	pruned, err := prune(s.cfg.Dir, s.cfg.Keep)
	if err != nil {
		s.logger.Warn("failed to prune snapshots", "dir", s.cfg.Dir, "error", err)
	}
	result.Pruned = pruned
	result.Duration = time.Since(start)

	s.logger.Info("database snapshot written",
		"path", result.Path, "bytes", result.Size, "verified", result.Verified,
		"pruned", result.Pruned, "duration", result.Duration)
	return result, nil
}

// Run snapshots every cfg.Interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.logger.Info("backup schedule started", "interval", s.cfg.Interval, "dir", s.cfg.Dir, "keep", s.cfg.Keep)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Snapshot(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("scheduled snapshot failed", "error", err)
			}
		}
	}
}

// LastSnapshot returns when the last successful snapshot finished.
func (s *Service) LastSnapshot() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// List returns the snapshots in the service directory, newest first.
func (s *Service) List() ([]Info, error) {
	return list(s.cfg.Dir)
}

// Verify opens path read-only and runs PRAGMA integrity_check.
func Verify(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("failed to run integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

// list reads snapshot files and orders them by the timestamp in their name.
func list(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var out []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		created, err := time.Parse(timeLayout, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
		if err != nil {
			continue // not ours
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{Path: filepath.Join(dir, name), CreatedAt: created, Size: fi.Size()})
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// prune removes all but the newest keep snapshots.
func prune(dir string, keep int) (int, error) {
	snapshots, err := list(dir)
	if err != nil {
		return 0, err
	}
	if len(snapshots) <= keep {
		return 0, nil
	}

	var (
		removed int
		lastErr error
	)
	for _, snap := range snapshots[keep:] {
		if err := os.Remove(snap.Path); err != nil {
			lastErr = err
			continue
		}
		removed++
	}
	if lastErr != nil {
		return removed, fmt.Errorf("failed to delete some snapshots: %w", lastErr)
	}
	return removed, nil
}
