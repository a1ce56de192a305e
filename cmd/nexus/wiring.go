package main

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/m-mizutani/goerr/v2"

	"github.com/scrypster/nexus/internal/backup"
	"github.com/scrypster/nexus/internal/config"
	"github.com/scrypster/nexus/internal/embedding"
	"github.com/scrypster/nexus/internal/engine"
	"github.com/scrypster/nexus/internal/retrieval"
	"github.com/scrypster/nexus/internal/storage"
	"github.com/scrypster/nexus/internal/storage/postgres"
	"github.com/scrypster/nexus/internal/storage/sqlite"
)

// databaseFile is created inside storage.data_path for the sqlite engine.
const databaseFile = "nexus.db"

// openStore opens the configured storage engine.
func openStore(cfg *config.Config, logger *slog.Logger) (storage.MemoryStore, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		store, err := postgres.NewMemoryStore(cfg.Storage.PostgresDSN, logger)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open postgres store")
		}
		logger.Info("storage ready", "engine", "postgres", "pgvector", store.PgvectorAvailable())
		return store, nil

	default:
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o750); err != nil {
			return nil, goerr.Wrap(err, "failed to create data directory", goerr.V("path", cfg.Storage.DataPath))
		}
		path := filepath.Join(cfg.Storage.DataPath, databaseFile)
		store, err := sqlite.NewMemoryStore(path)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to open sqlite store", goerr.V("path", path))
		}
		logger.Info("storage ready", "engine", "sqlite", "path", path)
		return store, nil
	}
}

// newEngine assembles store, embedder and engine from cfg.
func newEngine(cfg *config.Config, logger *slog.Logger) (*engine.MemoryEngine, error) {
	store, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}
	return newEngineWithStore(cfg, store, logger)
}

// newEngineWithStore builds the embedder and engine over an open store. The
// store is closed on failure.
func newEngineWithStore(cfg *config.Config, store storage.MemoryStore, logger *slog.Logger) (*engine.MemoryEngine, error) {
	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		_ = store.Close()
		return nil, goerr.Wrap(err, "failed to create embedder", goerr.V("provider", cfg.Embedding.Provider))
	}

	engCfg := engine.Config{
		DefaultTopK:     cfg.Search.DefaultTopK,
		MaxTopK:         cfg.Search.MaxTopK,
		ReembedOnUpdate: cfg.Search.ReembedOnUpdate,
		SearchTimeout:   cfg.Search.Timeout,
	}
	guard := retrieval.NewDimensionGuard(embedder, cfg.Embedding.Dimension)
	eng, err := engine.NewMemoryEngine(store, guard, engCfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, goerr.Wrap(err, "failed to create memory engine")
	}
	return eng, nil
}

// newBackupService returns a snapshot service when store is backed by SQLite,
// or nil otherwise.
func newBackupService(cfg *config.Config, store storage.MemoryStore, logger *slog.Logger) (*backup.Service, error) {
	sq, ok := store.(*sqlite.MemoryStore)
	if !ok {
		return nil, nil
	}
	svc, err := backup.NewService(sq.GetDB(), backup.Config{
		Dir:      cfg.BackupDir(),
		Interval: cfg.Backup.Interval,
		Keep:     cfg.Backup.Keep,
		Verify:   cfg.Backup.Verify,
		Logger:   logger,
	})
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create backup service", goerr.V("dir", cfg.BackupDir()))
	}
	return svc, nil
}
