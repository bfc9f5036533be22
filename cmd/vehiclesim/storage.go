package main

import (
	"fmt"
	"log/slog"

	"github.com/modsync/vehicle/internal/config"
	"github.com/modsync/vehicle/internal/database"
	"github.com/modsync/vehicle/internal/storage"
	gormstorage "github.com/modsync/vehicle/internal/storage/gorm"
	"github.com/modsync/vehicle/internal/storage/memory"
	pgstorage "github.com/modsync/vehicle/internal/storage/postgres"
	sqlitestorage "github.com/modsync/vehicle/internal/storage/sqlite"
	"github.com/rs/zerolog"
)

// createStorageBackend builds the configured backend. It is not
// initialized yet.
func createStorageBackend(cfg config.StorageConfig, log *slog.Logger, zlog zerolog.Logger) (storage.Backend, error) {
	switch cfg.Type {
	case "postgres":
		// The manager falls back to an in-memory SQLite DB when Postgres
		// is unreachable, so snapshots still survive the session.
		dbm := database.NewManager(zlog)
		if err := dbm.Connect(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		log.Info("Postgres storage backend initialized", "fallback", dbm.ShouldSaveLocal)
		return pgstorage.New(gormstorage.Dependencies{DB: dbm.DB, Logger: log}), nil

	case "sqlite":
		backend, err := sqlitestorage.New(cfg.SQLite, log)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite backend: %w", err)
		}
		log.Info("SQLite storage backend initialized", "path", cfg.SQLite.Path)
		return backend, nil

	case "none":
		return nil, nil

	default:
		log.Info("Memory storage backend initialized", "outputDir", cfg.Memory.OutputDir)
		return memory.New(cfg.Memory), nil
	}
}
