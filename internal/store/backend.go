package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/agentoven/agentoven/context-plane/internal/config"
)

// OpenBackend opens the backend selected by cfg.Driver.
func OpenBackend(ctx context.Context, cfg config.StorageConfig) (Backend, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryBackend(cfg.SnapshotPath), nil
	case "pebble":
		return NewPebbleBackend(filepath.Join(cfg.DataDir, "pebble"))
	case "sqlite":
		return NewSQLiteBackend(ctx, filepath.Join(cfg.DataDir, "contexts.db"))
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, fmt.Errorf("storage driver postgres requires DATABASE_URL")
		}
		return NewPostgresBackend(ctx, cfg.PostgresURL)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
