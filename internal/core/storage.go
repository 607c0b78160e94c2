package core

import (
	"context"
	"fmt"
	"io"

	"rpgkernel/internal/config"
	"rpgkernel/internal/infra/persistence/bolt"
	"rpgkernel/internal/infra/persistence/memory"
	"rpgkernel/internal/infra/persistence/postgres"
	"rpgkernel/internal/infra/persistence/sqlite"
	"rpgkernel/pkg/domain"
)

// ClosableStore is an entity store holding an external resource.
type ClosableStore interface {
	domain.EntityStore
	io.Closer
}

type nopCloser struct{ domain.EntityStore }

func (nopCloser) Close() error { return nil }

// OpenEntityStore builds the backend named by cfg.StorageDriver:
// memory, sqlite (cfg.SQLitePath), postgres (cfg.PostgresDSN) or bolt
// (cfg.BoltPath).
func OpenEntityStore(ctx context.Context, cfg config.Config) (ClosableStore, error) {
	switch cfg.StorageDriver {
	case "", config.StorageMemory:
		return nopCloser{memory.NewStore()}, nil
	case config.StorageSQLite:
		store, err := sqlite.NewStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return store, nil
	case config.StoragePostgres:
		store, err := postgres.NewStore(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return store, nil
	case config.StorageBolt:
		store, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, fmt.Errorf("open bolt store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.StorageDriver)
	}
}
