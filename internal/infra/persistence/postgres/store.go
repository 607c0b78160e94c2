// Package postgres persists entities to a Postgres table through the pgx
// database/sql driver. Like the sqlite store it serves reads from an
// in-memory copy hydrated on open and writes through to the database.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"rpgkernel/internal/infra/persistence/memory"
	"rpgkernel/pkg/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

// Compile-time contract assertion ensuring the store satisfies the domain interface.
var _ domain.EntityStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/rpgkernel?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a write-through Postgres entity store.
type Store struct {
	cache *memory.Store
	db    *sql.DB
	mu    sync.Mutex
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN), ensures the entities table exists and hydrates the cache.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := ensureEntitiesTable(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	snapshot, err := loadSnapshot(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	cache := memory.NewStore()
	cache.ImportState(snapshot)
	return &Store{cache: cache, db: db}, nil
}

func ensureEntitiesTable(ctx context.Context, db *sql.DB) error {
	ddl := `CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload JSONB NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure entities table: %w", err)
	}
	return nil
}

func loadSnapshot(ctx context.Context, db *sql.DB) (memory.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `SELECT id, kind, payload, updated_at FROM entities`)
	if err != nil {
		return memory.Snapshot{}, fmt.Errorf("select entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	snapshot := memory.Snapshot{Entities: make(map[string]domain.Entity)}
	for rows.Next() {
		var (
			e       domain.Entity
			payload []byte
			updated time.Time
		)
		if err := rows.Scan(&e.ID, &e.Kind, &payload, &updated); err != nil {
			return memory.Snapshot{}, fmt.Errorf("scan entity: %w", err)
		}
		e.Payload = payload
		e.UpdatedAt = updated.UTC()
		snapshot.Entities[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return memory.Snapshot{}, fmt.Errorf("iterate entities: %w", err)
	}
	return snapshot, nil
}

// GetEntity reads from the hydrated cache.
func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, bool, error) {
	return s.cache.GetEntity(ctx, id)
}

// ListEntities reads from the hydrated cache.
func (s *Store) ListEntities(ctx context.Context, kind string) ([]domain.Entity, error) {
	return s.cache.ListEntities(ctx, kind)
}

// SetEntity upserts the row, then updates the cache.
func (s *Store) SetEntity(ctx context.Context, entity domain.Entity) error {
	stamped, err := s.cache.Prepare(entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entities(id,kind,payload,updated_at) VALUES($1,$2,$3,$4) ON CONFLICT(id) DO UPDATE SET kind=EXCLUDED.kind, payload=EXCLUDED.payload, updated_at=EXCLUDED.updated_at`,
		stamped.ID, stamped.Kind, string(stamped.Payload), stamped.UpdatedAt); err != nil {
		return fmt.Errorf("upsert %s: %w", stamped.ID, err)
	}
	s.cache.Put(stamped)
	return nil
}

// DeleteEntity removes the row and the cached copy. Existence is reported
// from the cache, which mirrors the table.
func (s *Store) DeleteEntity(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = $1`, id); err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return s.cache.DeleteEntity(ctx, id)
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
