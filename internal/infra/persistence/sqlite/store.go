// Package sqlite persists entities to a SQLite file. Reads are served from
// an in-memory copy hydrated on open; every write goes to SQLite first and
// is cached only once it is durable.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"rpgkernel/internal/infra/persistence/memory"
	"rpgkernel/pkg/domain"

	_ "modernc.org/sqlite" // pure go sqlite driver
)

var _ domain.EntityStore = (*Store)(nil)

const defaultPath = "rpgkernel.db"

// Store is a write-through SQLite entity store.
type Store struct {
	cache *memory.Store
	db    *sql.DB
	mu    sync.Mutex
	path  string
}

// NewStore opens (or creates) the database at path and loads every stored
// entity.
func NewStore(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// a single connection serialises writers and keeps ":memory:" databases alive
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS entities (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		payload BLOB NOT NULL,
		updated_at INTEGER NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create entities table: %w", err)
	}
	s := &Store{cache: memory.NewStore(), db: db, path: path}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT id, kind, payload, updated_at FROM entities`)
	if err != nil {
		return fmt.Errorf("select entities: %w", err)
	}
	defer func() { _ = rows.Close() }()
	snapshot := memory.Snapshot{Entities: make(map[string]domain.Entity)}
	for rows.Next() {
		var (
			e       domain.Entity
			payload []byte
			updated int64
		)
		if err := rows.Scan(&e.ID, &e.Kind, &payload, &updated); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		e.Payload = payload
		e.UpdatedAt = time.Unix(0, updated).UTC()
		snapshot.Entities[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate entities: %w", err)
	}
	s.cache.ImportState(snapshot)
	return nil
}

// GetEntity reads from the hydrated cache.
func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, bool, error) {
	return s.cache.GetEntity(ctx, id)
}

// ListEntities reads from the hydrated cache.
func (s *Store) ListEntities(ctx context.Context, kind string) ([]domain.Entity, error) {
	return s.cache.ListEntities(ctx, kind)
}

// SetEntity upserts the entity row, then updates the cache.
func (s *Store) SetEntity(ctx context.Context, entity domain.Entity) error {
	stamped, err := s.cache.Prepare(entity)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO entities(id,kind,payload,updated_at) VALUES(?,?,?,?) ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, payload=excluded.payload, updated_at=excluded.updated_at`,
		stamped.ID, stamped.Kind, []byte(stamped.Payload), stamped.UpdatedAt.UnixNano()); err != nil {
		return fmt.Errorf("upsert %s: %w", stamped.ID, err)
	}
	s.cache.Put(stamped)
	return nil
}

// DeleteEntity removes the row and the cached copy.
func (s *Store) DeleteEntity(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	if _, err := s.cache.DeleteEntity(ctx, id); err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", id, err)
	}
	return n > 0, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }
