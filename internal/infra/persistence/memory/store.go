// Package memory provides an in-memory entity store used for tests,
// ephemeral sessions and as the read cache of the SQL-backed stores.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"rpgkernel/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain store interface.
var _ domain.EntityStore = (*Store)(nil)

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Entities map[string]domain.Entity `json:"entities"`
}

// Store keeps entities in a map guarded by a read/write mutex. Every write is
// visible to the next read; there is no transaction or rollback.
type Store struct {
	mu       sync.RWMutex
	entities map[string]domain.Entity
	nowFn    func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithNow overrides the clock used to stamp UpdatedAt.
func WithNow(fn func() time.Time) Option {
	return func(s *Store) {
		if fn != nil {
			s.nowFn = fn
		}
	}
}

// NewStore constructs an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entities: make(map[string]domain.Entity),
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetEntity returns a copy of the stored entity.
func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entity{}, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return domain.Entity{}, false, nil
	}
	return domain.CloneEntity(e), true, nil
}

// SetEntity replaces the stored value of the entity.
func (s *Store) SetEntity(ctx context.Context, entity domain.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stamped, err := s.Prepare(entity)
	if err != nil {
		return err
	}
	s.Put(stamped)
	return nil
}

// Prepare validates entity and stamps UpdatedAt without storing it, replacing
// any UpdatedAt the caller carried. Wrapping stores use it to persist the
// exact value they later cache with Put.
func (s *Store) Prepare(entity domain.Entity) (domain.Entity, error) {
	if err := domain.ValidateEntity(entity); err != nil {
		return domain.Entity{}, err
	}
	out := domain.CloneEntity(entity)
	if len(out.Payload) == 0 {
		out.Payload = []byte("null")
	}
	out.UpdatedAt = s.NowFunc()()
	return out, nil
}

// Put stores an already validated entity.
func (s *Store) Put(entity domain.Entity) {
	s.mu.Lock()
	s.entities[entity.ID] = domain.CloneEntity(entity)
	s.mu.Unlock()
}

// DeleteEntity removes the entity and reports whether it existed.
func (s *Store) DeleteEntity(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entities[id]
	delete(s.entities, id)
	return ok, nil
}

// ListEntities returns entities of the given kind (all kinds when empty)
// sorted by ID.
func (s *Store) ListEntities(ctx context.Context, kind string) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	out := make([]domain.Entity, 0, len(s.entities))
	for _, e := range s.entities {
		if kind != "" && e.Kind != kind {
			continue
		}
		out = append(out, domain.CloneEntity(e))
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Len returns the number of stored entities.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

// ExportState returns a deep copy of the store contents.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := Snapshot{Entities: make(map[string]domain.Entity, len(s.entities))}
	for id, e := range s.entities {
		out.Entities[id] = domain.CloneEntity(e)
	}
	return out
}

// ImportState replaces the store state with the provided snapshot. Entries
// that fail validation are dropped.
func (s *Store) ImportState(snapshot Snapshot) {
	next := make(map[string]domain.Entity, len(snapshot.Entities))
	for id, e := range snapshot.Entities {
		if e.ID == "" {
			e.ID = id
		}
		if domain.ValidateEntity(e) != nil {
			continue
		}
		next[e.ID] = domain.CloneEntity(e)
	}
	s.mu.Lock()
	s.entities = next
	s.mu.Unlock()
}

// NowFunc returns the time provider used by the store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}
