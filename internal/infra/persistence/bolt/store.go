// Package bolt provides a BoltDB-backed entity store. Unlike the SQL
// stores it has no cache: every read and write is a bbolt transaction.
package bolt

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"

	"rpgkernel/pkg/domain"
)

var _ domain.EntityStore = (*Store)(nil)

const entityBucket = "entities"

// Store persists each entity as a JSON document keyed by ID.
type Store struct {
	db    *bbolt.DB
	nowFn func() time.Time
}

// Open opens a BoltDB-backed store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	db, err := bbolt.Open(filepath.Clean(path), 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}
	store := &Store{db: db, nowFn: func() time.Time { return time.Now().UTC() }}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// GetEntity fetches an entity by ID.
func (s *Store) GetEntity(ctx context.Context, id string) (domain.Entity, bool, error) {
	if err := ctx.Err(); err != nil {
		return domain.Entity{}, false, err
	}
	var (
		entity domain.Entity
		found  bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := entities(tx)
		if err != nil {
			return err
		}
		payload := bucket.Get([]byte(id))
		if payload == nil {
			return nil
		}
		found = true
		if err := json.Unmarshal(payload, &entity); err != nil {
			return fmt.Errorf("unmarshal entity %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return domain.Entity{}, false, err
	}
	return entity, found, nil
}

// SetEntity replaces the stored entity.
func (s *Store) SetEntity(ctx context.Context, entity domain.Entity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := domain.ValidateEntity(entity); err != nil {
		return err
	}
	entity = domain.CloneEntity(entity)
	if len(entity.Payload) == 0 {
		entity.Payload = json.RawMessage("null")
	}
	entity.UpdatedAt = s.nowFn()
	payload, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("marshal entity %s: %w", entity.ID, err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := entities(tx)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(entity.ID), payload)
	})
}

// DeleteEntity removes the entity and reports whether it existed.
func (s *Store) DeleteEntity(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var existed bool
	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := entities(tx)
		if err != nil {
			return err
		}
		existed = bucket.Get([]byte(id)) != nil
		return bucket.Delete([]byte(id))
	})
	return existed, err
}

// ListEntities scans the bucket in key order, keeping entities of kind
// (all when empty).
func (s *Store) ListEntities(ctx context.Context, kind string) ([]domain.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []domain.Entity
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := entities(tx)
		if err != nil {
			return err
		}
		return bucket.ForEach(func(k, v []byte) error {
			var entity domain.Entity
			if err := json.Unmarshal(v, &entity); err != nil {
				return fmt.Errorf("unmarshal entity %s: %w", k, err)
			}
			if kind == "" || entity.Kind == kind {
				out = append(out, entity)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(entityBucket)); err != nil {
			return fmt.Errorf("create entity bucket: %w", err)
		}
		return nil
	})
}

func entities(tx *bbolt.Tx) (*bbolt.Bucket, error) {
	bucket := tx.Bucket([]byte(entityBucket))
	if bucket == nil {
		return nil, fmt.Errorf("entity bucket is missing")
	}
	return bucket, nil
}
