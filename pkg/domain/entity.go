package domain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Entity is an opaque game object (character, monster, item) stored by full
// value. Writes replace the previous value entirely and stores stamp
// UpdatedAt with their own clock on every write.
type Entity struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ErrEntityID is returned when an entity is written without an identifier.
var ErrEntityID = errors.New("entity id required")

// EntityReader is the read half of the entity store. A missing entity is
// reported with ok=false and a nil error.
type EntityReader interface {
	GetEntity(ctx context.Context, id string) (Entity, bool, error)
}

// EntityStore is keyed persistent storage of game entities. It provides no
// transactions and no rollback: every SetEntity is immediately durable and
// visible to whatever runs next.
type EntityStore interface {
	EntityReader
	SetEntity(ctx context.Context, entity Entity) error
	DeleteEntity(ctx context.Context, id string) (bool, error)
	ListEntities(ctx context.Context, kind string) ([]Entity, error)
}

// ValidateEntity checks the fields every backend requires.
func ValidateEntity(e Entity) error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrEntityID
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return fmt.Errorf("entity %s: payload is not valid json", e.ID)
	}
	return nil
}

// CloneEntity returns a copy that shares no memory with e.
func CloneEntity(e Entity) Entity {
	out := e
	if e.Payload != nil {
		out.Payload = append(json.RawMessage(nil), e.Payload...)
	}
	return out
}

// NewEntity encodes value as the payload of a new entity.
func NewEntity[T any](id, kind string, value T) (Entity, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return Entity{}, fmt.Errorf("encode entity %s: %w", id, err)
	}
	return Entity{ID: id, Kind: kind, Payload: payload}, nil
}

// DecodeEntity decodes the payload of e into T.
func DecodeEntity[T any](e Entity) (T, error) {
	var out T
	if len(e.Payload) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(e.Payload, &out); err != nil {
		return out, fmt.Errorf("decode entity %s: %w", e.ID, err)
	}
	return out, nil
}

// LoadEntity reads and decodes an entity. A missing entity returns ok=false.
func LoadEntity[T any](ctx context.Context, r EntityReader, id string) (T, bool, error) {
	var zero T
	if r == nil {
		return zero, false, errors.New("entity store not configured")
	}
	e, ok, err := r.GetEntity(ctx, id)
	if err != nil || !ok {
		return zero, ok, err
	}
	value, err := DecodeEntity[T](e)
	if err != nil {
		return zero, true, err
	}
	return value, true, nil
}

// SaveEntity encodes value and replaces the stored entity.
func SaveEntity[T any](ctx context.Context, s EntityStore, id, kind string, value T) error {
	if s == nil {
		return errors.New("entity store not configured")
	}
	e, err := NewEntity(id, kind, value)
	if err != nil {
		return err
	}
	return s.SetEntity(ctx, e)
}

// EntityExists reports whether id resolves in r. Read errors count as absent.
func EntityExists(ctx context.Context, r EntityReader, id string) bool {
	if r == nil {
		return false
	}
	_, ok, err := r.GetEntity(ctx, id)
	return err == nil && ok
}
