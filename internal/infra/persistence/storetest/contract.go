// Package storetest holds the behaviour every domain.EntityStore backend
// must share. Backend packages run it from their own tests.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"rpgkernel/pkg/domain"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) domain.EntityStore

// RunContract exercises the entity store contract against the backend built
// by factory.
func RunContract(t *testing.T, factory Factory) {
	t.Helper()

	t.Run("missing entity", func(t *testing.T) {
		store := factory(t)
		_, ok, err := store.GetEntity(context.Background(), "nobody")
		if err != nil || ok {
			t.Fatalf("expected ok=false without error, got ok=%v err=%v", ok, err)
		}
	})

	t.Run("set replaces value", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		mustSet(t, store, domain.Entity{ID: "hero", Kind: "character", Payload: json.RawMessage(`{"hp":10}`)})
		mustSet(t, store, domain.Entity{ID: "hero", Kind: "character", Payload: json.RawMessage(`{"hp":4}`)})
		got, ok, err := store.GetEntity(ctx, "hero")
		if err != nil || !ok {
			t.Fatalf("get hero: ok=%v err=%v", ok, err)
		}
		var sheet struct {
			HP int `json:"hp"`
		}
		if err := json.Unmarshal(got.Payload, &sheet); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if sheet.HP != 4 || got.Kind != "character" {
			t.Fatalf("expected replaced value, got %+v", got)
		}
		if got.UpdatedAt.IsZero() {
			t.Fatalf("expected UpdatedAt to be stamped")
		}
	})

	t.Run("returned values are copies", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		payload := json.RawMessage(`{"hp":10}`)
		mustSet(t, store, domain.Entity{ID: "hero", Kind: "character", Payload: payload})
		payload[6] = '9'
		got, _, err := store.GetEntity(ctx, "hero")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		got.Payload[6] = '7'
		again, _, err := store.GetEntity(ctx, "hero")
		if err != nil {
			t.Fatalf("get again: %v", err)
		}
		if string(again.Payload) != `{"hp":10}` {
			t.Fatalf("store shares memory with callers: %s", again.Payload)
		}
	})

	t.Run("rejects invalid entities", func(t *testing.T) {
		store := factory(t)
		if err := store.SetEntity(context.Background(), domain.Entity{ID: ""}); !errors.Is(err, domain.ErrEntityID) {
			t.Fatalf("expected ErrEntityID, got %v", err)
		}
		if err := store.SetEntity(context.Background(), domain.Entity{ID: "x", Payload: json.RawMessage(`{`)}); err == nil {
			t.Fatalf("expected invalid payload error")
		}
	})

	t.Run("delete", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		mustSet(t, store, domain.Entity{ID: "goblin", Kind: "monster", Payload: json.RawMessage(`{}`)})
		removed, err := store.DeleteEntity(ctx, "goblin")
		if err != nil || !removed {
			t.Fatalf("expected removal, got %v %v", removed, err)
		}
		removed, err = store.DeleteEntity(ctx, "goblin")
		if err != nil || removed {
			t.Fatalf("second delete should report false, got %v %v", removed, err)
		}
		if _, ok, _ := store.GetEntity(ctx, "goblin"); ok {
			t.Fatalf("deleted entity still visible")
		}
	})

	t.Run("list by kind", func(t *testing.T) {
		store := factory(t)
		ctx := context.Background()
		mustSet(t, store, domain.Entity{ID: "orc", Kind: "monster", Payload: json.RawMessage(`{}`)})
		mustSet(t, store, domain.Entity{ID: "hero", Kind: "character", Payload: json.RawMessage(`{}`)})
		mustSet(t, store, domain.Entity{ID: "bat", Kind: "monster", Payload: json.RawMessage(`{}`)})
		monsters, err := store.ListEntities(ctx, "monster")
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		if len(monsters) != 2 || monsters[0].ID != "bat" || monsters[1].ID != "orc" {
			t.Fatalf("expected [bat orc], got %+v", monsters)
		}
		all, err := store.ListEntities(ctx, "")
		if err != nil || len(all) != 3 {
			t.Fatalf("expected 3 entities, got %d (%v)", len(all), err)
		}
	})
}

func mustSet(t *testing.T, store domain.EntityStore, e domain.Entity) {
	t.Helper()
	if err := store.SetEntity(context.Background(), e); err != nil {
		t.Fatalf("set %s: %v", e.ID, err)
	}
}
