package domain

import (
	"context"
	"errors"
	"testing"
)

type sheet struct {
	Name string `json:"name"`
	HP   int    `json:"hp"`
}

func TestSaveAndLoadEntity(t *testing.T) {
	ctx := context.Background()
	store := newMapStore()
	mustNoError(t, "save", SaveEntity(ctx, store, "hero", "character", sheet{Name: "Aria", HP: 12}))

	got, ok, err := LoadEntity[sheet](ctx, store, "hero")
	mustNoError(t, "load", err)
	if !ok || got.HP != 12 || got.Name != "Aria" {
		t.Fatalf("unexpected entity %+v (found=%v)", got, ok)
	}
	if _, ok, err := LoadEntity[sheet](ctx, store, "ghost"); ok || err != nil {
		t.Fatalf("missing entity must report ok=false without error, got %v %v", ok, err)
	}
	if _, _, err := LoadEntity[sheet](ctx, nil, "hero"); err == nil {
		t.Fatalf("expected error for nil store")
	}
}

func TestValidateEntity(t *testing.T) {
	if err := ValidateEntity(Entity{ID: " "}); !errors.Is(err, ErrEntityID) {
		t.Fatalf("expected ErrEntityID, got %v", err)
	}
	if err := ValidateEntity(Entity{ID: "x", Payload: []byte("{")}); err == nil {
		t.Fatalf("expected invalid payload error")
	}
	if err := ValidateEntity(Entity{ID: "x"}); err != nil {
		t.Fatalf("empty payload is allowed: %v", err)
	}
}

func TestCloneEntityDetachesPayload(t *testing.T) {
	e := Entity{ID: "x", Payload: []byte(`{"hp":1}`)}
	c := CloneEntity(e)
	c.Payload[6] = '9'
	if string(e.Payload) != `{"hp":1}` {
		t.Fatalf("clone shares memory with original")
	}
}

func TestDecodeEntityReportsBadPayload(t *testing.T) {
	if _, err := DecodeEntity[sheet](Entity{ID: "x", Payload: []byte(`{"hp":"many"}`)}); err == nil {
		t.Fatalf("expected decode error")
	}
	v, err := DecodeEntity[sheet](Entity{ID: "x"})
	mustNoError(t, "decode empty", err)
	if v.HP != 0 {
		t.Fatalf("expected zero value")
	}
}
