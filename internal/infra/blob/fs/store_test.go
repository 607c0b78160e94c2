package fs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"rpgkernel/internal/blob/core"
)

func newTempStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return store
}

func TestStore_PutGetHeadListDelete(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	info, err := store.Put(ctx, "2026/10/exec-1.json", bytes.NewReader([]byte("hello")), core.PutOptions{
		ContentType: "application/json",
		Metadata:    map[string]string{"kind": "attack"},
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Key != "2026/10/exec-1.json" || info.Size != 5 || len(info.ETag) != 64 {
		t.Fatalf("unexpected info %+v", info)
	}
	if _, err := store.Put(ctx, "2026/10/exec-1.json", bytes.NewReader([]byte("x")), core.PutOptions{}); !errors.Is(err, core.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	head, err := store.Head(ctx, "2026/10/exec-1.json")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.ContentType != "application/json" || head.Metadata["kind"] != "attack" || head.ETag != info.ETag {
		t.Fatalf("unexpected head %+v", head)
	}
	_, rc, err := store.Get(ctx, "2026/10/exec-1.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	if err := rc.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("body = %q", body)
	}

	if _, err := store.Put(ctx, "2026/11/exec-2.json", bytes.NewReader([]byte("{}")), core.PutOptions{}); err != nil {
		t.Fatalf("put second: %v", err)
	}
	list, err := store.List(ctx, "2026/10/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].Key != "2026/10/exec-1.json" {
		t.Fatalf("unexpected list %+v", list)
	}
	all, _ := store.List(ctx, "")
	if len(all) != 2 {
		t.Fatalf("expected 2 objects, got %d", len(all))
	}

	existed, err := store.Delete(ctx, "2026/10/exec-1.json")
	if err != nil || !existed {
		t.Fatalf("delete existed=%v err=%v", existed, err)
	}
	if existed, _ := store.Delete(ctx, "2026/10/exec-1.json"); existed {
		t.Fatalf("second delete should report missing")
	}
	if _, err := store.Head(ctx, "2026/10/exec-1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "2026/10/exec-1.json"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound from get, got %v", err)
	}
}

func TestStore_RejectsUnsafeKeys(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	for _, key := range []string{"", "  ", "/abs", "../escape", "a/../../b", "x.meta"} {
		if _, err := store.Put(ctx, key, bytes.NewReader(nil), core.PutOptions{}); !errors.Is(err, core.ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", key, err)
		}
	}
}

func TestStore_LeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "one", bytes.NewReader([]byte("1")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entries, err := os.ReadDir(store.Root())
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	if len(names) != 2 || names[0] != "one" || names[1] != "one.meta" {
		t.Fatalf("unexpected directory contents %v", names)
	}
}

func TestStore_CorruptSidecar(t *testing.T) {
	ctx := context.Background()
	store := newTempStore(t)
	if _, err := store.Put(ctx, "bad", bytes.NewReader([]byte("1")), core.PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := os.WriteFile(filepath.Join(store.Root(), "bad.meta"), []byte("{"), 0o600); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := store.Head(ctx, "bad"); err == nil || errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}
	if _, err := store.List(ctx, ""); err == nil {
		t.Fatalf("expected list to surface decode error")
	}
}

func TestNew_DefaultRoot(t *testing.T) {
	t.Chdir(t.TempDir())
	store, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if store.Root() != defaultRoot {
		t.Fatalf("root = %s", store.Root())
	}
	if _, err := os.Stat(defaultRoot); err != nil {
		t.Fatalf("default root missing: %v", err)
	}
}
