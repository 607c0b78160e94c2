package core

import (
	"go/types"
	"path/filepath"
	"runtime"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestEntityStoreImplementationsHardening keeps concrete domain.EntityStore
// backends inside internal/infra/persistence. Adding a backend elsewhere
// requires updating the allowed list. Test-only stubs are not loaded.
func TestEntityStoreImplementationsHardening(t *testing.T) {
	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedTypes}
	pkgs, err := packages.Load(cfg, "rpgkernel/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}
	var entityStore *types.Interface
	for _, p := range pkgs {
		if p.PkgPath == "rpgkernel/pkg/domain" {
			obj := p.Types.Scope().Lookup("EntityStore")
			if obj == nil {
				t.Fatalf("domain.EntityStore not found")
			}
			iface, ok := obj.Type().Underlying().(*types.Interface)
			if !ok {
				t.Fatalf("domain.EntityStore is not an interface")
			}
			entityStore = iface
		}
	}
	if entityStore == nil {
		t.Fatalf("failed to resolve EntityStore interface")
	}
	allowed := map[string]struct{}{
		"rpgkernel/internal/infra/persistence/memory":   {},
		"rpgkernel/internal/infra/persistence/sqlite":   {},
		"rpgkernel/internal/infra/persistence/postgres": {},
		"rpgkernel/internal/infra/persistence/bolt":     {},
		"rpgkernel/internal/core":                       {}, // nopCloser wraps the memory store
	}
	var unexpected []string
	for _, p := range pkgs {
		if p.Types == nil {
			continue
		}
		for _, name := range p.Types.Scope().Names() {
			obj := p.Types.Scope().Lookup(name)
			named, ok := obj.Type().(*types.Named)
			if !ok {
				continue
			}
			if _, ok := named.Underlying().(*types.Struct); !ok {
				continue
			}
			if types.Implements(types.NewPointer(named), entityStore) {
				if _, ok := allowed[p.PkgPath]; !ok {
					unexpected = append(unexpected, p.PkgPath+"."+name)
				}
			}
		}
	}
	if len(unexpected) > 0 {
		_, file, line, _ := runtime.Caller(0)
		t.Fatalf("unexpected EntityStore implementations (update the allowed list when adding a backend):\nfile=%s:%d\n%s", filepath.Base(file), line, unexpected)
	}
}
