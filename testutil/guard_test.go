package testutil

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type recordingFatal struct{ msg string }

func (r *recordingFatal) Fatalf(format string, args ...any) { r.msg = fmt.Sprintf(format, args...) }

func writeFile(t *testing.T, path, src string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(src), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestPredicates(t *testing.T) {
	cases := []struct {
		pred func(string) bool
		in   string
		want bool
	}{
		{InternalImportForbidden, "rpgkernel/internal/core", true},
		{InternalImportForbidden, "example.com/some/internal/deep/path", true},
		{InternalImportForbidden, "internal", false},
		{InternalImportForbidden, "notinternal", false},
		{PluginImportForbidden, "rpgkernel/plugins/combat", true},
		{PluginImportForbidden, "rpgkernel/plugins", true},
		{PluginImportForbidden, "rpgkernel/pkg/pluginapi", false},
		{BackendImportForbidden, "database/sql", true},
		{BackendImportForbidden, "github.com/jackc/pgx/v5/stdlib", true},
		{BackendImportForbidden, "github.com/aws/aws-sdk-go-v2/service/s3", true},
		{BackendImportForbidden, "go.etcd.io/bbolt", true},
		{BackendImportForbidden, "net/http/httptest", true},
		{BackendImportForbidden, "net/url", false},
		{BackendImportForbidden, "github.com/expr-lang/expr", false},
		{BackendImportForbidden, "", false},
	}
	for _, c := range cases {
		if got := c.pred(c.in); got != c.want {
			t.Errorf("predicate(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestDirectImportsSkipTestFilesAndSubdirs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "main.go"), "package tmp\nimport (\n\t\"fmt\"\n\talias \"context\"\n)\nvar _ = alias.Background\nfunc X() { fmt.Println(1) }\n")
	writeFile(t, filepath.Join(dir, "main_test.go"), "package tmp\nimport \"database/sql\"\nvar _ sql.DB\n")
	writeFile(t, filepath.Join(dir, "sub", "sub.go"), "package sub\nimport \"database/sql\"\nvar _ sql.DB\n")
	writeFile(t, filepath.Join(dir, "readme.txt"), "import \"database/sql\"")
	AssertNoDirectImports(t, dir, BackendImportForbidden, "flat scan")

	viols, err := directImportViolations(dir, BackendImportForbidden, true)
	if err != nil {
		t.Fatalf("tree scan: %v", err)
	}
	if len(viols) != 1 || viols[0] != "database/sql (in sub/sub.go)" {
		t.Fatalf("unexpected violations %v", viols)
	}
}

func TestTreeScanSkipsFixtureDirs(t *testing.T) {
	dir := t.TempDir()
	for _, skipped := range []string{"testdata", "vendor", "_scratch", ".cache"} {
		writeFile(t, filepath.Join(dir, skipped, "x.go"), "package x\nimport \"rpgkernel/internal/core\"\n")
	}
	writeFile(t, filepath.Join(dir, "ok", "ok.go"), "package ok\nimport \"rpgkernel/pkg/domain\"\n")
	AssertNoDirectImportsTree(t, dir, InternalImportForbidden, "fixtures are skipped")
}

func TestDirectImportErrors(t *testing.T) {
	if _, err := directImportViolations(filepath.Join(t.TempDir(), "missing"), InternalImportForbidden, true); err == nil {
		t.Fatalf("expected error for missing dir")
	}
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bad.go"), "package")
	if _, err := directImportViolations(dir, InternalImportForbidden, false); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestFailureMessages(t *testing.T) {
	rec := &recordingFatal{}
	failIfDirectViolations(rec, "plugins stay public", nil)
	if rec.msg != "" {
		t.Fatalf("no violations must not fail")
	}
	failIfDirectViolations(rec, "plugins stay public", []string{"a (in x.go)", "b (in y.go)"})
	if !strings.Contains(rec.msg, "plugins stay public") || !strings.Contains(rec.msg, "a (in x.go)\nb (in y.go)") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
	rec = &recordingFatal{}
	failIfTransitiveViolations(rec, "no drivers", []string{"go.etcd.io/bbolt"})
	if !strings.Contains(rec.msg, "forbidden transitive dependency detected (no drivers)") {
		t.Fatalf("unexpected message %q", rec.msg)
	}
}

func TestTransitiveDependencyViolations(t *testing.T) {
	orig := goListDeps
	t.Cleanup(func() { goListDeps = orig })

	goListDeps = func(string) ([]byte, error) {
		return []byte("fmt\nrpgkernel/pkg/domain\n\ngo.etcd.io/bbolt\n"), nil
	}
	viols, _, err := transitiveDependencyViolations("./...", BackendImportForbidden)
	if err != nil || len(viols) != 1 || viols[0] != "go.etcd.io/bbolt" {
		t.Fatalf("unexpected violations %v (%v)", viols, err)
	}
	AssertNoTransitiveDependency(t, "./...", PluginImportForbidden, "stubbed listing")

	goListDeps = func(string) ([]byte, error) { return []byte("boom"), errors.New("exit status 1") }
	if _, out, err := transitiveDependencyViolations(".", BackendImportForbidden); err == nil || string(out) != "boom" {
		t.Fatalf("expected go list error, got %v %q", err, out)
	}
}
