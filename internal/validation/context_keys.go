// Package validation statically checks the context key discipline of rule
// code: keys are defined once, through the typed constructors, with
// well-formed names, and never addressed by raw string.
package validation

import (
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"rpgkernel/pkg/domain"
)

// Error is one violation found in source code.
type Error struct {
	File    string
	Line    int
	Message string
	Code    string
}

func (e Error) String() string {
	return fmt.Sprintf("%s:%d: %s", e.File, e.Line, e.Message)
}

// keyShaped matches literals that look like context key names, malformed
// ones included, so that stray references are caught.
var keyShaped = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*:[A-Za-z][A-Za-z0-9_]*:[A-Za-z][A-Za-z0-9_]*$`)

// definers maps key constructor names to the index of their name argument.
var definers = map[string]int{
	"NewKey":        0,
	"DefineKey":     1,
	"MustDefineKey": 1,
}

type keyDefinition struct {
	file string
	line int
}

// ValidateContextKeys walks the Go sources under each dir (relative to root)
// and reports key-shaped string literals outside a key definition, key
// definitions whose name is not a well-formed literal, and key names defined
// in more than one place. Test files and directories named testdata, vendor
// or starting with "_" or "." are skipped.
func ValidateContextKeys(root string, dirs []string) ([]Error, error) {
	if len(dirs) == 0 {
		return nil, errors.New("no directories provided for context key validation")
	}
	baseAbs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	definitions := make(map[string][]keyDefinition)
	var violations []Error

	for _, dir := range dirs {
		dir = strings.TrimSpace(dir)
		if dir == "" {
			continue
		}
		dirPath := dir
		if !filepath.IsAbs(dirPath) {
			dirPath = filepath.Join(baseAbs, dirPath)
		}
		info, err := os.Stat(dirPath)
		if err != nil {
			return nil, fmt.Errorf("stat dir %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("%s is not a directory", dir)
		}
		err = filepath.WalkDir(dirPath, func(path string, entry fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if entry.IsDir() {
				if path != dirPath && skipDir(entry.Name()) {
					return filepath.SkipDir
				}
				return nil
			}
			if !strings.HasSuffix(path, ".go") || strings.HasSuffix(path, "_test.go") {
				return nil
			}
			rel, err := filepath.Rel(baseAbs, path)
			if err != nil {
				return err
			}
			found, defs, err := checkFile(path, normalizePath(rel))
			if err != nil {
				return err
			}
			violations = append(violations, found...)
			for name, def := range defs {
				definitions[name] = append(definitions[name], def...)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	violations = append(violations, duplicateDefinitions(definitions)...)
	sort.SliceStable(violations, func(i, j int) bool {
		if violations[i].File != violations[j].File {
			return violations[i].File < violations[j].File
		}
		return violations[i].Line < violations[j].Line
	})
	return violations, nil
}

func skipDir(name string) bool {
	return name == "testdata" || name == "vendor" || strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

func checkFile(path, rel string) ([]Error, map[string][]keyDefinition, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, nil, 0)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", rel, err)
	}
	var violations []Error
	defs := make(map[string][]keyDefinition)
	// literals consumed as the name argument of a definition
	consumed := make(map[*ast.BasicLit]bool)

	ast.Inspect(file, func(n ast.Node) bool {
		if constructorBody(n) {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		idx, ok := definerArg(call)
		if !ok || idx >= len(call.Args) {
			return true
		}
		line := fset.Position(call.Pos()).Line
		lit, ok := call.Args[idx].(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			violations = append(violations, Error{
				File:    rel,
				Line:    line,
				Message: "context key name must be a string literal",
				Code:    exprString(call.Args[idx]),
			})
			return true
		}
		consumed[lit] = true
		name, err := strconv.Unquote(lit.Value)
		if err != nil {
			return true
		}
		if !domain.ValidKeyName(name) {
			violations = append(violations, Error{
				File:    rel,
				Line:    line,
				Message: "context key name must match domain:feature:aspect",
				Code:    name,
			})
			return true
		}
		defs[name] = append(defs[name], keyDefinition{file: rel, line: line})
		return true
	})

	ast.Inspect(file, func(n ast.Node) bool {
		if constructorBody(n) {
			return false
		}
		lit, ok := n.(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING || consumed[lit] {
			return true
		}
		value, err := strconv.Unquote(lit.Value)
		if err != nil || !keyShaped.MatchString(value) {
			return true
		}
		violations = append(violations, Error{
			File:    rel,
			Line:    fset.Position(lit.Pos()).Line,
			Message: "raw context key literal; use the Key defined for it",
			Code:    value,
		})
		return true
	})
	return violations, defs, nil
}

// constructorBody reports whether n declares one of the key constructors,
// whose bodies forward a name parameter.
func constructorBody(n ast.Node) bool {
	fn, ok := n.(*ast.FuncDecl)
	if !ok {
		return false
	}
	_, ok = definers[fn.Name.Name]
	return ok
}

// definerArg reports whether call invokes a key constructor with an explicit
// type argument and returns the index of its name argument.
func definerArg(call *ast.CallExpr) (int, bool) {
	var fun ast.Expr
	switch node := call.Fun.(type) {
	case *ast.IndexExpr:
		fun = node.X
	case *ast.IndexListExpr:
		fun = node.X
	default:
		return 0, false
	}
	var name string
	switch node := fun.(type) {
	case *ast.Ident:
		name = node.Name
	case *ast.SelectorExpr:
		name = node.Sel.Name
	default:
		return 0, false
	}
	idx, ok := definers[name]
	return idx, ok
}

func duplicateDefinitions(definitions map[string][]keyDefinition) []Error {
	var violations []Error
	for name, defs := range definitions {
		if len(defs) < 2 {
			continue
		}
		first := defs[0]
		for _, dup := range defs[1:] {
			violations = append(violations, Error{
				File:    dup.file,
				Line:    dup.line,
				Message: fmt.Sprintf("context key %s already defined at %s:%d", name, first.file, first.line),
				Code:    name,
			})
		}
	}
	return violations
}

func exprString(expr ast.Expr) string {
	switch node := expr.(type) {
	case *ast.Ident:
		return node.Name
	case *ast.SelectorExpr:
		return exprString(node.X) + "." + node.Sel.Name
	case *ast.BinaryExpr:
		return exprString(node.X) + " " + node.Op.String() + " " + exprString(node.Y)
	case *ast.BasicLit:
		return node.Value
	case *ast.CallExpr:
		return exprString(node.Fun) + "(...)"
	}
	return fmt.Sprintf("%T", expr)
}

func normalizePath(p string) string {
	cleaned := filepath.ToSlash(filepath.Clean(strings.TrimSpace(p)))
	return strings.TrimPrefix(cleaned, "./")
}
