// Package loader resolves and caches imported Agim modules: it turns an
// import path written in one file into a parsed, export-filtered module
// that the compiler can pull declarations from.
package loader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/parser"
)

// Module is a loaded, parsed source file plus its export set.
type Module struct {
	Path     string // cleaned absolute path
	Source   string
	Program  *ast.Program
	Exports  map[string]ast.Decl
	Compiled bool // is_compiled latch: declarations go into the program exactly once
}

// Loader resolves import paths relative to an importing file's directory
// and parses and caches each module by its resolved path. Cycle detection
// lives in Merge, which tracks the chain of modules currently being
// descended into; Load by itself only parses and caches.
type Loader struct {
	mu      sync.Mutex
	modules map[string]*Module
	stack   []string // resolved paths on the current Merge descent

	group singleflight.Group // dedupes concurrent loads of the same resolved path
}

// New returns an empty Loader.
func New() *Loader {
	return &Loader{modules: make(map[string]*Module)}
}

// Resolve computes the on-disk path an import statement in importerDir
// refers to, rejecting absolute paths and any ".." path component.
func Resolve(importerDir, importPath string) (string, error) {
	if filepath.IsAbs(importPath) {
		return "", fmt.Errorf("import path %q must not be absolute", importPath)
	}
	for _, part := range strings.Split(filepath.ToSlash(importPath), "/") {
		if part == ".." {
			return "", fmt.Errorf("import path %q must not contain \"..\"", importPath)
		}
	}
	resolved := filepath.Clean(filepath.Join(importerDir, importPath))
	return resolved, nil
}

// Load resolves importPath relative to importerDir, then parses and caches
// it (a second Load of the same resolved path returns the cached Module).
func (l *Loader) Load(importerDir, importPath string) (*Module, error) {
	resolved, err := Resolve(importerDir, importPath)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if m, ok := l.modules[resolved]; ok {
		l.mu.Unlock()
		return m, nil
	}
	l.mu.Unlock()

	v, err, _ := l.group.Do(resolved, func() (interface{}, error) {
		return l.parseFile(resolved)
	})
	if err != nil {
		return nil, err
	}
	m := v.(*Module)

	l.mu.Lock()
	l.modules[resolved] = m
	l.mu.Unlock()
	return m, nil
}

// Merge splices every module prog imports into prog.Decls in place,
// recursively, replacing each ImportDecl with the imported module's own
// declarations (so a module's unexported helpers are still compiled once,
// even though only its exported names are reachable by a qualified
// reference from outside). dir is the directory prog's source file lives
// in, used to resolve its import paths. A path revisited while still on
// the current descent is a circular import.
func (l *Loader) Merge(dir string, prog *ast.Program) error {
	return l.mergeInto(dir, prog)
}

func (l *Loader) mergeInto(dir string, prog *ast.Program) error {
	var out []ast.Decl
	for _, d := range prog.Decls {
		imp, ok := d.(*ast.ImportDecl)
		if !ok {
			out = append(out, d)
			continue
		}
		resolved, err := Resolve(dir, imp.Path)
		if err != nil {
			return err
		}

		l.mu.Lock()
		onStack := false
		for _, p := range l.stack {
			if p == resolved {
				onStack = true
				break
			}
		}
		l.mu.Unlock()
		if onStack {
			return fmt.Errorf("circular import detected: %s", resolved)
		}

		mod, err := l.Load(dir, imp.Path)
		if err != nil {
			return err
		}
		if err := validateNames(mod, imp.Names); err != nil {
			return err
		}
		if mod.Compiled {
			continue // its declarations are already in the merged tree
		}
		mod.Compiled = true

		l.mu.Lock()
		l.stack = append(l.stack, resolved)
		l.mu.Unlock()

		err = l.mergeInto(filepath.Dir(mod.Path), mod.Program)

		l.mu.Lock()
		l.stack = l.stack[:len(l.stack)-1]
		l.mu.Unlock()

		if err != nil {
			return err
		}
		out = append(out, mod.Program.Decls...)
	}
	prog.Decls = out
	return nil
}

func validateNames(mod *Module, names []string) error {
	if names == nil {
		return nil
	}
	for _, n := range names {
		if _, ok := mod.Exports[n]; !ok {
			return fmt.Errorf("module %s does not export %q", mod.Path, n)
		}
	}
	return nil
}

func (l *Loader) parseFile(resolved string) (*Module, error) {
	src, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading module %s: %w", resolved, err)
	}
	prog, diag := parser.Parse(string(src))
	if diag != nil {
		return nil, fmt.Errorf("%s: %s", resolved, diag.Error())
	}
	return &Module{
		Path:    resolved,
		Source:  string(src),
		Program: prog,
		Exports: exportsOf(prog),
	}, nil
}

// exportsOf computes a module's export set: explicitly exported
// declarations, or, if the file declares no `export` at all, every
// top-level fn and tool declaration.
func exportsOf(prog *ast.Program) map[string]ast.Decl {
	exports := make(map[string]ast.Decl)
	anyExplicit := false
	for _, d := range prog.Decls {
		if declExported(d) {
			anyExplicit = true
			break
		}
	}
	for _, d := range prog.Decls {
		name, ok := declName(d)
		if !ok {
			continue
		}
		if anyExplicit {
			if declExported(d) {
				exports[name] = d
			}
			continue
		}
		if fd, ok := d.(*ast.FuncDecl); ok {
			exports[name] = fd
		}
	}
	return exports
}

func declExported(d ast.Decl) bool {
	switch v := d.(type) {
	case *ast.FuncDecl:
		return v.Exported
	case *ast.LetDecl:
		return v.Exported
	case *ast.StructDecl:
		return v.Exported
	case *ast.EnumDecl:
		return v.Exported
	default:
		return false
	}
}

func declName(d ast.Decl) (string, bool) {
	switch v := d.(type) {
	case *ast.FuncDecl:
		return v.Name, true
	case *ast.LetDecl:
		return v.Name, true
	case *ast.StructDecl:
		return v.Name, true
	case *ast.EnumDecl:
		return v.Name, true
	case *ast.AliasDecl:
		return v.Name, true
	default:
		return "", false
	}
}
