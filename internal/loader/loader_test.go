package loader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/parser"
)

func writeModule(t *testing.T, dir, name, src string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(src), 0o644))
}

func TestResolveRejectsAbsoluteAndDotDot(t *testing.T) {
	_, err := Resolve("/app", "/etc/passwd")
	require.Error(t, err)

	_, err = Resolve("/app", "../secret")
	require.Error(t, err)

	_, err = Resolve("/app", "sub/../../escape")
	require.Error(t, err)

	p, err := Resolve("/app", "./utils")
	require.NoError(t, err)
	require.Equal(t, "/app/utils", p)
}

func TestLoadCachesByResolvedPath(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "utils.agim", "fn helper() { return 1 }")

	l := New()
	m1, err := l.Load(dir, "./utils.agim")
	require.NoError(t, err)
	m2, err := l.Load(dir, "utils.agim")
	require.NoError(t, err)
	require.Same(t, m1, m2)
}

func TestMergeDetectsCircularImport(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "a.agim", `import "b.agim"
fn fromA() { return 1 }`)
	writeModule(t, dir, "b.agim", `import "a.agim"
fn fromB() { return 2 }`)

	entry, diag := parser.Parse(`import "a.agim"`)
	require.Nil(t, diag)

	l := New()
	err := l.Merge(dir, entry)
	require.Error(t, err)
	require.Contains(t, err.Error(), "circular import")
}

func TestExportsOfFallsBackToAllFunctions(t *testing.T) {
	prog, diag := parser.Parse(`
fn add(a, b) { return a + b }
fn sub(a, b) { return a - b }
let hidden = 1
`)
	require.Nil(t, diag)
	exports := exportsOf(prog)
	require.Contains(t, exports, "add")
	require.Contains(t, exports, "sub")
	require.NotContains(t, exports, "hidden")
}

func TestExportsOfHonorsExplicitExport(t *testing.T) {
	prog, diag := parser.Parse(`
export fn add(a, b) { return a + b }
fn internalHelper() { return 0 }
`)
	require.Nil(t, diag)
	exports := exportsOf(prog)
	require.Contains(t, exports, "add")
	require.NotContains(t, exports, "internalHelper")
}

func TestMergeSplicesImportedDeclarations(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "math_utils.agim", "export fn square(x) { return x * x }")

	entry, diag := parser.Parse(`
import { square } from "math_utils.agim"
fn main() { return square(3) }
`)
	require.Nil(t, diag)

	l := New()
	require.NoError(t, l.Merge(dir, entry))

	var names []string
	for _, d := range entry.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok {
			names = append(names, fd.Name)
		}
	}
	require.Contains(t, names, "square")
	require.Contains(t, names, "main")
}

func TestMergeRejectsUnknownImportedName(t *testing.T) {
	dir := t.TempDir()
	writeModule(t, dir, "utils.agim", "fn helper() { return 1 }")

	entry, diag := parser.Parse(`import { nope } from "utils.agim"`)
	require.Nil(t, diag)

	l := New()
	err := l.Merge(dir, entry)
	require.Error(t, err)
}
