package agim

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileValidProgram(t *testing.T) {
	prog, err := Compile(`
fn add(a: int, b: int) -> int {
	return a + b
}
`)
	require.NoError(t, err)
	require.NotNil(t, prog)
}

func TestCompileRejectsParseError(t *testing.T) {
	_, err := Compile(`fn (`)
	require.Error(t, err)
}

func TestCompileStrictRejectsBadReturnType(t *testing.T) {
	SetStrictTypes(true)
	defer SetStrictTypes(false)

	_, err := Compile(`
fn greet() -> int {
	return "hi"
}
`)
	require.Error(t, err)
}

func TestRunExecutesMain(t *testing.T) {
	err := Run(`
fn main() -> int {
	return 1 + 1
}
`)
	require.NoError(t, err)
}

func TestCompileFileResolvesImports(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "math_utils.agim"), []byte(`
export fn square(x: int) -> int {
	return x * x
}
`), 0o644))

	entry := filepath.Join(dir, "entry.agim")
	require.NoError(t, os.WriteFile(entry, []byte(`
import { square } from "math_utils.agim"

fn main() -> int {
	return square(3)
}
`), 0o644))

	prog, err := CompileFile(entry)
	require.NoError(t, err)
	require.NotNil(t, prog)
}

func TestFreeErrorIsNoop(t *testing.T) {
	require.NotPanics(t, func() { FreeError(nil) })
}
