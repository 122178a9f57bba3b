package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/parser"
)

func parseOK(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, diag := parser.Parse(src)
	require.Nil(t, diag, "%v", diag)
	return prog
}

func TestCheckAcceptsWellTypedFunction(t *testing.T) {
	prog := parseOK(t, `
fn add(a: int, b: int) -> int {
	return a + b
}
`)
	require.NoError(t, Check(prog))
}

func TestCheckRejectsBadReturnType(t *testing.T) {
	prog := parseOK(t, `
fn greet() -> int {
	return "hi"
}
`)
	err := Check(prog)
	require.Error(t, err)
	var typeErr *TypeError
	require.ErrorAs(t, err, &typeErr)
}

func TestCheckRejectsArityMismatch(t *testing.T) {
	prog := parseOK(t, `
fn add(a: int, b: int) -> int {
	return a + b
}
fn main() -> int {
	return add(1)
}
`)
	require.Error(t, Check(prog))
}

func TestCheckAnyIsUniversallyAssignable(t *testing.T) {
	prog := parseOK(t, `
fn identity(x: any) -> any {
	return x
}
fn caller() -> int {
	return identity(3)
}
`)
	require.NoError(t, Check(prog))
}

func TestCheckNilAssignableToOption(t *testing.T) {
	prog := parseOK(t, `
fn maybe() -> Option<int> {
	return nil
}
`)
	require.NoError(t, Check(prog))
}

func TestCheckRejectsNonBoolWhileCondition(t *testing.T) {
	prog := parseOK(t, `
fn loop() -> void {
	while 3 {
		break
	}
}
`)
	require.Error(t, Check(prog))
}
