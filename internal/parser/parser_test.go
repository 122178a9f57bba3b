package parser_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/parser"
)

func TestParseBasics(t *testing.T) {
	prog, diag := parser.Parse("let x = 2 + 3 * 4\nx")
	require.Nil(t, diag)
	require.Len(t, prog.Decls, 2)
	let, ok := prog.Decls[0].(*ast.LetDecl)
	require.True(t, ok)
	assert.Equal(t, "x", let.Name)
	bin, ok := let.Value.(*ast.BinaryExpr)
	require.True(t, ok)
	assert.Equal(t, "+", bin.Op)
}

func TestParseIfAsExpression(t *testing.T) {
	prog, diag := parser.Parse("let r = if true { 1 } else { 0 }")
	require.Nil(t, diag)
	let := prog.Decls[0].(*ast.LetDecl)
	ifx, ok := let.Value.(*ast.IfExpr)
	require.True(t, ok)
	assert.NotNil(t, ifx.Then)
	assert.NotNil(t, ifx.Else)
}

func TestParseIfConditionDoesNotEatStructLit(t *testing.T) {
	_, diag := parser.Parse("fn f() { if true { return 1 } return 0 }")
	require.Nil(t, diag)
}

func TestParseStructInitRequiresUppercase(t *testing.T) {
	prog, diag := parser.Parse("let p = Point{x: 1, y: 2}")
	require.Nil(t, diag)
	let := prog.Decls[0].(*ast.LetDecl)
	si, ok := let.Value.(*ast.StructInitExpr)
	require.True(t, ok)
	assert.Equal(t, "Point", si.Type)
	assert.Len(t, si.Fields, 2)
}

func TestParseEnumConstruct(t *testing.T) {
	prog, diag := parser.Parse("let c = Color::Red")
	require.Nil(t, diag)
	let := prog.Decls[0].(*ast.LetDecl)
	ec, ok := let.Value.(*ast.EnumConstructExpr)
	require.True(t, ok)
	assert.Equal(t, "Color", ec.Type)
	assert.Equal(t, "Red", ec.Variant)
	assert.Nil(t, ec.Payload)
}

func TestParseMatchResult(t *testing.T) {
	prog, diag := parser.Parse(`let r = match ok(42){ ok(x)=>x err(e)=>0 }`)
	require.Nil(t, diag)
	let := prog.Decls[0].(*ast.LetDecl)
	m, ok := let.Value.(*ast.MatchExpr)
	require.True(t, ok)
	assert.Len(t, m.Arms, 2)
}

func TestParseMatchResultMissingArmIsError(t *testing.T) {
	_, diag := parser.Parse(`let r = match ok(42){ ok(x)=>x }`)
	require.NotNil(t, diag)
}

func TestParseMixedArmKindsIsError(t *testing.T) {
	_, diag := parser.Parse(`let r = match x { ok(v)=>v Red=>1 }`)
	require.NotNil(t, diag)
}

func TestParseBareReturn(t *testing.T) {
	prog, diag := parser.Parse("fn f() { return }")
	require.Nil(t, diag)
	fn := prog.Decls[0].(*ast.FuncDecl)
	ret := fn.Body[0].(*ast.ReturnStmt)
	assert.Nil(t, ret.Value)
}

func TestParserRecoversAfterError(t *testing.T) {
	_, diag := parser.Parse("let = \nlet y = 1")
	require.NotNil(t, diag)
	assert.Contains(t, diag.Error(), "line 1")
}

func TestParserDepthBound(t *testing.T) {
	src := strings.Repeat("(", 10000) + "1" + strings.Repeat(")", 10000)
	_, diag := parser.Parse("let x = " + src)
	require.NotNil(t, diag)
	assert.Contains(t, diag.Message, "nested too deeply")
}

func TestParseToolDecorator(t *testing.T) {
	prog, diag := parser.Parse(`@tool(description: "adds", params: { a: "first" })
fn add(a: int, b: int) -> int { return a + b }`)
	require.Nil(t, diag)
	fn := prog.Decls[0].(*ast.FuncDecl)
	require.True(t, fn.IsTool)
	require.NotNil(t, fn.ToolMeta)
	assert.Equal(t, "adds", fn.ToolMeta.Description)
	assert.Equal(t, "first", fn.ToolMeta.ParamDescs["a"])
}

func TestParseEnumVariantKeywordCollisionRejected(t *testing.T) {
	_, diag := parser.Parse("enum E { if, ok }")
	require.NotNil(t, diag)
}
