package types

import "github.com/agimlang/agim/internal/ast"

// funcSig is a collected function signature: parameter types in order and
// a return type.
type funcSig struct {
	params []Type
	ret    Type
}

// Env is a scoped type environment: a stack of variable scopes plus the
// program-wide struct/enum/function tables collected in pass one.
type Env struct {
	structs map[string]*ast.StructDecl
	enums   map[string]*ast.EnumDecl
	funcs   map[string]funcSig

	scopes []map[string]Type
}

// NewEnv returns an Env with its outermost (global) scope pushed.
func NewEnv() *Env {
	e := &Env{
		structs: map[string]*ast.StructDecl{},
		enums:   map[string]*ast.EnumDecl{},
		funcs:   map[string]funcSig{},
	}
	e.Push()
	return e
}

// Push opens a new, innermost scope.
func (e *Env) Push() { e.scopes = append(e.scopes, map[string]Type{}) }

// Pop closes the innermost scope, discarding anything it bound.
func (e *Env) Pop() { e.scopes = e.scopes[:len(e.scopes)-1] }

// Declare binds name to t in the innermost scope, shadowing any outer
// binding of the same name.
func (e *Env) Declare(name string, t Type) {
	e.scopes[len(e.scopes)-1][name] = t
}

// Lookup searches scopes from innermost to outermost.
func (e *Env) Lookup(name string) (Type, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if t, ok := e.scopes[i][name]; ok {
			return t, true
		}
	}
	return Type{}, false
}
