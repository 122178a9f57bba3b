// Package compiler lowers an Agim AST into bytecode for the stack VM.
package compiler

import (
	"fmt"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/bytecode"
	"github.com/agimlang/agim/internal/token"
	"github.com/agimlang/agim/internal/value"
)

// CompileError is the first compile-stage failure encountered.
type CompileError struct {
	Line    int
	Message string
}

func (e *CompileError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Message) }

const maxLocals = 256

type localVar struct {
	name  string
	depth int
	isConst bool
}

type loopCtx struct {
	localDepthAtEntry int // locals-stack length at loop entry, for break/continue pop
	breakJumps        []int
	continueTarget    int
	hasContinueTarget bool
	continueJumps     []int // patched once continueTarget is known (while vs for differ)
}

// funcCompiler holds per-function compile state.
type funcCompiler struct {
	enclosing *funcCompiler
	chunk     *bytecode.Chunk
	locals    []localVar
	scopeDepth int
	loops     []loopCtx
	icSlots   int
}

// Compiler drives a single-pass AST-to-bytecode lowering for one program,
// including any modules pulled in by the loader.
type Compiler struct {
	prog    *bytecode.Program
	fc      *funcCompiler
	globals map[string]bool // declared global names, for shadowing diagnostics
	structs map[string]*ast.StructDecl
	enums   map[string]*ast.EnumDecl
	err     *CompileError

	// icCache maps a MAP_GET_IC call site to its reserved slot for reuse
	// when the same property-access expression is compiled more than once
	// syntactically is not applicable (each callsite is unique); retained
	// for symmetry with the VM's runtime cache lookup.
}

// New returns a Compiler targeting a fresh Program.
func New() *Compiler {
	return &Compiler{
		prog:    bytecode.NewProgram(),
		globals: map[string]bool{},
		structs: map[string]*ast.StructDecl{},
		enums:   map[string]*ast.EnumDecl{},
	}
}

// Compile lowers prog (and any pre-merged module declarations within it) to
// a bytecode.Program.
func Compile(prog *ast.Program) (*bytecode.Program, error) {
	c := New()
	return c.CompileProgram(prog)
}

func (c *Compiler) fail(line int, format string, args ...interface{}) {
	if c.err == nil {
		c.err = &CompileError{Line: line, Message: fmt.Sprintf(format, args...)}
	}
}

// CompileProgram lowers a single Program (the entry file with all imported
// module declarations already appended by the loader) into bytecode.
func (c *Compiler) CompileProgram(prog *ast.Program) (*bytecode.Program, error) {
	c.fc = &funcCompiler{chunk: c.prog.Main}
	c.fc.locals = append(c.fc.locals, localVar{name: "__main__", depth: 0})

	// Pass 1: register struct/enum/function signatures so forward references
	// compile (mirrors the type checker's two-pass environment collection).
	for _, d := range prog.Decls {
		switch dd := d.(type) {
		case *ast.StructDecl:
			c.structs[dd.Name] = dd
		case *ast.EnumDecl:
			c.enums[dd.Name] = dd
			for _, v := range dd.Variants {
				if token.IsKeyword(v.Name) {
					c.fail(dd.Line(), "enum variant name %q collides with a reserved keyword", v.Name)
				}
			}
		case *ast.FuncDecl:
			// pre-declare so forward references and mutual recursion
			// resolve to a global rather than shadowing a built-in name.
			c.globals[dd.Name] = true
		}
	}

	for _, d := range prog.Decls {
		c.compileDecl(d)
		if c.err != nil {
			return nil, c.err
		}
	}
	c.emit(bytecode.OpHalt, 0, 0, 0)
	c.fc.chunk.NumLocals = maxInt(c.fc.chunk.NumLocals, len(c.fc.locals))
	c.fc.chunk.ICSlots = c.fc.icSlots

	if err := c.prog.Validate(); err != nil {
		return nil, err
	}
	return c.prog, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (c *Compiler) emit(op bytecode.Op, a, b int32, line int) int {
	return c.fc.chunk.emit(op, a, b, line)
}

func (c *Compiler) patchJump(at int) {
	c.fc.chunk.Code[at].A = int32(len(c.fc.chunk.Code) - at)
}

func (c *Compiler) emitIntConst(n int64, line int) {
	idx, err := c.prog.AddConstant(value.Int(n))
	if err != nil {
		c.fail(line, "%s", err)
		return
	}
	c.emit(bytecode.OpConst, int32(idx), 0, line)
}

func (c *Compiler) emitLoopBack(to int, line int) {
	off := to - len(c.fc.chunk.Code)
	c.emit(bytecode.OpLoop, int32(off), 0, line)
}

// ---- declarations ----

func (c *Compiler) compileDecl(d ast.Decl) {
	switch dd := d.(type) {
	case *ast.FuncDecl:
		c.compileFunc(dd)
	case *ast.LetDecl:
		c.compileLet(dd)
	case *ast.StructDecl, *ast.EnumDecl, *ast.AliasDecl:
		// types compile to no runtime code
	case *ast.ImportDecl:
		// resolved and merged by the loader before compilation reaches here
	default:
		c.fail(d.Line(), "cannot compile declaration of type %T", d)
	}
}

func (c *Compiler) declareGlobalFunction(name string, arity, codeIdx int) {
	idx, err := c.prog.AddConstant(value.Func(&value.Function{Name: name, Arity: arity, CodeIdx: codeIdx}))
	if err != nil {
		c.fail(0, "%s", err)
		return
	}
	nameIdx := c.prog.Intern(name)
	c.emit(bytecode.OpConst, int32(idx), 0, 0)
	c.emit(bytecode.OpSetGlobal, int32(nameIdx), 0, 0)
	c.globals[name] = true
}

func (c *Compiler) compileFunc(fn *ast.FuncDecl) {
	child := &funcCompiler{enclosing: c.fc, chunk: &bytecode.Chunk{}}
	// slot 0 is reserved for the function itself (supports recursion).
	child.locals = append(child.locals, localVar{name: fn.Name, depth: 0})
	for _, p := range fn.Params {
		child.locals = append(child.locals, localVar{name: p.Name, depth: 0})
	}
	c.fc = child

	for _, s := range fn.Body {
		c.compileStmt(s)
	}
	// implicit trailing `push nil; return`
	c.emit(bytecode.OpNil, 0, 0, fn.Line())
	c.emit(bytecode.OpReturn, 0, 0, fn.Line())

	child.chunk.NumLocals = maxInt(child.chunk.NumLocals, len(child.locals))
	child.chunk.ICSlots = child.icSlots

	fnIndex := c.prog.AddFunction(&bytecode.FuncInfo{Name: fn.Name, Arity: len(fn.Params), Chunk: child.chunk})

	c.fc = child.enclosing

	if fn.IsTool {
		ti := &bytecode.ToolInfo{FuncIndex: fnIndex, Name: fn.Name}
		if fn.ToolMeta != nil {
			ti.Description = fn.ToolMeta.Description
		}
		if fn.RetType != nil {
			ti.ReturnType = fn.RetType.Name
		}
		for _, p := range fn.Params {
			tp := bytecode.ToolParam{Name: p.Name}
			if p.Type != nil {
				tp.Type = p.Type.Name
			}
			if fn.ToolMeta != nil {
				tp.Description = fn.ToolMeta.ParamDescs[p.Name]
			}
			ti.Params = append(ti.Params, tp)
		}
		c.prog.Tools = append(c.prog.Tools, ti)
	}

	c.declareGlobalFunction(fn.Name, len(fn.Params), fnIndex)
}

func (c *Compiler) compileLet(d *ast.LetDecl) {
	if d.Value != nil {
		c.compileExpr(d.Value)
	} else {
		c.emit(bytecode.OpNil, 0, 0, d.Line())
	}
	c.declareVariable(d.Name, d.Const)
}

// declareVariable binds name either as a new local (inside a function body)
// or as a global (at the top scope depth 0 of any function, including main).
func (c *Compiler) declareVariable(name string, isConst bool) {
	if c.fc.scopeDepth == 0 {
		if c.globals[name] {
			// re-declaration at global scope is allowed (REPL-style top level);
			// only same-scope local duplication is an error.
		}
		nameIdx := c.prog.Intern(name)
		c.emit(bytecode.OpSetGlobal, int32(nameIdx), 0, 0)
		c.globals[name] = true
		return
	}
	for i := len(c.fc.locals) - 1; i >= 0; i-- {
		lv := c.fc.locals[i]
		if lv.depth < c.fc.scopeDepth {
			break
		}
		if lv.name == name {
			c.fail(0, "variable %q already declared in this scope", name)
			return
		}
	}
	if len(c.fc.locals) >= maxLocals {
		c.fail(0, "too many local variables in function (limit %d)", maxLocals)
		return
	}
	c.fc.locals = append(c.fc.locals, localVar{name: name, depth: c.fc.scopeDepth, isConst: isConst})
	slot := len(c.fc.locals) - 1
	c.emit(bytecode.OpSetLocal, int32(slot), 0, 0)
	c.fc.chunk.NumLocals = maxInt(c.fc.chunk.NumLocals, len(c.fc.locals))
}

func (c *Compiler) resolveLocal(name string) (slot int, found bool, isConst bool) {
	for i := len(c.fc.locals) - 1; i >= 0; i-- {
		if c.fc.locals[i].name == name {
			return i, true, c.fc.locals[i].isConst
		}
	}
	return 0, false, false
}

func (c *Compiler) beginScope() { c.fc.scopeDepth++ }

// endScope discards locals declared in the scope being left. Locals live in
// the frame's register file (addressed by GET_LOCAL/SET_LOCAL), not the
// operand stack, so leaving a scope only needs to shrink the compiler's
// bookkeeping; slot indices are free to be reused by the next declaration.
func (c *Compiler) endScope(line int) {
	c.fc.scopeDepth--
	for len(c.fc.locals) > 0 && c.fc.locals[len(c.fc.locals)-1].depth > c.fc.scopeDepth {
		c.fc.locals = c.fc.locals[:len(c.fc.locals)-1]
	}
}
