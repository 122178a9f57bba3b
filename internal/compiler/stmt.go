package compiler

import (
	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/bytecode"
)

func (c *Compiler) compileStmt(s ast.Stmt) {
	if c.err != nil {
		return
	}
	switch ss := s.(type) {
	case *ast.LetDecl:
		c.compileLet(ss)
	case *ast.ExprStmt:
		c.compileExpr(ss.X)
		c.emit(bytecode.OpPop, 0, 0, ss.Line())
	case *ast.BlockStmt:
		c.beginScope()
		for _, st := range ss.Stmts {
			c.compileStmt(st)
		}
		c.endScope(ss.Line())
	case *ast.ReturnStmt:
		if ss.Value != nil {
			c.compileExpr(ss.Value)
		} else {
			c.emit(bytecode.OpNil, 0, 0, ss.Line())
		}
		c.emit(bytecode.OpReturn, 0, 0, ss.Line())
	case *ast.BreakStmt:
		c.compileBreak(ss.Line())
	case *ast.ContinueStmt:
		c.compileContinue(ss.Line())
	case *ast.WhileStmt:
		c.compileWhile(ss)
	case *ast.ForStmt:
		c.compileFor(ss)
	case *ast.IfExpr:
		c.compileIf(ss, false)
	default:
		c.fail(s.Line(), "cannot compile statement of type %T", s)
	}
}

func (c *Compiler) compileBreak(line int) {
	if len(c.fc.loops) == 0 {
		c.fail(line, "break outside of a loop")
		return
	}
	lp := &c.fc.loops[len(c.fc.loops)-1]
	at := c.emit(bytecode.OpJump, 0, 0, line)
	lp.breakJumps = append(lp.breakJumps, at)
}

func (c *Compiler) compileContinue(line int) {
	if len(c.fc.loops) == 0 {
		c.fail(line, "continue outside of a loop")
		return
	}
	lp := &c.fc.loops[len(c.fc.loops)-1]
	if lp.hasContinueTarget {
		c.emitLoopBack(lp.continueTarget, line)
	} else {
		at := c.emit(bytecode.OpJump, 0, 0, line)
		lp.continueJumps = append(lp.continueJumps, at)
	}
}

func (c *Compiler) compileWhile(w *ast.WhileStmt) {
	loopStart := len(c.fc.chunk.Code)
	c.fc.loops = append(c.fc.loops, loopCtx{localDepthAtEntry: len(c.fc.locals), continueTarget: loopStart, hasContinueTarget: true})

	c.compileExpr(w.Cond)
	exitJump := c.emit(bytecode.OpJumpUnless, 0, 0, w.Line())

	c.beginScope()
	for _, st := range w.Body.Stmts {
		c.compileStmt(st)
	}
	c.endScope(w.Line())

	c.emitLoopBack(loopStart, w.Line())
	c.patchJump(exitJump)

	lp := c.fc.loops[len(c.fc.loops)-1]
	for _, j := range lp.breakJumps {
		c.patchJump(j)
	}
	c.fc.loops = c.fc.loops[:len(c.fc.loops)-1]
}

// compileFor desugars `for item[, idx] in iter { ... }`: an
// array is walked by index, a map by insertion-ordered key, a Range by its
// bounds. The iterable is evaluated once into a hidden local.
func (c *Compiler) compileFor(f *ast.ForStmt) {
	c.beginScope()

	c.compileExpr(f.Iter)
	iterSlot := len(c.fc.locals)
	c.fc.locals = append(c.fc.locals, localVar{name: " iter", depth: c.fc.scopeDepth})
	c.emit(bytecode.OpSetLocal, int32(iterSlot), 0, f.Line())

	c.emitIntConst(0, f.Line())
	idxSlot := len(c.fc.locals)
	c.fc.locals = append(c.fc.locals, localVar{name: " idx", depth: c.fc.scopeDepth})
	c.emit(bytecode.OpSetLocal, int32(idxSlot), 0, f.Line())

	loopStart := len(c.fc.chunk.Code)
	c.fc.loops = append(c.fc.loops, loopCtx{localDepthAtEntry: len(c.fc.locals), continueTarget: loopStart, hasContinueTarget: true})

	c.emit(bytecode.OpGetLocal, int32(idxSlot), 0, f.Line())
	c.emit(bytecode.OpGetLocal, int32(iterSlot), 0, f.Line())
	c.emit(bytecode.OpLen, 0, 0, f.Line())
	c.emit(bytecode.OpLt, 0, 0, f.Line())
	exitJump := c.emit(bytecode.OpJumpUnless, 0, 0, f.Line())

	c.beginScope()
	c.emit(bytecode.OpGetLocal, int32(iterSlot), 0, f.Line())
	c.emit(bytecode.OpGetLocal, int32(idxSlot), 0, f.Line())
	c.emit(bytecode.OpArrayGet, 0, 0, f.Line())
	c.declareVariable(f.ItemName, false)
	if f.IndexName != "" {
		c.emit(bytecode.OpGetLocal, int32(idxSlot), 0, f.Line())
		c.declareVariable(f.IndexName, false)
	}
	for _, st := range f.Body.Stmts {
		c.compileStmt(st)
	}
	c.endScope(f.Line())

	c.emit(bytecode.OpGetLocal, int32(idxSlot), 0, f.Line())
	c.emitIntConst(1, f.Line())
	c.emit(bytecode.OpAdd, 0, 0, f.Line())
	c.emit(bytecode.OpSetLocal, int32(idxSlot), 0, f.Line())

	c.emitLoopBack(loopStart, f.Line())
	c.patchJump(exitJump)

	lp := c.fc.loops[len(c.fc.loops)-1]
	for _, j := range lp.breakJumps {
		c.patchJump(j)
	}
	c.fc.loops = c.fc.loops[:len(c.fc.loops)-1]

	c.endScope(f.Line())
}

// compileIf lowers an `if` both as an expression (pushes a value on every
// path) and as a bare statement (values are popped).
func (c *Compiler) compileIf(n *ast.IfExpr, asExpr bool) {
	c.compileExpr(n.Cond)
	thenJump := c.emit(bytecode.OpJumpUnless, 0, 0, n.Line())

	c.compileBlockValue(n.Then, asExpr)
	elseJump := c.emit(bytecode.OpJump, 0, 0, n.Line())
	c.patchJump(thenJump)

	switch e := n.Else.(type) {
	case nil:
		if asExpr {
			c.emit(bytecode.OpNil, 0, 0, n.Line())
		}
	case *ast.BlockStmt:
		c.compileBlockValue(e, asExpr)
	case *ast.IfExpr:
		c.compileIf(e, asExpr)
	default:
		c.fail(n.Line(), "unexpected else node of type %T", n.Else)
	}
	c.patchJump(elseJump)
}

// compileBlockValue compiles a block as a statement sequence. When asExpr is
// true, the last statement (if an ExprStmt) leaves its value on the stack
// instead of popping it; an empty or non-expr-ending block pushes nil.
func (c *Compiler) compileBlockValue(b *ast.BlockStmt, asExpr bool) {
	c.beginScope()
	n := len(b.Stmts)
	for i, st := range b.Stmts {
		if asExpr && i == n-1 {
			if es, ok := st.(*ast.ExprStmt); ok {
				c.compileExpr(es.X)
				c.endScope(b.Line())
				return
			}
		}
		c.compileStmt(st)
	}
	if asExpr {
		c.emit(bytecode.OpNil, 0, 0, b.Line())
	}
	c.endScope(b.Line())
}
