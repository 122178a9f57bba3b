package compiler

import (
	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/bytecode"
)

// compileMatch lowers match on Result/Option/Enum subjects. Each
// arm tests its tag non-destructively (DUP then an IS_* check), binds the
// unwrapped payload if requested, then runs its body as statements; match
// itself always yields nil so it composes with ExprStmt's automatic POP.
func (c *Compiler) compileMatch(m *ast.MatchExpr) {
	line := m.Line()
	c.compileExpr(m.Subject)

	var endJumps []int
	elseJump := -1
	for _, arm := range m.Arms {
		if elseJump >= 0 {
			c.patchJump(elseJump)
		}

		var checkOp bytecode.Op
		var operandA int32
		switch arm.Kind {
		case ast.ArmOk:
			checkOp = bytecode.OpResultIsOk
		case ast.ArmErr:
			checkOp = bytecode.OpResultIsErr
		case ast.ArmSome:
			checkOp = bytecode.OpIsSome
		case ast.ArmNone:
			checkOp = bytecode.OpIsNone
		case ast.ArmEnumVariant:
			checkOp = bytecode.OpEnumIs
			operandA = int32(c.prog.Intern(arm.Variant))
		}

		c.emit(bytecode.OpDup, 0, 0, arm.Line)
		c.emit(checkOp, operandA, 0, arm.Line)
		elseJump = c.emit(bytecode.OpJumpUnless, 0, 0, arm.Line)

		c.beginScope()
		switch arm.Kind {
		case ast.ArmOk, ast.ArmErr:
			if arm.Bind != "" {
				c.emit(bytecode.OpResultUnwrap, 0, 0, arm.Line)
				c.declareVariable(arm.Bind, false)
			} else {
				c.emit(bytecode.OpPop, 0, 0, arm.Line)
			}
		case ast.ArmSome:
			if arm.Bind != "" {
				c.emit(bytecode.OpUnwrapOption, 0, 0, arm.Line)
				c.declareVariable(arm.Bind, false)
			} else {
				c.emit(bytecode.OpPop, 0, 0, arm.Line)
			}
		case ast.ArmNone:
			c.emit(bytecode.OpPop, 0, 0, arm.Line)
		case ast.ArmEnumVariant:
			if arm.Bind != "" {
				c.emit(bytecode.OpEnumPayload, 0, 0, arm.Line)
				c.declareVariable(arm.Bind, false)
			} else {
				c.emit(bytecode.OpPop, 0, 0, arm.Line)
			}
		}
		for _, st := range arm.Body {
			c.compileStmt(st)
		}
		c.endScope(arm.Line)
		c.emit(bytecode.OpNil, 0, 0, arm.Line)
		endJumps = append(endJumps, c.emit(bytecode.OpJump, 0, 0, arm.Line))
	}
	if elseJump >= 0 {
		c.patchJump(elseJump)
	}
	// arms are parser-verified exhaustive for their kind; this is reached
	// only if the runtime value's tag didn't match any arm.
	c.emit(bytecode.OpPop, 0, 0, line)
	c.emit(bytecode.OpNil, 0, 0, line)
	for _, j := range endJumps {
		c.patchJump(j)
	}
}
