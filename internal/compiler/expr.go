package compiler

import (
	"strings"

	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/bytecode"
	"github.com/agimlang/agim/internal/value"
)

func (c *Compiler) compileExpr(e ast.Expr) {
	if c.err != nil {
		return
	}
	line := e.Line()
	switch ee := e.(type) {
	case *ast.IntLit:
		c.emitIntConst(ee.Value, line)
	case *ast.FloatLit:
		idx, err := c.prog.AddConstant(value.Float(ee.Value))
		if err != nil {
			c.fail(line, "%s", err)
			return
		}
		c.emit(bytecode.OpConst, int32(idx), 0, line)
	case *ast.StringLit:
		idx, err := c.prog.AddConstant(value.String(ee.Value))
		if err != nil {
			c.fail(line, "%s", err)
			return
		}
		c.emit(bytecode.OpConst, int32(idx), 0, line)
	case *ast.BoolLit:
		if ee.Value {
			c.emit(bytecode.OpTrue, 0, 0, line)
		} else {
			c.emit(bytecode.OpFalse, 0, 0, line)
		}
	case *ast.NilLit:
		c.emit(bytecode.OpNil, 0, 0, line)
	case *ast.Ident:
		c.compileIdent(ee)
	case *ast.UnaryExpr:
		c.compileExpr(ee.X)
		switch ee.Op {
		case "-":
			c.emit(bytecode.OpNeg, 0, 0, line)
		case "not":
			c.emit(bytecode.OpNot, 0, 0, line)
		default:
			c.fail(line, "unknown unary operator %q", ee.Op)
		}
	case *ast.BinaryExpr:
		c.compileBinary(ee)
	case *ast.AssignExpr:
		c.compileAssign(ee)
	case *ast.TernaryExpr:
		c.compileExpr(ee.Cond)
		elseJump := c.emit(bytecode.OpJumpUnless, 0, 0, line)
		c.compileExpr(ee.Then)
		endJump := c.emit(bytecode.OpJump, 0, 0, line)
		c.patchJump(elseJump)
		c.compileExpr(ee.Else)
		c.patchJump(endJump)
	case *ast.RangeExpr:
		c.compileRange(ee)
	case *ast.CallExpr:
		c.compileCall(ee)
	case *ast.MemberExpr:
		c.compileExpr(ee.X)
		nameIdx := c.prog.Intern(ee.Name)
		slot := c.fc.icSlots
		c.fc.icSlots++
		c.emit(bytecode.OpMapGetIC, int32(nameIdx), int32(slot), line)
	case *ast.IndexExpr:
		c.compileExpr(ee.X)
		c.compileExpr(ee.Index)
		c.emit(bytecode.OpArrayGet, 0, 0, line)
	case *ast.StructInitExpr:
		c.compileStructInit(ee)
	case *ast.ArrayLit:
		c.compileArrayLit(ee)
	case *ast.MapLit:
		c.compileMapLit(ee)
	case *ast.TryExpr:
		c.compileTry(ee)
	case *ast.OkExpr:
		c.compileExpr(ee.X)
		c.emit(bytecode.OpResultOk, 0, 0, line)
	case *ast.ErrExpr:
		c.compileExpr(ee.X)
		c.emit(bytecode.OpResultErr, 0, 0, line)
	case *ast.SomeExpr:
		c.compileExpr(ee.X)
		c.emit(bytecode.OpSome, 0, 0, line)
	case *ast.NoneExpr:
		c.emit(bytecode.OpNone, 0, 0, line)
	case *ast.EnumConstructExpr:
		if ee.Payload != nil {
			c.compileExpr(ee.Payload)
		} else {
			c.emit(bytecode.OpNil, 0, 0, line)
		}
		typeIdx := c.prog.Intern(ee.Type)
		variantIdx := c.prog.Intern(ee.Variant)
		c.emit(bytecode.OpEnumNew, int32(typeIdx), int32(variantIdx), line)
	case *ast.IfExpr:
		c.compileIf(ee, true)
	case *ast.MatchExpr:
		c.compileMatch(ee)
	case *ast.SpreadExpr:
		// a bare `...x` outside of an array literal or call argument list
		// degrades to its operand's value (spread has no meaning here).
		c.compileExpr(ee.X)
	default:
		c.fail(line, "cannot compile expression of type %T", e)
	}
}

func (c *Compiler) compileIdent(id *ast.Ident) {
	line := id.Line()
	if slot, found, _ := c.resolveLocal(id.Name); found {
		c.emit(bytecode.OpGetLocal, int32(slot), 0, line)
		return
	}
	if c.globals[id.Name] {
		c.emit(bytecode.OpGetGlobal, int32(c.prog.Intern(id.Name)), 0, line)
		return
	}
	// forward reference to a not-yet-compiled top-level function/let is still
	// valid (functions are hoisted in pass 1); fall back to a global lookup
	// and let the VM report an unbound-name error at runtime if truly absent.
	c.emit(bytecode.OpGetGlobal, int32(c.prog.Intern(id.Name)), 0, line)
}

var binOpcode = map[string]bytecode.Op{
	"+": bytecode.OpAdd, "-": bytecode.OpSub, "*": bytecode.OpMul, "/": bytecode.OpDiv, "%": bytecode.OpMod,
	"==": bytecode.OpEq, "!=": bytecode.OpNe, "<": bytecode.OpLt, "<=": bytecode.OpLe, ">": bytecode.OpGt, ">=": bytecode.OpGe,
}

func (c *Compiler) compileBinary(b *ast.BinaryExpr) {
	line := b.Line()
	switch b.Op {
	case "and":
		c.compileExpr(b.X)
		endJump := c.emit(bytecode.OpJumpUnless, 0, 0, line)
		c.emit(bytecode.OpPop, 0, 0, line)
		c.compileExpr(b.Y)
		c.patchJump(endJump)
		return
	case "or":
		c.compileExpr(b.X)
		c.emit(bytecode.OpDup, 0, 0, line)
		skipRHS := c.emit(bytecode.OpJumpUnless, 0, 0, line)
		c.emit(bytecode.OpPop, 0, 0, line)
		elseJump := c.emit(bytecode.OpJump, 0, 0, line)
		c.patchJump(skipRHS)
		c.emit(bytecode.OpPop, 0, 0, line)
		c.compileExpr(b.Y)
		c.patchJump(elseJump)
		return
	}
	op, ok := binOpcode[b.Op]
	if !ok {
		c.fail(line, "unknown binary operator %q", b.Op)
		return
	}
	c.compileExpr(b.X)
	c.compileExpr(b.Y)
	c.emit(op, 0, 0, line)
}

// compileAssign lowers `target = value` and `target OP= value` (compound
// "compound-op sequencing"). Compound ops desugar into `target = target OP
// value`, which re-evaluates index/member base expressions; acceptable for
// the side-effect-free targets the language's grammar produces.
func (c *Compiler) compileAssign(a *ast.AssignExpr) {
	line := a.Line()
	valueExpr := a.Value
	if a.Op != "=" {
		binOp := strings.TrimSuffix(a.Op, "=")
		valueExpr = &ast.BinaryExpr{Base: ast.NewBase(line), Op: binOp, X: a.Target, Y: a.Value}
	}
	c.compileExpr(valueExpr)
	tmp := c.reserveTempLocal()
	c.emit(bytecode.OpSetLocal, tmp, 0, line)
	c.writeBack(a.Target, tmp, line)
	c.emit(bytecode.OpGetLocal, tmp, 0, line)
	c.releaseTempLocal()
}

// writeBack stores the value held in local slot valSlot into target,
// recursing through index/member chains so each level's container is
// rebuilt (copy-on-write) and written back into its own slot in turn.
func (c *Compiler) writeBack(target ast.Expr, valSlot int32, line int) {
	switch t := target.(type) {
	case *ast.Ident:
		if slot, found, isConst := c.resolveLocal(t.Name); found {
			if isConst {
				c.fail(line, "cannot assign to const variable %q", t.Name)
				return
			}
			c.emit(bytecode.OpGetLocal, valSlot, 0, line)
			c.emit(bytecode.OpSetLocal, int32(slot), 0, line)
			return
		}
		c.emit(bytecode.OpGetLocal, valSlot, 0, line)
		c.emit(bytecode.OpSetGlobal, int32(c.prog.Intern(t.Name)), 0, line)
	case *ast.IndexExpr:
		c.compileExpr(t.X)
		c.compileExpr(t.Index)
		c.emit(bytecode.OpGetLocal, valSlot, 0, line)
		c.emit(bytecode.OpArraySet, 0, 0, line)
		inner := c.reserveTempLocal()
		c.emit(bytecode.OpSetLocal, inner, 0, line)
		c.writeBack(t.X, inner, line)
		c.releaseTempLocal()
	case *ast.MemberExpr:
		c.compileExpr(t.X)
		nameIdx, err := c.prog.AddConstant(value.String(t.Name))
		if err != nil {
			c.fail(line, "%s", err)
			return
		}
		c.emit(bytecode.OpConst, int32(nameIdx), 0, line)
		c.emit(bytecode.OpGetLocal, valSlot, 0, line)
		c.emit(bytecode.OpMapSet, 0, 0, line)
		inner := c.reserveTempLocal()
		c.emit(bytecode.OpSetLocal, inner, 0, line)
		c.writeBack(t.X, inner, line)
		c.releaseTempLocal()
	default:
		c.fail(line, "invalid assignment target")
	}
}

func (c *Compiler) reserveTempLocal() int32 {
	slot := len(c.fc.locals)
	c.fc.locals = append(c.fc.locals, localVar{name: "", depth: c.fc.scopeDepth})
	if len(c.fc.locals) > maxLocals {
		c.fail(0, "too many local variables in function (limit %d)", maxLocals)
	}
	c.fc.chunk.NumLocals = maxInt(c.fc.chunk.NumLocals, len(c.fc.locals))
	return int32(slot)
}

func (c *Compiler) releaseTempLocal() {
	c.fc.locals = c.fc.locals[:len(c.fc.locals)-1]
}

// compileRange materializes a Range into an Array by running a counted loop
// at compile time (there is no dedicated range value; `for x in a..b` and
// a loop over an eagerly built array behave identically).
func (c *Compiler) compileRange(r *ast.RangeExpr) {
	line := r.Line()
	c.compileExpr(r.Lo)
	loSlot := c.reserveTempLocal()
	c.emit(bytecode.OpSetLocal, loSlot, 0, line)
	c.compileExpr(r.Hi)
	hiSlot := c.reserveTempLocal()
	c.emit(bytecode.OpSetLocal, hiSlot, 0, line)

	c.emit(bytecode.OpArrayNew, 0, 0, line)
	accSlot := c.reserveTempLocal()
	c.emit(bytecode.OpSetLocal, accSlot, 0, line)

	iSlot := c.reserveTempLocal()
	c.emit(bytecode.OpGetLocal, loSlot, 0, line)
	c.emit(bytecode.OpSetLocal, iSlot, 0, line)

	loopStart := len(c.fc.chunk.Code)
	c.emit(bytecode.OpGetLocal, iSlot, 0, line)
	c.emit(bytecode.OpGetLocal, hiSlot, 0, line)
	if r.Inclusive {
		c.emit(bytecode.OpGt, 0, 0, line)
	} else {
		c.emit(bytecode.OpGe, 0, 0, line)
	}
	exitJump := c.emit(bytecode.OpJumpUnless, 0, 0, line)

	c.emit(bytecode.OpGetLocal, accSlot, 0, line)
	c.emit(bytecode.OpGetLocal, iSlot, 0, line)
	c.emit(bytecode.OpArrayPush, 0, 0, line)
	c.emit(bytecode.OpSetLocal, accSlot, 0, line)

	c.emit(bytecode.OpGetLocal, iSlot, 0, line)
	c.emitIntConst(1, line)
	c.emit(bytecode.OpAdd, 0, 0, line)
	c.emit(bytecode.OpSetLocal, iSlot, 0, line)
	c.emitLoopBack(loopStart, line)
	c.patchJump(exitJump)

	c.emit(bytecode.OpGetLocal, accSlot, 0, line)
	c.releaseTempLocal() // i
	c.releaseTempLocal() // acc
	c.releaseTempLocal() // hi
	c.releaseTempLocal() // lo
}

func (c *Compiler) compileArrayLit(al *ast.ArrayLit) {
	line := al.Line()
	c.emit(bytecode.OpArrayNew, 0, 0, line)
	accSlot := c.reserveTempLocal()
	c.emit(bytecode.OpSetLocal, accSlot, 0, line)

	for _, el := range al.Elems {
		if sp, ok := el.(*ast.SpreadExpr); ok {
			c.compileSpreadAppend(accSlot, sp.X, line)
			continue
		}
		c.emit(bytecode.OpGetLocal, accSlot, 0, line)
		c.compileExpr(el)
		c.emit(bytecode.OpArrayPush, 0, 0, line)
		c.emit(bytecode.OpSetLocal, accSlot, 0, line)
	}
	c.emit(bytecode.OpGetLocal, accSlot, 0, line)
	c.releaseTempLocal()
}

// compileSpreadAppend appends every element of src onto the array held in
// accSlot, in place.
func (c *Compiler) compileSpreadAppend(accSlot int32, src ast.Expr, line int) {
	c.compileExpr(src)
	srcSlot := c.reserveTempLocal()
	c.emit(bytecode.OpSetLocal, srcSlot, 0, line)
	idxSlot := c.reserveTempLocal()
	c.emitIntConst(0, line)
	c.emit(bytecode.OpSetLocal, idxSlot, 0, line)

	loopStart := len(c.fc.chunk.Code)
	c.emit(bytecode.OpGetLocal, idxSlot, 0, line)
	c.emit(bytecode.OpGetLocal, srcSlot, 0, line)
	c.emit(bytecode.OpLen, 0, 0, line)
	c.emit(bytecode.OpLt, 0, 0, line)
	exitJump := c.emit(bytecode.OpJumpUnless, 0, 0, line)

	c.emit(bytecode.OpGetLocal, accSlot, 0, line)
	c.emit(bytecode.OpGetLocal, srcSlot, 0, line)
	c.emit(bytecode.OpGetLocal, idxSlot, 0, line)
	c.emit(bytecode.OpArrayGet, 0, 0, line)
	c.emit(bytecode.OpArrayPush, 0, 0, line)
	c.emit(bytecode.OpSetLocal, accSlot, 0, line)

	c.emit(bytecode.OpGetLocal, idxSlot, 0, line)
	c.emitIntConst(1, line)
	c.emit(bytecode.OpAdd, 0, 0, line)
	c.emit(bytecode.OpSetLocal, idxSlot, 0, line)
	c.emitLoopBack(loopStart, line)
	c.patchJump(exitJump)

	c.releaseTempLocal() // idx
	c.releaseTempLocal() // src
}

func (c *Compiler) compileMapLit(ml *ast.MapLit) {
	line := ml.Line()
	c.emit(bytecode.OpMapNew, 0, 0, line)
	accSlot := c.reserveTempLocal()
	c.emit(bytecode.OpSetLocal, accSlot, 0, line)
	for _, ent := range ml.Entries {
		c.emit(bytecode.OpGetLocal, accSlot, 0, line)
		c.compileExpr(ent.Key)
		c.compileExpr(ent.Value)
		c.emit(bytecode.OpMapSet, 0, 0, line)
		c.emit(bytecode.OpSetLocal, accSlot, 0, line)
	}
	c.emit(bytecode.OpGetLocal, accSlot, 0, line)
	c.releaseTempLocal()
}

// compileStructInit validates the literal's fields against the declared
// schema (every declared field present, no unknown fields) and pushes field
// values in declaration order for STRUCT_NEW.
func (c *Compiler) compileStructInit(si *ast.StructInitExpr) {
	line := si.Line()
	decl, ok := c.structs[si.Type]
	if !ok {
		c.fail(line, "unknown struct type %q", si.Type)
		return
	}
	byName := map[string]ast.Expr{}
	for _, f := range si.Fields {
		byName[f.Name] = f.Value
	}
	fieldNames := make([]string, len(decl.Fields))
	for i, f := range decl.Fields {
		fieldNames[i] = f.Name
		v, ok := byName[f.Name]
		if !ok {
			c.fail(line, "missing field %q in %s literal", f.Name, si.Type)
			return
		}
		c.compileExpr(v)
		delete(byName, f.Name)
	}
	for extra := range byName {
		c.fail(line, "unknown field %q in %s literal", extra, si.Type)
		return
	}
	idx := c.prog.InternStruct(si.Type, fieldNames)
	c.emit(bytecode.OpStructNew, int32(idx), 0, line)
}

func (c *Compiler) compileTry(t *ast.TryExpr) {
	line := t.Line()
	c.compileExpr(t.X)
	c.emit(bytecode.OpDup, 0, 0, line)
	c.emit(bytecode.OpResultIsErr, 0, 0, line)
	okJump := c.emit(bytecode.OpJumpUnless, 0, 0, line)
	c.emit(bytecode.OpReturn, 0, 0, line)
	c.patchJump(okJump)
	c.emit(bytecode.OpResultUnwrap, 0, 0, line)
}
