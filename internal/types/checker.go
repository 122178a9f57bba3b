package types

import (
	"fmt"

	"github.com/agimlang/agim/internal/ast"
)

// TypeError is the first type mismatch the checker encountered.
type TypeError struct {
	Line    int
	Message string
}

func (e *TypeError) Error() string { return fmt.Sprintf("line %d: type error: %s", e.Line, e.Message) }

type checker struct {
	env *Env
	err *TypeError
	// ret is the declared return type of the function currently being
	// walked; nil at top level, where `return` is not valid.
	ret *Type
}

func (c *checker) fail(line int, format string, args ...interface{}) {
	if c.err == nil {
		c.err = &TypeError{Line: line, Message: fmt.Sprintf(format, args...)}
	}
}

// Check runs the two-pass gradual type check over prog: first collecting
// struct/enum/function signatures, then walking every statement and
// expression body. It stops and reports the first TypeError found.
func Check(prog *ast.Program) error {
	env := NewEnv()
	c := &checker{env: env}

	for _, d := range prog.Decls {
		switch dd := d.(type) {
		case *ast.StructDecl:
			env.structs[dd.Name] = dd
		case *ast.EnumDecl:
			env.enums[dd.Name] = dd
		}
	}
	for _, d := range prog.Decls {
		if fd, ok := d.(*ast.FuncDecl); ok {
			sig, err := c.collectFuncSig(fd)
			if err != nil {
				c.fail(fd.Line(), "%s", err)
				return c.err
			}
			env.funcs[fd.Name] = sig
		}
	}
	if c.err != nil {
		return c.err
	}

	for _, d := range prog.Decls {
		switch dd := d.(type) {
		case *ast.FuncDecl:
			c.checkFunc(dd)
		case *ast.LetDecl:
			c.checkLet(dd)
		}
		if c.err != nil {
			return c.err
		}
	}
	return nil
}

func (c *checker) collectFuncSig(fd *ast.FuncDecl) (funcSig, error) {
	params := make([]Type, len(fd.Params))
	for i, p := range fd.Params {
		t, err := resolveAnn(c.env, p.Type)
		if err != nil {
			return funcSig{}, err
		}
		params[i] = t
	}
	ret, err := resolveAnn(c.env, fd.RetType)
	if err != nil {
		return funcSig{}, err
	}
	return funcSig{params: params, ret: ret}, nil
}

func (c *checker) checkFunc(fd *ast.FuncDecl) {
	sig := c.env.funcs[fd.Name]
	c.env.Push()
	defer c.env.Pop()
	for i, p := range fd.Params {
		c.env.Declare(p.Name, sig.params[i])
	}
	prevRet := c.ret
	ret := sig.ret
	c.ret = &ret
	for _, s := range fd.Body {
		c.checkStmt(s)
		if c.err != nil {
			break
		}
	}
	c.ret = prevRet
}

func (c *checker) checkLet(ld *ast.LetDecl) {
	var declared *Type
	if ld.Type != nil {
		t, err := resolveAnn(c.env, ld.Type)
		if err != nil {
			c.fail(ld.Line(), "%s", err)
			return
		}
		declared = &t
	}
	valType := Any
	if ld.Value != nil {
		valType = c.infer(ld.Value)
		if c.err != nil {
			return
		}
	}
	if declared != nil && !assignable(*declared, valType) {
		c.fail(ld.Line(), "cannot assign %s to %s %q", valType, declared, ld.Name)
		return
	}
	if declared != nil {
		c.env.Declare(ld.Name, *declared)
	} else {
		c.env.Declare(ld.Name, valType)
	}
}

func (c *checker) checkStmt(s ast.Stmt) {
	if c.err != nil {
		return
	}
	switch st := s.(type) {
	case *ast.ExprStmt:
		c.infer(st.X)
	case *ast.LetDecl:
		c.checkLet(st)
	case *ast.BlockStmt:
		c.env.Push()
		for _, inner := range st.Stmts {
			c.checkStmt(inner)
			if c.err != nil {
				break
			}
		}
		c.env.Pop()
	case *ast.ReturnStmt:
		if c.ret == nil {
			c.fail(st.Line(), "return used outside a function")
			return
		}
		var got Type = Void
		if st.Value != nil {
			got = c.infer(st.Value)
			if c.err != nil {
				return
			}
		}
		if !assignable(*c.ret, got) {
			c.fail(st.Line(), "return type %s does not match declared %s", got, *c.ret)
		}
	case *ast.BreakStmt, *ast.ContinueStmt:
	case *ast.WhileStmt:
		cond := c.infer(st.Cond)
		if c.err != nil {
			return
		}
		if cond.Kind != KindBool && cond.Kind != KindAny {
			c.fail(st.Cond.Line(), "while condition must be bool, got %s", cond)
			return
		}
		c.checkStmt(st.Body)
	case *ast.ForStmt:
		iterT := c.infer(st.Iter)
		if c.err != nil {
			return
		}
		c.env.Push()
		switch iterT.Kind {
		case KindArray:
			c.env.Declare(st.ItemName, iterT.Args[0])
		case KindAny:
			c.env.Declare(st.ItemName, Any)
		default:
			c.env.Declare(st.ItemName, Any)
		}
		if st.IndexName != "" {
			c.env.Declare(st.IndexName, Int)
		}
		for _, inner := range st.Body.Stmts {
			c.checkStmt(inner)
			if c.err != nil {
				break
			}
		}
		c.env.Pop()
	case *ast.IfExpr:
		c.inferIf(st)
	default:
		c.fail(s.Line(), "unrecognized statement %T", s)
	}
}

// infer computes e's type, recording the first mismatch found along the
// way as a TypeError.
func (c *checker) infer(e ast.Expr) Type {
	if c.err != nil {
		return Any
	}
	switch ex := e.(type) {
	case *ast.IntLit:
		return Int
	case *ast.FloatLit:
		return Float
	case *ast.StringLit:
		return String
	case *ast.BoolLit:
		return Bool
	case *ast.NilLit:
		return optionOf(Any)
	case *ast.Ident:
		if t, ok := c.env.Lookup(ex.Name); ok {
			return t
		}
		if _, ok := c.env.funcs[ex.Name]; ok {
			return Type{Kind: KindFunc}
		}
		return Any // unresolved free identifier: built-in, host module, or forward use
	case *ast.UnaryExpr:
		x := c.infer(ex.X)
		if c.err != nil {
			return Any
		}
		if ex.Op == "not" {
			if x.Kind != KindBool && x.Kind != KindAny {
				c.fail(ex.Line(), "'not' requires bool, got %s", x)
			}
			return Bool
		}
		if x.Kind != KindInt && x.Kind != KindFloat && x.Kind != KindAny {
			c.fail(ex.Line(), "unary '-' requires a number, got %s", x)
		}
		return x
	case *ast.BinaryExpr:
		return c.inferBinary(ex)
	case *ast.AssignExpr:
		val := c.infer(ex.Value)
		if c.err != nil {
			return Any
		}
		target := c.infer(ex.Target)
		if c.err != nil {
			return Any
		}
		if !assignable(target, val) {
			c.fail(ex.Line(), "cannot assign %s to %s", val, target)
		}
		return target
	case *ast.TernaryExpr:
		cond := c.infer(ex.Cond)
		if c.err != nil {
			return Any
		}
		if cond.Kind != KindBool && cond.Kind != KindAny {
			c.fail(ex.Cond.Line(), "ternary condition must be bool, got %s", cond)
			return Any
		}
		then := c.infer(ex.Then)
		els := c.infer(ex.Else)
		if c.err != nil {
			return Any
		}
		if assignable(then, els) {
			return then
		}
		return Any
	case *ast.RangeExpr:
		c.infer(ex.Lo)
		c.infer(ex.Hi)
		return Type{Kind: KindArray, Args: []Type{Int}}
	case *ast.CallExpr:
		return c.inferCall(ex)
	case *ast.MemberExpr:
		x := c.infer(ex.X)
		if c.err != nil {
			return Any
		}
		if x.Kind == KindStruct {
			if sd, ok := c.env.structs[x.Name]; ok {
				for _, f := range sd.Fields {
					if f.Name == ex.Name {
						t, err := resolveAnn(c.env, f.Type)
						if err != nil {
							c.fail(ex.Line(), "%s", err)
							return Any
						}
						return t
					}
				}
				c.fail(ex.Line(), "struct %s has no field %q", x.Name, ex.Name)
				return Any
			}
		}
		return Any
	case *ast.IndexExpr:
		x := c.infer(ex.X)
		c.infer(ex.Index)
		if c.err != nil {
			return Any
		}
		switch x.Kind {
		case KindArray:
			return x.Args[0]
		case KindMap:
			return x.Args[1]
		default:
			return Any
		}
	case *ast.StructInitExpr:
		sd, ok := c.env.structs[ex.Type]
		if !ok {
			c.fail(ex.Line(), "unknown struct type %q", ex.Type)
			return Any
		}
		for _, init := range ex.Fields {
			var field *ast.StructField
			for i := range sd.Fields {
				if sd.Fields[i].Name == init.Name {
					field = &sd.Fields[i]
					break
				}
			}
			if field == nil {
				c.fail(ex.Line(), "struct %s has no field %q", ex.Type, init.Name)
				return Any
			}
			ft, err := resolveAnn(c.env, field.Type)
			if err != nil {
				c.fail(ex.Line(), "%s", err)
				return Any
			}
			vt := c.infer(init.Value)
			if c.err != nil {
				return Any
			}
			if !assignable(ft, vt) {
				c.fail(init.Value.Line(), "field %s.%s expects %s, got %s", ex.Type, init.Name, ft, vt)
				return Any
			}
		}
		return Type{Kind: KindStruct, Name: ex.Type}
	case *ast.ArrayLit:
		elem := Any
		for i, el := range ex.Elems {
			t := c.infer(el)
			if c.err != nil {
				return Any
			}
			if i == 0 {
				elem = t
			} else if !assignable(elem, t) {
				elem = Any
			}
		}
		return Type{Kind: KindArray, Args: []Type{elem}}
	case *ast.MapLit:
		key, val := Any, Any
		for i, entry := range ex.Entries {
			k := c.infer(entry.Key)
			v := c.infer(entry.Value)
			if c.err != nil {
				return Any
			}
			if i == 0 {
				key, val = k, v
			} else {
				if !assignable(key, k) {
					key = Any
				}
				if !assignable(val, v) {
					val = Any
				}
			}
		}
		return Type{Kind: KindMap, Args: []Type{key, val}}
	case *ast.TryExpr:
		x := c.infer(ex.X)
		if c.err != nil {
			return Any
		}
		if x.Kind == KindResult {
			return x.Args[0]
		}
		return Any
	case *ast.OkExpr:
		x := c.infer(ex.X)
		return Type{Kind: KindResult, Args: []Type{x, Any}}
	case *ast.ErrExpr:
		x := c.infer(ex.X)
		return Type{Kind: KindResult, Args: []Type{Any, x}}
	case *ast.SomeExpr:
		x := c.infer(ex.X)
		return optionOf(x)
	case *ast.NoneExpr:
		return optionOf(Any)
	case *ast.EnumConstructExpr:
		if _, ok := c.env.enums[ex.Type]; !ok {
			c.fail(ex.Line(), "unknown enum type %q", ex.Type)
			return Any
		}
		if ex.Payload != nil {
			c.infer(ex.Payload)
		}
		return Type{Kind: KindEnum, Name: ex.Type}
	case *ast.IfExpr:
		return c.inferIf(ex)
	case *ast.MatchExpr:
		return c.inferMatch(ex)
	case *ast.SpreadExpr:
		return c.infer(ex.X)
	default:
		c.fail(e.Line(), "unrecognized expression %T", e)
		return Any
	}
}

func (c *checker) inferBinary(ex *ast.BinaryExpr) Type {
	x := c.infer(ex.X)
	y := c.infer(ex.Y)
	if c.err != nil {
		return Any
	}
	switch ex.Op {
	case "+", "-", "*", "/", "%":
		if ex.Op == "+" && x.Kind == KindString {
			if y.Kind != KindString && y.Kind != KindAny {
				c.fail(ex.Line(), "cannot concatenate string with %s", y)
				return Any
			}
			return String
		}
		if ex.Op == "+" && x.Kind == KindArray {
			return x
		}
		if !isNumeric(x) || !isNumeric(y) {
			c.fail(ex.Line(), "operator %s requires numeric operands, got %s and %s", ex.Op, x, y)
			return Any
		}
		if x.Kind == KindFloat || y.Kind == KindFloat {
			return Float
		}
		if x.Kind == KindAny || y.Kind == KindAny {
			return Any
		}
		return Int
	case "==", "!=", "<", "<=", ">", ">=":
		return Bool
	case "and", "or":
		if (x.Kind != KindBool && x.Kind != KindAny) || (y.Kind != KindBool && y.Kind != KindAny) {
			c.fail(ex.Line(), "operator %s requires bool operands, got %s and %s", ex.Op, x, y)
			return Any
		}
		return Bool
	default:
		return Any
	}
}

func isNumeric(t Type) bool {
	return t.Kind == KindInt || t.Kind == KindFloat || t.Kind == KindAny
}

func (c *checker) inferIf(ex *ast.IfExpr) Type {
	cond := c.infer(ex.Cond)
	if c.err != nil {
		return Any
	}
	if cond.Kind != KindBool && cond.Kind != KindAny {
		c.fail(ex.Cond.Line(), "if condition must be bool, got %s", cond)
		return Any
	}
	c.env.Push()
	for _, s := range ex.Then.Stmts {
		c.checkStmt(s)
		if c.err != nil {
			break
		}
	}
	c.env.Pop()
	switch els := ex.Else.(type) {
	case *ast.BlockStmt:
		c.env.Push()
		for _, s := range els.Stmts {
			c.checkStmt(s)
			if c.err != nil {
				break
			}
		}
		c.env.Pop()
	case *ast.IfExpr:
		c.inferIf(els)
	}
	return Any
}

func (c *checker) inferMatch(ex *ast.MatchExpr) Type {
	c.infer(ex.Subject)
	if c.err != nil {
		return Any
	}
	for _, arm := range ex.Arms {
		c.env.Push()
		if arm.Bind != "" {
			c.env.Declare(arm.Bind, Any)
		}
		for _, s := range arm.Body {
			c.checkStmt(s)
			if c.err != nil {
				break
			}
		}
		c.env.Pop()
		if c.err != nil {
			return Any
		}
	}
	return Any
}

func (c *checker) inferCall(ex *ast.CallExpr) Type {
	ident, isIdent := ex.Callee.(*ast.Ident)
	if !isIdent {
		c.infer(ex.Callee)
	}
	sig, hasSig := funcSig{}, false
	if isIdent {
		sig, hasSig = c.env.funcs[ident.Name]
	}

	hasSpread := false
	for _, a := range ex.Args {
		if a.Spread {
			hasSpread = true
		}
	}
	if hasSig && !hasSpread && len(ex.Args) != len(sig.params) {
		c.fail(ex.Line(), "%s expects %d argument(s), got %d", ident.Name, len(sig.params), len(ex.Args))
		return Any
	}
	for i, a := range ex.Args {
		at := c.infer(a.Value)
		if c.err != nil {
			return Any
		}
		if hasSig && !hasSpread && !assignable(sig.params[i], at) {
			c.fail(a.Value.Line(), "%s argument %d expects %s, got %s", ident.Name, i+1, sig.params[i], at)
			return Any
		}
	}
	if !hasSig {
		return Any // built-in, host-module method, or variable holding a function
	}
	return sig.ret
}
