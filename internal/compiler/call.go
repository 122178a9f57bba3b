package compiler

import (
	"github.com/agimlang/agim/internal/ast"
	"github.com/agimlang/agim/internal/bytecode"
)

// compileCall lowers a call expression, rewriting recognized free-function
// built-ins and `module.method(...)` host calls to their direct opcodes
// before falling back to a generic CALL against whatever value the callee
// expression produces.
func (c *Compiler) compileCall(call *ast.CallExpr) {
	line := call.Line()

	if id, ok := call.Callee.(*ast.Ident); ok {
		if _, isLocal, _ := c.resolveLocal(id.Name); !isLocal && !c.globals[id.Name] {
			if b, ok := builtins[id.Name]; ok {
				c.compileBuiltinCall(b, call, line)
				return
			}
		}
	}

	if mem, ok := call.Callee.(*ast.MemberExpr); ok {
		if base, ok := mem.X.(*ast.Ident); ok {
			if _, isLocal, _ := c.resolveLocal(base.Name); !isLocal && !c.globals[base.Name] {
				if methods, ok := hostModules[base.Name]; ok {
					hostOp, ok := methods[mem.Name]
					if !ok {
						c.fail(line, "unknown method %q on host module %q", mem.Name, base.Name)
						return
					}
					for _, a := range call.Args {
						c.compileExpr(a.Value)
					}
					c.emit(bytecode.OpHostCall, int32(hostOp), int32(len(call.Args)), line)
					return
				}
			}
		}
	}

	c.compileExpr(call.Callee)
	for _, a := range call.Args {
		c.compileExpr(a.Value)
	}
	c.emit(bytecode.OpCall, int32(len(call.Args)), 0, line)
}

func (c *Compiler) compileBuiltinCall(b builtin, call *ast.CallExpr, line int) {
	if b.arity >= 0 && len(call.Args) != b.arity {
		c.fail(line, "wrong number of arguments: expected %d, got %d", b.arity, len(call.Args))
		return
	}
	for _, a := range call.Args {
		c.compileExpr(a.Value)
	}
	if b.op == bytecode.OpHostCall {
		c.emit(bytecode.OpHostCall, int32(b.hostOp), int32(len(call.Args)), line)
		return
	}
	c.emit(b.op, int32(len(call.Args)), 0, line)
}
