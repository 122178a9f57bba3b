// Package agim is the embeddable core of the Agim scripting language: it
// compiles source text to bytecode and runs that bytecode on the actor-VM,
// wiring together the lexer, parser, optional type checker, module
// loader, compiler, and VM packages behind four entry points.
package agim

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/agimlang/agim/internal/bytecode"
	"github.com/agimlang/agim/internal/compiler"
	"github.com/agimlang/agim/internal/host"
	"github.com/agimlang/agim/internal/loader"
	"github.com/agimlang/agim/internal/panicerr"
	"github.com/agimlang/agim/internal/parser"
	"github.com/agimlang/agim/internal/types"
	"github.com/agimlang/agim/internal/value"
	"github.com/agimlang/agim/internal/vm"
)

// strictTypes is the package-level default set by SetStrictTypes; Compile
// reads it at call time, same as the C heritage API's global flag.
var strictTypes int32 // 0 or 1, via atomic so concurrent compiles see a consistent value

// SetStrictTypes toggles whether Compile and CompileFile run the optional
// type checker before lowering to bytecode.
func SetStrictTypes(on bool) {
	var v int32
	if on {
		v = 1
	}
	atomic.StoreInt32(&strictTypes, v)
}

// FreeError is a no-op: Go's garbage collector already owns every error
// value compile/run produce. Kept so ports of the C-heritage call sequence
// (compile, use, free_error) translate without a conditional.
func FreeError(err error) {}

// Compile lexes, parses, and (when strict typing is enabled) type-checks
// source, then lowers it to a bytecode.Program.
func Compile(source string) (*bytecode.Program, error) {
	return compileWithImports(source, "")
}

// CompileFile reads path and compiles it, resolving any `import` relative
// to path's directory.
func CompileFile(path string) (*bytecode.Program, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading source file")
	}
	return compileWithImports(string(src), filepath.Dir(path))
}

func compileWithImports(source, dir string) (*bytecode.Program, error) {
	prog, diag := parser.Parse(source)
	if diag != nil {
		return nil, diag
	}

	if dir != "" {
		l := loader.New()
		if err := l.Merge(dir, prog); err != nil {
			return nil, errors.Wrap(err, "loading imports")
		}
	}

	if atomic.LoadInt32(&strictTypes) == 1 {
		if err := types.Check(prog); err != nil {
			return nil, err
		}
	}

	out, err := compiler.Compile(prog)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// defaultHost is shared across Run/RunWithResult calls that don't need an
// isolated Services (stdout/stderr/stdin are safe to share; everything
// else the host touches is per-call state).
var defaultHost = struct {
	once sync.Once
	svc  *host.OS
}{}

func sharedHost() *host.OS {
	defaultHost.once.Do(func() { defaultHost.svc = host.NewOS() })
	return defaultHost.svc
}

// Run compiles and executes source, discarding any value its module-level
// code produces. A panic recovered from the VM (a bug, not a scripted
// runtime error, which instead surfaces as a returned error) is converted
// to an error rather than crashing the caller.
func Run(source string) error {
	_, err := RunWithResult(source)
	return err
}

// RunWithResult compiles and executes source, returning the value its
// module initializer halted with.
func RunWithResult(source string) (value.Value, error) {
	prog, err := Compile(source)
	if err != nil {
		return value.Nil, err
	}
	return RunCompiled(prog)
}

// RunCompiled executes an already-compiled program. Callers that need to
// distinguish a compile error from a runtime error (the CLI's exit-code
// taxonomy, for instance) call Compile/CompileFile and RunCompiled
// separately instead of RunWithResult.
func RunCompiled(prog *bytecode.Program) (value.Value, error) {
	return RunCompiledContext(context.Background(), prog)
}

// RunCompiledContext is RunCompiled, rooting the VM's scheduler in ctx so
// that cancelling ctx (a CLI -timeout, for instance) unwinds every blocked
// process at its next receive or sleep.
func RunCompiledContext(ctx context.Context, prog *bytecode.Program) (value.Value, error) {
	return runProgram(ctx, prog)
}

func runProgram(ctx context.Context, prog *bytecode.Program) (value.Value, error) {
	var result value.Value
	err := panicerr.Recover("agim", func() error {
		machine, err := vm.New(prog,
			vm.WithHost(sharedHost()),
			vm.WithStrictTypes(atomic.LoadInt32(&strictTypes) == 1),
			vm.WithContext(ctx),
		)
		if err != nil {
			return err
		}
		global, ok := machine.Global("main")
		if !ok || global.Kind() != value.KindFunction {
			return nil
		}
		pid, err := machine.Spawn(global.FunctionDescriptor(), nil)
		if err != nil {
			return err
		}
		machine.Wait()
		result = value.Pid(pid) // the exit reason isn't retained per-pid once the process table drains
		return nil
	})
	return result, err
}
