// Package vm executes Agim bytecode: a stack machine for the expression
// language, layered under an actor-style process/scheduler runtime (spec
// §5, §6).
package vm

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/pkg/errors"

	"github.com/agimlang/agim/internal/bytecode"
	"github.com/agimlang/agim/internal/host"
	"github.com/agimlang/agim/internal/value"
)

// reductionBudget is how many instructions a process runs before yielding
// the goroutine scheduler a chance to run someone else; Go's own goroutine
// scheduler preempts besides, so this only improves fairness under tight
// CPU-bound loops.
const reductionBudget = 2000

// RuntimeError is a process-terminating bytecode execution failure.
type RuntimeError struct {
	Line    int
	Message string
}

func (e *RuntimeError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Message) }

func rtErr(line int, format string, args ...interface{}) error {
	return &RuntimeError{Line: line, Message: fmt.Sprintf(format, args...)}
}

// VM holds all state shared across processes executing the same compiled
// Program: the global table, the process/link/monitor/group registries, the
// scheduler, and the host services collaborator.
type VM struct {
	prog *bytecode.Program
	host host.Services

	globalsMu sync.RWMutex
	globals   map[string]value.Value

	sched         *Scheduler
	schedCtx      context.Context
	schedCapacity int

	procMu  sync.RWMutex
	nextPid uint64
	procs   map[uint64]*Process

	linksMu sync.Mutex
	links   map[uint64]map[uint64]bool

	monitorsMu sync.Mutex
	monitors   map[uint64]map[uint64]bool // watched pid -> watcher pids

	groupsMu sync.Mutex
	groups   map[string]map[uint64]bool

	supMu sync.Mutex
	sups  map[uint64]*Supervisor

	timers *TimerWheel

	strictTypes bool
	traceMu     sync.Mutex
	traced      map[uint64]bool

	icMu sync.Mutex
	ic   map[icKey]icEntry
}

type pushFn func(value.Value)
type popFn func() value.Value

type icKey struct {
	chunk *bytecode.Chunk
	slot  int32
}

type icEntry struct {
	identity   uintptr
	generation uint64
	value      value.Value
}

// Option configures New (functional-options pattern).
type Option func(*VM)

// WithHost overrides the host services collaborator (defaults to the
// os-backed implementation in internal/host).
func WithHost(h host.Services) Option { return func(v *VM) { v.host = h } }

// WithStrictTypes toggles SetStrictTypes's effect at construction time.
func WithStrictTypes(on bool) Option { return func(v *VM) { v.strictTypes = on } }

// WithProcessCapacity bounds how many processes may run concurrently.
func WithProcessCapacity(n int) Option {
	return func(v *VM) { v.schedCapacity = n }
}

// WithContext roots the VM's scheduler in ctx instead of context.Background,
// so cancelling ctx (a CLI -timeout, for instance) unwinds every blocked
// process at its next receive/sleep.
func WithContext(ctx context.Context) Option {
	return func(v *VM) { v.schedCtx = ctx }
}

// New builds a VM for prog and runs its module-initialization chunk (Main):
// top-level `let`/`fn` declarations populate the global table once, shared
// by every process subsequently spawned against it.
func New(prog *bytecode.Program, opts ...Option) (*VM, error) {
	vm := &VM{
		prog:     prog,
		host:     host.NewOS(),
		globals:  map[string]value.Value{},
		procs:    map[uint64]*Process{},
		links:    map[uint64]map[uint64]bool{},
		monitors: map[uint64]map[uint64]bool{},
		groups:   map[string]map[uint64]bool{},
		sups:     map[uint64]*Supervisor{},
		traced:   map[uint64]bool{},
		ic:       map[icKey]icEntry{},

		schedCtx:      context.Background(),
		schedCapacity: runtime.GOMAXPROCS(0) * 4,
	}
	vm.timers = NewTimerWheel()
	for _, o := range opts {
		o(vm)
	}
	vm.sched = NewScheduler(vm.schedCtx, vm.schedCapacity)
	if _, err := vm.execute(nil, &frame{chunk: prog.Main, locals: make([]value.Value, max(prog.Main.NumLocals, 1))}); err != nil {
		return nil, errors.Wrap(err, "module initialization")
	}
	return vm, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// SetStrictTypes toggles whether type-checked programs were required to
// compile (a no-op at the VM layer besides recording the flag for GET_STATS
// reporting; enforcement happens in the internal/types pass before compile).
func (vm *VM) SetStrictTypes(on bool) { vm.strictTypes = on }

// Global reads a top-level binding (used by the public API's RunWithResult).
func (vm *VM) Global(name string) (value.Value, bool) {
	vm.globalsMu.RLock()
	defer vm.globalsMu.RUnlock()
	v, ok := vm.globals[name]
	return v, ok
}

// frame is one call-stack entry: its chunk, instruction pointer, and the
// register-style local-variable file (distinct from the shared operand
// stack).
type frame struct {
	chunk  *bytecode.Chunk
	ip     int
	locals []value.Value
}

// execute runs fn starting at a fresh frame (or, when fn is nil, runs the
// Main chunk directly) to completion, returning its final pushed value. p is
// nil only for the one-time module-initialization call from New.
func (vm *VM) execute(p *Process, entry *frame) (value.Value, error) {
	frames := []*frame{entry}
	stack := make([]value.Value, 0, 64)

	push := func(v value.Value) { stack = append(stack, v) }
	pop := func() value.Value {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}

	var reductions int
	for {
		f := frames[len(frames)-1]
		if f.ip >= len(f.chunk.Code) {
			return value.Nil, rtErr(0, "instruction pointer ran off the end of a chunk")
		}
		inst := f.chunk.Code[f.ip]
		line := inst.Line

		reductions++
		if p != nil && reductions%reductionBudget == 0 {
			runtime.Gosched()
		}

		next := f.ip + 1
		switch inst.Op {
		case bytecode.OpNop:
		case bytecode.OpConst:
			if int(inst.A) >= len(vm.prog.Constants) {
				return value.Nil, rtErr(line, "constant index out of range")
			}
			push(vm.prog.Constants[inst.A])
		case bytecode.OpNil:
			push(value.Nil)
		case bytecode.OpTrue:
			push(value.True)
		case bytecode.OpFalse:
			push(value.False)
		case bytecode.OpPop:
			pop()
		case bytecode.OpDup:
			push(stack[len(stack)-1])
		case bytecode.OpDup2:
			a, b := stack[len(stack)-2], stack[len(stack)-1]
			push(a)
			push(b)
		case bytecode.OpSwap:
			n := len(stack)
			stack[n-1], stack[n-2] = stack[n-2], stack[n-1]

		case bytecode.OpGetLocal:
			if int(inst.A) >= len(f.locals) {
				return value.Nil, rtErr(line, "local slot out of range")
			}
			push(f.locals[inst.A])
		case bytecode.OpSetLocal:
			v := pop()
			if int(inst.A) >= len(f.locals) {
				grown := make([]value.Value, inst.A+1)
				copy(grown, f.locals)
				f.locals = grown
			}
			f.locals[inst.A] = v
		case bytecode.OpGetGlobal:
			name := vm.prog.Names[inst.A]
			vm.globalsMu.RLock()
			v, ok := vm.globals[name]
			vm.globalsMu.RUnlock()
			if !ok {
				return value.Nil, rtErr(line, "undefined name %q", name)
			}
			push(v)
		case bytecode.OpSetGlobal:
			name := vm.prog.Names[inst.A]
			v := pop()
			vm.globalsMu.Lock()
			vm.globals[name] = v
			vm.globalsMu.Unlock()

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			b, a := pop(), pop()
			var r value.Value
			var err error
			switch inst.Op {
			case bytecode.OpAdd:
				r, err = value.Add(a, b)
			case bytecode.OpSub:
				r, err = value.Sub(a, b)
			case bytecode.OpMul:
				r, err = value.Mul(a, b)
			case bytecode.OpDiv:
				r, err = value.Div(a, b)
			case bytecode.OpMod:
				r, err = value.Mod(a, b)
			}
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)
		case bytecode.OpNeg:
			r, err := value.Neg(pop())
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)
		case bytecode.OpNot:
			push(value.Bool(!pop().Truthy()))

		case bytecode.OpEq:
			b, a := pop(), pop()
			push(value.Bool(value.Equal(a, b)))
		case bytecode.OpNe:
			b, a := pop(), pop()
			push(value.Bool(!value.Equal(a, b)))
		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			b, a := pop(), pop()
			cmp, err := value.Compare(a, b)
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			var r bool
			switch inst.Op {
			case bytecode.OpLt:
				r = cmp < 0
			case bytecode.OpLe:
				r = cmp <= 0
			case bytecode.OpGt:
				r = cmp > 0
			case bytecode.OpGe:
				r = cmp >= 0
			}
			push(value.Bool(r))

		case bytecode.OpJump:
			next = f.ip + int(inst.A)
		case bytecode.OpJumpUnless:
			if !pop().Truthy() {
				next = f.ip + int(inst.A)
			}
		case bytecode.OpLoop:
			next = f.ip + int(inst.A)

		case bytecode.OpReturn:
			ret := pop()
			if len(frames) == 1 {
				return ret, nil
			}
			frames = frames[:len(frames)-1]
			push(ret)
			continue
		case bytecode.OpHalt:
			if len(stack) > 0 {
				return stack[len(stack)-1], nil
			}
			return value.Nil, nil

		case bytecode.OpCall:
			argc := int(inst.A)
			if len(stack) < argc+1 {
				return value.Nil, rtErr(line, "call stack underflow")
			}
			args := make([]value.Value, argc)
			copy(args, stack[len(stack)-argc:])
			stack = stack[:len(stack)-argc]
			callee := pop()
			if callee.Kind() != value.KindFunction {
				return value.Nil, rtErr(line, "attempt to call a %s value", callee.Kind())
			}
			fd := callee.FunctionDescriptor()
			if fd.Arity != argc {
				return value.Nil, rtErr(line, "function %s expects %d arguments, got %d", fd.Name, fd.Arity, argc)
			}
			if fd.CodeIdx < 0 || fd.CodeIdx >= len(vm.prog.Functions) {
				return value.Nil, rtErr(line, "invalid function reference %s", fd.Name)
			}
			fi := vm.prog.Functions[fd.CodeIdx]
			locals := make([]value.Value, max(fi.Chunk.NumLocals, argc+1))
			locals[0] = callee
			copy(locals[1:], args)
			f.ip = next
			frames = append(frames, &frame{chunk: fi.Chunk, locals: locals})
			continue

		case bytecode.OpArrayNew:
			push(value.EmptyArray())
		case bytecode.OpArrayPush:
			elem, container := pop(), pop()
			push(container.ArrayPush(elem))
		case bytecode.OpPopArray:
			container := pop()
			_, last, err := container.ArrayPop()
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(last)
		case bytecode.OpArrayGet:
			idx, container := pop(), pop()
			r, err := indexGet(container, idx)
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)
		case bytecode.OpArraySet:
			val, idx, container := pop(), pop(), pop()
			r, err := indexSet(container, idx, val)
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)
		case bytecode.OpSlice:
			hi, lo, container := pop(), pop(), pop()
			push(container.ArraySlice(int(lo.Int()), int(hi.Int())))
		case bytecode.OpMapNew:
			push(value.Map())
		case bytecode.OpMapGet:
			key, container := pop(), pop()
			val, ok := container.PropGet(key.String())
			if !ok {
				return value.Nil, rtErr(line, "no such key %q", key.String())
			}
			push(val)
		case bytecode.OpMapGetIC:
			container := pop()
			name := vm.prog.Names[inst.A]
			val, err := vm.propGetCached(f.chunk, inst.B, container, name, line)
			if err != nil {
				return value.Nil, err
			}
			push(val)
		case bytecode.OpMapSet:
			val, key, container := pop(), pop(), pop()
			r, err := container.PropSet(key.String(), val)
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)
		case bytecode.OpLen:
			push(value.Int(int64(pop().Len())))
		case bytecode.OpKeys:
			container := pop()
			keys := container.MapKeys()
			elems := make([]value.Value, len(keys))
			for i, k := range keys {
				elems[i] = value.String(k)
			}
			push(value.Array(elems))

		case bytecode.OpResultOk:
			push(value.Ok(pop()))
		case bytecode.OpResultErr:
			push(value.Err(pop()))
		case bytecode.OpResultIsOk:
			push(value.Bool(pop().IsOk()))
		case bytecode.OpResultIsErr:
			push(value.Bool(pop().IsErr()))
		case bytecode.OpResultUnwrap:
			push(pop().ResultValue())
		case bytecode.OpResultUnwrapOr:
			def, r := pop(), pop()
			if r.IsOk() {
				push(r.ResultValue())
			} else {
				push(def)
			}
		case bytecode.OpSome:
			push(value.Some(pop()))
		case bytecode.OpNone:
			push(value.None())
		case bytecode.OpIsSome:
			push(value.Bool(pop().IsSome()))
		case bytecode.OpIsNone:
			push(value.Bool(pop().IsNone()))
		case bytecode.OpUnwrapOption:
			v, ok := pop().OptionValue()
			if !ok {
				return value.Nil, rtErr(line, "unwrap called on none")
			}
			push(v)
		case bytecode.OpUnwrapOptionOr:
			def, o := pop(), pop()
			if v, ok := o.OptionValue(); ok {
				push(v)
			} else {
				push(def)
			}
		case bytecode.OpStructNew:
			if int(inst.A) >= len(vm.prog.Structs) {
				return value.Nil, rtErr(line, "invalid struct schema reference")
			}
			info := vm.prog.Structs[inst.A]
			n := len(info.Fields)
			if len(stack) < n {
				return value.Nil, rtErr(line, "struct literal stack underflow")
			}
			vals := make(map[string]value.Value, n)
			for i := n - 1; i >= 0; i-- {
				vals[info.Fields[i]] = pop()
			}
			push(value.Struct(info.Name, append([]string(nil), info.Fields...), vals))
		case bytecode.OpEnumNew:
			payload := pop()
			typ, variant := vm.prog.Names[inst.A], vm.prog.Names[inst.B]
			if payload.IsNil() {
				push(value.Enum(typ, variant, nil))
			} else {
				push(value.Enum(typ, variant, &payload))
			}
		case bytecode.OpEnumIs:
			v := pop()
			push(value.Bool(v.Kind() == value.KindEnum && v.EnumVariant() == vm.prog.Names[inst.A]))
		case bytecode.OpEnumPayload:
			v, ok := pop().EnumPayload()
			if !ok {
				push(value.Nil)
			} else {
				push(v)
			}

		case bytecode.OpToString:
			push(value.ToString(pop()))
		case bytecode.OpToInt:
			r, err := value.ToInt(pop())
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)
		case bytecode.OpToFloat:
			r, err := value.ToFloat(pop())
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)
		case bytecode.OpType:
			push(value.String(pop().TypeName()))

		case bytecode.OpPrint:
			vm.host.Stdout(pop().String() + "\n")
			push(value.Nil)
		case bytecode.OpPrintErr:
			vm.host.Stderr(pop().String() + "\n")
			push(value.Nil)
		case bytecode.OpReadStdin:
			s, _ := vm.host.ReadLine()
			push(value.String(s))

		case bytecode.OpHostCall:
			argc := int(inst.B)
			if len(stack) < argc {
				return value.Nil, rtErr(line, "host call stack underflow")
			}
			args := make([]value.Value, argc)
			copy(args, stack[len(stack)-argc:])
			stack = stack[:len(stack)-argc]
			r, err := vm.dispatchHost(bytecode.HostOp(inst.A), args)
			if err != nil {
				return value.Nil, rtErr(line, "%s", err)
			}
			push(r)

		default:
			if err := vm.executeConcurrencyOp(p, inst, push, pop, line); err != nil {
				return value.Nil, err
			}
		}
		f.ip = next
	}
}

// propGetCached resolves a MAP_GET_IC access, consulting and updating the
// per-callsite inline cache keyed by (chunk, slot): a hit requires the same
// underlying cell (by address) at the same mutation generation.
func (vm *VM) propGetCached(chunk *bytecode.Chunk, slot int32, container value.Value, name string, line int) (value.Value, error) {
	id := container.ContainerIdentity()
	gen := container.PropGeneration()
	key := icKey{chunk: chunk, slot: slot}

	vm.icMu.Lock()
	if id != 0 {
		if e, ok := vm.ic[key]; ok && e.identity == id && e.generation == gen {
			vm.icMu.Unlock()
			return e.value, nil
		}
	}
	vm.icMu.Unlock()

	val, ok := container.PropGet(name)
	if !ok {
		return value.Nil, rtErr(line, "no such property %q", name)
	}
	if id != 0 {
		vm.icMu.Lock()
		vm.ic[key] = icEntry{identity: id, generation: gen, value: val}
		vm.icMu.Unlock()
	}
	return val, nil
}

func indexGet(container, idx value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindArray:
		v, ok := container.ArrayGet(int(idx.Int()))
		if !ok {
			return value.Nil, fmt.Errorf("index %d out of range (len %d)", idx.Int(), container.Len())
		}
		return v, nil
	case value.KindMap, value.KindStruct:
		v, ok := container.PropGet(idx.String())
		if !ok {
			return value.Nil, fmt.Errorf("no such key %q", idx.String())
		}
		return v, nil
	case value.KindString:
		s := container.String()
		i := int(idx.Int())
		if i < 0 || i >= len(s) {
			return value.Nil, fmt.Errorf("index %d out of range (len %d)", i, len(s))
		}
		return value.String(string(s[i])), nil
	default:
		return value.Nil, fmt.Errorf("cannot index a %s value", container.Kind())
	}
}

func indexSet(container, idx, val value.Value) (value.Value, error) {
	switch container.Kind() {
	case value.KindArray:
		return container.ArraySet(int(idx.Int()), val)
	case value.KindMap, value.KindStruct:
		return container.PropSet(idx.String(), val)
	default:
		return value.Nil, fmt.Errorf("cannot index-assign a %s value", container.Kind())
	}
}
