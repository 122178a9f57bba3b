package vm

import (
	"runtime"
	"time"

	"github.com/agimlang/agim/internal/bytecode"
	"github.com/agimlang/agim/internal/value"
)

// executeConcurrencyOp handles every actor-model and host-I/O opcode that
// OpHostCall/the core stack machine doesn't cover directly: spawn/send/
// receive, links and monitors, supervisors, groups, and stats/trace/sleep.
func (vm *VM) executeConcurrencyOp(p *Process, inst bytecode.Inst, push pushFn, pop popFn, line int) error {
	switch inst.Op {
	case bytecode.OpSpawn:
		argc := int(inst.A)
		args := make([]value.Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = pop()
		}
		callee := pop()
		if callee.Kind() != value.KindFunction {
			return rtErr(line, "spawn target must be a function value")
		}
		pid, err := vm.Spawn(callee.FunctionDescriptor(), args)
		if err != nil {
			return err
		}
		push(value.Pid(pid))

	case bytecode.OpSend:
		msg := pop()
		target := pop()
		vm.sendTo(target.PidValue(), msg)
		push(msg)

	case bytecode.OpReceive:
		if p == nil {
			return rtErr(line, "receive used outside a process")
		}
		p.setState(StateBlocked)
		msg, ok := p.mailbox.Receive(vm.sched.Context())
		p.setState(StateRunning)
		if !ok {
			return rtErr(line, "receive on a closed mailbox")
		}
		push(msg)

	case bytecode.OpReceiveMatch:
		if p == nil {
			return rtErr(line, "receive used outside a process")
		}
		pattern := pop()
		p.setState(StateBlocked)
		msg, ok := p.mailbox.ReceiveMatch(vm.sched.Context(), pattern)
		p.setState(StateRunning)
		if !ok {
			return rtErr(line, "receive on a closed mailbox")
		}
		push(msg)

	case bytecode.OpSelf:
		if p == nil {
			push(value.Pid(0))
		} else {
			push(value.Pid(p.pid))
		}

	case bytecode.OpYield:
		runtime.Gosched()
		push(value.Nil)

	case bytecode.OpLink:
		target := pop()
		if p != nil {
			vm.link(p.pid, target.PidValue())
		}
		push(value.Nil)
	case bytecode.OpUnlink:
		target := pop()
		if p != nil {
			vm.unlink(p.pid, target.PidValue())
		}
		push(value.Nil)
	case bytecode.OpMonitor:
		target := pop()
		if p != nil {
			vm.addMonitor(target.PidValue(), p.pid)
		}
		push(value.Nil)
	case bytecode.OpDemonitor:
		target := pop()
		if p != nil {
			vm.removeMonitor(target.PidValue(), p.pid)
		}
		push(value.Nil)

	case bytecode.OpSleep:
		d := pop()
		vm.timers.Sleep(vm.sched.Context(), time.Duration(d.Float()*float64(time.Second)))
		push(value.Nil)

	case bytecode.OpTrace:
		if p != nil {
			vm.traceMu.Lock()
			vm.traced[p.pid] = true
			vm.traceMu.Unlock()
		}
		push(value.Nil)
	case bytecode.OpTraceOff:
		if p != nil {
			vm.traceMu.Lock()
			delete(vm.traced, p.pid)
			vm.traceMu.Unlock()
		}
		push(value.Nil)

	case bytecode.OpGetStats:
		push(vm.stats())

	case bytecode.OpGroupJoin:
		name := pop()
		if p != nil {
			vm.groupJoin(name.String(), p.pid)
		}
		push(value.Nil)
	case bytecode.OpGroupLeave:
		name := pop()
		if p != nil {
			vm.groupLeave(name.String(), p.pid)
		}
		push(value.Nil)
	case bytecode.OpGroupSend:
		msg := pop()
		name := pop()
		vm.groupSend(name.String(), msg, 0)
		push(msg)
	case bytecode.OpGroupSendOthers:
		msg := pop()
		name := pop()
		var self uint64
		if p != nil {
			self = p.pid
		}
		vm.groupSend(name.String(), msg, self)
		push(msg)
	case bytecode.OpGroupMembers:
		name := pop()
		push(vm.groupMembers(name.String()))
	case bytecode.OpGroupList:
		push(vm.groupList())

	case bytecode.OpSupStart:
		strategy := pop()
		pid, err := vm.supervisorStart(strategy.String())
		if err != nil {
			return rtErr(line, "%s", err)
		}
		push(value.Pid(pid))
	case bytecode.OpSupAddChild:
		fn := pop()
		restart := pop()
		name := pop()
		sup := pop()
		if fn.Kind() != value.KindFunction {
			return rtErr(line, "supervisor_add_child requires a function value")
		}
		childPid, err := vm.supervisorAddChild(sup.PidValue(), name.String(), restart.String(), fn.FunctionDescriptor())
		if err != nil {
			return rtErr(line, "%s", err)
		}
		push(value.Pid(childPid))
	case bytecode.OpSupRemoveChild:
		child := pop()
		sup := pop()
		vm.supervisorRemoveChild(sup.PidValue(), child.PidValue())
		push(value.Nil)
	case bytecode.OpSupWhichChildren:
		sup := pop()
		push(vm.supervisorChildren(sup.PidValue()))
	case bytecode.OpSupShutdown:
		sup := pop()
		vm.supervisorShutdown(sup.PidValue())
		push(value.Nil)

	default:
		return rtErr(line, "unimplemented opcode %s", inst.Op)
	}
	return nil
}

// sendTo delivers msg to pid's mailbox, silently dropping it if the target
// is unknown or dead (sending to a dead pid is not an error).
func (vm *VM) sendTo(pid uint64, msg value.Value) {
	target, ok := vm.process(pid)
	if !ok {
		return
	}
	target.mailbox.Send(vm.sched.Context(), msg)
}

func (vm *VM) stats() value.Value {
	vm.procMu.RLock()
	n := len(vm.procs)
	vm.procMu.RUnlock()
	return value.Struct("VMStats", []string{"process_count", "goroutines"}, map[string]value.Value{
		"process_count": value.Int(int64(n)),
		"goroutines":    value.Int(int64(runtime.NumGoroutine())),
	})
}
