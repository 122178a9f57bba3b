package vm

import (
	"fmt"
	"sync"

	"github.com/agimlang/agim/internal/value"
)

// restartStrategy mirrors the classic OTP supervision strategies.
type restartStrategy string

const (
	oneForOne  restartStrategy = "one_for_one"
	oneForAll  restartStrategy = "one_for_all"
	restForOne restartStrategy = "rest_for_one"
)

// childRestart mirrors the classic OTP per-child restart types: whether an
// individual child is ever respawned after it exits.
type childRestart string

const (
	restartPermanent childRestart = "permanent"
	restartTransient childRestart = "transient"
	restartTemporary childRestart = "temporary"
)

type supChild struct {
	pid     uint64
	name    string
	restart childRestart
	fn      *value.Function
}

// Supervisor restarts its children according to strategy when one exits
// abnormally. It is a bookkeeping entry, not a scheduled process: it has no
// mailbox of its own and reacts synchronously from propagateExit.
type Supervisor struct {
	pid      uint64
	strategy restartStrategy

	mu       sync.Mutex
	children []*supChild
	vm       *VM
}

func (vm *VM) supervisorStart(strategy string) (uint64, error) {
	s := restartStrategy(strategy)
	switch s {
	case oneForOne, oneForAll, restForOne:
	default:
		return 0, fmt.Errorf("unknown supervisor strategy %q", strategy)
	}
	vm.procMu.Lock()
	vm.nextPid++
	pid := vm.nextPid
	vm.procMu.Unlock()

	vm.supMu.Lock()
	vm.sups[pid] = &Supervisor{pid: pid, strategy: s, vm: vm}
	vm.supMu.Unlock()
	return pid, nil
}

func (vm *VM) supervisor(pid uint64) (*Supervisor, bool) {
	vm.supMu.Lock()
	defer vm.supMu.Unlock()
	s, ok := vm.sups[pid]
	return s, ok
}

func (vm *VM) supervisorAddChild(supPid uint64, name, restart string, fn *value.Function) (uint64, error) {
	sup, ok := vm.supervisor(supPid)
	if !ok {
		return 0, fmt.Errorf("no such supervisor")
	}
	r := childRestart(restart)
	switch r {
	case restartPermanent, restartTransient, restartTemporary:
	default:
		return 0, fmt.Errorf("unknown child restart type %q", restart)
	}
	childPid, err := vm.Spawn(fn, nil)
	if err != nil {
		return 0, err
	}
	sup.mu.Lock()
	sup.children = append(sup.children, &supChild{pid: childPid, name: name, restart: r, fn: fn})
	sup.mu.Unlock()
	return childPid, nil
}

func (vm *VM) supervisorRemoveChild(supPid, childPid uint64) {
	sup, ok := vm.supervisor(supPid)
	if !ok {
		return
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	for i, c := range sup.children {
		if c.pid == childPid {
			sup.children = append(sup.children[:i], sup.children[i+1:]...)
			break
		}
	}
}

func (vm *VM) supervisorChildren(supPid uint64) value.Value {
	sup, ok := vm.supervisor(supPid)
	if !ok {
		return value.EmptyArray()
	}
	sup.mu.Lock()
	defer sup.mu.Unlock()
	elems := make([]value.Value, len(sup.children))
	for i, c := range sup.children {
		elems[i] = value.Pid(c.pid)
	}
	return value.Array(elems)
}

func (vm *VM) supervisorShutdown(supPid uint64) {
	sup, ok := vm.supervisor(supPid)
	if !ok {
		return
	}
	sup.mu.Lock()
	children := append([]*supChild(nil), sup.children...)
	sup.children = nil
	sup.mu.Unlock()
	for _, c := range children {
		if p, ok := vm.process(c.pid); ok {
			p.mailbox.Close()
		}
	}
	vm.supMu.Lock()
	delete(vm.sups, supPid)
	vm.supMu.Unlock()
}

// restartGroup terminates every sibling in a one_for_all/rest_for_one reset
// (the crashed child identified by crashedPid is already dead) and restarts
// only those not marked temporary; a temporary child is dropped from the
// supervisor's children entirely.
func restartGroup(vm *VM, group []*supChild, crashedPid uint64) []*supChild {
	restarted := make([]*supChild, 0, len(group))
	for _, c := range group {
		if c.pid != crashedPid {
			if p, live := vm.process(c.pid); live {
				p.mailbox.Close()
			}
		}
		if c.restart == restartTemporary {
			continue
		}
		newPid, err := vm.Spawn(c.fn, nil)
		if err == nil {
			restarted = append(restarted, &supChild{pid: newPid, name: c.name, restart: c.restart, fn: c.fn})
		}
	}
	return restarted
}

// notifySupervisor checks whether pid belonged to any supervisor's child
// set and, if its exit was abnormal, restarts per that supervisor's
// strategy.
func (vm *VM) notifySupervisor(pid uint64, ok bool, reason value.Value) {
	vm.supMu.Lock()
	sups := make([]*Supervisor, 0, len(vm.sups))
	for _, s := range vm.sups {
		sups = append(sups, s)
	}
	vm.supMu.Unlock()

	for _, sup := range sups {
		sup.mu.Lock()
		idx := -1
		for i, c := range sup.children {
			if c.pid == pid {
				idx = i
				break
			}
		}
		if idx < 0 {
			sup.mu.Unlock()
			continue
		}
		if ok || sup.children[idx].restart == restartTemporary {
			sup.children = append(sup.children[:idx], sup.children[idx+1:]...)
			sup.mu.Unlock()
			continue
		}
		switch sup.strategy {
		case oneForOne:
			c := sup.children[idx]
			sup.mu.Unlock()
			newPid, err := vm.Spawn(c.fn, nil)
			if err == nil {
				sup.mu.Lock()
				sup.children[idx] = &supChild{pid: newPid, name: c.name, restart: c.restart, fn: c.fn}
				sup.mu.Unlock()
			}
		case oneForAll:
			toRestart := append([]*supChild(nil), sup.children...)
			sup.children = nil
			sup.mu.Unlock()
			restarted := restartGroup(vm, toRestart, pid)
			sup.mu.Lock()
			sup.children = append(sup.children, restarted...)
			sup.mu.Unlock()
		case restForOne:
			toRestart := append([]*supChild(nil), sup.children[idx:]...)
			sup.children = sup.children[:idx]
			sup.mu.Unlock()
			restarted := restartGroup(vm, toRestart, pid)
			sup.mu.Lock()
			sup.children = append(sup.children, restarted...)
			sup.mu.Unlock()
		default:
			sup.mu.Unlock()
		}
	}
}
