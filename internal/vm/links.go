package vm

import "github.com/agimlang/agim/internal/value"

// link and unlink record a bidirectional link; propagateExit walks it when
// either side dies.
func (vm *VM) link(a, b uint64) {
	vm.linksMu.Lock()
	defer vm.linksMu.Unlock()
	if vm.links[a] == nil {
		vm.links[a] = map[uint64]bool{}
	}
	if vm.links[b] == nil {
		vm.links[b] = map[uint64]bool{}
	}
	vm.links[a][b] = true
	vm.links[b][a] = true
}

func (vm *VM) unlink(a, b uint64) {
	vm.linksMu.Lock()
	defer vm.linksMu.Unlock()
	delete(vm.links[a], b)
	delete(vm.links[b], a)
}

func (vm *VM) addMonitor(watched, watcher uint64) {
	vm.monitorsMu.Lock()
	defer vm.monitorsMu.Unlock()
	if vm.monitors[watched] == nil {
		vm.monitors[watched] = map[uint64]bool{}
	}
	vm.monitors[watched][watcher] = true
}

func (vm *VM) removeMonitor(watched, watcher uint64) {
	vm.monitorsMu.Lock()
	defer vm.monitorsMu.Unlock()
	delete(vm.monitors[watched], watcher)
}

// propagateExit delivers a {"exit", pid, reason} message to p's monitors and
// unconditionally terminates every process still linked to it (no
// trap_exit negotiation).
func (vm *VM) propagateExit(p *Process) {
	p.mu.Lock()
	reason := p.exitReason
	ok := p.exitOK
	p.mu.Unlock()

	tag := "ok"
	if !ok {
		tag = "error"
	}
	msg := value.Struct("Exit", []string{"pid", "status", "reason"}, map[string]value.Value{
		"pid":    value.Pid(p.pid),
		"status": value.String(tag),
		"reason": reason,
	})

	vm.monitorsMu.Lock()
	watchers := vm.monitors[p.pid]
	delete(vm.monitors, p.pid)
	vm.monitorsMu.Unlock()
	for w := range watchers {
		vm.sendTo(w, msg)
	}

	vm.linksMu.Lock()
	linked := vm.links[p.pid]
	delete(vm.links, p.pid)
	for other := range linked {
		delete(vm.links[other], p.pid)
	}
	vm.linksMu.Unlock()

	if !ok {
		for other := range linked {
			vm.killLinked(other, p.pid, reason)
		}
	}

	vm.groupsMu.Lock()
	for _, members := range vm.groups {
		delete(members, p.pid)
	}
	vm.groupsMu.Unlock()

	vm.notifySupervisor(p.pid, ok, reason)
}

// killLinked force-closes a linked process's mailbox so its next blocking
// receive unwinds; a process already inside a tight CPU-bound loop is left
// to observe the scheduler context cancellation instead.
func (vm *VM) killLinked(pid, sourcePid uint64, reason value.Value) {
	target, ok := vm.process(pid)
	if !ok {
		return
	}
	target.mu.Lock()
	target.exitOK = false
	target.exitReason = value.Struct("LinkedExit", []string{"from", "reason"}, map[string]value.Value{
		"from":   value.Pid(sourcePid),
		"reason": reason,
	})
	target.mu.Unlock()
	target.mailbox.Close()
}
