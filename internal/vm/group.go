package vm

import "github.com/agimlang/agim/internal/value"

// groupJoin/groupLeave/groupSend/groupMembers/groupList implement named
// process groups: a broadcast mailing list keyed by an
// arbitrary string name, independent of supervision trees.
func (vm *VM) groupJoin(name string, pid uint64) {
	vm.groupsMu.Lock()
	defer vm.groupsMu.Unlock()
	if vm.groups[name] == nil {
		vm.groups[name] = map[uint64]bool{}
	}
	vm.groups[name][pid] = true
}

func (vm *VM) groupLeave(name string, pid uint64) {
	vm.groupsMu.Lock()
	defer vm.groupsMu.Unlock()
	delete(vm.groups[name], pid)
}

func (vm *VM) groupSend(name string, msg value.Value, exclude uint64) {
	vm.groupsMu.Lock()
	members := make([]uint64, 0, len(vm.groups[name]))
	for pid := range vm.groups[name] {
		if pid != exclude {
			members = append(members, pid)
		}
	}
	vm.groupsMu.Unlock()
	for _, pid := range members {
		vm.sendTo(pid, msg)
	}
}

func (vm *VM) groupMembers(name string) value.Value {
	vm.groupsMu.Lock()
	defer vm.groupsMu.Unlock()
	elems := make([]value.Value, 0, len(vm.groups[name]))
	for pid := range vm.groups[name] {
		elems = append(elems, value.Pid(pid))
	}
	return value.Array(elems)
}

func (vm *VM) groupList() value.Value {
	vm.groupsMu.Lock()
	defer vm.groupsMu.Unlock()
	elems := make([]value.Value, 0, len(vm.groups))
	for name := range vm.groups {
		elems = append(elems, value.String(name))
	}
	return value.Array(elems)
}
