package vm

import (
	"context"
	"sync"

	"github.com/agimlang/agim/internal/value"
)

// ProcessState is a process's lifecycle stage.
type ProcessState int

const (
	StateRunnable ProcessState = iota
	StateRunning
	StateBlocked
	StateExiting
	StateDead
)

func (s ProcessState) String() string {
	switch s {
	case StateRunnable:
		return "runnable"
	case StateRunning:
		return "running"
	case StateBlocked:
		return "blocked"
	case StateExiting:
		return "exiting"
	case StateDead:
		return "dead"
	}
	return "unknown"
}

const defaultMailboxCapacity = 1024

// Mailbox is a bounded FIFO queue of messages. Sends from a single sender
// goroutine are delivered in the order that goroutine issued them, since
// each Send call holds the lock for its entire append.
type Mailbox struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []value.Value
	cap    int
	closed bool
}

// NewMailbox returns an empty mailbox bounded at capacity messages.
func NewMailbox(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = defaultMailboxCapacity
	}
	m := &Mailbox{cap: capacity}
	m.cond = sync.NewCond(&m.mu)
	return m
}

// Send enqueues msg, blocking while the mailbox is full (backpressure) and
// returning false if the mailbox was closed (the target process is dead).
func (m *Mailbox) Send(ctx context.Context, msg value.Value) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) >= m.cap && !m.closed {
		if ctx.Err() != nil {
			return false
		}
		m.cond.Wait()
	}
	if m.closed {
		return false
	}
	m.queue = append(m.queue, msg)
	m.cond.Broadcast()
	return true
}

// Receive blocks until a message is available, the mailbox is closed, or
// ctx is done.
func (m *Mailbox) Receive(ctx context.Context) (value.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for len(m.queue) == 0 && !m.closed {
		if ctx.Err() != nil {
			return value.Nil, false
		}
		m.cond.Wait()
	}
	if len(m.queue) == 0 {
		return value.Nil, false
	}
	msg := m.queue[0]
	m.queue = m.queue[1:]
	m.cond.Broadcast()
	return msg, true
}

// ReceiveMatch blocks until some queued message matches pattern, the
// mailbox is closed, or ctx is done, leaving every non-matching message in
// the queue in its original order. It re-scans the whole queue each time a
// new message arrives, since a matching message may have been appended
// anywhere behind messages already found not to match.
func (m *Mailbox) ReceiveMatch(ctx context.Context, pattern value.Value) (value.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		for i, msg := range m.queue {
			if matchesPattern(pattern, msg) {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				m.cond.Broadcast()
				return msg, true
			}
		}
		if m.closed {
			return value.Nil, false
		}
		if ctx.Err() != nil {
			return value.Nil, false
		}
		m.cond.Wait()
	}
}

// matchesPattern reports whether msg satisfies pattern: a nil pattern
// matches anything ("any"); an enum pattern with no payload matches any
// message of the same enum type and variant regardless of its own payload
// ("enum variant"); anything else requires exact structural equality
// ("specific value").
func matchesPattern(pattern, msg value.Value) bool {
	if pattern.IsNil() {
		return true
	}
	if pattern.Kind() == value.KindEnum {
		if _, hasPayload := pattern.EnumPayload(); !hasPayload {
			return msg.Kind() == value.KindEnum &&
				msg.EnumType() == pattern.EnumType() &&
				msg.EnumVariant() == pattern.EnumVariant()
		}
	}
	return value.Equal(pattern, msg)
}

// Close marks the mailbox closed, releasing any blocked Send/Receive.
func (m *Mailbox) Close() {
	m.mu.Lock()
	m.closed = true
	m.cond.Broadcast()
	m.mu.Unlock()
}

// Process is one actor: its own goroutine, mailbox, and exit state.
type Process struct {
	pid     uint64
	vm      *VM
	mailbox *Mailbox

	mu         sync.Mutex
	state      ProcessState
	exitReason value.Value
	exitOK     bool
	trapExit   bool

	done chan struct{}
}

// Pid returns the process's identity, usable wherever a value.Pid is
// expected.
func (p *Process) Pid() uint64 { return p.pid }

func (p *Process) setState(s ProcessState) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Spawn starts a new process running fn with args and returns its pid. The
// caller process (may be nil for the first process started by the host
// program) becomes the new process's implicit no-link parent.
func (vm *VM) Spawn(fn *value.Function, args []value.Value) (uint64, error) {
	if fn.Arity != len(args) {
		return 0, rtErr(0, "spawn target %s expects %d arguments, got %d", fn.Name, fn.Arity, len(args))
	}
	vm.procMu.Lock()
	vm.nextPid++
	pid := vm.nextPid
	p := &Process{pid: pid, vm: vm, mailbox: NewMailbox(0), state: StateRunnable, done: make(chan struct{})}
	vm.procs[pid] = p
	vm.procMu.Unlock()

	vm.sched.Go(func() error {
		vm.runProcess(p, fn, args)
		return nil
	})
	return pid, nil
}

func (vm *VM) runProcess(p *Process, fn *value.Function, args []value.Value) {
	p.setState(StateRunning)
	defer close(p.done)

	fi := vm.prog.Functions[fn.CodeIdx]
	locals := make([]value.Value, max(fi.Chunk.NumLocals, len(args)+1))
	locals[0] = value.Func(fn)
	copy(locals[1:], args)

	result, err := vm.execute(p, &frame{chunk: fi.Chunk, locals: locals})

	p.mu.Lock()
	if err != nil {
		p.exitOK = false
		p.exitReason = value.String(err.Error())
	} else {
		p.exitOK = true
		p.exitReason = result
	}
	p.state = StateDead
	p.mu.Unlock()

	p.mailbox.Close()
	vm.procMu.Lock()
	delete(vm.procs, p.pid)
	vm.procMu.Unlock()
	vm.propagateExit(p)
}

// process looks up a live process by pid.
func (vm *VM) process(pid uint64) (*Process, bool) {
	vm.procMu.Lock()
	defer vm.procMu.Unlock()
	p, ok := vm.procs[pid]
	return p, ok
}

// Wait blocks until every spawned process has finished (used by the
// top-level `agim` package after running a script's entry point).
func (vm *VM) Wait() {
	for {
		vm.procMu.RLock()
		n := len(vm.procs)
		vm.procMu.RUnlock()
		if n == 0 {
			return
		}
		vm.procMu.Lock()
		var any *Process
		for _, p := range vm.procs {
			any = p
			break
		}
		vm.procMu.Unlock()
		if any == nil {
			return
		}
		<-any.done
	}
}
