package vm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Scheduler bounds how many processes may run concurrently, the Go
// equivalent of a fixed-size reduction-counted worker pool: each process
// gets its own goroutine, but only capacity of them may be actively
// executing (as opposed to blocked in a mailbox receive) at once.
type Scheduler struct {
	grp    *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler builds a Scheduler capped at capacity concurrently-running
// goroutines.
func NewScheduler(parent context.Context, capacity int) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	g, ctx := errgroup.WithContext(ctx)
	if capacity > 0 {
		g.SetLimit(capacity)
	}
	return &Scheduler{grp: g, ctx: ctx, cancel: cancel}
}

// Go schedules fn to run once a slot is free. fn's error (if any) is
// reported by Wait but never cancels sibling processes: one process
// crashing must not take down the whole VM, only its own links/monitors.
func (s *Scheduler) Go(fn func() error) {
	s.grp.Go(func() error {
		_ = fn()
		return nil
	})
}

// Context is cancelled when Shutdown is called; blocking operations
// (receive, sleep) select on it to unwind promptly.
func (s *Scheduler) Context() context.Context { return s.ctx }

// Wait blocks until every scheduled goroutine has returned.
func (s *Scheduler) Wait() error { return s.grp.Wait() }

// Shutdown cancels the scheduler's context, asking every running process to
// unwind at its next blocking point.
func (s *Scheduler) Shutdown() { s.cancel() }
