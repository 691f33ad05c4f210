// Package sleeplock implements long-duration mutual exclusion that yields
// the hart on contention (spec §4.3). Unlike a spinlock, a sleep-lock is
// safe to hold across sched.Sleep.
package sleeplock

import (
	"github.com/rvkern/rvkernel/internal/sched"
	"github.com/rvkern/rvkernel/internal/spinlock"
)

// Lock is a sleep-lock: {held, owner pid, inner spinlock, name}.
type Lock struct {
	inner *spinlock.Lock
	held  bool
	owner int
	name  string
}

// New creates an initially-unheld sleep-lock.
func New(name string) *Lock {
	return &Lock{inner: spinlock.New(name + ".inner"), name: name}
}

// Acquire takes the inner spinlock; while held, sleeps on the lock's own
// address (passing the inner spinlock so release/sleep/reacquire is
// atomic); on wake it records the owner and releases the inner spinlock.
func (l *Lock) Acquire(hart int, proc *sched.Proc) {
	l.inner.Acquire(hart)
	for l.held {
		sched.Sleep(l, l.inner, hart)
	}
	l.held = true
	if proc != nil {
		l.owner = proc.PID
	}
	l.inner.Release(hart)
}

// Release clears held/owner under the inner spinlock and wakes any waiter.
func (l *Lock) Release(hart int) {
	l.inner.Acquire(hart)
	l.held = false
	l.owner = 0
	sched.Wakeup(l)
	l.inner.Release(hart)
}

// Holding reports whether proc currently owns the lock.
func (l *Lock) Holding(hart int, proc *sched.Proc) bool {
	l.inner.Acquire(hart)
	defer l.inner.Release(hart)
	return l.held && proc != nil && l.owner == proc.PID
}

// Name returns the lock's diagnostic name.
func (l *Lock) Name() string { return l.name }
