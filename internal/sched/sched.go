// Package sched provides the trap-gate/scheduler contract that the rest of
// the kernel relies on (spec §4.7): sleep/wakeup on an address-keyed
// channel, voluntary yield, and cooperative-cancellation ("killed") checks.
// It is the one package every other subsystem may sleep through, so it must
// not itself depend on sleeplock, bufcache, txlog, or pipe.
//
// sleep/wakeup are implemented with one sync.Cond per channel key. A
// channel's Cond.L is locked before the caller's lock is released, so a
// concurrent wakeup (which must also take Cond.L to broadcast) can never
// slip into the gap between "release caller's lock" and "start waiting",
// the classic lost-wakeup race. Spurious wakeups are still possible (cond
// broadcast wakes every waiter on that channel), so every call site must
// loop on its own predicate, exactly as spec §4.7 requires.
package sched

import (
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/rvkern/rvkernel/internal/spinlock"
)

// Chan identifies a sleep channel. Callers pass a stable pointer (a buffer,
// a pipe, a log, a sleep-lock) exactly as xv6 sleeps on an address.
type Chan = any

var (
	waitMu  sync.Mutex
	waiters = map[Chan]*sync.Cond{}
)

func condFor(ch Chan) *sync.Cond {
	waitMu.Lock()
	defer waitMu.Unlock()
	c, ok := waiters[ch]
	if !ok {
		c = sync.NewCond(&sync.Mutex{})
		waiters[ch] = c
	}
	return c
}

// Sleep atomically releases lk, parks the caller on ch, and reacquires lk
// before returning. hart is the calling hart's ID, needed to release/
// reacquire lk's interrupt bookkeeping correctly.
func Sleep(ch Chan, lk *spinlock.Lock, hart int) {
	c := condFor(ch)
	c.L.Lock()
	lk.Release(hart)
	c.Wait()
	c.L.Unlock()
	lk.Acquire(hart)
}

// Wakeup marks every process sleeping on ch as runnable.
func Wakeup(ch Chan) {
	c := condFor(ch)
	c.L.Lock()
	c.Broadcast()
	c.L.Unlock()
}

// Yield voluntarily reschedules the calling goroutine. Must be called with
// no spinlocks held.
func Yield() {
	runtime.Gosched()
}

// Proc is a minimal process control block: just enough state for the
// cancellation contract (killed/setkilled) that pipes and sleep-locks must
// observe at their blocking points. Unlike xv6's global process table, a
// *Proc is threaded explicitly through calls that need it (pipe Read/Write,
// sleeplock Acquire) instead of being recovered from an implicit "current
// process"; see DESIGN.md's note on myproc().
type Proc struct {
	PID    int
	killed atomic.Bool
}

// NewProc creates a process control block for pid.
func NewProc(pid int) *Proc {
	return &Proc{PID: pid}
}

// Killed reports whether the process has been marked for cancellation.
func (p *Proc) Killed() bool {
	if p == nil {
		return false
	}
	return p.killed.Load()
}

// SetKilled marks the process for cooperative cancellation; it is checked,
// not enforced; blocking call sites must still notice it and unwind.
func (p *Proc) SetKilled() {
	if p == nil {
		return
	}
	p.killed.Store(true)
}
