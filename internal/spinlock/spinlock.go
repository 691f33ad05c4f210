// Package spinlock implements non-sleeping mutual exclusion (spec §4.1).
//
// A real kernel disables hardware interrupts on the calling hart while a
// spinlock is held, because a timer interrupt landing on a hart that holds a
// spinlock could reschedule it onto something that tries to acquire the same
// lock, deadlocking the hart against itself. This package simulates that by
// tracking, per simulated hart, a nesting count of held spinlocks and
// whether interrupts were enabled before the first one was taken; harts are
// identified by a small integer ID owned by internal/sched, passed in
// explicitly rather than inferred, so this package has no dependency on the
// scheduler.
package spinlock

import (
	"fmt"
	"sync/atomic"

	"github.com/rvkern/rvkernel/internal/constants"
)

const noHolder = -1

// Lock is a busy-waiting, interrupt-disabling mutual exclusion primitive.
// Nested acquires by the same hart panic; there is no recursive spinlock.
type Lock struct {
	locked atomic.Bool
	owner  atomic.Int32
	name   string
}

// New creates an initially-unlocked spinlock with the given diagnostic name.
func New(name string) *Lock {
	l := &Lock{name: name}
	l.owner.Store(noHolder)
	return l
}

// Acquire disables interrupts on hart before spinning on an atomic test-and-
// set with acquire ordering. It panics if hart already holds the lock.
func (l *Lock) Acquire(hart int) {
	pushOff(hart)
	if l.Holding(hart) {
		panic(fmt.Sprintf("spinlock %q: acquire while held by hart %d", l.name, hart))
	}
	for !l.locked.CompareAndSwap(false, true) {
		// busy-wait; no sleep paths inside a spinlock critical section
	}
	l.owner.Store(int32(hart))
}

// Release establishes release ordering, clears the holder, and re-enables
// interrupts on hart only once its nested-push count returns to zero. It
// panics if hart does not hold the lock.
func (l *Lock) Release(hart int) {
	if !l.Holding(hart) {
		panic(fmt.Sprintf("spinlock %q: release by hart %d not holding it", l.name, hart))
	}
	l.owner.Store(noHolder)
	l.locked.Store(false)
	popOff(hart)
}

// Holding reports whether hart currently holds l.
func (l *Lock) Holding(hart int) bool {
	return l.locked.Load() && l.owner.Load() == int32(hart)
}

// Name returns the lock's diagnostic name.
func (l *Lock) Name() string { return l.name }

// hartIntr tracks the interrupt-enable nesting for one simulated hart. Only
// the hart identified by its index ever touches its own entry, so no
// synchronization is needed between harts.
type hartIntr struct {
	noff   int32
	intena bool
}

var harts [constants.NCPU]hartIntr

// pushOff disables interrupts on hart, recording the previous enable state
// the first time nesting goes from zero to one.
func pushOff(hart int) {
	h := &harts[hart%constants.NCPU]
	wasEnabled := InterruptsEnabled(hart)
	SetInterruptsEnabled(hart, false)
	if h.noff == 0 {
		h.intena = wasEnabled
	}
	h.noff++
}

// popOff re-enables interrupts on hart once the nesting count returns to
// zero, restoring whatever state was in effect before the first pushOff.
func popOff(hart int) {
	h := &harts[hart%constants.NCPU]
	if h.noff < 1 {
		panic("spinlock: popOff without matching pushOff")
	}
	h.noff--
	if h.noff == 0 && h.intena {
		SetInterruptsEnabled(hart, true)
	}
}

// InterruptsEnabled reports whether hart currently has interrupts enabled.
// The scheduler's timer source consults this before delivering a simulated
// tick, so a hart holding any spinlock never observes a preemption.
func InterruptsEnabled(hart int) bool {
	return interruptsEnabled[hart%constants.NCPU].Load()
}

// SetInterruptsEnabled sets hart's interrupt-enable flag directly. Only
// pushOff/popOff and hart bring-up should call this.
func SetInterruptsEnabled(hart int, enabled bool) {
	interruptsEnabled[hart%constants.NCPU].Store(enabled)
}

var interruptsEnabled [constants.NCPU]atomic.Bool

func init() {
	for i := range interruptsEnabled {
		interruptsEnabled[i].Store(true)
	}
}
