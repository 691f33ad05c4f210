// Package pagealloc implements the kernel's physical frame allocator (spec
// §4.2): a free list of fixed-size frames threaded through the frames'
// own memory, serialized by a single spinlock, in the spirit of xv6's
// kalloc.c. The free-list-of-reclaimed-blocks idea is the same one lldb's
// Allocator uses for its Filer blocks, adapted here from variable-size
// atoms to single fixed-size 4 KiB frames.
package pagealloc

import (
	"fmt"

	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/interfaces"
	"github.com/rvkern/rvkernel/internal/spinlock"
)

// Frame is one PGSIZE-byte physical page, owned by at most one of: the
// free list, or a caller that holds it between Alloc and Free.
type Frame = []byte

type freeNode struct {
	next *freeNode
	addr uintptr
	buf  []byte
}

// Allocator hands out and reclaims fixed-size frames from a fixed range,
// mirroring kalloc/kfree's contract: Alloc never zeroes, Free poisons.
type Allocator struct {
	lock     *spinlock.Lock
	obs      interfaces.Observer
	base     uintptr
	limit    uintptr
	freelist *freeNode

	total int
	free  int
}

// Stats reports a frame census, like lldb's AllocStats but for fixed-size
// frames: no compression or relocation bookkeeping, just counts.
type Stats struct {
	TotalFrames int
	FreeFrames  int
	UsedFrames  int
}

// New creates an allocator with no frames; call Init to seed its range.
func New(obs interfaces.Observer) *Allocator {
	if obs == nil {
		obs = interfaces.NoOpObserver{}
	}
	return &Allocator{lock: spinlock.New("pagealloc"), obs: obs}
}

// Init seeds the free list with nframes frames, addressed [base, base+n).
// Each frame is freed through the normal Free path so every frame ends up
// poisoned exactly as a runtime free would leave it. Init must run once,
// before any concurrent Alloc/Free.
func (a *Allocator) Init(base uintptr, nframes int) {
	a.base = base
	a.limit = base + uintptr(nframes)*constants.PGSIZE
	a.total = nframes
	for i := 0; i < nframes; i++ {
		addr := base + uintptr(i)*constants.PGSIZE
		buf := make([]byte, constants.PGSIZE)
		a.freeLocked(addr, buf)
	}
}

// Alloc removes one frame from the free list, fills it with AllocPoison,
// and returns its simulated address and backing bytes. It returns ok=false
// (xv6's kalloc returning 0) when the free list is empty.
func (a *Allocator) Alloc(hart int) (addr uintptr, frame Frame, ok bool) {
	a.lock.Acquire(hart)
	n := a.freelist
	if n == nil {
		a.lock.Release(hart)
		a.obs.ObserveFrameAlloc(false)
		return 0, nil, false
	}
	a.freelist = n.next
	a.free--
	a.lock.Release(hart)

	for i := range n.buf {
		n.buf[i] = constants.AllocPoison
	}
	a.obs.ObserveFrameAlloc(true)
	return n.addr, n.buf, true
}

// Free returns frame to the free list after overwriting it with
// FreePoison, so any dangling write-after-free is visible as poison
// rather than silently reusing stale content. Free panics if addr falls
// outside [base, base+n*PGSIZE) or is not frame-aligned: a double free
// or a bad pointer is a kernel bug, not a recoverable condition.
func (a *Allocator) Free(hart int, addr uintptr, frame Frame) {
	if addr < a.base || addr >= a.limit {
		panic(fmt.Sprintf("pagealloc: free of out-of-range address %#x", addr))
	}
	if (addr-a.base)%constants.PGSIZE != 0 {
		panic(fmt.Sprintf("pagealloc: free of unaligned address %#x", addr))
	}
	if len(frame) != constants.PGSIZE {
		panic(fmt.Sprintf("pagealloc: free of wrong-sized frame (%d bytes)", len(frame)))
	}
	for i := range frame {
		frame[i] = constants.FreePoison
	}
	a.lock.Acquire(hart)
	a.freeLocked(addr, frame)
	a.lock.Release(hart)
	a.obs.ObserveFrameFree()
}

// freeLocked pushes frame onto the head of the free list. Caller holds
// a.lock (or, during Init, owns the allocator exclusively).
func (a *Allocator) freeLocked(addr uintptr, buf []byte) {
	a.freelist = &freeNode{next: a.freelist, addr: addr, buf: buf}
	a.free++
}

// Stat reports the current census of the allocator's frame pool.
func (a *Allocator) Stat(hart int) Stats {
	a.lock.Acquire(hart)
	defer a.lock.Release(hart)
	return Stats{TotalFrames: a.total, FreeFrames: a.free, UsedFrames: a.total - a.free}
}
