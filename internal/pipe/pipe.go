// Package pipe implements the bounded in-kernel byte ring between two
// file endpoints (spec §4.6): monotonically increasing read/write byte
// counters modulo PIPESIZE, a spinlock, and blocking Read/Write that
// sleep on the opposite side's channel. The head/tail-cursor-over-a-
// fixed-size-ring shape follows the pack's diskring Ring type, adapted
// from a disk-backed, multi-reader ring to an in-memory, single-writer/
// single-reader one with cooperative-cancellation checks at every
// blocking point instead of diskring's plain wakeup channel.
package pipe

import (
	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/sched"
	"github.com/rvkern/rvkernel/internal/spinlock"
)

// readersKey and writersKey distinguish the two sleep channels a single
// pipe multiplexes: a writer wakes readersKey, a reader wakes writersKey.
type readersKey struct{ p *Pipe }
type writersKey struct{ p *Pipe }

// Pipe is a fixed PIPESIZE-byte ring with two open-ended counters.
type Pipe struct {
	lock      *spinlock.Lock
	data      [constants.PIPESIZE]byte
	nread     uint64
	nwrite    uint64
	readOpen  bool
	writeOpen bool

	obsPipeBytes func(n int, write bool)
}

// New creates an open pipe with both ends live.
func New() *Pipe {
	return &Pipe{
		lock:      spinlock.New("pipe"),
		readOpen:  true,
		writeOpen: true,
	}
}

// SetObserver wires an optional byte-accounting callback; nil disables it.
func (p *Pipe) SetObserver(fn func(n int, write bool)) { p.obsPipeBytes = fn }

func (p *Pipe) observe(n int, write bool) {
	if p.obsPipeBytes != nil {
		p.obsPipeBytes(n, write)
	}
}

// Write copies data into the ring one byte at a time (so a full ring can
// wake the reader and re-check after every byte, as spec §4.6 specifies),
// returning the count written and -1 if the read end closed or the
// caller was killed before any bytes were accepted.
func (p *Pipe) Write(hart int, proc *sched.Proc, data []byte) (int, error) {
	p.lock.Acquire(hart)
	defer p.lock.Release(hart)

	n := 0
	for n < len(data) {
		if !p.readOpen || proc.Killed() {
			if n > 0 {
				return n, nil
			}
			return -1, errClosedOrKilled
		}
		if p.nwrite-p.nread == constants.PIPESIZE {
			sched.Wakeup(readersKey{p})
			sched.Sleep(writersKey{p}, p.lock, hart)
			continue
		}
		p.data[p.nwrite%constants.PIPESIZE] = data[n]
		p.nwrite++
		n++
	}
	sched.Wakeup(readersKey{p})
	p.observe(n, true)
	return n, nil
}

// Read copies up to len(buf) bytes out of the ring in one pass once any
// bytes are available, blocking only while the ring is empty and the
// write end is still open. Returns 0 only on clean EOF.
func (p *Pipe) Read(hart int, proc *sched.Proc, buf []byte) (int, error) {
	p.lock.Acquire(hart)
	defer p.lock.Release(hart)

	for p.nread == p.nwrite && p.writeOpen {
		if proc.Killed() {
			return -1, errClosedOrKilled
		}
		sched.Sleep(readersKey{p}, p.lock, hart)
	}

	n := 0
	for n < len(buf) && p.nread < p.nwrite {
		buf[n] = p.data[p.nread%constants.PIPESIZE]
		p.nread++
		n++
	}
	sched.Wakeup(writersKey{p})
	p.observe(n, false)
	return n, nil
}

// CloseRead drops the read side and wakes any blocked writer.
func (p *Pipe) CloseRead(hart int) {
	p.lock.Acquire(hart)
	p.readOpen = false
	p.lock.Release(hart)
	sched.Wakeup(writersKey{p})
}

// CloseWrite drops the write side and wakes any blocked reader.
func (p *Pipe) CloseWrite(hart int) {
	p.lock.Acquire(hart)
	p.writeOpen = false
	p.lock.Release(hart)
	sched.Wakeup(readersKey{p})
}

// Freed reports whether both ends have closed, at which point the pipe's
// backing storage may be reclaimed.
func (p *Pipe) Freed(hart int) bool {
	p.lock.Acquire(hart)
	defer p.lock.Release(hart)
	return !p.readOpen && !p.writeOpen
}

// Occupancy returns nwrite-nread, always in [0, PIPESIZE] (spec P7).
func (p *Pipe) Occupancy(hart int) uint64 {
	p.lock.Acquire(hart)
	defer p.lock.Release(hart)
	return p.nwrite - p.nread
}

type pipeError string

func (e pipeError) Error() string { return string(e) }

const errClosedOrKilled = pipeError("pipe: read end closed or caller killed")
