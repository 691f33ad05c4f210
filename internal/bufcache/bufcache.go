// Package bufcache implements the bounded LRU buffer cache (spec §4.4):
// a fixed NBUF-slot pool mapping (device, block#) to a pinned in-memory
// payload, with a single spinlock guarding identity/refcnt/list linkage
// and a per-buffer sleep-lock guarding the payload. The design note's
// "index-based list inside a fixed array" is taken literally here: the
// LRU order is an intrusive doubly-linked list threaded through prev/next
// indices into the same fixed buf array, the same sentinel-node shape
// skipor/memcached's lru type uses for its eviction list, just array-
// indexed instead of pointer-linked since NBUF never grows.
package bufcache

import (
	"fmt"

	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/interfaces"
	"github.com/rvkern/rvkernel/internal/sched"
	"github.com/rvkern/rvkernel/internal/sleeplock"
	"github.com/rvkern/rvkernel/internal/spinlock"
)

// nilIdx marks a list index that refers to no buffer (the sentinel).
const nilIdx = -1

// Buf is one cached block: identity, payload, and state, plus list
// linkage and a per-buffer sleep-lock protecting the payload.
type Buf struct {
	Dev     uint32
	Blockno uint32
	Valid   bool
	Disk    bool
	refcnt  int
	lock    *sleeplock.Lock
	Data    [constants.BSIZE]byte

	prev, next int
}

// Lock acquires buf's payload sleep-lock. Callers must hold it across
// Write and release it via Release.
func (b *Buf) Lock(hart int, proc *sched.Proc) { b.lock.Acquire(hart, proc) }

// Unlock releases buf's payload sleep-lock without touching refcnt or
// list position; use Release to do both.
func (b *Buf) Unlock(hart int) { b.lock.Release(hart) }

// Cache is the fixed-size buffer pool: NBUF buffers addressed by slot
// index, threaded into one MRU-to-LRU doubly linked list via a sentinel
// at index nilIdx conceptually (the sentinel's links live in head/tail).
type Cache struct {
	lock *spinlock.Lock
	obs  interfaces.Observer
	disk interfaces.Disk

	bufs []Buf
	// head is the most-recently-released buffer's index, tail the least;
	// nilIdx when the list is conceptually empty (never true once
	// populated, since NBUF buffers are created once at boot).
	head, tail int
}

// New creates a cache of constants.NBUF buffers against disk, all
// initially identity-less (dev/blockno meaningless) and unlocked.
func New(disk interfaces.Disk, obs interfaces.Observer) *Cache {
	return NewSized(disk, obs, constants.NBUF)
}

// NewSized is New with an explicit pool capacity, so tests can exercise
// the LRU/recycling contract (spec §8 scenario 1 uses NBUF=3) without
// waiting out a 30-slot pool.
func NewSized(disk interfaces.Disk, obs interfaces.Observer, nbuf int) *Cache {
	if obs == nil {
		obs = interfaces.NoOpObserver{}
	}
	c := &Cache{
		lock: spinlock.New("bcache"),
		obs:  obs,
		disk: disk,
		bufs: make([]Buf, nbuf),
		head: nilIdx,
		tail: nilIdx,
	}
	for i := range c.bufs {
		c.bufs[i].lock = sleeplock.New(fmt.Sprintf("buf.%d", i))
		c.bufs[i].prev = nilIdx
		c.bufs[i].next = nilIdx
		c.pushFront(i)
	}
	return c
}

func (c *Cache) pushFront(i int) {
	c.bufs[i].prev = nilIdx
	c.bufs[i].next = c.head
	if c.head != nilIdx {
		c.bufs[c.head].prev = i
	}
	c.head = i
	if c.tail == nilIdx {
		c.tail = i
	}
}

func (c *Cache) unlink(i int) {
	b := &c.bufs[i]
	if b.prev != nilIdx {
		c.bufs[b.prev].next = b.next
	} else {
		c.head = b.next
	}
	if b.next != nilIdx {
		c.bufs[b.next].prev = b.prev
	} else {
		c.tail = b.prev
	}
	b.prev, b.next = nilIdx, nilIdx
}

// moveToFront detaches i and reinserts it at the MRU head; O3 says this
// only ever happens from Release, and only when refcnt has reached zero.
func (c *Cache) moveToFront(i int) {
	if c.head == i {
		return
	}
	c.unlink(i)
	c.pushFront(i)
}

// get implements spec §4.4's get(dev, blk): scan MRU->LRU for a live
// match, otherwise recycle the first zero-refcnt buffer scanning
// LRU->MRU. Returns with the sleep-lock held and refcnt already bumped.
func (c *Cache) get(hart int, proc *sched.Proc, dev, blk uint32) *Buf {
	c.lock.Acquire(hart)

	for i := c.head; i != nilIdx; i = c.bufs[i].next {
		b := &c.bufs[i]
		if b.Valid && b.Dev == dev && b.Blockno == blk {
			b.refcnt++
			c.lock.Release(hart)
			c.obs.ObserveBufferHit(dev, blk)
			b.Lock(hart, proc)
			return b
		}
	}

	var victim = nilIdx
	for i := c.tail; i != nilIdx; i = c.bufs[i].prev {
		if c.bufs[i].refcnt == 0 {
			victim = i
			break
		}
	}
	if victim == nilIdx {
		c.lock.Release(hart)
		panic("bufcache: no buffers")
	}
	b := &c.bufs[victim]
	c.obs.ObserveBufferEvict(b.Dev, b.Blockno)
	b.Dev = dev
	b.Blockno = blk
	b.Valid = false
	b.refcnt = 1
	c.lock.Release(hart)
	c.obs.ObserveBufferMiss(dev, blk)
	b.Lock(hart, proc)
	return b
}

// Read returns buf(dev,blk) with contents matching disk, held under its
// sleep-lock. Disk I/O, if needed, runs outside any spinlock.
func (c *Cache) Read(hart int, proc *sched.Proc, dev, blk uint32) (*Buf, error) {
	b := c.get(hart, proc, dev, blk)
	if !b.Valid {
		if err := c.disk.ReadBlock(b.Blockno, b.Data[:]); err != nil {
			b.Unlock(hart)
			return nil, fmt.Errorf("bufcache: read block %d: %w", blk, err)
		}
		b.Valid = true
	}
	return b, nil
}

// Write submits buf's payload to the disk synchronously. The caller must
// already hold buf's sleep-lock.
func (c *Cache) Write(buf *Buf) error {
	if err := c.disk.WriteBlock(buf.Blockno, buf.Data[:]); err != nil {
		return fmt.Errorf("bufcache: write block %d: %w", buf.Blockno, err)
	}
	return nil
}

// Release releases buf's sleep-lock, decrements refcnt, and, only if it
// reached zero, moves buf to the MRU head (O3).
func (c *Cache) Release(hart int, buf *Buf) {
	buf.Unlock(hart)

	c.lock.Acquire(hart)
	buf.refcnt--
	if buf.refcnt == 0 {
		idx := c.indexOf(buf)
		c.moveToFront(idx)
	}
	c.lock.Release(hart)
}

// Pin increments refcnt without touching the sleep-lock, keeping a dirty
// buffer resident between log_write and commit.
func (c *Cache) Pin(hart int, buf *Buf) {
	c.lock.Acquire(hart)
	buf.refcnt++
	c.lock.Release(hart)
}

// Unpin decrements refcnt without touching the sleep-lock or relinking
// the buffer's list position; only Release moves a buffer on the list.
func (c *Cache) Unpin(hart int, buf *Buf) {
	c.lock.Acquire(hart)
	buf.refcnt--
	c.lock.Release(hart)
}

func (c *Cache) indexOf(buf *Buf) int {
	for i := range c.bufs {
		if &c.bufs[i] == buf {
			return i
		}
	}
	panic("bufcache: buffer not owned by this cache")
}

// MRUOrder reports the current buffer identities from MRU to LRU, for
// tests asserting list-position invariants (spec §8 scenario 1).
func (c *Cache) MRUOrder(hart int) []uint32 {
	c.lock.Acquire(hart)
	defer c.lock.Release(hart)
	var order []uint32
	for i := c.head; i != nilIdx; i = c.bufs[i].next {
		if c.bufs[i].Valid {
			order = append(order, c.bufs[i].Blockno)
		}
	}
	return order
}
