// Package txlog implements the physical redo log with group commit
// (spec §4.5): syscalls bracket their dirty writes between BeginOp and
// EndOp, staging each dirty block through LogWrite; the last EndOp to
// close a transaction commits it to disk in one group. The header-entry-
// list-plus-recovery-pass shape is grounded on the undo-log transaction
// structure in the pack's pmem transaction package, adapted from
// undo-on-abort to redo-on-recovery: instead of reverting uncommitted
// entries at restart, txlog replays a committed-but-not-yet-installed
// header.
package txlog

import (
	"fmt"

	"github.com/rvkern/rvkernel/internal/bufcache"
	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/interfaces"
	"github.com/rvkern/rvkernel/internal/ondisk"
	"github.com/rvkern/rvkernel/internal/sched"
	"github.com/rvkern/rvkernel/internal/spinlock"
)

// Log coordinates transactions against one device's buffer cache. It
// owns the in-memory mirror of the on-disk header and the admission
// state (outstanding, committing) spec §4.5 describes.
type Log struct {
	lock *spinlock.Lock
	obs  interfaces.Observer
	disk interfaces.Disk
	bc   *bufcache.Cache
	dev  uint32

	start       uint32 // first log block on disk
	size        uint32 // number of blocks in the log region, including header
	outstanding int
	committing  bool
	lh          ondisk.LogHeader
}

// Open loads (or initializes) the log region [start, start+size) on dev
// and runs recovery if the on-disk header shows a committed-but-not-
// installed transaction.
func Open(disk interfaces.Disk, bc *bufcache.Cache, obs interfaces.Observer, dev, start, size uint32) (*Log, error) {
	if obs == nil {
		obs = interfaces.NoOpObserver{}
	}
	l := &Log{
		lock: spinlock.New("log"),
		obs:  obs,
		disk: disk,
		bc:   bc,
		dev:  dev,
		start: start,
		size:  size,
	}
	if err := l.readHead(); err != nil {
		return nil, err
	}
	if err := l.recover(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Log) readHead() error {
	buf := make([]byte, constants.BSIZE)
	if err := l.disk.ReadBlock(l.start, buf); err != nil {
		return fmt.Errorf("txlog: read header: %w", err)
	}
	return l.lh.Unmarshal(buf)
}

func (l *Log) writeHead() error {
	return l.disk.WriteBlock(l.start, l.lh.Marshal())
}

// recover replays a committed transaction found at boot, per spec §4.5's
// recovery procedure: install with recovering=true (no unpin, since this
// instance never pinned anything), then truncate.
func (l *Log) recover() error {
	if l.lh.N == 0 {
		return nil
	}
	if err := l.install(true); err != nil {
		return fmt.Errorf("txlog: recovery install: %w", err)
	}
	l.lh.Reset()
	return l.writeHead()
}

// BeginOp admits one more syscall into the current transaction, blocking
// while a commit is in flight or while admission would overrun the log's
// budget (lh.n + (outstanding+1)*MAXOPBLOCKS > LOGSIZE).
func (l *Log) BeginOp(hart int) {
	l.lock.Acquire(hart)
	for {
		if l.committing {
			sched.Sleep(l, l.lock, hart)
			continue
		}
		if int(l.lh.N)+(l.outstanding+1)*constants.MAXOPBLOCKS > constants.LOGSIZE {
			sched.Sleep(l, l.lock, hart)
			continue
		}
		l.outstanding++
		l.lock.Release(hart)
		return
	}
}

// EndOp closes out one syscall's participation in the current
// transaction. The last EndOp to bring outstanding to zero commits the
// transaction outside the log spinlock.
func (l *Log) EndOp(hart int) error {
	l.lock.Acquire(hart)
	l.outstanding--
	doCommit := false
	if l.committing {
		panic("txlog: committing observed inside end_op")
	}
	if l.outstanding == 0 {
		doCommit = true
		l.committing = true
	} else {
		sched.Wakeup(l)
	}
	l.lock.Release(hart)

	if !doCommit {
		return nil
	}

	err := l.commit(hart)

	l.lock.Acquire(hart)
	l.committing = false
	sched.Wakeup(l)
	l.lock.Release(hart)
	return err
}

// LogWrite stages buf as dirty inside the caller's transaction. Repeated
// writes to the same block within one transaction absorb into a single
// slot (spec §8 law: idempotence of repeated log_write).
func (l *Log) LogWrite(hart int, buf *bufcache.Buf) {
	l.lock.Acquire(hart)
	defer l.lock.Release(hart)

	if l.outstanding == 0 {
		panic("txlog: log_write outside a transaction")
	}

	for i := uint32(0); i < l.lh.N; i++ {
		if l.lh.Block[i] == buf.Blockno {
			return // already logged this transaction; absorbed.
		}
	}
	if l.lh.N >= constants.LOGSIZE-1 {
		panic("txlog: transaction exceeds log capacity")
	}
	l.lh.Block[l.lh.N] = buf.Blockno
	l.lh.N++
	l.bc.Pin(hart, buf)
}

// commit runs the four-step protocol of spec §4.5, with no log spinlock
// held (guarded instead by the committing flag) so other harts can keep
// admitting into the *next* transaction's outstanding count while this
// one installs.
func (l *Log) commit(hart int) error {
	n := l.lh.N
	if n == 0 {
		return nil
	}

	if err := l.writeBodies(hart, n); err != nil {
		return err
	}
	if err := l.writeHead(); err != nil { // commit point
		return fmt.Errorf("txlog: commit point write: %w", err)
	}
	l.obs.ObserveLogCommit(int(n), 0)
	if err := l.install(false); err != nil {
		return err
	}
	l.lh.Reset()
	if err := l.writeHead(); err != nil {
		return fmt.Errorf("txlog: truncate write: %w", err)
	}
	return nil
}

// writeBodies copies n target blocks' cached contents into the log's
// data slots (step 1).
func (l *Log) writeBodies(hart int, n uint32) error {
	proc := sched.NewProc(0)
	for i := uint32(0); i < n; i++ {
		blk := l.lh.Block[i]
		b, err := l.bc.Read(hart, proc, l.dev, blk)
		if err != nil {
			return fmt.Errorf("txlog: read target block %d: %w", blk, err)
		}
		slot := l.start + 1 + i
		err = l.disk.WriteBlock(slot, b.Data[:])
		l.bc.Release(hart, b)
		if err != nil {
			return fmt.Errorf("txlog: write log slot %d: %w", slot, err)
		}
	}
	return nil
}

// install copies the logged data slots over their target blocks (step
// 3). When recovering is true, the buffers involved were never pinned by
// this instance, so they must not be unpinned (see DESIGN.md's note on
// the install/recovery asymmetry).
func (l *Log) install(recovering bool) error {
	proc := sched.NewProc(0)
	const hart = 0
	for i := uint32(0); i < l.lh.N; i++ {
		slot := l.start + 1 + i
		blk := l.lh.Block[i]

		body := make([]byte, constants.BSIZE)
		if err := l.disk.ReadBlock(slot, body); err != nil {
			return fmt.Errorf("txlog: read log slot %d: %w", slot, err)
		}
		b, err := l.bc.Read(hart, proc, l.dev, blk)
		if err != nil {
			return fmt.Errorf("txlog: read target block %d: %w", blk, err)
		}
		copy(b.Data[:], body)
		if err := l.bc.Write(b); err != nil {
			l.bc.Release(hart, b)
			return fmt.Errorf("txlog: install block %d: %w", blk, err)
		}
		l.bc.Release(hart, b)
		if !recovering {
			l.bc.Unpin(hart, b)
		}
	}
	return nil
}
