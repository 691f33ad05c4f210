package txlog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rvkern/rvkernel/internal/bufcache"
	"github.com/rvkern/rvkernel/internal/constants"
	"github.com/rvkern/rvkernel/internal/diskio"
	"github.com/rvkern/rvkernel/internal/sched"
)

const (
	logStart = 1
	logSize  = uint32(constants.LOGSIZE)
	ndisk    = logStart + logSize + 100
)

func newTestLog(t *testing.T, disk *diskio.MemDisk) (*Log, *bufcache.Cache) {
	t.Helper()
	bc := bufcache.New(disk, nil)
	l, err := Open(disk, bc, nil, 0, logStart, logSize)
	require.NoError(t, err)
	return l, bc
}

func writeThroughLog(t *testing.T, l *Log, bc *bufcache.Cache, proc *sched.Proc, blk uint32, b byte) {
	t.Helper()
	l.BeginOp(0)
	buf, err := bc.Read(0, proc, 0, blk)
	require.NoError(t, err)
	buf.Data[0] = b
	l.LogWrite(0, buf)
	bc.Release(0, buf)
	require.NoError(t, l.EndOp(0))
}

func TestCommitInstallsAllTargetBlocks(t *testing.T) {
	disk := diskio.NewMemDisk(ndisk)
	l, bc := newTestLog(t, disk)
	proc := sched.NewProc(1)

	writeThroughLog(t, l, bc, proc, 30, 0xAA)

	got := make([]byte, constants.BSIZE)
	require.NoError(t, disk.ReadBlock(30, got))
	require.Equal(t, byte(0xAA), got[0])
}

// TestLogAbsorption implements spec §8 scenario 2: log_write the same
// buffer 5 times inside one transaction occupies exactly one slot.
func TestLogAbsorption(t *testing.T) {
	disk := diskio.NewMemDisk(ndisk)
	l, bc := newTestLog(t, disk)
	proc := sched.NewProc(1)

	l.BeginOp(0)
	buf, err := bc.Read(0, proc, 0, 40)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		buf.Data[0] = byte(i)
		l.LogWrite(0, buf)
	}
	bc.Release(0, buf)
	require.NoError(t, l.EndOp(0))

	require.Equal(t, uint32(1), l.lh.N)
}

// TestCrashBeforeCommitLeavesTargetUnchanged implements spec §8 scenario
// 3: fill a transaction, write log bodies, but crash (simulate a reboot
// from a snapshot taken before the header write / commit point).
func TestCrashBeforeCommitLeavesTargetUnchanged(t *testing.T) {
	disk := diskio.NewMemDisk(ndisk)
	bc := bufcache.New(disk, nil)
	l, err := Open(disk, bc, nil, 0, logStart, logSize)
	require.NoError(t, err)
	proc := sched.NewProc(1)

	original := make([]byte, constants.BSIZE)
	original[0] = 0xFF
	require.NoError(t, disk.WriteBlock(50, original))

	l.BeginOp(0)
	buf, err := bc.Read(0, proc, 0, 50)
	require.NoError(t, err)
	buf.Data[0] = 0x11
	l.LogWrite(0, buf)
	bc.Release(0, buf)

	require.NoError(t, l.writeBodies(0, l.lh.N))
	// Crash here: snapshot the disk before the header (commit point) write.
	snap := disk.Crash()

	bc2 := bufcache.New(snap, nil)
	_, err = Open(snap, bc2, nil, 0, logStart, logSize)
	require.NoError(t, err)

	got := make([]byte, constants.BSIZE)
	require.NoError(t, snap.ReadBlock(50, got))
	require.Equal(t, byte(0xFF), got[0], "target block must be untouched when crash precedes the commit point")
}

// TestCrashAfterCommitBeforeInstall implements spec §8 scenario 4: same
// setup, but the header write (commit point) completes before the
// crash; recovery on reboot must replay the transaction.
func TestCrashAfterCommitBeforeInstall(t *testing.T) {
	disk := diskio.NewMemDisk(ndisk)
	bc := bufcache.New(disk, nil)
	l, err := Open(disk, bc, nil, 0, logStart, logSize)
	require.NoError(t, err)
	proc := sched.NewProc(1)

	original := make([]byte, constants.BSIZE)
	original[0] = 0xFF
	require.NoError(t, disk.WriteBlock(51, original))

	l.BeginOp(0)
	buf, err := bc.Read(0, proc, 0, 51)
	require.NoError(t, err)
	buf.Data[0] = 0x22
	l.LogWrite(0, buf)
	bc.Release(0, buf)

	require.NoError(t, l.writeBodies(0, l.lh.N))
	require.NoError(t, l.writeHead()) // commit point
	// Crash here: snapshot after the header write, before install/truncate.
	snap := disk.Crash()

	bc2 := bufcache.New(snap, nil)
	_, err = Open(snap, bc2, nil, 0, logStart, logSize) // recovery runs on Open
	require.NoError(t, err)

	got := make([]byte, constants.BSIZE)
	require.NoError(t, snap.ReadBlock(51, got))
	require.Equal(t, byte(0x22), got[0], "recovery must replay a committed transaction")
}

func TestRecoveryTruncatesHeaderAfterReplay(t *testing.T) {
	disk := diskio.NewMemDisk(ndisk)
	bc := bufcache.New(disk, nil)
	l, err := Open(disk, bc, nil, 0, logStart, logSize)
	require.NoError(t, err)
	proc := sched.NewProc(1)

	writeThroughLog(t, l, bc, proc, 60, 0x33)

	// Force a non-empty header as if a crash occurred right after commit
	// but before the post-install truncate, then reopen to recover again.
	l.lh.N = 1
	l.lh.Block[0] = 60
	require.NoError(t, l.writeHead())

	bc2 := bufcache.New(disk, nil)
	l2, err := Open(disk, bc2, nil, 0, logStart, logSize)
	require.NoError(t, err)
	require.Equal(t, uint32(0), l2.lh.N, "recovery must truncate the header once replay completes")
}

func TestLogWriteOutsideTransactionPanics(t *testing.T) {
	disk := diskio.NewMemDisk(ndisk)
	l, bc := newTestLog(t, disk)
	proc := sched.NewProc(1)

	buf, err := bc.Read(0, proc, 0, 1)
	require.NoError(t, err)
	defer bc.Release(0, buf)

	require.Panics(t, func() {
		l.LogWrite(0, buf)
	})
}
